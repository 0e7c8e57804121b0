package api

import (
	"regexp"
	"unicode/utf8"
)

// maxEmailLen is the maximum length for email addresses (RFC 5321).
const maxEmailLen = 254

// maxTokenLen is the maximum length for carrier auth tokens.
const maxTokenLen = 256

// emailRe is a basic email format regex. Not exhaustive; validates structure only.
var emailRe = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// accountSIDRe matches a carrier account id: "AC" and 32 hex digits.
var accountSIDRe = regexp.MustCompile(`^AC[0-9a-fA-F]{32}$`)

// validateStringLen checks that a string does not exceed maxLen runes.
// Returns an error message if invalid, empty string if OK.
func validateStringLen(field, value string, maxLen int) string {
	if utf8.RuneCountInString(value) > maxLen {
		return field + " exceeds maximum length"
	}
	return ""
}

// validateRequiredStringLen checks that a non-empty string does not exceed maxLen runes.
func validateRequiredStringLen(field, value string, maxLen int) string {
	if value == "" {
		return field + " is required"
	}
	return validateStringLen(field, value, maxLen)
}

// validateEmail checks that a required string is a valid-looking email address.
func validateEmail(field, value string) string {
	if errMsg := validateRequiredStringLen(field, value, maxEmailLen); errMsg != "" {
		return errMsg
	}
	if !emailRe.MatchString(value) {
		return field + " is not a valid email address"
	}
	return ""
}

// validateAccountSID checks the shape of a carrier account id.
func validateAccountSID(field, value string) string {
	if value == "" {
		return field + " is required"
	}
	if !accountSIDRe.MatchString(value) {
		return field + " must be AC followed by 32 hex digits"
	}
	return ""
}

// containsControlChars checks whether a string has control characters.
func containsControlChars(s string) bool {
	for _, r := range s {
		if r < 32 || r == 127 {
			return true
		}
	}
	return false
}
