// Package address embeds a conversation (two phone numbers) in the local
// part of an email address so that a reply to a notification can be routed
// back to the right SMS thread without server-side session state.
//
// The encoded form is
//
//	{gatewayLocal}+{remote}.{localDigits}@{gatewayDomain}
//
// where remote keeps its leading "+" and the local number is written without
// one. A literal "." always separates the two numbers.
package address

import (
	"fmt"
	"regexp"
	"strings"
)

// NoReplyAddress is used as Reply-To when no conversation can be encoded.
const NoReplyAddress = "no-reply@gmail.com"

var (
	// two digit runs, the first "+"-prefixed, joined by a literal dot.
	pairRe = regexp.MustCompile(`\+(\d+)\.\+?(\d+)`)

	emailRe = regexp.MustCompile(`[a-zA-Z0-9_.+-]+@[a-zA-Z0-9_.+-]+\.[a-zA-Z]{2,}`)

	// "On Mon, Jan 5, 2020 at 9:00 AM, John <john@example.com> wrote:"
	quoteRe = regexp.MustCompile(`^\s*On\s.*wrote:\s*$`)
	// Some clients wrap the attribution so "wrote:" lands on its own line.
	quoteStartRe = regexp.MustCompile(`^\s*On\s.*\S`)
	quoteEndRe   = regexp.MustCompile(`wrote:\s*$`)

	// Single-line bodies (inbox snippets) carry the attribution inline.
	inlineQuoteRe = regexp.MustCompile(`\sOn\s.*@.*wrote`)
)

// Gateway is the mailbox that sends notifications and receives replies,
// split on its "@".
type Gateway struct {
	LocalPart string
	Domain    string
}

// ParseGateway splits a gateway email address into its local part and domain.
func ParseGateway(email string) (Gateway, error) {
	parts := strings.Split(email, "@")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Gateway{}, fmt.Errorf("invalid gateway email: %q", email)
	}
	return Gateway{LocalPart: parts[0], Domain: parts[1]}, nil
}

// String returns the gateway email address.
func (g Gateway) String() string {
	return g.LocalPart + "@" + g.Domain
}

// Conversation is a routing identity: the gateway-side number and the
// number of the party on the other end, both E.164.
type Conversation struct {
	Local  string
	Remote string
}

// Encode builds the reply address for a conversation. When either number is
// missing it returns NoReplyAddress so routing degrades to unauthenticated.
func Encode(local, remote string, gw Gateway) string {
	if local == "" || remote == "" {
		return NoReplyAddress
	}
	if !strings.HasPrefix(remote, "+") {
		remote = "+" + remote
	}
	local = strings.TrimPrefix(local, "+")
	return gw.LocalPart + remote + "." + local + "@" + gw.Domain
}

// Decode extracts the conversation from an encoded address. Anything around
// the two numbers is ignored, so display-name forms decode as well. The
// second return value is false when fewer than two numbers are present.
func Decode(addr string) (Conversation, bool) {
	if at := strings.LastIndex(addr, "@"); at >= 0 {
		addr = addr[:at]
	}
	m := pairRe.FindStringSubmatch(addr)
	if m == nil {
		return Conversation{}, false
	}
	return Conversation{Remote: "+" + m[1], Local: "+" + m[2]}, true
}

// ParseBareEmail returns the first email-shaped substring of a header value
// such as `"Jane Doe" <jane@example.com>`, or the input unchanged when none
// is found.
func ParseBareEmail(display string) string {
	if m := emailRe.FindString(display); m != "" {
		return m
	}
	return display
}

// ExtractTopReply returns the text written above the first quoted-reply
// attribution line ("On ... wrote:"). A body without an attribution is
// returned unchanged. An attribution inside a line only counts when no line
// starts one. Applying it twice yields the same result as once.
func ExtractTopReply(body string) string {
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		line = strings.TrimRight(line, "\r")
		wrapped := i+1 < len(lines) &&
			quoteStartRe.MatchString(line) &&
			quoteEndRe.MatchString(strings.TrimRight(lines[i+1], "\r")) &&
			strings.Contains(line+lines[i+1], "@")
		if quoteRe.MatchString(line) || wrapped {
			return strings.TrimSpace(strings.Join(lines[:i], "\n"))
		}
	}
	if loc := inlineQuoteRe.FindStringIndex(body); loc != nil {
		return strings.TrimSpace(body[:loc[0]])
	}
	return body
}
