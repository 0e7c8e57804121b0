// Package twiml builds the call-control documents returned to the carrier.
// Only the verbs the bridge needs are modelled.
package twiml

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
)

// Header is the XML declaration prefixed to every document.
const Header = `<?xml version="1.0" encoding="UTF-8"?>`

// EchoBaseURL is the static-document redirector used to chain documents
// without server-side state.
const EchoBaseURL = "https://twimlets.com/echo?Twiml="

// ContentType is the media type of a rendered document.
const ContentType = "text/xml"

// Response is the root element. A Response with no verbs is a valid empty
// document.
type Response struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any
}

// Dial connects the call to one or more targets. Target, when set, dials a
// single number given as element text.
type Dial struct {
	XMLName  xml.Name `xml:"Dial"`
	CallerID string   `xml:"callerId,attr,omitempty"`
	Action   string   `xml:"action,attr,omitempty"`
	Timeout  int      `xml:"timeout,attr,omitempty"`
	Numbers  []Number
	Target   string `xml:",chardata"`
}

// Number is a phone number nested in a Dial.
type Number struct {
	XMLName xml.Name `xml:"Number"`
	Value   string   `xml:",chardata"`
}

// Gather collects keypresses while playing nested media.
type Gather struct {
	XMLName   xml.Name `xml:"Gather"`
	NumDigits int      `xml:"numDigits,attr"`
	Timeout   int      `xml:"timeout,attr"`
	Action    string   `xml:"action,attr,omitempty"`
	Play      *Play
}

// Play streams an audio file to the caller.
type Play struct {
	XMLName xml.Name `xml:"Play"`
	URL     string   `xml:",chardata"`
}

// Record captures caller audio.
type Record struct {
	XMLName            xml.Name `xml:"Record"`
	Action             string   `xml:"action,attr,omitempty"`
	MaxLength          int      `xml:"maxLength,attr,omitempty"`
	Transcribe         bool     `xml:"transcribe,attr,omitempty"`
	TranscribeCallback string   `xml:"transcribeCallback,attr,omitempty"`
}

// Message sends an SMS.
type Message struct {
	XMLName xml.Name `xml:"Message"`
	To      string   `xml:"to,attr,omitempty"`
	Body    string   `xml:",chardata"`
}

// Hangup ends the call.
type Hangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// New returns a Response holding the given verbs.
func New(verbs ...any) *Response {
	return &Response{Verbs: verbs}
}

// Add appends verbs to the response.
func (r *Response) Add(verbs ...any) *Response {
	r.Verbs = append(r.Verbs, verbs...)
	return r
}

// Render encodes the response as a compact XML document.
func (r *Response) Render() (string, error) {
	var buf bytes.Buffer
	buf.WriteString(Header)
	if err := xml.NewEncoder(&buf).Encode(r); err != nil {
		return "", fmt.Errorf("encoding twiml: %w", err)
	}
	return buf.String(), nil
}

// String renders the response, falling back to an empty document if
// encoding fails so callers always have something valid to send.
func (r *Response) String() string {
	s, err := r.Render()
	if err != nil {
		return Empty()
	}
	return s
}

// Empty returns an empty, well-formed document.
func Empty() string {
	return Header + "<Response></Response>"
}

// Echo returns a redirector URL that re-serves the given document. The
// document is escaped exactly like JavaScript's encodeURIComponent.
func Echo(r *Response) string {
	return EchoBaseURL + EncodeURIComponent(r.String())
}

// EncodeURIComponent percent-encodes every byte except the unreserved set
// A-Z a-z 0-9 - _ . ! ~ * ' ( ).
func EncodeURIComponent(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s) * 3)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0F])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("-_.!~*'()", c) >= 0
}
