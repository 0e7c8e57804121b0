package address

import (
	"testing"
)

func testGateway(t *testing.T) Gateway {
	t.Helper()
	gw, err := ParseGateway("gw@example.com")
	if err != nil {
		t.Fatalf("ParseGateway() error: %v", err)
	}
	return gw
}

func TestParseGateway(t *testing.T) {
	for _, bad := range []string{"", "gw", "gw@", "@example.com", "a@b@c"} {
		if _, err := ParseGateway(bad); err == nil {
			t.Errorf("ParseGateway(%q) expected error", bad)
		}
	}
	gw := testGateway(t)
	if gw.LocalPart != "gw" || gw.Domain != "example.com" {
		t.Errorf("gateway = %+v", gw)
	}
	if gw.String() != "gw@example.com" {
		t.Errorf("String() = %q", gw.String())
	}
}

func TestEncode(t *testing.T) {
	gw := testGateway(t)

	tests := []struct {
		name   string
		local  string
		remote string
		want   string
	}{
		{"both e164", "+15551234567", "+15559876543", "gw+15559876543.15551234567@example.com"},
		{"remote without plus", "+15551234567", "15559876543", "gw+15559876543.15551234567@example.com"},
		{"missing local", "", "+15559876543", NoReplyAddress},
		{"missing remote", "+15551234567", "", NoReplyAddress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Encode(tt.local, tt.remote, gw); got != tt.want {
				t.Errorf("Encode(%q, %q) = %q, want %q", tt.local, tt.remote, got, tt.want)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		addr   string
		want   Conversation
		wantOK bool
	}{
		{"gw+15559876543.15551234567@example.com", Conversation{Local: "+15551234567", Remote: "+15559876543"}, true},
		{`"Bridge" <gw+15559876543.15551234567@example.com>`, Conversation{Local: "+15551234567", Remote: "+15559876543"}, true},
		{"gw+15559876543.+15551234567@example.com", Conversation{Local: "+15551234567", Remote: "+15559876543"}, true},
		{"gw@example.com", Conversation{}, false},
		{"gw+15559876543@example.com", Conversation{}, false},
		{"gw+15559876543-15551234567@example.com", Conversation{}, false},
		{"", Conversation{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			got, ok := Decode(tt.addr)
			if ok != tt.wantOK {
				t.Fatalf("Decode(%q) ok = %v, want %v", tt.addr, ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("Decode(%q) = %+v, want %+v", tt.addr, got, tt.want)
			}
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	gw := testGateway(t)
	pairs := []Conversation{
		{Local: "+15551234567", Remote: "+15559876543"},
		{Local: "+442071838750", Remote: "+61400000000"},
		{Local: "+1", Remote: "+2"},
	}
	for _, p := range pairs {
		got, ok := Decode(Encode(p.Local, p.Remote, gw))
		if !ok || got != p {
			t.Errorf("round trip of %+v = %+v (ok=%v)", p, got, ok)
		}
	}
}

func TestParseBareEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`"Jane Doe" <jane.doe@example.com>`, "jane.doe@example.com"},
		{"Jane <jane+tag@mail.example.org>", "jane+tag@mail.example.org"},
		{"jane@example.com", "jane@example.com"},
		{"not an address", "not an address"},
	}
	for _, tt := range tests {
		if got := ParseBareEmail(tt.in); got != tt.want {
			t.Errorf("ParseBareEmail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExtractTopReply(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "attribution line",
			in:   "Hello there\nOn Jan 5, 2020, john@example.com wrote:\n> old text",
			want: "Hello there",
		},
		{
			name: "crlf and blank lines",
			in:   "Running late\r\n\r\nOn Mon, Jan 6, 2020 at 9:00 AM Bridge <gw@example.com> wrote:\r\n> hi",
			want: "Running late",
		},
		{
			name: "wrapped attribution",
			in:   "See you soon\n\nOn Mon, Jan 6, 2020 at 9:00 AM Bridge <gw+1555.1555@example.com>\nwrote:\n> hi",
			want: "See you soon",
		},
		{
			name: "inline attribution",
			in:   "Sounds good On Jan 5, 2020, john@example.com wrote: &gt; old text",
			want: "Sounds good",
		},
		{
			name: "no attribution",
			in:   "Just a message\nwith two lines\n",
			want: "Just a message\nwith two lines\n",
		},
		{
			name: "attribution first",
			in:   "On Jan 5, 2020, john@example.com wrote:\n> old text",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractTopReply(tt.in)
			if got != tt.want {
				t.Errorf("ExtractTopReply() = %q, want %q", got, tt.want)
			}
			if again := ExtractTopReply(got); again != got {
				t.Errorf("ExtractTopReply not idempotent: %q -> %q", got, again)
			}
		})
	}
}
