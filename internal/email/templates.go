package email

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var (
	htmlTemplates = map[string]*htmltemplate.Template{
		"sms":       htmltemplate.Must(htmltemplate.ParseFS(templateFS, "templates/sms.html.tmpl", "templates/footer.html.tmpl")),
		"voicemail": htmltemplate.Must(htmltemplate.ParseFS(templateFS, "templates/voicemail.html.tmpl", "templates/footer.html.tmpl")),
	}
	textTemplates = map[string]*texttemplate.Template{
		"sms":       texttemplate.Must(texttemplate.ParseFS(templateFS, "templates/sms.txt.tmpl", "templates/footer.txt.tmpl")),
		"voicemail": texttemplate.Must(texttemplate.ParseFS(templateFS, "templates/voicemail.txt.tmpl", "templates/footer.txt.tmpl")),
	}
)

// Footer carries the reply and call-back links shown under every
// notification. DialerURL is used when the user holds a credential,
// LoginURL otherwise.
type Footer struct {
	HasAuth   bool
	DialerURL string
	LoginURL  string
}

// SMSView is the data for an inbound SMS notification.
type SMSView struct {
	Footer
	Text string
}

// Lines splits the message text for HTML rendering.
func (v SMSView) Lines() []string {
	return strings.Split(v.Text, "\n")
}

// VoicemailView is the data for a voicemail notification. The two
// transcripts are rendered separately.
type VoicemailView struct {
	Footer
	CarrierTranscript string
	Transcript        string
	RecordingURL      string
}

// RenderSMS renders the HTML and text bodies of an SMS notification.
func RenderSMS(v SMSView) (html, text string, err error) {
	return render("sms", v)
}

// RenderVoicemail renders the HTML and text bodies of a voicemail
// notification.
func RenderVoicemail(v VoicemailView) (html, text string, err error) {
	return render("voicemail", v)
}

func render(name string, data any) (string, string, error) {
	var h, t bytes.Buffer
	if err := htmlTemplates[name].Execute(&h, data); err != nil {
		return "", "", fmt.Errorf("rendering %s html: %w", name, err)
	}
	if err := textTemplates[name].Execute(&t, data); err != nil {
		return "", "", fmt.Errorf("rendering %s text: %w", name, err)
	}
	return strings.TrimSpace(h.String()), strings.TrimSpace(t.String()), nil
}
