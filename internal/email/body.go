package email

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

var (
	inlineSpaceRe = regexp.MustCompile(`[^\S\n]+`)
	blankRunRe    = regexp.MustCompile(`\n{3,}`)
	invisibleRe   = regexp.MustCompile(`[\x{200B}-\x{200D}\x{FEFF}\x{00AD}]+`)
)

// HTMLToText converts an HTML mail body to plain text, one line per block
// element.
func HTMLToText(html string) (string, error) {
	if strings.TrimSpace(html) == "" {
		return "", nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parsing html body: %w", err)
	}

	doc.Find("script, style, head, meta, link").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, h1, h2, h3, h4, h5, h6, li, tr, blockquote").Each(func(_ int, s *goquery.Selection) {
		s.PrependHtml("\n")
	})

	text := invisibleRe.ReplaceAllString(doc.Text(), "")
	text = inlineSpaceRe.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = strings.Join(lines, "\n")
	text = blankRunRe.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text), nil
}

// ReadBody returns the text of a parsed mail message, preferring the
// text/plain part and falling back to converted HTML.
func ReadBody(mr *mail.Reader) (string, error) {
	var plain, html string
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("reading message part: %w", err)
		}

		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		b, err := io.ReadAll(p.Body)
		if err != nil {
			return "", fmt.Errorf("reading %s part: %w", ct, err)
		}

		switch {
		case strings.HasPrefix(ct, "text/plain") && plain == "":
			plain = string(b)
		case strings.HasPrefix(ct, "text/html") && html == "":
			html = string(b)
		}
	}

	if strings.TrimSpace(plain) != "" {
		return normalizeNewlines(plain), nil
	}
	return HTMLToText(html)
}

func normalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}
