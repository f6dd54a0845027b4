package notification

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
	"time"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// templateData is the data every template is executed with.
type templateData struct {
	AppName   string
	FirstName string
	Code      string
	ResetURL  string
	ExpiresIn string
}

type renderer struct {
	html *htmltemplate.Template
	text *texttemplate.Template
}

func newRenderer() (*renderer, error) {
	h, err := htmltemplate.ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse html templates: %w", err)
	}
	t, err := texttemplate.ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse text templates: %w", err)
	}
	return &renderer{html: h, text: t}, nil
}

// email renders the subject, text and html parts of the named template.
func (r *renderer) email(name, to string, data templateData) (Email, error) {
	subject, err := r.execText(name+".subject", data)
	if err != nil {
		return Email{}, err
	}
	text, err := r.execText(name+".txt", data)
	if err != nil {
		return Email{}, err
	}
	var html bytes.Buffer
	if err := r.html.ExecuteTemplate(&html, name+".html", data); err != nil {
		return Email{}, fmt.Errorf("render %s: %w", name, err)
	}
	return Email{To: to, Subject: subject, Text: text, HTML: html.String()}, nil
}

func (r *renderer) execText(name string, data templateData) (string, error) {
	var buf bytes.Buffer
	if err := r.text.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

func humanDuration(d time.Duration) string {
	switch m := int(d.Round(time.Minute) / time.Minute); {
	case m <= 1:
		return "1 minute"
	case m%60 == 0 && m >= 120:
		return fmt.Sprintf("%d hours", m/60)
	case m == 60:
		return "1 hour"
	default:
		return fmt.Sprintf("%d minutes", m)
	}
}
