package notify

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"

	"github.com/microcosm-cc/bluemonday"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// messagePolicy は通知本文に許可するHTML。呼び出し元が渡す本文はこのポリシーで無害化する。
var messagePolicy = bluemonday.UGCPolicy()

// Branding はメール本文に差し込むサービス情報。
type Branding struct {
	AppName string
	SiteURL string
	From    string
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

func welcomeMessage(b Branding, to, name string, now time.Time) (Message, error) {
	body, err := render("welcome.html", map[string]any{
		"AppName": b.AppName,
		"SiteURL": b.SiteURL,
		"Name":    name,
		"Year":    now.Year(),
	})
	if err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: "Welcome to " + b.AppName + "! ☕", HTML: body}, nil
}

func notificationMessage(b Branding, to, subject, message string, now time.Time) (Message, error) {
	body, err := render("notification.html", map[string]any{
		"AppName": b.AppName,
		"Message": template.HTML(messagePolicy.Sanitize(message)),
		"Year":    now.Year(),
	})
	if err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: subject, HTML: body}, nil
}

func testMessage(b Branding, to string, now time.Time) (Message, error) {
	body, err := render("test.html", map[string]any{
		"From": b.From,
		"Time": now.Format(time.RFC1123),
	})
	if err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: "SMTP Test Email - " + b.AppName, HTML: body}, nil
}
