// Package email provides an SMTP-based notifier.Notifier.
package email

import (
	"context"
	"fmt"
	"html"
	"net/smtp"
	"strings"

	"github.com/Strob0t/hitl/internal/port/notifier"
)

const providerName = "email"

// SMTPConfig holds the configuration for SMTP connections.
type SMTPConfig struct {
	Host     string
	Port     int
	From     string
	Password string
	To       []string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Notifier sends email notifications via SMTP.
type Notifier struct {
	cfg  SMTPConfig
	send sendFunc
}

// NewNotifier creates a new email notifier.
func NewNotifier(cfg SMTPConfig) *Notifier {
	return &Notifier{cfg: cfg, send: smtp.SendMail}
}

func (n *Notifier) Name() string { return providerName }

func (n *Notifier) Capabilities() notifier.Capabilities {
	return notifier.Capabilities{
		RichFormatting: true,
		Links:          true,
	}
}

// Send mails the notification to every configured recipient in one message.
// net/smtp has no context support; ctx is only checked before dialing.
func (n *Notifier) Send(ctx context.Context, nf notifier.Notification) error {
	if n.cfg.Host == "" || len(n.cfg.To) == 0 {
		return notifier.ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)

	var auth smtp.Auth
	if n.cfg.Password != "" {
		auth = smtp.PlainAuth("", n.cfg.From, n.cfg.Password, n.cfg.Host)
	}

	if err := n.send(addr, auth, n.cfg.From, n.cfg.To, n.message(nf)); err != nil {
		return fmt.Errorf("email send: %w", err)
	}
	return nil
}

func (n *Notifier) message(nf notifier.Notification) []byte {
	title := sanitizeHeader(nf.Title)
	subject := "[hitl] " + title

	var body strings.Builder
	fmt.Fprintf(&body, "<h2>%s</h2>\n", html.EscapeString(title))
	fmt.Fprintf(&body, "<pre>%s</pre>\n", html.EscapeString(nf.Message))
	if nf.CallID != "" {
		fmt.Fprintf(&body, "<p><strong>ID:</strong> %s</p>\n", html.EscapeString(nf.CallID))
	}
	if nf.Link != "" {
		fmt.Fprintf(&body, `<p><a href="%s">Open approval queue</a></p>`+"\n", html.EscapeString(nf.Link))
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		n.cfg.From, strings.Join(n.cfg.To, ", "), subject, body.String())
	return []byte(msg)
}

// sanitizeHeader strips line breaks so a title cannot inject headers.
func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
