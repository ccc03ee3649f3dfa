package alerts

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"

	"github.com/sudo-init-do/nearhub/internal/config"
)

// Mailer sends a single email.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// NewMailer picks the provider named in cfg. It returns nil when mail is not configured,
// in which case email tasks are logged and dropped.
func NewMailer(cfg config.Mail) (Mailer, error) {
	switch cfg.Provider {
	case "":
		return nil, nil
	case "plunk":
		if cfg.PlunkAPIKey == "" {
			return nil, fmt.Errorf("plunk not configured: set PLUNK_API_KEY")
		}
		return NewPlunkMailer(cfg), nil
	case "smtp":
		if cfg.SMTPHost == "" || cfg.SMTPPort == "" || cfg.SMTPUsername == "" || cfg.SMTPPassword == "" || cfg.SMTPFrom == "" {
			return nil, fmt.Errorf("smtp not configured: set SMTP_HOST, SMTP_PORT, SMTP_USERNAME, SMTP_PASSWORD, SMTP_FROM")
		}
		return &SMTPMailer{cfg: cfg}, nil
	default:
		return nil, fmt.Errorf("unknown MAIL_PROVIDER %q", cfg.Provider)
	}
}

// SMTPMailer sends plain text or HTML mail over implicit TLS.
type SMTPMailer struct {
	cfg config.Mail
}

func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	addr := net.JoinHostPort(m.cfg.SMTPHost, m.cfg.SMTPPort)
	dialer := &tls.Dialer{Config: &tls.Config{ServerName: m.cfg.SMTPHost}}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}
	defer conn.Close()

	c, err := smtp.NewClient(conn, m.cfg.SMTPHost)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	defer c.Close()

	auth := smtp.PlainAuth("", m.cfg.SMTPUsername, m.cfg.SMTPPassword, m.cfg.SMTPHost)
	if err := c.Auth(auth); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}
	if err := c.Mail(m.cfg.SMTPFrom); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}
	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := wc.Write(buildMessage(m.cfg.SMTPFrom, to, m.cfg.ReplyTo, subject, body)); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("smtp close: %w", err)
	}
	return c.Quit()
}

func buildMessage(from, to, replyTo, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	if replyTo != "" {
		fmt.Fprintf(&b, "Reply-To: %s\r\n", replyTo)
	}
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: %s; charset=\"utf-8\"\r\n", contentType(body))
	b.WriteString("\r\n" + body + "\r\n")
	return []byte(b.String())
}

func contentType(body string) string {
	lb := strings.ToLower(body)
	if strings.Contains(lb, "<html") || strings.Contains(lb, "<body") || strings.Contains(lb, "<!doctype html") {
		return "text/html"
	}
	return "text/plain"
}
