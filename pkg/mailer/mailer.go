// Package mailer sends plain SMTP email.
package mailer

import (
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
)

// Config holds the SMTP server settings.
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// SendFunc has the signature of smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Mailer sends email through one SMTP server.
type Mailer struct {
	cfg  Config
	send SendFunc
}

// New returns a Mailer for cfg. A nil send uses smtp.SendMail.
func New(cfg Config, send SendFunc) (*Mailer, error) {
	if cfg.Host == "" {
		return nil, errors.New("SMTP host must be provided")
	}
	if cfg.Port == "" {
		cfg.Port = "2525"
	}
	if cfg.From == "" {
		return nil, errors.New("sender email address cannot be empty")
	}
	if send == nil {
		send = smtp.SendMail
	}
	return &Mailer{cfg: cfg, send: send}, nil
}

// Send delivers one message. HTML bodies are detected from <html> or <p>.
func (m *Mailer) Send(recipients []string, subject, body string) error {
	if len(recipients) == 0 {
		return fmt.Errorf("recipient email address cannot be empty")
	}
	if subject == "" {
		return fmt.Errorf("email subject cannot be empty")
	}

	contentType := "text/plain; charset=UTF-8"
	lower := strings.ToLower(body)
	if strings.Contains(lower, "<html>") || strings.Contains(lower, "<p>") {
		contentType = "text/html; charset=UTF-8"
	}

	message := []byte(fmt.Sprintf("To: %s\r\n"+
		"From: %s\r\n"+
		"Subject: %s\r\n"+
		"Content-Type: %s\r\n"+
		"\r\n"+
		"%s\r\n", strings.Join(recipients, ", "), m.cfg.From, subject, contentType, body))

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	if err := m.send(net.JoinHostPort(m.cfg.Host, m.cfg.Port), auth, m.cfg.From, recipients, message); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}
