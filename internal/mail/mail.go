// Package mail sends verification codes over SMTP. The production sender
// speaks SMTP over an implicit TLS connection; tests swap in SenderFunc.
package mail

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// Sender delivers one verification code to an address.
type Sender interface {
	SendCode(to, code string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(to, code string) error

func (f SenderFunc) SendCode(to, code string) error { return f(to, code) }

// SMTPConfig holds the credentials of the outbound mail account.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender sends mail over SMTPS (TLS from the first byte, typically
// port 465).
type SMTPSender struct {
	cfg SMTPConfig
}

func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" || cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("smtp host, username, and password are required")
	}
	if cfg.Port == 0 {
		cfg.Port = 465
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	return &SMTPSender{cfg: cfg}, nil
}

// SendCode delivers the verification code in a short plain-text message.
func (s *SMTPSender) SendCode(to, code string) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))

	conn, err := tls.DialWithDialer(
		&net.Dialer{Timeout: 10 * time.Second},
		"tcp", addr,
		&tls.Config{ServerName: s.cfg.Host},
	)
	if err != nil {
		return fmt.Errorf("dial smtp server: %w", err)
	}

	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	if err := c.Auth(auth); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}
	if err := c.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write([]byte(buildMessage(s.cfg.From, to, code))); err != nil {
		w.Close()
		return fmt.Errorf("write mail body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish mail body: %w", err)
	}
	return c.Quit()
}

func buildMessage(from, to, code string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: InkSprint <%s>\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	b.WriteString("Subject: Your InkSprint verification code\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	fmt.Fprintf(&b, "Your verification code is %s. It expires in 10 minutes.\r\n", code)
	return b.String()
}
