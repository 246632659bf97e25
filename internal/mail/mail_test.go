package mail

import (
	"strings"
	"testing"
)

func TestSenderFuncAdapter(t *testing.T) {
	t.Parallel()

	var gotTo, gotCode string
	var s Sender = SenderFunc(func(to, code string) error {
		gotTo, gotCode = to, code
		return nil
	})
	if err := s.SendCode("a@example.com", "123456"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotTo != "a@example.com" || gotCode != "123456" {
		t.Fatalf("adapter passed %q %q", gotTo, gotCode)
	}
}

func TestNewSMTPSenderDefaults(t *testing.T) {
	t.Parallel()

	if _, err := NewSMTPSender(SMTPConfig{}); err == nil {
		t.Fatal("missing credentials must fail")
	}

	s, err := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", Username: "bot@example.com", Password: "pw"})
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	if s.cfg.Port != 465 {
		t.Fatalf("default port = %d, want 465", s.cfg.Port)
	}
	if s.cfg.From != "bot@example.com" {
		t.Fatalf("default from = %q", s.cfg.From)
	}
}

func TestBuildMessageHeaders(t *testing.T) {
	t.Parallel()

	msg := buildMessage("bot@example.com", "user@example.com", "654321")
	for _, want := range []string{
		"From: InkSprint <bot@example.com>",
		"To: user@example.com",
		"Subject: Your InkSprint verification code",
		"654321",
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message missing %q:\n%s", want, msg)
		}
	}
	if !strings.Contains(msg, "\r\n\r\n") {
		t.Fatal("message must separate headers from body")
	}
}
