package email

import (
	"context"
	"strings"
	"testing"

	"github.com/smallbiznis/rentledger/internal/config"
)

func TestBuildMessageHeaders(t *testing.T) {
	msg := string(buildMessage("no-reply@rentledger.test", []string{"ana@example.com"}, "Aviso", "linea 1\nlinea 2"))
	for _, want := range []string{
		"From: no-reply@rentledger.test\r\n",
		"To: ana@example.com\r\n",
		"Subject: Aviso\r\n",
		"linea 1\r\nlinea 2",
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestSendRequiresRecipient(t *testing.T) {
	p := NewSMTP(Config{Host: "localhost", Port: 25, From: "a@b.c"})
	if err := p.Send(context.Background(), nil, "s", "b"); err != ErrNoRecipient {
		t.Fatalf("expected ErrNoRecipient, got %v", err)
	}
}

func TestNewFromConfigFallsBackToNoOp(t *testing.T) {
	if NewFromConfig(config.Config{}).Enabled() {
		t.Fatalf("expected disabled provider without SMTP host")
	}
	p := NewFromConfig(config.Config{SMTP: config.SMTPConfig{Host: "smtp.example.com", Port: 587, From: "a@b.c"}})
	if !p.Enabled() {
		t.Fatalf("expected SMTP provider to be enabled")
	}
}
