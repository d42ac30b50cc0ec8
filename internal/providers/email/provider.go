package email

import (
	"context"
	"errors"
)

var ErrNoRecipient = errors.New("email_no_recipient")

type Provider interface {
	Send(ctx context.Context, to []string, subject string, body string) error
	Enabled() bool
}

type NoOpProvider struct{}

func (p *NoOpProvider) Send(ctx context.Context, to []string, subject string, body string) error {
	return nil
}

func (p *NoOpProvider) Enabled() bool { return false }
