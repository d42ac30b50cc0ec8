package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/rentledger/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWhatsApp struct {
	enabled  bool
	err      error
	instance string
	number   string
	text     string
	calls    int
}

func (f *fakeWhatsApp) SendText(ctx context.Context, instance, number, text string) error {
	f.calls++
	f.instance, f.number, f.text = instance, number, text
	return f.err
}

func (f *fakeWhatsApp) Enabled() bool { return f.enabled }

type fakeEmail struct {
	enabled bool
	to      []string
	subject string
	body    string
	calls   int
}

func (f *fakeEmail) Send(ctx context.Context, to []string, subject, body string) error {
	f.calls++
	f.to, f.subject, f.body = to, subject, body
	return nil
}

func (f *fakeEmail) Enabled() bool { return f.enabled }

func newTestDispatcher(wa *fakeWhatsApp, mail *fakeEmail) *Service {
	return NewDispatcher(Params{
		Log:      zap.NewNop(),
		Billing:  config.NewStaticBillingConfigHolder(config.DefaultBillingConfig()),
		WhatsApp: wa,
		Email:    mail,
	})
}

func adjustmentMessage(recipient Recipient, instance string) Message {
	return Message{
		Instance:  instance,
		Recipient: recipient,
		Template:  config.TemplateRentAdjustment,
		Data: NewAdjustmentData("Ana", decimal.NewFromInt(100000),
			decimal.NewFromInt(115000), decimal.NewFromInt(15)),
	}
}

func TestDispatchPrefersWhatsApp(t *testing.T) {
	wa := &fakeWhatsApp{enabled: true}
	mail := &fakeEmail{enabled: true}
	d := newTestDispatcher(wa, mail)

	err := d.Dispatch(context.Background(), adjustmentMessage(Recipient{Phone: "5491100000000", Email: "ana@example.com"}, "inmo-1"))
	require.NoError(t, err)

	assert.Equal(t, 1, wa.calls)
	assert.Zero(t, mail.calls)
	assert.Equal(t, "inmo-1", wa.instance)
	assert.Contains(t, wa.text, "Monto anterior: $100.000")
	assert.Contains(t, wa.text, "Nuevo monto: $115.000")
}

func TestDispatchFallsBackToEmailWithoutPhone(t *testing.T) {
	wa := &fakeWhatsApp{enabled: true}
	mail := &fakeEmail{enabled: true}
	d := newTestDispatcher(wa, mail)

	msg := Message{
		Instance:  "inmo-1",
		Recipient: Recipient{Email: "ana@example.com"},
		Template:  config.TemplateContractExpiration,
		Data: NewExpirationData("Ana", time.Date(2025, time.June, 30, 0, 0, 0, 0, time.UTC),
			decimal.NewFromInt(250000)),
	}
	require.NoError(t, d.Dispatch(context.Background(), msg))

	assert.Zero(t, wa.calls)
	assert.Equal(t, []string{"ana@example.com"}, mail.to)
	assert.Equal(t, "Vencimiento de contrato", mail.subject)
	assert.Contains(t, mail.body, "vence el 30/06/2025")
	assert.Contains(t, mail.body, "$250.000")
}

func TestDispatchWithoutChannel(t *testing.T) {
	d := newTestDispatcher(&fakeWhatsApp{enabled: true}, &fakeEmail{enabled: false})

	// a phone is useless without a sender instance
	err := d.Dispatch(context.Background(), adjustmentMessage(Recipient{Phone: "5491100000000", Email: "ana@example.com"}, ""))
	assert.ErrorIs(t, err, ErrNoChannel)
}

func TestDispatchSurfacesProviderError(t *testing.T) {
	boom := errors.New("boom")
	d := newTestDispatcher(&fakeWhatsApp{enabled: true, err: boom}, &fakeEmail{enabled: true})

	err := d.Dispatch(context.Background(), adjustmentMessage(Recipient{Phone: "1"}, "inmo-1"))
	assert.ErrorIs(t, err, boom)
}

func TestRenderUnknownTemplate(t *testing.T) {
	d := newTestDispatcher(&fakeWhatsApp{}, &fakeEmail{})
	_, err := d.Render("welcome", nil)
	assert.ErrorIs(t, err, ErrUnknownTemplate)
}

func TestRenderMissingKeyFails(t *testing.T) {
	d := newTestDispatcher(&fakeWhatsApp{}, &fakeEmail{})
	_, err := d.Render(config.TemplateRentAdjustment, map[string]string{"PersonName": "Ana"})
	assert.Error(t, err)
}
