package notification

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/rentledger/internal/config"
	"github.com/smallbiznis/rentledger/internal/observability/metrics"
	"github.com/smallbiznis/rentledger/internal/providers/email"
	"github.com/smallbiznis/rentledger/internal/providers/whatsapp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	ErrNoChannel       = errors.New("no_notification_channel")
	ErrUnknownTemplate = errors.New("unknown_notification_template")
)

type Channel string

const (
	ChannelAuto     Channel = ""
	ChannelWhatsApp Channel = "whatsapp"
	ChannelEmail    Channel = "email"
)

const defaultSendTimeout = 15 * time.Second

// Recipient is who a message goes to. Either contact may be empty.
type Recipient struct {
	Name  string
	Phone string
	Email string
}

type Message struct {
	TenantID  snowflake.ID
	Channel   Channel
	Instance  string
	Recipient Recipient
	Subject   string
	Template  string
	Data      any
}

type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message) error
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Billing  *config.BillingConfigHolder
	WhatsApp whatsapp.Provider
	Email    email.Provider
	Metrics  *metrics.Metrics `optional:"true"`
}

type Service struct {
	log         *zap.Logger
	billing     *config.BillingConfigHolder
	whatsapp    whatsapp.Provider
	email       email.Provider
	metrics     *metrics.Metrics
	sendTimeout time.Duration
}

func NewDispatcher(p Params) *Service {
	svc := &Service{
		log:         p.Log.Named("notification.dispatcher"),
		billing:     p.Billing,
		whatsapp:    p.WhatsApp,
		email:       p.Email,
		metrics:     p.Metrics,
		sendTimeout: defaultSendTimeout,
	}
	if svc.whatsapp == nil {
		svc.whatsapp = &whatsapp.NoOpProvider{}
	}
	if svc.email == nil {
		svc.email = &email.NoOpProvider{}
	}
	return svc
}

// Dispatch renders msg.Template and sends it over the first usable channel.
// WhatsApp wins when the tenant has an instance and the person a phone.
func (s *Service) Dispatch(ctx context.Context, msg Message) error {
	body, err := s.Render(msg.Template, msg.Data)
	if err != nil {
		s.metrics.RecordNotification(ctx, string(msg.Channel), msg.Template, "render_failed")
		return err
	}

	channel := s.pick(msg)
	if channel == ChannelAuto {
		s.metrics.RecordNotification(ctx, "none", msg.Template, "no_channel")
		return ErrNoChannel
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()

	switch channel {
	case ChannelWhatsApp:
		err = s.whatsapp.SendText(sendCtx, msg.Instance, msg.Recipient.Phone, body)
	case ChannelEmail:
		err = s.email.Send(sendCtx, []string{msg.Recipient.Email}, subjectFor(msg), body)
	}

	fields := []zap.Field{
		zap.String("tenant_id", msg.TenantID.String()),
		zap.String("channel", string(channel)),
		zap.String("template", msg.Template),
	}
	if err != nil {
		s.metrics.RecordNotification(ctx, string(channel), msg.Template, "failed")
		s.log.Warn("notification failed", append(fields, zap.Error(err))...)
		return fmt.Errorf("%s: %w", channel, err)
	}
	s.metrics.RecordNotification(ctx, string(channel), msg.Template, "sent")
	s.log.Info("notification sent", fields...)
	return nil
}

// Render executes a named template from the live billing policy.
func (s *Service) Render(name string, data any) (string, error) {
	source, ok := s.billing.Get().Templates[name]
	if !ok || strings.TrimSpace(source) == "" {
		return "", fmt.Errorf("%w: %q", ErrUnknownTemplate, name)
	}
	tmpl, err := template.New(name).Option("missingkey=error").Parse(source)
	if err != nil {
		return "", fmt.Errorf("parse template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render template %s: %w", name, err)
	}
	return buf.String(), nil
}

func (s *Service) pick(msg Message) Channel {
	canWhatsApp := s.whatsapp.Enabled() && msg.Instance != "" && msg.Recipient.Phone != ""
	canEmail := s.email.Enabled() && msg.Recipient.Email != ""

	switch msg.Channel {
	case ChannelWhatsApp:
		if canWhatsApp {
			return ChannelWhatsApp
		}
		return ChannelAuto
	case ChannelEmail:
		if canEmail {
			return ChannelEmail
		}
		return ChannelAuto
	}
	if canWhatsApp {
		return ChannelWhatsApp
	}
	if canEmail {
		return ChannelEmail
	}
	return ChannelAuto
}

func subjectFor(msg Message) string {
	if subject := strings.TrimSpace(msg.Subject); subject != "" {
		return subject
	}
	switch msg.Template {
	case config.TemplateContractExpiration:
		return "Vencimiento de contrato"
	case config.TemplateRentAdjustment:
		return "Ajuste de alquiler"
	}
	return "Aviso"
}
