package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	ErrNoInstance  = errors.New("whatsapp_no_instance")
	ErrNoRecipient = errors.New("whatsapp_no_recipient")
	ErrSendFailed  = errors.New("whatsapp_send_failed")
)

// Provider sends plain-text messages through a sender instance.
type Provider interface {
	SendText(ctx context.Context, instance string, number string, text string) error
	Enabled() bool
}

type NoOpProvider struct{}

func (p *NoOpProvider) SendText(ctx context.Context, instance string, number string, text string) error {
	return nil
}

func (p *NoOpProvider) Enabled() bool { return false }

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// EvolutionClient talks to an Evolution API gateway.
type EvolutionClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewEvolutionClient(cfg Config) *EvolutionClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &EvolutionClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *EvolutionClient) Enabled() bool {
	return c.baseURL != "" && c.apiKey != ""
}

type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

func (c *EvolutionClient) SendText(ctx context.Context, instance string, number string, text string) error {
	instance = strings.TrimSpace(instance)
	if instance == "" {
		return ErrNoInstance
	}
	number = NormalizeNumber(number)
	if number == "" {
		return ErrNoRecipient
	}

	payload, err := json.Marshal(sendTextRequest{Number: number, Text: text})
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/message/sendText/%s", c.baseURL, url.PathEscape(instance))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrSendFailed, resp.StatusCode)
	}
	return nil
}

// NormalizeNumber strips spaces, dashes and the leading plus sign.
func NormalizeNumber(number string) string {
	replacer := strings.NewReplacer(" ", "", "+", "", "-", "")
	return strings.TrimSpace(replacer.Replace(number))
}
