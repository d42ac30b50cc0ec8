package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/rentledger/internal/config"
	paymentdomain "github.com/smallbiznis/rentledger/internal/payment/domain"
)

const (
	Provider       = "mercadopago"
	defaultBaseURL = "https://api.mercadopago.com"
	maxBodyBytes   = 1 << 20
)

type Client struct {
	baseURL     string
	accessToken string
	client      *http.Client

	notificationURL string
	successURL      string
	failureURL      string
}

var (
	_ paymentdomain.Gateway  = (*Client)(nil)
	_ paymentdomain.Checkout = (*Client)(nil)
)

func New(cfg config.Config) *Client {
	mp := cfg.MercadoPago
	return NewClient(mp.BaseURL, mp.AccessToken, mp.Timeout).
		WithCallbacks(mp.NotificationURL, mp.SuccessURL, mp.FailureURL)
}

func NewClient(baseURL, accessToken string, timeout time.Duration) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:     baseURL,
		accessToken: strings.TrimSpace(accessToken),
		client:      &http.Client{Timeout: timeout},
	}
}

// WithCallbacks sets the webhook and back URLs sent with every preference.
func (c *Client) WithCallbacks(notificationURL, successURL, failureURL string) *Client {
	c.notificationURL = strings.TrimSpace(notificationURL)
	c.successURL = strings.TrimSpace(successURL)
	c.failureURL = strings.TrimSpace(failureURL)
	return c
}

func (c *Client) Name() string { return Provider }

type paymentResponse struct {
	ID                json.Number `json:"id"`
	Status            string      `json:"status"`
	ExternalReference string      `json:"external_reference"`
	TransactionAmount json.Number `json:"transaction_amount"`
	DateApproved      *string     `json:"date_approved"`
}

func (c *Client) FetchPayment(ctx context.Context, paymentID string) (*paymentdomain.GatewayPayment, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, paymentdomain.ErrInvalidPaymentID
	}
	if c.accessToken == "" {
		return nil, fmt.Errorf("%w: access token not configured", paymentdomain.ErrGatewayUnavailable)
	}

	status, body, err := c.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), nil)
	if err != nil {
		return nil, err
	}

	switch {
	case status == http.StatusNotFound:
		return nil, paymentdomain.ErrPaymentNotFound
	case status != http.StatusOK:
		return nil, fmt.Errorf("%w: status %d", paymentdomain.ErrGatewayUnavailable, status)
	}

	return parsePayment(body)
}

type preferenceItem struct {
	Title     string      `json:"title"`
	Quantity  int         `json:"quantity"`
	UnitPrice json.Number `json:"unit_price"`
}

type preferencePayer struct {
	Email string `json:"email"`
}

type preferenceBackURLs struct {
	Success string `json:"success,omitempty"`
	Failure string `json:"failure,omitempty"`
}

type preferencePayload struct {
	Items             []preferenceItem    `json:"items"`
	Payer             *preferencePayer    `json:"payer,omitempty"`
	ExternalReference string              `json:"external_reference"`
	NotificationURL   string              `json:"notification_url,omitempty"`
	BackURLs          *preferenceBackURLs `json:"back_urls,omitempty"`
	AutoReturn        string              `json:"auto_return,omitempty"`
}

type preferenceResponse struct {
	ID                string `json:"id"`
	InitPoint         string `json:"init_point"`
	ExternalReference string `json:"external_reference"`
}

// CreatePreference opens a single-item checkout whose payment will carry
// req.ExternalReference back through the webhook.
func (c *Client) CreatePreference(ctx context.Context, req paymentdomain.PreferenceRequest) (*paymentdomain.Preference, error) {
	reference := strings.TrimSpace(req.ExternalReference)
	if reference == "" {
		return nil, paymentdomain.ErrInvalidReference
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: non-positive amount %s", paymentdomain.ErrAmountMismatch, req.Amount.String())
	}
	if c.accessToken == "" {
		return nil, fmt.Errorf("%w: access token not configured", paymentdomain.ErrGatewayUnavailable)
	}

	payload := preferencePayload{
		Items: []preferenceItem{{
			Title:     strings.TrimSpace(req.Title),
			Quantity:  1,
			UnitPrice: json.Number(req.Amount.StringFixed(2)),
		}},
		ExternalReference: reference,
		NotificationURL:   c.notificationURL,
	}
	if email := strings.TrimSpace(req.PayerEmail); email != "" {
		payload.Payer = &preferencePayer{Email: email}
	}
	if c.successURL != "" || c.failureURL != "" {
		payload.BackURLs = &preferenceBackURLs{Success: c.successURL, Failure: c.failureURL}
	}
	if c.successURL != "" {
		payload.AutoReturn = paymentdomain.StatusApproved
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	status, body, err := c.do(ctx, http.MethodPost, "/checkout/preferences", raw)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, fmt.Errorf("%w: status %d", paymentdomain.ErrGatewayUnavailable, status)
	}

	var out preferenceResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: decode preference: %v", paymentdomain.ErrGatewayUnavailable, err)
	}
	if strings.TrimSpace(out.InitPoint) == "" {
		return nil, fmt.Errorf("%w: preference without init_point", paymentdomain.ErrGatewayUnavailable)
	}
	if out.ExternalReference == "" {
		out.ExternalReference = reference
	}
	return &paymentdomain.Preference{
		ID:                out.ID,
		InitPoint:         out.InitPoint,
		ExternalReference: out.ExternalReference,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) (int, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", paymentdomain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", paymentdomain.ErrGatewayUnavailable, err)
	}
	return resp.StatusCode, body, nil
}

func parsePayment(body []byte) (*paymentdomain.GatewayPayment, error) {
	var payload paymentResponse
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	if err := decoder.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode payment: %v", paymentdomain.ErrGatewayUnavailable, err)
	}

	amount := decimal.Zero
	if raw := strings.TrimSpace(payload.TransactionAmount.String()); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: transaction_amount %q", paymentdomain.ErrGatewayUnavailable, raw)
		}
		amount = parsed
	}

	out := &paymentdomain.GatewayPayment{
		ID:                payload.ID.String(),
		Status:            strings.TrimSpace(payload.Status),
		ExternalReference: strings.TrimSpace(payload.ExternalReference),
		TransactionAmount: amount,
		Raw:               body,
	}
	if payload.DateApproved != nil {
		if approved, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(*payload.DateApproved)); err == nil {
			approved = approved.UTC()
			out.ApprovedAt = &approved
		}
	}
	return out, nil
}
