package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/rentledger/internal/billingcycle"
	"github.com/smallbiznis/rentledger/internal/config"
	"github.com/smallbiznis/rentledger/internal/economicindex/domain"
)

// Client reads the public index series published as [{fecha, valor}].
type Client struct {
	httpClient *http.Client
	urls       map[domain.Kind]string
}

func NewClient(cfg config.Config) domain.Source {
	timeout := cfg.IndexSource.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		urls: map[domain.Kind]string{
			domain.KindIndexA: strings.TrimSpace(cfg.IndexSource.IndexAURL),
			domain.KindIndexB: strings.TrimSpace(cfg.IndexSource.IndexBURL),
		},
	}
}

type entry struct {
	Fecha string      `json:"fecha"`
	Date  string      `json:"date"`
	Valor json.Number `json:"valor"`
	Value json.Number `json:"value"`
}

func (c *Client) Fetch(ctx context.Context, kind domain.Kind) (domain.Series, error) {
	url := c.urls[kind]
	if url == "" {
		return nil, domain.ErrInvalidKind
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSourceFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", domain.ErrSourceFailed, resp.StatusCode)
	}

	var entries []entry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSourceFailed, err)
	}
	return parseEntries(entries), nil
}

func parseEntries(entries []entry) domain.Series {
	series := domain.Series{}
	for _, e := range entries {
		rawDate := firstNonEmpty(e.Fecha, e.Date)
		rawValue := firstNonEmpty(e.Valor.String(), e.Value.String())
		if rawDate == "" || rawValue == "" {
			continue
		}
		date, ok := parseDate(rawDate)
		if !ok {
			continue
		}
		value, err := decimal.NewFromString(rawValue)
		if err != nil {
			continue
		}
		series[date] = value
	}
	return series
}

func parseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if len(raw) == 10 {
		t, err := time.Parse(time.DateOnly, raw)
		return t, err == nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return billingcycle.DateOf(t, time.UTC), true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
