// Package nts looks up the VAT registration status of Korean businesses with
// the National Tax Service business status API.
package nts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the public data portal endpoint of the status API.
const DefaultBaseURL = "https://api.odcloud.kr/api/nts-businessman/v1"

// ErrLookup is returned when no tax status could be obtained.
var ErrLookup = errors.New("tax status lookup failed")

// Config configures a Client. Zero values select the defaults.
type Config struct {
	BaseURL string
	// Attempts per lookup, including the first.
	Attempts int
	// Timeout of a single attempt.
	Timeout time.Duration
	// Backoff before the second attempt; doubles after each failure.
	Backoff time.Duration
	// RatePerSecond caps outgoing requests across all lookups. Zero is unlimited.
	RatePerSecond float64
	HTTPClient    *http.Client
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Attempts < 1 {
		c.Attempts = 3
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Backoff <= 0 {
		c.Backoff = 200 * time.Millisecond
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	return c
}

// Client calls the status API. It is safe for concurrent use.
type Client struct {
	cfg     Config
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[string]
}

// New creates a Client.
func New(cfg Config) *Client {
	cfg = cfg.withDefaults()

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}

	return &Client{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		breaker: gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
			Name:    "nts",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("tax lookup circuit changed state", "from", from.String(), "to", to.String())
			},
		}),
	}
}

type statusRequest struct {
	BusinessNumbers []string `json:"b_no"`
}

type statusResponse struct {
	StatusCode string `json:"status_code"`
	Data       []struct {
		BusinessNumber string `json:"b_no"`
		TaxType        string `json:"tax_type"`
	} `json:"data"`
}

// TaxType returns the raw tax_type text the API reports for businessNumber
// (hyphens allowed). Failed attempts are retried with backoff; when every
// attempt fails the error wraps ErrLookup.
func (c *Client) TaxType(ctx context.Context, businessNumber, serviceKey string) (string, error) {
	bno := strings.ReplaceAll(strings.TrimSpace(businessNumber), "-", "")
	if bno == "" {
		return "", fmt.Errorf("%w: empty business number", ErrLookup)
	}

	backoff := c.cfg.Backoff
	var lastErr error
	for attempt := 1; attempt <= c.cfg.Attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %w", ErrLookup, ctx.Err())
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("%w: %w", ErrLookup, err)
		}

		taxType, err := c.breaker.Execute(func() (string, error) {
			return c.status(ctx, bno, serviceKey)
		})
		if err == nil {
			return taxType, nil
		}
		lastErr = err
		slog.Warn("tax lookup attempt failed", "attempt", attempt, "business_number", businessNumber, "error", err)

		if errors.Is(err, gobreaker.ErrOpenState) || ctx.Err() != nil {
			break
		}
	}
	return "", fmt.Errorf("%w: %w", ErrLookup, lastErr)
}

func (c *Client) status(ctx context.Context, bno, serviceKey string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	jsonData, err := json.Marshal(statusRequest{BusinessNumbers: []string{bno}})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/status?serviceKey=%s", strings.TrimRight(c.cfg.BaseURL, "/"), url.QueryEscape(serviceKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling status API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("status API error (status %d): %s", resp.StatusCode, string(body))
	}

	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if len(status.Data) == 0 {
		return "", fmt.Errorf("status API returned no data for %s", bno)
	}
	return status.Data[0].TaxType, nil
}
