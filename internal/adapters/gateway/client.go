package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/domain"
)

const maxResponseBytes = 1 << 20

// Config is the per-provider connection surface loaded from configuration.
type Config struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
	Timeout       time.Duration
}

type client struct {
	name    domain.GatewayName
	baseURL string
	apiKey  string
	http    *http.Client
}

func newClient(name domain.GatewayName, cfg Config) *client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &client{
		name:    name,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type errorBody struct {
	Error   json.RawMessage `json:"error"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
}

// doJSON sends body as JSON and decodes a 2xx response into out.
// Transport failures, 429 and 5xx come back retryable; other statuses are terminal.
func (c *client) doJSON(ctx context.Context, method, path string, headers map[string]string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", c.name, err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", c.name, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return c.transportError(err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return c.transportError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.statusError(resp.StatusCode, payload)
	}
	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return &domain.GatewayError{
			Gateway:    c.name,
			Retryable:  true,
			Code:       "invalid_response",
			Message:    "response body is not valid json",
			StatusCode: resp.StatusCode,
			Err:        err,
		}
	}
	return nil
}

func (c *client) transportError(err error) error {
	code := "network_error"
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		code = "timeout"
	}
	return &domain.GatewayError{
		Gateway:   c.name,
		Retryable: true,
		Code:      code,
		Message:   err.Error(),
		Err:       err,
	}
}

func (c *client) statusError(status int, payload []byte) error {
	gwErr := &domain.GatewayError{
		Gateway:    c.name,
		StatusCode: status,
		Message:    http.StatusText(status),
	}
	switch {
	case status == http.StatusTooManyRequests:
		gwErr.Retryable = true
		gwErr.Code = "rate_limited"
	case status >= 500:
		gwErr.Retryable = true
		gwErr.Code = "upstream_unavailable"
	case status == http.StatusNotFound:
		gwErr.Code = "not_found"
	default:
		gwErr.Code = "rejected"
	}
	var body errorBody
	if json.Unmarshal(payload, &body) == nil {
		if body.Code != "" {
			gwErr.Code = body.Code
		}
		if body.Message != "" {
			gwErr.Message = body.Message
		}
		var nested errorBody
		if len(body.Error) > 0 && json.Unmarshal(body.Error, &nested) == nil {
			if nested.Code != "" && status != http.StatusNotFound {
				gwErr.Code = nested.Code
			}
			if nested.Message != "" {
				gwErr.Message = nested.Message
			}
		}
	}
	return gwErr
}

func isNotFound(err error) bool {
	var gwErr *domain.GatewayError
	return errors.As(err, &gwErr) && gwErr.StatusCode == http.StatusNotFound
}

func computeHMAC(newHash func() hash.Hash, secret string, parts ...[]byte) []byte {
	mac := hmac.New(newHash, []byte(secret))
	for _, part := range parts {
		mac.Write(part)
	}
	return mac.Sum(nil)
}

func unsupportedEvent(name domain.GatewayName, eventType string) error {
	return fmt.Errorf("%w: %s %s", domain.ErrUnsupportedEventType, name, eventType)
}
