// Package upstream relays chat-completion payloads to the configured provider
// and normalizes transport failures into typed errors.
package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/tokenrouter/tokenrouter/internal/config"
)

// StatusError is a forwarding failure carrying the HTTP status the caller
// should receive.
type StatusError struct {
	Code   int    // HTTP status code to surface.
	Detail string // Human-readable error detail.
}

// Error implements the error interface.
func (e *StatusError) Error() string { return e.Detail }

// Forwarder is a stateless HTTP client for the single configured provider.
type Forwarder struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	client  *http.Client
}

// NewForwarder constructs a Forwarder from provider configuration.
func NewForwarder(cfg config.ProviderConfig) *Forwarder {
	return &Forwarder{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:  cfg.APIKey,
		timeout: cfg.Timeout(),
		client:  &http.Client{},
	}
}

// NormalizePayload prepares the outbound body: the model field is rewritten to
// its canonical lowercase form and top-level null fields are stripped, so the
// provider sees the same shape regardless of how the caller spelled things.
func NormalizePayload(raw []byte, model string) ([]byte, error) {
	out, errSet := sjson.SetBytes(raw, "model", strings.ToLower(strings.TrimSpace(model)))
	if errSet != nil {
		return nil, fmt.Errorf("upstream: set model: %w", errSet)
	}

	var nullKeys []string
	gjson.ParseBytes(out).ForEach(func(key, value gjson.Result) bool {
		if value.Type == gjson.Null {
			nullKeys = append(nullKeys, key.String())
		}
		return true
	})
	for _, key := range nullKeys {
		cleaned, errDelete := sjson.DeleteBytes(out, key)
		if errDelete != nil {
			return nil, fmt.Errorf("upstream: strip null field %s: %w", key, errDelete)
		}
		out = cleaned
	}
	return out, nil
}

// Forward relays the payload to the provider's chat-completions endpoint.
// A single attempt is made with a bounded timeout; the caller's cancellation
// is deliberately not propagated so an in-flight call completes even when the
// client disconnects.
func (f *Forwarder) Forward(ctx context.Context, payload []byte) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
	defer cancel()

	endpoint := f.baseURL + "/chat/completions"
	req, errNew := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if errNew != nil {
		return nil, &StatusError{Code: http.StatusInternalServerError, Detail: fmt.Sprintf("Unexpected error: %v", errNew)}
	}
	req.Header.Set("Authorization", "Bearer "+f.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, errDo := f.client.Do(req)
	if errDo != nil {
		return nil, classifyTransportError(errDo)
	}
	defer func() { _ = resp.Body.Close() }()

	body, errRead := io.ReadAll(resp.Body)
	if errRead != nil {
		return nil, classifyTransportError(errRead)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{
			Code:   resp.StatusCode,
			Detail: "Provider error: " + extractErrorDetail(body),
		}
	}
	return body, nil
}

// classifyTransportError maps transport failures to typed gateway errors.
func classifyTransportError(err error) *StatusError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &StatusError{Code: http.StatusGatewayTimeout, Detail: "Request to provider timed out"}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return &StatusError{Code: http.StatusGatewayTimeout, Detail: "Request to provider timed out"}
		}
		return &StatusError{Code: http.StatusBadGateway, Detail: fmt.Sprintf("Error connecting to provider: %v", urlErr.Err)}
	}

	return &StatusError{Code: http.StatusInternalServerError, Detail: fmt.Sprintf("Unexpected error: %v", err)}
}

// extractErrorDetail pulls a nested error.message from a provider error body,
// falling back to the raw body text.
func extractErrorDetail(body []byte) string {
	if msg := gjson.GetBytes(body, "error.message"); msg.Exists() && strings.TrimSpace(msg.String()) != "" {
		return strings.TrimSpace(msg.String())
	}
	return strings.TrimSpace(string(body))
}

// Usage holds the token counters reported by the provider.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

// ExtractUsage reads the usage block from a provider response. A missing
// total is reconstructed from the prompt and completion counts.
func ExtractUsage(body []byte) Usage {
	usage := Usage{
		PromptTokens:     gjson.GetBytes(body, "usage.prompt_tokens").Int(),
		CompletionTokens: gjson.GetBytes(body, "usage.completion_tokens").Int(),
		TotalTokens:      gjson.GetBytes(body, "usage.total_tokens").Int(),
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	return usage
}
