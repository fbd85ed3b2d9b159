package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nicktill/perfwatch/pkg/config"
)

// Transport defines the interface for delivering one JSON payload
type Transport interface {
	Send(ctx context.Context, path string, payload []byte) error
}

// HTTPTransport implements Transport using HTTP POST
type HTTPTransport struct {
	endpoint string
	client   *http.Client
}

// NewHTTP creates a new HTTP transport posting to endpoint + path. A zero
// timeout uses config.DefaultSendTimeout.
func NewHTTP(endpoint string, timeout time.Duration) (*HTTPTransport, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid endpoint %q: scheme must be http or https", endpoint)
	}
	if timeout <= 0 {
		timeout = config.DefaultSendTimeout
	}

	return &HTTPTransport{
		endpoint: strings.TrimRight(endpoint, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Send posts payload to the ingestion path
func (t *HTTPTransport) Send(ctx context.Context, path string, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("request to %s failed with status %d", path, resp.StatusCode)
	}

	return nil
}
