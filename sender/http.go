package sender

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxResponseBody caps how much of a response body is kept.
const maxResponseBody = 64 << 10

// Response is a collector reply.
type Response struct {
	StatusCode int
	Body       []byte
}

// HTTPError is returned for a non-2xx status.
type HTTPError struct {
	Code   int
	Reason string
}

func (e *HTTPError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("http status %d", e.Code)
	}
	return fmt.Sprintf("http status %d: %s", e.Code, e.Reason)
}

// Poster performs a single POST.
type Poster interface {
	Post(ctx context.Context, url string, body []byte, headers map[string]string) (*Response, error)
}

// HTTPPoster is a Poster over net/http.
type HTTPPoster struct {
	client *http.Client
}

// NewHTTPPoster returns a poster whose requests time out after timeout.
func NewHTTPPoster(timeout time.Duration) *HTTPPoster {
	return &HTTPPoster{client: &http.Client{Timeout: timeout}}
}

// Post sends body to url. A non-2xx reply returns the response together
// with an *HTTPError; transport failures return a plain wrapped error.
func (p *HTTPPoster) Post(ctx context.Context, url string, body []byte, headers map[string]string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to post: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	out := &Response{StatusCode: resp.StatusCode, Body: data}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return out, &HTTPError{Code: resp.StatusCode, Reason: http.StatusText(resp.StatusCode)}
	}
	return out, nil
}
