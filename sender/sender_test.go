package sender

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meeting-telemetry/ingestion/config"
	"meeting-telemetry/ingestion/event"
)

type postCall struct {
	url     string
	body    []byte
	headers map[string]string
}

// scriptedPoster replays results in order and repeats the last one.
type scriptedPoster struct {
	mu      sync.Mutex
	results []error
	calls   []postCall
}

func (p *scriptedPoster) Post(_ context.Context, url string, body []byte, headers map[string]string) (*Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, postCall{url: url, body: body, headers: headers})
	idx := min(len(p.calls)-1, len(p.results)-1)
	if idx < 0 {
		return &Response{StatusCode: 200}, nil
	}
	err := p.results[idx]
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return &Response{StatusCode: httpErr.Code}, err
	}
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: 200}, nil
}

func setupSender(t *testing.T, poster Poster) (*EventSender, *[]time.Duration) {
	t.Helper()
	cfg := config.Default()
	cfg.Ingestion.URL = "https://collector.example.com/events"
	cfg.Client.JoinToken = "join-token"
	config.SetForTesting(cfg)

	s := NewEventSender(poster)
	var slept []time.Duration
	s.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return s, &slept
}

func testRecord() event.WireRecord {
	items := []event.WireItem{{
		ID:   "id-1",
		Data: event.NewAt("meetingStartSucceeded", time.UnixMilli(1700000000000), event.NewAttributes(event.AttrMeetingID, event.String("m1"))),
	}}
	conv := event.WireConverter{Type: "Meet", CorrelationKey: event.AttrMeetingID, MetadataKeys: []string{event.AttrMeetingID}}
	return conv.ToWireBatch(items)
}

func TestSendSuccessSetsHeaders(t *testing.T) {
	poster := &scriptedPoster{}
	s, slept := setupSender(t, poster)

	ok := s.Send(context.Background(), testRecord())

	require.True(t, ok)
	require.Len(t, poster.calls, 1)
	call := poster.calls[0]
	assert.Equal(t, "https://collector.example.com/events", call.url)
	assert.Equal(t, "Bearer join-token", call.headers[HeaderAuthorization])
	assert.Equal(t, "application/json", call.headers[HeaderContentType])
	assert.Contains(t, call.headers[HeaderUserAgent], "meeting-telemetry-go/0.1.0")
	assert.Len(t, call.headers[HeaderRequestID], 36)
	assert.Empty(t, *slept)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(call.body, &decoded))
	assert.Contains(t, decoded, "events")
}

func TestSendEmptyRecordSkipsNetwork(t *testing.T) {
	poster := &scriptedPoster{}
	s, _ := setupSender(t, poster)

	assert.True(t, s.Send(context.Background(), event.WireRecord{}))
	assert.Empty(t, poster.calls)
}

func TestSendRetriesRetryableStatus(t *testing.T) {
	poster := &scriptedPoster{results: []error{
		&HTTPError{Code: 503},
		&HTTPError{Code: 429},
		nil,
	}}
	s, slept := setupSender(t, poster)

	ok := s.Send(context.Background(), testRecord())

	assert.True(t, ok)
	require.Len(t, poster.calls, 3)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, 500 * time.Millisecond}, *slept)
	// one request id across all attempts
	assert.Equal(t, poster.calls[0].headers[HeaderRequestID], poster.calls[2].headers[HeaderRequestID])
}

func TestSendGivesUpAfterRetryLimit(t *testing.T) {
	poster := &scriptedPoster{results: []error{&HTTPError{Code: 500}}}
	s, _ := setupSender(t, poster)

	ok := s.Send(context.Background(), testRecord())

	assert.False(t, ok)
	// initial attempt plus RetryCountLimit (2) retries
	assert.Len(t, poster.calls, 3)
}

func TestSendZeroRetryLimit(t *testing.T) {
	poster := &scriptedPoster{results: []error{&HTTPError{Code: 500}}}
	s, _ := setupSender(t, poster)
	s.maxRetry = 0

	assert.False(t, s.Send(context.Background(), testRecord()))
	assert.Len(t, poster.calls, 1)
}

func TestNewEventSenderClampsRetryLimit(t *testing.T) {
	cfg := config.Default()
	cfg.Ingestion.URL = "https://collector.example.com/events"
	cfg.Ingestion.RetryCountLimit = 50
	cfg.Ingestion.RetryBaseDelay = -time.Second
	config.SetForTesting(cfg)

	poster := &scriptedPoster{results: []error{&HTTPError{Code: 503}}}
	s := NewEventSender(poster)
	var slept []time.Duration
	s.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	assert.False(t, s.Send(context.Background(), testRecord()))
	assert.Len(t, poster.calls, config.RetryCountMax+1)
	for _, d := range slept {
		assert.Zero(t, d)
	}
}

func TestSendNonRetryableStatus(t *testing.T) {
	poster := &scriptedPoster{results: []error{&HTTPError{Code: 400}}}
	s, _ := setupSender(t, poster)

	assert.False(t, s.Send(context.Background(), testRecord()))
	assert.Len(t, poster.calls, 1)
}

func TestSendTransportErrorNotRetried(t *testing.T) {
	poster := &scriptedPoster{results: []error{errors.New("dial tcp: connection refused")}}
	s, _ := setupSender(t, poster)

	assert.False(t, s.Send(context.Background(), testRecord()))
	assert.Len(t, poster.calls, 1)
}

func TestSendCancelledDuringBackoff(t *testing.T) {
	poster := &scriptedPoster{results: []error{&HTTPError{Code: 503}}}
	s, _ := setupSender(t, poster)
	s.sleep = sleepContext
	s.baseDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, s.Send(ctx, testRecord()))
	assert.Len(t, poster.calls, 1)
}

func TestBackoffPolicy(t *testing.T) {
	p := NewBackoffPolicy(250*time.Millisecond, 2, DefaultRetryableCodes)

	assert.True(t, p.IsRetryable(408))
	assert.True(t, p.IsRetryable(504))
	assert.False(t, p.IsRetryable(400))
	assert.False(t, p.IsRetryable(501))

	for i := 0; i < 3; i++ {
		assert.False(t, p.LimitReached())
		assert.Equal(t, 250*time.Millisecond, p.NextDelay(), "delay stays constant")
		p.Increment()
	}
	assert.True(t, p.LimitReached())
	assert.Equal(t, 3, p.Count())

	all := NewBackoffPolicy(0, 0, nil)
	assert.True(t, all.IsRetryable(418), "empty set retries everything")
}

func TestHTTPPoster(t *testing.T) {
	var gotAuth, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get(HeaderAuthorization)
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		if r.URL.Path == "/busy" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	poster := NewHTTPPoster(5 * time.Second)

	resp, err := poster.Post(context.Background(), srv.URL+"/events", []byte(`{"a":1}`), map[string]string{HeaderAuthorization: "Bearer t"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "ok", string(resp.Body))
	assert.Equal(t, "Bearer t", gotAuth)
	assert.Equal(t, `{"a":1}`, gotBody)

	resp, err = poster.Post(context.Background(), srv.URL+"/busy", nil, nil)
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.Code)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHTTPPosterTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPPoster(time.Second).Post(context.Background(), url, nil, nil)
	require.Error(t, err)
	var httpErr *HTTPError
	assert.False(t, errors.As(err, &httpErr))
}
