package scanner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/bulwarkai/bulwark/pkg/httputil"
)

// RemoteScanner calls an external detection service over HTTP. Remote calls
// carry an explicit bounded retry policy and a circuit breaker, so a sick
// upstream degrades to a failed scanner instead of stacking latency onto
// every request.
type RemoteScanner struct {
	id      string
	url     string
	client  *http.Client
	retry   httputil.RetryPolicy
	breaker *httputil.Breaker
}

// RemoteConfig configures one remote detection endpoint.
type RemoteConfig struct {
	// ID names the scanner in results and failure lists.
	ID string

	// URL is the endpoint; the request is a JSON POST.
	URL string

	// Retry bounds attempts against the endpoint. Zero value uses the
	// default policy.
	Retry httputil.RetryPolicy

	// BreakerThreshold and BreakerCooldown tune the circuit breaker; zero
	// values use the breaker defaults.
	BreakerThreshold int
	BreakerCooldown  int // seconds
}

// remoteRequest / remoteResponse is the wire contract with the detection
// service.
type remoteRequest struct {
	Text string `json:"text"`
}

type remoteResponse struct {
	Score    float64 `json:"score"`
	Detected bool    `json:"detected"`
	Evidence string  `json:"evidence"`
}

// NewRemoteScanner creates the scanner. The shared pooled client is used so
// concurrent evaluations reuse connections.
func NewRemoteScanner(cfg RemoteConfig) (*RemoteScanner, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("remote scanner needs an id")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("remote scanner %q needs a url", cfg.ID)
	}
	retry := cfg.Retry
	if retry.MaxAttempts == 0 {
		retry = httputil.DefaultRetryPolicy()
	}
	return &RemoteScanner{
		id:      cfg.ID,
		url:     cfg.URL,
		client:  httputil.FastClient(),
		retry:   retry,
		breaker: httputil.NewBreaker(cfg.BreakerThreshold, secondsToDuration(cfg.BreakerCooldown)),
	}, nil
}

func (s *RemoteScanner) ID() string { return s.id }

// Scan implements Scanner.
func (s *RemoteScanner) Scan(ctx context.Context, text string) (float64, bool, string, error) {
	if err := s.breaker.Allow(); err != nil {
		return 0, false, "", fmt.Errorf("scanner %s: %w", s.id, err)
	}

	payload, err := json.Marshal(remoteRequest{Text: text})
	if err != nil {
		return 0, false, "", err
	}

	var out remoteResponse
	err = s.retry.Do(ctx, func() error {
		return s.post(ctx, payload, &out)
	})
	if err != nil {
		s.breaker.Failure()
		return 0, false, "", err
	}
	s.breaker.Success()

	if out.Score < 0 || out.Score > 1 {
		return 0, false, "", fmt.Errorf("remote score %v out of [0,1]", out.Score)
	}
	return out.Score, out.Detected, out.Evidence, nil
}

func (s *RemoteScanner) post(ctx context.Context, payload []byte, out *remoteResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer httputil.DrainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		body, _ := httputil.ReadErrorBody(resp.Body)
		return fmt.Errorf("remote returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	body, err := httputil.ReadResponseBody(resp.Body, httputil.MaxResponseSize)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

func secondsToDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}
