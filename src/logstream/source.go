package logstream

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"buildops/src/transient"
)

// ConnectTimeout bounds connection establishment for log streams. The same
// value is used as the idle-read timeout: a stream that stays silent for this
// long is treated as failed and becomes eligible for the retry policy.
const ConnectTimeout = 30 * time.Second

// retryableStatus is the fixed set of HTTP status codes that mark a stream
// open as retryable.
var retryableStatus = map[int]bool{
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// LogSource opens the raw line-delimited byte stream for a target service.
// Credential resolution belongs to the implementation.
type LogSource interface {
	Open(ctx context.Context, target string) (io.ReadCloser, error)
}

// HTTPLogSource streams service logs over HTTP with bearer-token auth.
type HTTPLogSource struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPLogSource(baseURL, token string) *HTTPLogSource {
	return &HTTPLogSource{
		baseURL: baseURL,
		token:   token,
		client: &http.Client{
			Transport: &http.Transport{
				DialContext:           (&net.Dialer{Timeout: ConnectTimeout}).DialContext,
				ResponseHeaderTimeout: ConnectTimeout,
			},
		},
	}
}

// Open connects to the target service's log endpoint. Connection-level
// failures and the retryable status codes come back tagged transient;
// anything else (bad auth, unknown service) is final.
func (s *HTTPLogSource) Open(ctx context.Context, target string) (io.ReadCloser, error) {
	endpoint := fmt.Sprintf("%s/services/%s/logs?follow=true", s.baseURL, url.PathEscape(target))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, transient.Wrap(fmt.Errorf("failed to open log stream: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		err := fmt.Errorf("log stream for %s returned status %d", target, resp.StatusCode)
		if retryableStatus[resp.StatusCode] {
			return nil, transient.Wrap(err)
		}
		return nil, err
	}
	return resp.Body, nil
}
