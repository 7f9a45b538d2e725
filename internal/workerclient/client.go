// Package workerclient forwards generation requests from the API to the
// font-processing worker over HTTP.
package workerclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

const (
	// AuthHeader carries the shared secret as "Bearer <secret>".
	AuthHeader = "X-Worker-Auth"
	// GeneratePath is the worker route generation requests are posted to.
	GeneratePath = "/worker/generate"

	maxResponseBytes = 1 << 20
)

// ErrUnavailable means the worker could not be reached.
var ErrUnavailable = errors.New("font worker unavailable")

// Response is the worker's answer, relayed to the API caller as is.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Client posts to a single worker base URL.
type Client struct {
	baseURL    string
	secret     string
	httpClient *http.Client
	retries    uint64
	newBackOff func() backoff.BackOff
}

// New returns a client for the worker at baseURL. timeout bounds each attempt.
func New(baseURL, secret string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secret:     secret,
		httpClient: &http.Client{Timeout: timeout},
		retries:    2,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
}

// Forward posts a JSON body to the worker's generate route. Connection failures and
// 502/503 answers are retried a couple of times; any other status is returned as is.
func (c *Client) Forward(ctx context.Context, body []byte) (*Response, error) {
	url := c.baseURL + GeneratePath
	var last *Response

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(AuthHeader, "Bearer "+c.secret)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return err
		}
		last = &Response{StatusCode: resp.StatusCode, ContentType: resp.Header.Get("Content-Type"), Body: data}
		if retryable(resp.StatusCode) {
			return fmt.Errorf("worker answered %d", resp.StatusCode)
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.Warn().Err(err).Dur("retry_in", wait).Str("url", url).Msg("worker call failed; retrying")
	}

	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), c.retries), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		if last != nil && retryable(last.StatusCode) {
			return last, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return last, nil
}

func retryable(status int) bool {
	return status == http.StatusBadGateway || status == http.StatusServiceUnavailable
}
