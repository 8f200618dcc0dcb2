package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/olundqvist/mexc-ingest/internal/sign"
)

// APIError represents an error response from the exchange.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mexc api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true if the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// IsAuth returns true for signature or credential rejections.
func (e *APIError) IsAuth() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// IsRateLimit returns true when the exchange throttled the request.
func (e *APIError) IsRateLimit() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsAuthError reports whether err is an exchange credential rejection.
func IsAuthError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsAuth()
}

// IsRateLimitError reports whether err is an exchange throttle response.
func IsRateLimitError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsRateLimit()
}

// doRequest performs a GET against path with the given raw query
// string. The query is passed pre-encoded because signed endpoints
// require the exact serialization that was signed.
func (c *Client) doRequest(ctx context.Context, path, rawQuery string, signed bool) ([]byte, error) {
	fullURL := c.baseURL + path
	if rawQuery != "" {
		fullURL += "?" + rawQuery
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if signed {
		req.Header.Set("X-MEXC-APIKEY", c.creds.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       body,
		}
	}

	return body, nil
}

// doWithRetry performs a request with exponential backoff retry.
// buildQuery is invoked per attempt so signed queries carry a fresh
// timestamp on every retry.
func (c *Client) doWithRetry(ctx context.Context, path string, buildQuery func() string, signed bool) ([]byte, error) {
	var lastErr error
	backoff := c.retryBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// Add jitter: backoff * (0.5 to 1.5)
			jitter := backoff/2 + time.Duration(rand.Int63n(int64(backoff)))
			c.logger.Debug("retrying request",
				"attempt", attempt,
				"backoff", jitter,
				"path", path,
			)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(jitter):
			}

			backoff *= 2
		}

		body, err := c.doRequest(ctx, path, buildQuery(), signed)
		if err == nil {
			return body, nil
		}

		lastErr = err

		apiErr, ok := err.(*APIError)
		if !ok || !apiErr.IsRetryable() {
			return nil, err
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// get performs a public GET request with retries.
func (c *Client) get(ctx context.Context, path string, params []sign.Param, result any) error {
	rawQuery := sign.CanonicalQuery(params, sign.CallOrder)

	body, err := c.doWithRetry(ctx, path, func() string { return rawQuery }, false)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	return nil
}

// getSigned performs an authenticated GET. The millisecond timestamp
// and validity window are appended, the canonical query is signed with
// the given ordering, and the signature rides as the final query
// parameter. The query is rebuilt per retry attempt so the timestamp
// stays inside the validity window.
func (c *Client) getSigned(ctx context.Context, path string, params []sign.Param, ordering sign.Ordering, result any) error {
	if c.creds == nil {
		return errors.New("signed request without credentials")
	}

	buildQuery := func() string {
		signedParams := make([]sign.Param, 0, len(params)+2)
		signedParams = append(signedParams, params...)
		signedParams = append(signedParams,
			sign.Param{Key: "recvWindow", Value: strconv.FormatInt(c.recvWindow.Milliseconds(), 10)},
			sign.Param{Key: "timestamp", Value: strconv.FormatInt(time.Now().UnixMilli(), 10)},
		)
		return sign.CanonicalQuery(signedParams, ordering) +
			"&signature=" + c.creds.Sign(signedParams, ordering)
	}

	body, err := c.doWithRetry(ctx, path, buildQuery, true)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	return nil
}
