package cache

import (
	"net/http"
	"strconv"
	"time"
)

// RetryTransport retries transient download failures with exponential
// backoff, honouring Retry-After.
type RetryTransport struct {
	// Base defaults to http.DefaultTransport.
	Base http.RoundTripper

	// OnRetry runs before each retry with the 1-based attempt number.
	OnRetry func(attempt int, wait time.Duration, statusCode int)

	// MaxRetries defaults to 3. Negative disables retries.
	MaxRetries int

	// InitialBackoff defaults to 500ms.
	InitialBackoff time.Duration

	// MaxBackoff defaults to 10s.
	MaxBackoff time.Duration
}

// RoundTrip implements http.RoundTripper.
func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	maxRetries := t.MaxRetries
	switch {
	case maxRetries == 0:
		maxRetries = 3
	case maxRetries < 0:
		maxRetries = 0
	}
	initial := t.InitialBackoff
	if initial == 0 {
		initial = 500 * time.Millisecond
	}
	maxBackoff := t.MaxBackoff
	if maxBackoff == 0 {
		maxBackoff = 10 * time.Second
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		clone := req.Clone(req.Context())
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			clone.Body = body
		}

		resp, err := base.RoundTrip(clone)
		if err == nil && !retryableStatus(resp.StatusCode) {
			return resp, nil
		}
		if attempt == maxRetries {
			if err != nil {
				return nil, err
			}
			return resp, nil
		}

		status := 0
		if err != nil {
			lastErr = err
		} else {
			status = resp.StatusCode
		}
		wait := backoff(attempt, initial, maxBackoff, resp)
		if resp != nil {
			_ = resp.Body.Close()
		}
		if t.OnRetry != nil {
			t.OnRetry(attempt+1, wait, status)
		}

		timer := time.NewTimer(wait)
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}
	}
	return nil, lastErr
}

func backoff(attempt int, initial, maxBackoff time.Duration, resp *http.Response) time.Duration {
	if resp != nil {
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			if seconds, err := strconv.Atoi(retryAfter); err == nil {
				return min(time.Duration(seconds)*time.Second, maxBackoff)
			}
			if at, err := http.ParseTime(retryAfter); err == nil {
				d := time.Until(at)
				if d < 0 {
					return initial
				}
				return min(d, maxBackoff)
			}
		}
	}
	return min(initial*(1<<attempt), maxBackoff)
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
