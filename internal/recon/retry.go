package recon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// HTTPStatusError is a non-2xx response from an external collaborator,
// kept as a typed error so the retry policy can classify it.
type HTTPStatusError struct {
	Collaborator string
	StatusCode   int
	Body         string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d: %s", e.Collaborator, e.StatusCode, e.Body)
}

// Retryable classifies an external-call failure. Network errors,
// timeouts and 5xx responses are transient; 4xx responses are
// configuration or client problems and retrying them only risks
// duplicate side effects.
func Retryable(err error) bool {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= http.StatusInternalServerError
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// WithRetry runs op under bounded exponential backoff, retrying only
// failures Retryable classifies as transient.
func WithRetry(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxElapsedTime = 10 * time.Second

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, 3), ctx))
}
