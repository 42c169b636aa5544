package github

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	gogithub "github.com/google/go-github/v60/github"
)

// ErrNotFound is returned when a user or repository does not exist
var ErrNotFound = errors.New("not found")

// ProviderError is a failed call to GitHub: a non-success response,
// an exhausted rate limit, or a timeout
type ProviderError struct {
	Op          string
	StatusCode  int
	RateLimited bool
	Timeout     bool
	ResetAt     time.Time
	Err         error
}

func (e *ProviderError) Error() string {
	switch {
	case e.RateLimited:
		return fmt.Sprintf("github %s: rate limited: %v", e.Op, e.Err)
	case e.Timeout:
		return fmt.Sprintf("github %s: timed out: %v", e.Op, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("github %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("github %s: %v", e.Op, e.Err)
	}
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsProviderError reports whether err is (or wraps) a ProviderError
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// wrapError classifies an error returned by go-github or the HTTP client.
// Cancellation of the caller's context is passed through unchanged.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var (
		rateErr  *gogithub.RateLimitError
		abuseErr *gogithub.AbuseRateLimitError
		respErr  *gogithub.ErrorResponse
		netErr   net.Error
	)

	switch {
	case errors.As(err, &rateErr):
		return &ProviderError{
			Op:          op,
			StatusCode:  statusOf(rateErr.Response),
			RateLimited: true,
			ResetAt:     rateErr.Rate.Reset.Time,
			Err:         err,
		}
	case errors.As(err, &abuseErr):
		pe := &ProviderError{Op: op, StatusCode: statusOf(abuseErr.Response), RateLimited: true, Err: err}
		if abuseErr.RetryAfter != nil {
			pe.ResetAt = time.Now().Add(*abuseErr.RetryAfter)
		}
		return pe
	case errors.As(err, &respErr):
		return &ProviderError{Op: op, StatusCode: statusOf(respErr.Response), Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &ProviderError{Op: op, Timeout: true, Err: err}
	case errors.As(err, &netErr) && netErr.Timeout():
		return &ProviderError{Op: op, Timeout: true, Err: err}
	default:
		return &ProviderError{Op: op, Err: err}
	}
}

// lookupError is wrapError for user and repository lookups, where a 404
// means the entity does not exist
func lookupError(op string, err error) error {
	var respErr *gogithub.ErrorResponse
	if errors.As(err, &respErr) && statusOf(respErr.Response) == http.StatusNotFound {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return wrapError(op, err)
}

func statusOf(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}
