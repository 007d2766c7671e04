package catchup

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/alpacahq/streamarchive/utils/log"
)

// ErrRetryable is a custom error to retry the logic when returned.
var ErrRetryable = errors.New("retryable catch-up error")

// ErrTimeout is returned when a merge attempt made no progress for too long. It is retried.
var ErrTimeout = errors.New("catch-up timed out")

// ErrMaxAttempts is returned once a Retryer has used up its attempts. The error of the last
// attempt stays reachable through errors.Is and errors.As.
var ErrMaxAttempts = errors.New("catch-up attempts exhausted")

type retryableError struct {
	err error
}

// Retryable marks err as retryable while keeping it matchable.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

func (e *retryableError) Error() string {
	return "retryable: " + e.err.Error()
}

func (e *retryableError) Is(target error) bool {
	return target == ErrRetryable
}

func (e *retryableError) Unwrap() error {
	return e.err
}

type attemptsError struct {
	attempts int
	last     error
}

func (e *attemptsError) Error() string {
	return fmt.Sprintf("%s after %d attempts: %v", ErrMaxAttempts, e.attempts, e.last)
}

func (e *attemptsError) Is(target error) bool {
	return target == ErrMaxAttempts
}

func (e *attemptsError) Unwrap() error {
	return e.last
}

type Retryer struct {
	retryFunc    func(ctx context.Context) error
	interval     time.Duration
	backoffCoeff int
	// maxAttempts <= 0 retries forever
	maxAttempts int
}

func NewRetryer(retryFunc func(ctx context.Context) error, interval time.Duration, backoffCoeff, maxAttempts int,
) *Retryer {
	return &Retryer{
		retryFunc:    retryFunc,
		interval:     interval,
		backoffCoeff: backoffCoeff,
		maxAttempts:  maxAttempts,
	}
}

// Run tries the Retryer until it succeeds, it returns unretriable error, runs out of attempts
// or the context is canceled.
func (r *Retryer) Run(ctx context.Context) error {
	var lastErr error
	cnt := -1
	for {
		cnt++
		if r.maxAttempts > 0 && cnt >= r.maxAttempts {
			return &attemptsError{attempts: cnt, last: lastErr}
		}
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "context canceled")
		}

		err := r.retryFunc(ctx)
		// success
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			// not retryable error, give up.
			log.Warn("caught a non-retryable error: %v", err)
			return err
		}

		// retryable error. continue
		lastErr = err
		interval := retryInterval(r.interval, r.backoffCoeff, cnt)
		log.Warn("caught a retryable error. It will be retried after an interval:%d[ms], err=%v",
			interval.Milliseconds(), err)
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "context canceled")
		case <-time.After(interval):
		}
	}
}

func isRetryable(err error) bool {
	return errors.Is(err, ErrRetryable) || errors.Is(err, ErrTimeout)
}

func retryInterval(interval time.Duration, backoffCoeff, retryCount int) time.Duration {
	coeff := math.Pow(float64(backoffCoeff), float64(retryCount))
	intervalMilliSec := float64(interval.Milliseconds())
	return time.Duration(intervalMilliSec*coeff) * time.Millisecond
}
