package reservation

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seat-reservations/internal/domain"
	"github.com/robertarktes/seat-reservations/internal/observability"
)

func retryable(err error) bool {
	return errors.Is(err, domain.ErrTransient) || errors.Is(err, domain.ErrDuplicateBookingNumber)
}

// withRetry runs fn and retries it with exponential backoff while it fails
// with a transient error. Business errors are returned on first sight.
// Exhausted retries come back marked domain.ErrTransient.
func (s settings) withRetry(ctx context.Context, op string, logger observability.Logger, fn func() error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = s.retryInitial
	exp.MaxInterval = 20 * s.retryInitial
	exp.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, s.retries), ctx)

	err := backoff.RetryNotify(func() error {
		err := fn()
		if err == nil || retryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, policy, func(err error, wait time.Duration) {
		observability.TxRetries.WithLabelValues(op).Inc()
		logger.WithError(err).WithField("operation", op).WithField("wait", wait.String()).Debug("retrying transient failure")
	})
	if err != nil && retryable(err) && !errors.Is(err, domain.ErrTransient) {
		err = errors.Mark(err, domain.ErrTransient)
	}
	return err
}
