package reservation

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seat-reservations/internal/domain"
	"github.com/robertarktes/seat-reservations/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithRetry(t *testing.T) {
	s := newSettings([]Option{WithRetries(3, time.Millisecond)})
	logger := observability.NewNopLogger()

	t.Run("transient then success", func(t *testing.T) {
		calls := 0
		err := s.withRetry(t.Context(), "test", logger, func() error {
			calls++
			if calls < 3 {
				return errors.Mark(errors.New("restart transaction"), domain.ErrTransient)
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("business error is not retried", func(t *testing.T) {
		calls := 0
		err := s.withRetry(t.Context(), "test", logger, func() error {
			calls++
			return domain.ErrSeatUnavailable
		})
		require.ErrorIs(t, err, domain.ErrSeatUnavailable)
		assert.Equal(t, 1, calls)
	})

	t.Run("exhausted", func(t *testing.T) {
		calls := 0
		err := s.withRetry(t.Context(), "test", logger, func() error {
			calls++
			return errors.Mark(errors.New("number taken"), domain.ErrDuplicateBookingNumber)
		})
		require.ErrorIs(t, err, domain.ErrTransient)
		assert.Equal(t, 4, calls)
	})
}
