package worker

import (
	"errors"
	"fmt"
	"time"
)

// ErrRetryBudgetExhausted is returned by Start when the poll cycle kept failing
// for MaxConsecutiveErrors cycles in a row
var ErrRetryBudgetExhausted = errors.New("retry budget exhausted")

// Retry defaults
const (
	DefaultRetryBaseInterval    = time.Second
	DefaultRetryMaxInterval     = 30 * time.Second
	DefaultMaxConsecutiveErrors = 10
)

// NextDelay returns min(base * 2^attempt, max). attempt starts at zero.
func NextDelay(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 62 || base > max>>uint(attempt) {
		return max
	}
	return base << uint(attempt)
}

// RetryPolicy bounds how long the poll loop tolerates infrastructure failures
type RetryPolicy struct {
	BaseInterval         time.Duration
	MaxInterval          time.Duration
	MaxConsecutiveErrors int
}

// DefaultRetryPolicy returns the policy used when a worker config leaves it unset
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseInterval:         DefaultRetryBaseInterval,
		MaxInterval:          DefaultRetryMaxInterval,
		MaxConsecutiveErrors: DefaultMaxConsecutiveErrors,
	}
}

// NextDelay returns the wait before retry number attempt
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	return NextDelay(attempt, p.BaseInterval, p.MaxInterval)
}

// retryState counts consecutive failed poll cycles
type retryState struct {
	policy      RetryPolicy
	consecutive int
}

// success resets the counter; any cycle that did not fail counts
func (s *retryState) success() {
	s.consecutive = 0
}

// failure records err and returns the delay before the next cycle, or a fatal
// error once the budget is spent
func (s *retryState) failure(err error) (time.Duration, error) {
	s.consecutive++
	if s.consecutive >= s.policy.MaxConsecutiveErrors {
		return 0, fmt.Errorf("%w after %d consecutive errors: %w", ErrRetryBudgetExhausted, s.consecutive, err)
	}
	return s.policy.NextDelay(s.consecutive - 1), nil
}
