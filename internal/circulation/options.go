package circulation

import (
	"time"

	"go.uber.org/zap"

	"circulation/internal/models"
)

// Option configures a circulation component
type Option func(*options)

type options struct {
	logger         *zap.Logger
	now            func() time.Time
	loanPeriodDays int
}

func buildOptions(opts []Option) options {
	o := options{
		logger:         zap.NewNop(),
		now:            time.Now,
		loanPeriodDays: models.DefaultLoanPeriodDays,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger used for warnings and audit messages
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock replaces time.Now, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLoanPeriod sets the loan period used when Borrow is called with zero days
func WithLoanPeriod(days int) Option {
	return func(o *options) {
		if days > 0 {
			o.loanPeriodDays = days
		}
	}
}

// timestamp returns the current time at the precision every store can round-trip
func (o options) timestamp() time.Time {
	return o.now().UTC().Truncate(time.Millisecond)
}
