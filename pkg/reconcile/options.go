package reconcile

import (
	"time"

	"github.com/agentstation/utc"
	"github.com/rs/zerolog"

	"github.com/agentstation/teleporter/pkg/errors"
)

// Clock supplies timestamps for state transitions; a seam for tests.
type Clock func() utc.Time

// options configures an Engine.
type options struct {
	concurrency int
	timeout     time.Duration
	retries     int
	logger      *zerolog.Logger
	clock       Clock
}

func defaultOptions() *options {
	return &options{
		concurrency: 4,
		timeout:     30 * time.Second,
		retries:     3,
		clock:       utc.Now,
	}
}

// Option is a function that configures an Engine.
type Option func(*options) error

func (o *options) apply(opts ...Option) (*options, error) {
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// newOptions returns engine options with default values.
func newOptions(opts ...Option) (*options, error) {
	return defaultOptions().apply(opts...)
}

// WithConcurrency bounds how many repositories reconcile in parallel.
func WithConcurrency(n int) Option {
	return func(o *options) error {
		if n < 1 {
			return &errors.ValidationError{
				Field:   "concurrency",
				Value:   n,
				Message: "must be at least 1",
			}
		}
		o.concurrency = n
		return nil
	}
}

// WithTimeout bounds a single repository's reconciliation. A timeout is a
// transient failure for that repository only.
func WithTimeout(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return &errors.ValidationError{
				Field:   "timeout",
				Value:   d,
				Message: "must be positive",
			}
		}
		o.timeout = d
		return nil
	}
}

// WithRetries bounds the reload-reclassify loop used when a conditional
// state write loses to a concurrent update.
func WithRetries(n int) Option {
	return func(o *options) error {
		if n < 1 {
			return &errors.ValidationError{
				Field:   "retries",
				Value:   n,
				Message: "must be at least 1",
			}
		}
		o.retries = n
		return nil
	}
}

// WithLogger sets the engine's logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(o *options) error {
		o.logger = logger
		return nil
	}
}

// WithClock sets the timestamp source for state transitions.
func WithClock(clock Clock) Option {
	return func(o *options) error {
		if clock == nil {
			return &errors.ValidationError{
				Field:   "clock",
				Message: "cannot be nil",
			}
		}
		o.clock = clock
		return nil
	}
}
