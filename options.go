package batchz

import (
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// Option customizes an engine at construction time.
type Option func(*options)

type options struct {
	clock  Clock
	logger zerolog.Logger
	newID  func() string
	name   string
}

func defaultOptions() options {
	return options{
		clock:  RealClock,
		logger: zerolog.Nop(),
		newID:  newBatchID,
		name:   "batchz",
	}
}

// WithClock sets the clock used for the flush timer and outcome timing.
// Use clockz.NewFakeClock() in tests.
func WithClock(clock Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger sets the logger. The engine adds component and engine fields.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithName sets a custom name for the engine (for logging and errors).
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// WithIDGenerator replaces the batch ID generator.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) {
		if fn != nil {
			o.newID = fn
		}
	}
}

func newBatchID() string {
	return ulid.Make().String()
}
