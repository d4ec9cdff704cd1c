package batchz

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultQueueCapacity is the input queue size used by NewConfig.
	DefaultQueueCapacity = 100
	// DefaultBatchSizeLimit is the batch size used by NewConfig.
	DefaultBatchSizeLimit = 50
	// DefaultFlushInterval is the flush interval used by NewConfig.
	DefaultFlushInterval = 50 * time.Millisecond
)

// WriteMode selects what a producer experiences when the input queue is full.
type WriteMode string

const (
	// WriteBlock makes Write wait until the queue has room.
	WriteBlock WriteMode = "block"
	// WriteReject makes Write fail with ErrQueueFull.
	WriteReject WriteMode = "reject"
)

// Config holds the engine tunables. Build one with NewConfig and the With*
// setters; the engine copies it at construction time.
type Config struct {
	// QueueCapacity is the size of the bounded input queue. It should be at
	// least twice BatchSizeLimit to keep producers from stalling while a
	// batch is being flushed. Zero makes the queue unbuffered: every Write
	// hands its item directly to the accumulator.
	QueueCapacity uint32 `yaml:"queue_capacity"`

	// BatchSizeLimit is the maximum number of items per flush. A batch is
	// flushed as soon as it reaches this size.
	BatchSizeLimit uint32 `yaml:"batch_size_limit" validate:"gte=1"`

	// FlushInterval bounds how long a non-empty batch may wait before it is
	// flushed regardless of size.
	FlushInterval time.Duration `yaml:"flush_interval" validate:"gt=0"`

	// WriteMode is the backpressure behavior applied to every producer.
	WriteMode WriteMode `yaml:"write_mode" validate:"oneof=block reject"`
}

// NewConfig returns a Config populated with the default values.
func NewConfig() Config {
	return Config{
		QueueCapacity:  DefaultQueueCapacity,
		BatchSizeLimit: DefaultBatchSizeLimit,
		FlushInterval:  DefaultFlushInterval,
		WriteMode:      WriteBlock,
	}
}

// WithQueueCapacity sets the input queue capacity.
func (c Config) WithQueueCapacity(capacity uint32) Config {
	c.QueueCapacity = capacity
	return c
}

// WithBatchSizeLimit sets the maximum number of items per flush.
func (c Config) WithBatchSizeLimit(limit uint32) Config {
	c.BatchSizeLimit = limit
	return c
}

// WithFlushInterval sets the maximum latency before a forced flush.
func (c Config) WithFlushInterval(interval time.Duration) Config {
	c.FlushInterval = interval
	return c
}

// WithWriteMode sets the backpressure behavior.
func (c Config) WithWriteMode(mode WriteMode) Config {
	c.WriteMode = mode
	return c
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func configValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks the configuration and returns a *ConfigurationError
// describing the first invalid field.
func (c Config) Validate() error {
	err := configValidator().Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return &ConfigurationError{
			Field: fe.Field(),
			Value: fe.Value(),
			Err:   errors.Errorf("failed %q constraint", fe.Tag()),
		}
	}
	return &ConfigurationError{Err: errors.Wrap(err, "validate config")}
}

// Warnings returns soft guidance about values that are accepted but likely
// to hurt throughput.
func (c Config) Warnings() []string {
	var warnings []string
	if uint64(c.QueueCapacity) < 2*uint64(c.BatchSizeLimit) {
		warnings = append(warnings, fmt.Sprintf(
			"queue capacity %d is below twice the batch size limit %d; producers may stall during flushes",
			c.QueueCapacity, c.BatchSizeLimit))
	}
	return warnings
}

// String renders the configuration for logs.
func (c Config) String() string {
	return fmt.Sprintf("queue=%d batch=%d interval=%s mode=%s",
		c.QueueCapacity, c.BatchSizeLimit, c.FlushInterval, c.WriteMode)
}

// ParseConfig decodes YAML on top of the defaults and validates the result.
// Missing keys keep their default values.
func ParseConfig(data []byte) (Config, error) {
	cfg := NewConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, &ConfigurationError{Err: errors.Wrap(err, "parse config")}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &ConfigurationError{Err: errors.Wrapf(err, "read config %s", path)}
	}
	return ParseConfig(data)
}
