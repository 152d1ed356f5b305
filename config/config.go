// Package config defines the validated configuration surface the
// transport is constructed from. It parses nothing — flags, env vars
// and files are the caller's responsibility — it only gives the fields
// validation tags and a Validate method.
package config

import (
	"time"

	"github.com/go-playground/validator/v10"
	amqp "github.com/rabbitmq/amqp091-go"
)

// RecoveryPolicy configures one of the two named backoff policies
// ("private" or "consumed") a caller can override.
type RecoveryPolicy struct {
	Min    time.Duration `validate:"omitempty,gt=0"`
	Max    time.Duration `validate:"omitempty,gtefield=Min"`
	Factor float64       `validate:"omitempty,gt=0"`
}

// RecoveryConfig holds the overridable per-policy backoff parameters.
type RecoveryConfig struct {
	Private  RecoveryPolicy
	Consumed RecoveryPolicy
}

// DLXConfig configures the dead-letter demotion path for private reply
// queues and routed consumers.
type DLXConfig struct {
	Enabled bool
	Params  amqp.Table
}

// QueueOpts holds the amqp queue-declare argument table applied when
// the transport declares a queue on the caller's behalf.
type QueueOpts struct {
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	Arguments  amqp.Table
}

// Config is the full, validated configuration a Transport is built
// from. Validate fills zero-value ExchangeType, Timeout and
// CacheCapacity with their defaults ("topic", 30s, 1024) and rejects
// anything structurally wrong before any I/O is attempted.
type Config struct {
	Name    string `validate:"required"`
	Version string `validate:"omitempty"`

	Connection string `validate:"required,uri"`

	Exchange     string     `validate:"required"`
	ExchangeType string     `validate:"omitempty,oneof=direct topic fanout headers"`
	ExchangeArgs amqp.Table `validate:"-"`

	HeadersExchange                   string `validate:"omitempty"`
	BindPersistentQueueToHeadersExchange bool

	DefaultQueueOpts QueueOpts
	PrivateQueueOpts QueueOpts

	Timeout time.Duration `validate:"omitempty,gt=0"`

	CacheCapacity int           `validate:"omitempty,gte=0"`
	CacheTTL      time.Duration `validate:"omitempty,gte=0"`

	Recovery RecoveryConfig

	DLX DLXConfig
}

var validate = validator.New()

// Validate checks the structural validity of c and fills in documented
// defaults for the zero-value fields that have one.
func (c *Config) Validate() error {
	c.applyDefaults()
	return validate.Struct(c)
}

func (c *Config) applyDefaults() {
	if c.ExchangeType == "" {
		c.ExchangeType = "topic"
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.CacheCapacity == 0 {
		c.CacheCapacity = 1024
	}
}
