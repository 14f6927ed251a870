package request

import "time"

// Config governs how a Tracker retries and gives up.
type Config struct {
	// RetryInterval is the minimum time between two attempts for the same
	// identifier, and the period of the background sweep.
	RetryInterval time.Duration `mapstructure:"retry-interval"`

	// RetryCeiling is the number of attempts after which an identifier is
	// abandoned.
	RetryCeiling int `mapstructure:"retry-ceiling"`

	// Fanout is the number of peers asked per attempt.
	Fanout int `mapstructure:"fanout"`

	// RequestTimeout bounds the total time an identifier stays pending.
	RequestTimeout time.Duration `mapstructure:"request-timeout"`

	// IterationBudget is the number of entries a sweep processes before
	// yielding to the scheduler.
	IterationBudget int `mapstructure:"iteration-budget"`
}

// DefaultConfig returns the values used by a node started without
// overrides.
func DefaultConfig() Config {
	return Config{
		RetryInterval:   5 * time.Second,
		RetryCeiling:    5,
		Fanout:          1,
		RequestTimeout:  time.Minute,
		IterationBudget: 512,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.RetryInterval <= 0 {
		c.RetryInterval = def.RetryInterval
	}
	if c.RetryCeiling <= 0 {
		c.RetryCeiling = def.RetryCeiling
	}
	if c.Fanout <= 0 {
		c.Fanout = def.Fanout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.IterationBudget <= 0 {
		c.IterationBudget = def.IterationBudget
	}
	return c
}
