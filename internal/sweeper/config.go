package sweeper

import (
	"time"
)

// Config controls one sweep run.
type Config struct {
	MaxBatchSize        int
	InterIterationDelay time.Duration
	LeaseKey            string
	LeaseTTL            time.Duration
	AdminEmailAddress   string
	ReportPrefix        string
}

func DefaultConfig() Config {
	return Config{
		MaxBatchSize:        500,
		InterIterationDelay: time.Second,
		LeaseKey:            "consultly:settlement-sweeper:lease",
		LeaseTTL:            30 * time.Minute,
		ReportPrefix:        "settlement-sweeper",
	}
}

// withDefaults fills unset fields. A zero InterIterationDelay is kept.
func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = defaults.MaxBatchSize
	}
	if c.InterIterationDelay < 0 {
		c.InterIterationDelay = defaults.InterIterationDelay
	}
	if c.LeaseKey == "" {
		c.LeaseKey = defaults.LeaseKey
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = defaults.LeaseTTL
	}
	if c.ReportPrefix == "" {
		c.ReportPrefix = defaults.ReportPrefix
	}
	return c
}
