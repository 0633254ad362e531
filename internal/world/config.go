package world

import (
	"strings"
	"time"

	"github.com/smallbiznis/pantheon/internal/config"
)

// Config controls the checkpoint schedule.
type Config struct {
	// Spec is a robfig/cron spec, e.g. "@every 5m" or "*/10 * * * *".
	Spec       string
	JobTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Spec:       "@every 5m",
		JobTimeout: 30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if strings.TrimSpace(c.Spec) == "" {
		c.Spec = defaults.Spec
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}

func ProvideConfig(cfg config.Config) Config {
	return Config{Spec: cfg.CheckpointSpec}.withDefaults()
}
