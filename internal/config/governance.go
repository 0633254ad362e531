package config

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// GovernanceConfig carries the tunable limits of the religion and civilization rules.
type GovernanceConfig struct {
	InviteWindowHours         int     `mapstructure:"inviteWindowHours"`
	CivilizationNameMinLength int     `mapstructure:"civilizationNameMinLength"`
	CivilizationNameMaxLength int     `mapstructure:"civilizationNameMaxLength"`
	CivilizationMaxReligions  int     `mapstructure:"civilizationMaxReligions"`
	CivilizationMinReligions  int     `mapstructure:"civilizationMinReligions"`
	PrestigeRankThresholds    []int64 `mapstructure:"prestigeRankThresholds"`
}

func DefaultGovernanceConfig() GovernanceConfig {
	return GovernanceConfig{
		InviteWindowHours:         7 * 24,
		CivilizationNameMinLength: 3,
		CivilizationNameMaxLength: 32,
		CivilizationMaxReligions:  4,
		CivilizationMinReligions:  2,
		PrestigeRankThresholds:    []int64{500, 2000, 5000, 10000},
	}
}

func (c GovernanceConfig) InviteWindow() time.Duration {
	return time.Duration(c.InviteWindowHours) * time.Hour
}

type GovernanceHolder struct {
	current atomic.Value // holds GovernanceConfig

	mu        sync.Mutex
	listeners []func(GovernanceConfig)
}

// NewStaticGovernanceHolder returns a holder that never reloads.
func NewStaticGovernanceHolder(cfg GovernanceConfig) (*GovernanceHolder, error) {
	if err := validateGovernanceConfig(cfg); err != nil {
		return nil, err
	}
	holder := &GovernanceHolder{}
	holder.current.Store(cfg)
	return holder, nil
}

// NewGovernanceHolder reads governance.yml and keeps watching it.
func NewGovernanceHolder(cfg Config, log *zap.Logger) (*GovernanceHolder, error) {
	if !cfg.GovernanceEnabled {
		return NewStaticGovernanceHolder(DefaultGovernanceConfig())
	}
	log = log.Named("governance.config")

	v := viper.New()

	v.SetConfigName("governance")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/pantheon/config")
	v.AddConfigPath("/etc/pantheon")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PANTHEON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultGovernanceConfig()
	v.SetDefault("governance.inviteWindowHours", defaults.InviteWindowHours)
	v.SetDefault("governance.civilizationNameMinLength", defaults.CivilizationNameMinLength)
	v.SetDefault("governance.civilizationNameMaxLength", defaults.CivilizationNameMaxLength)
	v.SetDefault("governance.civilizationMaxReligions", defaults.CivilizationMaxReligions)
	v.SetDefault("governance.civilizationMinReligions", defaults.CivilizationMinReligions)
	v.SetDefault("governance.prestigeRankThresholds", defaults.PrestigeRankThresholds)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	var loaded GovernanceConfig
	if err := v.UnmarshalKey("governance", &loaded); err != nil {
		return nil, err
	}
	holder, err := NewStaticGovernanceHolder(loaded)
	if err != nil {
		return nil, err
	}
	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated GovernanceConfig
		if err := v.UnmarshalKey("governance", &updated); err != nil {
			log.Warn("reload failed", zap.Error(err))
			return
		}
		if err := holder.Set(updated); err != nil {
			log.Warn("invalid config ignored", zap.Error(err))
			return
		}
		log.Info("reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

// Get returns the active config. A nil holder yields the defaults.
func (h *GovernanceHolder) Get() GovernanceConfig {
	if h == nil {
		return DefaultGovernanceConfig()
	}
	return h.current.Load().(GovernanceConfig)
}

// Set validates and swaps the active config, then notifies subscribers.
func (h *GovernanceHolder) Set(cfg GovernanceConfig) error {
	if err := validateGovernanceConfig(cfg); err != nil {
		return err
	}
	h.current.Store(cfg)

	h.mu.Lock()
	listeners := append([]func(GovernanceConfig){}, h.listeners...)
	h.mu.Unlock()
	for _, fn := range listeners {
		fn(cfg)
	}
	return nil
}

// Subscribe registers fn for future changes and calls it once with the current config.
func (h *GovernanceHolder) Subscribe(fn func(GovernanceConfig)) {
	if h == nil || fn == nil {
		return
	}
	h.mu.Lock()
	h.listeners = append(h.listeners, fn)
	h.mu.Unlock()
	fn(h.Get())
}

func validateGovernanceConfig(cfg GovernanceConfig) error {
	if cfg.InviteWindowHours <= 0 {
		return errors.New("governance.inviteWindowHours must be positive")
	}
	if cfg.CivilizationNameMinLength <= 0 || cfg.CivilizationNameMaxLength < cfg.CivilizationNameMinLength {
		return errors.New("governance.civilizationName length bounds are invalid")
	}
	if cfg.CivilizationMaxReligions < 1 {
		return errors.New("governance.civilizationMaxReligions must be at least 1")
	}
	if cfg.CivilizationMinReligions < 1 || cfg.CivilizationMinReligions > cfg.CivilizationMaxReligions {
		return errors.New("governance.civilizationMinReligions must be within [1, max]")
	}
	for i := 1; i < len(cfg.PrestigeRankThresholds); i++ {
		if cfg.PrestigeRankThresholds[i] <= cfg.PrestigeRankThresholds[i-1] {
			return errors.New("governance.prestigeRankThresholds must be ascending")
		}
	}
	return nil
}
