package chathub

import (
	"blabberbox/backend/internal/config"
	"time"
)

// Options tunes the presence and matchmaking protocol.
type Options struct {
	HeartbeatInterval    time.Duration
	PartnerTimeout       time.Duration
	LivenessPollInterval time.Duration
	// MatchFreshness skips waiting candidates silent for longer than this; 0 disables it.
	MatchFreshness  time.Duration
	MaxPairAttempts int
	LeaveTimeout    time.Duration
	Now             func() time.Time
}

// DefaultOptions returns the reference protocol values.
func DefaultOptions() Options {
	return Options{
		HeartbeatInterval:    config.HeartbeatInterval,
		PartnerTimeout:       config.PartnerTimeout,
		LivenessPollInterval: config.LivenessPollInterval,
		MaxPairAttempts:      config.MaxPairAttempts,
		LeaveTimeout:         config.LeaveTimeout,
		Now:                  time.Now,
	}
}

// OptionsFromConfig applies the loaded configuration over the defaults.
func OptionsFromConfig(cfg config.Config) Options {
	opts := DefaultOptions()
	if cfg.HeartbeatInterval > 0 {
		opts.HeartbeatInterval = cfg.HeartbeatInterval
	}
	if cfg.PartnerTimeout > 0 {
		opts.PartnerTimeout = cfg.PartnerTimeout
	}
	if cfg.LivenessPollInterval > 0 {
		opts.LivenessPollInterval = cfg.LivenessPollInterval
	}
	if cfg.MaxPairAttempts > 0 {
		opts.MaxPairAttempts = cfg.MaxPairAttempts
	}
	opts.MatchFreshness = cfg.MatchFreshness
	return opts
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = d.HeartbeatInterval
	}
	if o.PartnerTimeout <= 0 {
		o.PartnerTimeout = d.PartnerTimeout
	}
	if o.LivenessPollInterval <= 0 {
		o.LivenessPollInterval = d.LivenessPollInterval
	}
	if o.MaxPairAttempts <= 0 {
		o.MaxPairAttempts = d.MaxPairAttempts
	}
	if o.LeaveTimeout <= 0 {
		o.LeaveTimeout = d.LeaveTimeout
	}
	if o.Now == nil {
		o.Now = d.Now
	}
	return o
}
