package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// applyEnv overlays secrets from the environment. Unset variables keep the
// file values.
func applyEnv(cfg *Config) error {
	if err := env.Parse(&cfg.Telegram); err != nil {
		return fmt.Errorf("env telegram: %w", err)
	}
	if err := env.Parse(&cfg.Leaderboard); err != nil {
		return fmt.Errorf("env leaderboard: %w", err)
	}
	return nil
}
