package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"aocbot/internal/task/scheduler"
)

// Validate checks a decoded config. It is run on every load and reload, so
// a bad edit never replaces a running config.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	check := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		check(errors.New("telegram.token is required (or set AOCBOT_TELEGRAM_TOKEN)"))
	}
	if g := strings.TrimSpace(cfg.Telegram.GroupLog); g != "" {
		if _, err := strconv.ParseInt(g, 10, 64); err != nil {
			check(fmt.Errorf("telegram.group_log: invalid chat id %q", g))
		}
	}
	if strings.TrimSpace(cfg.Leaderboard.ID) == "" {
		check(errors.New("leaderboard.id is required"))
	}
	if strings.TrimSpace(cfg.Leaderboard.Session) == "" {
		check(errors.New("leaderboard.session is required (or set AOCBOT_AOC_SESSION)"))
	}

	for path, raw := range map[string]string{
		"telegram.poll_timeout":    cfg.Telegram.PollTimeout,
		"storage.busy_timeout":     cfg.Storage.BusyTimeout,
		"leaderboard.timeout":      cfg.Leaderboard.Timeout,
		"leaderboard.min_interval": cfg.Leaderboard.MinInterval,
		"scheduler.timeout":        cfg.Scheduler.Timeout,
		"reconcile.invite_ttl":     cfg.Reconcile.InviteTTL,
		"reconcile.lock_ttl":       cfg.Reconcile.LockTTL,
		"reconcile.sync_timeout":   cfg.Reconcile.SyncTimeout,
	} {
		_, err := ParseDurationField(path, raw)
		check(err)
	}

	switch d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); d {
	case "", "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			check(errors.New("storage.path is required for the sqlite driver"))
		}
	case "memory":
	default:
		check(fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	if cfg.Storage.BatchSize < 0 {
		check(errors.New("storage.batch_size must be >= 0"))
	}

	if cfg.Scheduler.Enabled {
		if _, err := scheduler.ParseSchedule(cfg.Scheduler.Spec); err != nil {
			check(fmt.Errorf("scheduler.spec: %w", err))
		}
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			check(fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err))
		}
	}

	if cfg.Reconcile.Workers < 0 {
		check(errors.New("reconcile.workers must be >= 0"))
	}
	for _, y := range cfg.Reconcile.Years {
		if y < 2015 {
			check(fmt.Errorf("reconcile.years: %d is not an Advent of Code year", y))
		}
	}
	return errors.Join(errs...)
}
