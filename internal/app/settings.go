package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"aocbot/internal/board"
	"aocbot/internal/config"
	"aocbot/internal/invite"
	"aocbot/internal/leaderboard"
	"aocbot/internal/storage"
	"aocbot/internal/task/scheduler"
	kit "aocbot/internal/transport"
	telegram "aocbot/internal/transport/telegram/adapter"
	"aocbot/internal/transport/telegram/router"
	logx "aocbot/pkg/logx"
)

// Settings is the config translated once into the per-component values the
// app passes by value.
type Settings struct {
	Log         logx.Config
	Telegram    telegram.Config
	Owners      []int64
	AuditTarget kit.ChatTarget
	Storage     storage.Config
	Leaderboard leaderboard.ClientConfig
	Scheduler   scheduler.Config
	PollSpec    string
	PollTimeout time.Duration
	Years       []int
	Invite      invite.Config
	Board       board.Config
	BoardHeader string
	Router      router.Config
	SyncTimeout time.Duration
}

const (
	defaultPollSpec    = "*/15 * * * *"
	defaultPollTimeout = 5 * time.Minute
	defaultSyncTimeout = 2 * time.Minute
)

func dur(errs *[]error, path, raw string, def time.Duration) time.Duration {
	d, err := config.ParseDurationOrDefault(path, raw, def)
	if err != nil {
		*errs = append(*errs, err)
	}
	return d
}

func mapSettings(cfg *config.Config) (Settings, error) {
	if cfg == nil {
		return Settings{}, fmt.Errorf("config is nil")
	}
	var errs []error
	s := Settings{
		Log: logx.Config{
			Level:   cfg.Logging.Level,
			Console: cfg.Logging.Console,
			File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
		},
		Telegram: telegram.Config{
			Token:       cfg.Telegram.Token,
			PollTimeout: dur(&errs, "telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second),
		},
		Owners: append([]int64(nil), cfg.Telegram.OwnerUserIDs...),
		Storage: storage.Config{
			Driver:      strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)),
			Path:        strings.TrimSpace(cfg.Storage.Path),
			BusyTimeout: dur(&errs, "storage.busy_timeout", cfg.Storage.BusyTimeout, time.Second),
			BatchSize:   cfg.Storage.BatchSize,
		},
		Leaderboard: leaderboard.ClientConfig{
			BaseURL:     strings.TrimSpace(cfg.Leaderboard.BaseURL),
			BoardID:     strings.TrimSpace(cfg.Leaderboard.ID),
			Session:     strings.TrimSpace(cfg.Leaderboard.Session),
			UserAgent:   strings.TrimSpace(cfg.Leaderboard.UserAgent),
			Timeout:     dur(&errs, "leaderboard.timeout", cfg.Leaderboard.Timeout, 15*time.Second),
			MinInterval: dur(&errs, "leaderboard.min_interval", cfg.Leaderboard.MinInterval, 0),
		},
		Scheduler: scheduler.Config{
			Enabled:  cfg.Scheduler.Enabled,
			Timezone: strings.TrimSpace(cfg.Scheduler.Timezone),
		},
		PollSpec:    strings.TrimSpace(cfg.Scheduler.Spec),
		PollTimeout: dur(&errs, "scheduler.timeout", cfg.Scheduler.Timeout, defaultPollTimeout),
		Years:       append([]int(nil), cfg.Reconcile.Years...),
		Invite: invite.Config{
			Workers:   cfg.Reconcile.Workers,
			InviteTTL: dur(&errs, "reconcile.invite_ttl", cfg.Reconcile.InviteTTL, 24*time.Hour),
			Text:      cfg.Reconcile.InviteText,
		},
		Board: board.Config{
			Workers: cfg.Reconcile.Workers,
			LockTTL: dur(&errs, "reconcile.lock_ttl", cfg.Reconcile.LockTTL, 5*time.Minute),
		},
		BoardHeader: strings.TrimSpace(cfg.Reconcile.BoardHeader),
		Router:      router.Config{Owners: append([]int64(nil), cfg.Telegram.OwnerUserIDs...)},
		SyncTimeout: dur(&errs, "reconcile.sync_timeout", cfg.Reconcile.SyncTimeout, defaultSyncTimeout),
	}
	if s.PollSpec == "" {
		s.PollSpec = defaultPollSpec
	}
	if g := strings.TrimSpace(cfg.Telegram.GroupLog); g != "" {
		id, err := strconv.ParseInt(g, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("telegram.group_log: %w", err))
		}
		s.AuditTarget = kit.ChatTarget{ChatID: id}
	}
	if len(errs) > 0 {
		return Settings{}, errs[0]
	}
	return s, nil
}
