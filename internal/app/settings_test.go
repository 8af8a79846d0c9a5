package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aocbot/internal/config"
)

func TestMapSettingsDefaults(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Telegram:    config.TelegramConfig{Token: "t", OwnerUserIDs: []int64{7}, GroupLog: "-1001"},
		Storage:     config.StorageConfig{Driver: " SQLite ", Path: "./a.db"},
		Leaderboard: config.LeaderboardConfig{ID: "1", Session: "s"},
		Reconcile:   config.ReconcileConfig{Workers: 3, Years: []int{2024}},
	}
	set, err := mapSettings(cfg)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", set.Storage.Driver)
	assert.Equal(t, time.Second, set.Storage.BusyTimeout)
	assert.Equal(t, 10*time.Second, set.Telegram.PollTimeout)
	assert.Equal(t, int64(-1001), set.AuditTarget.ChatID)
	assert.Equal(t, defaultPollSpec, set.PollSpec)
	assert.Equal(t, defaultPollTimeout, set.PollTimeout)
	assert.Equal(t, 24*time.Hour, set.Invite.InviteTTL)
	assert.Equal(t, 3, set.Invite.Workers)
	assert.Equal(t, 3, set.Board.Workers)
	assert.Equal(t, 5*time.Minute, set.Board.LockTTL)
	assert.Equal(t, []int64{7}, set.Router.Owners)
	assert.Equal(t, []int{2024}, set.Years)

	// Settings must not alias the config's slices.
	cfg.Telegram.OwnerUserIDs[0] = 8
	assert.Equal(t, []int64{7}, set.Owners)
}

func TestMapSettingsRejectsBadValues(t *testing.T) {
	t.Parallel()
	_, err := mapSettings(&config.Config{Scheduler: config.SchedulerConfig{Timeout: "soon"}})
	assert.ErrorContains(t, err, "scheduler.timeout")

	_, err = mapSettings(&config.Config{Telegram: config.TelegramConfig{GroupLog: "logs"}})
	assert.ErrorContains(t, err, "telegram.group_log")

	_, err = mapSettings(nil)
	assert.Error(t, err)
}
