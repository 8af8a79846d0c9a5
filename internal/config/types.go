package config

// Config is the on-disk configuration. Durations are Go duration strings
// ("10s", "5m"); an empty or zero duration selects the component default.
type Config struct {
	Telegram    TelegramConfig    `json:"telegram"`
	Logging     LoggingConfig     `json:"logging"`
	Storage     StorageConfig     `json:"storage"`
	Leaderboard LeaderboardConfig `json:"leaderboard"`
	Scheduler   SchedulerConfig   `json:"scheduler"`
	Reconcile   ReconcileConfig   `json:"reconcile"`
}

type TelegramConfig struct {
	Token        string  `json:"token" env:"AOCBOT_TELEGRAM_TOKEN"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog is the chat id that receives audit messages. Empty disables auditing to Telegram.
	GroupLog    string `json:"group_log"`
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the key-value store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./aocbot.db", "busy_timeout": "2s" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
	BatchSize   int    `json:"batch_size,omitempty"`
}

type LeaderboardConfig struct {
	BaseURL     string `json:"base_url,omitempty"`
	ID          string `json:"id"`
	Session     string `json:"session" env:"AOCBOT_AOC_SESSION"`
	UserAgent   string `json:"user_agent,omitempty"`
	Timeout     string `json:"timeout,omitempty"`
	MinInterval string `json:"min_interval,omitempty"`
}

// SchedulerConfig controls periodic reconciliation. Spec is a cron
// expression, "@every <d>", a duration or HH:MM.
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Spec     string `json:"spec"`
	Timezone string `json:"timezone,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

type ReconcileConfig struct {
	// Years restricts scheduled runs to these events. Empty means every
	// year that has a registered chat.
	Years       []int  `json:"years,omitempty"`
	Workers     int    `json:"workers,omitempty"`
	InviteTTL   string `json:"invite_ttl,omitempty"`
	InviteText  string `json:"invite_text,omitempty"`
	BoardHeader string `json:"board_header,omitempty"`
	LockTTL     string `json:"lock_ttl,omitempty"`
	SyncTimeout string `json:"sync_timeout,omitempty"`
}
