package config

import (
	"reflect"
	"sort"
	"strings"

	logx "aocbot/pkg/logx"
)

// SummarizeConfigChange returns the changed section names and safe
// structured attrs for logging. Secrets (token, session) are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	o, n := oldCfg.Telegram, newCfg.Telegram
	if strings.TrimSpace(o.PollTimeout) != strings.TrimSpace(n.PollTimeout) ||
		!reflect.DeepEqual(o.OwnerUserIDs, n.OwnerUserIDs) ||
		strings.TrimSpace(o.GroupLog) != strings.TrimSpace(n.GroupLog) ||
		o.Token != n.Token {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Int("telegram.owner_count", len(n.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(n.GroupLog) != ""),
			logx.Bool("telegram.token_changed", o.Token != n.Token),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
		)
	}

	ol, nl := oldCfg.Leaderboard, newCfg.Leaderboard
	ol.Session, nl.Session = "", ""
	if ol != nl || oldCfg.Leaderboard.Session != newCfg.Leaderboard.Session {
		changed = append(changed, "leaderboard")
		attrs = append(attrs,
			logx.String("leaderboard.id", nl.ID),
			logx.Bool("leaderboard.session_changed", oldCfg.Leaderboard.Session != newCfg.Leaderboard.Session),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.spec", strings.TrimSpace(newCfg.Scheduler.Spec)),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Reconcile, newCfg.Reconcile) {
		changed = append(changed, "reconcile")
		attrs = append(attrs,
			logx.Ints("reconcile.years", newCfg.Reconcile.Years),
			logx.Int("reconcile.workers", newCfg.Reconcile.Workers),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired reports the sections whose changes only take effect after a restart.
func RestartRequired(sections []string) []string {
	var out []string
	for _, s := range sections {
		switch s {
		case "storage", "leaderboard", "reconcile":
			out = append(out, s)
		}
	}
	return out
}
