// Package scheduler triggers registered jobs on cron or interval schedules.
//
// A schedule never overlaps itself: a tick that fires while the previous run
// is still in flight is skipped and counted.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "aocbot/pkg/logx"
)

type Config struct {
	Enabled  bool
	Timezone string // IANA name; empty means local time
}

type Job func(ctx context.Context) error

type scheduleDef struct {
	name    string
	spec    string // normalized cron spec or "@every <d>"
	timeout time.Duration
	job     Job
	entryID cron.EntryID

	running atomic.Bool
	skipped atomic.Uint64
	runs    atomic.Uint64
	lastErr atomic.Value // string
}

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	loc    *time.Location
	parser cron.Parser
	c      *cron.Cron
	defs   map[string]*scheduleDef

	runCtx    context.Context
	runCancel context.CancelFunc
}

type ScheduleInfo struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
	Running bool
	Runs    uint64
	Skipped uint64
	LastErr string
}

type Snapshot struct {
	Enabled   bool
	Timezone  string
	Schedules []ScheduleInfo
}
