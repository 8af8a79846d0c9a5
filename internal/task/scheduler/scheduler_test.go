package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "aocbot/pkg/logx"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		kind SpecKind
		spec string
	}{
		{raw: "*/15 * * * *", kind: SpecCron, spec: "*/15 * * * *"},
		{raw: "cron:0 5 1-25 12 *", kind: SpecCron, spec: "0 5 1-25 12 *"},
		{raw: "@hourly", kind: SpecCron, spec: "@hourly"},
		{raw: "15m", kind: SpecInterval, spec: "@every 15m0s"},
		{raw: "every:45s", kind: SpecInterval, spec: "@every 45s"},
		{raw: "01:30", kind: SpecInterval, spec: "@every 1h30m0s"},
	}
	for _, tt := range tests {
		got, err := ParseSchedule(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.kind, got.Kind, tt.raw)
		assert.Equal(t, tt.spec, got.Spec(), tt.raw)
	}
	for _, bad := range []string{"", "soon", "00:75", "-5m", "every:"} {
		_, err := ParseSchedule(bad)
		assert.Error(t, err, bad)
	}
}

func TestAddScheduleValidates(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, logx.Nop())
	job := func(context.Context) error { return nil }
	assert.Error(t, s.AddSchedule("", "15m", 0, job))
	assert.Error(t, s.AddSchedule("x", "15m", 0, nil))
	assert.Error(t, s.AddSchedule("x", "61 * * * *", 0, job))
	require.NoError(t, s.AddSchedule("x", "15m", time.Minute, job))
	require.NoError(t, s.AddSchedule("x", "30m", time.Minute, job))

	snap := s.Snapshot()
	require.Len(t, snap.Schedules, 1)
	assert.Equal(t, "@every 30m0s", snap.Schedules[0].Spec)
	assert.True(t, s.Remove("x"))
	assert.False(t, s.Remove("x"))
}

func TestFireSkipsWhileRunning(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, logx.Nop())
	release := make(chan struct{})
	started := make(chan struct{})
	var runs atomic.Int32
	d := &scheduleDef{name: "slow", job: func(ctx context.Context) error {
		runs.Add(1)
		close(started)
		<-release
		return errors.New("late")
	}}

	done := make(chan struct{})
	go func() {
		s.fire(d)
		close(done)
	}()
	<-started
	s.fire(d)
	assert.Equal(t, uint64(1), d.skipped.Load())

	close(release)
	<-done
	assert.Equal(t, int32(1), runs.Load())
	assert.False(t, d.running.Load())
	assert.Equal(t, "late", d.lastErr.Load())
}

func TestFireAppliesTimeoutAndRecovers(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	var deadline atomic.Bool
	d := &scheduleDef{name: "t", timeout: time.Second, job: func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		deadline.Store(ok)
		panic("boom")
	}}
	s.fire(d)
	assert.True(t, deadline.Load())
	assert.Contains(t, d.lastErr.Load(), "panic: boom")
}

func TestStartTriggersAndStop(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Timezone: "UTC"}, logx.Nop())
	var runs atomic.Int32
	require.NoError(t, s.AddSchedule("tick", "@every 1s", 0, func(context.Context) error {
		runs.Add(1)
		return nil
	}))
	s.Start(context.Background())
	assert.Eventually(t, func() bool { return runs.Load() > 0 }, 3*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}
