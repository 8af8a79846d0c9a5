// Package app wires the bot together and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"aocbot/internal/board"
	"aocbot/internal/config"
	"aocbot/internal/eventbus"
	"aocbot/internal/identity"
	"aocbot/internal/invite"
	"aocbot/internal/leaderboard"
	"aocbot/internal/reconcile"
	rtsup "aocbot/internal/runtime/supervisor"
	"aocbot/internal/storage"
	"aocbot/internal/task/scheduler"
	kit "aocbot/internal/transport"
	telegram "aocbot/internal/transport/telegram/adapter"
	"aocbot/internal/transport/telegram/router"
	logx "aocbot/pkg/logx"
	"aocbot/pkg/systemd"
)

const pollJob = "reconcile.poll"

// core is the channel-independent reconciliation stack.
type core struct {
	store storage.Store
	ids   *identity.Resolver
	bus   eventbus.Bus
	orch  *reconcile.Orchestrator
}

func newCore(set Settings, store storage.Store, ch kit.Channel, bus eventbus.Bus, log logx.Logger) (*core, error) {
	ids := identity.New(store, log.With(logx.String("comp", "identity")))
	client, err := leaderboard.NewClient(set.Leaderboard, nil, log.With(logx.String("comp", "leaderboard")))
	if err != nil {
		return nil, err
	}
	inv, err := invite.New(store, ch, ids, set.Invite, log.With(logx.String("comp", "invite")))
	if err != nil {
		return nil, err
	}
	pub := board.New(store, ch, ids, board.TextRenderer{Header: set.BoardHeader}, set.Board, log.With(logx.String("comp", "board")))
	var audit reconcile.Audit = reconcile.NopAudit()
	if bus != nil {
		audit = reconcile.BusAudit{Bus: bus}
	}
	orch := reconcile.New(client, inv, pub, ids, audit, log.With(logx.String("comp", "reconcile")))
	return &core{store: store, ids: ids, bus: bus, orch: orch}, nil
}

type App struct {
	cfgm *config.Manager

	mu      sync.Mutex
	set     Settings
	applied *config.Config

	log  logx.Logger
	logs *logx.Service
	sup  *rtsup.Supervisor

	adapter kit.Adapter
	core    *core
	audit   *reconcile.AuditForwarder
	router  *router.Router
	sched   *scheduler.Service

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath, logx.NewConsole("INFO").With(logx.String("comp", "config")))
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	set, err := mapSettings(cfg)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(set.Log)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	ad, err := telegram.New(set.Telegram, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(set.Storage, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	bus := eventbus.New()
	c, err := newCore(set, store, ad, bus, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	rt := router.New(ad, set.Router, log.With(logx.String("comp", "router")))
	rt.Register(router.Commands(c.orch, c.ids, set.SyncTimeout)...)

	a := &App{
		cfgm:    cfgm,
		set:     set,
		applied: cfg,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		adapter: ad,
		core:    c,
		audit:   reconcile.NewAuditForwarder(bus, ad, set.AuditTarget, 1, log.With(logx.String("comp", "audit"))),
		router:  rt,
		sched:   scheduler.New(set.Scheduler, log.With(logx.String("comp", "scheduler"))),
		updates: make(chan kit.Update, 256),
	}
	if err := a.sched.AddSchedule(pollJob, set.PollSpec, set.PollTimeout, a.poll); err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

// poll is the scheduled reconciliation run.
func (a *App) poll(ctx context.Context) error {
	res := a.core.orch.Run(ctx, reconcile.Request{Years: a.currentYears()})
	a.log.Info("scheduled reconcile finished",
		logx.String("run_id", res.RunID),
		logx.Int("sent", len(res.Sent)),
		logx.Int("failed", len(res.Failed)),
		logx.Int("created", len(res.Created)),
		logx.Int("updated", len(res.Updated)),
	)
	if len(res.Errored) > 0 || len(res.Unretrieved) > 0 {
		return fmt.Errorf("reconcile %s: %d errored, %d unretrieved", res.RunID, len(res.Errored), len(res.Unretrieved))
	}
	return nil
}

func (a *App) currentYears() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]int(nil), a.set.Years...)
}

// Done is closed once the app supervisor stops (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()

	if err := a.adapter.Start(run, a.updates); err != nil {
		return err
	}
	a.audit.Start(run)
	a.sched.Start(run)

	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.Dispatch(c, a.updates)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	sub := a.cfgm.Subscribe(4)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return nil
			case cfg, ok := <-sub:
				if !ok {
					return nil
				}
				a.applyConfig(cfg)
			}
		}
	})

	if ok, err := systemd.Ready(); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("systemd notified ready")
	}
	a.log.Info("app started",
		logx.Bool("scheduler", a.set.Scheduler.Enabled),
		logx.String("poll_spec", a.set.PollSpec),
		logx.Bool("audit", a.set.AuditTarget.ChatID != 0),
	)
	return nil
}

// applyConfig hot-applies the parts of a reloaded config that can change at
// runtime: log level and sinks, owners, scheduling and the year list.
func (a *App) applyConfig(cfg *config.Config) {
	set, err := mapSettings(cfg)
	if err != nil {
		a.log.Warn("reloaded config not applicable; keeping previous", logx.Err(err))
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	sections, attrs := config.SummarizeConfigChange(a.applied, cfg)
	a.applied = cfg

	a.logs.Apply(set.Log)
	a.router.SetOwners(set.Owners)
	a.sched.Apply(set.Scheduler)
	if set.PollSpec != a.set.PollSpec || set.PollTimeout != a.set.PollTimeout {
		if err := a.sched.AddSchedule(pollJob, set.PollSpec, set.PollTimeout, a.poll); err != nil {
			a.log.Warn("poll schedule rejected; keeping previous", logx.String("spec", set.PollSpec), logx.Err(err))
		} else {
			a.set.PollSpec, a.set.PollTimeout = set.PollSpec, set.PollTimeout
		}
	}
	a.set.Log, a.set.Owners, a.set.Scheduler, a.set.Years = set.Log, set.Owners, set.Scheduler, set.Years

	if rr := config.RestartRequired(sections); len(rr) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(rr, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
	_, _ = systemd.Status("config reloaded " + time.Now().Format(time.RFC3339))
}

// Stop shuts components down in dependency order. Each step is bounded so a
// stuck component cannot stall the rest; ctx caps the total.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	_, _ = systemd.Stopping()
	a.log.Info("stopping")
	a.sup.Cancel()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("scheduler", 3*time.Second, a.sched.Stop)
	step("adapter", 3*time.Second, a.adapter.Stop)
	step("audit", 2*time.Second, a.audit.Stop)
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.core.store.Close() })

	a.log.Info("stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}
