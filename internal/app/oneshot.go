package app

import (
	"context"

	"aocbot/internal/config"
	"aocbot/internal/reconcile"
	"aocbot/internal/storage"
	telegram "aocbot/internal/transport/telegram/adapter"
	logx "aocbot/pkg/logx"
)

// RunOnce performs a single reconciliation without polling for updates or
// starting the scheduler. It is what the sync command runs.
func RunOnce(ctx context.Context, cfgPath string, req reconcile.Request, log logx.Logger) (reconcile.Result, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg, err := config.NewManager(cfgPath, log.With(logx.String("comp", "config"))).Load()
	if err != nil {
		return reconcile.Result{}, err
	}
	set, err := mapSettings(cfg)
	if err != nil {
		return reconcile.Result{}, err
	}
	if len(req.Years) == 0 && req.Selection.Year == nil {
		req.Years = set.Years
	}

	ad, err := telegram.New(set.Telegram, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return reconcile.Result{}, err
	}
	store, err := storage.Open(set.Storage, log.With(logx.String("comp", "storage")))
	if err != nil {
		return reconcile.Result{}, err
	}
	defer store.Close()

	c, err := newCore(set, store, ad, nil, log)
	if err != nil {
		return reconcile.Result{}, err
	}
	return c.orch.Run(ctx, req), nil
}
