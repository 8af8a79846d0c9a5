package reconcile

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"aocbot/internal/eventbus"
	rtsup "aocbot/internal/runtime/supervisor"
	kit "aocbot/internal/transport"
	logx "aocbot/pkg/logx"
)

// Audit records notable side effects. Record never fails and never blocks
// the caller for long.
type Audit interface {
	Record(ctx context.Context, e eventbus.Event)
}

type nopAudit struct{}

func (nopAudit) Record(context.Context, eventbus.Event) {}

// NopAudit discards everything.
func NopAudit() Audit { return nopAudit{} }

// BusAudit publishes audit events on the bus.
type BusAudit struct{ Bus eventbus.Bus }

func (a BusAudit) Record(_ context.Context, e eventbus.Event) { a.Bus.Publish(e) }

// AuditForwarder relays bus events to the audit chat at a bounded rate.
// Delivery errors are logged and dropped.
type AuditForwarder struct {
	bus     eventbus.Bus
	ch      kit.Channel
	target  kit.ChatTarget
	limiter *rate.Limiter
	log     logx.Logger

	sup *rtsup.Supervisor
}

func NewAuditForwarder(bus eventbus.Bus, ch kit.Channel, target kit.ChatTarget, perSecond float64, log logx.Logger) *AuditForwarder {
	if perSecond <= 0 {
		perSecond = 1
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &AuditForwarder{
		bus:     bus,
		ch:      ch,
		target:  target,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 3),
		log:     log,
	}
}

func (f *AuditForwarder) Start(ctx context.Context) {
	if f.sup != nil || f.target.ChatID == 0 {
		return
	}
	events, unsub := f.bus.Subscribe(256)
	f.sup = rtsup.New(ctx, rtsup.WithLogger(f.log))
	f.sup.Go("audit.forward", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				f.deliver(c, e)
			}
		}
	})
}

func (f *AuditForwarder) deliver(ctx context.Context, e eventbus.Event) {
	if e.Text == "" {
		return
	}
	if err := f.limiter.Wait(ctx); err != nil {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := f.ch.Send(sctx, f.target, e.Text, &kit.SendOptions{DisablePreview: true, Silent: true}); err != nil {
		f.log.Warn("audit delivery failed", logx.String("type", e.Type), logx.String("run_id", e.RunID), logx.Err(err))
	}
}

func (f *AuditForwarder) Stop(ctx context.Context) error {
	if f.sup == nil {
		return nil
	}
	err := f.sup.Stop(ctx)
	f.sup = nil
	return err
}
