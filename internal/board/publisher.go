// Package board keeps one pinned status message per day chat in sync with
// the leaderboard.
//
// The board record doubles as the creation lock and as the optimistic lock for
// edits: creation requires the record to be absent, an edit swaps from the
// fingerprint that was read. Either way only one writer performs the channel
// call for a given transition.
package board

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"aocbot/internal/fault"
	"aocbot/internal/identity"
	"aocbot/internal/leaderboard"
	"aocbot/internal/storage"
	kit "aocbot/internal/transport"
	logx "aocbot/pkg/logx"
)

type Config struct {
	Workers int
	// LockTTL is how long a creation lock without a message is honored
	// before another run may take it over.
	LockTTL time.Duration
}

type Board struct {
	Year      int    `json:"year"`
	Day       int    `json:"day"`
	Chat      int64  `json:"chat"`
	MessageID int    `json:"message_id,omitempty"`
	Reason    string `json:"reason,omitempty"` // failure cause for Failed entries
}

type Result struct {
	Created []Board
	Updated []Board
	Failed  []Board
}

type outcome int

const (
	skipped outcome = iota
	created
	updated
)

type Publisher struct {
	st     storage.Store
	ch     kit.Channel
	ids    *identity.Resolver
	render Renderer
	cfg    Config
	log    logx.Logger
	now    func() time.Time
}

func New(st storage.Store, ch kit.Channel, ids *identity.Resolver, render Renderer, cfg Config, log logx.Logger) *Publisher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	if render == nil {
		render = TextRenderer{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Publisher{st: st, ch: ch, ids: ids, render: render, cfg: cfg, log: log, now: time.Now}
}

// Publish creates or updates the board of every selected day with qualifying
// activity. Per-chat failures land in Result.Failed; the error is reserved for
// failures of the shared lookups that precede per-chat work.
func (p *Publisher) Publish(ctx context.Context, snap leaderboard.Snapshot, sel leaderboard.Selection) (Result, error) {
	year, err := snap.Year()
	if err != nil {
		return Result{}, err
	}
	if !sel.IncludesYear(year) {
		return Result{}, nil
	}
	cs, err := leaderboard.Extract(snap, sel.Day)
	if err != nil {
		return Result{}, err
	}
	days := leaderboard.Days(cs)
	if len(days) == 0 {
		return Result{}, nil
	}
	chats, err := p.ids.ResolveChannels(ctx, year, days)
	if err != nil {
		return Result{}, err
	}
	if len(chats) == 0 {
		return Result{}, nil
	}

	targets := make([]Board, 0, len(chats))
	keys := make([]storage.Key, 0, len(chats))
	for _, d := range days {
		chat, ok := chats[d]
		if !ok {
			continue
		}
		targets = append(targets, Board{Year: year, Day: d, Chat: chat})
		keys = append(keys, storage.BoardKey(chat))
	}
	records, err := storage.BatchGetAll(ctx, p.st, keys)
	if err != nil {
		return Result{}, fmt.Errorf("fetch boards: %w", err)
	}

	var (
		mu  sync.Mutex
		res Result
	)
	var g errgroup.Group
	g.SetLimit(p.cfg.Workers)
	for i, b := range targets {
		b := b
		rec, exists := records[keys[i]]
		g.Go(func() error {
			out, msgID, err := p.publishOne(ctx, b, snap, rec, exists)
			b.MessageID = msgID
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				b.Reason = reason(err)
				res.Failed = append(res.Failed, b)
				p.log.Warn("board publish failed", logx.Int("year", b.Year), logx.Int("day", b.Day), logx.Int64("chat", b.Chat), logx.Err(err))
			case out == created:
				res.Created = append(res.Created, b)
			case out == updated:
				res.Updated = append(res.Updated, b)
			}
			return nil
		})
	}
	_ = g.Wait()
	for _, l := range [][]Board{res.Created, res.Updated, res.Failed} {
		sort.Slice(l, func(i, j int) bool { return l[i].Day < l[j].Day })
	}
	return res, nil
}

func reason(err error) string {
	if code, ok := fault.RejectionCode(err); ok {
		return code
	}
	return fault.KindInfrastructure.String()
}

func (p *Publisher) publishOne(ctx context.Context, b Board, snap leaderboard.Snapshot, rec storage.Item, exists bool) (outcome, int, error) {
	log := p.log.With(logx.Int("year", b.Year), logx.Int("day", b.Day), logx.Int64("chat", b.Chat))

	text, err := p.render.Render(b.Year, b.Day, snap)
	if err != nil {
		return skipped, 0, fmt.Errorf("render: %w", err)
	}
	fp := Fingerprint(text)

	if !exists {
		return p.create(ctx, b, text, fp, storage.Absent(), log)
	}
	msgRaw, hasMsg := rec.Attr(storage.AttrMessageID)
	if !hasMsg {
		// A creation lock without a message: either in flight or abandoned.
		lockedAt := rec.Attrs[storage.AttrLockedAt]
		if t, err := time.Parse(time.RFC3339Nano, lockedAt); err == nil && p.now().Sub(t) < p.cfg.LockTTL {
			log.Debug("board creation in progress elsewhere")
			return skipped, 0, nil
		}
		log.Info("taking over stale board lock", logx.String("locked_at", lockedAt))
		return p.create(ctx, b, text, fp, storage.AttrEquals(storage.AttrLockedAt, lockedAt), log)
	}
	msgID, err := strconv.Atoi(msgRaw)
	if err != nil {
		return skipped, 0, fmt.Errorf("board record message id %q: %w", msgRaw, err)
	}
	stored, _ := rec.Attr(storage.AttrFingerprint)
	if stored == fp {
		return skipped, msgID, nil
	}

	// Swap only from the fingerprint read above: of concurrent updaters that
	// saw the same record, one edits and the rest see Conflict.
	next := p.record(b, msgID, fp)
	res, err := p.st.AttemptClaim(ctx, next, storage.AttrEquals(storage.AttrFingerprint, stored))
	if err != nil {
		return skipped, msgID, fmt.Errorf("claim board update: %w", err)
	}
	if res == storage.Conflict {
		log.Debug("board update applied elsewhere")
		return skipped, msgID, nil
	}
	ref := kit.MessageRef{ChatID: b.Chat, MessageID: msgID}
	if err := p.ch.Edit(ctx, ref, text, &kit.SendOptions{DisablePreview: true}); err != nil && !fault.IsRejected(err, fault.CodeNotModified) {
		return skipped, msgID, fmt.Errorf("edit board: %w", err)
	}
	log.Info("board updated", logx.Int("message_id", msgID))
	return updated, msgID, nil
}

// create takes the creation lock under cond, then sends, pins and records the
// board. A failed send expires the lock so the next run can retry.
func (p *Publisher) create(ctx context.Context, b Board, text, fp string, cond storage.Condition, log logx.Logger) (outcome, int, error) {
	lock := storage.Item{Key: storage.BoardKey(b.Chat), Attrs: map[string]string{
		storage.AttrYear:     strconv.Itoa(b.Year),
		storage.AttrDay:      strconv.Itoa(b.Day),
		storage.AttrLockedAt: p.now().UTC().Format(time.RFC3339Nano),
	}}
	res, err := p.st.AttemptClaim(ctx, lock, cond)
	if err != nil {
		return skipped, 0, fmt.Errorf("claim board lock: %w", err)
	}
	if res == storage.Conflict {
		log.Debug("board created elsewhere")
		return skipped, 0, nil
	}

	ref, err := p.ch.Send(ctx, kit.ChatTarget{ChatID: b.Chat}, text, &kit.SendOptions{DisablePreview: true, Silent: true})
	if err != nil {
		p.release(ctx, lock, log)
		return skipped, 0, fmt.Errorf("send board: %w", err)
	}
	if err := p.ch.Pin(ctx, ref); err != nil {
		if !fault.IsRejected(err) {
			// The message exists; record it so the next run edits instead of resending.
			if perr := p.st.Put(ctx, p.record(b, ref.MessageID, fp)); perr != nil {
				log.Warn("board record after failed pin", logx.Int("message_id", ref.MessageID), logx.Err(perr))
			}
			return skipped, ref.MessageID, fmt.Errorf("pin board: %w", err)
		}
		log.Debug("pin rejected", logx.Err(err))
	}
	if err := p.st.Put(ctx, p.record(b, ref.MessageID, fp)); err != nil {
		return skipped, ref.MessageID, fmt.Errorf("record board: %w", err)
	}
	log.Info("board created", logx.Int("message_id", ref.MessageID))
	return created, ref.MessageID, nil
}

// release expires lock by dropping its locked_at, which the next run treats as
// stale. A lock another run has taken over since no longer matches and is kept.
func (p *Publisher) release(ctx context.Context, lock storage.Item, log logx.Logger) {
	expired := storage.Item{Key: lock.Key, Attrs: map[string]string{
		storage.AttrYear: lock.Attrs[storage.AttrYear],
		storage.AttrDay:  lock.Attrs[storage.AttrDay],
	}}
	res, err := p.st.AttemptClaim(ctx, expired, storage.AttrEquals(storage.AttrLockedAt, lock.Attrs[storage.AttrLockedAt]))
	switch {
	case err != nil:
		log.Warn("board lock release failed", logx.Err(err))
	case res == storage.Conflict:
		log.Debug("board lock taken over elsewhere")
	}
}

func (p *Publisher) record(b Board, msgID int, fp string) storage.Item {
	return storage.Item{Key: storage.BoardKey(b.Chat), Attrs: map[string]string{
		storage.AttrMessageID:   strconv.Itoa(msgID),
		storage.AttrFingerprint: fp,
		storage.AttrYear:        strconv.Itoa(b.Year),
		storage.AttrDay:         strconv.Itoa(b.Day),
	}}
}
