// Package reconcile runs the invite and board pipelines for a set of events
// and aggregates their outcomes.
//
// Years are independent: a year whose leaderboard cannot be fetched is
// reported as unretrieved, and a pipeline that hits an infrastructure error
// only loses that year's contribution for that pipeline.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"aocbot/internal/board"
	"aocbot/internal/eventbus"
	"aocbot/internal/invite"
	"aocbot/internal/leaderboard"
	logx "aocbot/pkg/logx"
)

type Fetcher interface {
	Fetch(ctx context.Context, year int) (leaderboard.Snapshot, error)
}

type Inviter interface {
	Reconcile(ctx context.Context, snap leaderboard.Snapshot, sel leaderboard.Selection) (invite.Result, error)
}

type Publisher interface {
	Publish(ctx context.Context, snap leaderboard.Snapshot, sel leaderboard.Selection) (board.Result, error)
}

type YearLister interface {
	KnownYears(ctx context.Context) ([]int, error)
}

const (
	StageYears  = "years"
	StageInvite = "invite"
	StageBoard  = "board"
)

type Request struct {
	Years     []int
	Selection leaderboard.Selection
}

type Failure struct {
	Year  int    `json:"year"`
	Stage string `json:"stage"`
	Error string `json:"error"`
}

type Result struct {
	RunID       string          `json:"run_id"`
	Sent        []invite.Invite `json:"sent"`
	Failed      []invite.Invite `json:"failed"`
	Created     []board.Board   `json:"created"`
	Updated     []board.Board   `json:"updated"`
	BoardFailed []board.Board   `json:"board_failed"`
	Unretrieved []int           `json:"unretrieved"`
	Errored     []Failure       `json:"errored"`
}

// Summary is a short human readable report.
func (r Result) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "invites sent %d, failed %d; boards created %d, updated %d, failed %d",
		len(r.Sent), len(r.Failed), len(r.Created), len(r.Updated), len(r.BoardFailed))
	if len(r.Unretrieved) > 0 {
		fmt.Fprintf(&b, "\nunretrieved years: %v", r.Unretrieved)
	}
	for _, f := range r.Errored {
		fmt.Fprintf(&b, "\n%s %d: %s", f.Stage, f.Year, f.Error)
	}
	return b.String()
}

type Orchestrator struct {
	fetch   Fetcher
	invites Inviter
	boards  Publisher
	years   YearLister
	audit   Audit
	log     logx.Logger
}

func New(fetch Fetcher, invites Inviter, boards Publisher, years YearLister, audit Audit, log logx.Logger) *Orchestrator {
	if audit == nil {
		audit = NopAudit()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Orchestrator{fetch: fetch, invites: invites, boards: boards, years: years, audit: audit, log: log}
}

// Run reconciles every requested year. It never fails as a whole; per-year
// problems are reported in the result.
func (o *Orchestrator) Run(ctx context.Context, req Request) Result {
	res := Result{RunID: uuid.NewString()}
	log := o.log.With(logx.String("run_id", res.RunID), logx.String("selection", req.Selection.String()))
	started := time.Now()

	years, err := o.resolveYears(ctx, req)
	if err != nil {
		log.Error("listing years failed", logx.Err(err))
		res.Errored = append(res.Errored, Failure{Stage: StageYears, Error: err.Error()})
		return res
	}

	var mu sync.Mutex
	var g errgroup.Group
	for _, y := range years {
		y := y
		g.Go(func() error {
			yr := o.runYear(ctx, res.RunID, y, req.Selection, log.With(logx.Int("year", y)))
			mu.Lock()
			merge(&res, yr)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	sortResult(&res)

	o.audit.Record(ctx, eventbus.Event{Type: eventbus.TypeRunFinished, RunID: res.RunID})
	log.Info("reconcile finished",
		logx.Ints("years", years),
		logx.Int("sent", len(res.Sent)),
		logx.Int("failed", len(res.Failed)),
		logx.Int("created", len(res.Created)),
		logx.Int("updated", len(res.Updated)),
		logx.Int("board_failed", len(res.BoardFailed)),
		logx.Int("unretrieved", len(res.Unretrieved)),
		logx.Int("errored", len(res.Errored)),
		logx.Duration("took", time.Since(started)),
	)
	return res
}

func (o *Orchestrator) resolveYears(ctx context.Context, req Request) ([]int, error) {
	years := req.Years
	if len(years) == 0 && req.Selection.Year != nil {
		years = []int{*req.Selection.Year}
	}
	if len(years) == 0 {
		known, err := o.years.KnownYears(ctx)
		if err != nil {
			return nil, err
		}
		years = known
	}
	seen := map[int]bool{}
	out := make([]int, 0, len(years))
	for _, y := range years {
		if seen[y] || !req.Selection.IncludesYear(y) {
			continue
		}
		seen[y] = true
		out = append(out, y)
	}
	sort.Ints(out)
	return out, nil
}

func (o *Orchestrator) runYear(ctx context.Context, runID string, year int, sel leaderboard.Selection, log logx.Logger) Result {
	var out Result
	snap, err := o.fetch.Fetch(ctx, year)
	if err != nil {
		log.Warn("leaderboard unretrieved", logx.Err(err))
		out.Unretrieved = []int{year}
		return out
	}

	var (
		inv    invite.Result
		invErr error
		pub    board.Result
		pubErr error
		g      errgroup.Group
	)
	g.Go(func() error {
		inv, invErr = o.invites.Reconcile(ctx, snap, sel)
		return nil
	})
	g.Go(func() error {
		pub, pubErr = o.boards.Publish(ctx, snap, sel)
		return nil
	})
	_ = g.Wait()

	// Audit what actually happened, even when the pipeline later failed.
	for _, s := range inv.Sent {
		o.audit.Record(ctx, eventbus.Event{Type: eventbus.TypeInviteSent, RunID: runID,
			Text: fmt.Sprintf("Invited %s (%d) to %d day %d", s.Participant, s.Recipient, s.Year, s.Day)})
	}
	for _, c := range pub.Created {
		o.audit.Record(ctx, eventbus.Event{Type: eventbus.TypeBoardCreated, RunID: runID,
			Text: fmt.Sprintf("Board created for %d day %d in chat %d", c.Year, c.Day, c.Chat)})
	}

	if invErr != nil {
		log.Error("invite pipeline failed", logx.Err(invErr))
		out.Errored = append(out.Errored, Failure{Year: year, Stage: StageInvite, Error: invErr.Error()})
	} else {
		out.Sent, out.Failed = inv.Sent, inv.Failed
	}
	if pubErr != nil {
		log.Error("board pipeline failed", logx.Err(pubErr))
		out.Errored = append(out.Errored, Failure{Year: year, Stage: StageBoard, Error: pubErr.Error()})
	} else {
		out.Created, out.Updated, out.BoardFailed = pub.Created, pub.Updated, pub.Failed
	}
	return out
}

func merge(dst *Result, src Result) {
	dst.Sent = append(dst.Sent, src.Sent...)
	dst.Failed = append(dst.Failed, src.Failed...)
	dst.Created = append(dst.Created, src.Created...)
	dst.Updated = append(dst.Updated, src.Updated...)
	dst.BoardFailed = append(dst.BoardFailed, src.BoardFailed...)
	dst.Unretrieved = append(dst.Unretrieved, src.Unretrieved...)
	dst.Errored = append(dst.Errored, src.Errored...)
}

func sortResult(r *Result) {
	byInvite := func(l []invite.Invite) {
		sort.SliceStable(l, func(i, j int) bool {
			if l[i].Year != l[j].Year {
				return l[i].Year < l[j].Year
			}
			return l[i].Day < l[j].Day
		})
	}
	byBoard := func(l []board.Board) {
		sort.SliceStable(l, func(i, j int) bool {
			if l[i].Year != l[j].Year {
				return l[i].Year < l[j].Year
			}
			return l[i].Day < l[j].Day
		})
	}
	byInvite(r.Sent)
	byInvite(r.Failed)
	byBoard(r.Created)
	byBoard(r.Updated)
	byBoard(r.BoardFailed)
	sort.Ints(r.Unretrieved)
	sort.SliceStable(r.Errored, func(i, j int) bool { return r.Errored[i].Year < r.Errored[j].Year })
}
