// Package invite sends each qualifying participant a one-time invite into the
// chat for the day they completed.
//
// A tuple (recipient, year, day, chat) is dispatched at most once: the claim
// record is created with a conditional write before any side effect, and a
// claim is never retried once taken, even when the send fails.
package invite

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"text/template"
	"time"

	"golang.org/x/sync/errgroup"

	"aocbot/internal/fault"
	"aocbot/internal/identity"
	"aocbot/internal/leaderboard"
	"aocbot/internal/storage"
	kit "aocbot/internal/transport"
	logx "aocbot/pkg/logx"
)

const DefaultText = "Congratulations {{.Name}}, you solved day {{.Day}} of Advent of Code {{.Year}}! " +
	"Here is your invite to the discussion chat: {{.Link}}"

type Config struct {
	Workers   int
	InviteTTL time.Duration
	Text      string // text/template over TextData
}

type TextData struct {
	Name string
	Year int
	Day  int
	Link string
}

type Invite struct {
	Participant string `json:"participant"`
	Recipient   int64  `json:"recipient"`
	Year        int    `json:"year"`
	Day         int    `json:"day"`
	Chat        int64  `json:"chat"`
	Reason      string `json:"reason,omitempty"` // rejection code for failed invites
}

type Result struct {
	Sent   []Invite
	Failed []Invite
}

type Reconciler struct {
	st   storage.Store
	ch   kit.Channel
	ids  *identity.Resolver
	cfg  Config
	text *template.Template
	log  logx.Logger
	now  func() time.Time
}

func New(st storage.Store, ch kit.Channel, ids *identity.Resolver, cfg Config, log logx.Logger) (*Reconciler, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.InviteTTL <= 0 {
		cfg.InviteTTL = 24 * time.Hour
	}
	if cfg.Text == "" {
		cfg.Text = DefaultText
	}
	tmpl, err := template.New("invite").Option("missingkey=error").Parse(cfg.Text)
	if err != nil {
		return nil, fmt.Errorf("invite text: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reconciler{st: st, ch: ch, ids: ids, cfg: cfg, text: tmpl, log: log, now: time.Now}, nil
}

// Reconcile dispatches invites for the completions in snap that pass sel.
// On an infrastructure error it returns what was done so far together with
// the error.
func (r *Reconciler) Reconcile(ctx context.Context, snap leaderboard.Snapshot, sel leaderboard.Selection) (Result, error) {
	year, err := snap.Year()
	if err != nil {
		return Result{}, err
	}
	if !sel.IncludesYear(year) {
		return Result{}, nil
	}
	completions, err := leaderboard.Extract(snap, sel.Day)
	if err != nil {
		return Result{}, err
	}
	if len(completions) == 0 {
		return Result{}, nil
	}

	pending, err := r.pending(ctx, year, completions)
	if err != nil {
		return Result{}, err
	}
	log := r.log.With(logx.Int("year", year))
	log.Debug("invite candidates", logx.Int("completions", len(completions)), logx.Int("pending", len(pending)))

	var (
		mu  sync.Mutex
		res Result
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for _, inv := range pending {
		inv := inv
		g.Go(func() error {
			sent, reason, err := r.dispatch(ctx, gctx, inv)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			switch {
			case sent:
				res.Sent = append(res.Sent, inv)
			case reason != "":
				inv.Reason = reason
				res.Failed = append(res.Failed, inv)
			}
			return nil
		})
	}
	err = g.Wait()
	sortInvites(res.Sent)
	sortInvites(res.Failed)
	return res, err
}

// pending resolves completions to tuples and drops those that are unlinked,
// have no chat yet, or were already claimed.
func (r *Reconciler) pending(ctx context.Context, year int, cs []leaderboard.Completion) ([]Invite, error) {
	names := make([]string, 0, len(cs))
	for _, c := range cs {
		names = append(names, c.Participant)
	}
	recipients, err := r.ids.ResolveRecipients(ctx, names)
	if err != nil {
		return nil, err
	}
	chats, err := r.ids.ResolveChannels(ctx, year, leaderboard.Days(cs))
	if err != nil {
		return nil, err
	}

	var tuples []Invite
	var keys []storage.Key
	for _, c := range cs {
		rcpt, ok := recipients[c.Participant]
		if !ok {
			continue
		}
		chat, ok := chats[c.Day]
		if !ok {
			continue
		}
		tuples = append(tuples, Invite{Participant: c.Participant, Recipient: rcpt, Year: year, Day: c.Day, Chat: chat})
		keys = append(keys, storage.ClaimKey(rcpt, year, c.Day, chat))
	}
	if len(tuples) == 0 {
		return nil, nil
	}

	claimed, err := storage.BatchGetAll(ctx, r.st, keys)
	if err != nil {
		return nil, fmt.Errorf("check claims: %w", err)
	}
	out := tuples[:0]
	for i, t := range tuples {
		if _, ok := claimed[keys[i]]; ok {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// dispatch probes, claims and sends one invite. It reports sent=true on
// delivery, a rejection code when the platform refused, and neither when the
// tuple was skipped.
//
// Work up to the claim runs on stop, which is cancelled once a sibling tuple
// fails. A written claim is permanent, so everything after it runs on ctx.
func (r *Reconciler) dispatch(ctx, stop context.Context, inv Invite) (sent bool, reason string, err error) {
	log := r.log.With(logx.Int("year", inv.Year), logx.Int("day", inv.Day), logx.Int64("chat", inv.Chat), logx.Int64("recipient", inv.Recipient))

	status, err := r.ch.Membership(stop, inv.Chat, inv.Recipient)
	switch {
	case fault.IsRejected(err, fault.CodeUnknownRecipient):
		log.Debug("recipient not resolvable yet")
		return false, "", nil
	case err != nil:
		return false, "", fmt.Errorf("membership probe: %w", err)
	case status.IsMember():
		return false, "", nil
	}

	claim := storage.Item{
		Key:   storage.ClaimKey(inv.Recipient, inv.Year, inv.Day, inv.Chat),
		Attrs: map[string]string{storage.AttrClaimedAt: r.now().UTC().Format(time.RFC3339)},
	}
	if err := stop.Err(); err != nil {
		return false, "", err
	}
	res, err := r.st.AttemptClaim(ctx, claim, storage.Absent())
	if err != nil {
		return false, "", fmt.Errorf("claim invite: %w", err)
	}
	if res == storage.Conflict {
		log.Debug("invite claimed elsewhere")
		return false, "", nil
	}

	link, err := r.ch.CreateInviteLink(ctx, inv.Chat, kit.InviteConstraints{
		Name:        "aoc " + strconv.Itoa(inv.Year) + "/" + strconv.Itoa(inv.Day) + " " + strconv.FormatInt(inv.Recipient, 10),
		MemberLimit: 1,
		ExpireIn:    r.cfg.InviteTTL,
	})
	if code, ok := fault.RejectionCode(err); ok {
		log.Warn("invite link rejected", logx.String("code", code), logx.Err(err))
		return false, code, nil
	}
	if err != nil {
		return false, "", fmt.Errorf("create invite link: %w", err)
	}

	var buf bytes.Buffer
	if err := r.text.Execute(&buf, TextData{Name: inv.Participant, Year: inv.Year, Day: inv.Day, Link: link}); err != nil {
		return false, "", fmt.Errorf("render invite: %w", err)
	}
	_, err = r.ch.Send(ctx, kit.ChatTarget{ChatID: inv.Recipient}, buf.String(), &kit.SendOptions{DisablePreview: true})
	if code, ok := fault.RejectionCode(err); ok {
		log.Warn("invite rejected", logx.String("code", code), logx.Err(err))
		return false, code, nil
	}
	if err != nil {
		return false, "", fmt.Errorf("send invite: %w", err)
	}
	log.Info("invite sent", logx.String("participant", inv.Participant))
	return true, "", nil
}

func sortInvites(in []Invite) {
	sort.Slice(in, func(i, j int) bool {
		if in[i].Day != in[j].Day {
			return in[i].Day < in[j].Day
		}
		return in[i].Participant < in[j].Participant
	})
}

