package invite

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aocbot/internal/fault"
	"aocbot/internal/identity"
	"aocbot/internal/leaderboard"
	"aocbot/internal/storage"
	"aocbot/internal/storage/storagetest"
	kit "aocbot/internal/transport"
	"aocbot/internal/transport/transporttest"
	logx "aocbot/pkg/logx"
)

const (
	ann  = int64(42)
	chat = int64(-1005)
)

type fixture struct {
	st  *storagetest.Counting
	ch  *transporttest.Fake
	rec *Reconciler
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	st := storagetest.Wrap(storage.NewMemory(100))
	ids := identity.New(st, logx.Nop())
	require.NoError(t, ids.Link(ctx, "Ann", ann))
	require.NoError(t, ids.RegisterChannel(ctx, 2023, 5, chat))
	ch := transporttest.New()
	ch.Know(ann)
	rec, err := New(st, ch, ids, Config{Workers: 4}, logx.Nop())
	require.NoError(t, err)
	st.Reset()
	return fixture{st: st, ch: ch, rec: rec}
}

func annSnapshot() leaderboard.Snapshot {
	return leaderboard.Snapshot{Event: "2023", Members: map[string]leaderboard.Member{
		"7": {ID: 7, Name: "Ann", CompletionDayLevel: map[string]map[string]leaderboard.Star{
			"5": {"1": {GetStarTS: 1701752400}, "2": {GetStarTS: 1701753000}},
		}},
		"8": {ID: 8, Name: "Unlinked", CompletionDayLevel: map[string]map[string]leaderboard.Star{
			"5": {"1": {GetStarTS: 1701752500}, "2": {GetStarTS: 1701753100}},
		}},
	}}
}

func TestReconcileAnnScenario(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.rec.Reconcile(ctx, annSnapshot(), leaderboard.Selection{})
	require.NoError(t, err)
	require.Len(t, res.Sent, 1)
	assert.Empty(t, res.Failed)
	assert.Equal(t, Invite{Participant: "Ann", Recipient: ann, Year: 2023, Day: 5, Chat: chat}, res.Sent[0])

	_, ok, err := f.st.Get(ctx, storage.ClaimKey(ann, 2023, 5, chat))
	require.NoError(t, err)
	assert.True(t, ok, "claim must exist")

	require.Len(t, f.ch.Invites, 1)
	assert.Equal(t, chat, f.ch.Invites[0].ChatID)
	assert.Equal(t, 1, f.ch.Invites[0].Constraints.MemberLimit)
	msgs := f.ch.SentTo(ann)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "https://t.me/+invite")
	assert.Contains(t, msgs[0], "day 5")
}

func TestReconcileIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	sent := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.rec.Reconcile(ctx, annSnapshot(), leaderboard.Selection{})
			assert.NoError(t, err)
			mu.Lock()
			sent += len(res.Sent)
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, sent)
	assert.Len(t, f.ch.SentTo(ann), 1)

	res, err := f.rec.Reconcile(ctx, annSnapshot(), leaderboard.Selection{})
	require.NoError(t, err)
	assert.Empty(t, res.Sent)
	assert.Len(t, f.ch.Invites, 1)
}

func TestReconcileLostClaimSendsNothing(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.st.ClaimHook = func(storage.Item) (storage.ClaimResult, error) { return storage.Conflict, nil }

	res, err := f.rec.Reconcile(context.Background(), annSnapshot(), leaderboard.Selection{})
	require.NoError(t, err)
	assert.Empty(t, res.Sent)
	assert.Empty(t, res.Failed)
	assert.Equal(t, 1, f.st.Claims)
	assert.Zero(t, f.ch.Calls())
}

func TestReconcileSkipsMembersAndUnknownRecipients(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t)
	f.ch.SetMember(chat, ann, kit.StatusMember)
	res, err := f.rec.Reconcile(ctx, annSnapshot(), leaderboard.Selection{})
	require.NoError(t, err)
	assert.Empty(t, res.Sent)
	assert.Zero(t, f.st.Claims)

	g := newFixture(t)
	g.ch.KnownRecipients = map[int64]bool{}
	res, err = g.rec.Reconcile(ctx, annSnapshot(), leaderboard.Selection{})
	require.NoError(t, err)
	assert.Empty(t, res.Sent)
	assert.Empty(t, res.Failed)
	assert.Zero(t, g.st.Claims)
}

func TestReconcileProbeFailureAborts(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	boom := errors.New("connection reset")
	f.ch.MembershipErr = func(int64, int64) error { return fault.Infra("probe", boom) }

	_, err := f.rec.Reconcile(context.Background(), annSnapshot(), leaderboard.Selection{})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, fault.KindInfrastructure, fault.KindOf(err))
	assert.Zero(t, f.st.Claims)
}

func TestReconcileSiblingFailureKeepsClaimedInvite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	const (
		bob   = int64(99)
		chat6 = int64(-1006)
	)
	ids := identity.New(f.st, logx.Nop())
	require.NoError(t, ids.Link(ctx, "Bob", bob))
	require.NoError(t, ids.RegisterChannel(ctx, 2023, 6, chat6))
	f.ch.Know(bob)

	snap := annSnapshot()
	snap.Members["9"] = leaderboard.Member{ID: 9, Name: "Bob", CompletionDayLevel: map[string]map[string]leaderboard.Star{
		"6": {"1": {GetStarTS: 1701838900}, "2": {GetStarTS: 1701839500}},
	}}

	// Ann passes the claim gate, then Bob's probe fails and cancels the
	// group before Ann creates her link.
	annCtx := make(chan context.Context, 1)
	annClaiming := make(chan struct{})
	f.ch.OnMembership = func(pctx context.Context, _, recipient int64) {
		switch recipient {
		case ann:
			annCtx <- pctx
		case bob:
			<-annClaiming
		}
	}
	f.ch.MembershipErr = func(_, recipient int64) error {
		if recipient == bob {
			return fault.Infra("probe", errors.New("telegram 502"))
		}
		return nil
	}
	f.st.ClaimHook = func(item storage.Item) (storage.ClaimResult, error) {
		if item.Key == storage.ClaimKey(ann, 2023, 5, chat) {
			probed := <-annCtx
			close(annClaiming)
			select {
			case <-probed.Done():
			case <-time.After(5 * time.Second):
			}
		}
		return 0, nil
	}

	res, err := f.rec.Reconcile(ctx, snap, leaderboard.Selection{})
	require.Error(t, err)
	assert.Equal(t, fault.KindInfrastructure, fault.KindOf(err))
	require.Len(t, res.Sent, 1)
	assert.Equal(t, ann, res.Sent[0].Recipient)
	assert.Len(t, f.ch.SentTo(ann), 1)
	assert.Empty(t, f.ch.SentTo(bob))

	_, ok, err := f.st.Get(ctx, storage.ClaimKey(bob, 2023, 6, chat6))
	require.NoError(t, err)
	assert.False(t, ok, "failed tuple must stay unclaimed")
}

func TestReconcileRejectionKeepsClaim(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.ch.SendErr = func(to kit.ChatTarget) error {
		return fault.Rejected("send", fault.CodeBlocked, errors.New("bot was blocked by the user"))
	}

	res, err := f.rec.Reconcile(ctx, annSnapshot(), leaderboard.Selection{})
	require.NoError(t, err)
	assert.Empty(t, res.Sent)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, fault.CodeBlocked, res.Failed[0].Reason)

	f.ch.SendErr = nil
	res, err = f.rec.Reconcile(ctx, annSnapshot(), leaderboard.Selection{})
	require.NoError(t, err)
	assert.Empty(t, res.Sent, "claimed tuple must not be retried")
	assert.Empty(t, res.Failed)
}

func TestReconcileSelection(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.rec.Reconcile(ctx, annSnapshot(), leaderboard.Select(2024, 0))
	require.NoError(t, err)
	assert.Empty(t, res.Sent)
	res, err = f.rec.Reconcile(ctx, annSnapshot(), leaderboard.Select(2023, 6))
	require.NoError(t, err)
	assert.Empty(t, res.Sent)
	assert.Zero(t, f.ch.Probes)

	res, err = f.rec.Reconcile(ctx, annSnapshot(), leaderboard.Select(2023, 5))
	require.NoError(t, err)
	assert.Len(t, res.Sent, 1)
}

func TestNewRejectsBadTemplate(t *testing.T) {
	t.Parallel()
	_, err := New(storage.NewMemory(0), transporttest.New(), nil, Config{Text: "{{.Name"}, logx.Nop())
	assert.Error(t, err)
}
