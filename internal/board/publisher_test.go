package board

import (
	"context"
	"errors"
	"strconv"
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
	chat5 = int64(-1005)
	chat6 = int64(-1006)
)

type fixture struct {
	st  *storagetest.Counting
	ch  *transporttest.Fake
	ids *identity.Resolver
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	st := storagetest.Wrap(storage.NewMemory(100))
	ids := identity.New(st, logx.Nop())
	require.NoError(t, ids.RegisterChannel(ctx, 2023, 5, chat5))
	require.NoError(t, ids.RegisterChannel(ctx, 2023, 6, chat6))
	st.Reset()
	return fixture{st: st, ch: transporttest.New(), ids: ids}
}

func (f fixture) publisher() *Publisher {
	return New(f.st, f.ch, f.ids, TextRenderer{}, Config{Workers: 2}, logx.Nop())
}

func both(p1, p2 int64) map[string]leaderboard.Star {
	return map[string]leaderboard.Star{"1": {GetStarTS: p1}, "2": {GetStarTS: p2}}
}

func snapshot(extra ...leaderboard.Member) leaderboard.Snapshot {
	s := leaderboard.Snapshot{Event: "2023", Members: map[string]leaderboard.Member{
		"1": {ID: 1, Name: "Ann", CompletionDayLevel: map[string]map[string]leaderboard.Star{"5": both(day5Unlock+60, day5Unlock+120)}},
		"2": {ID: 2, Name: "Bob", CompletionDayLevel: map[string]map[string]leaderboard.Star{"6": both(day5Unlock+86400+60, day5Unlock+86400+90)}},
	}}
	for _, m := range extra {
		s.Members[strconv.FormatInt(m.ID, 10)] = m
	}
	return s
}

func TestPublishCreatesAndPins(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.publisher().Publish(ctx, snapshot(), leaderboard.Selection{})
	require.NoError(t, err)
	require.Len(t, res.Created, 2)
	assert.Empty(t, res.Updated)
	assert.Empty(t, res.Failed)
	assert.Equal(t, 5, res.Created[0].Day)
	assert.Len(t, f.ch.Sent, 2)
	assert.Len(t, f.ch.Pinned, 2)

	rec, ok, err := f.st.Get(ctx, storage.BoardKey(chat5))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, strconv.Itoa(res.Created[0].MessageID), rec.Attrs[storage.AttrMessageID])
	text, err := TextRenderer{}.Render(2023, 5, snapshot())
	require.NoError(t, err)
	assert.Equal(t, Fingerprint(text), rec.Attrs[storage.AttrFingerprint])
}

func TestPublishUnchangedIsNoop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	pub := f.publisher()
	_, err := pub.Publish(ctx, snapshot(), leaderboard.Selection{})
	require.NoError(t, err)

	f.st.Reset()
	calls := f.ch.Calls()
	res, err := pub.Publish(ctx, snapshot(), leaderboard.Selection{})
	require.NoError(t, err)
	assert.Empty(t, res.Created)
	assert.Empty(t, res.Updated)
	assert.Zero(t, f.st.Writes())
	assert.Equal(t, calls, f.ch.Calls())
}

func TestPublishUpdatesChangedBoard(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	pub := f.publisher()
	first, err := pub.Publish(ctx, snapshot(), leaderboard.Selection{})
	require.NoError(t, err)

	carol := leaderboard.Member{ID: 3, Name: "Carol", CompletionDayLevel: map[string]map[string]leaderboard.Star{"5": both(day5Unlock+30, day5Unlock+45)}}
	res, err := pub.Publish(ctx, snapshot(carol), leaderboard.Selection{})
	require.NoError(t, err)
	require.Len(t, res.Updated, 1)
	assert.Equal(t, 5, res.Updated[0].Day)
	require.Len(t, f.ch.Edited, 1)
	assert.Equal(t, first.Created[0].MessageID, f.ch.Edited[0].Ref.MessageID)
	assert.Contains(t, f.ch.Edited[0].Text, "Carol")
	assert.Len(t, f.ch.Sent, 2, "update must not send a new message")
}

func TestPublishConcurrentUpdateEditsOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.st.Put(ctx, storage.Item{Key: storage.BoardKey(chat5), Attrs: map[string]string{
		storage.AttrMessageID: "77", storage.AttrFingerprint: "stale", storage.AttrYear: "2023", storage.AttrDay: "5",
	}}))

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.publisher().Publish(ctx, snapshot(), leaderboard.Select(2023, 5))
			assert.NoError(t, err)
		}()
	}
	close(start)
	wg.Wait()
	assert.Len(t, f.ch.Edited, 1)
	assert.Empty(t, f.ch.Sent)
}

type fixedRenderer string

func (r fixedRenderer) Render(int, int, leaderboard.Snapshot) (string, error) { return string(r), nil }

func TestPublishRacingDifferentFingerprintsEditOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	stale := storage.Item{Key: storage.BoardKey(chat5), Attrs: map[string]string{
		storage.AttrMessageID: "77", storage.AttrFingerprint: "stale", storage.AttrYear: "2023", storage.AttrDay: "5",
	}}
	require.NoError(t, f.st.Put(ctx, stale))
	b := Board{Year: 2023, Day: 5, Chat: chat5}

	// Both racers read the same stale record before either writes.
	first := New(f.st, f.ch, f.ids, fixedRenderer("board A"), Config{}, logx.Nop())
	second := New(f.st, f.ch, f.ids, fixedRenderer("board B"), Config{}, logx.Nop())
	out, _, err := first.publishOne(ctx, b, snapshot(), stale, true)
	require.NoError(t, err)
	assert.Equal(t, updated, out)
	out, _, err = second.publishOne(ctx, b, snapshot(), stale, true)
	require.NoError(t, err)
	assert.Equal(t, skipped, out)

	require.Len(t, f.ch.Edited, 1)
	assert.Equal(t, "board A", f.ch.Edited[0].Text)
	rec, _, err := f.st.Get(ctx, stale.Key)
	require.NoError(t, err)
	assert.Equal(t, Fingerprint("board A"), rec.Attrs[storage.AttrFingerprint])
}

func TestPublishConcurrentCreateSendsOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.publisher().Publish(ctx, snapshot(), leaderboard.Select(2023, 5))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Len(t, f.ch.SentTo(chat5), 1)
}

func TestPublishIsolatesChannelFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.ch.SendErr = func(to kit.ChatTarget) error {
		if to.ChatID == chat6 {
			return fault.Infra("send", errors.New("timeout"))
		}
		return nil
	}

	res, err := f.publisher().Publish(ctx, snapshot(), leaderboard.Selection{})
	require.NoError(t, err)
	require.Len(t, res.Created, 1)
	assert.Equal(t, chat5, res.Created[0].Chat)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, chat6, res.Failed[0].Chat)
	assert.Equal(t, "infrastructure", res.Failed[0].Reason)

	rec, ok, err := f.st.Get(ctx, storage.BoardKey(chat6))
	require.NoError(t, err)
	require.True(t, ok)
	_, locked := rec.Attr(storage.AttrLockedAt)
	assert.False(t, locked, "failed create must expire its lock")
	_, hasMsg := rec.Attr(storage.AttrMessageID)
	assert.False(t, hasMsg)

	f.ch.SendErr = nil
	res, err = f.publisher().Publish(ctx, snapshot(), leaderboard.Selection{})
	require.NoError(t, err)
	require.Len(t, res.Created, 1)
	assert.Equal(t, chat6, res.Created[0].Chat)
}

func TestPublishHonorsAndTakesOverLocks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	now := time.Date(2023, 12, 6, 12, 0, 0, 0, time.UTC)
	pub := f.publisher()
	pub.now = func() time.Time { return now }

	lock := func(at time.Time) {
		require.NoError(t, f.st.Put(ctx, storage.Item{Key: storage.BoardKey(chat5), Attrs: map[string]string{
			storage.AttrYear: "2023", storage.AttrDay: "5", storage.AttrLockedAt: at.Format(time.RFC3339Nano),
		}}))
	}

	lock(now.Add(-time.Minute))
	res, err := pub.Publish(ctx, snapshot(), leaderboard.Select(2023, 5))
	require.NoError(t, err)
	assert.Empty(t, res.Created)
	assert.Zero(t, f.ch.Calls())

	lock(now.Add(-time.Hour))
	res, err = pub.Publish(ctx, snapshot(), leaderboard.Select(2023, 5))
	require.NoError(t, err)
	require.Len(t, res.Created, 1)
	assert.Len(t, f.ch.SentTo(chat5), 1)
}

func TestPublishFailedSendKeepsSuccessorLock(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	successor := storage.Item{Key: storage.BoardKey(chat5), Attrs: map[string]string{
		storage.AttrYear: "2023", storage.AttrDay: "5", storage.AttrLockedAt: "2099-01-01T00:00:00Z",
	}}
	// Another run takes the lock over while this run's send is failing.
	f.ch.SendErr = func(kit.ChatTarget) error {
		assert.NoError(t, f.st.Put(ctx, successor))
		return fault.Infra("send", errors.New("timeout"))
	}

	res, err := f.publisher().Publish(ctx, snapshot(), leaderboard.Select(2023, 5))
	require.NoError(t, err)
	require.Len(t, res.Failed, 1)

	rec, ok, err := f.st.Get(ctx, storage.BoardKey(chat5))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, successor.Attrs, rec.Attrs)
}

func TestPublishRecordsMessageWhenPinFails(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.ch.PinErr = func(kit.MessageRef) error { return fault.Infra("pin", errors.New("timeout")) }

	res, err := f.publisher().Publish(ctx, snapshot(), leaderboard.Select(2023, 5))
	require.NoError(t, err)
	require.Len(t, res.Failed, 1)
	assert.NotZero(t, res.Failed[0].MessageID)

	rec, ok, err := f.st.Get(ctx, storage.BoardKey(chat5))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, strconv.Itoa(res.Failed[0].MessageID), rec.Attrs[storage.AttrMessageID])

	f.ch.PinErr = nil
	_, err = f.publisher().Publish(ctx, snapshot(), leaderboard.Select(2023, 5))
	require.NoError(t, err)
	assert.Len(t, f.ch.SentTo(chat5), 1, "recorded board must not be resent")
}

func TestPublishToleratesRejectedPinAndNotModified(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.ch.PinErr = func(kit.MessageRef) error {
		return fault.Rejected("pin", fault.CodeInvalidState, errors.New("not enough rights"))
	}
	res, err := f.publisher().Publish(ctx, snapshot(), leaderboard.Select(2023, 5))
	require.NoError(t, err)
	require.Len(t, res.Created, 1)

	require.NoError(t, f.st.Put(ctx, storage.Item{Key: storage.BoardKey(chat5), Attrs: map[string]string{
		storage.AttrMessageID: "1", storage.AttrFingerprint: "stale",
	}}))
	f.ch.EditErr = func(kit.MessageRef) error {
		return fault.Rejected("edit", fault.CodeNotModified, errors.New("message is not modified"))
	}
	res, err = f.publisher().Publish(ctx, snapshot(), leaderboard.Select(2023, 5))
	require.NoError(t, err)
	assert.Len(t, res.Updated, 1)
	assert.Empty(t, res.Failed)
}

func TestPublishSelection(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	pub := f.publisher()

	res, err := pub.Publish(ctx, snapshot(), leaderboard.Select(2022, 0))
	require.NoError(t, err)
	assert.Empty(t, res.Created)
	assert.Zero(t, f.ch.Calls())

	res, err = pub.Publish(ctx, snapshot(), leaderboard.Select(2023, 6))
	require.NoError(t, err)
	require.Len(t, res.Created, 1)
	assert.Equal(t, 6, res.Created[0].Day)
	assert.Empty(t, f.ch.SentTo(chat5))
}

func TestPublishResolutionFailureIsReturned(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	require.NoError(t, f.st.Store.Close())
	_, err := f.publisher().Publish(context.Background(), snapshot(), leaderboard.Selection{})
	assert.Error(t, err)
}
