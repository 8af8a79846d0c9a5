package reconcile

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aocbot/internal/board"
	"aocbot/internal/eventbus"
	"aocbot/internal/fault"
	"aocbot/internal/invite"
	"aocbot/internal/leaderboard"
	kit "aocbot/internal/transport"
	"aocbot/internal/transport/transporttest"
	logx "aocbot/pkg/logx"
)

type fetcherFunc func(ctx context.Context, year int) (leaderboard.Snapshot, error)

func (f fetcherFunc) Fetch(ctx context.Context, year int) (leaderboard.Snapshot, error) {
	return f(ctx, year)
}

type inviterFunc func(ctx context.Context, snap leaderboard.Snapshot, sel leaderboard.Selection) (invite.Result, error)

func (f inviterFunc) Reconcile(ctx context.Context, snap leaderboard.Snapshot, sel leaderboard.Selection) (invite.Result, error) {
	return f(ctx, snap, sel)
}

type publisherFunc func(ctx context.Context, snap leaderboard.Snapshot, sel leaderboard.Selection) (board.Result, error)

func (f publisherFunc) Publish(ctx context.Context, snap leaderboard.Snapshot, sel leaderboard.Selection) (board.Result, error) {
	return f(ctx, snap, sel)
}

type staticYears []int

func (s staticYears) KnownYears(context.Context) ([]int, error) { return s, nil }

type recordingAudit struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (a *recordingAudit) Record(_ context.Context, e eventbus.Event) {
	a.mu.Lock()
	a.events = append(a.events, e)
	a.mu.Unlock()
}

func (a *recordingAudit) ofType(t string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, e := range a.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func fetchOK(failYears ...int) Fetcher {
	return fetcherFunc(func(_ context.Context, year int) (leaderboard.Snapshot, error) {
		for _, y := range failYears {
			if y == year {
				return leaderboard.Snapshot{}, errors.New("leaderboard returned 502 Bad Gateway")
			}
		}
		return leaderboard.Snapshot{Event: strconv.Itoa(year)}, nil
	})
}

func yearOf(snap leaderboard.Snapshot) int {
	y, _ := snap.Year()
	return y
}

func sendsOne() Inviter {
	return inviterFunc(func(_ context.Context, snap leaderboard.Snapshot, _ leaderboard.Selection) (invite.Result, error) {
		return invite.Result{Sent: []invite.Invite{{Participant: "Ann", Year: yearOf(snap), Day: 1}}}, nil
	})
}

func createsOne() Publisher {
	return publisherFunc(func(_ context.Context, snap leaderboard.Snapshot, _ leaderboard.Selection) (board.Result, error) {
		return board.Result{Created: []board.Board{{Year: yearOf(snap), Day: 1, Chat: -1}}}, nil
	})
}

func TestRunIsolatesYears(t *testing.T) {
	t.Parallel()
	audit := &recordingAudit{}
	o := New(fetchOK(2022), sendsOne(), createsOne(), staticYears{2021, 2022, 2023}, audit, logx.Nop())

	res := o.Run(context.Background(), Request{})
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, []int{2022}, res.Unretrieved)
	require.Len(t, res.Sent, 2)
	assert.Equal(t, 2021, res.Sent[0].Year)
	assert.Equal(t, 2023, res.Sent[1].Year)
	assert.Len(t, res.Created, 2)
	assert.Empty(t, res.Errored)
	assert.Equal(t, 2, audit.ofType(eventbus.TypeInviteSent))
	assert.Equal(t, 2, audit.ofType(eventbus.TypeBoardCreated))
	assert.Equal(t, 1, audit.ofType(eventbus.TypeRunFinished))
}

func TestRunDropsFailedPipelineButAuditsDoneWork(t *testing.T) {
	t.Parallel()
	audit := &recordingAudit{}
	inv := inviterFunc(func(_ context.Context, snap leaderboard.Snapshot, _ leaderboard.Selection) (invite.Result, error) {
		if yearOf(snap) == 2023 {
			partial := invite.Result{Sent: []invite.Invite{{Participant: "Ann", Year: 2023, Day: 2}}}
			return partial, fault.Infra("probe", errors.New("connection refused"))
		}
		return invite.Result{Sent: []invite.Invite{{Participant: "Bob", Year: yearOf(snap), Day: 3}}}, nil
	})
	o := New(fetchOK(), inv, createsOne(), nil, audit, logx.Nop())

	res := o.Run(context.Background(), Request{Years: []int{2023, 2024}})
	require.Len(t, res.Sent, 1)
	assert.Equal(t, "Bob", res.Sent[0].Participant)
	require.Len(t, res.Errored, 1)
	assert.Equal(t, Failure{Year: 2023, Stage: StageInvite, Error: res.Errored[0].Error}, res.Errored[0])
	assert.Contains(t, res.Errored[0].Error, "connection refused")
	assert.Len(t, res.Created, 2, "board pipeline of the failed year still counts")
	assert.Equal(t, 2, audit.ofType(eventbus.TypeInviteSent))
}

func TestRunSelectionRestrictsYears(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var fetched []int
	fetch := fetcherFunc(func(_ context.Context, year int) (leaderboard.Snapshot, error) {
		mu.Lock()
		fetched = append(fetched, year)
		mu.Unlock()
		return leaderboard.Snapshot{Event: strconv.Itoa(year)}, nil
	})
	var gotSel leaderboard.Selection
	inv := inviterFunc(func(_ context.Context, _ leaderboard.Snapshot, sel leaderboard.Selection) (invite.Result, error) {
		mu.Lock()
		gotSel = sel
		mu.Unlock()
		return invite.Result{}, nil
	})
	o := New(fetch, inv, createsOne(), staticYears{2022, 2023}, nil, logx.Nop())

	o.Run(context.Background(), Request{Selection: leaderboard.Select(2023, 4)})
	assert.Equal(t, []int{2023}, fetched)
	require.NotNil(t, gotSel.Day)
	assert.Equal(t, 4, *gotSel.Day)

	fetched = nil
	o.Run(context.Background(), Request{Years: []int{2022, 2023, 2023}, Selection: leaderboard.Select(2022, 0)})
	assert.Equal(t, []int{2022}, fetched)
}

func TestAuditForwarderSwallowsFailures(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch := transporttest.New()
	var calls int
	var mu sync.Mutex
	ch.SendErr = func(kit.ChatTarget) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return fault.Infra("send", errors.New("timeout"))
		}
		return nil
	}
	fwd := NewAuditForwarder(bus, ch, kit.ChatTarget{ChatID: -500}, 100, logx.Nop())
	fwd.Start(context.Background())

	audit := BusAudit{Bus: bus}
	audit.Record(context.Background(), eventbus.Event{Type: eventbus.TypeInviteSent, Text: "first"})
	audit.Record(context.Background(), eventbus.Event{Type: eventbus.TypeInviteSent, Text: "second"})
	audit.Record(context.Background(), eventbus.Event{Type: eventbus.TypeRunFinished})

	assert.Eventually(t, func() bool { return len(ch.SentTo(-500)) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"second"}, ch.SentTo(-500))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, fwd.Stop(ctx))
}

func TestResultSummary(t *testing.T) {
	t.Parallel()
	r := Result{
		Sent:        []invite.Invite{{}},
		Unretrieved: []int{2019},
		Errored:     []Failure{{Year: 2020, Stage: StageBoard, Error: "boom"}},
	}
	s := r.Summary()
	assert.Contains(t, s, "invites sent 1")
	assert.Contains(t, s, "unretrieved years: [2019]")
	assert.Contains(t, s, "board 2020: boom")
}
