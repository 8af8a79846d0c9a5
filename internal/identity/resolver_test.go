package identity

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aocbot/internal/storage"
	"aocbot/internal/storage/storagetest"
	logx "aocbot/pkg/logx"
)

func newResolver(t *testing.T) (*Resolver, *storagetest.Counting) {
	t.Helper()
	st := storagetest.Wrap(storage.NewMemory(100))
	return New(st, logx.Nop()), st
}

func TestResolveRecipientsWindows(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, st := newResolver(t)

	names := make([]string, 0, 250)
	for i := 0; i < 250; i++ {
		n := fmt.Sprintf("coder-%03d", i)
		names = append(names, n)
		if i%5 == 0 {
			require.NoError(t, r.Link(ctx, n, int64(1000+i)))
		}
	}
	st.Reset()

	got, err := r.ResolveRecipients(ctx, names)
	require.NoError(t, err)
	assert.Len(t, got, 50)
	assert.Equal(t, int64(1005), got["coder-005"])
	_, ok := got["coder-001"]
	assert.False(t, ok)
	assert.Equal(t, []int{100, 100, 50}, st.Batches())
}

func TestResolveChannelsAndKnownDays(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, _ := newResolver(t)

	require.NoError(t, r.RegisterChannel(ctx, 2023, 5, -1005))
	require.NoError(t, r.RegisterChannel(ctx, 2023, 12, -1012))
	require.NoError(t, r.RegisterChannel(ctx, 2024, 1, -2001))

	got, err := r.ResolveChannels(ctx, 2023, []int{5, 6, 12})
	require.NoError(t, err)
	assert.Equal(t, map[int]int64{5: -1005, 12: -1012}, got)

	days, err := r.KnownDays(ctx, 2023)
	require.NoError(t, err)
	assert.Equal(t, []int{5, 12}, days)

	years, err := r.KnownYears(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{2023, 2024}, years)
}

func TestRegisterChannelIsImmutable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, _ := newResolver(t)

	require.NoError(t, r.RegisterChannel(ctx, 2023, 5, -1))
	assert.ErrorIs(t, r.RegisterChannel(ctx, 2023, 5, -2), ErrChannelTaken)
	assert.ErrorIs(t, r.RegisterChannel(ctx, 2023, 5, -1), ErrChannelTaken)

	got, err := r.ResolveChannels(ctx, 2023, []int{5})
	require.NoError(t, err)
	assert.Equal(t, int64(-1), got[5])
}

func TestLinkReplacesBothDirections(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, _ := newResolver(t)

	require.NoError(t, r.Link(ctx, "Ann", 1))
	require.NoError(t, r.Link(ctx, "Annie", 1))

	got, err := r.ResolveRecipients(ctx, []string{"Ann", "Annie"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"Annie": 1}, got)

	require.NoError(t, r.Link(ctx, "Annie", 2))
	name, ok, err := r.NameOf(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok, "old recipient still named %q", name)
	name, ok, err = r.NameOf(ctx, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Annie", name)

	assert.ErrorIs(t, r.Link(ctx, "  ", 3), ErrEmptyName)
}

func TestLinkUnchangedPairWritesNothing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, st := newResolver(t)
	require.NoError(t, r.Link(ctx, "Ann", 1))

	before, ok, err := st.Get(ctx, storage.NameKey("Ann"))
	require.NoError(t, err)
	require.True(t, ok)
	st.Reset()
	require.NoError(t, r.Link(ctx, "Ann", 1))
	assert.Zero(t, st.Puts)
	assert.Zero(t, st.Deletes)

	after, _, err := st.Get(ctx, storage.NameKey("Ann"))
	require.NoError(t, err)
	assert.Equal(t, before, after)
	name, ok, err := r.NameOf(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Ann", name)
}
