package board

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aocbot/internal/leaderboard"
)

const day5Unlock = int64(1701752400) // 2023-12-05 00:00 EST

func goldenSnapshot() leaderboard.Snapshot {
	day := func(p1, p2 int64) map[string]map[string]leaderboard.Star {
		parts := map[string]leaderboard.Star{"1": {GetStarTS: day5Unlock + p1}}
		if p2 > 0 {
			parts["2"] = leaderboard.Star{GetStarTS: day5Unlock + p2}
		}
		return map[string]map[string]leaderboard.Star{"5": parts}
	}
	return leaderboard.Snapshot{Event: "2023", Members: map[string]leaderboard.Member{
		"1": {ID: 1, Name: "Ann", CompletionDayLevel: day(600, 1530)},
		"2": {ID: 2, Name: "Bob", CompletionDayLevel: day(300, 3723)},
		"3": {ID: 3, Name: "Carol", CompletionDayLevel: day(7200, 0)},
		"9": {ID: 9, CompletionDayLevel: day(1800, 93600)},
	}}
}

func TestTextRendererGolden(t *testing.T) {
	t.Parallel()
	text, err := TextRenderer{Header: "Happy hacking!"}.Render(2023, 5, goldenSnapshot())
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "board_day5", []byte(text))
}

func TestTextRendererFinalDayAndEmpty(t *testing.T) {
	t.Parallel()
	final := int64(1703480400) // 2023-12-25 00:00 EST
	snap := leaderboard.Snapshot{Event: "2023", Members: map[string]leaderboard.Member{
		"1": {ID: 1, Name: "Ann", CompletionDayLevel: map[string]map[string]leaderboard.Star{
			"25": {"1": {GetStarTS: final + 600}},
		}},
	}}
	text, err := TextRenderer{}.Render(2023, 25, snap)
	require.NoError(t, err)
	assert.Equal(t, "Advent of Code 2023, day 25\n\n 1. Ann  00:10:00  --:--:--\n", text)

	text, err = TextRenderer{}.Render(2023, 3, snap)
	require.NoError(t, err)
	assert.Contains(t, text, "No completions yet.")
}

func TestFingerprintIsStable(t *testing.T) {
	t.Parallel()
	a, b := Fingerprint("board"), Fingerprint("board")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, Fingerprint("board!"))
}
