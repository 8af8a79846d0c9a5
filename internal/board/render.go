package board

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"aocbot/internal/leaderboard"
)

// Renderer turns one day of a snapshot into board text. Implementations must
// be deterministic: equal input yields equal text, so fingerprints stay stable.
type Renderer interface {
	Render(year, day int, snap leaderboard.Snapshot) (string, error)
}

// Fingerprint is the hex sha256 of text.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// unlockZone is the site's puzzle release zone (midnight EST = 05:00 UTC).
var unlockZone = time.FixedZone("EST", -5*60*60)

func unlockAt(year, day int) time.Time {
	return time.Date(year, time.December, day, 0, 0, 0, 0, unlockZone)
}

// TextRenderer renders a plain-text ranking of qualifying participants,
// ordered by the time they finished the day.
type TextRenderer struct {
	Header string
}

func (r TextRenderer) Render(year, day int, snap leaderboard.Snapshot) (string, error) {
	cs, err := leaderboard.Extract(snap, &day)
	if err != nil {
		return "", err
	}
	sort.SliceStable(cs, func(i, j int) bool {
		fi, fj := finishedAt(cs[i]), finishedAt(cs[j])
		if !fi.Equal(fj) {
			return fi.Before(fj)
		}
		return cs[i].Participant < cs[j].Participant
	})

	var b strings.Builder
	fmt.Fprintf(&b, "Advent of Code %d, day %d\n", year, day)
	if h := strings.TrimSpace(r.Header); h != "" {
		b.WriteString(h)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	if len(cs) == 0 {
		b.WriteString("No completions yet.\n")
		return b.String(), nil
	}

	open := unlockAt(year, day)
	width := 0
	for _, c := range cs {
		width = max(width, len([]rune(c.Participant)))
	}
	for i, c := range cs {
		fmt.Fprintf(&b, "%2d. %-*s  %s", i+1, width, c.Participant, clock(c.Part1At.Sub(open)))
		if c.Part2At.IsZero() {
			b.WriteString("  --:--:--\n")
			continue
		}
		fmt.Fprintf(&b, "  %s  (+%s)\n", clock(c.Part2At.Sub(open)), clock(c.Part2At.Sub(c.Part1At)))
	}
	return b.String(), nil
}

func finishedAt(c leaderboard.Completion) time.Time {
	if c.Part2At.IsZero() {
		return c.Part1At
	}
	return c.Part2At
}

// clock formats d as HH:MM:SS; hours grow past 24 for late solves.
func clock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	s := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, (s/60)%60, s%60)
}
