package leaderboard

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Completion is one qualifying (participant, day) pair.
type Completion struct {
	Participant string
	Day         int
	Parts       []int
	Part1At     time.Time
	Part2At     time.Time // zero when only part 1 is done
}

// Extract returns the completions in snap, optionally restricted to one day.
// A day qualifies when both parts are done, except the final day of the
// event, which qualifies with part 1 alone.
func Extract(snap Snapshot, dayFilter *int) ([]Completion, error) {
	year, err := snap.Year()
	if err != nil {
		return nil, err
	}
	final := FinalDay(year)
	if dayFilter != nil && (*dayFilter < 1 || *dayFilter > final) {
		return nil, fmt.Errorf("%w: day filter %d outside 1..%d", ErrMalformed, *dayFilter, final)
	}

	var out []Completion
	for key, m := range snap.Members {
		if m.ID == 0 {
			id, err := strconv.ParseInt(key, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: member key %q", ErrMalformed, key)
			}
			m.ID = id
		}
		for ds, parts := range m.CompletionDayLevel {
			day, err := strconv.Atoi(ds)
			if err != nil || day < 1 || day > final {
				return nil, fmt.Errorf("%w: member %d day %q", ErrMalformed, m.ID, ds)
			}
			c := Completion{Participant: m.DisplayName(), Day: day}
			for ps, star := range parts {
				switch ps {
				case "1":
					c.Part1At = time.Unix(star.GetStarTS, 0).UTC()
				case "2":
					c.Part2At = time.Unix(star.GetStarTS, 0).UTC()
				default:
					return nil, fmt.Errorf("%w: member %d day %d part %q", ErrMalformed, m.ID, day, ps)
				}
			}
			if dayFilter != nil && day != *dayFilter {
				continue
			}
			_, has1 := parts["1"]
			_, has2 := parts["2"]
			switch {
			case has1 && has2:
				c.Parts = []int{1, 2}
			case has1 && day == final:
				c.Parts = []int{1}
			default:
				continue
			}
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Day != out[j].Day {
			return out[i].Day < out[j].Day
		}
		return out[i].Participant < out[j].Participant
	})
	return out, nil
}

// Days returns the distinct days present in cs, ascending.
func Days(cs []Completion) []int {
	seen := map[int]bool{}
	var out []int
	for _, c := range cs {
		if !seen[c.Day] {
			seen[c.Day] = true
			out = append(out, c.Day)
		}
	}
	sort.Ints(out)
	return out
}
