// Package leaderboard models the Advent of Code private leaderboard and
// derives qualifying completions from it.
package leaderboard

import (
	"errors"
	"strconv"
)

var ErrMalformed = errors.New("leaderboard: malformed snapshot")

// Snapshot is the decoded private leaderboard JSON for one event.
type Snapshot struct {
	Event   string            `json:"event"`
	OwnerID int64             `json:"owner_id"`
	Members map[string]Member `json:"members"`
}

type Member struct {
	ID                 int64                      `json:"id"`
	Name               string                     `json:"name"`
	Stars              int                        `json:"stars"`
	LocalScore         int                        `json:"local_score"`
	LastStarTS         int64                      `json:"last_star_ts"`
	CompletionDayLevel map[string]map[string]Star `json:"completion_day_level"`
}

type Star struct {
	GetStarTS int64 `json:"get_star_ts"`
	StarIndex int64 `json:"star_index,omitempty"`
}

// DisplayName is the name the site shows; members without one are anonymous.
func (m Member) DisplayName() string {
	if m.Name != "" {
		return m.Name
	}
	return "anonymous user #" + strconv.FormatInt(m.ID, 10)
}

// Year parses the event field.
func (s Snapshot) Year() (int, error) {
	y, err := strconv.Atoi(s.Event)
	if err != nil || y < 2015 {
		return 0, errors.Join(ErrMalformed, errors.New("event "+strconv.Quote(s.Event)))
	}
	return y, nil
}

// FinalDay is the last puzzle day of an event. From 2025 on the event runs
// twelve days.
func FinalDay(year int) int {
	if year >= 2025 {
		return 12
	}
	return 25
}
