package leaderboard

import "strconv"

// Selection narrows a reconciliation. The zero value selects everything.
type Selection struct {
	Year *int
	Day  *int
}

func Select(year, day int) Selection {
	var s Selection
	if year > 0 {
		s.Year = &year
	}
	if day > 0 {
		s.Day = &day
	}
	return s
}

// IncludesYear reports whether year passes the year filter.
func (s Selection) IncludesYear(year int) bool { return s.Year == nil || *s.Year == year }

func (s Selection) String() string {
	switch {
	case s.Year != nil && s.Day != nil:
		return strconv.Itoa(*s.Year) + "/" + strconv.Itoa(*s.Day)
	case s.Year != nil:
		return strconv.Itoa(*s.Year)
	case s.Day != nil:
		return "*/" + strconv.Itoa(*s.Day)
	default:
		return "all"
	}
}
