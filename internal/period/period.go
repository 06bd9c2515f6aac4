package period

import (
	"fmt"
	"strings"
	"time"

	"blankpos/backend/internal/domain"
)

var All = []domain.Period{
	domain.PeriodDaily,
	domain.PeriodWeekly,
	domain.PeriodMonthly,
	domain.PeriodYearly,
}

func Parse(raw string) (domain.Period, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" {
		return domain.PeriodDaily, nil
	}
	for _, p := range All {
		if string(p) == value {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown period %q", raw)
}

// Window returns the calendar-aligned [start, end) range containing now,
// evaluated in now's location. Weeks run Sunday through Saturday.
func Window(p domain.Period, now time.Time) (time.Time, time.Time) {
	loc := now.Location()
	y, m, d := now.Date()

	switch p {
	case domain.PeriodWeekly:
		offset := int(now.Weekday())
		start := time.Date(y, m, d-offset, 0, 0, 0, 0, loc)
		return start, time.Date(y, m, d-offset+7, 0, 0, 0, 0, loc)
	case domain.PeriodMonthly:
		return time.Date(y, m, 1, 0, 0, 0, 0, loc), time.Date(y, m+1, 1, 0, 0, 0, 0, loc)
	case domain.PeriodYearly:
		return time.Date(y, time.January, 1, 0, 0, 0, 0, loc), time.Date(y+1, time.January, 1, 0, 0, 0, 0, loc)
	default:
		return time.Date(y, m, d, 0, 0, 0, 0, loc), time.Date(y, m, d+1, 0, 0, 0, 0, loc)
	}
}

func Contains(p domain.Period, at time.Time, now time.Time) bool {
	start, end := Window(p, now)
	at = at.In(now.Location())
	return !at.Before(start) && at.Before(end)
}
