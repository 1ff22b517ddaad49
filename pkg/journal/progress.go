package journal

import (
	"strings"
	"time"
)

// Status is the synchronization state of one journal day.
type Status string

const (
	NotTried  Status = "NotTried"
	Check1    Status = "Check1"
	Check2    Status = "Check2"
	NoContent Status = "NoContent"
	Done      Status = "Done"
)

// Known reports whether s is one of the statuses above. Anything else, such
// as a record written by another tool, is treated as NotTried.
func (s Status) Known() bool {
	switch s {
	case NotTried, Check1, Check2, NoContent, Done:
		return true
	}
	return false
}

// Terminal reports whether a day in this status is never fetched again.
func (s Status) Terminal() bool {
	return s == NoContent || s == Done
}

// Checking reports whether the day is waiting for a re-check.
func (s Status) Checking() bool {
	return strings.HasPrefix(string(s), "Check")
}

// DayProgress records where a day stands.
type DayProgress struct {
	Status        Status    `json:"status"`
	LastCheckedAt time.Time `json:"lastCheckedAt"`
}

// Progress maps day keys (yyyy-MM-dd, UTC) to their state. It is owned by
// the caller and round-tripped across passes.
type Progress map[string]DayProgress

// DayKey returns the progress key of the UTC day containing t.
func DayKey(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

// StartOfDay truncates t to midnight UTC.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// afterMerge returns the status after a fetch that returned content of which
// appended segments were new.
func (s Status) afterMerge(appended int, today bool) Status {
	if appended > 0 {
		return Check1
	}
	switch s {
	case NotTried:
		return Check1
	case Check1:
		if today {
			return Check1
		}
		return Check2
	case Check2:
		if today {
			return Check1
		}
		return Done
	default:
		return s
	}
}

func (s Status) afterNoContent(today bool) Status {
	if today {
		return Check1
	}
	return NoContent
}
