package ticktick

import "time"

// Due filter names accepted by ListTasks.
const (
	DueToday    = "today"
	DueTomorrow = "tomorrow"
	DueOverdue  = "overdue"
	DueThisWeek = "this_week"
)

// ValidDueFilter reports whether f names a supported filter.
func ValidDueFilter(f string) bool {
	switch f {
	case DueToday, DueTomorrow, DueOverdue, DueThisWeek:
		return true
	}
	return false
}

// matchesDueFilter compares calendar dates, not instants: the task's due
// day is the date prefix of its own timezone-qualified due string, and
// "today" is computed in that same zone (UTC when the zone is absent or
// unknown). A task due 23:00 local still counts as today in its zone even
// if that instant is already tomorrow in UTC.
func matchesDueFilter(t *Task, filter string, now time.Time) bool {
	if len(t.DueDate) < 10 {
		return false
	}
	dueDay := t.DueDate[:10]

	loc := time.UTC
	if t.TimeZone != "" {
		if l, err := time.LoadLocation(t.TimeZone); err == nil {
			loc = l
		}
	}
	today := now.In(loc)
	day := func(offset int) string {
		return today.AddDate(0, 0, offset).Format("2006-01-02")
	}

	switch filter {
	case DueToday:
		return dueDay == day(0)
	case DueTomorrow:
		return dueDay == day(1)
	case DueOverdue:
		// Lexicographic comparison works for ISO dates.
		return dueDay < day(0)
	case DueThisWeek:
		return dueDay >= day(0) && dueDay <= day(6)
	}
	return false
}
