package session

import "time"

// DateWindow computes the candidate date window for a week selection.
//
//   - weeks == 0: [today, the coming Sunday]. If today already is Sunday the
//     window is that single day.
//   - weeks > 0: a full Monday..Sunday week, weeks weeks after the Monday of
//     the current week, regardless of today's weekday.
func DateWindow(today time.Time, weeks int) (start, end time.Time) {
	today = truncateDay(today)

	if weeks <= 0 {
		daysToSunday := 7 - isoWeekday(today)
		if daysToSunday < 0 {
			daysToSunday = 0
		}
		return today, today.AddDate(0, 0, daysToSunday)
	}

	monday := today.AddDate(0, 0, -(isoWeekday(today) - 1))
	start = monday.AddDate(0, 0, 7*weeks)
	return start, start.AddDate(0, 0, 6)
}

// isoWeekday maps Monday=1 .. Sunday=7.
func isoWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
