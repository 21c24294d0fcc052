package session

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestDateWindow(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		today time.Time
		weeks int
		start time.Time
		end   time.Time
	}{
		{
			name:  "this week from wednesday",
			today: date(2025, time.September, 3), // Wed
			weeks: 0,
			start: date(2025, time.September, 3),
			end:   date(2025, time.September, 7), // coming Sunday
		},
		{
			name:  "this week from monday",
			today: date(2025, time.September, 1),
			weeks: 0,
			start: date(2025, time.September, 1),
			end:   date(2025, time.September, 7),
		},
		{
			name:  "this week on sunday collapses to one day",
			today: date(2025, time.September, 7),
			weeks: 0,
			start: date(2025, time.September, 7),
			end:   date(2025, time.September, 7),
		},
		{
			name:  "next week from wednesday",
			today: date(2025, time.September, 3),
			weeks: 1,
			start: date(2025, time.September, 8),  // next Monday
			end:   date(2025, time.September, 14), // next Sunday
		},
		{
			name:  "next week from sunday still anchors on current monday",
			today: date(2025, time.September, 7), // Sun of the Sep 1 week
			weeks: 1,
			start: date(2025, time.September, 8),
			end:   date(2025, time.September, 14),
		},
		{
			name:  "three weeks out",
			today: date(2025, time.September, 3),
			weeks: 3,
			start: date(2025, time.September, 22),
			end:   date(2025, time.September, 28),
		},
		{
			name:  "time of day is dropped",
			today: time.Date(2025, time.September, 3, 23, 59, 0, 0, time.UTC),
			weeks: 0,
			start: date(2025, time.September, 3),
			end:   date(2025, time.September, 7),
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			start, end := DateWindow(tt.today, tt.weeks)
			if !start.Equal(tt.start) {
				t.Fatalf("start = %v, want %v", start, tt.start)
			}
			if !end.Equal(tt.end) {
				t.Fatalf("end = %v, want %v", end, tt.end)
			}
		})
	}
}

func TestDateWindowSpansFullWeek(t *testing.T) {
	t.Parallel()
	// Whatever the starting weekday, weeks > 0 yields a Monday..Sunday span.
	for d := 1; d <= 7; d++ {
		start, end := DateWindow(date(2025, time.September, d), 2)
		if start.Weekday() != time.Monday {
			t.Fatalf("day %d: start weekday = %v, want Monday", d, start.Weekday())
		}
		if end.Weekday() != time.Sunday {
			t.Fatalf("day %d: end weekday = %v, want Sunday", d, end.Weekday())
		}
		if got := end.Sub(start); got != 6*24*time.Hour {
			t.Fatalf("day %d: span = %v, want 144h", d, got)
		}
	}
}
