package models

import "time"

// DateOf truncates t to midnight UTC. Ledger dates and balance history rows
// are keyed at day precision.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateString formats a day key as YYYY-MM-DD.
func DateString(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// DaysBetween returns every day in [start, end] inclusive.
func DaysBetween(start, end time.Time) []time.Time {
	start, end = DateOf(start), DateOf(end)
	if end.Before(start) {
		return nil
	}
	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}
