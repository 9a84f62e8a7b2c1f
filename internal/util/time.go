package util

import (
	"fmt"
	"time"
)

// humanTimeFormat is the layout for human-readable timestamps with timezone.
const humanTimeFormat = "2 Jan 2006 15:04:05 MST"

// HumanTime formats t as local time in a human-readable format.
func HumanTime(t time.Time) string {
	return t.Local().Format(humanTimeFormat)
}

// FormatDuration formats a duration for notifications.
// Examples: "45s", "2m 34s", "1h 23m"
func FormatDuration(d time.Duration) string {
	totalSeconds := int64(d / time.Second)
	if totalSeconds < 60 {
		return fmt.Sprintf("%ds", totalSeconds)
	}
	minutes := totalSeconds / 60
	seconds := totalSeconds % 60
	if minutes < 60 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	hours := minutes / 60
	minutes %= 60
	return fmt.Sprintf("%dh %dm", hours, minutes)
}

// FormatUptime truncates a running duration to whole seconds.
func FormatUptime(since time.Time) string {
	if since.IsZero() {
		return ""
	}
	return time.Since(since).Truncate(time.Second).String()
}
