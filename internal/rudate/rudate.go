// Package rudate converts the Russian relative timestamps shown on listing
// cards ("Сегодня, 12:45", "вчера, 09:10", "3 апр, 22:35", "5 минут назад")
// into the canonical "2006-01-02 15:04:05" form stored in the dataset.
package rudate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Layout is the canonical timestamp format used across the dataset.
const Layout = "2006-01-02 15:04:05"

var months = map[string]time.Month{
	"янв": time.January, "фев": time.February, "мар": time.March,
	"апр": time.April, "май": time.May, "мая": time.May, "июн": time.June,
	"июл": time.July, "авг": time.August, "сен": time.September,
	"окт": time.October, "ноя": time.November, "дек": time.December,
}

var (
	clockRe   = regexp.MustCompile(`(\d{1,2}):(\d{2})`)
	minutesRe = regexp.MustCompile(`(\d+)\s+минут`)
	secondsRe = regexp.MustCompile(`(\d+)\s+секунд`)
	dayRe     = regexp.MustCompile(`(\d{1,2})`)
	dmyRe     = regexp.MustCompile(`^(\d{1,2})\.(\d{1,2})\.(\d{4})`)
)

// Parse converts a card timestamp relative to now. Unrecognized input is
// returned unchanged so a bad label never destroys a stored value.
func Parse(s string, now time.Time) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	lower := strings.ToLower(s)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	switch {
	case strings.Contains(lower, "сегодня"):
		if h, m, ok := clockTime(s); ok {
			return today.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute).Format(Layout)
		}
		return today.Format(Layout)

	case strings.Contains(lower, "вчера"):
		y := today.AddDate(0, 0, -1)
		if h, m, ok := clockTime(s); ok {
			return y.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute).Format(Layout)
		}
		return y.Format(Layout)

	case strings.Contains(lower, "минут"):
		if mm := minutesRe.FindStringSubmatch(lower); mm != nil {
			n, _ := strconv.Atoi(mm[1])
			return now.Add(-time.Duration(n) * time.Minute).Format(Layout)
		}

	case strings.Contains(lower, "секунд"):
		if mm := secondsRe.FindStringSubmatch(lower); mm != nil {
			n, _ := strconv.Atoi(mm[1])
			return now.Add(-time.Duration(n) * time.Second).Format(Layout)
		}
	}

	// "DD.MM.YYYY"
	if mm := dmyRe.FindStringSubmatch(s); mm != nil {
		day, _ := strconv.Atoi(mm[1])
		month, _ := strconv.Atoi(mm[2])
		year, _ := strconv.Atoi(mm[3])
		return fmt.Sprintf("%04d-%02d-%02d 00:00:00", year, month, day)
	}

	// "D <месяц>, HH:MM" or "D <месяц> YYYY"
	for abbr, month := range months {
		if !strings.Contains(lower, abbr) {
			continue
		}
		dm := dayRe.FindStringSubmatch(s)
		if dm == nil {
			break
		}
		day, _ := strconv.Atoi(dm[1])
		h, m, _ := clockTime(s)
		dt := time.Date(now.Year(), month, day, h, m, 0, 0, now.Location())
		// A card can show a date from late last year; a future date means the
		// year has not rolled over yet.
		if dt.After(now.AddDate(0, 0, 1)) {
			dt = dt.AddDate(-1, 0, 0)
		}
		return dt.Format(Layout)
	}

	return s
}

// ParseNow is Parse relative to the current wall clock.
func ParseNow(s string) string {
	return Parse(s, time.Now())
}

func clockTime(s string) (hour, min int, ok bool) {
	mm := clockRe.FindStringSubmatch(s)
	if mm == nil {
		return 0, 0, false
	}
	hour, _ = strconv.Atoi(mm[1])
	min, _ = strconv.Atoi(mm[2])
	if hour > 23 || min > 59 {
		return 0, 0, false
	}
	return hour, min, true
}
