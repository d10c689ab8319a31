package agent

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateInfo is a resolved booking date: the day of month to click in the date
// picker, how many months forward the picker must be paged, and the 8-digit
// form used in direct booking URLs.
type DateInfo struct {
	Day           int
	MonthOffset   int
	FormattedDate string // YYYYMMDD
}

var absoluteDatePattern = regexp.MustCompile(`(\d{1,2})\s*[月/.]\s*(\d{1,2})\s*日?`)

var hourPattern = regexp.MustCompile(`(\d{1,2})(?::(\d{2}))?`)

// ExtractDateInfo resolves a user date expression against the venue-local
// current date. Relative forms (today / tomorrow / the day after, in either
// language) and absolute month/day forms are understood. Returns nil when
// the expression carries no recognizable date.
func ExtractDateInfo(expr string, now time.Time, loc *time.Location) *DateInfo {
	now = now.In(loc)
	lower := strings.ToLower(expr)

	offset := -1
	switch {
	case strings.Contains(lower, "后天") || strings.Contains(lower, "後天") || strings.Contains(lower, "day after tomorrow"):
		offset = 2
	case strings.Contains(lower, "明天") || strings.Contains(lower, "tomorrow"):
		offset = 1
	case strings.Contains(lower, "今天") || strings.Contains(lower, "today"):
		offset = 0
	}
	if offset >= 0 {
		target := now.AddDate(0, 0, offset)
		return dateInfoFor(now, target)
	}

	if m := absoluteDatePattern.FindStringSubmatch(expr); m != nil {
		month, _ := strconv.Atoi(m[1])
		day, _ := strconv.Atoi(m[2])
		if month < 1 || month > 12 || day < 1 || day > 31 {
			return nil
		}
		year := now.Year()
		target := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
		// A month/day earlier than today means the next occurrence.
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
		if target.Before(today) {
			target = target.AddDate(1, 0, 0)
		}
		return dateInfoFor(now, target)
	}

	return nil
}

func dateInfoFor(now, target time.Time) *DateInfo {
	monthOffset := (target.Year()-now.Year())*12 + int(target.Month()) - int(now.Month())
	return &DateInfo{
		Day:           target.Day(),
		MonthOffset:   monthOffset,
		FormattedDate: target.Format("20060102"),
	}
}

// ExtractHour pulls the starting hour out of a time expression like "10:00",
// "下午3点" or "15". Returns -1 when no hour is present. Afternoon markers
// shift hours below 12 into the PM range.
func ExtractHour(expr string) int {
	m := hourPattern.FindStringSubmatch(expr)
	if m == nil {
		return -1
	}
	hour, _ := strconv.Atoi(m[1])
	if hour < 0 || hour > 23 {
		return -1
	}
	lower := strings.ToLower(expr)
	pm := strings.Contains(lower, "pm") || strings.Contains(lower, "下午") || strings.Contains(lower, "晚上")
	if pm && hour < 12 {
		hour += 12
	}
	return hour
}

// DurationUnits converts a duration label to the booking URL's half-hour
var shownDatePattern = regexp.MustCompile(`(20\d{2})[-/](\d{1,2})[-/](\d{1,2})`)

// SameBookingDate reports whether a date string shown on the page refers to
// the same day as an 8-digit booking date. An unparsable shown date counts
// as a mismatch.
func SameBookingDate(shown, yyyymmdd string) bool {
	m := shownDatePattern.FindStringSubmatch(shown)
	if m == nil {
		return false
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])
	return fmt.Sprintf("%04d%02d%02d", year, month, day) == yyyymmdd
}

// unit count: "2 Hours" books du=4, "1 Hour" books du=2.
func DurationUnits(durationLabel string) int {
	hours := DurationHours(durationLabel)
	return hours * 2
}

// DurationHours parses the leading hour count of a duration label, falling
// back to 1 when no number is present.
func DurationHours(durationLabel string) int {
	m := regexp.MustCompile(`(\d+)`).FindStringSubmatch(durationLabel)
	if m == nil {
		return 1
	}
	hours, _ := strconv.Atoi(m[1])
	if hours < 1 {
		return 1
	}
	return hours
}

// DurationLabel renders an hour count the way the venue's dropdown spells
// it: singular for one hour, plural otherwise.
func DurationLabel(hours int) string {
	if hours == 1 {
		return "1 Hour"
	}
	return fmt.Sprintf("%d Hours", hours)
}
