package storage

import (
	"regexp"
	"strconv"
	"time"
)

// compactDurationRe matches the {N}{h|d|w|m} relative-lookback grammar
// (spec.md §4.1): a run of digits followed by exactly one unit letter, no
// sign, no surrounding whitespace.
var compactDurationRe = regexp.MustCompile(`^([0-9]+)([hdwm])$`)

// ParseSince resolves a time filter string to an absolute cutoff relative
// to now. Accepted forms: `{N}{h|d|w|m}` (lookback from now), the literals
// `today`/`yesterday`, a YYYY-MM-DD date, or a full RFC3339 timestamp. An
// unrecognized filter yields ok=false — spec.md §4.1 treats that as "no
// constraint", not an error that blocks the query.
func ParseSince(filter string, now time.Time) (cutoff time.Time, ok bool) {
	switch filter {
	case "":
		return time.Time{}, false
	case "today":
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, now.Location()), true
	case "yesterday":
		y, m, d := now.AddDate(0, 0, -1).Date()
		return time.Date(y, m, d, 0, 0, 0, 0, now.Location()), true
	}

	if m := compactDurationRe.FindStringSubmatch(filter); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, false
		}
		switch m[2] {
		case "h":
			return now.Add(-time.Duration(n) * time.Hour), true
		case "d":
			return now.AddDate(0, 0, -n), true
		case "w":
			return now.AddDate(0, 0, -7*n), true
		case "m":
			return now.AddDate(0, -n, 0), true
		}
	}

	if t, err := time.ParseInLocation("2006-01-02", filter, now.Location()); err == nil {
		return t, true
	}

	if t, err := time.Parse(time.RFC3339, filter); err == nil {
		return t, true
	}

	return time.Time{}, false
}
