package events

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultRateLimitPattern matches the agent's rate-limit marker, e.g.
// "You've hit your limit · resets 2am (America/Los_Angeles)".
const DefaultRateLimitPattern = `resets\s+(\d{1,2})(am|pm)\s+\(([^)]+)\)`

var defaultRateLimitRe = regexp.MustCompile(`(?i)` + DefaultRateLimitPattern)

// These are transient and worth retrying with exponential backoff.
var serverErrorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)status[_\s]?code[:\s]+5\d{2}`),
	regexp.MustCompile(`(?i)\b5\d{2}\b.*error`),
	regexp.MustCompile(`(?i)error.*\b5\d{2}\b`),
	regexp.MustCompile(`(?i)overloaded`),
	regexp.MustCompile(`(?i)internal[_\s]?server[_\s]?error`),
	regexp.MustCompile(`(?i)service[_\s]?unavailable`),
	regexp.MustCompile(`(?i)APIStatusError.*5\d{2}`),
}

// RateLimitReset is the parsed reset clause of a rate-limit marker.
type RateLimitReset struct {
	Hour     int
	PM       bool
	Timezone string
}

// ParseRateLimitReset extracts the reset clause from result text using the
// given pattern (empty means DefaultRateLimitPattern). The second return is
// false when the text carries no recognizable marker.
func ParseRateLimitReset(text, pattern string) (RateLimitReset, bool) {
	re := defaultRateLimitRe
	if pattern != "" && pattern != DefaultRateLimitPattern {
		compiled, err := regexp.Compile(`(?i)` + pattern)
		if err == nil {
			re = compiled
		}
	}

	match := re.FindStringSubmatch(text)
	if match == nil || len(match) < 4 {
		return RateLimitReset{}, false
	}

	hour, err := strconv.Atoi(match[1])
	if err != nil || hour < 1 || hour > 12 {
		return RateLimitReset{}, false
	}

	return RateLimitReset{
		Hour:     hour,
		PM:       strings.EqualFold(match[2], "pm"),
		Timezone: match[3],
	}, true
}

// ResetTime resolves the parsed clause against now. Published reset times
// name only a 12-hour clock value in an IANA zone; a value already past
// today means tomorrow.
func (r RateLimitReset) ResetTime(now time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("unknown reset timezone %q: %w", r.Timezone, err)
	}

	hour24 := r.Hour % 12
	if r.PM {
		hour24 += 12
	}

	local := now.In(loc)
	reset := time.Date(local.Year(), local.Month(), local.Day(), hour24, 0, 0, 0, loc)
	if !reset.After(local) {
		reset = reset.AddDate(0, 0, 1)
	}
	return reset, nil
}

// IsServerError reports whether result text describes a transient API
// server failure (5xx, overloaded, service unavailable).
func IsServerError(text string) bool {
	for _, re := range serverErrorPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
