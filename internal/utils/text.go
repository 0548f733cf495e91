package utils

import (
	"math/rand"
	"regexp"
	"strings"
	"time"
)

var nonDigits = regexp.MustCompile(`\D`)

// DigitsOnly removes all non-numeric characters from a string
func DigitsOnly(s string) string {
	return nonDigits.ReplaceAllString(s, "")
}

// Truncate shortens a string to max bytes, appending an ellipsis when cut
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

// NormalizeSpace collapses whitespace runs into single spaces and trims
func NormalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ContainsAny reports whether the lowercased haystack contains any needle
func ContainsAny(haystack string, needles []string) bool {
	lower := strings.ToLower(haystack)
	for _, n := range needles {
		if n != "" && strings.Contains(lower, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

// FirstMatch returns the first needle contained in the lowercased haystack
func FirstMatch(haystack string, needles []string) (string, bool) {
	lower := strings.ToLower(haystack)
	for _, n := range needles {
		if n != "" && strings.Contains(lower, strings.ToLower(n)) {
			return n, true
		}
	}
	return "", false
}

// RandomDelay returns a duration uniformly drawn from [min, max] seconds
func RandomDelay(r *rand.Rand, minSeconds, maxSeconds int) time.Duration {
	if maxSeconds <= minSeconds {
		return time.Duration(minSeconds) * time.Second
	}
	span := maxSeconds - minSeconds + 1
	return time.Duration(minSeconds+r.Intn(span)) * time.Second
}
