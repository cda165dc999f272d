package dialog

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// ErrInvalidTimes means the user's time list contained no valid entries
// or at least one malformed token. The whole input is rejected so the
// user re-enters the full list.
var ErrInvalidTimes = errors.New("dialog: invalid time list")

var timePattern = regexp.MustCompile(`^(?:[01]\d|2[0-3]):[0-5]\d$`)

// ParseTimes splits a comma-separated time list, trims each token and
// validates it against strict 24-hour HH:MM. Duplicates collapse while
// the first-seen order is preserved.
func ParseTimes(input string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)

	for _, tok := range strings.Split(input, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if !timePattern.MatchString(tok) {
			return nil, ErrInvalidTimes
		}
		if seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}

	if len(out) == 0 {
		return nil, ErrInvalidTimes
	}
	return out, nil
}

// IsISODate reports whether s is a valid YYYY-MM-DD calendar date.
// Channels without a date picker let users type dates at the date steps.
func IsISODate(s string) bool {
	if len(s) != len("2006-01-02") {
		return false
	}
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}
