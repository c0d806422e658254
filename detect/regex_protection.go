package detect

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"logsentry/metrics"

	"github.com/dlclark/regexp2"
)

// DefaultRegexTimeout bounds a single match so a pathological pattern cannot stall the pipeline
const DefaultRegexTimeout = 100 * time.Millisecond

// ErrRegexTimeout is returned when a match is aborted by the timeout
var ErrRegexTimeout = errors.New("regex evaluation timeout")

// SafeRegex is a compiled backtracking regex with a match timeout.
// It is safe for concurrent use.
type SafeRegex struct {
	pattern   string
	re        *regexp2.Regexp
	component string
}

// CompileSafeRegex compiles pattern with the given match timeout.
// component labels timeout metrics ("signature", "rule").
func CompileSafeRegex(pattern string, timeout time.Duration, component string) (*SafeRegex, error) {
	if pattern == "" {
		return nil, fmt.Errorf("regex pattern cannot be empty")
	}
	if timeout <= 0 {
		timeout = DefaultRegexTimeout
	}
	re, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		return nil, fmt.Errorf("failed to compile regex pattern %q: %w", pattern, err)
	}
	re.MatchTimeout = timeout
	return &SafeRegex{pattern: pattern, re: re, component: component}, nil
}

// String returns the source pattern
func (r *SafeRegex) String() string {
	return r.pattern
}

// MatchString reports whether input matches
func (r *SafeRegex) MatchString(input string) (bool, error) {
	ok, err := r.re.MatchString(input)
	if err != nil {
		return false, r.wrapErr(err)
	}
	return ok, nil
}

// FindString returns the first match text and whether there was a match
func (r *SafeRegex) FindString(input string) (string, bool, error) {
	m, err := r.re.FindStringMatch(input)
	if err != nil {
		return "", false, r.wrapErr(err)
	}
	if m == nil {
		return "", false, nil
	}
	return m.String(), true, nil
}

func (r *SafeRegex) wrapErr(err error) error {
	if strings.Contains(strings.ToLower(err.Error()), "timeout") {
		metrics.RegexTimeouts.WithLabelValues(r.component).Inc()
		return ErrRegexTimeout
	}
	return fmt.Errorf("regex matching error: %w", err)
}
