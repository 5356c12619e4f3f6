package analysis

import (
	"errors"
	"fmt"
	"strings"
)

// ErrQuotaExhausted signals the AI provider refused the call for lack of
// quota. Retrying wastes budget and gains nothing, so it short-circuits the
// retry loop and halts the pass.
var ErrQuotaExhausted = errors.New("analysis: AI quota exhausted")

// Error wraps the last failure after the retry budget is spent. Per-candidate:
// the orchestrator logs it and moves on.
type Error struct {
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("analysis failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// quotaExhaustedMessage classifies provider errors whose message indicates
// resource/quota exhaustion rather than a transient fault.
func quotaExhaustedMessage(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "resource_exhausted") ||
		strings.Contains(m, "resource exhausted") ||
		strings.Contains(m, "quota") ||
		strings.Contains(m, "429")
}
