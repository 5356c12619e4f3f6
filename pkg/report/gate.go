package report

import "strings"

// completedTitlePhrase is the title match, lower-cased and emoji-stripped so
// hand-edited descriptions that keep the heading still count as done.
const completedTitlePhrase = "ai coaching report"

// NeedsAnalysis decides whether an activity description still needs a
// coaching report. The completed-report check is a strict allow-list: only
// the title phrase or the signature token mark an activity done. Skipping
// work we already did is cheap; skipping work we never did is the failure
// mode this guards against.
func NeedsAnalysis(description string) bool {
	text := strings.ToLower(strings.TrimSpace(description))
	if text == "" {
		return true
	}

	// Stale placeholders are retryable even though they carry the signature.
	if strings.Contains(text, strings.ToLower(placeholderPhrase)) {
		return true
	}

	if strings.Contains(text, completedTitlePhrase) {
		return false
	}
	if strings.Contains(text, strings.ToLower(SignatureToken)) {
		return false
	}

	// Anything else is user text; it needs analysis.
	return true
}
