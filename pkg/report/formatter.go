// Package report renders analysis results into the fixed-format text block
// written back to an activity, and decides whether an activity still needs
// analysis. The signature token is the hard contract between the two halves:
// every rendered block carries it, and the gate recognizes it on the next pass.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/stridecoach/server/pkg/analysis"
)

const (
	borderSentinel = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"
	reportTitle    = "🏃 AI COACHING REPORT"

	// SignatureToken marks a description as written by this system.
	SignatureToken = "#aicoach"

	// placeholderPhrase marks a deferred analysis. Checked by the gate
	// before the completed-report markers so placeholders stay retryable.
	placeholderPhrase = "Analysis deferred"
)

// Format renders a completed coaching report. Output is byte-deterministic
// for the same result and clock; the timestamp is isolated to one line.
func Format(r *analysis.Result, now time.Time) string {
	var b strings.Builder
	b.WriteString(borderSentinel)
	b.WriteString("\n")
	b.WriteString(reportTitle)
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "[%s] %s\n", strings.ToUpper(r.Classification), r.Summary)
	fmt.Fprintf(&b, "Effectiveness %d/100 · Goal progress %d%%\n", r.EffectivenessScore, r.GoalProgressPercentage)
	fmt.Fprintf(&b, "🎯 Race readiness: T-minus %d days\n", r.DaysRemaining)

	for _, p := range r.Pros {
		fmt.Fprintf(&b, "  + %s\n", p)
	}
	for _, c := range r.Cons {
		fmt.Fprintf(&b, "  - %s\n", c)
	}
	if r.TrendImpact != "" {
		fmt.Fprintf(&b, "Trend: %s\n", r.TrendImpact)
	}
	fmt.Fprintf(&b, "Next week focus: %s\n", r.NextWeekFocus)

	s := r.NextTrainingSuggestion
	b.WriteString("\nNext training:\n")
	fmt.Fprintf(&b, "  Type: %s\n", s.Type)
	if s.Distance != "" || s.Duration != "" {
		fmt.Fprintf(&b, "  Distance: %s · Duration: %s\n", s.Distance, s.Duration)
	}
	if s.TargetMetrics != "" {
		fmt.Fprintf(&b, "  Targets: %s\n", s.TargetMetrics)
	}
	if s.Description != "" {
		fmt.Fprintf(&b, "  %s\n", s.Description)
	}

	writeFooter(&b, now)
	return b.String()
}

// FormatPlaceholder renders the capacity-exceeded variant. It carries the
// signature token like a full report but the gate treats it as retryable.
func FormatPlaceholder(now time.Time) string {
	var b strings.Builder
	b.WriteString(borderSentinel)
	b.WriteString("\n")
	b.WriteString(reportTitle)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "⏳ %s: daily AI capacity reached.\n", placeholderPhrase)
	b.WriteString("This activity will be analyzed on the next pass.\n")

	writeFooter(&b, now)
	return b.String()
}

func writeFooter(b *strings.Builder, now time.Time) {
	fmt.Fprintf(b, "\nGenerated %s\n", now.UTC().Format("2006-01-02 15:04 MST"))
	b.WriteString(SignatureToken)
	b.WriteString("\n")
	b.WriteString(borderSentinel)
}
