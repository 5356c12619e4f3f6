package analysis

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// Workout classifications the model may assign.
const (
	ClassRecovery  = "recovery"
	ClassBase      = "base"
	ClassTempo     = "tempo"
	ClassIntervals = "intervals"
	ClassLongRun   = "long_run"
	ClassRace      = "race"
)

// TrainingSuggestion is the prescription block of a coaching report.
type TrainingSuggestion struct {
	Type          string `json:"type"`
	Distance      string `json:"distance"`
	Duration      string `json:"duration"`
	Description   string `json:"description"`
	TargetMetrics string `json:"target_metrics"`
}

// Result is the structured coaching payload parsed from one AI call.
// Immutable once formatted into report text.
type Result struct {
	Summary                string             `json:"summary"`
	Classification         string             `json:"classification"`
	EffectivenessScore     int                `json:"effectiveness_score"`
	Pros                   []string           `json:"pros"`
	Cons                   []string           `json:"cons"`
	TrendImpact            string             `json:"trend_impact"`
	GoalProgressPercentage int                `json:"goal_progress_percentage"`
	NextWeekFocus          string             `json:"next_week_focus"`
	NextTrainingSuggestion TrainingSuggestion `json:"next_training_suggestion"`

	// DaysRemaining is computed locally from the goal date, never requested
	// from the model.
	DaysRemaining int `json:"-"`
}

// ParseResult validates and normalizes the model's JSON output.
func ParseResult(raw []byte) (*Result, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return nil, fmt.Errorf("empty response body")
	}

	// Models occasionally fence the JSON despite the response MIME type.
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var r Result
	if err := json.Unmarshal([]byte(trimmed), &r); err != nil {
		return nil, fmt.Errorf("unparseable response: %w", err)
	}
	if r.Summary == "" {
		return nil, fmt.Errorf("response missing summary")
	}

	r.Classification = strings.ToLower(strings.TrimSpace(r.Classification))
	r.EffectivenessScore = clampScore(r.EffectivenessScore)
	r.GoalProgressPercentage = clampScore(r.GoalProgressPercentage)
	return &r, nil
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// DaysRemaining returns max(0, ceil((goalDate - now) / 1 day)).
func DaysRemaining(goalDate, now time.Time) int {
	if goalDate.IsZero() {
		return 0
	}
	days := int(math.Ceil(goalDate.Sub(now).Hours() / 24))
	if days < 0 {
		return 0
	}
	return days
}
