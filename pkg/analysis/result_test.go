package analysis

import (
	"testing"
	"time"
)

const validResultJSON = `{
	"summary": "Strong tempo run.",
	"classification": "Tempo",
	"effectiveness_score": 82,
	"pros": ["even splits"],
	"cons": [],
	"trend_impact": "building",
	"goal_progress_percentage": 55,
	"next_week_focus": "recovery",
	"next_training_suggestion": {
		"type": "easy",
		"distance": "8km",
		"duration": "50min",
		"description": "Conversational pace.",
		"target_metrics": "HR < 145"
	}
}`

func TestParseResult(t *testing.T) {
	r, err := ParseResult([]byte(validResultJSON))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Classification != ClassTempo {
		t.Errorf("Classification = %q, want normalized %q", r.Classification, ClassTempo)
	}
	if r.EffectivenessScore != 82 {
		t.Errorf("EffectivenessScore = %d, want 82", r.EffectivenessScore)
	}
	if r.NextTrainingSuggestion.Type != "easy" {
		t.Errorf("suggestion type = %q, want easy", r.NextTrainingSuggestion.Type)
	}
}

func TestParseResultFencedJSON(t *testing.T) {
	fenced := "```json\n" + validResultJSON + "\n```"
	if _, err := ParseResult([]byte(fenced)); err != nil {
		t.Fatalf("fenced JSON should parse, got %v", err)
	}
}

func TestParseResultClampsScores(t *testing.T) {
	raw := `{"summary":"x","classification":"base","effectiveness_score":150,"goal_progress_percentage":-5,"next_week_focus":"y","next_training_suggestion":{"type":"easy","description":"z"}}`
	r, err := ParseResult([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.EffectivenessScore != 100 {
		t.Errorf("EffectivenessScore = %d, want clamped 100", r.EffectivenessScore)
	}
	if r.GoalProgressPercentage != 0 {
		t.Errorf("GoalProgressPercentage = %d, want clamped 0", r.GoalProgressPercentage)
	}
}

func TestParseResultRejectsBadBodies(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"whitespace", "   \n"},
		{"not json", "sorry, I cannot help with that"},
		{"missing summary", `{"classification":"base"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseResult([]byte(tt.raw)); err == nil {
				t.Errorf("ParseResult(%q) succeeded, want error", tt.raw)
			}
		})
	}
}

func TestDaysRemaining(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		goal time.Time
		want int
	}{
		{"five weeks out", now.Add(34*24*time.Hour + time.Hour), 35},
		{"exactly one day", now.Add(24 * time.Hour), 1},
		{"half a day rounds up", now.Add(12 * time.Hour), 1},
		{"goal passed", now.Add(-48 * time.Hour), 0},
		{"zero goal date", time.Time{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DaysRemaining(tt.goal, now); got != tt.want {
				t.Errorf("DaysRemaining = %d, want %d", got, tt.want)
			}
		})
	}
}
