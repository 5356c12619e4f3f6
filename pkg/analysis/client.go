// Package analysis sends activities plus a bounded historical context to
// Gemini and parses the structured coaching result.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/stridecoach/server/pkg/strava"
)

// maxHistoryEntries bounds the historical context so request size stays flat
// no matter how much history the crawl returned.
const maxHistoryEntries = 12

// Goal describes the race goal driving the coaching advice.
type Goal struct {
	Type       string
	Date       time.Time
	TargetTime string
}

// Client issues structured-output analysis requests to Gemini.
type Client struct {
	apiKey  string
	model   string
	logger  *slog.Logger
	retry   RetryPolicy
	timeout time.Duration
	now     func() time.Time

	// generate is injectable for tests; the default talks to Gemini.
	generate func(ctx context.Context, prompt string) (string, error)
}

func NewClient(apiKey, model string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	c := &Client{
		apiKey:  apiKey,
		model:   model,
		logger:  logger,
		retry:   DefaultRetryPolicy(),
		timeout: timeout,
		now:     time.Now,
	}
	c.generate = c.generateWithGemini
	return c
}

// Analyze runs one coaching analysis. Quota exhaustion surfaces as
// ErrQuotaExhausted with zero retries; other failures are retried per the
// policy and then wrapped in *Error.
func (c *Client) Analyze(ctx context.Context, activity strava.Activity, history []strava.Activity, goal Goal) (*Result, error) {
	prompt := buildPrompt(activity, history, goal)

	policy := c.retry
	policy.Terminal = func(err error) bool {
		return errors.Is(err, ErrQuotaExhausted) ||
			errors.Is(err, context.Canceled) ||
			errors.Is(err, context.DeadlineExceeded)
	}

	var result *Result
	err := policy.Do(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		raw, err := c.generate(callCtx, prompt)
		if err != nil {
			if quotaExhaustedMessage(err.Error()) {
				return ErrQuotaExhausted
			}
			return err
		}

		parsed, err := ParseResult([]byte(raw))
		if err != nil {
			// An empty or malformed body after a "successful" call is
			// retryable, not silently swallowed.
			return err
		}
		result = parsed
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrQuotaExhausted) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &Error{Attempts: policy.MaxAttempts, Err: err}
	}

	result.DaysRemaining = DaysRemaining(goal.Date, c.now())
	return result, nil
}

func (c *Client) generateWithGemini(ctx context.Context, prompt string) (string, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	if err != nil {
		return "", fmt.Errorf("failed to create Gemini client: %w", err)
	}
	defer client.Close()

	model := client.GenerativeModel(c.model)
	model.SetTemperature(0.4)
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = resultSchema()

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no content generated")
	}

	rawOutput := ""
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			rawOutput += string(text)
		}
	}
	return rawOutput, nil
}

// resultSchema is the strict JSON schema the model must answer with.
func resultSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"summary":                  {Type: genai.TypeString},
			"classification":           {Type: genai.TypeString, Description: "one of recovery, base, tempo, intervals, long_run, race"},
			"effectiveness_score":      {Type: genai.TypeInteger, Description: "0-100"},
			"pros":                     {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
			"cons":                     {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
			"trend_impact":             {Type: genai.TypeString},
			"goal_progress_percentage": {Type: genai.TypeInteger, Description: "0-100"},
			"next_week_focus":          {Type: genai.TypeString},
			"next_training_suggestion": {
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"type":           {Type: genai.TypeString},
					"distance":       {Type: genai.TypeString},
					"duration":       {Type: genai.TypeString},
					"description":    {Type: genai.TypeString},
					"target_metrics": {Type: genai.TypeString},
				},
				Required: []string{"type", "description"},
			},
		},
		Required: []string{"summary", "classification", "effectiveness_score", "next_week_focus", "next_training_suggestion"},
	}
}

func buildPrompt(activity strava.Activity, history []strava.Activity, goal Goal) string {
	var b strings.Builder
	b.WriteString("You are an experienced endurance running coach analyzing a single training activity.\n\n")

	b.WriteString("Athlete goal: ")
	b.WriteString(goal.Type)
	if !goal.Date.IsZero() {
		fmt.Fprintf(&b, " on %s", goal.Date.Format("2006-01-02"))
	}
	if goal.TargetTime != "" {
		fmt.Fprintf(&b, ", target time %s", goal.TargetTime)
	}
	b.WriteString("\n\nActivity under analysis:\n")
	b.WriteString(activityLine(activity))

	if len(history) > 0 {
		b.WriteString("\n\nRecent training history (newest first):\n")
		b.WriteString(historyContext(history))
	}

	b.WriteString("\n\nAssess execution quality, training effect and progress toward the goal. ")
	b.WriteString("Be specific to the numbers given. Respond with JSON matching the response schema.")
	return b.String()
}

// historyContext reduces each activity to one compact numeric line so the
// request stays bounded regardless of crawl size.
func historyContext(history []strava.Activity) string {
	n := len(history)
	if n > maxHistoryEntries {
		n = maxHistoryEntries
	}
	lines := make([]string, 0, n)
	for _, a := range history[:n] {
		lines = append(lines, activityLine(a))
	}
	return strings.Join(lines, "\n")
}

func activityLine(a strava.Activity) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", a.StartDate.Format("2006-01-02"), a.Type)
	if a.Distance > 0 {
		fmt.Fprintf(&b, " %.1fkm", a.Distance/1000)
	}
	if a.MovingTime > 0 {
		fmt.Fprintf(&b, " %dmin", a.MovingTime/60)
		if a.Distance > 0 {
			fmt.Fprintf(&b, " pace %s/km", paceMinKm(a.Distance, a.MovingTime))
		}
	}
	if a.AverageHeartrate > 0 {
		fmt.Fprintf(&b, " avgHR %.0f", a.AverageHeartrate)
	}
	if a.MaxHeartrate > 0 {
		fmt.Fprintf(&b, " maxHR %.0f", a.MaxHeartrate)
	}
	return b.String()
}

func paceMinKm(distanceMeters float64, movingTimeSeconds int) string {
	if distanceMeters <= 0 {
		return "-"
	}
	secPerKm := float64(movingTimeSeconds) / (distanceMeters / 1000)
	mins := int(secPerKm) / 60
	secs := int(secPerKm) % 60
	return fmt.Sprintf("%d:%02d", mins, secs)
}
