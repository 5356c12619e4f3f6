// Package syncer composes the token cache, crawler, idempotency gate,
// analysis client and state store into one sequential synchronization pass.
// Passes are single-threaded on purpose: the AI budget and quota counters are
// global, and sequential processing keeps check-then-increment race-free
// within one process.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stridecoach/server/pkg/analysis"
	"github.com/stridecoach/server/pkg/quota"
	"github.com/stridecoach/server/pkg/report"
	"github.com/stridecoach/server/pkg/statestore"
	"github.com/stridecoach/server/pkg/strava"
)

// CrawlError wraps a failed activity crawl. Fatal for the pass; partial
// results are discarded.
type CrawlError struct {
	Err error
}

func (e *CrawlError) Error() string { return fmt.Sprintf("crawl failed: %v", e.Err) }
func (e *CrawlError) Unwrap() error { return e.Err }

// API is the slice of the upstream client the engine needs.
type API interface {
	Collect(ctx context.Context, after time.Time, maxPages, perPage int) ([]strava.Activity, error)
	GetActivity(ctx context.Context, activityID int64) (*strava.Activity, error)
	UpdateDescription(ctx context.Context, activityID int64, description string) (*strava.Activity, error)
}

// StateStore persists the remote cache blob.
type StateStore interface {
	ReadCache(ctx context.Context) (json.RawMessage, *quota.State, error)
	WriteCache(ctx context.Context, profile json.RawMessage, q *quota.State) error
}

// Analyzer produces a coaching result for one activity.
type Analyzer interface {
	Analyze(ctx context.Context, activity strava.Activity, history []strava.Activity, goal analysis.Goal) (*analysis.Result, error)
}

// TokenSource authenticates the pass up front.
type TokenSource interface {
	Token(ctx context.Context) (*strava.Token, error)
}

// Options tune a sync pass.
type Options struct {
	Goal        analysis.Goal
	Lookback    time.Duration
	MaxPages    int
	PerPage     int
	ResetPolicy quota.ResetPolicy
}

// Outcome summarizes one finished pass. Both normal completion and a quota
// halt are non-error exits for the scheduler.
type Outcome struct {
	RunID       string    `json:"run_id"`
	Scanned     int       `json:"scanned"`
	Candidates  int       `json:"candidates"`
	Analyzed    int       `json:"analyzed"`
	Failed      int       `json:"failed"`
	QuotaHalted bool      `json:"quota_halted"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// profileState is the small payload this engine keeps in the remote profile
// section. Unknown fields from older writers are dropped on rewrite.
type profileState struct {
	LastRunID     string    `json:"last_run_id"`
	LastRunAt     time.Time `json:"last_run_at"`
	TotalAnalyzed int       `json:"total_analyzed"`
}

// Engine runs synchronization passes.
type Engine struct {
	api      API
	store    StateStore
	tokens   TokenSource
	analyzer Analyzer
	logger   *slog.Logger
	opts     Options
	now      func() time.Time
}

func NewEngine(api API, store StateStore, tokens TokenSource, analyzer Analyzer, logger *slog.Logger, opts Options) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Lookback == 0 {
		opts.Lookback = 14 * 24 * time.Hour
	}
	if opts.MaxPages == 0 {
		opts.MaxPages = 8
	}
	if opts.PerPage == 0 {
		opts.PerPage = strava.DefaultPageSize
	}
	if opts.ResetPolicy == nil {
		opts.ResetPolicy = quota.ManualReset{}
	}
	return &Engine{
		api:      api,
		store:    store,
		tokens:   tokens,
		analyzer: analyzer,
		logger:   logger,
		opts:     opts,
		now:      time.Now,
	}
}

// RunPass executes one end-to-end pass: authenticate, crawl, filter, analyze
// each candidate, write back. An AuthError or crawl failure aborts the pass;
// per-candidate analysis failures are logged and skipped; the first quota
// exhaustion writes a placeholder and halts the pass gracefully.
func (e *Engine) RunPass(ctx context.Context) (*Outcome, error) {
	outcome := &Outcome{
		RunID:     uuid.NewString(),
		StartedAt: e.now(),
	}
	logger := e.logger.With("run_id", outcome.RunID)

	// Authenticating
	if _, err := e.tokens.Token(ctx); err != nil {
		return nil, err
	}

	profile, ledger, err := e.loadState(ctx, logger)
	if err != nil {
		return nil, err
	}

	// Crawling
	after := e.now().Add(-e.opts.Lookback)
	activities, err := e.api.Collect(ctx, after, e.opts.MaxPages, e.opts.PerPage)
	if err != nil {
		return nil, &CrawlError{Err: err}
	}
	outcome.Scanned = len(activities)

	// Filtering: pure function over the fetched list. The cache record never
	// receives a report.
	var candidates []strava.Activity
	for _, a := range activities {
		if a.Name == statestore.CacheRecordName {
			continue
		}
		if report.NeedsAnalysis(a.Description) {
			candidates = append(candidates, a)
		}
	}
	outcome.Candidates = len(candidates)
	logger.Info("Crawl complete", "scanned", outcome.Scanned, "candidates", outcome.Candidates)

	for _, candidate := range candidates {
		if err := ledger.CheckAndReserve(); errors.Is(err, quota.ErrDailyExhausted) {
			e.haltOnQuota(ctx, logger, candidate, profile, ledger)
			outcome.QuotaHalted = true
			break
		}

		result, err := e.analyzer.Analyze(ctx, candidate, e.historyFor(candidate, activities), e.opts.Goal)
		if errors.Is(err, analysis.ErrQuotaExhausted) {
			e.haltOnQuota(ctx, logger, candidate, profile, ledger)
			outcome.QuotaHalted = true
			break
		}
		if err != nil {
			// One bad record must not block the others.
			logger.Error("Analysis failed, skipping candidate", "activity_id", candidate.ID, "error", err)
			outcome.Failed++
			continue
		}

		text := report.Format(result, e.now())
		if _, err := e.api.UpdateDescription(ctx, candidate.ID, text); err != nil {
			logger.Error("Write-back failed, skipping candidate", "activity_id", candidate.ID, "error", err)
			outcome.Failed++
			continue
		}

		ledger.RecordUsage()
		profile.TotalAnalyzed++
		outcome.Analyzed++
		logger.Info("Activity analyzed", "activity_id", candidate.ID, "classification", result.Classification)

		e.persistState(ctx, logger, profile, ledger, outcome.RunID)
	}

	if outcome.Analyzed == 0 && !outcome.QuotaHalted {
		// Still record the pass so observers see recent activity.
		e.persistState(ctx, logger, profile, ledger, outcome.RunID)
	}

	outcome.FinishedAt = e.now()
	logger.Info("Pass finished",
		"analyzed", outcome.Analyzed,
		"failed", outcome.Failed,
		"quota_halted", outcome.QuotaHalted,
	)
	return outcome, nil
}

// AnalyzeOne performs a single-activity analysis, used by the webhook path.
func (e *Engine) AnalyzeOne(ctx context.Context, activityID int64) error {
	logger := e.logger.With("activity_id", activityID)

	if _, err := e.tokens.Token(ctx); err != nil {
		return err
	}

	activity, err := e.api.GetActivity(ctx, activityID)
	if err != nil {
		return fmt.Errorf("fetch activity: %w", err)
	}
	if activity.Name == statestore.CacheRecordName {
		return nil
	}
	if !report.NeedsAnalysis(activity.Description) {
		logger.Info("Activity already analyzed, skipping")
		return nil
	}

	profile, ledger, err := e.loadState(ctx, logger)
	if err != nil {
		return err
	}
	if err := ledger.CheckAndReserve(); err != nil {
		if errors.Is(err, quota.ErrDailyExhausted) {
			e.haltOnQuota(ctx, logger, *activity, profile, ledger)
			return nil
		}
		return err
	}

	history, err := e.api.Collect(ctx, e.now().Add(-e.opts.Lookback), 1, e.opts.PerPage)
	if err != nil {
		return &CrawlError{Err: err}
	}

	result, err := e.analyzer.Analyze(ctx, *activity, e.historyFor(*activity, history), e.opts.Goal)
	if errors.Is(err, analysis.ErrQuotaExhausted) {
		e.haltOnQuota(ctx, logger, *activity, profile, ledger)
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := e.api.UpdateDescription(ctx, activity.ID, report.Format(result, e.now())); err != nil {
		return fmt.Errorf("write-back: %w", err)
	}
	ledger.RecordUsage()
	profile.TotalAnalyzed++
	e.persistState(ctx, logger, profile, ledger, "")
	return nil
}

// loadState reads the remote blob, tolerating a missing or unreadable one.
func (e *Engine) loadState(ctx context.Context, logger *slog.Logger) (*profileState, *quota.Ledger, error) {
	rawProfile, qstate, err := e.store.ReadCache(ctx)
	if errors.Is(err, statestore.ErrNotFound) {
		logger.Info("No remote state yet, starting fresh")
		return &profileState{}, quota.NewLedger(quota.DefaultState(e.now()), e.opts.ResetPolicy), nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read remote state: %w", err)
	}

	profile := &profileState{}
	if err := json.Unmarshal(rawProfile, profile); err != nil {
		logger.Warn("Remote profile unreadable, starting fresh", "error", err)
		profile = &profileState{}
	}
	return profile, quota.NewLedger(qstate, e.opts.ResetPolicy), nil
}

// persistState piggybacks the quota snapshot on the same write as the
// profile; a failed write is logged, never fatal.
func (e *Engine) persistState(ctx context.Context, logger *slog.Logger, profile *profileState, ledger *quota.Ledger, runID string) {
	if runID != "" {
		profile.LastRunID = runID
	}
	profile.LastRunAt = e.now()

	raw, err := json.Marshal(profile)
	if err != nil {
		logger.Warn("Marshal profile failed", "error", err)
		return
	}
	snapshot := ledger.Snapshot()
	if err := e.store.WriteCache(ctx, raw, &snapshot); err != nil {
		logger.Warn("Persist remote state failed", "error", err)
	}
}

// haltOnQuota re-checks the candidate's latest annotation before writing the
// placeholder, guarding against a double-write race with a concurrent pass.
func (e *Engine) haltOnQuota(ctx context.Context, logger *slog.Logger, candidate strava.Activity, profile *profileState, ledger *quota.Ledger) {
	logger.Warn("AI quota exhausted, halting pass", "activity_id", candidate.ID)

	description := candidate.Description
	if latest, err := e.api.GetActivity(ctx, candidate.ID); err == nil {
		description = latest.Description
	} else {
		logger.Warn("Re-fetch before placeholder failed, using crawled description", "error", err)
	}

	if report.NeedsAnalysis(description) {
		if _, err := e.api.UpdateDescription(ctx, candidate.ID, report.FormatPlaceholder(e.now())); err != nil {
			logger.Error("Placeholder write failed", "activity_id", candidate.ID, "error", err)
		}
	}

	e.persistState(ctx, logger, profile, ledger, "")
}

// historyFor builds the bounded context for one candidate from the crawled
// set: newest first, excluding the candidate itself and the cache record.
func (e *Engine) historyFor(candidate strava.Activity, activities []strava.Activity) []strava.Activity {
	history := make([]strava.Activity, 0, len(activities))
	for _, a := range activities {
		if a.ID == candidate.ID || a.Name == statestore.CacheRecordName {
			continue
		}
		history = append(history, a)
	}
	return history
}
