package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/stridecoach/server/pkg/quota"
	"github.com/stridecoach/server/pkg/strava"
)

// CacheRecordName is the reserved name identifying the cache record among the
// athlete's activities. At most one such record exists.
const CacheRecordName = "AI Coach Cache [DO NOT DELETE]"

const (
	// lookupTTL bounds how often the full activity list is scanned for the
	// cache record.
	lookupTTL = 10 * time.Minute

	// lookupPageSize bounds the single list call a lookup miss costs.
	lookupPageSize = 50
)

// activityAPI is the slice of the upstream client the store needs.
type activityAPI interface {
	ListActivities(ctx context.Context, after time.Time, page, perPage int) ([]strava.Activity, error)
	GetActivity(ctx context.Context, activityID int64) (*strava.Activity, error)
	UpdateDescription(ctx context.Context, activityID int64, description string) (*strava.Activity, error)
	CreateActivity(ctx context.Context, a *strava.Activity) (*strava.Activity, error)
}

// Store reads and writes the remote cache record. The record id lookup is
// cached with a TTL so repeated passes don't rescan history.
type Store struct {
	api    activityAPI
	logger *slog.Logger
	now    func() time.Time

	mu         sync.Mutex
	cachedID   int64
	lookedUpAt time.Time
}

func New(api activityAPI, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		api:    api,
		logger: logger,
		now:    time.Now,
	}
}

// FindCacheRecordID returns the cache record's activity id, or 0 when none
// exists yet. A cache miss costs exactly one bounded list call.
func (s *Store) FindCacheRecordID(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findLocked(ctx)
}

func (s *Store) findLocked(ctx context.Context) (int64, error) {
	now := s.now()
	if !s.lookedUpAt.IsZero() && now.Sub(s.lookedUpAt) < lookupTTL {
		return s.cachedID, nil
	}

	activities, err := s.api.ListActivities(ctx, time.Time{}, 1, lookupPageSize)
	if err != nil {
		return 0, fmt.Errorf("statestore: list activities: %w", err)
	}
	for _, a := range activities {
		if a.Name == CacheRecordName {
			s.cachedID = a.ID
			s.lookedUpAt = now
			return a.ID, nil
		}
	}

	// Remember the miss too, so every pass inside the TTL doesn't pay a
	// list call for a record that was never created.
	s.cachedID = 0
	s.lookedUpAt = now
	return 0, nil
}

// ReadCache fetches and decodes the cache record. Returns ErrNotFound when no
// record exists or its blob is unreadable. An absent or invalid quota section
// defaults to a fresh ledger state.
func (s *Store) ReadCache(ctx context.Context) (json.RawMessage, *quota.State, error) {
	id, err := s.FindCacheRecordID(ctx)
	if err != nil {
		return nil, nil, err
	}
	if id == 0 {
		return nil, nil, ErrNotFound
	}

	record, err := s.api.GetActivity(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("statestore: get cache record %d: %w", id, err)
	}

	profile, q, err := Decode(record.Description)
	if err != nil {
		s.logger.Warn("Cache record blob unreadable, treating as not found", "activity_id", id)
		return nil, nil, ErrNotFound
	}
	if q == nil {
		q = quota.DefaultState(s.now())
	}
	return profile, q, nil
}

// WriteCache encodes and persists the state, creating the cache record on
// first use and updating it afterwards.
func (s *Store) WriteCache(ctx context.Context, profile json.RawMessage, q *quota.State) error {
	blob, err := Encode(profile, q, s.now())
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.findLocked(ctx)
	if err != nil {
		return err
	}

	if id == 0 {
		created, err := s.api.CreateActivity(ctx, &strava.Activity{
			Name:        CacheRecordName,
			Type:        "Workout",
			StartDate:   s.now(),
			ElapsedTime: 60,
			Description: blob,
		})
		if err != nil {
			return fmt.Errorf("statestore: create cache record: %w", err)
		}
		s.logger.Info("Created cache record", "activity_id", created.ID)
		s.cachedID = created.ID
		s.lookedUpAt = s.now()
		return nil
	}

	if _, err := s.api.UpdateDescription(ctx, id, blob); err != nil {
		return fmt.Errorf("statestore: update cache record %d: %w", id, err)
	}
	return nil
}
