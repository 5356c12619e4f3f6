// Package quota tracks daily and per-minute AI usage counters against
// configured limits. The counters are advisory: the upstream AI provider
// enforces its own limits, this ledger exists to stop burning budget before
// the provider starts rejecting calls.
package quota

import (
	"errors"
	"sync"
	"time"
)

// Defaults match the AI provider's free-tier published limits.
const (
	DefaultDailyLimit  = 1500
	DefaultMinuteLimit = 15
)

// ErrDailyExhausted signals the daily analysis budget is spent. It is an
// expected terminal condition for a sync pass, not a retryable failure.
var ErrDailyExhausted = errors.New("quota: daily analysis budget exhausted")

// State is the persisted quota ledger. DailyUsed and ResetAt survive process
// restarts via the remote cache record; MinuteUsed is process-local and
// resets whenever the wall-clock minute changes.
type State struct {
	DailyUsed   int       `json:"daily_used"`
	DailyLimit  int       `json:"daily_limit"`
	MinuteUsed  int       `json:"minute_used"`
	MinuteLimit int       `json:"minute_limit"`
	ResetAt     time.Time `json:"reset_at"`
}

// DefaultState returns a fresh ledger state with default limits and a reset
// horizon one day out.
func DefaultState(now time.Time) *State {
	return &State{
		DailyLimit:  DefaultDailyLimit,
		MinuteLimit: DefaultMinuteLimit,
		ResetAt:     now.Add(24 * time.Hour),
	}
}

// ResetPolicy decides whether the daily counter rolls over at ResetAt.
type ResetPolicy interface {
	Apply(s *State, now time.Time)
}

// ManualReset never resets the daily counter; an operator clears the quota
// block by hand. This matches the system's observed behavior.
type ManualReset struct{}

func (ManualReset) Apply(*State, time.Time) {}

// AutoReset zeroes the daily counter once the reset horizon passes.
type AutoReset struct{}

func (AutoReset) Apply(s *State, now time.Time) {
	if !s.ResetAt.IsZero() && now.After(s.ResetAt) {
		s.DailyUsed = 0
		s.ResetAt = now.Add(24 * time.Hour)
	}
}

// Ledger wraps a State with the check/record operations used during a pass.
// It is safe for concurrent use, though passes are single-threaded by design.
type Ledger struct {
	mu         sync.Mutex
	state      *State
	policy     ResetPolicy
	now        func() time.Time
	lastMinute time.Time
}

func NewLedger(state *State, policy ResetPolicy) *Ledger {
	if state == nil {
		state = DefaultState(time.Now())
	}
	if state.DailyLimit == 0 {
		state.DailyLimit = DefaultDailyLimit
	}
	if state.MinuteLimit == 0 {
		state.MinuteLimit = DefaultMinuteLimit
	}
	if policy == nil {
		policy = ManualReset{}
	}
	return &Ledger{
		state:  state,
		policy: policy,
		now:    time.Now,
	}
}

// CheckAndReserve must be called before each AI call. Returns
// ErrDailyExhausted when the daily budget is at or over its limit.
func (l *Ledger) CheckAndReserve() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.policy.Apply(l.state, now)
	l.rollMinuteLocked(now)

	if l.state.DailyUsed >= l.state.DailyLimit {
		return ErrDailyExhausted
	}
	return nil
}

// RecordUsage increments the counters after a successful AI call. The caller
// is responsible for persisting the snapshot via the state store.
func (l *Ledger) RecordUsage() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.rollMinuteLocked(now)
	l.state.DailyUsed++
	l.state.MinuteUsed++
}

// Snapshot returns a copy of the current state for persistence or observers.
func (l *Ledger) Snapshot() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollMinuteLocked(l.now())
	return *l.state
}

func (l *Ledger) rollMinuteLocked(now time.Time) {
	minute := now.Truncate(time.Minute)
	if !minute.Equal(l.lastMinute) {
		l.state.MinuteUsed = 0
		l.lastMinute = minute
	}
}
