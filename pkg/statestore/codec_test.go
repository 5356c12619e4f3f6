package statestore

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stridecoach/server/pkg/quota"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	profile := json.RawMessage(`{"last_run_id":"abc","total_analyzed":42}`)
	q := &quota.State{
		DailyUsed:   7,
		DailyLimit:  1500,
		MinuteUsed:  2,
		MinuteLimit: 15,
		ResetAt:     now.Add(24 * time.Hour),
	}

	blob, err := Encode(profile, q, now)
	require.NoError(t, err)

	gotProfile, gotQuota, err := Decode(blob)
	require.NoError(t, err)
	assert.JSONEq(t, string(profile), string(gotProfile))
	require.NotNil(t, gotQuota)
	assert.Equal(t, q.DailyUsed, gotQuota.DailyUsed)
	assert.Equal(t, q.DailyLimit, gotQuota.DailyLimit)
	assert.True(t, q.ResetAt.Equal(gotQuota.ResetAt))
}

func TestEncodeDefaultsEmptyProfile(t *testing.T) {
	blob, err := Encode(nil, quota.DefaultState(time.Now()), time.Now())
	require.NoError(t, err)

	profile, _, err := Decode(blob)
	require.NoError(t, err)
	assert.JSONEq(t, "{}", string(profile))
}

func TestEncodeRejectsInvalidProfile(t *testing.T) {
	_, err := Encode(json.RawMessage("{not json"), quota.DefaultState(time.Now()), time.Now())
	require.Error(t, err)
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"plain text", "just a workout note"},
		{"start marker only", "---CACHE_START---\n{}"},
		{"end marker only", "{}\n---CACHE_END---"},
		{"markers reversed", "---CACHE_END---\n{}\n---CACHE_START---"},
		{"invalid json inside markers", "---CACHE_START---\n{broken\n---CACHE_END---"},
		{"empty section", "---CACHE_START------CACHE_END---"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode(tt.text)
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("Decode(%q) error = %v, want ErrNotFound", tt.text, err)
			}
		})
	}
}

func TestDecodeQuotaIndependent(t *testing.T) {
	// A valid profile with a corrupt quota section decodes with nil quota.
	blob := strings.Join([]string{
		"---CACHE_START---",
		"{}",
		"---CACHE_END---",
		"---QUOTA_START---",
		"{corrupt",
		"---QUOTA_END---",
	}, "\n")

	profile, q, err := Decode(blob)
	require.NoError(t, err)
	assert.JSONEq(t, "{}", string(profile))
	assert.Nil(t, q)
}

func TestDecodeTolerantOfSurroundingText(t *testing.T) {
	blob := "user wrote stuff here\n---CACHE_START---\n{\"a\":1}\n---CACHE_END---\ntrailing footer"
	profile, q, err := Decode(blob)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(profile))
	assert.Nil(t, q)
}

// FuzzDecode guarantees decode degrades to "not found" on arbitrary input
// instead of crashing a pass.
func FuzzDecode(f *testing.F) {
	f.Add("")
	f.Add("---CACHE_START---{}---CACHE_END---")
	f.Add("---CACHE_START---\n{\"x\":true}\n---CACHE_END---\n---QUOTA_START---\n{}\n---QUOTA_END---")
	f.Add("---QUOTA_START------CACHE_START---")
	f.Add(strings.Repeat("---CACHE_START---", 10))

	f.Fuzz(func(t *testing.T, text string) {
		profile, _, err := Decode(text)
		if err == nil && !json.Valid(profile) {
			t.Errorf("Decode returned invalid profile JSON for input %q", text)
		}
	})
}
