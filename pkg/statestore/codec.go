// Package statestore persists this system's durable state inside the
// description text of a dedicated upstream activity (the cache record). No
// local disk or database is involved.
//
// The blob grammar is two independently optional marker-delimited JSON
// sections, with arbitrary free text allowed before, between and after:
//
//	---CACHE_START--- <profile JSON> ---CACHE_END---
//	---QUOTA_START--- <quota JSON> ---QUOTA_END---
//
// Decode falls back to "not found" on any malformed input; it never fails a
// pass over a corrupted blob, which the next write simply overwrites.
package statestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stridecoach/server/pkg/quota"
)

const (
	cacheStartMarker = "---CACHE_START---"
	cacheEndMarker   = "---CACHE_END---"
	quotaStartMarker = "---QUOTA_START---"
	quotaEndMarker   = "---QUOTA_END---"

	blobHeader = "Remote state for the AI coaching sync engine. Do not edit below this line."
)

// ErrNotFound reports that no valid cache blob exists. Parse failures on a
// well-formed-looking blob map to this same error on purpose.
var ErrNotFound = errors.New("statestore: cache blob not found")

// Encode serializes the profile and quota state into the marker blob, with a
// human-readable timestamp footer.
func Encode(profile json.RawMessage, q *quota.State, now time.Time) (string, error) {
	if len(profile) == 0 {
		profile = json.RawMessage("{}")
	}
	if !json.Valid(profile) {
		return "", fmt.Errorf("statestore: profile is not valid JSON")
	}

	quotaJSON, err := json.Marshal(q)
	if err != nil {
		return "", fmt.Errorf("statestore: marshal quota: %w", err)
	}

	var b strings.Builder
	b.WriteString(blobHeader)
	b.WriteString("\n")
	b.WriteString(cacheStartMarker)
	b.WriteString("\n")
	b.Write(profile)
	b.WriteString("\n")
	b.WriteString(cacheEndMarker)
	b.WriteString("\n")
	b.WriteString(quotaStartMarker)
	b.WriteString("\n")
	b.Write(quotaJSON)
	b.WriteString("\n")
	b.WriteString(quotaEndMarker)
	b.WriteString("\n")
	b.WriteString("Last updated: ")
	b.WriteString(now.UTC().Format("2006-01-02 15:04:05 MST"))
	return b.String(), nil
}

// Decode extracts the profile and quota sections from a blob. The profile
// section is required: missing markers or invalid JSON yield ErrNotFound.
// The quota section is independent; when absent or invalid the returned quota
// is nil and the caller applies defaults.
func Decode(text string) (json.RawMessage, *quota.State, error) {
	rawProfile, ok := extractSection(text, cacheStartMarker, cacheEndMarker)
	if !ok {
		return nil, nil, ErrNotFound
	}
	profile := json.RawMessage(strings.TrimSpace(rawProfile))
	if len(profile) == 0 || !json.Valid(profile) {
		return nil, nil, ErrNotFound
	}

	var q *quota.State
	if rawQuota, ok := extractSection(text, quotaStartMarker, quotaEndMarker); ok {
		var parsed quota.State
		if err := json.Unmarshal([]byte(strings.TrimSpace(rawQuota)), &parsed); err == nil {
			q = &parsed
		}
	}

	return profile, q, nil
}

// extractSection returns the text between the first start marker and the
// first end marker after it.
func extractSection(text, start, end string) (string, bool) {
	i := strings.Index(text, start)
	if i == -1 {
		return "", false
	}
	rest := text[i+len(start):]
	j := strings.Index(rest, end)
	if j == -1 {
		return "", false
	}
	return rest[:j], true
}
