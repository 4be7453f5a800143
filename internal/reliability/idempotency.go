// Package reliability makes task creation against ClickUp safe to retry:
// deterministic idempotency keys, duplicate suppression, bounded retry with
// backoff, and best-effort orphan events for tasks created upstream but not
// recorded locally.
package reliability

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// DefaultDuplicateWindow is the trailing window CheckDuplicate searches.
const DefaultDuplicateWindow = 24 * time.Hour

// NormalizeTitle lower-cases, collapses internal whitespace and trims.
func NormalizeTitle(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}

// BuildIdempotencyKey returns the 64-hex SHA-256 of the entity id, the
// normalized title and the UTC calendar day of asOf.
func BuildIdempotencyKey(entityID, title string, asOf time.Time) string {
	composite := strings.Join([]string{
		strings.TrimSpace(entityID),
		NormalizeTitle(title),
		asOf.UTC().Format(time.DateOnly),
	}, "|")
	sum := sha256.Sum256([]byte(composite))
	return hex.EncodeToString(sum[:])
}

// DuplicateMatch is the projection of a prior write with the same key.
type DuplicateMatch struct {
	AgentTaskID   string
	ClickUpTaskID string
	ClickUpURL    string
	Status        string
	CreatedAt     time.Time
}

// DuplicateStore finds the most recent agent task tagged with key created at
// or after since. It returns (nil, nil) when there is none.
type DuplicateStore interface {
	FindAgentTaskByKey(ctx context.Context, key string, since time.Time) (*DuplicateMatch, error)
}

// CheckDuplicate returns the most recent prior write tagged with key inside
// the trailing window, or nil. An empty key returns nil without a query.
func CheckDuplicate(ctx context.Context, store DuplicateStore, key string, window time.Duration, now time.Time) (*DuplicateMatch, error) {
	if key == "" {
		return nil, nil
	}
	if window <= 0 {
		window = DefaultDuplicateWindow
	}
	m, err := store.FindAgentTaskByKey(ctx, key, now.Add(-window))
	if err != nil {
		return nil, fmt.Errorf("reliability: check duplicate: %w", err)
	}
	return m, nil
}
