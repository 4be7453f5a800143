// Package registry mirrors the ClickUp workspace's spaces into the local
// space registry, where operators classify them and link them to brands.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashita-ai/tasklane/internal/model"
)

// SpaceSource lists the spaces visible to the configured ClickUp team.
type SpaceSource interface {
	ListSpaces(ctx context.Context) ([]model.Space, error)
}

// Store persists the registry. UpsertSpace must write only the API-owned
// fields so operator classifications survive a sync.
type Store interface {
	UpsertSpace(ctx context.Context, s model.Space, seenAt time.Time) error
	ClassifySpace(ctx context.Context, spaceID, classification, brandID string) error
}

// Classifications an operator may assign to a space.
var classifications = map[string]bool{
	"brand":    true,
	"client":   true,
	"internal": true,
	"archive":  true,
	"":         true,
}

// SyncReport summarizes a sync run.
type SyncReport struct {
	Seen    int `json:"seen"`
	Written int `json:"written"`
	Failed  int `json:"failed"`
}

// Syncer runs registry syncs.
type Syncer struct {
	source SpaceSource
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewSyncer creates a registry syncer.
func NewSyncer(source SpaceSource, store Store, logger *slog.Logger) *Syncer {
	return &Syncer{source: source, store: store, logger: logger, now: time.Now}
}

// Sync lists ClickUp spaces and upserts each one. A failed upsert is logged
// and counted; the remaining spaces are still written.
func (s *Syncer) Sync(ctx context.Context) (SyncReport, error) {
	spaces, err := s.source.ListSpaces(ctx)
	if err != nil {
		return SyncReport{}, fmt.Errorf("registry: list spaces: %w", err)
	}
	seenAt := s.now().UTC()
	report := SyncReport{Seen: len(spaces)}
	for _, sp := range spaces {
		if err := s.store.UpsertSpace(ctx, sp, seenAt); err != nil {
			report.Failed++
			s.logger.Error("registry: upsert space failed", "space_id", sp.SpaceID, "error", err)
			continue
		}
		report.Written++
	}
	s.logger.Info("registry: sync complete", "seen", report.Seen, "written", report.Written, "failed", report.Failed)
	return report, nil
}

// Classify sets the operator-owned classification and brand link of one
// space. Unknown classifications are rejected before touching storage.
func (s *Syncer) Classify(ctx context.Context, spaceID, classification, brandID string) error {
	if spaceID == "" {
		return fmt.Errorf("registry: classify: empty space id")
	}
	if !classifications[classification] {
		return fmt.Errorf("registry: classify: unknown classification %q", classification)
	}
	if err := s.store.ClassifySpace(ctx, spaceID, classification, brandID); err != nil {
		return fmt.Errorf("registry: classify %s: %w", spaceID, err)
	}
	return nil
}
