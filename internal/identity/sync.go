package identity

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/tasklane/internal/model"
)

// EventIdentityReview is the audit event type for needs_review outcomes.
const EventIdentityReview = "identity_needs_review"

// Store is the persistence the syncer needs.
type Store interface {
	ListProfiles(ctx context.Context) ([]model.Profile, error)
	UpdateProfileIdentity(ctx context.Context, profileID string, upd Update) error
	InsertAuditEvent(ctx context.Context, ev model.AuditEvent) error
}

// SlackSource lists Slack workspace members.
type SlackSource interface {
	ListUsers(ctx context.Context) ([]model.SlackUser, error)
}

// ClickUpSource lists ClickUp workspace members.
type ClickUpSource interface {
	ListMembers(ctx context.Context) ([]model.ClickUpUser, error)
}

// Report summarizes one sync run. Counts are identical with and without
// dry-run.
type Report struct {
	DryRun      bool             `json:"dry_run"`
	Considered  int              `json:"considered"`
	AutoMatched int              `json:"auto_matched"`
	Applied     int              `json:"applied"`
	NeedsReview int              `json:"needs_review"`
	NewProfiles int              `json:"new_profiles"`
	Reviews     []Decision       `json:"reviews,omitempty"`
	Proposals   []*model.Profile `json:"proposals,omitempty"`
}

// Syncer reconciles workspace members against profiles.
type Syncer struct {
	store  Store
	logger *slog.Logger
}

// NewSyncer creates a Syncer.
func NewSyncer(store Store, logger *slog.Logger) *Syncer {
	return &Syncer{store: store, logger: logger}
}

// SyncAll fetches members from both sources and runs a sync.
func (s *Syncer) SyncAll(ctx context.Context, slackSrc SlackSource, clickupSrc ClickUpSource, dryRun bool) (Report, error) {
	slackUsers, err := slackSrc.ListUsers(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("identity: list slack users: %w", err)
	}
	clickupUsers, err := clickupSrc.ListMembers(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("identity: list clickup members: %w", err)
	}
	return s.Run(ctx, slackUsers, clickupUsers, dryRun)
}

// Run reconciles every live Slack user and ClickUp member. Identities that
// share an email are reconciled together. Under dryRun nothing is written.
func (s *Syncer) Run(ctx context.Context, slackUsers []model.SlackUser, clickupUsers []model.ClickUpUser, dryRun bool) (Report, error) {
	profiles, err := s.store.ListProfiles(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("identity: list profiles: %w", err)
	}

	report := Report{DryRun: dryRun}
	for _, p := range pairByEmail(slackUsers, clickupUsers) {
		report.Considered++
		d := Reconcile(p.slack, p.clickup, profiles)

		switch d.Outcome {
		case OutcomeAutoMatch:
			report.AutoMatched++
			if d.Update == nil {
				continue
			}
			profileID := d.CandidateProfileIDs[0]
			if !dryRun {
				if err := s.store.UpdateProfileIdentity(ctx, profileID, *d.Update); err != nil {
					return report, fmt.Errorf("identity: update profile %s: %w", profileID, err)
				}
				report.Applied++
			}
			applyUpdate(profiles, profileID, *d.Update)

		case OutcomeNeedsReview:
			report.NeedsReview++
			report.Reviews = append(report.Reviews, d)
			if !dryRun {
				s.recordReview(ctx, p, d)
			}

		case OutcomeNewProfile:
			report.NewProfiles++
			report.Proposals = append(report.Proposals, d.Proposal)
		}
	}

	s.logger.Info("identity: sync complete",
		"dry_run", dryRun,
		"considered", report.Considered,
		"auto_matched", report.AutoMatched,
		"applied", report.Applied,
		"needs_review", report.NeedsReview,
		"new_profiles", report.NewProfiles,
	)
	return report, nil
}

func (s *Syncer) recordReview(ctx context.Context, p pair, d Decision) {
	payload := map[string]any{
		"candidate_profile_ids": d.CandidateProfileIDs,
		"reasons":               d.Reasons,
	}
	if p.slack != nil {
		payload["slack_user_id"] = p.slack.ID
	}
	if p.clickup != nil {
		payload["clickup_user_id"] = p.clickup.ID
	}
	ev := model.AuditEvent{
		ID:        uuid.New(),
		EventType: EventIdentityReview,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	if len(d.CandidateProfileIDs) == 1 {
		ev.EmployeeID = d.CandidateProfileIDs[0]
	}
	if err := s.store.InsertAuditEvent(ctx, ev); err != nil {
		s.logger.Warn("identity: failed to record review event", "error", err, "reasons", strings.Join(d.Reasons, ","))
	}
}

type pair struct {
	slack   *model.SlackUser
	clickup *model.ClickUpUser
}

// pairByEmail joins live Slack users with ClickUp members that share an
// email. Bots and deleted Slack users are dropped.
func pairByEmail(slackUsers []model.SlackUser, clickupUsers []model.ClickUpUser) []pair {
	byEmail := map[string]int{}
	var out []pair
	for i := range slackUsers {
		u := &slackUsers[i]
		if u.IsBot || u.Deleted {
			continue
		}
		out = append(out, pair{slack: u})
		if u.Email != "" {
			byEmail[strings.ToLower(u.Email)] = len(out) - 1
		}
	}
	for i := range clickupUsers {
		u := &clickupUsers[i]
		if idx, ok := byEmail[strings.ToLower(u.Email)]; ok && u.Email != "" && out[idx].clickup == nil {
			out[idx].clickup = u
			continue
		}
		out = append(out, pair{clickup: u})
	}
	return out
}

func applyUpdate(profiles []model.Profile, id string, upd Update) {
	for i := range profiles {
		if profiles[i].ID != id {
			continue
		}
		if upd.Email != "" && profiles[i].Email == "" {
			profiles[i].Email = upd.Email
		}
		if upd.SlackUserID != "" && profiles[i].SlackUserID == "" {
			profiles[i].SlackUserID = upd.SlackUserID
		}
		if upd.ClickUpUserID != "" && profiles[i].ClickUpUserID == "" {
			profiles[i].ClickUpUserID = upd.ClickUpUserID
		}
		return
	}
}
