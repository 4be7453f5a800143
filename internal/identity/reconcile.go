// Package identity links Slack and ClickUp users to profiles.
//
// Reconcile is a pure decision over the existing profiles. Syncer applies
// decisions: auto matches fill in missing ids, conflicts become audit events
// for review, and unmatched identities become new-profile proposals.
package identity

import (
	"strings"

	"github.com/ashita-ai/tasklane/internal/model"
)

// Outcome of a reconciliation.
type Outcome string

const (
	OutcomeAutoMatch   Outcome = "auto_match"
	OutcomeNeedsReview Outcome = "needs_review"
	OutcomeNewProfile  Outcome = "new_profile"
)

// Match signals and review reasons.
const (
	ReasonEmailMatch         = "email_match"
	ReasonSlackIDMatch       = "slack_id_match"
	ReasonClickUpIDMatch     = "clickup_id_match"
	ReasonConflictingSlackID = "conflicting_slack_id"
	ReasonConflictingClickUp = "conflicting_clickup_id"
	ReasonMultipleMatches    = "multiple_matches"
	ReasonNoMatch            = "no_match"
)

// Suggested actions.
const (
	ActionLinkIdentity  = "link_identity"
	ActionManualReview  = "manual_review"
	ActionCreateProfile = "create_profile"
)

// Update lists the fields an auto match fills in. Empty fields are left
// untouched; an update never clears an id.
type Update struct {
	Email         string `json:"email,omitempty"`
	SlackUserID   string `json:"slack_user_id,omitempty"`
	ClickUpUserID string `json:"clickup_user_id,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u Update) Empty() bool {
	return u.Email == "" && u.SlackUserID == "" && u.ClickUpUserID == ""
}

// Decision is the outcome for one incoming identity.
type Decision struct {
	Outcome             Outcome        `json:"outcome"`
	CandidateProfileIDs []string       `json:"candidate_profile_ids"`
	Reasons             []string       `json:"reasons"`
	SuggestedAction     string         `json:"suggested_action"`
	Update              *Update        `json:"update,omitempty"`
	Proposal            *model.Profile `json:"proposal,omitempty"`
}

// Reconcile decides how an incoming Slack and/or ClickUp identity relates to
// profiles. Email comparison is case-insensitive.
func Reconcile(su *model.SlackUser, cu *model.ClickUpUser, profiles []model.Profile) Decision {
	emails := incomingEmails(su, cu)

	type match struct {
		profile model.Profile
		signals []string
	}
	var matches []match
	for _, p := range profiles {
		var signals []string
		if p.Email != "" && emails[strings.ToLower(p.Email)] {
			signals = append(signals, ReasonEmailMatch)
		}
		if su != nil && su.ID != "" && p.SlackUserID == su.ID {
			signals = append(signals, ReasonSlackIDMatch)
		}
		if cu != nil && cu.ID != "" && p.ClickUpUserID == cu.ID {
			signals = append(signals, ReasonClickUpIDMatch)
		}
		if len(signals) > 0 {
			matches = append(matches, match{profile: p, signals: signals})
		}
	}

	switch len(matches) {
	case 0:
		return Decision{
			Outcome:             OutcomeNewProfile,
			CandidateProfileIDs: []string{},
			Reasons:             []string{ReasonNoMatch},
			SuggestedAction:     ActionCreateProfile,
			Proposal:            seedProfile(su, cu),
		}
	case 1:
	default:
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.profile.ID
		}
		return Decision{
			Outcome:             OutcomeNeedsReview,
			CandidateProfileIDs: ids,
			Reasons:             []string{ReasonMultipleMatches},
			SuggestedAction:     ActionManualReview,
		}
	}

	m := matches[0]
	var conflicts []string
	if su != nil && su.ID != "" && m.profile.SlackUserID != "" && m.profile.SlackUserID != su.ID {
		conflicts = append(conflicts, ReasonConflictingSlackID)
	}
	if cu != nil && cu.ID != "" && m.profile.ClickUpUserID != "" && m.profile.ClickUpUserID != cu.ID {
		conflicts = append(conflicts, ReasonConflictingClickUp)
	}
	if len(conflicts) > 0 {
		return Decision{
			Outcome:             OutcomeNeedsReview,
			CandidateProfileIDs: []string{m.profile.ID},
			Reasons:             append(conflicts, m.signals...),
			SuggestedAction:     ActionManualReview,
		}
	}

	upd := Update{}
	if m.profile.Email == "" {
		upd.Email = firstEmail(su, cu)
	}
	if su != nil && m.profile.SlackUserID == "" {
		upd.SlackUserID = su.ID
	}
	if cu != nil && m.profile.ClickUpUserID == "" {
		upd.ClickUpUserID = cu.ID
	}
	d := Decision{
		Outcome:             OutcomeAutoMatch,
		CandidateProfileIDs: []string{m.profile.ID},
		Reasons:             m.signals,
		SuggestedAction:     ActionLinkIdentity,
	}
	if !upd.Empty() {
		d.Update = &upd
	}
	return d
}

func incomingEmails(su *model.SlackUser, cu *model.ClickUpUser) map[string]bool {
	out := map[string]bool{}
	if su != nil && su.Email != "" {
		out[strings.ToLower(su.Email)] = true
	}
	if cu != nil && cu.Email != "" {
		out[strings.ToLower(cu.Email)] = true
	}
	return out
}

func firstEmail(su *model.SlackUser, cu *model.ClickUpUser) string {
	if su != nil && su.Email != "" {
		return strings.ToLower(su.Email)
	}
	if cu != nil && cu.Email != "" {
		return strings.ToLower(cu.Email)
	}
	return ""
}

func seedProfile(su *model.SlackUser, cu *model.ClickUpUser) *model.Profile {
	p := &model.Profile{Email: firstEmail(su, cu), Role: model.RoleMember}
	if su != nil {
		p.SlackUserID = su.ID
		p.Name = su.RealName
		if p.Name == "" {
			p.Name = su.Name
		}
	}
	if cu != nil {
		p.ClickUpUserID = cu.ID
		if p.Name == "" {
			p.Name = cu.Username
		}
	}
	return p
}
