// Package policy decides whether an actor may run a skill on a surface.
//
// Evaluate is a pure, total function over the skill registry: it never
// returns an error, and unknown roles or skills produce a denial with a
// reason code instead.
package policy

import (
	"github.com/ashita-ai/tasklane/internal/model"
	"github.com/ashita-ai/tasklane/internal/skills"
)

// Reason codes.
const (
	ReasonUnknownActor         = "unknown_actor"
	ReasonSurfaceNotDirect     = "surface_not_direct"
	ReasonUnknownSkill         = "unknown_skill"
	ReasonAdminSkillDenied     = "admin_skill_denied"
	ReasonViewerMutationDenied = "viewer_mutation_denied"
	ReasonReadOnlyAllowed      = "read_only_allowed"
	ReasonAllowed              = "allowed"
)

// Decision is the outcome of a policy evaluation.
type Decision struct {
	Allowed     bool           `json:"allowed"`
	ReasonCode  string         `json:"reason_code"`
	UserMessage string         `json:"user_message,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// Gate evaluates skills against a registry.
type Gate struct {
	registry *skills.Registry
}

// New creates a Gate. A nil registry uses skills.Default().
func New(reg *skills.Registry) *Gate {
	if reg == nil {
		reg = skills.Default()
	}
	return &Gate{registry: reg}
}

// Evaluate applies the rule chain in priority order:
//   - unknown actor role: deny
//   - non-direct surface: deny
//   - admin-only skill without admin: deny
//   - mutation skill for a viewer: deny
//   - read-only skill: allow
//   - otherwise: allow
func (g *Gate) Evaluate(actor model.Actor, surface model.Surface, skillID string) Decision {
	meta := map[string]any{
		"role":     string(actor.Role),
		"surface":  string(surface),
		"skill_id": skillID,
	}

	if !model.KnownRole(actor.Role) {
		return deny(ReasonUnknownActor, "I don't recognise your account yet. Ask an admin to add you.", meta)
	}
	if !surface.IsDirect() {
		return deny(ReasonSurfaceNotDirect, "I can only do that in a direct message.", meta)
	}

	skill, ok := g.registry.Lookup(skillID)
	if !ok {
		return deny(ReasonUnknownSkill, "I don't know how to do that.", meta)
	}

	admin := actor.IsAdmin || actor.Role == model.RoleAdmin
	if skill.AdminOnly && !admin {
		return deny(ReasonAdminSkillDenied, "That command is limited to admins.", meta)
	}
	if skill.Mutation && actor.Role == model.RoleViewer {
		return deny(ReasonViewerMutationDenied, "Your role is read-only, so I can't make changes for you.", meta)
	}
	if skill.ReadOnly {
		return Decision{Allowed: true, ReasonCode: ReasonReadOnlyAllowed, Meta: meta}
	}
	return Decision{Allowed: true, ReasonCode: ReasonAllowed, Meta: meta}
}

func deny(code, msg string, meta map[string]any) Decision {
	return Decision{Allowed: false, ReasonCode: code, UserMessage: msg, Meta: meta}
}
