package model

// ActorRole represents the role assigned to a human actor's profile.
type ActorRole string

const (
	RoleAdmin    ActorRole = "admin"
	RoleOperator ActorRole = "operator"
	RoleMember   ActorRole = "member"
	RoleViewer   ActorRole = "viewer"
)

// RoleRank returns the numeric rank of a role (higher = more privileges).
// Unknown roles rank 0.
func RoleRank(r ActorRole) int {
	switch r {
	case RoleAdmin:
		return 4
	case RoleOperator:
		return 3
	case RoleMember:
		return 2
	case RoleViewer:
		return 1
	default:
		return 0
	}
}

// KnownRole reports whether r is one of the defined roles.
func KnownRole(r ActorRole) bool {
	return RoleRank(r) > 0
}

// Actor is the human on the other side of a conversation.
type Actor struct {
	SlackUserID string    `json:"slack_user_id"`
	ProfileID   string    `json:"profile_id,omitempty"`
	Name        string    `json:"name,omitempty"`
	Role        ActorRole `json:"role"`
	IsAdmin     bool      `json:"is_admin"`
}

// Surface identifies where a message arrived.
type Surface string

const (
	SurfaceDM      Surface = "dm"
	SurfaceIM      Surface = "im"
	SurfaceAppHome Surface = "app_home"
	SurfaceChannel Surface = "channel"
	SurfaceGroup   Surface = "group"
	SurfaceMPIM    Surface = "mpim"
)

// IsDirect reports whether the surface is a one-to-one conversation with the bot.
func (s Surface) IsDirect() bool {
	switch s {
	case SurfaceDM, SurfaceIM, SurfaceAppHome:
		return true
	default:
		return false
	}
}
