package model

// Profile is the durable record of one person across Slack and ClickUp.
type Profile struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email,omitempty"`
	SlackUserID   string    `json:"slack_user_id,omitempty"`
	ClickUpUserID string    `json:"clickup_user_id,omitempty"`
	Role          ActorRole `json:"role"`
	IsAdmin       bool      `json:"is_admin"`
}

// SlackUser is an identity reported by the chat platform.
type SlackUser struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	IsBot    bool   `json:"is_bot,omitempty"`
	Deleted  bool   `json:"deleted,omitempty"`
	RealName string `json:"real_name,omitempty"`
}

// ClickUpUser is an identity reported by the ticketing system.
type ClickUpUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}
