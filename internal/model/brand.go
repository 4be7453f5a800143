package model

import "time"

// Client is an agency client. Brands hang off a client.
type Client struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Brand is a sub-entity of a client, optionally mapped to a ClickUp destination.
type Brand struct {
	ID       string `json:"id"`
	ClientID string `json:"client_id"`
	Name     string `json:"name"`
	SpaceID  string `json:"clickup_space_id,omitempty"`
	ListID   string `json:"clickup_list_id,omitempty"`
}

// Mapped reports whether the brand has any ClickUp destination.
func (b Brand) Mapped() bool {
	return b.SpaceID != "" || b.ListID != ""
}

// DestinationKey groups brands that file into the same place.
type DestinationKey struct {
	SpaceID string
	ListID  string
}

// Key returns the brand's destination key.
func (b Brand) Key() DestinationKey {
	return DestinationKey{SpaceID: b.SpaceID, ListID: b.ListID}
}

// ResolutionMode describes how a brand/destination was (or was not) determined.
type ResolutionMode string

const (
	ModeExplicitBrand        ResolutionMode = "explicit_brand"
	ModeClarifiedBrand       ResolutionMode = "clarified_brand"
	ModeClientLevel          ResolutionMode = "client_level"
	ModeAmbiguousBrand       ResolutionMode = "ambiguous_brand"
	ModeAmbiguousDestination ResolutionMode = "ambiguous_destination"
	ModeNoDestination        ResolutionMode = "no_destination"
)

// Ambiguous reports whether the user must pick before anything can be filed.
func (m ResolutionMode) Ambiguous() bool {
	return m == ModeAmbiguousBrand || m == ModeAmbiguousDestination
}

// Destination is where a task will be filed.
type Destination struct {
	SpaceID   string `json:"space_id"`
	ListID    string `json:"list_id"`
	BrandID   string `json:"brand_id,omitempty"`
	BrandName string `json:"brand_name,omitempty"`
}

// BrandContext names the brand a request is about.
type BrandContext struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// BrandResolution is recomputed per request and never stored.
// Destination is nil for ambiguous and no_destination modes; BrandContext is
// nil for ambiguous modes and for client_level with a shared destination.
type BrandResolution struct {
	Mode              ResolutionMode `json:"mode"`
	Destination       *Destination   `json:"destination,omitempty"`
	BrandContext      *BrandContext  `json:"brand_context,omitempty"`
	Candidates        []Brand        `json:"candidates"`
	DestinationGroups int            `json:"destination_groups"`
}

// Space is a row in the ClickUp space registry.
type Space struct {
	SpaceID        string     `json:"space_id"`
	TeamID         string     `json:"team_id"`
	Name           string     `json:"name"`
	Classification string     `json:"classification,omitempty"`
	BrandID        string     `json:"brand_id,omitempty"`
	Active         bool       `json:"active"`
	LastSeenAt     *time.Time `json:"last_seen_at,omitempty"`
	LastSyncedAt   *time.Time `json:"last_synced_at,omitempty"`
}

// List is a ClickUp list inside a space.
type List struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	SpaceID string `json:"space_id"`
}

// Task is a ClickUp task as returned by the ticketing collaborator.
type Task struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	URL         string    `json:"url"`
	Status      string    `json:"status,omitempty"`
	ListID      string    `json:"list_id,omitempty"`
	DateUpdated time.Time `json:"date_updated,omitempty"`
}

// Assignment links a profile to a client with a team role (e.g. "strategist").
type Assignment struct {
	ClientID    string `json:"client_id"`
	ProfileID   string `json:"profile_id"`
	ProfileName string `json:"profile_name,omitempty"`
	Role        string `json:"role"`
}

// AgentTask is the local record of a task created through the bot.
type AgentTask struct {
	ID             string    `json:"id"`
	ClientID       string    `json:"client_id,omitempty"`
	BrandID        string    `json:"brand_id,omitempty"`
	EmployeeID     string    `json:"employee_id,omitempty"`
	Title          string    `json:"title"`
	ClickUpTaskID  string    `json:"clickup_task_id,omitempty"`
	ClickUpTaskURL string    `json:"clickup_task_url,omitempty"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}
