package model

import "time"

// KnowledgeDoc is a knowledge-base entry. A nil ClientID marks a global
// document visible to every client.
type KnowledgeDoc struct {
	ID        string    `json:"id"`
	ClientID  *string   `json:"client_id,omitempty"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	UpdatedAt time.Time `json:"updated_at"`
}
