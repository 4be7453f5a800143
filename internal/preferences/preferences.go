// Package preferences stores each actor's durable default client and merges
// the competing sources of "which client is this about" into one answer.
package preferences

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Source names where a resolved client came from.
type Source string

const (
	SourceExplicit   Source = "explicit"
	SourcePending    Source = "pending"
	SourcePreference Source = "preference"
	SourceSession    Source = "session"
	SourceNone       Source = "none"
)

// ResolveClient picks the client for a request. An explicit hint in the
// message wins, then the client held by a pending action, then the actor's
// durable default, then the session's active client. Blank values are skipped.
func ResolveClient(explicit, pending, preference, sessionClient string) (string, Source) {
	for _, c := range []struct {
		value  string
		source Source
	}{
		{explicit, SourceExplicit},
		{pending, SourcePending},
		{preference, SourcePreference},
		{sessionClient, SourceSession},
	} {
		if v := strings.TrimSpace(c.value); v != "" {
			return v, c.source
		}
	}
	return "", SourceNone
}

// Store is the persistence collaborator for durable defaults.
type Store interface {
	GetDefaultClient(ctx context.Context, slackUserID string) (string, error)
	SetDefaultClient(ctx context.Context, slackUserID, clientID string) error
	ClearDefaults(ctx context.Context, slackUserID string) error
}

// Service reads and writes per-actor defaults.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a preference service.
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// DefaultClient returns the actor's default client ID, or "" when unset.
func (s *Service) DefaultClient(ctx context.Context, slackUserID string) (string, error) {
	id, err := s.store.GetDefaultClient(ctx, slackUserID)
	if err != nil {
		return "", fmt.Errorf("preferences: default client: %w", err)
	}
	return id, nil
}

// SetDefault stores clientID as the actor's default.
func (s *Service) SetDefault(ctx context.Context, slackUserID, clientID string) error {
	if strings.TrimSpace(clientID) == "" {
		return fmt.Errorf("preferences: set default: empty client id")
	}
	if err := s.store.SetDefaultClient(ctx, slackUserID, clientID); err != nil {
		return fmt.Errorf("preferences: set default: %w", err)
	}
	s.logger.Info("default client set", "slack_user_id", slackUserID, "client_id", clientID)
	return nil
}

// Clear removes every default for the actor.
func (s *Service) Clear(ctx context.Context, slackUserID string) error {
	if err := s.store.ClearDefaults(ctx, slackUserID); err != nil {
		return fmt.Errorf("preferences: clear: %w", err)
	}
	s.logger.Info("defaults cleared", "slack_user_id", slackUserID)
	return nil
}
