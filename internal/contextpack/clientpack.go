package contextpack

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/tasklane/internal/model"
)

// ClientStore is the persistence a ClientPackBuilder reads from.
type ClientStore interface {
	GetClient(ctx context.Context, id string) (model.Client, error)
	ListBrands(ctx context.Context, clientID string) ([]model.Brand, error)
	ListAssignments(ctx context.Context, clientID string) ([]model.Assignment, error)
	RecentAgentTasks(ctx context.Context, clientID string, limit int) ([]model.AgentTask, error)
}

// recentTaskLimit bounds how many recent tasks a pack lists.
const recentTaskLimit = 10

// ClientPackBuilder renders what the assistant knows about one client.
type ClientPackBuilder struct {
	store  ClientStore
	logger *slog.Logger
}

// NewClientPackBuilder creates a builder.
func NewClientPackBuilder(store ClientStore, logger *slog.Logger) *ClientPackBuilder {
	return &ClientPackBuilder{store: store, logger: logger}
}

// Build loads the client, its brands, team assignments and recent tasks
// concurrently and renders them line by line within budget tokens.
func (b *ClientPackBuilder) Build(ctx context.Context, clientID string, budget int) (string, error) {
	var (
		client      model.Client
		brandList   []model.Brand
		assignments []model.Assignment
		recent      []model.AgentTask
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		client, err = b.store.GetClient(gctx, clientID)
		return err
	})
	g.Go(func() error {
		var err error
		brandList, err = b.store.ListBrands(gctx, clientID)
		return err
	})
	g.Go(func() error {
		var err error
		assignments, err = b.store.ListAssignments(gctx, clientID)
		return err
	})
	g.Go(func() error {
		var err error
		recent, err = b.store.RecentAgentTasks(gctx, clientID, recentTaskLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		return "", fmt.Errorf("contextpack: build client pack %s: %w", clientID, err)
	}

	lines := []string{fmt.Sprintf("Client: %s", client.Name)}
	if len(brandList) > 0 {
		lines = append(lines, "Brands:")
		for _, br := range brandList {
			lines = append(lines, "- "+describeBrand(br))
		}
	}
	if len(assignments) > 0 {
		lines = append(lines, "Team:")
		for _, a := range assignments {
			name := a.ProfileName
			if name == "" {
				name = a.ProfileID
			}
			lines = append(lines, fmt.Sprintf("- %s (%s)", name, a.Role))
		}
	}
	if len(recent) > 0 {
		lines = append(lines, "Recent tasks:")
		for _, t := range recent {
			lines = append(lines, fmt.Sprintf("- %s [%s] %s", t.Title, t.Status, t.CreatedAt.UTC().Format("2006-01-02")))
		}
	}

	pack := TruncateLines(lines, budget)
	b.logger.Debug("contextpack: client pack built",
		"client_id", clientID,
		"brands", len(brandList),
		"tokens", EstimateTokens(pack),
		"budget", budget,
	)
	return pack, nil
}

func describeBrand(br model.Brand) string {
	switch {
	case br.ListID != "":
		return fmt.Sprintf("%s (list %s)", br.Name, br.ListID)
	case br.SpaceID != "":
		return fmt.Sprintf("%s (space %s, no list)", br.Name, br.SpaceID)
	default:
		return fmt.Sprintf("%s (unmapped)", br.Name)
	}
}
