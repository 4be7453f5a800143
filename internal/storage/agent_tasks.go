package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/tasklane/internal/model"
	"github.com/ashita-ai/tasklane/internal/reliability"
)

// InsertAgentTask records a task created through the bot. An empty ID is
// generated and returned on the copy.
func (db *DB) InsertAgentTask(ctx context.Context, t model.AgentTask) (model.AgentTask, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO agent_tasks (id, client_id, brand_id, employee_id, title,
		     clickup_task_id, clickup_task_url, idempotency_key, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, nullable(t.ClientID), nullable(t.BrandID), nullable(t.EmployeeID), t.Title,
		nullable(t.ClickUpTaskID), nullable(t.ClickUpTaskURL), nullable(t.IdempotencyKey),
		t.Status, t.CreatedAt)
	if err != nil {
		return model.AgentTask{}, fmt.Errorf("storage: insert agent task: %w", err)
	}
	return t, nil
}

// FindAgentTaskByKey returns the most recent agent task tagged with key and
// created at or after since, or (nil, nil).
func (db *DB) FindAgentTaskByKey(ctx context.Context, key string, since time.Time) (*reliability.DuplicateMatch, error) {
	var (
		m          reliability.DuplicateMatch
		taskID, ur *string
	)
	err := db.pool.QueryRow(ctx,
		`SELECT id, clickup_task_id, clickup_task_url, status, created_at
		 FROM agent_tasks
		 WHERE idempotency_key = $1 AND created_at >= $2
		 ORDER BY created_at DESC
		 LIMIT 1`, key, since,
	).Scan(&m.AgentTaskID, &taskID, &ur, &m.Status, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: find agent task by key: %w", err)
	}
	m.ClickUpTaskID = deref(taskID)
	m.ClickUpURL = deref(ur)
	return &m, nil
}

// RecentAgentTasks returns a client's most recent agent tasks, newest first.
func (db *DB) RecentAgentTasks(ctx context.Context, clientID string, limit int) ([]model.AgentTask, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, client_id, brand_id, employee_id, title, clickup_task_id,
		     clickup_task_url, idempotency_key, status, created_at
		 FROM agent_tasks WHERE client_id = $1
		 ORDER BY created_at DESC LIMIT $2`, clientID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: recent agent tasks: %w", err)
	}
	tasks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.AgentTask, error) {
		var (
			t                                       model.AgentTask
			client, brand, employee, cuID, cuURL, k *string
		)
		err := row.Scan(&t.ID, &client, &brand, &employee, &t.Title, &cuID, &cuURL, &k, &t.Status, &t.CreatedAt)
		t.ClientID, t.BrandID, t.EmployeeID = deref(client), deref(brand), deref(employee)
		t.ClickUpTaskID, t.ClickUpTaskURL, t.IdempotencyKey = deref(cuID), deref(cuURL), deref(k)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("storage: recent agent tasks: %w", err)
	}
	return tasks, nil
}
