package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/tasklane/internal/model"
)

const knowledgeColumns = `id, client_id, title, body, updated_at`

// SearchKnowledge runs a full-text match of any of terms. A non-empty
// clientID searches that client's documents; "" searches global documents.
// Terms are expected to be lower-case alphanumerics.
func (db *DB) SearchKnowledge(ctx context.Context, clientID string, terms []string, limit int) ([]model.KnowledgeDoc, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	query := strings.Join(terms, " | ")
	rows, err := db.pool.Query(ctx,
		`SELECT `+knowledgeColumns+` FROM kb_documents
		 WHERE search_tsv @@ to_tsquery('english', $1)
		   AND client_id IS NOT DISTINCT FROM $2
		 ORDER BY ts_rank(search_tsv, to_tsquery('english', $1)) DESC, updated_at DESC
		 LIMIT $3`, query, nullable(clientID), limit)
	if err != nil {
		return nil, fmt.Errorf("storage: search knowledge: %w", err)
	}
	docs, err := pgx.CollectRows(rows, scanKnowledgeDoc)
	if err != nil {
		return nil, fmt.Errorf("storage: search knowledge: %w", err)
	}
	return docs, nil
}

// SearchKnowledgeByVector returns the documents nearest to vec by cosine
// distance, drawn from the client's documents and the global ones. Documents
// embedded with a different dimensionality are ignored.
func (db *DB) SearchKnowledgeByVector(ctx context.Context, clientID string, vec pgvector.Vector, limit int) ([]model.KnowledgeDoc, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+knowledgeColumns+` FROM kb_documents
		 WHERE embedding IS NOT NULL
		   AND vector_dims(embedding) = vector_dims($1::vector)
		   AND (client_id IS NULL OR client_id = $2)
		 ORDER BY embedding <=> $1::vector
		 LIMIT $3`, vec, nullable(clientID), limit)
	if err != nil {
		return nil, fmt.Errorf("storage: search knowledge by vector: %w", err)
	}
	docs, err := pgx.CollectRows(rows, scanKnowledgeDoc)
	if err != nil {
		return nil, fmt.Errorf("storage: search knowledge by vector: %w", err)
	}
	return docs, nil
}

// UpsertKnowledgeDoc writes a document and its optional embedding.
func (db *DB) UpsertKnowledgeDoc(ctx context.Context, doc model.KnowledgeDoc, emb *pgvector.Vector) (model.KnowledgeDoc, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO kb_documents (id, client_id, title, body, embedding, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
		     client_id = EXCLUDED.client_id,
		     title = EXCLUDED.title,
		     body = EXCLUDED.body,
		     embedding = EXCLUDED.embedding,
		     updated_at = EXCLUDED.updated_at`,
		doc.ID, doc.ClientID, doc.Title, doc.Body, emb, doc.UpdatedAt)
	if err != nil {
		return model.KnowledgeDoc{}, fmt.Errorf("storage: upsert knowledge doc: %w", err)
	}
	return doc, nil
}

func scanKnowledgeDoc(row pgx.CollectableRow) (model.KnowledgeDoc, error) {
	var d model.KnowledgeDoc
	err := row.Scan(&d.ID, &d.ClientID, &d.Title, &d.Body, &d.UpdatedAt)
	return d, err
}
