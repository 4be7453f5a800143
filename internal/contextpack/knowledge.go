package contextpack

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/tasklane/internal/embedding"
	"github.com/ashita-ai/tasklane/internal/model"
)

// KnowledgeStore searches knowledge-base documents. An empty clientID in
// SearchKnowledge means global documents only.
type KnowledgeStore interface {
	SearchKnowledge(ctx context.Context, clientID string, terms []string, limit int) ([]model.KnowledgeDoc, error)
	SearchKnowledgeByVector(ctx context.Context, clientID string, vec pgvector.Vector, limit int) ([]model.KnowledgeDoc, error)
}

// Retrieval tiers, in cascade order.
const (
	TierClientKeyword = "client_keyword"
	TierVector        = "vector"
	TierGlobalKeyword = "global_keyword"
	TierNone          = "none"
)

const (
	knowledgeLimit = 5
	maxQueryTerms  = 8
)

// Retrieval is the outcome of a knowledge lookup.
type Retrieval struct {
	Tier    string
	Docs    []model.KnowledgeDoc
	Summary string
}

// KnowledgeRetriever runs the retrieval cascade. The first tier that returns
// documents wins.
type KnowledgeRetriever struct {
	store    KnowledgeStore
	embedder embedding.Provider
	logger   *slog.Logger
}

// NewKnowledgeRetriever creates a retriever. A nil embedder skips the vector tier.
func NewKnowledgeRetriever(store KnowledgeStore, embedder embedding.Provider, logger *slog.Logger) *KnowledgeRetriever {
	return &KnowledgeRetriever{store: store, embedder: embedder, logger: logger}
}

// Retrieve looks up documents for query: client keyword match, then vector
// similarity, then global keyword match.
func (r *KnowledgeRetriever) Retrieve(ctx context.Context, clientID, query string, budget int) (Retrieval, error) {
	terms := QueryTerms(query)

	if clientID != "" && len(terms) > 0 {
		docs, err := r.store.SearchKnowledge(ctx, clientID, terms, knowledgeLimit)
		if err != nil {
			return Retrieval{}, fmt.Errorf("contextpack: client keyword search: %w", err)
		}
		if len(docs) > 0 {
			return summarize(TierClientKeyword, docs, budget), nil
		}
	}

	if r.embedder != nil && strings.TrimSpace(query) != "" {
		vec, err := r.embedder.Embed(ctx, query)
		if err != nil {
			r.logger.Warn("contextpack: embedding failed, skipping vector tier", "error", err)
		} else {
			docs, err := r.store.SearchKnowledgeByVector(ctx, clientID, vec, knowledgeLimit)
			if err != nil {
				return Retrieval{}, fmt.Errorf("contextpack: vector search: %w", err)
			}
			if len(docs) > 0 {
				return summarize(TierVector, docs, budget), nil
			}
		}
	}

	if len(terms) > 0 {
		docs, err := r.store.SearchKnowledge(ctx, "", terms, knowledgeLimit)
		if err != nil {
			return Retrieval{}, fmt.Errorf("contextpack: global keyword search: %w", err)
		}
		if len(docs) > 0 {
			return summarize(TierGlobalKeyword, docs, budget), nil
		}
	}

	return Retrieval{Tier: TierNone}, nil
}

func summarize(tier string, docs []model.KnowledgeDoc, budget int) Retrieval {
	lines := make([]string, 0, len(docs))
	for _, d := range docs {
		body := strings.Join(strings.Fields(d.Body), " ")
		lines = append(lines, fmt.Sprintf("- %s: %s", d.Title, body))
	}
	return Retrieval{Tier: tier, Docs: docs, Summary: TruncateLines(lines, budget)}
}

var wordRe = regexp.MustCompile(`[a-z0-9]+`)

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "what": true,
	"how": true, "our": true, "are": true, "was": true, "this": true,
	"that": true, "from": true, "can": true, "you": true, "please": true,
	"about": true, "does": true, "have": true,
}

// QueryTerms extracts up to eight distinct lower-case keywords of at least
// three characters, dropping stopwords.
func QueryTerms(query string) []string {
	seen := map[string]bool{}
	var terms []string
	for _, w := range wordRe.FindAllString(strings.ToLower(query), -1) {
		if len(w) < 3 || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, w)
		if len(terms) == maxQueryTerms {
			break
		}
	}
	return terms
}
