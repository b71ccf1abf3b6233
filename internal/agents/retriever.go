package agents

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/agentloop/agentloop/internal/session"
)

// Document is one entry in the static knowledge base.
type Document struct {
	Ref     string
	Title   string
	Content string
	Tags    []string
}

// StaticRetriever serves retrieval from an in-memory document set, scored
// by token overlap with the query.
type StaticRetriever struct {
	Docs []Document
}

// Retrieve satisfies the coordinator's retrieval capability.
func (r *StaticRetriever) Retrieve(ctx context.Context, query string, view session.View) (session.RetrievalBundle, error) {
	items, err := r.Lookup(ctx, query, session.MaxRetrievedItems)
	if err != nil {
		return session.RetrievalBundle{}, err
	}
	bundle := session.RetrievalBundle{
		ID:        uuid.NewString(),
		QueryUsed: query,
		Items:     items,
	}
	if len(items) > 0 {
		bundle.SourcesUsed = []string{"static_kb"}
		bundle.Summary = items[0].Snippet
	}
	return bundle, nil
}

// Lookup returns the best matching documents as retrieval items.
func (r *StaticRetriever) Lookup(ctx context.Context, query string, limit int) ([]session.RetrievedItem, error) {
	qTokens := tokenize(query)
	if len(qTokens) == 0 {
		return nil, nil
	}

	var items []session.RetrievedItem
	for _, doc := range r.Docs {
		score := overlap(qTokens, tokenize(doc.Title+" "+doc.Content+" "+strings.Join(doc.Tags, " ")))
		if score == 0 {
			continue
		}
		items = append(items, session.RetrievedItem{
			Source:    "static_kb",
			Snippet:   doc.Content,
			Ref:       doc.Ref,
			Relevance: score,
			Summary:   doc.Title,
		})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Relevance > items[j].Relevance })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// KBSource adapts a StaticRetriever to the strategy runner's retrieval
// interface.
type KBSource struct {
	KB *StaticRetriever
}

func (s KBSource) Retrieve(ctx context.Context, query string, limit int) ([]session.RetrievedItem, error) {
	return s.KB.Lookup(ctx, query, limit)
}

func tokenize(text string) map[string]bool {
	tokens := make(map[string]bool)
	for _, t := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	}) {
		if len(t) > 2 {
			tokens[t] = true
		}
	}
	return tokens
}

// overlap is the fraction of query tokens present in the document.
func overlap(query, doc map[string]bool) float64 {
	if len(query) == 0 {
		return 0
	}
	hits := 0
	for t := range query {
		if doc[t] {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}
