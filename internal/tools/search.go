// ABOUTME: hybrid_search and search_documents tools over the document store.
// ABOUTME: Tenant scoping comes from the authenticated context, weights from arguments.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/quarrydev/quarry/internal/auth"
	"github.com/quarrydev/quarry/internal/search"
	"github.com/quarrydev/quarry/internal/store"
)

// SearchResult is one scored hit returned to the client.
type SearchResult struct {
	DocID       string  `json:"doc_id"`
	Title       string  `json:"title"`
	Snippet     string  `json:"snippet"`
	Score       float64 `json:"score"`
	BM25Score   float64 `json:"bm25_score"`
	VectorScore float64 `json:"vector_score"`
}

// SearchResponse wraps search hits with the effective query parameters.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
	Total   int            `json:"total"`
	Query   string         `json:"query"`
}

const snippetLength = 200

// HybridSearchTool ranks a tenant's documents by fused BM25 and vector
// similarity scores.
type HybridSearchTool struct {
	store store.Store
}

// NewHybridSearchTool creates the hybrid_search tool.
func NewHybridSearchTool(st store.Store) *HybridSearchTool {
	return &HybridSearchTool{store: st}
}

func (t *HybridSearchTool) Definition() Definition {
	return Definition{
		Name:        "hybrid_search",
		Description: "Search documents using combined keyword (BM25) and semantic (vector) ranking. Weights are normalized; a zero weight disables that signal.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "Search query text"},
				"limit": {"type": "integer", "description": "Maximum results to return (default 10, max 50)"},
				"bm25_weight": {"type": "number", "description": "Relative weight of the keyword signal (default 0.5)"},
				"vector_weight": {"type": "number", "description": "Relative weight of the semantic signal (default 0.5)"}
			},
			"required": ["query"]
		}`),
	}
}

type hybridSearchArgs struct {
	Query        string    `json:"query"`
	Limit        int       `json:"limit"`
	BM25Weight   *float64  `json:"bm25_weight"`
	VectorWeight *float64  `json:"vector_weight"`
	Embedding    []float32 `json:"query_embedding"`
}

func (t *HybridSearchTool) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	var parsed hybridSearchArgs
	if err := decodeArgs(args, &parsed); err != nil {
		return nil, err
	}
	if parsed.Query == "" {
		return nil, Validationf("query is required")
	}
	if parsed.Limit < 0 {
		return nil, Validationf("limit must not be negative")
	}

	params := search.Params{
		Query:          parsed.Query,
		QueryEmbedding: parsed.Embedding,
		Limit:          parsed.Limit,
		BM25Weight:     0.5,
		VectorWeight:   0.5,
	}
	if parsed.BM25Weight != nil {
		params.BM25Weight = *parsed.BM25Weight
	}
	if parsed.VectorWeight != nil {
		params.VectorWeight = *parsed.VectorWeight
	}
	if params.BM25Weight < 0 || params.VectorWeight < 0 {
		return nil, Validationf("weights must not be negative")
	}

	return runSearch(ctx, t.store, params)
}

// KeywordSearchTool is search_documents: a pure BM25 ranking without the
// semantic signal.
type KeywordSearchTool struct {
	store store.Store
}

// NewKeywordSearchTool creates the search_documents tool.
func NewKeywordSearchTool(st store.Store) *KeywordSearchTool {
	return &KeywordSearchTool{store: st}
}

func (t *KeywordSearchTool) Definition() Definition {
	return Definition{
		Name:        "search_documents",
		Description: "Search documents by keyword relevance (BM25 only).",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "Search query text"},
				"limit": {"type": "integer", "description": "Maximum results to return (default 10, max 50)"}
			},
			"required": ["query"]
		}`),
	}
}

type keywordSearchArgs struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

func (t *KeywordSearchTool) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	var parsed keywordSearchArgs
	if err := decodeArgs(args, &parsed); err != nil {
		return nil, err
	}
	if parsed.Query == "" {
		return nil, Validationf("query is required")
	}
	if parsed.Limit < 0 {
		return nil, Validationf("limit must not be negative")
	}

	return runSearch(ctx, t.store, search.Params{
		Query:      parsed.Query,
		Limit:      parsed.Limit,
		BM25Weight: 1,
	})
}

// runSearch loads the tenant's corpus and ranks it. All candidate loading
// is tenant-scoped before ranking so scores never leak across tenants.
func runSearch(ctx context.Context, st store.Store, params search.Params) (*SearchResponse, error) {
	authCtx := auth.FromContext(ctx)
	if authCtx == nil {
		return nil, fmt.Errorf("no authenticated tenant in context")
	}

	docs, err := st.TenantDocuments(ctx, authCtx.TenantID)
	if err != nil {
		return nil, fmt.Errorf("loading documents: %w", err)
	}

	hits := search.Hybrid(docs, params)
	resp := &SearchResponse{
		Results: make([]SearchResult, len(hits)),
		Total:   len(hits),
		Query:   params.Query,
	}
	for i, hit := range hits {
		resp.Results[i] = SearchResult{
			DocID:       hit.Document.ID,
			Title:       hit.Document.Title,
			Snippet:     snippet(hit.Document.Content),
			Score:       hit.Score,
			BM25Score:   hit.BM25Score,
			VectorScore: hit.VectorScore,
		}
	}
	return resp, nil
}

func snippet(content string) string {
	if len(content) <= snippetLength {
		return content
	}
	// Back up to a rune boundary so the cut never splits a multi-byte
	// character.
	cut := snippetLength
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut] + "..."
}

// decodeArgs unmarshals a tool's argument object, treating malformed JSON
// as a caller validation error.
func decodeArgs(args json.RawMessage, into any) error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, into); err != nil {
		return Validationf("invalid arguments: %v", err)
	}
	return nil
}
