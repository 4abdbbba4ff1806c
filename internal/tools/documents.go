// ABOUTME: retrieve_document and list_documents tools.
// ABOUTME: Reads are tenant-scoped; unknown IDs surface store.ErrNotFound.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quarrydev/quarry/internal/auth"
	"github.com/quarrydev/quarry/internal/search"
	"github.com/quarrydev/quarry/internal/store"
)

// RetrieveDocumentTool fetches a single document by ID within the caller's
// tenant.
type RetrieveDocumentTool struct {
	store store.Store
}

// NewRetrieveDocumentTool creates the retrieve_document tool.
func NewRetrieveDocumentTool(st store.Store) *RetrieveDocumentTool {
	return &RetrieveDocumentTool{store: st}
}

func (t *RetrieveDocumentTool) Definition() Definition {
	return Definition{
		Name:        "retrieve_document",
		Description: "Retrieve a document's full content by its ID.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"doc_id": {"type": "string", "description": "Document identifier"}
			},
			"required": ["doc_id"]
		}`),
	}
}

type retrieveArgs struct {
	DocID string `json:"doc_id"`
}

func (t *RetrieveDocumentTool) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	var parsed retrieveArgs
	if err := decodeArgs(args, &parsed); err != nil {
		return nil, err
	}
	if parsed.DocID == "" {
		return nil, Validationf("doc_id is required")
	}

	authCtx := auth.FromContext(ctx)
	if authCtx == nil {
		return nil, fmt.Errorf("no authenticated tenant in context")
	}

	doc, err := t.store.GetDocument(ctx, authCtx.TenantID, parsed.DocID)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// DocumentSummary is a content-free listing entry.
type DocumentSummary struct {
	DocID     string `json:"doc_id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at"`
}

// ListResponse wraps a page of document summaries.
type ListResponse struct {
	Documents []DocumentSummary `json:"documents"`
	Count     int               `json:"count"`
	Offset    int               `json:"offset"`
}

// ListDocumentsTool pages through a tenant's documents ordered by creation
// time descending.
type ListDocumentsTool struct {
	store store.Store
}

// NewListDocumentsTool creates the list_documents tool.
func NewListDocumentsTool(st store.Store) *ListDocumentsTool {
	return &ListDocumentsTool{store: st}
}

func (t *ListDocumentsTool) Definition() Definition {
	return Definition{
		Name:        "list_documents",
		Description: "List document titles and IDs, newest first.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"limit": {"type": "integer", "description": "Maximum documents to return (default 10, max 50)"},
				"offset": {"type": "integer", "description": "Number of documents to skip"}
			}
		}`),
	}
}

type listArgs struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func (t *ListDocumentsTool) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	var parsed listArgs
	if err := decodeArgs(args, &parsed); err != nil {
		return nil, err
	}
	if parsed.Limit < 0 || parsed.Offset < 0 {
		return nil, Validationf("limit and offset must not be negative")
	}
	if parsed.Limit == 0 {
		parsed.Limit = search.DefaultLimit
	}
	if parsed.Limit > search.MaxLimit {
		parsed.Limit = search.MaxLimit
	}

	authCtx := auth.FromContext(ctx)
	if authCtx == nil {
		return nil, fmt.Errorf("no authenticated tenant in context")
	}

	docs, err := t.store.ListDocuments(ctx, authCtx.TenantID, parsed.Limit, parsed.Offset)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}

	resp := &ListResponse{
		Documents: make([]DocumentSummary, len(docs)),
		Count:     len(docs),
		Offset:    parsed.Offset,
	}
	for i, doc := range docs {
		resp.Documents[i] = DocumentSummary{
			DocID:     doc.ID,
			Title:     doc.Title,
			CreatedAt: doc.CreatedAt.UTC().Format(time.RFC3339),
		}
	}
	return resp, nil
}

// RegisterBuiltins wires the built-in document tools into the registry.
func RegisterBuiltins(reg *Registry, st store.Store) {
	reg.Register(NewHybridSearchTool(st))
	reg.Register(NewKeywordSearchTool(st))
	reg.Register(NewRetrieveDocumentTool(st))
	reg.Register(NewListDocumentsTool(st))
}
