// ABOUTME: Tests for the built-in document tools and registry dispatch.
// ABOUTME: Uses a real SQLite store and authenticated contexts per tenant.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrydev/quarry/internal/auth"
	"github.com/quarrydev/quarry/internal/store"
)

func newTestRegistry(t *testing.T) (*Registry, store.Store) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "tools.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	reg := NewRegistry()
	RegisterBuiltins(reg, st)
	return reg, st
}

func authedContext(tenantID string) context.Context {
	return auth.WithAuth(context.Background(), &auth.AuthContext{
		TenantID: tenantID,
		UserID:   "user-1",
		Scopes:   []string{"search"},
	})
}

func seedDocs(t *testing.T, st store.Store, tenantID string, n int) {
	t.Helper()
	topics := []string{
		"neural network training with gradient descent",
		"distributed consensus and raft leader election",
		"vector databases for semantic retrieval",
		"compiler optimization of loop invariants",
		"container scheduling on kubernetes clusters",
	}
	for i := 0; i < n; i++ {
		err := st.SaveDocument(context.Background(), &store.Document{
			ID:       fmt.Sprintf("doc-%03d", i),
			TenantID: tenantID,
			Title:    fmt.Sprintf("Paper %d", i),
			Content:  topics[i%len(topics)],
		})
		require.NoError(t, err)
	}
}

func TestRegistryDefinitionsSorted(t *testing.T) {
	reg, _ := newTestRegistry(t)
	defs := reg.Definitions()
	require.Len(t, defs, 4)

	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	assert.Equal(t, []string{"hybrid_search", "list_documents", "retrieve_document", "search_documents"}, names)
}

func TestHybridSearchReturnsRankedResults(t *testing.T) {
	reg, st := newTestRegistry(t)
	seedDocs(t, st, "acme-corp", 5)

	tool := reg.Get("hybrid_search")
	require.NotNil(t, tool)

	out, err := tool.Execute(authedContext("acme-corp"), json.RawMessage(`{"query": "raft consensus election"}`))
	require.NoError(t, err)

	resp := out.(*SearchResponse)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "doc-001", resp.Results[0].DocID)

	// Scores are non-increasing.
	for i := 1; i < len(resp.Results); i++ {
		assert.LessOrEqual(t, resp.Results[i].Score, resp.Results[i-1].Score)
	}
}

func TestHybridSearchValidation(t *testing.T) {
	reg, _ := newTestRegistry(t)
	tool := reg.Get("hybrid_search")
	ctx := authedContext("acme-corp")

	cases := []struct {
		name string
		args string
	}{
		{"missing query", `{}`},
		{"negative limit", `{"query": "x", "limit": -1}`},
		{"negative weight", `{"query": "x", "bm25_weight": -0.5}`},
		{"malformed json", `{"query": `},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tool.Execute(ctx, json.RawMessage(tc.args))
			var verr *ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestSearchRequiresAuthContext(t *testing.T) {
	reg, st := newTestRegistry(t)
	seedDocs(t, st, "acme-corp", 2)

	tool := reg.Get("hybrid_search")
	_, err := tool.Execute(context.Background(), json.RawMessage(`{"query": "anything"}`))
	assert.Error(t, err)
}

func TestSearchTenantIsolation(t *testing.T) {
	reg, st := newTestRegistry(t)
	seedDocs(t, st, "acme-corp", 3)

	tool := reg.Get("search_documents")
	out, err := tool.Execute(authedContext("globex"), json.RawMessage(`{"query": "consensus"}`))
	require.NoError(t, err)

	resp := out.(*SearchResponse)
	assert.Empty(t, resp.Results, "other tenants' documents must not be visible")
}

func TestRetrieveDocument(t *testing.T) {
	reg, st := newTestRegistry(t)
	seedDocs(t, st, "acme-corp", 1)

	tool := reg.Get("retrieve_document")
	out, err := tool.Execute(authedContext("acme-corp"), json.RawMessage(`{"doc_id": "doc-000"}`))
	require.NoError(t, err)

	doc := out.(*store.Document)
	assert.Equal(t, "doc-000", doc.ID)
	assert.NotEmpty(t, doc.Content)
}

func TestRetrieveDocumentNotFound(t *testing.T) {
	reg, st := newTestRegistry(t)
	seedDocs(t, st, "acme-corp", 1)

	tool := reg.Get("retrieve_document")

	// Unknown ID.
	_, err := tool.Execute(authedContext("acme-corp"), json.RawMessage(`{"doc_id": "doc-999"}`))
	assert.True(t, errors.Is(err, store.ErrNotFound))

	// Existing ID but wrong tenant looks identical to a missing document.
	_, err = tool.Execute(authedContext("globex"), json.RawMessage(`{"doc_id": "doc-000"}`))
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestListDocumentsPagination(t *testing.T) {
	reg, st := newTestRegistry(t)
	seedDocs(t, st, "acme-corp", 25)

	tool := reg.Get("list_documents")
	ctx := authedContext("acme-corp")

	out, err := tool.Execute(ctx, json.RawMessage(`{"limit": 10}`))
	require.NoError(t, err)
	page1 := out.(*ListResponse)
	assert.Len(t, page1.Documents, 10)

	out, err = tool.Execute(ctx, json.RawMessage(`{"limit": 10, "offset": 20}`))
	require.NoError(t, err)
	page3 := out.(*ListResponse)
	assert.Len(t, page3.Documents, 5)
	assert.Equal(t, 20, page3.Offset)
}

func TestListDocumentsClampsLimit(t *testing.T) {
	reg, st := newTestRegistry(t)
	seedDocs(t, st, "acme-corp", 60)

	tool := reg.Get("list_documents")
	out, err := tool.Execute(authedContext("acme-corp"), json.RawMessage(`{"limit": 500}`))
	require.NoError(t, err)

	resp := out.(*ListResponse)
	assert.Len(t, resp.Documents, 50)
}

func TestSnippetKeepsRuneBoundaries(t *testing.T) {
	// 100 three-byte runes: byte 200 lands mid-rune, so a naive byte cut
	// would emit an invalid UTF-8 tail.
	content := strings.Repeat("界", 100)
	s := snippet(content)

	assert.True(t, utf8.ValidString(s))
	assert.True(t, strings.HasSuffix(s, "..."))
	assert.LessOrEqual(t, len(s), snippetLength+3)

	short := "plain ascii"
	assert.Equal(t, short, snippet(short))
}
