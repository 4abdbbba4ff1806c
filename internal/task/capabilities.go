// ABOUTME: Built-in task capabilities: search_papers, analyze_code, summarize_document.
// ABOUTME: Each capability estimates its cost up front and reports actual cost on completion.

package task

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/quarrydev/quarry/internal/search"
	"github.com/quarrydev/quarry/internal/store"
)

// DefaultTaskCost is the flat per-task estimate in USD.
const DefaultTaskCost = 0.01

// Capability executes one kind of task. EstimateCost is consulted at
// admission time, before any budget is reserved. InputSchema describes
// the input object for the agent card.
type Capability interface {
	Name() string
	Description() string
	InputSchema() json.RawMessage
	EstimateCost(input map[string]any) float64
	Execute(ctx context.Context, input map[string]any) (map[string]any, error)
}

// InputError marks task input problems the caller can fix. The engine
// surfaces it without admitting the task.
type InputError struct {
	msg string
}

func (e *InputError) Error() string { return e.msg }

// Inputf builds an InputError with fmt-style formatting.
func Inputf(format string, args ...any) error {
	return &InputError{msg: fmt.Sprintf(format, args...)}
}

func stringInput(input map[string]any, key string) string {
	if input == nil {
		return ""
	}
	s, _ := input[key].(string)
	return s
}

// SearchPapersCapability ranks a tenant's documents for a query using the
// hybrid scorer. The tenant namespace comes from task input because task
// execution happens outside any request context.
type SearchPapersCapability struct {
	store store.Store
}

// NewSearchPapersCapability creates the search_papers capability.
func NewSearchPapersCapability(st store.Store) *SearchPapersCapability {
	return &SearchPapersCapability{store: st}
}

func (c *SearchPapersCapability) Name() string { return "search_papers" }

func (c *SearchPapersCapability) Description() string {
	return "Search stored papers by combined keyword and semantic relevance."
}

func (c *SearchPapersCapability) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Search query text"},
			"tenant_id": {"type": "string", "description": "Tenant namespace to search"}
		},
		"required": ["query", "tenant_id"]
	}`)
}

func (c *SearchPapersCapability) EstimateCost(map[string]any) float64 { return DefaultTaskCost }

func (c *SearchPapersCapability) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	query := stringInput(input, "query")
	if query == "" {
		return nil, Inputf("query is required")
	}
	tenantID := stringInput(input, "tenant_id")
	if tenantID == "" {
		return nil, Inputf("tenant_id is required")
	}

	docs, err := c.store.TenantDocuments(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("loading documents: %w", err)
	}

	hits := search.Hybrid(docs, search.Params{
		Query:      query,
		BM25Weight: 0.5, VectorWeight: 0.5,
	})

	papers := make([]map[string]any, len(hits))
	for i, hit := range hits {
		papers[i] = map[string]any{
			"doc_id": hit.Document.ID,
			"title":  hit.Document.Title,
			"score":  hit.Score,
		}
	}
	return map[string]any{
		"query":  query,
		"papers": papers,
		"count":  len(papers),
	}, nil
}

// AnalyzeCodeCapability computes structural statistics for a code snippet.
type AnalyzeCodeCapability struct{}

// NewAnalyzeCodeCapability creates the analyze_code capability.
func NewAnalyzeCodeCapability() *AnalyzeCodeCapability { return &AnalyzeCodeCapability{} }

func (c *AnalyzeCodeCapability) Name() string { return "analyze_code" }

func (c *AnalyzeCodeCapability) Description() string {
	return "Analyze a code snippet for size and structure statistics."
}

func (c *AnalyzeCodeCapability) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"code": {"type": "string", "description": "Source code to analyze"}
		},
		"required": ["code"]
	}`)
}

func (c *AnalyzeCodeCapability) EstimateCost(map[string]any) float64 { return DefaultTaskCost }

func (c *AnalyzeCodeCapability) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	code := stringInput(input, "code")
	if code == "" {
		return nil, Inputf("code is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lines := strings.Split(code, "\n")
	var blank, comments, functions int
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			blank++
		case strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "#"):
			comments++
		}
		if strings.Contains(trimmed, "func ") || strings.HasPrefix(trimmed, "def ") {
			functions++
		}
	}

	return map[string]any{
		"total_lines":   len(lines),
		"blank_lines":   blank,
		"comment_lines": comments,
		"code_lines":    len(lines) - blank - comments,
		"functions":     functions,
	}, nil
}

// SummarizeDocumentCapability produces an extractive summary of markdown
// content, either inline or fetched from the document store.
type SummarizeDocumentCapability struct {
	store store.Store
}

// NewSummarizeDocumentCapability creates the summarize_document capability.
func NewSummarizeDocumentCapability(st store.Store) *SummarizeDocumentCapability {
	return &SummarizeDocumentCapability{store: st}
}

func (c *SummarizeDocumentCapability) Name() string { return "summarize_document" }

func (c *SummarizeDocumentCapability) Description() string {
	return "Summarize a markdown document by extracting its leading sentences."
}

func (c *SummarizeDocumentCapability) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"content": {"type": "string", "description": "Markdown content to summarize"},
			"doc_id": {"type": "string", "description": "Stored document to summarize instead of inline content"},
			"tenant_id": {"type": "string", "description": "Tenant namespace of doc_id"}
		}
	}`)
}

func (c *SummarizeDocumentCapability) EstimateCost(map[string]any) float64 { return DefaultTaskCost }

const summarySentences = 3

func (c *SummarizeDocumentCapability) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	content := stringInput(input, "content")
	if content == "" {
		docID := stringInput(input, "doc_id")
		tenantID := stringInput(input, "tenant_id")
		if docID == "" || tenantID == "" {
			return nil, Inputf("content, or doc_id with tenant_id, is required")
		}
		doc, err := c.store.GetDocument(ctx, tenantID, docID)
		if err != nil {
			return nil, err
		}
		content = doc.Content
	}

	plain := markdownToText([]byte(content))
	words := len(strings.Fields(plain))

	return map[string]any{
		"summary":    leadingSentences(plain, summarySentences),
		"word_count": words,
	}, nil
}

// markdownToText walks the goldmark AST and collects text content,
// dropping formatting, links, and code fences.
func markdownToText(source []byte) string {
	md := goldmark.New()
	reader := text.NewReader(source)
	root := md.Parser().Parse(reader)

	var buf bytes.Buffer
	ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			buf.Write(node.Segment.Value(source))
			if node.SoftLineBreak() || node.HardLineBreak() {
				buf.WriteByte(' ')
			}
		case *ast.Paragraph, *ast.Heading:
			if buf.Len() > 0 {
				buf.WriteByte(' ')
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return strings.Join(strings.Fields(buf.String()), " ")
}

// leadingSentences returns up to n sentences from the start of the text.
func leadingSentences(s string, n int) string {
	var count int
	for i, r := range s {
		if r == '.' || r == '!' || r == '?' {
			count++
			if count >= n {
				return strings.TrimSpace(s[:i+1])
			}
		}
	}
	return strings.TrimSpace(s)
}
