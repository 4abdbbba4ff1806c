// ABOUTME: SQLite persistence for tenant-scoped documents.
// ABOUTME: Every query filters by tenant_id; embeddings stored as JSON.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SaveDocument inserts or replaces a document within its tenant.
func (s *SQLiteStore) SaveDocument(ctx context.Context, doc *Document) error {
	var embedding any
	if doc.Embedding != nil {
		data, err := json.Marshal(doc.Embedding)
		if err != nil {
			return fmt.Errorf("encoding embedding: %w", err)
		}
		embedding = string(data)
	}

	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT OR REPLACE INTO documents (id, tenant_id, title, content, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		doc.ID,
		doc.TenantID,
		doc.Title,
		doc.Content,
		embedding,
		createdAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting document: %w", err)
	}

	s.logger.Debug("saved document", "doc_id", doc.ID, "tenant_id", doc.TenantID)
	return nil
}

// GetDocument retrieves a single document scoped to the given tenant.
// A document belonging to another tenant is indistinguishable from a
// missing one.
func (s *SQLiteStore) GetDocument(ctx context.Context, tenantID, docID string) (*Document, error) {
	query := `
		SELECT id, tenant_id, title, content, embedding, created_at
		FROM documents
		WHERE tenant_id = ? AND id = ?
	`
	row := s.db.QueryRowContext(ctx, query, tenantID, docID)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying document: %w", err)
	}
	return doc, nil
}

// ListDocuments returns a page of documents for a tenant, newest first,
// ties broken by ID for stable pagination.
func (s *SQLiteStore) ListDocuments(ctx context.Context, tenantID string, limit, offset int) ([]*Document, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT id, tenant_id, title, content, embedding, created_at
		FROM documents
		WHERE tenant_id = ?
		ORDER BY created_at DESC, id ASC
		LIMIT ? OFFSET ?
	`
	rows, err := s.db.QueryContext(ctx, query, tenantID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	return collectDocuments(rows)
}

// TenantDocuments returns every document for a tenant, ordered by ID.
// The search layer ranks over this set.
func (s *SQLiteStore) TenantDocuments(ctx context.Context, tenantID string) ([]*Document, error) {
	query := `
		SELECT id, tenant_id, title, content, embedding, created_at
		FROM documents
		WHERE tenant_id = ?
		ORDER BY id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("loading tenant documents: %w", err)
	}
	defer rows.Close()

	return collectDocuments(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var doc Document
	var embedding sql.NullString
	var createdAt string

	if err := row.Scan(&doc.ID, &doc.TenantID, &doc.Title, &doc.Content, &embedding, &createdAt); err != nil {
		return nil, err
	}

	if embedding.Valid && embedding.String != "" {
		if err := json.Unmarshal([]byte(embedding.String), &doc.Embedding); err != nil {
			return nil, fmt.Errorf("decoding embedding: %w", err)
		}
	}

	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	doc.CreatedAt = t

	return &doc, nil
}

func collectDocuments(rows *sql.Rows) ([]*Document, error) {
	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	return docs, nil
}
