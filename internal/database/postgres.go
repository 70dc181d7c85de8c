// Package database mirrors registry metadata and audit decisions into
// Postgres as a persisted convenience cache. The in-memory registry stays
// authoritative; every mirror write is best-effort and a mirror failure never
// fails the caller.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"github.com/tenantguard/backend/internal/intake"
	"github.com/tenantguard/backend/internal/vault"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	doc_id        TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	content_hash  TEXT NOT NULL,
	metadata_hash TEXT NOT NULL,
	filename      TEXT NOT NULL,
	doc_type      TEXT NOT NULL,
	size_bytes    BIGINT NOT NULL,
	mime          TEXT NOT NULL,
	status        TEXT NOT NULL,
	integrity     TEXT NOT NULL,
	registered_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS documents_user_idx ON documents (user_id);

CREATE TABLE IF NOT EXISTS audit_entries (
	id             TEXT PRIMARY KEY,
	ts             TIMESTAMPTZ NOT NULL,
	actor_id       TEXT NOT NULL,
	action         TEXT NOT NULL,
	resource_id    TEXT NOT NULL,
	resource_class TEXT NOT NULL,
	decision       TEXT NOT NULL,
	reason         TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS audit_actor_idx ON audit_entries (actor_id, ts);
`

// Mirror persists registry and audit rows. Safe for concurrent use; sql.DB
// pools connections internally.
type Mirror struct {
	db *sql.DB
}

// Open connects, verifies the connection and ensures the schema.
func Open(dsn string) (*Mirror, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	slog.Info("postgres mirror connected")
	return &Mirror{db: db}, nil
}

func (m *Mirror) Close() error {
	return m.db.Close()
}

// SaveDocument upserts one registry row.
func (m *Mirror) SaveDocument(ctx context.Context, doc *intake.RegisteredDocument) error {
	const q = `
INSERT INTO documents (doc_id, user_id, content_hash, metadata_hash, filename,
	doc_type, size_bytes, mime, status, integrity, registered_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (doc_id) DO UPDATE SET
	doc_type = EXCLUDED.doc_type,
	status = EXCLUDED.status,
	integrity = EXCLUDED.integrity`
	_, err := m.db.ExecContext(ctx, q,
		doc.DocID, doc.UserID, doc.ContentHash, doc.MetadataHash, doc.Filename,
		doc.DocType, doc.Size, doc.Mime, doc.Status, doc.Integrity, doc.RegisteredAt)
	return err
}

// SaveAudit inserts one audit row. Duplicate ids are ignored so replays are
// harmless.
func (m *Mirror) SaveAudit(ctx context.Context, e vault.AuditEntry) error {
	ts, err := time.Parse(time.RFC3339Nano, e.Timestamp)
	if err != nil {
		ts = time.Now().UTC()
	}
	const q = `
INSERT INTO audit_entries (id, ts, actor_id, action, resource_id, resource_class, decision, reason)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO NOTHING`
	_, err = m.db.ExecContext(ctx, q,
		e.ID, ts, e.ActorID, e.Action, e.ResourceID, e.ResourceClass, e.Decision, e.Reason)
	return err
}

// DocumentsForUser reads mirrored rows, newest first.
func (m *Mirror) DocumentsForUser(ctx context.Context, userID string) ([]*intake.RegisteredDocument, error) {
	const q = `
SELECT doc_id, user_id, content_hash, metadata_hash, filename, doc_type,
	size_bytes, mime, status, integrity, registered_at
FROM documents WHERE user_id = $1 ORDER BY registered_at DESC`
	rows, err := m.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*intake.RegisteredDocument
	for rows.Next() {
		var d intake.RegisteredDocument
		if err := rows.Scan(&d.DocID, &d.UserID, &d.ContentHash, &d.MetadataHash,
			&d.Filename, &d.DocType, &d.Size, &d.Mime, &d.Status, &d.Integrity,
			&d.RegisteredAt); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}
