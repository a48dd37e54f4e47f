package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// tabularStore is the durable backend: one row per claim id, overwritten
// in place on each insertClaim (ON CONFLICT DO UPDATE), plus relation rows
// that are deleted and rewritten with the claim. Rows are not append-only;
// earlier versions of a claim are not kept. Grounded on the
// retrieval pack's jackc/pgx/v5 usage (codeready-toolchain-tarsy), reached
// through database/sql via pgx's stdlib adapter so ClaimStore's contract
// stays driver-agnostic; dsn points at whatever local Postgres instance
// backs a given deployment.
type tabularStore struct {
	db *sql.DB
}

// newTabularStore opens a durable tabular store against dsn (a Postgres
// connection string; a throwaway local instance is enough for a single
// operator's research session).
func newTabularStore(dsn string) (*tabularStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open tabular store: %w", err)
	}
	ts := &tabularStore{db: db}
	if err := ts.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return ts, nil
}

func (t *tabularStore) migrate(ctx context.Context) error {
	_, err := t.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS claims (
			id TEXT PRIMARY KEY,
			text TEXT NOT NULL,
			kind TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			audit_status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			last_accessed_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS relations (
			claim_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			to_id TEXT NOT NULL,
			seq INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("migrate tabular store: %w", err)
	}
	return nil
}

// insertClaim appends a row for claim plus one row per relation. The whole
// operation runs in a transaction so a mid-write failure leaves no partial
// row set (spec §4.9: "persist_claim ... writes to all backends atomically
// from the caller's perspective").
func (t *tabularStore) insertClaim(ctx context.Context, c *Claim) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tabular tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO claims (id, text, kind, confidence, audit_status, created_at, last_accessed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
		   text = EXCLUDED.text, kind = EXCLUDED.kind, confidence = EXCLUDED.confidence,
		   audit_status = EXCLUDED.audit_status, last_accessed_at = EXCLUDED.last_accessed_at`,
		c.ID, c.Text, string(c.Kind), c.Confidence, string(c.AuditStatus),
		c.CreatedAt, c.LastAccessedAt)
	if err != nil {
		return fmt.Errorf("insert claim row: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM relations WHERE claim_id = $1`, c.ID); err != nil {
		return fmt.Errorf("clear relation rows: %w", err)
	}
	for i, rel := range c.Relations {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO relations (claim_id, kind, to_id, seq) VALUES ($1, $2, $3, $4)`,
			c.ID, string(rel.Kind), rel.To, i); err != nil {
			return fmt.Errorf("insert relation row: %w", err)
		}
	}

	return tx.Commit()
}

// updateClaim patches the mutable columns (status/confidence); called by
// AuditLoop via ClaimStore.UpdateClaim.
func (t *tabularStore) updateClaim(ctx context.Context, id string, confidence float64, status AuditStatus, now time.Time) error {
	_, err := t.db.ExecContext(ctx,
		`UPDATE claims SET confidence = $1, audit_status = $2, last_accessed_at = $3 WHERE id = $4`,
		confidence, string(status), now, id)
	return err
}

// hasClaim checks for the row's existence, used by P8's vector/tabular
// sync check.
func (t *tabularStore) hasClaim(ctx context.Context, id string) (bool, error) {
	var count int
	err := t.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM claims WHERE id = $1`, id).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// countClaims returns the total number of durably-stored claims.
func (t *tabularStore) countClaims(ctx context.Context) (int, error) {
	var count int
	err := t.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM claims`).Scan(&count)
	return count, err
}

// loadClaim reconstructs a Claim from its durable row for claims that have
// been evicted from the in-memory graph. Embeddings aren't columns on the
// claims table (the vector index is the source of truth for those), so
// callers that need one should read it back from the vector index
// separately; relations come from the RDF store, not from this row.
func (t *tabularStore) loadClaim(ctx context.Context, id string) (*Claim, error) {
	row := t.db.QueryRowContext(ctx,
		`SELECT id, text, kind, confidence, audit_status, created_at, last_accessed_at FROM claims WHERE id = $1`, id)

	var c Claim
	var kind, status string
	if err := row.Scan(&c.ID, &c.Text, &kind, &c.Confidence, &status, &c.CreatedAt, &c.LastAccessedAt); err != nil {
		return nil, fmt.Errorf("load claim %s: %w", id, err)
	}
	c.Kind = ClaimKind(kind)
	c.AuditStatus = AuditStatus(status)
	return &c, nil
}

func (t *tabularStore) close() error { return t.db.Close() }
