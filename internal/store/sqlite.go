package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/jobsift/jobsift/internal/extract"
	"github.com/jobsift/jobsift/internal/model"
)

// SQLiteStore is the persistence sink: staged and live listing tables,
// canonical roles, and the extraction invocation ledger.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS staged_listings (
	id               TEXT PRIMARY KEY,
	title            TEXT NOT NULL,
	organization     TEXT,
	location         TEXT,
	url              TEXT,
	source           TEXT,
	description      TEXT,
	responsibilities TEXT,
	requirements     TEXT,
	notes            TEXT,
	role_id          TEXT,
	analysis         TEXT, -- JSON, NULL on scrape-only runs
	text_embedding   TEXT, -- JSON array of floats
	stored_at        DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS live_listings (
	id               TEXT PRIMARY KEY,
	title            TEXT NOT NULL,
	organization     TEXT,
	location         TEXT,
	url              TEXT,
	source           TEXT,
	description      TEXT,
	responsibilities TEXT,
	requirements     TEXT,
	notes            TEXT,
	role_id          TEXT,
	analysis         TEXT,
	text_embedding   TEXT,
	migrated_at      DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS canonical_roles (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL,
	description TEXT,
	embedding   TEXT, -- JSON array of floats, NULL until seeded
	created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE UNIQUE INDEX IF NOT EXISTS canonical_roles_title ON canonical_roles (LOWER(title));

CREATE TABLE IF NOT EXISTS invocations (
	id                TEXT PRIMARY KEY,
	fingerprint       TEXT NOT NULL,
	model             TEXT,
	prompt            TEXT,
	response          TEXT,
	status            TEXT NOT NULL,
	error             TEXT,
	latency_ms        INTEGER,
	prompt_tokens     INTEGER,
	completion_tokens INTEGER,
	created_at        DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS invocations_fingerprint ON invocations (fingerprint);
`

// NewSQLiteStore opens (or creates) the database at dbPath and ensures the
// schema exists.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Verify the connection is alive.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite db: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// StoreBatch upserts a batch of enriched records into the staging table in
// one transaction. Roles without an embedding are seeded from the first
// listing that links to them.
func (s *SQLiteStore) StoreBatch(ctx context.Context, records []model.EnrichedRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store batch: begin: %w", err)
	}
	defer tx.Rollback()

	const insert = `INSERT OR REPLACE INTO staged_listings
		(id, title, organization, location, url, source,
		 description, responsibilities, requirements, notes,
		 role_id, analysis, text_embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	for _, rec := range records {
		analysisJSON, err := marshalNullable(rec.Analysis)
		if err != nil {
			return fmt.Errorf("store batch: marshal analysis for %s: %w", rec.Detail.ID, err)
		}
		embeddingJSON, err := marshalNullable(rec.TextEmbedding)
		if err != nil {
			return fmt.Errorf("store batch: marshal embedding for %s: %w", rec.Detail.ID, err)
		}

		d := rec.Detail
		if _, err := tx.ExecContext(ctx, insert,
			d.ID, d.Title, d.Organization, d.Location, d.URL, d.Source,
			d.Description, d.Responsibilities, d.Requirements, d.Notes,
			rec.RoleID, analysisJSON, embeddingJSON,
		); err != nil {
			return fmt.Errorf("store batch: insert %s: %w", d.ID, err)
		}

		if rec.RoleID != "" && rec.TextEmbedding != nil {
			if _, err := tx.ExecContext(ctx,
				`UPDATE canonical_roles SET embedding = ? WHERE id = ? AND embedding IS NULL`,
				embeddingJSON, rec.RoleID,
			); err != nil {
				return fmt.Errorf("store batch: seed role embedding %s: %w", rec.RoleID, err)
			}
		}
	}

	return tx.Commit()
}

// MigrateBatchToLive copies the staged rows for the given records into the
// live table. Records that were never staged fail the migration.
func (s *SQLiteStore) MigrateBatchToLive(ctx context.Context, records []model.EnrichedRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migrate batch: begin: %w", err)
	}
	defer tx.Rollback()

	const copyRow = `INSERT OR REPLACE INTO live_listings
		(id, title, organization, location, url, source,
		 description, responsibilities, requirements, notes,
		 role_id, analysis, text_embedding)
		SELECT id, title, organization, location, url, source,
		       description, responsibilities, requirements, notes,
		       role_id, analysis, text_embedding
		FROM staged_listings WHERE id = ?`

	for _, rec := range records {
		res, err := tx.ExecContext(ctx, copyRow, rec.Detail.ID)
		if err != nil {
			return fmt.Errorf("migrate batch: %s: %w", rec.Detail.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("migrate batch: %s: %w", rec.Detail.ID, err)
		}
		if n == 0 {
			return fmt.Errorf("migrate batch: %s: not staged", rec.Detail.ID)
		}
	}

	return tx.Commit()
}

// GetOrCreateCanonicalRole returns the role with the given title
// (case-insensitive), creating it when absent.
func (s *SQLiteStore) GetOrCreateCanonicalRole(ctx context.Context, title, description string) (model.CanonicalRole, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return model.CanonicalRole{}, fmt.Errorf("canonical role title is empty")
	}

	var role model.CanonicalRole
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, description FROM canonical_roles WHERE LOWER(title) = LOWER(?)`,
		title,
	).Scan(&role.ID, &role.Title, &role.Description)
	if err == nil {
		return role, nil
	}
	if err != sql.ErrNoRows {
		return model.CanonicalRole{}, fmt.Errorf("lookup role %q: %w", title, err)
	}

	role = model.CanonicalRole{
		ID:          ulid.Make().String(),
		Title:       title,
		Description: description,
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO canonical_roles (id, title, description) VALUES (?, ?, ?)`,
		role.ID, role.Title, role.Description,
	); err != nil {
		return model.CanonicalRole{}, fmt.Errorf("create role %q: %w", title, err)
	}
	return role, nil
}

// FindSimilarCanonicalRoles ranks roles that have a seeded embedding by
// cosine similarity to the given vector. Similarity is computed in-process;
// the role set is small enough that a vector index is not worth carrying.
func (s *SQLiteStore) FindSimilarCanonicalRoles(ctx context.Context, embedding []float32, limit int) ([]model.SimilarRole, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, description, embedding FROM canonical_roles WHERE embedding IS NOT NULL`,
	)
	if err != nil {
		return nil, fmt.Errorf("query roles: %w", err)
	}
	defer rows.Close()

	var similar []model.SimilarRole
	for rows.Next() {
		var (
			role          model.SimilarRole
			embeddingJSON string
		)
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &embeddingJSON); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		var roleVec []float32
		if err := json.Unmarshal([]byte(embeddingJSON), &roleVec); err != nil {
			return nil, fmt.Errorf("parse role embedding %s: %w", role.ID, err)
		}
		role.Similarity = cosineSimilarity(embedding, roleVec)
		similar = append(similar, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roles: %w", err)
	}

	sort.Slice(similar, func(i, j int) bool {
		return similar[i].Similarity > similar[j].Similarity
	})
	if limit > 0 && len(similar) > limit {
		similar = similar[:limit]
	}
	return similar, nil
}

// AppendInvocation records one extraction attempt.
func (s *SQLiteStore) AppendInvocation(ctx context.Context, rec extract.InvocationRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO invocations
		 (id, fingerprint, model, prompt, response, status, error,
		  latency_ms, prompt_tokens, completion_tokens, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Fingerprint, rec.Model, rec.Prompt, rec.Response,
		rec.Status, rec.Error, rec.LatencyMS, rec.PromptTokens,
		rec.CompletionTokens, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append invocation %s: %w", rec.ID, err)
	}
	return nil
}

// FindInvocation returns the most recent successful invocation for the
// fingerprint, or nil when none exists.
func (s *SQLiteStore) FindInvocation(ctx context.Context, fingerprint string) (*extract.InvocationRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, fingerprint, model, prompt, response, status, error,
		        latency_ms, prompt_tokens, completion_tokens, created_at
		 FROM invocations
		 WHERE fingerprint = ? AND status = ?
		 ORDER BY created_at DESC LIMIT 1`,
		fingerprint, extract.StatusOK,
	)

	var rec extract.InvocationRecord
	err := row.Scan(&rec.ID, &rec.Fingerprint, &rec.Model, &rec.Prompt,
		&rec.Response, &rec.Status, &rec.Error, &rec.LatencyMS,
		&rec.PromptTokens, &rec.CompletionTokens, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find invocation: %w", err)
	}
	return &rec, nil
}

// ListInvocations returns up to limit invocation records, newest first.
func (s *SQLiteStore) ListInvocations(ctx context.Context, limit int) ([]extract.InvocationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, fingerprint, model, prompt, response, status, error,
		        latency_ms, prompt_tokens, completion_tokens, created_at
		 FROM invocations ORDER BY created_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list invocations: %w", err)
	}
	defer rows.Close()

	var records []extract.InvocationRecord
	for rows.Next() {
		var rec extract.InvocationRecord
		if err := rows.Scan(&rec.ID, &rec.Fingerprint, &rec.Model, &rec.Prompt,
			&rec.Response, &rec.Status, &rec.Error, &rec.LatencyMS,
			&rec.PromptTokens, &rec.CompletionTokens, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan invocation: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// StagedCount returns the number of rows in the staging table.
func (s *SQLiteStore) StagedCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM staged_listings`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count staged listings: %w", err)
	}
	return count, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// marshalNullable returns NULL for nil values instead of the JSON literal "null".
func marshalNullable(v any) (any, error) {
	switch val := v.(type) {
	case *model.RoleAnalysis:
		if val == nil {
			return nil, nil
		}
	case []float32:
		if val == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
