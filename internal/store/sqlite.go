package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	_ "modernc.org/sqlite"

	"github.com/rcliao/memtier/internal/model"
)

// SQLiteBackend implements Backend on a single SQLite database shared by
// all tiers. Vectors are stored as BLOBs and ranked in Go.
type SQLiteBackend struct {
	db   *sql.DB
	path string
}

// NewSQLiteBackend opens or creates a SQLite database at the given path.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, goerr.Wrap(err, "failed to create db dir", goerr.V("dir", dir))
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=synchronous(normal)")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open db", goerr.V("path", dbPath))
	}

	s := &SQLiteBackend{db: db, path: dbPath}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, goerr.Wrap(err, "failed to migrate", goerr.V("path", dbPath))
	}
	return s, nil
}

// Path returns the database file path.
func (s *SQLiteBackend) Path() string { return s.path }

func (s *SQLiteBackend) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id           TEXT PRIMARY KEY,
		tier         TEXT NOT NULL,
		text         TEXT NOT NULL,
		embedding    BLOB NOT NULL,
		dims         INTEGER NOT NULL,
		metadata     TEXT,
		user_id      TEXT,
		agent_id     TEXT,
		run_id       TEXT,
		quality      REAL NOT NULL,
		completeness REAL NOT NULL,
		relevance    REAL NOT NULL,
		clarity      REAL NOT NULL,
		accuracy     REAL NOT NULL,
		created_at   INTEGER NOT NULL,
		entity_name  TEXT,
		entity_type  TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_records_tier_created ON records(tier, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_records_scope ON records(tier, user_id, agent_id, run_id);
	CREATE INDEX IF NOT EXISTS idx_records_entity ON records(tier, entity_type, entity_name, created_at DESC);

	CREATE TABLE IF NOT EXISTS tier_dims (
		tier TEXT PRIMARY KEY,
		dims INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

const recordColumns = `id, tier, text, embedding, metadata, user_id, agent_id, run_id,
	quality, completeness, relevance, clarity, accuracy, created_at, entity_name, entity_type`

func (s *SQLiteBackend) Insert(ctx context.Context, rec *model.Record) error {
	meta, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return goerr.Wrap(err, "failed to encode metadata", goerr.V("id", rec.ID))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return goerr.Wrap(err, "failed to begin tx")
	}
	defer tx.Rollback()

	// the first write to a tier pins its dimensionality
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO tier_dims (tier, dims) VALUES (?, ?)`,
		string(rec.Tier), len(rec.Embedding)); err != nil {
		return goerr.Wrap(err, "failed to pin tier dims")
	}
	var dims int
	if err := tx.QueryRowContext(ctx, `SELECT dims FROM tier_dims WHERE tier = ?`, string(rec.Tier)).Scan(&dims); err != nil {
		return goerr.Wrap(err, "failed to read tier dims")
	}
	if dims != len(rec.Embedding) {
		return goerr.Wrap(model.ErrDimensionMismatch, "tier was created with another dimensionality",
			goerr.V("tier", rec.Tier), goerr.V("want", dims), goerr.V("got", len(rec.Embedding)))
	}

	q := rec.Quality
	_, err = tx.ExecContext(ctx,
		`INSERT INTO records (id, tier, text, embedding, dims, metadata, user_id, agent_id, run_id,
		                      quality, completeness, relevance, clarity, accuracy, created_at, entity_name, entity_type)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.Tier), rec.Text, encodeEmbedding(rec.Embedding), len(rec.Embedding), meta,
		nullable(rec.Scope.UserID), nullable(rec.Scope.AgentID), nullable(rec.Scope.RunID),
		q.Overall, q.Completeness, q.Relevance, q.Clarity, q.Accuracy,
		rec.CreatedAt.UnixNano(), nullable(rec.EntityName), nullable(rec.EntityType))
	if err != nil {
		return goerr.Wrap(err, "failed to insert record", goerr.V("id", rec.ID))
	}

	if err := tx.Commit(); err != nil {
		return goerr.Wrap(err, "failed to commit record", goerr.V("id", rec.ID))
	}
	return nil
}

func (s *SQLiteBackend) Get(ctx context.Context, tier model.Tier, id string) (*model.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE tier = ? AND id = ?`, string(tier), id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, goerr.Wrap(model.ErrNotFound, "no such record", goerr.V("tier", tier), goerr.V("id", id))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get record", goerr.V("id", id))
	}
	return &rec, nil
}

func (s *SQLiteBackend) Delete(ctx context.Context, tier model.Tier, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE tier = ? AND id = ?`, string(tier), id)
	if err != nil {
		return false, goerr.Wrap(err, "failed to delete record", goerr.V("id", id))
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteBackend) DeleteOlderThan(ctx context.Context, tier model.Tier, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE tier = ? AND created_at < ?`, string(tier), cutoff.UnixNano())
	if err != nil {
		return 0, goerr.Wrap(err, "failed to delete expired records", goerr.V("tier", tier))
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteBackend) List(ctx context.Context, tier model.Tier, f Filter, limit int) ([]model.Record, error) {
	where, args := filterClause(tier, f)
	query := `SELECT ` + recordColumns + ` FROM records WHERE ` + where + ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list records", goerr.V("tier", tier))
	}
	defer rows.Close()

	var records []model.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to scan record")
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLiteBackend) Count(ctx context.Context, tier model.Tier) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE tier = ?`, string(tier)).Scan(&n)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to count records", goerr.V("tier", tier))
	}
	return n, nil
}

func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}

// filterClause builds the WHERE clause for a tier and filter. A NULL scope
// column is a wildcard, as is an empty filter field.
func filterClause(tier model.Tier, f Filter) (string, []any) {
	where := []string{"tier = ?"}
	args := []any{string(tier)}

	scopeCols := []struct {
		col string
		val string
	}{
		{"user_id", f.Scope.UserID},
		{"agent_id", f.Scope.AgentID},
		{"run_id", f.Scope.RunID},
	}
	for _, sc := range scopeCols {
		if sc.val == "" {
			continue
		}
		where = append(where, fmt.Sprintf("(%s IS NULL OR %s = ?)", sc.col, sc.col))
		args = append(args, sc.val)
	}
	if f.EntityName != "" {
		where = append(where, "entity_name = ?")
		args = append(args, f.EntityName)
	}
	if f.EntityType != "" {
		where = append(where, "entity_type = ?")
		args = append(args, f.EntityType)
	}
	if !f.CreatedAfter.IsZero() {
		where = append(where, "created_at > ?")
		args = append(args, f.CreatedAfter.UnixNano())
	}
	return strings.Join(where, " AND "), args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (model.Record, error) {
	var r model.Record
	var tier string
	var blob []byte
	var meta, userID, agentID, runID, entityName, entityType sql.NullString
	var createdAt int64

	err := row.Scan(
		&r.ID, &tier, &r.Text, &blob, &meta, &userID, &agentID, &runID,
		&r.Quality.Overall, &r.Quality.Completeness, &r.Quality.Relevance, &r.Quality.Clarity, &r.Quality.Accuracy,
		&createdAt, &entityName, &entityType,
	)
	if err != nil {
		return r, err
	}

	r.Tier = model.Tier(tier)
	r.Embedding = decodeEmbedding(blob)
	r.Metadata = decodeMetadata(meta.String)
	r.Scope = model.Scope{UserID: userID.String, AgentID: agentID.String, RunID: runID.String}
	r.CreatedAt = time.Unix(0, createdAt).UTC()
	r.EntityName = entityName.String
	r.EntityType = entityType.String
	return r, nil
}
