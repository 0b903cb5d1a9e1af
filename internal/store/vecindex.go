package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"

	"github.com/CanopyHQ/synapse/internal/logger"
)

func init() {
	sqlite_vec.Auto()
}

// ErrVecUnavailable means the sqlite-vec index can't serve a query.
var ErrVecUnavailable = errors.New("vector index unavailable")

// vecIndex manages the vec0 table used for KNN over concept embeddings.
// Concept ids are integers, so they double as vec0 rowids.
// If the extension fails to load every operation is a no-op.
type vecIndex struct {
	mu         sync.Mutex
	available  bool
	dimensions int // 0 until the first embedding fixes it
	log        *logger.Logger
}

type vecResult struct {
	ConceptID int64
	Distance  float64
}

func newVecIndex(ctx context.Context, db *sql.DB, log *logger.Logger) *vecIndex {
	vi := &vecIndex{log: log}
	var version string
	if err := db.QueryRowContext(ctx, "SELECT vec_version()").Scan(&version); err != nil {
		log.Warn("sqlite-vec not available, using linear scan", "error", err)
		return vi
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS vec_metadata (key TEXT PRIMARY KEY, value TEXT)`); err != nil {
		log.Warn("failed to create vec_metadata, using linear scan", "error", err)
		return vi
	}
	vi.available = true

	// restore the dimension of an index built by a previous run
	var stored string
	if err := db.QueryRowContext(ctx, `SELECT value FROM vec_metadata WHERE key = 'dimensions'`).Scan(&stored); err == nil {
		if dim, err := strconv.Atoi(stored); err == nil {
			vi.dimensions = dim
		}
	}
	log.Debug("sqlite-vec loaded", "version", version, "dimensions", vi.dimensions)
	return vi
}

func (vi *vecIndex) ready(dim int) bool {
	vi.mu.Lock()
	defer vi.mu.Unlock()
	return vi.available && dim > 0 && vi.dimensions == dim
}

// ensure creates the vec0 table for dim, dropping and backfilling it when the
// stored dimension differs (e.g. after switching embedders).
func (vi *vecIndex) ensure(ctx context.Context, db *sql.DB, dim int) error {
	vi.mu.Lock()
	defer vi.mu.Unlock()
	if !vi.available || dim <= 0 || vi.dimensions == dim {
		return nil
	}
	if vi.dimensions != 0 {
		vi.log.Info("embedding dimensions changed, rebuilding vec index", "from", vi.dimensions, "to", dim)
		if _, err := db.ExecContext(ctx, `DROP TABLE IF EXISTS concept_vectors`); err != nil {
			return fmt.Errorf("failed to drop vec index: %w", err)
		}
	}

	createSQL := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS concept_vectors USING vec0(embedding float[%d] distance_metric=cosine)`, dim)
	if _, err := db.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("failed to create vec0 table: %w", err)
	}
	if _, err := db.ExecContext(ctx,
		`INSERT OR REPLACE INTO vec_metadata (key, value) VALUES ('dimensions', ?)`, strconv.Itoa(dim)); err != nil {
		return fmt.Errorf("failed to record vec dimensions: %w", err)
	}
	vi.dimensions = dim

	n, err := vi.backfill(ctx, db)
	if err != nil {
		return err
	}
	if n > 0 {
		vi.log.Info("backfilled vec index", "embeddings", n, "dimensions", dim)
	}
	return nil
}

// backfill copies stored embeddings of the current dimension into vec0.
func (vi *vecIndex) backfill(ctx context.Context, db *sql.DB) (int, error) {
	res, err := db.ExecContext(ctx, `
		INSERT INTO concept_vectors (rowid, embedding)
		SELECT e.concept_id, e.vector FROM embeddings e
		WHERE e.dim = ? AND e.concept_id NOT IN (SELECT rowid FROM concept_vectors)
	`, vi.dimensions)
	if err != nil {
		return 0, fmt.Errorf("failed to backfill vec index: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (vi *vecIndex) insert(ctx context.Context, q querier, conceptID int64, blob []byte, dim int) error {
	if !vi.ready(dim) {
		return nil
	}
	// vec0 has no upsert
	if _, err := q.ExecContext(ctx, `DELETE FROM concept_vectors WHERE rowid = ?`, conceptID); err != nil {
		return fmt.Errorf("failed to replace vec row: %w", err)
	}
	if _, err := q.ExecContext(ctx, `INSERT INTO concept_vectors (rowid, embedding) VALUES (?, ?)`, conceptID, blob); err != nil {
		return fmt.Errorf("failed to insert into vec0: %w", err)
	}
	return nil
}

func (vi *vecIndex) clear(ctx context.Context, q querier) error {
	vi.mu.Lock()
	defer vi.mu.Unlock()
	if !vi.available || vi.dimensions == 0 {
		return nil
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM concept_vectors`); err != nil {
		return fmt.Errorf("failed to clear vec index: %w", err)
	}
	return nil
}

func (vi *vecIndex) count(ctx context.Context, db *sql.DB) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM concept_vectors`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count vec rows: %w", err)
	}
	return n, nil
}

// search runs a KNN query and returns rowids with cosine distances, nearest first.
func (vi *vecIndex) search(ctx context.Context, db *sql.DB, blob []byte, limit int) ([]vecResult, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT rowid, distance
		FROM concept_vectors
		WHERE embedding MATCH ?
		ORDER BY distance
		LIMIT ?
	`, blob, limit)
	if err != nil {
		return nil, fmt.Errorf("vec search failed: %w", err)
	}
	defer rows.Close()

	var out []vecResult
	for rows.Next() {
		var r vecResult
		if err := rows.Scan(&r.ConceptID, &r.Distance); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
