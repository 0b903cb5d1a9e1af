// Package store persists concepts, edges, mastery, evidence, alignments,
// embeddings and snapshots in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/CanopyHQ/synapse/internal/logger"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("not found")

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Queries holds every read/write primitive. It runs either directly against
// the database (Store) or inside a transaction (Tx).
type Queries struct {
	q   querier
	vec *vecIndex
}

// Store is the SQLite-backed concept store.
type Store struct {
	*Queries
	db   *sql.DB
	path string
	log  *logger.Logger
}

// Tx is a Store bound to an open transaction.
type Tx struct {
	*Queries
	tx *sql.Tx
}

// DBFile is the database file name inside the data directory.
const DBFile = "synapse.db"

// OpenInDir opens (or creates) DBFile inside dataDir.
func OpenInDir(dataDir string, log *logger.Logger) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	return Open(filepath.Join(dataDir, DBFile), log)
}

// Open opens the database at path and brings the schema up to date.
func Open(path string, log *logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.Nop()
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection serializes writers
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db, path: path, log: log.With("component", "store")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	vec := newVecIndex(context.Background(), db, s.log)
	s.Queries = &Queries{q: db, vec: vec}

	s.log.Debug("concept store opened", "path", path, "vec", vec.available)
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS concepts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		label TEXT NOT NULL,
		norm_label TEXT NOT NULL,
		source_graph TEXT NOT NULL CHECK (source_graph IN ('domain','syllabus','personal')),
		description TEXT,
		provenance TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (norm_label, source_graph)
	);
	CREATE INDEX IF NOT EXISTS idx_concepts_source ON concepts(source_graph);

	CREATE TABLE IF NOT EXISTS edges (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		src_concept_id INTEGER NOT NULL,
		dst_concept_id INTEGER NOT NULL,
		relation TEXT NOT NULL CHECK (relation IN ('prereq','relates_to','part_of')),
		source_graph TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (src_concept_id) REFERENCES concepts(id) ON DELETE CASCADE,
		FOREIGN KEY (dst_concept_id) REFERENCES concepts(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source_graph);

	CREATE TABLE IF NOT EXISTS progress (
		concept_id INTEGER PRIMARY KEY,
		mastery TEXT NOT NULL CHECK (mastery IN ('unknown','learning','known')),
		score REAL NOT NULL DEFAULT 0,
		last_updated DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (concept_id) REFERENCES concepts(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS evidence (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		concept_id INTEGER NOT NULL,
		kind TEXT NOT NULL,
		payload TEXT,
		confidence REAL NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (concept_id) REFERENCES concepts(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_evidence_concept ON evidence(concept_id);

	CREATE TABLE IF NOT EXISTS alignments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		a_id INTEGER NOT NULL,
		b_id INTEGER NOT NULL,
		a_source TEXT NOT NULL,
		b_source TEXT NOT NULL,
		method TEXT NOT NULL CHECK (method IN ('exact','embedding','llm')),
		confidence REAL NOT NULL,
		notes TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (a_id, b_id, method),
		CHECK (a_id <> b_id),
		FOREIGN KEY (a_id) REFERENCES concepts(id) ON DELETE CASCADE,
		FOREIGN KEY (b_id) REFERENCES concepts(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_alignments_b ON alignments(b_id);

	CREATE TABLE IF NOT EXISTS embeddings (
		concept_id INTEGER PRIMARY KEY,
		model TEXT NOT NULL,
		dim INTEGER NOT NULL,
		vector BLOB NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (concept_id) REFERENCES concepts(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		graph TEXT NOT NULL,
		mermaid TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_graph ON snapshots(graph, id DESC);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	var version int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		version = 1
	}

	// v2: chat turn log behind track/import
	if version < 2 {
		if _, err := s.db.Exec(`
			CREATE TABLE IF NOT EXISTS events (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				role TEXT NOT NULL,
				content TEXT NOT NULL,
				topic TEXT,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP
			)`); err != nil {
			return fmt.Errorf("v2: %w", err)
		}
		s.db.Exec("INSERT INTO schema_version (version) VALUES (2)")
	}

	// v3: provenance lookups by label during syllabus ingest
	if version < 3 {
		s.db.Exec("CREATE INDEX IF NOT EXISTS idx_concepts_norm ON concepts(norm_label)")
		s.db.Exec("INSERT INTO schema_version (version) VALUES (3)")
	}
	return nil
}

// WithTx runs fn inside one transaction. Any error (or panic) rolls back.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			sqlTx.Rollback()
		}
	}()

	if err = fn(&Tx{Queries: &Queries{q: sqlTx, vec: s.vec}, tx: sqlTx}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// DB exposes the raw handle for diagnostics.
func (s *Store) DB() *sql.DB {
	return s.db
}

// VecAvailable reports whether the sqlite-vec extension loaded.
func (s *Store) VecAvailable() bool {
	return s.vec.available
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Reset clears every table in one transaction.
func (s *Store) Reset(ctx context.Context) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		for _, table := range []string{"events", "evidence", "progress", "alignments", "embeddings", "edges", "snapshots", "concepts"} {
			if _, err := tx.q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}
		return tx.vec.clear(ctx, tx.q)
	})
}
