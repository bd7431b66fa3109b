package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNoMeta is returned by Meta when the index has never been finalized.
var ErrNoMeta = errors.New("index metadata not written")

// Store wraps a single SQLite index file holding vectors, per-document
// provenance, and build metadata.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the index database at path and runs pending
// migrations. Pass ":memory:" for an in-memory database (used by tests).
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating index directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening index database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging index database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for the vector store layer.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the file path this store was opened from.
func (s *Store) Path() string {
	return s.path
}

// migrate reads embedded SQL migration files and applies any that haven't run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

// UpsertDocument records (or replaces) per-document provenance.
func (s *Store) UpsertDocument(doc DocumentRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO documents (path, format, fingerprint, status, chunk_count, extracted_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			format = excluded.format,
			fingerprint = excluded.fingerprint,
			status = excluded.status,
			chunk_count = excluded.chunk_count,
			extracted_at = excluded.extracted_at`,
		doc.Path, doc.Format, doc.Fingerprint, doc.Status, doc.ChunkCount,
		doc.ExtractedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upserting document %s: %w", doc.Path, err)
	}
	return nil
}

// Documents returns all per-document provenance rows keyed by source path.
func (s *Store) Documents() (map[string]DocumentRecord, error) {
	rows, err := s.db.Query(`SELECT path, format, fingerprint, status, chunk_count, extracted_at FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	docs := make(map[string]DocumentRecord)
	for rows.Next() {
		var d DocumentRecord
		var extractedAt string
		if err := rows.Scan(&d.Path, &d.Format, &d.Fingerprint, &d.Status, &d.ChunkCount, &extractedAt); err != nil {
			return nil, fmt.Errorf("scanning document row: %w", err)
		}
		t, err := time.Parse(time.RFC3339, extractedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing extracted_at for %s: %w", d.Path, err)
		}
		d.ExtractedAt = t
		docs[d.Path] = d
	}
	return docs, rows.Err()
}

// DeleteDocument removes a document's provenance row and all of its vectors.
func (s *Store) DeleteDocument(path string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM resume_vectors WHERE doc_path = ?", path); err != nil {
		tx.Rollback()
		return fmt.Errorf("deleting vectors for %s: %w", path, err)
	}
	if _, err := tx.Exec("DELETE FROM documents WHERE path = ?", path); err != nil {
		tx.Rollback()
		return fmt.Errorf("deleting document %s: %w", path, err)
	}
	return tx.Commit()
}

// metaKeys used in the index_meta table.
const (
	metaEmbedModel = "embed_model"
	metaDimensions = "dimensions"
	metaDocCount   = "document_count"
	metaBuiltAt    = "built_at"
)

// SetMeta finalizes the index with its build metadata. Called exactly once,
// at the end of a successful build, before the snapshot is published.
func (s *Store) SetMeta(meta IndexMeta) error {
	pairs := map[string]string{
		metaEmbedModel: meta.EmbedModel,
		metaDimensions: strconv.Itoa(meta.Dimensions),
		metaDocCount:   strconv.Itoa(meta.DocumentCount),
		metaBuiltAt:    meta.BuiltAt.UTC().Format(time.RFC3339),
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning meta transaction: %w", err)
	}
	for k, v := range pairs {
		if _, err := tx.Exec(`INSERT INTO index_meta (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, k, v); err != nil {
			tx.Rollback()
			return fmt.Errorf("writing meta %s: %w", k, err)
		}
	}
	return tx.Commit()
}

// Meta returns the build metadata, or ErrNoMeta for an unfinalized index.
func (s *Store) Meta() (IndexMeta, error) {
	rows, err := s.db.Query(`SELECT key, value FROM index_meta`)
	if err != nil {
		return IndexMeta{}, fmt.Errorf("querying index meta: %w", err)
	}
	defer rows.Close()

	kv := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return IndexMeta{}, fmt.Errorf("scanning meta row: %w", err)
		}
		kv[k] = v
	}
	if err := rows.Err(); err != nil {
		return IndexMeta{}, err
	}
	if len(kv) == 0 {
		return IndexMeta{}, ErrNoMeta
	}

	var meta IndexMeta
	meta.EmbedModel = kv[metaEmbedModel]
	if meta.Dimensions, err = strconv.Atoi(kv[metaDimensions]); err != nil {
		return IndexMeta{}, fmt.Errorf("parsing dimensions: %w", err)
	}
	if meta.DocumentCount, err = strconv.Atoi(kv[metaDocCount]); err != nil {
		return IndexMeta{}, fmt.Errorf("parsing document count: %w", err)
	}
	if meta.BuiltAt, err = time.Parse(time.RFC3339, kv[metaBuiltAt]); err != nil {
		return IndexMeta{}, fmt.Errorf("parsing built_at: %w", err)
	}
	return meta, nil
}
