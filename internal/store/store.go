package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DBName is the database file created inside the dump directory.
const DBName = "dispatch.db"

// Store persists dump data to SQLite.
type Store struct {
	db      *sql.DB
	dbPath  string
	baseDir string // Dump directory
}

// Open creates or opens the dump database inside dir, creating dir if needed.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating dump directory: %w", err)
	}

	dbPath := filepath.Join(dir, DBName)
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Call sites record from many goroutines; one connection serializes writers.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{
		db:      db,
		dbPath:  dbPath,
		baseDir: dir,
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DBPath returns the path to the database file.
func (s *Store) DBPath() string {
	return s.dbPath
}

// Clear removes all data from the database.
func (s *Store) Clear() error {
	tables := []string{"resolutions", "implementations", "methods", "types", "metadata"}
	for _, table := range tables {
		if _, err := s.db.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clearing table %s: %w", table, err)
		}
	}
	return nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insertType(x execer, t *TypeRecord) error {
	origin := t.Origin
	if origin == "" {
		origin = OriginModel
	}
	_, err := x.Exec(`
		INSERT INTO types (name, kind, super, interfaces, enclosing, strategy, origin)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			kind = excluded.kind,
			super = excluded.super,
			interfaces = excluded.interfaces,
			enclosing = excluded.enclosing,
			strategy = excluded.strategy,
			origin = excluded.origin
	`, t.Name, t.Kind, t.Super, t.Interfaces, t.Enclosing, t.Strategy, string(origin))
	return err
}

func insertMethod(x execer, m *MethodRecord) error {
	_, err := x.Exec(`
		INSERT INTO methods (owner, name, sig, static, private, abstract, strategy)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner, name, sig, static) DO UPDATE SET
			private = excluded.private,
			abstract = excluded.abstract,
			strategy = excluded.strategy
	`, m.Owner, m.Name, m.Sig, m.Static, m.Private, m.Abstract, m.Strategy)
	return err
}

// InsertType inserts or updates a type.
func (s *Store) InsertType(t *TypeRecord) error {
	return insertType(s.db, t)
}

// InsertMethod inserts or updates a method. Its owner must exist.
func (s *Store) InsertMethod(m *MethodRecord) error {
	return insertMethod(s.db, m)
}

// InsertImplementation records a generated method.
func (s *Store) InsertImplementation(impl *Implementation) error {
	_, err := s.db.Exec(`
		INSERT INTO implementations (site_id, impl, interface, method, sig, strategy, source, extra_args, caller, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(site_id) DO NOTHING
	`, impl.SiteID, impl.Impl, impl.Interface, impl.Method, impl.Sig, impl.Strategy,
		impl.Source, impl.ExtraArgs, impl.Caller, impl.CreatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// InsertResolution appends a resolution to the trace and returns its ID.
func (s *Store) InsertResolution(r *Resolution) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO resolutions (site_id, method, receiver, arg_types, kind, mode, selected, attempts, outcome, error, elapsed_ns, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.SiteID, r.Method, r.Receiver, r.ArgTypes, r.Kind, r.Mode, r.Selected, r.Attempts,
		string(r.Outcome), r.Error, int64(r.Elapsed), r.At.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// ListTypes returns all types ordered by name.
func (s *Store) ListTypes() ([]TypeRecord, error) {
	rows, err := s.db.Query(`
		SELECT name, kind, COALESCE(super, ''), COALESCE(interfaces, ''), COALESCE(enclosing, ''),
		       COALESCE(strategy, ''), origin
		FROM types ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("querying types: %w", err)
	}
	defer rows.Close()

	var out []TypeRecord
	for rows.Next() {
		var t TypeRecord
		if err := rows.Scan(&t.Name, &t.Kind, &t.Super, &t.Interfaces, &t.Enclosing, &t.Strategy, &t.Origin); err != nil {
			return nil, fmt.Errorf("scanning type: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListMethods returns the methods of owner, or of every type when owner is empty.
func (s *Store) ListMethods(owner string) ([]MethodRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, owner, name, sig, static, private, abstract, COALESCE(strategy, '')
		FROM methods
		WHERE ? = '' OR owner = ?
		ORDER BY owner, name, id
	`, owner, owner)
	if err != nil {
		return nil, fmt.Errorf("querying methods: %w", err)
	}
	defer rows.Close()

	var out []MethodRecord
	for rows.Next() {
		var m MethodRecord
		if err := rows.Scan(&m.ID, &m.Owner, &m.Name, &m.Sig, &m.Static, &m.Private, &m.Abstract, &m.Strategy); err != nil {
			return nil, fmt.Errorf("scanning method: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListImplementations returns generated methods, newest implementation first.
func (s *Store) ListImplementations() ([]Implementation, error) {
	rows, err := s.db.Query(`
		SELECT site_id, impl, interface, method, sig, strategy, COALESCE(source, ''),
		       COALESCE(extra_args, ''), COALESCE(caller, ''), created_at
		FROM implementations
		ORDER BY created_at DESC, impl, method
	`)
	if err != nil {
		return nil, fmt.Errorf("querying implementations: %w", err)
	}
	defer rows.Close()

	var out []Implementation
	for rows.Next() {
		var impl Implementation
		var created string
		if err := rows.Scan(&impl.SiteID, &impl.Impl, &impl.Interface, &impl.Method, &impl.Sig, &impl.Strategy,
			&impl.Source, &impl.ExtraArgs, &impl.Caller, &created); err != nil {
			return nil, fmt.Errorf("scanning implementation: %w", err)
		}
		impl.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, impl)
	}
	return out, rows.Err()
}

// ListResolutions returns traced resolutions, newest first.
func (s *Store) ListResolutions(f ResolutionFilter) ([]Resolution, error) {
	query := `
		SELECT id, COALESCE(site_id, ''), method, COALESCE(receiver, ''), COALESCE(arg_types, ''), kind, mode,
		       COALESCE(selected, ''), attempts, outcome, COALESCE(error, ''), elapsed_ns, at
		FROM resolutions`
	var where []string
	var args []any
	if f.SiteID != "" {
		where = append(where, "site_id = ?")
		args = append(args, f.SiteID)
	}
	if f.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, string(f.Outcome))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying resolutions: %w", err)
	}
	defer rows.Close()

	var out []Resolution
	for rows.Next() {
		var r Resolution
		var elapsed int64
		var at string
		if err := rows.Scan(&r.ID, &r.SiteID, &r.Method, &r.Receiver, &r.ArgTypes, &r.Kind, &r.Mode,
			&r.Selected, &r.Attempts, &r.Outcome, &r.Error, &elapsed, &at); err != nil {
			return nil, fmt.Errorf("scanning resolution: %w", err)
		}
		r.Elapsed = time.Duration(elapsed)
		r.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, r)
	}
	return out, rows.Err()
}

// SetMetadata stores a key-value pair in the metadata table.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO metadata (key, value)
		VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// GetMetadata retrieves a value from the metadata table.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	return value, err
}

// Stats holds statistics about the dumped data.
type Stats struct {
	TypeCount           int       `json:"type_count"`
	MethodCount         int       `json:"method_count"`
	ImplementationCount int       `json:"implementation_count"`
	ResolutionCount     int       `json:"resolution_count"`
	FailedCount         int       `json:"failed_count"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// GetStats returns statistics about the dumped data.
func (s *Store) GetStats() (*Stats, error) {
	stats := &Stats{}

	rows := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM types", &stats.TypeCount},
		{"SELECT COUNT(*) FROM methods", &stats.MethodCount},
		{"SELECT COUNT(*) FROM implementations", &stats.ImplementationCount},
		{"SELECT COUNT(*) FROM resolutions", &stats.ResolutionCount},
		{"SELECT COUNT(*) FROM resolutions WHERE outcome = 'failed'", &stats.FailedCount},
	}

	for _, r := range rows {
		if err := s.db.QueryRow(r.query).Scan(r.dest); err != nil {
			return nil, fmt.Errorf("counting (%s): %w", r.query, err)
		}
	}

	if ts, err := s.GetMetadata("updated_at"); err == nil {
		stats.UpdatedAt, _ = time.Parse(time.RFC3339, ts)
	}

	return stats, nil
}

// Summary is written to summary.json next to the database.
type Summary struct {
	Version             string    `json:"version"`
	DumpDir             string    `json:"dump_dir"`
	UpdatedAt           time.Time `json:"updated_at"`
	TypeCount           int       `json:"type_count"`
	ImplementationCount int       `json:"implementation_count"`
	ResolutionCount     int       `json:"resolution_count"`
	Implementations     []string  `json:"implementations"`
}

// WriteSummaryJSON writes summary.json for quick inspection.
func (s *Store) WriteSummaryJSON() error {
	stats, err := s.GetStats()
	if err != nil {
		return fmt.Errorf("getting stats: %w", err)
	}

	rows, err := s.db.Query("SELECT DISTINCT impl FROM implementations ORDER BY impl")
	if err != nil {
		return fmt.Errorf("querying implementations: %w", err)
	}
	defer rows.Close()

	impls := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("scanning implementation: %w", err)
		}
		impls = append(impls, name)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	summary := &Summary{
		Version:             "1",
		DumpDir:             s.baseDir,
		UpdatedAt:           stats.UpdatedAt,
		TypeCount:           stats.TypeCount,
		ImplementationCount: stats.ImplementationCount,
		ResolutionCount:     stats.ResolutionCount,
		Implementations:     impls,
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling summary.json: %w", err)
	}

	path := filepath.Join(filepath.Dir(s.dbPath), "summary.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing summary.json: %w", err)
	}

	return nil
}

// Tx returns the underlying database for advanced queries.
// Use with caution - prefer adding methods to Store instead.
func (s *Store) Tx() *sql.DB {
	return s.db
}

// BeginBatch starts a transaction for batch inserts.
// Call Commit() when done, or Rollback() on error.
func (s *Store) BeginBatch() (*BatchTx, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	return &BatchTx{tx: tx}, nil
}

// BatchTx wraps a transaction for batch operations.
type BatchTx struct {
	tx *sql.Tx
}

// Commit commits the batch transaction.
func (b *BatchTx) Commit() error {
	return b.tx.Commit()
}

// Rollback rolls back the batch transaction.
func (b *BatchTx) Rollback() error {
	return b.tx.Rollback()
}

// InsertType inserts a type within the batch.
func (b *BatchTx) InsertType(t *TypeRecord) error {
	return insertType(b.tx, t)
}

// InsertMethod inserts a method within the batch.
func (b *BatchTx) InsertMethod(m *MethodRecord) error {
	return insertMethod(b.tx, m)
}
