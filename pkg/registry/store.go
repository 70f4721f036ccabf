package registry

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"wtunnel/pkg/logging"

	_ "modernc.org/sqlite"
)

// Sentinel errors surfaced by the store. The manager maps these onto
// the CLI exit codes, so they must survive wrapping (compare with
// errors.Is).
var (
	ErrDuplicateName = errors.New("a tunnel with this name already exists")
	ErrNotFound      = errors.New("tunnel not found")
	ErrStoreCorrupt  = errors.New("tunnel registry is corrupt")
	ErrLockTimeout   = errors.New("timed out waiting for the registry lock")
)

// Store is the durable tunnel registry, one SQLite file shared by every
// concurrent invocation on the machine. SQLite's file locking is the
// sole cross-process serialization point: read-modify-write cycles run
// inside BEGIN IMMEDIATE transactions bounded by busy_timeout.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the registry at path. lockTimeout bounds how
// long any operation waits for a concurrent writer before failing with
// ErrLockTimeout.
func Open(path string, lockTimeout time.Duration) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create registry directory: %w", err)
	}

	// _txlock=immediate makes every transaction take the write lock up
	// front, so Mutate serializes read-modify-write cycles across
	// processes instead of failing at commit time.
	dsn := fmt.Sprintf("%s?_txlock=immediate&_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", path, lockTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry: %w", classify(err))
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open registry: %w", classify(err))
	}

	store := &Store{db: db, path: path}
	if err := store.initializeSchema(); err != nil {
		db.Close()
		return nil, err
	}

	logging.LogDebug("Registry opened at: %s", path)
	return store, nil
}

func (s *Store) initializeSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tunnels (
		name            TEXT PRIMARY KEY,
		local_port      INTEGER NOT NULL,
		public_port     INTEGER NOT NULL,
		subdomain       TEXT NOT NULL,
		hostname        TEXT NOT NULL,
		public_enabled  INTEGER NOT NULL DEFAULT 0,
		external_url    TEXT,
		local_pid       INTEGER,
		public_pid      INTEGER,
		status          TEXT NOT NULL,
		last_error      TEXT NOT NULL DEFAULT '',
		created_at      TEXT NOT NULL,
		updated_at      TEXT NOT NULL,
		log_path        TEXT NOT NULL,
		public_log_path TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tunnels_status ON tunnels(status);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize registry schema: %w", classify(err))
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the registry file location.
func (s *Store) Path() string { return s.path }

// classify maps driver failures onto the store's sentinel errors so
// callers never have to inspect SQLite strings themselves.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "file is not a database"),
		strings.Contains(msg, "database disk image is malformed"):
		return fmt.Errorf("%w: %v", ErrStoreCorrupt, err)
	case strings.Contains(msg, "SQLITE_BUSY"),
		strings.Contains(msg, "database is locked"):
		return fmt.Errorf("%w: %v", ErrLockTimeout, err)
	case strings.Contains(msg, "UNIQUE constraint failed: tunnels.name"):
		return ErrDuplicateName
	}
	return err
}

const tunnelColumns = `name, local_port, public_port, subdomain, hostname, public_enabled,
	external_url, local_pid, public_pid, status, last_error, created_at, updated_at,
	log_path, public_log_path`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTunnel(row rowScanner) (Tunnel, error) {
	var (
		t           Tunnel
		enabled     int
		externalURL sql.NullString
		localPID    sql.NullInt64
		publicPID   sql.NullInt64
		createdAt   string
		updatedAt   string
		status      string
	)

	err := row.Scan(&t.Name, &t.LocalPort, &t.PublicPort, &t.Subdomain, &t.Hostname, &enabled,
		&externalURL, &localPID, &publicPID, &status, &t.LastError, &createdAt, &updatedAt,
		&t.LogPath, &t.PublicLogPath)
	if err != nil {
		return Tunnel{}, err
	}

	t.PublicEnabled = enabled != 0
	t.ExternalURL = externalURL.String
	t.LocalPID = int(localPID.Int64)
	t.PublicPID = int(publicPID.Int64)
	t.Status = Status(status)

	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Tunnel{}, fmt.Errorf("%w: bad created_at for %q: %v", ErrStoreCorrupt, t.Name, err)
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return Tunnel{}, fmt.Errorf("%w: bad updated_at for %q: %v", ErrStoreCorrupt, t.Name, err)
	}
	return t, nil
}

// execer abstracts *sql.DB and *sql.Tx so the same queries back both
// the direct store methods and the locked Mutate critical sections.
type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullPID(pid int) interface{} {
	if pid == 0 {
		return nil
	}
	return pid
}

func getTunnel(q execer, name string) (Tunnel, error) {
	row := q.QueryRow(`SELECT `+tunnelColumns+` FROM tunnels WHERE name = ?`, name)
	t, err := scanTunnel(row)
	if err == sql.ErrNoRows {
		return Tunnel{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err != nil {
		return Tunnel{}, classify(err)
	}
	return t, nil
}

func listTunnels(q execer) ([]Tunnel, error) {
	// rowid preserves creation order.
	rows, err := q.Query(`SELECT ` + tunnelColumns + ` FROM tunnels ORDER BY rowid`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var tunnels []Tunnel
	for rows.Next() {
		t, err := scanTunnel(rows)
		if err != nil {
			return nil, classify(err)
		}
		tunnels = append(tunnels, t)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return tunnels, nil
}

func createTunnel(q execer, t Tunnel) error {
	_, err := q.Exec(`
		INSERT INTO tunnels (`+tunnelColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Name, t.LocalPort, t.PublicPort, t.Subdomain, t.Hostname, boolToInt(t.PublicEnabled),
		nullString(t.ExternalURL), nullPID(t.LocalPID), nullPID(t.PublicPID), string(t.Status),
		t.LastError, t.CreatedAt.Format(time.RFC3339Nano), t.UpdatedAt.Format(time.RFC3339Nano),
		t.LogPath, t.PublicLogPath)
	if err != nil {
		return classify(err)
	}
	logging.LogDebug("Registry: created tunnel %q", t.Name)
	return nil
}

func saveTunnel(q execer, t Tunnel) error {
	result, err := q.Exec(`
		UPDATE tunnels SET local_port = ?, public_port = ?, subdomain = ?, hostname = ?,
			public_enabled = ?, external_url = ?, local_pid = ?, public_pid = ?, status = ?,
			last_error = ?, updated_at = ?, log_path = ?, public_log_path = ?
		WHERE name = ?`,
		t.LocalPort, t.PublicPort, t.Subdomain, t.Hostname, boolToInt(t.PublicEnabled),
		nullString(t.ExternalURL), nullPID(t.LocalPID), nullPID(t.PublicPID), string(t.Status),
		t.LastError, t.UpdatedAt.Format(time.RFC3339Nano), t.LogPath, t.PublicLogPath, t.Name)
	if err != nil {
		return classify(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, t.Name)
	}
	return nil
}

func deleteTunnel(q execer, name string) error {
	result, err := q.Exec(`DELETE FROM tunnels WHERE name = ?`, name)
	if err != nil {
		return classify(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	logging.LogDebug("Registry: deleted tunnel %q", name)
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Get returns the record for name, or ErrNotFound.
func (s *Store) Get(name string) (Tunnel, error) { return getTunnel(s.db, name) }

// List returns all records in creation order.
func (s *Store) List() ([]Tunnel, error) { return listTunnels(s.db) }

// Create inserts a new record, failing with ErrDuplicateName if the
// name is taken.
func (s *Store) Create(t Tunnel) error { return createTunnel(s.db, t) }

// Save updates an existing record.
func (s *Store) Save(t Tunnel) error { return saveTunnel(s.db, t) }

// Delete removes a record.
func (s *Store) Delete(name string) error { return deleteTunnel(s.db, name) }

// Txn exposes the store operations inside one locked read-modify-write
// cycle.
type Txn struct {
	tx *sql.Tx
}

func (t *Txn) Get(name string) (Tunnel, error) { return getTunnel(t.tx, name) }
func (t *Txn) List() ([]Tunnel, error)         { return listTunnels(t.tx) }
func (t *Txn) Create(rec Tunnel) error         { return createTunnel(t.tx, rec) }
func (t *Txn) Save(rec Tunnel) error           { return saveTunnel(t.tx, rec) }
func (t *Txn) Delete(name string) error        { return deleteTunnel(t.tx, name) }

// Mutate runs fn inside an exclusive write transaction. The write lock
// is acquired up front (BEGIN IMMEDIATE) so two concurrent invocations
// never interleave their read-modify-write cycles; the second waits up
// to the configured lock timeout and then fails with ErrLockTimeout.
// Keep fn short: no subprocess work belongs in here.
func (s *Store) Mutate(fn func(*Txn) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return classify(err)
	}

	if err := fn(&Txn{tx: tx}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify(err)
	}
	return nil
}
