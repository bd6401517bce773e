package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

// ErrStateCorrupt indicates the state database violates its invariants at
// load. The engine refuses to run; recovery is deleting the state file and
// re-pulling.
var ErrStateCorrupt = errors.New("sync: state database is corrupt (delete .notesync/state and re-pull)")

// walJournalSizeLimit caps the WAL journal at 64 MiB.
const walJournalSizeLimit = 67108864

// Store is the durable, transactional entry store backed by an embedded
// SQLite database in WAL mode. The engine is the only writer in a workspace;
// the store is authoritative for metadata, never for content.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	entryStmts    entryStatements
	conflictStmts conflictStatements
	metaStmts     metaStatements
}

type entryStatements struct {
	getByPath, getByRemoteID, upsert, deleteByPath, listAll, clearConvError *sql.Stmt
}

type conflictStatements struct {
	record, listOpen, openByPath, resolve *sql.Stmt
}

type metaStatements struct {
	get, set *sql.Stmt
}

// NewStore opens the database at dbPath, applies migrations, verifies the
// state invariants, and prepares all repeated statements.
func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	logger.Info("opening state database", slog.String("path", dbPath))

	// DSN parameters ensure the pragmas apply to every connection from the
	// pool, not just the one that happened to run an ExecContext.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"+
			"&_pragma=journal_size_limit(%d)",
		dbPath, walJournalSizeLimit,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sync: opening sqlite: %w", err)
	}

	// Sole-writer pattern: executor goroutines commit concurrently, so all
	// writes must funnel through a single connection.
	db.SetMaxOpenConns(1)

	ctx := context.Background()

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, logger: logger}

	if err := s.verifyInvariants(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if err := s.prepareStatements(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sync: preparing statements: %w", err)
	}

	return s, nil
}

// verifyInvariants checks the loaded state against the at-rest invariants:
// structural integrity and status values in range. Uniqueness of path and
// remote_id is enforced by the schema itself; a failed integrity_check or an
// out-of-range status means a corrupted or hand-edited database.
func (s *Store) verifyInvariants(ctx context.Context) error {
	var integrity string
	if err := s.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&integrity); err != nil {
		return fmt.Errorf("%w: integrity check failed: %v", ErrStateCorrupt, err)
	}

	if integrity != "ok" {
		return fmt.Errorf("%w: %s", ErrStateCorrupt, integrity)
	}

	var bad int

	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries WHERE status NOT IN
		('clean','local-modified','remote-modified','conflict',
		 'deleted-local','deleted-remote','new-local','new-remote')`).Scan(&bad)
	if err != nil {
		return fmt.Errorf("%w: status scan failed: %v", ErrStateCorrupt, err)
	}

	if bad > 0 {
		return fmt.Errorf("%w: %d entries with invalid status", ErrStateCorrupt, bad)
	}

	return nil
}

// --- SQL query constants ---

const (
	sqlEntryColumns = `path, remote_id, remote_url, parent_remote_id, kind,
		local_hash, remote_hash, remote_mtime, status,
		conv_error, conv_error_hash, created_at, updated_at`

	sqlGetByPath = `SELECT ` + sqlEntryColumns + ` FROM entries WHERE path = ?`

	sqlGetByRemoteID = `SELECT ` + sqlEntryColumns + ` FROM entries WHERE remote_id = ?`

	sqlUpsertEntry = `INSERT INTO entries (` + sqlEntryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			remote_id        = excluded.remote_id,
			remote_url       = excluded.remote_url,
			parent_remote_id = excluded.parent_remote_id,
			kind             = excluded.kind,
			local_hash       = excluded.local_hash,
			remote_hash      = excluded.remote_hash,
			remote_mtime     = excluded.remote_mtime,
			status           = excluded.status,
			conv_error       = excluded.conv_error,
			conv_error_hash  = excluded.conv_error_hash,
			updated_at       = excluded.updated_at`

	sqlDeleteByPath = `DELETE FROM entries WHERE path = ?`

	sqlListAll = `SELECT ` + sqlEntryColumns + ` FROM entries ORDER BY path`

	sqlClearConvError = `UPDATE entries
		SET conv_error = '', conv_error_hash = '', updated_at = ?
		WHERE path = ?`
)

const (
	sqlRecordConflict = `INSERT INTO conflicts
		(id, path, remote_id, detected_at, local_hash, remote_hash,
		 remote_mtime, reason, resolution, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', 0)`

	sqlListOpenConflicts = `SELECT id, path, remote_id, detected_at,
		local_hash, remote_hash, remote_mtime, reason, resolution, resolved_at
		FROM conflicts WHERE resolution = '' ORDER BY detected_at`

	sqlOpenConflictByPath = `SELECT id, path, remote_id, detected_at,
		local_hash, remote_hash, remote_mtime, reason, resolution, resolved_at
		FROM conflicts WHERE path = ? AND resolution = ''
		ORDER BY detected_at DESC LIMIT 1`

	sqlResolveConflict = `UPDATE conflicts
		SET resolution = ?, resolved_at = ? WHERE id = ?`
)

const (
	sqlGetMeta = `SELECT value FROM meta WHERE key = ?`

	sqlSetMeta = `INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`
)

// stmtDef maps a SQL string to the prepared statement pointer it populates.
type stmtDef struct {
	dest **sql.Stmt
	sql  string
	name string
}

func (s *Store) prepareStatements(ctx context.Context) error {
	defs := []stmtDef{
		{&s.entryStmts.getByPath, sqlGetByPath, "getByPath"},
		{&s.entryStmts.getByRemoteID, sqlGetByRemoteID, "getByRemoteID"},
		{&s.entryStmts.upsert, sqlUpsertEntry, "upsertEntry"},
		{&s.entryStmts.deleteByPath, sqlDeleteByPath, "deleteByPath"},
		{&s.entryStmts.listAll, sqlListAll, "listAll"},
		{&s.entryStmts.clearConvError, sqlClearConvError, "clearConvError"},
		{&s.conflictStmts.record, sqlRecordConflict, "recordConflict"},
		{&s.conflictStmts.listOpen, sqlListOpenConflicts, "listOpenConflicts"},
		{&s.conflictStmts.openByPath, sqlOpenConflictByPath, "openConflictByPath"},
		{&s.conflictStmts.resolve, sqlResolveConflict, "resolveConflict"},
		{&s.metaStmts.get, sqlGetMeta, "getMeta"},
		{&s.metaStmts.set, sqlSetMeta, "setMeta"},
	}

	for i := range defs {
		stmt, err := s.db.PrepareContext(ctx, defs[i].sql)
		if err != nil {
			return fmt.Errorf("prepare %s: %w", defs[i].name, err)
		}

		*defs[i].dest = stmt
	}

	return nil
}

// --- Entry scanning helpers ---

// scanEntry scans a full entry row into an Entry struct.
func scanEntry(row interface{ Scan(...any) error }) (*Entry, error) {
	e := &Entry{}

	err := row.Scan(
		&e.Path, &e.RemoteID, &e.RemoteURL, &e.ParentRemoteID, &e.Kind,
		&e.LocalHash, &e.RemoteHash, &e.RemoteMtime, &e.Status,
		&e.ConvError, &e.ConvErrorHash, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return e, nil
}

// upsertEntryArgs returns the argument slice for the upsert statement.
func upsertEntryArgs(e *Entry) []any {
	return []any{
		e.Path, e.RemoteID, e.RemoteURL, e.ParentRemoteID, string(e.Kind),
		e.LocalHash, e.RemoteHash, e.RemoteMtime, string(e.Status),
		e.ConvError, e.ConvErrorHash, e.CreatedAt, e.UpdatedAt,
	}
}

// --- Entry methods ---

// GetByPath retrieves an entry by its local path. Returns (nil, nil) when no
// entry exists; callers use the nil entry to distinguish new from known.
func (s *Store) GetByPath(ctx context.Context, path string) (*Entry, error) {
	entry, err := scanEntry(s.entryStmts.getByPath.QueryRowContext(ctx, path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // nil entry means "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("sync: get entry %q: %w", path, err)
	}

	return entry, nil
}

// GetByRemoteID retrieves an entry by its remote identifier. Returns
// (nil, nil) when no entry exists.
func (s *Store) GetByRemoteID(ctx context.Context, remoteID string) (*Entry, error) {
	entry, err := scanEntry(s.entryStmts.getByRemoteID.QueryRowContext(ctx, remoteID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // nil entry means "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("sync: get entry by remote id %q: %w", remoteID, err)
	}

	return entry, nil
}

// Upsert inserts or updates an entry by path, stamping UpdatedAt.
func (s *Store) Upsert(ctx context.Context, e *Entry) error {
	s.logger.Debug("upserting entry",
		slog.String("path", e.Path), slog.String("status", string(e.Status)))

	now := NowNano()

	if e.CreatedAt == 0 {
		e.CreatedAt = now
	}

	e.UpdatedAt = now

	if _, err := s.entryStmts.upsert.ExecContext(ctx, upsertEntryArgs(e)...); err != nil {
		return fmt.Errorf("sync: upsert entry %q: %w", e.Path, err)
	}

	return nil
}

// DeleteByPath removes an entry row.
func (s *Store) DeleteByPath(ctx context.Context, path string) error {
	s.logger.Debug("deleting entry", slog.String("path", path))

	if _, err := s.entryStmts.deleteByPath.ExecContext(ctx, path); err != nil {
		return fmt.Errorf("sync: delete entry %q: %w", path, err)
	}

	return nil
}

// ListAll returns every entry ordered by path.
func (s *Store) ListAll(ctx context.Context) ([]*Entry, error) {
	rows, err := s.entryStmts.listAll.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("sync: list entries: %w", err)
	}
	defer rows.Close()

	return scanEntryRows(rows)
}

// ListWhere returns entries whose status is in the given set.
func (s *Store) ListWhere(ctx context.Context, statuses ...Status) ([]*Entry, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(statuses))
	placeholders = placeholders[:len(placeholders)-1]

	query := `SELECT ` + sqlEntryColumns + ` FROM entries WHERE status IN (` +
		placeholders + `) ORDER BY path`

	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sync: list entries by status: %w", err)
	}
	defer rows.Close()

	return scanEntryRows(rows)
}

// ClearConvError resets the sticky conversion-error fields on an entry.
func (s *Store) ClearConvError(ctx context.Context, path string) error {
	if _, err := s.entryStmts.clearConvError.ExecContext(ctx, NowNano(), path); err != nil {
		return fmt.Errorf("sync: clear conversion error %q: %w", path, err)
	}

	return nil
}

func scanEntryRows(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("sync: scan entry row: %w", err)
		}

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sync: iterate entry rows: %w", err)
	}

	return entries, nil
}

// --- Transactions ---

// Tx exposes the entry mutations available inside a Transact scope.
type Tx struct {
	tx    *sql.Tx
	store *Store
}

// Upsert inserts or updates an entry within the transaction.
func (t *Tx) Upsert(ctx context.Context, e *Entry) error {
	now := NowNano()

	if e.CreatedAt == 0 {
		e.CreatedAt = now
	}

	e.UpdatedAt = now

	stmt := t.tx.StmtContext(ctx, t.store.entryStmts.upsert)
	if _, err := stmt.ExecContext(ctx, upsertEntryArgs(e)...); err != nil {
		return fmt.Errorf("sync: tx upsert entry %q: %w", e.Path, err)
	}

	return nil
}

// DeleteByPath removes an entry row within the transaction.
func (t *Tx) DeleteByPath(ctx context.Context, path string) error {
	stmt := t.tx.StmtContext(ctx, t.store.entryStmts.deleteByPath)
	if _, err := stmt.ExecContext(ctx, path); err != nil {
		return fmt.Errorf("sync: tx delete entry %q: %w", path, err)
	}

	return nil
}

// RecordConflict appends a conflict ledger row within the transaction.
func (t *Tx) RecordConflict(ctx context.Context, rec *ConflictRecord) error {
	stmt := t.tx.StmtContext(ctx, t.store.conflictStmts.record)

	_, err := stmt.ExecContext(ctx,
		rec.ID, rec.Path, rec.RemoteID, rec.DetectedAt,
		rec.LocalHash, rec.RemoteHash, rec.RemoteMtime, rec.Reason)
	if err != nil {
		return fmt.Errorf("sync: tx record conflict %q: %w", rec.Path, err)
	}

	return nil
}

// Transact runs body inside a transaction: on error nothing is applied.
func (s *Store) Transact(ctx context.Context, body func(tx *Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sync: begin transaction: %w", err)
	}

	if err := body(&Tx{tx: tx, store: s}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("sync: transaction failed: %w (rollback: %v)", err, rbErr)
		}

		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sync: commit transaction: %w", err)
	}

	return nil
}

// --- Conflict ledger ---

// RecordConflict appends a conflict ledger row.
func (s *Store) RecordConflict(ctx context.Context, rec *ConflictRecord) error {
	s.logger.Info("recording conflict",
		slog.String("path", rec.Path), slog.String("reason", rec.Reason))

	_, err := s.conflictStmts.record.ExecContext(ctx,
		rec.ID, rec.Path, rec.RemoteID, rec.DetectedAt,
		rec.LocalHash, rec.RemoteHash, rec.RemoteMtime, rec.Reason)
	if err != nil {
		return fmt.Errorf("sync: record conflict %q: %w", rec.Path, err)
	}

	return nil
}

// ListOpenConflicts returns all unresolved conflict records.
func (s *Store) ListOpenConflicts(ctx context.Context) ([]*ConflictRecord, error) {
	rows, err := s.conflictStmts.listOpen.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("sync: list conflicts: %w", err)
	}
	defer rows.Close()

	var records []*ConflictRecord

	for rows.Next() {
		rec := &ConflictRecord{}

		err := rows.Scan(&rec.ID, &rec.Path, &rec.RemoteID, &rec.DetectedAt,
			&rec.LocalHash, &rec.RemoteHash, &rec.RemoteMtime, &rec.Reason,
			&rec.Resolution, &rec.ResolvedAt)
		if err != nil {
			return nil, fmt.Errorf("sync: scan conflict row: %w", err)
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sync: iterate conflict rows: %w", err)
	}

	return records, nil
}

// OpenConflictByPath returns the newest unresolved conflict for a path, or
// (nil, nil) when there is none.
func (s *Store) OpenConflictByPath(ctx context.Context, path string) (*ConflictRecord, error) {
	rec := &ConflictRecord{}

	err := s.conflictStmts.openByPath.QueryRowContext(ctx, path).Scan(
		&rec.ID, &rec.Path, &rec.RemoteID, &rec.DetectedAt,
		&rec.LocalHash, &rec.RemoteHash, &rec.RemoteMtime, &rec.Reason,
		&rec.Resolution, &rec.ResolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // nil record means "no open conflict"
	}

	if err != nil {
		return nil, fmt.Errorf("sync: open conflict for %q: %w", path, err)
	}

	return rec, nil
}

// ResolveConflict closes a conflict ledger row.
func (s *Store) ResolveConflict(ctx context.Context, id string, resolution Resolution) error {
	s.logger.Info("resolving conflict",
		slog.String("id", id), slog.String("resolution", string(resolution)))

	if _, err := s.conflictStmts.resolve.ExecContext(ctx, string(resolution), NowNano(), id); err != nil {
		return fmt.Errorf("sync: resolve conflict %s: %w", id, err)
	}

	return nil
}

// --- Meta ---

// GetMeta retrieves a workspace metadata value, empty string when unset.
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	var value string

	err := s.metaStmts.get.QueryRowContext(ctx, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("sync: get meta %q: %w", key, err)
	}

	return value, nil
}

// SetMeta stores a workspace metadata value.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	if _, err := s.metaStmts.set.ExecContext(ctx, key, value); err != nil {
		return fmt.Errorf("sync: set meta %q: %w", key, err)
	}

	return nil
}

// --- Maintenance ---

// Checkpoint consolidates the WAL file into the main database.
func (s *Store) Checkpoint() error {
	if _, err := s.db.ExecContext(context.Background(), "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("sync: wal checkpoint: %w", err)
	}

	return nil
}

// Close closes all prepared statements and the database connection.
func (s *Store) Close() error {
	stmts := []*sql.Stmt{
		s.entryStmts.getByPath, s.entryStmts.getByRemoteID,
		s.entryStmts.upsert, s.entryStmts.deleteByPath,
		s.entryStmts.listAll, s.entryStmts.clearConvError,
		s.conflictStmts.record, s.conflictStmts.listOpen,
		s.conflictStmts.openByPath, s.conflictStmts.resolve,
		s.metaStmts.get, s.metaStmts.set,
	}

	var errs []string

	for _, stmt := range stmts {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
	}

	if err := s.db.Close(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("sync: closing store: %s", strings.Join(errs, "; "))
	}

	return nil
}
