package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jward/workbench/internal/constraint"
	"github.com/jward/workbench/internal/message"
	"github.com/jward/workbench/internal/scopegraph"
)

// Store is the SQLite context store.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database at dbPath with WAL mode enabled.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates all tables and indexes. Idempotent.
func (s *Store) Migrate() error {
	_, err := s.db.Exec(schemaDDL)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS contexts (
  id              INTEGER PRIMARY KEY,
  root            TEXT NOT NULL,
  language        TEXT NOT NULL,
  instance_id     TEXT NOT NULL,
  hash            TEXT NOT NULL,
  saved_at        TIMESTAMP,
  UNIQUE (root, language)
);

CREATE TABLE IF NOT EXISTS units (
  id              INTEGER PRIMARY KEY,
  context_id      INTEGER NOT NULL REFERENCES contexts(id),
  source          TEXT NOT NULL,
  hash            TEXT,
  analyzed        BOOLEAN DEFAULT FALSE,
  success         BOOLEAN DEFAULT FALSE,
  result          BLOB,
  solution        BLOB,
  final           BLOB,
  UNIQUE (context_id, source)
);

CREATE TABLE IF NOT EXISTS messages (
  id              INTEGER PRIMARY KEY,
  unit_id         INTEGER NOT NULL REFERENCES units(id),
  source          TEXT NOT NULL,
  severity        INTEGER NOT NULL,
  kind            INTEGER NOT NULL,
  start_line      INTEGER,
  start_col       INTEGER,
  end_line        INTEGER,
  end_col         INTEGER,
  text            TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS metadata (
  key             TEXT PRIMARY KEY,
  value           TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_units_context ON units(context_id);
CREATE INDEX IF NOT EXISTS idx_messages_unit ON messages(unit_id);
CREATE INDEX IF NOT EXISTS idx_messages_severity ON messages(severity);
`

// Save persists snap, replacing any earlier snapshot of the same context.
// A snapshot whose hash matches the stored one is not rewritten.
func (s *Store) Save(ctx context.Context, snap *scopegraph.Snapshot) error {
	hash := ComputeSnapshotHash(snap)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save: begin: %w", err)
	}
	defer tx.Rollback()

	var contextID int64
	var stored string
	err = tx.QueryRowContext(ctx,
		"SELECT id, hash FROM contexts WHERE root = ? AND language = ?",
		snap.ID.Root, snap.ID.Language,
	).Scan(&contextID, &stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, err := tx.ExecContext(ctx,
			"INSERT INTO contexts (root, language, instance_id, hash, saved_at) VALUES (?, ?, ?, ?, ?)",
			snap.ID.Root, snap.ID.Language, snap.InstanceID, hash, snap.SavedAt,
		)
		if err != nil {
			return fmt.Errorf("save: insert context %s: %w", snap.ID, err)
		}
		if contextID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("save: context id: %w", err)
		}
	case err != nil:
		return fmt.Errorf("save: query context %s: %w", snap.ID, err)
	case stored == hash:
		return nil
	default:
		if err := deleteUnitsTx(ctx, tx, contextID); err != nil {
			return fmt.Errorf("save: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE contexts SET instance_id = ?, hash = ?, saved_at = ? WHERE id = ?",
			snap.InstanceID, hash, snap.SavedAt, contextID,
		); err != nil {
			return fmt.Errorf("save: update context %s: %w", snap.ID, err)
		}
	}

	for i := range snap.Units {
		if err := insertUnitTx(ctx, tx, contextID, &snap.Units[i]); err != nil {
			return fmt.Errorf("save: unit %q: %w", snap.Units[i].Source, err)
		}
	}
	if _, err := tx.ExecContext(ctx, upsertMetadata, MetaLastSaved, snap.SavedAt.UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	return tx.Commit()
}

func insertUnitTx(ctx context.Context, tx *sql.Tx, contextID int64, u *scopegraph.UnitSnapshot) error {
	result, err := encodeBlob(u.Result)
	if err != nil {
		return err
	}
	solution, err := encodeBlob(u.Solution)
	if err != nil {
		return err
	}
	final, err := encodeBlob(u.Final)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO units (context_id, source, hash, analyzed, success, result, solution, final)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		contextID, u.Source, u.Hash, u.Analyzed, u.Success, result, solution, final,
	)
	if err != nil {
		return fmt.Errorf("insert unit: %w", err)
	}
	unitID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("unit id: %w", err)
	}
	for _, m := range u.Messages {
		var sl, sc, el, ec sql.NullInt64
		if m.Region != nil {
			sl = sql.NullInt64{Int64: int64(m.Region.StartLine), Valid: true}
			sc = sql.NullInt64{Int64: int64(m.Region.StartCol), Valid: true}
			el = sql.NullInt64{Int64: int64(m.Region.EndLine), Valid: true}
			ec = sql.NullInt64{Int64: int64(m.Region.EndCol), Valid: true}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (unit_id, source, severity, kind, start_line, start_col, end_line, end_col, text)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			unitID, m.Source, int(m.Severity), int(m.Kind), sl, sc, el, ec, m.Text,
		); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	return nil
}

func deleteUnitsTx(ctx context.Context, tx *sql.Tx, contextID int64) error {
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM messages WHERE unit_id IN (SELECT id FROM units WHERE context_id = ?)", contextID,
	); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM units WHERE context_id = ?", contextID); err != nil {
		return fmt.Errorf("delete units: %w", err)
	}
	return nil
}

// Load returns the stored snapshot for id, or ErrNotFound.
func (s *Store) Load(ctx context.Context, id scopegraph.ID) (*scopegraph.Snapshot, error) {
	snap := &scopegraph.Snapshot{ID: id}
	var contextID int64
	var savedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		"SELECT id, instance_id, saved_at FROM contexts WHERE root = ? AND language = ?",
		id.Root, id.Language,
	).Scan(&contextID, &snap.InstanceID, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", id, err)
	}
	snap.SavedAt = savedAt.Time

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, hash, analyzed, success, result, solution, final
		 FROM units WHERE context_id = ? ORDER BY source`, contextID)
	if err != nil {
		return nil, fmt.Errorf("load %s: query units: %w", id, err)
	}
	defer rows.Close()

	unitIndex := make(map[int64]int)
	for rows.Next() {
		var unitID int64
		var hash sql.NullString
		var result, solution, final []byte
		var u scopegraph.UnitSnapshot
		if err := rows.Scan(&unitID, &u.Source, &hash, &u.Analyzed, &u.Success, &result, &solution, &final); err != nil {
			return nil, fmt.Errorf("load %s: scan unit: %w", id, err)
		}
		u.Hash = hash.String
		if u.Result, err = decodeBlob[constraint.UnitResult](result); err != nil {
			return nil, fmt.Errorf("load %s: unit %q: %w", id, u.Source, err)
		}
		if u.Solution, err = decodeBlob[constraint.Solution](solution); err != nil {
			return nil, fmt.Errorf("load %s: unit %q: %w", id, u.Source, err)
		}
		if u.Final, err = decodeBlob[constraint.FinalResult](final); err != nil {
			return nil, fmt.Errorf("load %s: unit %q: %w", id, u.Source, err)
		}
		unitIndex[unitID] = len(snap.Units)
		snap.Units = append(snap.Units, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load %s: %w", id, err)
	}

	msgs, err := s.queryMessages(ctx,
		`SELECT m.unit_id, m.source, m.severity, m.kind, m.start_line, m.start_col, m.end_line, m.end_col, m.text
		 FROM messages m JOIN units u ON u.id = m.unit_id
		 WHERE u.context_id = ? ORDER BY m.id`, contextID)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", id, err)
	}
	for _, um := range msgs {
		i := unitIndex[um.unitID]
		snap.Units[i].Messages = append(snap.Units[i].Messages, um.msg)
	}
	return snap, nil
}

type unitMessage struct {
	unitID int64
	msg    message.Message
}

func (s *Store) queryMessages(ctx context.Context, query string, args ...any) ([]unitMessage, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []unitMessage
	for rows.Next() {
		var um unitMessage
		var sev, kind int
		var sl, sc, el, ec sql.NullInt64
		if err := rows.Scan(&um.unitID, &um.msg.Source, &sev, &kind, &sl, &sc, &el, &ec, &um.msg.Text); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		um.msg.Severity = message.Severity(sev)
		um.msg.Kind = message.Kind(kind)
		if sl.Valid {
			um.msg.Region = &message.Region{
				StartLine: int(sl.Int64), StartCol: int(sc.Int64),
				EndLine: int(el.Int64), EndCol: int(ec.Int64),
			}
		}
		out = append(out, um)
	}
	return out, rows.Err()
}

// Messages returns the stored diagnostics of a context, optionally limited
// to the given sources, ordered by source and position.
func (s *Store) Messages(ctx context.Context, id scopegraph.ID, sources ...string) ([]message.Message, error) {
	query := `SELECT m.unit_id, m.source, m.severity, m.kind, m.start_line, m.start_col, m.end_line, m.end_col, m.text
		FROM messages m
		JOIN units u ON u.id = m.unit_id
		JOIN contexts c ON c.id = u.context_id
		WHERE c.root = ? AND c.language = ?`
	args := []any{id.Root, id.Language}
	if len(sources) > 0 {
		query += " AND m.source IN (" + placeholderList(len(sources)) + ")"
		args = append(args, stringsToArgs(sources)...)
	}
	query += " ORDER BY m.id"

	ums, err := s.queryMessages(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("messages %s: %w", id, err)
	}
	msgs := make([]message.Message, len(ums))
	for i, um := range ums {
		msgs[i] = um.msg
	}
	message.Sort(msgs)
	return msgs, nil
}

// Delete removes the snapshot for id. Deleting an absent context is a no-op.
func (s *Store) Delete(ctx context.Context, id scopegraph.ID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete: begin: %w", err)
	}
	defer tx.Rollback()

	var contextID int64
	err = tx.QueryRowContext(ctx,
		"SELECT id FROM contexts WHERE root = ? AND language = ?", id.Root, id.Language,
	).Scan(&contextID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	if err := deleteUnitsTx(ctx, tx, contextID); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM contexts WHERE id = ?", contextID); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return tx.Commit()
}

// Contexts lists every stored context ordered by root and language.
func (s *Store) Contexts(ctx context.Context) ([]ContextInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.root, c.language, c.instance_id, c.hash, c.saved_at,
		  (SELECT COUNT(*) FROM units u WHERE u.context_id = c.id),
		  (SELECT COUNT(*) FROM messages m JOIN units u ON u.id = m.unit_id
		     WHERE u.context_id = c.id AND m.severity = ?)
		FROM contexts c ORDER BY c.root, c.language`, int(message.Error))
	if err != nil {
		return nil, fmt.Errorf("contexts: %w", err)
	}
	defer rows.Close()

	var out []ContextInfo
	for rows.Next() {
		var info ContextInfo
		var savedAt sql.NullTime
		if err := rows.Scan(&info.ID.Root, &info.ID.Language, &info.InstanceID, &info.Hash, &savedAt, &info.Units, &info.Errors); err != nil {
			return nil, fmt.Errorf("contexts: scan: %w", err)
		}
		info.SavedAt = savedAt.Time
		out = append(out, info)
	}
	return out, rows.Err()
}

// MetaLastSaved is the metadata key holding the RFC 3339 time of the last save.
const MetaLastSaved = "last_saved"

const upsertMetadata = "INSERT INTO metadata (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value"

// GetMetadata returns the value stored under key, or "" when absent.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get metadata %q: %w", key, err)
	}
	return value, nil
}

// SetMetadata stores value under key.
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	if _, err := s.db.ExecContext(ctx, upsertMetadata, key, value); err != nil {
		return fmt.Errorf("set metadata %q: %w", key, err)
	}
	return nil
}
