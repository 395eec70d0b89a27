package cledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/credmesh/credmesh/cissuer"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var _ Store = (*SQLiteStore)(nil)

const defaultBusyTimeout = 5 * time.Second

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS txns (
		seq_no INTEGER PRIMARY KEY AUTOINCREMENT,
		req_id TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL,
		created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS schemas (
		id TEXT PRIMARY KEY,
		seq_no INTEGER NOT NULL REFERENCES txns(seq_no),
		issuer_id TEXT NOT NULL,
		name TEXT NOT NULL,
		version TEXT NOT NULL,
		attr_names TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS schemas_issuer ON schemas(issuer_id, seq_no)`,
	`CREATE TABLE IF NOT EXISTS issuer_keys (
		schema_id TEXT NOT NULL REFERENCES schemas(id),
		issuer_id TEXT NOT NULL,
		seq_no INTEGER NOT NULL REFERENCES txns(seq_no),
		public_key TEXT NOT NULL,
		PRIMARY KEY (schema_id, issuer_id)
	)`,
}

// SQLiteStore is a [Store] persisted in a SQLite database file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLiteStore opens (creating if needed) the ledger database at path.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open sqlite store: %w", err)
	}

	// A single connection serializes writers,
	// which keeps sequence number assignment trivially ordered.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA busy_timeout = %d", defaultBusyTimeout.Milliseconds()),
		"PRAGMA journal_mode = WAL",
	}
	for _, stmt := range append(pragmas, schemaStatements...) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("ledger: apply %q: %w", firstLine(stmt), err)
		}
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// insertTxn records reqID as a new transaction inside tx,
// returning its sequence number.
func insertTxn(ctx context.Context, tx *sql.Tx, reqID uuid.UUID, typ OpType) (uint64, error) {
	var n int
	if err := tx.QueryRowContext(
		ctx, `SELECT COUNT(*) FROM txns WHERE req_id = ?`, reqID.String(),
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("ledger: check request id: %w", err)
	}
	if n > 0 {
		return 0, &DuplicateRequestError{ReqID: reqID}
	}

	res, err := tx.ExecContext(
		ctx, `INSERT INTO txns (req_id, type) VALUES (?, ?)`, reqID.String(), string(typ),
	)
	if err != nil {
		return 0, fmt.Errorf("ledger: insert txn: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("ledger: txn sequence number: %w", err)
	}
	return uint64(seq), nil
}

func (s *SQLiteStore) InsertSchema(ctx context.Context, reqID uuid.UUID, rec SchemaRecord) (uint64, error) {
	attrs, err := json.Marshal(rec.AttrNames)
	if err != nil {
		return 0, fmt.Errorf("ledger: encode attribute names: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("ledger: begin: %w", err)
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRowContext(
		ctx, `SELECT COUNT(*) FROM schemas WHERE id = ?`, string(rec.ID),
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("ledger: check schema id: %w", err)
	}
	if n > 0 {
		return 0, &SchemaExistsError{ID: rec.ID}
	}

	seq, err := insertTxn(ctx, tx, reqID, PublishSchemaType)
	if err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schemas (id, seq_no, issuer_id, name, version, attr_names) VALUES (?, ?, ?, ?, ?, ?)`,
		string(rec.ID), seq, rec.IssuerID, rec.Name, rec.Version, string(attrs),
	); err != nil {
		return 0, fmt.Errorf("ledger: insert schema: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("ledger: commit schema: %w", err)
	}
	return seq, nil
}

func (s *SQLiteStore) InsertIssuerKeys(ctx context.Context, reqID uuid.UUID, rec IssuerKeyRecord) (uint64, error) {
	pk, err := json.Marshal(rec.PublicKey)
	if err != nil {
		return 0, fmt.Errorf("ledger: encode public key: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("ledger: begin: %w", err)
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM issuer_keys WHERE schema_id = ? AND issuer_id = ?`,
		string(rec.SchemaID), rec.IssuerID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("ledger: check issuer keys: %w", err)
	}
	if n > 0 {
		return 0, &IssuerKeysExistError{SchemaID: rec.SchemaID, IssuerID: rec.IssuerID}
	}

	seq, err := insertTxn(ctx, tx, reqID, PublishIssuerKeysType)
	if err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO issuer_keys (schema_id, issuer_id, seq_no, public_key) VALUES (?, ?, ?, ?)`,
		string(rec.SchemaID), rec.IssuerID, seq, string(pk),
	); err != nil {
		return 0, fmt.Errorf("ledger: insert issuer keys: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("ledger: commit issuer keys: %w", err)
	}
	return seq, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchema(row rowScanner) (SchemaRecord, error) {
	var (
		rec   SchemaRecord
		id    string
		attrs string
		seq   int64
	)
	if err := row.Scan(&id, &seq, &rec.IssuerID, &rec.Name, &rec.Version, &attrs); err != nil {
		return SchemaRecord{}, err
	}
	rec.ID = SchemaID(id)
	rec.SeqNo = uint64(seq)
	if err := json.Unmarshal([]byte(attrs), &rec.AttrNames); err != nil {
		return SchemaRecord{}, fmt.Errorf("ledger: decode attribute names of %s: %w", id, err)
	}
	return rec, nil
}

const schemaColumns = `id, seq_no, issuer_id, name, version, attr_names`

func (s *SQLiteStore) Schema(ctx context.Context, id SchemaID) (SchemaRecord, error) {
	rec, err := scanSchema(s.db.QueryRowContext(ctx,
		`SELECT `+schemaColumns+` FROM schemas WHERE id = ?`, string(id),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return SchemaRecord{}, NotFoundError{Entity: "schema", Key: string(id)}
	}
	if err != nil {
		return SchemaRecord{}, fmt.Errorf("ledger: read schema %s: %w", id, err)
	}
	return rec, nil
}

func (s *SQLiteStore) IssuerKeys(ctx context.Context, id SchemaID, issuer string) (IssuerKeyRecord, error) {
	var (
		seq int64
		pk  string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT seq_no, public_key FROM issuer_keys WHERE schema_id = ? AND issuer_id = ?`,
		string(id), issuer,
	).Scan(&seq, &pk)
	if errors.Is(err, sql.ErrNoRows) {
		return IssuerKeyRecord{}, NotFoundError{Entity: "issuer keys", Key: string(id) + "/" + issuer}
	}
	if err != nil {
		return IssuerKeyRecord{}, fmt.Errorf("ledger: read issuer keys for %s: %w", id, err)
	}

	var pub cissuer.PublicKey
	if err := json.Unmarshal([]byte(pk), &pub); err != nil {
		return IssuerKeyRecord{}, fmt.Errorf("ledger: decode issuer keys for %s: %w", id, err)
	}

	return IssuerKeyRecord{
		SchemaID:  id,
		IssuerID:  issuer,
		PublicKey: pub,
		SeqNo:     uint64(seq),
	}, nil
}

func (s *SQLiteStore) Schemas(ctx context.Context, issuer string) ([]SchemaRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+schemaColumns+` FROM schemas WHERE issuer_id = ? ORDER BY seq_no`, issuer,
	)
	if err != nil {
		return nil, fmt.Errorf("ledger: list schemas: %w", err)
	}
	defer rows.Close()

	var out []SchemaRecord
	for rows.Next() {
		rec, err := scanSchema(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger: scan schema: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			return s[:i]
		}
	}
	return s
}
