package logging

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Records keep their full JSON body. The contractor table indexes every
// contractor a record mentions so audits per contractor stay in SQL.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS audit_records (
		id      INTEGER PRIMARY KEY AUTOINCREMENT,
		at_ns   INTEGER NOT NULL,
		lead_id TEXT NOT NULL,
		event   TEXT NOT NULL,
		body    TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS audit_records_lead ON audit_records (lead_id, at_ns)`,
	`CREATE TABLE IF NOT EXISTS audit_contractors (
		record_id     INTEGER NOT NULL REFERENCES audit_records (id) ON DELETE CASCADE,
		contractor_id TEXT NOT NULL,
		PRIMARY KEY (record_id, contractor_id)
	)`,
	`CREATE INDEX IF NOT EXISTS audit_contractors_contractor ON audit_contractors (contractor_id)`,
}

// SQLiteStore keeps the audit trail in a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, err
	}
	// One writer avoids SQLITE_BUSY under concurrent rounds.
	db.SetMaxOpenConns(1)
	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			return nil, errors.Join(fmt.Errorf("audit schema: %w", err), db.Close())
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, rec LogRecord) (err error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO audit_records (at_ns, lead_id, event, body) VALUES (?, ?, ?, ?)`,
		rec.Timestamp.UnixNano(), rec.LeadID, rec.Event, string(body))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	for _, c := range rec.contractors() {
		if _, err = tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO audit_contractors (record_id, contractor_id) VALUES (?, ?)`, id, c); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Query(ctx context.Context, q LogQuery) ([]LogRecord, error) {
	var (
		where []string
		args  []any
	)
	if !q.Start.IsZero() {
		where = append(where, `r.at_ns >= ?`)
		args = append(args, q.Start.UnixNano())
	}
	if !q.End.IsZero() {
		where = append(where, `r.at_ns <= ?`)
		args = append(args, q.End.UnixNano())
	}
	if q.LeadID != "" {
		where = append(where, `r.lead_id = ?`)
		args = append(args, q.LeadID)
	}
	if q.Event != "" {
		where = append(where, `r.event = ?`)
		args = append(args, q.Event)
	}
	if q.ContractorID != "" {
		where = append(where, `EXISTS (SELECT 1 FROM audit_contractors c WHERE c.record_id = r.id AND c.contractor_id = ?)`)
		args = append(args, q.ContractorID)
	}
	stmt := `SELECT r.body FROM audit_records r`
	if len(where) > 0 {
		stmt += ` WHERE ` + strings.Join(where, ` AND `)
	}
	stmt += ` ORDER BY r.at_ns, r.id`

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []LogRecord
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var rec LogRecord
		if err := json.Unmarshal([]byte(body), &rec); err != nil {
			return nil, fmt.Errorf("audit record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Prune deletes records older than before and returns how many went.
func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_records WHERE at_ns < ?`, before.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
