package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/servonhq/servon/internal/logstore"
)

// DB implements logstore.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// DSN is a filesystem path to the SQLite database file. Use ":memory:" for in-memory.

type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	if p == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		d.SetMaxOpenConns(1)
	}
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS log_sessions(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			service_id TEXT NOT NULL,
			started_at TIMESTAMP NOT NULL,
			stopped_at TIMESTAMP NULL,
			exit_code INTEGER NULL,
			exit_reason TEXT NULL,
			logs_count INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_log_sessions_service ON log_sessions(service_id);`,
		`CREATE INDEX IF NOT EXISTS idx_log_sessions_started ON log_sessions(started_at);`,
		`CREATE TABLE IF NOT EXISTS log_entries(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id INTEGER NOT NULL,
			service_id TEXT NOT NULL,
			timestamp TIMESTAMP NOT NULL,
			level TEXT NOT NULL,
			message TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_log_entries_session ON log_entries(session_id);`,
		`CREATE INDEX IF NOT EXISTS idx_log_entries_service ON log_entries(service_id);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) CreateSession(ctx context.Context, serviceID string) (logstore.Session, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO log_sessions(service_id, started_at, logs_count)
		VALUES(?, ?, 0);`, serviceID, now)
	if err != nil {
		return logstore.Session{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return logstore.Session{}, err
	}
	return logstore.Session{ID: id, ServiceID: serviceID, StartedAt: now}, nil
}

func (s *DB) EndSession(ctx context.Context, sessionID int64, exitCode *int, reason logstore.ExitReason) (bool, error) {
	var code sql.NullInt64
	if exitCode != nil {
		code = sql.NullInt64{Int64: int64(*exitCode), Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE log_sessions
		SET stopped_at=?, exit_code=?, exit_reason=?
		WHERE id=? AND stopped_at IS NULL;`,
		time.Now().UTC(), code, string(reason), sessionID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *DB) WriteLogs(ctx context.Context, sessionID int64, serviceID string, lines []logstore.Line) error {
	if len(lines) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	now := time.Now().UTC()
	for _, ln := range lines {
		msg := logstore.Truncate(ln.Message)
		lv := ln.Level
		if lv == "" {
			lv = logstore.ParseLevel(msg)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO log_entries(session_id, service_id, timestamp, level, message)
			VALUES(?, ?, ?, ?, ?);`,
			sessionID, serviceID, now, string(lv), msg); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE log_sessions SET logs_count = logs_count + ? WHERE id=?;`,
		len(lines), sessionID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *DB) LogCount(ctx context.Context, sessionID int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT logs_count FROM log_sessions WHERE id=?;`, sessionID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *DB) Logs(ctx context.Context, sessionID int64, f logstore.Filter) ([]logstore.Entry, error) {
	q := `SELECT id, session_id, service_id, timestamp, level, message
		FROM log_entries WHERE session_id=?`
	args := []any{sessionID}
	q, args = appendFilter(q, args, f)
	q += ` ORDER BY id ASC LIMIT ? OFFSET ?;`
	args = append(args, limitOr(f.Limit), offsetOr(f.Offset))
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanEntries(rows)
}

func (s *DB) ServiceLogs(ctx context.Context, serviceID string, f logstore.Filter) ([]logstore.Entry, error) {
	q := `SELECT id, session_id, service_id, timestamp, level, message
		FROM log_entries WHERE service_id=?`
	args := []any{serviceID}
	if f.SessionID > 0 {
		q += ` AND session_id=?`
		args = append(args, f.SessionID)
	}
	q, args = appendFilter(q, args, f)
	q += ` ORDER BY id DESC LIMIT ? OFFSET ?;`
	args = append(args, limitOr(f.Limit), offsetOr(f.Offset))
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanEntries(rows)
}

func (s *DB) Stats(ctx context.Context, serviceID string) (logstore.Stats, error) {
	st := logstore.Stats{LogsByLevel: make(map[logstore.Level]int64)}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN stopped_at IS NULL THEN 1 ELSE 0 END), 0)
		FROM log_sessions WHERE service_id=?;`, serviceID).
		Scan(&st.TotalSessions, &st.ActiveSessions)
	if err != nil {
		return logstore.Stats{}, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT level, COUNT(*) FROM log_entries WHERE service_id=? GROUP BY level;`, serviceID)
	if err != nil {
		return logstore.Stats{}, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var lv string
		var n int64
		if err := rows.Scan(&lv, &n); err != nil {
			return logstore.Stats{}, err
		}
		st.LogsByLevel[logstore.Level(lv)] = n
		st.TotalLogs += n
	}
	return st, rows.Err()
}

func (s *DB) DeleteSession(ctx context.Context, sessionID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM log_entries WHERE session_id=?;`, sessionID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM log_sessions WHERE id=?;`, sessionID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *DB) DeleteServiceLogs(ctx context.Context, serviceID string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()
	res, err := tx.ExecContext(ctx, `DELETE FROM log_entries WHERE service_id=?;`, serviceID)
	if err != nil {
		return 0, err
	}
	entries, _ := res.RowsAffected()
	res, err = tx.ExecContext(ctx, `DELETE FROM log_sessions WHERE service_id=?;`, serviceID)
	if err != nil {
		return 0, err
	}
	sessions, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return entries + sessions, nil
}

func (s *DB) DeleteOldLogs(ctx context.Context, daysOld int) (int64, error) {
	if daysOld <= 0 {
		daysOld = 30
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -daysOld)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()
	res, err := tx.ExecContext(ctx, `
		DELETE FROM log_entries WHERE session_id IN
			(SELECT id FROM log_sessions WHERE started_at < ?);`, cutoff)
	if err != nil {
		return 0, err
	}
	entries, _ := res.RowsAffected()
	res, err = tx.ExecContext(ctx, `DELETE FROM log_sessions WHERE started_at < ?;`, cutoff)
	if err != nil {
		return 0, err
	}
	sessions, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return entries + sessions, nil
}

// Session returns one session by id; ok is false when unknown.
func (s *DB) Session(ctx context.Context, sessionID int64) (logstore.Session, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, service_id, started_at, stopped_at, exit_code, exit_reason, logs_count
		FROM log_sessions WHERE id=?;`, sessionID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return logstore.Session{}, false, nil
	}
	if err != nil {
		return logstore.Session{}, false, err
	}
	return sess, true, nil
}

// Sessions lists a service's sessions, most recent first.
func (s *DB) Sessions(ctx context.Context, serviceID string, limit int) ([]logstore.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, service_id, started_at, stopped_at, exit_code, exit_reason, logs_count
		FROM log_sessions WHERE service_id=?
		ORDER BY id DESC LIMIT ?;`, serviceID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]logstore.Session, 0)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func appendFilter(q string, args []any, f logstore.Filter) (string, []any) {
	if f.Level != "" {
		q += ` AND level=?`
		args = append(args, string(f.Level))
	}
	if f.Search != "" {
		q += ` AND message LIKE ? ESCAPE '\'`
		args = append(args, "%"+escapeLike(f.Search)+"%")
	}
	return q, args
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

func limitOr(v int) int {
	if v <= 0 {
		return logstore.DefaultQueryLimit
	}
	return v
}

func offsetOr(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (logstore.Session, error) {
	var sess logstore.Session
	var stopped sql.NullTime
	var code sql.NullInt64
	var reason sql.NullString
	if err := r.Scan(&sess.ID, &sess.ServiceID, &sess.StartedAt, &stopped, &code, &reason, &sess.LogsCount); err != nil {
		return logstore.Session{}, err
	}
	if stopped.Valid {
		t := stopped.Time
		sess.StoppedAt = &t
	}
	if code.Valid {
		c := int(code.Int64)
		sess.ExitCode = &c
	}
	if reason.Valid {
		sess.ExitReason = logstore.ExitReason(reason.String)
	}
	return sess, nil
}

func scanEntries(rows *sql.Rows) ([]logstore.Entry, error) {
	out := make([]logstore.Entry, 0)
	for rows.Next() {
		var e logstore.Entry
		var lv string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.ServiceID, &e.Timestamp, &lv, &e.Message); err != nil {
			return nil, err
		}
		e.Level = logstore.Level(lv)
		out = append(out, e)
	}
	return out, rows.Err()
}
