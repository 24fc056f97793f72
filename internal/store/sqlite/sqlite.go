package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/servonhq/servon/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
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
		`CREATE TABLE IF NOT EXISTS workspaces(
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			root_path TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS services(
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL REFERENCES workspaces(id),
			name TEXT NOT NULL,
			repo_path TEXT NOT NULL,
			command TEXT NOT NULL,
			port INTEGER NOT NULL DEFAULT 0,
			env_vars TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_services_workspace ON services(workspace_id);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) CreateWorkspace(ctx context.Context, ws store.Workspace) error {
	created := ws.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspaces(id, name, root_path, created_at)
		VALUES(?, ?, ?, ?);`,
		ws.ID, ws.Name, ws.RootPath, created.UTC())
	return err
}

func (s *DB) Workspace(ctx context.Context, id string) (store.Workspace, bool, error) {
	var ws store.Workspace
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, root_path, created_at FROM workspaces WHERE id=?;`, id).
		Scan(&ws.ID, &ws.Name, &ws.RootPath, &ws.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Workspace{}, false, nil
	}
	if err != nil {
		return store.Workspace{}, false, err
	}
	return ws, true, nil
}

func (s *DB) Workspaces(ctx context.Context) ([]store.Workspace, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, root_path, created_at FROM workspaces ORDER BY created_at ASC, id ASC;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]store.Workspace, 0)
	for rows.Next() {
		var ws store.Workspace
		if err := rows.Scan(&ws.ID, &ws.Name, &ws.RootPath, &ws.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ws)
	}
	return out, rows.Err()
}

func (s *DB) DeleteWorkspace(ctx context.Context, id string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM services WHERE workspace_id=?;`, id); err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM workspaces WHERE id=?;`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *DB) CreateService(ctx context.Context, cfg store.ServiceConfig) error {
	env, err := marshalEnv(cfg.EnvVars)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	created := cfg.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO services(id, workspace_id, name, repo_path, command, port, env_vars, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		cfg.ID, cfg.WorkspaceID, cfg.Name, cfg.RepoPath, cfg.Command, cfg.Port, env, created.UTC(), now)
	return err
}

func (s *DB) Service(ctx context.Context, id string) (store.ServiceConfig, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, name, repo_path, command, port, env_vars, created_at, updated_at
		FROM services WHERE id=?;`, id)
	cfg, err := scanService(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ServiceConfig{}, false, nil
	}
	if err != nil {
		return store.ServiceConfig{}, false, err
	}
	return cfg, true, nil
}

func (s *DB) Services(ctx context.Context, workspaceID string) ([]store.ServiceConfig, error) {
	q := `SELECT id, workspace_id, name, repo_path, command, port, env_vars, created_at, updated_at
		FROM services`
	args := []any{}
	if workspaceID != "" {
		q += ` WHERE workspace_id=?`
		args = append(args, workspaceID)
	}
	q += ` ORDER BY created_at ASC, id ASC;`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]store.ServiceConfig, 0)
	for rows.Next() {
		cfg, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

func (s *DB) UpdateService(ctx context.Context, id string, patch store.ServicePatch) (bool, error) {
	if patch.Empty() {
		return false, nil
	}
	sets := make([]string, 0, 6)
	args := make([]any, 0, 7)
	if patch.Name != nil {
		sets = append(sets, "name=?")
		args = append(args, *patch.Name)
	}
	if patch.RepoPath != nil {
		sets = append(sets, "repo_path=?")
		args = append(args, *patch.RepoPath)
	}
	if patch.Command != nil {
		sets = append(sets, "command=?")
		args = append(args, *patch.Command)
	}
	if patch.Port != nil {
		sets = append(sets, "port=?")
		args = append(args, *patch.Port)
	}
	if patch.EnvVars != nil {
		env, err := marshalEnv(*patch.EnvVars)
		if err != nil {
			return false, err
		}
		sets = append(sets, "env_vars=?")
		args = append(args, env)
	}
	sets = append(sets, "updated_at=?")
	args = append(args, time.Now().UTC(), id)
	res, err := s.db.ExecContext(ctx,
		`UPDATE services SET `+strings.Join(sets, ", ")+` WHERE id=?;`, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *DB) DeleteService(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM services WHERE id=?;`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func marshalEnv(env map[string]string) (string, error) {
	if len(env) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanService(r rowScanner) (store.ServiceConfig, error) {
	var cfg store.ServiceConfig
	var env string
	if err := r.Scan(&cfg.ID, &cfg.WorkspaceID, &cfg.Name, &cfg.RepoPath, &cfg.Command,
		&cfg.Port, &env, &cfg.CreatedAt, &cfg.UpdatedAt); err != nil {
		return store.ServiceConfig{}, err
	}
	if env != "" && env != "{}" {
		if err := json.Unmarshal([]byte(env), &cfg.EnvVars); err != nil {
			return store.ServiceConfig{}, err
		}
	}
	return cfg, nil
}
