package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"whatsbot/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.ContextStore on a local SQLite database so
// conversation windows survive restarts.
type SQLiteStore struct {
	db        *sql.DB
	logger    *slog.Logger
	window    int
	pinSystem bool
}

func NewSQLiteStore(dbPath string, window int, pinSystem bool, logger *slog.Logger) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite store: empty db path: %w", ErrInvalidConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection serializes writers for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if window <= 0 {
		window = DefaultWindow
	}
	store := &SQLiteStore{db: db, logger: logger, window: window, pinSystem: pinSystem}

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

type storedTurn struct {
	id   int64
	turn domain.Turn
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]domain.Turn, error) {
	rows, err := s.queryTurns(ctx, s.db, key)
	if err != nil {
		return nil, err
	}
	turns := make([]domain.Turn, 0, len(rows))
	for _, r := range rows {
		turns = append(turns, r.turn)
	}
	return turns, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQLiteStore) queryTurns(ctx context.Context, q querier, key string) ([]storedTurn, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, role, content FROM turns WHERE session_key = ? ORDER BY id ASC`, key,
	)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var out []storedTurn
	for rows.Next() {
		var st storedTurn
		var role string
		if err := rows.Scan(&st.id, &role, &st.turn.Content); err != nil {
			return nil, err
		}
		st.turn.Role = domain.Role(role)
		out = append(out, st)
	}
	return out, rows.Err()
}

// Append inserts turns and deletes the rows that fall out of the window in
// one transaction.
func (s *SQLiteStore) Append(ctx context.Context, key string, turns ...domain.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	for _, t := range turns {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO turns (session_key, role, content, created_at) VALUES (?, ?, ?, ?)`,
			key, string(t.Role), t.Content, now,
		); err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
	}

	stored, err := s.queryTurns(ctx, tx, key)
	if err != nil {
		return err
	}
	all := make([]domain.Turn, len(stored))
	for i, st := range stored {
		all[i] = st.turn
	}
	pinned, start := trimBounds(all, s.window, s.pinSystem)
	if start > 0 {
		keepFrom := stored[start].id
		if pinned {
			_, err = tx.ExecContext(ctx,
				`DELETE FROM turns WHERE session_key = ? AND id < ? AND id <> ?`, key, keepFrom, stored[0].id)
		} else {
			_, err = tx.ExecContext(ctx,
				`DELETE FROM turns WHERE session_key = ? AND id < ?`, key, keepFrom)
		}
		if err != nil {
			return fmt.Errorf("trim turns: %w", err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) Reset(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE session_key = ?`, key); err != nil {
		return fmt.Errorf("reset turns: %w", err)
	}
	s.logger.Debug("sqlite context reset", "session", key)
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
