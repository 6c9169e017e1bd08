package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/RichardoC/visionpad/internal/models"
	"github.com/RichardoC/visionpad/internal/session"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    current_image TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    touched_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    timestamp TEXT NOT NULL,
    FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS messages_session_idx ON messages(session_id, id);
CREATE INDEX IF NOT EXISTS sessions_touched_idx ON sessions(touched_at);`

// touchSession creates the session row if needed and bumps its activity time.
const touchSession = `
	INSERT INTO sessions (id, created_at, touched_at)
	VALUES (?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET touched_at = excluded.touched_at`

var _ session.Store = (*Database)(nil)

// Database is a SQLite-backed session.Store.
type Database struct {
	db  *sql.DB
	now func() time.Time
}

func New(dbPath string) (*Database, error) {
	dsn := dbPath
	if !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000&_foreign_keys=on"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Database{db: db, now: time.Now}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) touch(ctx context.Context, ex execer, id string) error {
	now := d.now().Unix()
	if _, err := ex.ExecContext(ctx, touchSession, id, now, now); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (d *Database) GetOrCreate(ctx context.Context, id string) (*models.SessionState, error) {
	if err := d.touch(ctx, d.db, id); err != nil {
		return nil, err
	}

	state := &models.SessionState{ID: id, Messages: make([]models.ChatMessage, 0)}
	err := d.db.QueryRowContext(ctx, `SELECT current_image FROM sessions WHERE id = ?`, id).
		Scan(&state.CurrentImage)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT role, content, timestamp
		FROM messages
		WHERE session_id = ?
		ORDER BY id ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var msg models.ChatMessage
		if err := rows.Scan(&msg.Role, &msg.Content, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		state.Messages = append(state.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}

	return state, nil
}

func (d *Database) AppendMessage(ctx context.Context, id string, msg models.ChatMessage) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := d.touch(ctx, tx, id); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (session_id, role, content, timestamp)
		VALUES (?, ?, ?, ?)`, id, msg.Role, msg.Content, msg.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}

	return tx.Commit()
}

func (d *Database) SetCurrentImage(ctx context.Context, id string, path string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := d.touch(ctx, tx, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET current_image = ? WHERE id = ?`, path, id); err != nil {
		return fmt.Errorf("failed to set current image: %w", err)
	}

	return tx.Commit()
}

func (d *Database) Clear(ctx context.Context, id string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := d.touch(ctx, tx, id); err != nil {
		return err
	}

	// Delete messages
	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE session_id = ?", id); err != nil {
		return err
	}

	// Forget the image reference; the file itself stays on disk
	if _, err := tx.ExecContext(ctx, "UPDATE sessions SET current_image = '' WHERE id = ?", id); err != nil {
		return err
	}

	return tx.Commit()
}

func (d *Database) PruneExpired(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := d.now().Add(-ttl).Unix()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM messages
		WHERE session_id IN (SELECT id FROM sessions WHERE touched_at < ?)`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune messages: %w", err)
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE touched_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune sessions: %w", err)
	}
	pruned, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	return int(pruned), tx.Commit()
}
