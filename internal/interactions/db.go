// Package interactions records completed chat turns in SQLite.
package interactions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// DefaultLimit caps List when the caller asks for zero or fewer rows.
const DefaultLimit = 50

// Interaction is one completed turn.
type Interaction struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	Model     string    `json:"model"`
	Button    string    `json:"button,omitempty"`
	URL       string    `json:"url,omitempty"`
	Question  string    `json:"question"`
	Response  string    `json:"response"`
	Outcome   string    `json:"outcome"`
}

// DB provides interaction log operations.
type DB struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the log at path and initializes the schema.
func Open(ctx context.Context, path string) (*DB, error) {
	// WAL lets the stats endpoints read while a turn is being recorded.
	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	d := &DB{db: db, now: time.Now}
	if err := d.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return d, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS interactions (
		id         TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		model      TEXT NOT NULL,
		button     TEXT,
		url        TEXT,
		question   TEXT NOT NULL,
		response   TEXT NOT NULL,
		outcome    TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_interactions_session ON interactions(session_id, created_at);
	`
	_, err := d.db.ExecContext(ctx, schema)
	return err
}

// Record stores one interaction. Missing ids and timestamps are filled in;
// the stored row is returned.
func (d *DB) Record(ctx context.Context, in Interaction) (Interaction, error) {
	if in.SessionID == "" {
		return Interaction{}, errors.New("session id is required")
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = d.now()
	}

	query := `
		INSERT INTO interactions (id, session_id, created_at, model, button, url, question, response, outcome)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := d.db.ExecContext(ctx, query,
		in.ID, in.SessionID, in.CreatedAt.UnixMilli(), in.Model,
		nullable(in.Button), nullable(in.URL), in.Question, in.Response, in.Outcome)
	if err != nil {
		return Interaction{}, fmt.Errorf("failed to record interaction: %w", err)
	}
	return in, nil
}

// List returns interactions newest first. An empty sessionID lists all
// sessions.
func (d *DB) List(ctx context.Context, sessionID string, limit int) ([]Interaction, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	query := `
		SELECT id, session_id, created_at, model, button, url, question, response, outcome
		FROM interactions
		WHERE (? = '' OR session_id = ?)
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`
	rows, err := d.db.QueryContext(ctx, query, sessionID, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list interactions: %w", err)
	}
	defer rows.Close()

	out := []Interaction{}
	for rows.Next() {
		var (
			in          Interaction
			createdAt   int64
			button, url sql.NullString
		)
		if err := rows.Scan(&in.ID, &in.SessionID, &createdAt, &in.Model, &button, &url,
			&in.Question, &in.Response, &in.Outcome); err != nil {
			return nil, fmt.Errorf("failed to scan interaction: %w", err)
		}
		in.CreatedAt = time.UnixMilli(createdAt)
		in.Button = button.String
		in.URL = url.String
		out = append(out, in)
	}
	return out, rows.Err()
}

// Count returns the number of interactions of a session.
func (d *DB) Count(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM interactions WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
