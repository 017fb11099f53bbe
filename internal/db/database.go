package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/mitmirani09/syncboard/internal/protocol"
)

// Database is the SQLite Store.
type Database struct {
	db *sql.DB
}

var _ Store = (*Database)(nil)

func New(dbPath string) (*Database, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single writer connection avoids SQLITE_BUSY between commit transactions
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	slog.Info("database initialized", "component", "db", "path", dbPath)
	return &Database{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS shape_commits (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id TEXT NOT NULL,
		shape_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		kind TEXT NOT NULL,
		x REAL NOT NULL,
		y REAL NOT NULL,
		width REAL NOT NULL DEFAULT 0,
		height REAL NOT NULL DEFAULT 0,
		points TEXT,
		text TEXT NOT NULL DEFAULT '',
		fill_color TEXT,
		stroke_color TEXT NOT NULL,
		stroke_width REAL NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_shape_commits_room_shape ON shape_commits(room_id, shape_id);
	CREATE INDEX IF NOT EXISTS idx_shape_commits_room_position ON shape_commits(room_id, position);
	`

	_, err := db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Room operations

func (d *Database) CreateRoom(ctx context.Context, id, name string) error {
	_, err := d.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO rooms (id, name) VALUES (?, ?)",
		id, name,
	)
	if err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	return nil
}

func (d *Database) GetRoom(ctx context.Context, id string) (*Room, error) {
	row := d.db.QueryRowContext(ctx,
		"SELECT id, name, created_at, updated_at FROM rooms WHERE id = ?",
		id,
	)

	var room Room
	err := row.Scan(&room.ID, &room.Name, &room.CreatedAt, &room.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get room: %w", err)
	}
	return &room, nil
}

func (d *Database) ListRooms(ctx context.Context, limit, offset int) ([]Room, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT id, name, created_at, updated_at FROM rooms ORDER BY updated_at DESC, id ASC LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return scanRooms(rows)
}

// DeleteRoom removes the room and all of its commits.
func (d *Database) DeleteRoom(ctx context.Context, id string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM shape_commits WHERE room_id = ?", id); err != nil {
		return fmt.Errorf("delete room commits: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM rooms WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	return tx.Commit()
}

// Stroke operations

func (d *Database) GetSnapshot(ctx context.Context, roomID string) ([]protocol.Shape, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+shapeColumns+`
		FROM shape_commits
		WHERE id IN (
			SELECT MAX(id) FROM shape_commits WHERE room_id = ? GROUP BY shape_id
		)
		ORDER BY position ASC, id ASC
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	shapes, err := collectShapes(rows)
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return shapes, nil
}

// Commit appends a record for shape. A shape id committed before keeps
// its original position.
func (d *Database) Commit(ctx context.Context, roomID string, shape protocol.Shape) error {
	if err := validateCommit(roomID, shape); err != nil {
		return err
	}
	points, err := encodePoints(shape.Points)
	if err != nil {
		return fmt.Errorf("encode points: %w", err)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("commit shape: %w", err)
	}
	defer tx.Rollback()

	// Ensure room exists
	if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO rooms (id) VALUES (?)", roomID); err != nil {
		return fmt.Errorf("commit shape: ensure room: %w", err)
	}

	var position int64
	err = tx.QueryRowContext(ctx,
		"SELECT position FROM shape_commits WHERE room_id = ? AND shape_id = ? ORDER BY id ASC LIMIT 1",
		roomID, shape.ID,
	).Scan(&position)
	if errors.Is(err, sql.ErrNoRows) {
		err = tx.QueryRowContext(ctx,
			"SELECT COALESCE(MAX(position), 0) + 1 FROM shape_commits WHERE room_id = ?",
			roomID,
		).Scan(&position)
	}
	if err != nil {
		return fmt.Errorf("commit shape: position: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO shape_commits (room_id, position, `+shapeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		roomID,
		position,
		shape.ID,
		string(shape.Kind),
		shape.X,
		shape.Y,
		shape.Width,
		shape.Height,
		points,
		shape.Text,
		nullString(shape.FillColor),
		shape.StrokeColor,
		shape.StrokeWidth,
	)
	if err != nil {
		return fmt.Errorf("commit shape: insert: %w", err)
	}

	// Update room timestamp
	if _, err := tx.ExecContext(ctx,
		"UPDATE rooms SET updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		roomID,
	); err != nil {
		return fmt.Errorf("commit shape: touch room: %w", err)
	}

	return tx.Commit()
}

func (d *Database) Clear(ctx context.Context, roomID string) error {
	if _, err := d.db.ExecContext(ctx, "DELETE FROM shape_commits WHERE room_id = ?", roomID); err != nil {
		return fmt.Errorf("clear room: %w", err)
	}
	return nil
}

// Log maintenance

func (d *Database) ShapeCount(ctx context.Context, roomID string) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx,
		"SELECT COUNT(DISTINCT shape_id) FROM shape_commits WHERE room_id = ?",
		roomID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("shape count: %w", err)
	}
	return count, nil
}

func (d *Database) SupersededCount(ctx context.Context, roomID string) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx,
		"SELECT COUNT(*) - COUNT(DISTINCT shape_id) FROM shape_commits WHERE room_id = ?",
		roomID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("superseded count: %w", err)
	}
	return count, nil
}

func (d *Database) PruneSuperseded(ctx context.Context, roomID string) (int64, error) {
	res, err := d.db.ExecContext(ctx, `
		DELETE FROM shape_commits
		WHERE room_id = ? AND id NOT IN (
			SELECT MAX(id) FROM shape_commits WHERE room_id = ? GROUP BY shape_id
		)
	`, roomID, roomID)
	if err != nil {
		return 0, fmt.Errorf("prune superseded: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Stats

func (d *Database) GetStats(ctx context.Context) (Stats, error) {
	var stats Stats
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM rooms").Scan(&stats.RoomCount); err != nil {
		return stats, fmt.Errorf("count rooms: %w", err)
	}
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT room_id || char(31) || shape_id) FROM shape_commits
	`).Scan(&stats.CommitCount, &stats.ShapeCount)
	if err != nil {
		return stats, fmt.Errorf("count commits: %w", err)
	}
	return stats, nil
}
