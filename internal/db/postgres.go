package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/mitmirani09/syncboard/internal/protocol"
)

// PostgresStore implements Store on Postgres or CockroachDB.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

type PostgresConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnectTimeout:  5 * time.Second,
	}
}

// NewPostgresStore connects using dsn and creates the schema if needed.
func NewPostgresStore(dsn string, config PostgresConfig) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("dsn is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS rooms (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS shape_commits (
			id BIGSERIAL PRIMARY KEY,
			room_id TEXT NOT NULL,
			shape_id TEXT NOT NULL,
			position BIGINT NOT NULL,
			kind TEXT NOT NULL,
			x DOUBLE PRECISION NOT NULL,
			y DOUBLE PRECISION NOT NULL,
			width DOUBLE PRECISION NOT NULL DEFAULT 0,
			height DOUBLE PRECISION NOT NULL DEFAULT 0,
			points TEXT,
			text TEXT NOT NULL DEFAULT '',
			fill_color TEXT,
			stroke_color TEXT NOT NULL,
			stroke_width DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE INDEX IF NOT EXISTS idx_shape_commits_room_shape ON shape_commits(room_id, shape_id);
		CREATE INDEX IF NOT EXISTS idx_shape_commits_room_position ON shape_commits(room_id, position);
	`)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CreateRoom is idempotent; an existing room keeps its name.
func (s *PostgresStore) CreateRoom(ctx context.Context, id, name string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO rooms (id, name) VALUES ($1, $2)`, id, name)
	if err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("create room: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRoom(ctx context.Context, id string) (*Room, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, created_at, updated_at FROM rooms WHERE id = $1
	`, id)

	var room Room
	if err := row.Scan(&room.ID, &room.Name, &room.CreatedAt, &room.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get room: %w", err)
	}
	return &room, nil
}

func (s *PostgresStore) ListRooms(ctx context.Context, limit, offset int) ([]Room, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, created_at, updated_at FROM rooms
		ORDER BY updated_at DESC, id ASC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return scanRooms(rows)
}

func (s *PostgresStore) DeleteRoom(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM shape_commits WHERE room_id = $1`, id); err != nil {
		return fmt.Errorf("delete room commits: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM rooms WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	return tx.Commit()
}

func (s *PostgresStore) GetSnapshot(ctx context.Context, roomID string) ([]protocol.Shape, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+shapeColumns+`
		FROM shape_commits
		WHERE id IN (
			SELECT MAX(id) FROM shape_commits WHERE room_id = $1 GROUP BY shape_id
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

func (s *PostgresStore) Commit(ctx context.Context, roomID string, shape protocol.Shape) error {
	if err := validateCommit(roomID, shape); err != nil {
		return err
	}
	points, err := encodePoints(shape.Points)
	if err != nil {
		return fmt.Errorf("encode points: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("commit shape: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO rooms (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, roomID,
	); err != nil {
		return fmt.Errorf("commit shape: ensure room: %w", err)
	}

	var position int64
	err = tx.QueryRowContext(ctx, `
		SELECT position FROM shape_commits
		WHERE room_id = $1 AND shape_id = $2
		ORDER BY id ASC LIMIT 1
	`, roomID, shape.ID).Scan(&position)
	if errors.Is(err, sql.ErrNoRows) {
		err = tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(position), 0) + 1 FROM shape_commits WHERE room_id = $1`,
			roomID,
		).Scan(&position)
	}
	if err != nil {
		return fmt.Errorf("commit shape: position: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO shape_commits (room_id, position, `+shapeColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
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

	if _, err := tx.ExecContext(ctx,
		`UPDATE rooms SET updated_at = now() WHERE id = $1`, roomID,
	); err != nil {
		return fmt.Errorf("commit shape: touch room: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit shape: %w", err)
	}
	return nil
}

func (s *PostgresStore) Clear(ctx context.Context, roomID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM shape_commits WHERE room_id = $1`, roomID); err != nil {
		return fmt.Errorf("clear room: %w", err)
	}
	return nil
}

func (s *PostgresStore) ShapeCount(ctx context.Context, roomID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT shape_id) FROM shape_commits WHERE room_id = $1`, roomID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("shape count: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) SupersededCount(ctx context.Context, roomID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) - COUNT(DISTINCT shape_id) FROM shape_commits WHERE room_id = $1`, roomID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("superseded count: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) PruneSuperseded(ctx context.Context, roomID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM shape_commits
		WHERE room_id = $1 AND id NOT IN (
			SELECT MAX(id) FROM shape_commits WHERE room_id = $1 GROUP BY shape_id
		)
	`, roomID)
	if err != nil {
		return 0, fmt.Errorf("prune superseded: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *PostgresStore) GetStats(ctx context.Context) (Stats, error) {
	var stats Stats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rooms`).Scan(&stats.RoomCount); err != nil {
		return stats, fmt.Errorf("count rooms: %w", err)
	}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT (room_id, shape_id)) FROM shape_commits
	`).Scan(&stats.CommitCount, &stats.ShapeCount)
	if err != nil {
		return stats, fmt.Errorf("count commits: %w", err)
	}
	return stats, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "duplicate")
}
