package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitmirani09/syncboard/internal/protocol"
)

var (
	ErrNotFound      = errors.New("db: not found")
	ErrInvalidRecord = errors.New("db: invalid record")
)

type Room struct {
	ID        string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Stats struct {
	RoomCount   int
	ShapeCount  int
	CommitCount int
}

// StrokeStore is the durable per-room shape log. Each commit appends a
// record; the snapshot holds the latest record of every shape id, placed
// where that id was first committed.
type StrokeStore interface {
	GetSnapshot(ctx context.Context, roomID string) ([]protocol.Shape, error)
	Commit(ctx context.Context, roomID string, shape protocol.Shape) error
	Clear(ctx context.Context, roomID string) error
}

// Store adds room administration and log maintenance to StrokeStore.
type Store interface {
	StrokeStore

	CreateRoom(ctx context.Context, id, name string) error
	GetRoom(ctx context.Context, id string) (*Room, error)
	ListRooms(ctx context.Context, limit, offset int) ([]Room, error)
	DeleteRoom(ctx context.Context, id string) error

	// ShapeCount is the number of distinct shapes in the room's snapshot.
	ShapeCount(ctx context.Context, roomID string) (int, error)

	// SupersededCount is the number of commit records hidden by a later
	// commit of the same shape id.
	SupersededCount(ctx context.Context, roomID string) (int, error)

	// PruneSuperseded deletes superseded records and returns how many
	// were removed. The snapshot is unchanged.
	PruneSuperseded(ctx context.Context, roomID string) (int64, error)

	GetStats(ctx context.Context) (Stats, error)
	Close() error
}

func validateCommit(roomID string, shape protocol.Shape) error {
	if strings.TrimSpace(roomID) == "" {
		return fmt.Errorf("%w: missing room id", ErrInvalidRecord)
	}
	if err := shape.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return nil
}

// Column order shared by the SQL stores.
const shapeColumns = `shape_id, kind, x, y, width, height, points, text, fill_color, stroke_color, stroke_width`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanShape(row rowScanner) (protocol.Shape, error) {
	var (
		s         protocol.Shape
		points    sql.NullString
		fillColor sql.NullString
	)
	if err := row.Scan(
		&s.ID,
		&s.Kind,
		&s.X,
		&s.Y,
		&s.Width,
		&s.Height,
		&points,
		&s.Text,
		&fillColor,
		&s.StrokeColor,
		&s.StrokeWidth,
	); err != nil {
		return s, err
	}
	s.FillColor = fillColor.String
	if points.Valid && points.String != "" {
		if err := json.Unmarshal([]byte(points.String), &s.Points); err != nil {
			return s, fmt.Errorf("decode points of %s: %w", s.ID, err)
		}
	}
	return s, nil
}

func collectShapes(rows *sql.Rows) ([]protocol.Shape, error) {
	defer rows.Close()

	shapes := []protocol.Shape{}
	for rows.Next() {
		s, err := scanShape(rows)
		if err != nil {
			return nil, err
		}
		shapes = append(shapes, s)
	}
	return shapes, rows.Err()
}

func encodePoints(points []float64) (sql.NullString, error) {
	if len(points) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(points)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullString(value string) sql.NullString {
	if strings.TrimSpace(value) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func scanRooms(rows *sql.Rows) ([]Room, error) {
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		var room Room
		if err := rows.Scan(&room.ID, &room.Name, &room.CreatedAt, &room.UpdatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}
