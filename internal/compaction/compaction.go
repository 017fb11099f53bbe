// Package compaction periodically prunes superseded shape commits so each
// room's log holds one record per shape.
package compaction

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mitmirani09/syncboard/internal/db"
	"github.com/mitmirani09/syncboard/internal/metrics"
)

type Config struct {
	Interval time.Duration

	// Minimum superseded records before a room is pruned
	Threshold int

	// Rooms examined per listing page
	PageSize int
}

func DefaultConfig() Config {
	return Config{
		Interval:  5 * time.Minute,
		Threshold: 100,
		PageSize:  1000,
	}
}

type Service struct {
	store   db.Store
	config  Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	stop    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

func New(store db.Store, config Config, logger *slog.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if config.PageSize <= 0 {
		config.PageSize = DefaultConfig().PageSize
	}
	return &Service{
		store:   store,
		config:  config,
		logger:  logger.With("component", "compaction"),
		metrics: m,
		stop:    make(chan struct{}),
	}
}

func (s *Service) Start() {
	s.wg.Add(1)
	go s.run()
	s.logger.Info("compaction service started", "interval", s.config.Interval, "threshold", s.config.Threshold)
}

func (s *Service) Stop() {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
	s.logger.Info("compaction service stopped")
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.stop
		cancel()
	}()

	s.CompactAll(ctx)

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.CompactAll(ctx)
		}
	}
}

// CompactAll prunes every room at or above the threshold and returns the
// number of rooms compacted.
func (s *Service) CompactAll(ctx context.Context) int {
	compacted := 0
	for offset := 0; ; offset += s.config.PageSize {
		rooms, err := s.store.ListRooms(ctx, s.config.PageSize, offset)
		if err != nil {
			s.logger.Error("failed to list rooms", "error", err)
			break
		}

		for _, room := range rooms {
			if !s.shouldCompact(ctx, room.ID) {
				continue
			}
			if _, err := s.CompactNow(ctx, room.ID); err != nil {
				s.logger.Error("compaction failed", "room", room.ID, "error", err)
				continue
			}
			compacted++
		}

		if len(rooms) < s.config.PageSize || ctx.Err() != nil {
			break
		}
	}

	if compacted > 0 {
		s.logger.Info("compacted rooms", "count", compacted)
	}
	return compacted
}

func (s *Service) shouldCompact(ctx context.Context, roomID string) bool {
	count, err := s.store.SupersededCount(ctx, roomID)
	if err != nil {
		return false
	}
	return count > 0 && count >= s.config.Threshold
}

// CompactNow prunes roomID regardless of the threshold.
func (s *Service) CompactNow(ctx context.Context, roomID string) (int64, error) {
	n, err := s.store.PruneSuperseded(ctx, roomID)
	if err != nil {
		return 0, fmt.Errorf("compact room %s: %w", roomID, err)
	}
	s.metrics.RecordPruned(n)
	if n > 0 {
		s.logger.Info("compacted room", "room", roomID, "pruned", n)
	}
	return n, nil
}
