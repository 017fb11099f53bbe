// Package metrics exposes the server's Prometheus collectors.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ActiveSessions prometheus.Gauge
	ActiveRooms    prometheus.Gauge
	RelayedEvents  *prometheus.CounterVec
	EvictedMembers prometheus.Counter
	DroppedFrames  *prometheus.CounterVec
	Commits        prometheus.Counter
	CommitFailures prometheus.Counter
	PrunedRecords  prometheus.Counter
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// New returns the process-wide collectors, registering them on first use.
func New() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "syncboard_active_sessions",
				Help: "Current number of joined WebSocket sessions",
			}),
			ActiveRooms: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "syncboard_active_rooms",
				Help: "Current number of rooms with at least one session",
			}),
			RelayedEvents: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "syncboard_relayed_events_total",
				Help: "Total number of lifecycle events relayed, by type",
			}, []string{"type"}),
			EvictedMembers: promauto.NewCounter(prometheus.CounterOpts{
				Name: "syncboard_evicted_members_total",
				Help: "Total number of sessions evicted for a full outbound queue",
			}),
			DroppedFrames: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "syncboard_dropped_frames_total",
				Help: "Total number of inbound frames dropped, by reason",
			}, []string{"reason"}),
			Commits: promauto.NewCounter(prometheus.CounterOpts{
				Name: "syncboard_commits_total",
				Help: "Total number of shape commits stored",
			}),
			CommitFailures: promauto.NewCounter(prometheus.CounterOpts{
				Name: "syncboard_commit_failures_total",
				Help: "Total number of shape commits that failed",
			}),
			PrunedRecords: promauto.NewCounter(prometheus.CounterOpts{
				Name: "syncboard_pruned_records_total",
				Help: "Total number of superseded commit records removed by compaction",
			}),
		}
	})
	return metricsInstance
}

func (m *Metrics) SessionJoined() {
	if m == nil || m.ActiveSessions == nil {
		return
	}
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionLeft() {
	if m == nil || m.ActiveSessions == nil {
		return
	}
	m.ActiveSessions.Dec()
}

func (m *Metrics) SetActiveRooms(n int) {
	if m == nil || m.ActiveRooms == nil {
		return
	}
	m.ActiveRooms.Set(float64(n))
}

func (m *Metrics) RecordRelay(eventType string) {
	if m == nil || m.RelayedEvents == nil {
		return
	}
	m.RelayedEvents.WithLabelValues(eventType).Inc()
}

func (m *Metrics) RecordEviction() {
	if m == nil || m.EvictedMembers == nil {
		return
	}
	m.EvictedMembers.Inc()
}

// RecordDrop counts an inbound frame that was not relayed. reason is one of
// "rate_limited", "malformed" or "not_joined".
func (m *Metrics) RecordDrop(reason string) {
	if m == nil || m.DroppedFrames == nil {
		return
	}
	m.DroppedFrames.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordCommit(err error) {
	if m == nil {
		return
	}
	if err != nil {
		if m.CommitFailures != nil {
			m.CommitFailures.Inc()
		}
		return
	}
	if m.Commits != nil {
		m.Commits.Inc()
	}
}

func (m *Metrics) RecordPruned(n int64) {
	if m == nil || m.PrunedRecords == nil || n <= 0 {
		return
	}
	m.PrunedRecords.Add(float64(n))
}
