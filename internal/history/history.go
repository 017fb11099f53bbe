// Package history keeps an undo/redo stack of full board snapshots.
package history

import "github.com/mitmirani09/syncboard/internal/protocol"

// Target is the live shape sequence the history snapshots and restores.
type Target interface {
	Shapes() []protocol.Shape
	ReplaceAll(shapes []protocol.Shape)
}

// Manager holds an ordered list of snapshots and a cursor. After every
// local operation the snapshot at the cursor equals the live sequence.
// Like the canvas it restores, a Manager is not safe for concurrent use.
type Manager struct {
	target    Target
	snapshots [][]protocol.Shape
	cursor    int
}

// New starts with a single empty snapshot at cursor 0.
func New(target Target) *Manager {
	return &Manager{
		target:    target,
		snapshots: [][]protocol.Shape{{}},
	}
}

// Record discards any redo future and appends a copy of the live sequence.
func (m *Manager) Record() {
	m.snapshots = append(m.snapshots[:m.cursor+1], m.target.Shapes())
	m.cursor = len(m.snapshots) - 1
}

// Undo steps back one snapshot. It reports false at the oldest snapshot.
func (m *Manager) Undo() bool {
	if !m.CanUndo() {
		return false
	}
	m.cursor--
	m.restore()
	return true
}

// Redo steps forward one snapshot. It reports false at the newest snapshot.
func (m *Manager) Redo() bool {
	if !m.CanRedo() {
		return false
	}
	m.cursor++
	m.restore()
	return true
}

// Clear drops all snapshots, leaving a single empty one.
func (m *Manager) Clear() {
	m.snapshots = [][]protocol.Shape{{}}
	m.cursor = 0
}

// Reset drops all snapshots, leaving the current live sequence as the
// only one. Used after a snapshot load so undo cannot erase loaded shapes.
func (m *Manager) Reset() {
	m.snapshots = [][]protocol.Shape{m.target.Shapes()}
	m.cursor = 0
}

func (m *Manager) CanUndo() bool { return m.cursor > 0 }
func (m *Manager) CanRedo() bool { return m.cursor < len(m.snapshots)-1 }
func (m *Manager) Len() int      { return len(m.snapshots) }
func (m *Manager) Cursor() int   { return m.cursor }

func (m *Manager) restore() {
	m.target.ReplaceAll(m.snapshots[m.cursor])
}
