// Package client is the collaborative side of a board: it turns pointer
// gestures into lifecycle events and commits, and applies remote events
// to the local canvas.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mitmirani09/syncboard/internal/canvas"
	"github.com/mitmirani09/syncboard/internal/history"
	"github.com/mitmirani09/syncboard/internal/protocol"
)

const requestTimeout = 10 * time.Second

// Board owns one room's canvas and history. Every public method and every
// remote event runs as a task on the goroutine executing Run, so neither
// the canvas nor the history is ever touched concurrently.
type Board struct {
	roomID    string
	canvas    *canvas.State
	history   *history.Manager
	transport Transport
	store     Persistence
	logger    *slog.Logger

	tasks  chan func()
	done   chan struct{}
	loaded chan struct{}

	// Store requests, run one at a time in the order they were queued
	queueMu sync.Mutex
	queue   []storeRequest
	queued  chan struct{}
	wg      sync.WaitGroup

	// Loop-owned gesture state
	ctx         context.Context
	active      string
	pendingText *canvas.Point
}

type storeRequest struct {
	op string
	fn func(ctx context.Context) error
}

// NewBoard builds a board for roomID. transport and store may be nil for
// an offline board.
func NewBoard(roomID string, transport Transport, store Persistence, logger *slog.Logger) *Board {
	if logger == nil {
		logger = slog.Default()
	}
	state := canvas.New()
	return &Board{
		roomID:    roomID,
		canvas:    state,
		history:   history.New(state),
		transport: transport,
		store:     store,
		logger:    logger.With("component", "board", "room", roomID),
		tasks:     make(chan func()),
		done:      make(chan struct{}),
		loaded:    make(chan struct{}),
		queued:    make(chan struct{}, 1),
		ctx:       context.Background(),
	}
}

func (b *Board) RoomID() string { return b.roomID }

// Run loads the room snapshot and then serves tasks and remote events
// until ctx is cancelled.
func (b *Board) Run(ctx context.Context) error {
	defer close(b.done)
	b.ctx = ctx

	if b.store != nil {
		persisted := make(chan struct{})
		go func() {
			defer close(persisted)
			b.persist(ctx)
		}()
		defer func() {
			<-persisted
			b.dropPending()
		}()
	}

	b.loadSnapshot()

	var events <-chan protocol.Event
	if b.transport != nil {
		events = b.transport.Events()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case task := <-b.tasks:
			task()

		case ev, ok := <-events:
			if !ok {
				b.logger.Warn("remote events ended; continuing offline")
				events = nil
				continue
			}
			b.applyRemote(ev)
		}
	}
}

// Done is closed when Run returns.
func (b *Board) Done() <-chan struct{} { return b.done }

// Loaded is closed once the initial snapshot has been applied or has
// failed to load.
func (b *Board) Loaded() <-chan struct{} { return b.loaded }

// Wait blocks until every queued commit and clear request finished.
func (b *Board) Wait() { b.wg.Wait() }

// do runs fn on the loop and waits for it. It reports false when the
// board is no longer running.
func (b *Board) do(fn func()) bool {
	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		fn()
	}

	select {
	case b.tasks <- task:
	case <-b.done:
		return false
	}
	select {
	case <-finished:
		return true
	case <-b.done:
		return false
	}
}

// post queues fn on the loop without waiting for it.
func (b *Board) post(fn func()) {
	select {
	case b.tasks <- fn:
	case <-b.done:
	}
}

func (b *Board) loadSnapshot() {
	if b.store == nil {
		close(b.loaded)
		return
	}

	ctx := b.ctx
	go func() {
		reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		shapes, err := b.store.GetSnapshot(reqCtx, b.roomID)
		cancel()

		b.post(func() {
			defer close(b.loaded)
			if err != nil {
				b.logger.Warn("snapshot load failed", "error", persistenceError(err))
				return
			}
			if len(shapes) == 0 {
				return
			}
			b.canvas.ReplaceAll(shapes)
			b.history.Reset()
			b.pendingText = nil
			if _, ok := b.canvas.Shape(b.active); !ok {
				b.active = ""
			}
			b.logger.Info("snapshot loaded", "shapes", len(shapes))
		})
	}()
}

// Pointer input

func (b *Board) PointerDown(x, y float64) {
	b.do(func() { b.pointerDown(canvas.Point{X: x, Y: y}) })
}

func (b *Board) PointerMove(x, y float64) {
	b.do(func() { b.pointerMove(canvas.Point{X: x, Y: y}) })
}

// PointerUp commits the active shape and returns its id, or "" when no
// gesture was in progress.
func (b *Board) PointerUp() string {
	var id string
	b.do(func() { id = b.pointerUp() })
	return id
}

func (b *Board) pointerDown(p canvas.Point) {
	if b.active != "" {
		return
	}

	tool := b.canvas.Tool()
	if tool == canvas.ToolText {
		b.pendingText = &p
		return
	}
	kind, ok := tool.Kind()
	if !ok {
		return
	}

	id, err := b.canvas.BeginShape(kind, p)
	if err != nil {
		b.logger.Error("begin shape", "error", err)
		return
	}
	b.active = id

	b.emit(protocol.ShapeBegin{
		RoomID:  b.roomID,
		ShapeID: id,
		Kind:    kind,
		X:       p.X,
		Y:       p.Y,
		Style:   b.canvas.StyleFor(kind),
	})
}

func (b *Board) pointerMove(p canvas.Point) {
	if b.active == "" {
		return
	}

	delta, err := b.canvas.DeltaFor(b.active, p)
	if err != nil {
		b.logger.Debug("pointer move", "error", err)
		return
	}
	if err := b.canvas.UpdateShape(b.active, delta); err != nil {
		b.logger.Debug("pointer move", "error", err)
		return
	}

	b.emit(protocol.ShapeUpdate{RoomID: b.roomID, ShapeID: b.active, Delta: delta})
}

func (b *Board) pointerUp() string {
	if b.active == "" {
		return ""
	}
	id := b.active
	b.active = ""
	b.finish(id)
	return id
}

// finish moves a shape from Active to Committed.
func (b *Board) finish(id string) {
	shape, ok := b.canvas.Shape(id)
	if !ok {
		return
	}
	b.history.Record()
	b.commit(shape)
	b.emit(protocol.ShapeEnd{RoomID: b.roomID, ShapeID: id})
}

// ConfirmText places text at the pending position. It returns the new
// shape id, or "" when no shape was created.
func (b *Board) ConfirmText(text string) string {
	var id string
	b.do(func() {
		if b.pendingText == nil {
			return
		}
		origin := *b.pendingText
		b.pendingText = nil
		if text == "" {
			return
		}

		id = b.canvas.AddText(origin, text)
		shape, _ := b.canvas.Shape(id)
		b.emit(protocol.ShapeBegin{
			RoomID:  b.roomID,
			ShapeID: id,
			Kind:    protocol.KindText,
			X:       origin.X,
			Y:       origin.Y,
			Style:   shape.Style(),
			Text:    text,
		})
		b.finish(id)
	})
	return id
}

func (b *Board) CancelText() {
	b.do(func() { b.pendingText = nil })
}

// PendingText reports whether a text position is waiting for input.
func (b *Board) PendingText() bool {
	var pending bool
	b.do(func() { pending = b.pendingText != nil })
	return pending
}

// Board commands

// Undo restores the previous local snapshot. It is not broadcast.
func (b *Board) Undo() bool {
	var ok bool
	b.do(func() {
		if b.active != "" {
			return
		}
		ok = b.history.Undo()
	})
	return ok
}

// Redo reapplies the next local snapshot. It is not broadcast.
func (b *Board) Redo() bool {
	var ok bool
	b.do(func() {
		if b.active != "" {
			return
		}
		ok = b.history.Redo()
	})
	return ok
}

// Clear empties the board for everyone in the room and deletes its
// committed shapes.
func (b *Board) Clear() {
	b.do(func() {
		b.clearLocal()
		b.emit(protocol.BoardClear{RoomID: b.roomID})
		b.background("clear", func(ctx context.Context) error {
			return b.store.Clear(ctx, b.roomID)
		})
	})
}

func (b *Board) clearLocal() {
	b.canvas.Clear()
	b.history.Clear()
	b.active = ""
	b.pendingText = nil
}

func (b *Board) SetTool(tool canvas.Tool) {
	b.do(func() {
		b.canvas.SetTool(tool)
		if tool != canvas.ToolText {
			b.pendingText = nil
		}
	})
}

func (b *Board) SetStyle(style protocol.Style) {
	b.do(func() { b.canvas.SetStyle(style) })
}

// Read accessors

func (b *Board) Shapes() []protocol.Shape {
	var shapes []protocol.Shape
	b.do(func() { shapes = b.canvas.Shapes() })
	return shapes
}

func (b *Board) Tool() canvas.Tool {
	var tool canvas.Tool
	b.do(func() { tool = b.canvas.Tool() })
	return tool
}

func (b *Board) Style() protocol.Style {
	var style protocol.Style
	b.do(func() { style = b.canvas.Style() })
	return style
}

func (b *Board) CanUndo() bool {
	var ok bool
	b.do(func() { ok = b.history.CanUndo() })
	return ok
}

func (b *Board) CanRedo() bool {
	var ok bool
	b.do(func() { ok = b.history.CanRedo() })
	return ok
}

// Remote events

// applyRemote mutates the canvas through the same rules local gestures
// use. Remote changes are not recorded in history and never re-emitted.
func (b *Board) applyRemote(ev protocol.Event) {
	if ev.Room() != b.roomID {
		b.logger.Debug("ignoring event for another room", "event_room", ev.Room())
		return
	}

	var err error
	switch e := ev.(type) {
	case protocol.ShapeBegin:
		err = b.canvas.AppendRemoteShape(e.Shape())
	case protocol.ShapeUpdate:
		err = b.canvas.UpdateShape(e.ShapeID, e.Delta)
	case protocol.BoardClear:
		b.clearLocal()
	case protocol.ShapeEnd, protocol.Join:
	}
	if err != nil {
		b.logger.Debug("ignoring remote event", "type", ev.Type(), "error", err)
	}
}

func (b *Board) emit(ev protocol.Event) {
	if b.transport == nil {
		return
	}
	if err := b.transport.Send(ev); err != nil {
		b.logger.Debug("event not sent", "type", ev.Type(), "error", err)
	}
}

func (b *Board) commit(shape protocol.Shape) {
	b.background("commit", func(ctx context.Context) error {
		return b.store.Commit(ctx, b.roomID, shape)
	})
}

// background queues a store request behind every earlier one. Failures
// are logged and leave the local state as it is.
func (b *Board) background(op string, fn func(ctx context.Context) error) {
	if b.store == nil {
		return
	}

	b.wg.Add(1)
	b.queueMu.Lock()
	b.queue = append(b.queue, storeRequest{op: op, fn: fn})
	b.queueMu.Unlock()

	select {
	case b.queued <- struct{}{}:
	default:
	}
}

// persist drains the request queue in FIFO order until ctx is cancelled.
func (b *Board) persist(ctx context.Context) {
	for {
		req, ok := b.nextRequest()
		if !ok {
			select {
			case <-b.queued:
				continue
			case <-ctx.Done():
				return
			}
		}

		reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		if err := req.fn(reqCtx); err != nil {
			b.logger.Warn(req.op+" failed", "error", persistenceError(err))
		}
		cancel()
		b.wg.Done()
	}
}

func (b *Board) nextRequest() (storeRequest, bool) {
	b.queueMu.Lock()
	defer b.queueMu.Unlock()
	if len(b.queue) == 0 {
		return storeRequest{}, false
	}
	req := b.queue[0]
	b.queue[0] = storeRequest{}
	b.queue = b.queue[1:]
	return req, true
}

// dropPending discards requests still queued after the board stopped.
func (b *Board) dropPending() {
	b.queueMu.Lock()
	pending := b.queue
	b.queue = nil
	b.queueMu.Unlock()

	if len(pending) > 0 {
		b.logger.Warn("board stopped with unsent store requests", "count", len(pending))
	}
	for range pending {
		b.wg.Done()
	}
}

func persistenceError(err error) error {
	if errors.Is(err, ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrPersistence, err)
}
