// Package canvas holds the client's working copy of a board: the ordered
// shape sequence plus the active tool and style.
//
// A State is not safe for concurrent use. It is owned by a single
// goroutine (see client.Board) and every mutation happens there.
package canvas

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/mitmirani09/syncboard/internal/protocol"
)

var (
	ErrUnknownShape   = errors.New("canvas: unknown shape")
	ErrDuplicateShape = errors.New("canvas: duplicate shape id")
	ErrInvalidDelta   = errors.New("canvas: delta does not fit shape kind")
)

// Tool is the active pointer tool.
type Tool string

const (
	ToolSelect    Tool = "select"
	ToolPan       Tool = "pan"
	ToolFreehand  Tool = "freehand"
	ToolEraser    Tool = "eraser"
	ToolRectangle Tool = "rectangle"
	ToolEllipse   Tool = "ellipse"
	ToolText      Tool = "text"
)

// Draws reports whether a pointer-down with this tool starts a shape.
func (t Tool) Draws() bool {
	return t != ToolSelect && t != ToolPan && t != ""
}

// Kind maps a drawing tool to the shape kind it creates.
func (t Tool) Kind() (protocol.Kind, bool) {
	k := protocol.Kind(t)
	return k, k.Valid()
}

// DefaultStyle is the style a fresh canvas starts with.
var DefaultStyle = protocol.Style{
	StrokeColor: "#000000",
	StrokeWidth: 3,
	FillColor:   "transparent",
}

// Eraser strokes always use this stroke color and width; the fill follows
// the selected style.
const (
	EraserStrokeColor = "#000000"
	EraserStrokeWidth = 15
)

type Point struct {
	X, Y float64
}

type State struct {
	tool   Tool
	style  protocol.Style
	shapes []protocol.Shape
	index  map[string]int
}

func New() *State {
	return &State{
		tool:  ToolFreehand,
		style: DefaultStyle,
		index: make(map[string]int),
	}
}

func (s *State) Tool() Tool                    { return s.tool }
func (s *State) SetTool(tool Tool)             { s.tool = tool }
func (s *State) Style() protocol.Style         { return s.style }
func (s *State) SetStyle(style protocol.Style) { s.style = style }
func (s *State) Len() int                      { return len(s.shapes) }

// StyleFor returns the style a new shape of kind is created with.
func (s *State) StyleFor(kind protocol.Kind) protocol.Style {
	if kind == protocol.KindEraser {
		return protocol.Style{
			StrokeColor: EraserStrokeColor,
			StrokeWidth: EraserStrokeWidth,
			FillColor:   s.style.FillColor,
		}
	}
	return s.style
}

// BeginShape mints a new id and appends a zero-extent shape at origin
// using the active style.
func (s *State) BeginShape(kind protocol.Kind, origin Point) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("%w: %q", protocol.ErrInvalidShape, kind)
	}
	id := uuid.NewString()
	shape := protocol.NewShape(id, kind, origin.X, origin.Y, s.StyleFor(kind))
	s.append(shape)
	return id, nil
}

// AddText appends a complete text shape. Text shapes are filled and
// stroked with the active stroke color.
func (s *State) AddText(origin Point, text string) string {
	id := uuid.NewString()
	w, h := protocol.TextBox(text)
	s.append(protocol.Shape{
		ID:          id,
		Kind:        protocol.KindText,
		X:           origin.X,
		Y:           origin.Y,
		Width:       w,
		Height:      h,
		Text:        text,
		FillColor:   s.style.StrokeColor,
		StrokeColor: s.style.StrokeColor,
		StrokeWidth: 1,
	})
	return id
}

// AppendRemoteShape appends a shape authored elsewhere, keeping its id.
func (s *State) AppendRemoteShape(shape protocol.Shape) error {
	if err := shape.Validate(); err != nil {
		return err
	}
	if _, exists := s.index[shape.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateShape, shape.ID)
	}
	s.append(shape.Clone())
	return nil
}

func (s *State) append(shape protocol.Shape) {
	s.index[shape.ID] = len(s.shapes)
	s.shapes = append(s.shapes, shape)
}

// UpdateShape applies a kind-specific delta to the named shape:
//
//	freehand, eraser: append (x, y) to the path
//	rectangle:        width, height = w, h (signed)
//	ellipse:          width = height = 2r
//
// Local pointer moves and remote shape_update events both end up here.
func (s *State) UpdateShape(id string, d protocol.Delta) error {
	i, ok := s.index[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownShape, id)
	}
	shape := &s.shapes[i]

	switch {
	case shape.Kind.IsPath():
		if !d.HasPoint() {
			return fmt.Errorf("%w: %s needs a point", ErrInvalidDelta, shape.Kind)
		}
		shape.Points = append(shape.Points, *d.X, *d.Y)
	case shape.Kind == protocol.KindRectangle:
		if !d.HasSize() {
			return fmt.Errorf("%w: rectangle needs w and h", ErrInvalidDelta)
		}
		shape.Width, shape.Height = *d.W, *d.H
	case shape.Kind == protocol.KindEllipse:
		if !d.HasRadius() {
			return fmt.Errorf("%w: ellipse needs r", ErrInvalidDelta)
		}
		shape.Width = 2 * *d.R
		shape.Height = 2 * *d.R
	default:
		return fmt.Errorf("%w: %s shapes are not updatable", ErrInvalidDelta, shape.Kind)
	}
	return nil
}

// DeltaFor computes the delta a pointer at p produces for the named
// shape, following the same rules UpdateShape applies.
func (s *State) DeltaFor(id string, p Point) (protocol.Delta, error) {
	i, ok := s.index[id]
	if !ok {
		return protocol.Delta{}, fmt.Errorf("%w: %s", ErrUnknownShape, id)
	}
	shape := s.shapes[i]

	switch {
	case shape.Kind.IsPath():
		return protocol.PointDelta(p.X, p.Y), nil
	case shape.Kind == protocol.KindRectangle:
		return protocol.SizeDelta(p.X-shape.X, p.Y-shape.Y), nil
	case shape.Kind == protocol.KindEllipse:
		return protocol.RadiusDelta(math.Hypot(p.X-shape.X, p.Y-shape.Y)), nil
	}
	return protocol.Delta{}, fmt.Errorf("%w: %s shapes are not updatable", ErrInvalidDelta, shape.Kind)
}

// Shape returns a copy of the named shape.
func (s *State) Shape(id string) (protocol.Shape, bool) {
	i, ok := s.index[id]
	if !ok {
		return protocol.Shape{}, false
	}
	return s.shapes[i].Clone(), true
}

// Shapes returns a deep copy of the live sequence in insertion order.
func (s *State) Shapes() []protocol.Shape {
	return protocol.CloneShapes(s.shapes)
}

// ReplaceAll swaps the whole sequence, used for snapshot load and
// undo/redo restore.
func (s *State) ReplaceAll(shapes []protocol.Shape) {
	s.shapes = protocol.CloneShapes(shapes)
	s.index = make(map[string]int, len(s.shapes))
	for i, shape := range s.shapes {
		s.index[shape.ID] = i
	}
}

// Clear discards every shape.
func (s *State) Clear() {
	s.shapes = nil
	s.index = make(map[string]int)
}
