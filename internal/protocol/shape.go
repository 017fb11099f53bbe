package protocol

import (
	"errors"
	"fmt"
)

var ErrInvalidShape = errors.New("protocol: invalid shape")

// Kind is the drawable type of a shape
type Kind string

const (
	KindFreehand  Kind = "freehand"
	KindEraser    Kind = "eraser"
	KindRectangle Kind = "rectangle"
	KindEllipse   Kind = "ellipse"
	KindText      Kind = "text"
)

func (k Kind) Valid() bool {
	switch k {
	case KindFreehand, KindEraser, KindRectangle, KindEllipse, KindText:
		return true
	}
	return false
}

// IsPath reports whether shapes of this kind store a point list.
// The eraser differs from freehand only in how it is composited.
func (k Kind) IsPath() bool {
	return k == KindFreehand || k == KindEraser
}

// HasBox reports whether shapes of this kind store width and height.
func (k Kind) HasBox() bool {
	return k == KindRectangle || k == KindEllipse || k == KindText
}

// Style is the stroke/fill selection a shape is drawn with
type Style struct {
	StrokeColor string  `json:"strokeColor"`
	StrokeWidth float64 `json:"strokeWidth"`
	FillColor   string  `json:"fillColor,omitempty"`
}

// Shape is one drawn object. Points is a flat list [x0, y0, x1, y1, ...].
// For ellipses Width and Height hold the diameter, not the radius.
type Shape struct {
	ID          string    `json:"shapeId"`
	Kind        Kind      `json:"kind"`
	X           float64   `json:"x"`
	Y           float64   `json:"y"`
	Width       float64   `json:"width,omitempty"`
	Height      float64   `json:"height,omitempty"`
	Points      []float64 `json:"points,omitempty"`
	Text        string    `json:"text,omitempty"`
	FillColor   string    `json:"fillColor,omitempty"`
	StrokeColor string    `json:"strokeColor"`
	StrokeWidth float64   `json:"strokeWidth"`
}

// Record is the persisted form of a shape, scoped to its room.
type Record struct {
	RoomID string `json:"roomId"`
	Shape
}

// Style returns the style the shape was drawn with.
func (s Shape) Style() Style {
	return Style{
		StrokeColor: s.StrokeColor,
		StrokeWidth: s.StrokeWidth,
		FillColor:   s.FillColor,
	}
}

// Radius recovers the ellipse radius from the stored diameter.
func (s Shape) Radius() float64 {
	return s.Width / 2
}

// Clone returns a deep copy so snapshots never share point storage.
func (s Shape) Clone() Shape {
	if s.Points != nil {
		s.Points = append([]float64(nil), s.Points...)
	}
	return s
}

func (s Shape) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: missing shape id", ErrInvalidShape)
	}
	if !s.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidShape, s.Kind)
	}
	if len(s.Points)%2 != 0 {
		return fmt.Errorf("%w: odd point list length %d", ErrInvalidShape, len(s.Points))
	}
	return nil
}

// CloneShapes deep-copies a shape sequence.
func CloneShapes(shapes []Shape) []Shape {
	out := make([]Shape, len(shapes))
	for i, s := range shapes {
		out[i] = s.Clone()
	}
	return out
}

// NewShape builds the zero-extent shape a begin event describes.
func NewShape(id string, kind Kind, x, y float64, style Style) Shape {
	s := Shape{
		ID:          id,
		Kind:        kind,
		X:           x,
		Y:           y,
		StrokeColor: style.StrokeColor,
		StrokeWidth: style.StrokeWidth,
		FillColor:   style.FillColor,
	}
	if kind.IsPath() {
		s.Points = []float64{x, y}
	}
	return s
}

// TextBox estimates the box of a text shape from its content.
func TextBox(text string) (width, height float64) {
	return float64(len([]rune(text))) * 10, 20
}
