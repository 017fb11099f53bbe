package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedEvent is returned for frames that do not decode into a known,
// complete event variant.
var ErrMalformedEvent = errors.New("protocol: malformed event")

// Represents the type of a lifecycle event
type EventType string

const (
	// Registers the sender into the room
	TypeJoin EventType = "join"

	// A new shape with zero extent
	TypeShapeBegin EventType = "shape_begin"

	// Incremental geometry for an in-progress shape
	TypeShapeUpdate EventType = "shape_update"

	// Gesture finished; bookkeeping only
	TypeShapeEnd EventType = "shape_end"

	// Receiver drops every local shape
	TypeBoardClear EventType = "board_clear"
)

// Event is the closed set of lifecycle messages: Join, ShapeBegin,
// ShapeUpdate, ShapeEnd and BoardClear.
type Event interface {
	Type() EventType
	Room() string
	isEvent()
}

type Join struct {
	RoomID string
}

type ShapeBegin struct {
	RoomID  string
	ShapeID string
	Kind    Kind
	X, Y    float64
	Style   Style
	Text    string
}

type ShapeUpdate struct {
	RoomID  string
	ShapeID string
	Delta   Delta
}

type ShapeEnd struct {
	RoomID  string
	ShapeID string
}

type BoardClear struct {
	RoomID string
}

func (Join) Type() EventType        { return TypeJoin }
func (ShapeBegin) Type() EventType  { return TypeShapeBegin }
func (ShapeUpdate) Type() EventType { return TypeShapeUpdate }
func (ShapeEnd) Type() EventType    { return TypeShapeEnd }
func (BoardClear) Type() EventType  { return TypeBoardClear }

func (e Join) Room() string        { return e.RoomID }
func (e ShapeBegin) Room() string  { return e.RoomID }
func (e ShapeUpdate) Room() string { return e.RoomID }
func (e ShapeEnd) Room() string    { return e.RoomID }
func (e BoardClear) Room() string  { return e.RoomID }

func (Join) isEvent()        {}
func (ShapeBegin) isEvent()  {}
func (ShapeUpdate) isEvent() {}
func (ShapeEnd) isEvent()    {}
func (BoardClear) isEvent()  {}

// Shape returns the zero-extent shape this begin event creates.
func (e ShapeBegin) Shape() Shape {
	s := NewShape(e.ShapeID, e.Kind, e.X, e.Y, e.Style)
	if e.Kind == KindText {
		s.Text = e.Text
		s.Width, s.Height = TextBox(e.Text)
	}
	return s
}

// Delta is the kind-specific geometry carried by a shape update:
// an appended point (X, Y) for paths, a signed size (W, H) for
// rectangles and a radius R for ellipses.
type Delta struct {
	X *float64 `json:"x,omitempty"`
	Y *float64 `json:"y,omitempty"`
	W *float64 `json:"w,omitempty"`
	H *float64 `json:"h,omitempty"`
	R *float64 `json:"r,omitempty"`
}

func PointDelta(x, y float64) Delta { return Delta{X: &x, Y: &y} }
func SizeDelta(w, h float64) Delta  { return Delta{W: &w, H: &h} }
func RadiusDelta(r float64) Delta   { return Delta{R: &r} }

func (d Delta) HasPoint() bool  { return d.X != nil && d.Y != nil }
func (d Delta) HasSize() bool   { return d.W != nil && d.H != nil }
func (d Delta) HasRadius() bool { return d.R != nil }

func (d Delta) empty() bool {
	return d.X == nil && d.Y == nil && d.W == nil && d.H == nil && d.R == nil
}

func (d Delta) complete() bool {
	if (d.X == nil) != (d.Y == nil) || (d.W == nil) != (d.H == nil) {
		return false
	}
	return !d.empty()
}

// envelope is the single flat wire form shared by every variant.
type envelope struct {
	Type    EventType `json:"type"`
	RoomID  string    `json:"roomId"`
	ShapeID string    `json:"shapeId,omitempty"`
	Kind    Kind      `json:"kind,omitempty"`
	Delta
	Style *Style `json:"style,omitempty"`
	Text  string `json:"text,omitempty"`
}

// Encode serialises an event into its JSON wire frame.
func Encode(e Event) ([]byte, error) {
	env := envelope{Type: e.Type(), RoomID: e.Room()}
	switch ev := e.(type) {
	case Join, BoardClear:
	case ShapeBegin:
		style := ev.Style
		env.ShapeID = ev.ShapeID
		env.Kind = ev.Kind
		env.Delta = PointDelta(ev.X, ev.Y)
		env.Style = &style
		env.Text = ev.Text
	case ShapeUpdate:
		env.ShapeID = ev.ShapeID
		env.Delta = ev.Delta
	case ShapeEnd:
		env.ShapeID = ev.ShapeID
	default:
		return nil, fmt.Errorf("%w: unsupported event %T", ErrMalformedEvent, e)
	}
	return json.Marshal(env)
}

// Decode parses and validates a wire frame. Anything that is not a known,
// complete variant is rejected with ErrMalformedEvent.
func Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if env.RoomID == "" {
		return nil, fmt.Errorf("%w: missing roomId", ErrMalformedEvent)
	}

	switch env.Type {
	case TypeJoin:
		return Join{RoomID: env.RoomID}, nil

	case TypeShapeBegin:
		if env.ShapeID == "" {
			return nil, fmt.Errorf("%w: shape_begin without shapeId", ErrMalformedEvent)
		}
		if !env.Kind.Valid() {
			return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformedEvent, env.Kind)
		}
		if !env.HasPoint() {
			return nil, fmt.Errorf("%w: shape_begin without origin", ErrMalformedEvent)
		}
		ev := ShapeBegin{
			RoomID:  env.RoomID,
			ShapeID: env.ShapeID,
			Kind:    env.Kind,
			X:       *env.X,
			Y:       *env.Y,
			Text:    env.Text,
		}
		if env.Style != nil {
			ev.Style = *env.Style
		}
		return ev, nil

	case TypeShapeUpdate:
		if env.ShapeID == "" {
			return nil, fmt.Errorf("%w: shape_update without shapeId", ErrMalformedEvent)
		}
		if !env.Delta.complete() {
			return nil, fmt.Errorf("%w: incomplete shape_update delta", ErrMalformedEvent)
		}
		return ShapeUpdate{RoomID: env.RoomID, ShapeID: env.ShapeID, Delta: env.Delta}, nil

	case TypeShapeEnd:
		return ShapeEnd{RoomID: env.RoomID, ShapeID: env.ShapeID}, nil

	case TypeBoardClear:
		return BoardClear{RoomID: env.RoomID}, nil

	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedEvent, env.Type)
	}
}

// Header is the part of a frame the relay looks at.
type Header struct {
	Type   EventType `json:"type"`
	RoomID string    `json:"roomId"`
}

// PeekHeader extracts the type and room of a frame without validating the
// rest of its contents.
func PeekHeader(data []byte) (Header, error) {
	var h Header
	if len(data) == 0 {
		return h, fmt.Errorf("%w: empty frame", ErrMalformedEvent)
	}
	if err := json.Unmarshal(data, &h); err != nil {
		return h, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if h.Type == "" {
		return h, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}
	return h, nil
}
