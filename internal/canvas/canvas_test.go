package canvas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mitmirani09/syncboard/internal/protocol"
)

// drag replays a pointer gesture directly against the state.
func drag(t *testing.T, s *State, kind protocol.Kind, from Point, moves ...Point) (string, []protocol.Delta) {
	t.Helper()
	id, err := s.BeginShape(kind, from)
	require.NoError(t, err)

	var deltas []protocol.Delta
	for _, p := range moves {
		d, err := s.DeltaFor(id, p)
		require.NoError(t, err)
		require.NoError(t, s.UpdateShape(id, d))
		deltas = append(deltas, d)
	}
	return id, deltas
}

func TestRectangleGesture(t *testing.T) {
	s := New()
	id, _ := drag(t, s, protocol.KindRectangle, Point{10, 10}, Point{60, 10}, Point{60, 40})

	shape, ok := s.Shape(id)
	require.True(t, ok)
	assert.Equal(t, protocol.KindRectangle, shape.Kind)
	assert.Equal(t, 10.0, shape.X)
	assert.Equal(t, 10.0, shape.Y)
	assert.Equal(t, 50.0, shape.Width)
	assert.Equal(t, 30.0, shape.Height)
}

func TestRectangleAllowsNegativeExtent(t *testing.T) {
	s := New()
	id, _ := drag(t, s, protocol.KindRectangle, Point{50, 50}, Point{20, 10})

	shape, _ := s.Shape(id)
	assert.Equal(t, -30.0, shape.Width)
	assert.Equal(t, -40.0, shape.Height)
}

func TestEllipseStoresDiameter(t *testing.T) {
	s := New()
	id, deltas := drag(t, s, protocol.KindEllipse, Point{0, 0}, Point{3, 4})

	require.Len(t, deltas, 1)
	require.True(t, deltas[0].HasRadius())
	assert.Equal(t, 5.0, *deltas[0].R)

	shape, _ := s.Shape(id)
	assert.Equal(t, 10.0, shape.Width)
	assert.Equal(t, 10.0, shape.Height)
	assert.Equal(t, 5.0, shape.Radius())
}

func TestEllipseRadiusRoundTrip(t *testing.T) {
	for _, r := range []float64{0, 0.5, 7, 123.25} {
		s := New()
		id, err := s.BeginShape(protocol.KindEllipse, Point{1, 1})
		require.NoError(t, err)
		require.NoError(t, s.UpdateShape(id, protocol.RadiusDelta(r)))

		shape, _ := s.Shape(id)
		assert.Equal(t, 2*r, shape.Width)
		assert.Equal(t, 2*r, shape.Height)
		assert.Equal(t, r, shape.Radius())
	}
}

func TestFreehandAndEraserAppendPoints(t *testing.T) {
	s := New()
	pen, _ := drag(t, s, protocol.KindFreehand, Point{0, 0}, Point{5, 5}, Point{6, 7})
	eraser, _ := drag(t, s, protocol.KindEraser, Point{1, 1}, Point{2, 2})

	p, _ := s.Shape(pen)
	assert.Equal(t, []float64{0, 0, 5, 5, 6, 7}, p.Points)
	assert.Equal(t, DefaultStyle.StrokeWidth, p.StrokeWidth)

	e, _ := s.Shape(eraser)
	assert.Equal(t, []float64{1, 1, 2, 2}, e.Points)
	assert.Equal(t, float64(EraserStrokeWidth), e.StrokeWidth)
	assert.Equal(t, EraserStrokeColor, e.StrokeColor)
}

func TestEraserKeepsSelectedFill(t *testing.T) {
	s := New()
	s.SetStyle(protocol.Style{StrokeColor: "#ff0000", StrokeWidth: 2, FillColor: "#00ff00"})

	style := s.StyleFor(protocol.KindEraser)
	assert.Equal(t, protocol.Style{StrokeColor: EraserStrokeColor, StrokeWidth: EraserStrokeWidth, FillColor: "#00ff00"}, style)
	assert.Equal(t, "#ff0000", s.StyleFor(protocol.KindRectangle).StrokeColor)
}

func TestZeroLengthGestureKeepsDegenerateShape(t *testing.T) {
	s := New()
	pen, _ := drag(t, s, protocol.KindFreehand, Point{4, 4})
	rect, _ := drag(t, s, protocol.KindRectangle, Point{4, 4})

	p, _ := s.Shape(pen)
	assert.Equal(t, []float64{4, 4}, p.Points)
	r, _ := s.Shape(rect)
	assert.Zero(t, r.Width)
	assert.Zero(t, r.Height)
}

// Applying the emitted deltas on a second state through the remote path
// must produce the same geometry as the author's local replay.
func TestProtocolReplayMatchesLocalReplay(t *testing.T) {
	gestures := []struct {
		kind  protocol.Kind
		from  Point
		moves []Point
	}{
		{protocol.KindFreehand, Point{0, 0}, []Point{{1, 2}, {3, 5}, {8, 13}}},
		{protocol.KindEraser, Point{9, 9}, []Point{{9, 10}}},
		{protocol.KindRectangle, Point{10, 10}, []Point{{60, 10}, {60, 40}, {-5, 2}}},
		{protocol.KindEllipse, Point{100, 100}, []Point{{103, 104}, {90, 90}}},
	}

	author := New()
	observer := New()
	for _, g := range gestures {
		id, deltas := drag(t, author, g.kind, g.from, g.moves...)
		origin, _ := author.Shape(id)

		begin := protocol.ShapeBegin{
			RoomID:  "R",
			ShapeID: id,
			Kind:    g.kind,
			X:       g.from.X,
			Y:       g.from.Y,
			Style:   origin.Style(),
		}
		frame, err := protocol.Encode(begin)
		require.NoError(t, err)
		decoded, err := protocol.Decode(frame)
		require.NoError(t, err)
		require.NoError(t, observer.AppendRemoteShape(decoded.(protocol.ShapeBegin).Shape()))

		for _, d := range deltas {
			frame, err := protocol.Encode(protocol.ShapeUpdate{RoomID: "R", ShapeID: id, Delta: d})
			require.NoError(t, err)
			decoded, err := protocol.Decode(frame)
			require.NoError(t, err)
			update := decoded.(protocol.ShapeUpdate)
			require.NoError(t, observer.UpdateShape(update.ShapeID, update.Delta))
		}
	}

	assert.Equal(t, author.Shapes(), observer.Shapes())
}

func TestUpdateRejectsUnknownAndMismatched(t *testing.T) {
	s := New()
	assert.ErrorIs(t, s.UpdateShape("missing", protocol.PointDelta(1, 1)), ErrUnknownShape)

	rect, err := s.BeginShape(protocol.KindRectangle, Point{0, 0})
	require.NoError(t, err)
	assert.ErrorIs(t, s.UpdateShape(rect, protocol.RadiusDelta(3)), ErrInvalidDelta)

	text := s.AddText(Point{1, 1}, "hi")
	assert.ErrorIs(t, s.UpdateShape(text, protocol.SizeDelta(1, 1)), ErrInvalidDelta)

	// The rejected updates left the shapes untouched
	r, _ := s.Shape(rect)
	assert.Zero(t, r.Width)
}

func TestAppendRemoteShapeRejectsDuplicates(t *testing.T) {
	s := New()
	shape := protocol.NewShape("s1", protocol.KindFreehand, 0, 0, DefaultStyle)
	require.NoError(t, s.AppendRemoteShape(shape))
	assert.ErrorIs(t, s.AppendRemoteShape(shape), ErrDuplicateShape)
	assert.Equal(t, 1, s.Len())
}

func TestShapesPreserveInsertionOrder(t *testing.T) {
	s := New()
	a, _ := s.BeginShape(protocol.KindRectangle, Point{0, 0})
	b := s.AddText(Point{5, 5}, "note")
	require.NoError(t, s.AppendRemoteShape(protocol.NewShape("remote", protocol.KindEllipse, 1, 1, DefaultStyle)))
	// Updating an earlier shape does not move it
	require.NoError(t, s.UpdateShape(a, protocol.SizeDelta(4, 4)))

	var ids []string
	for _, shape := range s.Shapes() {
		ids = append(ids, shape.ID)
	}
	assert.Equal(t, []string{a, b, "remote"}, ids)
}

func TestReplaceAllAndClear(t *testing.T) {
	s := New()
	seed := []protocol.Shape{
		protocol.NewShape("x", protocol.KindFreehand, 1, 2, DefaultStyle),
		protocol.NewShape("y", protocol.KindRectangle, 3, 4, DefaultStyle),
	}
	s.ReplaceAll(seed)

	// The state holds its own copy
	seed[0].Points[0] = 42
	x, ok := s.Shape("x")
	require.True(t, ok)
	assert.Equal(t, 1.0, x.Points[0])

	require.NoError(t, s.UpdateShape("y", protocol.SizeDelta(2, 2)))

	s.Clear()
	assert.Zero(t, s.Len())
	_, ok = s.Shape("y")
	assert.False(t, ok)
}

func TestTextShape(t *testing.T) {
	s := New()
	s.SetStyle(protocol.Style{StrokeColor: "#336699", StrokeWidth: 8})
	id := s.AddText(Point{20, 30}, "hello")

	shape, _ := s.Shape(id)
	assert.Equal(t, protocol.KindText, shape.Kind)
	assert.Equal(t, "hello", shape.Text)
	assert.Equal(t, 50.0, shape.Width)
	assert.Equal(t, 20.0, shape.Height)
	assert.Equal(t, "#336699", shape.FillColor)
	assert.Equal(t, 1.0, shape.StrokeWidth)
}

func TestToolHelpers(t *testing.T) {
	assert.False(t, ToolSelect.Draws())
	assert.False(t, ToolPan.Draws())
	assert.True(t, ToolText.Draws())

	k, ok := ToolEllipse.Kind()
	assert.True(t, ok)
	assert.Equal(t, protocol.KindEllipse, k)
	_, ok = ToolPan.Kind()
	assert.False(t, ok)
}
