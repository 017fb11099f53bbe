package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/mitmirani09/syncboard/internal/canvas"
	"github.com/mitmirani09/syncboard/internal/client"
	"github.com/mitmirani09/syncboard/internal/discovery"
	"github.com/mitmirani09/syncboard/internal/protocol"
)

// How long draw waits for its commit before giving up
const commitWait = 10 * time.Second

func runSnapshot(ctx context.Context, out io.Writer, flags clientFlags) error {
	api := client.NewAPIClient(flags.server, nil)
	shapes, err := api.GetSnapshot(ctx, flags.room)
	if err != nil {
		return err
	}

	records := make([]protocol.Record, len(shapes))
	for i, s := range shapes {
		records[i] = protocol.Record{RoomID: flags.room, Shape: s}
	}
	return writeJSON(out, records)
}

func runClear(ctx context.Context, out io.Writer, flags clientFlags) error {
	api := client.NewAPIClient(flags.server, nil)
	if err := api.Clear(ctx, flags.room); err != nil {
		return err
	}
	fmt.Fprintf(out, "cleared room %s\n", flags.room)
	return nil
}

func runDraw(ctx context.Context, out io.Writer, flags drawFlags) error {
	points, err := parsePoints(flags.points)
	if err != nil {
		return err
	}
	tool := canvas.Tool(flags.tool)
	if !tool.Draws() {
		return fmt.Errorf("tool %q does not draw", flags.tool)
	}
	if tool == canvas.ToolText && flags.text == "" {
		return fmt.Errorf("--text is required for the text tool")
	}

	transport, err := client.Dial(ctx, flags.server, flags.room, slog.Default())
	if err != nil {
		return err
	}
	defer transport.Close()

	board := client.NewBoard(flags.room, transport, client.NewAPIClient(flags.server, nil), slog.Default())
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go board.Run(runCtx)

	select {
	case <-board.Loaded():
	case <-ctx.Done():
		return ctx.Err()
	}

	board.SetTool(tool)
	board.SetStyle(protocol.Style{StrokeColor: flags.color, StrokeWidth: flags.width, FillColor: "transparent"})

	var id string
	board.PointerDown(points[0].X, points[0].Y)
	if tool == canvas.ToolText {
		id = board.ConfirmText(flags.text)
	} else {
		for _, p := range points[1:] {
			board.PointerMove(p.X, p.Y)
		}
		id = board.PointerUp()
	}

	committed := make(chan struct{})
	go func() {
		board.Wait()
		close(committed)
	}()
	select {
	case <-committed:
	case <-time.After(commitWait):
		return fmt.Errorf("timed out waiting for commit")
	}

	for _, shape := range board.Shapes() {
		if shape.ID == id {
			return writeJSON(out, protocol.Record{RoomID: flags.room, Shape: shape})
		}
	}
	return fmt.Errorf("shape %s was not drawn", id)
}

func runDiscover(out io.Writer, timeout time.Duration) error {
	entries, err := discovery.Browse(timeout)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "no servers found")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%s\t%s\n", e.Instance, e.URL())
	}
	return nil
}

// parsePoints reads "x,y x,y ..." into pointer positions.
func parsePoints(s string) ([]canvas.Point, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, fmt.Errorf("at least one point is required")
	}

	points := make([]canvas.Point, 0, len(fields))
	for _, f := range fields {
		xs, ys, ok := strings.Cut(f, ",")
		if !ok {
			return nil, fmt.Errorf("invalid point %q: want x,y", f)
		}
		x, err := strconv.ParseFloat(xs, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid point %q: %w", f, err)
		}
		y, err := strconv.ParseFloat(ys, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid point %q: %w", f, err)
		}
		points = append(points, canvas.Point{X: x, Y: y})
	}
	return points, nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
