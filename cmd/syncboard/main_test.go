package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/mitmirani09/syncboard/internal/api"
	"github.com/mitmirani09/syncboard/internal/config"
	"github.com/mitmirani09/syncboard/internal/db"
	"github.com/mitmirani09/syncboard/internal/protocol"
	"github.com/mitmirani09/syncboard/internal/ws"
)

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	for _, name := range []string{"serve", "snapshot", "clear", "draw", "discover"} {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("newLogger() error = %v", err)
	}
	if logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info should be disabled at warn level")
	}
	logger.Warn("hello")
	if !json.Valid(bytes.TrimSpace(buf.Bytes())) {
		t.Errorf("expected JSON output, got %s", buf.String())
	}

	if _, err := newLogger(config.LoggingConfig{Level: "loud"}, &buf); err == nil {
		t.Error("expected an invalid level to fail")
	}
	if _, err := newLogger(config.LoggingConfig{Level: "info", Format: "xml"}, &buf); err == nil {
		t.Error("expected an invalid format to fail")
	}
}

func TestParsePoints(t *testing.T) {
	points, err := parsePoints(" 0,0 5,5\t-2.5,10 ")
	if err != nil {
		t.Fatalf("parsePoints() error = %v", err)
	}
	if len(points) != 3 || points[2].X != -2.5 || points[2].Y != 10 {
		t.Errorf("unexpected points %+v", points)
	}

	for _, bad := range []string{"", "1", "a,1", "1,b"} {
		if _, err := parsePoints(bad); err == nil {
			t.Errorf("expected %q to be rejected", bad)
		}
	}
}

func TestOpenStore(t *testing.T) {
	store, err := openStore(config.StorageConfig{Driver: config.DriverMemory})
	if err != nil {
		t.Fatalf("openStore(memory) error = %v", err)
	}
	store.Close()

	store, err = openStore(config.StorageConfig{Driver: config.DriverSQLite, Path: t.TempDir() + "/board.db"})
	if err != nil {
		t.Fatalf("openStore(sqlite) error = %v", err)
	}
	store.Close()

	if _, err := openStore(config.StorageConfig{Driver: "mongo"}); err == nil {
		t.Error("expected unknown driver to fail")
	}
}

func startServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := ws.NewHub(ws.DefaultConfig(), nil, nil)
	go hub.Run(ctx)

	server := httptest.NewServer(api.New(hub, db.NewMemoryStore(), nil, nil, nil, nil).Router())
	t.Cleanup(func() {
		server.Close()
		cancel()
	})
	return server
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := buildRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("%v failed: %v", args, err)
	}
	return out.String()
}

func TestDrawSnapshotClear(t *testing.T) {
	server := startServer(t)

	out := execute(t, "draw", "--server", server.URL, "--room", "R", "--tool", "rectangle", "--points", "10,10 60,10 60,40")
	var drawn protocol.Record
	if err := json.Unmarshal([]byte(out), &drawn); err != nil {
		t.Fatalf("draw output is not a record: %v\n%s", err, out)
	}
	if drawn.X != 10 || drawn.Y != 10 || drawn.Width != 50 || drawn.Height != 30 {
		t.Errorf("unexpected rectangle %+v", drawn.Shape)
	}

	out = execute(t, "snapshot", "--server", server.URL, "--room", "R")
	var records []protocol.Record
	if err := json.Unmarshal([]byte(out), &records); err != nil {
		t.Fatalf("snapshot output is not a record list: %v\n%s", err, out)
	}
	if len(records) != 1 || records[0].ID != drawn.ID {
		t.Fatalf("expected the drawn shape in the snapshot, got %+v", records)
	}

	execute(t, "clear", "--server", server.URL, "--room", "R")
	out = execute(t, "snapshot", "--server", server.URL, "--room", "R")
	if err := json.Unmarshal([]byte(out), &records); err != nil {
		t.Fatalf("snapshot output is not a record list: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected an empty room after clear, got %d records", len(records))
	}
}

func TestDrawText(t *testing.T) {
	server := startServer(t)

	out := execute(t, "draw", "--server", server.URL, "--room", "R", "--tool", "text", "--points", "20,30", "--text", "hello")
	var drawn protocol.Record
	if err := json.Unmarshal([]byte(out), &drawn); err != nil {
		t.Fatalf("draw output is not a record: %v\n%s", err, out)
	}
	if drawn.Kind != protocol.KindText || drawn.Text != "hello" || drawn.Width != 50 {
		t.Errorf("unexpected text shape %+v", drawn.Shape)
	}
}

func TestDrawRejectsNonDrawingTool(t *testing.T) {
	cmd := buildRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"draw", "--room", "R", "--tool", "pan", "--points", "1,1"})
	if err := cmd.ExecuteContext(context.Background()); err == nil {
		t.Error("expected the pan tool to be rejected")
	}
}
