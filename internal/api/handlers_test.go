package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/mitmirani09/syncboard/internal/compaction"
	"github.com/mitmirani09/syncboard/internal/db"
	"github.com/mitmirani09/syncboard/internal/protocol"
	"github.com/mitmirani09/syncboard/internal/ratelimit"
	"github.com/mitmirani09/syncboard/internal/ws"
)

type testAPI struct {
	*API
	store   *db.Database
	handler http.Handler
}

func setupTestAPI(t *testing.T) *testAPI {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	hub := ws.NewHub(ws.DefaultConfig(), nil, nil)
	go hub.Run(ctx)

	limiters := ratelimit.NewClientLimiters(1000, 1000)
	compactor := compaction.New(database, compaction.DefaultConfig(), nil, nil)

	t.Cleanup(func() {
		cancel()
		limiters.Stop()
		database.Close()
	})

	a := New(hub, database, compactor, limiters, nil, nil)
	return &testAPI{API: a, store: database, handler: a.Router()}
}

func (ta *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ta.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

func freehand(id string, points ...float64) protocol.Shape {
	return protocol.Shape{
		ID:          id,
		Kind:        protocol.KindFreehand,
		X:           points[0],
		Y:           points[1],
		Points:      points,
		StrokeColor: "#000000",
		StrokeWidth: 3,
	}
}

func TestHealthHandler(t *testing.T) {
	api := setupTestAPI(t)

	w := api.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]any
	decode(t, w, &response)
	if response["status"] != "ok" {
		t.Errorf("Expected status 'ok', got '%v'", response["status"])
	}
}

func TestStatsHandler(t *testing.T) {
	api := setupTestAPI(t)
	ctx := context.Background()

	if err := api.store.Commit(ctx, "room-a", freehand("s1", 0, 0, 1, 1)); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if err := api.store.Commit(ctx, "room-a", freehand("s1", 0, 0, 2, 2)); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	w := api.do(t, http.MethodGet, "/api/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response map[string]any
	decode(t, w, &response)

	for _, key := range []string{"active_rooms", "active_sessions", "total_rooms"} {
		if _, ok := response[key]; !ok {
			t.Errorf("Response should contain '%s'", key)
		}
	}
	if response["total_shapes"] != float64(1) {
		t.Errorf("Expected 1 stored shape, got %v", response["total_shapes"])
	}
	if response["total_commits"] != float64(2) {
		t.Errorf("Expected 2 commit records, got %v", response["total_commits"])
	}
}

func TestCreateRoom(t *testing.T) {
	api := setupTestAPI(t)

	tests := []struct {
		name           string
		body           map[string]string
		expectedStatus int
	}{
		{
			name:           "Create room with ID and name",
			body:           map[string]string{"id": "test-room-1", "name": "Test Room 1"},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "Create room with only ID",
			body:           map[string]string{"id": "test-room-2"},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "Creating an existing room is idempotent",
			body:           map[string]string{"id": "test-room-1"},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "Missing ID should fail",
			body:           map[string]string{"name": "No ID Room"},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := api.do(t, http.MethodPost, "/api/rooms", tt.body)
			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}
		})
	}
}

func TestGetRoom(t *testing.T) {
	api := setupTestAPI(t)
	ctx := context.Background()

	roomID := "get-test-room"
	if err := api.store.CreateRoom(ctx, roomID, "Get Test Room"); err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}
	if err := api.store.Commit(ctx, roomID, freehand("s1", 0, 0)); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	w := api.do(t, http.MethodGet, "/api/rooms/"+roomID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response RoomResponse
	decode(t, w, &response)
	if response.ID != roomID {
		t.Errorf("Expected room ID '%s', got '%v'", roomID, response.ID)
	}
	if response.ShapeCount != 1 {
		t.Errorf("Expected shape count 1, got %d", response.ShapeCount)
	}
}

func TestGetRoomNotFound(t *testing.T) {
	api := setupTestAPI(t)

	w := api.do(t, http.MethodGet, "/api/rooms/non-existent", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestListRoomsPagination(t *testing.T) {
	api := setupTestAPI(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		api.store.CreateRoom(ctx, fmt.Sprintf("page-room-%d", i), "")
	}

	w := api.do(t, http.MethodGet, "/api/rooms?limit=3", nil)
	var response struct {
		Rooms []RoomResponse `json:"rooms"`
	}
	decode(t, w, &response)
	if len(response.Rooms) != 3 {
		t.Errorf("Expected 3 rooms with limit, got %d", len(response.Rooms))
	}

	w = api.do(t, http.MethodGet, "/api/rooms?limit=3&offset=8", nil)
	decode(t, w, &response)
	if len(response.Rooms) != 2 {
		t.Errorf("Expected 2 rooms at the end, got %d", len(response.Rooms))
	}
}

func TestDeleteRoom(t *testing.T) {
	api := setupTestAPI(t)
	ctx := context.Background()

	api.store.CreateRoom(ctx, "delete-me", "")

	w := api.do(t, http.MethodDelete, "/api/rooms/delete-me", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	w = api.do(t, http.MethodGet, "/api/rooms/delete-me", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected deleted room to be gone, got %d", w.Code)
	}
}

func TestCommitAndSnapshot(t *testing.T) {
	api := setupTestAPI(t)

	rect := protocol.Record{
		RoomID: "R",
		Shape: protocol.Shape{
			ID: "r1", Kind: protocol.KindRectangle, X: 10, Y: 10, Width: 50, Height: 30,
			StrokeColor: "#000000", StrokeWidth: 3, FillColor: "transparent",
		},
	}
	if w := api.do(t, http.MethodPut, "/api/rooms/R/shapes/r1", rect); w.Code != http.StatusOK {
		t.Fatalf("Expected commit to succeed, got %d: %s", w.Code, w.Body.String())
	}

	// Ids may be left out of the body
	path := protocol.Record{Shape: freehand("", 0, 0, 5, 5)}
	if w := api.do(t, http.MethodPut, "/api/rooms/R/shapes/p1", path); w.Code != http.StatusOK {
		t.Fatalf("Expected commit to succeed, got %d: %s", w.Code, w.Body.String())
	}

	w := api.do(t, http.MethodGet, "/api/rooms/R/shapes", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var records []protocol.Record
	decode(t, w, &records)
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if records[0].ID != "r1" || records[0].Width != 50 || records[0].Height != 30 {
		t.Errorf("Unexpected first record %+v", records[0])
	}
	if records[1].ID != "p1" || records[1].RoomID != "R" || len(records[1].Points) != 4 {
		t.Errorf("Unexpected second record %+v", records[1])
	}
}

func TestSnapshotOfUnknownRoomIsEmpty(t *testing.T) {
	api := setupTestAPI(t)

	w := api.do(t, http.MethodGet, "/api/rooms/nowhere/shapes", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if got := bytes.TrimSpace(w.Body.Bytes()); string(got) != "[]" {
		t.Errorf("Expected empty array, got %s", got)
	}
}

func TestCommitRejectsBadRequests(t *testing.T) {
	api := setupTestAPI(t)

	tests := []struct {
		name string
		path string
		body any
	}{
		{"room mismatch", "/api/rooms/R/shapes/s1", protocol.Record{RoomID: "other", Shape: freehand("s1", 0, 0)}},
		{"shape mismatch", "/api/rooms/R/shapes/s1", protocol.Record{Shape: freehand("s2", 0, 0)}},
		{"unknown kind", "/api/rooms/R/shapes/s1", map[string]any{"kind": "star", "x": 1, "y": 1}},
		{"not json", "/api/rooms/R/shapes/s1", "nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := api.do(t, http.MethodPut, tt.path, tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", w.Code)
			}
		})
	}
}

func TestCommitRateLimited(t *testing.T) {
	api := setupTestAPI(t)
	api.limiters = ratelimit.NewClientLimiters(0.001, 3)
	defer api.limiters.Stop()

	var last int
	for i := 0; i < 4; i++ {
		w := api.do(t, http.MethodPut, fmt.Sprintf("/api/rooms/R/shapes/s%d", i), protocol.Record{Shape: freehand("", 0, 0)})
		last = w.Code
		if i < 3 && w.Code != http.StatusOK {
			t.Fatalf("Commit %d should be within burst, got %d", i, w.Code)
		}
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("Expected status 429 after burst, got %d", last)
	}
}

func TestClearShapes(t *testing.T) {
	api := setupTestAPI(t)
	ctx := context.Background()

	api.store.Commit(ctx, "R", freehand("s1", 0, 0))
	api.store.Commit(ctx, "other", freehand("s1", 0, 0))

	if w := api.do(t, http.MethodDelete, "/api/rooms/R/shapes", nil); w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	shapes, _ := api.store.GetSnapshot(ctx, "R")
	if len(shapes) != 0 {
		t.Errorf("Expected cleared room, got %d shapes", len(shapes))
	}
	shapes, _ = api.store.GetSnapshot(ctx, "other")
	if len(shapes) != 1 {
		t.Errorf("Other rooms must be untouched, got %d shapes", len(shapes))
	}
}

func TestCompactRoom(t *testing.T) {
	api := setupTestAPI(t)
	ctx := context.Background()

	api.store.Commit(ctx, "R", freehand("s1", 0, 0))
	api.store.Commit(ctx, "R", freehand("s1", 0, 0, 1, 1))
	api.store.Commit(ctx, "R", freehand("s1", 0, 0, 1, 1, 2, 2))

	w := api.do(t, http.MethodPost, "/api/rooms/R/compact", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response map[string]any
	decode(t, w, &response)
	if response["pruned"] != float64(2) {
		t.Errorf("Expected 2 pruned records, got %v", response["pruned"])
	}

	shapes, _ := api.store.GetSnapshot(ctx, "R")
	if len(shapes) != 1 || len(shapes[0].Points) != 6 {
		t.Errorf("Compaction must keep the latest shape, got %+v", shapes)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	api := setupTestAPI(t)

	w := api.do(t, http.MethodPatch, "/api/rooms", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	api := setupTestAPI(t)

	w := api.do(t, http.MethodOptions, "/api/rooms/R/shapes/s1", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Expected wildcard origin, got %q", got)
	}
}
