package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/mitmirani09/syncboard/internal/compaction"
	"github.com/mitmirani09/syncboard/internal/db"
	"github.com/mitmirani09/syncboard/internal/metrics"
	"github.com/mitmirani09/syncboard/internal/protocol"
	"github.com/mitmirani09/syncboard/internal/ratelimit"
	"github.com/mitmirani09/syncboard/internal/ws"
)

// Maximum accepted size of a committed record body
const maxRecordSize = 4 << 20

type API struct {
	hub       *ws.Hub
	store     db.Store
	compactor *compaction.Service
	limiters  *ratelimit.ClientLimiters
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// New builds the HTTP API. compactor and limiters may be nil, which
// disables forced compaction and commit rate limiting.
func New(hub *ws.Hub, store db.Store, compactor *compaction.Service, limiters *ratelimit.ClientLimiters, logger *slog.Logger, m *metrics.Metrics) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		hub:       hub,
		store:     store,
		compactor: compactor,
		limiters:  limiters,
		logger:    logger.With("component", "api"),
		metrics:   m,
	}
}

func (a *API) jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.logger.Error("encoding JSON response", "error", err)
	}
}

func (a *API) errorResponse(w http.ResponseWriter, status int, message string) {
	a.jsonResponse(w, status, map[string]string{"error": message})
}

func (a *API) okResponse(w http.ResponseWriter) {
	a.jsonResponse(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	a.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"active_rooms":    a.hub.GetRoomCount(),
		"active_sessions": a.hub.GetClientCount(),
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	}

	dbStats, err := a.store.GetStats(r.Context())
	if err == nil {
		stats["total_rooms"] = dbStats.RoomCount
		stats["total_shapes"] = dbStats.ShapeCount
		stats["total_commits"] = dbStats.CommitCount
	} else {
		a.logger.Warn("reading store stats", "error", err)
	}

	a.jsonResponse(w, http.StatusOK, stats)
}

// Room handlers

type RoomResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	ActiveUsers int       `json:"active_users"`
	ShapeCount  int       `json:"shape_count,omitempty"`
}

type CreateRoomRequest struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

func (a *API) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	rooms, err := a.store.ListRooms(r.Context(), limit, offset)
	if err != nil {
		a.logger.Error("listing rooms", "error", err)
		a.errorResponse(w, http.StatusInternalServerError, "Failed to list rooms")
		return
	}

	activeRooms := a.hub.GetActiveRooms()

	response := make([]RoomResponse, len(rooms))
	for i, room := range rooms {
		response[i] = RoomResponse{
			ID:          room.ID,
			Name:        room.Name,
			CreatedAt:   room.CreatedAt,
			UpdatedAt:   room.UpdatedAt,
			ActiveUsers: activeRooms[room.ID],
		}
	}

	a.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"rooms":  response,
		"limit":  limit,
		"offset": offset,
	})
}

func (a *API) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.ID == "" {
		a.errorResponse(w, http.StatusBadRequest, "Room ID is required")
		return
	}

	if err := a.store.CreateRoom(r.Context(), req.ID, req.Name); err != nil {
		a.logger.Error("creating room", "room", req.ID, "error", err)
		a.errorResponse(w, http.StatusInternalServerError, "Failed to create room")
		return
	}

	room, err := a.store.GetRoom(r.Context(), req.ID)
	if err != nil {
		a.errorResponse(w, http.StatusInternalServerError, "Failed to get room")
		return
	}

	a.jsonResponse(w, http.StatusCreated, RoomResponse{
		ID:        room.ID,
		Name:      room.Name,
		CreatedAt: room.CreatedAt,
		UpdatedAt: room.UpdatedAt,
	})
}

func (a *API) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]

	room, err := a.store.GetRoom(r.Context(), roomID)
	if errors.Is(err, db.ErrNotFound) {
		a.errorResponse(w, http.StatusNotFound, "Room not found")
		return
	}
	if err != nil {
		a.errorResponse(w, http.StatusInternalServerError, "Failed to get room")
		return
	}

	shapeCount, _ := a.store.ShapeCount(r.Context(), roomID)
	activeRooms := a.hub.GetActiveRooms()

	a.jsonResponse(w, http.StatusOK, RoomResponse{
		ID:          room.ID,
		Name:        room.Name,
		CreatedAt:   room.CreatedAt,
		UpdatedAt:   room.UpdatedAt,
		ActiveUsers: activeRooms[roomID],
		ShapeCount:  shapeCount,
	})
}

func (a *API) DeleteRoomHandler(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]

	if err := a.store.DeleteRoom(r.Context(), roomID); err != nil {
		a.logger.Error("deleting room", "room", roomID, "error", err)
		a.errorResponse(w, http.StatusInternalServerError, "Failed to delete room")
		return
	}

	a.jsonResponse(w, http.StatusOK, map[string]string{"message": "Room deleted"})
}

// Shape handlers

// SnapshotHandler returns the room's committed shapes in board order. An
// unknown room has an empty snapshot.
func (a *API) SnapshotHandler(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]

	shapes, err := a.store.GetSnapshot(r.Context(), roomID)
	if err != nil {
		a.logger.Error("reading snapshot", "room", roomID, "error", err)
		a.errorResponse(w, http.StatusInternalServerError, "Failed to read shapes")
		return
	}

	records := make([]protocol.Record, len(shapes))
	for i, shape := range shapes {
		records[i] = protocol.Record{RoomID: roomID, Shape: shape}
	}
	a.jsonResponse(w, http.StatusOK, records)
}

// CommitHandler stores one finished shape. Ids in the body are optional
// but must agree with the path when present.
func (a *API) CommitHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	roomID, shapeID := vars["roomId"], vars["shapeId"]

	if a.limiters != nil && !a.limiters.Allow(remoteHost(r)) {
		a.metrics.RecordDrop("commit_rate_limited")
		a.errorResponse(w, http.StatusTooManyRequests, "Too many commits")
		return
	}

	var record protocol.Record
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRecordSize)).Decode(&record); err != nil {
		a.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if record.RoomID != "" && record.RoomID != roomID {
		a.errorResponse(w, http.StatusBadRequest, "roomId does not match path")
		return
	}
	if record.ID != "" && record.ID != shapeID {
		a.errorResponse(w, http.StatusBadRequest, "shapeId does not match path")
		return
	}
	record.ID = shapeID

	err := a.store.Commit(r.Context(), roomID, record.Shape)
	a.metrics.RecordCommit(err)
	if errors.Is(err, db.ErrInvalidRecord) {
		a.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		a.logger.Error("committing shape", "room", roomID, "shape", shapeID, "error", err)
		a.errorResponse(w, http.StatusInternalServerError, "Failed to commit shape")
		return
	}

	a.okResponse(w)
}

func (a *API) ClearShapesHandler(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]

	if err := a.store.Clear(r.Context(), roomID); err != nil {
		a.logger.Error("clearing room", "room", roomID, "error", err)
		a.errorResponse(w, http.StatusInternalServerError, "Failed to clear shapes")
		return
	}

	a.okResponse(w)
}

func (a *API) CompactHandler(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]

	if a.compactor == nil {
		a.errorResponse(w, http.StatusServiceUnavailable, "Compaction is not available")
		return
	}

	pruned, err := a.compactor.CompactNow(r.Context(), roomID)
	if err != nil {
		a.logger.Error("compacting room", "room", roomID, "error", err)
		a.errorResponse(w, http.StatusInternalServerError, "Failed to compact room")
		return
	}

	a.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"room_id": roomID,
		"pruned":  pruned,
	})
}

func (a *API) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	ws.ServeWs(a.hub, w, r)
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
