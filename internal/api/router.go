package api

import (
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router returns the full HTTP surface: health, stats, room and shape
// administration, metrics and the WebSocket endpoint.
func (a *API) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(a.accessLog)

	r.Methods(http.MethodGet).Path("/health").HandlerFunc(a.HealthHandler)
	r.Methods(http.MethodGet).Path("/api/stats").HandlerFunc(a.StatsHandler)
	r.Methods(http.MethodGet).Path("/metrics").Handler(promhttp.Handler())
	r.Methods(http.MethodGet).Path("/ws").HandlerFunc(a.WebSocketHandler)

	r.Methods(http.MethodGet).Path("/api/rooms").HandlerFunc(a.ListRoomsHandler)
	r.Methods(http.MethodPost).Path("/api/rooms").HandlerFunc(a.CreateRoomHandler)
	r.Methods(http.MethodGet).Path("/api/rooms/{roomId}").HandlerFunc(a.GetRoomHandler)
	r.Methods(http.MethodDelete).Path("/api/rooms/{roomId}").HandlerFunc(a.DeleteRoomHandler)
	r.Methods(http.MethodGet).Path("/api/rooms/{roomId}/shapes").HandlerFunc(a.SnapshotHandler)
	r.Methods(http.MethodDelete).Path("/api/rooms/{roomId}/shapes").HandlerFunc(a.ClearShapesHandler)
	r.Methods(http.MethodPut).Path("/api/rooms/{roomId}/shapes/{shapeId}").HandlerFunc(a.CommitHandler)
	r.Methods(http.MethodPost).Path("/api/rooms/{roomId}/compact").HandlerFunc(a.CompactHandler)

	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		a.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		a.errorResponse(w, http.StatusNotFound, "Not found")
	})

	return corsMiddleware(r)
}

func (a *API) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		a.logger.Info("handled", "method", r.Method, "url", r.URL.String(), "duration", m.Duration, "status", m.Code)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
