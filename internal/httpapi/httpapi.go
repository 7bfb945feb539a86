package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dcrawley/reveald/internal/core/control"
	"github.com/dcrawley/reveald/internal/core/model"
	"github.com/dcrawley/reveald/internal/core/state"
)

// Coordinator is the slice of the poll coordinator the API reads from.
type Coordinator interface {
	Snapshot() *model.Snapshot
	LastSuccess() (bool, error)
	RequestRefresh()
}

// Dispatcher executes control actions on behalf of API callers.
type Dispatcher interface {
	ApplySetting(ctx context.Context, cameraID string, p control.Patch) error
	RequestPhoto(ctx context.Context, cameraID string) error
	RequestVideo(ctx context.Context, cameraID string) error
}

// Server is the HTTP API server.
type Server struct {
	coord    Coordinator
	dispatch Dispatcher
	bus      *state.EventBus
	corsAll  bool
	log      *slog.Logger
	mux      *http.ServeMux
	upgrader websocket.Upgrader
}

// NewServer creates a new HTTP API server.
func NewServer(coord Coordinator, dispatch Dispatcher, bus *state.EventBus, corsAll bool, log *slog.Logger) *Server {
	s := &Server{
		coord:    coord,
		dispatch: dispatch,
		bus:      bus,
		corsAll:  corsAll,
		log:      log,
		mux:      http.NewServeMux(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(_ *http.Request) bool { return true },
		},
	}
	s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	if !s.corsAll {
		return s.mux
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		s.mux.ServeHTTP(w, r)
	})
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/status", s.handleGetStatus)
	s.mux.HandleFunc("GET /api/snapshot", s.handleGetSnapshot)
	s.mux.HandleFunc("GET /api/cameras", s.handleGetCameras)
	s.mux.HandleFunc("GET /api/cameras/{id}", s.handleGetCamera)
	s.mux.HandleFunc("GET /api/photos", s.handleGetPhotos)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)

	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	s.mux.HandleFunc("POST /api/cameras/{id}/photo-request", s.handlePhotoRequest)
	s.mux.HandleFunc("POST /api/cameras/{id}/video-request", s.handleVideoRequest)
	s.mux.HandleFunc("POST /api/cameras/{id}/settings", s.handleSettings)
}

func (s *Server) corsHeaders(w http.ResponseWriter) {
	if s.corsAll {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	s.corsHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.corsHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// --- Handlers ---

type statusResponse struct {
	Connected bool       `json:"connected"`
	Cameras   int        `json:"cameras"`
	FetchedAt *time.Time `json:"fetched_at,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

func (s *Server) handleGetStatus(w http.ResponseWriter, _ *http.Request) {
	ok, lastErr := s.coord.LastSuccess()

	resp := statusResponse{Connected: ok}
	if snap := s.coord.Snapshot(); snap != nil {
		resp.Cameras = len(snap.Cameras)
		resp.FetchedAt = &snap.FetchedAt
	}
	if lastErr != nil {
		resp.LastError = lastErr.Error()
	}
	s.writeJSON(w, resp)
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, _ *http.Request) {
	snap := s.coord.Snapshot()
	if snap == nil {
		s.writeError(w, http.StatusServiceUnavailable, "no snapshot yet")
		return
	}
	s.writeJSON(w, snap)
}

func (s *Server) handleGetCameras(w http.ResponseWriter, _ *http.Request) {
	snap := s.coord.Snapshot()
	if snap == nil {
		s.writeError(w, http.StatusServiceUnavailable, "no snapshot yet")
		return
	}
	s.writeJSON(w, map[string]interface{}{"cameras": snap.Cameras})
}

func (s *Server) handleGetCamera(w http.ResponseWriter, r *http.Request) {
	snap := s.coord.Snapshot()
	if snap == nil {
		s.writeError(w, http.StatusServiceUnavailable, "no snapshot yet")
		return
	}
	cam := snap.Camera(r.PathValue("id"))
	if cam == nil {
		s.writeError(w, http.StatusNotFound, "camera not found")
		return
	}
	s.writeJSON(w, cam)
}

func (s *Server) handleGetPhotos(w http.ResponseWriter, r *http.Request) {
	snap := s.coord.Snapshot()
	if snap == nil {
		s.writeError(w, http.StatusServiceUnavailable, "no snapshot yet")
		return
	}

	photos := snap.RecentPhotos
	if cameraID := r.URL.Query().Get("camera_id"); cameraID != "" {
		filtered := make([]model.Photo, 0, len(photos))
		for _, p := range photos {
			if p.CameraID == cameraID {
				filtered = append(filtered, p)
			}
		}
		photos = filtered
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		if n < len(photos) {
			photos = photos[:n]
		}
	}
	s.writeJSON(w, map[string]interface{}{"photos": photos})
}

func (s *Server) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	s.coord.RequestRefresh()
	s.writeJSON(w, map[string]string{"status": "refresh scheduled"})
}

func (s *Server) handlePhotoRequest(w http.ResponseWriter, r *http.Request) {
	if err := s.dispatch.RequestPhoto(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleVideoRequest(w http.ResponseWriter, r *http.Request) {
	if err := s.dispatch.RequestVideo(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, map[string]string{"status": "ok"})
}

type settingsBody struct {
	Capability string `json:"capability"`
	Value      string `json:"value"`
	Count      int    `json:"count"`
	Interval   int    `json:"interval"`
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	var body settingsBody
	if err := s.readJSON(r, &body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	patch, err := resolvePatch(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.dispatch.ApplySetting(r.Context(), r.PathValue("id"), patch); err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, map[string]string{"status": "ok"})
}

// resolvePatch maps the request body onto a capability patch.
func resolvePatch(body settingsBody) (control.Patch, error) {
	switch body.Capability {
	case "motion_sensitivity":
		level, err := strconv.Atoi(body.Value)
		if err != nil {
			return control.Patch{}, fmt.Errorf("motion_sensitivity value must be numeric: %w", err)
		}
		return control.MotionSensitivity(level)
	case "video_length":
		seconds, err := strconv.Atoi(body.Value)
		if err != nil {
			return control.Patch{}, fmt.Errorf("video_length value must be numeric: %w", err)
		}
		return control.VideoLength(seconds)
	case "camera_mode":
		return control.CameraMode(body.Value)
	case "night_mode":
		return control.NightMode(body.Value)
	case "flash_type":
		return control.FlashType(body.Value)
	case "multi_shot":
		return control.MultiShot(body.Count, body.Interval)
	case "image_size":
		return control.ImageSize(body.Value)
	case "video_size":
		return control.VideoSize(body.Value)
	}
	return control.Patch{}, fmt.Errorf("unknown capability %q", body.Capability)
}

// --- Event stream ---

// handleEvents upgrades to a WebSocket and relays bus events as JSON until
// the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	evtCh, unsub := s.bus.Subscribe(64)
	defer unsub()

	// Reader goroutine: detect client disconnect and honor pings.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case evt, ok := <-evtCh:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(evt); err != nil {
				s.log.Debug("websocket write failed, closing", "error", err)
				return
			}
		}
	}
}
