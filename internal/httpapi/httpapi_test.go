package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcrawley/reveald/internal/core/control"
	"github.com/dcrawley/reveald/internal/core/model"
	"github.com/dcrawley/reveald/internal/core/state"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeCoord struct {
	snap     *model.Snapshot
	ok       bool
	err      error
	refreshs int
}

func (f *fakeCoord) Snapshot() *model.Snapshot  { return f.snap }
func (f *fakeCoord) LastSuccess() (bool, error) { return f.ok, f.err }
func (f *fakeCoord) RequestRefresh()            { f.refreshs++ }

type fakeDispatch struct {
	settingID string
	patch     control.Patch
	captures  []string
	err       error
}

func (f *fakeDispatch) ApplySetting(_ context.Context, id string, p control.Patch) error {
	f.settingID = id
	f.patch = p
	return f.err
}

func (f *fakeDispatch) RequestPhoto(_ context.Context, id string) error {
	f.captures = append(f.captures, "photo:"+id)
	return f.err
}

func (f *fakeDispatch) RequestVideo(_ context.Context, id string) error {
	f.captures = append(f.captures, "video:"+id)
	return f.err
}

func testSnapshot() *model.Snapshot {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return &model.Snapshot{
		Cameras: []model.Camera{
			{ID: "CAM1", Name: "Ridge"},
			{ID: "CAM2", Name: "Creek"},
		},
		RecentPhotos: []model.Photo{
			{ID: "p1", CameraID: "CAM1"},
			{ID: "p2", CameraID: "CAM2"},
			{ID: "p3", CameraID: "CAM1"},
		},
		FetchedAt: now,
	}
}

func newTestServer(coord *fakeCoord, dispatch *fakeDispatch) (*Server, *state.EventBus) {
	bus := state.NewEventBus(testLogger())
	return NewServer(coord, dispatch, bus, false, testLogger()), bus
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	out := map[string]json.RawMessage{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestGetStatus(t *testing.T) {
	coord := &fakeCoord{snap: testSnapshot(), ok: true}
	s, _ := newTestServer(coord, &fakeDispatch{})

	rec, out := doJSON(t, s.Handler(), http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `true`, string(out["connected"]))
	assert.JSONEq(t, `2`, string(out["cameras"]))
}

func TestGetStatusWithError(t *testing.T) {
	coord := &fakeCoord{ok: false, err: errors.New("vendor down")}
	s, _ := newTestServer(coord, &fakeDispatch{})

	rec, out := doJSON(t, s.Handler(), http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `false`, string(out["connected"]))
	assert.JSONEq(t, `"vendor down"`, string(out["last_error"]))
}

func TestSnapshotUnavailable(t *testing.T) {
	s, _ := newTestServer(&fakeCoord{}, &fakeDispatch{})

	rec, out := doJSON(t, s.Handler(), http.MethodGet, "/api/snapshot", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `"no snapshot yet"`, string(out["error"]))
}

func TestGetCamera(t *testing.T) {
	coord := &fakeCoord{snap: testSnapshot(), ok: true}
	s, _ := newTestServer(coord, &fakeDispatch{})

	rec, out := doJSON(t, s.Handler(), http.MethodGet, "/api/cameras/CAM2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `"Creek"`, string(out["name"]))

	rec, _ = doJSON(t, s.Handler(), http.MethodGet, "/api/cameras/NOPE", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetPhotosFiltered(t *testing.T) {
	coord := &fakeCoord{snap: testSnapshot(), ok: true}
	s, _ := newTestServer(coord, &fakeDispatch{})

	rec, out := doJSON(t, s.Handler(), http.MethodGet, "/api/photos?camera_id=CAM1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var photos []model.Photo
	require.NoError(t, json.Unmarshal(out["photos"], &photos))
	require.Len(t, photos, 2)
	assert.Equal(t, "p1", photos[0].ID)
	assert.Equal(t, "p3", photos[1].ID)

	rec, out = doJSON(t, s.Handler(), http.MethodGet, "/api/photos?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(out["photos"], &photos))
	assert.Len(t, photos, 1)

	rec, _ = doJSON(t, s.Handler(), http.MethodGet, "/api/photos?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostRefresh(t *testing.T) {
	coord := &fakeCoord{snap: testSnapshot(), ok: true}
	s, _ := newTestServer(coord, &fakeDispatch{})

	rec, _ := doJSON(t, s.Handler(), http.MethodPost, "/api/refresh", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, coord.refreshs)
}

func TestCaptureEndpoints(t *testing.T) {
	dispatch := &fakeDispatch{}
	s, _ := newTestServer(&fakeCoord{}, dispatch)

	rec, _ := doJSON(t, s.Handler(), http.MethodPost, "/api/cameras/CAM1/photo-request", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = doJSON(t, s.Handler(), http.MethodPost, "/api/cameras/CAM1/video-request", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []string{"photo:CAM1", "video:CAM1"}, dispatch.captures)
}

func TestCaptureVendorFailure(t *testing.T) {
	dispatch := &fakeDispatch{err: errors.New("rejected")}
	s, _ := newTestServer(&fakeCoord{}, dispatch)

	rec, out := doJSON(t, s.Handler(), http.MethodPost, "/api/cameras/CAM1/photo-request", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `"rejected"`, string(out["error"]))
}

func TestPostSettings(t *testing.T) {
	dispatch := &fakeDispatch{}
	s, _ := newTestServer(&fakeCoord{}, dispatch)

	body := map[string]any{"capability": "night_mode", "value": "min-blur"}
	rec, _ := doJSON(t, s.Handler(), http.MethodPost, "/api/cameras/CAM1/settings", body)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "CAM1", dispatch.settingID)
	assert.Equal(t, "$NM00*3#", dispatch.patch.Code)
}

func TestPostSettingsMultiShot(t *testing.T) {
	dispatch := &fakeDispatch{}
	s, _ := newTestServer(&fakeCoord{}, dispatch)

	body := map[string]any{"capability": "multi_shot", "count": 3, "interval": 5}
	rec, _ := doJSON(t, s.Handler(), http.MethodPost, "/api/cameras/CAM1/settings", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "$MT00*3*5#", dispatch.patch.Code)
}

func TestPostSettingsRejectsBadInput(t *testing.T) {
	s, _ := newTestServer(&fakeCoord{}, &fakeDispatch{})

	tests := []struct {
		name string
		body map[string]any
	}{
		{"unknown capability", map[string]any{"capability": "teleport"}},
		{"non-numeric level", map[string]any{"capability": "motion_sensitivity", "value": "high"}},
		{"out of range", map[string]any{"capability": "video_length", "value": "600"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec, _ := doJSON(t, s.Handler(), http.MethodPost, "/api/cameras/CAM1/settings", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestCORSDisabledByDefault(t *testing.T) {
	s, _ := newTestServer(&fakeCoord{snap: testSnapshot(), ok: true}, &fakeDispatch{})

	rec, _ := doJSON(t, s.Handler(), http.MethodGet, "/api/status", nil)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSPreflight(t *testing.T) {
	bus := state.NewEventBus(testLogger())
	s := NewServer(&fakeCoord{}, &fakeDispatch{}, bus, true, testLogger())

	req := httptest.NewRequest(http.MethodOptions, "/api/status", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestEventStream(t *testing.T) {
	coord := &fakeCoord{snap: testSnapshot(), ok: true}
	s, bus := newTestServer(coord, &fakeDispatch{})

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the handler a moment to subscribe before publishing.
	require.Eventually(t, func() bool {
		bus.Publish(state.Event{Type: state.EventSnapshotUpdate, Data: map[string]any{"cameras": 2}})

		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		var evt state.Event
		return conn.ReadJSON(&evt) == nil && evt.Type == state.EventSnapshotUpdate
	}, 2*time.Second, 50*time.Millisecond)
}
