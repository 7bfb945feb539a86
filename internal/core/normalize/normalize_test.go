package normalize

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcrawley/reveald/internal/core/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeFetcher serves canned vendor responses. The err maps inject
// per-camera transport failures.
type fakeFetcher struct {
	cameras   []model.RawCamera
	latest    map[string]*model.RawPhoto
	latestErr map[string]error
	stats     map[string]*model.Statistics
	statsErr  map[string]error
	recent    []model.RawPhoto
	recentErr error
}

func (f *fakeFetcher) ListCameras(_ context.Context) ([]model.RawCamera, error) {
	return f.cameras, nil
}

func (f *fakeFetcher) LatestPhoto(_ context.Context, cameraID string) (*model.RawPhoto, error) {
	if err := f.latestErr[cameraID]; err != nil {
		return nil, err
	}
	return f.latest[cameraID], nil
}

func (f *fakeFetcher) CameraStats(_ context.Context, cameraID string) (*model.Statistics, error) {
	if err := f.statsErr[cameraID]; err != nil {
		return nil, err
	}
	return f.stats[cameraID], nil
}

func (f *fakeFetcher) ListPhotos(_ context.Context, _, _ int, _ string) ([]model.RawPhoto, error) {
	return f.recent, f.recentErr
}

func TestResolveWeather(t *testing.T) {
	t.Run("weatherData container", func(t *testing.T) {
		w := resolveWeather(model.RawPhoto{
			WeatherData: map[string]any{"currentTemp": 41.0, "weather": "Cloudy"},
		})
		require.NotNil(t, w)
		require.NotNil(t, w.Temperature)
		assert.Equal(t, 41.0, *w.Temperature)
		assert.Equal(t, "Cloudy", w.Conditions)
	})

	t.Run("weatherRecord fallback", func(t *testing.T) {
		w := resolveWeather(model.RawPhoto{
			WeatherRecord: map[string]any{"temperature": 28.5},
		})
		require.NotNil(t, w)
		require.NotNil(t, w.Temperature)
		assert.Equal(t, 28.5, *w.Temperature)
	})

	t.Run("weather fallback", func(t *testing.T) {
		w := resolveWeather(model.RawPhoto{
			Weather: map[string]any{"temp": 63.0},
		})
		require.NotNil(t, w)
		require.NotNil(t, w.Temperature)
		assert.Equal(t, 63.0, *w.Temperature)
	})

	t.Run("weatherData wins when all containers present", func(t *testing.T) {
		w := resolveWeather(model.RawPhoto{
			WeatherData:   map[string]any{"currentTemp": 10.0},
			WeatherRecord: map[string]any{"currentTemp": 20.0},
			Weather:       map[string]any{"currentTemp": 30.0},
		})
		require.NotNil(t, w)
		require.NotNil(t, w.Temperature)
		assert.Equal(t, 10.0, *w.Temperature)
	})

	t.Run("currentTemp beats temperature beats temp", func(t *testing.T) {
		w := resolveWeather(model.RawPhoto{
			WeatherData: map[string]any{"temp": 3.0, "temperature": 2.0, "currentTemp": 1.0},
		})
		require.NotNil(t, w)
		require.NotNil(t, w.Temperature)
		assert.Equal(t, 1.0, *w.Temperature)
	})

	t.Run("nested 12 hour range", func(t *testing.T) {
		w := resolveWeather(model.RawPhoto{
			WeatherData: map[string]any{
				"temperatureRange12Hours": map[string]any{"min": 22.0, "max": 47.0},
			},
		})
		require.NotNil(t, w)
		require.NotNil(t, w.TempMin12h)
		require.NotNil(t, w.TempMax12h)
		assert.Equal(t, 22.0, *w.TempMin12h)
		assert.Equal(t, 47.0, *w.TempMax12h)
	})

	t.Run("flat 12 hour fields beat the nested range", func(t *testing.T) {
		w := resolveWeather(model.RawPhoto{
			WeatherData: map[string]any{
				"tempMin12hr":             18.0,
				"tempMax12hr":             51.0,
				"temperatureRange12Hours": map[string]any{"min": 0.0, "max": 0.0},
			},
		})
		require.NotNil(t, w)
		assert.Equal(t, 18.0, *w.TempMin12h)
		assert.Equal(t, 51.0, *w.TempMax12h)
	})

	t.Run("vendor typo departure alias", func(t *testing.T) {
		w := resolveWeather(model.RawPhoto{
			WeatherData: map[string]any{"tempDepature24hr": -4.0},
		})
		require.NotNil(t, w)
		require.NotNil(t, w.TempDeparture24h)
		assert.Equal(t, -4.0, *w.TempDeparture24h)
	})

	t.Run("wind direction as string", func(t *testing.T) {
		w := resolveWeather(model.RawPhoto{
			WeatherData: map[string]any{"windDirection": "NNW", "windSpeed": 7.0},
		})
		require.NotNil(t, w)
		assert.Equal(t, "NNW", w.WindDirection)
		require.NotNil(t, w.WindSpeed)
		assert.Equal(t, 7.0, *w.WindSpeed)
	})

	t.Run("wind direction as object", func(t *testing.T) {
		w := resolveWeather(model.RawPhoto{
			WeatherData: map[string]any{
				"windDirection": map[string]any{
					"cardinalLabel": "SW",
					"degrees":       225.0,
					"speed":         12.0,
				},
			},
		})
		require.NotNil(t, w)
		assert.Equal(t, "SW", w.WindDirection)
		require.NotNil(t, w.WindDegrees)
		assert.Equal(t, 225.0, *w.WindDegrees)
		require.NotNil(t, w.WindSpeed)
		assert.Equal(t, 12.0, *w.WindSpeed)
	})

	t.Run("no weather block", func(t *testing.T) {
		assert.Nil(t, resolveWeather(model.RawPhoto{}))
	})
}

func TestParseServingCell(t *testing.T) {
	t.Run("verizon cell", func(t *testing.T) {
		cell := ParseServingCell("LTE, 311480, B13, 700, -79, -110, -12")
		require.NotNil(t, cell)
		assert.Equal(t, "LTE", cell.NetworkType)
		assert.Equal(t, "311480", cell.OperatorCode)
		assert.Equal(t, "Verizon", cell.CarrierName)
		assert.Equal(t, "B13", cell.Band)
		assert.Equal(t, 700, cell.FrequencyMHz)
		assert.Equal(t, -79, cell.RSSI)
		assert.Equal(t, -110, cell.RSRP)
		assert.Equal(t, -12, cell.RSRQ)
		assert.Equal(t, "Good", cell.Quality)
	})

	t.Run("unknown operator", func(t *testing.T) {
		cell := ParseServingCell("LTE,999999,B2,1900,-65,-95,-10")
		require.NotNil(t, cell)
		assert.Equal(t, "Unknown (999999)", cell.CarrierName)
		assert.Equal(t, "Excellent", cell.Quality)
	})

	t.Run("malformed string", func(t *testing.T) {
		assert.Nil(t, ParseServingCell("LTE,311480,B13"))
		assert.Nil(t, ParseServingCell(""))
	})
}

func TestSignalQuality(t *testing.T) {
	assert.Equal(t, "Excellent", SignalQuality(-70))
	assert.Equal(t, "Good", SignalQuality(-71))
	assert.Equal(t, "Good", SignalQuality(-85))
	assert.Equal(t, "Fair", SignalQuality(-86))
	assert.Equal(t, "Fair", SignalQuality(-100))
	assert.Equal(t, "Poor", SignalQuality(-101))
}

func TestParseTime(t *testing.T) {
	t.Run("trailing Z normalizes to UTC", func(t *testing.T) {
		got := ParseTime("2024-01-01T00:00:00Z")
		require.NotNil(t, got)
		assert.True(t, got.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
		_, offset := got.Zone()
		assert.Equal(t, 0, offset)
	})

	t.Run("fixed offset converts to UTC", func(t *testing.T) {
		got := ParseTime("2024-06-15T08:30:00-05:00")
		require.NotNil(t, got)
		assert.True(t, got.Equal(time.Date(2024, 6, 15, 13, 30, 0, 0, time.UTC)))
	})

	t.Run("invalid", func(t *testing.T) {
		assert.Nil(t, ParseTime(""))
		assert.Nil(t, ParseTime("yesterday"))
	})
}

func TestResolveName(t *testing.T) {
	t.Run("cameraName first", func(t *testing.T) {
		got := ResolveName(model.RawCamera{CameraName: "North Field", CameraLocation: "Barn", Name: "x"})
		assert.Equal(t, "North Field", got)
	})
	t.Run("cameraLocation second", func(t *testing.T) {
		got := ResolveName(model.RawCamera{CameraLocation: "Barn", Name: "x"})
		assert.Equal(t, "Barn", got)
	})
	t.Run("name third", func(t *testing.T) {
		assert.Equal(t, "x", ResolveName(model.RawCamera{Name: "x"}))
	})
	t.Run("truncated id placeholder", func(t *testing.T) {
		assert.Equal(t, "Camera 5678", ResolveName(model.RawCamera{CameraID: "CAM12345678"}))
		assert.Equal(t, "Camera 42", ResolveName(model.RawCamera{CameraID: "42"}))
	})
}

func TestParseVoltage(t *testing.T) {
	v := parseVoltage("12.4v")
	require.NotNil(t, v)
	assert.Equal(t, 12.4, *v)

	v = parseVoltage("3.9V")
	require.NotNil(t, v)
	assert.Equal(t, 3.9, *v)

	v = parseVoltage(6.2)
	require.NotNil(t, v)
	assert.Equal(t, 6.2, *v)

	assert.Nil(t, parseVoltage("garbage"))
	assert.Nil(t, parseVoltage(nil))
}

func TestCameraStatus(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	n := New(&fakeFetcher{}, testLogger())

	raw := model.RawCamera{
		CameraID:   "CAM1",
		CameraName: "Ridge",
		Status: map[string]any{
			"signal":                    4.0,
			"voltageinternal":           "12.4v",
			"voltageexternal":           "0.0v",
			"voltagesource":             "Backup",
			"temperature":               38.0,
			"memory":                    512.0,
			"memoryLimit":               2048.0,
			"lastTransmissionTimestamp": float64(now.Add(-2 * time.Hour).UnixMilli()),
			"servingCell":               "LTE,311480,B13,700,-88,-115,-13",
			"eSim": []any{
				map[string]any{"carrier": "Verizon", "iccid": "890", "activeFlag": 1.0},
				map[string]any{"carrier": "AT&T", "iccid": "891", "activeFlag": 0.0},
			},
		},
		Usage: map[string]any{"photos": 1423.0, "storedPhotos": 212.0},
	}

	cam := n.Camera(raw, now)

	require.NotNil(t, cam.Status.SignalBars)
	assert.Equal(t, 4, *cam.Status.SignalBars)

	require.NotNil(t, cam.Status.InternalVoltage)
	assert.Equal(t, 12.4, *cam.Status.InternalVoltage)
	assert.False(t, cam.Status.ExternalPower, "Backup source with dead external battery is internal power")

	require.NotNil(t, cam.Status.TemperatureF)
	assert.Equal(t, 38.0, *cam.Status.TemperatureF)

	require.NotNil(t, cam.Status.SDUsagePercent)
	assert.Equal(t, 25.0, *cam.Status.SDUsagePercent)

	assert.True(t, cam.Status.Online)
	require.NotNil(t, cam.Status.LastTransmission)
	assert.Equal(t, now.Add(-2*time.Hour), *cam.Status.LastTransmission)

	assert.Equal(t, "Verizon", cam.Status.Carrier)
	require.Len(t, cam.Status.ESims, 2)
	assert.True(t, cam.Status.ESims[0].Active)
	assert.False(t, cam.Status.ESims[1].Active)

	require.NotNil(t, cam.Status.ServingCell)
	assert.Equal(t, "Fair", cam.Status.ServingCell.Quality)

	require.NotNil(t, cam.Usage)
	require.NotNil(t, cam.Usage.Photos)
	assert.Equal(t, 1423, *cam.Usage.Photos)
}

func TestCameraOffline(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	n := New(&fakeFetcher{}, testLogger())

	cam := n.Camera(model.RawCamera{
		CameraID: "CAM1",
		Status: map[string]any{
			"lastTransmissionTimestamp": float64(now.Add(-25 * time.Hour).UnixMilli()),
		},
	}, now)

	assert.False(t, cam.Status.Online)
}

func TestBuildSnapshot(t *testing.T) {
	now := time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC)
	battery := func(v float64) map[string]any { return map[string]any{"batteryLevel": v} }

	fetch := &fakeFetcher{
		cameras: []model.RawCamera{
			{CameraID: "A", CameraName: "Ridge"},
			{CameraID: "B", CameraName: "Creek"},
		},
		latest: map[string]*model.RawPhoto{
			"A": {PhotoID: "p1", CameraID: "A", PhotoDateUTC: "2024-05-01T05:00:00Z", Metadata: battery(88), WeatherData: map[string]any{"currentTemp": 52.0}},
		},
		stats: map[string]*model.Statistics{
			"A": {TotalPhotos: 100},
		},
		recent: []model.RawPhoto{
			{PhotoID: "p1", CameraID: "A", PhotoDateUTC: "2024-05-01T05:00:00Z"},
			{PhotoID: "p2", CameraID: "B", PhotoDateUTC: "2024-05-01T04:00:00Z"},
		},
	}

	n := New(fetch, testLogger())
	n.SetClock(func() time.Time { return now })

	snap, err := n.BuildSnapshot(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap)

	assert.Equal(t, now, snap.FetchedAt)
	require.Len(t, snap.Cameras, 2)

	camA := snap.Camera("A")
	require.NotNil(t, camA)
	assert.Equal(t, "Ridge", camA.Name)
	require.NotNil(t, camA.LatestPhoto)
	require.NotNil(t, camA.LatestPhoto.Weather)
	require.NotNil(t, camA.LatestPhoto.Weather.Temperature)
	assert.Equal(t, 52.0, *camA.LatestPhoto.Weather.Temperature)
	require.NotNil(t, camA.Stats)
	assert.Equal(t, 100, camA.Stats.TotalPhotos)

	camB := snap.Camera("B")
	require.NotNil(t, camB)
	assert.Nil(t, camB.LatestPhoto)
	assert.Nil(t, camB.Stats)

	require.Len(t, snap.RecentPhotos, 2)
	assert.Equal(t, "A", snap.RecentPhotos[0].CameraID)

	// Same inputs, same clock: byte-identical result.
	again, err := n.BuildSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, snap, again)
}

func TestBuildSnapshotAbsorbsPerCameraFailure(t *testing.T) {
	fetch := &fakeFetcher{
		cameras: []model.RawCamera{
			{CameraID: "A", CameraName: "Ridge"},
			{CameraID: "B", CameraName: "Creek"},
		},
		latest: map[string]*model.RawPhoto{
			"A": {PhotoID: "p1", CameraID: "A", PhotoDateUTC: "2024-05-01T05:00:00Z"},
		},
		latestErr: map[string]error{
			"B": errors.New("dial tcp: connection refused"),
		},
		statsErr: map[string]error{
			"B": errors.New("dial tcp: connection refused"),
		},
		stats: map[string]*model.Statistics{
			"A": {TotalPhotos: 100},
		},
	}

	n := New(fetch, testLogger())

	// One camera's transport failure degrades that camera, not the cycle.
	snap, err := n.BuildSnapshot(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap)
	require.Len(t, snap.Cameras, 2)

	camA := snap.Camera("A")
	require.NotNil(t, camA)
	require.NotNil(t, camA.LatestPhoto)
	require.NotNil(t, camA.Stats)

	camB := snap.Camera("B")
	require.NotNil(t, camB)
	assert.Nil(t, camB.LatestPhoto)
	assert.Nil(t, camB.Stats)
}

func TestBuildSnapshotAbsorbsHistoryFailure(t *testing.T) {
	fetch := &fakeFetcher{
		cameras:   []model.RawCamera{{CameraID: "A", CameraName: "Ridge"}},
		recentErr: errors.New("dial tcp: connection refused"),
	}

	n := New(fetch, testLogger())

	snap, err := n.BuildSnapshot(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap)
	require.Len(t, snap.Cameras, 1)
	assert.Empty(t, snap.RecentPhotos)
}

func TestBuildSnapshotNoCameras(t *testing.T) {
	n := New(&fakeFetcher{}, testLogger())

	snap, err := n.BuildSnapshot(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Empty(t, snap.Cameras)
	assert.Empty(t, snap.RecentPhotos)
}
