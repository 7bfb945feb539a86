// Package normalize assembles one immutable Snapshot per poll cycle from
// raw vendor responses, reconciling the vendor's inconsistent field names
// into the canonical model.
package normalize

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/dcrawley/reveald/internal/core/model"
)

// recentPhotosSize bounds the account-wide photo history kept per cycle.
const recentPhotosSize = 20

// A camera is considered online if it transmitted within this window.
const onlineWindow = 24 * time.Hour

// Fetcher is the slice of the vendor client the normalizer needs.
type Fetcher interface {
	ListCameras(ctx context.Context) ([]model.RawCamera, error)
	LatestPhoto(ctx context.Context, cameraID string) (*model.RawPhoto, error)
	CameraStats(ctx context.Context, cameraID string) (*model.Statistics, error)
	ListPhotos(ctx context.Context, size, page int, cameraID string) ([]model.RawPhoto, error)
}

// Normalizer runs the fetch-and-normalize pipeline.
type Normalizer struct {
	fetch Fetcher
	log   *slog.Logger
	now   func() time.Time
}

// New creates a normalizer over the given fetcher.
func New(fetch Fetcher, log *slog.Logger) *Normalizer {
	return &Normalizer{fetch: fetch, log: log, now: time.Now}
}

// SetClock overrides the time source. Used by tests.
func (n *Normalizer) SetClock(now func() time.Time) {
	n.now = now
}

// BuildSnapshot runs one full cycle: camera list, then per-camera latest
// photo and statistics fetched sequentially in list order, then a bounded
// account-wide photo history. An empty camera list yields an empty
// Snapshot, not an error. A fetch failure for one camera leaves that
// camera's photo and stats nil; the cycle carries on and the snapshot
// keeps every other camera's fresh data.
func (n *Normalizer) BuildSnapshot(ctx context.Context) (*model.Snapshot, error) {
	now := n.now().UTC()

	rawCameras, err := n.fetch.ListCameras(ctx)
	if err != nil {
		return nil, err
	}
	if len(rawCameras) == 0 {
		n.log.Warn("no cameras found")
		return &model.Snapshot{Cameras: []model.Camera{}, RecentPhotos: []model.Photo{}, FetchedAt: now}, nil
	}

	cameras := make([]model.Camera, 0, len(rawCameras))
	for _, raw := range rawCameras {
		cam := n.Camera(raw, now)
		if cam.ID == "" {
			continue
		}

		// Per-camera fetch is what guarantees an attached weather block.
		photo, err := n.fetch.LatestPhoto(ctx, cam.ID)
		if err != nil {
			n.log.Warn("latest photo fetch failed, continuing without", "camera_id", cam.ID, "error", err)
		} else if photo != nil {
			p := n.Photo(*photo)
			cam.LatestPhoto = &p
		} else {
			n.log.Warn("no photos found for camera", "camera_id", cam.ID)
		}

		stats, err := n.fetch.CameraStats(ctx, cam.ID)
		if err != nil {
			n.log.Warn("stats fetch failed, continuing without", "camera_id", cam.ID, "error", err)
		} else {
			cam.Stats = stats
		}

		cameras = append(cameras, cam)
	}

	rawRecent, err := n.fetch.ListPhotos(ctx, recentPhotosSize, 0, "")
	if err != nil {
		n.log.Warn("photo history fetch failed, continuing without", "error", err)
	}
	recent := make([]model.Photo, 0, len(rawRecent))
	for _, raw := range rawRecent {
		recent = append(recent, n.Photo(raw))
	}

	return &model.Snapshot{Cameras: cameras, RecentPhotos: recent, FetchedAt: now}, nil
}

// Camera maps one raw camera record to the canonical shape. Derived
// interpretations (parsed voltages, serving cell, SD usage) never replace
// the raw values they are computed from.
func (n *Normalizer) Camera(raw model.RawCamera, now time.Time) model.Camera {
	cam := model.Camera{
		ID:              raw.CameraID,
		Name:            ResolveName(raw),
		Model:           raw.CameraModel,
		FirmwareVersion: raw.FirmwareVersion,
		HardwareVersion: raw.HardwareVersion,
		FirmwareStatus:  raw.FirmwareStatus,
		PlanTier:        raw.PlanTier,
		Location:        firstNonEmpty(raw.CameraLocation, raw.Location),
		Zip:             raw.Zip,
		Settings:        raw.Settings,
	}

	cam.Status = n.status(raw, now)

	if usage := normalizeUsage(raw.Usage); usage != nil {
		cam.Usage = usage
	}
	if gps := normalizeGPS(raw.GPS); gps != nil {
		cam.GPS = gps
	}

	return cam
}

// ResolveName picks the display name from the vendor's candidate fields in
// priority order, falling back to a truncated-id placeholder.
func ResolveName(raw model.RawCamera) string {
	if raw.CameraName != "" {
		return raw.CameraName
	}
	if raw.CameraLocation != "" {
		return raw.CameraLocation
	}
	if raw.Name != "" {
		return raw.Name
	}
	id := raw.CameraID
	if len(id) > 4 {
		id = id[len(id)-4:]
	}
	return "Camera " + id
}

func (n *Normalizer) status(raw model.RawCamera, now time.Time) model.CameraStatus {
	st := model.CameraStatus{}
	status := raw.Status

	if v, ok := asInt(status["signal"]); ok {
		st.SignalBars = &v
	}
	st.InternalVoltage = parseVoltage(status["voltageinternal"])
	st.ExternalVoltage = parseVoltage(status["voltageexternal"])
	if s, ok := status["voltagesource"].(string); ok {
		st.PowerSource = s
	}
	// "Backup" means running on the internal battery; anything else is
	// external power. A live external voltage also counts.
	if st.PowerSource != "" && st.PowerSource != "Backup" {
		st.ExternalPower = true
	} else if st.ExternalVoltage != nil && *st.ExternalVoltage > 0.5 {
		st.ExternalPower = true
	}

	st.TemperatureF = probeFloat(status, "temperature")
	st.MemoryMB = probeFloat(status, "memory")
	st.MemoryLimitMB = probeFloat(status, "memoryLimit")
	if st.MemoryMB != nil && st.MemoryLimitMB != nil && *st.MemoryLimitMB > 0 {
		pct := *st.MemoryMB / *st.MemoryLimitMB * 100
		pct = float64(int(pct*10+0.5)) / 10
		st.SDUsagePercent = &pct
	}

	if ms, ok := asFloat(status["lastTransmissionTimestamp"]); ok {
		t := time.UnixMilli(int64(ms)).UTC()
		st.LastTransmission = &t
		st.Online = now.Sub(t) >= 0 && now.Sub(t) < onlineWindow
	}

	if s, ok := status["mcuVersion"].(string); ok {
		st.MCUVersion = s
	}
	if s, ok := status["appVersion"].(string); ok {
		st.AppVersion = s
	}

	if sims, ok := status["eSim"].([]any); ok {
		for _, entry := range sims {
			sim, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			carrier, _ := sim["carrier"].(string)
			iccid, _ := sim["iccid"].(string)
			active, _ := asInt(sim["activeFlag"])
			e := model.ESim{Carrier: carrier, ICCID: iccid, Active: active == 1}
			st.ESims = append(st.ESims, e)
			if e.Active && e.Carrier != "" {
				st.Carrier = e.Carrier
			}
		}
	}
	if st.Carrier == "" {
		st.Carrier = raw.PhoneCarrier
	}

	if sc, ok := status["servingCell"].(string); ok && sc != "" {
		st.ServingCell = ParseServingCell(sc)
	}

	return st
}

// Photo maps one raw photo to the canonical shape, resolving the weather
// block through the prioritized alias probe.
func (n *Normalizer) Photo(raw model.RawPhoto) model.Photo {
	p := model.Photo{
		ID:       raw.PhotoID,
		CameraID: raw.CameraID,
		TakenAt:  ParseTime(raw.PhotoDateUTC),
		URL:      raw.PhotoURL,
		Filename: firstNonEmpty(raw.PhotoName, raw.Filename),
		HD:       raw.HDPhoto,
		Weather:  resolveWeather(raw),
	}

	if raw.Metadata != nil {
		if v, ok := asInt(raw.Metadata["batteryLevel"]); ok {
			p.Meta.BatteryLevel = &v
		}
		if v, ok := asInt(raw.Metadata["signal"]); ok {
			p.Meta.SignalBars = &v
		}
		p.Meta.Latitude = probeFloat(raw.Metadata, "gpsLatitude")
		p.Meta.Longitude = probeFloat(raw.Metadata, "gpsLongitude")
	}
	if raw.GPSLocation != nil {
		if p.Meta.Latitude == nil {
			p.Meta.Latitude = probeFloat(raw.GPSLocation, "lat", "latitude")
		}
		if p.Meta.Longitude == nil {
			p.Meta.Longitude = probeFloat(raw.GPSLocation, "lon", "longitude")
		}
	}

	return p
}

// ParseTime parses the vendor's ISO-8601 timestamps. The trailing-Z form
// is normalized to a fixed-offset UTC instant.
func ParseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

// parseVoltage converts vendor voltage strings like "12.4v" to volts.
func parseVoltage(v any) *float64 {
	s, ok := v.(string)
	if !ok {
		if f, ok := asFloat(v); ok {
			return &f
		}
		return nil
	}
	s = strings.TrimSpace(strings.TrimSuffix(strings.ToLower(s), "v"))
	f, ok := asFloat(s)
	if !ok {
		return nil
	}
	return &f
}

func normalizeUsage(raw map[string]any) *model.Usage {
	if len(raw) == 0 {
		return nil
	}
	u := &model.Usage{}
	if v, ok := asInt(raw["photos"]); ok {
		u.Photos = &v
	}
	if v, ok := asInt(raw["storedPhotos"]); ok {
		u.StoredPhotos = &v
	}
	if u.Photos == nil && u.StoredPhotos == nil {
		return nil
	}
	return u
}

func normalizeGPS(raw map[string]any) *model.GPS {
	if len(raw) == 0 {
		return nil
	}
	g := &model.GPS{
		Latitude:  probeFloat(raw, "latitude"),
		Longitude: probeFloat(raw, "longitude"),
	}
	if s, ok := raw["lastUpdatedTimestamp"].(string); ok {
		g.UpdatedAt = s
	}
	if g.Latitude == nil && g.Longitude == nil {
		return nil
	}
	return g
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
