// Package model defines the normalized data model produced by one poll
// cycle against the Reveal cloud API. Raw* types mirror the vendor JSON as
// loosely as the vendor emits it; the remaining types are the canonical
// shapes the rest of the daemon consumes.
package model

import "time"

// --- Raw vendor shapes ---

// RawCamera is one entry of the vendor camera list. Identity fields are
// typed; the telemetry blocks stay untyped because the vendor's key set
// varies by firmware.
type RawCamera struct {
	CameraID        string         `json:"cameraId"`
	CameraName      string         `json:"cameraName"`
	CameraLocation  string         `json:"cameraLocation"`
	Name            string         `json:"name"`
	CameraModel     string         `json:"cameraModel"`
	FirmwareVersion string         `json:"firmwareVersion"`
	HardwareVersion string         `json:"hardwareVersion"`
	FirmwareStatus  string         `json:"firmwareStatus"`
	PlanTier        string         `json:"planTier"`
	Location        string         `json:"location"`
	Zip             string         `json:"zip"`
	ICCID           string         `json:"iccid"`
	PhoneCarrier    string         `json:"phoneCarrier"`
	ActiveGPS       string         `json:"activeGps"`
	Settings        []Setting      `json:"settings"`
	Status          map[string]any `json:"status"`
	Usage           map[string]any `json:"usage"`
	GPS             map[string]any `json:"gps"`
}

// RawPhoto is one entry of the vendor photo list. The weather block may
// arrive under any of three keys; all three are kept for the normalizer's
// prioritized probe.
type RawPhoto struct {
	PhotoID       string         `json:"photoId"`
	CameraID      string         `json:"cameraId"`
	PhotoDateUTC  string         `json:"photoDateUtc"`
	PhotoURL      string         `json:"photoUrl"`
	PhotoName     string         `json:"photoName"`
	Filename      string         `json:"filename"`
	HDPhoto       bool           `json:"hdPhoto"`
	Metadata      map[string]any `json:"metadata"`
	WeatherData   map[string]any `json:"weatherData"`
	WeatherRecord map[string]any `json:"weatherRecord"`
	Weather       map[string]any `json:"weather"`
	GPSLocation   map[string]any `json:"gpsLocation"`
}

// Setting is one camera settings entry. Option is the stable capability
// label, Function the human-readable value, Code the vendor command string
// that selects it.
type Setting struct {
	Option   string `json:"option"`
	Function string `json:"function"`
	Code     string `json:"code"`
}

// --- Normalized shapes ---

// Weather is the canonical weather block resolved from whichever alias the
// vendor used. Nil pointer fields mean the vendor did not report the value.
type Weather struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	TempMin12h       *float64 `json:"temp_min_12h,omitempty"`
	TempMax12h       *float64 `json:"temp_max_12h,omitempty"`
	TempDeparture24h *float64 `json:"temp_departure_24h,omitempty"`
	WindSpeed        *float64 `json:"wind_speed,omitempty"`
	WindGust         *float64 `json:"wind_gust,omitempty"`
	WindDirection    string   `json:"wind_direction,omitempty"`
	WindDegrees      *float64 `json:"wind_degrees,omitempty"`
	Pressure         *float64 `json:"pressure,omitempty"`
	PressureTendency string   `json:"pressure_tendency,omitempty"`
	Conditions       string   `json:"conditions,omitempty"`
	MoonPhase        string   `json:"moon_phase,omitempty"`
	SunPhase         string   `json:"sun_phase,omitempty"`
}

// PhotoMeta holds per-photo device telemetry.
type PhotoMeta struct {
	BatteryLevel *int     `json:"battery_level,omitempty"`
	SignalBars   *int     `json:"signal_bars,omitempty"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
}

// Photo is a normalized capture record.
type Photo struct {
	ID       string     `json:"id,omitempty"`
	CameraID string     `json:"camera_id"`
	TakenAt  *time.Time `json:"taken_at,omitempty"`
	URL      string     `json:"url,omitempty"`
	Filename string     `json:"filename,omitempty"`
	HD       bool       `json:"hd"`
	Meta     PhotoMeta  `json:"meta"`
	Weather  *Weather   `json:"weather,omitempty"`
}

// ServingCell is the decomposed cellular diagnostic string.
type ServingCell struct {
	NetworkType  string `json:"network_type"`
	OperatorCode string `json:"operator_code"`
	CarrierName  string `json:"carrier_name"`
	Band         string `json:"band"`
	FrequencyMHz int    `json:"frequency_mhz"`
	RSSI         int    `json:"rssi"`
	RSRP         int    `json:"rsrp"`
	RSRQ         int    `json:"rsrq"`
	Quality      string `json:"quality"`
	Raw          string `json:"raw"`
}

// ESim is one entry of the camera's eSIM inventory.
type ESim struct {
	Carrier string `json:"carrier"`
	ICCID   string `json:"iccid,omitempty"`
	Active  bool   `json:"active"`
}

// CameraStatus is the normalized telemetry block.
type CameraStatus struct {
	SignalBars       *int         `json:"signal_bars,omitempty"`
	InternalVoltage  *float64     `json:"internal_voltage,omitempty"`
	ExternalVoltage  *float64     `json:"external_voltage,omitempty"`
	PowerSource      string       `json:"power_source,omitempty"`
	ExternalPower    bool         `json:"external_power"`
	TemperatureF     *float64     `json:"temperature_f,omitempty"`
	MemoryMB         *float64     `json:"memory_mb,omitempty"`
	MemoryLimitMB    *float64     `json:"memory_limit_mb,omitempty"`
	SDUsagePercent   *float64     `json:"sd_usage_percent,omitempty"`
	LastTransmission *time.Time   `json:"last_transmission,omitempty"`
	Online           bool         `json:"online"`
	Carrier          string       `json:"carrier,omitempty"`
	ESims            []ESim       `json:"esims,omitempty"`
	ServingCell      *ServingCell `json:"serving_cell,omitempty"`
	MCUVersion       string       `json:"mcu_version,omitempty"`
	AppVersion       string       `json:"app_version,omitempty"`
}

// Usage holds the camera's photo counters.
type Usage struct {
	Photos       *int `json:"photos,omitempty"`
	StoredPhotos *int `json:"stored_photos,omitempty"`
}

// GPS is the camera's reported position.
type GPS struct {
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	UpdatedAt string   `json:"updated_at,omitempty"`
}

// Statistics aggregates photo history for one camera. When the vendor's
// stats endpoint is unavailable it is computed locally over recent photos.
type Statistics struct {
	TotalPhotos    int        `json:"total_photos"`
	FirstPhoto     *time.Time `json:"first_photo,omitempty"`
	LastPhoto      *time.Time `json:"last_photo,omitempty"`
	AverageBattery *float64   `json:"average_battery,omitempty"`
	CurrentBattery *int       `json:"current_battery,omitempty"`
	AverageSignal  *float64   `json:"average_signal,omitempty"`
	CurrentSignal  *int       `json:"current_signal,omitempty"`
}

// Camera is the unified per-device record for one poll cycle.
type Camera struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	Model           string       `json:"model,omitempty"`
	FirmwareVersion string       `json:"firmware_version,omitempty"`
	HardwareVersion string       `json:"hardware_version,omitempty"`
	FirmwareStatus  string       `json:"firmware_status,omitempty"`
	PlanTier        string       `json:"plan_tier,omitempty"`
	Location        string       `json:"location,omitempty"`
	Zip             string       `json:"zip,omitempty"`
	Settings        []Setting    `json:"settings,omitempty"`
	Status          CameraStatus `json:"status"`
	Usage           *Usage       `json:"usage,omitempty"`
	GPS             *GPS         `json:"gps,omitempty"`
	LatestPhoto     *Photo       `json:"latest_photo,omitempty"`
	Stats           *Statistics  `json:"stats,omitempty"`
}

// Setting returns the settings entry whose option label matches, or nil.
func (c *Camera) Setting(option string) *Setting {
	for i := range c.Settings {
		if c.Settings[i].Option == option {
			return &c.Settings[i]
		}
	}
	return nil
}

// Snapshot is the immutable result of one poll cycle. A new Snapshot
// entirely replaces the previous one; consumers never mutate it.
type Snapshot struct {
	Cameras      []Camera  `json:"cameras"`
	RecentPhotos []Photo   `json:"recent_photos"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// Camera returns the camera with the given id, or nil.
func (s *Snapshot) Camera(id string) *Camera {
	for i := range s.Cameras {
		if s.Cameras[i].ID == id {
			return &s.Cameras[i]
		}
	}
	return nil
}
