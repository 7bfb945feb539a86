// Package control translates high-level camera commands into the vendor's
// settings-patch payloads. The vendor API only accepts whole-list settings
// replacement, so every mutation round-trips: fetch current settings,
// patch the one entry of interest, submit the full list back.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dcrawley/reveald/internal/core/model"
	"github.com/dcrawley/reveald/internal/core/state"
)

// Option labels as the vendor emits them in the settings list.
const (
	OptionMotionSensitivity = "Motion Sensitivity"
	OptionCameraMode        = "Camera Mode"
	OptionVideoLength       = "Video Length"
	OptionNightMode         = "Night Mode"
	OptionFlashType         = "Flash Type"
	OptionMultiShot         = "Multi Shot"
	OptionImageSize         = "Image Size"
	OptionVideoSize         = "Video Size"
)

// Patch is one resolved capability mutation: which settings entry to
// rewrite and the vendor code/label pair to write into it.
type Patch struct {
	Option   string
	Function string
	Code     string
}

// MotionSensitivity maps a sensitivity level to its vendor code. Level 0
// disables motion detection; 1 through 9 raise sensitivity.
func MotionSensitivity(level int) (Patch, error) {
	if level < 0 || level > 9 {
		return Patch{}, fmt.Errorf("control: motion sensitivity %d out of range 0-9", level)
	}
	function := fmt.Sprintf("Level %d", level)
	if level == 0 {
		function = "OFF"
	}
	return Patch{
		Option:   OptionMotionSensitivity,
		Function: function,
		Code:     fmt.Sprintf("$MS00*%d#", level),
	}, nil
}

// CameraMode selects between photo-only and photo+video capture.
func CameraMode(mode string) (Patch, error) {
	switch strings.ToLower(mode) {
	case "photo":
		return Patch{Option: OptionCameraMode, Function: "Photo", Code: "$CM00*1#"}, nil
	case "photo+video", "photo_video":
		return Patch{Option: OptionCameraMode, Function: "Photo+Video", Code: "$CM00*2#"}, nil
	}
	return Patch{}, fmt.Errorf("control: unknown camera mode %q", mode)
}

// VideoLength sets the clip duration in seconds.
func VideoLength(seconds int) (Patch, error) {
	if seconds < 5 || seconds > 60 {
		return Patch{}, fmt.Errorf("control: video length %ds out of range 5-60", seconds)
	}
	return Patch{
		Option:   OptionVideoLength,
		Function: fmt.Sprintf("%ds", seconds),
		Code:     fmt.Sprintf("$VL00*%d#", seconds),
	}, nil
}

// NightMode selects the IR exposure strategy.
func NightMode(mode string) (Patch, error) {
	switch strings.ToLower(mode) {
	case "max-range", "max_range":
		return Patch{Option: OptionNightMode, Function: "Max Range", Code: "$NM00*1#"}, nil
	case "balance", "balanced":
		return Patch{Option: OptionNightMode, Function: "Balance", Code: "$NM00*2#"}, nil
	case "min-blur", "min_blur":
		return Patch{Option: OptionNightMode, Function: "Min Blur", Code: "$NM00*3#"}, nil
	}
	return Patch{}, fmt.Errorf("control: unknown night mode %q", mode)
}

// FlashType selects the IR flash hardware profile.
func FlashType(t string) (Patch, error) {
	switch strings.ToLower(t) {
	case "low-glow", "low_glow":
		return Patch{Option: OptionFlashType, Function: "Low Glow", Code: "$FT00*1#"}, nil
	case "no-glow", "no_glow":
		return Patch{Option: OptionFlashType, Function: "No Glow", Code: "$FT00*2#"}, nil
	}
	return Patch{}, fmt.Errorf("control: unknown flash type %q", t)
}

// MultiShot sets the burst count and per-shot interval.
func MultiShot(count, intervalSec int) (Patch, error) {
	if count < 1 || count > 9 {
		return Patch{}, fmt.Errorf("control: multi-shot count %d out of range 1-9", count)
	}
	if intervalSec < 1 {
		return Patch{}, fmt.Errorf("control: multi-shot interval %ds must be positive", intervalSec)
	}
	return Patch{
		Option:   OptionMultiShot,
		Function: fmt.Sprintf("%dP", count),
		Code:     fmt.Sprintf("$MT00*%d*%d#", count, intervalSec),
	}, nil
}

// ImageSize sets the still-photo resolution.
func ImageSize(size string) (Patch, error) {
	switch strings.ToLower(size) {
	case "4k":
		return Patch{Option: OptionImageSize, Function: "4K", Code: "$IS00*1#"}, nil
	case "2.5k":
		return Patch{Option: OptionImageSize, Function: "2.5K", Code: "$IS00*2#"}, nil
	}
	return Patch{}, fmt.Errorf("control: unknown image size %q", size)
}

// VideoSize sets the video resolution.
func VideoSize(size string) (Patch, error) {
	switch strings.ToLower(size) {
	case "1080p":
		return Patch{Option: OptionVideoSize, Function: "1080P", Code: "$VS00*1#"}, nil
	case "720p":
		return Patch{Option: OptionVideoSize, Function: "720P", Code: "$VS00*2#"}, nil
	case "wvga":
		return Patch{Option: OptionVideoSize, Function: "WVGA", Code: "$VS00*3#"}, nil
	}
	return Patch{}, fmt.Errorf("control: unknown video size %q", size)
}

// Apply produces a new settings list with the patched entry rewritten.
// The input is never mutated. The boolean reports whether the option was
// found; when absent the list comes back unchanged, which the vendor
// accepts as a no-op submission.
func Apply(settings []model.Setting, p Patch) ([]model.Setting, bool) {
	out := make([]model.Setting, len(settings))
	copy(out, settings)

	for i := range out {
		if out[i].Option == p.Option {
			out[i].Function = p.Function
			out[i].Code = p.Code
			return out, true
		}
	}
	return out, false
}

// SettingsClient is the slice of the vendor client the dispatcher uses.
type SettingsClient interface {
	ListCameras(ctx context.Context) ([]model.RawCamera, error)
	UpdateSettings(ctx context.Context, cameraID string, settings []model.Setting) (bool, error)
	RequestPhoto(ctx context.Context, cameraID string) (bool, error)
	RequestVideo(ctx context.Context, cameraID string) (bool, error)
}

// Refresher schedules a poll refresh after a successful mutation so the
// cached snapshot picks up the change.
type Refresher interface {
	RequestRefresh()
}

// Dispatcher executes control commands against the vendor and triggers a
// refresh once they land.
type Dispatcher struct {
	client  SettingsClient
	refresh Refresher
	bus     *state.EventBus
	log     *slog.Logger
}

// NewDispatcher wires a dispatcher.
func NewDispatcher(client SettingsClient, refresh Refresher, bus *state.EventBus, log *slog.Logger) *Dispatcher {
	return &Dispatcher{client: client, refresh: refresh, bus: bus, log: log}
}

// ApplySetting re-fetches the camera's current settings, applies the
// patch, and submits the whole list back. An option missing from the
// vendor payload still submits and reports success.
func (d *Dispatcher) ApplySetting(ctx context.Context, cameraID string, p Patch) error {
	cameras, err := d.client.ListCameras(ctx)
	if err != nil {
		return fmt.Errorf("control: fetch settings for %s: %w", cameraID, err)
	}

	var settings []model.Setting
	found := false
	for _, cam := range cameras {
		if cam.CameraID == cameraID {
			settings = cam.Settings
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("control: camera %s not found", cameraID)
	}

	patched, matched := Apply(settings, p)
	if !matched {
		d.log.Warn("control: option absent from camera settings, submitting unchanged", "camera_id", cameraID, "option", p.Option)
	}

	ok, err := d.client.UpdateSettings(ctx, cameraID, patched)
	if err != nil {
		return fmt.Errorf("control: update settings for %s: %w", cameraID, err)
	}
	if !ok {
		return fmt.Errorf("control: vendor rejected settings update for %s", cameraID)
	}

	d.published(cameraID, p.Option)
	return nil
}

// RequestPhoto asks the camera to take a photo on its next check-in.
func (d *Dispatcher) RequestPhoto(ctx context.Context, cameraID string) error {
	return d.capture(ctx, cameraID, "photo", d.client.RequestPhoto)
}

// RequestVideo asks the camera to record a video on its next check-in.
func (d *Dispatcher) RequestVideo(ctx context.Context, cameraID string) error {
	return d.capture(ctx, cameraID, "video", d.client.RequestVideo)
}

func (d *Dispatcher) capture(ctx context.Context, cameraID, kind string, fn func(context.Context, string) (bool, error)) error {
	ok, err := fn(ctx, cameraID)
	if err != nil {
		return fmt.Errorf("control: request %s for %s: %w", kind, cameraID, err)
	}
	if !ok {
		return fmt.Errorf("control: vendor rejected %s request for %s", kind, cameraID)
	}
	d.published(cameraID, "request "+kind)
	return nil
}

func (d *Dispatcher) published(cameraID, command string) {
	d.log.Info("control: command applied", "camera_id", cameraID, "command", command)
	d.bus.Publish(state.Event{
		Type: state.EventControlApplied,
		Data: state.ControlResult{CameraID: cameraID, Command: command},
	})
	d.refresh.RequestRefresh()
}
