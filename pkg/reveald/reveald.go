// Package reveald provides a public facade re-exporting core types
// for external consumers of this module.
package reveald

import (
	"github.com/dcrawley/reveald/internal/core/control"
	"github.com/dcrawley/reveald/internal/core/model"
	"github.com/dcrawley/reveald/internal/core/state"
)

// Re-export core types for external use.
type (
	// Camera is the normalized per-device record.
	Camera = model.Camera
	// CameraStatus holds normalized telemetry for one camera.
	CameraStatus = model.CameraStatus
	// Photo is a normalized capture record.
	Photo = model.Photo
	// Weather is the canonical per-photo weather block.
	Weather = model.Weather
	// Setting is one camera settings entry.
	Setting = model.Setting
	// Statistics aggregates photo history for one camera.
	Statistics = model.Statistics
	// Snapshot is the result of one poll cycle.
	Snapshot = model.Snapshot
	// Patch is one resolved capability mutation.
	Patch = control.Patch
	// Event represents a state change event.
	Event = state.Event
	// EventType identifies event categories.
	EventType = state.EventType
	// ControlResult describes one applied control action.
	ControlResult = state.ControlResult
)

// Event type constants.
const (
	EventSnapshotUpdate = state.EventSnapshotUpdate
	EventRefreshFailed  = state.EventRefreshFailed
	EventControlApplied = state.EventControlApplied
)
