// Package mqtt provides MQTT publishing for Home Assistant integration.
// It defines the Publisher interface and includes both a StubPublisher
// (no-op) and a full HAPublisher that connects to an MQTT broker, publishes
// HA auto-discovery configs for every camera in the snapshot, relays
// command topics to the control dispatcher, and republishes state whenever
// the poll coordinator produces a fresh snapshot.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/dcrawley/reveald/internal/core/control"
	"github.com/dcrawley/reveald/internal/core/model"
	"github.com/dcrawley/reveald/internal/core/state"
)

// ---------------------------------------------------------------------------
// Publisher interface
// ---------------------------------------------------------------------------

// Publisher sends events and state to an MQTT broker.
type Publisher interface {
	// Start begins publishing events from the event bus.
	Start(ctx context.Context) error
	// Stop shuts down the publisher.
	Stop(ctx context.Context) error
}

// ---------------------------------------------------------------------------
// StubPublisher (no-op, used when MQTT is disabled)
// ---------------------------------------------------------------------------

// StubPublisher is a no-op publisher for when MQTT is not configured.
type StubPublisher struct {
	log *slog.Logger
}

// NewStubPublisher creates a no-op MQTT publisher.
func NewStubPublisher(log *slog.Logger) *StubPublisher {
	return &StubPublisher{log: log}
}

// Start is a no-op.
func (s *StubPublisher) Start(_ context.Context) error {
	s.log.Info("MQTT publisher disabled (stub)")
	return nil
}

// Stop is a no-op.
func (s *StubPublisher) Stop(_ context.Context) error {
	return nil
}

// Ensure StubPublisher implements Publisher.
var _ Publisher = (*StubPublisher)(nil)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// MQTTConfig holds MQTT publisher configuration.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	ClientID    string `yaml:"client_id"`
}

// ---------------------------------------------------------------------------
// Collaborator interfaces
// ---------------------------------------------------------------------------

// SnapshotReader exposes the cached poll snapshot.
type SnapshotReader interface {
	Snapshot() *model.Snapshot
}

// Commander relays camera commands without importing the dispatcher
// directly.
type Commander interface {
	ApplySetting(ctx context.Context, cameraID string, p control.Patch) error
	RequestPhoto(ctx context.Context, cameraID string) error
	RequestVideo(ctx context.Context, cameraID string) error
}

// ---------------------------------------------------------------------------
// HAPublisher – full Home Assistant MQTT implementation
// ---------------------------------------------------------------------------

// Ensure HAPublisher implements Publisher at compile time.
var _ Publisher = (*HAPublisher)(nil)

// HAPublisher publishes Home Assistant auto-discovery configs per camera,
// subscribes to command topics and relays them to the dispatcher, and
// forwards snapshot updates from the EventBus.
type HAPublisher struct {
	cfg  MQTTConfig
	cmd  Commander
	snap SnapshotReader
	bus  *state.EventBus
	log  *slog.Logger

	client pahomqtt.Client

	mu         sync.Mutex
	discovered map[string]bool // camera ids with discovery published

	unsub func() // EventBus unsubscribe
	stopC chan struct{}
	wg    sync.WaitGroup
}

// NewHAPublisher creates a new Home Assistant MQTT publisher.
func NewHAPublisher(cfg MQTTConfig, cmd Commander, snap SnapshotReader, bus *state.EventBus, log *slog.Logger) *HAPublisher {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "reveal"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "reveald"
	}
	return &HAPublisher{
		cfg:        cfg,
		cmd:        cmd,
		snap:       snap,
		bus:        bus,
		log:        log,
		discovered: make(map[string]bool),
		stopC:      make(chan struct{}),
	}
}

// ---------------------------------------------------------------------------
// Start / Stop
// ---------------------------------------------------------------------------

// Start connects to the MQTT broker, publishes discovery configs for every
// known camera, subscribes to command topics, publishes initial state, and
// starts listening on the EventBus for snapshot updates.
func (p *HAPublisher) Start(_ context.Context) error {
	availTopic := p.topic("status")

	opts := pahomqtt.NewClientOptions().
		AddBroker(p.cfg.Broker).
		SetClientID(p.cfg.ClientID).
		SetUsername(p.cfg.Username).
		SetPassword(p.cfg.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(availTopic, "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			p.log.Info("MQTT connected, publishing discovery and state")
			p.onConnect()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			p.log.Warn("MQTT connection lost", "error", err)
		})

	p.client = pahomqtt.NewClient(opts)

	token := p.client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	// Subscribe to EventBus.
	evtCh, unsub := p.bus.Subscribe(128)
	p.unsub = unsub

	p.wg.Add(1)
	go p.eventLoop(evtCh)

	p.log.Info("MQTT publisher started", "broker", p.cfg.Broker)
	return nil
}

// Stop gracefully disconnects from the MQTT broker and stops the event loop.
func (p *HAPublisher) Stop(_ context.Context) error {
	p.log.Info("MQTT publisher stopping")

	// Signal event loop to exit.
	close(p.stopC)

	// Unsubscribe from EventBus.
	if p.unsub != nil {
		p.unsub()
	}

	p.wg.Wait()

	if p.client != nil && p.client.IsConnected() {
		// Publish offline before disconnecting.
		p.publish(p.topic("status"), "offline", true)
		p.client.Disconnect(1000)
	}
	p.log.Info("MQTT publisher stopped")
	return nil
}

// ---------------------------------------------------------------------------
// onConnect – called on every (re)connect
// ---------------------------------------------------------------------------

func (p *HAPublisher) onConnect() {
	// 1. Publish online availability (retained).
	p.publish(p.topic("status"), "online", true)

	// 2. Reset discovery tracking so every camera is re-announced.
	p.mu.Lock()
	p.discovered = make(map[string]bool)
	p.mu.Unlock()

	// 3. Subscribe to command topics: {prefix}/{cameraId}/{capability}/set.
	p.subscribeCommands()

	// 4. Subscribe to HA birth topic for re-discovery.
	p.client.Subscribe("homeassistant/status", 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		if string(msg.Payload()) == "online" {
			p.log.Info("Home Assistant came online, re-publishing discovery")
			p.mu.Lock()
			p.discovered = make(map[string]bool)
			p.mu.Unlock()
			p.publishSnapshot(p.snap.Snapshot())
		}
	})

	// 5. Publish current snapshot, if a poll cycle has already succeeded.
	p.publishSnapshot(p.snap.Snapshot())
}

// ---------------------------------------------------------------------------
// Discovery configs
// ---------------------------------------------------------------------------

// deviceInfo returns the HA device block for one camera.
func (p *HAPublisher) deviceInfo(cam *model.Camera) map[string]interface{} {
	dev := map[string]interface{}{
		"identifiers":  []string{cam.ID},
		"name":         cam.Name,
		"manufacturer": "Tactacam",
		"model":        cam.Model,
	}
	if cam.FirmwareVersion != "" {
		dev["sw_version"] = cam.FirmwareVersion
	}
	if cam.HardwareVersion != "" {
		dev["hw_version"] = cam.HardwareVersion
	}
	return dev
}

// discoveryTopic builds the HA auto-discovery topic.
func discoveryTopic(component, cameraID, objectID string) string {
	return fmt.Sprintf("homeassistant/%s/reveal_%s_%s/config", component, cameraID, objectID)
}

// sensorDef describes one value_template sensor over the camera state doc.
type sensorDef struct {
	objectID    string
	name        string
	template    string
	unit        string
	deviceClass string
	stateClass  string
}

var cameraSensors = []sensorDef{
	{"battery", "Battery", "{{ value_json.battery }}", "%", "battery", "measurement"},
	{"signal", "Signal", "{{ value_json.signal_bars }}", "bars", "", "measurement"},
	{"signal_quality", "Signal Quality", "{{ value_json.signal_quality }}", "", "", ""},
	{"temperature", "Temperature", "{{ value_json.temperature_f }}", "°F", "temperature", "measurement"},
	{"internal_voltage", "Internal Battery Voltage", "{{ value_json.internal_voltage }}", "V", "voltage", "measurement"},
	{"external_voltage", "External Battery Voltage", "{{ value_json.external_voltage }}", "V", "voltage", "measurement"},
	{"photo_count", "Photo Count", "{{ value_json.photo_count }}", "photos", "", "total_increasing"},
	{"stored_photos", "Stored Photos", "{{ value_json.stored_photos }}", "photos", "", "measurement"},
	{"sd_usage", "SD Card Usage", "{{ value_json.sd_usage }}", "%", "", "measurement"},
	{"carrier", "Carrier", "{{ value_json.carrier }}", "", "", ""},
	{"last_photo", "Last Photo", "{{ value_json.last_photo }}", "", "timestamp", ""},
	{"last_transmission", "Last Transmission", "{{ value_json.last_transmission }}", "", "timestamp", ""},
}

// selectDef describes one HA select entity mapped to a settings capability.
type selectDef struct {
	objectID string
	name     string
	options  []string
}

var cameraSelects = []selectDef{
	{"night_mode", "Night Mode", []string{"max-range", "balance", "min-blur"}},
	{"flash_type", "Flash Type", []string{"low-glow", "no-glow"}},
	{"camera_mode", "Camera Mode", []string{"photo", "photo+video"}},
	{"image_size", "Image Size", []string{"4k", "2.5k"}},
	{"video_size", "Video Size", []string{"1080p", "720p", "wvga"}},
}

func (p *HAPublisher) publishCameraDiscovery(cam *model.Camera) {
	dev := p.deviceInfo(cam)
	avail := map[string]interface{}{
		"topic": p.topic("status"),
	}
	id := cam.ID
	stateTopic := p.cameraTopic(id, "state")

	for _, s := range cameraSensors {
		payload := map[string]interface{}{
			"name":           s.name,
			"unique_id":      fmt.Sprintf("reveal_%s_%s", id, s.objectID),
			"state_topic":    stateTopic,
			"value_template": s.template,
			"device":         dev,
			"availability":   avail,
		}
		if s.unit != "" {
			payload["unit_of_measurement"] = s.unit
		}
		if s.deviceClass != "" {
			payload["device_class"] = s.deviceClass
		}
		if s.stateClass != "" {
			payload["state_class"] = s.stateClass
		}
		p.publishDiscoveryConfig("sensor", id, s.objectID, payload)
	}

	// --- Binary sensors ---
	p.publishDiscoveryConfig("binary_sensor", id, "online", map[string]interface{}{
		"name":           "Online",
		"unique_id":      fmt.Sprintf("reveal_%s_online", id),
		"state_topic":    stateTopic,
		"value_template": "{{ value_json.online }}",
		"device_class":   "connectivity",
		"payload_on":     "ON",
		"payload_off":    "OFF",
		"device":         dev,
		"availability":   avail,
	})

	p.publishDiscoveryConfig("binary_sensor", id, "external_power", map[string]interface{}{
		"name":           "External Power",
		"unique_id":      fmt.Sprintf("reveal_%s_external_power", id),
		"state_topic":    stateTopic,
		"value_template": "{{ value_json.external_power }}",
		"device_class":   "plug",
		"payload_on":     "ON",
		"payload_off":    "OFF",
		"device":         dev,
		"availability":   avail,
	})

	// --- Buttons (on-demand capture) ---
	for _, b := range []struct{ objectID, name string }{
		{"photo_request", "Take Photo"},
		{"video_request", "Take Video"},
	} {
		p.publishDiscoveryConfig("button", id, b.objectID, map[string]interface{}{
			"name":          b.name,
			"unique_id":     fmt.Sprintf("reveal_%s_%s", id, b.objectID),
			"command_topic": p.cameraTopic(id, b.objectID+"/set"),
			"device":        dev,
			"availability":  avail,
		})
	}

	// --- Number (motion sensitivity) ---
	p.publishDiscoveryConfig("number", id, "motion_sensitivity", map[string]interface{}{
		"name":          "Motion Sensitivity",
		"unique_id":     fmt.Sprintf("reveal_%s_motion_sensitivity", id),
		"command_topic": p.cameraTopic(id, "motion_sensitivity/set"),
		"min":           0,
		"max":           9,
		"step":          1,
		"mode":          "slider",
		"device":        dev,
		"availability":  avail,
	})

	// --- Number (video length) ---
	p.publishDiscoveryConfig("number", id, "video_length", map[string]interface{}{
		"name":                "Video Length",
		"unique_id":           fmt.Sprintf("reveal_%s_video_length", id),
		"command_topic":       p.cameraTopic(id, "video_length/set"),
		"min":                 5,
		"max":                 60,
		"step":                5,
		"unit_of_measurement": "s",
		"device":              dev,
		"availability":        avail,
	})

	// --- Selects (enumerated capabilities) ---
	for _, sel := range cameraSelects {
		p.publishDiscoveryConfig("select", id, sel.objectID, map[string]interface{}{
			"name":          sel.name,
			"unique_id":     fmt.Sprintf("reveal_%s_%s", id, sel.objectID),
			"command_topic": p.cameraTopic(id, sel.objectID+"/set"),
			"options":       sel.options,
			"device":        dev,
			"availability":  avail,
		})
	}
}

func (p *HAPublisher) publishDiscoveryConfig(component, cameraID, objectID string, payload map[string]interface{}) {
	topic := discoveryTopic(component, cameraID, objectID)
	data, err := json.Marshal(payload)
	if err != nil {
		p.log.Error("failed to marshal discovery config", "component", component, "object_id", objectID, "error", err)
		return
	}
	p.publish(topic, string(data), true)
}

// ---------------------------------------------------------------------------
// Command subscriptions
// ---------------------------------------------------------------------------

// subscribeCommands installs one wildcard subscription covering every
// camera's command topics. New cameras need no extra subscriptions.
func (p *HAPublisher) subscribeCommands() {
	filter := fmt.Sprintf("%s/+/+/set", p.cfg.TopicPrefix)
	token := p.client.Subscribe(filter, 1, p.handleCommand)
	token.Wait()
	if err := token.Error(); err != nil {
		p.log.Error("failed to subscribe to command topics", "filter", filter, "error", err)
	}
}

func (p *HAPublisher) handleCommand(_ pahomqtt.Client, msg pahomqtt.Message) {
	// {prefix}/{cameraId}/{capability}/set
	parts := strings.Split(msg.Topic(), "/")
	if len(parts) < 4 {
		return
	}
	cameraID := parts[len(parts)-3]
	capability := parts[len(parts)-2]
	payload := strings.TrimSpace(string(msg.Payload()))

	p.log.Info("MQTT command received", "camera_id", cameraID, "capability", capability, "payload", payload)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var err error
	switch capability {
	case "photo_request":
		err = p.cmd.RequestPhoto(ctx, cameraID)
	case "video_request":
		err = p.cmd.RequestVideo(ctx, cameraID)
	case "motion_sensitivity":
		err = p.applyIntSetting(ctx, cameraID, payload, control.MotionSensitivity)
	case "video_length":
		err = p.applyIntSetting(ctx, cameraID, payload, control.VideoLength)
	case "night_mode":
		err = p.applyStringSetting(ctx, cameraID, payload, control.NightMode)
	case "flash_type":
		err = p.applyStringSetting(ctx, cameraID, payload, control.FlashType)
	case "camera_mode":
		err = p.applyStringSetting(ctx, cameraID, payload, control.CameraMode)
	case "image_size":
		err = p.applyStringSetting(ctx, cameraID, payload, control.ImageSize)
	case "video_size":
		err = p.applyStringSetting(ctx, cameraID, payload, control.VideoSize)
	default:
		p.log.Warn("unknown command capability", "capability", capability)
		return
	}
	if err != nil {
		p.log.Error("MQTT command failed", "camera_id", cameraID, "capability", capability, "error", err)
	}
}

func (p *HAPublisher) applyIntSetting(ctx context.Context, cameraID, payload string, mk func(int) (control.Patch, error)) error {
	v, err := strconv.Atoi(payload)
	if err != nil {
		return fmt.Errorf("invalid numeric payload %q: %w", payload, err)
	}
	patch, err := mk(v)
	if err != nil {
		return err
	}
	return p.cmd.ApplySetting(ctx, cameraID, patch)
}

func (p *HAPublisher) applyStringSetting(ctx context.Context, cameraID, payload string, mk func(string) (control.Patch, error)) error {
	patch, err := mk(payload)
	if err != nil {
		return err
	}
	return p.cmd.ApplySetting(ctx, cameraID, patch)
}

// ---------------------------------------------------------------------------
// State publishing
// ---------------------------------------------------------------------------

// publishSnapshot announces newly seen cameras and publishes every camera's
// state document.
func (p *HAPublisher) publishSnapshot(snap *model.Snapshot) {
	if snap == nil {
		return
	}

	for i := range snap.Cameras {
		cam := &snap.Cameras[i]

		p.mu.Lock()
		seen := p.discovered[cam.ID]
		p.discovered[cam.ID] = true
		p.mu.Unlock()

		if !seen {
			p.publishCameraDiscovery(cam)
		}
		p.publishCameraState(cam)
	}
}

// publishCameraState publishes one camera's flattened state document.
func (p *HAPublisher) publishCameraState(cam *model.Camera) {
	payload := map[string]interface{}{
		"online":         boolToOnOff(cam.Status.Online),
		"external_power": boolToOnOff(cam.Status.ExternalPower),
	}

	if cam.Status.SignalBars != nil {
		payload["signal_bars"] = *cam.Status.SignalBars
	}
	if cam.Status.TemperatureF != nil {
		payload["temperature_f"] = *cam.Status.TemperatureF
	}
	if cam.Status.InternalVoltage != nil {
		payload["internal_voltage"] = *cam.Status.InternalVoltage
	}
	if cam.Status.ExternalVoltage != nil {
		payload["external_voltage"] = *cam.Status.ExternalVoltage
	}
	if cam.Status.SDUsagePercent != nil {
		payload["sd_usage"] = *cam.Status.SDUsagePercent
	}
	if cam.Status.Carrier != "" {
		payload["carrier"] = cam.Status.Carrier
	}
	if cam.Status.ServingCell != nil {
		payload["signal_quality"] = cam.Status.ServingCell.Quality
	}
	if cam.Status.LastTransmission != nil {
		payload["last_transmission"] = cam.Status.LastTransmission.Format(time.RFC3339)
	}

	if cam.LatestPhoto != nil {
		if cam.LatestPhoto.Meta.BatteryLevel != nil {
			payload["battery"] = *cam.LatestPhoto.Meta.BatteryLevel
		}
		if cam.LatestPhoto.TakenAt != nil {
			payload["last_photo"] = cam.LatestPhoto.TakenAt.Format(time.RFC3339)
		}
	}
	if _, ok := payload["battery"]; !ok && cam.Stats != nil && cam.Stats.CurrentBattery != nil {
		payload["battery"] = *cam.Stats.CurrentBattery
	}

	if cam.Usage != nil {
		if cam.Usage.Photos != nil {
			payload["photo_count"] = *cam.Usage.Photos
		}
		if cam.Usage.StoredPhotos != nil {
			payload["stored_photos"] = *cam.Usage.StoredPhotos
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		p.log.Error("failed to marshal camera state", "camera_id", cam.ID, "error", err)
		return
	}
	p.publish(p.cameraTopic(cam.ID, "state"), string(data), true)
}

// ---------------------------------------------------------------------------
// EventBus loop
// ---------------------------------------------------------------------------

func (p *HAPublisher) eventLoop(ch <-chan state.Event) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopC:
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			p.handleEvent(evt)
		}
	}
}

func (p *HAPublisher) handleEvent(evt state.Event) {
	switch evt.Type {
	case state.EventSnapshotUpdate:
		snap, ok := evt.Data.(*model.Snapshot)
		if !ok {
			p.log.Warn("unexpected data type for snapshot_update")
			return
		}
		p.publishSnapshot(snap)

	case state.EventRefreshFailed:
		// The cached snapshot is still valid; nothing to republish.
		p.log.Warn("poll refresh failed, retaining last published state")

	case state.EventControlApplied:
		// State catches up on the refresh the dispatcher already requested.
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// topic builds a daemon-level topic path: {prefix}/{suffix}.
func (p *HAPublisher) topic(suffix string) string {
	return fmt.Sprintf("%s/%s", p.cfg.TopicPrefix, suffix)
}

// cameraTopic builds a per-camera topic path: {prefix}/{cameraId}/{suffix}.
func (p *HAPublisher) cameraTopic(cameraID, suffix string) string {
	return fmt.Sprintf("%s/%s/%s", p.cfg.TopicPrefix, cameraID, suffix)
}

// publish is a convenience wrapper that publishes a message and logs errors.
func (p *HAPublisher) publish(topic, payload string, retained bool) {
	if p.client == nil || !p.client.IsConnected() {
		return
	}
	token := p.client.Publish(topic, 1, retained, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		p.log.Error("mqtt publish failed", "topic", topic, "error", err)
	}
}

func boolToOnOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}
