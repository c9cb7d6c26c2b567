package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"factory-safety-go/config"
	"factory-safety-go/internal/core/models"
	"factory-safety-go/internal/detect"
	"factory-safety-go/internal/sse"
	"factory-safety-go/internal/tracking"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// cameraEvent is the shape of an inbound camera system event (Frigate-style
// review events: a before/after pair plus a type marker).
type cameraEvent struct {
	Type   string           `json:"type"`
	Before *cameraEventData `json:"before,omitempty"`
	After  *cameraEventData `json:"after,omitempty"`
}

// cameraEventData carries the details of one camera event.
type cameraEventData struct {
	ID          string  `json:"id"`
	Camera      string  `json:"camera"`
	Label       string  `json:"label"`
	Score       float64 `json:"score"`
	HasSnapshot bool    `json:"has_snapshot"`
}

// Client consumes camera events over MQTT, pulls the event snapshot from the
// camera API, runs detection and feeds the tracking engine. It also
// publishes finalized visits on the outbound topic.
type Client struct {
	cfg        config.MQTTConfig
	client     mqtt.Client
	db         *gorm.DB
	detector   *detect.Client
	manager    *tracking.Manager
	hub        *sse.Hub
	httpClient *http.Client
}

// NewClient creates the MQTT ingest client. The detector may be nil when
// frame analysis is disabled; events are then recorded but not processed.
// The tracking manager is bound later via SetManager, before Start.
func NewClient(cfg config.MQTTConfig, db *gorm.DB, detector *detect.Client, hub *sse.Hub) *Client {
	return &Client{
		cfg:      cfg,
		db:       db,
		detector: detector,
		hub:      hub,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// SetManager binds the tracking engine. Must be called before Start.
func (c *Client) SetManager(m *tracking.Manager) {
	c.manager = m
}

// Start connects to the broker and subscribes to the camera event topic.
func (c *Client) Start() error {
	if !c.cfg.Enabled {
		log.Info("MQTT client is disabled in configuration")
		return nil
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", c.cfg.Broker, c.cfg.Port))
	opts.SetClientID(c.cfg.ClientID)
	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warnf("MQTT connection lost: %v", err)
	})

	c.client = mqtt.NewClient(opts)

	log.Infof("Connecting to MQTT broker at %s:%d", c.cfg.Broker, c.cfg.Port)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return nil
}

// Stop disconnects from the broker.
func (c *Client) Stop() {
	if c.client != nil && c.client.IsConnected() {
		log.Info("Disconnecting MQTT client...")
		c.client.Disconnect(250)
	}
}

func (c *Client) onConnect(client mqtt.Client) {
	log.Infof("MQTT connected, subscribing to %s", c.cfg.EventTopic)
	token := client.Subscribe(c.cfg.EventTopic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		if err := c.handleEvent(msg.Payload()); err != nil {
			log.WithError(err).Warn("Failed to handle camera event")
		}
	})
	if token.Wait() && token.Error() != nil {
		log.Errorf("Failed to subscribe to %s: %v", c.cfg.EventTopic, token.Error())
	}
}

// handleEvent processes one camera event payload: record it, fetch the
// snapshot, detect, and run a tracking cycle for the camera.
func (c *Client) handleEvent(payload []byte) error {
	var evt cameraEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return fmt.Errorf("failed to unmarshal camera event: %w", err)
	}

	data := evt.After
	if data == nil {
		data = evt.Before
	}
	if data == nil {
		log.Debug("Skipping camera event without before/after data")
		return nil
	}
	if c.cfg.PersonOnly && data.Label != "person" {
		log.Debugf("Skipping %q event from camera %s", data.Label, data.Camera)
		return nil
	}

	record := models.CameraEvent{
		EventID: data.ID,
		Camera:  data.Camera,
		Label:   data.Label,
		Payload: datatypes.JSON(payload),
	}
	if err := c.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&record).Error; err != nil {
		log.WithError(err).Warnf("Failed to record camera event %s", data.ID)
	}

	// Only terminal events carry the final snapshot worth analyzing.
	if evt.Type != "end" || !data.HasSnapshot {
		return nil
	}
	if c.detector == nil || c.manager == nil {
		log.Debugf("Detector disabled, not analyzing event %s", data.ID)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()

	frame, err := c.downloadSnapshot(ctx, data.ID)
	if err != nil {
		return fmt.Errorf("failed to download snapshot for event %s: %w", data.ID, err)
	}

	detections, err := c.detector.Detect(ctx, frame, data.Camera)
	if err != nil {
		return fmt.Errorf("detection failed for event %s: %w", data.ID, err)
	}

	summaries, err := c.manager.ProcessCycle(ctx, data.Camera, detections, frame)
	if err != nil {
		return fmt.Errorf("tracking cycle failed for camera %s: %w", data.Camera, err)
	}

	if c.hub != nil {
		c.hub.BroadcastCycle(data.Camera, summaries)
	}
	log.Infof("Processed camera event %s: %d detections, %d sessions touched",
		data.ID, len(detections), len(summaries))
	return nil
}

// downloadSnapshot fetches the event snapshot from the camera API.
func (c *Client) downloadSnapshot(ctx context.Context, eventID string) ([]byte, error) {
	apiURL, err := url.JoinPath(c.cfg.SnapshotURL, "api/events", eventID, "snapshot.jpg")
	if err != nil {
		return nil, fmt.Errorf("failed to build snapshot URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot request returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// NotifyVisit implements audit.Notifier: publishes a finalized visit to the
// outbound topic. Best-effort; a publish failure is logged and dropped.
func (c *Client) NotifyVisit(visit tracking.Visit) {
	if c.client == nil || !c.client.IsConnected() {
		return
	}
	payload, err := json.Marshal(visit)
	if err != nil {
		log.WithError(err).Error("Failed to marshal visit for MQTT")
		return
	}
	token := c.client.Publish(c.cfg.VisitTopic, 0, false, payload)
	go func() {
		if token.Wait() && token.Error() != nil {
			log.WithError(token.Error()).Warnf("Failed to publish visit for track %d", visit.TrackID)
		}
	}()
}
