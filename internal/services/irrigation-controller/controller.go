package irrigation_controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/LeonardoBeccarini/farmtech/internal/model"
	"github.com/LeonardoBeccarini/farmtech/internal/model/entities"
	"github.com/LeonardoBeccarini/farmtech/internal/monitor"
	"github.com/LeonardoBeccarini/farmtech/internal/services/link"
	"github.com/LeonardoBeccarini/farmtech/pkg/dedup"
	"github.com/LeonardoBeccarini/farmtech/pkg/rabbitmq"
	"github.com/LeonardoBeccarini/farmtech/pkg/telemetry"
)

const (
	SourceIrrigation = "irrigation"
	SourceMQTT       = "mqtt"
	SourceGRPC       = "grpc"
	SourceCLI        = "cli"

	manualTimeout = 5 * time.Second
)

// Link is the part of the link supervisor the controller drives.
type Link interface {
	Readings() <-chan link.Reading
	Events() <-chan link.Event
	Send(cmd telemetry.PumpCommand) error
}

// Store persists readings and actuations.
type Store interface {
	InsertReading(ctx context.Context, sensorID int64, value float64, unit string, at time.Time) (int64, error)
	InsertAdjustment(ctx context.Context, a entities.Adjustment) (int64, error)
}

// WeatherSource returns the latest weather without blocking on the network.
type WeatherSource interface {
	Current() entities.WeatherContext
}

// Mirror receives a copy of readings and decisions (time-series store).
type Mirror interface {
	WriteReading(d model.SensorData)
	WriteDecision(ev model.IrrigationDecisionEvent)
}

type Option func(*Controller)

func WithWeather(w WeatherSource) Option       { return func(c *Controller) { c.weather = w } }
func WithPublisher(p rabbitmq.IPublisher) Option { return func(c *Controller) { c.publisher = p } }
func WithMirror(m Mirror) Option                 { return func(c *Controller) { c.mirror = m } }
func WithMetrics(m *monitor.Metrics) Option      { return func(c *Controller) { c.metrics = m } }
func WithClock(now func() time.Time) Option      { return func(c *Controller) { c.now = now } }

type manualRequest struct {
	cmd    telemetry.PumpCommand
	source string
	reply  chan error
}

// Controller consumes the link's readings on a single goroutine: persist,
// consult the weather, decide, deliver, record.
type Controller struct {
	link      Link
	store     Store
	weather   WeatherSource
	publisher rabbitmq.IPublisher
	mirror    Mirror
	metrics   *monitor.Metrics
	now       func() time.Time
	areaID    int64

	manual  chan manualRequest
	deduper *dedup.Deduper

	// owned by the Start goroutine
	lastSent *telemetry.PumpCommand
}

func NewController(l Link, s Store, areaID int64, opts ...Option) (*Controller, error) {
	if l == nil {
		return nil, errors.New("link is nil")
	}
	if s == nil {
		return nil, errors.New("store is nil")
	}
	c := &Controller{
		link:    l,
		store:   s,
		areaID:  areaID,
		now:     time.Now,
		manual:  make(chan manualRequest),
		deduper: dedup.New(10*time.Minute, 20000),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = monitor.New()
	}
	return c, nil
}

// Start blocks until ctx is done.
func (c *Controller) Start(ctx context.Context) {
	readings := c.link.Readings()
	events := c.link.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-readings:
			// a reconnect event queued before this reading must reset lastSent first
			c.drainEvents(events)
			c.handleReading(ctx, r)
		case ev := <-events:
			c.handleEvent(ev)
		case req := <-c.manual:
			req.reply <- c.applyManual(ctx, req.cmd, req.source)
		}
	}
}

func (c *Controller) drainEvents(events <-chan link.Event) {
	for {
		select {
		case ev := <-events:
			c.handleEvent(ev)
		default:
			return
		}
	}
}

// ManualPump hands an operator command to the Start goroutine and waits for
// the outcome.
func (c *Controller) ManualPump(ctx context.Context, on bool, source string) error {
	req := manualRequest{cmd: telemetry.PumpCommand{TurnOn: on}, source: source, reply: make(chan error, 1)}
	select {
	case c.manual <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandlePumpCommand is the MQTT handler for command/pump/{area}. Redeliveries
// are dropped by command_id; commands without one are always applied.
func (c *Controller) HandlePumpCommand(_ string, msg mqtt.Message) error {
	var m model.PumpCommandMessage
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		log.Printf("controller: bad pump command payload on %s: %v", msg.Topic(), err)
		return nil // non bloccare lo stream
	}
	if m.CommandID != "" && !c.deduper.ShouldProcess(dedup.Key(msg.Topic(), []byte(m.CommandID))) {
		return nil
	}
	if m.AreaID != 0 && m.AreaID != c.areaID {
		return nil
	}
	source := m.Source
	if source == "" {
		source = SourceMQTT
	}
	ctx, cancel := context.WithTimeout(context.Background(), manualTimeout)
	defer cancel()
	return c.ManualPump(ctx, m.TurnOn, source)
}

func (c *Controller) handleReading(ctx context.Context, r link.Reading) {
	c.metrics.FrameAccepted()
	at := r.ReceivedAt
	if at.IsZero() {
		at = c.now()
	}

	humidityID, ok := c.persistReading(ctx, r.Reading, at)
	data := model.SensorData{
		AreaID:       c.areaID,
		ReadingID:    humidityID,
		Phosphorus:   r.Phosphorus,
		Potassium:    r.Potassium,
		PH:           r.PH,
		SoilHumidity: r.SoilHumidity,
		Timestamp:    at,
	}
	c.publish(fmt.Sprintf("%s/%d", rabbitmq.TopicReadings, c.areaID), data)
	if c.mirror != nil {
		c.mirror.WriteReading(data)
	}

	wc := c.currentWeather()
	cmd := Decide(r.SoilHumidity, r.Phosphorus, r.Potassium, wc.RainImminent)
	reason := Explain(r.SoilHumidity, r.Phosphorus, r.Potassium, wc.RainImminent)

	var ref *int64
	if ok {
		ref = &humidityID
	}
	outcome := c.deliver(ctx, cmd, SourceIrrigation, entities.AdjustmentIrrigation, ref)
	c.metrics.Decision(outcome)

	log.Printf("controller: humidity=%.1f%% P=%v K=%v rain=%v stale=%v -> %s (%s, %s)",
		r.SoilHumidity, r.Phosphorus, r.Potassium, wc.RainImminent, wc.Stale, cmd, reason, outcome)

	ev := model.IrrigationDecisionEvent{
		DecisionID:   uuid.NewString(),
		AreaID:       c.areaID,
		ReadingID:    humidityID,
		SoilHumidity: r.SoilHumidity,
		Phosphorus:   r.Phosphorus,
		Potassium:    r.Potassium,
		RainImminent: wc.RainImminent,
		WeatherStale: wc.Stale,
		PumpOn:       cmd.TurnOn,
		Delivered:    outcome == outcomeSent,
		Reason:       reason,
		Timestamp:    at,
	}
	c.publish(fmt.Sprintf("%s/%d", rabbitmq.TopicDecisions, c.areaID), ev)
	if c.mirror != nil {
		c.mirror.WriteDecision(ev)
	}
}

// persistReading stores the four channels of a frame. It returns the id of
// the humidity row, which later actuations reference.
func (c *Controller) persistReading(ctx context.Context, r telemetry.Reading, at time.Time) (int64, bool) {
	values := []struct {
		sensor entities.Sensor
		value  float64
	}{
		{entities.DefaultSensors[0], r.SoilHumidity},
		{entities.DefaultSensors[1], r.PH},
		{entities.DefaultSensors[2], boolValue(r.Phosphorus)},
		{entities.DefaultSensors[3], boolValue(r.Potassium)},
	}
	var humidityID int64
	ok := false
	for _, v := range values {
		id, err := c.store.InsertReading(ctx, v.sensor.ID, v.value, v.sensor.Unit, at)
		if err != nil {
			log.Printf("controller: persist %s reading: %v", v.sensor.Kind, err)
			continue
		}
		if v.sensor.Kind == entities.KindHumidity {
			humidityID, ok = id, true
		}
	}
	return humidityID, ok
}

const (
	outcomeSent         = "sent"
	outcomeUnchanged    = "unchanged"
	outcomeNotConnected = "not_connected"
	outcomeSendFailed   = "send_failed"
)

// deliver writes cmd unless it equals the last delivered command since the
// link (re)connected, then records the actuation.
func (c *Controller) deliver(ctx context.Context, cmd telemetry.PumpCommand, source string, typ entities.AdjustmentType, ref *int64) string {
	if typ == entities.AdjustmentIrrigation && c.lastSent != nil && *c.lastSent == cmd {
		return outcomeUnchanged
	}
	if err := c.link.Send(cmd); err != nil {
		if errors.Is(err, link.ErrNotConnected) {
			return outcomeNotConnected
		}
		log.Printf("controller: send %s: %v", cmd, err)
		return outcomeSendFailed
	}
	sent := cmd
	c.lastSent = &sent
	c.metrics.PumpCommand(cmd.String(), source)
	c.recordAdjustment(ctx, cmd, typ, ref)
	return outcomeSent
}

func (c *Controller) recordAdjustment(ctx context.Context, cmd telemetry.PumpCommand, typ entities.AdjustmentType, ref *int64) {
	a := entities.Adjustment{
		AreaID:             c.areaID,
		Type:               typ,
		PumpOn:             cmd.TurnOn,
		ReferenceReadingID: ref,
		Timestamp:          c.now(),
	}
	id, err := c.store.InsertAdjustment(ctx, a)
	if err != nil {
		log.Printf("controller: persist adjustment: %v", err)
		return
	}
	c.publish(fmt.Sprintf("%s/%d", rabbitmq.TopicAdjust, c.areaID), model.AdjustmentEvent{
		AdjustmentID:       id,
		AreaID:             a.AreaID,
		Type:               string(a.Type),
		PumpOn:             a.PumpOn,
		ReferenceReadingID: a.ReferenceReadingID,
		Timestamp:          a.Timestamp,
	})
}

func (c *Controller) applyManual(ctx context.Context, cmd telemetry.PumpCommand, source string) error {
	if err := c.link.Send(cmd); err != nil {
		log.Printf("controller: manual %s from %s: %v", cmd, source, err)
		return err
	}
	sent := cmd
	c.lastSent = &sent
	c.metrics.PumpCommand(cmd.String(), source)
	c.recordAdjustment(ctx, cmd, entities.AdjustmentManual, nil)
	log.Printf("controller: manual %s from %s", cmd, source)
	return nil
}

func (c *Controller) handleEvent(ev link.Event) {
	c.metrics.ObserveLinkEvent(ev)
	switch ev.Kind {
	case link.EventConnected, link.EventReconnected, link.EventDisconnected, link.EventExhausted:
		// the device may have reset: deliver the next decision even if unchanged
		c.lastSent = nil
	}
	c.publish(fmt.Sprintf("%s/%d", rabbitmq.TopicLink, c.areaID), model.LinkStatusEvent{
		AreaID:    c.areaID,
		Port:      ev.Port,
		Kind:      string(ev.Kind),
		State:     ev.State.String(),
		Message:   ev.Message,
		Attempt:   ev.Attempt,
		SilenceS:  ev.Silence.Seconds(),
		Timestamp: ev.At,
	})
}

func (c *Controller) currentWeather() entities.WeatherContext {
	if c.weather == nil {
		return entities.WeatherContext{Stale: true}
	}
	return c.weather.Current()
}

func (c *Controller) publish(topic string, v interface{}) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.PublishTo(topic, v); err != nil {
		log.Printf("controller: publish %s: %v", topic, err)
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
