package persistence

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/LeonardoBeccarini/farmtech/internal/model/messages"
)

// Configurazione Influx
type InfluxConfig struct {
	URL         string `yaml:"url"`
	Token       string `yaml:"token"`
	Org         string `yaml:"org"`
	Bucket      string `yaml:"bucket"`
	Measurement string `yaml:"measurement"`
	BatchSize   uint   `yaml:"batch_size"`
}

func (c *InfluxConfig) ApplyDefaults() {
	if c.Org == "" {
		c.Org = "farmtech"
	}
	if c.Bucket == "" {
		c.Bucket = "farmtech"
	}
	if c.Measurement == "" {
		c.Measurement = "soil_reading"
	}
	if c.BatchSize == 0 {
		c.BatchSize = 20
	}
}

func (c InfluxConfig) Enabled() bool { return strings.TrimSpace(c.URL) != "" }

// InfluxMirror copies readings and decisions into InfluxDB through the async
// WriteAPI and remembers the last write error for /healthz and /readyz.
type InfluxMirror struct {
	client      influxdb2.Client
	api         api.WriteAPI
	org         string
	bucket      string
	measurement string

	mu      sync.RWMutex
	lastErr time.Time
	errMsg  string
	writes  int64
}

func NewInfluxMirror(cfg InfluxConfig) *InfluxMirror {
	cfg.ApplyDefaults()
	opts := influxdb2.DefaultOptions().SetBatchSize(cfg.BatchSize)
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)
	m := &InfluxMirror{
		client:      client,
		api:         client.WriteAPI(cfg.Org, cfg.Bucket),
		org:         cfg.Org,
		bucket:      cfg.Bucket,
		measurement: sanitizeMeasurement(cfg.Measurement),
		lastErr:     time.Now().Add(-24 * time.Hour), // "lontano nel tempo"
	}
	go func() {
		for err := range m.api.Errors() {
			if err == nil {
				continue
			}
			m.mu.Lock()
			m.lastErr = time.Now()
			m.errMsg = err.Error()
			m.mu.Unlock()
			log.Printf("influx: write error: %v", err)
		}
	}()
	return m
}

func areaTag(id int64) string { return strconv.FormatInt(id, 10) }

func (m *InfluxMirror) WriteReading(d messages.SensorData) {
	if m == nil {
		return
	}
	t := d.Timestamp
	if t.IsZero() {
		t = time.Now()
	}
	p := influxdb2.NewPoint(m.measurement,
		map[string]string{"area_id": areaTag(d.AreaID)},
		map[string]interface{}{
			"soil_humidity": d.SoilHumidity,
			"ph":            d.PH,
			"phosphorus":    d.Phosphorus,
			"potassium":     d.Potassium,
		}, t)
	m.api.WritePoint(p)
	m.markWrite()
}

func (m *InfluxMirror) WriteDecision(ev messages.IrrigationDecisionEvent) {
	if m == nil {
		return
	}
	p := influxdb2.NewPoint("irrigation_decision",
		map[string]string{"area_id": areaTag(ev.AreaID), "reason": sanitizeMeasurement(ev.Reason)},
		map[string]interface{}{
			"pump_on":       ev.PumpOn,
			"delivered":     ev.Delivered,
			"rain_imminent": ev.RainImminent,
			"soil_humidity": ev.SoilHumidity,
		}, ev.Timestamp)
	m.api.WritePoint(p)
	m.markWrite()
}

// DecisionPoint is one mirrored decision read back from InfluxDB.
type DecisionPoint struct {
	Time         string  `json:"time"` // RFC3339
	AreaID       string  `json:"area_id"`
	Reason       string  `json:"reason"`
	PumpOn       bool    `json:"pump_on"`
	Delivered    bool    `json:"delivered"`
	RainImminent bool    `json:"rain_imminent"`
	SoilHumidity float64 `json:"soil_humidity"`
}

func decisionsFlux(bucket string, minutes, limit int) string {
	return fmt.Sprintf(`
from(bucket: %q)
  |> range(start: -%dm)
  |> filter(fn: (r) => r._measurement == "irrigation_decision")
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> keep(columns: ["_time","area_id","reason","pump_on","delivered","rain_imminent","soil_humidity"])
  |> group()
  |> sort(columns: ["_time"], desc: true)
  |> limit(n:%d)
`, bucket, minutes, limit)
}

// LatestDecisions queries the decisions mirrored in the last minutes, newest first.
func (m *InfluxMirror) LatestDecisions(ctx context.Context, minutes, limit int) ([]DecisionPoint, error) {
	res, err := m.client.QueryAPI(m.org).Query(ctx, decisionsFlux(m.bucket, minutes, limit))
	if err != nil {
		return nil, fmt.Errorf("influx query: %w", err)
	}
	defer res.Close()

	out := make([]DecisionPoint, 0, limit)
	for res.Next() {
		rec := res.Record()
		p := DecisionPoint{Time: rec.Time().UTC().Format(time.RFC3339)}
		if v, ok := rec.ValueByKey("area_id").(string); ok {
			p.AreaID = v
		}
		if v, ok := rec.ValueByKey("reason").(string); ok {
			p.Reason = v
		}
		p.PumpOn, _ = rec.ValueByKey("pump_on").(bool)
		p.Delivered, _ = rec.ValueByKey("delivered").(bool)
		p.RainImminent, _ = rec.ValueByKey("rain_imminent").(bool)
		switch v := rec.ValueByKey("soil_humidity").(type) {
		case float64:
			p.SoilHumidity = v
		case int64:
			p.SoilHumidity = float64(v)
		}
		out = append(out, p)
	}
	if res.Err() != nil {
		return out, fmt.Errorf("influx result: %w", res.Err())
	}
	return out, nil
}

func (m *InfluxMirror) markWrite() {
	m.mu.Lock()
	m.writes++
	m.mu.Unlock()
}

// Writes counts points handed to the WriteAPI.
func (m *InfluxMirror) Writes() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// LastErrorAge reports how long ago the last write error happened.
func (m *InfluxMirror) LastErrorAge() time.Duration {
	if m == nil {
		return 99999 * time.Hour
	}
	m.mu.RLock()
	t := m.lastErr
	m.mu.RUnlock()
	return time.Since(t)
}

func (m *InfluxMirror) LastError() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.errMsg
}

func (m *InfluxMirror) Flush() {
	if m != nil {
		m.api.Flush()
	}
}

func (m *InfluxMirror) Close() {
	if m == nil {
		return
	}
	m.api.Flush()
	m.client.Close()
}

func sanitizeMeasurement(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == '_', r == ':', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
