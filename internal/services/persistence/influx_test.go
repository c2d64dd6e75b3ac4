package persistence

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/LeonardoBeccarini/farmtech/internal/model/messages"
)

type lineRecorder struct {
	mu     sync.Mutex
	bodies []string
}

func (l *lineRecorder) all() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return strings.Join(l.bodies, "\n")
}

func newInfluxServer(t *testing.T, status int) (*httptest.Server, *lineRecorder) {
	t.Helper()
	rec := &lineRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v2/write" {
			b, _ := io.ReadAll(r.Body)
			rec.mu.Lock()
			rec.bodies = append(rec.bodies, string(b))
			rec.mu.Unlock()
		}
		if status >= 400 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"code":"invalid","message":"bad line protocol"}`))
			return
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func TestInfluxMirror_WritesPoints(t *testing.T) {
	srv, rec := newInfluxServer(t, http.StatusNoContent)
	m := NewInfluxMirror(InfluxConfig{URL: srv.URL, Token: "t", BatchSize: 1})
	t.Cleanup(m.Close)

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m.WriteReading(messages.SensorData{AreaID: 1, Phosphorus: true, PH: 6.5, SoilHumidity: 35.2, Timestamp: at})
	m.WriteDecision(messages.IrrigationDecisionEvent{AreaID: 1, PumpOn: true, Delivered: true, Reason: "soil dry", Timestamp: at})
	m.Flush()

	assert.Eventually(t, func() bool {
		all := rec.all()
		return strings.Contains(all, "soil_reading,area_id=1 ") &&
			strings.Contains(all, "irrigation_decision,area_id=1,reason=soil_dry ")
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(2), m.Writes())
	assert.Greater(t, m.LastErrorAge(), time.Hour)
}

func TestInfluxMirror_TracksWriteErrors(t *testing.T) {
	srv, _ := newInfluxServer(t, http.StatusBadRequest)
	m := NewInfluxMirror(InfluxConfig{URL: srv.URL, Token: "t", BatchSize: 1})
	t.Cleanup(m.Close)

	m.WriteReading(messages.SensorData{AreaID: 1, SoilHumidity: 50})
	m.Flush()

	assert.Eventually(t, func() bool {
		return m.LastErrorAge() < time.Minute
	}, 2*time.Second, 10*time.Millisecond)
	assert.NotEmpty(t, m.LastError())
}

func TestInfluxMirror_NilIsNoop(t *testing.T) {
	var m *InfluxMirror
	m.WriteReading(messages.SensorData{})
	m.WriteDecision(messages.IrrigationDecisionEvent{})
	m.Flush()
	m.Close()
	assert.Greater(t, m.LastErrorAge(), time.Hour)
}

func TestSanitizeMeasurement(t *testing.T) {
	assert.Equal(t, "rain_forecast", sanitizeMeasurement("rain forecast"))
	assert.Equal(t, "soil_reading", sanitizeMeasurement("soil_reading"))
}

const decisionsCSV = "#datatype,string,long,dateTime:RFC3339,string,string,boolean,boolean,boolean,double\r\n" +
	"#group,false,false,false,false,false,false,false,false,false\r\n" +
	"#default,_result,,,,,,,,\r\n" +
	",result,table,_time,area_id,reason,delivered,pump_on,rain_imminent,soil_humidity\r\n" +
	",,0,2024-05-01T12:00:00Z,1,soil_dry_and_nutrients_present,true,true,false,35.2\r\n" +
	",,0,2024-05-01T11:59:00Z,1,rain_forecast,true,false,true,30\r\n" +
	"\r\n"

func TestInfluxMirror_LatestDecisions(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/query" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		b, _ := io.ReadAll(r.Body)
		query = string(b)
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		_, _ = w.Write([]byte(decisionsCSV))
	}))
	t.Cleanup(srv.Close)

	m := NewInfluxMirror(InfluxConfig{URL: srv.URL, Token: "t"})
	t.Cleanup(m.Close)

	list, err := m.LatestDecisions(context.Background(), 60, 10)
	assert.NoError(t, err)
	assert.Contains(t, query, "irrigation_decision")
	if assert.Len(t, list, 2) {
		assert.Equal(t, DecisionPoint{
			Time: "2024-05-01T12:00:00Z", AreaID: "1", Reason: "soil_dry_and_nutrients_present",
			PumpOn: true, Delivered: true, SoilHumidity: 35.2,
		}, list[0])
		assert.True(t, list[1].RainImminent)
		assert.False(t, list[1].PumpOn)
	}
}

func TestInfluxMirror_LatestDecisionsError(t *testing.T) {
	srv, _ := newInfluxServer(t, http.StatusInternalServerError)
	m := NewInfluxMirror(InfluxConfig{URL: srv.URL, Token: "t"})
	t.Cleanup(m.Close)

	_, err := m.LatestDecisions(context.Background(), 60, 10)
	assert.Error(t, err)
}

func TestDecisionsFlux(t *testing.T) {
	q := decisionsFlux("farmtech", 30, 5)
	assert.Contains(t, q, `from(bucket: "farmtech")`)
	assert.Contains(t, q, "range(start: -30m)")
	assert.Contains(t, q, "limit(n:5)")
}
