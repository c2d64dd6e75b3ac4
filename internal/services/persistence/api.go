package persistence

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/farmtech/internal/services/link"
)

// LinkStatus is satisfied by *link.Supervisor.
type LinkStatus interface {
	Snapshot() link.Snapshot
}

// APIDeps are the collaborators the HTTP API reports on. MQTT, Influx and
// Metrics are optional.
type APIDeps struct {
	Store   *Store
	Link    LinkStatus
	MQTT    mqtt.Client
	Influx  *InfluxMirror
	Metrics http.Handler
	// MinErrorAge is how long ago the last Influx write error must be for ready.
	MinErrorAge time.Duration
}

func NewHTTPMux(d APIDeps) *http.ServeMux {
	if d.MinErrorAge <= 0 {
		d.MinErrorAge = 30 * time.Second
	}
	mux := http.NewServeMux()

	mux.Handle("/healthz", &healthHandler{d: d})
	mux.Handle("/readyz", &readyHandler{d: d})

	mux.HandleFunc("/link", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, d.Link.Snapshot())
	})

	// GET /data/latest?limit=<n>
	mux.HandleFunc("/data/latest", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		rows, err := d.Store.LatestReadings(ctx, queryInt(r, "limit", 50))
		if err != nil {
			log.Printf("api: latest readings: %v", err)
			w.Header().Set("X-Error", "store-query-error")
			writeJSON(w, http.StatusInternalServerError, []ReadingRow{})
			return
		}
		writeJSON(w, http.StatusOK, rows)
	})

	// GET /adjustments/latest?limit=<n>
	mux.HandleFunc("/adjustments/latest", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		list, err := d.Store.LatestAdjustments(ctx, queryInt(r, "limit", 50))
		if err != nil {
			log.Printf("api: latest adjustments: %v", err)
			w.Header().Set("X-Error", "store-query-error")
			writeJSON(w, http.StatusInternalServerError, []struct{}{})
			return
		}
		writeJSON(w, http.StatusOK, list)
	})

	mux.HandleFunc("/export/readings.csv", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="readings.csv"`)
		if _, err := d.Store.ExportReadingsCSV(r.Context(), w); err != nil {
			// header already sent; the truncated body is all we can do
			log.Printf("api: csv export: %v", err)
		}
	})

	// GET /decisions/latest?limit=20[&minutes=1440]
	if d.Influx != nil {
		mux.HandleFunc("/decisions/latest", func(w http.ResponseWriter, r *http.Request) {
			minutes := clampInt(queryInt(r, "minutes", 1440), 1, 7*24*60)
			limit := clampInt(queryInt(r, "limit", 20), 1, 500)
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()
			list, err := d.Influx.LatestDecisions(ctx, minutes, limit)
			if err != nil {
				log.Printf("api: latest decisions: %v", err)
				w.Header().Set("X-Error", "influx-query-error")
				if list == nil {
					list = []DecisionPoint{}
				}
			}
			writeJSON(w, http.StatusOK, list)
		})
	}

	if d.Metrics != nil {
		mux.Handle("/metrics", d.Metrics)
	}
	return mux
}

type healthHandler struct{ d APIDeps }

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type status struct {
		Status          string  `json:"status"`
		Link            string  `json:"link"`
		StoreOK         bool    `json:"store_ok"`
		MQTTConnected   *bool   `json:"mqtt_connected,omitempty"`
		LastWriteErrorS float64 `json:"last_write_error_age_sec,omitempty"`
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	snap := h.d.Link.Snapshot()
	st := status{
		Link:    snap.StateName,
		StoreOK: h.d.Store.Ping(ctx) == nil,
	}
	depsOK := true
	if h.d.MQTT != nil {
		c := h.d.MQTT.IsConnectionOpen()
		st.MQTTConnected = &c
		depsOK = depsOK && c
	}
	if h.d.Influx != nil {
		age := h.d.Influx.LastErrorAge()
		st.LastWriteErrorS = age.Seconds()
		depsOK = depsOK && age > h.d.MinErrorAge
	}

	switch {
	case !st.StoreOK:
		st.Status = "down"
	case snap.State == link.Connected && depsOK:
		st.Status = "ok"
	default:
		st.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, st)
}

// readyHandler answers 200 only when the link is up and every dependency is ok.
type readyHandler struct{ d APIDeps }

func (h *readyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	ready := h.d.Link.Snapshot().State == link.Connected && h.d.Store.Ping(ctx) == nil
	if h.d.MQTT != nil {
		ready = ready && h.d.MQTT.IsConnectionOpen()
	}
	if h.d.Influx != nil {
		ready = ready && h.d.Influx.LastErrorAge() > h.d.MinErrorAge
	}
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, struct {
		Ready bool `json:"ready"`
	}{Ready: ready})
}

func clampInt(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

func queryInt(r *http.Request, key string, def int) int {
	if v := strings.TrimSpace(r.URL.Query().Get(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
