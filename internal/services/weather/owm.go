// Package weather pulls current conditions from OpenWeatherMap and keeps the
// latest result for the irrigation controller.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/LeonardoBeccarini/farmtech/internal/model/entities"
)

var ErrMissingAPIKey = errors.New("weather: missing api key")

type owmCondition struct {
	Main        string `json:"main"`
	Description string `json:"description"`
}

type owmResp struct {
	Main struct {
		Temp     float64 `json:"temp"`
		Humidity float64 `json:"humidity"`
	} `json:"main"`
	Weather []owmCondition `json:"weather"`
	Rain    struct {
		OneHour   float64 `json:"1h"`
		ThreeHour float64 `json:"3h"`
	} `json:"rain"`
}

// rainWords covers both the localized (pt_br) and the English descriptions.
var rainWords = []string{"chuva", "garoa", "temporal", "rain", "drizzle", "storm"}

// IsRainy classifies a condition as rain imminent.
func IsRainy(main, description string) bool {
	switch strings.ToLower(strings.TrimSpace(main)) {
	case "rain", "drizzle", "thunderstorm":
		return true
	}
	d := strings.ToLower(description)
	for _, w := range rainWords {
		if strings.Contains(d, w) {
			return true
		}
	}
	return false
}

type OWMClient struct {
	cfg     Config
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	now     func() time.Time
}

func NewOWMClient(cfg Config) *OWMClient {
	cfg.ApplyDefaults()
	fails := uint32(cfg.BreakerFailures)
	return &OWMClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "openweathermap",
			Timeout: cfg.BreakerOpen,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= fails
			},
		}),
		now: time.Now,
	}
}

func (c *OWMClient) endpoint() string {
	q := url.Values{}
	q.Set("q", c.cfg.City+","+c.cfg.Country)
	q.Set("appid", c.cfg.APIKey)
	q.Set("units", "metric")
	q.Set("lang", c.cfg.Lang)
	return c.cfg.BaseURL + "/data/2.5/weather?" + q.Encode()
}

// Fetch returns the current conditions. Calls are short-circuited while the
// breaker is open.
func (c *OWMClient) Fetch(ctx context.Context) (entities.WeatherContext, error) {
	if !c.cfg.Enabled() {
		return entities.WeatherContext{}, ErrMissingAPIKey
	}
	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetch(ctx)
	})
	if err != nil {
		return entities.WeatherContext{}, err
	}
	return res.(entities.WeatherContext), nil
}

func (c *OWMClient) fetch(ctx context.Context) (entities.WeatherContext, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(), nil)
	if err != nil {
		return entities.WeatherContext{}, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return entities.WeatherContext{}, fmt.Errorf("owm request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return entities.WeatherContext{}, fmt.Errorf("owm status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var out owmResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return entities.WeatherContext{}, fmt.Errorf("owm decode: %w", err)
	}
	if len(out.Weather) == 0 {
		return entities.WeatherContext{}, errors.New("owm: no weather conditions in response")
	}

	cond := out.Weather[0]
	rainy := out.Rain.OneHour > 0 || out.Rain.ThreeHour > 0
	for _, w := range out.Weather {
		if IsRainy(w.Main, w.Description) {
			rainy = true
		}
	}
	return entities.WeatherContext{
		Temperature:  out.Main.Temp,
		AirHumidity:  out.Main.Humidity,
		Description:  cond.Description,
		RainImminent: rainy,
		FetchedAt:    c.now(),
	}, nil
}

func (c *OWMClient) BreakerState() string { return c.breaker.State().String() }
