package weather

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/farmtech/internal/model/entities"
)

// Fetcher is satisfied by *OWMClient.
type Fetcher interface {
	Fetch(ctx context.Context) (entities.WeatherContext, error)
}

// Provider refreshes the weather in the background and serves the last good
// result. Decisions never wait on the network.
type Provider struct {
	fetcher  Fetcher
	interval time.Duration
	maxAge   time.Duration
	timeout  time.Duration
	now      func() time.Time

	mu      sync.RWMutex
	last    entities.WeatherContext
	lastErr error
}

func NewProvider(f Fetcher, cfg Config) *Provider {
	cfg.ApplyDefaults()
	return &Provider{
		fetcher:  f,
		interval: cfg.RefreshInterval,
		maxAge:   cfg.MaxAge,
		timeout:  cfg.Timeout,
		now:      time.Now,
	}
}

// Current returns the last fetched context. A context older than the max age,
// or none at all, is marked stale and never reports rain.
func (p *Provider) Current() entities.WeatherContext {
	p.mu.RLock()
	wc := p.last
	p.mu.RUnlock()

	if wc.FetchedAt.IsZero() || p.now().Sub(wc.FetchedAt) > p.maxAge {
		wc.Stale = true
		wc.RainImminent = false
	}
	return wc
}

func (p *Provider) LastError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastErr
}

// Refresh fetches once. On failure the previous context is kept.
func (p *Provider) Refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	wc, err := p.fetcher.Fetch(ctx)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastErr = err
	if err != nil {
		log.Printf("WARN: weather: refresh failed: %v", err)
		return err
	}
	p.last = wc
	log.Printf("weather: %.1f°C %.0f%% %q rain=%v", wc.Temperature, wc.AirHumidity, wc.Description, wc.RainImminent)
	return nil
}

// Run refreshes immediately and then every interval until ctx is done.
func (p *Provider) Run(ctx context.Context) {
	_ = p.Refresh(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = p.Refresh(ctx)
		}
	}
}
