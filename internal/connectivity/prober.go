package connectivity

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Prober periodically issues a HEAD request and feeds the result to a Monitor.
type Prober struct {
	url        string
	interval   time.Duration
	monitor    *Monitor
	httpClient *http.Client
	logger     *slog.Logger
	stopCh     chan struct{}
	stopped    chan struct{}
}

func NewProber(url string, interval time.Duration, monitor *Monitor, logger *slog.Logger) *Prober {
	if interval == 0 {
		interval = 30 * time.Second
	}
	return &Prober{
		url:      url,
		interval: interval,
		monitor:  monitor,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		logger:  logger,
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Probe checks reachability once. Any response below 500 counts as online.
func (p *Prober) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		p.monitor.Set(false)
		return false
	}

	online := false
	resp, err := p.httpClient.Do(req)
	if err == nil {
		resp.Body.Close()
		online = resp.StatusCode < 500
	}

	if online != p.monitor.Online() {
		p.logger.Info("connectivity changed", "online", online)
	}
	p.monitor.Set(online)
	return online
}

// Start begins the background probe goroutine.
func (p *Prober) Start(ctx context.Context) {
	p.Probe(ctx)

	go func() {
		defer close(p.stopped)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				p.Probe(ctx)
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the probe goroutine.
func (p *Prober) Stop() {
	close(p.stopCh)
	<-p.stopped
}
