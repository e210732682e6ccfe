package telemetry

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/abhinav937/who-is-using-the-server/internal/infra/config"
)

// Provider represents a telemetry provider handle.
type Provider struct {
	sweepCounter prometheus.Counter
}

// Attach configures telemetry collectors and returns a provider handle.
func Attach(_ context.Context, cfg *config.AppConfig) (*Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	counter := promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "presence",
		Name:      "sweeps_total",
		Help:      "Total number of liveness sweep passes",
	})

	return &Provider{
		sweepCounter: counter,
	}, nil
}

// SweepCounter exposes the sweep pass metric.
func (p *Provider) SweepCounter() prometheus.Counter {
	if p == nil {
		return prometheus.NewCounter(prometheus.CounterOpts{})
	}
	return p.sweepCounter
}
