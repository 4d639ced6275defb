package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Exporter owns an SDK meter provider whose readings are served in the
// Prometheus text format.
type Exporter struct {
	provider *sdkmetric.MeterProvider
	handler  http.Handler
	recorder *Recorder
}

// NewPrometheus builds a meter provider backed by a private Prometheus
// registry and installs it as the global otel provider.
func NewPrometheus() (*Exporter, error) {
	registry := prometheus.NewRegistry()
	reader, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	recorder, err := New(provider)
	if err != nil {
		_ = provider.Shutdown(context.Background())
		return nil, fmt.Errorf("create instruments: %w", err)
	}
	otel.SetMeterProvider(provider)

	return &Exporter{
		provider: provider,
		handler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		recorder: recorder,
	}, nil
}

// Recorder returns the recorder writing into this exporter.
func (e *Exporter) Recorder() *Recorder {
	return e.recorder
}

// Handler serves the scrape endpoint.
func (e *Exporter) Handler() http.Handler {
	return e.handler
}

// Shutdown flushes and stops the meter provider.
func (e *Exporter) Shutdown(ctx context.Context) error {
	return e.provider.Shutdown(ctx)
}
