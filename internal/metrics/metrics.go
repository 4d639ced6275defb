// Package metrics exposes OpenTelemetry instruments for clustering, ingestion and export.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/thebtf/clusterlens"

// Recorder records engine measurements. A nil *Recorder is valid and records nothing.
type Recorder struct {
	runs        metric.Int64Counter
	runDuration metric.Float64Histogram
	clusters    metric.Int64Histogram
	ingests     metric.Int64Counter
	exports     metric.Int64Counter
	skipped     metric.Int64Counter
}

// New creates a Recorder using the given provider.
func New(provider metric.MeterProvider) (*Recorder, error) {
	meter := provider.Meter(meterName)
	r := &Recorder{}
	var err error

	if r.runs, err = meter.Int64Counter("clusterlens.cluster.runs",
		metric.WithDescription("Committed clustering runs by final strategy")); err != nil {
		return nil, err
	}
	if r.runDuration, err = meter.Float64Histogram("clusterlens.cluster.duration",
		metric.WithDescription("Time spent computing and committing a labeling"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if r.clusters, err = meter.Int64Histogram("clusterlens.cluster.count",
		metric.WithDescription("Clusters produced per run")); err != nil {
		return nil, err
	}
	if r.ingests, err = meter.Int64Counter("clusterlens.items.ingested",
		metric.WithDescription("Item ingestion attempts by outcome")); err != nil {
		return nil, err
	}
	if r.exports, err = meter.Int64Counter("clusterlens.exports",
		metric.WithDescription("Cluster archives written")); err != nil {
		return nil, err
	}
	if r.skipped, err = meter.Int64Counter("clusterlens.exports.skipped_members",
		metric.WithDescription("Export members skipped because their file was missing")); err != nil {
		return nil, err
	}
	return r, nil
}

// Noop returns a Recorder backed by a no-op provider.
func Noop() *Recorder {
	r, _ := New(noop.NewMeterProvider())
	return r
}

// RecordRun records one committed clustering run.
func (r *Recorder) RecordRun(ctx context.Context, strategy string, clusters int, elapsed time.Duration) {
	if r == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("strategy", strategy))
	r.runs.Add(ctx, 1, attrs)
	r.runDuration.Record(ctx, elapsed.Seconds(), attrs)
	r.clusters.Record(ctx, int64(clusters), attrs)
}

// RecordIngest records one ingestion attempt.
func (r *Recorder) RecordIngest(ctx context.Context, err error) {
	if r == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.ingests.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordExport records one written archive and the members it had to skip.
func (r *Recorder) RecordExport(ctx context.Context, skipped int) {
	if r == nil {
		return
	}
	r.exports.Add(ctx, 1)
	if skipped > 0 {
		r.skipped.Add(ctx, int64(skipped))
	}
}
