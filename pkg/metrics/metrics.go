package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Recorder records operational metrics. Implementations must be safe for
// concurrent use and must tolerate being called with a zero value.
type Recorder interface {
	RecordBuild(ctx context.Context, status string, duration time.Duration)
	RecordStageResult(ctx context.Context, stage, status string, reused bool)
	RecordIngestBatch(ctx context.Context, collection string, points int, err error)
	RecordQuery(ctx context.Context, retriever string, duration time.Duration, hits int, err error)
	RecordHTTPRequest(ctx context.Context, method, route string, statusCode int, duration time.Duration, respSize int)
	Handler() http.Handler
}

var (
	global   Recorder = NoopRecorder{}
	globalMu sync.RWMutex
)

// SetGlobal installs the process-wide recorder.
func SetGlobal(r Recorder) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = r
}

// Global returns the process-wide recorder, NoopRecorder when none is set.
func Global() Recorder {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return global
}

// PrometheusRecorder exposes metrics through the OpenTelemetry Prometheus
// exporter. Instruments land in the default Prometheus registry, so the
// handler from Handler serves everything the process registered.
type PrometheusRecorder struct {
	buildDuration metric.Float64Histogram
	buildsTotal   metric.Int64Counter

	stageResults metric.Int64Counter

	ingestPoints  metric.Int64Counter
	ingestBatches metric.Int64Counter
	ingestErrors  metric.Int64Counter

	queryDuration metric.Float64Histogram
	queryHits     metric.Int64Counter
	queryErrors   metric.Int64Counter

	httpDuration metric.Float64Histogram
	httpRequests metric.Int64Counter
}

// Init builds a PrometheusRecorder backed by a fresh meter provider.
func Init(ctx context.Context) (*PrometheusRecorder, error) {
	exporter, err := otelprom.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("raglane")

	r := &PrometheusRecorder{}

	if r.buildDuration, err = meter.Float64Histogram(
		"raglane_build_duration_seconds",
		metric.WithDescription("Retriever build duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create build duration histogram: %w", err)
	}
	if r.buildsTotal, err = meter.Int64Counter(
		"raglane_builds_total",
		metric.WithDescription("Total retriever builds by final status"),
	); err != nil {
		return nil, fmt.Errorf("failed to create builds counter: %w", err)
	}
	if r.stageResults, err = meter.Int64Counter(
		"raglane_stage_results_total",
		metric.WithDescription("Pipeline stage results by stage, status and reuse"),
	); err != nil {
		return nil, fmt.Errorf("failed to create stage results counter: %w", err)
	}
	if r.ingestPoints, err = meter.Int64Counter(
		"raglane_ingest_points_total",
		metric.WithDescription("Total points upserted into vector collections"),
	); err != nil {
		return nil, fmt.Errorf("failed to create ingest points counter: %w", err)
	}
	if r.ingestBatches, err = meter.Int64Counter(
		"raglane_ingest_batches_total",
		metric.WithDescription("Total ingestion batches sent"),
	); err != nil {
		return nil, fmt.Errorf("failed to create ingest batches counter: %w", err)
	}
	if r.ingestErrors, err = meter.Int64Counter(
		"raglane_ingest_errors_total",
		metric.WithDescription("Total failed ingestion batches"),
	); err != nil {
		return nil, fmt.Errorf("failed to create ingest errors counter: %w", err)
	}
	if r.queryDuration, err = meter.Float64Histogram(
		"raglane_query_duration_seconds",
		metric.WithDescription("Query duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create query duration histogram: %w", err)
	}
	if r.queryHits, err = meter.Int64Counter(
		"raglane_query_hits_total",
		metric.WithDescription("Total hits returned by queries"),
	); err != nil {
		return nil, fmt.Errorf("failed to create query hits counter: %w", err)
	}
	if r.queryErrors, err = meter.Int64Counter(
		"raglane_query_errors_total",
		metric.WithDescription("Total failed queries"),
	); err != nil {
		return nil, fmt.Errorf("failed to create query errors counter: %w", err)
	}
	if r.httpDuration, err = meter.Float64Histogram(
		"raglane_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create http duration histogram: %w", err)
	}
	if r.httpRequests, err = meter.Int64Counter(
		"raglane_http_requests_total",
		metric.WithDescription("Total HTTP requests by method, route and status"),
	); err != nil {
		return nil, fmt.Errorf("failed to create http requests counter: %w", err)
	}

	return r, nil
}

func (r *PrometheusRecorder) RecordBuild(ctx context.Context, status string, duration time.Duration) {
	if r == nil || r.buildDuration == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	r.buildDuration.Record(ctx, duration.Seconds(), attrs)
	r.buildsTotal.Add(ctx, 1, attrs)
}

func (r *PrometheusRecorder) RecordStageResult(ctx context.Context, stage, status string, reused bool) {
	if r == nil || r.stageResults == nil {
		return
	}
	r.stageResults.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("status", status),
		attribute.Bool("reused", reused),
	))
}

func (r *PrometheusRecorder) RecordIngestBatch(ctx context.Context, collection string, points int, err error) {
	if r == nil || r.ingestBatches == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("collection", collection))
	r.ingestBatches.Add(ctx, 1, attrs)
	if err != nil {
		r.ingestErrors.Add(ctx, 1, attrs)
		return
	}
	r.ingestPoints.Add(ctx, int64(points), attrs)
}

func (r *PrometheusRecorder) RecordQuery(ctx context.Context, retriever string, duration time.Duration, hits int, err error) {
	if r == nil || r.queryDuration == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("retriever", retriever))
	r.queryDuration.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		r.queryErrors.Add(ctx, 1, attrs)
		return
	}
	r.queryHits.Add(ctx, int64(hits), attrs)
}

func (r *PrometheusRecorder) RecordHTTPRequest(ctx context.Context, method, route string, statusCode int, duration time.Duration, respSize int) {
	if r == nil || r.httpDuration == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status", statusCode),
	)
	r.httpDuration.Record(ctx, duration.Seconds(), attrs)
	r.httpRequests.Add(ctx, 1, attrs)
}

// Handler serves the default Prometheus registry.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.Handler()
}

// NoopRecorder discards every measurement.
type NoopRecorder struct{}

func (NoopRecorder) RecordBuild(_ context.Context, _ string, _ time.Duration)                 {}
func (NoopRecorder) RecordStageResult(_ context.Context, _, _ string, _ bool)                 {}
func (NoopRecorder) RecordIngestBatch(_ context.Context, _ string, _ int, _ error)            {}
func (NoopRecorder) RecordQuery(_ context.Context, _ string, _ time.Duration, _ int, _ error) {}
func (NoopRecorder) RecordHTTPRequest(_ context.Context, _, _ string, _ int, _ time.Duration, _ int) {
}

// Handler reports that metrics are disabled.
func (NoopRecorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("metrics not enabled"))
	})
}

var (
	_ Recorder = (*PrometheusRecorder)(nil)
	_ Recorder = NoopRecorder{}
)
