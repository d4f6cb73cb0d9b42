package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNoopRecorderHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	NoopRecorder{}.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestGlobalDefaultsToNoop(t *testing.T) {
	if _, ok := Global().(NoopRecorder); !ok {
		t.Fatalf("expected NoopRecorder default, got %T", Global())
	}
}

func TestPrometheusRecorder(t *testing.T) {
	ctx := context.Background()

	r, err := Init(ctx)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	r.RecordBuild(ctx, "active", 2*time.Second)
	r.RecordStageResult(ctx, "parse", "success", false)
	r.RecordStageResult(ctx, "parse", "success", true)
	r.RecordIngestBatch(ctx, "col", 64, nil)
	r.RecordIngestBatch(ctx, "col", 0, errors.New("backend down"))
	r.RecordQuery(ctx, "docs", 50*time.Millisecond, 5, nil)
	r.RecordHTTPRequest(ctx, http.MethodPost, "/v1/retrievers/{id}/query", http.StatusOK, time.Millisecond, 128)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	body := rec.Body.String()
	for _, want := range []string{
		"raglane_builds_total",
		"raglane_stage_results_total",
		"raglane_ingest_points_total",
		"raglane_ingest_errors_total",
		"raglane_query_hits_total",
		"raglane_http_requests_total",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %s in metrics output", want)
		}
	}

	// The zero value must be safe to call.
	var zero *PrometheusRecorder
	zero.RecordBuild(ctx, "active", time.Second)
}
