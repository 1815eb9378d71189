package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Write("ok")
	m.Delete("ok")
	m.Read("ok")
	m.Cache(true)
	m.Query("search", "index")
	m.Rebuild("flat", 1, 3, nil)
	if m.Middleware(http.NotFoundHandler()) == nil {
		t.Fatal("nil middleware must pass through")
	}
}

func TestRebuildRecordsResult(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Rebuild("sqlite", 0.2, 7, nil)
	m.Rebuild("sqlite", 0.1, 0, errors.New("boom"))

	body := scrape(t, m)
	for _, want := range []string{
		`pagestore_index_rebuilds_total{backend="sqlite",result="ok"} 1`,
		`pagestore_index_rebuilds_total{backend="sqlite",result="error"} 1`,
		`pagestore_indexed_pages{backend="sqlite"} 7`,
		`pagestore_index_rebuild_duration_seconds_count 2`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape output missing %q", want)
		}
	}
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	return rec.Body.String()
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New(nil)
	m.Query("suggest", "live")

	body := scrape(t, m)
	if !strings.Contains(body, `pagestore_search_queries_total{kind="suggest",source="live"} 1`) {
		t.Errorf("scrape output missing query counter:\n%s", body)
	}
}
