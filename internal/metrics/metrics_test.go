package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsRegistersEverything(t *testing.T) {
	reg, m := NewRegistry()

	m.AssistantCalls.WithLabelValues("review.clarity", Bool(true)).Inc()
	m.Reviews.WithLabelValues("PASS").Inc()
	m.ReviewDuration.Observe(12)
	m.CategoryDuration.WithLabelValues("clarity").Observe(3)
	m.CategoryFailures.WithLabelValues("scope", "extraction_failure").Inc()
	m.ReviewTimeouts.Inc()
	m.DecomposeRuns.WithLabelValues("COMPLETED", "FAIL").Inc()
	m.DecomposeRevisions.Inc()
	m.DecomposeTransitions.WithLabelValues("REVIEWING").Inc()
	m.SuggestionTransitions.WithLabelValues("approved").Inc()
	m.ChangeReverts.Inc()
	m.SessionConflicts.Inc()
	m.GodSpecChecks.WithLabelValues(Bool(false)).Inc()

	count, err := testutil.GatherAndCount(reg)
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	if count < 13 {
		t.Errorf("expected at least 13 metric series, got %d", count)
	}

	if got := testutil.ToFloat64(m.Reviews.WithLabelValues("PASS")); got != 1 {
		t.Errorf("reviews{PASS} = %v, want 1", got)
	}
}

func TestHandlerForServesMetrics(t *testing.T) {
	reg, m := NewRegistry()
	m.ChangeReverts.Inc()

	rec := httptest.NewRecorder()
	HandlerFor(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "specforge_change_reverts_total 1") {
		t.Errorf("metrics output missing counter:\n%s", rec.Body.String())
	}
}
