package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestGenerationAndCreditCounters(t *testing.T) {
	m := New()
	m.Generation("prd", OutcomeCompleted, 2*time.Second)
	m.Generation("prd", OutcomeFailed, time.Second)
	m.Generation("schema", OutcomeDeclined, 0)
	m.CreditsSpent("document_generation", 2)
	m.CreditsSpent("document_generation", 2)

	if got := testutil.ToFloat64(m.generations.WithLabelValues("prd", OutcomeCompleted)); got != 1 {
		t.Fatalf("completed prd = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.creditsSpent.WithLabelValues("document_generation")); got != 4 {
		t.Fatalf("credits spent = %v, want 4", got)
	}
	if got := testutil.CollectAndCount(m.latency); got != 1 {
		t.Fatalf("latency series = %d, want 1 (declined attempts are not timed)", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Generation("prd", OutcomeCompleted, time.Second)
	m.CreditsSpent("ai_answer", 1)
}

func TestHandlerServesTextFormat(t *testing.T) {
	m := New()
	m.CreditsSpent("ai_answer", 1)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `studio_credits_spent_total{action="ai_answer"} 1`) {
		t.Fatalf("unexpected metrics body:\n%s", rec.Body.String())
	}
}
