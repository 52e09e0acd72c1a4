package metrics

import (
	"strings"
	"testing"
)

func TestHistogramBucketsAreCumulative(t *testing.T) {
	h := newHistogram([]float64{10, 100})
	h.Observe(5)
	h.Observe(50)
	h.Observe(500)

	snap := h.Snapshot()
	var cumulative uint64
	for i := range snap.buckets {
		cumulative += snap.counts[i]
	}
	if cumulative != 2 {
		t.Fatalf("expected 2 observations within bounds, got %d", cumulative)
	}
	if snap.count != 3 {
		t.Fatalf("expected count 3, got %d", snap.count)
	}
	if snap.sum != 555 {
		t.Fatalf("expected sum 555, got %v", snap.sum)
	}
}

func TestRenderIncludesFailedKinds(t *testing.T) {
	IncJobsFailed("UpstreamTimeout")
	IncJobsFailed("")

	out := Render()
	for _, want := range []string{
		`habitat_jobs_failed_total{kind="UpstreamTimeout"}`,
		`habitat_jobs_failed_total{kind="unknown"}`,
		"habitat_jobs_in_flight",
		`habitat_job_duration_ms_bucket{le="+Inf"}`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in metrics output:\n%s", want, out)
		}
	}
}
