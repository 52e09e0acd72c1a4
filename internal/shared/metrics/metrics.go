package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

var (
	jobsCreatedTotal   atomic.Uint64
	jobsStartedTotal   atomic.Uint64
	jobsCompletedTotal atomic.Uint64
	jobsDuplicateTotal atomic.Uint64
	jobsReapedTotal    atomic.Uint64
	llmRetriesTotal    atomic.Uint64
	jobsInFlight       atomic.Int64

	failedMu      sync.Mutex
	jobsFailedByK = map[string]uint64{}

	jobDuration = newHistogram([]float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000, 120000})
	llmLatency  = newHistogram([]float64{250, 500, 1000, 2000, 5000, 10000, 20000, 40000, 60000})
)

// IncJobsCreated counts accepted submissions.
func IncJobsCreated() { jobsCreatedTotal.Add(1) }

// IncJobsStarted counts pending->processing transitions.
func IncJobsStarted() { jobsStartedTotal.Add(1) }

// IncJobsCompleted counts processing->completed transitions.
func IncJobsCompleted() { jobsCompletedTotal.Add(1) }

// IncJobsDuplicate counts orchestrator runs aborted by the transition guard.
func IncJobsDuplicate() { jobsDuplicateTotal.Add(1) }

// IncJobsReaped counts stale jobs failed by the reaper.
func IncJobsReaped() { jobsReapedTotal.Add(1) }

// IncLLMRetries counts upstream retries.
func IncLLMRetries() { llmRetriesTotal.Add(1) }

// IncJobsFailed counts processing->failed transitions by error kind.
func IncJobsFailed(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	failedMu.Lock()
	jobsFailedByK[kind]++
	failedMu.Unlock()
}

// AddInFlight adjusts the in-flight gauge.
func AddInFlight(delta int64) { jobsInFlight.Add(delta) }

// InFlight returns the current in-flight gauge value.
func InFlight() int64 { return jobsInFlight.Load() }

// ObserveJobDurationMs records a processing duration in milliseconds.
func ObserveJobDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	jobDuration.Observe(value)
}

// ObserveLLMLatencyMs records an upstream call latency in milliseconds.
func ObserveLLMLatencyMs(value float64) {
	if value < 0 {
		value = 0
	}
	llmLatency.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "habitat_jobs_created_total", "Total analysis jobs created", jobsCreatedTotal.Load())
	writeCounter(&buf, "habitat_jobs_started_total", "Total analysis jobs started", jobsStartedTotal.Load())
	writeCounter(&buf, "habitat_jobs_completed_total", "Total analysis jobs completed", jobsCompletedTotal.Load())
	writeFailed(&buf)
	writeCounter(&buf, "habitat_jobs_duplicate_runs_total", "Orchestrator runs skipped by the transition guard", jobsDuplicateTotal.Load())
	writeCounter(&buf, "habitat_jobs_reaped_total", "Stale jobs failed by the reaper", jobsReapedTotal.Load())
	writeCounter(&buf, "habitat_llm_retries_total", "Upstream LLM retries", llmRetriesTotal.Load())
	fmt.Fprintf(&buf, "# HELP habitat_jobs_in_flight Jobs currently processing in this process\n")
	fmt.Fprintf(&buf, "# TYPE habitat_jobs_in_flight gauge\n")
	fmt.Fprintf(&buf, "habitat_jobs_in_flight %d\n", jobsInFlight.Load())
	writeHistogram(&buf, "habitat_job_duration_ms", "Job processing duration in milliseconds", jobDuration.Snapshot())
	writeHistogram(&buf, "habitat_llm_latency_ms", "Upstream LLM latency in milliseconds", llmLatency.Snapshot())
	return buf.String()
}

func writeFailed(buf *bytes.Buffer) {
	failedMu.Lock()
	kinds := make([]string, 0, len(jobsFailedByK))
	for k := range jobsFailedByK {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	counts := make([]uint64, len(kinds))
	for i, k := range kinds {
		counts[i] = jobsFailedByK[k]
	}
	failedMu.Unlock()

	fmt.Fprintf(buf, "# HELP habitat_jobs_failed_total Total analysis jobs failed\n")
	fmt.Fprintf(buf, "# TYPE habitat_jobs_failed_total counter\n")
	for i, k := range kinds {
		fmt.Fprintf(buf, "habitat_jobs_failed_total{kind=%q} %d\n", k, counts[i])
	}
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			break
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

// writeHistogram emits cumulative buckets; Observe stores per-bucket counts.
func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}
