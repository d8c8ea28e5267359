// Package progress implements the Progress Tracker and optional HTTP
// dashboard: live job metrics, a JSON/WebSocket/SSE API, and a Prometheus
// text endpoint.
package progress

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Snapshot is one job's point-in-time progress summary.
type Snapshot struct {
	JobID            string        `json:"job_id"`
	Phase            string        `json:"phase"`
	ItemsCompleted   int           `json:"items_completed"`
	ItemsFailed      int           `json:"items_failed"`
	ItemsPending     int           `json:"items_pending"`
	ActiveAgents     int           `json:"active_agents"`
	ThroughputAvg    float64       `json:"throughput_average"`
	SuccessRate      float64       `json:"success_rate"`
	StartedAt        time.Time     `json:"started_at"`
	Duration         time.Duration `json:"job_duration"`
	AgentStateCounts map[string]int `json:"agent_states"`
}

// Tracker accumulates per-job snapshots and exposes them both as JSON
// (for the dashboard API) and as Prometheus gauges (for /api/prometheus).
type Tracker struct {
	mu   sync.RWMutex
	jobs map[string]*Snapshot

	completed *prometheus.GaugeVec
	failed    *prometheus.GaugeVec
	pending   *prometheus.GaugeVec
	active    *prometheus.GaugeVec
	throughput *prometheus.GaugeVec
	successRate *prometheus.GaugeVec
	agentStates *prometheus.GaugeVec
	duration   *prometheus.GaugeVec
}

// NewTracker constructs a Tracker and registers its gauges with reg (pass
// prometheus.NewRegistry() for an isolated registry per test, or
// prometheus.DefaultRegisterer for the process-wide one).
func NewTracker(reg prometheus.Registerer) *Tracker {
	t := &Tracker{
		jobs: map[string]*Snapshot{},
		completed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mapreduce_items_completed", Help: "Completed work items.",
		}, []string{"job_id"}),
		failed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mapreduce_items_failed", Help: "Failed work items.",
		}, []string{"job_id"}),
		pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mapreduce_items_pending", Help: "Pending work items.",
		}, []string{"job_id"}),
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mapreduce_active_agents", Help: "Currently running agents.",
		}, []string{"job_id"}),
		throughput: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mapreduce_throughput_average", Help: "Average items completed per second.",
		}, []string{"job_id"}),
		successRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mapreduce_success_rate", Help: "Fraction of finished items that succeeded.",
		}, []string{"job_id"}),
		agentStates: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mapreduce_agent_states", Help: "Agent count by state.",
		}, []string{"job_id", "state"}),
		duration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mapreduce_job_duration_seconds", Help: "Job wall-clock duration so far.",
		}, []string{"job_id"}),
	}
	reg.MustRegister(t.completed, t.failed, t.pending, t.active, t.throughput, t.successRate, t.agentStates, t.duration)
	return t
}

// Update records a fresh Snapshot for one job, overwriting the gauges for
// that job_id.
func (t *Tracker) Update(s Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cp := s
	t.jobs[s.JobID] = &cp

	t.completed.WithLabelValues(s.JobID).Set(float64(s.ItemsCompleted))
	t.failed.WithLabelValues(s.JobID).Set(float64(s.ItemsFailed))
	t.pending.WithLabelValues(s.JobID).Set(float64(s.ItemsPending))
	t.active.WithLabelValues(s.JobID).Set(float64(s.ActiveAgents))
	t.throughput.WithLabelValues(s.JobID).Set(s.ThroughputAvg)
	t.successRate.WithLabelValues(s.JobID).Set(s.SuccessRate)
	t.duration.WithLabelValues(s.JobID).Set(s.Duration.Seconds())
	for state, count := range s.AgentStateCounts {
		t.agentStates.WithLabelValues(s.JobID, state).Set(float64(count))
	}
}

// Get returns the latest Snapshot for jobID.
func (t *Tracker) Get(jobID string) (Snapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.jobs[jobID]
	if !ok {
		return Snapshot{}, false
	}
	return *s, true
}

// All returns every job's latest Snapshot.
func (t *Tracker) All() []Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Snapshot, 0, len(t.jobs))
	for _, s := range t.jobs {
		out = append(out, *s)
	}
	return out
}

// FromJobState derives a Snapshot from a coordinator's current JobState-ish
// view. Kept decoupled from the state package's concrete type so progress
// has no import-cycle risk; callers pass the fields they have.
func FromJobState(jobID, phase string, completed, failed, pending, active int, startedAt time.Time) Snapshot {
	elapsed := time.Since(startedAt)
	throughput := 0.0
	if elapsed > 0 {
		throughput = float64(completed) / elapsed.Seconds()
	}
	successRate := 0.0
	if finished := completed + failed; finished > 0 {
		successRate = float64(completed) / float64(finished)
	}
	return Snapshot{
		JobID:          jobID,
		Phase:          phase,
		ItemsCompleted: completed,
		ItemsFailed:    failed,
		ItemsPending:   pending,
		ActiveAgents:   active,
		ThroughputAvg:  throughput,
		SuccessRate:    successRate,
		StartedAt:      startedAt,
		Duration:       elapsed,
	}
}
