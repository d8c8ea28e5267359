package cli

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/corvusmr/prodigy/internal/config"
	"github.com/corvusmr/prodigy/internal/events"
	"github.com/corvusmr/prodigy/internal/progress"
)

// dashboard bundles everything run.go/resume.go start when the Progress
// Tracker's HTTP dashboard is enabled, so a single stop() call tears down
// the HTTP server and its feed goroutines together.
type dashboard struct {
	httpServer *http.Server
	cancelFeed context.CancelFunc

	// RedisSink publishes every local event onto the configured Redis
	// channel for cross-process fan-out; nil when no redis addr is
	// configured. Callers fold it into the coordinator's event Sink.
	RedisSink events.Sink
}

// startDashboard wires a Prometheus-backed Tracker fed by the job's live
// event broadcaster, served over gin/websocket/SSE, optionally bridged
// across processes over Redis pub/sub. Returns a nil dashboard when
// cfg.Dashboard.Enabled is false, so callers can unconditionally defer
// stop() and check RedisSink for nil before using it.
func startDashboard(cfg *config.Config, jobID string, bcast *events.Broadcaster) *dashboard {
	if cfg == nil || !cfg.Dashboard.Enabled {
		return nil
	}

	reg := prometheus.NewRegistry()
	tracker := progress.NewTracker(reg)

	feedCtx, cancelFeed := context.WithCancel(context.Background())
	go feedTracker(feedCtx, bcast, tracker, jobID)

	d := &dashboard{cancelFeed: cancelFeed}

	if cfg.Dashboard.Redis != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.Dashboard.Redis})
		bridge := progress.NewRedisBridge(redisClient, "prodigy:events:"+jobID)
		d.RedisSink = bridge
		go func() { _ = bridge.Relay(feedCtx, bcast) }()
	}

	server := progress.NewServer(tracker, bcast, reg)
	httpServer := &http.Server{Addr: cfg.Dashboard.Addr, Handler: server.Handler()}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("dashboard: server error: %v\n", err)
		}
	}()
	d.httpServer = httpServer

	return d
}

func (d *dashboard) stop() {
	if d == nil {
		return
	}
	d.cancelFeed()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = d.httpServer.Shutdown(ctx)
}

// jobCounters tracks the live agent/item counters feedTracker derives from
// the broadcast event stream; the dashboard has no direct reference to the
// coordinator's JobState. Producers publish onto a Sink, and nothing holds
// a back-reference to a "web server" object.
type jobCounters struct {
	mu        sync.Mutex
	phase     string
	completed int
	failed    int
	active    int
	startedAt time.Time
}

// feedTracker subscribes to bcast and maintains a running Snapshot for
// jobID, pushed into tracker on every relevant event.
func feedTracker(ctx context.Context, bcast *events.Broadcaster, tracker *progress.Tracker, jobID string) {
	ch, unsubscribe := bcast.Subscribe(256)
	defer unsubscribe()

	c := &jobCounters{startedAt: time.Now()}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.JobID != jobID {
				continue
			}
			c.apply(ev)
			c.mu.Lock()
			snap := progress.FromJobState(jobID, c.phase, c.completed, c.failed, 0, c.active, c.startedAt)
			c.mu.Unlock()
			tracker.Update(snap)
		}
	}
}

func (c *jobCounters) apply(ev events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch ev.Kind {
	case "phase_start":
		if phase, ok := ev.Fields["phase"].(string); ok {
			c.phase = phase
		}
	case "agent_started":
		c.active++
	case "agent_finished":
		if c.active > 0 {
			c.active--
		}
		if status, ok := ev.Fields["status"].(string); ok && status == "Success" {
			c.completed++
		} else {
			c.failed++
		}
	}
}
