package progress

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/corvusmr/prodigy/internal/events"
)

// Update is the payload pushed to /ws and /sse subscribers.
type Update struct {
	UpdateType string      `json:"update_type"`
	Timestamp  time.Time   `json:"timestamp"`
	Data       interface{} `json:"data"`
}

// Server is the optional HTTP dashboard.
type Server struct {
	Tracker     *Tracker
	Broadcaster *events.Broadcaster
	Registry    *prometheus.Registry

	engine *gin.Engine
}

// NewServer wires the dashboard's routes atop gin, mirroring the router
// style the rest of the example pack uses for its HTTP APIs.
func NewServer(tracker *Tracker, broadcaster *events.Broadcaster, registry *prometheus.Registry) *Server {
	s := &Server{Tracker: tracker, Broadcaster: broadcaster, Registry: registry}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/", s.handleIndex)
	r.GET("/api/progress", s.handleProgress)
	r.GET("/api/agents", s.handleAgents)
	r.GET("/api/metrics", s.handleMetrics)
	r.GET("/ws", s.handleWebSocket)
	r.GET("/sse", s.handleSSE)
	r.GET("/api/prometheus", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	s.engine = r
	return s
}

// Handler returns the http.Handler to pass to an http.Server.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) handleIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(dashboardHTML))
}

func (s *Server) handleProgress(c *gin.Context) {
	c.JSON(http.StatusOK, s.Tracker.All())
}

func (s *Server) handleAgents(c *gin.Context) {
	jobID := c.Query("job_id")
	if jobID == "" {
		c.JSON(http.StatusOK, s.Tracker.All())
		return
	}
	snap, ok := s.Tracker.Get(jobID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown job_id"})
		return
	}
	c.JSON(http.StatusOK, snap.AgentStateCounts)
}

func (s *Server) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.Tracker.All())
}

// handleWebSocket upgrades to a websocket connection and pushes every
// Broadcaster event as an Update until the client disconnects.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ch, unsubscribe := s.Broadcaster.Subscribe(32)
	defer unsubscribe()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-ch:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			upd := Update{UpdateType: ev.Kind, Timestamp: ev.At, Data: ev.Fields}
			raw, err := json.Marshal(upd)
			if err != nil {
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, raw); err != nil {
				return
			}
		}
	}
}

// handleSSE is the Server-Sent Events fallback, with a 30s keep-alive.
func (s *Server) handleSSE(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	ch, unsubscribe := s.Broadcaster.Subscribe(32)
	defer unsubscribe()

	keepAlive := time.NewTicker(30 * time.Second)
	defer keepAlive.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			upd := Update{UpdateType: ev.Kind, Timestamp: ev.At, Data: ev.Fields}
			raw, err := json.Marshal(upd)
			if err != nil {
				return true
			}
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(raw)
			_, _ = w.Write([]byte("\n\n"))
			return true
		case <-keepAlive.C:
			_, _ = w.Write([]byte(": keep-alive\n\n"))
			return true
		}
	})
}

const dashboardHTML = `<!DOCTYPE html>
<html>
<head><title>prodigy</title></head>
<body>
<h1>prodigy job dashboard</h1>
<p>See /api/progress, /api/agents, /api/metrics, /ws, /sse, /api/prometheus.</p>
</body>
</html>`
