// Package events implements the EventSink capability: a durable,
// append-only record of what the execution engine did, independent of the
// interactive console logger. Producers publish onto a Sink and any number
// of consumers (the HTTP dashboard, `events tail`, the JSONL file) subscribe
// to it -- there is no direct reference from the coordinator back to a
// "web server" object.
package events

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is one structured occurrence during job execution.
type Event struct {
	Kind   string                 `json:"kind"`
	JobID  string                 `json:"job_id"`
	At     time.Time              `json:"at"`
	Fields map[string]interface{} `json:"fields,omitempty"`
}

// Sink accepts Events from any number of producers.
type Sink interface {
	Emit(e Event)
}

// Broadcaster fans a single producer stream out to any number of
// subscribers, each receiving every Event on its own channel so a slow
// subscriber (e.g. a stalled websocket client) cannot block the others or
// the coordinator.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[int]chan Event
	nextID      int
}

var _ Sink = (*Broadcaster)(nil)

// NewBroadcaster constructs an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subscribers: map[int]chan Event{}}
}

// Subscribe registers a new listener and returns its channel plus an
// unsubscribe function. The channel is buffered; a full channel drops the
// oldest-pending event rather than blocking Emit.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = ch
	b.mu.Unlock()
	return ch, func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
		close(ch)
	}
}

// Emit publishes e to every current subscriber.
func (b *Broadcaster) Emit(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- e:
		default:
			// drop oldest, then retry once
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- e:
			default:
			}
		}
	}
}

// JSONLSink appends every Event as one JSON line to a file, implementing
// the durable `events/<repo>/<job_id>` store. Structured logging throughout
// the rest of the engine uses charmbracelet/log for the interactive
// console; JSONLSink is the durable, machine-readable twin of that stream.
type JSONLSink struct {
	mu     sync.Mutex
	file   *os.File
	logger *zap.Logger
}

var _ Sink = (*JSONLSink)(nil)

// NewJSONLSink opens (creating if necessary) path for appending.
func NewJSONLSink(path string) (*JSONLSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("events: opening %s: %w", path, err)
	}
	logger, err := zap.NewProduction()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("events: constructing logger: %w", err)
	}
	return &JSONLSink{file: f, logger: logger}, nil
}

// Emit appends e as a JSON line. Write failures are logged via zap rather
// than returned, since EventSink.Emit has no error return -- durability is
// best-effort.
func (s *JSONLSink) Emit(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := json.Marshal(e)
	if err != nil {
		s.logger.Error("events: marshal failed", zap.Error(err), zap.String("kind", e.Kind))
		return
	}
	raw = append(raw, '\n')
	if _, err := s.file.Write(raw); err != nil {
		s.logger.Error("events: write failed", zap.Error(err), zap.String("kind", e.Kind))
	}
}

// Close flushes and closes the underlying file and logger.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.logger.Sync()
	return s.file.Close()
}

// MultiSink fans Emit out to every member sink, so a job can simultaneously
// persist to JSONL and broadcast to live subscribers.
type MultiSink struct {
	Sinks []Sink
}

var _ Sink = MultiSink{}

func (m MultiSink) Emit(e Event) {
	for _, s := range m.Sinks {
		s.Emit(e)
	}
}
