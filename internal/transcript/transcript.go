// Package transcript writes review conversations to per-session NDJSON files.
package transcript

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"
)

// Directions of an event relative to the engine.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Event is one transcript line.
type Event struct {
	Timestamp  time.Time `json:"ts"`
	SessionID  string    `json:"session_id"`
	Reviewer   string    `json:"reviewer,omitempty"`
	RecordID   string    `json:"record_id,omitempty"`
	Direction  string    `json:"direction"`
	EventType  string    `json:"event_type"`
	Content    string    `json:"content,omitempty"`
	Stage      string    `json:"stage,omitempty"`
	Backend    string    `json:"backend,omitempty"`
	Changes    int       `json:"changes,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
}

// Config controls transcript logging.
type Config struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Logger queues events and appends them on a background goroutine. Log never
// blocks; when the queue is full the oldest queued event is dropped.
type Logger struct {
	dir    string
	queue  chan Event
	done   chan struct{}
	wg     sync.WaitGroup
	logger *slog.Logger
	now    func() time.Time

	closeOnce sync.Once
	mu        sync.Mutex
	dropped   int
}

// New starts a transcript logger. A disabled config returns nil, which is a
// valid no-op Logger.
func New(cfg Config, logger *slog.Logger) (*Logger, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("transcript dir cannot be empty")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}

	l := &Logger{
		dir:    cfg.Dir,
		queue:  make(chan Event, cfg.QueueSize),
		done:   make(chan struct{}),
		logger: logger,
		now:    time.Now,
	}
	l.wg.Add(1)
	go l.run()
	return l, nil
}

// Log queues an event.
func (l *Logger) Log(e Event) {
	if l == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}

	select {
	case <-l.done:
		return
	default:
	}

	select {
	case l.queue <- e:
		return
	default:
	}

	// Queue full: drop the oldest event and retry once.
	select {
	case <-l.queue:
		l.mu.Lock()
		l.dropped++
		l.mu.Unlock()
	default:
	}
	select {
	case l.queue <- e:
	default:
		l.logger.Warn("transcript queue full, event dropped", "session_id", e.SessionID)
	}
}

// Dropped reports how many events were discarded under backpressure.
func (l *Logger) Dropped() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

func (l *Logger) run() {
	defer l.wg.Done()
	for {
		select {
		case e := <-l.queue:
			l.write(e)
		case <-l.done:
			// Flush what is already queued.
			for {
				select {
				case e := <-l.queue:
					l.write(e)
				default:
					return
				}
			}
		}
	}
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// Path returns the transcript file for sessionID.
func (l *Logger) Path(sessionID string) string {
	name := unsafeName.ReplaceAllString(sessionID, "_")
	if name == "" {
		name = "unknown"
	}
	return filepath.Join(l.dir, name+".ndjson")
}

func (l *Logger) write(e Event) {
	line, err := json.Marshal(e)
	if err != nil {
		l.logger.Warn("encode transcript event", "error", err)
		return
	}
	f, err := os.OpenFile(l.Path(e.SessionID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		l.logger.Warn("open transcript file", "session_id", e.SessionID, "error", err)
		return
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		l.logger.Warn("write transcript event", "session_id", e.SessionID, "error", err)
	}
	if err := f.Close(); err != nil {
		l.logger.Debug("close transcript file", "session_id", e.SessionID, "error", err)
	}
}

// Close flushes queued events and stops the writer.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.closeOnce.Do(func() {
		close(l.done)
		l.wg.Wait()
	})
	return nil
}
