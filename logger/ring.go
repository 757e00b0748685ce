package logger

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
)

// DefaultRingSize bounds the in-memory log ring.
const DefaultRingSize = 1000

// Entry is one structured log line as served by the HTTP log endpoints.
// Duration is milliseconds, lifted from a "duration" field when present.
type Entry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Category  string                 `json:"category"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Duration  float64                `json:"duration,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// Ring is a bounded FIFO of log entries with live subscribers.
// Writers never block: slow subscribers drop entries.
type Ring struct {
	mu      sync.RWMutex
	entries []Entry
	head    int
	full    bool
	subs    map[chan Entry]struct{}
}

// NewRing creates a ring holding at most size entries.
func NewRing(size int) *Ring {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &Ring{
		entries: make([]Entry, size),
		subs:    make(map[chan Entry]struct{}),
	}
}

// Append records an entry and fans it out to subscribers.
func (r *Ring) Append(e Entry) {
	r.mu.Lock()
	r.entries[r.head] = e
	r.head = (r.head + 1) % len(r.entries)
	if r.head == 0 {
		r.full = true
	}
	for ch := range r.subs {
		select {
		case ch <- e:
		default:
		}
	}
	r.mu.Unlock()
}

// Tail returns up to limit entries matching the level and category filters,
// oldest first. Empty filters match everything.
func (r *Ring) Tail(limit int, level, category string) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	size := r.head
	start := 0
	if r.full {
		size = len(r.entries)
		start = r.head
	}

	var out []Entry
	for i := 0; i < size; i++ {
		e := r.entries[(start+i)%len(r.entries)]
		if level != "" && !strings.EqualFold(e.Level, level) {
			continue
		}
		if category != "" && e.Category != category {
			continue
		}
		out = append(out, e)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Subscribe returns a channel of new entries and a cancel func.
func (r *Ring) Subscribe() (<-chan Entry, func()) {
	ch := make(chan Entry, 64)
	r.mu.Lock()
	r.subs[ch] = struct{}{}
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		delete(r.subs, ch)
		r.mu.Unlock()
	}
	return ch, cancel
}

// Core returns a zapcore.Core that tees log writes into the ring.
func (r *Ring) Core(level zapcore.LevelEnabler) zapcore.Core {
	return &ringCore{ring: r, level: level}
}

type ringCore struct {
	ring   *Ring
	level  zapcore.LevelEnabler
	fields []zapcore.Field
}

func (c *ringCore) Enabled(l zapcore.Level) bool { return c.level.Enabled(l) }

func (c *ringCore) With(fields []zapcore.Field) zapcore.Core {
	clone := &ringCore{ring: c.ring, level: c.level}
	clone.fields = append(append([]zapcore.Field{}, c.fields...), fields...)
	return clone
}

func (c *ringCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *ringCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}

	e := Entry{
		Timestamp: ent.Time.UTC(),
		Level:     ent.Level.String(),
		Category:  ent.LoggerName,
		Message:   ent.Message,
	}
	if errVal, ok := enc.Fields["error"]; ok {
		if s, ok := errVal.(string); ok {
			e.Error = s
		}
		delete(enc.Fields, "error")
	}
	if durVal, ok := enc.Fields["duration"]; ok {
		switch v := durVal.(type) {
		case time.Duration:
			e.Duration = float64(v) / float64(time.Millisecond)
			delete(enc.Fields, "duration")
		case float64:
			e.Duration = v
			delete(enc.Fields, "duration")
		}
	}
	if len(enc.Fields) > 0 {
		e.Data = enc.Fields
	}
	c.ring.Append(e)
	return nil
}

func (c *ringCore) Sync() error { return nil }
