package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	// MaxLineLength is the maximum length of a recorded line before truncation.
	MaxLineLength = 512

	// MaxBufferedLines is the number of recent records kept.
	MaxBufferedLines = 100
)

// recentBuffer is the ring shared by a RecentHandler and its derivatives.
type recentBuffer struct {
	mu     sync.Mutex
	lines  []string
	idx    int
	counts map[string]int
}

// RecentHandler wraps another handler and keeps the most recent records at
// or above a level as one-line strings, for the dashboard and the exit
// summary. It also counts records per message.
type RecentHandler struct {
	next  slog.Handler
	level slog.Leveler
	buf   *recentBuffer
	attrs []slog.Attr
	group string
}

// NewRecentHandler wraps next, recording records at level or above.
// next may be nil to record without forwarding.
func NewRecentHandler(next slog.Handler, level slog.Leveler) *RecentHandler {
	if next == nil {
		next = slog.DiscardHandler
	}
	if level == nil {
		level = slog.LevelWarn
	}
	return &RecentHandler{
		next:  next,
		level: level,
		buf: &recentBuffer{
			lines:  make([]string, MaxBufferedLines),
			counts: make(map[string]int),
		},
	}
}

// Enabled reports whether either the recorder or the wrapped handler
// wants records at level.
func (h *RecentHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level.Level() || h.next.Enabled(ctx, level)
}

// Handle records r when it meets the level and forwards it.
func (h *RecentHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= h.level.Level() {
		h.record(r)
	}
	if h.next.Enabled(ctx, r.Level) {
		return h.next.Handle(ctx, r)
	}
	return nil
}

// WithAttrs returns a handler sharing this handler's buffer.
func (h *RecentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.next = h.next.WithAttrs(attrs)
	c.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		c.attrs = append(c.attrs, slog.Attr{Key: h.qualify(a.Key), Value: a.Value})
	}
	return &c
}

// WithGroup returns a handler sharing this handler's buffer.
func (h *RecentHandler) WithGroup(name string) slog.Handler {
	c := *h
	c.next = h.next.WithGroup(name)
	if c.group != "" {
		name = c.group + "." + name
	}
	c.group = name
	return &c
}

func (h *RecentHandler) qualify(key string) string {
	if h.group == "" {
		return key
	}
	return h.group + "." + key
}

func (h *RecentHandler) record(r slog.Record) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-5s %s", r.Time.Format(time.TimeOnly), r.Level.String(), r.Message)
	for _, a := range h.attrs {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value.Any())
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%v", h.qualify(a.Key), a.Value.Any())
		return true
	})

	line := b.String()
	if len(line) > MaxLineLength {
		line = line[:MaxLineLength] + "...(truncated)"
	}

	h.buf.mu.Lock()
	h.buf.lines[h.buf.idx] = line
	h.buf.idx = (h.buf.idx + 1) % MaxBufferedLines
	h.buf.counts[r.Message]++
	h.buf.mu.Unlock()
}

// RecentLines returns up to n of the most recent records, oldest first.
func (h *RecentHandler) RecentLines(n int) []string {
	h.buf.mu.Lock()
	defer h.buf.mu.Unlock()

	if n > MaxBufferedLines {
		n = MaxBufferedLines
	}
	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		idx := (h.buf.idx - n + i + MaxBufferedLines) % MaxBufferedLines
		if h.buf.lines[idx] != "" {
			lines = append(lines, h.buf.lines[idx])
		}
	}
	return lines
}

// CountEvents returns how many records were seen per message.
func (h *RecentHandler) CountEvents() map[string]int {
	h.buf.mu.Lock()
	defer h.buf.mu.Unlock()

	counts := make(map[string]int, len(h.buf.counts))
	for msg, n := range h.buf.counts {
		counts[msg] = n
	}
	return counts
}
