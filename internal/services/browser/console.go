package browser

import (
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/vista/internal/models"
)

// DefaultConsoleLimit bounds a page's console log when none is configured
const DefaultConsoleLimit = 200

// ConsoleBuffer is a bounded append-only log of console messages and page
// errors scoped to one page. Entries past the limit are counted and dropped.
type ConsoleBuffer struct {
	mu      sync.Mutex
	entries []models.ConsoleEntry
	limit   int
	dropped int
	now     func() time.Time
}

// NewConsoleBuffer creates a buffer holding at most limit entries
func NewConsoleBuffer(limit int) *ConsoleBuffer {
	if limit <= 0 {
		limit = DefaultConsoleLimit
	}
	return &ConsoleBuffer{limit: limit, now: time.Now}
}

// Add appends one entry; safe to call from event listener goroutines
func (b *ConsoleBuffer) Add(level, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) >= b.limit {
		b.dropped++
		return
	}
	b.entries = append(b.entries, models.ConsoleEntry{Level: level, Text: text, Time: b.now()})
}

// Drain returns everything collected since the last drain and empties the
// buffer. A trailing entry reports how many messages were dropped.
func (b *ConsoleBuffer) Drain() []models.ConsoleEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.entries
	if b.dropped > 0 {
		out = append(out, models.ConsoleEntry{
			Level: "warning",
			Text:  fmt.Sprintf("%d console messages dropped", b.dropped),
			Time:  b.now(),
		})
	}
	b.entries = nil
	b.dropped = 0
	return out
}

// Len returns the number of buffered entries
func (b *ConsoleBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
