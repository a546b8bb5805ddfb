package client

import (
	"sync"
	"time"
)

// LogCapacity is the number of diagnostics kept per endpoint.
const LogCapacity = 100

// LogEntry is one line of non-protocol downstream output.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Session string    `json:"session,omitempty"`
	Source  string    `json:"source"`
	Text    string    `json:"text"`
}

// LogBuffer keeps the most recent entries, evicting the oldest first.
type LogBuffer struct {
	mux      sync.Mutex
	entries  []LogEntry
	capacity int
}

// NewLogBuffer creates a buffer holding up to capacity entries.
func NewLogBuffer(capacity int) *LogBuffer {
	return &LogBuffer{capacity: capacity}
}

func (b *LogBuffer) Add(entry LogEntry) {
	if entry.Time.IsZero() {
		entry.Time = time.Now()
	}
	b.mux.Lock()
	defer b.mux.Unlock()
	if len(b.entries) == b.capacity {
		copy(b.entries, b.entries[1:])
		b.entries = b.entries[:len(b.entries)-1]
	}
	b.entries = append(b.entries, entry)
}

// Entries returns a copy, oldest first.
func (b *LogBuffer) Entries() []LogEntry {
	b.mux.Lock()
	defer b.mux.Unlock()
	return append([]LogEntry(nil), b.entries...)
}
