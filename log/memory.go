package log

import (
	"strings"
	"sync"

	"github.com/go-lynx/servicebase/plugins"
)

// MemorySinkName is the plugin name of the in-memory sink.
const MemorySinkName = "logging-memory"

// Entry is one line captured by a MemorySink.
type Entry struct {
	Level   Level
	Plugin  string
	Message string
	Meta    Meta
}

// Text returns the message with its template resolved.
func (e Entry) Text() string { return plugins.FormatTemplate(e.Message, e.Meta) }

// MemorySink keeps every line in memory. It backs the logging-memory plugin
// and is handy when asserting on log output.
type MemorySink struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink { return &MemorySink{} }

func (m *MemorySink) Debug(plugin, message string, meta Meta) { m.add(DebugLevel, plugin, message, meta) }
func (m *MemorySink) Info(plugin, message string, meta Meta)  { m.add(InfoLevel, plugin, message, meta) }
func (m *MemorySink) Warn(plugin, message string, meta Meta)  { m.add(WarnLevel, plugin, message, meta) }
func (m *MemorySink) Error(plugin, message string, meta Meta) { m.add(ErrorLevel, plugin, message, meta) }

func (m *MemorySink) add(level Level, plugin, message string, meta Meta) {
	m.mu.Lock()
	m.entries = append(m.entries, Entry{Level: level, Plugin: plugin, Message: message, Meta: meta})
	m.mu.Unlock()
}

// Entries returns a copy of the captured lines.
func (m *MemorySink) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...)
}

// Find returns captured lines at level whose resolved text contains substr.
func (m *MemorySink) Find(level Level, substr string) []Entry {
	var out []Entry
	for _, e := range m.Entries() {
		if e.Level == level && strings.Contains(e.Text(), substr) {
			out = append(out, e)
		}
	}
	return out
}

// Reset drops every captured line.
func (m *MemorySink) Reset() {
	m.mu.Lock()
	m.entries = nil
	m.mu.Unlock()
}
