package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// MaxLogRecords is the size of a tenant's log ring buffer
const MaxLogRecords = 1000

// TenantField is the logrus field that routes an entry to a tenant buffer
const TenantField = "tenant_id"

// LogRecord is one structured log line kept for the dashboard
type LogRecord struct {
	Time    time.Time         `json:"time"`
	Level   string            `json:"level"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// LogBuffer is a fixed size ring of log records
type LogBuffer struct {
	mu      sync.Mutex
	records []LogRecord
	next    int
	full    bool
}

// NewLogBuffer creates a ring buffer holding up to size records
func NewLogBuffer(size int) *LogBuffer {
	if size <= 0 {
		size = MaxLogRecords
	}
	return &LogBuffer{records: make([]LogRecord, size)}
}

// Add appends a record, overwriting the oldest when full
func (b *LogBuffer) Add(r LogRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records[b.next] = r
	b.next = (b.next + 1) % len(b.records)
	if b.next == 0 {
		b.full = true
	}
}

// Records returns the buffered records, oldest first
func (b *LogBuffer) Records() []LogRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.full {
		return append([]LogRecord(nil), b.records[:b.next]...)
	}
	out := make([]LogRecord, 0, len(b.records))
	out = append(out, b.records[b.next:]...)
	return append(out, b.records[:b.next]...)
}

// LogSink is a logrus hook copying tenant scoped entries into per-tenant
// ring buffers. Writing never blocks the caller on I/O.
type LogSink struct {
	mu      sync.RWMutex
	buffers map[string]*LogBuffer
	size    int
}

// NewLogSink creates a sink with buffers of the given size
func NewLogSink(size int) *LogSink {
	return &LogSink{buffers: make(map[string]*LogBuffer), size: size}
}

// Levels implements logrus.Hook
func (s *LogSink) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire implements logrus.Hook
func (s *LogSink) Fire(entry *logrus.Entry) error {
	tenantID, ok := entry.Data[TenantField].(string)
	if !ok || tenantID == "" {
		return nil
	}
	fields := make(map[string]string, len(entry.Data))
	for k, v := range entry.Data {
		if k == TenantField {
			continue
		}
		if err, ok := v.(error); ok {
			fields[k] = err.Error()
			continue
		}
		fields[k] = fmt.Sprint(v)
	}
	s.Buffer(tenantID).Add(LogRecord{
		Time:    entry.Time,
		Level:   entry.Level.String(),
		Message: entry.Message,
		Fields:  fields,
	})
	return nil
}

// Buffer returns the tenant's buffer, creating it on first use
func (s *LogSink) Buffer(tenantID string) *LogBuffer {
	s.mu.RLock()
	b, ok := s.buffers[tenantID]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.buffers[tenantID]; ok {
		return b
	}
	b = NewLogBuffer(s.size)
	s.buffers[tenantID] = b
	return b
}

// Records returns the buffered records of a tenant, oldest first
func (s *LogSink) Records(tenantID string) []LogRecord {
	s.mu.RLock()
	b, ok := s.buffers[tenantID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	return b.Records()
}
