package logger

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
)

// Entry is one decoded log line held by Buffer.
type Entry struct {
	Time    time.Time              `json:"time"`
	Level   string                 `json:"level"`
	Logger  string                 `json:"logger,omitempty"`
	Message string                 `json:"msg"`
	Fields  map[string]interface{} `json:"-"`
}

func bufferEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		MessageKey:     "msg",
		LevelKey:       "level",
		TimeKey:        "time",
		NameKey:        "logger",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}
}

// Buffer keeps the most recent log entries in a ring for the dashboard.
// It is a zapcore.WriteSyncer fed by the JSON encoder.
type Buffer struct {
	mu      sync.Mutex
	ring    []Entry
	next    int
	wrapped bool
	total   uint64
	invalid uint64
}

// NewBuffer creates a ring holding size entries.
func NewBuffer(size int) *Buffer {
	if size < 1 {
		size = 1
	}
	return &Buffer{ring: make([]Entry, size)}
}

// Write decodes one JSON encoded entry. Lines that fail to decode are
// stored verbatim as the message.
func (b *Buffer) Write(p []byte) (int, error) {
	var fields map[string]interface{}
	entry := Entry{Time: time.Now()}
	if err := json.Unmarshal(p, &fields); err != nil {
		entry.Message = string(p)
		b.mu.Lock()
		b.invalid++
		b.mu.Unlock()
	} else {
		if s, ok := fields["msg"].(string); ok {
			entry.Message = s
		}
		if s, ok := fields["level"].(string); ok {
			entry.Level = s
		}
		if s, ok := fields["logger"].(string); ok {
			entry.Logger = s
		}
		if s, ok := fields["time"].(string); ok {
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				entry.Time = t
			}
		}
		delete(fields, "msg")
		delete(fields, "level")
		delete(fields, "logger")
		delete(fields, "time")
		if len(fields) > 0 {
			entry.Fields = fields
		}
	}
	b.add(entry)
	return len(p), nil
}

// Sync is a no-op; the ring lives in memory.
func (b *Buffer) Sync() error { return nil }

func (b *Buffer) add(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.ring[b.next] = e
	b.next = (b.next + 1) % len(b.ring)
	if b.next == 0 {
		b.wrapped = true
	}
	b.total++
}

// Recent returns up to limit entries, oldest first. limit <= 0 returns all.
func (b *Buffer) Recent(limit int) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	count := b.next
	start := 0
	if b.wrapped {
		count = len(b.ring)
		start = b.next
	}
	if limit > 0 && limit < count {
		start += count - limit
		count = limit
	}

	out := make([]Entry, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, b.ring[(start+i)%len(b.ring)])
	}
	return out
}

// Stats returns the number of entries written and how many failed to decode.
func (b *Buffer) Stats() (total, invalid uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total, b.invalid
}
