package sink

import (
	"context"
	"sync"
)

// Record is one captured (key, value) pair handed to a MemorySink.
type Record struct {
	Key   []byte
	Value []byte
}

// MemorySink is an in-process Sink fixture used by tests: it never
// blocks and never fails.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Produce appends (key, value) to the in-memory record log.
func (s *MemorySink) Produce(_ context.Context, key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	keyCopy := append([]byte(nil), key...)
	valCopy := append([]byte(nil), value...)
	s.records = append(s.records, Record{Key: keyCopy, Value: valCopy})
	return nil
}

// Close is a no-op; MemorySink owns no external resources.
func (s *MemorySink) Close() error { return nil }

// Records returns a copy of every record produced so far, in
// production order.
func (s *MemorySink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}
