package core

import (
	"sync"

	"cipherflow/pkg/domain"
)

type noopSink struct{}

func (noopSink) Publish(domain.Event) {}

// MemoryEventSink retains published events for inspection, primarily in tests
// and the demo binary.
type MemoryEventSink struct {
	mu     sync.Mutex
	events []domain.Event
}

// NewMemoryEventSink returns an empty retaining sink.
func NewMemoryEventSink() *MemoryEventSink { return &MemoryEventSink{} }

// Publish appends the event.
func (s *MemoryEventSink) Publish(e domain.Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

// Events returns a copy of everything published so far.
func (s *MemoryEventSink) Events() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Event, len(s.events))
	copy(out, s.events)
	return out
}

// LoggerEventSink forwards notifications to a Logger.
type LoggerEventSink struct {
	logger Logger
}

// NewLoggerEventSink wraps logger as an event sink.
func NewLoggerEventSink(logger Logger) *LoggerEventSink {
	if logger == nil {
		logger = noopLogger{}
	}
	return &LoggerEventSink{logger: logger}
}

// Publish logs the event.
func (s *LoggerEventSink) Publish(e domain.Event) {
	switch {
	case e.RecordID != 0 && e.Label != "":
		s.logger.Infof("event %s record=%d label=%s", e.Kind, e.RecordID, e.Label)
	case e.RecordID != 0:
		s.logger.Infof("event %s record=%d", e.Kind, e.RecordID)
	case e.Label != "":
		s.logger.Infof("event %s label=%s", e.Kind, e.Label)
	default:
		s.logger.Infof("event %s", e.Kind)
	}
}
