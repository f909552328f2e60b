package domain

import "time"

// EventKind identifies an observable notification. Events are consumed by
// external tooling and are not required for correctness.
type EventKind string

// Notification kinds emitted over the record and counter lifecycles.
const (
	EventDataSubmitted          EventKind = "data_submitted"
	EventAnalysisRequested      EventKind = "analysis_requested"
	EventAnalysisCompleted      EventKind = "analysis_completed"
	EventPatternRevealRequested EventKind = "pattern_reveal_requested"
	EventPatternRevealCompleted EventKind = "pattern_reveal_completed"
)

// Event is a notification about a lifecycle transition. RecordID is zero for
// counter events; Label is empty for record events until completion.
type Event struct {
	Kind     EventKind `json:"kind"`
	RecordID RecordID  `json:"record_id,omitempty"`
	Label    Label     `json:"label,omitempty"`
	At       time.Time `json:"at"`
}

// EventSink receives notifications after the emitting operation has
// committed. Implementations must not call back into the service.
type EventSink interface {
	Publish(Event)
}
