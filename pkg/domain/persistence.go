package domain

import "context"

// Transaction exposes the mutations a persistence implementation must support
// within an atomic scope. Either every mutation in the scope commits or none
// does.
type Transaction interface {
	// IsAuthorized reports membership in the authorization set.
	IsAuthorized(p Principal) bool
	// Authorize adds a principal; re-authorizing is a no-op.
	Authorize(p Principal)
	// CreateRecord allocates the next sequential id, stores the handles with
	// the transaction time, and initializes an empty unrevealed analysis.
	CreateRecord(inflow, outflow, demographics Handle) (EncryptedRecord, error)
	// FindRecord retrieves a record by id.
	FindRecord(id RecordID) (EncryptedRecord, bool)
	// FindAnalysis retrieves the analysis paired with a record id.
	FindAnalysis(id RecordID) (Analysis, bool)
	// SetAnalysis overwrites the analysis for an existing record id.
	SetAnalysis(id RecordID, a Analysis) error
	// PutPending registers a correlation entry; the request id must be new.
	PutPending(id RequestID, key CorrelationKey) error
	// TakePending retires and returns the correlation entry for a request id.
	TakePending(id RequestID) (CorrelationKey, bool)
	// PendingForRecord reports a live analysis request against a record id.
	PendingForRecord(id RecordID) (RequestID, bool)
	// Counter returns the encrypted tally handle for a label.
	Counter(l Label) (Handle, bool)
	// SetCounter stores a counter handle, appending the label to the known
	// list on first occurrence.
	SetCounter(l Label, ct Handle)
	// LabelByHash reverse-resolves a correlation label hash.
	LabelByHash(hash string) (Label, bool)
	// SetRevealedCount stores the result of a count reveal round trip.
	SetRevealedCount(rc RevealedCount)
}

// View provides read-only access to committed state.
type View interface {
	IsAuthorized(p Principal) bool
	FindRecord(id RecordID) (EncryptedRecord, bool)
	FindAnalysis(id RecordID) (Analysis, bool)
	RecordCount() uint64
	PendingForRecord(id RecordID) (RequestID, bool)
	Counter(l Label) (Handle, bool)
	// Labels returns known labels in first-occurrence order.
	Labels() []Label
	RevealedCount(l Label) (RevealedCount, bool)
}

// PersistentStore is the durability abstraction bridging the asynchronous
// request/callback gap. Mappings keyed by record id, request id, and label
// must survive across operations.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) error
	ReadView(ctx context.Context, fn func(View) error) error
}

// RecordSnapshot pairs a record with its analysis for export.
type RecordSnapshot struct {
	Record   EncryptedRecord `json:"record"`
	Analysis Analysis        `json:"analysis"`
}

// PendingSnapshot is one correlation-map entry for export.
type PendingSnapshot struct {
	RequestID RequestID      `json:"request_id"`
	Key       CorrelationKey `json:"key"`
}

// CounterSnapshot is one pattern counter for export; slice order preserves
// first-occurrence label order.
type CounterSnapshot struct {
	Label   Label  `json:"label"`
	Counter Handle `json:"counter"`
}

// Snapshot is the full exportable state used by durable backends.
type Snapshot struct {
	NextID     uint64            `json:"next_id"`
	Records    []RecordSnapshot  `json:"records"`
	Pending    []PendingSnapshot `json:"pending"`
	Counters   []CounterSnapshot `json:"counters"`
	Principals []Principal       `json:"principals"`
	Revealed   []RevealedCount   `json:"revealed"`
}
