// Package domain defines the core entities, label taxonomy, error types, and
// collaborator interfaces used by cipherflow.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// RecordID identifies a submitted encrypted record. IDs are assigned
// sequentially starting at 1; 0 is reserved as the invalid sentinel.
type RecordID uint64

// Principal identifies a caller (agency, analyst, or the decryption engine).
type Principal string

// Handle is an opaque reference to a ciphertext held by the engine. The core
// never inspects its contents.
type Handle string

// RequestID is an engine-assigned identifier for an outstanding decryption
// request.
type RequestID string

// Label is a categorical output of the classifier.
type Label string

// Flow pattern labels derived from inflow/outflow comparison.
const (
	FlowNetImmigrationHub   Label = "NetImmigrationHub"
	FlowNetEmigrationSource Label = "NetEmigrationSource"
	FlowBalancedImmigration Label = "BalancedImmigration"
	FlowBalancedEmigration  Label = "BalancedEmigration"
	FlowNeutral             Label = "NeutralFlow"
)

// Trend labels derived from net flow and the demographic growth ratio.
const (
	TrendStrongGrowth   Label = "StrongGrowth"
	TrendModerateGrowth Label = "ModerateGrowth"
	TrendDeclining      Label = "DecliningTrend"
	TrendStablePattern  Label = "StablePattern"
)

// Network labels derived from total mobility volume.
const (
	NetworkGlobalHub       Label = "GlobalHub"
	NetworkRegionalNode    Label = "RegionalNode"
	NetworkLocalConnector  Label = "LocalConnector"
	NetworkLimitedMobility Label = "LimitedMobility"
)

// HashLabel returns the hex-encoded SHA-256 digest of the label string, used
// as the correlation key for counter reveal requests.
func HashLabel(l Label) string {
	sum := sha256.Sum256([]byte(l))
	return hex.EncodeToString(sum[:])
}

// EncryptedRecord holds one entity's submitted ciphertext handles. Records
// are immutable after submission and never deleted.
type EncryptedRecord struct {
	ID           RecordID  `json:"id"`
	Inflow       Handle    `json:"inflow"`
	Outflow      Handle    `json:"outflow"`
	Demographics Handle    `json:"demographics"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// Analysis holds the labels derived from a record's revealed plaintext.
// Labels are empty until Revealed flips true, which happens exactly once.
type Analysis struct {
	FlowPattern Label      `json:"flow_pattern,omitempty"`
	Trend       Label      `json:"trend,omitempty"`
	Network     Label      `json:"network,omitempty"`
	Revealed    bool       `json:"revealed"`
	RevealedAt  *time.Time `json:"revealed_at,omitempty"`
}

// CorrelationKind discriminates the two request families sharing the engine's
// request-id space.
type CorrelationKind string

const (
	// CorrelationRecord keys a record analysis request by entity id.
	CorrelationRecord CorrelationKind = "record"
	// CorrelationCounter keys a pattern count reveal by label hash.
	CorrelationCounter CorrelationKind = "counter"
)

// CorrelationKey maps an outstanding decryption request back to the record or
// counter it concerns. It is a tagged union: exactly one of RecordID or
// LabelHash is meaningful, selected by Kind.
type CorrelationKey struct {
	Kind      CorrelationKind `json:"kind"`
	RecordID  RecordID        `json:"record_id,omitempty"`
	LabelHash string          `json:"label_hash,omitempty"`
}

// RecordKey builds a correlation key for a record analysis request.
func RecordKey(id RecordID) CorrelationKey {
	return CorrelationKey{Kind: CorrelationRecord, RecordID: id}
}

// CounterKey builds a correlation key for a pattern count reveal request.
func CounterKey(l Label) CorrelationKey {
	return CorrelationKey{Kind: CorrelationCounter, LabelHash: HashLabel(l)}
}

// RevealedCount is the read model populated when a pattern counter's
// encrypted tally completes a reveal round trip.
type RevealedCount struct {
	Label      Label     `json:"label"`
	Count      uint64    `json:"count"`
	RevealedAt time.Time `json:"revealed_at"`
}
