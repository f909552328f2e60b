// Package memory implements the authoritative transactional store for
// cipherflow state. Durable backends wrap it and snapshot committed state.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cipherflow/pkg/domain"
)

type ledgerState struct {
	nextID     uint64
	records    map[domain.RecordID]domain.EncryptedRecord
	analyses   map[domain.RecordID]domain.Analysis
	pending    map[domain.RequestID]domain.CorrelationKey
	counters   map[domain.Label]domain.Handle
	labels     []domain.Label
	hashes     map[string]domain.Label
	authorized map[domain.Principal]struct{}
	revealed   map[domain.Label]domain.RevealedCount
}

func newLedgerState() ledgerState {
	return ledgerState{
		records:    make(map[domain.RecordID]domain.EncryptedRecord),
		analyses:   make(map[domain.RecordID]domain.Analysis),
		pending:    make(map[domain.RequestID]domain.CorrelationKey),
		counters:   make(map[domain.Label]domain.Handle),
		hashes:     make(map[string]domain.Label),
		authorized: make(map[domain.Principal]struct{}),
		revealed:   make(map[domain.Label]domain.RevealedCount),
	}
}

func (s ledgerState) clone() ledgerState {
	cloned := newLedgerState()
	cloned.nextID = s.nextID
	for k, v := range s.records {
		cloned.records[k] = v
	}
	for k, v := range s.analyses {
		cloned.analyses[k] = cloneAnalysis(v)
	}
	for k, v := range s.pending {
		cloned.pending[k] = v
	}
	for k, v := range s.counters {
		cloned.counters[k] = v
	}
	cloned.labels = append([]domain.Label(nil), s.labels...)
	for k, v := range s.hashes {
		cloned.hashes[k] = v
	}
	for k := range s.authorized {
		cloned.authorized[k] = struct{}{}
	}
	for k, v := range s.revealed {
		cloned.revealed[k] = v
	}
	return cloned
}

func cloneAnalysis(a domain.Analysis) domain.Analysis {
	cp := a
	if a.RevealedAt != nil {
		t := *a.RevealedAt
		cp.RevealedAt = &t
	}
	return cp
}

// Store provides an in-memory transactional store with clone-on-write
// isolation: mutations apply to a copy and replace committed state only when
// the transaction function succeeds.
type Store struct {
	mu    sync.RWMutex
	state ledgerState
	nowFn func() time.Time
}

// New constructs a store with the deployer pre-authorized.
func New(deployer domain.Principal) *Store {
	state := newLedgerState()
	if deployer != "" {
		state.authorized[deployer] = struct{}{}
	}
	return &Store{
		state: state,
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

// SetNowFunc overrides the transaction clock, for tests.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = fn
}

// Transaction applies mutations to a cloned state.
type Transaction struct {
	state *ledgerState
	now   time.Time
}

var _ domain.Transaction = (*Transaction)(nil)

// RunInTransaction executes fn within a transactional copy of the state.
func (s *Store) RunInTransaction(_ context.Context, fn func(domain.Transaction) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cloned := s.state.clone()
	tx := &Transaction{state: &cloned, now: s.nowFn()}
	if err := fn(tx); err != nil {
		return err
	}
	s.state = cloned
	return nil
}

// ReadView executes fn against a read-only snapshot of committed state.
func (s *Store) ReadView(_ context.Context, fn func(domain.View) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	return fn(&Transaction{state: &snapshot})
}

// IsAuthorized reports authorization-set membership.
func (tx *Transaction) IsAuthorized(p domain.Principal) bool {
	_, ok := tx.state.authorized[p]
	return ok
}

// Authorize adds a principal to the authorization set.
func (tx *Transaction) Authorize(p domain.Principal) {
	tx.state.authorized[p] = struct{}{}
}

// CreateRecord allocates the next id and stores the record alongside an empty
// unrevealed analysis.
func (tx *Transaction) CreateRecord(inflow, outflow, demographics domain.Handle) (domain.EncryptedRecord, error) {
	tx.state.nextID++
	id := domain.RecordID(tx.state.nextID)
	if _, exists := tx.state.records[id]; exists {
		return domain.EncryptedRecord{}, fmt.Errorf("record id %d already allocated", id)
	}
	rec := domain.EncryptedRecord{
		ID:           id,
		Inflow:       inflow,
		Outflow:      outflow,
		Demographics: demographics,
		SubmittedAt:  tx.now,
	}
	tx.state.records[id] = rec
	tx.state.analyses[id] = domain.Analysis{}
	return rec, nil
}

// FindRecord retrieves a record by id.
func (tx *Transaction) FindRecord(id domain.RecordID) (domain.EncryptedRecord, bool) {
	rec, ok := tx.state.records[id]
	return rec, ok
}

// FindAnalysis retrieves the analysis for a record id.
func (tx *Transaction) FindAnalysis(id domain.RecordID) (domain.Analysis, bool) {
	a, ok := tx.state.analyses[id]
	if !ok {
		return domain.Analysis{}, false
	}
	return cloneAnalysis(a), true
}

// SetAnalysis overwrites the analysis for an existing record.
func (tx *Transaction) SetAnalysis(id domain.RecordID, a domain.Analysis) error {
	if _, ok := tx.state.records[id]; !ok {
		return domain.NotFoundError{ID: id}
	}
	tx.state.analyses[id] = cloneAnalysis(a)
	return nil
}

// PutPending registers a correlation entry for a fresh request id.
func (tx *Transaction) PutPending(id domain.RequestID, key domain.CorrelationKey) error {
	if _, exists := tx.state.pending[id]; exists {
		return fmt.Errorf("request %q already pending", id)
	}
	tx.state.pending[id] = key
	return nil
}

// TakePending retires the correlation entry for a request id, returning it.
func (tx *Transaction) TakePending(id domain.RequestID) (domain.CorrelationKey, bool) {
	key, ok := tx.state.pending[id]
	if ok {
		delete(tx.state.pending, id)
	}
	return key, ok
}

// PendingForRecord reports a live record-analysis entry for the given id.
func (tx *Transaction) PendingForRecord(id domain.RecordID) (domain.RequestID, bool) {
	for req, key := range tx.state.pending {
		if key.Kind == domain.CorrelationRecord && key.RecordID == id {
			return req, true
		}
	}
	return "", false
}

// Counter returns the encrypted tally handle for a label.
func (tx *Transaction) Counter(l domain.Label) (domain.Handle, bool) {
	ct, ok := tx.state.counters[l]
	return ct, ok
}

// SetCounter stores a counter handle, tracking first occurrence order and the
// hash reverse index.
func (tx *Transaction) SetCounter(l domain.Label, ct domain.Handle) {
	if _, exists := tx.state.counters[l]; !exists {
		tx.state.labels = append(tx.state.labels, l)
		tx.state.hashes[domain.HashLabel(l)] = l
	}
	tx.state.counters[l] = ct
}

// LabelByHash reverse-resolves a label hash.
func (tx *Transaction) LabelByHash(hash string) (domain.Label, bool) {
	l, ok := tx.state.hashes[hash]
	return l, ok
}

// SetRevealedCount stores a completed count reveal.
func (tx *Transaction) SetRevealedCount(rc domain.RevealedCount) {
	tx.state.revealed[rc.Label] = rc
}

// RecordCount returns the monotone entity counter.
func (tx *Transaction) RecordCount() uint64 {
	return tx.state.nextID
}

// Labels returns known labels in first-occurrence order.
func (tx *Transaction) Labels() []domain.Label {
	return append([]domain.Label(nil), tx.state.labels...)
}

// RevealedCount returns the latest revealed tally for a label.
func (tx *Transaction) RevealedCount(l domain.Label) (domain.RevealedCount, bool) {
	rc, ok := tx.state.revealed[l]
	return rc, ok
}

// ExportState returns a snapshot of committed state for durable backends.
func (s *Store) ExportState() domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := domain.Snapshot{NextID: s.state.nextID}
	for id := domain.RecordID(1); uint64(id) <= s.state.nextID; id++ {
		rec, ok := s.state.records[id]
		if !ok {
			continue
		}
		snap.Records = append(snap.Records, domain.RecordSnapshot{
			Record:   rec,
			Analysis: cloneAnalysis(s.state.analyses[id]),
		})
	}
	for req, key := range s.state.pending {
		snap.Pending = append(snap.Pending, domain.PendingSnapshot{RequestID: req, Key: key})
	}
	for _, l := range s.state.labels {
		snap.Counters = append(snap.Counters, domain.CounterSnapshot{Label: l, Counter: s.state.counters[l]})
	}
	for p := range s.state.authorized {
		snap.Principals = append(snap.Principals, p)
	}
	for _, rc := range s.state.revealed {
		snap.Revealed = append(snap.Revealed, rc)
	}
	return snap
}

// ImportState replaces committed state from a snapshot.
func (s *Store) ImportState(snap domain.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := newLedgerState()
	state.nextID = snap.NextID
	for _, rs := range snap.Records {
		state.records[rs.Record.ID] = rs.Record
		state.analyses[rs.Record.ID] = cloneAnalysis(rs.Analysis)
	}
	for _, ps := range snap.Pending {
		state.pending[ps.RequestID] = ps.Key
	}
	for _, cs := range snap.Counters {
		state.counters[cs.Label] = cs.Counter
		state.labels = append(state.labels, cs.Label)
		state.hashes[domain.HashLabel(cs.Label)] = cs.Label
	}
	for _, p := range snap.Principals {
		state.authorized[p] = struct{}{}
	}
	for _, rc := range snap.Revealed {
		state.revealed[rc.Label] = rc
	}
	s.state = state
}
