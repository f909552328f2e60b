// Package testutil provides scripted doubles for the engine contract so core
// tests can drive decryption callbacks deterministically.
package testutil

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"sync"

	"cipherflow/pkg/domain"
)

type scheduled struct {
	ID       domain.RequestID
	Handles  []domain.Handle
	Selector domain.CallbackSelector
}

// FakeEngine tracks plaintext values behind opaque handles. Scheduled
// decryptions queue until Deliver (or DeliverAll) invokes the receiver, which
// lets tests interleave callbacks with other operations.
type FakeEngine struct {
	mu       sync.Mutex
	nextID   int
	values   map[domain.Handle]uint64
	queue    []scheduled
	receiver domain.CallbackReceiver
	proofKey []byte

	// CorruptProofs makes every delivered proof fail verification.
	CorruptProofs bool
}

var _ domain.Engine = (*FakeEngine)(nil)

// NewFakeEngine constructs an empty fake engine.
func NewFakeEngine() *FakeEngine {
	return &FakeEngine{
		values:   make(map[domain.Handle]uint64),
		proofKey: []byte("testutil-proof-key"),
	}
}

// SetReceiver registers the callback receiver used by Deliver.
func (e *FakeEngine) SetReceiver(r domain.CallbackReceiver) {
	e.mu.Lock()
	e.receiver = r
	e.mu.Unlock()
}

func (e *FakeEngine) mint(v uint64) domain.Handle {
	e.nextID++
	h := domain.Handle(fmt.Sprintf("handle-%d", e.nextID))
	e.values[h] = v
	return h
}

// Encrypt registers a plaintext value and returns its handle.
func (e *FakeEngine) Encrypt(v uint64) domain.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mint(v)
}

// Wrap treats the first eight raw bytes as a little-endian value; tests that
// only need distinct handles can pass arbitrary bytes.
func (e *FakeEngine) Wrap(_ context.Context, raw []byte) (domain.Handle, error) {
	var v uint64
	for i := 0; i < len(raw) && i < 8; i++ {
		v |= uint64(raw[i]) << (8 * i)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mint(v), nil
}

// IsInitialized reports whether the handle was minted by this engine.
func (e *FakeEngine) IsInitialized(h domain.Handle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.values[h]
	return ok
}

// Add sums the plaintexts behind two handles.
func (e *FakeEngine) Add(_ context.Context, a, b domain.Handle) (domain.Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	va, okA := e.values[a]
	vb, okB := e.values[b]
	if !okA || !okB {
		return "", domain.ErrUninitializedHandle
	}
	return e.mint(va + vb), nil
}

// EncryptedZero mints a handle over zero.
func (e *FakeEngine) EncryptedZero(context.Context) (domain.Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mint(0), nil
}

// EncryptedOne mints a handle over one.
func (e *FakeEngine) EncryptedOne(context.Context) (domain.Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mint(1), nil
}

// Value exposes the plaintext behind a handle for assertions.
func (e *FakeEngine) Value(h domain.Handle) (uint64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.values[h]
	return v, ok
}

// ScheduleDecryption queues the request without delivering it.
func (e *FakeEngine) ScheduleDecryption(_ context.Context, handles []domain.Handle, selector domain.CallbackSelector) (domain.RequestID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, h := range handles {
		if _, ok := e.values[h]; !ok {
			return "", domain.ErrUninitializedHandle
		}
	}
	e.nextID++
	id := domain.RequestID(fmt.Sprintf("request-%d", e.nextID))
	e.queue = append(e.queue, scheduled{ID: id, Handles: append([]domain.Handle(nil), handles...), Selector: selector})
	return id, nil
}

// Pending reports how many scheduled requests await delivery.
func (e *FakeEngine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Deliver dequeues the oldest scheduled request and invokes the receiver. A
// failed callback puts the request back at the head of the queue, matching
// the real engine's retry behavior.
func (e *FakeEngine) Deliver(ctx context.Context) error {
	e.mu.Lock()
	if len(e.queue) == 0 {
		e.mu.Unlock()
		return fmt.Errorf("no scheduled decryption to deliver")
	}
	if e.receiver == nil {
		e.mu.Unlock()
		return fmt.Errorf("no callback receiver registered")
	}
	j := e.queue[0]
	e.queue = e.queue[1:]
	receiver := e.receiver

	values := make([]uint64, len(j.Handles))
	for i, h := range j.Handles {
		values[i] = e.values[h]
	}
	e.mu.Unlock()

	var bundle []byte
	switch j.Selector {
	case domain.CallbackAnalysis:
		if len(values) != 3 {
			return fmt.Errorf("analysis request %s carries %d handles, want 3", j.ID, len(values))
		}
		bundle = domain.EncodeAnalysisBundle(uint32(values[0]), uint32(values[1]), uint32(values[2]))
	case domain.CallbackCountReveal:
		if len(values) != 1 {
			return fmt.Errorf("count request %s carries %d handles, want 1", j.ID, len(values))
		}
		bundle = domain.EncodeCountBundle(values[0])
	default:
		return fmt.Errorf("unknown callback selector %q", j.Selector)
	}

	proof := e.prove(j.ID, bundle)
	if e.CorruptProofs {
		proof[0] ^= 0xFF
	}
	var deliverErr error
	switch j.Selector {
	case domain.CallbackAnalysis:
		deliverErr = receiver.ResolveAnalysis(ctx, j.ID, bundle, proof)
	default:
		deliverErr = receiver.ResolveCountReveal(ctx, j.ID, bundle, proof)
	}
	if deliverErr != nil {
		e.mu.Lock()
		e.queue = append([]scheduled{j}, e.queue...)
		e.mu.Unlock()
	}
	return deliverErr
}

// DeliverAll drains the queue, returning the number of delivered callbacks.
func (e *FakeEngine) DeliverAll(ctx context.Context) (int, error) {
	delivered := 0
	for e.Pending() > 0 {
		if err := e.Deliver(ctx); err != nil {
			return delivered, err
		}
		delivered++
	}
	return delivered, nil
}

// Replay re-invokes the receiver with a previously delivered payload. The
// bundle must be reconstructed by the caller; proofs stay valid because they
// bind only the request id and bundle.
func (e *FakeEngine) Replay(ctx context.Context, id domain.RequestID, bundle []byte, selector domain.CallbackSelector) error {
	e.mu.Lock()
	receiver := e.receiver
	e.mu.Unlock()
	if receiver == nil {
		return fmt.Errorf("no callback receiver registered")
	}
	proof := e.prove(id, bundle)
	if selector == domain.CallbackAnalysis {
		return receiver.ResolveAnalysis(ctx, id, bundle, proof)
	}
	return receiver.ResolveCountReveal(ctx, id, bundle, proof)
}

func (e *FakeEngine) prove(id domain.RequestID, bundle []byte) []byte {
	mac := hmac.New(sha256.New, e.proofKey)
	mac.Write([]byte(id))
	mac.Write(bundle)
	return mac.Sum(nil)
}

// Verify reports whether proof authenticates bundle for the request id.
func (e *FakeEngine) Verify(id domain.RequestID, bundle, proof []byte) bool {
	return hmac.Equal(e.prove(id, bundle), proof)
}
