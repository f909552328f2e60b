// Package lattigo implements the ciphertext engine contract over the Lattigo
// BGV scheme. The engine doubles as the decryption oracle: scheduled requests
// queue until Pump decrypts them and invokes the registered callback with an
// HMAC proof over the plaintext bundle.
package lattigo

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/bgv"
	"golang.org/x/crypto/hkdf"

	"cipherflow/internal/blob"
	"cipherflow/pkg/domain"
)

// Config parameterizes engine construction.
type Config struct {
	// LogN selects the ring degree; zero defaults to 13.
	LogN int
	// Seed feeds proof-key derivation; zero-length draws random bytes.
	Seed []byte
	// Archive, when set, retains every wrapped and produced ciphertext's
	// raw bytes under ciphertexts/<handle>.
	Archive blob.Store
}

type job struct {
	id       domain.RequestID
	handles  []domain.Handle
	selector domain.CallbackSelector
}

// Engine holds the BGV context, the handle table, and the decryption queue.
type Engine struct {
	params    bgv.Parameters
	encoder   *bgv.Encoder
	encryptor *rlwe.Encryptor
	decryptor *rlwe.Decryptor
	evaluator *bgv.Evaluator
	proofKey  []byte
	archive   blob.Store

	mu       sync.Mutex
	cts      map[domain.Handle]*rlwe.Ciphertext
	queue    []job
	receiver domain.CallbackReceiver
}

var _ domain.Engine = (*Engine)(nil)

// New constructs an engine with a fresh key pair.
func New(cfg Config) (*Engine, error) {
	logN := cfg.LogN
	if logN == 0 {
		logN = 13
	}
	params, err := bgv.NewParametersFromLiteral(bgv.ParametersLiteral{
		LogN:             logN,
		LogQ:             []int{54},
		LogP:             []int{54},
		PlaintextModulus: 65537,
	})
	if err != nil {
		return nil, fmt.Errorf("bgv parameters: %w", err)
	}
	kgen := rlwe.NewKeyGenerator(params)
	sk := kgen.GenSecretKeyNew()
	pk := kgen.GenPublicKeyNew(sk)

	seed := cfg.Seed
	if len(seed) == 0 {
		seed = make([]byte, 32)
		if _, err := rand.Read(seed); err != nil {
			return nil, fmt.Errorf("proof seed: %w", err)
		}
	}
	proofKey := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, seed, nil, []byte("cipherflow decryption proof")), proofKey); err != nil {
		return nil, fmt.Errorf("derive proof key: %w", err)
	}

	return &Engine{
		params:    params,
		encoder:   bgv.NewEncoder(params),
		encryptor: rlwe.NewEncryptor(params, pk),
		decryptor: rlwe.NewDecryptor(params, sk),
		evaluator: bgv.NewEvaluator(params, nil),
		proofKey:  proofKey,
		archive:   cfg.Archive,
		cts:       make(map[domain.Handle]*rlwe.Ciphertext),
	}, nil
}

// SetReceiver registers the callback receiver Pump delivers to.
func (e *Engine) SetReceiver(r domain.CallbackReceiver) {
	e.mu.Lock()
	e.receiver = r
	e.mu.Unlock()
}

func (e *Engine) mint(ctx context.Context, ct *rlwe.Ciphertext) (domain.Handle, error) {
	h := domain.Handle(uuid.NewString())
	if e.archive != nil {
		raw, err := ct.MarshalBinary()
		if err != nil {
			return "", fmt.Errorf("marshal ciphertext: %w", err)
		}
		if _, err := e.archive.Put(ctx, "ciphertexts/"+string(h), bytes.NewReader(raw)); err != nil {
			return "", fmt.Errorf("archive ciphertext: %w", err)
		}
	}
	e.mu.Lock()
	e.cts[h] = ct
	e.mu.Unlock()
	return h, nil
}

// Values are packed as two 16-bit limbs (slot 0 low, slot 1 high) so a full
// uint32 fits under the 65537 plaintext modulus. Homomorphic adds act
// limb-wise; counter increments only ever touch the low limb, so tallies
// stay exact below 65537.
const limbMask = 0xFFFF

// EncryptUint32 encrypts a single value, for submitters and tests.
func (e *Engine) EncryptUint32(ctx context.Context, v uint32) (domain.Handle, error) {
	return e.encryptUint64(ctx, uint64(v))
}

func (e *Engine) encryptUint64(ctx context.Context, v uint64) (domain.Handle, error) {
	pt := bgv.NewPlaintext(e.params, e.params.MaxLevel())
	if err := e.encoder.Encode([]uint64{v & limbMask, (v >> 16) & limbMask}, pt); err != nil {
		return "", fmt.Errorf("encode: %w", err)
	}
	ct, err := e.encryptor.EncryptNew(pt)
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	return e.mint(ctx, ct)
}

// EncryptedZero returns a fresh encryption of zero.
func (e *Engine) EncryptedZero(ctx context.Context) (domain.Handle, error) {
	return e.encryptUint64(ctx, 0)
}

// EncryptedOne returns a fresh encryption of one.
func (e *Engine) EncryptedOne(ctx context.Context) (domain.Handle, error) {
	return e.encryptUint64(ctx, 1)
}

// Wrap registers raw ciphertext bytes under a new handle.
func (e *Engine) Wrap(ctx context.Context, raw []byte) (domain.Handle, error) {
	ct := rlwe.NewCiphertext(e.params, 1, e.params.MaxLevel())
	if err := ct.UnmarshalBinary(raw); err != nil {
		return "", fmt.Errorf("unmarshal ciphertext: %w", err)
	}
	return e.mint(ctx, ct)
}

// Export returns the raw bytes of the ciphertext behind a handle.
func (e *Engine) Export(h domain.Handle) ([]byte, error) {
	e.mu.Lock()
	ct, ok := e.cts[h]
	e.mu.Unlock()
	if !ok {
		return nil, domain.ErrUninitializedHandle
	}
	return ct.MarshalBinary()
}

// IsInitialized reports whether the handle references a known ciphertext.
func (e *Engine) IsInitialized(h domain.Handle) bool {
	e.mu.Lock()
	_, ok := e.cts[h]
	e.mu.Unlock()
	return ok
}

// Add homomorphically adds two ciphertexts, minting a handle for the sum.
func (e *Engine) Add(ctx context.Context, a, b domain.Handle) (domain.Handle, error) {
	e.mu.Lock()
	ctA, okA := e.cts[a]
	ctB, okB := e.cts[b]
	e.mu.Unlock()
	if !okA || !okB {
		return "", domain.ErrUninitializedHandle
	}
	sum, err := e.evaluator.AddNew(ctA, ctB)
	if err != nil {
		return "", fmt.Errorf("homomorphic add: %w", err)
	}
	return e.mint(ctx, sum)
}

// ScheduleDecryption queues the handles for asynchronous decryption and
// returns the engine-assigned request id.
func (e *Engine) ScheduleDecryption(_ context.Context, handles []domain.Handle, selector domain.CallbackSelector) (domain.RequestID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, h := range handles {
		if _, ok := e.cts[h]; !ok {
			return "", domain.ErrUninitializedHandle
		}
	}
	id := domain.RequestID(uuid.NewString())
	e.queue = append(e.queue, job{id: id, handles: append([]domain.Handle(nil), handles...), selector: selector})
	return id, nil
}

// PendingRequests reports how many scheduled decryptions await delivery.
func (e *Engine) PendingRequests() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Pump drains the decryption queue, invoking the registered callback once per
// scheduled request. It returns the number of delivered callbacks. A failed
// delivery stops the pump and leaves its job at the head of the queue, so a
// later Pump retries it before anything scheduled after it.
func (e *Engine) Pump(ctx context.Context) (int, error) {
	for delivered := 0; ; delivered++ {
		e.mu.Lock()
		if len(e.queue) == 0 || e.receiver == nil {
			e.mu.Unlock()
			return delivered, nil
		}
		j := e.queue[0]
		e.queue = e.queue[1:]
		receiver := e.receiver
		e.mu.Unlock()

		bundle, err := e.decryptBundle(j)
		if err != nil {
			e.requeue(j)
			return delivered, err
		}
		proof := e.prove(j.id, bundle)
		switch j.selector {
		case domain.CallbackAnalysis:
			err = receiver.ResolveAnalysis(ctx, j.id, bundle, proof)
		case domain.CallbackCountReveal:
			err = receiver.ResolveCountReveal(ctx, j.id, bundle, proof)
		default:
			err = fmt.Errorf("unknown callback selector %q", j.selector)
		}
		if err != nil {
			e.requeue(j)
			return delivered, fmt.Errorf("deliver request %s: %w", j.id, err)
		}
	}
}

func (e *Engine) requeue(j job) {
	e.mu.Lock()
	e.queue = append([]job{j}, e.queue...)
	e.mu.Unlock()
}

func (e *Engine) decryptBundle(j job) ([]byte, error) {
	values := make([]uint64, len(j.handles))
	for i, h := range j.handles {
		e.mu.Lock()
		ct, ok := e.cts[h]
		e.mu.Unlock()
		if !ok {
			return nil, domain.ErrUninitializedHandle
		}
		pt := e.decryptor.DecryptNew(ct)
		slots := make([]uint64, e.params.MaxSlots())
		if err := e.encoder.Decode(pt, slots); err != nil {
			return nil, fmt.Errorf("decode plaintext: %w", err)
		}
		values[i] = slots[0] + slots[1]<<16
	}
	switch j.selector {
	case domain.CallbackAnalysis:
		if len(values) != 3 {
			return nil, fmt.Errorf("analysis request %s carries %d handles, want 3", j.id, len(values))
		}
		return domain.EncodeAnalysisBundle(uint32(values[0]), uint32(values[1]), uint32(values[2])), nil
	case domain.CallbackCountReveal:
		if len(values) != 1 {
			return nil, fmt.Errorf("count request %s carries %d handles, want 1", j.id, len(values))
		}
		return domain.EncodeCountBundle(values[0]), nil
	default:
		return nil, fmt.Errorf("unknown callback selector %q", j.selector)
	}
}

func (e *Engine) prove(id domain.RequestID, bundle []byte) []byte {
	mac := hmac.New(sha256.New, e.proofKey)
	mac.Write([]byte(id))
	mac.Write(bundle)
	return mac.Sum(nil)
}

// Verify reports whether proof authenticates bundle for the request id.
func (e *Engine) Verify(id domain.RequestID, bundle, proof []byte) bool {
	return hmac.Equal(e.prove(id, bundle), proof)
}
