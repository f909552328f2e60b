package domain

import (
	"context"
	"encoding/binary"
)

// CallbackSelector names the callback entry point the engine must invoke when
// a scheduled decryption resolves.
type CallbackSelector string

const (
	// CallbackAnalysis routes to ResolveAnalysis.
	CallbackAnalysis CallbackSelector = "resolve_analysis"
	// CallbackCountReveal routes to ResolveCountReveal.
	CallbackCountReveal CallbackSelector = "resolve_count_reveal"
)

// CallbackReceiver is implemented by the core service. The engine invokes the
// selected entry point at an arbitrary later time; proof validation inside the
// receiver is the only authentication applied to these calls.
type CallbackReceiver interface {
	ResolveAnalysis(ctx context.Context, id RequestID, bundle, proof []byte) error
	ResolveCountReveal(ctx context.Context, id RequestID, bundle, proof []byte) error
}

// Engine is the narrow contract to the external homomorphic-encryption
// service. Handles are opaque; the core never branches on their contents.
type Engine interface {
	// Wrap registers raw ciphertext bytes and returns an opaque handle.
	Wrap(ctx context.Context, raw []byte) (Handle, error)
	// IsInitialized reports whether the handle references a known ciphertext.
	IsInitialized(h Handle) bool
	// Add homomorphically adds two ciphertexts of the same semantic type.
	Add(ctx context.Context, a, b Handle) (Handle, error)
	// EncryptedZero returns a fresh encryption of zero.
	EncryptedZero(ctx context.Context) (Handle, error)
	// EncryptedOne returns a fresh encryption of one.
	EncryptedOne(ctx context.Context) (Handle, error)
	// ScheduleDecryption queues asynchronous decryption of the handles. The
	// engine later invokes the selected callback with (requestID, bundle,
	// proof); nothing is decrypted synchronously.
	ScheduleDecryption(ctx context.Context, handles []Handle, selector CallbackSelector) (RequestID, error)
	// Verify reports whether proof authenticates bundle for the request id.
	Verify(id RequestID, bundle, proof []byte) bool
}

// Analysis bundles carry exactly three big-endian uint32 words: inflow,
// outflow, demographics. Count bundles carry one big-endian uint64.
const (
	AnalysisBundleLen = 12
	CountBundleLen    = 8
)

// EncodeAnalysisBundle packs the three revealed record values.
func EncodeAnalysisBundle(inflow, outflow, demographics uint32) []byte {
	b := make([]byte, AnalysisBundleLen)
	binary.BigEndian.PutUint32(b[0:4], inflow)
	binary.BigEndian.PutUint32(b[4:8], outflow)
	binary.BigEndian.PutUint32(b[8:12], demographics)
	return b
}

// DecodeAnalysisBundle unpacks a record bundle, rejecting any length other
// than exactly three words.
func DecodeAnalysisBundle(b []byte) (inflow, outflow, demographics uint32, err error) {
	if len(b) != AnalysisBundleLen {
		return 0, 0, 0, MalformedPayloadError{Want: AnalysisBundleLen, Got: len(b)}
	}
	return binary.BigEndian.Uint32(b[0:4]), binary.BigEndian.Uint32(b[4:8]), binary.BigEndian.Uint32(b[8:12]), nil
}

// EncodeCountBundle packs a revealed counter value.
func EncodeCountBundle(count uint64) []byte {
	b := make([]byte, CountBundleLen)
	binary.BigEndian.PutUint64(b, count)
	return b
}

// DecodeCountBundle unpacks a counter bundle.
func DecodeCountBundle(b []byte) (uint64, error) {
	if len(b) != CountBundleLen {
		return 0, MalformedPayloadError{Want: CountBundleLen, Got: len(b)}
	}
	return binary.BigEndian.Uint64(b), nil
}
