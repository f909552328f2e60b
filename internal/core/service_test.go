package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"cipherflow/pkg/domain"
	"cipherflow/testutil"
)

const (
	deployer = domain.Principal("agency-root")
	agencyA  = domain.Principal("agency-alpha")
	agencyB  = domain.Principal("agency-beta")
	stranger = domain.Principal("agency-unknown")
)

func newTestService(t *testing.T) (*Service, *testutil.FakeEngine, *MemoryEventSink) {
	t.Helper()
	engine := testutil.NewFakeEngine()
	sink := NewMemoryEventSink()
	svc := NewService(NewMemoryStore(deployer), engine, WithEventSink(sink))
	engine.SetReceiver(svc)
	if err := svc.Authorize(context.Background(), deployer, agencyA); err != nil {
		t.Fatalf("authorize agencyA: %v", err)
	}
	return svc, engine, sink
}

func submitRecord(t *testing.T, svc *Service, engine *testutil.FakeEngine, inflow, outflow, demographics uint64) domain.RecordID {
	t.Helper()
	id, err := svc.Submit(context.Background(), agencyA, engine.Encrypt(inflow), engine.Encrypt(outflow), engine.Encrypt(demographics))
	if err != nil {
		t.Fatalf("submit record: %v", err)
	}
	return id
}

func demographics(growth, base uint32) uint64 {
	return uint64(base)<<16 | uint64(growth)
}

func TestAuthorizeAndQuery(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	ok, err := svc.IsAuthorized(ctx, deployer)
	if err != nil || !ok {
		t.Fatalf("deployer authorized = %v, %v; want true, nil", ok, err)
	}
	ok, err = svc.IsAuthorized(ctx, agencyA)
	if err != nil || !ok {
		t.Fatalf("agencyA authorized = %v, %v; want true, nil", ok, err)
	}
	ok, err = svc.IsAuthorized(ctx, stranger)
	if err != nil || ok {
		t.Fatalf("stranger authorized = %v, %v; want false, nil", ok, err)
	}

	// Authorization can be delegated, and re-authorizing is a no-op.
	if err := svc.Authorize(ctx, agencyA, agencyB); err != nil {
		t.Fatalf("delegated authorize: %v", err)
	}
	if err := svc.Authorize(ctx, agencyA, agencyB); err != nil {
		t.Fatalf("repeat authorize: %v", err)
	}
	ok, _ = svc.IsAuthorized(ctx, agencyB)
	if !ok {
		t.Fatalf("agencyB not authorized after delegation")
	}
}

func TestAuthorizeRequiresAuthorizedCaller(t *testing.T) {
	svc, _, _ := newTestService(t)
	err := svc.Authorize(context.Background(), stranger, agencyB)
	var unauthorized domain.UnauthorizedError
	if !errors.As(err, &unauthorized) {
		t.Fatalf("authorize by stranger = %v, want UnauthorizedError", err)
	}
	ok, _ := svc.IsAuthorized(context.Background(), agencyB)
	if ok {
		t.Fatalf("agencyB authorized by unauthorized caller")
	}
}

func TestSubmitAssignsSequentialIDs(t *testing.T) {
	svc, engine, sink := newTestService(t)

	first := submitRecord(t, svc, engine, 100, 50, demographics(10, 20))
	second := submitRecord(t, svc, engine, 200, 75, demographics(30, 40))
	if first != 1 || second != 2 {
		t.Fatalf("ids = %d, %d; want 1, 2", first, second)
	}

	n, err := svc.RecordCount(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("record count = %d, %v; want 2, nil", n, err)
	}

	events := sink.Events()
	if len(events) != 2 || events[0].Kind != domain.EventDataSubmitted {
		t.Fatalf("events = %+v; want two data_submitted notifications", events)
	}
}

func TestSubmitRejectsUninitializedHandle(t *testing.T) {
	svc, engine, _ := newTestService(t)
	_, err := svc.Submit(context.Background(), agencyA, engine.Encrypt(1), domain.Handle("bogus"), engine.Encrypt(3))
	if !errors.Is(err, domain.ErrUninitializedHandle) {
		t.Fatalf("submit with bogus handle = %v, want ErrUninitializedHandle", err)
	}
	n, _ := svc.RecordCount(context.Background())
	if n != 0 {
		t.Fatalf("record count after failed submit = %d, want 0", n)
	}
}

func TestSubmitRejectsUnauthorized(t *testing.T) {
	svc, engine, _ := newTestService(t)
	_, err := svc.Submit(context.Background(), stranger, engine.Encrypt(1), engine.Encrypt(2), engine.Encrypt(3))
	var unauthorized domain.UnauthorizedError
	if !errors.As(err, &unauthorized) {
		t.Fatalf("submit by stranger = %v, want UnauthorizedError", err)
	}
}

func TestGetAnalysisBeforeReveal(t *testing.T) {
	svc, engine, _ := newTestService(t)
	id := submitRecord(t, svc, engine, 100, 50, demographics(10, 20))

	analysis, err := svc.GetAnalysis(context.Background(), id)
	if err != nil {
		t.Fatalf("get analysis: %v", err)
	}
	if analysis.Revealed || analysis.FlowPattern != "" || analysis.RevealedAt != nil {
		t.Fatalf("fresh analysis = %+v; want unrevealed zero value", analysis)
	}
}

func TestGetAnalysisUnknownRecord(t *testing.T) {
	svc, _, _ := newTestService(t)
	for _, id := range []domain.RecordID{0, 7} {
		_, err := svc.GetAnalysis(context.Background(), id)
		var notFound domain.NotFoundError
		if !errors.As(err, &notFound) {
			t.Fatalf("get analysis %d = %v, want NotFoundError", id, err)
		}
	}
}

func TestAnalysisLifecycle(t *testing.T) {
	svc, engine, sink := newTestService(t)
	ctx := context.Background()

	// Example from the operating notes: strong inflow, healthy growth ratio.
	id := submitRecord(t, svc, engine, 30000, 5000, demographics(80, 50))

	reqID, err := svc.RequestAnalysis(ctx, agencyA, id)
	if err != nil {
		t.Fatalf("request analysis: %v", err)
	}
	if reqID == "" {
		t.Fatalf("empty request id")
	}

	// Nothing reveals until the engine calls back.
	analysis, _ := svc.GetAnalysis(ctx, id)
	if analysis.Revealed {
		t.Fatalf("analysis revealed before callback")
	}

	if err := engine.Deliver(ctx); err != nil {
		t.Fatalf("deliver callback: %v", err)
	}

	analysis, err = svc.GetAnalysis(ctx, id)
	if err != nil {
		t.Fatalf("get analysis after resolve: %v", err)
	}
	if !analysis.Revealed || analysis.RevealedAt == nil {
		t.Fatalf("analysis not revealed after callback: %+v", analysis)
	}
	if analysis.FlowPattern != domain.FlowNetImmigrationHub {
		t.Fatalf("flow pattern = %q, want %q", analysis.FlowPattern, domain.FlowNetImmigrationHub)
	}
	if analysis.Trend != domain.TrendStrongGrowth {
		t.Fatalf("trend = %q, want %q", analysis.Trend, domain.TrendStrongGrowth)
	}
	if analysis.Network != domain.NetworkRegionalNode {
		t.Fatalf("network = %q, want %q", analysis.Network, domain.NetworkRegionalNode)
	}

	// The flow pattern counter advanced exactly once.
	handle, err := svc.GetEncryptedCount(ctx, domain.FlowNetImmigrationHub)
	if err != nil {
		t.Fatalf("get encrypted count: %v", err)
	}
	if v, ok := engine.Value(handle); !ok || v != 1 {
		t.Fatalf("counter value = %d, %v; want 1, true", v, ok)
	}

	kinds := make([]domain.EventKind, 0, len(sink.Events()))
	for _, e := range sink.Events() {
		kinds = append(kinds, e.Kind)
	}
	want := []domain.EventKind{domain.EventDataSubmitted, domain.EventAnalysisRequested, domain.EventAnalysisCompleted}
	if len(kinds) != len(want) {
		t.Fatalf("event kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("event kinds = %v, want %v", kinds, want)
		}
	}
}

func TestRequestAnalysisGuards(t *testing.T) {
	svc, engine, _ := newTestService(t)
	ctx := context.Background()
	id := submitRecord(t, svc, engine, 100, 50, demographics(10, 20))

	if _, err := svc.RequestAnalysis(ctx, stranger, id); err == nil {
		t.Fatalf("request by stranger succeeded")
	}
	var notFound domain.NotFoundError
	if _, err := svc.RequestAnalysis(ctx, agencyA, id+1); !errors.As(err, &notFound) {
		t.Fatalf("request for unknown record = %v, want NotFoundError", err)
	}

	if _, err := svc.RequestAnalysis(ctx, agencyA, id); err != nil {
		t.Fatalf("first request: %v", err)
	}
	var pending domain.AlreadyPendingError
	if _, err := svc.RequestAnalysis(ctx, agencyA, id); !errors.As(err, &pending) {
		t.Fatalf("second request = %v, want AlreadyPendingError", err)
	}
	if engine.Pending() != 1 {
		t.Fatalf("engine queue length = %d, want 1", engine.Pending())
	}

	if err := engine.Deliver(ctx); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	var revealed domain.AlreadyRevealedError
	if _, err := svc.RequestAnalysis(ctx, agencyA, id); !errors.As(err, &revealed) {
		t.Fatalf("request after reveal = %v, want AlreadyRevealedError", err)
	}
}

func TestResolveAnalysisAtMostOnce(t *testing.T) {
	svc, engine, _ := newTestService(t)
	ctx := context.Background()
	id := submitRecord(t, svc, engine, 30000, 5000, demographics(80, 50))

	reqID, err := svc.RequestAnalysis(ctx, agencyA, id)
	if err != nil {
		t.Fatalf("request analysis: %v", err)
	}
	if err := engine.Deliver(ctx); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	// Replaying the same resolution must be rejected: the correlation entry
	// retired with the first delivery.
	bundle := domain.EncodeAnalysisBundle(30000, 5000, 50<<16|80)
	err = engine.Replay(ctx, reqID, bundle, domain.CallbackAnalysis)
	var invalid domain.InvalidRequestError
	if !errors.As(err, &invalid) {
		t.Fatalf("replayed resolve = %v, want InvalidRequestError", err)
	}

	handle, _ := svc.GetEncryptedCount(ctx, domain.FlowNetImmigrationHub)
	if v, _ := engine.Value(handle); v != 1 {
		t.Fatalf("counter after replay = %d, want 1", v)
	}
}

func TestResolveAnalysisUnknownRequest(t *testing.T) {
	_, engine, _ := newTestService(t)
	err := engine.Replay(context.Background(), domain.RequestID("request-999"), domain.EncodeAnalysisBundle(1, 2, 3), domain.CallbackAnalysis)
	var invalid domain.InvalidRequestError
	if !errors.As(err, &invalid) {
		t.Fatalf("resolve unknown request = %v, want InvalidRequestError", err)
	}
}

func TestResolveAnalysisRejectsBadProof(t *testing.T) {
	svc, engine, _ := newTestService(t)
	ctx := context.Background()
	id := submitRecord(t, svc, engine, 100, 50, demographics(10, 20))

	if _, err := svc.RequestAnalysis(ctx, agencyA, id); err != nil {
		t.Fatalf("request analysis: %v", err)
	}

	engine.CorruptProofs = true
	if err := engine.Deliver(ctx); !errors.Is(err, domain.ErrProofInvalid) {
		t.Fatalf("deliver with corrupt proof = %v, want ErrProofInvalid", err)
	}

	// The failed resolution rolled back: the record stays unrevealed, the
	// correlation entry survives, and the engine still holds the request.
	analysis, _ := svc.GetAnalysis(ctx, id)
	if analysis.Revealed {
		t.Fatalf("analysis revealed despite invalid proof")
	}
	pending, err := svc.PendingRequestForRecord(ctx, id)
	if err != nil || !pending {
		t.Fatalf("pending after failed proof = %v, %v; want true, nil", pending, err)
	}
	if engine.Pending() != 1 {
		t.Fatalf("engine queue length after failed delivery = %d, want 1", engine.Pending())
	}

	// Once proofs come through intact the retried delivery completes.
	engine.CorruptProofs = false
	if err := engine.Deliver(ctx); err != nil {
		t.Fatalf("retried delivery: %v", err)
	}
	analysis, _ = svc.GetAnalysis(ctx, id)
	if !analysis.Revealed {
		t.Fatalf("analysis not revealed after retried delivery")
	}
}

func TestResolveAnalysisRejectsMalformedBundle(t *testing.T) {
	svc, engine, _ := newTestService(t)
	ctx := context.Background()
	id := submitRecord(t, svc, engine, 30000, 5000, demographics(80, 50))

	reqID, err := svc.RequestAnalysis(ctx, agencyA, id)
	if err != nil {
		t.Fatalf("request analysis: %v", err)
	}

	// A validly proved bundle of the wrong shape must roll the resolution
	// back without consuming the correlation entry.
	err = engine.Replay(ctx, reqID, []byte{1, 2, 3}, domain.CallbackAnalysis)
	var malformed domain.MalformedPayloadError
	if !errors.As(err, &malformed) {
		t.Fatalf("resolve with short bundle = %v, want MalformedPayloadError", err)
	}
	analysis, _ := svc.GetAnalysis(ctx, id)
	if analysis.Revealed {
		t.Fatalf("analysis revealed despite malformed bundle")
	}
	pending, err := svc.PendingRequestForRecord(ctx, id)
	if err != nil || !pending {
		t.Fatalf("pending after malformed bundle = %v, %v; want true, nil", pending, err)
	}

	// The original queued request still resolves.
	if err := engine.Deliver(ctx); err != nil {
		t.Fatalf("deliver after failed resolution: %v", err)
	}
	analysis, _ = svc.GetAnalysis(ctx, id)
	if !analysis.Revealed {
		t.Fatalf("analysis not revealed after retried delivery")
	}
}

func TestResolveAnalysisRejectsWrongSelector(t *testing.T) {
	svc, engine, _ := newTestService(t)
	ctx := context.Background()
	id := submitRecord(t, svc, engine, 30000, 5000, demographics(80, 50))
	if _, err := svc.RequestAnalysis(ctx, agencyA, id); err != nil {
		t.Fatalf("request analysis: %v", err)
	}
	if err := engine.Deliver(ctx); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	// A counter-reveal request id must not resolve through the record path.
	reqID, err := svc.RequestPatternCountReveal(ctx, agencyA, domain.FlowNetImmigrationHub)
	if err != nil {
		t.Fatalf("request count reveal: %v", err)
	}
	err = engine.Replay(ctx, reqID, domain.EncodeAnalysisBundle(1, 2, 3), domain.CallbackAnalysis)
	var invalid domain.InvalidRequestError
	if !errors.As(err, &invalid) {
		t.Fatalf("cross-selector resolve = %v, want InvalidRequestError", err)
	}
}

func TestPatternCountRevealRoundTrip(t *testing.T) {
	svc, engine, sink := newTestService(t)
	ctx := context.Background()

	// Three records that all classify as net immigration hubs.
	for i := 0; i < 3; i++ {
		id := submitRecord(t, svc, engine, 30000, 5000, demographics(80, 50))
		if _, err := svc.RequestAnalysis(ctx, agencyA, id); err != nil {
			t.Fatalf("request analysis %d: %v", id, err)
		}
	}
	if _, err := engine.DeliverAll(ctx); err != nil {
		t.Fatalf("deliver analyses: %v", err)
	}

	labels, err := svc.ListLabels(ctx)
	if err != nil || len(labels) != 1 || labels[0] != domain.FlowNetImmigrationHub {
		t.Fatalf("labels = %v, %v; want [NetImmigrationHub], nil", labels, err)
	}

	if _, err := svc.RequestPatternCountReveal(ctx, agencyA, domain.FlowNetImmigrationHub); err != nil {
		t.Fatalf("request count reveal: %v", err)
	}
	if _, err := svc.RevealedPatternCount(ctx, domain.FlowNetImmigrationHub); err == nil {
		t.Fatalf("revealed count available before callback")
	}
	if err := engine.Deliver(ctx); err != nil {
		t.Fatalf("deliver count reveal: %v", err)
	}

	rc, err := svc.RevealedPatternCount(ctx, domain.FlowNetImmigrationHub)
	if err != nil {
		t.Fatalf("revealed count: %v", err)
	}
	if rc.Count != 3 || rc.Label != domain.FlowNetImmigrationHub {
		t.Fatalf("revealed count = %+v, want count 3", rc)
	}
	if rc.RevealedAt.IsZero() {
		t.Fatalf("revealed count missing timestamp")
	}

	last := sink.Events()[len(sink.Events())-1]
	if last.Kind != domain.EventPatternRevealCompleted || last.Label != domain.FlowNetImmigrationHub {
		t.Fatalf("last event = %+v, want pattern_reveal_completed", last)
	}
}

func TestPatternCountRevealGuards(t *testing.T) {
	svc, engine, _ := newTestService(t)
	ctx := context.Background()

	var notFound domain.PatternNotFoundError
	if _, err := svc.RequestPatternCountReveal(ctx, agencyA, domain.FlowNeutral); !errors.As(err, &notFound) {
		t.Fatalf("reveal unknown pattern = %v, want PatternNotFoundError", err)
	}
	if _, err := svc.GetEncryptedCount(ctx, domain.FlowNeutral); !errors.As(err, &notFound) {
		t.Fatalf("encrypted count unknown pattern = %v, want PatternNotFoundError", err)
	}
	if _, err := svc.RevealedPatternCount(ctx, domain.FlowNeutral); !errors.As(err, &notFound) {
		t.Fatalf("revealed count unknown pattern = %v, want PatternNotFoundError", err)
	}

	id := submitRecord(t, svc, engine, 30000, 5000, demographics(80, 50))
	if _, err := svc.RequestAnalysis(ctx, agencyA, id); err != nil {
		t.Fatalf("request analysis: %v", err)
	}
	if err := engine.Deliver(ctx); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if _, err := svc.RequestPatternCountReveal(ctx, stranger, domain.FlowNetImmigrationHub); err == nil {
		t.Fatalf("count reveal by stranger succeeded")
	}
}

func TestClassificationFailureLeavesRequestResolvable(t *testing.T) {
	svc, engine, _ := newTestService(t)
	ctx := context.Background()

	// Demographics with a zero base population cannot classify: the callback
	// fails, the transaction rolls back, and the correlation entry survives.
	id := submitRecord(t, svc, engine, 30000, 5000, demographics(80, 0))
	if _, err := svc.RequestAnalysis(ctx, agencyA, id); err != nil {
		t.Fatalf("request analysis: %v", err)
	}
	err := engine.Deliver(ctx)
	var arith domain.ArithmeticError
	if !errors.As(err, &arith) {
		t.Fatalf("deliver = %v, want ArithmeticError", err)
	}
	analysis, _ := svc.GetAnalysis(ctx, id)
	if analysis.Revealed {
		t.Fatalf("analysis revealed despite classification failure")
	}
	pending, err := svc.PendingRequestForRecord(ctx, id)
	if err != nil || !pending {
		t.Fatalf("pending after failed classification = %v, %v; want true, nil", pending, err)
	}
	if engine.Pending() != 1 {
		t.Fatalf("engine queue length after failed delivery = %d, want 1", engine.Pending())
	}
}

func TestDistinctPatternsTallySeparately(t *testing.T) {
	svc, engine, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		inflow, outflow uint64
		want            domain.Label
	}{
		{30000, 5000, domain.FlowNetImmigrationHub},
		{5000, 30000, domain.FlowNetEmigrationSource},
		{30000, 5000, domain.FlowNetImmigrationHub},
	}
	for _, c := range cases {
		id := submitRecord(t, svc, engine, c.inflow, c.outflow, demographics(40, 50))
		if _, err := svc.RequestAnalysis(ctx, agencyA, id); err != nil {
			t.Fatalf("request analysis: %v", err)
		}
	}
	if _, err := engine.DeliverAll(ctx); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	labels, _ := svc.ListLabels(ctx)
	if len(labels) != 2 {
		t.Fatalf("labels = %v, want two distinct patterns", labels)
	}
	hub, _ := svc.GetEncryptedCount(ctx, domain.FlowNetImmigrationHub)
	src, _ := svc.GetEncryptedCount(ctx, domain.FlowNetEmigrationSource)
	if v, _ := engine.Value(hub); v != 2 {
		t.Fatalf("hub counter = %d, want 2", v)
	}
	if v, _ := engine.Value(src); v != 1 {
		t.Fatalf("source counter = %d, want 1", v)
	}
}

func TestServiceClock(t *testing.T) {
	svc, engine, _ := newTestService(t)
	fixed := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	svc.nowFn = func() time.Time { return fixed }
	ctx := context.Background()

	id := submitRecord(t, svc, engine, 30000, 5000, demographics(80, 50))
	if _, err := svc.RequestAnalysis(ctx, agencyA, id); err != nil {
		t.Fatalf("request analysis: %v", err)
	}
	if err := engine.Deliver(ctx); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	analysis, _ := svc.GetAnalysis(ctx, id)
	if analysis.RevealedAt == nil || !analysis.RevealedAt.Equal(fixed) {
		t.Fatalf("revealed at = %v, want %v", analysis.RevealedAt, fixed)
	}
}
