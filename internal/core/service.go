package core

import (
	"context"
	"time"

	"cipherflow/pkg/domain"
)

// Service is the root context object coordinating the record store, the
// decryption request orchestrator, the classifier, and the pattern
// aggregator over one persistent store and one ciphertext engine.
//
// Mutating operations run inside the store's transactional scope: either the
// whole operation commits or no state changes. Notifications publish only
// after commit.
type Service struct {
	store   domain.PersistentStore
	engine  domain.Engine
	logger  Logger
	metrics MetricsRecorder
	tracer  Tracer
	events  domain.EventSink
	nowFn   func() time.Time
}

var _ domain.CallbackReceiver = (*Service)(nil)

// Option configures optional service collaborators.
type Option func(*Service)

// WithLogger installs a logger.
func WithLogger(l Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetricsRecorder installs a metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracer installs a tracer.
func WithTracer(t Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithEventSink installs a notification sink.
func WithEventSink(sink domain.EventSink) Option {
	return func(s *Service) {
		if sink != nil {
			s.events = sink
		}
	}
}

// NewService constructs a service over the supplied store and engine.
func NewService(store domain.PersistentStore, engine domain.Engine, opts ...Option) *Service {
	s := &Service{
		store:   store,
		engine:  engine,
		logger:  noopLogger{},
		metrics: noopMetrics{},
		tracer:  noopTracer{},
		events:  noopSink{},
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// instrument wraps an operation with tracing, metrics, and error logging.
func (s *Service) instrument(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, op)
	start := time.Now()
	err := fn(ctx)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, time.Since(start))
	if err != nil {
		s.logger.Errorf("%s: %v", op, err)
	}
	return err
}

func (s *Service) publish(events []domain.Event) {
	for _, e := range events {
		s.events.Publish(e)
	}
}

// Authorize adds principal to the authorization set. Only an already
// authorized caller may extend the set; re-authorizing is a no-op.
func (s *Service) Authorize(ctx context.Context, caller, principal domain.Principal) error {
	return s.instrument(ctx, "authorize", func(ctx context.Context) error {
		return s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			if !tx.IsAuthorized(caller) {
				return domain.UnauthorizedError{Principal: caller}
			}
			tx.Authorize(principal)
			return nil
		})
	})
}

// IsAuthorized reports whether principal may submit or request analyses.
func (s *Service) IsAuthorized(ctx context.Context, principal domain.Principal) (bool, error) {
	var ok bool
	err := s.store.ReadView(ctx, func(v domain.View) error {
		ok = v.IsAuthorized(principal)
		return nil
	})
	return ok, err
}

// Submit stores a new encrypted record from the three ciphertext handles and
// returns its id. The handles are stored verbatim; the core performs no
// arithmetic or inspection on them beyond confirming the engine knows them.
func (s *Service) Submit(ctx context.Context, caller domain.Principal, inflow, outflow, demographics domain.Handle) (domain.RecordID, error) {
	var (
		id     domain.RecordID
		events []domain.Event
	)
	err := s.instrument(ctx, "submit", func(ctx context.Context) error {
		for _, h := range []domain.Handle{inflow, outflow, demographics} {
			if !s.engine.IsInitialized(h) {
				return domain.ErrUninitializedHandle
			}
		}
		return s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			if !tx.IsAuthorized(caller) {
				return domain.UnauthorizedError{Principal: caller}
			}
			rec, err := tx.CreateRecord(inflow, outflow, demographics)
			if err != nil {
				return err
			}
			id = rec.ID
			events = []domain.Event{{Kind: domain.EventDataSubmitted, RecordID: rec.ID, At: rec.SubmittedAt}}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	s.publish(events)
	return id, nil
}

// GetAnalysis returns the analysis for a record id: empty labels with
// Revealed false until a callback resolves it.
func (s *Service) GetAnalysis(ctx context.Context, id domain.RecordID) (domain.Analysis, error) {
	var analysis domain.Analysis
	err := s.store.ReadView(ctx, func(v domain.View) error {
		a, ok := v.FindAnalysis(id)
		if !ok {
			return domain.NotFoundError{ID: id}
		}
		analysis = a
		return nil
	})
	if err != nil {
		return domain.Analysis{}, err
	}
	return analysis, nil
}

// RecordCount returns the monotone entity counter for external enumeration.
func (s *Service) RecordCount(ctx context.Context) (uint64, error) {
	var n uint64
	err := s.store.ReadView(ctx, func(v domain.View) error {
		n = v.RecordCount()
		return nil
	})
	return n, err
}

// RequestAnalysis asks the engine to decrypt a record's ciphertexts and
// registers the correlation entry. It returns as soon as the request is
// issued; resolution arrives later through ResolveAnalysis. A record with a
// live request is rejected rather than double-registered.
func (s *Service) RequestAnalysis(ctx context.Context, caller domain.Principal, id domain.RecordID) (domain.RequestID, error) {
	var (
		requestID domain.RequestID
		events    []domain.Event
	)
	err := s.instrument(ctx, "request_analysis", func(ctx context.Context) error {
		return s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			if !tx.IsAuthorized(caller) {
				return domain.UnauthorizedError{Principal: caller}
			}
			rec, ok := tx.FindRecord(id)
			if !ok {
				return domain.NotFoundError{ID: id}
			}
			analysis, _ := tx.FindAnalysis(id)
			if analysis.Revealed {
				return domain.AlreadyRevealedError{ID: id}
			}
			if _, pending := tx.PendingForRecord(id); pending {
				return domain.AlreadyPendingError{ID: id}
			}
			handles := []domain.Handle{rec.Inflow, rec.Outflow, rec.Demographics}
			req, err := s.engine.ScheduleDecryption(ctx, handles, domain.CallbackAnalysis)
			if err != nil {
				return err
			}
			if err := tx.PutPending(req, domain.RecordKey(id)); err != nil {
				return err
			}
			requestID = req
			events = []domain.Event{{Kind: domain.EventAnalysisRequested, RecordID: id, At: s.nowFn()}}
			return nil
		})
	})
	if err != nil {
		return "", err
	}
	s.publish(events)
	return requestID, nil
}

// ResolveAnalysis is the callback entry point for record analysis requests,
// invoked by the decryption engine. The proof check is the only
// authentication; the correlation lookup is the replay guard. On success the
// labels persist, the correlation entry retires, and the flow pattern
// counter advances, all in one transaction.
func (s *Service) ResolveAnalysis(ctx context.Context, requestID domain.RequestID, bundle, proof []byte) error {
	var events []domain.Event
	err := s.instrument(ctx, "resolve_analysis", func(ctx context.Context) error {
		return s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			key, ok := tx.TakePending(requestID)
			if !ok || key.Kind != domain.CorrelationRecord {
				return domain.InvalidRequestError{RequestID: requestID}
			}
			id := key.RecordID
			analysis, ok := tx.FindAnalysis(id)
			if !ok {
				return domain.NotFoundError{ID: id}
			}
			if analysis.Revealed {
				// Unreachable unless the engine resubmits a request id the
				// correlation map no longer tracks.
				return domain.AlreadyRevealedError{ID: id}
			}
			if !s.engine.Verify(requestID, bundle, proof) {
				return domain.ErrProofInvalid
			}
			inflow, outflow, demographics, err := domain.DecodeAnalysisBundle(bundle)
			if err != nil {
				return err
			}
			flow, trend, network, err := Classify(inflow, outflow, demographics)
			if err != nil {
				return err
			}
			now := s.nowFn()
			if err := tx.SetAnalysis(id, domain.Analysis{
				FlowPattern: flow,
				Trend:       trend,
				Network:     network,
				Revealed:    true,
				RevealedAt:  &now,
			}); err != nil {
				return err
			}
			if err := s.recordPattern(ctx, tx, flow); err != nil {
				return err
			}
			events = []domain.Event{{Kind: domain.EventAnalysisCompleted, RecordID: id, Label: flow, At: now}}
			return nil
		})
	})
	if err != nil {
		return err
	}
	s.publish(events)
	return nil
}

// recordPattern lazily creates the label's counter at an encrypted zero and
// homomorphically adds an encrypted one. Nothing is decrypted here.
func (s *Service) recordPattern(ctx context.Context, tx domain.Transaction, label domain.Label) error {
	counter, ok := tx.Counter(label)
	if !ok {
		zero, err := s.engine.EncryptedZero(ctx)
		if err != nil {
			return err
		}
		counter = zero
	}
	one, err := s.engine.EncryptedOne(ctx)
	if err != nil {
		return err
	}
	sum, err := s.engine.Add(ctx, counter, one)
	if err != nil {
		return err
	}
	tx.SetCounter(label, sum)
	return nil
}

// PendingRequestForRecord reports whether a decryption request for the record
// is still awaiting its callback.
func (s *Service) PendingRequestForRecord(ctx context.Context, id domain.RecordID) (bool, error) {
	var pending bool
	err := s.store.ReadView(ctx, func(v domain.View) error {
		_, pending = v.PendingForRecord(id)
		return nil
	})
	return pending, err
}

// GetEncryptedCount returns the current encrypted counter handle for a label.
func (s *Service) GetEncryptedCount(ctx context.Context, label domain.Label) (domain.Handle, error) {
	var handle domain.Handle
	err := s.store.ReadView(ctx, func(v domain.View) error {
		ct, ok := v.Counter(label)
		if !ok {
			return domain.PatternNotFoundError{Label: label}
		}
		handle = ct
		return nil
	})
	if err != nil {
		return "", err
	}
	return handle, nil
}

// ListLabels returns known labels in first-occurrence order.
func (s *Service) ListLabels(ctx context.Context) ([]domain.Label, error) {
	var labels []domain.Label
	err := s.store.ReadView(ctx, func(v domain.View) error {
		labels = v.Labels()
		return nil
	})
	return labels, err
}

// RequestPatternCountReveal asks the engine to decrypt a label's counter,
// keyed by the label hash rather than an entity id.
func (s *Service) RequestPatternCountReveal(ctx context.Context, caller domain.Principal, label domain.Label) (domain.RequestID, error) {
	var (
		requestID domain.RequestID
		events    []domain.Event
	)
	err := s.instrument(ctx, "request_pattern_count_reveal", func(ctx context.Context) error {
		return s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			if !tx.IsAuthorized(caller) {
				return domain.UnauthorizedError{Principal: caller}
			}
			counter, ok := tx.Counter(label)
			if !ok {
				return domain.PatternNotFoundError{Label: label}
			}
			req, err := s.engine.ScheduleDecryption(ctx, []domain.Handle{counter}, domain.CallbackCountReveal)
			if err != nil {
				return err
			}
			if err := tx.PutPending(req, domain.CounterKey(label)); err != nil {
				return err
			}
			requestID = req
			events = []domain.Event{{Kind: domain.EventPatternRevealRequested, Label: label, At: s.nowFn()}}
			return nil
		})
	})
	if err != nil {
		return "", err
	}
	s.publish(events)
	return requestID, nil
}

// ResolveCountReveal is the companion callback for counter reveal requests.
func (s *Service) ResolveCountReveal(ctx context.Context, requestID domain.RequestID, bundle, proof []byte) error {
	var events []domain.Event
	err := s.instrument(ctx, "resolve_count_reveal", func(ctx context.Context) error {
		return s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			key, ok := tx.TakePending(requestID)
			if !ok || key.Kind != domain.CorrelationCounter {
				return domain.InvalidRequestError{RequestID: requestID}
			}
			if !s.engine.Verify(requestID, bundle, proof) {
				return domain.ErrProofInvalid
			}
			count, err := domain.DecodeCountBundle(bundle)
			if err != nil {
				return err
			}
			label, ok := tx.LabelByHash(key.LabelHash)
			if !ok {
				return domain.PatternNotFoundError{LabelHash: key.LabelHash}
			}
			now := s.nowFn()
			tx.SetRevealedCount(domain.RevealedCount{Label: label, Count: count, RevealedAt: now})
			events = []domain.Event{{Kind: domain.EventPatternRevealCompleted, Label: label, At: now}}
			return nil
		})
	})
	if err != nil {
		return err
	}
	s.publish(events)
	return nil
}

// RevealedPatternCount returns the latest revealed tally for a label.
func (s *Service) RevealedPatternCount(ctx context.Context, label domain.Label) (domain.RevealedCount, error) {
	var rc domain.RevealedCount
	err := s.store.ReadView(ctx, func(v domain.View) error {
		got, ok := v.RevealedCount(label)
		if !ok {
			return domain.PatternNotFoundError{Label: label}
		}
		rc = got
		return nil
	})
	if err != nil {
		return domain.RevealedCount{}, err
	}
	return rc, nil
}
