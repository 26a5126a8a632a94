// Package processor runs the worker loop that turns queued evidence into
// aggregate updates and correlation notifications.
package processor

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks Queue,EvidenceStore,Notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"dossier/internal/aggregate"
	"dossier/internal/aggregate/ports"
	"dossier/internal/correlation"
	"dossier/internal/evidence"
	"dossier/internal/feature"
	"dossier/internal/geo"
	"dossier/internal/lock"
	"dossier/internal/peer"
	"dossier/internal/position"
	"dossier/internal/processor/metrics"
	"dossier/internal/queue"
	id "dossier/pkg/domain"
	"dossier/pkg/platform/sentinel"
)

const (
	DefaultPollInterval   = time.Second
	DefaultProcessTimeout = 30 * time.Second
)

// State is the processor's position in its loop.
type State int32

const (
	StateIdle State = iota
	StateDequeuing
	StateExtracting
	StateAggregating
	StateNotifying
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDequeuing:
		return "dequeuing"
	case StateExtracting:
		return "extracting"
	case StateAggregating:
		return "aggregating"
	case StateNotifying:
		return "notifying"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Outcome is what Process did with an entry.
type Outcome string

const (
	OutcomeAggregated Outcome = "aggregated"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeDropped    Outcome = "dropped"
)

// Drop reasons, used as metric labels.
const (
	reasonEvidence   = "evidence"
	reasonMismatch   = "subject_mismatch"
	reasonStore      = "store"
	reasonLock       = "lock"
	reasonPositioner = "positioner"
)

var errSubjectMismatch = errors.New("evidence belongs to another subject")

type dropError struct {
	reason string
	err    error
}

func (e *dropError) Error() string { return e.err.Error() }
func (e *dropError) Unwrap() error { return e.err }

func drop(reason string, err error) error {
	return &dropError{reason: reason, err: err}
}

// Processor consumes queue entries one at a time. Several processors may share
// a queue and a store.
type Processor struct {
	queue      Queue
	evidence   EvidenceStore
	store      ports.Store
	aggregator *position.Aggregator
	notifier   Notifier
	gate       feature.Gate
	locker     lock.Locker

	positionerOpts []position.Option
	aggregatorOpts []position.AggregatorOption

	pollInterval   time.Duration
	processTimeout time.Duration

	clock   quartz.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	state atomic.Int32
}

// Option configures a Processor.
type Option func(*Processor)

// WithNotifier sets where new aggregates are announced.
func WithNotifier(n Notifier) Option {
	return func(p *Processor) {
		p.notifier = n
	}
}

// WithGate sets the feature gate. Without one every optional feature is off.
func WithGate(g feature.Gate) Option {
	return func(p *Processor) {
		if g != nil {
			p.gate = g
		}
	}
}

// WithLocker sets the per-(subject, agent) locker guarding positioner state.
func WithLocker(l lock.Locker) Option {
	return func(p *Processor) {
		if l != nil {
			p.locker = l
		}
	}
}

// WithPositionerOptions tunes the positioner built for each position entry.
func WithPositionerOptions(opts ...position.Option) Option {
	return func(p *Processor) {
		p.positionerOpts = append(p.positionerOpts, opts...)
	}
}

// WithAggregatorOptions tunes the position aggregator.
func WithAggregatorOptions(opts ...position.AggregatorOption) Option {
	return func(p *Processor) {
		p.aggregatorOpts = append(p.aggregatorOpts, opts...)
	}
}

// WithPollInterval sets the sleep between polls of an empty queue.
func WithPollInterval(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// WithProcessTimeout bounds one Process call, including after shutdown starts.
func WithProcessTimeout(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.processTimeout = d
		}
	}
}

func WithClock(c quartz.Clock) Option {
	return func(p *Processor) {
		if c != nil {
			p.clock = c
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Processor) {
		p.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(p *Processor) {
		if t != nil {
			p.tracer = t
		}
	}
}

// New creates a processor reading from q.
func New(q Queue, evidenceStore EvidenceStore, store ports.Store, opts ...Option) (*Processor, error) {
	if q == nil {
		return nil, errors.New("queue is required")
	}
	if evidenceStore == nil {
		return nil, errors.New("evidence store is required")
	}
	if store == nil {
		return nil, errors.New("aggregate store is required")
	}
	p := &Processor{
		queue:          q,
		evidence:       evidenceStore,
		store:          store,
		gate:           feature.NewStatic(),
		locker:         lock.NewMemory(),
		pollInterval:   DefaultPollInterval,
		processTimeout: DefaultProcessTimeout,
		clock:          quartz.NewReal(),
		logger:         slog.Default(),
		tracer:         otel.Tracer("dossier/processor"),
	}
	for _, opt := range opts {
		opt(p)
	}
	// Buckets can be as wide as the widest accepted fix, so the similarity
	// search never looks closer than that unless told otherwise.
	aggregatorOpts := append([]position.AggregatorOption{
		position.WithSearchRadius(position.New(p.positionerOpts...).MaximumRadius()),
	}, p.aggregatorOpts...)
	aggregator, err := position.NewAggregator(store, aggregatorOpts...)
	if err != nil {
		return nil, err
	}
	p.aggregator = aggregator
	return p, nil
}

// State returns the current loop state.
func (p *Processor) State() State {
	return State(p.state.Load())
}

func (p *Processor) setState(s State) {
	p.state.Store(int32(s))
}

// Run polls the queue until ctx is cancelled. An entry already dequeued is
// processed to completion before Run returns.
func (p *Processor) Run(ctx context.Context) error {
	p.logger.InfoContext(ctx, "processor started", "poll_interval", p.pollInterval)
	defer p.logger.InfoContext(ctx, "processor stopped")

	for ctx.Err() == nil {
		p.setState(StateDequeuing)
		entry, ok, err := p.queue.Dequeue(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			p.setState(StateIdle)
			return nil
		case errors.Is(err, sentinel.ErrInvalidState):
			p.setState(StateError)
			p.logger.ErrorContext(ctx, "dropping malformed queue entry", "error", err)
			p.metrics.ObserveProcess(string(OutcomeDropped), 0)
			p.metrics.IncrementDropped("malformed_entry")
			p.setState(StateIdle)
			continue
		case err != nil:
			p.setState(StateError)
			p.logger.ErrorContext(ctx, "dequeue failed", "error", err)
			p.setState(StateIdle)
			if !p.sleep(ctx) {
				return nil
			}
			continue
		case !ok:
			p.setState(StateIdle)
			if !p.sleep(ctx) {
				return nil
			}
			continue
		}
		p.Process(ctx, entry)
	}
	p.setState(StateIdle)
	return nil
}

func (p *Processor) sleep(ctx context.Context) bool {
	timer := p.clock.NewTimer(p.pollInterval, "processor", "poll")
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Process handles one entry. Failures are logged and counted and the entry
// is dropped; nothing is returned to the caller for retry. Cancelling ctx
// does not interrupt an entry in progress.
func (p *Processor) Process(ctx context.Context, entry queue.Entry) Outcome {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.processTimeout)
	defer cancel()

	ctx, span := p.tracer.Start(ctx, "Processor.Process", trace.WithAttributes(
		attribute.String("subject_id", entry.SubjectID.String()),
		attribute.String("evidence_id", entry.EvidenceID.String()),
		attribute.String("kind", string(entry.Kind)),
	))
	defer span.End()

	start := p.clock.Now()
	outcome, err := p.process(ctx, entry)
	if err != nil {
		p.setState(StateError)
		outcome = OutcomeDropped
		reason := reasonStore
		var de *dropError
		if errors.As(err, &de) {
			reason = de.reason
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
		p.logger.ErrorContext(ctx, "dropping queue entry",
			"subject_id", entry.SubjectID.String(),
			"evidence_id", entry.EvidenceID.String(),
			"kind", string(entry.Kind),
			"reason", reason,
			"error", err,
		)
		p.metrics.IncrementDropped(reason)
	}
	span.SetAttributes(attribute.String("outcome", string(outcome)))
	p.metrics.ObserveProcess(string(outcome), p.clock.Since(start))
	p.setState(StateIdle)
	return outcome
}

func (p *Processor) process(ctx context.Context, entry queue.Entry) (Outcome, error) {
	p.setState(StateExtracting)
	ev, err := p.evidence.Get(ctx, entry.EvidenceID)
	if err != nil {
		return OutcomeDropped, drop(reasonEvidence, fmt.Errorf("load evidence: %w", err))
	}
	if ev.SubjectID != entry.SubjectID {
		return OutcomeDropped, drop(reasonMismatch, errSubjectMismatch)
	}

	if ev.Kind == evidence.KindPosition {
		if !p.gate.IsEnabled(feature.Correlation) {
			p.logger.DebugContext(ctx, "position evidence skipped, correlation disabled",
				"subject_id", ev.SubjectID.String(), "evidence_id", ev.ID.String())
			return OutcomeSkipped, nil
		}
		return p.processPosition(ctx, ev)
	}
	return p.processPeers(ctx, ev)
}

func (p *Processor) processPeers(ctx context.Context, ev *evidence.Evidence) (Outcome, error) {
	records, reason := peer.ExtractWithReason(*ev)
	if len(records) == 0 {
		p.logger.DebugContext(ctx, "no peers in evidence",
			"subject_id", ev.SubjectID.String(),
			"evidence_id", ev.ID.String(),
			"kind", string(ev.Kind),
			"reason", reason,
		)
		return OutcomeSkipped, nil
	}

	p.setState(StateAggregating)
	var created []id.BucketID
	err := p.store.RunInTx(ctx, func(ctx context.Context) error {
		created = created[:0]
		for _, rec := range records {
			key := aggregate.CommunicationKeyFor(ev.SubjectID, ev.AgentID, ev.AcquiredAt, rec)
			bucket, wasNew, err := p.store.IncrementCommunication(ctx, key, rec.Weight)
			if err != nil {
				return drop(reasonStore, fmt.Errorf("increment %s bucket: %w", rec.Kind, err))
			}
			// Set-add on every record so a delivery that failed after the
			// increment still lands the token on redelivery.
			if err := p.store.SummaryAdd(ctx, ev.SubjectID, rec.Kind, rec.Peer); err != nil {
				return drop(reasonStore, fmt.Errorf("add summary token: %w", err))
			}
			if wasNew {
				created = append(created, bucket.ID)
			}
		}
		return nil
	})
	if err != nil {
		return OutcomeDropped, err
	}

	p.notify(ctx, ev.SubjectID, created)
	return OutcomeAggregated, nil
}

func (p *Processor) processPosition(ctx context.Context, ev *evidence.Evidence) (Outcome, error) {
	points := position.Points(ev)
	if len(points) == 0 {
		p.logger.DebugContext(ctx, "no usable fixes in position evidence",
			"subject_id", ev.SubjectID.String(), "evidence_id", ev.ID.String())
		return OutcomeSkipped, nil
	}

	lease, err := p.locker.Acquire(ctx, lock.PositionerKey(ev.SubjectID, ev.AgentID))
	if err != nil {
		return OutcomeDropped, drop(reasonLock, fmt.Errorf("acquire positioner lock: %w", err))
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			p.logger.WarnContext(ctx, "release positioner lock",
				"subject_id", ev.SubjectID.String(), "error", err)
		}
	}()

	p.setState(StateAggregating)
	var recorded []id.BucketID
	err = p.store.RunInTx(ctx, func(ctx context.Context) error {
		recorded = recorded[:0]
		positioner, err := p.loadPositioner(ctx, ev.SubjectID, ev.AgentID)
		if err != nil {
			return err
		}

		var stays []geo.StayPoint
		for _, pt := range points {
			positioner.Feed(pt, func(sp geo.StayPoint) { stays = append(stays, sp) })
		}

		for _, sp := range stays {
			bucket, _, err := p.aggregator.UpsertStayPoint(ctx, ev.SubjectID, ev.AgentID, sp, aggregate.Day(sp.Start))
			if err != nil {
				return drop(reasonStore, fmt.Errorf("upsert stay point: %w", err))
			}
			wasNew, err := p.store.RecordTimeframe(ctx, bucket.ID, aggregate.NewTimeframe(sp))
			if err != nil {
				return drop(reasonStore, fmt.Errorf("record timeframe: %w", err))
			}
			if wasNew {
				recorded = append(recorded, bucket.ID)
			}
		}
		p.metrics.AddStayPoints(len(stays))

		state, err := positioner.Dump()
		if err != nil {
			return drop(reasonPositioner, fmt.Errorf("dump positioner: %w", err))
		}
		if err := p.store.SavePositionerState(ctx, ev.SubjectID, ev.AgentID, state); err != nil {
			return drop(reasonStore, fmt.Errorf("save positioner state: %w", err))
		}
		return nil
	})
	if err != nil {
		return OutcomeDropped, err
	}

	p.notify(ctx, ev.SubjectID, recorded)
	return OutcomeAggregated, nil
}

// loadPositioner restores the saved detector, starting fresh when nothing was
// saved or the saved state cannot be read.
func (p *Processor) loadPositioner(ctx context.Context, subjectID id.SubjectID, agentID id.AgentID) (*position.Positioner, error) {
	positioner := position.New(p.positionerOpts...)
	state, err := p.store.LoadPositionerState(ctx, subjectID, agentID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return positioner, nil
	}
	if err != nil {
		return nil, drop(reasonStore, fmt.Errorf("load positioner state: %w", err))
	}
	if err := positioner.Restore(state); err != nil {
		p.logger.WarnContext(ctx, "discarding corrupt positioner state",
			"subject_id", subjectID.String(), "agent_id", agentID.String(), "error", err)
		return position.New(p.positionerOpts...), nil
	}
	return positioner, nil
}

// notify is fire-and-forget: a rejected notification is logged, never fatal.
func (p *Processor) notify(ctx context.Context, subjectID id.SubjectID, bucketIDs []id.BucketID) {
	if p.notifier == nil || len(bucketIDs) == 0 || !p.gate.IsEnabled(feature.Correlation) {
		return
	}
	p.setState(StateNotifying)
	for _, bucketID := range bucketIDs {
		err := p.notifier.Enqueue(ctx, correlation.Notification{
			SubjectID: subjectID,
			BucketID:  bucketID,
			Reason:    correlation.ReasonAggregate,
			At:        p.clock.Now().UTC(),
		})
		if err != nil {
			p.logger.WarnContext(ctx, "correlation notification rejected",
				"subject_id", subjectID.String(), "bucket_id", bucketID.String(), "error", err)
			p.metrics.IncrementNotification("rejected")
			continue
		}
		p.metrics.IncrementNotification("enqueued")
	}
}
