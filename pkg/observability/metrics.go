package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/kaizencycle/Mobius-Systems/pkg/kerr"
)

// Metrics records kernel activity. A nil *Metrics records nothing.
type Metrics struct {
	tracer          trace.Tracer
	blocksCommitted metric.Int64Counter
	blocksRejected  metric.Int64Counter
	txApplied       metric.Int64Counter
	rejections      metric.Int64Counter
	epochs          metric.Int64Counter
	votes           metric.Int64Counter
	archived        metric.Int64Counter
	blockDuration   metric.Float64Histogram
}

// NewMetrics creates the kernel instruments on meter. Spans go to tracer.
func NewMetrics(meter metric.Meter, tracer trace.Tracer) (*Metrics, error) {
	m := &Metrics{tracer: tracer}
	var err error

	if m.blocksCommitted, err = meter.Int64Counter("mobius.blocks.committed",
		metric.WithDescription("Blocks appended to the chain"),
		metric.WithUnit("{block}"),
	); err != nil {
		return nil, err
	}
	if m.blocksRejected, err = meter.Int64Counter("mobius.blocks.rejected",
		metric.WithDescription("Blocks that failed validation"),
		metric.WithUnit("{block}"),
	); err != nil {
		return nil, err
	}
	if m.txApplied, err = meter.Int64Counter("mobius.transactions.applied",
		metric.WithDescription("Transactions and earn transactions applied through blocks"),
		metric.WithUnit("{transaction}"),
	); err != nil {
		return nil, err
	}
	if m.rejections, err = meter.Int64Counter("mobius.operations.rejected",
		metric.WithDescription("Rejected kernel operations by error kind"),
		metric.WithUnit("{operation}"),
	); err != nil {
		return nil, err
	}
	if m.epochs, err = meter.Int64Counter("mobius.epochs.processed",
		metric.WithDescription("Processed epochs"),
		metric.WithUnit("{epoch}"),
	); err != nil {
		return nil, err
	}
	if m.votes, err = meter.Int64Counter("mobius.votes.cast",
		metric.WithDescription("Governance votes cast"),
		metric.WithUnit("{vote}"),
	); err != nil {
		return nil, err
	}
	if m.archived, err = meter.Int64Counter("mobius.blocks.archived",
		metric.WithDescription("Block archive uploads by backend and outcome"),
		metric.WithUnit("{block}"),
	); err != nil {
		return nil, err
	}
	if m.blockDuration, err = meter.Float64Histogram("mobius.block.apply.duration",
		metric.WithDescription("Block validation and application time in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// DefaultMetrics creates instruments on the global otel providers.
func DefaultMetrics() (*Metrics, error) {
	return NewMetrics(otel.Meter(InstrumentationName), otel.Tracer(InstrumentationName))
}

// StartSpan starts a span named name.
func (m *Metrics) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if m == nil || m.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return m.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on span and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kerr.KindOf(err)))
	}
	span.End()
}

// BlockCommitted records a committed block.
func (m *Metrics) BlockCommitted(ctx context.Context, height uint64, applied int, took time.Duration) {
	if m == nil {
		return
	}
	m.blocksCommitted.Add(ctx, 1)
	m.txApplied.Add(ctx, int64(applied))
	m.blockDuration.Record(ctx, took.Seconds(), metric.WithAttributes(attribute.String("outcome", "committed")))
}

// BlockRejected records a rejected block.
func (m *Metrics) BlockRejected(ctx context.Context, err error, took time.Duration) {
	if m == nil {
		return
	}
	kind := attribute.String("kind", string(kerr.KindOf(err)))
	m.blocksRejected.Add(ctx, 1, metric.WithAttributes(kind))
	m.blockDuration.Record(ctx, took.Seconds(), metric.WithAttributes(attribute.String("outcome", "rejected")))
}

// Rejected records a rejected operation.
func (m *Metrics) Rejected(ctx context.Context, op string, err error) {
	if m == nil || err == nil {
		return
	}
	m.rejections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("kind", string(kerr.KindOf(err))),
	))
}

// EpochProcessed records a processed epoch.
func (m *Metrics) EpochProcessed(ctx context.Context) {
	if m == nil {
		return
	}
	m.epochs.Add(ctx, 1)
}

// VoteCast records a cast vote.
func (m *Metrics) VoteCast(ctx context.Context, choice string) {
	if m == nil {
		return
	}
	m.votes.Add(ctx, 1, metric.WithAttributes(attribute.String("choice", choice)))
}

// BlockArchived records an archive upload attempt.
func (m *Metrics) BlockArchived(ctx context.Context, backend string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	m.archived.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("outcome", outcome),
	))
}
