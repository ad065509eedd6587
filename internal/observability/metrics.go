package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Meter is the shared OpenTelemetry meter for pipeline components. Each
// consumer (Upload Processor, Index Processor, Cleanup Engine) publishes its
// counters through it rather than exposing a hand-rolled stats map. The Rate
// Limiter's Status() snapshot is not exported through it.
var Meter = otel.Meter("sabaipics.pipeline")

// PipelineCounters holds the instruments shared across consumers, each call
// tagged with the owning component so a single dashboard query can split by
// component label.
type PipelineCounters struct {
	processed metric.Int64Counter
	failed    metric.Int64Counter
	retried   metric.Int64Counter
	component attribute.KeyValue
}

// NewPipelineCounters creates the standard set of instruments for a named
// component (e.g. "upload", "indexing", "cleanup").
func NewPipelineCounters(component string) (*PipelineCounters, error) {
	processed, err := Meter.Int64Counter(
		"pipeline_messages_processed_total",
		metric.WithDescription("messages successfully processed, labeled by component"),
	)
	if err != nil {
		return nil, err
	}
	failed, err := Meter.Int64Counter(
		"pipeline_messages_failed_total",
		metric.WithDescription("messages terminally failed, labeled by component"),
	)
	if err != nil {
		return nil, err
	}
	retried, err := Meter.Int64Counter(
		"pipeline_messages_retried_total",
		metric.WithDescription("messages requeued for retry, labeled by component"),
	)
	if err != nil {
		return nil, err
	}
	return &PipelineCounters{
		processed: processed,
		failed:    failed,
		retried:   retried,
		component: attribute.String("component", component),
	}, nil
}

// Processed records one successfully-acked message.
func (c *PipelineCounters) Processed(ctx context.Context) {
	c.processed.Add(ctx, 1, metric.WithAttributes(c.component))
}

// Failed records one message acked after a terminal (non-retryable) error.
func (c *PipelineCounters) Failed(ctx context.Context) {
	c.failed.Add(ctx, 1, metric.WithAttributes(c.component))
}

// Retried records one message left pending for redelivery.
func (c *PipelineCounters) Retried(ctx context.Context) {
	c.retried.Add(ctx, 1, metric.WithAttributes(c.component))
}
