package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Engine attributes.
var (
	AttrContractID   = attribute.Key("weave.contract.id")
	AttrContentType  = attribute.Key("weave.contract.content_type")
	AttrHeight       = attribute.Key("weave.evaluation.height")
	AttrDepth        = attribute.Key("weave.evaluation.depth")
	AttrRunID        = attribute.Key("weave.evaluation.run_id")
	AttrInteractions = attribute.Key("weave.evaluation.interactions")
	AttrValid        = attribute.Key("weave.evaluation.valid")
	AttrGas          = attribute.Key("weave.evaluation.gas")
	AttrCached       = attribute.Key("weave.evaluation.cached")
	AttrTxID         = attribute.Key("weave.interaction.id")
	AttrTxValid      = attribute.Key("weave.interaction.valid")
)

// Evaluation returns the attributes identifying one evaluation. Depth is
// zero for a top-level evaluation and grows with each nested foreign read.
func Evaluation(contractID string, height uint64, depth int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrContractID.String(contractID),
		AttrHeight.Int64(int64(height)),
		AttrDepth.Int(depth),
	}
}

// Outcome returns the attributes summarizing a finished replay.
func Outcome(interactions, valid int, gas uint64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrInteractions.Int(interactions),
		AttrValid.Int(valid),
		AttrGas.Int64(int64(gas)),
	}
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanAttributes annotates the current span.
func SetSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}
