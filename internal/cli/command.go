package cli

import (
	"context"
	"time"

	"github.com/complyledger/complyledger/internal/observability"
	"github.com/complyledger/complyledger/internal/observability/logging"
	otelobs "github.com/complyledger/complyledger/internal/observability/otel"
	"go.opentelemetry.io/otel/attribute"
)

// startCommand opens the command span and emits the start event. The
// returned func emits the completion event and ends the span.
func startCommand(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	attrs = append([]attribute.KeyValue{
		otelobs.Attr("op_id", observability.OpID(ctx)),
		otelobs.Attr("command", name),
	}, attrs...)
	ctx, span := otelobs.StartSpan(ctx, "cli."+name, attrs...)

	log := logging.From(ctx)
	start := time.Now()
	log.Event(ctx, name+".start", nil)

	return ctx, func(err error) {
		result := "success"
		if err != nil {
			result = "fail"
		}
		log.Event(ctx, name+".complete", map[string]any{
			"duration_ms": time.Since(start).Milliseconds(),
			"result":      result,
		})
		otelobs.EndSpan(span, err)
	}
}
