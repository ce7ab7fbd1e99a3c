package messaging

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
)

// headerCarrier adapts Headers to the otel TextMapCarrier interface.
type headerCarrier Headers

func (c headerCarrier) Get(key string) string {
	v, ok := c[key]
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func (c headerCarrier) Set(key, value string) { c[key] = value }

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// InjectTrace copies the span context of ctx into h.
func InjectTrace(ctx context.Context, h Headers) {
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier(h))
}

// ExtractTrace returns ctx carrying the remote span context found in h.
func ExtractTrace(ctx context.Context, h Headers) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, headerCarrier(h))
}
