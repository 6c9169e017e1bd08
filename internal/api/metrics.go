package api

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/RichardoC/visionpad/internal/api"

type metrics struct {
	uploads      metric.Int64Counter
	turns        metric.Int64Counter
	modelLatency metric.Float64Histogram
}

func newMetrics() (*metrics, error) {
	meter := otel.Meter(meterName)

	uploads, err := meter.Int64Counter("visionpad.uploads",
		metric.WithDescription("Images stored"))
	if err != nil {
		return nil, err
	}
	turns, err := meter.Int64Counter("visionpad.chat.turns",
		metric.WithDescription("Chat turns by outcome"))
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("visionpad.model.latency",
		metric.WithDescription("Time spent waiting on the vision model"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &metrics{uploads: uploads, turns: turns, modelLatency: latency}, nil
}

func (m *metrics) turn(ctx context.Context, outcome string) {
	m.turns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
