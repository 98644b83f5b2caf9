// Package observe holds the OpenTelemetry instruments for the acquisition
// pipeline and the Prometheus bridge that exposes them on /metrics.
//
// Tests should build a [Metrics] with [NewMetrics] over their own
// [metric.MeterProvider]; the process-wide one comes from [InitProvider].
package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "lockin"

// Metrics is safe for concurrent use. A nil *Metrics records nothing, so
// callers never need to check.
type Metrics struct {
	// TickDuration is the wall time spent processing one capture tick.
	TickDuration metric.Float64Histogram

	// FramesDecoded counts stereo frames drained from the FIFO.
	FramesDecoded metric.Int64Counter

	// FifoBacklog is the number of bytes left queued after a tick.
	FifoBacklog metric.Int64Gauge

	// Values counts emitted measurements.
	Values metric.Int64Counter

	// Conditions counts ticks that produced no value. Attribute
	// "status": insufficient, low_signal.
	Conditions metric.Int64Counter

	// DiagnosticSkips counts vumeter updates that did not happen.
	// Attribute "reason": busy, stale.
	DiagnosticSkips metric.Int64Counter

	// ActiveSessions is 1 while the engine is running.
	ActiveSessions metric.Int64UpDownCounter
}

var tickBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
}

func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TickDuration, err = m.Float64Histogram("lockin.tick.duration",
		metric.WithDescription("Time spent decoding and demodulating one capture tick."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(tickBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FramesDecoded, err = m.Int64Counter("lockin.frames.decoded",
		metric.WithDescription("Stereo frames drained from the capture FIFO."),
	); err != nil {
		return nil, err
	}
	if met.FifoBacklog, err = m.Int64Gauge("lockin.fifo.backlog",
		metric.WithDescription("Bytes still queued in the capture FIFO after a tick."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.Values, err = m.Int64Counter("lockin.values",
		metric.WithDescription("Demodulated values emitted."),
	); err != nil {
		return nil, err
	}
	if met.Conditions, err = m.Int64Counter("lockin.conditions",
		metric.WithDescription("Ticks that reported a data condition instead of a value."),
	); err != nil {
		return nil, err
	}
	if met.DiagnosticSkips, err = m.Int64Counter("lockin.vumeter.skipped",
		metric.WithDescription("Diagnostic window updates skipped."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("lockin.sessions.active",
		metric.WithDescription("Running acquisition sessions."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

// RecordTick records one processed tick.
func (m *Metrics) RecordTick(ctx context.Context, seconds float64, frames int, backlog int) {
	if m == nil {
		return
	}
	m.TickDuration.Record(ctx, seconds)
	if frames > 0 {
		m.FramesDecoded.Add(ctx, int64(frames))
	}
	m.FifoBacklog.Record(ctx, int64(backlog))
}

func (m *Metrics) RecordValue(ctx context.Context) {
	if m == nil {
		return
	}
	m.Values.Add(ctx, 1)
}

func (m *Metrics) RecordCondition(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.Conditions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *Metrics) RecordDiagnosticSkip(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.DiagnosticSkips.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) SessionStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, 1)
}

func (m *Metrics) SessionEnded(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, -1)
}
