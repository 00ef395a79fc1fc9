package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const scope = "github.com/dgnsrekt/lectern"

// Instruments holds the metrics recorded by lectern. A nil *Instruments is
// valid and records nothing.
type Instruments struct {
	synthRequests  metric.Int64Counter
	synthLatency   metric.Float64Histogram
	synthCacheHits metric.Int64Counter
	framesSent     metric.Int64Counter
	segmentsRecv   metric.Int64Counter
}

// NewInstruments creates the instruments on mp. A nil mp uses the global
// meter provider.
func NewInstruments(mp metric.MeterProvider) (*Instruments, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(scope)

	var (
		in  Instruments
		err error
	)
	if in.synthRequests, err = meter.Int64Counter("lectern.synth.requests",
		metric.WithDescription("Speech synthesis requests by engine and outcome")); err != nil {
		return nil, err
	}
	if in.synthLatency, err = meter.Float64Histogram("lectern.synth.latency",
		metric.WithDescription("Speech synthesis latency"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if in.synthCacheHits, err = meter.Int64Counter("lectern.synth.cache_hits",
		metric.WithDescription("Chunks served from the audio cache")); err != nil {
		return nil, err
	}
	if in.framesSent, err = meter.Int64Counter("lectern.live.frames_sent",
		metric.WithDescription("Microphone frames sent on the live channel")); err != nil {
		return nil, err
	}
	if in.segmentsRecv, err = meter.Int64Counter("lectern.live.segments_received",
		metric.WithDescription("Audio segments received on the live channel")); err != nil {
		return nil, err
	}
	return &in, nil
}

// SynthRequest records one completed synthesis request.
func (in *Instruments) SynthRequest(ctx context.Context, engine string, elapsed time.Duration, err error) {
	if in == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("engine", engine),
		attribute.String("outcome", outcome),
	)
	in.synthRequests.Add(ctx, 1, attrs)
	in.synthLatency.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("engine", engine)))
}

// SynthCacheHit records a chunk served from cache.
func (in *Instruments) SynthCacheHit(ctx context.Context, engine string) {
	if in == nil {
		return
	}
	in.synthCacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("engine", engine)))
}

// FrameSent records one outbound live frame.
func (in *Instruments) FrameSent(ctx context.Context, transport string) {
	if in == nil {
		return
	}
	in.framesSent.Add(ctx, 1, metric.WithAttributes(attribute.String("transport", transport)))
}

// SegmentReceived records one inbound live segment.
func (in *Instruments) SegmentReceived(ctx context.Context, transport string) {
	if in == nil {
		return
	}
	in.segmentsRecv.Add(ctx, 1, metric.WithAttributes(attribute.String("transport", transport)))
}

// Tracer returns the lectern tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(scope)
}
