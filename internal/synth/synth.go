// Package synth turns chunk text into decoded narration audio.
//
// Three engines are provided: Gemini, which calls the remote speech model
// over HTTP, Piper, which runs a local voice as a subprocess, and Polly, which
// uses Amazon's neural voices. All of them consult the audio cache before
// doing any work and never retry a failed request.
package synth

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/lectern/internal/audio"
	"github.com/dgnsrekt/lectern/internal/fault"
	"github.com/dgnsrekt/lectern/internal/telemetry"
)

const component = "synth"

// Synthesizer produces audio for one chunk of text. Failures are reported as
// *fault.Error with a nil buffer.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, voice Voice) (*audio.Buffer, error)
}

// Func adapts a function to Synthesizer.
type Func func(ctx context.Context, text string, voice Voice) (*audio.Buffer, error)

func (f Func) Synthesize(ctx context.Context, text string, voice Voice) (*audio.Buffer, error) {
	return f(ctx, text, voice)
}

// Cache is the subset of the audio cache used by the engines.
type Cache interface {
	Get(key string) ([]byte, bool)
	Put(key string, value []byte) error
}

// Config selects and configures an engine.
type Config struct {
	Engine Engine
	Gemini GeminiConfig
	Piper  PiperConfig
	Polly  PollyConfig
}

type options struct {
	cache   Cache
	metrics *telemetry.Instruments
	logger  *log.Logger
}

// Option configures an engine.
type Option func(*options)

// WithCache enables caching of synthesized PCM.
func WithCache(c Cache) Option {
	return func(o *options) { o.cache = c }
}

// WithInstruments records request metrics.
func WithInstruments(in *telemetry.Instruments) Option {
	return func(o *options) { o.metrics = in }
}

// WithLogger sets the logger. The default is log.Default().
func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{logger: log.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.WithPrefix(component)
	return o
}

// New creates the engine named by cfg.Engine.
func New(ctx context.Context, cfg Config, opts ...Option) (Synthesizer, error) {
	switch cfg.Engine {
	case EngineAI, "":
		return NewGemini(cfg.Gemini, opts...)
	case EngineLocal:
		return NewPiper(cfg.Piper, opts...)
	case EnginePolly:
		return NewPolly(ctx, cfg.Polly, opts...)
	default:
		return nil, fault.Invalid(component, "new", "unknown engine %q", cfg.Engine)
	}
}

// requestError classifies a transport or context failure.
func requestError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fault.New(fault.UserCancellation, component, op, err)
	}
	return fault.Network(component, op, err)
}

func decode(op string, pcm []byte, rate int) (*audio.Buffer, error) {
	buf, err := audio.DecodePCM16(pcm, rate)
	if err != nil {
		return nil, fault.Malformed(component, op, fmt.Errorf("decode audio: %w", err))
	}
	return buf, nil
}
