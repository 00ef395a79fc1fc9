package synth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgnsrekt/lectern/internal/audio"
	"github.com/dgnsrekt/lectern/internal/cache"
	"github.com/dgnsrekt/lectern/internal/fault"
	"github.com/dgnsrekt/lectern/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// maxPiperOutput bounds the raw audio read from one piper run.
const maxPiperOutput = 10 * 1024 * 1024

// PiperConfig configures the local voice.
type PiperConfig struct {
	Binary     string // defaults to "piper" on PATH
	Model      string // .onnx voice model, required
	ConfigPath string // defaults to the model path with a .json extension
	SampleRate int    // model output rate, defaults to 22050
	Timeout    time.Duration
}

// Piper synthesizes speech with a local piper process per chunk. The voice
// argument is ignored; the model determines the voice.
type Piper struct {
	binary     string
	model      string
	configPath string
	sampleRate int
	timeout    time.Duration
	options
}

var _ Synthesizer = (*Piper)(nil)

// NewPiper creates a local synthesizer.
func NewPiper(cfg PiperConfig, opts ...Option) (*Piper, error) {
	if cfg.Model == "" {
		return nil, fault.Invalid(component, "new piper", "model path is required (set piper.model)")
	}
	if _, err := os.Stat(cfg.Model); err != nil {
		return nil, fault.New(fault.ResourceAcquisition, component, "new piper", fmt.Errorf("model file not found: %w", err))
	}
	if cfg.Binary == "" {
		cfg.Binary = "piper"
	}
	if cfg.ConfigPath == "" {
		cfg.ConfigPath = strings.TrimSuffix(cfg.Model, filepath.Ext(cfg.Model)) + ".json"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 22050
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &Piper{
		binary:     cfg.Binary,
		model:      cfg.Model,
		configPath: cfg.ConfigPath,
		sampleRate: cfg.SampleRate,
		timeout:    cfg.Timeout,
		options:    buildOptions(opts),
	}, nil
}

// Synthesize runs piper on text and returns its raw output.
func (p *Piper) Synthesize(ctx context.Context, text string, _ Voice) (*audio.Buffer, error) {
	const op = "synthesize"
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fault.Invalid(component, op, "text cannot be empty")
	}

	key := cache.Key(text, filepath.Base(p.model), string(EngineLocal))
	if p.cache != nil {
		if pcm, ok := p.cache.Get(key); ok {
			if buf, err := decode(op, pcm, p.sampleRate); err == nil {
				p.metrics.SynthCacheHit(ctx, string(EngineLocal))
				return buf, nil
			}
		}
	}

	ctx, span := telemetry.Tracer().Start(ctx, "synth.piper",
		trace.WithAttributes(attribute.Int("chars", len(text))))
	defer span.End()

	started := time.Now()
	pcm, err := p.run(ctx, text)
	p.metrics.SynthRequest(ctx, string(EngineLocal), time.Since(started), err)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	buf, err := decode(op, pcm, p.sampleRate)
	if err != nil {
		return nil, err
	}
	if p.cache != nil {
		if err := p.cache.Put(key, pcm); err != nil {
			p.logger.Warn("Cache write failed", "err", err)
		}
	}
	return buf, nil
}

func (p *Piper) run(ctx context.Context, text string) ([]byte, error) {
	const op = "run piper"

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{"--model", p.model, "--output-raw"}
	if _, err := os.Stat(p.configPath); err == nil {
		args = append(args, "--config", p.configPath)
	}

	cmd := exec.CommandContext(ctx, p.binary, args...)
	// Text goes in up front so piper never races us for stdin.
	cmd.Stdin = strings.NewReader(text)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Interrupt first, then kill if piper has not exited.
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = 100 * time.Millisecond

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				return nil, fault.New(fault.ResourceAcquisition, component, op,
					fmt.Errorf("timeout after %s: %w", p.timeout, ctxErr))
			}
			return nil, requestError(op, ctxErr)
		}
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return nil, fault.New(fault.ResourceAcquisition, component, op, err)
		}
		return nil, fault.New(fault.ResourceAcquisition, component, op,
			fmt.Errorf("%w, stderr: %s", err, strings.TrimSpace(stderr.String())))
	}

	if stdout.Len() == 0 {
		return nil, fault.Malformed(component, op, fault.ErrNoAudio)
	}
	if stdout.Len() > maxPiperOutput {
		return nil, fault.Malformed(component, op,
			fmt.Errorf("output too large: %d bytes (max %d)", stdout.Len(), maxPiperOutput))
	}
	return stdout.Bytes(), nil
}
