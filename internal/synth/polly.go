package synth

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/dgnsrekt/lectern/internal/audio"
	"github.com/dgnsrekt/lectern/internal/cache"
	"github.com/dgnsrekt/lectern/internal/fault"
	"github.com/dgnsrekt/lectern/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const (
	// pollySampleRate is the highest rate Polly offers for raw PCM.
	pollySampleRate = 16000
	// maxPollyText is the request limit for plain text.
	maxPollyText = 3000
)

// pollyVoices maps the narration voices onto neural Polly voices.
var pollyVoices = map[Voice]types.VoiceId{
	Puck:   types.VoiceIdMatthew,
	Charon: types.VoiceIdStephen,
	Kore:   types.VoiceIdJoanna,
	Fenrir: types.VoiceIdGregory,
	Zephyr: types.VoiceIdRuth,
}

// PollyVoice returns the Polly voice used for v.
func PollyVoice(v Voice) types.VoiceId {
	if id, ok := pollyVoices[v]; ok {
		return id
	}
	return pollyVoices[DefaultVoice]
}

// PollyAPI is the part of the Polly client the engine uses.
type PollyAPI interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

// PollyConfig configures Amazon Polly synthesis. Credentials come from the
// usual AWS environment, shared config or instance role.
type PollyConfig struct {
	Region            string
	RequestsPerMinute int
	Timeout           time.Duration
	Client            PollyAPI // overrides the SDK client, for tests
}

// Polly synthesizes speech with Amazon Polly's neural voices.
type Polly struct {
	client  PollyAPI
	timeout time.Duration
	limiter *rate.Limiter
	options
}

var _ Synthesizer = (*Polly)(nil)

// NewPolly creates a Polly synthesizer.
func NewPolly(ctx context.Context, cfg PollyConfig, opts ...Option) (*Polly, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 60
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	client := cfg.Client
	if client == nil {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fault.New(fault.ResourceAcquisition, component, "new polly", fmt.Errorf("load AWS config: %w", err))
		}
		client = polly.NewFromConfig(awsCfg)
	}

	return &Polly{
		client:  client,
		timeout: cfg.Timeout,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1),
		options: buildOptions(opts),
	}, nil
}

// Synthesize returns 16 kHz mono audio for text spoken by the Polly voice
// mapped from voice.
func (p *Polly) Synthesize(ctx context.Context, text string, voice Voice) (*audio.Buffer, error) {
	const op = "synthesize"
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fault.Invalid(component, op, "text cannot be empty")
	}
	if len(text) > maxPollyText {
		return nil, fault.Invalid(component, op, "text too long: %d characters (max %d)", len(text), maxPollyText)
	}

	voiceID := PollyVoice(voice)
	key := cache.Key(text, string(voiceID), string(EnginePolly))
	if p.cache != nil {
		if pcm, ok := p.cache.Get(key); ok {
			if buf, err := decode(op, pcm, pollySampleRate); err == nil {
				p.metrics.SynthCacheHit(ctx, string(EnginePolly))
				return buf, nil
			}
		}
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, requestError("rate limit", err)
	}

	ctx, span := telemetry.Tracer().Start(ctx, "synth.polly",
		trace.WithAttributes(
			attribute.String("voice", string(voiceID)),
			attribute.Int("chars", len(text)),
		))
	defer span.End()

	started := time.Now()
	pcm, err := p.request(ctx, text, voiceID)
	p.metrics.SynthRequest(ctx, string(EnginePolly), time.Since(started), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	buf, err := decode(op, pcm, pollySampleRate)
	if err != nil {
		return nil, err
	}
	if p.cache != nil {
		if err := p.cache.Put(key, pcm); err != nil {
			p.logger.Warn("Cache write failed", "err", err)
		}
	}
	p.logger.Debug("Synthesized chunk", "engine", "polly", "voice", voiceID, "bytes", len(pcm))
	return buf, nil
}

func (p *Polly) request(ctx context.Context, text string, voiceID types.VoiceId) ([]byte, error) {
	const op = "synthesize speech"

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	out, err := p.client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		Text:         aws.String(text),
		VoiceId:      voiceID,
		Engine:       types.EngineNeural,
		OutputFormat: types.OutputFormatPcm,
		SampleRate:   aws.String(fmt.Sprint(pollySampleRate)),
	})
	if err != nil {
		return nil, requestError(op, err)
	}
	if out.AudioStream == nil {
		return nil, fault.Malformed(component, op, fault.ErrNoAudio)
	}
	defer out.AudioStream.Close() //nolint:errcheck

	pcm, err := io.ReadAll(out.AudioStream)
	if err != nil {
		return nil, requestError(op, err)
	}
	if len(pcm) == 0 {
		return nil, fault.Malformed(component, op, fault.ErrNoAudio)
	}
	return pcm, nil
}
