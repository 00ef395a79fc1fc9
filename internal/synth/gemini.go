package synth

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

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
	DefaultBaseURL  = "https://generativelanguage.googleapis.com/v1beta"
	DefaultTTSModel = "gemini-2.5-flash-preview-tts"

	// maxTextSize bounds one request; chunks are far below it.
	maxTextSize = 5000
)

// GeminiConfig configures remote synthesis.
type GeminiConfig struct {
	APIKey            string
	BaseURL           string
	Model             string
	RequestsPerMinute int
	Timeout           time.Duration
	HTTPClient        *http.Client
}

// Gemini synthesizes speech with the Gemini generateContent API.
type Gemini struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
	limiter *rate.Limiter
	options
}

var _ Synthesizer = (*Gemini)(nil)

// NewGemini creates a remote synthesizer.
func NewGemini(cfg GeminiConfig, opts ...Option) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fault.Invalid(component, "new gemini", "api key is required (set gemini.api_key or GEMINI_API_KEY)")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultTTSModel
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 60
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	return &Gemini{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		client:  client,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1),
		options: buildOptions(opts),
	}, nil
}

type ttsRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generationConfig struct {
	ResponseModalities []string     `json:"responseModalities"`
	SpeechConfig       speechConfig `json:"speechConfig"`
}

type speechConfig struct {
	VoiceConfig struct {
		PrebuiltVoiceConfig struct {
			VoiceName string `json:"voiceName"`
		} `json:"prebuiltVoiceConfig"`
	} `json:"voiceConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// Synthesize returns 24 kHz mono audio for text spoken by voice.
func (g *Gemini) Synthesize(ctx context.Context, text string, voice Voice) (*audio.Buffer, error) {
	const op = "synthesize"
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fault.Invalid(component, op, "text cannot be empty")
	}
	if len(text) > maxTextSize {
		return nil, fault.Invalid(component, op, "text too long: %d characters (max %d)", len(text), maxTextSize)
	}

	key := cache.Key(text, voice.String(), string(EngineAI))
	if g.cache != nil {
		if pcm, ok := g.cache.Get(key); ok {
			if buf, err := decode(op, pcm, audio.OutputSampleRate); err == nil {
				g.metrics.SynthCacheHit(ctx, string(EngineAI))
				return buf, nil
			}
		}
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, requestError("rate limit", err)
	}

	ctx, span := telemetry.Tracer().Start(ctx, "synth.gemini",
		trace.WithAttributes(
			attribute.String("voice", voice.String()),
			attribute.Int("chars", len(text)),
		))
	defer span.End()

	started := time.Now()
	pcm, sampleRate, err := g.request(ctx, text, voice)
	g.metrics.SynthRequest(ctx, string(EngineAI), time.Since(started), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	buf, err := decode(op, pcm, sampleRate)
	if err != nil {
		return nil, err
	}
	if g.cache != nil && sampleRate == audio.OutputSampleRate {
		if err := g.cache.Put(key, pcm); err != nil {
			g.logger.Warn("Cache write failed", "err", err)
		}
	}

	g.logger.Debug("Synthesized chunk", "chars", len(text), "bytes", len(pcm), "duration", buf.Duration())
	return buf, nil
}

func (g *Gemini) request(ctx context.Context, text string, voice Voice) ([]byte, int, error) {
	const op = "generate"

	reqBody := ttsRequest{
		Contents: []content{{Parts: []part{{Text: text}}}},
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"AUDIO"},
		},
	}
	reqBody.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName = voice.String()

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, g.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fault.Invalid(component, op, "build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, 0, requestError(op, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, 0, fault.Network(component, op,
			fmt.Errorf("status %d, body: %s", resp.StatusCode, strings.TrimSpace(string(msg)))).
			WithContext("status", resp.StatusCode)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, 0, requestError(op, err)
		}
		return nil, 0, fault.Malformed(component, op, fmt.Errorf("parse response: %w", err))
	}

	data := firstInlineData(out)
	if data == nil || data.Data == "" {
		return nil, 0, fault.Malformed(component, op, fault.ErrNoAudio)
	}

	pcm, err := base64.StdEncoding.DecodeString(data.Data)
	if err != nil {
		return nil, 0, fault.Malformed(component, op, fmt.Errorf("decode base64 audio: %w", err))
	}
	return pcm, sampleRateFromMime(data.MimeType), nil
}

func firstInlineData(resp generateResponse) *inlineData {
	for _, c := range resp.Candidates {
		for _, p := range c.Content.Parts {
			if p.InlineData != nil {
				return p.InlineData
			}
		}
	}
	return nil
}

// sampleRateFromMime reads the rate parameter of a mime type such as
// "audio/L16;codec=pcm;rate=24000".
func sampleRateFromMime(mime string) int {
	for _, param := range strings.Split(mime, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(param), "=")
		if ok && strings.EqualFold(k, "rate") {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				return n
			}
		}
	}
	return audio.OutputSampleRate
}
