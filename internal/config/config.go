// Package config holds the lectern configuration file model.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/dgnsrekt/lectern/internal/assistant"
	"github.com/dgnsrekt/lectern/internal/audio"
	"github.com/dgnsrekt/lectern/internal/cache"
	"github.com/dgnsrekt/lectern/internal/chunk"
	"github.com/dgnsrekt/lectern/internal/live"
	"github.com/dgnsrekt/lectern/internal/playback"
	"github.com/dgnsrekt/lectern/internal/synth"
	"github.com/dgnsrekt/lectern/internal/telemetry"
	homedir "github.com/mitchellh/go-homedir"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/viper"
)

// AppName names the config file, the data directories and the env prefix.
const AppName = "lectern"

// Config contains all lectern configuration options.
type Config struct {
	Debug bool `mapstructure:"debug" yaml:"debug"`

	Narration NarrationConfig `mapstructure:"narration" yaml:"narration"`
	Gemini    GeminiConfig    `mapstructure:"gemini" yaml:"gemini"`
	Piper     PiperConfig     `mapstructure:"piper" yaml:"piper"`
	Polly     PollyConfig     `mapstructure:"polly" yaml:"polly"`
	Cache     CacheConfig     `mapstructure:"cache" yaml:"cache"`
	Library   LibraryConfig   `mapstructure:"library" yaml:"library"`
	Live      LiveConfig      `mapstructure:"live" yaml:"live"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
}

// NarrationConfig contains playback settings.
type NarrationConfig struct {
	WPM      int           `mapstructure:"wpm" yaml:"wpm"`
	Voice    string        `mapstructure:"voice" yaml:"voice"`
	Engine   string        `mapstructure:"engine" yaml:"engine"` // ai, local or polly
	MinWords int           `mapstructure:"min_words" yaml:"min_words"`
	MaxWords int           `mapstructure:"max_words" yaml:"max_words"`
	Tick     time.Duration `mapstructure:"tick" yaml:"tick"`
}

// GeminiConfig contains the remote model settings shared by synthesis, the
// assistant and live voice.
type GeminiConfig struct {
	APIKey            string        `mapstructure:"api_key" yaml:"api_key"`
	BaseURL           string        `mapstructure:"base_url" yaml:"base_url"`
	TTSModel          string        `mapstructure:"tts_model" yaml:"tts_model"`
	TextModel         string        `mapstructure:"text_model" yaml:"text_model"`
	LiveModel         string        `mapstructure:"live_model" yaml:"live_model"`
	LiveURL           string        `mapstructure:"live_url" yaml:"live_url"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// PiperConfig contains local voice settings.
type PiperConfig struct {
	Binary     string        `mapstructure:"binary" yaml:"binary"`
	Model      string        `mapstructure:"model" yaml:"model"`
	SampleRate int           `mapstructure:"sample_rate" yaml:"sample_rate"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// PollyConfig contains Amazon Polly settings. Credentials come from the
// standard AWS environment.
type PollyConfig struct {
	Region            string        `mapstructure:"region" yaml:"region"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// CacheConfig contains synthesized audio cache settings.
type CacheConfig struct {
	Dir              string `mapstructure:"dir" yaml:"dir"`
	MemoryMB         int    `mapstructure:"memory_mb" yaml:"memory_mb"`
	DiskMB           int    `mapstructure:"disk_mb" yaml:"disk_mb"`
	CompressionLevel int    `mapstructure:"compression_level" yaml:"compression_level"`
	TTLDays          int    `mapstructure:"ttl_days" yaml:"ttl_days"`
}

// LibraryConfig locates the document database.
type LibraryConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// LiveConfig contains live voice settings.
type LiveConfig struct {
	Transport    string     `mapstructure:"transport" yaml:"transport"` // gemini or nats
	ContextWords int        `mapstructure:"context_words" yaml:"context_words"`
	FrameSamples int        `mapstructure:"frame_samples" yaml:"frame_samples"`
	InputRate    int        `mapstructure:"input_rate" yaml:"input_rate"`
	OutputRate   int        `mapstructure:"output_rate" yaml:"output_rate"`
	Recorder     []string   `mapstructure:"recorder" yaml:"recorder"` // capture command, {rate} is substituted
	NATS         NATSConfig `mapstructure:"nats" yaml:"nats"`
}

// NATSConfig configures the NATS relay transport.
type NATSConfig struct {
	Servers       string        `mapstructure:"servers" yaml:"servers"`
	SubjectPrefix string        `mapstructure:"subject_prefix" yaml:"subject_prefix"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// TelemetryConfig selects the exporters.
type TelemetryConfig struct {
	MetricsAddr  string `mapstructure:"metrics_addr" yaml:"metrics_addr"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure" yaml:"otlp_insecure"`
	TraceStdout  bool   `mapstructure:"trace_stdout" yaml:"trace_stdout"`
}

// Default returns a Config with sensible defaults. Directories are left
// empty and resolved by Load.
func Default() Config {
	return Config{
		Narration: NarrationConfig{
			WPM:      playback.BaseWPM,
			Voice:    synth.DefaultVoice.String(),
			Engine:   string(synth.EngineAI),
			MinWords: chunk.DefaultMinWords,
			MaxWords: chunk.DefaultMaxWords,
			Tick:     playback.DefaultTick,
		},
		Gemini: GeminiConfig{
			BaseURL:           synth.DefaultBaseURL,
			TTSModel:          synth.DefaultTTSModel,
			TextModel:         assistant.DefaultModel,
			LiveModel:         live.DefaultLiveModel,
			LiveURL:           live.DefaultLiveURL,
			RequestsPerMinute: 60,
			Timeout:           30 * time.Second,
		},
		Piper: PiperConfig{
			Binary:     "piper",
			SampleRate: 22050,
			Timeout:    30 * time.Second,
		},
		Polly: PollyConfig{
			Region:            "us-east-1",
			RequestsPerMinute: 60,
			Timeout:           30 * time.Second,
		},
		Cache: CacheConfig{
			MemoryMB:         64,
			DiskMB:           512,
			CompressionLevel: 3,
			TTLDays:          7,
		},
		Live: LiveConfig{
			Transport:    "gemini",
			ContextWords: live.ContextWords,
			FrameSamples: live.FrameSamples,
			InputRate:    audio.CaptureSampleRate,
			OutputRate:   audio.OutputSampleRate,
			NATS: NATSConfig{
				Servers:       "nats://127.0.0.1:4222",
				SubjectPrefix: live.DefaultSubjectPrefix,
				Timeout:       5 * time.Second,
			},
		},
	}
}

// SetDefaults registers Default with v so that env overrides of keys absent
// from the config file are seen by Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("debug", d.Debug)

	v.SetDefault("narration.wpm", d.Narration.WPM)
	v.SetDefault("narration.voice", d.Narration.Voice)
	v.SetDefault("narration.engine", d.Narration.Engine)
	v.SetDefault("narration.min_words", d.Narration.MinWords)
	v.SetDefault("narration.max_words", d.Narration.MaxWords)
	v.SetDefault("narration.tick", d.Narration.Tick)

	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.base_url", d.Gemini.BaseURL)
	v.SetDefault("gemini.tts_model", d.Gemini.TTSModel)
	v.SetDefault("gemini.text_model", d.Gemini.TextModel)
	v.SetDefault("gemini.live_model", d.Gemini.LiveModel)
	v.SetDefault("gemini.live_url", d.Gemini.LiveURL)
	v.SetDefault("gemini.requests_per_minute", d.Gemini.RequestsPerMinute)
	v.SetDefault("gemini.timeout", d.Gemini.Timeout)

	v.SetDefault("piper.binary", d.Piper.Binary)
	v.SetDefault("piper.model", "")
	v.SetDefault("piper.sample_rate", d.Piper.SampleRate)
	v.SetDefault("piper.timeout", d.Piper.Timeout)

	v.SetDefault("polly.region", d.Polly.Region)
	v.SetDefault("polly.requests_per_minute", d.Polly.RequestsPerMinute)
	v.SetDefault("polly.timeout", d.Polly.Timeout)

	v.SetDefault("cache.dir", "")
	v.SetDefault("cache.memory_mb", d.Cache.MemoryMB)
	v.SetDefault("cache.disk_mb", d.Cache.DiskMB)
	v.SetDefault("cache.compression_level", d.Cache.CompressionLevel)
	v.SetDefault("cache.ttl_days", d.Cache.TTLDays)

	v.SetDefault("library.path", "")

	v.SetDefault("live.transport", d.Live.Transport)
	v.SetDefault("live.context_words", d.Live.ContextWords)
	v.SetDefault("live.frame_samples", d.Live.FrameSamples)
	v.SetDefault("live.input_rate", d.Live.InputRate)
	v.SetDefault("live.output_rate", d.Live.OutputRate)
	v.SetDefault("live.recorder", []string{})
	v.SetDefault("live.nats.servers", d.Live.NATS.Servers)
	v.SetDefault("live.nats.subject_prefix", d.Live.NATS.SubjectPrefix)
	v.SetDefault("live.nats.timeout", d.Live.NATS.Timeout)

	v.SetDefault("telemetry.metrics_addr", "")
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.otlp_insecure", false)
	v.SetDefault("telemetry.trace_stdout", false)
}

// secrets are read from the environment when the config file leaves them
// empty.
type secrets struct {
	GeminiAPIKey string `env:"GEMINI_API_KEY"`
	APIKey       string `env:"API_KEY"`
}

// Load unmarshals v over Default, applies environment fallbacks, resolves
// paths and validates the result.
func Load(v *viper.Viper) (Config, error) {
	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unable to decode configuration: %w", err)
	}
	if cfg.Gemini.APIKey == "" {
		s, err := env.ParseAs[secrets]()
		if err != nil {
			return Config{}, fmt.Errorf("unable to read environment: %w", err)
		}
		cfg.Gemini.APIKey = s.GeminiAPIKey
		if cfg.Gemini.APIKey == "" {
			cfg.Gemini.APIKey = s.APIKey
		}
	}
	if err := cfg.resolvePaths(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) resolvePaths() error {
	scope := gap.NewScope(gap.User, AppName)
	if c.Cache.Dir == "" {
		dir, err := scope.CacheDir()
		if err != nil {
			return fmt.Errorf("unable to find cache directory: %w", err)
		}
		c.Cache.Dir = filepath.Join(dir, "audio")
	}
	if c.Library.Path == "" {
		p, err := scope.DataPath("library.db")
		if err != nil {
			return fmt.Errorf("unable to find data directory: %w", err)
		}
		c.Library.Path = p
	}

	var err error
	for _, p := range []*string{&c.Cache.Dir, &c.Library.Path, &c.Piper.Model} {
		if *p == "" {
			continue
		}
		if *p, err = homedir.Expand(*p); err != nil {
			return fmt.Errorf("unable to expand %q: %w", *p, err)
		}
	}
	return nil
}

// Validate checks if the configuration is valid. WPM is clamped rather than
// rejected.
func (c *Config) Validate() error {
	c.Narration.WPM = playback.ClampWPM(c.Narration.WPM)
	if _, err := synth.ParseVoice(c.Narration.Voice); err != nil {
		return fmt.Errorf("narration: %w", err)
	}
	engine, err := synth.ParseEngine(c.Narration.Engine)
	if err != nil {
		return fmt.Errorf("narration: %w", err)
	}
	c.Narration.Engine = string(engine)
	if c.Narration.MinWords < 1 {
		return fmt.Errorf("narration min_words must be at least 1, got %d", c.Narration.MinWords)
	}
	if c.Narration.MaxWords < c.Narration.MinWords {
		return fmt.Errorf("narration max_words (%d) must not be below min_words (%d)",
			c.Narration.MaxWords, c.Narration.MinWords)
	}
	if c.Narration.Tick < time.Millisecond || c.Narration.Tick > time.Second {
		return fmt.Errorf("narration tick must be between 1ms and 1s, got %v", c.Narration.Tick)
	}

	if c.Gemini.RequestsPerMinute < 1 {
		return fmt.Errorf("gemini requests_per_minute must be positive, got %d", c.Gemini.RequestsPerMinute)
	}
	if c.Gemini.Timeout < time.Second {
		return fmt.Errorf("gemini timeout must be at least 1 second, got %v", c.Gemini.Timeout)
	}

	if engine == synth.EngineLocal && c.Piper.Model == "" {
		return fmt.Errorf("piper model is required for the local engine")
	}
	if engine == synth.EnginePolly && c.Polly.Region == "" {
		return fmt.Errorf("polly region is required for the polly engine")
	}

	if c.Cache.MemoryMB < 0 || c.Cache.DiskMB < 0 {
		return fmt.Errorf("cache sizes must not be negative")
	}
	if c.Cache.CompressionLevel < 0 || c.Cache.CompressionLevel > 22 {
		return fmt.Errorf("cache compression_level must be between 0 and 22, got %d", c.Cache.CompressionLevel)
	}

	c.Live.Transport = strings.ToLower(strings.TrimSpace(c.Live.Transport))
	switch c.Live.Transport {
	case "gemini", "nats":
	default:
		return fmt.Errorf("invalid live transport %q: must be gemini or nats", c.Live.Transport)
	}
	if c.Live.ContextWords < 1 || c.Live.FrameSamples < 1 {
		return fmt.Errorf("live context_words and frame_samples must be positive")
	}
	return nil
}

// Settings returns the scheduler settings. Validate must have succeeded.
func (c Config) Settings() playback.Settings {
	voice, _ := synth.ParseVoice(c.Narration.Voice)
	engine, _ := synth.ParseEngine(c.Narration.Engine)
	return playback.Settings{
		WPM:      c.Narration.WPM,
		Voice:    voice,
		Engine:   engine,
		MinWords: c.Narration.MinWords,
		MaxWords: c.Narration.MaxWords,
		Tick:     c.Narration.Tick,
	}
}

// Synth returns the synthesis engine configuration.
func (c Config) Synth() synth.Config {
	engine, _ := synth.ParseEngine(c.Narration.Engine)
	return synth.Config{
		Engine: engine,
		Gemini: synth.GeminiConfig{
			APIKey:            c.Gemini.APIKey,
			BaseURL:           c.Gemini.BaseURL,
			Model:             c.Gemini.TTSModel,
			RequestsPerMinute: c.Gemini.RequestsPerMinute,
			Timeout:           c.Gemini.Timeout,
		},
		Piper: synth.PiperConfig{
			Binary:     c.Piper.Binary,
			Model:      c.Piper.Model,
			SampleRate: c.Piper.SampleRate,
			Timeout:    c.Piper.Timeout,
		},
		Polly: synth.PollyConfig{
			Region:            c.Polly.Region,
			RequestsPerMinute: c.Polly.RequestsPerMinute,
			Timeout:           c.Polly.Timeout,
		},
	}
}

// AudioCache returns the audio cache configuration.
func (c Config) AudioCache() cache.Config {
	cc := cache.DefaultConfig()
	cc.Dir = c.Cache.Dir
	cc.MemoryCapacity = int64(c.Cache.MemoryMB) << 20
	cc.DiskCapacity = int64(c.Cache.DiskMB) << 20
	cc.CompressionLevel = c.Cache.CompressionLevel
	cc.TTL = time.Duration(c.Cache.TTLDays) * 24 * time.Hour
	return cc
}

// Assistant returns the text model client configuration.
func (c Config) Assistant() assistant.Config {
	return assistant.Config{
		APIKey:            c.Gemini.APIKey,
		BaseURL:           c.Gemini.BaseURL,
		Model:             c.Gemini.TextModel,
		RequestsPerMinute: c.Gemini.RequestsPerMinute,
		Timeout:           c.Gemini.Timeout,
	}
}

// GeminiLive returns the Gemini live channel configuration.
func (c Config) GeminiLive(voice string) live.GeminiConfig {
	return live.GeminiConfig{
		APIKey: c.Gemini.APIKey,
		URL:    c.Gemini.LiveURL,
		Model:  c.Gemini.LiveModel,
		Voice:  voice,
	}
}

// LiveNATS returns the NATS relay configuration.
func (c Config) LiveNATS() live.NATSConfig {
	return live.NATSConfig{
		URL:     c.Live.NATS.Servers,
		Prefix:  c.Live.NATS.SubjectPrefix,
		Timeout: c.Live.NATS.Timeout,
	}
}

// Exporters returns the telemetry exporter configuration.
func (c Config) Exporters() telemetry.Config {
	return telemetry.Config{
		ServiceName:  AppName,
		MetricsAddr:  c.Telemetry.MetricsAddr,
		OTLPEndpoint: c.Telemetry.OTLPEndpoint,
		OTLPInsecure: c.Telemetry.OTLPInsecure,
		TraceStdout:  c.Telemetry.TraceStdout,
	}
}
