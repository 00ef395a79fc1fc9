package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/lectern/internal/assistant"
	"github.com/dgnsrekt/lectern/internal/audio"
	"github.com/dgnsrekt/lectern/internal/cache"
	"github.com/dgnsrekt/lectern/internal/config"
	"github.com/dgnsrekt/lectern/internal/document"
	"github.com/dgnsrekt/lectern/internal/library"
	"github.com/dgnsrekt/lectern/internal/live"
	"github.com/dgnsrekt/lectern/internal/reader"
	"github.com/dgnsrekt/lectern/internal/synth"
	"github.com/dgnsrekt/lectern/internal/telemetry"
	"github.com/muesli/gitcha"
)

// app holds the long-lived resources shared by the commands.
type app struct {
	library   *library.Store
	cache     *cache.Manager
	synth     synth.Synthesizer
	output    audio.Output
	assistant *assistant.Client
	metrics   *telemetry.Instruments

	closers []func() error
}

// openApp opens everything the reader needs: telemetry, the library, the
// audio cache, the synthesizer and the assistant. Optional parts that fail
// are logged and left out.
func openApp(ctx context.Context, cfg config.Config) (*app, error) {
	a, err := openLibrary(ctx, cfg)
	if err != nil {
		return nil, err
	}

	tc := cfg.Exporters()
	tc.Version = Version
	tc.TraceWriter = logFile
	shutdown, handler, err := telemetry.Setup(ctx, tc, log.Default())
	if err != nil {
		log.Warn("Telemetry disabled", "error", err)
	} else {
		a.closers = append(a.closers, func() error { return shutdown(context.Background()) })
		go func() {
			if err := telemetry.Serve(ctx, tc.MetricsAddr, handler, log.Default()); err != nil {
				log.Error("Metrics listener stopped", "addr", tc.MetricsAddr, "error", err)
			}
		}()
	}
	if a.metrics, err = telemetry.NewInstruments(nil); err != nil {
		log.Warn("Metrics disabled", "error", err)
	}

	a.openCache(cfg)
	opts := []synth.Option{synth.WithInstruments(a.metrics), synth.WithLogger(log.Default())}
	if a.cache != nil {
		opts = append(opts, synth.WithCache(a.cache))
	}
	if a.synth, err = synth.New(ctx, cfg.Synth(), opts...); err != nil {
		a.Close() //nolint:errcheck
		return nil, fmt.Errorf("unable to create synthesizer: %w", err)
	}

	a.openAssistant(cfg)
	return a, nil
}

// openLibrary opens only the document library.
func openLibrary(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{}
	var err error
	if a.library, err = library.Open(ctx, cfg.Library.Path, log.Default()); err != nil {
		return nil, fmt.Errorf("unable to open library: %w", err)
	}
	a.closers = append(a.closers, a.library.Close)
	return a, nil
}

func (a *app) openCache(cfg config.Config) {
	m, err := cache.NewManager(cfg.AudioCache(), log.Default())
	if err != nil {
		log.Warn("Audio cache disabled", "dir", cfg.Cache.Dir, "error", err)
		return
	}
	a.cache = m
	a.closers = append(a.closers, m.Close)
}

func (a *app) openAssistant(cfg config.Config) {
	c, err := assistant.New(withLogger(cfg.Assistant()))
	if err != nil {
		log.Info("Assistant disabled", "reason", err)
		return
	}
	a.assistant = c
}

func withLogger(c assistant.Config) assistant.Config {
	c.Logger = log.Default()
	return c
}

// openOutput opens the audio device. Without one, narration and live voice
// run against a silent clock so the reader stays usable.
func (a *app) openOutput() {
	if a.output != nil {
		return
	}
	dev, err := audio.NewDevice(audio.DefaultDeviceConfig(), log.Default())
	if err != nil {
		log.Warn("No audio device, playing silently", "error", err)
		silent := audio.NewSilentOutput()
		a.output = silent
		a.closers = append(a.closers, silent.Close)
		return
	}
	a.output = dev
	a.closers = append(a.closers, dev.Close)
}

// assistantOrNil keeps a missing client a nil interface.
func (a *app) assistantOrNil() reader.Assistant {
	if a.assistant == nil {
		return nil
	}
	return a.assistant
}

// liveSession builds the live voice session for the configured transport,
// or returns nil when it cannot be set up.
func (a *app) liveSession(cfg config.Config) *live.Session {
	var dial live.Dialer
	switch cfg.Live.Transport {
	case "nats":
		nc := cfg.LiveNATS()
		nc.Logger = log.Default()
		conn, err := live.ConnectNATS(nc)
		if err != nil {
			log.Warn("Live voice disabled", "transport", "nats", "error", err)
			return nil
		}
		a.closers = append(a.closers, conn.Drain)
		dial = live.DialNATS(conn, nc)
	default:
		if cfg.Gemini.APIKey == "" {
			log.Info("Live voice disabled", "reason", "no API key")
			return nil
		}
		gc := cfg.GeminiLive(cfg.Settings().Voice.String())
		gc.Logger = log.Default()
		dial = live.DialGemini(gc)
	}

	mic := live.ArecordMicrophone()
	if len(cfg.Live.Recorder) > 0 {
		mic = live.NewCommandMicrophone(cfg.Live.Recorder[0], cfg.Live.Recorder[1:]...)
	}

	s := live.NewSession(live.Config{
		Dial:         dial,
		Microphone:   mic,
		Output:       a.output,
		FrameSamples: cfg.Live.FrameSamples,
		InputRate:    cfg.Live.InputRate,
		OutputRate:   cfg.Live.OutputRate,
		Transport:    cfg.Live.Transport,
		Metrics:      a.metrics,
		Logger:       log.Default(),
	})
	a.closers = append(a.closers, func() error {
		s.Close()
		return nil
	})
	return s
}

// open resolves arg to a library record and its document. A path to a file
// is imported on first use, anything else is taken as a record ID. Without
// an argument the most recently read record is opened.
func (a *app) open(ctx context.Context, arg string) (library.Record, document.Document, error) {
	rec, err := a.resolve(ctx, arg)
	if err != nil {
		return library.Record{}, document.Document{}, err
	}

	if rec.Path != "" {
		doc, content, err := document.Load(rec.Path)
		switch {
		case err != nil:
			log.Warn("Source file unavailable, using the library copy", "path", rec.Path, "error", err)
			rec.Path = ""
		case content != rec.Content:
			if err := a.library.UpdateContent(ctx, rec.ID, content); err != nil {
				return library.Record{}, document.Document{}, err
			}
			rec.Content = content
			return rec, doc, a.library.Touch(ctx, rec.ID)
		default:
			return rec, doc, a.library.Touch(ctx, rec.ID)
		}
	}
	return rec, document.Tokenize(rec.Content), a.library.Touch(ctx, rec.ID)
}

func (a *app) resolve(ctx context.Context, arg string) (library.Record, error) {
	if arg == "" {
		recs, err := a.library.List(ctx)
		if err != nil {
			return library.Record{}, err
		}
		if len(recs) == 0 {
			return library.Record{}, errors.New("the library is empty: pass a text file to start reading")
		}
		return a.library.Get(ctx, recs[0].ID)
	}

	if st, err := os.Stat(arg); err == nil {
		if st.IsDir() {
			return library.Record{}, fmt.Errorf("%s is a directory", arg)
		}
		abs, err := filepath.Abs(arg)
		if err != nil {
			return library.Record{}, fmt.Errorf("unable to get absolute path: %w", err)
		}
		return a.library.Import(ctx, abs)
	}

	rec, err := a.library.Get(ctx, arg)
	if !errors.Is(err, library.ErrNotFound) {
		return rec, err
	}

	// Fall back to a unique ID prefix as printed by the library command.
	recs, err := a.library.List(ctx)
	if err != nil {
		return library.Record{}, err
	}
	var found []library.Record
	for _, r := range recs {
		if strings.HasPrefix(r.ID, arg) {
			found = append(found, r)
		}
	}
	switch len(found) {
	case 0:
		return library.Record{}, fmt.Errorf("%q is neither a file nor a library ID", arg)
	case 1:
		return a.library.Get(ctx, found[0].ID)
	default:
		return library.Record{}, fmt.Errorf("%q matches %d documents", arg, len(found))
	}
}

// importPath imports a file, or every text and markdown file under a
// directory that git would not ignore.
func (a *app) importPath(ctx context.Context, path string) ([]library.Record, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("unable to import: %w", err)
	}
	if !st.IsDir() {
		rec, err := a.resolve(ctx, path)
		if err != nil {
			return nil, err
		}
		return []library.Record{rec}, nil
	}

	ch, err := gitcha.FindFilesExcept(path, document.Extensions, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to search %s: %w", path, err)
	}
	var recs []library.Record
	for res := range ch {
		rec, err := a.library.Import(ctx, res.Path)
		if err != nil {
			log.Warn("Skipping file", "path", res.Path, "error", err)
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Close releases everything in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
