package playback

import (
	"fmt"
	"strings"
	"time"

	"github.com/dgnsrekt/lectern/internal/chunk"
	"github.com/dgnsrekt/lectern/internal/synth"
)

const (
	// BaseWPM is the speaking rate of synthesized audio at rate 1.0.
	BaseWPM = 180
	MinWPM  = 50
	MaxWPM  = 600

	// DefaultTick is the highlight update interval.
	DefaultTick = 50 * time.Millisecond
)

// Settings are read once when a scheduler is created. Later changes go
// through SetWPM and SetVoice.
type Settings struct {
	WPM      int
	Voice    synth.Voice
	Engine   synth.Engine
	MinWords int
	MaxWords int
	Tick     time.Duration
}

// DefaultSettings returns the standard preset with the default voice.
func DefaultSettings() Settings {
	return Settings{
		WPM:      BaseWPM,
		Voice:    synth.DefaultVoice,
		Engine:   synth.EngineAI,
		MinWords: chunk.DefaultMinWords,
		MaxWords: chunk.DefaultMaxWords,
		Tick:     DefaultTick,
	}
}

// ClampWPM bounds wpm to [MinWPM, MaxWPM].
func ClampWPM(wpm int) int {
	return max(MinWPM, min(wpm, MaxWPM))
}

// Rate returns the playback rate multiplier for the configured WPM.
func (s Settings) Rate() float64 {
	return RateForWPM(s.WPM)
}

// RateForWPM converts a words-per-minute setting into a playback rate.
func RateForWPM(wpm int) float64 {
	return float64(ClampWPM(wpm)) / BaseWPM
}

func (s Settings) normalized() Settings {
	s.WPM = ClampWPM(s.WPM)
	if s.Tick <= 0 {
		s.Tick = DefaultTick
	}
	if s.MaxWords <= 0 {
		s.MaxWords = chunk.DefaultMaxWords
	}
	if s.MinWords <= 0 {
		s.MinWords = chunk.DefaultMinWords
	}
	return s
}

// Preset is a named reading speed.
type Preset struct {
	Name string
	WPM  int
}

var (
	Relaxed  = Preset{Name: "relaxed", WPM: 130}
	Standard = Preset{Name: "standard", WPM: 180}
	Speed    = Preset{Name: "speed", WPM: 250}
)

// Presets returns the presets from slowest to fastest.
func Presets() []Preset {
	return []Preset{Relaxed, Standard, Speed}
}

// ParsePreset finds a preset by name.
func ParsePreset(name string) (Preset, error) {
	for _, p := range Presets() {
		if strings.EqualFold(p.Name, strings.TrimSpace(name)) {
			return p, nil
		}
	}
	return Preset{}, fmt.Errorf("unknown preset %q (want relaxed, standard or speed)", name)
}
