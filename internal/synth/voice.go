package synth

import (
	"fmt"
	"strings"
)

// Voice is a prebuilt narration voice.
type Voice int

const (
	Puck Voice = iota
	Charon
	Kore
	Fenrir
	Zephyr
)

// DefaultVoice is used when none is configured.
const DefaultVoice = Puck

var voiceNames = [...]string{
	Puck:   "Puck",
	Charon: "Charon",
	Kore:   "Kore",
	Fenrir: "Fenrir",
	Zephyr: "Zephyr",
}

func (v Voice) String() string {
	if v < 0 || int(v) >= len(voiceNames) {
		return fmt.Sprintf("Voice(%d)", int(v))
	}
	return voiceNames[v]
}

// Next cycles to the following voice.
func (v Voice) Next() Voice {
	return Voice((int(v) + 1) % len(voiceNames))
}

// Voices returns every voice in display order.
func Voices() []Voice {
	out := make([]Voice, len(voiceNames))
	for i := range out {
		out[i] = Voice(i)
	}
	return out
}

// ParseVoice matches a voice name case-insensitively.
func ParseVoice(s string) (Voice, error) {
	for i, name := range voiceNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return Voice(i), nil
		}
	}
	return DefaultVoice, fmt.Errorf("unknown voice %q", s)
}

// Engine selects where narration is synthesized.
type Engine string

const (
	// EngineAI uses remote synthesis.
	EngineAI Engine = "ai"
	// EngineLocal uses the on-device piper voice.
	EngineLocal Engine = "local"
	// EnginePolly uses Amazon Polly.
	EnginePolly Engine = "polly"
)

// ParseEngine validates an engine name.
func ParseEngine(s string) (Engine, error) {
	switch e := Engine(strings.ToLower(strings.TrimSpace(s))); e {
	case EngineAI, EngineLocal, EnginePolly:
		return e, nil
	case "":
		return EngineAI, nil
	default:
		return EngineAI, fmt.Errorf("unknown engine %q (want ai, local or polly)", s)
	}
}
