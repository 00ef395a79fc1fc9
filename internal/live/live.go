// Package live runs a spoken conversation about the passage being read.
//
// A Session captures the microphone, streams it over a duplex Channel, and
// plays the spoken replies back to back on the audio output. Two channels
// are provided: the Gemini Live websocket API, and a NATS relay to a
// self-hosted voice gateway.
package live

import (
	"context"
	"fmt"

	"github.com/dgnsrekt/lectern/internal/document"
)

const component = "live"

const (
	// FrameSamples is the number of microphone samples per outbound frame.
	FrameSamples = 4096
	// ContextWords is how many words from the active index are given to the
	// model as context.
	ContextWords = 300
	// CaptureMimeType describes outbound frames.
	CaptureMimeType = "audio/pcm;rate=16000"
)

// Status is the state of a live session as shown to the reader.
type Status int

const (
	StatusIdle Status = iota
	StatusListening
	StatusThinking
	StatusSpeaking
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusListening:
		return "listening"
	case StatusThinking:
		return "thinking"
	case StatusSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// Frame is one chunk of microphone audio, 16-bit little-endian PCM.
type Frame struct {
	Data     []byte
	MimeType string
}

// Segment is one chunk of spoken reply, 16-bit little-endian PCM at 24 kHz.
type Segment struct {
	Data []byte
}

// Setup is sent when a channel is opened.
type Setup struct {
	SystemPrompt string
	Context      string
}

// Channel is a duplex audio connection to a conversational voice model.
type Channel interface {
	// Send transmits one microphone frame.
	Send(ctx context.Context, f Frame) error
	// Segments delivers reply audio. It is closed when the channel ends.
	Segments() <-chan Segment
	// Err returns the error that ended the channel, or nil if it was closed
	// by Close.
	Err() error
	// Close ends the channel. It is safe to call more than once.
	Close() error
}

// Dialer opens a channel.
type Dialer func(ctx context.Context, setup Setup) (Channel, error)

// ContextWindow returns the passage given to the model: the ContextWords
// words starting at index.
func ContextWindow(doc document.Document, index int) string {
	return doc.Window(index, ContextWords)
}

// SystemPrompt builds the instruction for a session about title.
func SystemPrompt(title, window string) string {
	return fmt.Sprintf(`You are a Reading Buddy for the book "%s". Context: "%s"`, title, window)
}
