package live

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/lectern/internal/fault"
	"github.com/gorilla/websocket"
)

const (
	DefaultLiveURL   = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	DefaultLiveModel = "gemini-2.5-flash-native-audio-preview-12-2025"

	segmentBuffer = 64
	writeTimeout  = 10 * time.Second
)

// GeminiConfig configures the Gemini Live channel.
type GeminiConfig struct {
	APIKey string
	URL    string
	Model  string
	Voice  string
	Logger *log.Logger
}

// Wire types of the BidiGenerateContent protocol.
type (
	clientMessage struct {
		Setup         *setupMessage  `json:"setup,omitempty"`
		RealtimeInput *realtimeInput `json:"realtimeInput,omitempty"`
	}

	setupMessage struct {
		Model             string           `json:"model"`
		GenerationConfig  generationConfig `json:"generationConfig"`
		SystemInstruction *content         `json:"systemInstruction,omitempty"`
	}

	generationConfig struct {
		ResponseModalities []string      `json:"responseModalities"`
		SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
	}

	speechConfig struct {
		VoiceConfig struct {
			PrebuiltVoiceConfig struct {
				VoiceName string `json:"voiceName"`
			} `json:"prebuiltVoiceConfig"`
		} `json:"voiceConfig"`
	}

	content struct {
		Parts []part `json:"parts"`
	}

	part struct {
		Text       string      `json:"text,omitempty"`
		InlineData *inlineData `json:"inlineData,omitempty"`
	}

	inlineData struct {
		MimeType string `json:"mimeType"`
		Data     string `json:"data"`
	}

	realtimeInput struct {
		MediaChunks []inlineData `json:"mediaChunks"`
	}

	serverMessage struct {
		SetupComplete *struct{} `json:"setupComplete,omitempty"`
		ServerContent *struct {
			ModelTurn    *content `json:"modelTurn,omitempty"`
			TurnComplete bool     `json:"turnComplete,omitempty"`
			Interrupted  bool     `json:"interrupted,omitempty"`
		} `json:"serverContent,omitempty"`
	}
)

// GeminiChannel is a Channel over the Gemini Live websocket API.
type GeminiChannel struct {
	conn     *websocket.Conn
	logger   *log.Logger
	segments chan Segment

	writeMu sync.Mutex

	mu     sync.Mutex
	err    error
	closed bool
	stop   chan struct{}
	done   chan struct{}
}

var _ Channel = (*GeminiChannel)(nil)

// DialGemini returns a Dialer for the Gemini Live API.
func DialGemini(cfg GeminiConfig) Dialer {
	return func(ctx context.Context, setup Setup) (Channel, error) {
		return NewGeminiChannel(ctx, cfg, setup)
	}
}

// NewGeminiChannel connects and sends the session setup.
func NewGeminiChannel(ctx context.Context, cfg GeminiConfig, setup Setup) (*GeminiChannel, error) {
	if cfg.APIKey == "" {
		return nil, fault.Invalid(component, "dial", "api key is required for live voice")
	}
	if cfg.URL == "" {
		cfg.URL = DefaultLiveURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultLiveModel
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fault.Invalid(component, "dial", "invalid live url: %v", err)
	}
	q := u.Query()
	q.Set("key", cfg.APIKey)
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), http.Header{})
	if err != nil {
		fe := dialError(ctx, err)
		if resp != nil {
			fe.WithContext("status", resp.StatusCode)
		}
		return nil, fe
	}

	c := &GeminiChannel{
		conn:     conn,
		logger:   cfg.Logger.WithPrefix("live/gemini"),
		segments: make(chan Segment, segmentBuffer),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	msg := clientMessage{Setup: &setupMessage{
		Model: "models/" + cfg.Model,
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"AUDIO"},
		},
	}}
	if setup.SystemPrompt != "" {
		msg.Setup.SystemInstruction = &content{Parts: []part{{Text: setup.SystemPrompt}}}
	}
	if cfg.Voice != "" {
		sc := &speechConfig{}
		sc.VoiceConfig.PrebuiltVoiceConfig.VoiceName = cfg.Voice
		msg.Setup.GenerationConfig.SpeechConfig = sc
	}
	if err := c.write(msg); err != nil {
		conn.Close()
		return nil, fault.Network(component, "setup", err)
	}

	go c.readLoop()
	c.logger.Debug("Connected", "model", cfg.Model)
	return c, nil
}

// Send transmits one microphone frame as realtime input.
func (c *GeminiChannel) Send(ctx context.Context, f Frame) error {
	if err := ctx.Err(); err != nil {
		return fault.New(fault.UserCancellation, component, "send", err)
	}
	mime := f.MimeType
	if mime == "" {
		mime = CaptureMimeType
	}
	msg := clientMessage{RealtimeInput: &realtimeInput{
		MediaChunks: []inlineData{{
			MimeType: mime,
			Data:     base64.StdEncoding.EncodeToString(f.Data),
		}},
	}}
	if err := c.write(msg); err != nil {
		if c.isClosed() {
			return fault.New(fault.UserCancellation, component, "send", fault.ErrClosed)
		}
		return fault.Network(component, "send", err)
	}
	return nil
}

func (c *GeminiChannel) write(msg clientMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(msg)
}

// Segments delivers decoded reply audio.
func (c *GeminiChannel) Segments() <-chan Segment {
	return c.segments
}

// Err returns the read error that ended the channel.
func (c *GeminiChannel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close sends a close frame and waits for the reader to stop.
func (c *GeminiChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		<-c.done
		return nil
	}
	c.closed = true
	close(c.stop)
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	err := c.conn.Close()
	<-c.done
	return err
}

func (c *GeminiChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *GeminiChannel) readLoop() {
	defer close(c.done)
	defer close(c.segments)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if !c.closed && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.err = fault.Network(component, "receive", err)
			}
			c.mu.Unlock()
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("Dropping undecodable message", "err", err)
			continue
		}
		if msg.SetupComplete != nil {
			c.logger.Debug("Setup complete")
			continue
		}
		if msg.ServerContent == nil || msg.ServerContent.ModelTurn == nil {
			continue
		}
		for _, p := range msg.ServerContent.ModelTurn.Parts {
			if p.InlineData == nil || p.InlineData.Data == "" {
				continue
			}
			pcm, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				c.logger.Warn("Dropping segment with invalid base64", "err", err)
				continue
			}
			select {
			case c.segments <- Segment{Data: pcm}:
			case <-c.stop:
				return
			}
		}
	}
}

func dialError(ctx context.Context, err error) *fault.Error {
	if errors.Is(err, context.Canceled) || ctx.Err() == context.Canceled {
		return fault.New(fault.UserCancellation, component, "dial", err)
	}
	return fault.Network(component, "dial", fmt.Errorf("connect to live api: %w", err))
}
