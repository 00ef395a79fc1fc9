package live

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/lectern/internal/audio"
	"github.com/dgnsrekt/lectern/internal/fault"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is the subject namespace used by the voice gateway.
const DefaultSubjectPrefix = "lectern.live"

// AudioFrame is the JSON payload exchanged with the voice gateway.
type AudioFrame struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// SetupMessage opens a conversation on the gateway.
type SetupMessage struct {
	SessionID    string    `json:"session_id"`
	SystemPrompt string    `json:"system_prompt"`
	Context      string    `json:"context"`
	Timestamp    time.Time `json:"timestamp"`
}

// Subjects returns the setup, inbound and outbound subjects for a session.
// Inbound carries microphone audio to the gateway; outbound carries replies.
func Subjects(prefix, sessionID string) (setup, in, out string) {
	base := prefix + "." + sessionID
	return base + ".setup", base + ".in", base + ".out"
}

// NATSConfig configures the NATS relay channel.
type NATSConfig struct {
	URL     string
	Prefix  string
	Timeout time.Duration
	Logger  *log.Logger
}

// ConnectNATS opens the connection shared by NATS channels.
func ConnectNATS(cfg NATSConfig) (*nats.Conn, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	conn, err := nats.Connect(cfg.URL,
		nats.Name("lectern"),
		nats.Timeout(cfg.Timeout),
	)
	if err != nil {
		return nil, fault.Network(component, "connect", fmt.Errorf("connect to nats: %w", err))
	}
	return conn, nil
}

// NATSChannel relays a session to a voice gateway over NATS.
type NATSChannel struct {
	conn      *nats.Conn
	sub       *nats.Subscription
	logger    *log.Logger
	sessionID string
	inSubject string

	segments chan Segment

	mu       sync.Mutex
	sequence int
	closed   bool
	stop     chan struct{}
	inflight sync.WaitGroup
}

var _ Channel = (*NATSChannel)(nil)

// DialNATS returns a Dialer that opens a new gateway session on conn for
// every call.
func DialNATS(conn *nats.Conn, cfg NATSConfig) Dialer {
	return func(ctx context.Context, setup Setup) (Channel, error) {
		return NewNATSChannel(ctx, conn, cfg, setup)
	}
}

// NewNATSChannel subscribes to replies and publishes the setup.
func NewNATSChannel(ctx context.Context, conn *nats.Conn, cfg NATSConfig, setup Setup) (*NATSChannel, error) {
	if conn == nil || conn.IsClosed() {
		return nil, fault.Network(component, "dial", fault.ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		return nil, fault.New(fault.UserCancellation, component, "dial", err)
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultSubjectPrefix
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	id := uuid.NewString()
	setupSubject, inSubject, outSubject := Subjects(cfg.Prefix, id)
	c := &NATSChannel{
		conn:      conn,
		logger:    cfg.Logger.WithPrefix("live/nats"),
		sessionID: id,
		inSubject: inSubject,
		segments:  make(chan Segment, segmentBuffer),
		stop:      make(chan struct{}),
	}

	sub, err := conn.Subscribe(outSubject, c.handleReply)
	if err != nil {
		return nil, fault.Network(component, "subscribe", err)
	}
	c.sub = sub

	data, err := json.Marshal(SetupMessage{
		SessionID:    id,
		SystemPrompt: setup.SystemPrompt,
		Context:      setup.Context,
		Timestamp:    time.Now().UTC(),
	})
	if err != nil {
		_ = sub.Unsubscribe()
		return nil, fault.New(fault.Unknown, component, "setup", err)
	}
	if err := conn.Publish(setupSubject, data); err != nil {
		_ = sub.Unsubscribe()
		return nil, fault.Network(component, "setup", err)
	}

	c.logger.Debug("Session opened", "session", id, "subject", inSubject)
	return c, nil
}

// SessionID returns the gateway session identifier.
func (c *NATSChannel) SessionID() string {
	return c.sessionID
}

// Send publishes one microphone frame.
func (c *NATSChannel) Send(ctx context.Context, f Frame) error {
	if err := ctx.Err(); err != nil {
		return fault.New(fault.UserCancellation, component, "send", err)
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fault.New(fault.UserCancellation, component, "send", fault.ErrClosed)
	}
	seq := c.sequence
	c.sequence++
	c.mu.Unlock()

	return c.publish(AudioFrame{
		SessionID:  c.sessionID,
		Sequence:   seq,
		SampleRate: audio.CaptureSampleRate,
		Channels:   audio.Channels,
		PCM:        f.Data,
	})
}

func (c *NATSChannel) publish(frame AudioFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fault.New(fault.Unknown, component, "send", err)
	}
	if err := c.conn.Publish(c.inSubject, data); err != nil {
		return fault.Network(component, "send", err)
	}
	return nil
}

// handleReply runs on the NATS subscription goroutine.
func (c *NATSChannel) handleReply(msg *nats.Msg) {
	var frame AudioFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		c.logger.Warn("Dropping undecodable reply", "err", err)
		return
	}
	if frame.SessionID != "" && frame.SessionID != c.sessionID {
		c.logger.Debug("Ignoring reply for another session", "session", frame.SessionID)
		return
	}
	if len(frame.PCM) == 0 {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.inflight.Add(1)
	c.mu.Unlock()
	defer c.inflight.Done()

	select {
	case c.segments <- Segment{Data: frame.PCM}:
	case <-c.stop:
	}
}

// Segments delivers reply audio.
func (c *NATSChannel) Segments() <-chan Segment {
	return c.segments
}

// Err reports a lost connection.
func (c *NATSChannel) Err() error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if !closed && c.conn.IsClosed() {
		return fault.Network(component, "receive", nats.ErrConnectionClosed)
	}
	return nil
}

// Close sends a final frame and stops the subscription. The connection is
// left open for other sessions.
func (c *NATSChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.stop)
	seq := c.sequence
	c.mu.Unlock()

	_ = c.publish(AudioFrame{
		SessionID:  c.sessionID,
		Sequence:   seq,
		SampleRate: audio.CaptureSampleRate,
		Channels:   audio.Channels,
		Final:      true,
	})
	err := c.sub.Unsubscribe()
	c.inflight.Wait()
	close(c.segments)
	return err
}
