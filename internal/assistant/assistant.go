// Package assistant answers questions about the passage being read using a
// Gemini text model.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/lectern/internal/fault"
	"github.com/dgnsrekt/lectern/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const component = "assistant"

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel   = "gemini-3-flash-preview"

	// MaxContextRunes bounds the excerpt sent with a chat message.
	MaxContextRunes = 10000

	SystemInstruction = "You are a helpful literary assistant. Keep answers concise and relevant to the provided text."
	SummaryPrompt     = "Please provide a concise, engaging 2-sentence summary of this passage."

	// Texts shown in place of an answer when a request fails.
	FallbackAnalysis = "Sorry, I couldn't analyze the text at this moment."
	FallbackChat     = "I'm having trouble connecting."
)

// Role is the author of a chat message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Message is one turn of a conversation.
type Message struct {
	Role Role
	Text string
}

// Config configures the client.
type Config struct {
	APIKey            string
	BaseURL           string
	Model             string
	RequestsPerMinute int
	Timeout           time.Duration
	HTTPClient        *http.Client
	Logger            *log.Logger
}

// Client calls the generateContent API.
type Client struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
	limiter *rate.Limiter
	logger  *log.Logger
}

// New creates a client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fault.Invalid(component, "new", "api key is required (set gemini.api_key or GEMINI_API_KEY)")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 30
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		client:  client,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1),
		logger:  cfg.Logger.WithPrefix(component),
	}, nil
}

// Analyze runs prompt against text.
func (c *Client) Analyze(ctx context.Context, text, prompt string) (string, error) {
	contents := fmt.Sprintf("Context: %s\n\nTask: %s", text, prompt)
	return c.generate(ctx, "analyze", contents, SystemInstruction)
}

// Summarize returns a two-sentence summary of passage.
func (c *Client) Summarize(ctx context.Context, passage string) (string, error) {
	if strings.TrimSpace(passage) == "" {
		return "", fault.Invalid(component, "summarize", "passage is empty")
	}
	return c.Analyze(ctx, passage, SummaryPrompt)
}

// Chat answers msg in a conversation about the excerpt excerpt.
func (c *Client) Chat(ctx context.Context, excerpt string, history []Message, msg string) (string, error) {
	if strings.TrimSpace(msg) == "" {
		return "", fault.Invalid(component, "chat", "message is empty")
	}
	return c.generate(ctx, "chat", ChatPrompt(excerpt, history, msg), "")
}

// ChatPrompt renders the excerpt, history and new message as one prompt.
func ChatPrompt(excerpt string, history []Message, msg string) string {
	var b strings.Builder
	b.WriteString("You are an intelligent literary companion discussing a book with a reader.\n\n")
	b.WriteString("CONTEXT EXCERPT:\n")
	fmt.Fprintf(&b, "%q\n\n", truncateRunes(excerpt, MaxContextRunes)+"...")
	b.WriteString("CHAT HISTORY:\n")
	for _, m := range history {
		speaker := "User"
		if m.Role == RoleModel {
			speaker = "Assistant"
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, m.Text)
	}
	b.WriteString("\nUSER'S NEW MESSAGE:\n")
	b.WriteString(msg)
	return b.String()
}

func truncateRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

type request struct {
	Contents          []content `json:"contents"`
	SystemInstruction *content  `json:"systemInstruction,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type response struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

func (c *Client) generate(ctx context.Context, op, contents, system string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", requestError(op, err)
	}

	ctx, span := telemetry.Tracer().Start(ctx, "assistant."+op,
		trace.WithAttributes(
			attribute.String("model", c.model),
			attribute.Int("chars", len(contents)),
		))
	defer span.End()

	text, err := c.do(ctx, op, contents, system)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn("Request failed", "op", op, "err", err)
		return "", err
	}
	return text, nil
}

func (c *Client) do(ctx context.Context, op, contents, system string) (string, error) {
	reqBody := request{Contents: []content{{Role: "user", Parts: []part{{Text: contents}}}}}
	if system != "" {
		reqBody.SystemInstruction = &content{Parts: []part{{Text: system}}}
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fault.Invalid(component, op, "build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", requestError(op, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fault.Network(component, op,
			fmt.Errorf("status %d, body: %s", resp.StatusCode, strings.TrimSpace(string(msg)))).
			WithContext("status", resp.StatusCode)
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", requestError(op, fmt.Errorf("parse response: %w", err))
	}

	var b strings.Builder
	for _, cand := range out.Candidates {
		for _, p := range cand.Content.Parts {
			b.WriteString(p.Text)
		}
		if b.Len() > 0 {
			break
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fault.Network(component, op, fault.ErrEmptyResponse)
	}
	return text, nil
}

func requestError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fault.New(fault.UserCancellation, component, op, err)
	}
	return fault.Network(component, op, err)
}
