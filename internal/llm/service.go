package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/RichardoC/visionpad/internal/models"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// SystemPrompt frames every vision request.
	SystemPrompt = "You are a helpful assistant that analyzes images and answers questions about them."

	// DefaultMaxTokens is the reply cap callers use when none is configured.
	DefaultMaxTokens = 500

	tracerName = "github.com/RichardoC/visionpad/internal/llm"
)

// Turn is one prior message replayed to the model.
type Turn struct {
	Role    models.Role
	Content string
}

// Request is a single vision completion: prior turns plus a final user turn
// that pairs Text with the image. MaxTokens of zero sends no cap.
type Request struct {
	SystemPrompt string
	Turns        []Turn
	Text         string
	ImageDataURL string
	MaxTokens    int
}

// TurnsFromHistory keeps user and assistant messages in order and drops
// system notices.
func TurnsFromHistory(history []models.ChatMessage) []Turn {
	turns := make([]Turn, 0, len(history))
	for _, msg := range history {
		if msg.Role != models.RoleUser && msg.Role != models.RoleAssistant {
			continue
		}
		turns = append(turns, Turn{Role: msg.Role, Content: msg.Content})
	}
	return turns
}

type Service struct {
	llm     llms.Model
	model   string
	timeout time.Duration
	tracer  trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithTimeout bounds each completion. Zero leaves only the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

func New(baseURL, token, model string, opts ...Option) (*Service, error) {
	client, err := openai.New(
		openai.WithToken(token),
		openai.WithBaseURL(baseURL),
		openai.WithModel(model),
	)
	if err != nil {
		return nil, err
	}
	return NewWithModel(client, model, opts...), nil
}

// NewWithModel wraps an existing langchaingo model.
func NewWithModel(m llms.Model, name string, opts ...Option) *Service {
	s := &Service{
		llm:    m,
		model:  name,
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Model returns the configured model name.
func (s *Service) Model() string {
	return s.model
}

func buildMessages(req Request) []llms.MessageContent {
	system := req.SystemPrompt
	if system == "" {
		system = SystemPrompt
	}

	messages := make([]llms.MessageContent, 0, len(req.Turns)+2)
	messages = append(messages, llms.TextParts(schema.ChatMessageTypeSystem, system))
	for _, turn := range req.Turns {
		role := schema.ChatMessageTypeHuman
		if turn.Role == models.RoleAssistant {
			role = schema.ChatMessageTypeAI
		}
		messages = append(messages, llms.TextParts(role, turn.Content))
	}
	messages = append(messages, llms.MessageContent{
		Role: schema.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{
			llms.TextPart(req.Text),
			llms.ImageURLPart(req.ImageDataURL),
		},
	})
	return messages
}

// Complete sends req to the model and returns its text reply. Every failure
// comes back as an *Error so callers can decide how to surface it.
func (s *Service) Complete(ctx context.Context, req Request) (string, error) {
	ctx, span := s.tracer.Start(ctx, "llm.Complete", trace.WithAttributes(
		attribute.String("llm.model", s.model),
		attribute.Int("llm.turns", len(req.Turns)),
		attribute.Int("llm.max_tokens", req.MaxTokens),
	))
	defer span.End()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var callOpts []llms.CallOption
	if req.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(req.MaxTokens))
	}

	resp, err := s.llm.GenerateContent(ctx, buildMessages(req), callOpts...)
	if err != nil {
		return "", s.fail(span, classify(ctx, err))
	}
	if len(resp.Choices) == 0 {
		return "", s.fail(span, &Error{Kind: KindEmpty, Err: errors.New("no choices in response")})
	}

	// The reply is returned as the model wrote it.
	text := resp.Choices[0].Content
	if strings.TrimSpace(text) == "" {
		return "", s.fail(span, &Error{Kind: KindEmpty, Err: errors.New("empty reply")})
	}

	span.SetAttributes(attribute.Int("llm.reply_chars", len(text)))
	return text, nil
}

func (s *Service) fail(span trace.Span, err *Error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(err.Kind))
	return err
}

func classify(ctx context.Context, err error) *Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Err: err}
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return &Error{Kind: KindCanceled, Err: err}
	default:
		return &Error{Kind: KindAPI, Err: fmt.Errorf("failed to generate completion: %w", err)}
	}
}
