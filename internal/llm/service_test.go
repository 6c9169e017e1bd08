package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/RichardoC/visionpad/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

// fakeModel records what it was asked and replies with a canned response.
type fakeModel struct {
	messages []llms.MessageContent
	opts     llms.CallOptions
	resp     *llms.ContentResponse
	err      error
	block    bool
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	for _, opt := range options {
		opt(&f.opts)
	}
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.resp, f.err
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func reply(text string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: text}}}
}

func TestTurnsFromHistory(t *testing.T) {
	history := []models.ChatMessage{
		models.NewMessage(models.RoleSystem, "Image uploaded"),
		models.NewMessage(models.RoleUser, "what is this?"),
		models.NewMessage(models.RoleAssistant, "a cat"),
		models.NewMessage(models.RoleSystem, "Image uploaded"),
		models.NewMessage(models.RoleUser, "and now?"),
	}

	turns := TurnsFromHistory(history)
	assert.Equal(t, []Turn{
		{Role: models.RoleUser, Content: "what is this?"},
		{Role: models.RoleAssistant, Content: "a cat"},
		{Role: models.RoleUser, Content: "and now?"},
	}, turns)
}

func TestComplete_BuildsVisionRequest(t *testing.T) {
	model := &fakeModel{resp: reply("  It is a cat.  ")}
	svc := NewWithModel(model, "test-model")

	text, err := svc.Complete(context.Background(), Request{
		Turns: []Turn{
			{Role: models.RoleUser, Content: "first"},
			{Role: models.RoleAssistant, Content: "answer"},
		},
		Text:         "what animal?",
		ImageDataURL: "data:image/png;base64,AAAA",
		MaxTokens:    DefaultMaxTokens,
	})
	require.NoError(t, err)
	assert.Equal(t, "  It is a cat.  ", text)

	require.Len(t, model.messages, 4)
	assert.Equal(t, schema.ChatMessageTypeSystem, model.messages[0].Role)
	assert.Equal(t, llms.TextContent{Text: SystemPrompt}, model.messages[0].Parts[0])
	assert.Equal(t, schema.ChatMessageTypeHuman, model.messages[1].Role)
	assert.Equal(t, schema.ChatMessageTypeAI, model.messages[2].Role)

	last := model.messages[3]
	assert.Equal(t, schema.ChatMessageTypeHuman, last.Role)
	require.Len(t, last.Parts, 2)
	assert.Equal(t, llms.TextContent{Text: "what animal?"}, last.Parts[0])
	assert.Equal(t, llms.ImageURLContent{URL: "data:image/png;base64,AAAA"}, last.Parts[1])

	assert.Equal(t, DefaultMaxTokens, model.opts.MaxTokens)
}

func TestComplete_MaxTokens(t *testing.T) {
	model := &fakeModel{resp: reply("ok")}
	svc := NewWithModel(model, "m")

	_, err := svc.Complete(context.Background(), Request{Text: "q", ImageDataURL: "data:,"})
	require.NoError(t, err)
	assert.Zero(t, model.opts.MaxTokens)

	_, err = svc.Complete(context.Background(), Request{Text: "q", ImageDataURL: "data:,", MaxTokens: 42})
	require.NoError(t, err)
	assert.Equal(t, 42, model.opts.MaxTokens)
}

func TestComplete_Errors(t *testing.T) {
	tests := []struct {
		name  string
		model *fakeModel
		opts  []Option
		want  ErrorKind
	}{
		{"api failure", &fakeModel{err: errors.New("401 unauthorized")}, nil, KindAPI},
		{"no choices", &fakeModel{resp: &llms.ContentResponse{}}, nil, KindEmpty},
		{"blank reply", &fakeModel{resp: reply("   ")}, nil, KindEmpty},
		{"timeout", &fakeModel{block: true}, []Option{WithTimeout(10 * time.Millisecond)}, KindTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewWithModel(tt.model, "m", tt.opts...)
			_, err := svc.Complete(context.Background(), Request{Text: "q", ImageDataURL: "data:,"})

			var llmErr *Error
			require.ErrorAs(t, err, &llmErr)
			assert.Equal(t, tt.want, llmErr.Kind)
		})
	}
}

func TestComplete_CanceledContext(t *testing.T) {
	svc := NewWithModel(&fakeModel{block: true}, "m")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Complete(ctx, Request{Text: "q", ImageDataURL: "data:,"})
	var llmErr *Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, KindCanceled, llmErr.Kind)
	assert.ErrorIs(t, err, context.Canceled)
}

// chatCompletionServer speaks just enough of the OpenAI chat completions
// protocol for the langchaingo client.
func chatCompletionServer(t *testing.T, status int, capture *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		if capture != nil {
			require.NoError(t, json.Unmarshal(body, capture))
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			io.WriteString(w, `{"error":{"message":"upstream exploded","type":"server_error"}}`)
			return
		}
		io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-4o",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "A red bicycle."}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 4, "total_tokens": 14}
		}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestService_OpenAICompatibleEndpoint(t *testing.T) {
	var sent map[string]any
	srv := chatCompletionServer(t, http.StatusOK, &sent)

	svc, err := New(srv.URL+"/v1", "test-token", "gpt-4o")
	require.NoError(t, err)

	text, err := svc.Complete(context.Background(), Request{
		Turns:        []Turn{{Role: models.RoleUser, Content: "earlier"}},
		Text:         "what is it?",
		ImageDataURL: "data:image/png;base64,iVBORw0KGgo=",
	})
	require.NoError(t, err)
	assert.Equal(t, "A red bicycle.", text)

	assert.Equal(t, "gpt-4o", sent["model"])
	messages, ok := sent["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, messages, 3)

	raw, err := json.Marshal(messages[2])
	require.NoError(t, err)
	assert.Contains(t, string(raw), "data:image/png;base64,iVBORw0KGgo=")
}

func TestService_OpenAIErrorIsClassified(t *testing.T) {
	srv := chatCompletionServer(t, http.StatusInternalServerError, nil)

	svc, err := New(srv.URL+"/v1", "test-token", "gpt-4o")
	require.NoError(t, err)

	_, err = svc.Complete(context.Background(), Request{Text: "q", ImageDataURL: "data:image/png;base64,AA=="})
	var llmErr *Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, KindAPI, llmErr.Kind)
}
