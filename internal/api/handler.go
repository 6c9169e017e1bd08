package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"path/filepath"
	"time"

	"github.com/RichardoC/visionpad/internal/llm"
	"github.com/RichardoC/visionpad/internal/models"
	"github.com/RichardoC/visionpad/internal/session"
	"github.com/RichardoC/visionpad/internal/storage"
	"github.com/RichardoC/visionpad/web"
	"go.uber.org/zap"
)

const (
	UploadNotice = "Image uploaded successfully. Ask me anything about this image!"
	NoImageReply = "Please upload an image first so I can analyze it and answer your questions."
	ApologyReply = "I'm sorry, I encountered an error while analyzing the image. Please try again later."

	// DefaultMaxUploadBytes caps request bodies at 16 MiB.
	DefaultMaxUploadBytes = 16 << 20
)

// Completer answers a question about an image.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
}

type Options struct {
	MaxUploadBytes int64
	MaxTokens      int
}

type Handler struct {
	store     session.Store
	images    *storage.Images
	model     Completer
	templates *template.Template
	metrics   *metrics
	logger    *zap.Logger

	maxUploadBytes int64
	maxTokens      int
}

func NewHandler(store session.Store, images *storage.Images, model Completer, logger *zap.Logger, opts Options) (*Handler, error) {
	tmpl, err := template.ParseFS(web.Templates, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	m, err := newMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = llm.DefaultMaxTokens
	}

	return &Handler{
		store:          store,
		images:         images,
		model:          model,
		templates:      tmpl,
		metrics:        m,
		logger:         logger,
		maxUploadBytes: opts.MaxUploadBytes,
		maxTokens:      opts.MaxTokens,
	}, nil
}

// Routes registers every endpoint and wraps them with session, CORS and
// access-log middleware.
func (h *Handler) Routes(sessions *session.Manager) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", h.Index)
	mux.HandleFunc("/api/upload-image", h.UploadImage)
	mux.HandleFunc("/api/chat", h.Chat)
	mux.HandleFunc("/api/clear", h.Clear)
	mux.Handle(storage.PublicPrefix, h.images.Handler())

	return h.logRequests(cors(sessions.Middleware(mux)))
}

type ChatRequest struct {
	Message string `json:"message"`
}

type ChatResponse struct {
	Response string               `json:"response"`
	Messages []models.ChatMessage `json:"messages"`
}

type UploadResponse struct {
	Success  bool                 `json:"success"`
	ImageURL string               `json:"image_url"`
	Messages []models.ChatMessage `json:"messages"`
}

type ClearResponse struct {
	Success  bool                 `json:"success"`
	Messages []models.ChatMessage `json:"messages"`
}

type indexData struct {
	Messages    []models.ChatMessage
	ImageURL    string
	MaxUploadMB int64
}

// Index renders the landing page and makes sure the session exists.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	state, err := h.store.GetOrCreate(r.Context(), session.IDFromContext(r.Context()))
	if err != nil {
		h.logger.Error("Failed to load session", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	data := indexData{
		Messages:    state.Messages,
		MaxUploadMB: h.maxUploadBytes >> 20,
	}
	if state.HasImage() {
		data.ImageURL = storage.PublicPrefix + filepath.Base(state.CurrentImage)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.templates.ExecuteTemplate(w, "index.html", data); err != nil {
		h.logger.Error("Failed to execute template", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
}

// UploadImage stores the multipart field "image" and makes it the session's
// current image.
func (h *Handler) UploadImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	sessionID := session.IDFromContext(ctx)
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	file, header, err := r.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{
				Error: fmt.Sprintf("Image exceeds the %d MiB upload limit", h.maxUploadBytes>>20),
			}, h.logger)
			return
		}
		// A part named "image" without a filename is parsed as a plain value.
		if r.MultipartForm != nil && len(r.MultipartForm.Value["image"]) > 0 {
			h.writeError(w, r, &ValidationError{Field: "image", Message: "No selected file"})
			return
		}
		h.writeError(w, r, &ValidationError{Field: "image", Message: "No image part"})
		return
	}
	defer file.Close()
	defer r.MultipartForm.RemoveAll()

	if header.Filename == "" {
		h.writeError(w, r, &ValidationError{Field: "image", Message: "No selected file"})
		return
	}

	stored, err := h.images.Save(sessionID, file)
	if err != nil {
		h.writeError(w, r, &StorageError{Op: "save image", Message: "File upload failed", Err: err})
		return
	}

	if err := h.store.SetCurrentImage(ctx, sessionID, stored.Path); err != nil {
		h.writeError(w, r, &StorageError{Op: "set current image", Message: "File upload failed", Err: err})
		return
	}
	if err := h.store.AppendMessage(ctx, sessionID, models.NewMessage(models.RoleSystem, UploadNotice)); err != nil {
		h.writeError(w, r, &StorageError{Op: "append upload notice", Message: "File upload failed", Err: err})
		return
	}

	state, err := h.store.GetOrCreate(ctx, sessionID)
	if err != nil {
		h.writeError(w, r, &StorageError{Op: "load session", Message: "File upload failed", Err: err})
		return
	}

	h.metrics.uploads.Add(ctx, 1)
	h.logger.Info("Stored image",
		zap.String("session", sessionID),
		zap.String("file", filepath.Base(stored.Path)),
		zap.Int64("bytes", stored.Size))

	writeJSON(w, http.StatusOK, UploadResponse{
		Success:  true,
		ImageURL: stored.URL,
		Messages: state.Messages,
	}, h.logger)
}

// Chat appends the user's message, asks the model about the current image,
// and appends its reply. Model failures become an apology, never an error
// response.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	sessionID := session.IDFromContext(ctx)
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		h.writeError(w, r, &ValidationError{Field: "message", Message: "No message provided"})
		return
	}

	// History as it stood before this turn.
	state, err := h.store.GetOrCreate(ctx, sessionID)
	if err != nil {
		h.writeError(w, r, &StorageError{Op: "load session", Err: err})
		return
	}

	if err := h.store.AppendMessage(ctx, sessionID, models.NewMessage(models.RoleUser, req.Message)); err != nil {
		h.writeError(w, r, &StorageError{Op: "append user message", Err: err})
		return
	}

	reply := h.answer(ctx, state, req.Message)

	if err := h.store.AppendMessage(ctx, sessionID, models.NewMessage(models.RoleAssistant, reply)); err != nil {
		h.writeError(w, r, &StorageError{Op: "append assistant message", Err: err})
		return
	}

	state, err = h.store.GetOrCreate(ctx, sessionID)
	if err != nil {
		h.writeError(w, r, &StorageError{Op: "load session", Err: err})
		return
	}

	writeJSON(w, http.StatusOK, ChatResponse{
		Response: reply,
		Messages: state.Messages,
	}, h.logger)
}

// answer produces the assistant text for one turn.
func (h *Handler) answer(ctx context.Context, state *models.SessionState, message string) string {
	if !state.HasImage() {
		h.metrics.turn(ctx, "no_image")
		return NoImageReply
	}

	start := time.Now()
	text, err := h.ask(ctx, state, message)
	h.metrics.modelLatency.Record(ctx, time.Since(start).Seconds())

	if err != nil {
		kind := "unknown"
		var llmErr *llm.Error
		if errors.As(err, &llmErr) {
			kind = string(llmErr.Kind)
		}
		h.logger.Error("Model call failed",
			zap.Error(err),
			zap.String("kind", kind),
			zap.String("session", state.ID))
		h.metrics.turn(ctx, "error_"+kind)
		return ApologyReply
	}

	h.metrics.turn(ctx, "ok")
	return text
}

func (h *Handler) ask(ctx context.Context, state *models.SessionState, message string) (string, error) {
	dataURL, err := h.images.DataURL(state.CurrentImage)
	if err != nil {
		return "", &llm.Error{Kind: llm.KindImage, Err: err}
	}

	return h.model.Complete(ctx, llm.Request{
		SystemPrompt: llm.SystemPrompt,
		Turns:        llm.TurnsFromHistory(state.Messages),
		Text:         message,
		ImageDataURL: dataURL,
		MaxTokens:    h.maxTokens,
	})
}

// Clear empties the transcript and forgets the current image. The image file
// stays on disk.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := session.IDFromContext(r.Context())
	if err := h.store.Clear(r.Context(), sessionID); err != nil {
		h.writeError(w, r, &StorageError{Op: "clear session", Err: err})
		return
	}

	writeJSON(w, http.StatusOK, ClearResponse{
		Success:  true,
		Messages: []models.ChatMessage{},
	}, h.logger)
}
