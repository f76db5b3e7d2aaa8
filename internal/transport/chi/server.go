package chi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragchat/internal/domain"
	logpkg "github.com/kailas-cloud/ragchat/internal/logger"
	healthuc "github.com/kailas-cloud/ragchat/internal/usecase/health"
)

// Error codes returned in the "code" field of error bodies.
const (
	codeBadRequest       = "bad_request"
	codeUnauthorized     = "unauthorized"
	codeNotFound         = "not_found"
	codeUnsupported      = "unsupported_format"
	codeExtractionFailed = "extraction_failed"
	codeProviderError    = "provider_error"
	codeStoreUnavailable = "vector_store_unavailable"
	codeInternalError    = "internal_error"
)

const (
	defaultStreamTimeout  = 5 * time.Minute
	defaultMaxUploadBytes = 50 << 20
	// multipart framing on top of the file itself
	uploadOverhead = 1 << 20
)

// ChatService runs chat turns against the knowledge base.
type ChatService interface {
	Stream(ctx context.Context, message string) (iter.Seq[string], error)
	Complete(ctx context.Context, message string) (string, error)
	ClearHistory()
}

// DocumentService manages the knowledge base contents.
type DocumentService interface {
	Upload(ctx context.Context, name string, r io.Reader) (domain.IngestResult, error)
	Delete(ctx context.Context, source string) error
	ClearAll(ctx context.Context) error
	Inventory(ctx context.Context) (sources []string, chunks int, err error)
}

// HealthService reports dependency status.
type HealthService interface {
	Check(ctx context.Context) healthuc.Report
}

// Config tunes request handling.
type Config struct {
	// StreamTimeout is the write deadline applied before each streamed fragment.
	StreamTimeout  time.Duration
	MaxUploadBytes int64
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server serves the chat and knowledge base API.
type Server struct {
	chat          ChatService
	documents     DocumentService
	health        HealthService
	cfg           Config
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	chat ChatService,
	documents DocumentService,
	health HealthService,
	cfg Config,
	logger *zap.Logger,
) *Server {
	if cfg.StreamTimeout <= 0 {
		cfg.StreamTimeout = defaultStreamTimeout
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	s := &Server{
		chat:      chat,
		documents: documents,
		health:    health,
		cfg:       cfg,
		logger:    logger,
	}
	// Order matters: an unsupported format error also carries ErrInvalidInput in some paths.
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrUnsupportedFormat, http.StatusUnsupportedMediaType, codeUnsupported),
		sentinelHandler(domain.ErrInvalidInput, http.StatusBadRequest, codeBadRequest),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, codeNotFound),
		sentinelHandler(domain.ErrExtraction, http.StatusUnprocessableEntity, codeExtractionFailed),
		sentinelHandler(domain.ErrEmbedding, http.StatusBadGateway, codeProviderError),
		sentinelHandler(domain.ErrCompletion, http.StatusBadGateway, codeProviderError),
		sentinelHandler(domain.ErrVectorStore, http.StatusServiceUnavailable, codeStoreUnavailable),
	}
	return s
}

// Routes registers every endpoint on r.
func (s *Server) Routes(r chi.Router) {
	r.Post("/chat", s.Chat)
	r.Post("/chat/complete", s.CompleteChat)
	r.Post("/chat/clear", s.ClearChat)
	r.Post("/documents", s.UploadDocument)
	r.Get("/documents", s.ListDocuments)
	r.Delete("/documents/{name}", s.DeleteDocument)
	r.Post("/knowledge/clear", s.ClearKnowledge)
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Response string `json:"response"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type uploadResponse struct {
	Message     string `json:"message"`
	ChunksAdded int    `json:"chunks_added"`
}

type documentsResponse struct {
	Sources []string `json:"sources"`
	Chunks  int      `json:"chunks"`
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Chat handles POST /chat. The reply streams as text/plain, one flush per fragment.
func (s *Server) Chat(w http.ResponseWriter, r *http.Request) {
	msg, ok := s.decodeMessage(w, r)
	if !ok {
		return
	}

	seq, err := s.chat.Stream(r.Context(), msg)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	log := logpkg.FromContext(r.Context(), s.logger)
	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	for fragment := range seq {
		if err := rc.SetWriteDeadline(time.Now().Add(s.cfg.StreamTimeout)); err != nil &&
			!errors.Is(err, http.ErrNotSupported) {
			log.Debug("set write deadline", zap.Error(err))
		}
		if _, err := io.WriteString(w, fragment); err != nil {
			// client went away; breaking closes the upstream stream
			log.Debug("chat stream write failed", zap.Error(err))
			return
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			log.Debug("chat stream flush failed", zap.Error(err))
			return
		}
	}
}

// CompleteChat handles POST /chat/complete.
func (s *Server) CompleteChat(w http.ResponseWriter, r *http.Request) {
	msg, ok := s.decodeMessage(w, r)
	if !ok {
		return
	}

	reply, err := s.chat.Complete(r.Context(), msg)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{Response: reply})
}

// ClearChat handles POST /chat/clear.
func (s *Server) ClearChat(w http.ResponseWriter, _ *http.Request) {
	s.chat.ClearHistory()
	writeJSON(w, http.StatusOK, messageResponse{Message: "Chat history cleared."})
}

// UploadDocument handles POST /documents with a multipart "file" field.
func (s *Server) UploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+uploadOverhead)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, codeBadRequest, "file exceeds upload limit")
			return
		}
		writeError(w, http.StatusBadRequest, codeBadRequest, "missing multipart field \"file\"")
		return
	}
	defer func() { _ = file.Close() }()

	if header.Filename == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "no file selected")
		return
	}

	res, err := s.documents.Upload(r.Context(), header.Filename, file)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	resp := uploadResponse{
		Message:     fmt.Sprintf("Document '%s' processed and added to knowledge base.", res.Source),
		ChunksAdded: res.ChunksAdded,
	}
	if res.ChunksAdded == 0 {
		resp.Message = fmt.Sprintf("Document '%s' uploaded, but no text could be extracted.", res.Source)
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListDocuments handles GET /documents.
func (s *Server) ListDocuments(w http.ResponseWriter, r *http.Request) {
	sources, chunks, err := s.documents.Inventory(r.Context())
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if sources == nil {
		sources = []string{}
	}
	writeJSON(w, http.StatusOK, documentsResponse{Sources: sources, Chunks: chunks})
}

// DeleteDocument handles DELETE /documents/{name}.
func (s *Server) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if strings.TrimSpace(name) == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "document name is required")
		return
	}

	if err := s.documents.Delete(r.Context(), name); err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{
		Message: fmt.Sprintf("Document '%s' deleted from knowledge base.", name),
	})
}

// ClearKnowledge handles POST /knowledge/clear.
func (s *Server) ClearKnowledge(w http.ResponseWriter, r *http.Request) {
	if err := s.documents.ClearAll(r.Context()); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Knowledge base cleared successfully."})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, healthResponse{
		Status: string(report.Status),
		Checks: checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func (s *Server) decodeMessage(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return "", false
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "No message provided")
		return "", false
	}
	return req.Message, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a client-facing message without exposing internals.
func safeDomainMessage(err error) string {
	var unsupported *domain.UnsupportedFormatError
	if errors.As(err, &unsupported) {
		return unsupported.Error()
	}
	sentinels := []error{
		domain.ErrInvalidInput,
		domain.ErrNotFound,
		domain.ErrExtraction,
		domain.ErrEmbedding,
		domain.ErrCompletion,
		domain.ErrVectorStore,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logpkg.FromContext(r.Context(), s.logger)
	log.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}
