// Package httpadapter exposes the consultation service over HTTP: JSON
// endpoints for sessions and conversations, multipart upload recognition, and
// the SSE chat stream.
package httpadapter

import (
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hjwen/counsel-agent/internal/app/chat"
	"github.com/hjwen/counsel-agent/internal/app/conversation"
	"github.com/hjwen/counsel-agent/internal/app/relay"
	"github.com/hjwen/counsel-agent/internal/domain"
	"github.com/hjwen/counsel-agent/internal/observability"
)

// Options bounds the upload endpoint.
type Options struct {
	MaxFileSize int64
	MaxFiles    int
	Models      []string
}

type Server struct {
	conv       *conversation.Service
	chat       *chat.Service
	sessions   domain.SessionRegistry
	gateway    domain.ModelGateway
	recognizer domain.Recognizer
	opts       Options
}

func NewServer(
	conv *conversation.Service,
	chatSvc *chat.Service,
	sessions domain.SessionRegistry,
	gateway domain.ModelGateway,
	recognizer domain.Recognizer,
	opts Options,
) http.Handler {
	s := &Server{
		conv:       conv,
		chat:       chatSvc,
		sessions:   sessions,
		gateway:    gateway,
		recognizer: recognizer,
		opts:       opts,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/api/session/preferences", s.handlePreferences)

	// /api/conversations          → GET: list, POST: create
	// /api/conversations/current  → GET: current conversation
	// /api/conversations/{id}/switch → POST
	// /api/conversations/{id}     → DELETE
	mux.HandleFunc("/api/conversations", s.handleConversations)
	mux.HandleFunc("/api/conversations/", s.handleConversationWithID)

	mux.HandleFunc("/api/attachments/recognize", s.handleRecognize)
	mux.HandleFunc("/api/chat/stream", s.handleChatStream)
	mux.HandleFunc("/api/chat/judge", s.handleChatJudge)

	return chainMiddlewares(mux, withCORS, withLogging, withRequestID)
}

// ─────────────────────────────────────────────
// DTOs (request/response)
// ─────────────────────────────────────────────

type preferencesRequest struct {
	Model              *string `json:"model,omitempty"`
	RetrievalEnabled   *bool   `json:"retrieval_enabled,omitempty"`
	DisclaimerAccepted *bool   `json:"disclaimer_accepted,omitempty"`
}

type preferencesResponse struct {
	Model              string `json:"model"`
	RetrievalEnabled   bool   `json:"retrieval_enabled"`
	DisclaimerAccepted bool   `json:"disclaimer_accepted"`
}

type conversationSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	IsCurrent    bool      `json:"is_current"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type attachmentDTO struct {
	Filename string `json:"filename"`
	Kind     string `json:"kind"`
	Text     string `json:"text"`
}

type messageResponse struct {
	ID          string          `json:"id"`
	Role        string          `json:"role"`
	Content     string          `json:"content"`
	Attachments []attachmentDTO `json:"attachments,omitempty"`
	Judge       *judgeResponse  `json:"judge,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

type conversationResponse struct {
	conversationSummary
	Messages []messageResponse `json:"messages"`
}

type recognizeResponse struct {
	Attachments []attachmentDTO `json:"attachments"`
}

type chatRequest struct {
	Question    string          `json:"question"`
	Model       string          `json:"model,omitempty"`
	Attachments []attachmentDTO `json:"attachments,omitempty"`
	Contestants []string        `json:"contestants,omitempty"`
}

type judgeResponse struct {
	Prediction string            `json:"prediction,omitempty"`
	ModelUsed  string            `json:"model_used"`
	Reasoning  string            `json:"judge_reasoning"`
	AllAnswers map[string]string `json:"all_answers"`
}

// ─────────────────────────────────────────────
// Session resolution
// ─────────────────────────────────────────────

// session resolves the caller's session from X-Session-ID, minting a fresh id
// when absent. The effective id always echoes back on the response.
func (s *Server) session(w http.ResponseWriter, r *http.Request) *domain.Session {
	id := r.Header.Get("X-Session-ID")
	if id == "" {
		id = uuid.NewString()
	}
	w.Header().Set("X-Session-ID", id)
	return s.sessions.GetOrCreate(domain.SessionID(id))
}

// ─────────────────────────────────────────────
// Concrete handlers
// ─────────────────────────────────────────────

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"models": s.opts.Models,
	})
}

func (s *Server) handlePreferences(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req preferencesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}

	sess := s.session(w, r)
	if req.Model != nil {
		if _, err := s.gateway.ResolveModel(domain.ModelID(*req.Model)); err != nil {
			badRequest(w, "unknown model id "+*req.Model)
			return
		}
		sess.Model = domain.ModelID(*req.Model)
	}
	if req.RetrievalEnabled != nil {
		sess.RetrievalEnabled = *req.RetrievalEnabled
	}
	if req.DisclaimerAccepted != nil {
		sess.DisclaimerAccepted = *req.DisclaimerAccepted
	}
	s.sessions.Save(sess)

	writeJSON(w, http.StatusOK, preferencesResponse{
		Model:              string(sess.Model),
		RetrievalEnabled:   sess.RetrievalEnabled,
		DisclaimerAccepted: sess.DisclaimerAccepted,
	})
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)

	switch r.Method {
	case http.MethodGet:
		convs, err := s.conv.List(r.Context(), sess.ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		out := make([]conversationSummary, 0, len(convs))
		for _, c := range convs {
			out = append(out, toSummary(c))
		}
		writeJSON(w, http.StatusOK, out)

	case http.MethodPost:
		conv, err := s.conv.CreateNew(r.Context(), sess.ID, "")
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toSummary(conv))

	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleConversationWithID(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)

	path := strings.TrimPrefix(r.URL.Path, "/api/conversations/")
	if path == "" {
		http.NotFound(w, r)
		return
	}
	parts := strings.Split(path, "/")
	id := parts[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}

	if id == "current" && len(parts) == 1 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		conv, err := s.conv.GetOrCreateCurrent(r.Context(), sess.ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toConversationResponse(conv))
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodDelete {
			methodNotAllowed(w)
			return
		}
		if err := s.conv.Delete(r.Context(), sess.ID, domain.ConversationID(id)); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if len(parts) == 2 && parts[1] == "switch" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		if err := s.conv.Switch(r.Context(), sess.ID, domain.ConversationID(id)); err != nil {
			writeError(w, r, err)
			return
		}
		conv, err := s.conv.Get(r.Context(), sess.ID, domain.ConversationID(id))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toConversationResponse(conv))
		return
	}

	http.NotFound(w, r)
}

func (s *Server) handleRecognize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	if err := r.ParseMultipartForm(s.opts.MaxFileSize); err != nil {
		badRequest(w, "invalid multipart body")
		return
	}
	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		badRequest(w, "no files uploaded")
		return
	}
	if len(files) > s.opts.MaxFiles {
		badRequest(w, "too many files")
		return
	}

	out := make([]attachmentDTO, 0, len(files))
	for _, fh := range files {
		dto, err := s.recognizeOne(r, fh)
		if err != nil {
			writeError(w, r, err)
			return
		}
		out = append(out, dto)
	}
	writeJSON(w, http.StatusOK, recognizeResponse{Attachments: out})
}

func (s *Server) recognizeOne(r *http.Request, fh *multipart.FileHeader) (attachmentDTO, error) {
	kind, err := kindForFilename(fh.Filename)
	if err != nil {
		return attachmentDTO{}, err
	}
	if fh.Size > s.opts.MaxFileSize {
		return attachmentDTO{}, &domain.PreconditionError{Reason: "file too large: " + fh.Filename}
	}

	f, err := fh.Open()
	if err != nil {
		return attachmentDTO{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, s.opts.MaxFileSize+1))
	if err != nil {
		return attachmentDTO{}, err
	}
	if int64(len(data)) > s.opts.MaxFileSize {
		return attachmentDTO{}, &domain.PreconditionError{Reason: "file too large: " + fh.Filename}
	}

	text, err := s.recognizer.Recognize(r.Context(), data, fh.Filename, kind)
	if err != nil {
		return attachmentDTO{}, err
	}
	return attachmentDTO{Filename: fh.Filename, Kind: string(kind), Text: text}, nil
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	sess := s.session(w, r)

	sink, err := newSSESink(w)
	if err != nil {
		writeError(w, r, err)
		return
	}

	err = s.chat.StreamTurn(r.Context(), sess, toTurnRequest(req), sink)
	if err != nil {
		// Preparation failed before any frame was written: report it as the
		// single frame of the stream.
		_ = sink.Send(relay.ErrorFrame(err.Error()))
	}
}

func (s *Server) handleChatJudge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	sess := s.session(w, r)

	verdict, err := s.chat.JudgeTurn(r.Context(), sess, toTurnRequest(req))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, judgeResponse{
		Prediction: verdict.Prediction,
		ModelUsed:  verdict.ModelUsed,
		Reasoning:  verdict.Reasoning,
		AllAnswers: verdict.Answers,
	})
}

// ─────────────────────────────────────────────
// Conversion helpers
// ─────────────────────────────────────────────

func toTurnRequest(req chatRequest) chat.TurnRequest {
	out := chat.TurnRequest{
		Question: req.Question,
		Model:    domain.ModelID(req.Model),
	}
	for _, a := range req.Attachments {
		out.Attachments = append(out.Attachments, domain.Attachment{
			Filename: a.Filename,
			Kind:     domain.AttachmentKind(a.Kind),
			Text:     a.Text,
		})
	}
	for _, c := range req.Contestants {
		out.Contestants = append(out.Contestants, domain.ModelID(c))
	}
	return out
}

func toSummary(c *domain.Conversation) conversationSummary {
	return conversationSummary{
		ID:           string(c.ID),
		Title:        c.Title,
		IsCurrent:    c.IsCurrent,
		MessageCount: len(c.Messages),
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

func toConversationResponse(c *domain.Conversation) conversationResponse {
	resp := conversationResponse{
		conversationSummary: toSummary(c),
		Messages:            make([]messageResponse, 0, len(c.Messages)),
	}
	for _, m := range c.Messages {
		mr := messageResponse{
			ID:        string(m.ID),
			Role:      string(m.Role),
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		}
		for _, a := range m.Attachments {
			mr.Attachments = append(mr.Attachments, attachmentDTO{
				Filename: a.Filename,
				Kind:     string(a.Kind),
				Text:     a.Text,
			})
		}
		if m.Judge != nil {
			mr.Judge = &judgeResponse{
				ModelUsed:  m.Judge.ModelUsed,
				Reasoning:  m.Judge.Reasoning,
				AllAnswers: m.Judge.Answers,
			}
		}
		resp.Messages = append(resp.Messages, mr)
	}
	return resp
}

func kindForFilename(name string) (domain.AttachmentKind, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png":
		return domain.AttachmentImage, nil
	case ".mp3", ".wav", ".m4a":
		return domain.AttachmentAudio, nil
	}
	return "", &domain.PreconditionError{Reason: "unsupported file type: " + name}
}

// ─────────────────────────────────────────────
// HTTP Helpers
// ─────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		observability.Logger().Error("encoding response failed", "error", err)
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
}
