package httpadapter_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	httpadapter "github.com/hjwen/counsel-agent/internal/adapters/http"
	"github.com/hjwen/counsel-agent/internal/adapters/storage/memory"
	"github.com/hjwen/counsel-agent/internal/app/chat"
	"github.com/hjwen/counsel-agent/internal/app/conversation"
	"github.com/hjwen/counsel-agent/internal/app/judge"
	"github.com/hjwen/counsel-agent/internal/app/relay"
	"github.com/hjwen/counsel-agent/internal/domain"
)

// scriptedGateway answers from a fixed table; streams split the answer into
// single-rune tokens.
type scriptedGateway struct {
	answers map[domain.ModelID]string
}

func (g *scriptedGateway) ResolveModel(id domain.ModelID) (string, error) {
	if _, ok := g.answers[id]; !ok {
		return "", errors.New("unknown model")
	}
	return string(id) + "-v1", nil
}

func (g *scriptedGateway) Complete(_ context.Context, id domain.ModelID, _ domain.ChatRequest) (string, error) {
	text, ok := g.answers[id]
	if !ok {
		return "", errors.New("unknown model")
	}
	return text, nil
}

func (g *scriptedGateway) CompleteStream(_ context.Context, id domain.ModelID, _ domain.ChatRequest) (*domain.ChatStream, error) {
	name, err := g.ResolveModel(id)
	if err != nil {
		return nil, err
	}

	tokens := make(chan string, 64)
	for _, r := range g.answers[id] {
		tokens <- string(r)
	}
	close(tokens)
	errs := make(chan error, 1)
	close(errs)

	return &domain.ChatStream{Model: name, Tokens: tokens, Err: errs}, nil
}

type stubRecognizer struct{}

func (stubRecognizer) Recognize(_ context.Context, _ []byte, filename string, kind domain.AttachmentKind) (string, error) {
	return fmt.Sprintf("recognized %s (%s)", filename, kind), nil
}

func newTestServer(t *testing.T, gw *scriptedGateway) http.Handler {
	t.Helper()

	store := memory.NewStore()
	sessions := memory.NewSessionRegistry("deepseek")
	convSvc := conversation.NewService(store)
	judgeOrch := judge.NewOrchestrator(gw, time.Minute)
	chatSvc := chat.NewService(convSvc, nil, gw, judgeOrch, chat.Params{
		TopK:     2,
		MinScore: 0.4,
		MaxTurns: 10,
		Arbiter:  "gpt4o",
	})

	return httpadapter.NewServer(convSvc, chatSvc, sessions, gw, stubRecognizer{}, httpadapter.Options{
		MaxFileSize: 1 << 20,
		MaxFiles:    5,
		Models:      []string{"deepseek", "gpt4o"},
	})
}

func defaultGateway() *scriptedGateway {
	return &scriptedGateway{answers: map[domain.ModelID]string{
		"deepseek": "您好，根据刑法相关规定……",
		"gpt4o":    `{"reasoning": "deepseek 更准确", "best_answer": "您好，根据刑法相关规定……"}`,
	}}
}

func doJSON(t *testing.T, srv http.Handler, method, path, sessionID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if sessionID != "" {
		req.Header.Set("X-Session-ID", sessionID)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func acceptDisclaimer(t *testing.T, srv http.Handler, sessionID string) {
	t.Helper()
	w := doJSON(t, srv, http.MethodPost, "/api/session/preferences", sessionID,
		map[string]any{"disclaimer_accepted": true})
	require.Equal(t, http.StatusOK, w.Code)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, defaultGateway())
	w := doJSON(t, srv, http.MethodGet, "/healthz", "", nil)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "deepseek")
}

func TestPreferencesMintsSessionID(t *testing.T) {
	srv := newTestServer(t, defaultGateway())

	w := doJSON(t, srv, http.MethodPost, "/api/session/preferences", "",
		map[string]any{"disclaimer_accepted": true})
	require.Equal(t, http.StatusOK, w.Code)
	minted := w.Result().Header.Get("X-Session-ID")
	require.NotEmpty(t, minted)

	// The minted id addresses the same session afterwards.
	w = doJSON(t, srv, http.MethodPost, "/api/session/preferences", minted, map[string]any{})
	require.Equal(t, http.StatusOK, w.Code)

	var prefs struct {
		Model              string `json:"model"`
		DisclaimerAccepted bool   `json:"disclaimer_accepted"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &prefs))
	require.Equal(t, "deepseek", prefs.Model)
	require.True(t, prefs.DisclaimerAccepted)
}

func TestPreferencesRejectsUnknownModel(t *testing.T) {
	srv := newTestServer(t, defaultGateway())
	w := doJSON(t, srv, http.MethodPost, "/api/session/preferences", "s1",
		map[string]any{"model": "gpt5"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConversationLifecycle(t *testing.T) {
	srv := newTestServer(t, defaultGateway())
	const sid = "lifecycle-session"

	// Creating two conversations leaves only the second current.
	w := doJSON(t, srv, http.MethodPost, "/api/conversations", sid, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var first struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))

	w = doJSON(t, srv, http.MethodPost, "/api/conversations", sid, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/conversations", sid, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []struct {
		ID        string `json:"id"`
		Title     string `json:"title"`
		IsCurrent bool   `json:"is_current"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 2)

	currents := 0
	for _, c := range list {
		require.Equal(t, domain.DefaultConversationTitle, c.Title)
		if c.IsCurrent {
			currents++
		}
	}
	require.Equal(t, 1, currents)

	// Switch back to the first.
	w = doJSON(t, srv, http.MethodPost, "/api/conversations/"+first.ID+"/switch", sid, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/conversations/current", sid, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var current struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &current))
	require.Equal(t, first.ID, current.ID)

	// Delete it; the sibling takes over.
	w = doJSON(t, srv, http.MethodDelete, "/api/conversations/"+first.ID, sid, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/conversations", sid, nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	require.True(t, list[0].IsCurrent)

	w = doJSON(t, srv, http.MethodPost, "/api/conversations/missing/switch", sid, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestChatStreamEndToEnd(t *testing.T) {
	srv := newTestServer(t, defaultGateway())
	const sid = "stream-session"
	acceptDisclaimer(t, srv, sid)

	w := doJSON(t, srv, http.MethodPost, "/api/chat/stream", sid,
		map[string]any{"question": "盗窃罪如何量刑？"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Result().Header.Get("Content-Type"), "text/event-stream")

	var events []string
	var full string
	dec := relay.NewDecoder(w.Body)
	for {
		frame, err := dec.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		events = append(events, frame.Event)
		if frame.Event == relay.EventEndOfStream {
			var payload struct {
				FullResponse string `json:"full_response"`
			}
			require.NoError(t, json.Unmarshal(frame.Data, &payload))
			full = payload.FullResponse
		}
	}

	require.Equal(t, relay.EventModelInfo, events[0])
	require.Equal(t, relay.EventEndOfStream, events[len(events)-1])
	require.Equal(t, "您好，根据刑法相关规定……", full)

	// The turn is persisted and the conversation renamed after the question.
	w = doJSON(t, srv, http.MethodGet, "/api/conversations/current", sid, nil)
	var conv struct {
		Title    string `json:"title"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &conv))
	require.Equal(t, "盗窃罪如何量刑？", conv.Title)
	require.Len(t, conv.Messages, 2)
	require.Equal(t, "user", conv.Messages[0].Role)
	require.Equal(t, "assistant", conv.Messages[1].Role)
}

func TestChatStreamRequiresDisclaimer(t *testing.T) {
	srv := newTestServer(t, defaultGateway())

	w := doJSON(t, srv, http.MethodPost, "/api/chat/stream", "no-disclaimer",
		map[string]any{"question": "问题"})
	require.Equal(t, http.StatusOK, w.Code)

	dec := relay.NewDecoder(w.Body)
	frame, err := dec.Next()
	require.NoError(t, err)
	require.Equal(t, relay.EventError, frame.Event)
	require.Contains(t, string(frame.Data), "disclaimer")

	_, err = dec.Next()
	require.Equal(t, io.EOF, err)
}

func TestChatJudgeEndToEnd(t *testing.T) {
	gw := defaultGateway()
	gw.answers["zhipu"] = "另一个回答"
	srv := newTestServer(t, gw)
	const sid = "judge-session"
	acceptDisclaimer(t, srv, sid)

	w := doJSON(t, srv, http.MethodPost, "/api/chat/judge", sid, map[string]any{
		"question":    "诈骗罪的构成要件？",
		"contestants": []string{"deepseek", "zhipu"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var verdict struct {
		Prediction string            `json:"prediction"`
		ModelUsed  string            `json:"model_used"`
		Reasoning  string            `json:"judge_reasoning"`
		AllAnswers map[string]string `json:"all_answers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &verdict))
	require.Equal(t, "您好，根据刑法相关规定……", verdict.Prediction)
	require.Equal(t, "gpt4o-v1", verdict.ModelUsed)
	require.Equal(t, "deepseek 更准确", verdict.Reasoning)
	require.Equal(t, map[string]string{
		"deepseek": "您好，根据刑法相关规定……",
		"zhipu":    "另一个回答",
	}, verdict.AllAnswers)
}

func TestChatJudgeWithoutContestants(t *testing.T) {
	srv := newTestServer(t, defaultGateway())
	const sid = "judge-bad"
	acceptDisclaimer(t, srv, sid)

	w := doJSON(t, srv, http.MethodPost, "/api/chat/judge", sid,
		map[string]any{"question": "问题"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecognizeUploads(t *testing.T) {
	srv := newTestServer(t, defaultGateway())

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("files", "evidence.png")
	require.NoError(t, err)
	_, err = part.Write([]byte("fake-image-bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/attachments/recognize", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Session-ID", "upload-session")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Attachments []struct {
			Filename string `json:"filename"`
			Kind     string `json:"kind"`
			Text     string `json:"text"`
		} `json:"attachments"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Attachments, 1)
	require.Equal(t, "image", resp.Attachments[0].Kind)
	require.Equal(t, "recognized evidence.png (image)", resp.Attachments[0].Text)
}

func TestRecognizeRejectsUnsupportedType(t *testing.T) {
	srv := newTestServer(t, defaultGateway())

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("files", "contract.pdf")
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/attachments/recognize", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "unsupported file type")
}
