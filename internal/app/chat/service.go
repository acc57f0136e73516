// Package chat assembles one consultation turn: preconditions, attachment
// text, precedent retrieval, history windowing, and dispatch to either the
// streaming relay or the judge.
package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/hjwen/counsel-agent/internal/app/conversation"
	"github.com/hjwen/counsel-agent/internal/app/judge"
	"github.com/hjwen/counsel-agent/internal/app/relay"
	"github.com/hjwen/counsel-agent/internal/app/retrieval"
	"github.com/hjwen/counsel-agent/internal/domain"
	"github.com/hjwen/counsel-agent/internal/observability"
)

// Secondary retrieval triggered by an in-stream directive.
const (
	secondaryTopK     = 3
	secondaryMinScore = 0.4
)

type Service struct {
	conv      *conversation.Service
	retrieval *retrieval.Service
	gateway   domain.ModelGateway
	judge     *judge.Orchestrator

	topK     int
	minScore float64
	maxTurns int
	arbiter  domain.ModelID
}

type Params struct {
	TopK     int
	MinScore float64
	MaxTurns int
	Arbiter  domain.ModelID
}

// NewService wires the turn pipeline. retrievalSvc may be nil when the
// backend failed to initialize; every turn then runs with an empty case
// list.
func NewService(
	conv *conversation.Service,
	retrievalSvc *retrieval.Service,
	gateway domain.ModelGateway,
	judgeOrch *judge.Orchestrator,
	p Params,
) *Service {
	return &Service{
		conv:      conv,
		retrieval: retrievalSvc,
		gateway:   gateway,
		judge:     judgeOrch,
		topK:      p.TopK,
		minScore:  p.MinScore,
		maxTurns:  p.MaxTurns,
		arbiter:   p.Arbiter,
	}
}

// TurnRequest is one user turn. Contestants switches the turn into judge
// mode; Model overrides the session's selected model for this turn only.
type TurnRequest struct {
	Question    string
	Attachments []domain.Attachment
	Model       domain.ModelID
	Contestants []domain.ModelID
}

// preparedTurn is everything the relay and judge paths share.
type preparedTurn struct {
	conv     *domain.Conversation
	session  domain.SessionID
	question string // raw user question, as persisted
	userMsg  domain.Message

	model     domain.ModelID
	system    string
	history   []domain.ChatMessage
	userTurn  string
	ragText   string
	summaries []domain.CaseSummary
}

// prepare runs every check and lookup that must happen before a provider is
// invoked. NotFound/Precondition failures surface here, synchronously.
func (s *Service) prepare(ctx context.Context, sess *domain.Session, req TurnRequest) (*preparedTurn, error) {
	if !sess.DisclaimerAccepted {
		return nil, &domain.PreconditionError{Reason: "disclaimer not accepted"}
	}

	question := strings.TrimSpace(req.Question)
	if question == "" && len(req.Attachments) == 0 {
		return nil, &domain.PreconditionError{Reason: "empty question"}
	}

	model := sess.Model
	if req.Model != "" {
		model = req.Model
	}
	if _, err := s.gateway.ResolveModel(model); err != nil {
		return nil, &domain.PreconditionError{Reason: fmt.Sprintf("unknown model id %q", model)}
	}
	for _, id := range req.Contestants {
		if _, err := s.gateway.ResolveModel(id); err != nil {
			return nil, &domain.PreconditionError{Reason: fmt.Sprintf("unknown contestant model id %q", id)}
		}
	}

	conv, err := s.conv.GetOrCreateCurrent(ctx, sess.ID)
	if err != nil {
		return nil, err
	}

	effective := question + AttachmentText(req.Attachments)

	var fresh []domain.CaseSummary
	var relevant []domain.CaseSummary
	if sess.RetrievalEnabled && s.retrieval.Ready() {
		cases, err := s.retrieval.Search(ctx, effective, s.topK, s.minScore)
		if err != nil {
			// Degrade to an empty case list rather than failing the turn.
			observability.LoggerFromContext(ctx).Warn("retrieval degraded", "error", err)
		} else {
			fresh = s.retrieval.Summarize(cases, effective)
		}
		relevant = s.retrieval.RelevantHistory(conv, effective)
	}

	userMsg := s.conv.NewMessage(domain.RoleUser, question)
	userMsg.Attachments = req.Attachments

	return &preparedTurn{
		conv:      conv,
		session:   sess.ID,
		question:  question,
		userMsg:   userMsg,
		model:     model,
		system:    SystemPrompt,
		history:   HistoryMessages(Window(conv.Messages, s.maxTurns)),
		userTurn:  BuildUserTurn(effective, fresh, relevant),
		ragText:   FormatCaseBlock(fresh),
		summaries: fresh,
	}, nil
}

// StreamTurn runs the single-model path. Preparation failures return before
// any frame is written; once the relay starts, failures become error frames
// and the returned error is nil.
func (s *Service) StreamTurn(ctx context.Context, sess *domain.Session, req TurnRequest, sink relay.Sink) error {
	pt, err := s.prepare(ctx, sess, req)
	if err != nil {
		return err
	}

	stream, err := s.gateway.CompleteStream(ctx, pt.model, domain.ChatRequest{
		System:  pt.system,
		History: pt.history,
		User:    pt.userTurn,
	})
	if err != nil {
		observability.LoggerFromContext(ctx).Error("opening upstream stream failed", "model", pt.model, "error", err)
		_ = sink.Send(relay.ErrorFrame((&domain.ProviderError{Model: string(pt.model), Err: err}).Error()))
		return nil
	}

	return relay.Run(ctx, stream, sink, relay.Hooks{
		RetrievalReady: func() bool {
			return sess.RetrievalEnabled && s.retrieval.Ready()
		},
		Search: func(ctx context.Context, query string) ([]domain.CaseSummary, error) {
			cases, err := s.retrieval.Search(ctx, query, secondaryTopK, secondaryMinScore)
			if err != nil {
				return nil, err
			}
			return s.retrieval.Summarize(cases, query), nil
		},
		Persist: func(ctx context.Context, cleanText string, extra []domain.CaseSummary) error {
			assistant := s.conv.NewMessage(domain.RoleAssistant, cleanText)
			return s.persistTurn(ctx, pt, assistant, extra)
		},
	})
}

// JudgeTurn runs the fan-out path and persists the arbitrated answer.
func (s *Service) JudgeTurn(ctx context.Context, sess *domain.Session, req TurnRequest) (*judge.Verdict, error) {
	pt, err := s.prepare(ctx, sess, req)
	if err != nil {
		return nil, err
	}

	verdict, err := s.judge.Run(ctx, judge.Input{
		Question:    pt.question,
		RAGText:     pt.ragText,
		System:      pt.system,
		History:     pt.history,
		UserTurn:    pt.userTurn,
		Contestants: req.Contestants,
		Arbiter:     s.arbiter,
	})
	if err != nil {
		return nil, err
	}

	assistant := s.conv.NewMessage(domain.RoleAssistant, verdict.Prediction)
	assistant.Judge = &domain.JudgeData{
		ModelUsed: verdict.ModelUsed,
		Reasoning: verdict.Reasoning,
		Answers:   verdict.Answers,
	}
	if err := s.persistTurn(ctx, pt, assistant, nil); err != nil {
		return nil, err
	}
	return verdict, nil
}

func (s *Service) persistTurn(ctx context.Context, pt *preparedTurn, assistant domain.Message, extra []domain.CaseSummary) error {
	msgs := []domain.Message{pt.userMsg, assistant}
	cases := append(append([]domain.CaseSummary(nil), pt.summaries...), extra...)
	if err := s.conv.AppendAndPersist(ctx, pt.session, pt.conv.ID, msgs, cases); err != nil {
		return err
	}
	return s.conv.RenameIfDefault(ctx, pt.session, pt.conv.ID, pt.question)
}
