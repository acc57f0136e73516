package judge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hjwen/counsel-agent/internal/domain"
)

// stubGateway scripts Complete by model id and records the requests it saw.
type stubGateway struct {
	mu       sync.Mutex
	answers  map[domain.ModelID]string
	failures map[domain.ModelID]error
	requests map[domain.ModelID]domain.ChatRequest
}

func newStubGateway() *stubGateway {
	return &stubGateway{
		answers:  map[domain.ModelID]string{},
		failures: map[domain.ModelID]error{},
		requests: map[domain.ModelID]domain.ChatRequest{},
	}
}

func (g *stubGateway) ResolveModel(id domain.ModelID) (string, error) {
	if id == "unknown" {
		return "", errors.New("unknown model")
	}
	return string(id) + "-resolved", nil
}

func (g *stubGateway) Complete(_ context.Context, id domain.ModelID, req domain.ChatRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests[id] = req
	if err := g.failures[id]; err != nil {
		return "", err
	}
	return g.answers[id], nil
}

func (g *stubGateway) CompleteStream(context.Context, domain.ModelID, domain.ChatRequest) (*domain.ChatStream, error) {
	return nil, errors.New("not used")
}

func TestRunPicksArbitratedAnswer(t *testing.T) {
	gw := newStubGateway()
	gw.answers["c1"] = "A"
	gw.answers["c2"] = "B"
	gw.answers["gpt4o"] = `{"reasoning": "A is better", "best_answer": "A"}`

	o := NewOrchestrator(gw, time.Minute)
	verdict, err := o.Run(context.Background(), Input{
		Question:    "question",
		System:      "system",
		UserTurn:    "turn",
		Contestants: []domain.ModelID{"c1", "c2"},
		Arbiter:     "gpt4o",
	})
	require.NoError(t, err)

	require.Equal(t, "A", verdict.Prediction)
	require.Equal(t, "A is better", verdict.Reasoning)
	require.Equal(t, "gpt4o-resolved", verdict.ModelUsed)
	require.Equal(t, map[string]string{"c1": "A", "c2": "B"}, verdict.Answers)

	// Every contestant got the identical context.
	require.Equal(t, gw.requests["c1"], gw.requests["c2"])
	require.Equal(t, "system", gw.requests["c1"].System)
	require.Equal(t, "turn", gw.requests["c1"].User)
}

func TestRunContestantFailureDegrades(t *testing.T) {
	gw := newStubGateway()
	gw.answers["c1"] = "好的回答"
	gw.failures["c2"] = errors.New("timeout")
	gw.answers["gpt4o"] = `{"reasoning": "c2 failed", "best_answer": "好的回答"}`

	o := NewOrchestrator(gw, time.Minute)
	verdict, err := o.Run(context.Background(), Input{
		Contestants: []domain.ModelID{"c1", "c2"},
		Arbiter:     "gpt4o",
	})
	require.NoError(t, err)

	require.Equal(t, "好的回答", verdict.Answers["c1"])
	require.Contains(t, verdict.Answers["c2"], "调用模型失败")
	require.Contains(t, verdict.Answers["c2"], "timeout")
}

func TestRunNoContestants(t *testing.T) {
	o := NewOrchestrator(newStubGateway(), time.Minute)
	_, err := o.Run(context.Background(), Input{Arbiter: "gpt4o"})

	var precond *domain.PreconditionError
	require.ErrorAs(t, err, &precond)
}

func TestRunUnknownArbiter(t *testing.T) {
	gw := newStubGateway()
	gw.answers["c1"] = "A"

	o := NewOrchestrator(gw, time.Minute)
	_, err := o.Run(context.Background(), Input{
		Contestants: []domain.ModelID{"c1"},
		Arbiter:     "unknown",
	})

	var precond *domain.PreconditionError
	require.ErrorAs(t, err, &precond)
}

func TestRunArbiterProviderFailureIsFatal(t *testing.T) {
	gw := newStubGateway()
	gw.answers["c1"] = "A"
	gw.failures["gpt4o"] = errors.New("503")

	o := NewOrchestrator(gw, time.Minute)
	_, err := o.Run(context.Background(), Input{
		Contestants: []domain.ModelID{"c1"},
		Arbiter:     "gpt4o",
	})

	var provider *domain.ProviderError
	require.ErrorAs(t, err, &provider)
	require.Equal(t, "gpt4o-resolved", provider.Model)
}

func TestRunUnparseableVerdictIsFatal(t *testing.T) {
	gw := newStubGateway()
	gw.answers["c1"] = "A"
	gw.answers["gpt4o"] = "freeform prose, no JSON"

	o := NewOrchestrator(gw, time.Minute)
	_, err := o.Run(context.Background(), Input{
		Contestants: []domain.ModelID{"c1"},
		Arbiter:     "gpt4o",
	})

	var parseErr *domain.VerdictParseError
	require.ErrorAs(t, err, &parseErr)
	require.Equal(t, "freeform prose, no JSON", parseErr.Raw)
}

func TestRunArbitrationPromptCarriesRoster(t *testing.T) {
	gw := newStubGateway()
	gw.answers["c1"] = "回答一"
	gw.answers["c2"] = "回答二"
	gw.answers["gpt4o"] = `{"reasoning": "r", "best_answer": "回答一"}`

	o := NewOrchestrator(gw, time.Minute)
	_, err := o.Run(context.Background(), Input{
		Question:    "盗窃罪的量刑标准",
		RAGText:     "【相似案例1】...",
		Contestants: []domain.ModelID{"c1", "c2"},
		Arbiter:     "gpt4o",
	})
	require.NoError(t, err)

	prompt := gw.requests["gpt4o"].System
	require.Contains(t, prompt, "盗窃罪的量刑标准")
	require.Contains(t, prompt, "【相似案例1】")
	require.Contains(t, prompt, "回答一")
	require.Contains(t, prompt, "回答二")
	require.Contains(t, prompt, `"best_answer"`)
	// The arbitration prompt is the sole system message; no user turn.
	require.Empty(t, gw.requests["gpt4o"].User)
}
