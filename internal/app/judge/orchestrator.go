// Package judge fans one question out to several contestant models and asks
// an arbiter model to pick the best answer.
package judge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hjwen/counsel-agent/internal/domain"
	"github.com/hjwen/counsel-agent/internal/observability"
)

// Input carries everything one judge run needs. Contestants all receive the
// identical (System, History, UserTurn) context; Question and RAGText are
// re-stated verbatim inside the arbitration prompt.
type Input struct {
	Question    string
	RAGText     string
	System      string
	History     []domain.ChatMessage
	UserTurn    string
	Contestants []domain.ModelID
	Arbiter     domain.ModelID
}

// Verdict is the arbitrated outcome. Answers holds every contestant's raw
// answer, error placeholders included.
type Verdict struct {
	Prediction string
	ModelUsed  string
	Reasoning  string
	Answers    map[string]string
}

type Orchestrator struct {
	gateway domain.ModelGateway
	timeout time.Duration
}

// NewOrchestrator builds a judge over the gateway. timeout bounds each
// contestant call individually; the arbiter call runs under the request
// context.
func NewOrchestrator(gateway domain.ModelGateway, timeout time.Duration) *Orchestrator {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Orchestrator{
		gateway: gateway,
		timeout: timeout,
	}
}

// Run executes the fan-out, joins all contestants, and arbitrates. A
// contestant failure degrades to an error-string answer in its slot; the
// arbiter always sees the full roster. An arbiter failure (provider error or
// unparseable verdict) is fatal to the run.
func (o *Orchestrator) Run(ctx context.Context, in Input) (*Verdict, error) {
	if len(in.Contestants) == 0 {
		return nil, &domain.PreconditionError{Reason: "judge mode requires at least one contestant"}
	}

	log := observability.LoggerFromContext(ctx).With(
		"contestants", len(in.Contestants),
		"arbiter", in.Arbiter,
	)
	log.Info("judge fan-out started")

	// One result slot per contestant; no shared map mutation across tasks.
	answers := make([]string, len(in.Contestants))

	var g errgroup.Group
	for i, id := range in.Contestants {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, o.timeout)
			defer cancel()

			start := time.Now()
			text, err := o.gateway.Complete(cctx, id, domain.ChatRequest{
				System:  in.System,
				History: in.History,
				User:    in.UserTurn,
			})
			if err != nil {
				log.Warn("contestant failed",
					"contestant", id,
					"elapsed_ms", time.Since(start).Milliseconds(),
					"error", err,
				)
				answers[i] = fmt.Sprintf("调用模型失败: %v", err)
				return nil
			}
			answers[i] = text
			return nil
		})
	}
	// Contestant errors are captured in their slots, never returned.
	_ = g.Wait()

	all := make(map[string]string, len(in.Contestants))
	for i, id := range in.Contestants {
		all[string(id)] = answers[i]
	}

	arbiterModel, err := o.gateway.ResolveModel(in.Arbiter)
	if err != nil {
		return nil, &domain.PreconditionError{Reason: fmt.Sprintf("unknown arbiter model %q", in.Arbiter)}
	}

	prompt := buildArbitrationPrompt(in, answers)
	// The arbitration prompt is the sole system message.
	rawVerdict, err := o.gateway.Complete(ctx, in.Arbiter, domain.ChatRequest{System: prompt})
	if err != nil {
		return nil, &domain.ProviderError{Model: arbiterModel, Err: err}
	}

	reasoning, best, err := ParseVerdict(rawVerdict)
	if err != nil {
		return nil, err
	}

	log.Info("judge verdict ready", "reasoning_len", len(reasoning))
	return &Verdict{
		Prediction: best,
		ModelUsed:  arbiterModel,
		Reasoning:  reasoning,
		Answers:    all,
	}, nil
}

// buildArbitrationPrompt embeds the original question, the retrieval text,
// the instructions the contestants saw, and each contestant's full answer
// labeled by id.
func buildArbitrationPrompt(in Input, answers []string) string {
	var b strings.Builder
	b.WriteString("你是一名严格的评审。多个法律咨询模型针对同一问题分别给出了回答，请你从中选出最好的一个。\n\n")

	b.WriteString("【用户问题】\n")
	b.WriteString(in.Question)
	b.WriteString("\n\n【系统检索到的相似历史案例】\n")
	b.WriteString(in.RAGText)
	b.WriteString("\n\n【参赛模型收到的系统指令】\n")
	b.WriteString(in.System)

	b.WriteString("\n\n【各模型的回答】\n")
	for i, id := range in.Contestants {
		fmt.Fprintf(&b, "\n<answer model=%q>\n%s\n</answer>\n", string(id), answers[i])
	}

	b.WriteString("\n请综合准确性、案例引用质量和回答完整性进行评审，只输出一个 JSON 对象，不要输出其他内容：\n")
	b.WriteString(`{"reasoning": "你的评审理由", "best_answer": "最佳回答的原文"}`)
	b.WriteString("\nbest_answer 必须逐字复制所选模型的完整回答。")
	return b.String()
}
