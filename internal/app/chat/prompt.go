package chat

import (
	"fmt"
	"strings"

	"github.com/hjwen/counsel-agent/internal/domain"
)

// SystemPrompt is the assistant persona sent with every turn, single-model
// and judge alike.
const SystemPrompt = `你是一个专业的刑事法律咨询助手。
你的任务是回答用户关于刑事法律的问题。

你需要遵循以下规则：
1. **角色定位**：你不是法官，不能给出绝对的、确定的判决。请使用"可能"、"根据相似案例分析"等措辞。
2. **结合上下文**：你必须阅读并理解之前的对话历史，进行连贯的、有上下文的回答。
3. **优先使用RAG数据**：当用户提问时，会提供【系统检索到的相似历史案例】。你必须优先基于这些案例进行分析和预测。
4. **声明**：在回答开始，告诉用户你是什么模型；在回答的最后，声明这只是基于数据的预测，不构成正式的法律意见，建议咨询专业律师。
5. **补充检索**：如果现有案例不足以支撑你的分析，你可以在回答末尾输出一个形如 [RAG_QUERY: 检索关键词] 的标记，系统会为你补充检索相似案例。`

const noCasesPlaceholder = "本轮未检索到强相关的历史案例。"

// FormatCaseBlock renders retrieved case summaries the way the model prompt
// expects them: a numbered block per case with charges, statutes and the
// sentencing outcome.
func FormatCaseBlock(cases []domain.CaseSummary) string {
	if len(cases) == 0 {
		return noCasesPlaceholder
	}

	blocks := make([]string, 0, len(cases))
	for i, c := range cases {
		accusation := joinOrNA(c.Accusations)
		articles := joinIntsOrNA(c.Articles)
		block := fmt.Sprintf(`
【相似案例%d】
- 案情概要: %s
- 罪名: %s
- 相关法条: 《中华人民共和国刑法》第%s条
- 判罚结果: 判处有期徒刑%d个月，罚金%d元。
`, i+1, c.Fact, accusation, articles, c.ImprisonmentMonths, c.Fine)
		blocks = append(blocks, block)
	}
	return strings.Join(blocks, "\n")
}

// BuildUserTurn assembles the user-role content for one turn: the fresh case
// block, previously retrieved cases that still look relevant, and the
// question itself.
func BuildUserTurn(question string, fresh, history []domain.CaseSummary) string {
	var b strings.Builder
	b.WriteString("**【系统检索到的相似历史案例】**\n")
	b.WriteString(FormatCaseBlock(fresh))
	if len(history) > 0 {
		b.WriteString("\n\n**【先前轮次检索到的相关案例】**\n")
		b.WriteString(FormatCaseBlock(history))
	}
	b.WriteString("\n\n**【用户本轮提问】**\n")
	b.WriteString(question)
	b.WriteString("\n\n请根据以上信息、结合历史对话，回答我的问题。")
	return b.String()
}

// AttachmentText renders recognized attachments as labeled sections appended
// to the question before retrieval and model invocation.
func AttachmentText(atts []domain.Attachment) string {
	if len(atts) == 0 {
		return ""
	}
	var b strings.Builder
	for _, a := range atts {
		kind := "图片"
		if a.Kind == domain.AttachmentAudio {
			kind = "音频"
		}
		fmt.Fprintf(&b, "\n\n【附件（%s）%s 识别内容】\n%s", kind, a.Filename, a.Text)
	}
	return b.String()
}

// HistoryMessages converts stored messages into the provider-neutral turn
// shape.
func HistoryMessages(msgs []domain.Message) []domain.ChatMessage {
	out := make([]domain.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, domain.ChatMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	return out
}

func joinOrNA(parts []string) string {
	if len(parts) == 0 {
		return "N/A"
	}
	return strings.Join(parts, "、")
}

func joinIntsOrNA(nums []int) string {
	if len(nums) == 0 {
		return "N/A"
	}
	parts := make([]string, len(nums))
	for i, n := range nums {
		parts[i] = fmt.Sprintf("%d", n)
	}
	return strings.Join(parts, "、")
}
