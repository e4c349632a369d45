package service

import (
	"strings"

	"netsight-go/internal/model"
	"netsight-go/pkg/llm"
)

// DefaultHistoryLimit 是组装上下文时最多带入的历史消息条数。
const DefaultHistoryLimit = 12

const noPriorMessages = "No prior messages."

var defaultPreambles = map[string]string{
	model.ModeKnowledge: "You are a 5G telecom expert assistant. " +
		"Use only the given documents and prior messages for answers. " +
		"Explain concepts clearly with short, structured answers.",
	model.ModeAnalyst: "You are a 5G network operations analyst assistant. " +
		"You are given recent network metrics and may also see documentation. " +
		"Summarize current health and answer questions with data-backed reasoning. " +
		"If the data is insufficient, say so.",
}

// GenerationRequest 是发给生成服务的一次完整请求。
type GenerationRequest struct {
	Preamble string
	Prompt   string
}

// Messages 转换为 system + user 两条角色消息。
func (r GenerationRequest) Messages() []llm.Message {
	return []llm.Message{
		{Role: "system", Content: r.Preamble},
		{Role: "user", Content: r.Prompt},
	}
}

// ContextAssembler 按固定顺序拼接：指令前言、历史、辅助上下文、用户问题。
type ContextAssembler struct {
	preambles    map[string]string
	historyLimit int
}

// NewContextAssembler 创建组装器。overrides 中为空的模式使用内置前言。
func NewContextAssembler(historyLimit int, overrides map[string]string) *ContextAssembler {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	preambles := make(map[string]string, len(defaultPreambles))
	for mode, text := range defaultPreambles {
		preambles[mode] = text
		if o := strings.TrimSpace(overrides[mode]); o != "" {
			preambles[mode] = o
		}
	}
	return &ContextAssembler{preambles: preambles, historyLimit: historyLimit}
}

// HistoryLimit 返回历史消息上限。
func (a *ContextAssembler) HistoryLimit() int {
	return a.historyLimit
}

// Assemble recent 需按时间升序排列，超过上限时只保留最新的部分。
func (a *ContextAssembler) Assemble(session *model.ChatSession, recent []model.ChatMessage, auxiliary, question string) GenerationRequest {
	if len(recent) > a.historyLimit {
		recent = recent[len(recent)-a.historyLimit:]
	}

	var b strings.Builder
	b.WriteString("Here is prior conversation context:\n")
	b.WriteString(renderHistory(recent))
	b.WriteString("\n\nAdditional context:\n")
	b.WriteString(auxiliary)
	b.WriteString("\n\nUser question:\n")
	b.WriteString(question)

	return GenerationRequest{
		Preamble: a.preambles[session.Mode],
		Prompt:   b.String(),
	}
}

func renderHistory(messages []model.ChatMessage) string {
	if len(messages) == 0 {
		return noPriorMessages
	}
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		prefix := "Assistant"
		if m.Role == model.RoleUser {
			prefix = "User"
		}
		lines = append(lines, prefix+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}

// knowledgeAuxiliary 把检索片段拼成辅助上下文。
func knowledgeAuxiliary(sources []model.Source) string {
	if len(sources) == 0 {
		return "Relevant documents:\nNo relevant documents found."
	}
	texts := make([]string, len(sources))
	for i, s := range sources {
		texts[i] = s.Text
	}
	return "Relevant documents:\n" + strings.Join(texts, "\n\n")
}

func analystAuxiliary(summary string) string {
	return "Current network summary:\n" + summary
}
