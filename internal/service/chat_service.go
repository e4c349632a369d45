package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"netsight-go/internal/model"
	"netsight-go/internal/repository"
	"netsight-go/pkg/llm"
	"netsight-go/pkg/log"
)

// TurnState 是一轮对话在生成协调器中的状态。
type TurnState int

const (
	TurnPending TurnState = iota
	TurnStreaming
	TurnCommitting
	TurnDone
	TurnFailed
)

func (s TurnState) String() string {
	switch s {
	case TurnPending:
		return "pending"
	case TurnStreaming:
		return "streaming"
	case TurnCommitting:
		return "committing"
	case TurnDone:
		return "done"
	case TurnFailed:
		return "failed"
	default:
		return fmt.Sprintf("TurnState(%d)", int(s))
	}
}

// allowedTransitions 列出合法的状态迁移。
var allowedTransitions = map[TurnState][]TurnState{
	TurnPending:    {TurnStreaming, TurnFailed},
	TurnStreaming:  {TurnCommitting, TurnFailed},
	TurnCommitting: {TurnDone, TurnFailed},
}

// FragmentSink 接收生成的增量文本。返回错误表示调用方已断开。
type FragmentSink interface {
	WriteFragment(text string) error
}

// FragmentSinkFunc 让普通函数实现 FragmentSink。
type FragmentSinkFunc func(text string) error

func (f FragmentSinkFunc) WriteFragment(text string) error {
	return f(text)
}

// NetworkSummarizer 生成 analyst 模式的网络摘要。
type NetworkSummarizer interface {
	Build(ctx context.Context, question string) (string, error)
}

// TurnResult 描述一轮对话的最终结果。
type TurnResult struct {
	State            TurnState
	UserMessage      *model.ChatMessage
	AssistantMessage *model.ChatMessage
	// CallerGone 为 true 表示调用方在生成过程中断开。
	CallerGone bool
}

// ChatService 驱动一轮对话：保存用户消息、组装上下文、流式生成、完成后回写。
type ChatService interface {
	SendMessage(ctx context.Context, identity model.Identity, sessionID, content string, sink FragmentSink) (*TurnResult, error)
}

// ChatOptions 是生成协调器的可调参数。
type ChatOptions struct {
	RetrievalTopK int
	TurnLockTTL   time.Duration
}

type chatService struct {
	sessionRepo repository.SessionRepository
	messageRepo repository.MessageRepository
	turnLocks   repository.TurnLockRepository
	retrieval   RetrievalService
	summarizer  NetworkSummarizer
	assembler   *ContextAssembler
	llmClient   llm.Client
	opts        ChatOptions
	now         func() time.Time
}

// NewChatService 创建一个新的 ChatService 实例。turnLocks 为 nil 时不做会话级串行化。
func NewChatService(
	sessionRepo repository.SessionRepository,
	messageRepo repository.MessageRepository,
	turnLocks repository.TurnLockRepository,
	retrieval RetrievalService,
	summarizer NetworkSummarizer,
	assembler *ContextAssembler,
	llmClient llm.Client,
	opts ChatOptions,
) ChatService {
	if opts.RetrievalTopK <= 0 {
		opts.RetrievalTopK = 5
	}
	if opts.TurnLockTTL <= 0 {
		opts.TurnLockTTL = 5 * time.Minute
	}
	return &chatService{
		sessionRepo: sessionRepo,
		messageRepo: messageRepo,
		turnLocks:   turnLocks,
		retrieval:   retrieval,
		summarizer:  summarizer,
		assembler:   assembler,
		llmClient:   llmClient,
		opts:        opts,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// turn 保存一轮对话的状态和在开始生成前冻结的引用来源。
type turn struct {
	id       string
	session  *model.ChatSession
	question string
	state    TurnState
	sources  []model.Source
	answer   strings.Builder
}

func (t *turn) transition(to TurnState) {
	for _, next := range allowedTransitions[t.state] {
		if next == to {
			log.Infof("[ChatService] turn %s: %s -> %s", t.id, t.state, to)
			t.state = to
			return
		}
	}
	panic(fmt.Sprintf("illegal turn transition %s -> %s", t.state, to))
}

func (s *chatService) SendMessage(ctx context.Context, identity model.Identity, sessionID, content string, sink FragmentSink) (*TurnResult, error) {
	if strings.TrimSpace(content) == "" {
		return nil, invalidInput("message must not be empty")
	}
	session, err := s.sessionRepo.GetByIDAndOwner(ctx, sessionID, identity.ID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrNotFound
	}

	t := &turn{id: uuid.NewString(), session: session, question: content, state: TurnPending}
	if s.turnLocks != nil {
		ok, err := s.turnLocks.Acquire(ctx, session.ID, t.id, s.opts.TurnLockTTL)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrSessionBusy
		}
		defer func() {
			if err := s.turnLocks.Release(context.WithoutCancel(ctx), session.ID, t.id); err != nil {
				log.Warnf("[ChatService] 释放会话锁失败: %v", err)
			}
		}()
	}

	// Pending: 用户消息先落库，生成失败也不会丢失
	userMsg, err := s.appendUserMessage(ctx, t)
	if err != nil {
		return nil, err
	}
	result := &TurnResult{State: TurnPending, UserMessage: userMsg}

	recent, err := s.messageRepo.ListRecentIncluded(ctx, session.ID, s.assembler.HistoryLimit())
	if err != nil {
		t.transition(TurnFailed)
		result.State = t.state
		return result, err
	}
	auxiliary := s.buildAuxiliary(ctx, identity, t)
	req := s.assembler.Assemble(session, recent, auxiliary, content)

	// Streaming
	t.transition(TurnStreaming)
	callerGone, genErr := s.stream(ctx, t, req, sink)
	result.CallerGone = callerGone

	switch {
	case genErr == nil:
	case callerGone:
		log.Infof("[ChatService] 调用方已断开, session: %s, 已缓冲 %d 字节", session.ID, t.answer.Len())
		if t.answer.Len() == 0 {
			t.transition(TurnFailed)
			result.State = t.state
			cause := errCallerGone
			if ctx.Err() != nil {
				cause = context.Cause(ctx)
			}
			return result, fmt.Errorf("no output before disconnect: %w", cause)
		}
	default:
		log.Errorf("[ChatService] 生成失败, session: %s, err: %v", session.ID, genErr)
		t.transition(TurnFailed)
		result.State = t.state
		return result, &GenerationError{Err: genErr}
	}

	// Committing: 与调用方的取消解耦，保证已生成的内容落库
	t.transition(TurnCommitting)
	assistantMsg, err := s.commit(context.WithoutCancel(ctx), t)
	if err != nil {
		t.transition(TurnFailed)
		result.State = t.state
		return result, err
	}
	t.transition(TurnDone)
	result.State = t.state
	result.AssistantMessage = assistantMsg
	return result, nil
}

func (s *chatService) appendUserMessage(ctx context.Context, t *turn) (*model.ChatMessage, error) {
	msg := &model.ChatMessage{
		ID:                uuid.NewString(),
		SessionID:         t.session.ID,
		Role:              model.RoleUser,
		Content:           t.question,
		ShortContent:      compressMessage(t.question),
		IncludedInContext: true,
		Sources:           datatypes.JSONSlice[model.Source]{},
		CreatedAt:         s.now(),
	}
	if err := s.messageRepo.Create(ctx, msg); err != nil {
		return nil, err
	}

	count, err := s.messageRepo.CountBySession(ctx, t.session.ID)
	if err != nil {
		log.Warnf("[ChatService] 统计会话消息失败, 跳过自动标题: %v", err)
		return msg, nil
	}
	if count == 1 {
		title := autoTitle(t.question)
		if err := s.sessionRepo.SetTitle(ctx, t.session.ID, title); err != nil {
			log.Warnf("[ChatService] 写入自动标题失败: %v", err)
		} else {
			t.session.Title = title
		}
	}
	return msg, nil
}

// buildAuxiliary 检索或摘要失败时降级为警告文本，不中断本轮对话。
func (s *chatService) buildAuxiliary(ctx context.Context, identity model.Identity, t *turn) string {
	switch t.session.Mode {
	case model.ModeKnowledge:
		sources, err := s.retrieval.Retrieve(ctx, identity, t.session, t.question, s.opts.RetrievalTopK)
		if err != nil {
			log.Warnf("[ChatService] 文档检索失败, 降级处理: %v", err)
			return retrievalWarning("document retrieval", err)
		}
		// 冻结来源快照，生成过程中范围变化不影响本轮回写
		t.sources = append([]model.Source(nil), sources...)
		return knowledgeAuxiliary(sources)
	case model.ModeAnalyst:
		if s.summarizer == nil {
			return retrievalWarning("network summary", errors.New("no telemetry source configured"))
		}
		summary, err := s.summarizer.Build(ctx, t.question)
		if err != nil {
			log.Warnf("[ChatService] 网络摘要生成失败, 降级处理: %v", err)
			return retrievalWarning("network summary", err)
		}
		return analystAuxiliary(summary)
	default:
		return ""
	}
}

// errCallerGone 用于在调用方断开后中止读取生成流。
var errCallerGone = errors.New("caller disconnected")

// stream 转发每个片段并累积已送达的回答。调用方断开后立即放弃生成。
func (s *chatService) stream(ctx context.Context, t *turn, req GenerationRequest, sink FragmentSink) (bool, error) {
	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sinkFailed := false
	err := s.llmClient.StreamChatMessages(genCtx, req.Messages(), nil, func(fragment string) error {
		if err := sink.WriteFragment(fragment); err != nil {
			sinkFailed = true
			cancel()
			return errCallerGone
		}
		// 只缓冲调用方已收到的片段
		t.answer.WriteString(fragment)
		return nil
	})
	callerGone := sinkFailed || ctx.Err() != nil
	return callerGone, err
}

func (s *chatService) commit(ctx context.Context, t *turn) (*model.ChatMessage, error) {
	answer := t.answer.String()
	sources := datatypes.JSONSlice[model.Source]{}
	if len(t.sources) > 0 {
		sources = datatypes.NewJSONSlice(t.sources)
	}
	msg := &model.ChatMessage{
		ID:                uuid.NewString(),
		SessionID:         t.session.ID,
		Role:              model.RoleAssistant,
		Content:           answer,
		ShortContent:      compressMessage(answer),
		IncludedInContext: true,
		Sources:           sources,
		CreatedAt:         s.now(),
	}
	if err := s.messageRepo.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("persist assistant message: %w", err)
	}
	// 时间戳更新失败只会让 updated_at 略旧，不影响正确性
	if err := s.sessionRepo.Touch(ctx, t.session.ID, s.now()); err != nil {
		log.Warnf("[ChatService] 更新会话时间失败, session: %s, err: %v", t.session.ID, err)
	}
	log.Infof("[ChatService] 本轮对话已保存, session: %s, 回答长度: %d, 来源: %d", t.session.ID, len(answer), len(sources))
	return msg, nil
}
