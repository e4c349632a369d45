package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"netsight-go/internal/model"
	"netsight-go/internal/repository"
	"netsight-go/pkg/log"
)

const untitledSession = "Untitled chat"

var defaultTitles = map[string]string{
	model.ModeKnowledge: "Knowledge Chat",
	model.ModeAnalyst:   "Analyst Chat",
}

// SessionService 管理会话和消息记录，以及上下文记忆的取舍。
type SessionService interface {
	CreateSession(ctx context.Context, identity model.Identity, mode, title string) (*model.ChatSession, error)
	ListSessions(ctx context.Context, identity model.Identity) ([]model.ChatSession, error)
	GetSession(ctx context.Context, identity model.Identity, sessionID string) (*model.ChatSession, error)
	GetMessages(ctx context.Context, identity model.Identity, sessionID string) ([]model.ChatMessage, error)
	RenameSession(ctx context.Context, identity model.Identity, sessionID, title string) error
	UpdateSessionDocuments(ctx context.Context, identity model.Identity, sessionID string, documentIDs []string) error
	DeleteSession(ctx context.Context, identity model.Identity, sessionID string) error
	// SetContextInclusion 全量替换：只有 messageIDs 中的消息参与之后的上下文组装。
	SetContextInclusion(ctx context.Context, identity model.Identity, sessionID string, messageIDs []string) error
}

type sessionService struct {
	sessionRepo repository.SessionRepository
	messageRepo repository.MessageRepository
	now         func() time.Time
}

// NewSessionService 创建一个新的 SessionService 实例。
func NewSessionService(sessionRepo repository.SessionRepository, messageRepo repository.MessageRepository) SessionService {
	return &sessionService{
		sessionRepo: sessionRepo,
		messageRepo: messageRepo,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *sessionService) CreateSession(ctx context.Context, identity model.Identity, mode, title string) (*model.ChatSession, error) {
	defaultTitle, ok := defaultTitles[mode]
	if !ok {
		return nil, invalidInput("unknown session mode %q", mode)
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = defaultTitle
	}
	now := s.now()
	session := &model.ChatSession{
		ID:                  uuid.NewString(),
		OwnerID:             identity.ID,
		Mode:                mode,
		Title:               title,
		SelectedDocumentIDs: datatypes.JSONSlice[string]{},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, err
	}
	log.Infof("[SessionService] 会话已创建, id: %s, mode: %s, owner: %s", session.ID, mode, identity.ID)
	return session, nil
}

func (s *sessionService) ListSessions(ctx context.Context, identity model.Identity) ([]model.ChatSession, error) {
	sessions, err := s.sessionRepo.ListByOwner(ctx, identity.ID)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		if sessions[i].Title == "" {
			sessions[i].Title = untitledSession
		}
	}
	return sessions, nil
}

// GetSession 会话不存在或不属于调用方时统一返回 ErrNotFound。
func (s *sessionService) GetSession(ctx context.Context, identity model.Identity, sessionID string) (*model.ChatSession, error) {
	session, err := s.sessionRepo.GetByIDAndOwner(ctx, sessionID, identity.ID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrNotFound
	}
	return session, nil
}

func (s *sessionService) GetMessages(ctx context.Context, identity model.Identity, sessionID string) ([]model.ChatMessage, error) {
	if _, err := s.GetSession(ctx, identity, sessionID); err != nil {
		return nil, err
	}
	return s.messageRepo.ListBySession(ctx, sessionID)
}

func (s *sessionService) RenameSession(ctx context.Context, identity model.Identity, sessionID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return invalidInput("title must not be empty")
	}
	if _, err := s.GetSession(ctx, identity, sessionID); err != nil {
		return err
	}
	return s.sessionRepo.Rename(ctx, sessionID, title, s.now())
}

// UpdateSessionDocuments 不校验文档是否可见，失效的 ID 在检索时自然没有命中。
func (s *sessionService) UpdateSessionDocuments(ctx context.Context, identity model.Identity, sessionID string, documentIDs []string) error {
	if _, err := s.GetSession(ctx, identity, sessionID); err != nil {
		return err
	}
	ids := make([]string, 0, len(documentIDs))
	seen := make(map[string]bool, len(documentIDs))
	for _, id := range documentIDs {
		if id = strings.TrimSpace(id); id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return s.sessionRepo.SetSelectedDocuments(ctx, sessionID, ids, s.now())
}

func (s *sessionService) DeleteSession(ctx context.Context, identity model.Identity, sessionID string) error {
	if _, err := s.GetSession(ctx, identity, sessionID); err != nil {
		return err
	}
	removed, err := s.sessionRepo.DeleteWithMessages(ctx, sessionID)
	if err != nil {
		return err
	}
	log.Infof("[SessionService] 会话已删除, id: %s, 删除消息 %d 条", sessionID, removed)
	return nil
}

func (s *sessionService) SetContextInclusion(ctx context.Context, identity model.Identity, sessionID string, messageIDs []string) error {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return ErrNotFound
	}
	if session.OwnerID != identity.ID {
		return ErrNotOwner
	}
	return s.messageRepo.SetInclusion(ctx, sessionID, messageIDs)
}
