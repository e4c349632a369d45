package model

import (
	"time"

	"gorm.io/datatypes"
)

// 会话模式，创建后不可修改。
const (
	ModeKnowledge = "knowledge"
	ModeAnalyst   = "analyst"
)

// 消息角色。
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatSession 代表一个用户独占的聊天会话。
// UpdatedAt 只在轮次完成、重命名和文档选择时显式写入。
type ChatSession struct {
	ID                  string                      `gorm:"type:varchar(36);primaryKey" json:"id"`
	OwnerID             string                      `gorm:"type:varchar(64);not null;index" json:"ownerId"`
	Mode                string                      `gorm:"type:varchar(16);not null" json:"mode"`
	Title               string                      `gorm:"type:varchar(255)" json:"title"`
	SelectedDocumentIDs datatypes.JSONSlice[string] `json:"selectedDocumentIds"`
	CreatedAt           time.Time                   `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt           time.Time                   `gorm:"autoUpdateTime:false;index" json:"updatedAt"`
}

func (ChatSession) TableName() string {
	return "chat_sessions"
}

// Source 是助手回答引用的检索片段。
type Source struct {
	DocumentID string  `json:"documentId"`
	Filename   string  `json:"filename"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

// ChatMessage 是会话中的一条消息，按 created_at、seq 升序排列。
type ChatMessage struct {
	Seq               uint                        `gorm:"primaryKey;autoIncrement" json:"-"`
	ID                string                      `gorm:"type:varchar(36);uniqueIndex;not null" json:"id"`
	SessionID         string                      `gorm:"type:varchar(36);not null;index" json:"sessionId"`
	Role              string                      `gorm:"type:varchar(16);not null" json:"role"`
	Content           string                      `gorm:"type:text;not null" json:"content"`
	ShortContent      string                      `gorm:"type:varchar(255)" json:"shortContent"`
	IncludedInContext bool                        `gorm:"not null;default:true" json:"includedInContext"`
	Sources           datatypes.JSONSlice[Source] `json:"sources"`
	CreatedAt         time.Time                   `gorm:"autoCreateTime" json:"createdAt"`
}

func (ChatMessage) TableName() string {
	return "chat_messages"
}
