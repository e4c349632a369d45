package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"netsight-go/internal/service"
)

// SessionHandler 负责会话的增删改查和上下文记忆选择。
type SessionHandler struct {
	sessionService service.SessionService
}

// NewSessionHandler 创建一个新的 SessionHandler 实例。
func NewSessionHandler(sessionService service.SessionService) *SessionHandler {
	return &SessionHandler{sessionService: sessionService}
}

type createSessionRequest struct {
	Mode  string `json:"mode" binding:"required"`
	Title string `json:"title"`
}

type renameSessionRequest struct {
	Title string `json:"title" binding:"required"`
}

type sessionDocumentsRequest struct {
	DocumentIDs []string `json:"documentIds"`
}

type memorySelectionRequest struct {
	IncludedMessageIDs []string `json:"includedMessageIds"`
}

func (h *SessionHandler) CreateSession(c *gin.Context) {
	identity, exists := identityOrAbort(c)
	if !exists {
		return
	}
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求参数")
		return
	}
	session, err := h.sessionService.CreateSession(c.Request.Context(), identity, req.Mode, req.Title)
	if err != nil {
		failWith(c, "CreateSession", err)
		return
	}
	ok(c, "会话创建成功", session)
}

func (h *SessionHandler) ListSessions(c *gin.Context) {
	identity, exists := identityOrAbort(c)
	if !exists {
		return
	}
	sessions, err := h.sessionService.ListSessions(c.Request.Context(), identity)
	if err != nil {
		failWith(c, "ListSessions", err)
		return
	}
	ok(c, "获取会话列表成功", sessions)
}

func (h *SessionHandler) GetMessages(c *gin.Context) {
	identity, exists := identityOrAbort(c)
	if !exists {
		return
	}
	messages, err := h.sessionService.GetMessages(c.Request.Context(), identity, c.Param("id"))
	if err != nil {
		failWith(c, "GetMessages", err)
		return
	}
	ok(c, "获取消息成功", messages)
}

func (h *SessionHandler) RenameSession(c *gin.Context) {
	identity, exists := identityOrAbort(c)
	if !exists {
		return
	}
	var req renameSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求参数")
		return
	}
	if err := h.sessionService.RenameSession(c.Request.Context(), identity, c.Param("id"), req.Title); err != nil {
		failWith(c, "RenameSession", err)
		return
	}
	ok(c, "会话已重命名", nil)
}

func (h *SessionHandler) UpdateSessionDocuments(c *gin.Context) {
	identity, exists := identityOrAbort(c)
	if !exists {
		return
	}
	var req sessionDocumentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求参数")
		return
	}
	if err := h.sessionService.UpdateSessionDocuments(c.Request.Context(), identity, c.Param("id"), req.DocumentIDs); err != nil {
		failWith(c, "UpdateSessionDocuments", err)
		return
	}
	ok(c, "会话文档已更新", nil)
}

// UpdateMemorySelection 全量替换会话中参与上下文的消息。
func (h *SessionHandler) UpdateMemorySelection(c *gin.Context) {
	identity, exists := identityOrAbort(c)
	if !exists {
		return
	}
	var req memorySelectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求参数")
		return
	}
	if err := h.sessionService.SetContextInclusion(c.Request.Context(), identity, c.Param("id"), req.IncludedMessageIDs); err != nil {
		failWith(c, "UpdateMemorySelection", err)
		return
	}
	ok(c, "记忆选择已更新", nil)
}

func (h *SessionHandler) DeleteSession(c *gin.Context) {
	identity, exists := identityOrAbort(c)
	if !exists {
		return
	}
	if err := h.sessionService.DeleteSession(c.Request.Context(), identity, c.Param("id")); err != nil {
		failWith(c, "DeleteSession", err)
		return
	}
	ok(c, "会话已删除", nil)
}
