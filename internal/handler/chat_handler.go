package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"netsight-go/internal/model"
	"netsight-go/internal/service"
	"netsight-go/pkg/log"
	"netsight-go/pkg/token"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 允许所有来源
		},
	}
)

// ChatHandler 负责发送消息：HTTP 流式响应和 WebSocket 两种传输方式。
type ChatHandler struct {
	chatService service.ChatService
	jwtManager  *token.JWTManager
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService, jwtManager *token.JWTManager) *ChatHandler {
	return &ChatHandler{chatService: chatService, jwtManager: jwtManager}
}

type sendMessageRequest struct {
	Message string `json:"message" binding:"required"`
}

// httpSink 在第一个片段到达时才写出响应头，之前的错误仍可以按 JSON 返回。
type httpSink struct {
	c       *gin.Context
	started bool
}

func (s *httpSink) WriteFragment(text string) error {
	if err := s.c.Request.Context().Err(); err != nil {
		return err
	}
	if !s.started {
		s.c.Header("Content-Type", "text/plain; charset=utf-8")
		s.c.Header("Cache-Control", "no-cache")
		s.c.Header("X-Accel-Buffering", "no")
		s.c.Status(http.StatusOK)
		s.started = true
	}
	if _, err := s.c.Writer.WriteString(text); err != nil {
		return err
	}
	s.c.Writer.Flush()
	return nil
}

// SendMessage 处理 POST /chat/sessions/:id/messages，以 text/plain 流式返回回答。
func (h *ChatHandler) SendMessage(c *gin.Context) {
	identity, exists := identityOrAbort(c)
	if !exists {
		return
	}
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求参数")
		return
	}

	sink := &httpSink{c: c}
	result, err := h.chatService.SendMessage(c.Request.Context(), identity, c.Param("id"), req.Message, sink)
	if err != nil {
		if !sink.started {
			failWith(c, "SendMessage", err)
			return
		}
		// 片段已经发出，无法再修改状态码
		log.Warnf("[ChatHandler] 流式响应中断: %v", err)
		return
	}
	if !sink.started {
		// 生成正常结束但没有任何输出
		c.Status(http.StatusOK)
	}
	log.Infof("[ChatHandler] 本轮完成, session: %s, state: %s", c.Param("id"), result.State)
}

// wsFrame 是客户端发来的 WebSocket 帧。
type wsFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

// wsSink 把片段包装成 {"chunk": "..."} 帧发送。
type wsSink struct {
	conn *websocket.Conn
}

func (s wsSink) WriteFragment(text string) error {
	return writeJSON(s.conn, gin.H{"chunk": text})
}

func writeJSON(conn *websocket.Conn, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}

func completionFrame(status string, result *service.TurnResult) gin.H {
	frame := gin.H{
		"type":      "completion",
		"status":    status,
		"timestamp": time.Now().UnixMilli(),
	}
	if result != nil && result.AssistantMessage != nil {
		frame["messageId"] = result.AssistantMessage.ID
		frame["sources"] = result.AssistantMessage.Sources
	}
	return frame
}

// turnCanceller 保存当前轮次的取消函数，供读协程处理 stop 指令。
type turnCanceller struct {
	mu     sync.Mutex
	cancel context.CancelFunc
}

func (t *turnCanceller) set(cancel context.CancelFunc) {
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()
}

func (t *turnCanceller) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
	}
}

// Handle 处理 WebSocket 连接。token 通过路径参数传入。
// 每个 {"sessionId","message"} 帧执行一轮对话；{"type":"stop"} 中止当前轮次，已生成内容照常保存。
func (h *ChatHandler) Handle(c *gin.Context) {
	identity, err := h.jwtManager.VerifyToken(c.Param("token"))
	if err != nil {
		fail(c, http.StatusUnauthorized, "无效的 token")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()
	log.Infof("WebSocket 连接已建立，身份: %s", identity.ID)

	connCtx, closeConn := context.WithCancel(c.Request.Context())
	defer closeConn()

	current := &turnCanceller{}
	frames := make(chan wsFrame, 8)
	go h.readFrames(connCtx, conn, frames, current, closeConn)

	for frame := range frames {
		h.runTurn(connCtx, conn, *identity, frame, current)
	}
	log.Infof("WebSocket 连接已关闭，身份: %s", identity.ID)
}

// readFrames 是连接上唯一的读协程，连接断开时取消 connCtx 并关闭 frames。
func (h *ChatHandler) readFrames(ctx context.Context, conn *websocket.Conn, frames chan<- wsFrame, current *turnCanceller, closeConn context.CancelFunc) {
	defer close(frames)
	defer closeConn()
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("从 WebSocket 读取消息失败: %v", err)
			}
			return
		}

		var frame wsFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			log.Warnf("无法解析 WebSocket 消息: %s", string(message))
			continue
		}
		if frame.Type == "stop" {
			log.Info("收到停止指令，正在中断流式响应...")
			current.stop()
			continue
		}

		select {
		case frames <- frame:
		case <-ctx.Done():
			return
		}
	}
}

func (h *ChatHandler) runTurn(connCtx context.Context, conn *websocket.Conn, identity model.Identity, frame wsFrame, current *turnCanceller) {
	turnCtx, cancel := context.WithCancel(connCtx)
	current.set(cancel)
	defer func() {
		current.set(nil)
		cancel()
	}()

	result, err := h.chatService.SendMessage(turnCtx, identity, frame.SessionID, frame.Message, wsSink{conn: conn})
	if connCtx.Err() != nil {
		return
	}
	if err != nil && (result == nil || !result.CallerGone) {
		log.Errorf("处理流式响应失败: %v", err)
		message := err.Error()
		var genErr *service.GenerationError
		if errors.As(err, &genErr) {
			message = "AI服务暂时不可用，请稍后重试"
		} else if statusOf(err) == http.StatusInternalServerError {
			message = "服务器内部错误"
		}
		_ = writeJSON(conn, gin.H{"error": message})
		_ = writeJSON(conn, completionFrame("failed", result))
		return
	}

	status := "finished"
	if result != nil && result.CallerGone {
		status = "stopped"
	}
	if err := writeJSON(conn, completionFrame(status, result)); err != nil {
		log.Warnf("发送完成通知失败: %v", err)
	}
}
