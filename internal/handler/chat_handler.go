package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"aero-doc-go/internal/service"
	"aero-doc-go/pkg/log"
	"aero-doc-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 负责会话管理、REST 问答和 WebSocket 问答。
type ChatHandler struct {
	chatService service.ChatService
	userService service.UserService
	jwtManager  *token.JWTManager
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService, userService service.UserService, jwtManager *token.JWTManager) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		userService: userService,
		jwtManager:  jwtManager,
	}
}

// CreateSessionRequest 的 title 可以为空，此时使用默认标题。
type CreateSessionRequest struct {
	Title string `json:"title"`
}

// SendMessageRequest 定义了发送消息的请求体。
type SendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// CreateSession 创建一个新会话。
func (h *ChatHandler) CreateSession(c *gin.Context) {
	user, found := requireUser(c)
	if !found {
		return
	}
	var req CreateSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "无效的请求负载")
			return
		}
	}
	session, err := h.chatService.CreateSession(user.ID, req.Title)
	if err != nil {
		log.Error("CreateSession: failed", err)
		failFromError(c, err)
		return
	}
	ok(c, http.StatusCreated, "success", session)
}

// ListSessions 按最近活跃排序返回当前用户的会话。
func (h *ChatHandler) ListSessions(c *gin.Context) {
	user, found := requireUser(c)
	if !found {
		return
	}
	sessions, err := h.chatService.ListSessions(user.ID)
	if err != nil {
		log.Error("ListSessions: failed", err)
		failFromError(c, err)
		return
	}
	ok(c, http.StatusOK, "success", sessions)
}

// GetSession 返回会话及全部消息。
func (h *ChatHandler) GetSession(c *gin.Context) {
	user, found := requireUser(c)
	if !found {
		return
	}
	session, err := h.chatService.GetSession(user.ID, c.Param("id"))
	if err != nil {
		failFromError(c, err)
		return
	}
	ok(c, http.StatusOK, "success", session)
}

// DeleteSession 删除会话及其消息。
func (h *ChatHandler) DeleteSession(c *gin.Context) {
	user, found := requireUser(c)
	if !found {
		return
	}
	if err := h.chatService.DeleteSession(user.ID, c.Param("id")); err != nil {
		failFromError(c, err)
		return
	}
	ok(c, http.StatusOK, "Session deleted", nil)
}

// SendMessage 处理一轮问答。生成失败时同样返回 200，消息内容为降级回复。
func (h *ChatHandler) SendMessage(c *gin.Context) {
	user, found := requireUser(c)
	if !found {
		return
	}
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("SendMessage: Invalid request payload, error: %v", err)
		fail(c, http.StatusBadRequest, "无效的请求负载：content 不能为空")
		return
	}

	msg, err := h.chatService.SendMessage(c.Request.Context(), user.ID, c.Param("id"), req.Content)
	if err != nil {
		log.Warnf("SendMessage: failed for user %s, session=%s, error: %v", user.ID, c.Param("id"), err)
		failFromError(c, err)
		return
	}
	ok(c, http.StatusOK, "success", msg)
}

// wsRequest 是客户端发送的一帧。
type wsRequest struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
}

// Handle 处理 WebSocket 连接：GET /chat/ws?token=<access token>。
// 每一帧 {session_id, content} 与 REST 发送消息的处理完全一致，回复帧是保存后的助手消息。
func (h *ChatHandler) Handle(c *gin.Context) {
	claims, err := h.jwtManager.VerifyTokenType(c.Query("token"), token.TypeAccess)
	if err != nil {
		fail(c, http.StatusUnauthorized, "无效的 token")
		return
	}
	user, err := h.userService.GetProfile(claims.UserID)
	if err != nil {
		fail(c, http.StatusUnauthorized, "用户不存在")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()
	log.Infof("[ChatWS] 连接已建立, user=%s", user.Username)

	ctx := c.Request.Context()
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("[ChatWS] 读取消息失败, user=%s, err=%v", user.Username, err)
			}
			return
		}
		if err := h.writeJSON(conn, h.reply(ctx, user.ID, frame)); err != nil {
			log.Warnf("[ChatWS] 发送消息失败, user=%s, err=%v", user.Username, err)
			return
		}
	}
}

func (h *ChatHandler) reply(ctx context.Context, userID string, frame []byte) any {
	var req wsRequest
	if err := json.Unmarshal(frame, &req); err != nil || req.SessionID == "" {
		return gin.H{"error": "invalid frame: expected {\"session_id\", \"content\"}"}
	}
	msg, err := h.chatService.SendMessage(ctx, userID, req.SessionID, req.Content)
	if err != nil {
		return gin.H{"error": err.Error()}
	}
	return msg
}

func (h *ChatHandler) writeJSON(conn *websocket.Conn, v any) error {
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(v)
}
