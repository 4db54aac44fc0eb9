package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"aero-doc-go/internal/model"
	"aero-doc-go/internal/repository"
	"aero-doc-go/pkg/log"

	"github.com/google/uuid"
)

// MaxMessageLength 是单条用户消息允许的最大字符数。
const MaxMessageLength = 5000

// ChatService 定义了会话与问答相关的业务操作。
type ChatService interface {
	CreateSession(ownerID, title string) (*model.ChatSession, error)
	ListSessions(ownerID string) ([]model.ChatSession, error)
	GetSession(ownerID, sessionID string) (*model.ChatSession, error)
	DeleteSession(ownerID, sessionID string) error
	// SendMessage 保存用户消息、生成回复并保存助手消息。生成失败时返回的是降级消息而不是 error。
	SendMessage(ctx context.Context, ownerID, sessionID, content string) (*model.ChatMessage, error)
}

type chatService struct {
	chatRepo  repository.ChatRepository
	responder *Responder
	now       func() time.Time
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(chatRepo repository.ChatRepository, responder *Responder) ChatService {
	return &chatService{
		chatRepo:  chatRepo,
		responder: responder,
		now:       time.Now,
	}
}

func (s *chatService) CreateSession(ownerID, title string) (*model.ChatSession, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = model.DefaultSessionTitle
	}
	session := &model.ChatSession{
		ID:      uuid.NewString(),
		OwnerID: ownerID,
		Title:   title,
	}
	if err := s.chatRepo.CreateSession(session); err != nil {
		return nil, fmt.Errorf("创建会话失败: %w", err)
	}
	log.Infof("[ChatService] 会话已创建, session=%s, owner=%s", session.ID, ownerID)
	return session, nil
}

func (s *chatService) ListSessions(ownerID string) ([]model.ChatSession, error) {
	return s.chatRepo.FindSessionsByOwner(ownerID)
}

// GetSession 返回会话及其消息，会话不属于 ownerID 时与不存在同样处理。
func (s *chatService) GetSession(ownerID, sessionID string) (*model.ChatSession, error) {
	session, err := s.chatRepo.FindSession(sessionID)
	if err != nil {
		return nil, notFound(err, "chat session")
	}
	if session.OwnerID != ownerID {
		return nil, fmt.Errorf("chat session %w", ErrNotFound)
	}
	return session, nil
}

func (s *chatService) DeleteSession(ownerID, sessionID string) error {
	if _, err := s.GetSession(ownerID, sessionID); err != nil {
		return err
	}
	if err := s.chatRepo.DeleteSession(sessionID); err != nil {
		return fmt.Errorf("删除会话失败: %w", err)
	}
	log.Infof("[ChatService] 会话已删除, session=%s, owner=%s", sessionID, ownerID)
	return nil
}

func (s *chatService) SendMessage(ctx context.Context, ownerID, sessionID, content string) (*model.ChatMessage, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: message content is empty", ErrInvalidInput)
	}
	if n := len([]rune(content)); n > MaxMessageLength {
		return nil, fmt.Errorf("%w: message has %d characters, limit is %d", ErrInvalidInput, n, MaxMessageLength)
	}

	session, err := s.GetSession(ownerID, sessionID)
	if err != nil {
		return nil, err
	}

	userMsg := &model.ChatMessage{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      model.RoleUser,
		Content:   content,
		Sources:   model.CitationSources(nil),
		CreatedAt: s.now(),
	}
	if err := s.chatRepo.AddMessage(userMsg); err != nil {
		return nil, fmt.Errorf("保存用户消息失败: %w", err)
	}

	turn, err := s.responder.Respond(ctx, sessionID, ownerID, content)
	if err != nil {
		return nil, err
	}

	assistantMsg := &model.ChatMessage{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      model.RoleAssistant,
		Content:   turn.Content,
		Sources:   turn.Sources,
		CreatedAt: s.now(),
	}
	var title string
	if session.Title == model.DefaultSessionTitle && !turn.Degraded() {
		title = TitleFromMessage(content)
	}
	if err := s.chatRepo.SaveAssistantTurn(assistantMsg, title); err != nil {
		return nil, fmt.Errorf("保存助手消息失败: %w", err)
	}
	if turn.Degraded() {
		log.Warnf("[ChatService] 已保存降级回复, session=%s, msg=%s", sessionID, assistantMsg.ID)
	}
	return assistantMsg, nil
}
