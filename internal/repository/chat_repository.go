package repository

import (
	"time"

	"aero-doc-go/internal/model"

	"gorm.io/gorm"
)

// ChatRepository 接口定义了会话与消息的持久化操作。
type ChatRepository interface {
	CreateSession(session *model.ChatSession) error
	FindSessionsByOwner(ownerID string) ([]model.ChatSession, error)
	// FindSession 返回会话及按时间排序的消息。
	FindSession(id string) (*model.ChatSession, error)
	DeleteSession(id string) error
	AddMessage(msg *model.ChatMessage) error
	// SaveAssistantTurn 在一个事务里写入助手消息、刷新会话时间，
	// 并在标题仍为默认值时改为 title（title 为空则不改）。
	SaveAssistantTurn(msg *model.ChatMessage, title string) error
}

type chatRepository struct {
	db *gorm.DB
}

func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

func (r *chatRepository) CreateSession(session *model.ChatSession) error {
	return r.db.Create(session).Error
}

// FindSessionsByOwner 按最近活跃时间倒序返回会话，不含消息。
func (r *chatRepository) FindSessionsByOwner(ownerID string) ([]model.ChatSession, error) {
	var sessions []model.ChatSession
	err := r.db.Where("owner_id = ?", ownerID).Order("updated_at DESC").Find(&sessions).Error
	return sessions, err
}

func (r *chatRepository) FindSession(id string) (*model.ChatSession, error) {
	var session model.ChatSession
	err := r.db.Preload("Messages", func(db *gorm.DB) *gorm.DB {
		return db.Order("created_at ASC")
	}).Where("id = ?", id).First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *chatRepository) DeleteSession(id string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", id).Delete(&model.ChatMessage{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&model.ChatSession{}).Error
	})
}

func (r *chatRepository) AddMessage(msg *model.ChatMessage) error {
	return r.db.Create(msg).Error
}

func (r *chatRepository) SaveAssistantTurn(msg *model.ChatMessage, title string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.ChatSession{}).Where("id = ?", msg.SessionID).
			Update("updated_at", time.Now()).Error; err != nil {
			return err
		}
		if title == "" {
			return nil
		}
		return tx.Model(&model.ChatSession{}).
			Where("id = ? AND title = ?", msg.SessionID, model.DefaultSessionTitle).
			Update("title", title).Error
	})
}
