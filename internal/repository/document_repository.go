package repository

import (
	"time"

	"aero-doc-go/internal/model"

	"gorm.io/gorm"
)

// Outcome 是一次入库的终态，写回 documents 表。
type Outcome struct {
	Processed    bool
	ChunkCount   int
	ErrorMessage string
	At           time.Time
}

// DocumentRepository 接口定义了文档元数据的持久化操作。
type DocumentRepository interface {
	Create(doc *model.Document) error
	FindByID(id string) (*model.Document, error)
	FindByOwner(ownerID string) ([]model.Document, error)
	// MarkOutcome 只在文档仍处于 Pending 时写入终态，返回是否写入。
	MarkOutcome(id string, outcome Outcome) (bool, error)
	Delete(id string) error
}

type documentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

func (r *documentRepository) Create(doc *model.Document) error {
	return r.db.Create(doc).Error
}

func (r *documentRepository) FindByID(id string) (*model.Document, error) {
	var doc model.Document
	if err := r.db.Where("id = ?", id).First(&doc).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

// FindByOwner 返回用户的全部文档，最新上传的在前。
func (r *documentRepository) FindByOwner(ownerID string) ([]model.Document, error) {
	var docs []model.Document
	err := r.db.Where("owner_id = ?", ownerID).Order("created_at DESC").Find(&docs).Error
	return docs, err
}

func (r *documentRepository) MarkOutcome(id string, outcome Outcome) (bool, error) {
	res := r.db.Model(&model.Document{}).
		Where("id = ? AND processed_at IS NULL", id).
		Updates(map[string]any{
			"processed":     outcome.Processed,
			"chunk_count":   outcome.ChunkCount,
			"error_message": outcome.ErrorMessage,
			"processed_at":  outcome.At,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *documentRepository) Delete(id string) error {
	return r.db.Where("id = ?", id).Delete(&model.Document{}).Error
}
