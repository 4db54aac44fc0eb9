package model

import "time"

// Document 记录一个上传文档及其入库状态。
// ProcessedAt 为空表示仍在处理中；非空后状态不再变化。
type Document struct {
	ID           string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	OwnerID      string     `gorm:"type:varchar(36);index;not null" json:"owner_id"`
	Filename     string     `gorm:"type:varchar(255);not null" json:"filename"`
	FileType     string     `gorm:"type:varchar(16);not null" json:"file_type"`
	FileSize     int64      `gorm:"not null" json:"file_size"`
	ObjectName   string     `gorm:"type:varchar(512);not null" json:"-"`
	Processed    bool       `gorm:"not null;default:false" json:"processed"`
	ChunkCount   int        `gorm:"not null;default:0" json:"chunk_count"`
	ErrorMessage string     `gorm:"type:text" json:"error_message,omitempty"`
	ProcessedAt  *time.Time `gorm:"default:null" json:"processed_at,omitempty"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Document) TableName() string {
	return "documents"
}

// Terminal 报告文档是否已经离开 Pending 状态。
func (d *Document) Terminal() bool {
	return d.ProcessedAt != nil
}
