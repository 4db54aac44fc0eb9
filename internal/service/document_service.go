package service

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"aero-doc-go/internal/config"
	"aero-doc-go/internal/model"
	"aero-doc-go/internal/repository"
	"aero-doc-go/pkg/log"
	"aero-doc-go/pkg/storage"
	"aero-doc-go/pkg/tasks"
	"aero-doc-go/pkg/vectorstore"

	"github.com/google/uuid"
)

// TaskProducer 把入库任务投递到队列。
type TaskProducer interface {
	ProduceIngestTask(ctx context.Context, task tasks.IngestTask) error
}

// Stats 是向量集合的统计信息。
type Stats struct {
	TotalChunks    int64  `json:"total_chunks"`
	CollectionName string `json:"collection_name"`
}

// DocumentService 定义了文档管理相关的业务操作。
type DocumentService interface {
	// Upload 保存文件并创建 Pending 状态的文档，入库在后台异步完成。
	Upload(ctx context.Context, ownerID, filename string, size int64, r io.Reader) (*model.Document, error)
	List(ownerID string) ([]model.Document, error)
	Get(ownerID, docID string) (*model.Document, error)
	Delete(ctx context.Context, ownerID, docID string) error
	Stats(ctx context.Context) (*Stats, error)
}

type documentService struct {
	docRepo  repository.DocumentRepository
	objects  storage.ObjectStore
	producer TaskProducer
	index    vectorstore.Index
	docCfg   config.DocumentConfig
	timeouts config.TimeoutConfig
	now      func() time.Time
}

// NewDocumentService 创建一个新的 DocumentService 实例。
func NewDocumentService(
	docRepo repository.DocumentRepository,
	objects storage.ObjectStore,
	producer TaskProducer,
	index vectorstore.Index,
	docCfg config.DocumentConfig,
	timeouts config.TimeoutConfig,
) DocumentService {
	return &documentService{
		docRepo:  docRepo,
		objects:  objects,
		producer: producer,
		index:    index,
		docCfg:   docCfg,
		timeouts: timeouts,
		now:      time.Now,
	}
}

func (s *documentService) Upload(ctx context.Context, ownerID, filename string, size int64, r io.Reader) (*model.Document, error) {
	filename = filepath.Base(filename)
	ext := strings.ToLower(filepath.Ext(filename))
	if !slices.Contains(s.docCfg.AllowedExtensions, ext) {
		log.Warnf("[DocumentService] 不支持的文件类型, file=%s, owner=%s", filename, ownerID)
		return nil, fmt.Errorf("%w: %s", ErrInvalidFileType, filename)
	}
	if s.docCfg.MaxUploadSize > 0 && size > s.docCfg.MaxUploadSize {
		return nil, fmt.Errorf("%w: %d bytes, limit is %d", ErrFileTooLarge, size, s.docCfg.MaxUploadSize)
	}

	doc := &model.Document{
		ID:       uuid.NewString(),
		OwnerID:  ownerID,
		Filename: filename,
		FileType: ext,
		FileSize: size,
	}
	doc.ObjectName = storage.DocumentKey(ownerID, doc.ID, ext)

	putCtx, cancel := withTimeout(ctx, s.timeouts.Storage)
	err := s.objects.Put(putCtx, doc.ObjectName, r, size, contentType(ext))
	cancel()
	if err != nil {
		log.Errorf("[DocumentService] 保存文件失败, object=%s, err=%v", doc.ObjectName, err)
		return nil, fmt.Errorf("保存文件失败: %w", err)
	}

	if err := s.docRepo.Create(doc); err != nil {
		return nil, fmt.Errorf("创建文档记录失败: %w", err)
	}
	log.Infof("[DocumentService] 文档已上传, doc=%s, file=%s, size=%d, owner=%s", doc.ID, filename, size, ownerID)

	task := tasks.IngestTask{
		DocumentID: doc.ID,
		OwnerID:    ownerID,
		Filename:   filename,
		FileType:   ext,
		ObjectName: doc.ObjectName,
	}
	if err := s.producer.ProduceIngestTask(ctx, task); err != nil {
		// 任务没有投递出去就不会有消费者写终态，这里直接置为失败
		log.Errorf("[DocumentService] 投递入库任务失败, doc=%s, err=%v", doc.ID, err)
		outcome := repository.Outcome{ErrorMessage: "enqueue ingestion task: " + err.Error(), At: s.now()}
		if _, markErr := s.docRepo.MarkOutcome(doc.ID, outcome); markErr != nil {
			return nil, fmt.Errorf("投递入库任务失败: %w", err)
		}
		doc.ErrorMessage = outcome.ErrorMessage
		doc.ProcessedAt = &outcome.At
	}
	return doc, nil
}

func (s *documentService) List(ownerID string) ([]model.Document, error) {
	return s.docRepo.FindByOwner(ownerID)
}

func (s *documentService) Get(ownerID, docID string) (*model.Document, error) {
	doc, err := s.docRepo.FindByID(docID)
	if err != nil {
		return nil, notFound(err, "document")
	}
	if doc.OwnerID != ownerID {
		return nil, fmt.Errorf("document %w", ErrNotFound)
	}
	return doc, nil
}

// Delete 删除文档的向量、文件和记录。向量与文件的清理失败只记日志。
func (s *documentService) Delete(ctx context.Context, ownerID, docID string) error {
	doc, err := s.Get(ownerID, docID)
	if err != nil {
		return err
	}

	indexCtx, cancel := withTimeout(ctx, s.timeouts.VectorIndex)
	err = s.index.DeleteWhere(indexCtx, vectorstore.Filter{DocID: doc.ID})
	cancel()
	if err != nil {
		log.Warnf("[DocumentService] 删除文档向量失败, doc=%s, err=%v", doc.ID, err)
	}

	storageCtx, cancel := withTimeout(ctx, s.timeouts.Storage)
	err = s.objects.Remove(storageCtx, doc.ObjectName)
	cancel()
	if err != nil {
		log.Warnf("[DocumentService] 删除文件失败, object=%s, err=%v", doc.ObjectName, err)
	}

	if err := s.docRepo.Delete(doc.ID); err != nil {
		return fmt.Errorf("删除文档记录失败: %w", err)
	}
	log.Infof("[DocumentService] 文档已删除, doc=%s, owner=%s", doc.ID, ownerID)
	return nil
}

func (s *documentService) Stats(ctx context.Context) (*Stats, error) {
	ctx, cancel := withTimeout(ctx, s.timeouts.VectorIndex)
	defer cancel()
	n, err := s.index.Count(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{TotalChunks: n, CollectionName: s.index.Name()}, nil
}

func contentType(ext string) string {
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
