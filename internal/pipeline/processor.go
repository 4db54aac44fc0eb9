package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"aero-doc-go/internal/config"
	"aero-doc-go/internal/model"
	"aero-doc-go/internal/repository"
	"aero-doc-go/pkg/log"
	"aero-doc-go/pkg/parser"
	"aero-doc-go/pkg/storage"
	"aero-doc-go/pkg/tasks"

	"gorm.io/gorm"
)

// 单个文档的处理锁有效期，需大于一次完整入库的耗时。
const ingestLockTTL = 30 * time.Minute

// DocumentStore 是 Processor 用到的文档持久化操作。
type DocumentStore interface {
	FindByID(id string) (*model.Document, error)
	MarkOutcome(id string, outcome repository.Outcome) (bool, error)
}

// Processor 消费入库任务：下载 → 解析 → Ingestor → 写回终态。
type Processor struct {
	docs     DocumentStore
	objects  storage.ObjectStore
	parser   parser.Parser
	ingestor *Ingestor
	lock     repository.IngestLock
	timeouts config.TimeoutConfig
	now      func() time.Time
}

// NewProcessor 创建一个新的 Processor 实例。lock 可以为 nil。
func NewProcessor(
	docs DocumentStore,
	objects storage.ObjectStore,
	p parser.Parser,
	ingestor *Ingestor,
	lock repository.IngestLock,
	timeouts config.TimeoutConfig,
) *Processor {
	return &Processor{
		docs:     docs,
		objects:  objects,
		parser:   p,
		ingestor: ingestor,
		lock:     lock,
		timeouts: timeouts,
		now:      time.Now,
	}
}

// Process 处理一个入库任务。文档的失败状态会被写回数据库，
// 返回的 error 只用于日志，调用方不应据此重试。
// 例外是 ctx 在处理中途被取消：此时不写终态，文档保持待处理，返回的 error 包含 ctx.Err()，
// 调用方不应提交该任务，以便重新投递。
func (p *Processor) Process(ctx context.Context, task tasks.IngestTask) error {
	log.Infof("[Processor] 开始处理文档, doc=%s, file=%s, owner=%s", task.DocumentID, task.Filename, task.OwnerID)

	if p.lock != nil {
		release, ok, err := p.lock.Acquire(ctx, task.DocumentID, ingestLockTTL)
		switch {
		case err != nil:
			log.Warnf("[Processor] 获取处理锁失败，继续处理, doc=%s, err=%v", task.DocumentID, err)
		case !ok:
			log.Infof("[Processor] 文档正在被其他消费者处理，跳过, doc=%s", task.DocumentID)
			return nil
		default:
			defer release()
		}
	}

	doc, err := p.docs.FindByID(task.DocumentID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warnf("[Processor] 文档已被删除，跳过, doc=%s", task.DocumentID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("查询文档 %s 失败: %w", task.DocumentID, err)
	}
	if doc.Terminal() {
		log.Infof("[Processor] 文档已处于终态，跳过重复投递, doc=%s", task.DocumentID)
		return nil
	}

	outcome := p.run(ctx, task)
	if err := ctx.Err(); err != nil {
		log.Warnf("[Processor] 处理被中断，文档保持待处理, doc=%s, outcome=%s", task.DocumentID, outcome)
		return fmt.Errorf("文档 %s 处理被中断: %w", task.DocumentID, err)
	}

	written, err := p.docs.MarkOutcome(task.DocumentID, repository.Outcome{
		Processed:    outcome.Processed,
		ChunkCount:   outcome.ChunkCount,
		ErrorMessage: outcome.Message,
		At:           p.now(),
	})
	if err != nil {
		log.Errorf("[Processor] 写回文档状态失败, doc=%s, outcome=%s, err=%v", task.DocumentID, outcome, err)
		return fmt.Errorf("写回文档 %s 状态失败: %w", task.DocumentID, err)
	}
	if !written {
		log.Warnf("[Processor] 文档状态已被写入，忽略本次结果, doc=%s, outcome=%s", task.DocumentID, outcome)
	}
	if !outcome.Processed {
		return fmt.Errorf("文档 %s 入库失败: %s", task.DocumentID, outcome.Message)
	}
	return nil
}

func (p *Processor) run(ctx context.Context, task tasks.IngestTask) Outcome {
	data, err := p.download(ctx, task.ObjectName)
	if err != nil {
		log.Errorf("[Processor] 下载文件失败, object=%s, err=%v", task.ObjectName, err)
		return Failed(err.Error())
	}
	log.Infof("[Processor] 文件下载成功, object=%s, size=%d", task.ObjectName, len(data))

	parseCtx, cancel := withTimeout(ctx, p.timeouts.Parser)
	defer cancel()
	text, units, err := p.parser.Parse(parseCtx, bytes.NewReader(data), task.Filename)
	if err != nil {
		log.Errorf("[Processor] 解析文件失败, file=%s, err=%v", task.Filename, err)
		return Failed(err.Error())
	}
	log.Infof("[Processor] 解析完成, file=%s, pages=%d, chars=%d", task.Filename, units, len([]rune(text)))

	return p.ingestor.Ingest(ctx, Document{
		ID:       task.DocumentID,
		OwnerID:  task.OwnerID,
		Filename: task.Filename,
	}, text)
}

func (p *Processor) download(ctx context.Context, objectName string) ([]byte, error) {
	ctx, cancel := withTimeout(ctx, p.timeouts.Storage)
	defer cancel()

	obj, err := p.objects.Get(ctx, objectName)
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, obj); err != nil {
		return nil, fmt.Errorf("读取对象 %s 失败: %w", objectName, err)
	}
	return buf.Bytes(), nil
}
