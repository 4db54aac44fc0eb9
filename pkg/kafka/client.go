// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"aero-doc-go/internal/config"
	"aero-doc-go/pkg/log"
	"aero-doc-go/pkg/tasks"

	"github.com/segmentio/kafka-go"
)

// TaskProcessor defines the interface for any service that can process a task.
// This decouples the Kafka consumer from the concrete pipeline implementation.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.IngestTask) error
}

// Producer 把入库任务写入 Kafka。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers(cfg.Brokers)...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: w}
}

// ProduceIngestTask 发送一个入库任务，同一文档的消息进入同一分区。
func (p *Producer) ProduceIngestTask(ctx context.Context, task tasks.IngestTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.DocumentID),
		Value: taskBytes,
	})
}

func (p *Producer) Close() error { return p.writer.Close() }

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer 顺序消费入库任务。每条消息处理完都会提交 offset，整条流水线不做自动重试。
type Consumer struct {
	reader    messageReader
	processor TaskProcessor
	topic     string
}

func NewConsumer(cfg config.KafkaConfig, processor TaskProcessor) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers(cfg.Brokers),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: r, processor: processor, topic: cfg.Topic}
}

// Run 阻塞直到 ctx 取消或读取出错。
func (c *Consumer) Run(ctx context.Context) error {
	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", c.topic)
	defer func() {
		if err := c.reader.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				log.Info("Kafka 消费者已停止")
				return nil
			}
			log.Error("从 Kafka 读取消息失败", err)
			return err
		}
		c.handle(ctx, m)
	}
}

func (c *Consumer) handle(ctx context.Context, m kafka.Message) {
	log.Infof("收到 Kafka 消息: partition %d, offset %d", m.Partition, m.Offset)

	var task tasks.IngestTask
	if err := json.Unmarshal(m.Value, &task); err != nil {
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
	} else if err := c.processor.Process(ctx, task); ctx.Err() != nil {
		// 停机中断，不提交 offset，重启后重新投递
		log.Warnf("入库任务被中断，等待重新投递: doc=%s, err=%v", task.DocumentID, err)
		return
	} else if err != nil {
		// 失败状态已由 Processor 记录，重新投递只能通过重新上传
		log.Errorf("处理入库任务失败: doc=%s, err=%v", task.DocumentID, err)
	} else {
		log.Infof("入库任务处理完成: doc=%s", task.DocumentID)
	}

	if err := c.reader.CommitMessages(ctx, m); err != nil {
		log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
	}
}

func brokers(list string) []string {
	var out []string
	for _, b := range strings.Split(list, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
