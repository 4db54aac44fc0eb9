// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// IngestTask 描述一次文档入库任务，由上传接口产生、Processor 消费。
type IngestTask struct {
	DocumentID string `json:"document_id"`
	OwnerID    string `json:"owner_id"`
	Filename   string `json:"filename"`
	FileType   string `json:"file_type"`
	ObjectName string `json:"object_name"`
}
