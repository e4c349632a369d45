// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// SharedDocumentTask 描述一个已上传到对象存储、等待登记为共享文档的文件。
type SharedDocumentTask struct {
	ContentHash string `json:"content_hash"`
	ObjectKey   string `json:"object_key"`
	FileName    string `json:"file_name"`
	Size        int64  `json:"size"`
}
