package model

// EsChunk 定义了存储在 Elasticsearch 中的文本块结构。
type EsChunk struct {
	ChunkID    string    `json:"chunk_id"` // documentID + "_" + 序号
	DocumentID string    `json:"document_id"`
	OwnerID    string    `json:"owner_id"` // 私有文档为身份 ID，共享文档为 SharedOwner
	Visibility string    `json:"visibility"`
	Text       string    `json:"text"`
	Vector     []float32 `json:"vector"`
}

// ChunkHit 是一次向量检索的命中结果。
type ChunkHit struct {
	DocumentID string
	Text       string
	Score      float64
}
