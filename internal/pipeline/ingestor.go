// Package pipeline 定义了文档入库的处理流程：文本提取、切块、向量化。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"netsight-go/pkg/embedding"
	"netsight-go/pkg/log"
)

// Chunk 是一个已向量化、等待写入索引的文本块。
type Chunk struct {
	Text   string
	Vector []float32
}

// Ingestor 把原始文档转换为可检索的文本块。
type Ingestor interface {
	Prepare(ctx context.Context, data []byte, filename string) ([]Chunk, error)
}

type ingestor struct {
	extractor    TextExtractor
	embedder     embedding.Client
	chunkSize    int
	chunkOverlap int
}

// NewIngestor 创建一个新的 Ingestor 实例。
func NewIngestor(extractor TextExtractor, embedder embedding.Client, chunkSize, chunkOverlap int) Ingestor {
	return &ingestor{
		extractor:    extractor,
		embedder:     embedder,
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

func (p *ingestor) Prepare(ctx context.Context, data []byte, filename string) ([]Chunk, error) {
	log.Infof("[Ingestor] 开始处理文件, FileName: %s, Size: %d", filename, len(data))

	textContent, err := p.extractor.ExtractText(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("提取文本失败: %w", err)
	}
	if strings.TrimSpace(textContent) == "" {
		log.Warnf("[Ingestor] 提取的文本内容为空, FileName: %s", filename)
		return nil, errors.New("提取的文本内容为空")
	}
	log.Infof("[Ingestor] 步骤1: 文本提取成功, 内容长度: %d 字符", utf8.RuneCountInString(textContent))

	texts := SplitText(textContent, p.chunkSize, p.chunkOverlap)
	if len(texts) == 0 {
		return nil, errors.New("未生成任何文本分块")
	}
	log.Infof("[Ingestor] 步骤2: 文本分块完成, 共生成 %d 个分块", len(texts))

	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("向量化失败: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("向量数量 %d 与分块数量 %d 不一致", len(vectors), len(texts))
	}
	log.Infof("[Ingestor] 步骤3: 向量化完成, FileName: %s", filename)

	chunks := make([]Chunk, len(texts))
	for i := range texts {
		chunks[i] = Chunk{Text: texts[i], Vector: vectors[i]}
	}
	return chunks, nil
}

// SplitText 将长文本按指定大小和重叠进行切分，空白块会被丢弃。
func SplitText(text string, chunkSize int, chunkOverlap int) []string {
	runes := []rune(text)
	if len(runes) == 0 || chunkSize <= 0 {
		return nil
	}

	step := chunkSize - chunkOverlap
	if step <= 0 {
		step = chunkSize
	}

	var chunks []string
	for i := 0; i < len(runes); i += step {
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		if piece := strings.TrimSpace(string(runes[i:end])); piece != "" {
			chunks = append(chunks, piece)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}
