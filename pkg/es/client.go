// Package es 提供了基于 Elasticsearch kNN 的向量索引。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"netsight-go/internal/config"
	"netsight-go/internal/model"
	"netsight-go/pkg/log"
)

// Filter 描述一次检索允许命中的文本块范围，多个条件之间取交集。
type Filter struct {
	DocumentIDs        []string // 非空时只命中这些文档
	OwnerIDs           []string // 非空时只命中这些 owner（含 model.SharedOwner）
	ExcludeDocumentIDs []string
}

// Index 是向量索引的抽象：写入、带过滤的近邻检索、按文档删除。
type Index interface {
	Add(ctx context.Context, chunks []model.EsChunk) error
	Query(ctx context.Context, vector []float32, k int, filter Filter) ([]model.ChunkHit, error)
	DeleteDocument(ctx context.Context, documentID string) error
}

type esIndex struct {
	client    *elasticsearch.Client
	indexName string
}

// NewIndex 初始化 Elasticsearch 客户端，并在索引不存在时按向量维度创建。
func NewIndex(esCfg config.ElasticsearchConfig, dims int) (Index, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	idx := &esIndex{client: client, indexName: esCfg.IndexName}
	if err := idx.createIndexIfNotExists(dims); err != nil {
		return nil, err
	}
	return idx, nil
}

// createIndexIfNotExists 检查索引是否存在，如果不存在则创建它
func (i *esIndex) createIndexIfNotExists(dims int) error {
	res, err := i.client.Indices.Exists([]string{i.indexName})
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	res.Body.Close()
	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", i.indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"chunk_id": { "type": "keyword" },
				"document_id": { "type": "keyword" },
				"owner_id": { "type": "keyword" },
				"visibility": { "type": "keyword" },
				"text": { "type": "text" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				}
			}
		}
	}`, dims)

	res, err = i.client.Indices.Create(
		i.indexName,
		i.client.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", i.indexName, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", i.indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", i.indexName)
	return nil
}

// Add 通过 bulk 接口写入全部文本块，任一条失败即整体返回错误。
func (i *esIndex) Add(ctx context.Context, chunks []model.EsChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, c := range chunks {
		meta := map[string]interface{}{"index": map[string]interface{}{"_index": i.indexName, "_id": c.ChunkID}}
		if err := enc.Encode(meta); err != nil {
			return err
		}
		if err := enc.Encode(c); err != nil {
			return err
		}
	}

	req := esapi.BulkRequest{Body: &buf, Refresh: "true"}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return fmt.Errorf("elasticsearch bulk failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("索引文本块到 Elasticsearch 出错: %s", res.String())
		return errors.New("failed to index chunks")
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return fmt.Errorf("failed to decode bulk response: %w", err)
	}
	if bulkResp.Errors {
		return errors.New("elasticsearch bulk response reported item errors")
	}
	return nil
}

// Query 执行带过滤条件的 kNN 检索，按相似度降序返回最多 k 条。
func (i *esIndex) Query(ctx context.Context, vector []float32, k int, filter Filter) ([]model.ChunkHit, error) {
	var buf bytes.Buffer
	esQuery := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   vector,
			"k":              k,
			"num_candidates": k * 10,
			"filter":         buildFilter(filter),
		},
		"size":    k,
		"_source": []string{"document_id", "text"},
	}
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := i.client.Search(
		i.client.Search.WithContext(ctx),
		i.client.Search.WithIndex(i.indexName),
		i.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("elasticsearch returned an error: %s, body: %s", res.Status(), string(bodyBytes))
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source model.EsChunk `json:"_source"`
				Score  float64       `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	hits := make([]model.ChunkHit, 0, len(esResponse.Hits.Hits))
	for _, h := range esResponse.Hits.Hits {
		hits = append(hits, model.ChunkHit{
			DocumentID: h.Source.DocumentID,
			Text:       h.Source.Text,
			Score:      h.Score,
		})
	}
	return hits, nil
}

// buildFilter 把 Filter 转换为 bool 查询。
func buildFilter(f Filter) map[string]interface{} {
	must := make([]map[string]interface{}, 0, 2)
	if len(f.DocumentIDs) > 0 {
		must = append(must, map[string]interface{}{"terms": map[string]interface{}{"document_id": f.DocumentIDs}})
	}
	if len(f.OwnerIDs) > 0 {
		must = append(must, map[string]interface{}{"terms": map[string]interface{}{"owner_id": f.OwnerIDs}})
	}
	boolQuery := map[string]interface{}{"filter": must}
	if len(f.ExcludeDocumentIDs) > 0 {
		boolQuery["must_not"] = []map[string]interface{}{
			{"terms": map[string]interface{}{"document_id": f.ExcludeDocumentIDs}},
		}
	}
	return map[string]interface{}{"bool": boolQuery}
}

// DeleteDocument 删除某个文档的全部文本块。
func (i *esIndex) DeleteDocument(ctx context.Context, documentID string) error {
	body, err := json.Marshal(map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{"document_id": documentID},
		},
	})
	if err != nil {
		return err
	}
	refresh := true
	req := esapi.DeleteByQueryRequest{
		Index:   []string{i.indexName},
		Body:    bytes.NewReader(body),
		Refresh: &refresh,
	}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return fmt.Errorf("elasticsearch delete by query failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch delete by query returned an error: %s", res.String())
	}
	return nil
}
