package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"netsight-go/internal/model"
	"netsight-go/internal/service"
)

// DocumentHandler 负责处理所有与文档管理相关的 API 请求。
type DocumentHandler struct {
	docService   service.DocumentService
	maxSizeBytes int64
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。
func NewDocumentHandler(docService service.DocumentService, maxSizeBytes int64) *DocumentHandler {
	return &DocumentHandler{docService: docService, maxSizeBytes: maxSizeBytes}
}

// readUpload 读取 multipart 中的 file 字段，多读一个字节以便服务层识别超限。
func (h *DocumentHandler) readUpload(c *gin.Context) ([]byte, string, bool) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		fail(c, http.StatusBadRequest, "缺少上传文件")
		return nil, "", false
	}
	f, err := fileHeader.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, "无法读取上传文件")
		return nil, "", false
	}
	defer f.Close()

	reader := io.Reader(f)
	if h.maxSizeBytes > 0 {
		reader = io.LimitReader(f, h.maxSizeBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		fail(c, http.StatusBadRequest, "无法读取上传文件")
		return nil, "", false
	}
	return data, fileHeader.Filename, true
}

// Upload 处理私有文档上传。
func (h *DocumentHandler) Upload(c *gin.Context) {
	h.upload(c, h.docService.Register)
}

// UploadShared 处理管理员上传共享文档。
func (h *DocumentHandler) UploadShared(c *gin.Context) {
	h.upload(c, h.docService.RegisterSharedUpload)
}

type registerFunc func(ctx context.Context, identity model.Identity, data []byte, filename string) (*model.Document, error)

func (h *DocumentHandler) upload(c *gin.Context, register registerFunc) {
	identity, exists := identityOrAbort(c)
	if !exists {
		return
	}
	data, filename, read := h.readUpload(c)
	if !read {
		return
	}
	doc, err := register(c.Request.Context(), identity, data, filename)
	if err != nil {
		failWith(c, "UploadDocument", err)
		return
	}
	ok(c, "文档上传成功", doc)
}

// ListDocuments 返回当前身份可见的文档。
func (h *DocumentHandler) ListDocuments(c *gin.Context) {
	identity, exists := identityOrAbort(c)
	if !exists {
		return
	}
	docs, err := h.docService.ListVisible(c.Request.Context(), identity)
	if err != nil {
		failWith(c, "ListDocuments", err)
		return
	}
	ok(c, "获取文档列表成功", docs)
}

// DeleteDocument 删除自己的私有文档。
func (h *DocumentHandler) DeleteDocument(c *gin.Context) {
	identity, exists := identityOrAbort(c)
	if !exists {
		return
	}
	if err := h.docService.Delete(c.Request.Context(), identity, c.Param("id")); err != nil {
		failWith(c, "DeleteDocument", err)
		return
	}
	ok(c, "文档已删除", nil)
}

// HideDocument 对当前身份隐藏一个共享文档。
func (h *DocumentHandler) HideDocument(c *gin.Context) {
	identity, exists := identityOrAbort(c)
	if !exists {
		return
	}
	if err := h.docService.Hide(c.Request.Context(), identity, c.Param("id")); err != nil {
		failWith(c, "HideDocument", err)
		return
	}
	ok(c, "文档已隐藏", nil)
}
