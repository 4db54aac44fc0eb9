package handler

import (
	"errors"
	"net/http"

	"aero-doc-go/internal/service"
	"aero-doc-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// multipart 头部和其他表单字段的额外余量
const multipartOverhead = 1 << 20

// DocumentHandler 负责处理所有与文档管理相关的 API 请求。
type DocumentHandler struct {
	docService    service.DocumentService
	maxUploadSize int64
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。
func NewDocumentHandler(docService service.DocumentService, maxUploadSize int64) *DocumentHandler {
	return &DocumentHandler{
		docService:    docService,
		maxUploadSize: maxUploadSize,
	}
}

// Upload 接收 multipart 字段 file，文件保存后异步入库，立即返回 202。
func (h *DocumentHandler) Upload(c *gin.Context) {
	user, found := requireUser(c)
	if !found {
		return
	}
	if h.maxUploadSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadSize+multipartOverhead)
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(c, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		log.Warnf("Upload: missing file field, error: %v", err)
		fail(c, http.StatusBadRequest, "缺少文件字段 file")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		log.Errorf("Upload: failed to open uploaded file, error: %v", err)
		fail(c, http.StatusBadRequest, "无法读取上传的文件")
		return
	}
	defer file.Close()

	doc, err := h.docService.Upload(c.Request.Context(), user.ID, fileHeader.Filename, fileHeader.Size, file)
	if err != nil {
		log.Warnf("Upload: failed for user %s, file=%s, error: %v", user.ID, fileHeader.Filename, err)
		failFromError(c, err)
		return
	}
	ok(c, http.StatusAccepted, "Document uploaded, processing started", doc)
}

// List 返回当前用户的文档，最新的在前。
func (h *DocumentHandler) List(c *gin.Context) {
	user, found := requireUser(c)
	if !found {
		return
	}
	docs, err := h.docService.List(user.ID)
	if err != nil {
		log.Error("List documents: failed", err)
		failFromError(c, err)
		return
	}
	ok(c, http.StatusOK, "success", docs)
}

// Get 返回单个文档及其处理状态。
func (h *DocumentHandler) Get(c *gin.Context) {
	user, found := requireUser(c)
	if !found {
		return
	}
	doc, err := h.docService.Get(user.ID, c.Param("id"))
	if err != nil {
		failFromError(c, err)
		return
	}
	ok(c, http.StatusOK, "success", doc)
}

// Delete 删除文档、文件及其全部向量。
func (h *DocumentHandler) Delete(c *gin.Context) {
	user, found := requireUser(c)
	if !found {
		return
	}
	if err := h.docService.Delete(c.Request.Context(), user.ID, c.Param("id")); err != nil {
		log.Warnf("Delete document: failed for user %s, doc=%s, error: %v", user.ID, c.Param("id"), err)
		failFromError(c, err)
		return
	}
	ok(c, http.StatusOK, "Document deleted", nil)
}

// Stats 返回向量集合的统计信息。
func (h *DocumentHandler) Stats(c *gin.Context) {
	stats, err := h.docService.Stats(c.Request.Context())
	if err != nil {
		log.Error("Stats: failed to count vectors", err)
		fail(c, http.StatusServiceUnavailable, err.Error())
		return
	}
	ok(c, http.StatusOK, "success", stats)
}
