package documents

import (
	"io"
	"net/http"
	"strconv"

	"backend/internal/audit"
	"backend/internal/auth"
	"backend/internal/common"
	"backend/internal/document"

	"github.com/gin-gonic/gin"
)

// DocumentHandler 文档管理 Handler
type DocumentHandler struct {
	documents *document.Service
	audit     *audit.Recorder
}

// NewDocumentHandler 创建 DocumentHandler 实例
func NewDocumentHandler(documents *document.Service, auditRecorder *audit.Recorder) *DocumentHandler {
	return &DocumentHandler{documents: documents, audit: auditRecorder}
}

// Upload 上传文档
// @Summary 上传文档
// @Description multipart 表单上传，字段名 file
// @Tags Documents
// @Security BearerAuth
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "文档文件"
// @Success 201 {object} common.APIResponse
// @Failure 400 {object} common.APIResponse
// @Router /api/v1/documents [post]
func (h *DocumentHandler) Upload(c *gin.Context) {
	userCtx, _ := auth.GetUserContext(c)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		common.ResponseBadRequest(c, "缺少上传文件: "+err.Error())
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		common.ResponseBadRequest(c, "无法读取上传文件")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		common.ResponseBadRequest(c, "无法读取上传文件")
		return
	}

	doc, err := h.documents.Upload(c.Request.Context(), userCtx.TenantID, document.UploadParams{
		Name:        fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Content:     content,
		UploadedBy:  userCtx.UserID,
	})
	if err != nil {
		common.ResponseFromError(c, err)
		return
	}

	h.audit.Record(audit.Entry{
		TenantID:   userCtx.TenantID,
		UserID:     userCtx.UserID,
		Action:     "document.upload",
		Resource:   "document",
		ResourceID: doc.ID,
		IP:         c.ClientIP(),
	})
	common.ResponseCreated(c, doc)
}

// List 分页列出文档
// @Summary 文档列表
// @Tags Documents
// @Security BearerAuth
// @Produce json
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} common.APIResponse
// @Router /api/v1/documents [get]
func (h *DocumentHandler) List(c *gin.Context) {
	userCtx, _ := auth.GetUserContext(c)

	var page common.PaginationRequest
	if err := c.ShouldBindQuery(&page); err != nil {
		common.ResponseBadRequest(c, "分页参数错误: "+err.Error())
		return
	}

	docs, total, err := h.documents.List(c.Request.Context(), userCtx.TenantID, page)
	if err != nil {
		common.ResponseFromError(c, err)
		return
	}
	common.ResponseList(c, docs, total, &page)
}

// Get 获取文档元数据
// @Summary 文档详情
// @Tags Documents
// @Security BearerAuth
// @Produce json
// @Param id path string true "文档 ID"
// @Success 200 {object} common.APIResponse
// @Failure 404 {object} common.APIResponse
// @Router /api/v1/documents/{id} [get]
func (h *DocumentHandler) Get(c *gin.Context) {
	userCtx, _ := auth.GetUserContext(c)

	doc, err := h.documents.Get(c.Request.Context(), userCtx.TenantID, c.Param("id"))
	if err != nil {
		common.ResponseFromError(c, err)
		return
	}
	common.ResponseSuccess(c, doc)
}

// DownloadURL 生成限时下载链接
// @Summary 生成限时下载链接
// @Tags Documents
// @Security BearerAuth
// @Produce json
// @Param id path string true "文档 ID"
// @Success 200 {object} common.APIResponse
// @Failure 404 {object} common.APIResponse
// @Router /api/v1/documents/{id}/download-url [get]
func (h *DocumentHandler) DownloadURL(c *gin.Context) {
	userCtx, _ := auth.GetUserContext(c)

	url, err := h.documents.DownloadURL(c.Request.Context(), userCtx.TenantID, c.Param("id"))
	if err != nil {
		common.ResponseFromError(c, err)
		return
	}
	common.ResponseSuccess(c, gin.H{"url": url})
}

// Content 按签名链接下载文档内容
// 公开端点，访问权由链接中的 HMAC 签名与有效期控制
// @Summary 下载文档内容
// @Tags Documents
// @Produce octet-stream
// @Param id path string true "文档 ID"
// @Param expires query int true "过期时间戳"
// @Param sig query string true "链接签名"
// @Success 200 {file} binary
// @Failure 403 {object} common.APIResponse
// @Router /api/v1/documents/{id}/content [get]
func (h *DocumentHandler) Content(c *gin.Context) {
	documentID := c.Param("id")

	expires, err := strconv.ParseInt(c.Query("expires"), 10, 64)
	if err != nil {
		common.ResponseBadRequest(c, "expires 参数错误")
		return
	}
	if err := h.documents.VerifyDownload(documentID, expires, c.Query("sig")); err != nil {
		common.ResponseFromError(c, err)
		return
	}

	data, doc, err := h.documents.PublicContent(c.Request.Context(), documentID)
	if err != nil {
		common.ResponseFromError(c, err)
		return
	}

	contentType := doc.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Disposition", `attachment; filename="`+doc.Name+`"`)
	c.Data(http.StatusOK, contentType, data)
}
