package signatures

import (
	"net/http"
	"strings"

	"backend/internal/audit"
	"backend/internal/auth"
	"backend/internal/common"
	"backend/internal/signature"
	"backend/internal/storage"
	"backend/internal/workflow"

	"github.com/gin-gonic/gin"
)

// SignatureHandler 多方签名 Handler
type SignatureHandler struct {
	coordinator *signature.Coordinator
	finalizer   *signature.Finalizer
	store       storage.Store
	audit       *audit.Recorder
}

// NewSignatureHandler 创建 SignatureHandler 实例
func NewSignatureHandler(coordinator *signature.Coordinator, finalizer *signature.Finalizer, store storage.Store, auditRecorder *audit.Recorder) *SignatureHandler {
	return &SignatureHandler{coordinator: coordinator, finalizer: finalizer, store: store, audit: auditRecorder}
}

// CreateRequestRequest 创建签名请求参数
type CreateRequestRequest struct {
	DocumentID string   `json:"documentId" binding:"required"`
	SignerIDs  []string `json:"signerIds" binding:"required,min=1"`
}

// DecideRequest 签名决定请求
type DecideRequest struct {
	Action   string `json:"action" binding:"required,oneof=approve reject"`
	Comments string `json:"comments"`
}

// RequestDetail 签名请求详情
type RequestDetail struct {
	Request   *signature.MultiSignatureRequest    `json:"request"`
	Approvals []*signature.MultiSignatureApproval `json:"approvals"`
}

// Create 创建独立的多方签名请求
// 流程引擎之外的直接签名收集入口
// @Summary 创建多方签名请求
// @Tags Signatures
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body CreateRequestRequest true "请求参数"
// @Success 201 {object} common.APIResponse
// @Failure 400 {object} common.APIResponse
// @Router /api/v1/signatures/requests [post]
func (h *SignatureHandler) Create(c *gin.Context) {
	userCtx, _ := auth.GetUserContext(c)

	var req CreateRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ResponseBadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	requestID, err := h.coordinator.CreateRequest(c.Request.Context(), userCtx.TenantID, workflow.SignRequestParams{
		DocumentID:  req.DocumentID,
		RequestedBy: userCtx.UserID,
		SignerIDs:   req.SignerIDs,
	})
	if err != nil {
		common.ResponseFromError(c, err)
		return
	}

	h.audit.Record(audit.Entry{
		TenantID:   userCtx.TenantID,
		UserID:     userCtx.UserID,
		Action:     "signature.request_create",
		Resource:   "signature_request",
		ResourceID: requestID,
		IP:         c.ClientIP(),
	})
	common.ResponseCreated(c, gin.H{"requestId": requestID})
}

// ListPending 列出待当前用户决定的签名请求
// @Summary 待签列表
// @Tags Signatures
// @Security BearerAuth
// @Produce json
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} common.APIResponse
// @Router /api/v1/signatures/pending [get]
func (h *SignatureHandler) ListPending(c *gin.Context) {
	userCtx, _ := auth.GetUserContext(c)

	var page common.PaginationRequest
	if err := c.ShouldBindQuery(&page); err != nil {
		common.ResponseBadRequest(c, "分页参数错误: "+err.Error())
		return
	}

	requests, total, err := h.coordinator.ListPendingForUser(c.Request.Context(), userCtx.TenantID, userCtx.UserID, page)
	if err != nil {
		common.ResponseFromError(c, err)
		return
	}
	common.ResponseList(c, requests, total, &page)
}

// Get 获取签名请求详情
// @Summary 签名请求详情
// @Tags Signatures
// @Security BearerAuth
// @Produce json
// @Param id path string true "请求 ID"
// @Success 200 {object} common.APIResponse
// @Failure 404 {object} common.APIResponse
// @Router /api/v1/signatures/requests/{id} [get]
func (h *SignatureHandler) Get(c *gin.Context) {
	userCtx, _ := auth.GetUserContext(c)
	requestID := c.Param("id")

	request, err := h.coordinator.GetRequest(c.Request.Context(), userCtx.TenantID, requestID)
	if err != nil {
		common.ResponseFromError(c, err)
		return
	}
	approvals, err := h.coordinator.ListApprovals(c.Request.Context(), userCtx.TenantID, requestID)
	if err != nil {
		common.ResponseFromError(c, err)
		return
	}
	common.ResponseSuccess(c, RequestDetail{Request: request, Approvals: approvals})
}

// Decide 提交签名决定
// @Summary 提交签名决定
// @Description 同一用户重复决定幂等；全员同意后触发定稿，任一拒绝则取消请求
// @Tags Signatures
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "请求 ID"
// @Param request body DecideRequest true "决定参数"
// @Success 200 {object} common.APIResponse
// @Failure 403 {object} common.APIResponse
// @Router /api/v1/signatures/requests/{id}/decide [post]
func (h *SignatureHandler) Decide(c *gin.Context) {
	userCtx, _ := auth.GetUserContext(c)
	requestID := c.Param("id")

	var req DecideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ResponseBadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	err := h.coordinator.Decide(c.Request.Context(), userCtx.TenantID, requestID, userCtx.UserID, req.Action, req.Comments)
	if err != nil {
		common.ResponseFromError(c, err)
		return
	}

	h.audit.Record(audit.Entry{
		TenantID:   userCtx.TenantID,
		UserID:     userCtx.UserID,
		Action:     "signature." + req.Action,
		Resource:   "signature_request",
		ResourceID: requestID,
		IP:         c.ClientIP(),
	})
	common.ResponseSuccess(c, gin.H{"message": "决定已记录"})
}

// Finalize 手工触发定稿
// @Summary 手工触发定稿
// @Description 定稿失败后的补偿入口，已定稿请求返回既有产物
// @Tags Signatures
// @Security BearerAuth
// @Produce json
// @Param id path string true "请求 ID"
// @Success 200 {object} common.APIResponse
// @Failure 400 {object} common.APIResponse
// @Router /api/v1/signatures/requests/{id}/finalize-multi-signature [post]
func (h *SignatureHandler) Finalize(c *gin.Context) {
	userCtx, _ := auth.GetUserContext(c)
	requestID := c.Param("id")

	result, err := h.finalizer.Finalize(c.Request.Context(), userCtx.TenantID, requestID)
	if err != nil {
		common.ResponseFromError(c, err)
		return
	}

	h.audit.Record(audit.Entry{
		TenantID:   userCtx.TenantID,
		UserID:     userCtx.UserID,
		Action:     "signature.finalize",
		Resource:   "signature_request",
		ResourceID: requestID,
		Details:    map[string]any{"alreadyFinalized": result.AlreadyFinalized},
		IP:         c.ClientIP(),
	})
	common.ResponseSuccess(c, result)
}

// Artifact 下载签名产物
// @Summary 下载签名产物
// @Tags Signatures
// @Security BearerAuth
// @Produce octet-stream
// @Param bucket path string true "存储桶"
// @Param key path string true "对象键"
// @Success 200 {file} binary
// @Failure 403 {object} common.APIResponse
// @Router /api/v1/signatures/artifacts/{bucket}/{key} [get]
func (h *SignatureHandler) Artifact(c *gin.Context) {
	userCtx, _ := auth.GetUserContext(c)

	bucket := c.Param("bucket")
	if bucket != storage.BucketSigned && bucket != storage.BucketDocuments {
		common.ResponseBadRequest(c, "未知的存储桶")
		return
	}

	key := strings.TrimPrefix(c.Param("key"), "/")
	// 对象键以租户 ID 开头，跨租户下载直接拒绝
	if !strings.HasPrefix(key, userCtx.TenantID+"/") {
		common.ResponseForbidden(c, "")
		return
	}

	data, err := h.store.Get(c.Request.Context(), bucket, key)
	if err != nil {
		common.ResponseNotFound(c, "签名产物不存在")
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", data)
}
