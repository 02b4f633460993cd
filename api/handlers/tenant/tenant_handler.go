package tenant

import (
	"backend/internal/audit"
	"backend/internal/auth"
	"backend/internal/common"
	tenantSvc "backend/internal/tenant"

	"github.com/gin-gonic/gin"
)

// TenantHandler 租户目录 Handler
type TenantHandler struct {
	directory *tenantSvc.DirectoryService
	audit     *audit.Recorder
}

// NewTenantHandler 创建 TenantHandler 实例
func NewTenantHandler(directory *tenantSvc.DirectoryService, auditRecorder *audit.Recorder) *TenantHandler {
	return &TenantHandler{directory: directory, audit: auditRecorder}
}

// CreateUserRequest 创建用户请求
type CreateUserRequest struct {
	Email        string   `json:"email" binding:"required,email"`
	Username     string   `json:"username" binding:"required"`
	Password     string   `json:"password" binding:"required,min=8"`
	FullName     string   `json:"fullName"`
	DepartmentID string   `json:"departmentId"`
	Roles        []string `json:"roles"`
}

// CreateDepartmentRequest 创建部门请求
type CreateDepartmentRequest struct {
	Name     string `json:"name" binding:"required"`
	Code     string `json:"code"`
	ParentID string `json:"parentId"`
}

// CreateUser 在当前租户创建用户
// @Summary 创建用户
// @Tags Tenant
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body CreateUserRequest true "用户参数"
// @Success 201 {object} common.APIResponse
// @Failure 400 {object} common.APIResponse
// @Router /api/v1/users [post]
func (h *TenantHandler) CreateUser(c *gin.Context) {
	userCtx, _ := auth.GetUserContext(c)

	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ResponseBadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	user, err := h.directory.CreateUser(c.Request.Context(), userCtx.TenantID, tenantSvc.CreateUserParams{
		Email:        req.Email,
		Username:     req.Username,
		Password:     req.Password,
		FullName:     req.FullName,
		DepartmentID: req.DepartmentID,
		Roles:        req.Roles,
	})
	if err != nil {
		common.ResponseFromError(c, err)
		return
	}

	h.audit.Record(audit.Entry{
		TenantID:   userCtx.TenantID,
		UserID:     userCtx.UserID,
		Action:     "user.create",
		Resource:   "user",
		ResourceID: user.ID,
		IP:         c.ClientIP(),
	})
	common.ResponseCreated(c, user)
}

// DisableUser 禁用用户
// @Summary 禁用用户
// @Tags Tenant
// @Security BearerAuth
// @Produce json
// @Param id path string true "用户 ID"
// @Success 200 {object} common.APIResponse
// @Failure 404 {object} common.APIResponse
// @Router /api/v1/users/{id} [delete]
func (h *TenantHandler) DisableUser(c *gin.Context) {
	userCtx, _ := auth.GetUserContext(c)
	userID := c.Param("id")

	if err := h.directory.DisableUser(c.Request.Context(), userCtx.TenantID, userID); err != nil {
		common.ResponseFromError(c, err)
		return
	}

	h.audit.Record(audit.Entry{
		TenantID:   userCtx.TenantID,
		UserID:     userCtx.UserID,
		Action:     "user.disable",
		Resource:   "user",
		ResourceID: userID,
		IP:         c.ClientIP(),
	})
	common.ResponseSuccess(c, gin.H{"message": "用户已禁用"})
}

// CreateDepartment 创建部门
// @Summary 创建部门
// @Tags Tenant
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body CreateDepartmentRequest true "部门参数"
// @Success 201 {object} common.APIResponse
// @Router /api/v1/departments [post]
func (h *TenantHandler) CreateDepartment(c *gin.Context) {
	userCtx, _ := auth.GetUserContext(c)

	var req CreateDepartmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ResponseBadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	dept, err := h.directory.CreateDepartment(c.Request.Context(), userCtx.TenantID, req.Name, req.Code, req.ParentID)
	if err != nil {
		common.ResponseFromError(c, err)
		return
	}
	common.ResponseCreated(c, dept)
}

// ListDepartments 列出租户部门
// @Summary 部门列表
// @Tags Tenant
// @Security BearerAuth
// @Produce json
// @Success 200 {object} common.APIResponse
// @Router /api/v1/departments [get]
func (h *TenantHandler) ListDepartments(c *gin.Context) {
	userCtx, _ := auth.GetUserContext(c)

	depts, err := h.directory.ListDepartments(c.Request.Context(), userCtx.TenantID)
	if err != nil {
		common.ResponseFromError(c, err)
		return
	}
	common.ResponseSuccess(c, depts)
}

// ListDepartmentUsers 列出部门在职用户
// @Summary 部门在职用户列表
// @Tags Tenant
// @Security BearerAuth
// @Produce json
// @Param id path string true "部门 ID"
// @Success 200 {object} common.APIResponse
// @Failure 404 {object} common.APIResponse
// @Router /api/v1/departments/{id}/users [get]
func (h *TenantHandler) ListDepartmentUsers(c *gin.Context) {
	userCtx, _ := auth.GetUserContext(c)

	users, err := h.directory.ListActiveUsersByDepartment(c.Request.Context(), userCtx.TenantID, c.Param("id"))
	if err != nil {
		common.ResponseFromError(c, err)
		return
	}
	common.ResponseSuccess(c, users)
}
