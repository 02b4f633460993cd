package workflows

import (
	"backend/internal/auth"
	"backend/internal/common"
	"backend/internal/workflow"

	"github.com/gin-gonic/gin"
)

// TemplateHandler 流程模板 Handler
type TemplateHandler struct {
	templates *workflow.TemplateService
}

// NewTemplateHandler 创建 TemplateHandler 实例
func NewTemplateHandler(templates *workflow.TemplateService) *TemplateHandler {
	return &TemplateHandler{templates: templates}
}

// CreateTemplateRequest 创建模板请求
type CreateTemplateRequest struct {
	Name        string                     `json:"name" binding:"required"`
	Description string                     `json:"description"`
	Steps       []workflow.StepInput       `json:"steps" binding:"required,min=1"`
	Transitions []workflow.TransitionInput `json:"transitions"`
}

// Create 创建流程模板
// @Summary 创建流程模板
// @Description 新建草稿态模板，步骤序号必须严格递增
// @Tags WorkflowTemplates
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body CreateTemplateRequest true "模板定义"
// @Success 201 {object} common.APIResponse
// @Failure 400 {object} common.APIResponse
// @Router /api/v1/workflow-templates [post]
func (h *TemplateHandler) Create(c *gin.Context) {
	userCtx, _ := auth.GetUserContext(c)

	var req CreateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ResponseBadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	tpl, err := h.templates.Create(c.Request.Context(), userCtx.TenantID, workflow.CreateTemplateParams{
		Name:        req.Name,
		Description: req.Description,
		CreatedBy:   userCtx.UserID,
		Steps:       req.Steps,
		Transitions: req.Transitions,
	})
	if err != nil {
		common.ResponseFromError(c, err)
		return
	}
	common.ResponseCreated(c, tpl)
}

// List 分页列出模板
// @Summary 模板列表
// @Tags WorkflowTemplates
// @Security BearerAuth
// @Produce json
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} common.APIResponse
// @Router /api/v1/workflow-templates [get]
func (h *TemplateHandler) List(c *gin.Context) {
	userCtx, _ := auth.GetUserContext(c)

	var page common.PaginationRequest
	if err := c.ShouldBindQuery(&page); err != nil {
		common.ResponseBadRequest(c, "分页参数错误: "+err.Error())
		return
	}

	templates, total, err := h.templates.List(c.Request.Context(), userCtx.TenantID, page)
	if err != nil {
		common.ResponseFromError(c, err)
		return
	}
	common.ResponseList(c, templates, total, &page)
}

// Get 获取模板详情
// @Summary 模板详情
// @Tags WorkflowTemplates
// @Security BearerAuth
// @Produce json
// @Param id path string true "模板 ID"
// @Success 200 {object} common.APIResponse
// @Failure 404 {object} common.APIResponse
// @Router /api/v1/workflow-templates/{id} [get]
func (h *TemplateHandler) Get(c *gin.Context) {
	userCtx, _ := auth.GetUserContext(c)

	tpl, err := h.templates.Get(c.Request.Context(), userCtx.TenantID, c.Param("id"))
	if err != nil {
		common.ResponseFromError(c, err)
		return
	}
	common.ResponseSuccess(c, tpl)
}

// Publish 发布模板
// @Summary 发布模板
// @Description 发布后模板冻结，可用于启动流程；重复发布幂等
// @Tags WorkflowTemplates
// @Security BearerAuth
// @Produce json
// @Param id path string true "模板 ID"
// @Success 200 {object} common.APIResponse
// @Failure 400 {object} common.APIResponse
// @Router /api/v1/workflow-templates/{id}/publish [post]
func (h *TemplateHandler) Publish(c *gin.Context) {
	userCtx, _ := auth.GetUserContext(c)

	tpl, err := h.templates.Publish(c.Request.Context(), userCtx.TenantID, c.Param("id"))
	if err != nil {
		common.ResponseFromError(c, err)
		return
	}
	common.ResponseSuccess(c, tpl)
}

// Delete 删除草稿模板
// @Summary 删除模板
// @Description 仅草稿态模板可删除
// @Tags WorkflowTemplates
// @Security BearerAuth
// @Produce json
// @Param id path string true "模板 ID"
// @Success 200 {object} common.APIResponse
// @Failure 400 {object} common.APIResponse
// @Router /api/v1/workflow-templates/{id} [delete]
func (h *TemplateHandler) Delete(c *gin.Context) {
	userCtx, _ := auth.GetUserContext(c)

	if err := h.templates.Delete(c.Request.Context(), userCtx.TenantID, c.Param("id")); err != nil {
		common.ResponseFromError(c, err)
		return
	}
	common.ResponseSuccess(c, gin.H{"message": "模板已删除"})
}
