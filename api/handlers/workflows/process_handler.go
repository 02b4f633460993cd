package workflows

import (
	"backend/internal/audit"
	"backend/internal/auth"
	"backend/internal/common"
	"backend/internal/workflow"

	"github.com/gin-gonic/gin"
)

// ProcessHandler 流程实例 Handler
type ProcessHandler struct {
	engine *workflow.Engine
	audit  *audit.Recorder
}

// NewProcessHandler 创建 ProcessHandler 实例
func NewProcessHandler(engine *workflow.Engine, auditRecorder *audit.Recorder) *ProcessHandler {
	return &ProcessHandler{engine: engine, audit: auditRecorder}
}

// StartProcessRequest 启动流程请求
type StartProcessRequest struct {
	TemplateID string `json:"templateId" binding:"required"`
	DocumentID string `json:"documentId" binding:"required"`
	Name       string `json:"name"`
}

// ActRequest 流程动作请求
type ActRequest struct {
	Verb         string `json:"verb" binding:"required"`
	Comments     string `json:"comments"`
	TargetStepID string `json:"targetStepId"`
}

// Start 启动流程
// @Summary 启动流程
// @Description 从已发布模板启动流程实例并派发首步骤执行记录
// @Tags Workflows
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body StartProcessRequest true "启动参数"
// @Success 201 {object} common.APIResponse
// @Failure 400 {object} common.APIResponse
// @Router /api/v1/workflows [post]
func (h *ProcessHandler) Start(c *gin.Context) {
	userCtx, _ := auth.GetUserContext(c)

	var req StartProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ResponseBadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	proc, err := h.engine.StartProcess(c.Request.Context(), userCtx.TenantID, workflow.StartProcessParams{
		TemplateID: req.TemplateID,
		DocumentID: req.DocumentID,
		Name:       req.Name,
		StartedBy:  userCtx.UserID,
	})
	if err != nil {
		common.ResponseFromError(c, err)
		return
	}

	h.audit.Record(audit.Entry{
		TenantID:   userCtx.TenantID,
		UserID:     userCtx.UserID,
		Action:     "process.start",
		Resource:   "process",
		ResourceID: proc.ID,
		Details:    map[string]any{"templateId": req.TemplateID, "documentId": req.DocumentID},
		IP:         c.ClientIP(),
	})
	common.ResponseCreated(c, proc)
}

// List 列出与当前用户相关的流程
// @Summary 流程列表
// @Description scope=mine 返回本人发起的，scope=assigned 返回发起与被指派的并集
// @Tags Workflows
// @Security BearerAuth
// @Produce json
// @Param scope query string false "查询范围 mine/assigned"
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} common.APIResponse
// @Router /api/v1/workflows [get]
func (h *ProcessHandler) List(c *gin.Context) {
	userCtx, _ := auth.GetUserContext(c)

	var page common.PaginationRequest
	if err := c.ShouldBindQuery(&page); err != nil {
		common.ResponseBadRequest(c, "分页参数错误: "+err.Error())
		return
	}

	scope := c.DefaultQuery("scope", workflow.ScopeAssigned)
	views, total, err := h.engine.ListProcesses(c.Request.Context(), userCtx.TenantID, userCtx.UserID, scope, page)
	if err != nil {
		common.ResponseFromError(c, err)
		return
	}
	common.ResponseList(c, views, total, &page)
}

// Get 获取流程详情
// @Summary 流程详情
// @Description 返回流程、模板与全部执行记录
// @Tags Workflows
// @Security BearerAuth
// @Produce json
// @Param id path string true "流程 ID"
// @Success 200 {object} common.APIResponse
// @Failure 404 {object} common.APIResponse
// @Router /api/v1/workflows/{id} [get]
func (h *ProcessHandler) Get(c *gin.Context) {
	userCtx, _ := auth.GetUserContext(c)

	detail, err := h.engine.GetProcess(c.Request.Context(), userCtx.TenantID, c.Param("id"))
	if err != nil {
		common.ResponseFromError(c, err)
		return
	}
	common.ResponseSuccess(c, detail)
}

// Act 对当前步骤执行动作
// @Summary 执行流程动作
// @Description 动词须符合步骤类型的合法动作表，非指派人无权操作
// @Tags Workflows
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "流程 ID"
// @Param request body ActRequest true "动作参数"
// @Success 200 {object} common.APIResponse
// @Failure 400 {object} common.APIResponse
// @Failure 403 {object} common.APIResponse
// @Router /api/v1/workflows/{id}/actions [post]
func (h *ProcessHandler) Act(c *gin.Context) {
	userCtx, _ := auth.GetUserContext(c)
	processID := c.Param("id")

	var req ActRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ResponseBadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	err := h.engine.Act(c.Request.Context(), userCtx.TenantID, userCtx.UserID, workflow.ActParams{
		ProcessID:    processID,
		Verb:         req.Verb,
		Comments:     req.Comments,
		TargetStepID: req.TargetStepID,
	})
	if err != nil {
		common.ResponseFromError(c, err)
		return
	}

	h.audit.Record(audit.Entry{
		TenantID:   userCtx.TenantID,
		UserID:     userCtx.UserID,
		Action:     "process." + req.Verb,
		Resource:   "process",
		ResourceID: processID,
		Details:    map[string]any{"comments": req.Comments},
		IP:         c.ClientIP(),
	})
	common.ResponseSuccess(c, gin.H{"message": "动作已执行"})
}

// Delete 删除流程
// @Summary 删除流程
// @Description 仅发起人可删除，已完成流程不可删除
// @Tags Workflows
// @Security BearerAuth
// @Produce json
// @Param id path string true "流程 ID"
// @Success 200 {object} common.APIResponse
// @Failure 400 {object} common.APIResponse
// @Failure 403 {object} common.APIResponse
// @Router /api/v1/workflows/{id} [delete]
func (h *ProcessHandler) Delete(c *gin.Context) {
	userCtx, _ := auth.GetUserContext(c)
	processID := c.Param("id")

	if err := h.engine.DeleteProcess(c.Request.Context(), userCtx.TenantID, processID, userCtx.UserID); err != nil {
		common.ResponseFromError(c, err)
		return
	}

	h.audit.Record(audit.Entry{
		TenantID:   userCtx.TenantID,
		UserID:     userCtx.UserID,
		Action:     "process.delete",
		Resource:   "process",
		ResourceID: processID,
		IP:         c.ClientIP(),
	})
	common.ResponseSuccess(c, gin.H{"message": "流程已删除"})
}

// Pause 暂停流程
// @Summary 暂停流程
// @Tags Workflows
// @Security BearerAuth
// @Produce json
// @Param id path string true "流程 ID"
// @Success 200 {object} common.APIResponse
// @Failure 400 {object} common.APIResponse
// @Router /api/v1/workflows/{id}/pause [post]
func (h *ProcessHandler) Pause(c *gin.Context) {
	userCtx, _ := auth.GetUserContext(c)

	if err := h.engine.PauseProcess(c.Request.Context(), userCtx.TenantID, c.Param("id"), userCtx.UserID); err != nil {
		common.ResponseFromError(c, err)
		return
	}
	common.ResponseSuccess(c, gin.H{"message": "流程已暂停"})
}

// Resume 恢复流程
// @Summary 恢复流程
// @Tags Workflows
// @Security BearerAuth
// @Produce json
// @Param id path string true "流程 ID"
// @Success 200 {object} common.APIResponse
// @Failure 400 {object} common.APIResponse
// @Router /api/v1/workflows/{id}/resume [post]
func (h *ProcessHandler) Resume(c *gin.Context) {
	userCtx, _ := auth.GetUserContext(c)

	if err := h.engine.ResumeProcess(c.Request.Context(), userCtx.TenantID, c.Param("id"), userCtx.UserID); err != nil {
		common.ResponseFromError(c, err)
		return
	}
	common.ResponseSuccess(c, gin.H{"message": "流程已恢复"})
}

// Cancel 取消流程
// @Summary 取消流程
// @Tags Workflows
// @Security BearerAuth
// @Produce json
// @Param id path string true "流程 ID"
// @Success 200 {object} common.APIResponse
// @Failure 400 {object} common.APIResponse
// @Router /api/v1/workflows/{id}/cancel [post]
func (h *ProcessHandler) Cancel(c *gin.Context) {
	userCtx, _ := auth.GetUserContext(c)
	processID := c.Param("id")

	if err := h.engine.CancelProcess(c.Request.Context(), userCtx.TenantID, processID, userCtx.UserID); err != nil {
		common.ResponseFromError(c, err)
		return
	}

	h.audit.Record(audit.Entry{
		TenantID:   userCtx.TenantID,
		UserID:     userCtx.UserID,
		Action:     "process.cancel",
		Resource:   "process",
		ResourceID: processID,
		IP:         c.ClientIP(),
	})
	common.ResponseSuccess(c, gin.H{"message": "流程已取消"})
}
