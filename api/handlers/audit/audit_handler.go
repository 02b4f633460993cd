package audit

import (
	"strconv"
	"time"

	auditSvc "backend/internal/audit"
	"backend/internal/auth"
	"backend/internal/common"

	"github.com/gin-gonic/gin"
)

// AuditHandler 审计日志 Handler
type AuditHandler struct {
	recorder *auditSvc.Recorder
}

// NewAuditHandler 创建 AuditHandler 实例
func NewAuditHandler(recorder *auditSvc.Recorder) *AuditHandler {
	return &AuditHandler{recorder: recorder}
}

// Query 查询审计日志
// @Summary 查询审计日志
// @Description 仅管理员可查询，按用户/动作/资源过滤
// @Tags Audit
// @Security BearerAuth
// @Produce json
// @Param user_id query string false "用户 ID"
// @Param action query string false "动作"
// @Param resource query string false "资源类型"
// @Param since query string false "起始时间 RFC3339"
// @Param limit query int false "返回条数上限"
// @Success 200 {object} common.APIResponse
// @Router /api/v1/audit-logs [get]
func (h *AuditHandler) Query(c *gin.Context) {
	userCtx, _ := auth.GetUserContext(c)

	filter := auditSvc.QueryFilter{
		UserID:   c.Query("user_id"),
		Action:   c.Query("action"),
		Resource: c.Query("resource"),
	}
	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			common.ResponseBadRequest(c, "since 参数须为 RFC3339 时间")
			return
		}
		filter.Since = &since
	}
	if raw := c.Query("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil {
			filter.Limit = limit
		}
	}

	logs, err := h.recorder.Query(c.Request.Context(), userCtx.TenantID, filter)
	if err != nil {
		common.ResponseFromError(c, err)
		return
	}
	common.ResponseSuccess(c, logs)
}
