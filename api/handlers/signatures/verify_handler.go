package signatures

import (
	"backend/internal/common"
	"backend/internal/signature"

	"github.com/gin-gonic/gin"
)

// VerifyHandler 签名公开验证 Handler
// 无需认证，供第三方凭校验码核验签名真伪
type VerifyHandler struct {
	verification *signature.VerificationService
}

// NewVerifyHandler 创建 VerifyHandler 实例
func NewVerifyHandler(verification *signature.VerificationService) *VerifyHandler {
	return &VerifyHandler{verification: verification}
}

// VerifyRequest 验证请求
type VerifyRequest struct {
	VerificationCode string `json:"verificationCode" binding:"required"`
}

// Verify 验证签名
// @Summary 验证签名
// @Description 按校验码查询签名记录，过期记录返回 expired 标记而非 404
// @Tags Signatures
// @Accept json
// @Produce json
// @Param request body VerifyRequest true "验证参数"
// @Success 200 {object} common.APIResponse
// @Failure 404 {object} common.APIResponse
// @Router /api/v1/verify-signature [post]
func (h *VerifyHandler) Verify(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ResponseBadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	result, err := h.verification.Verify(c.Request.Context(), req.VerificationCode)
	if err != nil {
		common.ResponseFromError(c, err)
		return
	}
	common.ResponseSuccess(c, result)
}

// VerifyByCode 按路径参数验证签名
// @Summary 验证签名（GET）
// @Tags Signatures
// @Produce json
// @Param code path string true "校验码"
// @Success 200 {object} common.APIResponse
// @Failure 404 {object} common.APIResponse
// @Router /api/v1/verify/{code} [get]
func (h *VerifyHandler) VerifyByCode(c *gin.Context) {
	result, err := h.verification.Verify(c.Request.Context(), c.Param("code"))
	if err != nil {
		common.ResponseFromError(c, err)
		return
	}
	common.ResponseSuccess(c, result)
}
