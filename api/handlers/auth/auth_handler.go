package auth

import (
	"backend/internal/audit"
	authSvc "backend/internal/auth"
	"backend/internal/common"
	"backend/internal/tenant"

	"github.com/gin-gonic/gin"
)

// AuthHandler 认证 Handler
type AuthHandler struct {
	jwt       *authSvc.JWTService
	directory *tenant.DirectoryService
	audit     *audit.Recorder
}

// NewAuthHandler 创建 AuthHandler 实例
func NewAuthHandler(jwt *authSvc.JWTService, directory *tenant.DirectoryService, auditRecorder *audit.Recorder) *AuthHandler {
	return &AuthHandler{jwt: jwt, directory: directory, audit: auditRecorder}
}

// LoginRequest 登录请求
type LoginRequest struct {
	TenantSlug string `json:"tenantSlug" binding:"required"`
	Email      string `json:"email" binding:"required,email"`
	Password   string `json:"password" binding:"required"`
}

// LoginResponse 登录响应
type LoginResponse struct {
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	ExpiresIn    int64        `json:"expiresIn"`
	User         *tenant.User `json:"user"`
}

// RefreshRequest 令牌刷新请求
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// Login 用户登录
// @Summary 用户登录
// @Description 按租户标识加邮箱密码登录，返回访问令牌与刷新令牌
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "登录参数"
// @Success 200 {object} common.APIResponse
// @Failure 401 {object} common.APIResponse
// @Router /api/v1/auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ResponseBadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	user, err := h.directory.Authenticate(c.Request.Context(), req.TenantSlug, req.Email, req.Password)
	if err != nil {
		common.ResponseFromError(c, err)
		return
	}

	pair, err := h.jwt.GenerateTokenPair(user.ID, user.TenantID, user.Roles)
	if err != nil {
		common.ResponseServerError(c, "令牌签发失败")
		return
	}

	h.audit.Record(audit.Entry{
		TenantID: user.TenantID,
		UserID:   user.ID,
		Action:   "auth.login",
		Resource: "user",
		IP:       c.ClientIP(),
	})

	common.ResponseSuccess(c, LoginResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
		User:         user,
	})
}

// Refresh 刷新访问令牌
// @Summary 刷新访问令牌
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body RefreshRequest true "刷新参数"
// @Success 200 {object} common.APIResponse
// @Failure 401 {object} common.APIResponse
// @Router /api/v1/auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ResponseBadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	pair, err := h.jwt.RefreshAccessToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		common.ResponseUnauthorized(c, "刷新令牌无效")
		return
	}
	common.ResponseSuccess(c, pair)
}

// Logout 注销当前令牌
// @Summary 注销
// @Tags Auth
// @Security BearerAuth
// @Produce json
// @Success 200 {object} common.APIResponse
// @Router /api/v1/auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	token := authSvc.ExtractTokenFromBearer(c.GetHeader("Authorization"))
	if token != "" {
		if err := h.jwt.InvalidateToken(c.Request.Context(), token); err != nil {
			common.ResponseServerError(c, "注销失败")
			return
		}
	}
	common.ResponseSuccess(c, gin.H{"message": "已注销"})
}

// Me 返回当前登录用户
// @Summary 当前用户信息
// @Tags Auth
// @Security BearerAuth
// @Produce json
// @Success 200 {object} common.APIResponse
// @Failure 401 {object} common.APIResponse
// @Router /api/v1/auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	userCtx, ok := authSvc.GetUserContext(c)
	if !ok {
		common.ResponseUnauthorized(c, "")
		return
	}

	user, err := h.directory.GetUser(c.Request.Context(), userCtx.TenantID, userCtx.UserID)
	if err != nil {
		common.ResponseFromError(c, err)
		return
	}
	common.ResponseSuccess(c, user)
}
