package auth

import (
	"context"
	"strings"

	"backend/internal/common"

	"github.com/gin-gonic/gin"
)

// ContextKey 上下文键类型
type ContextKey string

// UserContextKey 用户上下文键
const UserContextKey ContextKey = "user"

// UserContext 请求中的用户身份
type UserContext struct {
	UserID   string
	TenantID string
	Roles    []string
}

// IsAdmin 是否为租户管理员
func (u *UserContext) IsAdmin() bool {
	return hasRole(u.Roles, []string{"admin", "super_admin"})
}

// AuthMiddleware JWT 认证中间件
func AuthMiddleware(jwtService *JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			common.AbortWithError(c, common.CodeUnauthorized, "缺少认证令牌")
			return
		}

		token := ExtractTokenFromBearer(authHeader)
		if token == "" {
			common.AbortWithError(c, common.CodeUnauthorized, "无效的令牌格式")
			return
		}

		claims, err := jwtService.ValidateToken(c.Request.Context(), token)
		if err != nil {
			common.AbortWithError(c, common.CodeUnauthorized, "令牌验证失败: "+err.Error())
			return
		}

		if claims.TokenType != "access" {
			common.AbortWithError(c, common.CodeUnauthorized, "令牌类型错误")
			return
		}

		userCtx := &UserContext{
			UserID:   claims.UserID,
			TenantID: claims.TenantID,
			Roles:    claims.Roles,
		}
		c.Set(string(UserContextKey), userCtx)
		c.Request = c.Request.WithContext(SetUserContext(c.Request.Context(), userCtx))

		c.Next()
	}
}

// RequireRole 角色检查中间件
func RequireRole(requiredRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userCtx, exists := GetUserContext(c)
		if !exists {
			common.AbortWithError(c, common.CodeUnauthorized, "未认证")
			return
		}

		if !hasRole(userCtx.Roles, requiredRoles) {
			common.AbortWithError(c, common.CodeForbidden, "角色权限不足")
			return
		}

		c.Next()
	}
}

// GetUserContext 从 Gin Context 获取用户上下文
func GetUserContext(c *gin.Context) (*UserContext, bool) {
	v, exists := c.Get(string(UserContextKey))
	if !exists {
		return nil, false
	}
	ctx, ok := v.(*UserContext)
	return ctx, ok
}

// SetUserContext 在标准 context.Context 中设置用户上下文
func SetUserContext(ctx context.Context, userCtx *UserContext) context.Context {
	return context.WithValue(ctx, UserContextKey, userCtx)
}

// GetUserContextFromStdContext 从标准 context.Context 获取用户上下文
func GetUserContextFromStdContext(ctx context.Context) (*UserContext, bool) {
	userCtx, ok := ctx.Value(UserContextKey).(*UserContext)
	return userCtx, ok
}

func hasRole(userRoles []string, requiredRoles []string) bool {
	roleMap := make(map[string]bool)
	for _, role := range userRoles {
		roleMap[strings.ToLower(role)] = true
	}
	for _, required := range requiredRoles {
		if roleMap[strings.ToLower(required)] {
			return true
		}
	}
	return false
}
