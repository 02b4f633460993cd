package common

import "time"

// ============================================================================
// 通用请求类型
// ============================================================================

// PaginationRequest 分页请求参数
type PaginationRequest struct {
	Page     int `json:"page" form:"page" binding:"omitempty,min=1"`           // 页码，从1开始
	PageSize int `json:"page_size" form:"page_size" binding:"omitempty,min=1"` // 每页数量
}

// DefaultPagination 返回默认分页参数
func DefaultPagination() PaginationRequest {
	return PaginationRequest{
		Page:     1,
		PageSize: 20,
	}
}

// GetOffset 计算数据库查询的偏移量
func (p PaginationRequest) GetOffset() int {
	if p.Page < 1 {
		p.Page = 1
	}
	return (p.Page - 1) * p.GetPageSize()
}

// GetPageSize 获取每页数量，提供默认值
func (p PaginationRequest) GetPageSize() int {
	if p.PageSize < 1 {
		return 20
	}
	if p.PageSize > 100 {
		return 100
	}
	return p.PageSize
}

// IDRequest 通过ID查询的请求
type IDRequest struct {
	ID string `json:"id" uri:"id" binding:"required"` // 资源ID
}

// ============================================================================
// 通用响应类型
// ============================================================================

// APIResponse 统一API响应格式
type APIResponse struct {
	Success bool   `json:"success"`           // 是否成功
	Data    any    `json:"data,omitempty"`    // 响应数据
	Message string `json:"message,omitempty"` // 提示信息
	Code    int    `json:"code"`              // 业务状态码
}

// SuccessResponse 成功响应
func SuccessResponse(data any) APIResponse {
	return APIResponse{
		Success: true,
		Data:    data,
		Code:    0,
	}
}

// ErrorResponse 错误响应
func ErrorResponse(code int, message string) APIResponse {
	return APIResponse{
		Success: false,
		Message: message,
		Code:    code,
	}
}

// PaginationMeta 分页元信息
type PaginationMeta struct {
	Page       int   `json:"page"`        // 当前页码
	PageSize   int   `json:"page_size"`   // 每页数量
	Total      int64 `json:"total"`       // 总记录数
	TotalPages int   `json:"total_pages"` // 总页数
}

// ListResponse 列表响应（包含分页信息）
type ListResponse struct {
	Items      any            `json:"items"`      // 数据列表
	Pagination PaginationMeta `json:"pagination"` // 分页信息
}

// ============================================================================
// 业务状态码定义
// ============================================================================

const (
	// 成功状态码
	CodeSuccess = 0

	// 通用错误码 (1000-1999)
	CodeInvalidRequest  = 1000 // 请求参数错误
	CodeUnauthorized    = 1001 // 未授权
	CodeForbidden       = 1002 // 禁止访问
	CodeNotFound        = 1003 // 资源不存在
	CodeConflict        = 1004 // 资源冲突
	CodeInternalError   = 1005 // 内部错误
	CodeInvalidState    = 1006 // 非法状态变更
	CodeInconsistent    = 1007 // 数据不一致
	CodeUpstreamFailure = 1008 // 上游依赖失败

	// 租户/用户相关错误码 (2000-2099)
	CodeTenantNotFound     = 2000 // 租户不存在
	CodeUserNotFound       = 2010 // 用户不存在
	CodeUserDisabled       = 2011 // 用户已禁用
	CodeDepartmentNotFound = 2020 // 部门不存在

	// 流程相关错误码 (3000-3099)
	CodeTemplateNotFound    = 3000 // 流程模板不存在
	CodeTemplateInvalid     = 3001 // 流程模板校验失败
	CodeProcessNotFound     = 3010 // 流程实例不存在
	CodeExecutionNotFound   = 3020 // 执行记录不存在
	CodeInvalidAction       = 3030 // 非法动作

	// 签名相关错误码 (4000-4099)
	CodeSignRequestNotFound = 4000 // 签名请求不存在
	CodeSignatureNotFound   = 4010 // 签名记录不存在
	CodeSignatureExpired    = 4011 // 签名验证已过期

	// 文档相关错误码 (5000-5099)
	CodeDocumentNotFound = 5000 // 文档不存在
)

// ErrorMessages 错误码对应的默认消息
var ErrorMessages = map[int]string{
	CodeSuccess:         "操作成功",
	CodeInvalidRequest:  "请求参数错误",
	CodeUnauthorized:    "未授权，请先登录",
	CodeForbidden:       "无权限访问",
	CodeNotFound:        "资源不存在",
	CodeConflict:        "资源冲突",
	CodeInternalError:   "系统内部错误",
	CodeInvalidState:    "当前状态不允许该操作",
	CodeInconsistent:    "数据不一致",
	CodeUpstreamFailure: "上游依赖调用失败",

	CodeTenantNotFound:     "租户不存在",
	CodeUserNotFound:       "用户不存在",
	CodeUserDisabled:       "用户已禁用",
	CodeDepartmentNotFound: "部门不存在",

	CodeTemplateNotFound:  "流程模板不存在",
	CodeTemplateInvalid:   "流程模板校验失败",
	CodeProcessNotFound:   "流程实例不存在",
	CodeExecutionNotFound: "执行记录不存在",
	CodeInvalidAction:     "当前步骤不支持该动作",

	CodeSignRequestNotFound: "签名请求不存在",
	CodeSignatureNotFound:   "签名记录不存在",
	CodeSignatureExpired:    "签名验证已过期",

	CodeDocumentNotFound: "文档不存在",
}

// GetErrorMessage 获取错误码对应的消息
func GetErrorMessage(code int) string {
	if msg, ok := ErrorMessages[code]; ok {
		return msg
	}
	return "未知错误"
}

// ============================================================================
// 通用业务错误类型
// ============================================================================

// BusinessError 业务错误
type BusinessError struct {
	Code    int    // 错误码
	Message string // 错误信息
}

// Error 实现error接口
func (e *BusinessError) Error() string {
	return e.Message
}

// NewBusinessError 创建业务错误
func NewBusinessError(code int, message string) *BusinessError {
	if message == "" {
		message = GetErrorMessage(code)
	}
	return &BusinessError{
		Code:    code,
		Message: message,
	}
}

// ErrInvalidRequest 参数校验失败
func ErrInvalidRequest(message string) *BusinessError {
	return NewBusinessError(CodeInvalidRequest, message)
}

// ErrForbidden 权限不足
func ErrForbidden(message string) *BusinessError {
	return NewBusinessError(CodeForbidden, message)
}

// ErrNotFound 资源不存在
func ErrNotFound(code int, message string) *BusinessError {
	if code == 0 {
		code = CodeNotFound
	}
	return NewBusinessError(code, message)
}

// ErrInvalidState 非法状态变更
func ErrInvalidState(message string) *BusinessError {
	return NewBusinessError(CodeInvalidState, message)
}

// ErrInconsistent 数据不一致
func ErrInconsistent(message string) *BusinessError {
	return NewBusinessError(CodeInconsistent, message)
}

// ErrUpstream 上游依赖失败
func ErrUpstream(message string) *BusinessError {
	return NewBusinessError(CodeUpstreamFailure, message)
}

// ErrInvalidAction 当前步骤不支持的动作
func ErrInvalidAction(message string) *BusinessError {
	return NewBusinessError(CodeInvalidAction, message)
}

// ============================================================================
// 资源统计信息
// ============================================================================

// ResourceStats 资源统计信息
type ResourceStats struct {
	TotalCount   int64     `json:"total_count"`   // 总数
	ActiveCount  int64     `json:"active_count"`  // 活跃数
	CreatedToday int64     `json:"created_today"` // 今日新增
	UpdatedAt    time.Time `json:"updated_at"`    // 统计更新时间
}
