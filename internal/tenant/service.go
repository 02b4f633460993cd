package tenant

import (
	"context"
	"errors"
	"strings"

	"backend/internal/common"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// DirectoryService 租户用户目录服务
// 供流程引擎按用户/部门解析审批人使用
type DirectoryService struct {
	common.BaseService
}

// NewDirectoryService 创建用户目录服务
func NewDirectoryService(db *gorm.DB) *DirectoryService {
	return &DirectoryService{BaseService: common.BaseService{DB: db}}
}

// GetUser 按 ID 获取租户内用户
func (s *DirectoryService) GetUser(ctx context.Context, tenantID, userID string) (*User, error) {
	var user User
	err := s.DB.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", userID, tenantID).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.ErrNotFound(common.CodeUserNotFound, "用户不存在")
		}
		return nil, err
	}
	return &user, nil
}

// GetUsersByIDs 批量获取用户，缺失的 ID 不报错
func (s *DirectoryService) GetUsersByIDs(ctx context.Context, tenantID string, ids []string) ([]*User, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var users []*User
	err := s.DB.WithContext(ctx).
		Where("tenant_id = ? AND id IN ?", tenantID, ids).
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}

// ListActiveUsersByDepartment 列出部门内所有可用用户
// 部门步骤的审批人展开依赖此查询
func (s *DirectoryService) ListActiveUsersByDepartment(ctx context.Context, tenantID, departmentID string) ([]*User, error) {
	var dept Department
	err := s.DB.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", departmentID, tenantID).
		First(&dept).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.ErrNotFound(common.CodeDepartmentNotFound, "部门不存在")
		}
		return nil, err
	}

	var users []*User
	err = s.DB.WithContext(ctx).
		Where("tenant_id = ? AND department_id = ? AND status = ?", tenantID, departmentID, UserStatusActive).
		Order("created_at ASC").
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}

// CreateUserParams 创建用户参数
type CreateUserParams struct {
	Email        string
	Username     string
	Password     string
	FullName     string
	DepartmentID string
	Roles        []string
}

// CreateUser 在租户内创建用户
func (s *DirectoryService) CreateUser(ctx context.Context, tenantID string, params CreateUserParams) (*User, error) {
	if strings.TrimSpace(params.Email) == "" || strings.TrimSpace(params.Username) == "" {
		return nil, common.ErrInvalidRequest("邮箱和用户名不能为空")
	}
	if len(params.Password) < 8 {
		return nil, common.ErrInvalidRequest("密码长度至少 8 位")
	}

	var count int64
	err := s.DB.WithContext(ctx).Model(&User{}).
		Where("tenant_id = ? AND email = ?", tenantID, params.Email).
		Count(&count).Error
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, common.ErrInvalidRequest("邮箱已被占用")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(params.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &User{
		ID:           uuid.New().String(),
		TenantID:     tenantID,
		Email:        params.Email,
		Username:     params.Username,
		PasswordHash: string(hash),
		FullName:     params.FullName,
		DepartmentID: params.DepartmentID,
		Status:       UserStatusActive,
		Roles:        params.Roles,
	}
	if err := s.DB.WithContext(ctx).Create(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

// DisableUser 禁用用户，已指派的在途任务不受影响
func (s *DirectoryService) DisableUser(ctx context.Context, tenantID, userID string) error {
	result := s.DB.WithContext(ctx).Model(&User{}).
		Where("id = ? AND tenant_id = ?", userID, tenantID).
		Update("status", UserStatusDisabled)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return common.ErrNotFound(common.CodeUserNotFound, "用户不存在")
	}
	return nil
}

// Authenticate 校验用户凭证
func (s *DirectoryService) Authenticate(ctx context.Context, tenantSlug, email, password string) (*User, error) {
	var t Tenant
	err := s.DB.WithContext(ctx).Where("slug = ?", tenantSlug).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.ErrNotFound(common.CodeTenantNotFound, "租户不存在")
		}
		return nil, err
	}

	var user User
	err = s.DB.WithContext(ctx).
		Where("tenant_id = ? AND email = ?", t.ID, email).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.ErrInvalidRequest("邮箱或密码错误")
		}
		return nil, err
	}

	if user.Status != UserStatusActive {
		return nil, common.ErrForbidden("账号已禁用")
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, common.ErrInvalidRequest("邮箱或密码错误")
	}
	return &user, nil
}

// CreateDepartment 创建部门
func (s *DirectoryService) CreateDepartment(ctx context.Context, tenantID, name, code, parentID string) (*Department, error) {
	if strings.TrimSpace(name) == "" {
		return nil, common.ErrInvalidRequest("部门名称不能为空")
	}

	dept := &Department{
		ID:       uuid.New().String(),
		TenantID: tenantID,
		Name:     name,
		Code:     code,
		ParentID: parentID,
	}
	if err := s.DB.WithContext(ctx).Create(dept).Error; err != nil {
		return nil, err
	}
	return dept, nil
}

// ListDepartments 列出租户内所有部门
func (s *DirectoryService) ListDepartments(ctx context.Context, tenantID string) ([]*Department, error) {
	var depts []*Department
	err := s.DB.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("code ASC").
		Find(&depts).Error
	if err != nil {
		return nil, err
	}
	return depts, nil
}
