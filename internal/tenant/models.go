package tenant

import "time"

// 用户状态
const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

// Tenant 租户，所有业务数据通过 TenantID 隔离
type Tenant struct {
	ID     string `json:"id" gorm:"primaryKey;type:uuid"`
	Name   string `json:"name" gorm:"size:255;not null"`
	Slug   string `json:"slug" gorm:"size:100;uniqueIndex;not null"`
	Status string `json:"status" gorm:"size:50;not null;default:active"`

	ContactEmail string `json:"contactEmail" gorm:"size:255"`

	CreatedAt time.Time  `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time  `json:"updatedAt" gorm:"not null;autoUpdateTime"`
	DeletedAt *time.Time `json:"deletedAt,omitempty" gorm:"index"`
}

// Department 部门，流程步骤可按部门指派审批人
type Department struct {
	ID       string `json:"id" gorm:"primaryKey;type:uuid"`
	TenantID string `json:"tenantId" gorm:"type:uuid;not null;index:idx_dept_tenant"`

	Name     string `json:"name" gorm:"size:255;not null"`
	Code     string `json:"code" gorm:"size:100;not null;index:idx_dept_tenant"`
	ParentID string `json:"parentId,omitempty" gorm:"type:uuid;index"`

	CreatedAt time.Time  `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time  `json:"updatedAt" gorm:"not null;autoUpdateTime"`
	DeletedAt *time.Time `json:"deletedAt,omitempty" gorm:"index"`
}

// User 租户内的用户
type User struct {
	ID       string `json:"id" gorm:"primaryKey;type:uuid"`
	TenantID string `json:"tenantId" gorm:"type:uuid;not null;index:idx_user_tenant"`

	Email        string `json:"email" gorm:"size:255;not null;index:idx_user_tenant"`
	Username     string `json:"username" gorm:"size:100;not null"`
	PasswordHash string `json:"-" gorm:"size:255;not null"`

	FullName     string `json:"fullName" gorm:"size:255"`
	DepartmentID string `json:"departmentId,omitempty" gorm:"type:uuid;index"`
	Title        string `json:"title" gorm:"size:100"`

	Status string   `json:"status" gorm:"size:50;not null;default:active"`
	Roles  []string `json:"roles" gorm:"type:jsonb;serializer:json"`

	LastLoginAt *time.Time `json:"lastLoginAt"`

	CreatedAt time.Time  `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time  `json:"updatedAt" gorm:"not null;autoUpdateTime"`
	DeletedAt *time.Time `json:"deletedAt,omitempty" gorm:"index"`
}

// IsActive 用户是否可被指派任务
func (u *User) IsActive() bool {
	return u.Status == UserStatusActive && u.DeletedAt == nil
}
