package common

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// BaseService 服务基类，封装通用的数据库操作方法
// 业务Service嵌入此基类来复用租户过滤与事务辅助
type BaseService struct {
	DB *gorm.DB
}

// NewBaseService 创建BaseService实例
func NewBaseService(db *gorm.DB) *BaseService {
	return &BaseService{DB: db}
}

// ApplyTenantFilter 应用租户过滤条件
func (s *BaseService) ApplyTenantFilter(query *gorm.DB, tenantID string) *gorm.DB {
	if tenantID != "" {
		return query.Where("tenant_id = ?", tenantID)
	}
	return query
}

// WithTransaction 在事务中执行回调
func (s *BaseService) WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.DB.WithContext(ctx).Transaction(fn)
}

// FindByID 按主键加载记录，不存在时返回 notFoundErr
func (s *BaseService) FindByID(ctx context.Context, dest any, id string, notFoundErr *BusinessError) error {
	if err := s.DB.WithContext(ctx).Where("id = ?", id).First(dest).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFoundErr
		}
		return fmt.Errorf("查询记录失败: %w", err)
	}
	return nil
}

// CountWhere 按条件统计
func (s *BaseService) CountWhere(ctx context.Context, model any, query string, args ...any) (int64, error) {
	var count int64
	if err := s.DB.WithContext(ctx).Model(model).Where(query, args...).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("统计记录失败: %w", err)
	}
	return count, nil
}
