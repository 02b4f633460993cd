package workflow

import (
	"context"
	"errors"

	"backend/internal/common"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TemplateService 流程模板服务
type TemplateService struct {
	common.BaseService
	maxSteps int
}

// NewTemplateService 创建模板服务
func NewTemplateService(db *gorm.DB, maxSteps int) *TemplateService {
	return &TemplateService{
		BaseService: common.BaseService{DB: db},
		maxSteps:    maxSteps,
	}
}

// StepInput 创建模板时的步骤定义
type StepInput struct {
	Name           string         `json:"name"`
	Type           string         `json:"type"`
	StepOrder      int            `json:"stepOrder"`
	AssignedUserID string         `json:"assignedUserId,omitempty"`
	DepartmentID   string         `json:"departmentId,omitempty"`
	ActionType     string         `json:"actionType,omitempty"`
	TargetUsers    []string       `json:"targetUsers,omitempty"`
	PositionX      float64        `json:"positionX"`
	PositionY      float64        `json:"positionY"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// TransitionInput 创建模板时的转移定义，按步骤序号引用
type TransitionInput struct {
	FromOrder int    `json:"fromOrder"`
	ToOrder   int    `json:"toOrder"`
	Condition string `json:"condition,omitempty"`
}

// CreateTemplateParams 创建模板参数
type CreateTemplateParams struct {
	Name        string
	Description string
	CreatedBy   string
	Steps       []StepInput
	Transitions []TransitionInput
}

// Create 创建草稿模板
func (s *TemplateService) Create(ctx context.Context, tenantID string, params CreateTemplateParams) (*Template, error) {
	if params.Name == "" {
		return nil, common.ErrInvalidRequest("模板名称不能为空")
	}

	tpl := &Template{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		Name:        params.Name,
		Description: params.Description,
		Status:      TemplateStatusDraft,
		CreatedBy:   params.CreatedBy,
	}

	orderToID := make(map[int]string, len(params.Steps))
	for _, in := range params.Steps {
		step := Step{
			ID:             uuid.New().String(),
			TemplateID:     tpl.ID,
			Name:           in.Name,
			Type:           in.Type,
			StepOrder:      in.StepOrder,
			AssignedUserID: in.AssignedUserID,
			DepartmentID:   in.DepartmentID,
			ActionType:     in.ActionType,
			TargetUsers:    in.TargetUsers,
			PositionX:      in.PositionX,
			PositionY:      in.PositionY,
			Metadata:       in.Metadata,
		}
		if _, dup := orderToID[in.StepOrder]; dup {
			return nil, common.ErrInvalidRequest("步骤序号重复")
		}
		orderToID[in.StepOrder] = step.ID
		tpl.Steps = append(tpl.Steps, step)
	}

	for _, in := range params.Transitions {
		fromID, ok := orderToID[in.FromOrder]
		if !ok {
			return nil, common.ErrInvalidRequest("转移引用了不存在的步骤序号")
		}
		toID, ok := orderToID[in.ToOrder]
		if !ok {
			return nil, common.ErrInvalidRequest("转移引用了不存在的步骤序号")
		}
		tpl.Transitions = append(tpl.Transitions, Transition{
			ID:         uuid.New().String(),
			TemplateID: tpl.ID,
			FromStepID: fromID,
			ToStepID:   toID,
			Condition:  in.Condition,
		})
	}

	if err := ValidateTemplate(tpl, s.maxSteps); err != nil {
		return nil, err
	}

	err := s.WithTransaction(ctx, func(tx *gorm.DB) error {
		return tx.Create(tpl).Error
	})
	if err != nil {
		return nil, err
	}
	return tpl, nil
}

// Get 获取模板及其步骤、转移
func (s *TemplateService) Get(ctx context.Context, tenantID, templateID string) (*Template, error) {
	var tpl Template
	err := s.DB.WithContext(ctx).
		Preload("Steps", func(db *gorm.DB) *gorm.DB { return db.Order("step_order ASC") }).
		Preload("Transitions").
		Where("id = ? AND tenant_id = ?", templateID, tenantID).
		First(&tpl).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.ErrNotFound(common.CodeTemplateNotFound, "模板不存在")
		}
		return nil, err
	}
	return &tpl, nil
}

// List 分页列出租户模板
func (s *TemplateService) List(ctx context.Context, tenantID string, page common.PaginationRequest) ([]*Template, int64, error) {
	query := s.DB.WithContext(ctx).Model(&Template{}).Where("tenant_id = ?", tenantID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var templates []*Template
	err := query.Order("created_at DESC").
		Offset(page.GetOffset()).Limit(page.GetPageSize()).
		Find(&templates).Error
	if err != nil {
		return nil, 0, err
	}
	return templates, total, nil
}

// Publish 发布模板，发布后结构冻结
func (s *TemplateService) Publish(ctx context.Context, tenantID, templateID string) (*Template, error) {
	tpl, err := s.Get(ctx, tenantID, templateID)
	if err != nil {
		return nil, err
	}
	if tpl.Status == TemplateStatusPublished {
		return tpl, nil
	}

	if err := ValidateTemplate(tpl, s.maxSteps); err != nil {
		return nil, err
	}

	err = s.DB.WithContext(ctx).Model(&Template{}).
		Where("id = ?", tpl.ID).
		Update("status", TemplateStatusPublished).Error
	if err != nil {
		return nil, err
	}
	tpl.Status = TemplateStatusPublished
	return tpl, nil
}

// Delete 删除草稿模板，已发布模板不可删除
func (s *TemplateService) Delete(ctx context.Context, tenantID, templateID string) error {
	tpl, err := s.Get(ctx, tenantID, templateID)
	if err != nil {
		return err
	}
	if tpl.Status == TemplateStatusPublished {
		return common.ErrInvalidState("已发布的模板不可删除")
	}

	return s.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("template_id = ?", tpl.ID).Delete(&Transition{}).Error; err != nil {
			return err
		}
		if err := tx.Where("template_id = ?", tpl.ID).Delete(&Step{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Template{}, "id = ?", tpl.ID).Error
	})
}
