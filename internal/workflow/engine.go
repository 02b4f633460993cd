package workflow

import (
	"context"
	"errors"
	"time"

	"backend/internal/common"
	"backend/internal/document"
	"backend/internal/logger"
	"backend/internal/metrics"
	"backend/internal/tenant"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SignRequestParams 发起多方签名请求的参数
type SignRequestParams struct {
	DocumentID  string
	ProcessID   string
	RequestedBy string
	SignerIDs   []string
}

// SignatureGateway 签名子协议网关
// 由签名协调器实现，引擎通过它发起请求、投递决定、落简单签名
type SignatureGateway interface {
	CreateRequest(ctx context.Context, tenantID string, params SignRequestParams) (requestID string, err error)
	Decide(ctx context.Context, tenantID, requestID, userID, action, comments string) error
	RecordSimpleSignature(ctx context.Context, tenantID, documentID, userID string) (signatureID string, err error)
}

// Notifier 通知发送器，失败不影响主流程
type Notifier interface {
	Notify(ctx context.Context, tenantID, userID, event, message string) error
}

// Engine 流程引擎
// 负责流程实例生命周期、执行记录派发与步骤推进
type Engine struct {
	common.BaseService
	templates  *TemplateService
	directory  *tenant.DirectoryService
	documents  *document.Service
	signatures SignatureGateway
	notifier   Notifier
	logger     *zap.Logger
}

// EngineOption 引擎可选依赖
type EngineOption func(*Engine)

// WithSignatureGateway 注入签名网关
func WithSignatureGateway(gw SignatureGateway) EngineOption {
	return func(e *Engine) { e.signatures = gw }
}

// WithNotifier 注入通知发送器
func WithNotifier(n Notifier) EngineOption {
	return func(e *Engine) { e.notifier = n }
}

// WithLogger 注入日志器
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine 创建流程引擎
func NewEngine(db *gorm.DB, templates *TemplateService, directory *tenant.DirectoryService, documents *document.Service, opts ...EngineOption) *Engine {
	e := &Engine{
		BaseService: common.BaseService{DB: db},
		templates:   templates,
		directory:   directory,
		documents:   documents,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logger.Get()
	}
	return e
}

// StartProcessParams 启动流程参数
type StartProcessParams struct {
	TemplateID string
	DocumentID string
	Name       string
	StartedBy  string
}

// StartProcess 从模板启动流程实例
// 校验通过后创建流程行、定位首步骤并派发其执行记录
func (e *Engine) StartProcess(ctx context.Context, tenantID string, params StartProcessParams) (*Process, error) {
	tpl, err := e.templates.Get(ctx, tenantID, params.TemplateID)
	if err != nil {
		return nil, err
	}
	if err := ValidateForStart(tpl); err != nil {
		return nil, err
	}

	if _, err := e.documents.Get(ctx, tenantID, params.DocumentID); err != nil {
		return nil, err
	}

	first := FirstStep(tpl)
	if first == nil {
		return nil, common.ErrInvalidRequest("模板没有步骤")
	}

	name := params.Name
	if name == "" {
		name = tpl.Name
	}

	proc := &Process{
		ID:            uuid.New().String(),
		TenantID:      tenantID,
		TemplateID:    tpl.ID,
		DocumentID:    params.DocumentID,
		Name:          name,
		Status:        ProcessStatusActive,
		CurrentStepID: first.ID,
		StartedBy:     params.StartedBy,
		StartedAt:     time.Now().UTC(),
	}

	// 先完成受派人解析与签名请求注册，全部就绪后再落库
	executions, err := e.buildExecutions(ctx, tenantID, proc, first)
	if err != nil {
		return nil, err
	}

	err = e.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(proc).Error; err != nil {
			return err
		}
		if len(executions) > 0 {
			return tx.Create(&executions).Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := e.documents.MarkInProcess(ctx, tenantID, params.DocumentID); err != nil {
		e.logger.Warn("更新文档流程状态失败", zap.String("documentId", params.DocumentID), zap.Error(err))
	}

	e.notifyAssignees(ctx, tenantID, executions, "process.assigned", "您有新的流程任务: "+proc.Name)
	metrics.ProcessesStartedTotal.WithLabelValues(tenantID).Inc()

	e.logger.Info("流程启动成功",
		zap.String("processId", proc.ID),
		zap.String("templateId", tpl.ID),
		zap.String("firstStepId", first.ID),
		zap.Int("executions", len(executions)),
	)
	return proc, nil
}

// ProcessView 列表项，附带文档限时下载链接
type ProcessView struct {
	*Process
	DocumentURL string `json:"documentUrl,omitempty"`
}

// 列表查询范围
const (
	ScopeMine     = "mine"
	ScopeAssigned = "assigned"
)

// ListProcesses 列出与用户相关的流程
// scope=mine 仅返回本人发起的；scope=assigned 返回发起的与被指派的并集
func (e *Engine) ListProcesses(ctx context.Context, tenantID, userID, scope string, page common.PaginationRequest) ([]*ProcessView, int64, error) {
	query := e.DB.WithContext(ctx).Model(&Process{}).Where("tenant_id = ?", tenantID)

	switch scope {
	case ScopeMine:
		query = query.Where("started_by = ?", userID)
	case ScopeAssigned, "":
		assigned := e.DB.Model(&Execution{}).
			Select("process_id").
			Where("assigned_to = ?", userID)
		query = query.Where("started_by = ? OR id IN (?)", userID, assigned)
	default:
		return nil, 0, common.ErrInvalidRequest("未知查询范围: " + scope)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var processes []*Process
	err := query.Order("started_at DESC").
		Offset(page.GetOffset()).Limit(page.GetPageSize()).
		Find(&processes).Error
	if err != nil {
		return nil, 0, err
	}

	views := make([]*ProcessView, 0, len(processes))
	for _, proc := range processes {
		view := &ProcessView{Process: proc}
		url, err := e.documents.DownloadURL(ctx, tenantID, proc.DocumentID)
		if err != nil {
			e.logger.Warn("生成文档下载链接失败", zap.String("processId", proc.ID), zap.Error(err))
		} else {
			view.DocumentURL = url
		}
		views = append(views, view)
	}
	return views, total, nil
}

// ProcessDetail 流程详情
type ProcessDetail struct {
	Process    *Process     `json:"process"`
	Template   *Template    `json:"template"`
	Executions []*Execution `json:"executions"`
}

// GetProcess 获取流程详情及全部执行记录
func (e *Engine) GetProcess(ctx context.Context, tenantID, processID string) (*ProcessDetail, error) {
	proc, err := e.loadProcess(ctx, tenantID, processID)
	if err != nil {
		return nil, err
	}

	tpl, err := e.templates.Get(ctx, tenantID, proc.TemplateID)
	if err != nil {
		return nil, err
	}

	var executions []*Execution
	err = e.DB.WithContext(ctx).
		Where("process_id = ?", proc.ID).
		Order("created_at ASC").
		Find(&executions).Error
	if err != nil {
		return nil, err
	}

	return &ProcessDetail{Process: proc, Template: tpl, Executions: executions}, nil
}

// DeleteProcess 删除流程
// 仅发起人可删，已完成的流程不可删（保留审计）
func (e *Engine) DeleteProcess(ctx context.Context, tenantID, processID, userID string) error {
	proc, err := e.loadProcess(ctx, tenantID, processID)
	if err != nil {
		return err
	}
	if proc.StartedBy != userID {
		return common.ErrForbidden("仅流程发起人可删除")
	}
	if proc.Status == ProcessStatusCompleted {
		return common.ErrInvalidState("已完成的流程不可删除，请使用取消或归档")
	}

	return e.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("process_id = ?", proc.ID).Delete(&Execution{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Process{}, "id = ?", proc.ID).Error
	})
}

// PauseProcess 暂停流程，在途执行保持 pending
func (e *Engine) PauseProcess(ctx context.Context, tenantID, processID, userID string) error {
	return e.setStatus(ctx, tenantID, processID, userID, ProcessStatusActive, ProcessStatusPaused)
}

// ResumeProcess 恢复暂停的流程
func (e *Engine) ResumeProcess(ctx context.Context, tenantID, processID, userID string) error {
	return e.setStatus(ctx, tenantID, processID, userID, ProcessStatusPaused, ProcessStatusActive)
}

// CancelProcess 取消流程
func (e *Engine) CancelProcess(ctx context.Context, tenantID, processID, userID string) error {
	proc, err := e.loadProcess(ctx, tenantID, processID)
	if err != nil {
		return err
	}
	if proc.StartedBy != userID {
		return common.ErrForbidden("仅流程发起人可取消")
	}
	if proc.Status == ProcessStatusCompleted || proc.Status == ProcessStatusCancelled {
		return common.ErrInvalidState("流程已结束")
	}

	return e.DB.WithContext(ctx).Model(&Process{}).
		Where("id = ?", proc.ID).
		Update("status", ProcessStatusCancelled).Error
}

func (e *Engine) setStatus(ctx context.Context, tenantID, processID, userID, from, to string) error {
	proc, err := e.loadProcess(ctx, tenantID, processID)
	if err != nil {
		return err
	}
	if proc.StartedBy != userID {
		return common.ErrForbidden("仅流程发起人可操作")
	}

	result := e.DB.WithContext(ctx).Model(&Process{}).
		Where("id = ? AND status = ?", proc.ID, from).
		Update("status", to)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return common.ErrInvalidState("流程当前状态不允许该操作: " + proc.Status)
	}
	return nil
}

func (e *Engine) loadProcess(ctx context.Context, tenantID, processID string) (*Process, error) {
	var proc Process
	err := e.DB.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", processID, tenantID).
		First(&proc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.ErrNotFound(common.CodeProcessNotFound, "流程不存在")
		}
		return nil, err
	}
	return &proc, nil
}

func (e *Engine) notifyAssignees(ctx context.Context, tenantID string, executions []Execution, event, message string) {
	if e.notifier == nil {
		return
	}
	for _, exec := range executions {
		if err := e.notifier.Notify(ctx, tenantID, exec.AssignedTo, event, message); err != nil {
			e.logger.Warn("通知发送失败",
				zap.String("userId", exec.AssignedTo),
				zap.String("event", event),
				zap.Error(err),
			)
		}
	}
}
