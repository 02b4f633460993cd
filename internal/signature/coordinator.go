package signature

import (
	"context"
	"errors"
	"time"

	"backend/internal/common"
	"backend/internal/config"
	"backend/internal/document"
	"backend/internal/infra/queue"
	"backend/internal/logger"
	"backend/internal/metrics"
	"backend/internal/tenant"
	"backend/internal/worker/tasks"
	"backend/internal/workflow"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ProcessCallback 流程引擎回调
// 定稿完成/请求取消时关闭关联的执行记录
type ProcessCallback interface {
	CompleteSignExecutions(ctx context.Context, tenantID, signRequestID string) error
	CancelSignExecutions(ctx context.Context, tenantID, signRequestID, comments string) error
}

// Coordinator 多方签名协调器
// 负责请求创建、逐人决定收集与聚合状态推进；定稿交给单写者队列
type Coordinator struct {
	common.BaseService
	directory *tenant.DirectoryService
	documents *document.Service
	finalizer *Finalizer
	queue     queue.Client
	callback  ProcessCallback
	cfg       *config.SignatureConfig
	logger    *zap.Logger
}

// CoordinatorOption 协调器可选依赖
type CoordinatorOption func(*Coordinator)

// WithQueue 注入任务队列，未注入时定稿在调用链内同步执行
func WithQueue(q queue.Client) CoordinatorOption {
	return func(c *Coordinator) { c.queue = q }
}

// WithProcessCallback 注入流程引擎回调
func WithProcessCallback(cb ProcessCallback) CoordinatorOption {
	return func(c *Coordinator) { c.callback = cb }
}

// NewCoordinator 创建协调器
func NewCoordinator(db *gorm.DB, directory *tenant.DirectoryService, documents *document.Service, finalizer *Finalizer, cfg *config.SignatureConfig, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		BaseService: common.BaseService{DB: db},
		directory:   directory,
		documents:   documents,
		finalizer:   finalizer,
		cfg:         cfg,
		logger:      logger.Get(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.finalizer != nil {
		c.finalizer.callback = c.callback
	}
	return c
}

// SetProcessCallback 延迟绑定流程引擎，打破构造期循环依赖
func (c *Coordinator) SetProcessCallback(cb ProcessCallback) {
	c.callback = cb
	if c.finalizer != nil {
		c.finalizer.callback = cb
	}
}

// CreateRequest 创建多方签名请求并为每个签名人建立决定行
func (c *Coordinator) CreateRequest(ctx context.Context, tenantID string, params workflow.SignRequestParams) (string, error) {
	if len(params.SignerIDs) == 0 {
		return "", common.ErrInvalidRequest("签名人列表不能为空")
	}

	seen := make(map[string]bool, len(params.SignerIDs))
	for _, id := range params.SignerIDs {
		if seen[id] {
			return "", common.ErrInvalidRequest("签名人重复: " + id)
		}
		seen[id] = true
	}

	users, err := c.directory.GetUsersByIDs(ctx, tenantID, params.SignerIDs)
	if err != nil {
		return "", err
	}
	userByID := make(map[string]*tenant.User, len(users))
	for _, u := range users {
		userByID[u.ID] = u
	}

	doc, err := c.documents.Get(ctx, tenantID, params.DocumentID)
	if err != nil {
		return "", err
	}

	request := &MultiSignatureRequest{
		ID:              uuid.New().String(),
		TenantID:        tenantID,
		DocumentID:      params.DocumentID,
		DocumentName:    doc.Name,
		DocumentPath:    doc.ObjectKey,
		ProcessID:       params.ProcessID,
		RequesterID:     params.RequestedBy,
		Status:          RequestStatusPending,
		TotalSignatures: len(params.SignerIDs),
	}

	approvals := make([]MultiSignatureApproval, 0, len(params.SignerIDs))
	for _, signerID := range params.SignerIDs {
		approval := MultiSignatureApproval{
			ID:        uuid.New().String(),
			RequestID: request.ID,
			UserID:    signerID,
			Status:    ApprovalStatusPending,
		}
		if u := userByID[signerID]; u != nil {
			approval.UserName = u.FullName
			approval.UserEmail = u.Email
		}
		approvals = append(approvals, approval)
	}

	err = c.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(request).Error; err != nil {
			return err
		}
		return tx.Create(&approvals).Error
	})
	if err != nil {
		return "", err
	}

	c.logger.Info("多方签名请求创建",
		zap.String("requestId", request.ID),
		zap.String("documentId", params.DocumentID),
		zap.Int("signers", len(approvals)),
	)
	return request.ID, nil
}

// Decide 记录签名人的同意/拒绝决定
// 更新谓词带 status=pending，重复调用是无操作而非错误
func (c *Coordinator) Decide(ctx context.Context, tenantID, requestID, userID, action, comments string) error {
	if action != "approve" && action != "reject" {
		return common.ErrInvalidRequest("未知决定动作: " + action)
	}

	request, err := c.GetRequest(ctx, tenantID, requestID)
	if err != nil {
		return err
	}
	if request.Status == RequestStatusCompleted || request.Status == RequestStatusCancelled {
		// 已终态的请求不再接受决定，也不视为错误
		c.logger.Debug("忽略对已终态签名请求的决定",
			zap.String("requestId", requestID),
			zap.String("status", request.Status),
		)
		return nil
	}

	var approval MultiSignatureApproval
	err = c.DB.WithContext(ctx).
		Where("request_id = ? AND user_id = ?", requestID, userID).
		First(&approval).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return common.ErrForbidden("您不是该请求的受邀签名人")
		}
		return err
	}

	newStatus := ApprovalStatusApproved
	if action == "reject" {
		newStatus = ApprovalStatusRejected
	}

	now := time.Now().UTC()
	result := c.DB.WithContext(ctx).Model(&MultiSignatureApproval{}).
		Where("id = ? AND status = ?", approval.ID, ApprovalStatusPending).
		Updates(map[string]any{
			"status":    newStatus,
			"comments":  comments,
			"signed_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// 已决定过，幂等返回
		return nil
	}

	metrics.SignatureDecisionsTotal.WithLabelValues(action, tenantID).Inc()
	return c.recomputeAggregate(ctx, tenantID, requestID)
}

// recomputeAggregate 重算请求聚合状态
// 任一拒绝 → cancelled；全部同意 → ready_for_signature 并触发定稿
func (c *Coordinator) recomputeAggregate(ctx context.Context, tenantID, requestID string) error {
	var approvals []MultiSignatureApproval
	err := c.DB.WithContext(ctx).
		Where("request_id = ?", requestID).
		Find(&approvals).Error
	if err != nil {
		return err
	}

	approved, rejected := 0, 0
	rejectComment := ""
	for _, a := range approvals {
		switch a.Status {
		case ApprovalStatusApproved:
			approved++
		case ApprovalStatusRejected:
			rejected++
			rejectComment = a.Comments
		}
	}

	status := RequestStatusPending
	switch {
	case rejected > 0:
		status = RequestStatusCancelled
	case approved == len(approvals):
		status = RequestStatusReady
	case approved > 0:
		status = RequestStatusInProgress
	}

	err = c.DB.WithContext(ctx).Model(&MultiSignatureRequest{}).
		Where("id = ? AND status NOT IN ?", requestID, []string{RequestStatusCompleted, RequestStatusCancelled}).
		Updates(map[string]any{
			"status":               status,
			"completed_signatures": approved,
		}).Error
	if err != nil {
		return err
	}

	switch status {
	case RequestStatusCancelled:
		c.logger.Info("多方签名请求被拒绝", zap.String("requestId", requestID))
		if c.callback != nil {
			if err := c.callback.CancelSignExecutions(ctx, tenantID, requestID, rejectComment); err != nil {
				c.logger.Error("取消关联执行记录失败", zap.String("requestId", requestID), zap.Error(err))
			}
		}

	case RequestStatusReady:
		return c.triggerFinalization(ctx, tenantID, requestID)
	}
	return nil
}

// triggerFinalization 全员同意后触发定稿
// 有队列时投递给单写者 worker，消除"最后同意者"竞态；否则同步执行。
// 定稿失败不回滚决定，请求停留在 ready_for_signature 可重试
func (c *Coordinator) triggerFinalization(ctx context.Context, tenantID, requestID string) error {
	if c.queue != nil {
		err := c.queue.EnqueueFinalizeSignature(tasks.FinalizeSignaturePayload{
			RequestID: requestID,
			TenantID:  tenantID,
		})
		if err == nil {
			c.logger.Info("定稿任务已入队", zap.String("requestId", requestID))
			return nil
		}
		c.logger.Warn("定稿任务入队失败，改为同步执行", zap.String("requestId", requestID), zap.Error(err))
	}

	if _, err := c.finalizer.Finalize(ctx, tenantID, requestID); err != nil {
		c.logger.Error("自动定稿失败，请求保持可重试状态",
			zap.String("requestId", requestID),
			zap.Error(err),
		)
	}
	return nil
}

// RecordSimpleSignature 落一条简单签名审计记录
func (c *Coordinator) RecordSimpleSignature(ctx context.Context, tenantID, documentID, userID string) (string, error) {
	user, err := c.directory.GetUser(ctx, tenantID, userID)
	if err != nil {
		return "", err
	}

	sig := &DocumentSignature{
		ID:               uuid.New().String(),
		TenantID:         tenantID,
		UserID:           userID,
		DocumentID:       documentID,
		SignatureType:    SignatureTypeSimple,
		Status:           "completed",
		VerificationCode: NewVerificationCode(),
		SignerName:       user.FullName,
		SignerEmail:      user.Email,
	}
	sig.VerificationURL = c.finalizer.verificationURL(sig.VerificationCode)

	if err := c.DB.WithContext(ctx).Create(sig).Error; err != nil {
		return "", err
	}
	return sig.ID, nil
}

// GetRequest 获取签名请求
func (c *Coordinator) GetRequest(ctx context.Context, tenantID, requestID string) (*MultiSignatureRequest, error) {
	var request MultiSignatureRequest
	err := c.DB.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", requestID, tenantID).
		First(&request).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.ErrNotFound(common.CodeSignRequestNotFound, "签名请求不存在")
		}
		return nil, err
	}
	return &request, nil
}

// ListApprovals 列出请求的全部决定行
func (c *Coordinator) ListApprovals(ctx context.Context, tenantID, requestID string) ([]*MultiSignatureApproval, error) {
	if _, err := c.GetRequest(ctx, tenantID, requestID); err != nil {
		return nil, err
	}

	var approvals []*MultiSignatureApproval
	err := c.DB.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("created_at ASC").
		Find(&approvals).Error
	if err != nil {
		return nil, err
	}
	return approvals, nil
}

// ListPendingForUser 列出等待某用户决定的请求
func (c *Coordinator) ListPendingForUser(ctx context.Context, tenantID, userID string, page common.PaginationRequest) ([]*MultiSignatureRequest, int64, error) {
	pendingIDs := c.DB.Model(&MultiSignatureApproval{}).
		Select("request_id").
		Where("user_id = ? AND status = ?", userID, ApprovalStatusPending)

	query := c.DB.WithContext(ctx).Model(&MultiSignatureRequest{}).
		Where("tenant_id = ? AND id IN (?) AND status IN ?",
			tenantID, pendingIDs, []string{RequestStatusPending, RequestStatusInProgress})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var requests []*MultiSignatureRequest
	err := query.Order("created_at DESC").
		Offset(page.GetOffset()).Limit(page.GetPageSize()).
		Find(&requests).Error
	if err != nil {
		return nil, 0, err
	}
	return requests, total, nil
}
