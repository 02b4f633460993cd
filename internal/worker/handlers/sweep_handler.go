package handlers

import (
	"context"
	"time"

	"backend/internal/signature"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SweepHandler 孤儿数据清扫处理器
// 决定行的 request_id 是弱引用，请求删除后留下的孤儿行由维护任务回收
type SweepHandler struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewSweepHandler 创建清扫处理器
func NewSweepHandler(db *gorm.DB, logger *zap.Logger) *SweepHandler {
	return &SweepHandler{db: db, logger: logger}
}

// HandleExpireSweep 回收孤儿决定行
func (h *SweepHandler) HandleExpireSweep(ctx context.Context, task *asynq.Task) error {
	cutoff := time.Now().UTC().Add(-24 * time.Hour)

	result := h.db.WithContext(ctx).
		Where("created_at < ? AND request_id NOT IN (?)",
			cutoff,
			h.db.Model(&signature.MultiSignatureRequest{}).Select("id"),
		).
		Delete(&signature.MultiSignatureApproval{})
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected > 0 {
		h.logger.Info("孤儿签名决定行已回收", zap.Int64("rows", result.RowsAffected))
	}
	return nil
}
