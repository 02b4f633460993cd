package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"backend/internal/common"
	"backend/internal/signature"
	"backend/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// FinalizeHandler 签名定稿任务处理器
// 队列并发度为 1，同一请求的重复任务由定稿早退兜底
type FinalizeHandler struct {
	finalizer *signature.Finalizer
	logger    *zap.Logger
}

// NewFinalizeHandler 创建定稿处理器
func NewFinalizeHandler(finalizer *signature.Finalizer, logger *zap.Logger) *FinalizeHandler {
	return &FinalizeHandler{finalizer: finalizer, logger: logger}
}

// HandleFinalizeSignature 处理定稿任务
func (h *FinalizeHandler) HandleFinalizeSignature(ctx context.Context, task *asynq.Task) error {
	var payload tasks.FinalizeSignaturePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("解析定稿载荷失败: %v: %w", err, asynq.SkipRetry)
	}

	result, err := h.finalizer.Finalize(ctx, payload.TenantID, payload.RequestID)
	if err != nil {
		var bizErr *common.BusinessError
		if errors.As(err, &bizErr) {
			switch bizErr.Code {
			case common.CodeSignRequestNotFound, common.CodeInvalidState:
				// 请求已删除或已取消，重试无意义
				h.logger.Warn("定稿任务跳过",
					zap.String("requestId", payload.RequestID),
					zap.Error(err),
				)
				return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
			}
		}
		return err
	}

	if result.AlreadyFinalized {
		h.logger.Info("定稿任务发现请求已完成", zap.String("requestId", payload.RequestID))
		return nil
	}

	h.logger.Info("定稿任务完成",
		zap.String("requestId", payload.RequestID),
		zap.String("bucket", result.BucketUsed),
		zap.Int("signatures", result.TotalSignatures),
	)
	return nil
}
