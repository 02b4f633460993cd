package signature

import (
	"context"
	"errors"
	"time"

	"backend/internal/common"
	"backend/internal/config"
	"backend/internal/logger"
	"backend/internal/metrics"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// VerifyResult 公开校验结果
type VerifyResult struct {
	Valid            bool      `json:"valid"`
	Expired          bool      `json:"expired,omitempty"`
	VerificationCode string    `json:"verificationCode"`
	SignatureType    string    `json:"signatureType,omitempty"`
	SignerName       string    `json:"signerName,omitempty"`
	SignerEmail      string    `json:"signerEmail,omitempty"`
	DocumentName     string    `json:"documentName,omitempty"`
	SignedAt         time.Time `json:"signedAt,omitempty"`
	// 命中历史元数据回退路径时为 true
	LegacyRecord bool `json:"legacyRecord,omitempty"`
}

// VerificationService 签名公开校验
// 主路径查 document_signatures 索引；历史元数据扫描仅在配置开关下启用
type VerificationService struct {
	common.BaseService
	cfg    *config.SignatureConfig
	logger *zap.Logger
}

// NewVerificationService 创建校验服务
func NewVerificationService(db *gorm.DB, cfg *config.SignatureConfig) *VerificationService {
	return &VerificationService{
		BaseService: common.BaseService{DB: db},
		cfg:         cfg,
		logger:      logger.Get(),
	}
}

// Verify 按校验码查询签名
// 超过有效期返回 Expired 结果而非 NotFound，两者需要区分
func (v *VerificationService) Verify(ctx context.Context, code string) (*VerifyResult, error) {
	if code == "" {
		return nil, common.ErrInvalidRequest("校验码不能为空")
	}

	var sig DocumentSignature
	err := v.DB.WithContext(ctx).
		Where("verification_code = ?", code).
		First(&sig).Error
	if err == nil {
		result := v.resultFromRecord(&sig)
		metrics.VerificationLookupsTotal.WithLabelValues(resultLabel(result)).Inc()
		return result, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if v.cfg.LegacyMetadataLookup {
		if result := v.scanLegacyMetadata(ctx, code); result != nil {
			metrics.VerificationLookupsTotal.WithLabelValues("legacy").Inc()
			return result, nil
		}
	}

	metrics.VerificationLookupsTotal.WithLabelValues("not_found").Inc()
	return nil, common.ErrNotFound(common.CodeSignatureNotFound, "校验码无效")
}

func (v *VerificationService) resultFromRecord(sig *DocumentSignature) *VerifyResult {
	result := &VerifyResult{
		VerificationCode: sig.VerificationCode,
		SignatureType:    sig.SignatureType,
		SignerName:       sig.SignerName,
		SignerEmail:      sig.SignerEmail,
		SignedAt:         sig.CreatedAt,
	}

	if v.expired(sig.CreatedAt, sig.UpdatedAt) {
		result.Expired = true
		return result
	}
	result.Valid = true
	return result
}

// scanLegacyMetadata 扫描已完成请求的元数据签名摘要
// 迁移遗留路径: 早期定稿只写了请求元数据，没有逐人审计行
func (v *VerificationService) scanLegacyMetadata(ctx context.Context, code string) *VerifyResult {
	var found *VerifyResult

	var batch []MultiSignatureRequest
	err := v.DB.WithContext(ctx).
		Where("status = ?", RequestStatusCompleted).
		FindInBatches(&batch, 200, func(tx *gorm.DB, _ int) error {
			for i := range batch {
				request := &batch[i]
				sigs, ok := request.Metadata["signatures"].([]any)
				if !ok {
					continue
				}
				for _, raw := range sigs {
					m, ok := raw.(map[string]any)
					if !ok || stringField(m, "verificationCode") != code {
						continue
					}

					found = &VerifyResult{
						VerificationCode: code,
						SignatureType:    SignatureTypeMultiple,
						SignerName:       stringField(m, "name"),
						SignerEmail:      stringField(m, "email"),
						DocumentName:     request.DocumentName,
						LegacyRecord:     true,
					}
					signedAt := request.CreatedAt
					if request.CompletedAt != nil {
						signedAt = *request.CompletedAt
					}
					found.SignedAt = signedAt
					if v.expired(signedAt, request.UpdatedAt) {
						found.Expired = true
					} else {
						found.Valid = true
					}
					return errors.New("done")
				}
			}
			return nil
		}).Error
	if err != nil && found == nil {
		v.logger.Warn("历史元数据扫描失败", zap.Error(err))
	}
	return found
}

func resultLabel(result *VerifyResult) string {
	if result.Expired {
		return "expired"
	}
	return "valid"
}

// expired 按创建/更新时间中较晚者计算有效期
func (v *VerificationService) expired(createdAt, updatedAt time.Time) bool {
	days := v.cfg.VerificationDays
	if days <= 0 {
		days = 365
	}

	latest := createdAt
	if updatedAt.After(latest) {
		latest = updatedAt
	}
	return time.Since(latest) > time.Duration(days)*24*time.Hour
}
