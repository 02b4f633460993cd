package signature

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"backend/internal/common"
	"backend/internal/document"
	"backend/internal/logger"
	"backend/internal/metrics"
	"backend/internal/storage"
	"backend/internal/tenant"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RedactedSigner 对外返回的签名人信息，不含哈希
type RedactedSigner struct {
	Name             string `json:"name"`
	Email            string `json:"email"`
	VerificationCode string `json:"verificationCode"`
}

// FinalizeResult 定稿结果
type FinalizeResult struct {
	RequestID       string           `json:"requestId"`
	SignedFilePath  string           `json:"signedFilePath"`
	DownloadURL     string           `json:"downloadUrl"`
	BucketUsed      string           `json:"bucketUsed"`
	TotalSignatures int              `json:"totalSignatures"`
	Signatures      []RedactedSigner `json:"signatures"`
	// 成功落库的逐人审计记录数，可能小于 TotalSignatures
	PersistedSignatures int  `json:"persistedSignatures"`
	AlreadyFinalized    bool `json:"alreadyFinalized,omitempty"`
}

// Finalizer 签名定稿器
// 每请求至多生效一次: 入口先做 completed+signed_file_path 早退检查，
// 重复调用（含并发的"最后同意者"竞态）直接返回既有结果
type Finalizer struct {
	common.BaseService
	store     storage.Store
	signer    Signer
	directory *tenant.DirectoryService
	documents *document.Service
	publicURL string
	callback  ProcessCallback
	logger    *zap.Logger
}

// NewFinalizer 创建定稿器
func NewFinalizer(db *gorm.DB, store storage.Store, signer Signer, directory *tenant.DirectoryService, documents *document.Service, publicURL string) *Finalizer {
	return &Finalizer{
		BaseService: common.BaseService{DB: db},
		store:       store,
		signer:      signer,
		directory:   directory,
		documents:   documents,
		publicURL:   strings.TrimRight(publicURL, "/"),
		logger:      logger.Get(),
	}
}

// Finalize 执行定稿
func (f *Finalizer) Finalize(ctx context.Context, tenantID, requestID string) (result *FinalizeResult, err error) {
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.FinalizationsTotal.WithLabelValues(status, tenantID).Inc()
		metrics.FinalizationDuration.Observe(time.Since(start).Seconds())
	}()

	var request MultiSignatureRequest
	err = f.DB.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", requestID, tenantID).
		First(&request).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.ErrNotFound(common.CodeSignRequestNotFound, "签名请求不存在")
		}
		return nil, err
	}

	// 早退: 已定稿的请求直接返回既有产物
	if request.Status == RequestStatusCompleted && request.SignedFilePath != "" {
		f.logger.Info("签名请求已定稿，跳过", zap.String("requestId", requestID))
		return f.resultFromRequest(&request, true), nil
	}
	if request.Status == RequestStatusCancelled {
		return nil, common.ErrInvalidState("签名请求已取消")
	}

	// 1. 重新核对全员同意
	var approvals []MultiSignatureApproval
	err = f.DB.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("created_at ASC").
		Find(&approvals).Error
	if err != nil {
		return nil, err
	}

	approved := 0
	for _, a := range approvals {
		if a.Status == ApprovalStatusApproved {
			approved++
		}
	}
	if approved != request.TotalSignatures || approved != len(approvals) {
		return nil, common.ErrInconsistent(fmt.Sprintf(
			"同意数与签名人总数不一致: approved=%d total=%d rows=%d",
			approved, request.TotalSignatures, len(approvals)))
	}

	// 2. 读取源文档
	source, _, err := storage.GetWithFallback(ctx, f.store, storage.BucketDocuments, storage.BucketSigned, request.DocumentPath)
	if err != nil {
		return nil, common.ErrUpstream("读取源文档失败: " + err.Error())
	}

	// 3. 补全签名人档案
	signers := make([]SignerIdentity, 0, len(approvals))
	for _, a := range approvals {
		identity := SignerIdentity{UserID: a.UserID, Name: a.UserName, Email: a.UserEmail}
		if identity.Name == "" || identity.Email == "" {
			if u, err := f.directory.GetUser(ctx, tenantID, a.UserID); err == nil {
				identity.Name = u.FullName
				identity.Email = u.Email
			}
		}
		signers = append(signers, identity)
	}

	// 4. 盖章生成产物
	artifact, descriptors, err := f.signer.Stamp(source, signers)
	if err != nil {
		return nil, common.ErrUpstream("签章失败: " + err.Error())
	}

	// 5. 上传产物，主桶失败回退一次到源桶
	signedKey := fmt.Sprintf("%s/%s/signed-%d", tenantID, requestID, time.Now().UTC().Unix())
	bucketUsed, err := f.upload(ctx, signedKey, artifact)
	if err != nil {
		return nil, err
	}

	// 6. 逐人落审计记录，单条失败记录日志但不中止定稿
	docHash := ""
	persisted := 0
	for _, desc := range descriptors {
		if docHash == "" {
			docHash = desc.Hash
		}
		sig := &DocumentSignature{
			ID:               desc.ID,
			TenantID:         tenantID,
			UserID:           desc.UserID,
			RequestID:        requestID,
			SignatureType:    SignatureTypeMultiple,
			Status:           "completed",
			VerificationCode: desc.VerificationCode,
			VerificationURL:  f.verificationURL(desc.VerificationCode),
			SignatureHash:    desc.Hash,
			SignerName:       desc.Name,
			SignerEmail:      desc.Email,
		}
		if err := f.DB.WithContext(ctx).Create(sig).Error; err != nil {
			f.logger.Error("签名审计记录写入失败",
				zap.String("requestId", requestID),
				zap.String("userId", desc.UserID),
				zap.Error(err),
			)
			continue
		}
		persisted++
	}

	// 7. 关闭请求并写入签名摘要
	now := time.Now().UTC()
	summaries := make([]map[string]any, 0, len(descriptors))
	redacted := make([]RedactedSigner, 0, len(descriptors))
	for _, desc := range descriptors {
		summaries = append(summaries, map[string]any{
			"userId":           desc.UserID,
			"name":             desc.Name,
			"email":            desc.Email,
			"verificationCode": desc.VerificationCode,
			"hash":             desc.Hash,
			"signedAt":         desc.DigitalTimestamp.Format(time.RFC3339),
		})
		redacted = append(redacted, RedactedSigner{
			Name:             desc.Name,
			Email:            desc.Email,
			VerificationCode: desc.VerificationCode,
		})
	}

	metadata := request.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["signatures"] = summaries
	metadata["finalized_at"] = now.Format(time.RFC3339)

	// map 形式的 Updates 不经过 gorm 的 serializer:json，手动序列化后写入
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, err
	}

	// 关闭谓词带 ready 状态，与入口早退共同封死双触发窗口
	closing := f.DB.WithContext(ctx).Model(&MultiSignatureRequest{}).
		Where("id = ? AND status = ?", requestID, RequestStatusReady).
		Updates(map[string]any{
			"status":           RequestStatusCompleted,
			"signed_file_path": signedKey,
			"bucket_used":      bucketUsed,
			"completed_at":     now,
			"metadata":         string(metadataJSON),
		})
	if closing.Error != nil {
		// 产物已上传但请求未关闭，停留在 ready_for_signature 可重试
		return nil, common.ErrUpstream("关闭签名请求失败: " + closing.Error.Error())
	}
	if closing.RowsAffected == 0 {
		// 请求在定稿期间离开了 ready 态，按现状判定
		var current MultiSignatureRequest
		if err := f.DB.WithContext(ctx).Where("id = ?", requestID).First(&current).Error; err != nil {
			return nil, err
		}
		if current.Status == RequestStatusCompleted && current.SignedFilePath != "" {
			f.logger.Info("签名请求已被并发定稿，返回既有产物", zap.String("requestId", requestID))
			return f.resultFromRequest(&current, true), nil
		}
		return nil, common.ErrInconsistent("签名请求状态在定稿期间发生变化: " + current.Status)
	}

	if err := f.documents.MarkFinalized(ctx, tenantID, request.DocumentID, signedKey, docHash); err != nil {
		f.logger.Warn("文档定稿状态更新失败", zap.String("documentId", request.DocumentID), zap.Error(err))
	}

	if f.callback != nil {
		if err := f.callback.CompleteSignExecutions(ctx, tenantID, requestID); err != nil {
			f.logger.Error("关闭关联执行记录失败", zap.String("requestId", requestID), zap.Error(err))
		}
	}

	if persisted < len(descriptors) {
		f.logger.Warn("部分签名审计记录未落库",
			zap.String("requestId", requestID),
			zap.Int("persisted", persisted),
			zap.Int("total", len(descriptors)),
		)
	}

	f.logger.Info("多方签名定稿完成",
		zap.String("requestId", requestID),
		zap.String("bucket", bucketUsed),
		zap.Int("signers", len(descriptors)),
	)

	return &FinalizeResult{
		RequestID:           requestID,
		SignedFilePath:      signedKey,
		DownloadURL:         f.downloadURL(bucketUsed, signedKey),
		BucketUsed:          bucketUsed,
		TotalSignatures:     request.TotalSignatures,
		Signatures:          redacted,
		PersistedSignatures: persisted,
	}, nil
}

// upload 上传产物，主桶失败回退一次
// 对象已存在视为成功，支撑并发双触发下的幂等
func (f *Finalizer) upload(ctx context.Context, key string, artifact []byte) (string, error) {
	err := f.store.Put(ctx, storage.BucketSigned, key, artifact)
	if err == nil || errors.Is(err, storage.ErrObjectExists) {
		return storage.BucketSigned, nil
	}
	f.logger.Warn("主桶上传失败，回退到源桶", zap.String("key", key), zap.Error(err))

	err = f.store.Put(ctx, storage.BucketDocuments, key, artifact)
	if err == nil || errors.Is(err, storage.ErrObjectExists) {
		return storage.BucketDocuments, nil
	}
	return "", common.ErrUpstream("签名产物上传失败: " + err.Error())
}

func (f *Finalizer) resultFromRequest(request *MultiSignatureRequest, already bool) *FinalizeResult {
	result := &FinalizeResult{
		RequestID:        request.ID,
		SignedFilePath:   request.SignedFilePath,
		BucketUsed:       request.BucketUsed,
		TotalSignatures:  request.TotalSignatures,
		AlreadyFinalized: already,
	}
	if request.BucketUsed != "" {
		result.DownloadURL = f.downloadURL(request.BucketUsed, request.SignedFilePath)
	}
	if sigs, ok := request.Metadata["signatures"].([]any); ok {
		for _, raw := range sigs {
			if m, ok := raw.(map[string]any); ok {
				result.Signatures = append(result.Signatures, RedactedSigner{
					Name:             stringField(m, "name"),
					Email:            stringField(m, "email"),
					VerificationCode: stringField(m, "verificationCode"),
				})
			}
		}
	}
	return result
}

func (f *Finalizer) verificationURL(code string) string {
	return fmt.Sprintf("%s/verify/%s", f.publicURL, code)
}

func (f *Finalizer) downloadURL(bucket, key string) string {
	return fmt.Sprintf("%s/api/v1/signatures/artifacts/%s/%s", f.publicURL, bucket, key)
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
