package signature

import (
	"context"
	"testing"
	"time"

	"backend/internal/common"
	"backend/internal/config"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newVerifyService(t *testing.T, legacy bool) (*VerificationService, *sigEnv) {
	env := newSigEnv(t)
	cfg := &config.SignatureConfig{VerificationDays: 365, LegacyMetadataLookup: legacy}
	return NewVerificationService(env.db, cfg), env
}

func seedSignatureRecord(t *testing.T, env *sigEnv, code string, createdAt time.Time) {
	sig := &DocumentSignature{
		ID:               uuid.New().String(),
		TenantID:         "t-1",
		UserID:           "u-1",
		SignatureType:    SignatureTypeSimple,
		Status:           "completed",
		VerificationCode: code,
		SignerName:       "张三",
		SignerEmail:      "zs@x.io",
		CreatedAt:        createdAt,
		UpdatedAt:        createdAt,
	}
	require.NoError(t, env.db.Create(sig).Error)
}

func TestVerifyFindsIndexedRecord(t *testing.T) {
	svc, env := newVerifyService(t, false)
	code := NewVerificationCode()
	seedSignatureRecord(t, env, code, time.Now().UTC())

	result, err := svc.Verify(context.Background(), code)
	require.NoError(t, err)
	require.True(t, result.Valid)
	require.False(t, result.Expired)
	require.Equal(t, SignatureTypeSimple, result.SignatureType)
	require.Equal(t, "张三", result.SignerName)
}

func TestVerifyUnknownCodeIsNotFound(t *testing.T) {
	svc, _ := newVerifyService(t, false)

	_, err := svc.Verify(context.Background(), "TD-UNKNOWN")
	var bizErr *common.BusinessError
	require.ErrorAs(t, err, &bizErr)
	require.Equal(t, common.CodeSignatureNotFound, bizErr.Code)
}

func TestVerifyExpiredIsNotNotFound(t *testing.T) {
	svc, env := newVerifyService(t, false)
	code := NewVerificationCode()
	seedSignatureRecord(t, env, code, time.Now().UTC().AddDate(0, 0, -400))

	// 超期返回 Expired 结果，不是 NotFound 错误
	result, err := svc.Verify(context.Background(), code)
	require.NoError(t, err)
	require.True(t, result.Expired)
	require.False(t, result.Valid)
}

func TestVerifyLegacyMetadataBehindFlag(t *testing.T) {
	code := NewVerificationCode()

	seedLegacy := func(env *sigEnv) {
		now := time.Now().UTC()
		request := &MultiSignatureRequest{
			ID:              uuid.New().String(),
			TenantID:        "t-1",
			DocumentID:      uuid.New().String(),
			DocumentName:    "legacy.pdf",
			DocumentPath:    "t-1/legacy",
			RequesterID:     "owner",
			Status:          RequestStatusCompleted,
			TotalSignatures: 1,
			CompletedAt:     &now,
			SignedFilePath:  "t-1/legacy/signed",
			Metadata: map[string]any{
				"signatures": []any{
					map[string]any{"name": "李四", "email": "ls@x.io", "verificationCode": code},
				},
			},
		}
		require.NoError(t, env.db.Create(request).Error)
	}

	// 开关关闭: 未索引的历史码不可见
	svcOff, envOff := newVerifyService(t, false)
	seedLegacy(envOff)
	_, err := svcOff.Verify(context.Background(), code)
	require.Error(t, err)

	// 开关开启: 命中元数据回退路径
	svcOn, envOn := newVerifyService(t, true)
	seedLegacy(envOn)
	result, err := svcOn.Verify(context.Background(), code)
	require.NoError(t, err)
	require.True(t, result.Valid)
	require.True(t, result.LegacyRecord)
	require.Equal(t, "李四", result.SignerName)
	require.Equal(t, "legacy.pdf", result.DocumentName)
}
