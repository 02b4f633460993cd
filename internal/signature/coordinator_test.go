package signature

import (
	"context"
	"fmt"
	"testing"

	"backend/internal/common"
	"backend/internal/config"
	"backend/internal/document"
	"backend/internal/storage"
	"backend/internal/tenant"
	"backend/internal/worker/tasks"
	"backend/internal/workflow"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&MultiSignatureRequest{}, &MultiSignatureApproval{}, &DocumentSignature{},
		&tenant.Tenant{}, &tenant.Department{}, &tenant.User{},
		&document.Document{},
	))
	return db
}

// fakeCallback 流程回调桩
type fakeCallback struct {
	completed []string
	cancelled []string
}

func (f *fakeCallback) CompleteSignExecutions(ctx context.Context, tenantID, signRequestID string) error {
	f.completed = append(f.completed, signRequestID)
	return nil
}

func (f *fakeCallback) CancelSignExecutions(ctx context.Context, tenantID, signRequestID, comments string) error {
	f.cancelled = append(f.cancelled, signRequestID)
	return nil
}

type sigEnv struct {
	db          *gorm.DB
	coordinator *Coordinator
	finalizer   *Finalizer
	documents   *document.Service
	directory   *tenant.DirectoryService
	callback    *fakeCallback
	store       storage.Store
}

func newSigEnv(t *testing.T) *sigEnv {
	db := openTestDB(t)

	store, err := storage.NewDiskStore(t.TempDir())
	require.NoError(t, err)

	storageCfg := &config.StorageConfig{
		SourceBucket:   storage.BucketDocuments,
		SignedBucket:   storage.BucketSigned,
		DownloadTTL:    1800,
		DownloadSecret: "test-secret",
	}
	sigCfg := &config.SignatureConfig{VerificationDays: 365}

	directory := tenant.NewDirectoryService(db)
	documents := document.NewService(db, store, storageCfg)
	finalizer := NewFinalizer(db, store, NewPDFStamper(), directory, documents, "https://trackdoc.example.com")
	callback := &fakeCallback{}

	// 不注入队列: 定稿在决定调用链内同步执行，便于断言
	coordinator := NewCoordinator(db, directory, documents, finalizer, sigCfg,
		WithProcessCallback(callback))

	return &sigEnv{
		db: db, coordinator: coordinator, finalizer: finalizer,
		documents: documents, directory: directory, callback: callback, store: store,
	}
}

func (env *sigEnv) seedSigners(t *testing.T, tenantID string, n int) []string {
	ids := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		u, err := env.directory.CreateUser(context.Background(), tenantID, tenant.CreateUserParams{
			Email:    fmt.Sprintf("signer%d@x.io", i),
			Username: fmt.Sprintf("signer%d", i),
			Password: "password1",
			FullName: fmt.Sprintf("签名人%d", i),
		})
		require.NoError(t, err)
		ids = append(ids, u.ID)
	}
	return ids
}

func (env *sigEnv) seedRequest(t *testing.T, tenantID string, signerCount int) (string, []string) {
	signers := env.seedSigners(t, tenantID, signerCount)

	doc, err := env.documents.Upload(context.Background(), tenantID, document.UploadParams{
		Name: "contract.pdf", Content: []byte("%PDF-1.4 body"), UploadedBy: "owner",
	})
	require.NoError(t, err)

	requestID, err := env.coordinator.CreateRequest(context.Background(), tenantID, workflow.SignRequestParams{
		DocumentID:  doc.ID,
		RequestedBy: "owner",
		SignerIDs:   signers,
	})
	require.NoError(t, err)
	return requestID, signers
}

func TestMultiSignatureHappyPath(t *testing.T) {
	env := newSigEnv(t)
	ctx := context.Background()
	requestID, signers := env.seedRequest(t, "t-1", 3)

	// 前两人同意后仍在收集中
	require.NoError(t, env.coordinator.Decide(ctx, "t-1", requestID, signers[0], "approve", ""))
	require.NoError(t, env.coordinator.Decide(ctx, "t-1", requestID, signers[1], "approve", ""))

	request, err := env.coordinator.GetRequest(ctx, "t-1", requestID)
	require.NoError(t, err)
	require.Equal(t, RequestStatusInProgress, request.Status)
	require.Equal(t, 2, request.CompletedSignatures)

	// 第三人同意触发定稿，同一调用链内请求走到 completed
	require.NoError(t, env.coordinator.Decide(ctx, "t-1", requestID, signers[2], "approve", ""))

	request, err = env.coordinator.GetRequest(ctx, "t-1", requestID)
	require.NoError(t, err)
	require.Equal(t, RequestStatusCompleted, request.Status)
	require.NotEmpty(t, request.SignedFilePath)
	require.Equal(t, 3, request.CompletedSignatures)
	require.NotNil(t, request.CompletedAt)

	// 逐人审计记录与校验码唯一性
	var sigs []DocumentSignature
	require.NoError(t, env.db.Where("request_id = ?", requestID).Find(&sigs).Error)
	require.Len(t, sigs, 3)
	codes := make(map[string]bool)
	for _, sig := range sigs {
		require.False(t, codes[sig.VerificationCode])
		codes[sig.VerificationCode] = true
		require.Equal(t, SignatureTypeMultiple, sig.SignatureType)
	}

	// 产物已写入主桶
	data, err := env.store.Get(ctx, storage.BucketSigned, request.SignedFilePath)
	require.NoError(t, err)
	require.Contains(t, string(data), "TrackDoc-Signature-Block")

	// 流程回调已触发
	require.Equal(t, []string{requestID}, env.callback.completed)
}

func TestDecideIsIdempotent(t *testing.T) {
	env := newSigEnv(t)
	ctx := context.Background()
	requestID, signers := env.seedRequest(t, "t-1", 3)

	require.NoError(t, env.coordinator.Decide(ctx, "t-1", requestID, signers[0], "approve", ""))
	require.NoError(t, env.coordinator.Decide(ctx, "t-1", requestID, signers[0], "approve", ""))

	request, err := env.coordinator.GetRequest(ctx, "t-1", requestID)
	require.NoError(t, err)
	require.Equal(t, 1, request.CompletedSignatures)

	// 决定后不可改判
	require.NoError(t, env.coordinator.Decide(ctx, "t-1", requestID, signers[0], "reject", ""))
	request, err = env.coordinator.GetRequest(ctx, "t-1", requestID)
	require.NoError(t, err)
	require.Equal(t, RequestStatusInProgress, request.Status)
	require.Equal(t, 1, request.CompletedSignatures)
}

func TestRejectionCancelsRequest(t *testing.T) {
	env := newSigEnv(t)
	ctx := context.Background()
	requestID, signers := env.seedRequest(t, "t-1", 3)

	require.NoError(t, env.coordinator.Decide(ctx, "t-1", requestID, signers[0], "approve", ""))
	require.NoError(t, env.coordinator.Decide(ctx, "t-1", requestID, signers[1], "reject", "内容有误"))

	request, err := env.coordinator.GetRequest(ctx, "t-1", requestID)
	require.NoError(t, err)
	require.Equal(t, RequestStatusCancelled, request.Status)
	require.Equal(t, []string{requestID}, env.callback.cancelled)

	// 第三人的后续决定是无操作，其决定行保持 pending
	require.NoError(t, env.coordinator.Decide(ctx, "t-1", requestID, signers[2], "approve", ""))

	var approval MultiSignatureApproval
	require.NoError(t, env.db.Where("request_id = ? AND user_id = ?", requestID, signers[2]).First(&approval).Error)
	require.Equal(t, ApprovalStatusPending, approval.Status)

	request, err = env.coordinator.GetRequest(ctx, "t-1", requestID)
	require.NoError(t, err)
	require.Equal(t, RequestStatusCancelled, request.Status)
}

func TestDecideRejectsOutsider(t *testing.T) {
	env := newSigEnv(t)
	requestID, _ := env.seedRequest(t, "t-1", 2)

	err := env.coordinator.Decide(context.Background(), "t-1", requestID, "outsider", "approve", "")
	var bizErr *common.BusinessError
	require.ErrorAs(t, err, &bizErr)
	require.Equal(t, common.CodeForbidden, bizErr.Code)
}

func TestFinalizeIsIdempotent(t *testing.T) {
	env := newSigEnv(t)
	ctx := context.Background()
	requestID, signers := env.seedRequest(t, "t-1", 2)

	for _, s := range signers {
		require.NoError(t, env.coordinator.Decide(ctx, "t-1", requestID, s, "approve", ""))
	}

	request, err := env.coordinator.GetRequest(ctx, "t-1", requestID)
	require.NoError(t, err)
	require.Equal(t, RequestStatusCompleted, request.Status)
	firstPath := request.SignedFilePath

	// 重复定稿早退，产物路径不变，审计记录不翻倍
	result, err := env.finalizer.Finalize(ctx, "t-1", requestID)
	require.NoError(t, err)
	require.True(t, result.AlreadyFinalized)
	require.Equal(t, firstPath, result.SignedFilePath)
	require.Equal(t, 2, result.TotalSignatures)

	var count int64
	require.NoError(t, env.db.Model(&DocumentSignature{}).Where("request_id = ?", requestID).Count(&count).Error)
	require.EqualValues(t, 2, count)
}

func TestFinalizeDetectsInconsistentApprovals(t *testing.T) {
	env := newSigEnv(t)
	ctx := context.Background()
	requestID, signers := env.seedRequest(t, "t-1", 3)

	require.NoError(t, env.coordinator.Decide(ctx, "t-1", requestID, signers[0], "approve", ""))

	// 人为把请求推到 ready，但同意数不足
	require.NoError(t, env.db.Model(&MultiSignatureRequest{}).
		Where("id = ?", requestID).
		Update("status", RequestStatusReady).Error)

	_, err := env.finalizer.Finalize(ctx, "t-1", requestID)
	var bizErr *common.BusinessError
	require.ErrorAs(t, err, &bizErr)
	require.Equal(t, common.CodeInconsistent, bizErr.Code)
}

// stubQueue 只记录入队，不执行
type stubQueue struct {
	enqueued []string
}

func (s *stubQueue) EnqueueFinalizeSignature(payload tasks.FinalizeSignaturePayload) error {
	s.enqueued = append(s.enqueued, payload.RequestID)
	return nil
}

func (s *stubQueue) EnqueueExpireSweep() error { return nil }
func (s *stubQueue) Close() error              { return nil }

func TestFinalizeResultRedactsHashes(t *testing.T) {
	env := newSigEnv(t)
	ctx := context.Background()

	// 挂上队列桩，让定稿由本测试显式调用
	q := &stubQueue{}
	env.coordinator.queue = q

	requestID, signers := env.seedRequest(t, "t-1", 2)

	require.NoError(t, env.coordinator.Decide(ctx, "t-1", requestID, signers[0], "approve", ""))
	require.NoError(t, env.coordinator.Decide(ctx, "t-1", requestID, signers[1], "approve", ""))

	// 全员同意后请求停在 ready_for_signature，定稿任务已入队
	request, err := env.coordinator.GetRequest(ctx, "t-1", requestID)
	require.NoError(t, err)
	require.Equal(t, RequestStatusReady, request.Status)
	require.Equal(t, []string{requestID}, q.enqueued)

	result, err := env.finalizer.Finalize(ctx, "t-1", requestID)
	require.NoError(t, err)
	require.Len(t, result.Signatures, 2)
	for _, s := range result.Signatures {
		require.NotEmpty(t, s.Name)
		require.NotEmpty(t, s.VerificationCode)
	}
	require.Equal(t, 2, result.PersistedSignatures)
	require.NotEmpty(t, result.DownloadURL)

	// 落库摘要保留逐人哈希，脱敏只作用于响应
	request, err = env.coordinator.GetRequest(ctx, "t-1", requestID)
	require.NoError(t, err)
	summaries, ok := request.Metadata["signatures"].([]any)
	require.True(t, ok)
	require.Len(t, summaries, 2)
	for _, raw := range summaries {
		entry, ok := raw.(map[string]any)
		require.True(t, ok)
		require.NotEmpty(t, entry["hash"])
		require.NotEmpty(t, entry["verificationCode"])
		require.NotEmpty(t, entry["signedAt"])
	}
}

func TestCreateRequestRejectsDuplicateSigners(t *testing.T) {
	env := newSigEnv(t)
	signers := env.seedSigners(t, "t-1", 1)

	doc, err := env.documents.Upload(context.Background(), "t-1", document.UploadParams{
		Name: "a.pdf", Content: []byte("x"), UploadedBy: "owner",
	})
	require.NoError(t, err)

	_, err = env.coordinator.CreateRequest(context.Background(), "t-1", workflow.SignRequestParams{
		DocumentID:  doc.ID,
		RequestedBy: "owner",
		SignerIDs:   []string{signers[0], signers[0]},
	})
	require.Error(t, err)
}
