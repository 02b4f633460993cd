package document

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"backend/internal/common"
	"backend/internal/config"
	"backend/internal/storage"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Service 文档登记服务
type Service struct {
	common.BaseService
	store  storage.Store
	signer *URLSigner
	cfg    *config.StorageConfig
}

// NewService 创建文档服务
func NewService(db *gorm.DB, store storage.Store, cfg *config.StorageConfig) *Service {
	return &Service{
		BaseService: common.BaseService{DB: db},
		store:       store,
		signer:      NewURLSigner(cfg.DownloadSecret, time.Duration(cfg.DownloadTTL)*time.Second),
		cfg:         cfg,
	}
}

// Store 返回底层对象存储
func (s *Service) Store() storage.Store {
	return s.store
}

// UploadParams 上传参数
type UploadParams struct {
	Name        string
	ContentType string
	Content     []byte
	UploadedBy  string
	Metadata    map[string]any
}

// Upload 上传并登记文档
func (s *Service) Upload(ctx context.Context, tenantID string, params UploadParams) (*Document, error) {
	if strings.TrimSpace(params.Name) == "" {
		return nil, common.ErrInvalidRequest("文档名称不能为空")
	}
	if len(params.Content) == 0 {
		return nil, common.ErrInvalidRequest("文档内容不能为空")
	}
	if s.cfg.MaxFileSize > 0 && int64(len(params.Content)) > s.cfg.MaxFileSize {
		return nil, common.ErrInvalidRequest(fmt.Sprintf("文档大小超出限制 %d 字节", s.cfg.MaxFileSize))
	}

	sum := sha256.Sum256(params.Content)
	contentHash := hex.EncodeToString(sum[:])

	doc := &Document{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		Name:        params.Name,
		ContentType: params.ContentType,
		SizeBytes:   int64(len(params.Content)),
		Bucket:      s.cfg.SourceBucket,
		ContentHash: contentHash,
		Status:      StatusDraft,
		UploadedBy:  params.UploadedBy,
		Metadata:    params.Metadata,
	}
	doc.ObjectKey = fmt.Sprintf("%s/%s", tenantID, doc.ID)

	if err := s.store.Put(ctx, doc.Bucket, doc.ObjectKey, params.Content); err != nil {
		// 对象键含新生成的 UUID，冲突只可能是重试残留
		if !errors.Is(err, storage.ErrObjectExists) {
			return nil, common.ErrUpstream("文档存储失败: " + err.Error())
		}
	}

	if err := s.DB.WithContext(ctx).Create(doc).Error; err != nil {
		return nil, err
	}
	return doc, nil
}

// Get 获取文档元数据
func (s *Service) Get(ctx context.Context, tenantID, documentID string) (*Document, error) {
	var doc Document
	err := s.DB.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", documentID, tenantID).
		First(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.ErrNotFound(common.CodeDocumentNotFound, "文档不存在")
		}
		return nil, err
	}
	return &doc, nil
}

// List 分页列出租户文档
func (s *Service) List(ctx context.Context, tenantID string, page common.PaginationRequest) ([]*Document, int64, error) {
	query := s.DB.WithContext(ctx).Model(&Document{}).Where("tenant_id = ?", tenantID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var docs []*Document
	err := query.Order("created_at DESC").
		Offset(page.GetOffset()).Limit(page.GetPageSize()).
		Find(&docs).Error
	if err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}

// DownloadURL 生成限时下载链接
func (s *Service) DownloadURL(ctx context.Context, tenantID, documentID string) (string, error) {
	if _, err := s.Get(ctx, tenantID, documentID); err != nil {
		return "", err
	}
	return s.signer.Sign(documentID, time.Now()), nil
}

// VerifyDownload 校验下载链接签名
func (s *Service) VerifyDownload(documentID string, expires int64, sig string) error {
	if err := s.signer.Verify(documentID, expires, sig, time.Now()); err != nil {
		return common.ErrForbidden(err.Error())
	}
	return nil
}

// Content 读取文档内容
// 已定稿文档优先返回定稿产物，带源桶回退
func (s *Service) Content(ctx context.Context, tenantID, documentID string) ([]byte, *Document, error) {
	doc, err := s.Get(ctx, tenantID, documentID)
	if err != nil {
		return nil, nil, err
	}

	if doc.Status == StatusFinalized && doc.SignedObjectKey != "" {
		data, _, err := storage.GetWithFallback(ctx, s.store, storage.BucketSigned, doc.Bucket, doc.SignedObjectKey)
		if err == nil {
			return data, doc, nil
		}
		if !errors.Is(err, storage.ErrObjectNotFound) {
			return nil, nil, common.ErrUpstream("读取定稿文档失败: " + err.Error())
		}
	}

	data, err := s.store.Get(ctx, doc.Bucket, doc.ObjectKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, nil, common.ErrNotFound(common.CodeDocumentNotFound, "文档内容不存在")
		}
		return nil, nil, common.ErrUpstream("读取文档失败: " + err.Error())
	}
	return data, doc, nil
}

// PublicContent 按签名链接读取文档内容
// 不做租户过滤，访问权已由链接 HMAC 校验兜底
func (s *Service) PublicContent(ctx context.Context, documentID string) ([]byte, *Document, error) {
	var doc Document
	err := s.DB.WithContext(ctx).Where("id = ?", documentID).First(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, common.ErrNotFound(common.CodeDocumentNotFound, "文档不存在")
		}
		return nil, nil, err
	}
	return s.Content(ctx, doc.TenantID, documentID)
}

// MarkInProcess 文档进入流程时更新状态
func (s *Service) MarkInProcess(ctx context.Context, tenantID, documentID string) error {
	return s.DB.WithContext(ctx).Model(&Document{}).
		Where("id = ? AND tenant_id = ? AND status = ?", documentID, tenantID, StatusDraft).
		Update("status", StatusInProcess).Error
}

// MarkFinalized 记录定稿产物并冻结文档
func (s *Service) MarkFinalized(ctx context.Context, tenantID, documentID, signedKey, signedHash string) error {
	result := s.DB.WithContext(ctx).Model(&Document{}).
		Where("id = ? AND tenant_id = ?", documentID, tenantID).
		Updates(map[string]any{
			"status":            StatusFinalized,
			"signed_object_key": signedKey,
			"signed_hash":       signedHash,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return common.ErrNotFound(common.CodeDocumentNotFound, "文档不存在")
	}
	return nil
}
