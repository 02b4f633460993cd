package document

import "time"

// 文档状态
const (
	StatusDraft     = "draft"     // 已上传，未进入流程
	StatusInProcess = "in_process" // 被在途流程引用
	StatusFinalized = "finalized" // 已定稿，内容冻结
)

// Document 租户内登记的文档
// ContentHash 为源文件的 SHA-256，定稿后另记录 SignedHash
type Document struct {
	ID       string `json:"id" gorm:"primaryKey;type:uuid"`
	TenantID string `json:"tenantId" gorm:"type:uuid;not null;index:idx_doc_tenant"`

	Name        string `json:"name" gorm:"size:255;not null"`
	ContentType string `json:"contentType" gorm:"size:100"`
	SizeBytes   int64  `json:"sizeBytes"`

	// 对象存储定位
	Bucket     string `json:"bucket" gorm:"size:100;not null"`
	ObjectKey  string `json:"objectKey" gorm:"size:512;not null"`
	ContentHash string `json:"contentHash" gorm:"size:64;index"`

	// 定稿产物
	SignedObjectKey string `json:"signedObjectKey,omitempty" gorm:"size:512"`
	SignedHash      string `json:"signedHash,omitempty" gorm:"size:64"`

	Status     string `json:"status" gorm:"size:50;not null;default:draft"`
	UploadedBy string `json:"uploadedBy" gorm:"type:uuid;not null"`

	Metadata map[string]any `json:"metadata,omitempty" gorm:"type:jsonb;serializer:json"`

	CreatedAt time.Time  `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time  `json:"updatedAt" gorm:"not null;autoUpdateTime"`
	DeletedAt *time.Time `json:"deletedAt,omitempty" gorm:"index"`
}
