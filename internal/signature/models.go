package signature

import "time"

// 多方签名请求状态
const (
	RequestStatusPending    = "pending"
	RequestStatusInProgress = "in_progress"
	RequestStatusReady      = "ready_for_signature"
	RequestStatusCompleted  = "completed"
	RequestStatusCancelled  = "cancelled"
)

// 签名人决定状态
const (
	ApprovalStatusPending  = "pending"
	ApprovalStatusApproved = "approved"
	ApprovalStatusRejected = "rejected"
)

// 签名类型
const (
	SignatureTypeSimple   = "simple"
	SignatureTypeMultiple = "multiple"
)

// MultiSignatureRequest 多方签名请求
// 不变量: completed_signatures <= total_signatures；status=completed 当且仅当 signed_file_path 非空
type MultiSignatureRequest struct {
	ID       string `json:"id" gorm:"primaryKey;type:uuid"`
	TenantID string `json:"tenantId" gorm:"type:uuid;not null;index:idx_msr_tenant"`

	DocumentID   string `json:"documentId" gorm:"type:uuid;not null;index"`
	DocumentName string `json:"documentName" gorm:"size:255"`
	DocumentPath string `json:"documentPath" gorm:"size:512;not null"`

	// 定稿前为空
	SignedFilePath string `json:"signedFilePath,omitempty" gorm:"size:512"`
	BucketUsed     string `json:"bucketUsed,omitempty" gorm:"size:100"`

	// 发起该请求的流程，独立发起时为空
	ProcessID string `json:"processId,omitempty" gorm:"type:uuid;index"`

	RequesterID string `json:"requesterId" gorm:"type:uuid;not null;index"`
	Status      string `json:"status" gorm:"size:50;not null;default:pending;index:idx_msr_tenant"`

	TotalSignatures     int `json:"totalSignatures" gorm:"not null"`
	CompletedSignatures int `json:"completedSignatures" gorm:"not null;default:0"`

	// 定稿时写入签名摘要与时间，兼作历史校验回退路径
	Metadata map[string]any `json:"metadata,omitempty" gorm:"type:jsonb;serializer:json"`

	CreatedAt   time.Time  `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt   time.Time  `json:"updatedAt" gorm:"not null;autoUpdateTime"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// TableName 指定表名
func (MultiSignatureRequest) TableName() string { return "multi_signature_requests" }

// MultiSignatureApproval 单个受邀签名人的决定
// 每请求每签名人一行，决定后除时间戳外不可变
type MultiSignatureApproval struct {
	ID        string `json:"id" gorm:"primaryKey;type:uuid"`
	RequestID string `json:"requestId" gorm:"type:uuid;not null;index:idx_msa_request"`

	UserID string `json:"userId" gorm:"type:uuid;not null;index:idx_msa_request"`
	// 冗余存储用于历史展示，用户改名不回写
	UserName  string `json:"userName" gorm:"size:255"`
	UserEmail string `json:"userEmail" gorm:"size:255"`

	Status   string `json:"status" gorm:"size:50;not null;default:pending"`
	Comments string `json:"comments,omitempty" gorm:"type:text"`

	SignedAt  *time.Time `json:"signedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time  `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

// TableName 指定表名
func (MultiSignatureApproval) TableName() string { return "multi_signature_approvals" }

// DocumentSignature 签名审计记录，只增不改
// VerificationCode 全局唯一，供无鉴权的公开校验
type DocumentSignature struct {
	ID       string `json:"id" gorm:"primaryKey;type:uuid"`
	TenantID string `json:"tenantId" gorm:"type:uuid;not null;index"`

	UserID string `json:"userId" gorm:"type:uuid;not null;index"`
	// 多方签名成员记录可不绑定文档
	DocumentID string `json:"documentId,omitempty" gorm:"type:uuid;index"`
	RequestID  string `json:"requestId,omitempty" gorm:"type:uuid;index"`

	SignatureType string `json:"signatureType" gorm:"size:50;not null;default:simple"`
	Status        string `json:"status" gorm:"size:50;not null;default:completed"`

	VerificationCode string `json:"verificationCode" gorm:"size:100;uniqueIndex;not null"`
	VerificationURL  string `json:"verificationUrl" gorm:"size:512"`
	QRCodeData       string `json:"qrCodeData,omitempty" gorm:"type:text"`

	DocumentHash  string `json:"documentHash" gorm:"size:64"`
	SignatureHash string `json:"signatureHash" gorm:"size:64"`

	SignerName  string `json:"signerName" gorm:"size:255"`
	SignerEmail string `json:"signerEmail" gorm:"size:255"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

// TableName 指定表名
func (DocumentSignature) TableName() string { return "document_signatures" }
