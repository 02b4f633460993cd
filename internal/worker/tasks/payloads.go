package tasks

// 任务类型
const (
	TypeFinalizeSignature = "signature:finalize"
	TypeExpireSweep       = "signature:expire_sweep"
)

// FinalizeSignaturePayload 多方签名定稿任务载荷
type FinalizeSignaturePayload struct {
	RequestID string `json:"request_id"`
	TenantID  string `json:"tenant_id"`
}

// ExpireSweepPayload 过期清扫任务载荷
type ExpireSweepPayload struct {
	TenantID string `json:"tenant_id,omitempty"` // 为空表示全租户
}
