package workflow

import "time"

// 模板状态
const (
	TemplateStatusDraft     = "draft"
	TemplateStatusPublished = "published"
)

// 步骤类型
const (
	StepTypeUser       = "user"       // 指定单个责任人
	StepTypeDepartment = "department" // 部门内所有在职用户
	StepTypeAction     = "action"     // 审批/签署动作，可多目标
)

// 动作子类型（仅 action 步骤）
const (
	ActionTypeApprove = "approve"
	ActionTypeSign    = "sign"
)

// 流程状态
const (
	ProcessStatusActive    = "active"
	ProcessStatusCompleted = "completed"
	ProcessStatusCancelled = "cancelled"
	ProcessStatusPaused    = "paused"
)

// 执行记录状态
const (
	ExecutionStatusPending   = "pending"
	ExecutionStatusCompleted = "completed"
	ExecutionStatusRejected  = "rejected"
)

// 动作动词
const (
	VerbAdvance = "advance"
	VerbApprove = "approve"
	VerbReject  = "reject"
	VerbSign    = "sign"
	VerbReturn  = "return"
)

// Template 流程模板，发布后步骤与转移不可再修改
type Template struct {
	ID       string `json:"id" gorm:"primaryKey;type:uuid"`
	TenantID string `json:"tenantId" gorm:"type:uuid;not null;index:idx_tpl_tenant"`

	Name        string `json:"name" gorm:"size:255;not null"`
	Description string `json:"description" gorm:"type:text"`
	Status      string `json:"status" gorm:"size:50;not null;default:draft"`
	CreatedBy   string `json:"createdBy" gorm:"type:uuid;not null"`

	Steps       []Step       `json:"steps,omitempty" gorm:"foreignKey:TemplateID"`
	Transitions []Transition `json:"transitions,omitempty" gorm:"foreignKey:TemplateID"`

	CreatedAt time.Time  `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time  `json:"updatedAt" gorm:"not null;autoUpdateTime"`
	DeletedAt *time.Time `json:"deletedAt,omitempty" gorm:"index"`
}

// TableName 指定表名
func (Template) TableName() string { return "workflow_templates" }

// Step 模板步骤
// StepOrder 在同一模板内严格递增
type Step struct {
	ID         string `json:"id" gorm:"primaryKey;type:uuid"`
	TemplateID string `json:"templateId" gorm:"type:uuid;not null;index"`

	Name      string `json:"name" gorm:"size:255;not null"`
	Type      string `json:"type" gorm:"size:50;not null"`
	StepOrder int    `json:"stepOrder" gorm:"not null"`

	// user 步骤：单一责任人；流程启动时校验非空
	AssignedUserID string `json:"assignedUserId,omitempty" gorm:"type:uuid"`
	// department 步骤：部门引用
	DepartmentID string `json:"departmentId,omitempty" gorm:"type:uuid"`
	// action 步骤：动作子类型与目标用户集
	ActionType  string   `json:"actionType,omitempty" gorm:"size:50"`
	TargetUsers []string `json:"targetUsers,omitempty" gorm:"type:jsonb;serializer:json"`

	// 画布坐标，仅供前端编辑器使用
	PositionX float64 `json:"positionX"`
	PositionY float64 `json:"positionY"`

	Metadata map[string]any `json:"metadata,omitempty" gorm:"type:jsonb;serializer:json"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

// TableName 指定表名
func (Step) TableName() string { return "workflow_template_steps" }

// Transition 步骤间转移
// Condition 为空表示无条件转移；非空时用表达式引擎按执行结果求值
type Transition struct {
	ID         string `json:"id" gorm:"primaryKey;type:uuid"`
	TemplateID string `json:"templateId" gorm:"type:uuid;not null;index"`

	FromStepID string `json:"fromStepId" gorm:"type:uuid;not null;index"`
	ToStepID   string `json:"toStepId" gorm:"type:uuid;not null"`
	Condition  string `json:"condition,omitempty" gorm:"type:text"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
}

// TableName 指定表名
func (Transition) TableName() string { return "workflow_template_transitions" }

// Process 流程实例，绑定一个文档和一个模板
type Process struct {
	ID       string `json:"id" gorm:"primaryKey;type:uuid"`
	TenantID string `json:"tenantId" gorm:"type:uuid;not null;index:idx_proc_tenant"`

	TemplateID string `json:"templateId" gorm:"type:uuid;not null"`
	DocumentID string `json:"documentId" gorm:"type:uuid;not null;index"`
	Name       string `json:"name" gorm:"size:255;not null"`

	Status        string `json:"status" gorm:"size:50;not null;default:active;index:idx_proc_tenant"`
	CurrentStepID string `json:"currentStepId,omitempty" gorm:"type:uuid"`

	StartedBy   string     `json:"startedBy" gorm:"type:uuid;not null;index"`
	StartedAt   time.Time  `json:"startedAt" gorm:"not null"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

// TableName 指定表名
func (Process) TableName() string { return "workflow_processes" }

// Execution 步骤+受派人维度的执行记录，只增不删
type Execution struct {
	ID        string `json:"id" gorm:"primaryKey;type:uuid"`
	ProcessID string `json:"processId" gorm:"type:uuid;not null;index:idx_exec_process"`
	StepID    string `json:"stepId" gorm:"type:uuid;not null;index:idx_exec_process"`

	AssignedTo       string `json:"assignedTo" gorm:"type:uuid;not null;index"`
	AssignedUserName string `json:"assignedUserName" gorm:"size:255"`

	Status      string `json:"status" gorm:"size:50;not null;default:pending"`
	ActionTaken string `json:"actionTaken,omitempty" gorm:"size:50"`
	Comments    string `json:"comments,omitempty" gorm:"type:text"`

	// 多方签名步骤关联的签名请求
	SignRequestID string `json:"signRequestId,omitempty" gorm:"type:uuid;index"`

	Metadata map[string]any `json:"metadata,omitempty" gorm:"type:jsonb;serializer:json"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

// TableName 指定表名
func (Execution) TableName() string { return "workflow_executions" }

// IsTerminal 执行记录是否已到终态
func (e *Execution) IsTerminal() bool {
	return e.Status == ExecutionStatusCompleted || e.Status == ExecutionStatusRejected
}
