package audit

import (
	"context"
	"sync"
	"time"

	"backend/internal/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Log 审计日志行，只增不改
type Log struct {
	ID       string `json:"id" gorm:"primaryKey;type:uuid"`
	TenantID string `json:"tenantId" gorm:"type:uuid;not null;index:idx_audit_tenant"`

	UserID     string `json:"userId" gorm:"type:uuid;index"`
	Action     string `json:"action" gorm:"size:100;not null;index:idx_audit_tenant"`
	Resource   string `json:"resource" gorm:"size:100;not null"`
	ResourceID string `json:"resourceId" gorm:"size:100;index"`

	Details datatypes.JSONMap `json:"details,omitempty" gorm:"type:jsonb"`

	IP        string    `json:"ip" gorm:"size:50"`
	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime;index"`
}

// TableName 指定表名
func (Log) TableName() string { return "audit_logs" }

// Entry 待记录的审计事件
type Entry struct {
	TenantID   string
	UserID     string
	Action     string
	Resource   string
	ResourceID string
	Details    map[string]any
	IP         string
}

// Recorder 异步审计记录器
// 写入走缓冲通道，满载时丢弃并计数，不阻塞业务请求
type Recorder struct {
	db      *gorm.DB
	entries chan Entry
	dropped int64
	mu      sync.Mutex
	done    chan struct{}
	once    sync.Once
}

// NewRecorder 创建并启动审计记录器
func NewRecorder(db *gorm.DB, bufferSize int) *Recorder {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	r := &Recorder{
		db:      db,
		entries: make(chan Entry, bufferSize),
		done:    make(chan struct{}),
	}
	go r.loop()
	return r
}

// Record 投递一条审计事件，满载时丢弃
func (r *Recorder) Record(entry Entry) {
	select {
	case r.entries <- entry:
	default:
		r.mu.Lock()
		r.dropped++
		dropped := r.dropped
		r.mu.Unlock()
		logger.Warn("审计缓冲区满，事件被丢弃",
			zap.String("action", entry.Action),
			zap.Int64("totalDropped", dropped),
		)
	}
}

// Dropped 返回累计丢弃数
func (r *Recorder) Dropped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

func (r *Recorder) loop() {
	for {
		select {
		case entry := <-r.entries:
			r.persist(entry)
		case <-r.done:
			// 退出前清空缓冲
			for {
				select {
				case entry := <-r.entries:
					r.persist(entry)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) persist(entry Entry) {
	log := &Log{
		ID:         uuid.New().String(),
		TenantID:   entry.TenantID,
		UserID:     entry.UserID,
		Action:     entry.Action,
		Resource:   entry.Resource,
		ResourceID: entry.ResourceID,
		Details:    datatypes.JSONMap(entry.Details),
		IP:         entry.IP,
	}
	if err := r.db.Create(log).Error; err != nil {
		logger.Error("审计日志写入失败", zap.String("action", entry.Action), zap.Error(err))
	}
}

// Close 停止记录器并落盘剩余事件
func (r *Recorder) Close() {
	r.once.Do(func() { close(r.done) })
}

// QueryFilter 审计查询条件
type QueryFilter struct {
	UserID   string
	Action   string
	Resource string
	Since    *time.Time
	Limit    int
}

// Query 查询租户审计日志
func (r *Recorder) Query(ctx context.Context, tenantID string, filter QueryFilter) ([]*Log, error) {
	query := r.db.WithContext(ctx).Model(&Log{}).Where("tenant_id = ?", tenantID)
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.Action != "" {
		query = query.Where("action = ?", filter.Action)
	}
	if filter.Resource != "" {
		query = query.Where("resource = ?", filter.Resource)
	}
	if filter.Since != nil {
		query = query.Where("created_at >= ?", *filter.Since)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var logs []*Log
	err := query.Order("created_at DESC").Limit(limit).Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}
