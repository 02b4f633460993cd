package notification

import (
	"context"

	"backend/internal/tenant"
)

// 流程事件对应的通知主题
var eventSubjects = map[string]string{
	"process.assigned":  "新的流程任务",
	"process.returned":  "流程被退回",
	"process.completed": "流程已完成",
	"signature.invited": "签名邀请",
}

// DirectoryNotifier 按用户目录解析收件人的事件通知器
// 实现流程引擎的 Notifier 接口
type DirectoryNotifier struct {
	directory *tenant.DirectoryService
	sender    Notifier
}

// NewDirectoryNotifier 创建事件通知器
func NewDirectoryNotifier(directory *tenant.DirectoryService, sender Notifier) *DirectoryNotifier {
	return &DirectoryNotifier{directory: directory, sender: sender}
}

// Notify 向指定用户发送事件通知
func (n *DirectoryNotifier) Notify(ctx context.Context, tenantID, userID, event, message string) error {
	user, err := n.directory.GetUser(ctx, tenantID, userID)
	if err != nil {
		return err
	}

	subject := eventSubjects[event]
	if subject == "" {
		subject = event
	}

	return n.sender.Send(ctx, &Notification{
		Type:     "email",
		TenantID: tenantID,
		To:       user.Email,
		Subject:  subject,
		Body:     message,
		Data:     map[string]any{"event": event, "userId": userID},
	})
}
