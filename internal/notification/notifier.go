package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"time"
)

// Notifier 通知器接口
type Notifier interface {
	Send(ctx context.Context, notification *Notification) error
}

// Notification 通知消息
type Notification struct {
	Type     string         // email, webhook
	TenantID string         // 租户 ID
	To       string         // 接收者（邮箱/URL）
	Subject  string         // 主题
	Body     string         // 内容
	Data     map[string]any // 附加数据
}

// MultiNotifier 多通道通知器
type MultiNotifier struct {
	email   *EmailNotifier
	webhook *WebhookNotifier
}

// NewMultiNotifier 创建多通道通知器
func NewMultiNotifier(emailConfig *EmailConfig, webhookConfig *WebhookConfig) *MultiNotifier {
	return &MultiNotifier{
		email:   NewEmailNotifier(emailConfig),
		webhook: NewWebhookNotifier(webhookConfig),
	}
}

// Send 发送通知
func (m *MultiNotifier) Send(ctx context.Context, notification *Notification) error {
	var notifier Notifier

	switch notification.Type {
	case "email":
		if m.email != nil {
			notifier = m.email
		}
	case "webhook":
		if m.webhook != nil {
			notifier = m.webhook
		}
	default:
		return fmt.Errorf("不支持的通知类型: %s", notification.Type)
	}

	if notifier == nil {
		return fmt.Errorf("通知器未配置: %s", notification.Type)
	}
	return notifier.Send(ctx, notification)
}

// EmailConfig 邮件配置
type EmailConfig struct {
	SMTPHost string
	SMTPPort int
	Username string
	Password string
	From     string
	FromName string
}

// EmailNotifier SMTP 邮件通知器
type EmailNotifier struct {
	config *EmailConfig
}

// NewEmailNotifier 创建邮件通知器
func NewEmailNotifier(config *EmailConfig) *EmailNotifier {
	if config == nil {
		return nil
	}
	return &EmailNotifier{config: config}
}

// Send 发送邮件
func (e *EmailNotifier) Send(ctx context.Context, notification *Notification) error {
	if e.config == nil {
		return fmt.Errorf("邮件未配置")
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s <%s>\r\n", e.config.FromName, e.config.From)
	fmt.Fprintf(&msg, "To: %s\r\n", notification.To)
	fmt.Fprintf(&msg, "Subject: %s\r\n", notification.Subject)
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	msg.WriteString(notification.Body)

	addr := fmt.Sprintf("%s:%d", e.config.SMTPHost, e.config.SMTPPort)
	auth := smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.SMTPHost)

	if err := smtp.SendMail(addr, auth, e.config.From, []string{notification.To}, msg.Bytes()); err != nil {
		return fmt.Errorf("发送邮件失败: %w", err)
	}
	return nil
}

// WebhookConfig Webhook 配置
type WebhookConfig struct {
	URL     string
	Secret  string
	Timeout time.Duration
}

// WebhookNotifier HTTP Webhook 通知器
type WebhookNotifier struct {
	config *WebhookConfig
	client *http.Client
}

// NewWebhookNotifier 创建 Webhook 通知器
func NewWebhookNotifier(config *WebhookConfig) *WebhookNotifier {
	if config == nil {
		return nil
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		config: config,
		client: &http.Client{Timeout: timeout},
	}
}

// Send 发送 Webhook
func (w *WebhookNotifier) Send(ctx context.Context, notification *Notification) error {
	payload := map[string]any{
		"tenant_id": notification.TenantID,
		"subject":   notification.Subject,
		"body":      notification.Body,
		"data":      notification.Data,
		"sent_at":   time.Now().UTC().Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化 Webhook 载荷失败: %w", err)
	}

	url := notification.To
	if url == "" {
		url = w.config.URL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.config.Secret != "" {
		req.Header.Set("X-Webhook-Secret", w.config.Secret)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("发送 Webhook 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("Webhook 返回异常状态: %d", resp.StatusCode)
	}
	return nil
}
