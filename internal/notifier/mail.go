package notifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/dushixiang/warden/internal/config"
	"github.com/dushixiang/warden/internal/models"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

// mailSender 发送邮件，gomail.Dialer 实现了该接口
type mailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// MailNotifier 邮件通知，只发送不低于 minSeverity 的通知
type MailNotifier struct {
	logger      *zap.Logger
	from        string
	to          []string
	minSeverity models.Severity
	sender      mailSender
}

// NewMailNotifier 创建邮件通知器，端口默认 25
func NewMailNotifier(logger *zap.Logger, cfg config.MailConfig) (*MailNotifier, error) {
	if cfg.Host == "" || cfg.From == "" || len(cfg.To) == 0 {
		return nil, fmt.Errorf("邮件配置不完整")
	}
	minSeverity := models.SeverityMedium
	if cfg.MinSeverity != "" {
		s, err := models.ParseSeverity(cfg.MinSeverity)
		if err != nil {
			return nil, err
		}
		minSeverity = s
	}
	port := cfg.Port
	if port == 0 {
		port = 25
	}

	return &MailNotifier{
		logger:      logger,
		from:        cfg.From,
		to:          cfg.To,
		minSeverity: minSeverity,
		sender:      gomail.NewDialer(cfg.Host, port, cfg.Username, cfg.Password),
	}, nil
}

func (n *MailNotifier) Notify(ctx context.Context, title, message string, severity models.Severity) error {
	if severity.Rank() < n.minSeverity.Rank() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", n.to...)
	m.SetHeader("Subject", fmt.Sprintf("[%s] %s", severity, title))
	m.SetBody("text/plain", message)

	if err := n.sender.DialAndSend(m); err != nil {
		return fmt.Errorf("发送邮件失败: %w", err)
	}
	n.logger.Debug("邮件通知已发送", zap.String("title", title), zap.String("to", strings.Join(n.to, ",")))
	return nil
}
