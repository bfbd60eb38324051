package notifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/dushixiang/warden/internal/models"
	"go.uber.org/zap"
)

// Notifier 通知发送
type Notifier interface {
	Notify(ctx context.Context, title, message string, severity models.Severity) error
}

// LogNotifier 把通知写入日志
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, title, message string, severity models.Severity) error {
	fields := []zap.Field{
		zap.String("title", title),
		zap.String("message", message),
		zap.String("severity", string(severity)),
	}
	switch severity {
	case models.SeverityHigh:
		n.logger.Error("告警通知", fields...)
	case models.SeverityMedium:
		n.logger.Warn("告警通知", fields...)
	case models.SeverityLow:
		n.logger.Info("告警通知", fields...)
	default:
		n.logger.Info("通知", fields...)
	}
	return nil
}

// Multi 依次调用多个通知器，单个失败只记录不影响其余
type Multi struct {
	logger    *zap.Logger
	notifiers []Notifier
}

func NewMulti(logger *zap.Logger, notifiers ...Notifier) *Multi {
	return &Multi{logger: logger, notifiers: notifiers}
}

// Notify 返回所有失败合并后的错误
func (m *Multi) Notify(ctx context.Context, title, message string, severity models.Severity) error {
	var errs []error
	for i, n := range m.notifiers {
		if err := n.Notify(ctx, title, message, severity); err != nil {
			m.logger.Warn("发送通知失败", zap.Int("notifier", i), zap.String("title", title), zap.Error(err))
			errs = append(errs, fmt.Errorf("通知器 %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
