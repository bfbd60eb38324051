package service

import (
	"context"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/dushixiang/warden/internal/errs"
	"github.com/dushixiang/warden/internal/models"
	"github.com/dushixiang/warden/internal/repo"
	"github.com/dushixiang/warden/internal/validate"
	"github.com/jpillora/backoff"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultAlertWindow    = time.Hour
	defaultHistoryDays    = 7
	historyPageSize       = 500
	maxWriteAttempts      = 5
	writeBackoffMinDelay  = 20 * time.Millisecond
	writeBackoffMaxDelay  = 500 * time.Millisecond
	writeBackoffMultipler = 2
)

// MetricsStore 采样与告警的持久化存储
// 所有写操作串行执行（单写者），读操作直接走连接池，WAL 保证读不到写了一半的行
type MetricsStore struct {
	logger     *zap.Logger
	db         *gorm.DB
	metricRepo *repo.MetricRepo
	alertRepo  *repo.AlertRepo

	mu  sync.Mutex
	now func() time.Time
}

func NewMetricsStore(logger *zap.Logger, db *gorm.DB) *MetricsStore {
	return &MetricsStore{
		logger:     logger,
		db:         db,
		metricRepo: repo.NewMetricRepo(db),
		alertRepo:  repo.NewAlertRepo(db),
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// SetClock 替换时间源（测试用）
func (s *MetricsStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MetricsStore) clock() time.Time {
	return s.now().UTC()
}

// InsertSample 写入一条采样，任一百分比不在 [0,100] 时返回 ValidationError 且不落库
func (s *MetricsStore) InsertSample(ctx context.Context, cpu, ram, disk float64, errorCount int) (*models.SystemStat, error) {
	stat := &models.SystemStat{
		CPU:        cpu,
		RAM:        ram,
		Disk:       disk,
		ErrorCount: errorCount,
	}
	if err := validate.Struct(stat); err != nil {
		return nil, err
	}

	err := s.write(ctx, "insert_sample", func() error {
		stat.ID = 0
		stat.Timestamp = s.clock()
		return s.metricRepo.Create(ctx, stat)
	})
	if err != nil {
		return nil, err
	}
	return stat, nil
}

// InsertAlert 追加一条告警，severity 为空时默认 MEDIUM
func (s *MetricsStore) InsertAlert(ctx context.Context, message, severity string, values map[string]any) (*models.Alert, error) {
	if strings.TrimSpace(message) == "" {
		return nil, errs.NewValidation("message", "不能为空")
	}
	level, err := models.ParseSeverity(severity)
	if err != nil {
		return nil, errs.NewValidation("severity", err.Error())
	}

	alert := &models.Alert{
		Message:  message,
		Severity: level,
		Context:  values,
	}
	err = s.write(ctx, "insert_alert", func() error {
		alert.ID = 0
		alert.Timestamp = s.clock()
		return s.alertRepo.Create(ctx, alert)
	})
	if err != nil {
		return nil, err
	}
	return alert, nil
}

// CountRecentAlerts 统计 window 内的告警数，window <= 0 时取 1 小时
func (s *MetricsStore) CountRecentAlerts(ctx context.Context, window time.Duration) (int64, error) {
	if window <= 0 {
		window = defaultAlertWindow
	}
	count, err := s.alertRepo.CountSince(ctx, s.clock().Add(-window))
	if err != nil {
		return 0, errs.NewStorage("count_recent_alerts", err)
	}
	return count, nil
}

// RecentAlerts 按时间倒序返回告警，limit <= 0 不限制
func (s *MetricsStore) RecentAlerts(ctx context.Context, limit int) ([]models.Alert, error) {
	alerts, err := s.alertRepo.FindRecent(ctx, limit)
	if err != nil {
		return nil, errs.NewStorage("recent_alerts", err)
	}
	return alerts, nil
}

// SampleCount 已保存的采样数
func (s *MetricsStore) SampleCount(ctx context.Context) (int64, error) {
	count, err := s.metricRepo.Count(ctx)
	if err != nil {
		return 0, errs.NewStorage("sample_count", err)
	}
	return count, nil
}

// AllSamples 全部历史采样（训练用）
func (s *MetricsStore) AllSamples(ctx context.Context) ([]models.SystemStat, error) {
	stats, err := s.metricRepo.FindAll(ctx)
	if err != nil {
		return nil, errs.NewStorage("all_samples", err)
	}
	return stats, nil
}

// HistoricalSamples 返回最近 windowDays 天内按时间升序的采样序列
// 序列是惰性的，分批读取；每次遍历都会重新查询
func (s *MetricsStore) HistoricalSamples(ctx context.Context, windowDays int) iter.Seq2[models.SystemStat, error] {
	if windowDays <= 0 {
		windowDays = defaultHistoryDays
	}

	return func(yield func(models.SystemStat, error) bool) {
		since := s.clock().Add(-time.Duration(windowDays) * 24 * time.Hour)

		var (
			lastTs time.Time
			lastID uint
		)
		for {
			page, err := s.metricRepo.FindPageSince(ctx, since, lastTs, lastID, historyPageSize)
			if err != nil {
				yield(models.SystemStat{}, errs.NewStorage("historical_samples", err))
				return
			}
			for _, stat := range page {
				if !yield(stat, nil) {
					return
				}
			}
			if len(page) < historyPageSize {
				return
			}
			last := page[len(page)-1]
			lastTs, lastID = last.Timestamp, last.ID
		}
	}
}

// write 串行化写操作，遇到 sqlite 忙/锁错误时退避重试
func (s *MetricsStore) write(ctx context.Context, op string, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := &backoff.Backoff{
		Min:    writeBackoffMinDelay,
		Max:    writeBackoffMaxDelay,
		Factor: writeBackoffMultipler,
		Jitter: true,
	}

	var err error
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		err = fn()
		if err == nil || !isBusy(err) {
			break
		}

		delay := b.Duration()
		s.logger.Debug("数据库繁忙，稍后重试",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay))

		select {
		case <-ctx.Done():
			return errs.NewStorage(op, ctx.Err())
		case <-time.After(delay):
		}
	}

	if err != nil {
		storageErr := errs.NewStorage(op, err)
		s.logger.Error("写入数据库失败", zap.String("op", op), zap.Error(err), errs.StackField(storageErr))
		return storageErr
	}
	return nil
}

// Close 关闭数据库
func (s *MetricsStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func isBusy(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "database table is locked")
}
