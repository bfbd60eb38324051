package repo

import (
	"context"
	"time"

	"github.com/dushixiang/warden/internal/models"
	"gorm.io/gorm"
)

// AlertRepo 告警数据访问层
type AlertRepo struct {
	db *gorm.DB
}

// NewAlertRepo 创建仓库
func NewAlertRepo(db *gorm.DB) *AlertRepo {
	return &AlertRepo{db: db}
}

// Create 创建告警记录
func (r *AlertRepo) Create(ctx context.Context, alert *models.Alert) error {
	return r.db.WithContext(ctx).Create(alert).Error
}

// CountSince 统计 since 之后的告警数
func (r *AlertRepo) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Alert{}).
		Where("timestamp >= ?", since).
		Count(&count).Error
	return count, err
}

// FindRecent 按时间倒序查询告警，limit <= 0 表示不限制
func (r *AlertRepo) FindRecent(ctx context.Context, limit int) ([]models.Alert, error) {
	query := r.db.WithContext(ctx).Order("timestamp DESC, id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var alerts []models.Alert
	err := query.Find(&alerts).Error
	return alerts, err
}
