package repo

import (
	"context"
	"time"

	"github.com/dushixiang/warden/internal/models"
	"gorm.io/gorm"
)

type MetricRepo struct {
	db *gorm.DB
}

func NewMetricRepo(db *gorm.DB) *MetricRepo {
	return &MetricRepo{
		db: db,
	}
}

// Create 写入一条采样
func (r *MetricRepo) Create(ctx context.Context, stat *models.SystemStat) error {
	return r.db.WithContext(ctx).Create(stat).Error
}

// FindAll 查询全部采样（按时间升序），用于模型训练
func (r *MetricRepo) FindAll(ctx context.Context) ([]models.SystemStat, error) {
	var stats []models.SystemStat
	err := r.db.WithContext(ctx).
		Order("timestamp ASC, id ASC").
		Find(&stats).Error
	return stats, err
}

// FindPageSince 按 (timestamp, id) 游标分页查询 since 之后的采样
// afterTs 为零值时从头开始
func (r *MetricRepo) FindPageSince(ctx context.Context, since, afterTs time.Time, afterID uint, limit int) ([]models.SystemStat, error) {
	query := r.db.WithContext(ctx).Where("timestamp >= ?", since)
	if !afterTs.IsZero() {
		query = query.Where("(timestamp > ?) OR (timestamp = ? AND id > ?)", afterTs, afterTs, afterID)
	}

	var stats []models.SystemStat
	err := query.
		Order("timestamp ASC, id ASC").
		Limit(limit).
		Find(&stats).Error
	return stats, err
}

// Count 采样总数
func (r *MetricRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.SystemStat{}).Count(&count).Error
	return count, err
}
