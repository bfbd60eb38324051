package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dushixiang/warden/internal/migrate/v0_2_0"
	"github.com/dushixiang/warden/internal/models"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open 打开 sqlite 数据库（WAL 模式），执行旧版本迁移和表结构同步
func Open(path string, logger *zap.Logger) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("创建数据库目录失败: %w", err)
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	if err := v0_2_0.Migrate(logger, db); err != nil {
		_ = Close(db)
		return nil, fmt.Errorf("数据迁移失败: %w", err)
	}

	if err := db.AutoMigrate(&models.SystemStat{}, &models.Alert{}); err != nil {
		_ = Close(db)
		return nil, fmt.Errorf("同步表结构失败: %w", err)
	}

	logger.Info("数据库已就绪", zap.String("path", path))
	return db, nil
}

// Close 关闭底层连接
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
