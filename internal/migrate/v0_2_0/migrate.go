package v0_2_0

import (
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Migrate 升级旧版本创建的 alerts 表：补齐 severity / context 字段
// 旧版 alerts 表只有 (id, message, timestamp)，severity 为后来追加且可能为空
func Migrate(logger *zap.Logger, db *gorm.DB) error {
	migrator := db.Migrator()
	if migrator == nil {
		logger.Warn("无法获取数据库 migrator，跳过迁移")
		return nil
	}

	if !migrator.HasTable("alerts") {
		logger.Debug("未检测到 alerts 表，跳过迁移")
		return nil
	}

	if !migrator.HasColumn("alerts", "severity") {
		logger.Info("检测到旧版 alerts 表，补齐 severity 字段")
		if err := db.Exec(`ALTER TABLE alerts ADD COLUMN severity TEXT NOT NULL DEFAULT 'MEDIUM'`).Error; err != nil {
			logger.Error("添加 severity 字段失败", zap.Error(err))
			return err
		}
	}

	// 旧数据中 severity 可能为空或小写
	result := db.Exec(`UPDATE alerts SET severity = 'MEDIUM' WHERE severity IS NULL OR UPPER(severity) NOT IN ('LOW', 'MEDIUM', 'HIGH')`)
	if result.Error != nil {
		logger.Error("修正 severity 失败", zap.Error(result.Error))
		return result.Error
	}
	if err := db.Exec(`UPDATE alerts SET severity = UPPER(severity) WHERE severity <> UPPER(severity)`).Error; err != nil {
		logger.Error("修正 severity 大小写失败", zap.Error(err))
		return err
	}

	if !migrator.HasColumn("alerts", "context") {
		if err := db.Exec(`ALTER TABLE alerts ADD COLUMN context JSON`).Error; err != nil {
			logger.Error("添加 context 字段失败", zap.Error(err))
			return err
		}
	}

	if migrator.HasColumn("alerts", "timestamp") {
		if err := db.Exec(`UPDATE alerts SET timestamp = CURRENT_TIMESTAMP WHERE timestamp IS NULL`).Error; err != nil {
			logger.Error("补齐 timestamp 失败", zap.Error(err))
			return err
		}
	}

	logger.Info("v0.2.0 版本数据迁移完成", zap.Int64("severityFixed", result.RowsAffected))
	return nil
}
