package models

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Severity 告警级别，只有三个取值
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// ParseSeverity 解析告警级别，空字符串默认 MEDIUM
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return SeverityMedium, nil
	case string(SeverityLow):
		return SeverityLow, nil
	case string(SeverityMedium):
		return SeverityMedium, nil
	case string(SeverityHigh):
		return SeverityHigh, nil
	default:
		return "", fmt.Errorf("未知的告警级别: %q", s)
	}
}

// Rank 级别序号，用于比较
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	default:
		return 0
	}
}

// Valid 是否为合法级别
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// Alert 告警记录（只追加）
type Alert struct {
	ID        uint              `gorm:"primaryKey;autoIncrement" json:"id"`
	Message   string            `gorm:"not null" json:"message"`
	Severity  Severity          `gorm:"type:text;not null;check:chk_alerts_severity,severity IN ('LOW','MEDIUM','HIGH')" json:"severity"`
	Context   datatypes.JSONMap `json:"context,omitempty"` // 触发时的指标值
	Timestamp time.Time         `gorm:"index:idx_alerts_ts;not null" json:"timestamp"`
}

func (Alert) TableName() string {
	return "alerts"
}
