package models

import "time"

// SystemStat 一次资源采样（写入后不可变，按时间保留）
type SystemStat struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	CPU        float64   `gorm:"column:cpu;not null;check:chk_stats_cpu,cpu >= 0 AND cpu <= 100" json:"cpu" validate:"gte=0,lte=100"`     // CPU 使用率(%)
	RAM        float64   `gorm:"column:ram;not null;check:chk_stats_ram,ram >= 0 AND ram <= 100" json:"ram" validate:"gte=0,lte=100"`     // 内存使用率(%)
	Disk       float64   `gorm:"column:disk;not null;check:chk_stats_disk,disk >= 0 AND disk <= 100" json:"disk" validate:"gte=0,lte=100"` // 磁盘使用率(%)
	ErrorCount int       `gorm:"column:error_count;not null;default:0" json:"errorCount" validate:"gte=0"`                                 // 采样时最近一小时的告警数
	Timestamp  time.Time `gorm:"index:idx_stats_ts;not null" json:"timestamp"`
}

func (SystemStat) TableName() string {
	return "system_stats"
}

// Features 模型特征向量 (cpu, ram, disk, error_count)
func (s SystemStat) Features() []float64 {
	return []float64{s.CPU, s.RAM, s.Disk, float64(s.ErrorCount)}
}
