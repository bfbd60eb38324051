package service

import (
	"strconv"

	"github.com/dushixiang/warden/internal/config"
	"github.com/dushixiang/warden/internal/models"
	"github.com/valyala/fasttemplate"
)

// ThresholdRules 固定阈值告警规则
type ThresholdRules struct {
	cfg config.AlertConfig
}

// NewThresholdRules 创建阈值规则，空模板回退到默认模板
func NewThresholdRules(cfg config.AlertConfig) *ThresholdRules {
	def := config.Default().Alert
	if cfg.CPUMessage == "" {
		cfg.CPUMessage = def.CPUMessage
	}
	if cfg.RAMMessage == "" {
		cfg.RAMMessage = def.RAMMessage
	}
	if cfg.DiskMessage == "" {
		cfg.DiskMessage = def.DiskMessage
	}
	return &ThresholdRules{cfg: cfg}
}

// Evaluate 按 CPU、内存、磁盘的顺序检查阈值
// CPU/内存超过 HighThreshold 为 HIGH，否则为 MEDIUM；磁盘超过阈值一律 HIGH
func (r *ThresholdRules) Evaluate(cpu, ram, disk float64) []models.AlertCandidate {
	if !r.cfg.Enabled {
		return nil
	}

	var candidates []models.AlertCandidate
	if cpu > r.cfg.CPUThreshold {
		candidates = append(candidates, r.candidate(r.cfg.CPUMessage, "cpu", cpu, r.level(cpu)))
	}
	if ram > r.cfg.RAMThreshold {
		candidates = append(candidates, r.candidate(r.cfg.RAMMessage, "ram", ram, r.level(ram)))
	}
	if disk > r.cfg.DiskThreshold {
		candidates = append(candidates, r.candidate(r.cfg.DiskMessage, "disk", disk, models.SeverityHigh))
	}
	return candidates
}

func (r *ThresholdRules) level(value float64) models.Severity {
	if value > r.cfg.HighThreshold {
		return models.SeverityHigh
	}
	return models.SeverityMedium
}

func (r *ThresholdRules) candidate(tmpl, key string, value float64, severity models.Severity) models.AlertCandidate {
	return models.AlertCandidate{
		Message:  RenderMessage(tmpl, map[string]float64{"value": value, key: value}),
		Severity: severity,
		Context: map[string]any{
			key:         value,
			"threshold": r.threshold(key),
			"source":    "threshold",
		},
	}
}

func (r *ThresholdRules) threshold(key string) float64 {
	switch key {
	case "cpu":
		return r.cfg.CPUThreshold
	case "ram":
		return r.cfg.RAMThreshold
	default:
		return r.cfg.DiskThreshold
	}
}

// RenderMessage 渲染告警模板，占位符形如 {{cpu}}，数值保留一位小数
func RenderMessage(tmpl string, values map[string]float64) string {
	args := make(map[string]interface{}, len(values))
	for k, v := range values {
		args[k] = strconv.FormatFloat(v, 'f', 1, 64)
	}
	return fasttemplate.ExecuteString(tmpl, "{{", "}}", args)
}
