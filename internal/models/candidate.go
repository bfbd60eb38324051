package models

// AlertCandidate 待持久化的告警（阈值规则或异常检测产生）
type AlertCandidate struct {
	Message  string         `json:"message"`
	Severity Severity       `json:"severity"`
	Context  map[string]any `json:"context,omitempty"`
}
