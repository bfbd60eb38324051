package detector

import (
	"fmt"
	"time"

	"github.com/dushixiang/warden/internal/errs"
)

// Params 模型超参数
type Params struct {
	Contamination float64 `json:"contamination"` // 预期异常比例，(0, 0.5]
	Estimators    int     `json:"estimators"`    // 树的数量
	SampleSize    int     `json:"sampleSize"`    // 每棵树的子采样大小，超过样本数时取样本数
	Seed          int64   `json:"seed"`
}

// DefaultParams 默认超参数
func DefaultParams() Params {
	return Params{
		Contamination: 0.05,
		Estimators:    100,
		SampleSize:    256,
		Seed:          42,
	}
}

// Validate 校验超参数
func (p Params) Validate() error {
	if !(p.Contamination > 0 && p.Contamination <= 0.5) {
		return errs.NewValidation("contamination", fmt.Sprintf("必须在 (0, 0.5] 之间, 实际 %v", p.Contamination))
	}
	if p.Estimators < 1 {
		return errs.NewValidation("estimators", fmt.Sprintf("必须大于 0, 实际 %d", p.Estimators))
	}
	if p.SampleSize < 2 {
		return errs.NewValidation("sampleSize", fmt.Sprintf("不能小于 2, 实际 %d", p.SampleSize))
	}
	return nil
}

// Model 一次训练的结果，创建后只读
type Model struct {
	Version   string    `json:"version"`
	TrainedAt time.Time `json:"trainedAt"`
	Samples   int       `json:"samples"`
	Params    Params    `json:"params"`
	Threshold float64   `json:"threshold"` // 训练分数的 (1-contamination) 分位数
	Forest    *Forest   `json:"forest"`
}

// Score 特征向量的异常分数
func (m *Model) Score(features []float64) float64 {
	return m.Forest.Score(features)
}

// IsOutlier 分数严格大于阈值时判定为异常
func (m *Model) IsOutlier(features []float64) bool {
	return m.Score(features) > m.Threshold
}

func (m *Model) check() error {
	if m.Version == "" || m.Forest == nil || len(m.Forest.Trees) == 0 {
		return fmt.Errorf("模型内容不完整")
	}
	if m.Forest.Features != featureCount {
		return fmt.Errorf("特征维度不匹配: %d", m.Forest.Features)
	}
	for i := range m.Forest.Trees {
		t := &m.Forest.Trees[i]
		if len(t.Nodes) == 0 || len(t.Min) != featureCount || len(t.Max) != featureCount {
			return fmt.Errorf("第 %d 棵树结构损坏", i)
		}
		// 子节点总是排在父节点之后，下标只增不减，遍历一定会走到叶子
		for j, nd := range t.Nodes {
			if nd.Left < 0 {
				continue
			}
			if !childIndex(nd.Left, j, len(t.Nodes)) || !childIndex(nd.Right, j, len(t.Nodes)) ||
				nd.Feature < 0 || nd.Feature >= featureCount {
				return fmt.Errorf("第 %d 棵树第 %d 个节点越界", i, j)
			}
		}
	}
	return nil
}

func childIndex(child int32, parent, n int) bool {
	return int(child) > parent && int(child) < n
}
