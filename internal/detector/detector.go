package detector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dushixiang/warden/internal/errs"
	"github.com/dushixiang/warden/internal/models"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/valyala/fasttemplate"
	"go.uber.org/zap"
)

const (
	featureCount          = 4
	defaultHighThreshold  = 90
	defaultAnomalyMessage = "检测到系统行为异常 (CPU: {{cpu}}%, 内存: {{ram}}%)"
)

// SampleSource 训练数据来源
type SampleSource interface {
	AllSamples(ctx context.Context) ([]models.SystemStat, error)
}

// Options 检测器配置
type Options struct {
	ArtifactPath    string
	Params          Params
	RetrainDebounce time.Duration // ScheduleRetrain 的合并窗口
	HighThreshold   float64       // CPU/内存超过该值的异常为 HIGH
	AnomalyMessage  string        // 告警消息模板，支持 {{cpu}} {{ram}} {{disk}} {{error_count}}
}

// Detection 单次预测的结果，Version 标识做出判断的模型
type Detection struct {
	Anomaly bool    `json:"anomaly"`
	Score   float64 `json:"score"`
	Version string  `json:"version"`
}

// Evaluation 以 error_count>0 为真值的自洽评估
type Evaluation struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	Samples   int     `json:"samples"`
	Positives int     `json:"positives"` // 真值为正的样本数
	Flagged   int     `json:"flagged"`   // 模型判定为异常的样本数
	Version   string  `json:"version"`
}

// Detector 异常检测模型的生命周期管理
//
// 当前模型通过 atomic.Pointer 整体替换，预测只读取一次指针，
// 因此并发训练期间的预测总是完整地基于某一个模型版本。
// 训练互相串行；超参数在训练开始时读取快照。
type Detector struct {
	logger   *zap.Logger
	source   SampleSource
	artifact *Artifact
	opts     Options

	model atomic.Pointer[Model]

	paramsMu sync.RWMutex
	params   Params

	trainMu    sync.Mutex
	training   atomic.Bool
	trainCount atomic.Int64

	// 合并后的待执行重训
	pendingMu sync.Mutex
	pending   *Params
	timer     *time.Timer
	closed    bool
	wg        conc.WaitGroup
}

// New 创建检测器，不会立即加载模型
func New(logger *zap.Logger, source SampleSource, opts Options) (*Detector, error) {
	if opts.Params == (Params{}) {
		opts.Params = DefaultParams()
	}
	if err := opts.Params.Validate(); err != nil {
		return nil, err
	}
	if opts.ArtifactPath == "" {
		return nil, errs.NewValidation("artifactPath", "不能为空")
	}
	if opts.HighThreshold <= 0 {
		opts.HighThreshold = defaultHighThreshold
	}
	if opts.AnomalyMessage == "" {
		opts.AnomalyMessage = defaultAnomalyMessage
	}

	return &Detector{
		logger:   logger,
		source:   source,
		artifact: NewArtifact(opts.ArtifactPath),
		opts:     opts,
		params:   opts.Params,
	}, nil
}

// Params 当前超参数（下一次训练生效）
func (d *Detector) Params() Params {
	d.paramsMu.RLock()
	defer d.paramsMu.RUnlock()
	return d.params
}

// Current 当前生效的模型，没有模型时返回 nil
func (d *Detector) Current() *Model {
	return d.model.Load()
}

// Retraining 是否有重训正在执行或等待执行
func (d *Detector) Retraining() bool {
	if d.training.Load() {
		return true
	}
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	return d.pending != nil
}

// TrainCount 完成的训练次数
func (d *Detector) TrainCount() int64 {
	return d.trainCount.Load()
}

// Train 用全部历史采样重新训练并持久化
// 没有样本时返回 false 且不视为错误；持久化失败时保留旧模型
func (d *Detector) Train(ctx context.Context) (bool, error) {
	d.trainMu.Lock()
	defer d.trainMu.Unlock()
	return d.trainLocked(ctx)
}

func (d *Detector) trainLocked(ctx context.Context) (bool, error) {
	d.training.Store(true)
	defer d.training.Store(false)

	samples, err := d.source.AllSamples(ctx)
	if err != nil {
		return false, fmt.Errorf("读取训练数据失败: %w", err)
	}
	if len(samples) == 0 {
		d.logger.Warn("跳过训练", zap.Error(errs.ErrModelUnavailable))
		return false, nil
	}

	params := d.Params()
	start := time.Now()

	data := make([][]float64, len(samples))
	for i, s := range samples {
		data[i] = s.Features()
	}

	forest, err := fitForest(ctx, data, params.Estimators, params.SampleSize, params.Seed)
	if err != nil {
		return false, fmt.Errorf("训练模型失败: %w", err)
	}

	scores := make([]float64, len(data))
	for i, x := range data {
		scores[i] = forest.Score(x)
	}

	model := &Model{
		Version:   uuid.NewString(),
		TrainedAt: time.Now().UTC(),
		Samples:   len(samples),
		Params:    params,
		Threshold: quantile(scores, 1-params.Contamination),
		Forest:    forest,
	}

	if err := d.artifact.Save(model); err != nil {
		d.logger.Error("保存模型失败，继续使用旧模型", zap.String("path", d.artifact.Path()), zap.Error(err))
		return false, err
	}

	d.model.Store(model)
	d.trainCount.Add(1)

	d.logger.Info("模型训练完成",
		zap.String("version", model.Version),
		zap.Int("samples", model.Samples),
		zap.Float64("contamination", params.Contamination),
		zap.Int("estimators", params.Estimators),
		zap.Float64("threshold", model.Threshold),
		zap.Duration("cost", time.Since(start)))
	return true, nil
}

// LoadOrTrain 优先加载已持久化的模型，文件不存在或损坏时重新训练
func (d *Detector) LoadOrTrain(ctx context.Context) error {
	d.trainMu.Lock()
	defer d.trainMu.Unlock()
	return d.loadOrTrainLocked(ctx)
}

func (d *Detector) loadOrTrainLocked(ctx context.Context) error {
	m, err := d.artifact.Load()
	if err == nil {
		d.model.Store(m)
		d.logger.Info("已加载模型",
			zap.String("version", m.Version),
			zap.Int("samples", m.Samples),
			zap.Time("trainedAt", m.TrainedAt))
		return nil
	}

	if errors.Is(err, errArtifactMissing) {
		d.logger.Info("未找到模型文件，开始训练", zap.String("path", d.artifact.Path()))
	} else {
		d.logger.Warn("模型文件损坏，重新训练", zap.String("path", d.artifact.Path()), zap.Error(err))
		if err := d.artifact.Discard(); err != nil {
			d.logger.Warn("删除损坏的模型文件失败", zap.Error(err))
		}
	}

	_, err = d.trainLocked(ctx)
	return err
}

// ensureModel 没有模型时惰性加载或训练
func (d *Detector) ensureModel(ctx context.Context) (*Model, error) {
	if m := d.model.Load(); m != nil {
		return m, nil
	}

	d.trainMu.Lock()
	defer d.trainMu.Unlock()
	if m := d.model.Load(); m != nil {
		return m, nil
	}
	if err := d.loadOrTrainLocked(ctx); err != nil {
		return nil, err
	}
	return d.model.Load(), nil
}

// UpdateHyperparameters 更新超参数并同步重训，nil 表示保持原值
func (d *Detector) UpdateHyperparameters(ctx context.Context, contamination *float64, estimators *int) (bool, error) {
	if err := d.applyParams(contamination, estimators); err != nil {
		return false, err
	}
	return d.Train(ctx)
}

func (d *Detector) applyParams(contamination *float64, estimators *int) error {
	d.paramsMu.Lock()
	defer d.paramsMu.Unlock()

	next := mergeParams(d.params, contamination, estimators)
	if err := next.Validate(); err != nil {
		return err
	}
	d.params = next
	return nil
}

func mergeParams(p Params, contamination *float64, estimators *int) Params {
	if contamination != nil {
		p.Contamination = *contamination
	}
	if estimators != nil {
		p.Estimators = *estimators
	}
	return p
}

// ScheduleRetrain 合并短时间内的多次超参数变更，窗口结束后只重训一次
func (d *Detector) ScheduleRetrain(contamination *float64, estimators *int) error {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()

	if d.closed {
		return fmt.Errorf("检测器已关闭")
	}

	base := d.Params()
	if d.pending != nil {
		base = *d.pending
	}
	next := mergeParams(base, contamination, estimators)
	if err := next.Validate(); err != nil {
		return err
	}
	d.pending = &next

	if d.timer == nil {
		d.timer = time.AfterFunc(d.opts.RetrainDebounce, d.firePending)
	} else {
		d.timer.Reset(d.opts.RetrainDebounce)
	}
	return nil
}

func (d *Detector) firePending() {
	d.pendingMu.Lock()
	if d.closed || d.pending == nil {
		d.pendingMu.Unlock()
		return
	}
	params := *d.pending
	d.timer = nil

	d.wg.Go(func() {
		ctx := context.Background()
		d.trainMu.Lock()
		defer d.trainMu.Unlock()

		d.paramsMu.Lock()
		d.params = params
		d.paramsMu.Unlock()

		// 训练开始后才清除 pending，避免 Retraining() 出现空档
		d.training.Store(true)
		d.pendingMu.Lock()
		d.pending = nil
		d.pendingMu.Unlock()

		if _, err := d.trainLocked(ctx); err != nil {
			d.logger.Error("超参数变更后重训失败", zap.Error(err))
		}
	})
	d.pendingMu.Unlock()
}

// Close 取消尚未开始的重训并等待进行中的重训结束
func (d *Detector) Close() {
	d.pendingMu.Lock()
	d.closed = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = nil
	d.pendingMu.Unlock()

	d.wg.Wait()
}

// Detect 对一组指标做出判断；没有模型时惰性加载或训练，仍无模型时返回非异常
func (d *Detector) Detect(ctx context.Context, cpu, ram, disk float64, errorCount int) (Detection, error) {
	m, err := d.ensureModel(ctx)
	if err != nil {
		return Detection{}, err
	}
	if m == nil {
		return Detection{}, nil
	}

	x := []float64{cpu, ram, disk, float64(errorCount)}
	score := m.Score(x)
	return Detection{
		Anomaly: score > m.Threshold,
		Score:   score,
		Version: m.Version,
	}, nil
}

// PredictAnomaly 判断指标是否异常
func (d *Detector) PredictAnomaly(ctx context.Context, cpu, ram, disk float64, errorCount int) (bool, error) {
	det, err := d.Detect(ctx, cpu, ram, disk, errorCount)
	if err != nil {
		return false, err
	}
	return det.Anomaly, nil
}

// Score 当前模型下的异常分数，没有模型时 ok 为 false
func (d *Detector) Score(cpu, ram, disk float64, errorCount int) (float64, bool) {
	m := d.model.Load()
	if m == nil {
		return 0, false
	}
	return m.Score([]float64{cpu, ram, disk, float64(errorCount)}), true
}

// Analyze 检测到异常时返回一条告警：CPU 或内存超过 HighThreshold 为 HIGH，否则 MEDIUM
func (d *Detector) Analyze(ctx context.Context, cpu, ram, disk float64, errorCount int) ([]models.AlertCandidate, error) {
	det, err := d.Detect(ctx, cpu, ram, disk, errorCount)
	if err != nil {
		return nil, err
	}
	if !det.Anomaly {
		return []models.AlertCandidate{}, nil
	}

	severity := models.SeverityMedium
	if cpu > d.opts.HighThreshold || ram > d.opts.HighThreshold {
		severity = models.SeverityHigh
	}

	return []models.AlertCandidate{{
		Message:  d.renderMessage(cpu, ram, disk, errorCount),
		Severity: severity,
		Context: map[string]any{
			"cpu":           cpu,
			"ram":           ram,
			"disk":          disk,
			"error_count":   errorCount,
			"score":         det.Score,
			"model_version": det.Version,
			"source":        "anomaly",
		},
	}}, nil
}

func (d *Detector) renderMessage(cpu, ram, disk float64, errorCount int) string {
	return fasttemplate.ExecuteString(d.opts.AnomalyMessage, "{{", "}}", map[string]interface{}{
		"cpu":         fmt.Sprintf("%.1f", cpu),
		"ram":         fmt.Sprintf("%.1f", ram),
		"disk":        fmt.Sprintf("%.1f", disk),
		"error_count": fmt.Sprintf("%d", errorCount),
	})
}

// Evaluate 以 error_count>0 为真值计算当前模型的 precision / recall
// 没有模型或没有数据时返回 nil；分母为 0 时对应指标取 0
func (d *Detector) Evaluate(ctx context.Context) (*Evaluation, error) {
	m := d.model.Load()
	if m == nil {
		return nil, nil
	}
	samples, err := d.source.AllSamples(ctx)
	if err != nil {
		return nil, fmt.Errorf("读取评估数据失败: %w", err)
	}
	if len(samples) == 0 {
		return nil, nil
	}

	var tp, fp, fn, positives, flagged int
	for _, s := range samples {
		truth := s.ErrorCount > 0
		predicted := m.IsOutlier(s.Features())
		if truth {
			positives++
		}
		if predicted {
			flagged++
		}
		switch {
		case truth && predicted:
			tp++
		case !truth && predicted:
			fp++
		case truth && !predicted:
			fn++
		}
	}

	return &Evaluation{
		Precision: ratio(tp, tp+fp),
		Recall:    ratio(tp, tp+fn),
		Samples:   len(samples),
		Positives: positives,
		Flagged:   flagged,
		Version:   m.Version,
	}, nil
}

func ratio(a, b int) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}
