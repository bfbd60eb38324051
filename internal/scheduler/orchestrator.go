package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dushixiang/warden/internal/errs"
	"github.com/dushixiang/warden/internal/metrics"
	"github.com/dushixiang/warden/internal/models"
	"github.com/dushixiang/warden/internal/notifier"
	"github.com/dushixiang/warden/pkg/agent/cleaner"
	"github.com/dushixiang/warden/pkg/agent/collector"
	"github.com/robfig/cron/v3"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
)

const recentAlertWindow = time.Hour

// Store 调度器用到的持久化操作
type Store interface {
	InsertSample(ctx context.Context, cpu, ram, disk float64, errorCount int) (*models.SystemStat, error)
	InsertAlert(ctx context.Context, message, severity string, values map[string]any) (*models.Alert, error)
	CountRecentAlerts(ctx context.Context, window time.Duration) (int64, error)
}

// Analyzer 异常检测
type Analyzer interface {
	Analyze(ctx context.Context, cpu, ram, disk float64, errorCount int) ([]models.AlertCandidate, error)
}

// Rules 阈值告警规则
type Rules interface {
	Evaluate(cpu, ram, disk float64) []models.AlertCandidate
}

// Cleaner 目录清理
type Cleaner interface {
	CleanTargets(ctx context.Context, targets []string) (cleaner.Result, error)
}

// Options 调度配置
type Options struct {
	SampleInterval    time.Duration // 默认 60s
	IdleCheckInterval time.Duration // 默认 10m
	IdleThreshold     time.Duration // 默认 2h
}

// Deps 调度器依赖
type Deps struct {
	Sampler  collector.Sampler
	Idle     collector.IdleProvider
	Store    Store
	Analyzer Analyzer
	Rules    Rules
	Cleaner  Cleaner
	Targets  []string
	Notifier notifier.Notifier
}

// cleanupPlan 清理器和目标一起替换
type cleanupPlan struct {
	cleaner Cleaner
	targets []string
}

// CycleReport 一次采样分析周期的结果
type CycleReport struct {
	Sample *models.SystemStat
	Alerts []models.Alert
}

// Orchestrator 定时采样、分析，并在用户空闲时执行维护
type Orchestrator struct {
	logger *zap.Logger
	opts   Options

	sampler  collector.Sampler
	idle     collector.IdleProvider
	store    Store
	analyzer Analyzer
	notifier notifier.Notifier

	rules atomic.Pointer[Rules]
	plan  atomic.Pointer[cleanupPlan]

	cron  *cron.Cron
	state atomic.Int32

	// cycleMu 只串行化采样周期，清理不持有该锁
	cycleMu sync.Mutex

	maintaining atomic.Bool
	cleaning    atomic.Bool
	// idleArmed 用户重新活跃后才允许下一次空闲维护
	idleArmed atomic.Bool

	wg     conc.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New 创建调度器
func New(logger *zap.Logger, deps Deps, opts Options) (*Orchestrator, error) {
	if deps.Sampler == nil || deps.Store == nil || deps.Analyzer == nil || deps.Cleaner == nil {
		return nil, fmt.Errorf("调度器缺少必要的依赖")
	}
	if opts.SampleInterval <= 0 {
		opts.SampleInterval = time.Minute
	}
	if opts.IdleCheckInterval <= 0 {
		opts.IdleCheckInterval = 10 * time.Minute
	}
	if opts.IdleThreshold <= 0 {
		opts.IdleThreshold = 2 * time.Hour
	}
	if deps.Notifier == nil {
		deps.Notifier = notifier.NewLogNotifier(logger)
	}

	// 任务 panic 时恢复；上一次未结束时跳过本次
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger.Named("cron")))
	jobs := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	o := &Orchestrator{
		logger:   logger,
		opts:     opts,
		sampler:  deps.Sampler,
		idle:     deps.Idle,
		store:    deps.Store,
		analyzer: deps.Analyzer,
		notifier: deps.Notifier,
		cron:     jobs,
	}
	o.SetRules(deps.Rules)
	o.SetCleanup(deps.Cleaner, deps.Targets)
	o.idleArmed.Store(true)
	return o, nil
}

// State 当前阶段，采样周期优先于后台清理
func (o *Orchestrator) State() State {
	if s := State(o.state.Load()); s != StateIdle {
		return s
	}
	if o.cleaning.Load() {
		return StateCleaning
	}
	return StateIdle
}

// Maintaining 是否有维护正在运行
func (o *Orchestrator) Maintaining() bool {
	return o.maintaining.Load()
}

// SetRules 替换阈值规则，nil 表示不做阈值告警
func (o *Orchestrator) SetRules(rules Rules) {
	if rules == nil {
		o.rules.Store(nil)
		return
	}
	o.rules.Store(&rules)
}

// SetCleanup 替换清理器和清理目标，对下一次维护生效
func (o *Orchestrator) SetCleanup(c Cleaner, targets []string) {
	o.plan.Store(&cleanupPlan{cleaner: c, targets: targets})
}

// Start 启动定时任务
func (o *Orchestrator) Start(ctx context.Context) error {
	o.ctx, o.cancel = context.WithCancel(ctx)

	sampleSpec := fmt.Sprintf("@every %s", o.opts.SampleInterval)
	if _, err := o.cron.AddFunc(sampleSpec, func() {
		if _, err := o.RunCycle(o.ctx); err != nil {
			o.logger.Warn("采样周期失败", zap.Error(err), errs.StackField(err))
		}
	}); err != nil {
		return fmt.Errorf("添加采样任务失败: %w", err)
	}

	if o.idle != nil {
		idleSpec := fmt.Sprintf("@every %s", o.opts.IdleCheckInterval)
		if _, err := o.cron.AddFunc(idleSpec, func() {
			o.CheckIdle(o.ctx)
		}); err != nil {
			return fmt.Errorf("添加空闲检测任务失败: %w", err)
		}
	}

	o.logger.Info("启动调度器",
		zap.Duration("sampleInterval", o.opts.SampleInterval),
		zap.Duration("idleCheckInterval", o.opts.IdleCheckInterval),
		zap.Duration("idleThreshold", o.opts.IdleThreshold))
	o.cron.Start()
	return nil
}

// Stop 停止调度，等待正在执行的任务和维护结束
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}

	ctx := o.cron.Stop()
	<-ctx.Done()
	o.wg.Wait()

	o.logger.Info("调度器已停止")
}

// RunCycle 采样、持久化、分析并通知
// 样本先写库再分析，告警先写库再通知
func (o *Orchestrator) RunCycle(ctx context.Context) (*CycleReport, error) {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()
	defer o.setState(StateIdle)

	start := time.Now()
	defer func() {
		metrics.ObserveCycle(time.Since(start))
	}()

	o.setState(StateSampling)
	usage, err := o.sampler.Sample(ctx)
	if err != nil {
		metrics.ObserveSample(false, 0, 0, 0)
		return nil, fmt.Errorf("采集资源使用率失败: %w", err)
	}

	recent, err := o.store.CountRecentAlerts(ctx, recentAlertWindow)
	if err != nil {
		o.logger.Warn("统计最近告警失败，按 0 处理", zap.Error(err), errs.StackField(err))
		recent = 0
	}
	errorCount := int(recent)

	sample, err := o.store.InsertSample(ctx, usage.CPU, usage.RAM, usage.Disk, errorCount)
	if err != nil {
		metrics.ObserveSample(false, 0, 0, 0)
		return nil, fmt.Errorf("保存采样失败: %w", err)
	}
	metrics.ObserveSample(true, usage.CPU, usage.RAM, usage.Disk)

	o.setState(StateAnalyzing)
	var candidates []models.AlertCandidate
	if rules := o.rules.Load(); rules != nil {
		candidates = append(candidates, (*rules).Evaluate(usage.CPU, usage.RAM, usage.Disk)...)
	}

	anomalies, err := o.analyzer.Analyze(ctx, usage.CPU, usage.RAM, usage.Disk, errorCount)
	if err != nil {
		o.logger.Warn("异常检测失败，跳过本次检测", zap.Error(err))
	}
	metrics.ObservePrediction(len(anomalies) > 0)
	candidates = append(candidates, anomalies...)

	report := &CycleReport{Sample: sample}
	for _, c := range candidates {
		alert, err := o.store.InsertAlert(ctx, c.Message, string(c.Severity), c.Context)
		if err != nil {
			o.logger.Error("保存告警失败，不发送通知", zap.String("message", c.Message), zap.Error(err), errs.StackField(err))
			continue
		}
		metrics.ObserveAlert(string(alert.Severity), sourceOf(c))
		report.Alerts = append(report.Alerts, *alert)

		if err := o.notifier.Notify(ctx, "系统告警", alert.Message, alert.Severity); err != nil {
			o.logger.Warn("发送告警通知失败", zap.Uint("alertID", alert.ID), zap.Error(err))
		}
	}

	o.logger.Debug("采样周期完成",
		zap.Float64("cpu", usage.CPU),
		zap.Float64("ram", usage.RAM),
		zap.Float64("disk", usage.Disk),
		zap.Int("errorCount", errorCount),
		zap.Int("alerts", len(report.Alerts)))
	return report, nil
}

// CheckIdle 空闲时长超过阈值时触发一次维护
// 一段空闲期只触发一次，用户重新活跃后才会再次触发
func (o *Orchestrator) CheckIdle(ctx context.Context) {
	if o.idle == nil {
		return
	}
	idle, err := o.idle.IdleDuration(ctx)
	if err != nil {
		o.logger.Warn("获取空闲时长失败", zap.Error(err))
		return
	}

	if idle <= o.opts.IdleThreshold {
		o.idleArmed.Store(true)
		return
	}
	if !o.idleArmed.Load() {
		return
	}

	o.logger.Info("系统空闲，开始维护", zap.Duration("idle", idle))
	if o.TriggerMaintenance(ctx) {
		o.idleArmed.Store(false)
	}
}

// TriggerMaintenance 在后台执行一次维护（分析 + 清理）
// 已有维护在运行时直接丢弃并返回 false；开始后的维护不受 ctx 取消影响
func (o *Orchestrator) TriggerMaintenance(ctx context.Context) bool {
	if !o.maintaining.CompareAndSwap(false, true) {
		o.logger.Info("维护正在进行，忽略本次触发")
		metrics.ObserveMaintenance(metrics.OutcomeDropped)
		return false
	}
	metrics.ObserveMaintenance(metrics.OutcomeRan)

	passCtx := context.WithoutCancel(ctx)
	o.wg.Go(func() {
		defer o.maintaining.Store(false)
		o.runMaintenance(passCtx)
	})
	return true
}

// RunMaintenance 同步执行一次维护，已有维护在运行时返回 false
func (o *Orchestrator) RunMaintenance(ctx context.Context) (cleaner.Result, bool) {
	if !o.maintaining.CompareAndSwap(false, true) {
		metrics.ObserveMaintenance(metrics.OutcomeDropped)
		return cleaner.Result{}, false
	}
	defer o.maintaining.Store(false)
	metrics.ObserveMaintenance(metrics.OutcomeRan)
	return o.runMaintenance(ctx), true
}

func (o *Orchestrator) runMaintenance(ctx context.Context) cleaner.Result {
	start := time.Now()

	if _, err := o.RunCycle(ctx); err != nil {
		o.logger.Warn("维护中的分析失败，继续清理", zap.Error(err), errs.StackField(err))
	}

	result, err := o.clean(ctx)

	if err != nil {
		o.logger.Warn("清理未完成", zap.Error(err))
	}
	metrics.ObserveCleanup(result.Removed, result.Skipped, result.Errors)

	message := fmt.Sprintf("清理完成：删除 %d 项，跳过 %d 项（失败 %d 项）", result.Removed, result.Skipped, result.Errors)
	if err := o.notifier.Notify(ctx, "系统维护", message, models.SeverityLow); err != nil {
		o.logger.Warn("发送维护通知失败", zap.Error(err))
	}

	o.logger.Info("维护完成",
		zap.Int("removed", result.Removed),
		zap.Int("skipped", result.Skipped),
		zap.Int("errors", result.Errors),
		zap.Duration("elapsed", time.Since(start)))
	return result
}

// clean 执行清理，期间采样周期照常执行
func (o *Orchestrator) clean(ctx context.Context) (cleaner.Result, error) {
	o.cleaning.Store(true)
	defer o.cleaning.Store(false)

	plan := o.plan.Load()
	return plan.cleaner.CleanTargets(ctx, plan.targets)
}

func (o *Orchestrator) setState(s State) {
	o.state.Store(int32(s))
}

func sourceOf(c models.AlertCandidate) string {
	if s, ok := c.Context["source"].(string); ok {
		return s
	}
	return ""
}
