package service

import (
	"context"
	"fmt"
	"time"

	"github.com/dushixiang/warden/internal/config"
	"github.com/dushixiang/warden/internal/detector"
	"github.com/dushixiang/warden/internal/handler"
	"github.com/dushixiang/warden/internal/metrics"
	"github.com/dushixiang/warden/internal/models"
	"github.com/dushixiang/warden/internal/notifier"
	"github.com/dushixiang/warden/internal/scheduler"
	svc "github.com/dushixiang/warden/internal/service"
	"github.com/dushixiang/warden/internal/store"
	"github.com/dushixiang/warden/pkg/agent/cleaner"
	"github.com/dushixiang/warden/pkg/agent/collector"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
)

const openFileCacheTTL = 30 * time.Second

// Agent 本地维护代理，持有所有组件
type Agent struct {
	cfg    *config.AppConfig
	logger *zap.Logger

	Store        *svc.MetricsStore
	Detector     *detector.Detector
	Orchestrator *scheduler.Orchestrator
	registry     *prometheus.Registry

	wg     conc.WaitGroup
	cancel context.CancelFunc
}

// OpenStore 打开数据库并创建存储
func OpenStore(cfg *config.AppConfig, logger *zap.Logger) (*svc.MetricsStore, error) {
	db, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		return nil, err
	}
	return svc.NewMetricsStore(logger, db), nil
}

// NewDetector 按配置创建检测器
func NewDetector(cfg *config.AppConfig, logger *zap.Logger, source detector.SampleSource) (*detector.Detector, error) {
	return detector.New(logger, source, detector.Options{
		ArtifactPath: cfg.Model.Path,
		Params: detector.Params{
			Contamination: cfg.Model.Contamination,
			Estimators:    cfg.Model.Estimators,
			SampleSize:    cfg.Model.SampleSize,
			Seed:          cfg.Model.Seed,
		},
		RetrainDebounce: cfg.Model.RetrainDebounce,
		HighThreshold:   cfg.Alert.HighThreshold,
		AnomalyMessage:  cfg.Alert.AnomalyMessage,
	})
}

// NewCleaner 按配置创建清理器，返回清理器和清理目标
func NewCleaner(cfg *config.AppConfig, logger *zap.Logger) (*cleaner.Cleaner, []string) {
	custom := cleaner.Policy{
		ExcludedPrefixes: cfg.Cleanup.ExcludedPrefixes,
		ExcludedPatterns: cfg.Cleanup.ExcludedPatterns,
	}
	policy := custom
	if cfg.Cleanup.UseDefaultPolicy {
		policy = cleaner.DefaultPolicy().Merge(custom)
	}

	var probe cleaner.LockProbe
	if cfg.Cleanup.ScanOpenFiles {
		probe = cleaner.NewOpenFileProbe(logger, cleaner.NewLockProbe(), openFileCacheTTL)
	}

	c := cleaner.New(logger, policy, cleaner.Options{
		Probe:  probe,
		DryRun: cfg.Cleanup.DryRun,
	})
	targets := cleaner.TargetSet{
		SystemTemp: cfg.Cleanup.IncludeSystemTemp,
		Prefetch:   cfg.Cleanup.IncludePrefetch,
		Logs:       cfg.Cleanup.IncludeLogs,
		Extra:      cfg.Cleanup.Targets,
	}.Resolve()
	return c, targets
}

// NewNotifier 日志通知，配置了邮件时同时发送邮件
func NewNotifier(cfg *config.AppConfig, logger *zap.Logger) notifier.Notifier {
	notifiers := []notifier.Notifier{notifier.NewLogNotifier(logger)}
	if cfg.Mail != nil && cfg.Mail.Enabled {
		mail, err := notifier.NewMailNotifier(logger, *cfg.Mail)
		if err != nil {
			logger.Warn("邮件通知配置无效，仅记录日志", zap.Error(err))
		} else {
			notifiers = append(notifiers, mail)
		}
	}
	return notifier.NewMulti(logger, notifiers...)
}

// minSeverityNotifier 过滤低于指定级别的通知
type minSeverityNotifier struct {
	next notifier.Notifier
	min  models.Severity
}

func (n minSeverityNotifier) Notify(ctx context.Context, title, message string, severity models.Severity) error {
	if severity.Rank() < n.min.Rank() {
		return nil
	}
	return n.next.Notify(ctx, title, message, severity)
}

// New 创建代理并初始化所有组件
func New(cfg *config.AppConfig, logger *zap.Logger) (*Agent, error) {
	st, err := OpenStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	det, err := NewDetector(cfg, logger, st)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("创建检测器失败: %w", err)
	}

	minSeverity, err := models.ParseSeverity(cfg.Alert.NotifyMinSeverity)
	if err != nil {
		minSeverity = models.SeverityLow
	}
	notify := minSeverityNotifier{next: NewNotifier(cfg, logger), min: minSeverity}

	c, targets := NewCleaner(cfg, logger)
	orch, err := scheduler.New(logger, scheduler.Deps{
		Sampler:  collector.NewSystemCollector(cfg.Schedule.DiskPath),
		Idle:     collector.NewIdleProvider(),
		Store:    st,
		Analyzer: det,
		Rules:    svc.NewThresholdRules(cfg.Alert),
		Cleaner:  c,
		Targets:  targets,
		Notifier: notify,
	}, scheduler.Options{
		SampleInterval:    cfg.Schedule.SampleInterval,
		IdleCheckInterval: cfg.Schedule.IdleCheckInterval,
		IdleThreshold:     cfg.Schedule.IdleThreshold,
	})
	if err != nil {
		det.Close()
		_ = st.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := metrics.Register(registry); err != nil {
		det.Close()
		_ = st.Close()
		return nil, fmt.Errorf("注册指标失败: %w", err)
	}

	return &Agent{
		cfg:          cfg,
		logger:       logger,
		Store:        st,
		Detector:     det,
		Orchestrator: orch,
		registry:     registry,
	}, nil
}

// Start 加载模型，启动调度、管理接口和配置监听
func (a *Agent) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	// 模型加载失败不影响采样，预测时会再次尝试
	if err := a.Detector.LoadOrTrain(ctx); err != nil {
		a.logger.Warn("加载模型失败", zap.Error(err))
	}

	if err := a.Orchestrator.Start(ctx); err != nil {
		return err
	}

	if a.cfg.HTTP.Enabled {
		h := handler.NewHandler(a.logger, a.Store, a.Detector, a.Orchestrator)
		server := handler.NewServer(a.logger, a.cfg.HTTP.Address, h, a.registry)
		a.wg.Go(func() {
			if err := server.Run(ctx); err != nil {
				a.logger.Error("管理接口运行出错", zap.Error(err))
			}
		})
	}

	if a.cfg.Path != "" {
		watcher, err := config.NewWatcher(a.cfg.Path, a.logger, a.applyConfig)
		if err != nil {
			a.logger.Warn("无法监听配置文件，修改配置需重启", zap.Error(err))
		} else {
			a.wg.Go(func() {
				watcher.Run(ctx)
			})
		}
	}

	a.logger.Info("Warden 已启动",
		zap.String("database", a.cfg.Database.Path),
		zap.String("model", a.cfg.Model.Path))
	return nil
}

// applyConfig 热加载告警规则、清理规则和模型超参数
func (a *Agent) applyConfig(cfg *config.AppConfig) {
	a.Orchestrator.SetRules(svc.NewThresholdRules(cfg.Alert))

	c, targets := NewCleaner(cfg, a.logger)
	a.Orchestrator.SetCleanup(c, targets)

	params := a.Detector.Params()
	if cfg.Model.Contamination != params.Contamination || cfg.Model.Estimators != params.Estimators {
		contamination, estimators := cfg.Model.Contamination, cfg.Model.Estimators
		if err := a.Detector.ScheduleRetrain(&contamination, &estimators); err != nil {
			a.logger.Warn("新的模型超参数无效", zap.Error(err))
		}
	}
}

// Stop 停止所有组件，等待正在进行的维护结束
func (a *Agent) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.Orchestrator.Stop()
	a.wg.Wait()
	a.Detector.Close()
	if err := a.Store.Close(); err != nil {
		a.logger.Warn("关闭数据库失败", zap.Error(err))
	}
}
