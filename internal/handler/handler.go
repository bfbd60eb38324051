package handler

import (
	"context"
	"iter"
	"net/http"
	"strconv"
	"time"

	"github.com/dushixiang/warden/internal/detector"
	"github.com/dushixiang/warden/internal/errs"
	"github.com/dushixiang/warden/internal/models"
	"github.com/dushixiang/warden/internal/scheduler"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const (
	defaultHistoryDays = 7
	maxHistoryDays     = 365
	defaultAlertLimit  = 50
	maxAlertLimit      = 1000
)

// SampleReader 历史数据查询
type SampleReader interface {
	HistoricalSamples(ctx context.Context, windowDays int) iter.Seq2[models.SystemStat, error]
	RecentAlerts(ctx context.Context, limit int) ([]models.Alert, error)
	SampleCount(ctx context.Context) (int64, error)
}

// ModelManager 模型管理
type ModelManager interface {
	Train(ctx context.Context) (bool, error)
	UpdateHyperparameters(ctx context.Context, contamination *float64, estimators *int) (bool, error)
	Evaluate(ctx context.Context) (*detector.Evaluation, error)
	Current() *detector.Model
	Params() detector.Params
	Retraining() bool
}

// Maintainer 维护触发
type Maintainer interface {
	TriggerMaintenance(ctx context.Context) bool
	State() scheduler.State
}

// Handler 本地管理接口
type Handler struct {
	logger     *zap.Logger
	store      SampleReader
	model      ModelManager
	maintainer Maintainer
}

// NewHandler 创建处理器
func NewHandler(logger *zap.Logger, store SampleReader, model ModelManager, maintainer Maintainer) *Handler {
	return &Handler{
		logger:     logger,
		store:      store,
		model:      model,
		maintainer: maintainer,
	}
}

// Register 注册路由
func (h *Handler) Register(g *echo.Group) {
	g.GET("/samples", h.ListSamples)
	g.GET("/alerts", h.ListAlerts)
	g.GET("/status", h.Status)
	g.GET("/model", h.GetModel)
	g.POST("/model/train", h.Train)
	g.PUT("/model/hyperparameters", h.UpdateHyperparameters)
	g.GET("/model/metrics", h.Evaluate)
	g.POST("/maintenance", h.TriggerMaintenance)
}

// ListSamples 查询历史采样
// GET /api/samples?days=7
func (h *Handler) ListSamples(c echo.Context) error {
	days, _ := strconv.Atoi(c.QueryParam("days"))
	if days < 1 || days > maxHistoryDays {
		days = defaultHistoryDays
	}

	items := make([]models.SystemStat, 0)
	for s, err := range h.store.HistoricalSamples(c.Request().Context(), days) {
		if err != nil {
			h.logger.Error("查询历史采样失败", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, map[string]string{
				"error": "查询失败",
			})
		}
		items = append(items, s)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"items": items,
		"total": len(items),
		"days":  days,
	})
}

// ListAlerts 查询最近的告警
// GET /api/alerts?limit=50
func (h *Handler) ListAlerts(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit < 1 || limit > maxAlertLimit {
		limit = defaultAlertLimit
	}

	alerts, err := h.store.RecentAlerts(c.Request().Context(), limit)
	if err != nil {
		h.logger.Error("查询告警失败", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "查询失败",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"items": alerts,
		"total": len(alerts),
	})
}

// Status 运行状态
// GET /api/status
func (h *Handler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"state":      h.maintainer.State().String(),
		"retraining": h.model.Retraining(),
	})
}

// GetModel 当前模型信息，storedSamples 为下一次训练可用的样本数
// GET /api/model
func (h *Handler) GetModel(c echo.Context) error {
	stored, err := h.store.SampleCount(c.Request().Context())
	if err != nil {
		h.logger.Error("统计采样数失败", zap.Error(err), errs.StackField(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "查询失败",
		})
	}

	m := h.model.Current()
	if m == nil {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"trained":       false,
			"params":        h.model.Params(),
			"retraining":    h.model.Retraining(),
			"storedSamples": stored,
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"trained":       true,
		"version":       m.Version,
		"trainedAt":     m.TrainedAt.Format(time.RFC3339),
		"samples":       m.Samples,
		"threshold":     m.Threshold,
		"params":        m.Params,
		"retraining":    h.model.Retraining(),
		"storedSamples": stored,
	})
}

// Train 立即重新训练
// POST /api/model/train
func (h *Handler) Train(c echo.Context) error {
	trained, err := h.model.Train(c.Request().Context())
	if err != nil {
		h.logger.Error("训练模型失败", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "训练失败",
		})
	}

	message := "训练完成"
	if !trained {
		message = "暂无训练数据"
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": message,
		"trained": trained,
	})
}

// UpdateHyperparameters 更新超参数并重新训练
// PUT /api/model/hyperparameters
func (h *Handler) UpdateHyperparameters(c echo.Context) error {
	var req struct {
		Contamination *float64 `json:"contamination"`
		Estimators    *int     `json:"estimators"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "请求参数错误",
		})
	}
	if req.Contamination == nil && req.Estimators == nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "至少需要指定一个超参数",
		})
	}

	trained, err := h.model.UpdateHyperparameters(c.Request().Context(), req.Contamination, req.Estimators)
	if err != nil {
		if errs.IsValidation(err) {
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
		}
		h.logger.Error("更新超参数失败", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "更新失败",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "超参数已更新",
		"trained": trained,
		"params":  h.model.Params(),
	})
}

// Evaluate 模型评估指标
// GET /api/model/metrics
func (h *Handler) Evaluate(c echo.Context) error {
	evaluation, err := h.model.Evaluate(c.Request().Context())
	if err != nil {
		h.logger.Error("评估模型失败", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "评估失败",
		})
	}
	if evaluation == nil {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "模型或数据不可用",
		})
	}
	return c.JSON(http.StatusOK, evaluation)
}

// TriggerMaintenance 触发一次维护
// POST /api/maintenance
func (h *Handler) TriggerMaintenance(c echo.Context) error {
	if !h.maintainer.TriggerMaintenance(c.Request().Context()) {
		return c.JSON(http.StatusConflict, map[string]string{
			"error": "维护正在进行",
		})
	}
	return c.JSON(http.StatusAccepted, map[string]string{
		"message": "维护已开始",
	})
}
