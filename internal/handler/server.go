package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// Server 本地管理 HTTP 服务
type Server struct {
	logger  *zap.Logger
	address string
	echo    *echo.Echo
}

// NewServer 创建服务，/api 下为管理接口，/metrics 为 prometheus 指标
func NewServer(logger *zap.Logger, address string, h *Handler, gatherer prometheus.Gatherer) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	h.Register(e.Group("/api"))
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	return &Server{
		logger:  logger,
		address: address,
		echo:    e,
	}
}

// Handler 底层 http.Handler
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run 监听直到 ctx 取消
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("管理接口已启动", zap.String("address", s.address))
		errCh <- s.echo.Start(s.address)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("关闭管理接口失败", zap.Error(err))
		return err
	}
	s.logger.Info("管理接口已关闭")
	return nil
}
