package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dushixiang/warden/internal/config"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"INFO":    zapcore.InfoLevel,
		"Warn":    zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"verbose": zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %s, 期望 %s", in, got, want)
		}
	}
}

func TestInitLoggerFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warden.log")
	logger := InitLogger(config.LogConfig{Level: "warn", File: path, MaxSize: 1})

	logger.Info("不应写入")
	logger.Warn("磁盘空间不足")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	if strings.Contains(content, "不应写入") {
		t.Error("低于配置级别的日志被写入")
	}
	if !strings.Contains(content, "磁盘空间不足") {
		t.Errorf("日志内容缺失: %s", content)
	}
}
