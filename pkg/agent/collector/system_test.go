package collector

import (
	"context"
	"math"
	"testing"
	"time"
)

func TestClampPercent(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{-0.5, 0},
		{0, 0},
		{42.5, 42.5},
		{100.0000001, 100},
		{math.NaN(), 0},
		{math.Inf(1), 100},
	}
	for _, tt := range tests {
		if got := clampPercent(tt.in); got != tt.want {
			t.Errorf("clampPercent(%v) = %v, 期望 %v", tt.in, got, tt.want)
		}
	}
}

func TestSystemCollectorSample(t *testing.T) {
	if testing.Short() {
		t.Skip("short 模式跳过真实采样")
	}
	c := NewSystemCollector("")
	c.cpuInterval = 100 * time.Millisecond

	usage, err := c.Sample(context.Background())
	if err != nil {
		t.Skipf("当前环境无法采样: %v", err)
	}
	for name, v := range map[string]float64{"cpu": usage.CPU, "ram": usage.RAM, "disk": usage.Disk} {
		if v < 0 || v > 100 {
			t.Errorf("%s = %v 超出 [0,100]", name, v)
		}
	}
}

func TestIdleProvider(t *testing.T) {
	idle, err := NewIdleProvider().IdleDuration(context.Background())
	if err != nil {
		t.Skipf("当前环境无法获取空闲时间: %v", err)
	}
	if idle < 0 {
		t.Errorf("空闲时长不应为负: %s", idle)
	}
}
