package service

import (
	"context"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dushixiang/warden/internal/errs"
	"github.com/dushixiang/warden/internal/models"
	"github.com/dushixiang/warden/internal/store"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newTestStore(t *testing.T) *MetricsStore {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "metrics.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("打开数据库失败: %v", err)
	}
	s := NewMetricsStore(zap.NewNop(), db)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInsertSampleRejectsOutOfRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	bad := []struct {
		name           string
		cpu, ram, disk float64
		errors         int
	}{
		{"cpu 超过 100", 100.1, 10, 10, 0},
		{"ram 为负", 10, -0.5, 10, 0},
		{"disk 超过 100", 10, 10, 250, 0},
		{"NaN", math.NaN(), 10, 10, 0},
		{"Inf", 10, math.Inf(1), 10, 0},
		{"错误数为负", 10, 10, 10, -1},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.InsertSample(ctx, tt.cpu, tt.ram, tt.disk, tt.errors)
			if !errs.IsValidation(err) {
				t.Fatalf("期望 ValidationError, 实际 %v", err)
			}
		})
	}

	all, err := s.AllSamples(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Fatalf("非法采样不应落库, 实际 %d 条", len(all))
	}

	// 边界值合法
	if _, err := s.InsertSample(ctx, 0, 100, 100, 0); err != nil {
		t.Fatalf("边界值应合法: %v", err)
	}
}

func TestHistoricalSamplesWindowAndOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	inserts := []time.Time{
		now.Add(-10 * 24 * time.Hour), // 窗口外
		now.Add(-2 * time.Hour),
		now.Add(-6 * 24 * time.Hour),
		now.Add(-1 * time.Minute),
	}
	for i, ts := range inserts {
		ts := ts
		s.SetClock(func() time.Time { return ts })
		if _, err := s.InsertSample(ctx, float64(i*10), 10, 10, 0); err != nil {
			t.Fatalf("写入失败: %v", err)
		}
	}
	s.SetClock(func() time.Time { return now })

	var got []models.SystemStat
	for stat, err := range s.HistoricalSamples(ctx, 7) {
		if err != nil {
			t.Fatalf("遍历失败: %v", err)
		}
		got = append(got, stat)
	}

	if len(got) != 3 {
		t.Fatalf("7 天窗口内应有 3 条, 实际 %d", len(got))
	}
	cutoff := now.Add(-7 * 24 * time.Hour)
	for i, stat := range got {
		if stat.Timestamp.Before(cutoff) {
			t.Errorf("第 %d 条超出窗口: %s", i, stat.Timestamp)
		}
		if i > 0 && stat.Timestamp.Before(got[i-1].Timestamp) {
			t.Errorf("时间未按升序: %s 在 %s 之后", stat.Timestamp, got[i-1].Timestamp)
		}
	}

	// 再次遍历能看到新数据
	if _, err := s.InsertSample(ctx, 1, 1, 1, 0); err != nil {
		t.Fatal(err)
	}
	count := 0
	for _, err := range s.HistoricalSamples(ctx, 7) {
		if err != nil {
			t.Fatal(err)
		}
		count++
	}
	if count != 4 {
		t.Errorf("重新遍历应有 4 条, 实际 %d", count)
	}
}

func TestHistoricalSamplesPaging(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second).Add(-time.Hour)
	// 同一时间戳的多行也要靠 id 正确翻页
	s.SetClock(func() time.Time { return base })
	total := historyPageSize + 25
	for i := 0; i < total; i++ {
		if _, err := s.InsertSample(ctx, 1, 1, 1, 0); err != nil {
			t.Fatal(err)
		}
	}
	s.SetClock(func() time.Time { return time.Now().UTC() })

	seen := make(map[uint]bool)
	for stat, err := range s.HistoricalSamples(ctx, 1) {
		if err != nil {
			t.Fatal(err)
		}
		if seen[stat.ID] {
			t.Fatalf("重复返回 id=%d", stat.ID)
		}
		seen[stat.ID] = true
	}
	if len(seen) != total {
		t.Fatalf("分页结果 %d 条, 期望 %d", len(seen), total)
	}
}

func TestInsertAlertSeverity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alert, err := s.InsertAlert(ctx, "磁盘空间不足", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if alert.Severity != models.SeverityMedium {
		t.Errorf("默认级别 = %s, 期望 MEDIUM", alert.Severity)
	}

	if _, err := s.InsertAlert(ctx, "test", "CRITICAL", nil); !errs.IsValidation(err) {
		t.Fatalf("未知级别应返回 ValidationError, 实际 %v", err)
	}
	if _, err := s.InsertAlert(ctx, "  ", "HIGH", nil); !errs.IsValidation(err) {
		t.Fatalf("空消息应返回 ValidationError, 实际 %v", err)
	}

	alerts, err := s.RecentAlerts(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 1 {
		t.Fatalf("只应保存 1 条告警, 实际 %d", len(alerts))
	}
}

func TestRecentAlertsAndCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	offsets := []time.Duration{-3 * time.Hour, -50 * time.Minute, -10 * time.Minute}
	for i, off := range offsets {
		ts := now.Add(off)
		s.SetClock(func() time.Time { return ts })
		if _, err := s.InsertAlert(ctx, "alert", "high", map[string]any{"i": i}); err != nil {
			t.Fatal(err)
		}
	}
	s.SetClock(func() time.Time { return now })

	count, err := s.CountRecentAlerts(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("最近 1 小时告警数 = %d, 期望 2", count)
	}

	alerts, err := s.RecentAlerts(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 2 {
		t.Fatalf("limit=2 返回 %d 条", len(alerts))
	}
	if !alerts[0].Timestamp.After(alerts[1].Timestamp) {
		t.Errorf("应按时间倒序: %s, %s", alerts[0].Timestamp, alerts[1].Timestamp)
	}
	if alerts[0].Severity != models.SeverityHigh {
		t.Errorf("级别应规范为大写 HIGH, 实际 %s", alerts[0].Severity)
	}
}

func TestConcurrentWrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.InsertSample(ctx, float64(i), 50, 50, 0); err != nil {
				t.Errorf("并发写入失败: %v", err)
			}
			if _, err := s.InsertAlert(ctx, "并发", "LOW", nil); err != nil {
				t.Errorf("并发写入告警失败: %v", err)
			}
		}(i)
	}
	wg.Wait()

	all, err := s.AllSamples(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 20 {
		t.Errorf("采样数 = %d, 期望 20", len(all))
	}
}

func TestWriteFailureLogsStack(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "metrics.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("打开数据库失败: %v", err)
	}
	core, logs := observer.New(zap.ErrorLevel)
	s := NewMetricsStore(zap.New(core), db)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	_, err = s.InsertSample(context.Background(), 10, 20, 30, 0)
	if !errs.IsStorage(err) {
		t.Fatalf("数据库关闭后写入应返回存储错误: %v", err)
	}

	entries := logs.FilterMessage("写入数据库失败").All()
	if len(entries) != 1 {
		t.Fatalf("错误日志数 = %d", len(entries))
	}
	stack, _ := entries[0].ContextMap()["stack"].(string)
	if !strings.Contains(stack, "metrics_store.go") {
		t.Errorf("错误日志应带调用栈, 实际 %q", stack)
	}
}

func TestSampleCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if n, err := s.SampleCount(ctx); err != nil || n != 0 {
		t.Fatalf("空库采样数 = %d, %v", n, err)
	}
	for i := 0; i < 3; i++ {
		if _, err := s.InsertSample(ctx, 10, 20, 30, 0); err != nil {
			t.Fatal(err)
		}
	}
	if n, err := s.SampleCount(ctx); err != nil || n != 3 {
		t.Errorf("采样数 = %d, %v", n, err)
	}
}
