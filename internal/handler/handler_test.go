package handler

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dushixiang/warden/internal/detector"
	"github.com/dushixiang/warden/internal/errs"
	"github.com/dushixiang/warden/internal/models"
	"github.com/dushixiang/warden/internal/scheduler"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type fakeReader struct {
	samples []models.SystemStat
	alerts  []models.Alert
	err     error
	count   int64
	days    int
	limit   int
}

func (f *fakeReader) HistoricalSamples(_ context.Context, windowDays int) iter.Seq2[models.SystemStat, error] {
	f.days = windowDays
	return func(yield func(models.SystemStat, error) bool) {
		if f.err != nil {
			yield(models.SystemStat{}, f.err)
			return
		}
		for _, s := range f.samples {
			if !yield(s, nil) {
				return
			}
		}
	}
}

func (f *fakeReader) RecentAlerts(_ context.Context, limit int) ([]models.Alert, error) {
	f.limit = limit
	return f.alerts, f.err
}

func (f *fakeReader) SampleCount(context.Context) (int64, error) {
	return f.count, f.err
}

type fakeModel struct {
	current     *detector.Model
	params      detector.Params
	trained     bool
	err         error
	evaluation  *detector.Evaluation
	lastUpdated *float64
}

func (f *fakeModel) Train(context.Context) (bool, error) { return f.trained, f.err }

func (f *fakeModel) UpdateHyperparameters(_ context.Context, contamination *float64, _ *int) (bool, error) {
	if contamination != nil && (*contamination <= 0 || *contamination > 0.5) {
		return false, errs.NewValidation("contamination", "越界")
	}
	f.lastUpdated = contamination
	return f.trained, f.err
}

func (f *fakeModel) Evaluate(context.Context) (*detector.Evaluation, error) {
	return f.evaluation, f.err
}
func (f *fakeModel) Current() *detector.Model { return f.current }
func (f *fakeModel) Params() detector.Params { return f.params }
func (f *fakeModel) Retraining() bool { return false }

type fakeMaintainer struct {
	busy bool
}

func (f *fakeMaintainer) TriggerMaintenance(context.Context) bool { return !f.busy }
func (f *fakeMaintainer) State() scheduler.State { return scheduler.StateIdle }

func newTestServer(reader *fakeReader, model *fakeModel, m *fakeMaintainer) http.Handler {
	h := NewHandler(zap.NewNop(), reader, model, m)
	return NewServer(zap.NewNop(), "127.0.0.1:0", h, prometheus.NewRegistry()).Handler()
}

func do(t *testing.T, srv http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("响应不是合法 JSON: %v", err)
		}
	}
	return rec, out
}

func TestListSamples(t *testing.T) {
	reader := &fakeReader{samples: []models.SystemStat{
		{ID: 1, CPU: 10, Timestamp: time.Now().Add(-time.Hour)},
		{ID: 2, CPU: 20, Timestamp: time.Now()},
	}}
	srv := newTestServer(reader, &fakeModel{}, &fakeMaintainer{})

	tests := []struct {
		query    string
		wantDays int
	}{
		{"", 7},
		{"?days=3", 3},
		{"?days=-1", 7},
		{"?days=abc", 7},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec, out := do(t, srv, http.MethodGet, "/api/samples"+tt.query, "")
			if rec.Code != http.StatusOK {
				t.Fatalf("状态码 = %d", rec.Code)
			}
			if reader.days != tt.wantDays {
				t.Errorf("查询天数 = %d, 期望 %d", reader.days, tt.wantDays)
			}
			if out["total"] != float64(2) {
				t.Errorf("total = %v", out["total"])
			}
		})
	}
}

func TestListSamplesError(t *testing.T) {
	reader := &fakeReader{err: errors.New("database is locked")}
	srv := newTestServer(reader, &fakeModel{}, &fakeMaintainer{})
	rec, _ := do(t, srv, http.MethodGet, "/api/samples", "")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("状态码 = %d", rec.Code)
	}
}

func TestListAlerts(t *testing.T) {
	reader := &fakeReader{alerts: []models.Alert{{ID: 1, Message: "CPU 使用率过高", Severity: models.SeverityHigh}}}
	srv := newTestServer(reader, &fakeModel{}, &fakeMaintainer{})

	rec, out := do(t, srv, http.MethodGet, "/api/alerts?limit=5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("状态码 = %d", rec.Code)
	}
	if reader.limit != 5 {
		t.Errorf("limit = %d", reader.limit)
	}
	items, _ := out["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("告警数 = %d", len(items))
	}
	if sev := items[0].(map[string]any)["severity"]; sev != "HIGH" {
		t.Errorf("severity = %v", sev)
	}
}

func TestTrain(t *testing.T) {
	model := &fakeModel{trained: false}
	srv := newTestServer(&fakeReader{}, model, &fakeMaintainer{})

	rec, out := do(t, srv, http.MethodPost, "/api/model/train", "")
	if rec.Code != http.StatusOK || out["trained"] != false {
		t.Errorf("空数据训练: %d %v", rec.Code, out)
	}

	model.err = errors.New("disk full")
	rec, _ = do(t, srv, http.MethodPost, "/api/model/train", "")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("训练失败状态码 = %d", rec.Code)
	}
}

func TestUpdateHyperparameters(t *testing.T) {
	model := &fakeModel{trained: true}
	srv := newTestServer(&fakeReader{}, model, &fakeMaintainer{})

	tests := []struct {
		name string
		body string
		want int
	}{
		{"合法", `{"contamination":0.1}`, http.StatusOK},
		{"越界", `{"contamination":0.9}`, http.StatusBadRequest},
		{"空请求", `{}`, http.StatusBadRequest},
		{"非法 JSON", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := do(t, srv, http.MethodPut, "/api/model/hyperparameters", tt.body)
			if rec.Code != tt.want {
				t.Errorf("状态码 = %d, 期望 %d", rec.Code, tt.want)
			}
		})
	}
	if model.lastUpdated == nil || *model.lastUpdated != 0.1 {
		t.Errorf("超参数未传递: %v", model.lastUpdated)
	}
}

func TestEvaluate(t *testing.T) {
	model := &fakeModel{}
	srv := newTestServer(&fakeReader{}, model, &fakeMaintainer{})

	rec, _ := do(t, srv, http.MethodGet, "/api/model/metrics", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("无模型时状态码 = %d", rec.Code)
	}

	model.evaluation = &detector.Evaluation{Precision: 0.5, Recall: 1, Samples: 10}
	rec, out := do(t, srv, http.MethodGet, "/api/model/metrics", "")
	if rec.Code != http.StatusOK || out["precision"] != 0.5 {
		t.Errorf("评估结果: %d %v", rec.Code, out)
	}
}

func TestGetModel(t *testing.T) {
	model := &fakeModel{params: detector.DefaultParams()}
	reader := &fakeReader{count: 30}
	srv := newTestServer(reader, model, &fakeMaintainer{})

	_, out := do(t, srv, http.MethodGet, "/api/model", "")
	if out["trained"] != false || out["storedSamples"] != float64(30) {
		t.Errorf("未训练时模型信息: %v", out)
	}

	model.current = &detector.Model{Version: "v1", TrainedAt: time.Now(), Samples: 12}
	_, out = do(t, srv, http.MethodGet, "/api/model", "")
	if out["version"] != "v1" || out["samples"] != float64(12) || out["storedSamples"] != float64(30) {
		t.Errorf("模型信息: %v", out)
	}

	reader.err = errs.NewStorage("sample_count", errors.New("disk I/O error"))
	rec, _ := do(t, srv, http.MethodGet, "/api/model", "")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("统计失败时状态码 = %d", rec.Code)
	}
}

func TestTriggerMaintenance(t *testing.T) {
	m := &fakeMaintainer{}
	srv := newTestServer(&fakeReader{}, &fakeModel{}, m)

	rec, _ := do(t, srv, http.MethodPost, "/api/maintenance", "")
	if rec.Code != http.StatusAccepted {
		t.Errorf("空闲时状态码 = %d", rec.Code)
	}

	m.busy = true
	rec, _ = do(t, srv, http.MethodPost, "/api/maintenance", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("维护中状态码 = %d", rec.Code)
	}
}

func TestStatusAndMetrics(t *testing.T) {
	srv := newTestServer(&fakeReader{}, &fakeModel{}, &fakeMaintainer{})

	_, out := do(t, srv, http.MethodGet, "/api/status", "")
	if out["state"] != "IDLE" {
		t.Errorf("state = %v", out["state"])
	}

	rec, _ := do(t, srv, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Errorf("/metrics 状态码 = %d", rec.Code)
	}
}

func TestRunShutdown(t *testing.T) {
	h := NewHandler(zap.NewNop(), &fakeReader{}, &fakeModel{}, &fakeMaintainer{})
	s := NewServer(zap.NewNop(), "127.0.0.1:0", h, prometheus.NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("关闭返回错误: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("关闭超时")
	}
}
