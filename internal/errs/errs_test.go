package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestStorageErrorWrap(t *testing.T) {
	if NewStorage("insert", nil) != nil {
		t.Fatal("nil 错误不应被包装")
	}

	base := errors.New("disk I/O error")
	err := NewStorage("insert", base)
	if !IsStorage(err) {
		t.Fatalf("应该识别为存储错误: %v", err)
	}
	if !errors.Is(err, base) {
		t.Error("Unwrap 应该返回原始错误")
	}
	if !strings.Contains(err.Error(), "insert") {
		t.Errorf("错误信息应包含操作名: %s", err.Error())
	}

	var se *StorageError
	errors.As(err, &se)
	if se.Stack() == "" {
		t.Error("应该记录调用栈")
	}

	// 重复包装保持原样
	again := NewStorage("outer", fmt.Errorf("wrap: %w", err))
	if !errors.As(again, &se) || se.Op != "insert" {
		t.Errorf("已经是存储错误时不应再次包装, op=%s", se.Op)
	}
}

func TestKinds(t *testing.T) {
	v := NewValidation("cpu", "必须在 0 到 100 之间")
	if !IsValidation(v) || IsStorage(v) {
		t.Errorf("校验错误识别错误: %v", v)
	}

	skip := &FilesystemSkip{Path: "/tmp/a", Err: errors.New("permission denied")}
	if !IsFilesystemSkip(fmt.Errorf("clean: %w", skip)) {
		t.Error("应该识别为跳过错误")
	}
	if IsValidation(ErrModelUnavailable) {
		t.Error("ErrModelUnavailable 不是校验错误")
	}
}

func TestStackOf(t *testing.T) {
	err := fmt.Errorf("保存采样失败: %w", NewStorage("insert_sample", errors.New("disk I/O error")))
	if !strings.Contains(StackOf(err), "errs_test.go") {
		t.Errorf("调用栈应包含调用位置:\n%s", StackOf(err))
	}
	if f := StackField(err); f.Key != "stack" || f.Type != zapcore.StringType {
		t.Errorf("日志字段 = %+v", f)
	}

	plain := errors.New("permission denied")
	if StackOf(plain) != "" {
		t.Error("非存储错误没有调用栈")
	}
	if f := StackField(plain); f.Type != zapcore.SkipType {
		t.Errorf("没有调用栈时应省略字段, 实际 %+v", f)
	}
}
