package errs

import (
	"errors"
	"fmt"

	goerrors "github.com/go-errors/errors"
	"go.uber.org/zap"
)

// ErrModelUnavailable 没有可用于训练的数据，属于正常的空操作
var ErrModelUnavailable = errors.New("模型不可用: 暂无训练数据")

// ValidationError 输入校验失败（指标越界、未知的告警级别），调用方不应原样重试
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "参数校验失败: " + e.Reason
	}
	return fmt.Sprintf("参数校验失败: %s %s", e.Field, e.Reason)
}

// NewValidation 创建校验错误
func NewValidation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// StorageError 持久化存储 I/O 失败
type StorageError struct {
	Op  string
	Err error

	stack *goerrors.Error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("存储操作失败 [%s]: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Stack 返回错误发生处的调用栈，用于日志排查
func (e *StorageError) Stack() string {
	if e.stack == nil {
		return ""
	}
	return string(e.stack.Stack())
}

// NewStorage 包装存储错误并记录调用栈；err 为 nil 时返回 nil
func NewStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err, stack: goerrors.Wrap(err, 1)}
}

// StackOf 错误链中存储错误的调用栈，没有时返回空串
func StackOf(err error) string {
	var se *StorageError
	if !errors.As(err, &se) {
		return ""
	}
	return se.Stack()
}

// StackField 调用栈日志字段，没有调用栈时不输出
func StackField(err error) zap.Field {
	if stack := StackOf(err); stack != "" {
		return zap.String("stack", stack)
	}
	return zap.Skip()
}

// FilesystemSkip 单个文件或目录无法删除，只记录并计数
type FilesystemSkip struct {
	Path string
	Err  error
}

func (e *FilesystemSkip) Error() string {
	return fmt.Sprintf("跳过 %s: %v", e.Path, e.Err)
}

func (e *FilesystemSkip) Unwrap() error {
	return e.Err
}

// IsValidation 判断是否为校验错误
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsStorage 判断是否为存储错误
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// IsFilesystemSkip 判断是否为单项跳过
func IsFilesystemSkip(err error) bool {
	var fe *FilesystemSkip
	return errors.As(err, &fe)
}
