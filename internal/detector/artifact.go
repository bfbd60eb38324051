package detector

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketModel = []byte("model")
	keyCurrent  = []byte("current")

	errArtifactMissing = errors.New("模型文件不存在")
)

// Artifact 模型持久化文件（bbolt），整体替换在单个事务内完成
type Artifact struct {
	path string
}

// NewArtifact 创建模型文件句柄
func NewArtifact(path string) *Artifact {
	return &Artifact{path: path}
}

// Path 文件路径
func (a *Artifact) Path() string {
	return a.path
}

func (a *Artifact) open(readOnly bool) (*bbolt.DB, error) {
	return bbolt.Open(a.path, 0600, &bbolt.Options{
		Timeout:  time.Second,
		ReadOnly: readOnly,
	})
}

// Save 写入模型，替换旧模型
func (a *Artifact) Save(m *Model) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("序列化模型失败: %w", err)
	}
	if dir := filepath.Dir(a.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建模型目录失败: %w", err)
		}
	}

	db, err := a.open(false)
	if err != nil {
		return fmt.Errorf("打开模型文件失败: %w", err)
	}
	defer db.Close()

	return db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketModel)
		if err != nil {
			return err
		}
		return b.Put(keyCurrent, data)
	})
}

// Load 读取模型；文件不存在返回 errArtifactMissing，其余错误都视为文件损坏
func (a *Artifact) Load() (*Model, error) {
	if _, err := os.Stat(a.path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errArtifactMissing
		}
		return nil, err
	}

	db, err := a.open(true)
	if err != nil {
		return nil, fmt.Errorf("打开模型文件失败: %w", err)
	}
	defer db.Close()

	var m Model
	err = db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketModel)
		if b == nil {
			return fmt.Errorf("缺少 %s bucket", bucketModel)
		}
		data := b.Get(keyCurrent)
		if data == nil {
			return fmt.Errorf("缺少模型数据")
		}
		return json.Unmarshal(data, &m)
	})
	if err != nil {
		return nil, fmt.Errorf("读取模型失败: %w", err)
	}
	if err := m.check(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Discard 删除损坏的模型文件
func (a *Artifact) Discard() error {
	if err := os.Remove(a.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
