package cleaner

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

func writeFiles(t *testing.T, fs afero.Fs, paths ...string) {
	t.Helper()
	for _, p := range paths {
		if err := fs.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := afero.WriteFile(fs, p, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func exists(t *testing.T, fs afero.Fs, path string) bool {
	t.Helper()
	ok, err := afero.Exists(fs, path)
	if err != nil {
		t.Fatal(err)
	}
	return ok
}

func TestCleanRemovesFilesAndEmptyDirs(t *testing.T) {
	fs := afero.NewMemMapFs()
	root := filepath.Join(string(filepath.Separator), "cache")
	writeFiles(t, fs,
		filepath.Join(root, "a.txt"),
		filepath.Join(root, "sub", "b.txt"),
		filepath.Join(root, "sub", "deeper", "c.bin"),
	)
	if err := fs.MkdirAll(filepath.Join(root, "empty"), 0755); err != nil {
		t.Fatal(err)
	}

	c := New(zap.NewNop(), Policy{}, Options{Fs: fs})
	res, err := c.Clean(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}
	// 3 个文件 + sub、deeper、empty 三个目录
	if res.Removed != 6 {
		t.Errorf("删除数 = %d, 期望 6 (%+v)", res.Removed, res)
	}
	if !exists(t, fs, root) {
		t.Error("根目录不应被删除")
	}
	entries, _ := afero.ReadDir(fs, root)
	if len(entries) != 0 {
		t.Errorf("根目录应被清空, 剩余 %d 项", len(entries))
	}
}

func TestCleanExclusionAtDepth(t *testing.T) {
	fs := afero.NewMemMapFs()
	root := filepath.Join(string(filepath.Separator), "tmp")
	protected := filepath.Join(root, "a", "b", "Important")
	keep := []string{
		filepath.Join(protected, "x.txt"),
		filepath.Join(protected, "y", "z", "deep.txt"),
		filepath.Join(root, "a", "data.db"),
		filepath.Join(root, "q", "r", "s", "t", "archive.DB"),
	}
	remove := []string{
		filepath.Join(root, "a", "b", "c.txt"),
		filepath.Join(root, "other", "d.txt"),
	}
	writeFiles(t, fs, append(keep, remove...)...)

	policy := Policy{
		ExcludedPrefixes: []string{filepath.Join(root, "a", "b", "important")},
		ExcludedPatterns: []string{"*.db"},
	}
	c := New(zap.NewNop(), policy, Options{Fs: fs})
	if _, err := c.Clean(context.Background(), root); err != nil {
		t.Fatal(err)
	}

	for _, p := range keep {
		if !exists(t, fs, p) {
			t.Errorf("%s 命中排除规则, 不应被删除", p)
		}
	}
	for _, p := range remove {
		if exists(t, fs, p) {
			t.Errorf("%s 应被删除", p)
		}
	}
	// 含保留文件的目录不能删
	for _, dir := range []string{filepath.Join(root, "a"), filepath.Join(root, "a", "b"), filepath.Join(root, "q", "r", "s", "t")} {
		if !exists(t, fs, dir) {
			t.Errorf("非空目录 %s 被删除", dir)
		}
	}
	if exists(t, fs, filepath.Join(root, "other")) {
		t.Error("清空后的目录应被删除")
	}
}

func TestCleanIdempotent(t *testing.T) {
	fs := afero.NewMemMapFs()
	root := filepath.Join(string(filepath.Separator), "tmp")
	writeFiles(t, fs,
		filepath.Join(root, "a.txt"),
		filepath.Join(root, "keep.db"),
		filepath.Join(root, "x", "y.txt"),
	)
	c := New(zap.NewNop(), Policy{ExcludedPatterns: []string{"*.db"}}, Options{Fs: fs})

	first, err := c.Clean(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}
	if first.Removed == 0 {
		t.Fatal("第一次清理应删除文件")
	}
	second, err := c.Clean(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}
	if second.Removed != 0 {
		t.Errorf("第二次清理删除数 = %d, 期望 0", second.Removed)
	}
}

func TestCleanDryRun(t *testing.T) {
	build := func() afero.Fs {
		fs := afero.NewMemMapFs()
		writeFiles(t, fs,
			filepath.Join("/tmp", "a.txt"),
			filepath.Join("/tmp", "d", "b.txt"),
			filepath.Join("/tmp", "d", "keep.log"),
			filepath.Join("/tmp", "e", "c.txt"),
		)
		return fs
	}
	policy := Policy{ExcludedPatterns: []string{"*.log"}}

	dryFs := build()
	dry, err := New(zap.NewNop(), policy, Options{Fs: dryFs, DryRun: true}).Clean(context.Background(), "/tmp")
	if err != nil {
		t.Fatal(err)
	}
	if !exists(t, dryFs, filepath.Join("/tmp", "a.txt")) || !exists(t, dryFs, filepath.Join("/tmp", "e", "c.txt")) {
		t.Error("dry run 不应删除任何文件")
	}

	realFs := build()
	actual, err := New(zap.NewNop(), policy, Options{Fs: realFs}).Clean(context.Background(), "/tmp")
	if err != nil {
		t.Fatal(err)
	}
	if dry != actual {
		t.Errorf("dry run 统计 %+v 与实际 %+v 不一致", dry, actual)
	}
	// a.txt, b.txt, c.txt, e
	if actual.Removed != 4 {
		t.Errorf("删除数 = %d, 期望 4", actual.Removed)
	}
}

func TestCleanFailsClosed(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, filepath.Join("/protected", "important", "a.txt"))

	c := New(zap.NewNop(), Policy{ExcludedPrefixes: []string{filepath.Join("/protected", "important")}}, Options{Fs: fs})

	res, err := c.Clean(context.Background(), "/does/not/exist")
	if err != nil || res != (Result{}) {
		t.Errorf("不存在的目录应返回零值: %+v, %v", res, err)
	}

	res, err = c.Clean(context.Background(), filepath.Join("/protected", "important"))
	if err != nil || res != (Result{}) {
		t.Errorf("被排除的根目录应返回零值: %+v, %v", res, err)
	}
	if !exists(t, fs, filepath.Join("/protected", "important", "a.txt")) {
		t.Error("被排除目录下的文件不应删除")
	}
}

// flipProbe 第 n 次起探测到指定文件被占用
type flipProbe struct {
	mu     sync.Mutex
	target string
	after  int
	calls  int
}

func (p *flipProbe) Locked(path string) (bool, error) {
	if path != p.target {
		return false, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.calls > p.after, nil
}

func TestCleanRechecksBeforeDelete(t *testing.T) {
	fs := afero.NewMemMapFs()
	target := filepath.Join("/tmp", "d", "busy.bin")
	writeFiles(t, fs, target, filepath.Join("/tmp", "d", "free.bin"))

	// 发现时空闲，删除前已被占用
	probe := &flipProbe{target: target, after: 1}
	res, err := New(zap.NewNop(), Policy{}, Options{Fs: fs, Probe: probe}).Clean(context.Background(), "/tmp")
	if err != nil {
		t.Fatal(err)
	}
	if !exists(t, fs, target) {
		t.Fatal("删除前被占用的文件不应删除")
	}
	if probe.calls != 2 {
		t.Errorf("应探测 2 次 (发现 + 删除前), 实际 %d", probe.calls)
	}
	if !exists(t, fs, filepath.Join("/tmp", "d")) {
		t.Error("仍含文件的目录不应删除")
	}
	if res.Removed != 1 || res.Skipped != 1 {
		t.Errorf("统计错误: %+v", res)
	}
}

func TestCleanLockedViaProbe(t *testing.T) {
	fs := afero.NewMemMapFs()
	target := filepath.Join("/tmp", "held.txt")
	writeFiles(t, fs, target)

	var (
		mu     sync.Mutex
		locked = true
	)
	probe := LockProbeFunc(func(path string) (bool, error) {
		mu.Lock()
		defer mu.Unlock()
		return path == target && locked, nil
	})
	c := New(zap.NewNop(), Policy{}, Options{Fs: fs, Probe: probe})

	res, err := c.Clean(context.Background(), "/tmp")
	if err != nil {
		t.Fatal(err)
	}
	if res.Removed != 0 || !exists(t, fs, target) {
		t.Fatalf("被占用的文件不应删除: %+v", res)
	}

	mu.Lock()
	locked = false
	mu.Unlock()

	res, err = c.Clean(context.Background(), "/tmp")
	if err != nil {
		t.Fatal(err)
	}
	if res.Removed != 1 || exists(t, fs, target) {
		t.Fatalf("释放后应被删除: %+v", res)
	}
}

func TestCleanCancelled(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, filepath.Join("/tmp", "a.txt"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := New(zap.NewNop(), Policy{}, Options{Fs: fs}).Clean(ctx, "/tmp")
	if err == nil {
		t.Fatal("已取消的 context 应返回错误")
	}
	if res.Removed != 0 || !exists(t, fs, filepath.Join("/tmp", "a.txt")) {
		t.Error("取消后不应再删除")
	}
}

func TestCleanTargets(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs,
		filepath.Join("/t1", "a.txt"),
		filepath.Join("/t2", "b.txt"),
		filepath.Join("/t2", "c.txt"),
	)
	res, err := New(zap.NewNop(), Policy{}, Options{Fs: fs}).CleanTargets(context.Background(), []string{"/t1", "/t2", "/missing"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Count() != 3 {
		t.Errorf("总删除数 = %d, 期望 3", res.Count())
	}
}

func TestTargetSetResolve(t *testing.T) {
	extra := filepath.Join(os.TempDir(), "warden-extra")
	dirs := TargetSet{SystemTemp: true, Extra: []string{extra, extra}}.Resolve()
	if len(dirs) == 0 || dirs[0] != filepath.Clean(os.TempDir()) {
		t.Fatalf("应包含系统临时目录: %v", dirs)
	}
	count := 0
	for _, d := range dirs {
		if d == extra {
			count++
		}
	}
	if count != 1 {
		t.Errorf("目录应去重: %v", dirs)
	}
	if got := (TargetSet{}).Resolve(); len(got) != 0 {
		t.Errorf("空目标应返回空列表: %v", got)
	}
}

func TestCleanSystemTemp(t *testing.T) {
	fs := afero.NewMemMapFs()
	dirs := SystemTempDirs()
	writeFiles(t, fs, filepath.Join(dirs[0], "warden-test", "f.tmp"))

	c := New(zap.NewNop(), Policy{}, Options{Fs: fs})
	res, err := c.CleanSystemTemp(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	// 一个文件加一个目录；不存在的临时目录直接跳过
	if res.Removed != 2 {
		t.Errorf("删除数 = %d, 期望 2 (%+v)", res.Removed, res)
	}
	if !exists(t, fs, dirs[0]) {
		t.Error("临时目录本身不应被删除")
	}
}
