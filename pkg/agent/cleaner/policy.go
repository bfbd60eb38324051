package cleaner

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Policy 清理排除规则，清理过程中只读
type Policy struct {
	// ExcludedPrefixes 路径中包含任一项（不区分大小写）即排除
	ExcludedPrefixes []string `json:"excludedPrefixes"`
	// ExcludedPatterns 文件名匹配任一通配符（不区分大小写）即排除
	ExcludedPatterns []string `json:"excludedPatterns"`
}

// DefaultPatterns 默认排除的文件类型
var DefaultPatterns = []string{
	"*.dll", "*.exe", "*.sys", "*.bat",
	"*.tmp", "*.log", "*.db", "*.dat",
	"*.mkd", "*.ps1", "*.vbs", "*.js",
}

// DefaultPolicy 默认排除规则：系统关键目录和可执行/数据类文件
func DefaultPolicy() Policy {
	prefixes := []string{filepath.Join(os.TempDir(), "important")}

	if runtime.GOOS == "windows" {
		systemRoot := envOr("SystemRoot", `C:\Windows`)
		prefixes = append(prefixes,
			filepath.Join(systemRoot, "Prefetch", "Critical"),
			filepath.Join(systemRoot, "Temp", "SystemLogs"),
			filepath.Join(systemRoot, "System32"),
			envOr("ProgramFiles", `C:\Program Files`),
			envOr("ProgramFiles(x86)", `C:\Program Files (x86)`),
		)
	} else {
		// 以分隔符结尾，避免误伤 /tmp/libs 之类的目录
		for _, dir := range []string{"/proc", "/sys", "/dev", "/boot", "/etc", "/usr", "/bin", "/sbin", "/lib"} {
			prefixes = append(prefixes, dir+"/")
		}
	}

	return Policy{
		ExcludedPrefixes: prefixes,
		ExcludedPatterns: append([]string(nil), DefaultPatterns...),
	}
}

// Merge 合并两组规则
func (p Policy) Merge(other Policy) Policy {
	return Policy{
		ExcludedPrefixes: append(append([]string(nil), p.ExcludedPrefixes...), other.ExcludedPrefixes...),
		ExcludedPatterns: append(append([]string(nil), p.ExcludedPatterns...), other.ExcludedPatterns...),
	}
}

// Excluded 路径是否命中排除规则
// 前缀按子串匹配，匹配前在路径末尾补一个分隔符，使 "/proc/" 也能命中 "/proc" 本身
func (p Policy) Excluded(path string) bool {
	lower := strings.ToLower(filepath.Clean(path)) + string(filepath.Separator)
	for _, prefix := range p.ExcludedPrefixes {
		if prefix == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(prefix)) {
			return true
		}
	}

	name := strings.ToLower(filepath.Base(path))
	for _, pattern := range p.ExcludedPatterns {
		if ok, err := filepath.Match(strings.ToLower(pattern), name); err == nil && ok {
			return true
		}
	}
	return false
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
