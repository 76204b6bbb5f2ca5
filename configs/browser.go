package configs

import "sync"

var (
	mu          sync.RWMutex
	useHeadless = true
	binPath     = ""
)

// InitHeadless 设置是否以无头模式启动浏览器
func InitHeadless(h bool) {
	mu.Lock()
	defer mu.Unlock()
	useHeadless = h
}

// IsHeadless 是否无头模式
func IsHeadless() bool {
	mu.RLock()
	defer mu.RUnlock()
	return useHeadless
}

// SetBinPath 设置浏览器可执行文件路径
func SetBinPath(b string) {
	mu.Lock()
	defer mu.Unlock()
	binPath = b
}

// GetBinPath 浏览器可执行文件路径，空表示自动查找
func GetBinPath() string {
	mu.RLock()
	defer mu.RUnlock()
	return binPath
}
