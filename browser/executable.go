package browser

import (
	"os"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// lookPath / download 便于测试替换
var (
	lookPath = launcher.LookPath
	download = func() (string, error) { return launcher.NewBrowser().Get() }
)

// ResolveExecutable 解析浏览器可执行文件路径。
// 优先级：显式路径 > ROD_BROWSER_BIN > 系统已安装的浏览器 > 下载默认浏览器。
func ResolveExecutable(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", errors.Wrapf(ErrExecutableNotFound, "%s", explicit)
		}
		return explicit, nil
	}

	if env := os.Getenv("ROD_BROWSER_BIN"); env != "" {
		if _, err := os.Stat(env); err == nil {
			return env, nil
		}
		logrus.WithField("bin", env).Warn("ROD_BROWSER_BIN 指向的文件不存在，继续查找")
	}

	if path, ok := lookPath(); ok {
		return path, nil
	}

	logrus.Info("no browser binary specified, downloading default...")
	path, err := download()
	if err != nil {
		return "", errors.Wrapf(ErrExecutableNotFound, "download browser: %v", err)
	}
	return path, nil
}
