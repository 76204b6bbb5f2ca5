package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/h2non/filetype"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const screenshotTimeout = 10 * time.Second

// SaveScreenshot 保存调试截图，返回截图路径。
// 用于任务最终失败时离线排查选择器漂移，截图本身有独立的超时，不依赖任务 context。
func SaveScreenshot(s Session, dir, name string) (string, error) {
	if s == nil {
		return "", errors.New("nil session")
	}
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "livepilot", "screenshots")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrapf(err, "create screenshot dir %s", dir)
	}

	ctx, cancel := context.WithTimeout(context.Background(), screenshotTimeout)
	defer cancel()

	data, err := s.Screenshot(ctx)
	if err != nil {
		return "", errors.Wrap(err, "capture screenshot")
	}
	return writeScreenshot(dir, name, data)
}

func writeScreenshot(dir, name string, data []byte) (string, error) {
	ext := "png"
	if kind, err := filetype.Match(data); err == nil && kind != filetype.Unknown {
		if !strings.HasPrefix(kind.MIME.Value, "image/") {
			return "", errors.Errorf("screenshot is not an image: %s", kind.MIME.Value)
		}
		ext = kind.Extension
	}

	filename := fmt.Sprintf("%s_%s.%s", sanitize(name), time.Now().Format("20060102_150405"), ext)
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", errors.Wrapf(err, "write screenshot %s", path)
	}

	logrus.WithField("path", path).Info("debug screenshot saved")
	return path, nil
}

func sanitize(name string) string {
	if name == "" {
		return "screenshot"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
