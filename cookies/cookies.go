package cookies

import (
	"os"
	"path/filepath"
	"regexp"

	"github.com/pkg/errors"
)

// Cookier 登录态文件的读写
type Cookier interface {
	LoadCookies() ([]byte, error)
	SaveCookies(data []byte) error
	DeleteCookies() error
}

type localCookie struct {
	path string
}

func NewLoadCookie(path string) Cookier {
	if path == "" {
		panic("path is required")
	}
	return &localCookie{path: path}
}

// LoadCookies 从文件中加载 cookies
func (c *localCookie) LoadCookies() ([]byte, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read cookies from tmp file")
	}
	return data, nil
}

// SaveCookies 保存 cookies 到文件中，先写临时文件再重命名
func (c *localCookie) SaveCookies(data []byte) error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return errors.Wrap(err, "failed to create cookies dir")
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Wrap(err, "failed to write cookies")
	}
	return os.Rename(tmp, c.path)
}

// DeleteCookies 删除 cookies 文件，文件不存在不算错误
func (c *localCookie) DeleteCookies() error {
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to delete cookies")
	}
	return nil
}

// GetCookiesFilePath 默认的 cookies 目录，可以通过 COOKIES_PATH 覆盖
func GetCookiesFilePath() string {
	if path := os.Getenv("COOKIES_PATH"); path != "" {
		return path
	}
	return filepath.Join(os.TempDir(), "livepilot")
}

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

// GetAccountCookiesFilePath 每个账号一个独立的 cookies 文件
func GetAccountCookiesFilePath(dir, account string) string {
	if dir == "" {
		dir = GetCookiesFilePath()
	}
	return filepath.Join(dir, "cookies_"+unsafeName.ReplaceAllString(account, "_")+".json")
}
