// Package configs 全局配置：viper 读取 configs/config.yaml，环境变量前缀 LIVEPILOT_。
package configs

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/xpzouying/livepilot/cookies"
	"github.com/xpzouying/livepilot/locator"
	"github.com/xpzouying/livepilot/site"
	"github.com/xpzouying/livepilot/task"
)

const envPrefix = "LIVEPILOT"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Locator   locator.Options `mapstructure:"locator"`
	Retry     RetryConfig     `mapstructure:"retry"`
	AuthStore cookies.Config  `mapstructure:"auth_store"`
	Log       LogConfig       `mapstructure:"log"`
	Live      LiveConfig      `mapstructure:"live"`
	Sites     []site.Profile  `mapstructure:"sites"`
	// Accounts multi_account 启动时连接的账号
	Accounts []AccountConfig `mapstructure:"accounts"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// Mode gin 模式：debug / release / test
	Mode string `mapstructure:"mode"`
}

type BrowserConfig struct {
	Headless      bool          `mapstructure:"headless"`
	BinPath       string        `mapstructure:"bin_path"`
	LaunchTimeout time.Duration `mapstructure:"launch_timeout"`
	// ScreenshotDir 任务最终失败时保存截图的目录，空表示不截图
	ScreenshotDir string `mapstructure:"screenshot_dir"`
}

type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	Delay      time.Duration `mapstructure:"delay"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type LiveConfig struct {
	// RecentMessages 每个账号保留的最近消息数
	RecentMessages int `mapstructure:"recent_messages"`
	// BroadcastQueue 每个 WebSocket 客户端的发送队列长度
	BroadcastQueue int `mapstructure:"broadcast_queue"`
	// EventBuffer 每个事件订阅者的缓冲长度
	EventBuffer int `mapstructure:"event_buffer"`
}

// AccountConfig 预先配置的账号及其任务
type AccountConfig struct {
	ID       string                 `mapstructure:"id"`
	Platform string                 `mapstructure:"platform"`
	Headless *bool                  `mapstructure:"headless"`
	Listen   string                 `mapstructure:"listen"`
	Tasks    map[string]task.Config `mapstructure:"tasks"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":18060")
	v.SetDefault("server.mode", "release")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.launch_timeout", "60s")
	v.SetDefault("locator.settle_delay", "600ms")
	v.SetDefault("locator.max_scrolls", 50)
	v.SetDefault("locator.tolerance", 2)
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.delay", "1s")
	v.SetDefault("auth_store.kind", "file")
	v.SetDefault("auth_store.redis.prefix", "livepilot:auth:")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("live.recent_messages", 200)
	v.SetDefault("live.broadcast_queue", 64)
	v.SetDefault("live.event_buffer", 64)
}

// Default 不读取任何文件时的配置
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(err)
	}
	return &cfg
}

// Load 读取配置文件。path 为空时依次查找 ./configs/config.yaml、./config.yaml，找不到使用默认值。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config")
		}
		logrus.Info("未找到配置文件，使用默认配置")
	} else {
		logrus.WithField("file", v.ConfigFileUsed()).Info("已加载配置文件")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验站点配置与账号引用
func (c *Config) Validate() error {
	names := make(map[string]bool, len(c.Sites))
	for i := range c.Sites {
		if err := c.Sites[i].Validate(); err != nil {
			return err
		}
		if names[c.Sites[i].Name] {
			return errors.Errorf("duplicate site %q", c.Sites[i].Name)
		}
		names[c.Sites[i].Name] = true
	}
	for _, a := range c.Accounts {
		if a.ID == "" {
			return errors.New("account id is required")
		}
		if !names[a.Platform] {
			return errors.Errorf("account %s refers to unknown platform %q", a.ID, a.Platform)
		}
	}
	return nil
}

// Apply 把浏览器相关配置同步到全局开关，并设置日志
func (c *Config) Apply() {
	InitHeadless(c.Browser.Headless)
	SetBinPath(c.Browser.BinPath)
	SetupLogger(c.Log)
}

// SetupLogger 设置 logrus 级别与格式
func SetupLogger(c LogConfig) {
	if level, err := logrus.ParseLevel(c.Level); err == nil {
		logrus.SetLevel(level)
	}
	if c.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}
