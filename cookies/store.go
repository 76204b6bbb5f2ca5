// Package cookies 持久化账号的登录态（AuthState）。登录态是不透明的字节，原样存取。
package cookies

import (
	"context"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/xpzouying/livepilot/browser"
)

// ErrNotFound 账号没有保存过登录态
var ErrNotFound = errors.New("auth state not found")

// Store 登录态存储
type Store interface {
	Load(ctx context.Context, account string) (browser.AuthState, error)
	Save(ctx context.Context, account string, state browser.AuthState) error
	Delete(ctx context.Context, account string) error
}

// Config 存储配置
type Config struct {
	// Kind file 或 redis
	Kind string `mapstructure:"kind" json:"kind"`
	// Dir 文件存储目录
	Dir   string      `mapstructure:"dir" json:"dir"`
	Redis RedisConfig `mapstructure:"redis" json:"redis"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr" json:"addr"`
	Password string        `mapstructure:"password" json:"-"`
	DB       int           `mapstructure:"db" json:"db"`
	Prefix   string        `mapstructure:"prefix" json:"prefix"`
	TTL      time.Duration `mapstructure:"ttl" json:"ttl"`
}

// Open 按配置创建存储
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Kind {
	case "", "file":
		return NewFileStore(cfg.Dir), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, errors.Wrapf(err, "connect redis %s", cfg.Redis.Addr)
		}
		logrus.WithField("addr", cfg.Redis.Addr).Info("登录态存储使用 Redis")
		return NewRedisStore(client, cfg.Redis.Prefix, cfg.Redis.TTL), nil
	default:
		return nil, errors.Errorf("unknown auth store kind %q", cfg.Kind)
	}
}

// FileStore 每个账号一个 cookies 文件
type FileStore struct {
	dir string
}

func NewFileStore(dir string) *FileStore {
	if dir == "" {
		dir = GetCookiesFilePath()
	}
	return &FileStore{dir: dir}
}

func (s *FileStore) cookier(account string) Cookier {
	return NewLoadCookie(GetAccountCookiesFilePath(s.dir, account))
}

func (s *FileStore) Load(ctx context.Context, account string) (browser.AuthState, error) {
	data, err := s.cookier(account).LoadCookies()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.Wrap(ErrNotFound, account)
		}
		return nil, err
	}
	return browser.AuthState(data), nil
}

func (s *FileStore) Save(ctx context.Context, account string, state browser.AuthState) error {
	return s.cookier(account).SaveCookies(state)
}

func (s *FileStore) Delete(ctx context.Context, account string) error {
	return s.cookier(account).DeleteCookies()
}

// RedisStore 多实例部署时共享登录态
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "livepilot:auth:"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(account string) string {
	return s.prefix + account
}

func (s *RedisStore) Load(ctx context.Context, account string) (browser.AuthState, error) {
	data, err := s.client.Get(ctx, s.key(account)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errors.Wrap(ErrNotFound, account)
		}
		return nil, errors.Wrap(err, "redis get")
	}
	return browser.AuthState(data), nil
}

func (s *RedisStore) Save(ctx context.Context, account string, state browser.AuthState) error {
	return errors.Wrap(s.client.Set(ctx, s.key(account), []byte(state), s.ttl).Err(), "redis set")
}

func (s *RedisStore) Delete(ctx context.Context, account string) error {
	return errors.Wrap(s.client.Del(ctx, s.key(account)).Err(), "redis del")
}
