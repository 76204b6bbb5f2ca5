package platform

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Factory 为新的会话创建一个全新的适配器实例
type Factory func() Adapter

// Registry 平台类型 -> 适配器工厂
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register 注册平台，重复注册会覆盖旧的工厂
func (r *Registry) Register(kind string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

// New 创建指定平台的适配器
func (r *Registry) New(kind string) (Adapter, error) {
	r.mu.RLock()
	f, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownPlatform, "platform %q", kind)
	}
	return f(), nil
}

// Kinds 已注册的平台类型（排序后）
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
