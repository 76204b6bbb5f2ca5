// Package registry 按账号管理命名任务：同一账号同名任务只保留一个，页面关闭时停止该账号的全部任务。
package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/xpzouying/livepilot/task"
)

// ErrTaskNotFound 账号下没有该任务
var ErrTaskNotFound = errors.New("task not found")

// Factory 构造一个新的任务（未启动）
type Factory func() (*task.Task, error)

// accountTasks 单个账号的任务表，所有修改都在 mu 下进行
type accountTasks struct {
	mu    sync.Mutex
	tasks map[string]*task.Task
	// removed 已从账号表中移除，持有旧指针的调用方需要重新获取
	removed bool
}

// Registry 账号 -> 任务名 -> 任务。外层锁只保护账号表本身，各账号之间互不竞争。
type Registry struct {
	mu       sync.Mutex
	accounts map[string]*accountTasks
}

func New() *Registry {
	return &Registry{accounts: make(map[string]*accountTasks)}
}

func (r *Registry) entry(account string, create bool) *accountTasks {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.accounts[account]
	if !ok && create {
		acc = &accountTasks{tasks: make(map[string]*task.Task)}
		r.accounts[account] = acc
	}
	return acc
}

// lock 获取并锁定账号的任务表
func (r *Registry) lock(account string) *accountTasks {
	for {
		acc := r.entry(account, true)
		acc.mu.Lock()
		if !acc.removed {
			return acc
		}
		acc.mu.Unlock()
	}
}

// Register 构造并登记任务。同名任务已存在时先停止旧任务，保证同一时刻只有一个。
func (r *Registry) Register(account, name string, factory Factory) (*task.Task, error) {
	acc := r.lock(account)
	defer acc.mu.Unlock()
	return acc.replace(account, name, factory)
}

func (acc *accountTasks) replace(account, name string, factory Factory) (*task.Task, error) {
	t, err := factory()
	if err != nil {
		return nil, err
	}
	if old, ok := acc.tasks[name]; ok {
		logrus.WithFields(logrus.Fields{"account": account, "task": name}).Info("停止同名旧任务")
		old.Stop()
	}
	acc.tasks[name] = t
	return t, nil
}

// StartTask 登记并立即启动任务，ctx 取消时任务停止
func (r *Registry) StartTask(ctx context.Context, account, name string, factory Factory) (*task.Task, error) {
	acc := r.lock(account)
	defer acc.mu.Unlock()

	t, err := acc.replace(account, name, factory)
	if err != nil {
		return nil, err
	}
	t.Start(ctx)
	return t, nil
}

// StopTask 停止并移除任务
func (r *Registry) StopTask(account, name string) error {
	acc := r.entry(account, false)
	if acc == nil {
		return errors.Wrapf(ErrTaskNotFound, "%s/%s", account, name)
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()

	t, ok := acc.tasks[name]
	if !ok {
		return errors.Wrapf(ErrTaskNotFound, "%s/%s", account, name)
	}
	t.Stop()
	delete(acc.tasks, name)
	return nil
}

// UpdateTaskConfig 更新任务配置，校验失败时原配置不变
func (r *Registry) UpdateTaskConfig(account, name string, patch task.Patch) (task.Config, error) {
	acc := r.entry(account, false)
	if acc == nil {
		return task.Config{}, errors.Wrapf(ErrTaskNotFound, "%s/%s", account, name)
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()

	t, ok := acc.tasks[name]
	if !ok {
		return task.Config{}, errors.Wrapf(ErrTaskNotFound, "%s/%s", account, name)
	}
	return t.UpdateConfig(patch)
}

// RestartTask 立即重新执行任务
func (r *Registry) RestartTask(account, name string) error {
	t, ok := r.Task(account, name)
	if !ok {
		return errors.Wrapf(ErrTaskNotFound, "%s/%s", account, name)
	}
	t.Restart()
	return nil
}

func (r *Registry) Task(account, name string) (*task.Task, bool) {
	acc := r.entry(account, false)
	if acc == nil {
		return nil, false
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()
	t, ok := acc.tasks[name]
	return t, ok
}

// Tasks 账号下全部任务的快照，按名字排序
func (r *Registry) Tasks(account string) []task.Info {
	acc := r.entry(account, false)
	if acc == nil {
		return nil
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()

	infos := make([]task.Info, 0, len(acc.tasks))
	for _, t := range acc.tasks {
		infos = append(infos, t.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// StopAll 停止账号下全部任务并移除该账号
func (r *Registry) StopAll(account string) int {
	r.mu.Lock()
	acc, ok := r.accounts[account]
	delete(r.accounts, account)
	r.mu.Unlock()
	if !ok {
		return 0
	}

	acc.mu.Lock()
	defer acc.mu.Unlock()
	acc.removed = true
	n := len(acc.tasks)
	for name, t := range acc.tasks {
		t.Stop()
		delete(acc.tasks, name)
	}
	if n > 0 {
		logrus.WithFields(logrus.Fields{"account": account, "count": n}).Info("已停止账号下全部任务")
	}
	return n
}

// Close 停止所有账号的任务
func (r *Registry) Close() {
	r.mu.Lock()
	accounts := make([]string, 0, len(r.accounts))
	for a := range r.accounts {
		accounts = append(accounts, a)
	}
	r.mu.Unlock()

	for _, a := range accounts {
		r.StopAll(a)
	}
}

// BindPage 把账号任务的生命周期绑定到页面：closed 关闭时停止该账号全部任务，然后调用 onClosed。
// 返回的 unbind 用于主动断开时解除绑定。
func (r *Registry) BindPage(account string, closed <-chan struct{}, onClosed func()) (unbind func()) {
	stop := make(chan struct{})
	go func() {
		select {
		case <-closed:
			// 主动断开时 unbind 先于关闭页面
			select {
			case <-stop:
				return
			default:
			}
			logrus.WithField("account", account).Warn("页面已关闭，停止该账号的全部任务")
			r.StopAll(account)
			if onClosed != nil {
				onClosed()
			}
		case <-stop:
		}
	}()
	return sync.OnceFunc(func() { close(stop) })
}
