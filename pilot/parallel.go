package pilot

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/xpzouying/livepilot/browser"
	"github.com/xpzouying/livepilot/platform"
	"github.com/xpzouying/livepilot/task"
)

// AccountPlan 一个账号的连接参数以及连接成功后要启动的任务
type AccountPlan struct {
	ID       string
	Platform string
	Launch   browser.LaunchOptions
	// Listen 非空时连接后开始监听该来源
	Listen platform.Source
	Tasks  map[string]task.Config
}

// PlanResult 单个账号的执行结果
type PlanResult struct {
	Account     string   `json:"account"`
	AccountName string   `json:"account_name,omitempty"`
	Tasks       []string `json:"tasks,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// ConnectAll 并行连接多个账号，每个账号拥有独立的浏览器进程与登录态。
// 单个账号失败不影响其他账号；全部失败时返回错误。
func (p *Pilot) ConnectAll(ctx context.Context, plans []AccountPlan) ([]*PlanResult, error) {
	results := make([]*PlanResult, len(plans))
	var wg sync.WaitGroup

	for i := range plans {
		plan := plans[i]
		results[i] = &PlanResult{Account: plan.ID}

		wg.Add(1)
		go func(res *PlanResult) {
			defer wg.Done()
			log := logrus.WithFields(logrus.Fields{"account": plan.ID, "platform": plan.Platform})
			log.Info("开始连接账号")

			conn, err := p.Connect(ctx, plan.ID, plan.Platform, plan.Launch)
			if err != nil {
				res.Error = err.Error()
				return
			}
			res.AccountName = conn.AccountName

			if plan.Listen != "" {
				if err := p.StartListening(ctx, plan.ID, plan.Listen); err != nil {
					log.WithError(err).Warn("开始监听失败")
				}
			}

			for name, cfg := range plan.Tasks {
				if _, err := p.StartTask(plan.ID, name, cfg); err != nil {
					log.WithError(err).WithField("task", name).Warn("启动任务失败")
					continue
				}
				res.Tasks = append(res.Tasks, name)
			}
		}(results[i])
	}

	wg.Wait()

	for _, res := range results {
		if res.Error == "" {
			return results, nil
		}
	}
	if len(plans) == 0 {
		return results, nil
	}
	return results, errors.New("没有任何账号连接成功")
}
