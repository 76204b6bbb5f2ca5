package browser

import (
	"context"
	"regexp"
	"time"

	"github.com/go-rod/rod"
	"github.com/pkg/errors"
)

// Arrival 页面导航后落在哪里
type Arrival int

const (
	ArrivalUnknown Arrival = iota
	ArrivalLogin
	ArrivalControl
)

func (a Arrival) String() string {
	switch a {
	case ArrivalLogin:
		return "login"
	case ArrivalControl:
		return "control"
	default:
		return "unknown"
	}
}

const (
	arrivalPollInterval = 500 * time.Millisecond
	maxInfoFailures     = 20
)

// RaceArrival 同时等待两件事：URL 命中登录页规则、中控台标记元素可见。
// 先发生的那个决定结果。本身没有超时（登录节奏由用户决定），只能通过 ctx 取消。
func RaceArrival(ctx context.Context, page *rod.Page, loginURL *regexp.Regexp, marker string) (Arrival, error) {
	ticker := time.NewTicker(arrivalPollInterval)
	defer ticker.Stop()

	failures := 0
	for {
		arrival, err := probeArrival(page.Context(ctx), loginURL, marker)
		if err != nil {
			failures++
			if failures >= maxInfoFailures {
				return ArrivalUnknown, errors.Wrap(err, "probe arrival")
			}
		} else {
			failures = 0
			if arrival != ArrivalUnknown {
				return arrival, nil
			}
		}

		select {
		case <-ctx.Done():
			return ArrivalUnknown, ctx.Err()
		case <-ticker.C:
		}
	}
}

func probeArrival(page *rod.Page, loginURL *regexp.Regexp, marker string) (Arrival, error) {
	info, err := page.Info()
	if err != nil {
		return ArrivalUnknown, err
	}
	if loginURL != nil && loginURL.MatchString(info.URL) {
		return ArrivalLogin, nil
	}

	if marker == "" {
		return ArrivalUnknown, nil
	}
	has, el, err := page.Has(marker)
	if err != nil {
		return ArrivalUnknown, err
	}
	if !has {
		return ArrivalUnknown, nil
	}
	if visible, err := el.Visible(); err == nil && visible {
		return ArrivalControl, nil
	}
	return ArrivalUnknown, nil
}
