package platform

import (
	"context"

	"github.com/pkg/errors"
	"github.com/xpzouying/livepilot/browser"
)

var (
	ErrUnknownPlatform = errors.New("unknown platform")
	ErrUnsupported     = errors.New("capability not supported by platform")
	ErrNotConnected    = errors.New("account not connected")

	// 致命错误：不重试，向上抛出并销毁会话
	ErrLoginFailed = errors.New("login failed")
	ErrNavigation  = errors.New("navigation failed")

	// 单次任务内的临时错误，由重试策略处理
	ErrElementNotFound = errors.New("element not found")
	ErrToggleMismatch  = errors.New("popup toggle mismatch")
	ErrMessageTooWide  = errors.New("message too wide")
)

// IsFatal 会话级别错误
func IsFatal(err error) bool {
	return errors.Is(err, browser.ErrLaunchFailed) ||
		errors.Is(err, browser.ErrExecutableNotFound) ||
		errors.Is(err, browser.ErrPageClosed) ||
		errors.Is(err, ErrLoginFailed) ||
		errors.Is(err, ErrNavigation)
}

// IsRetryable 判断任务内错误是否值得重试。
// 致命错误、能力缺失、参数错误以及取消都不重试，其余一律重试。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsFatal(err) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrUnsupported) || errors.Is(err, ErrUnknownPlatform) || errors.Is(err, ErrMessageTooWide) {
		return false
	}
	return true
}
