package browser

import "github.com/pkg/errors"

var (
	ErrLaunchFailed       = errors.New("browser launch failed")
	ErrExecutableNotFound = errors.New("browser executable not found")
	ErrPageClosed         = errors.New("page closed")
)
