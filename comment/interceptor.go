package comment

import (
	"context"
	"encoding/base64"
	"regexp"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/xpzouying/livepilot/metrics"
	"github.com/xpzouying/livepilot/platform"
)

// seenLimit 去重窗口，轮询接口经常返回重叠的消息列表
const seenLimit = 2048

// Interceptor 监听页面的网络响应，URL 命中时解析响应体
type Interceptor struct {
	page    *rod.Page
	pattern *regexp.Regexp
	decoder Decoder
	source  platform.Source
	deliver func(platform.LiveMessage)

	seen  map[string]struct{}
	order []string
}

func NewInterceptor(page *rod.Page, pattern *regexp.Regexp, decoder Decoder, source platform.Source, deliver func(platform.LiveMessage)) *Interceptor {
	return &Interceptor{
		page:    page,
		pattern: pattern,
		decoder: decoder,
		source:  source,
		deliver: deliver,
		seen:    make(map[string]struct{}),
	}
}

// Enable 打开 Network 域，必须在 Run 之前调用
func (in *Interceptor) Enable(ctx context.Context) error {
	if err := (proto.NetworkEnable{}).Call(in.page.Context(ctx)); err != nil {
		return errors.Wrap(err, "enable network domain")
	}
	return nil
}

// Run 阻塞直到 ctx 取消
func (in *Interceptor) Run(ctx context.Context) {
	page := in.page.Context(ctx)
	matched := make(map[proto.NetworkRequestID]string)

	wait := page.EachEvent(
		func(e *proto.NetworkResponseReceived) {
			if e.Response != nil && in.pattern.MatchString(e.Response.URL) {
				matched[e.RequestID] = e.Response.URL
			}
		},
		func(e *proto.NetworkLoadingFinished) {
			url, ok := matched[e.RequestID]
			if !ok {
				return
			}
			delete(matched, e.RequestID)

			res, err := proto.NetworkGetResponseBody{RequestID: e.RequestID}.Call(page)
			if err != nil {
				logrus.WithError(err).WithField("url", url).Debug("读取响应体失败")
				return
			}
			body := []byte(res.Body)
			if res.Base64Encoded {
				if body, err = base64.StdEncoding.DecodeString(res.Body); err != nil {
					in.malformed(url, err)
					return
				}
			}
			in.handle(url, body)
		},
		func(e *proto.NetworkLoadingFailed) {
			delete(matched, e.RequestID)
		},
	)
	wait()
}

// handle 解析一个响应体并逐条投递，解析失败只跳过该响应
func (in *Interceptor) handle(url string, body []byte) int {
	msgs, err := in.decoder.Decode(body)
	if err != nil {
		in.malformed(url, err)
		return 0
	}

	n := 0
	for _, msg := range msgs {
		if msg.Source == "" {
			msg.Source = in.source
		}
		if in.duplicate(msg.ID) {
			continue
		}
		metrics.LiveMessages.WithLabelValues(string(in.source), string(msg.Kind)).Inc()
		in.deliver(msg)
		n++
	}
	return n
}

func (in *Interceptor) malformed(url string, err error) {
	metrics.MalformedPayloads.WithLabelValues(string(in.source)).Inc()
	logrus.WithError(err).WithFields(logrus.Fields{"source": in.source, "url": url}).Warn("跳过无法解析的响应")
}

func (in *Interceptor) duplicate(id string) bool {
	if id == "" {
		return false
	}
	if _, ok := in.seen[id]; ok {
		return true
	}
	in.seen[id] = struct{}{}
	in.order = append(in.order, id)
	if len(in.order) > seenLimit {
		delete(in.seen, in.order[0])
		in.order = in.order[1:]
	}
	return false
}
