package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/pkg/errors"
)

// AuthState 可序列化的登录态快照（cookies + localStorage）。
// 对调用方来说是不透明的字节串，原样保存、原样传回。
type AuthState []byte

type storageState struct {
	Cookies []*proto.NetworkCookie `json:"cookies"`
	// origin -> localStorage 的 JSON 字符串
	Origins map[string]string `json:"origins,omitempty"`
}

func (s AuthState) decode() (*storageState, error) {
	st := &storageState{}
	if len(s) == 0 {
		return st, nil
	}
	if err := json.Unmarshal(s, st); err != nil {
		return nil, errors.Wrap(err, "decode auth state")
	}
	return st, nil
}

func (s AuthState) cookiesJSON() ([]byte, error) {
	st, err := s.decode()
	if err != nil {
		return nil, err
	}
	if len(st.Cookies) == 0 {
		return nil, nil
	}
	return json.Marshal(st.Cookies)
}

// captureAuthState 抓取当前页面所在浏览器的 cookies 以及当前 origin 的 localStorage
func captureAuthState(ctx context.Context, page *rod.Page) (AuthState, error) {
	p := page.Context(ctx)

	cookies, err := p.Browser().GetCookies()
	if err != nil {
		return nil, errors.Wrap(err, "get cookies")
	}

	st := storageState{Cookies: cookies, Origins: map[string]string{}}

	if info, err := p.Info(); err == nil {
		if origin := originOf(info.URL); origin != "" {
			st.Origins[origin] = snapshotLocalStorage(p)
		}
	}

	data, err := json.Marshal(st)
	if err != nil {
		return nil, errors.Wrap(err, "encode auth state")
	}
	return AuthState(data), nil
}

func snapshotLocalStorage(page *rod.Page) string {
	res, err := page.Evaluate(&rod.EvalOptions{
		JS: `() => {
			try {
				const out = {};
				for (const key of Object.keys(localStorage)) {
					out[key] = localStorage.getItem(key);
				}
				return JSON.stringify(out);
			} catch (e) {
				return "{}";
			}
		}`,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil || res == nil || res.Value.Nil() {
		return "{}"
	}
	return res.Value.String()
}

// restoreLocalStorage 在每个新文档加载前按 origin 写回 localStorage（不覆盖已有的 key）
func restoreLocalStorage(page *rod.Page, state AuthState) error {
	st, err := state.decode()
	if err != nil {
		return err
	}
	if len(st.Origins) == 0 {
		return nil
	}
	data, err := json.Marshal(st.Origins)
	if err != nil {
		return errors.Wrap(err, "encode origins")
	}
	_, err = page.EvalOnNewDocument(fmt.Sprintf(`
		(() => {
			const origins = %s;
			const raw = origins[location.origin];
			if (!raw) return;
			try {
				const items = JSON.parse(raw);
				for (const [k, v] of Object.entries(items)) {
					if (localStorage.getItem(k) === null) localStorage.setItem(k, v);
				}
			} catch (e) {}
		})();
	`, data))
	return err
}

func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
