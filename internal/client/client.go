// Package client はlostfound APIサーバーのHTTP・WebSocketクライアントを提供する。
// mapstateの協調者インターフェース（IdentityProvider、DocumentStore、BlobStore、GeocodeService）を実装する。
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/lostfound/internal/model"
	"golang.org/x/net/publicsuffix"
)

const (
	sessionCookieName = "session_id"
	csrfHeaderName    = "X-CSRF-Token"

	defaultTimeout   = 30 * time.Second
	maxResponseBytes = 8 << 20
)

// StatusError はサーバーが2xx以外を返した場合のエラー。
// サーバーが統一エラーフォーマットを返した場合はAPIにその内容が入る。
type StatusError struct {
	StatusCode int
	API        *model.APIError
}

func (e *StatusError) Error() string {
	if e.API != nil {
		return fmt.Sprintf("status %d: %s", e.StatusCode, e.API.Error())
	}
	return fmt.Sprintf("status %d", e.StatusCode)
}

func (e *StatusError) Unwrap() error {
	if e.API == nil {
		return nil
	}
	return e.API
}

// IsStatus はerrが指定したHTTPステータスのStatusErrorかを判定する。
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

// errorBody はサーバーの統一エラーレスポンス。
type errorBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// Client はAPIサーバーへの接続を表す。Cookieはpublic suffix listを考慮するjarで保持する。
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	jar        http.CookieJar
	logger     *slog.Logger

	mu        sync.Mutex
	csrfToken string
}

// New はbaseURLのサーバーに接続するClientを生成する。
func New(baseURL string, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server URL must be http or https: %q", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("server URL has no host: %q", baseURL)
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	return &Client{
		baseURL: u,
		httpClient: &http.Client{
			Jar:     jar,
			Timeout: defaultTimeout,
		},
		jar:    jar,
		logger: logger,
	}, nil
}

// BaseURL はサーバーのベースURLを返す。
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// SessionToken はjarに保存されているセッションCookieの値を返す。未サインインなら空文字列。
func (c *Client) SessionToken() string {
	for _, ck := range c.jar.Cookies(c.baseURL) {
		if ck.Name == sessionCookieName {
			return ck.Value
		}
	}
	return ""
}

// SetSessionToken は保存済みのセッションCookieをjarに復元する。
func (c *Client) SetSessionToken(token string) {
	if token == "" {
		return
	}
	c.jar.SetCookies(c.baseURL, []*http.Cookie{{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.baseURL.Scheme == "https",
	}})
}

// csrf はCSRFトークンを返す。未取得ならGET /api/csrf-tokenで取得してキャッシュする。
func (c *Client) csrf(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.csrfToken
	c.mu.Unlock()
	if token != "" {
		return token, nil
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/csrf-token", nil, nil, &resp); err != nil {
		return "", fmt.Errorf("failed to fetch CSRF token: %w", err)
	}
	if resp.Token == "" {
		return "", errors.New("server returned an empty CSRF token")
	}

	c.mu.Lock()
	c.csrfToken = resp.Token
	c.mu.Unlock()
	return resp.Token, nil
}

// doJSON はJSONリクエストを送信し、2xxのレスポンスボディをoutにデコードする。
// outがnilの場合はボディを読み捨てる。
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

// send はreqを送信する。状態変更メソッドにはCSRFトークンを付与する。
func (c *Client) send(req *http.Request, out any) error {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		token, err := c.csrf(req.Context())
		if err != nil {
			return err
		}
		req.Header.Set(csrfHeaderName, token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("api request",
		slog.String("method", req.Method),
		slog.String("path", req.URL.Path),
		slog.Int("status", resp.StatusCode),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == http.StatusForbidden {
			// トークンが失効している可能性があるため次回取り直す
			c.mu.Lock()
			c.csrfToken = ""
			c.mu.Unlock()
		}
		return decodeStatusError(resp.StatusCode, data)
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeStatusError(status int, data []byte) error {
	var body errorBody
	if err := json.Unmarshal(data, &body); err != nil || body.Code == "" {
		return &StatusError{StatusCode: status}
	}
	return &StatusError{
		StatusCode: status,
		API: &model.APIError{
			Code:     body.Code,
			Message:  body.Message,
			Category: body.Category,
			Action:   body.Action,
		},
	}
}
