package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/lostfound/internal/model"
)

// --- モック定義 ---

type mockAuthService struct {
	getLoginURLFn    func(state string) string
	handleCallbackFn func(ctx context.Context, code string) (*model.Session, error)
	signUpFn         func(ctx context.Context, email, password string) (*model.Session, *model.User, error)
	signInFn         func(ctx context.Context, email, password string) (*model.Session, *model.User, error)
	logoutFn         func(ctx context.Context, sessionID string) error
	getCurrentUserFn func(ctx context.Context, sessionID string) (*model.User, error)
}

func (m *mockAuthService) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return ""
}

func (m *mockAuthService) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, code)
	}
	return nil, nil
}

func (m *mockAuthService) SignUp(ctx context.Context, email, password string) (*model.Session, *model.User, error) {
	if m.signUpFn != nil {
		return m.signUpFn(ctx, email, password)
	}
	return nil, nil, nil
}

func (m *mockAuthService) SignIn(ctx context.Context, email, password string) (*model.Session, *model.User, error) {
	if m.signInFn != nil {
		return m.signInFn(ctx, email, password)
	}
	return nil, nil, nil
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockAuthService) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if m.getCurrentUserFn != nil {
		return m.getCurrentUserFn(ctx, sessionID)
	}
	return nil, nil
}

// mockStateIssuer は固定のstate値を発行し、同じ値だけを受け付ける。
type mockStateIssuer struct {
	state     string
	issueErr  error
	verifyErr error
}

func (m *mockStateIssuer) Issue() (string, error) {
	if m.issueErr != nil {
		return "", m.issueErr
	}
	return m.state, nil
}

func (m *mockStateIssuer) Verify(state string) error {
	if m.verifyErr != nil {
		return m.verifyErr
	}
	if state != m.state {
		return errors.New("unknown state")
	}
	return nil
}

func newTestAuthHandler(svc AuthServiceInterface) *AuthHandler {
	return NewAuthHandler(svc, &mockStateIssuer{state: "test-state"}, AuthHandlerConfig{
		BaseURL:       "http://localhost:3000",
		CookieDomain:  "",
		CookieSecure:  false,
		SessionMaxAge: 86400,
	})
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// --- テスト ---

func TestAuthHandler_Login_RedirectsToOAuthURL(t *testing.T) {
	svc := &mockAuthService{
		getLoginURLFn: func(state string) string {
			return "https://accounts.google.com/o/oauth2/auth?state=" + state
		},
	}
	h := newTestAuthHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/auth/google/login", nil)
	w := httptest.NewRecorder()

	h.Login(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusTemporaryRedirect {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusTemporaryRedirect)
	}

	location := resp.Header.Get("Location")
	if !strings.Contains(location, "accounts.google.com") || !strings.Contains(location, "state=test-state") {
		t.Errorf("Location = %q, should contain google oauth URL with state", location)
	}

	stateCookie := findCookie(resp, "oauth_state")
	if stateCookie == nil || stateCookie.Value != "test-state" {
		t.Fatalf("oauth_state cookie = %v, want test-state", stateCookie)
	}
	if !stateCookie.HttpOnly {
		t.Error("oauth_state cookie should be HttpOnly")
	}
}

func TestAuthHandler_Login_IssueError_Returns500(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, &mockStateIssuer{issueErr: errors.New("rand failed")}, AuthHandlerConfig{})

	w := httptest.NewRecorder()
	h.Login(w, httptest.NewRequest(http.MethodGet, "/auth/google/login", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestAuthHandler_Callback_Success_SetsCookieAndRedirects(t *testing.T) {
	svc := &mockAuthService{
		handleCallbackFn: func(ctx context.Context, code string) (*model.Session, error) {
			if code != "test-code" {
				t.Errorf("code = %q, want test-code", code)
			}
			return &model.Session{
				ID:        "session-id-abc",
				UserID:    "user-id-123",
				ExpiresAt: time.Now().Add(24 * time.Hour),
			}, nil
		},
	}
	h := newTestAuthHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=test-code&state=test-state", nil)
	req.AddCookie(&http.Cookie{Name: "oauth_state", Value: "test-state"})
	w := httptest.NewRecorder()

	h.Callback(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusTemporaryRedirect {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusTemporaryRedirect)
	}
	if location := resp.Header.Get("Location"); location != "http://localhost:3000" {
		t.Errorf("Location = %q, want %q", location, "http://localhost:3000")
	}

	sessionCookie := findCookie(resp, "session_id")
	if sessionCookie == nil {
		t.Fatal("expected session_id cookie to be set")
	}
	if sessionCookie.Value != "session-id-abc" {
		t.Errorf("session cookie value = %q, want %q", sessionCookie.Value, "session-id-abc")
	}
	if !sessionCookie.HttpOnly {
		t.Error("session cookie should be HttpOnly")
	}
	if sessionCookie.SameSite != http.SameSiteLaxMode {
		t.Errorf("session cookie SameSite = %v, want %v", sessionCookie.SameSite, http.SameSiteLaxMode)
	}

	if c := findCookie(resp, "oauth_state"); c == nil || c.MaxAge != -1 {
		t.Errorf("oauth_state cookie should be cleared, got %v", c)
	}
}

func TestAuthHandler_Callback_MissingCode_ReturnsBadRequest(t *testing.T) {
	h := newTestAuthHandler(&mockAuthService{})

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?state=test-state", nil)
	req.AddCookie(&http.Cookie{Name: "oauth_state", Value: "test-state"})
	w := httptest.NewRecorder()

	h.Callback(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestAuthHandler_Callback_RejectsBadState(t *testing.T) {
	tests := []struct {
		name       string
		queryState string
		cookie     string
		verifyErr  error
	}{
		{name: "cookie mismatch", queryState: "wrong-state", cookie: "test-state"},
		{name: "no cookie", queryState: "test-state"},
		{name: "signature rejected", queryState: "test-state", cookie: "test-state", verifyErr: errors.New("expired")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			svc := &mockAuthService{
				handleCallbackFn: func(ctx context.Context, code string) (*model.Session, error) {
					called = true
					return &model.Session{ID: "s"}, nil
				},
			}
			h := NewAuthHandler(svc, &mockStateIssuer{state: "test-state", verifyErr: tt.verifyErr}, AuthHandlerConfig{})

			req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=c&state="+tt.queryState, nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: "oauth_state", Value: tt.cookie})
			}
			w := httptest.NewRecorder()

			h.Callback(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			if called {
				t.Error("HandleCallback should not be called for a rejected state")
			}
		})
	}
}

func TestAuthHandler_Callback_AuthServiceError_ReturnsInternalError(t *testing.T) {
	svc := &mockAuthService{
		handleCallbackFn: func(ctx context.Context, code string) (*model.Session, error) {
			return nil, errors.New("auth failed")
		},
	}
	h := newTestAuthHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=bad-code&state=test-state", nil)
	req.AddCookie(&http.Cookie{Name: "oauth_state", Value: "test-state"})
	w := httptest.NewRecorder()

	h.Callback(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestAuthHandler_Callback_EmailTaken_ReturnsConflict(t *testing.T) {
	svc := &mockAuthService{
		handleCallbackFn: func(ctx context.Context, code string) (*model.Session, error) {
			return nil, model.NewEmailTakenError()
		},
	}
	h := newTestAuthHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=c&state=test-state", nil)
	req.AddCookie(&http.Cookie{Name: "oauth_state", Value: "test-state"})
	w := httptest.NewRecorder()

	h.Callback(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestAuthHandler_SignUp_SetsCookieAndReturnsUser(t *testing.T) {
	svc := &mockAuthService{
		signUpFn: func(ctx context.Context, email, password string) (*model.Session, *model.User, error) {
			if email != "new@example.com" || password != "secret1" {
				t.Errorf("SignUp(%q, %q), unexpected arguments", email, password)
			}
			return &model.Session{ID: "signup-session"}, &model.User{ID: "u-new", Email: email}, nil
		},
	}
	h := newTestAuthHandler(svc)

	body := strings.NewReader(`{"email":"new@example.com","password":"secret1"}`)
	req := httptest.NewRequest(http.MethodPost, "/auth/password/signup", body)
	w := httptest.NewRecorder()

	h.SignUp(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	if c := findCookie(resp, "session_id"); c == nil || c.Value != "signup-session" {
		t.Errorf("session_id cookie = %v, want signup-session", c)
	}

	var got userResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	// 名前未設定の場合はメールアドレスを表示名とする
	if got.ID != "u-new" || got.Name != "new@example.com" {
		t.Errorf("response = %+v, unexpected", got)
	}
}

func TestAuthHandler_SignUp_ServiceErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "email taken", err: model.NewEmailTakenError(), wantStatus: http.StatusConflict, wantCode: model.ErrCodeEmailTaken},
		{name: "weak password", err: model.NewWeakPasswordError(6), wantStatus: http.StatusBadRequest, wantCode: model.ErrCodeWeakPassword},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockAuthService{
				signUpFn: func(ctx context.Context, email, password string) (*model.Session, *model.User, error) {
					return nil, nil, tt.err
				},
			}
			h := newTestAuthHandler(svc)

			req := httptest.NewRequest(http.MethodPost, "/auth/password/signup", strings.NewReader(`{"email":"a@example.com","password":"x"}`))
			w := httptest.NewRecorder()

			h.SignUp(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var body apiErrorBody
			json.NewDecoder(w.Body).Decode(&body)
			if body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
			if findCookie(w.Result(), "session_id") != nil {
				t.Error("session cookie should not be set on failure")
			}
		})
	}
}

func TestAuthHandler_SignUp_InvalidJSON_Returns400(t *testing.T) {
	h := newTestAuthHandler(&mockAuthService{})

	req := httptest.NewRequest(http.MethodPost, "/auth/password/signup", strings.NewReader(`{`))
	w := httptest.NewRecorder()

	h.SignUp(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestAuthHandler_SignIn(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		svc := &mockAuthService{
			signInFn: func(ctx context.Context, email, password string) (*model.Session, *model.User, error) {
				return &model.Session{ID: "signin-session"}, &model.User{ID: "u1", Email: email, Name: "Ada"}, nil
			},
		}
		h := newTestAuthHandler(svc)

		req := httptest.NewRequest(http.MethodPost, "/auth/password/signin", strings.NewReader(`{"email":"ada@example.com","password":"secret1"}`))
		w := httptest.NewRecorder()

		h.SignIn(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
		}
		if c := findCookie(w.Result(), "session_id"); c == nil || c.Value != "signin-session" {
			t.Errorf("session_id cookie = %v, want signin-session", c)
		}
	})

	t.Run("bad credentials", func(t *testing.T) {
		svc := &mockAuthService{
			signInFn: func(ctx context.Context, email, password string) (*model.Session, *model.User, error) {
				return nil, nil, model.NewInvalidCredentialsError()
			},
		}
		h := newTestAuthHandler(svc)

		req := httptest.NewRequest(http.MethodPost, "/auth/password/signin", strings.NewReader(`{"email":"ada@example.com","password":"nope"}`))
		w := httptest.NewRecorder()

		h.SignIn(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})
}

func TestAuthHandler_Logout_Success_ClearsCookie(t *testing.T) {
	var loggedOut string
	svc := &mockAuthService{
		logoutFn: func(ctx context.Context, sessionID string) error {
			loggedOut = sessionID
			return nil
		},
	}
	h := newTestAuthHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "session-to-logout"})
	w := httptest.NewRecorder()

	h.Logout(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
	if loggedOut != "session-to-logout" {
		t.Errorf("Logout called with %q, want session-to-logout", loggedOut)
	}

	sessionCookie := findCookie(resp, "session_id")
	if sessionCookie == nil {
		t.Fatal("expected session_id cookie to be cleared")
	}
	if sessionCookie.MaxAge != -1 {
		t.Errorf("session cookie MaxAge = %d, want -1 (delete)", sessionCookie.MaxAge)
	}
}

func TestAuthHandler_Logout_ServiceError_StillClearsCookie(t *testing.T) {
	svc := &mockAuthService{
		logoutFn: func(ctx context.Context, sessionID string) error {
			return errors.New("db down")
		},
	}
	h := newTestAuthHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "s"})
	w := httptest.NewRecorder()

	h.Logout(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if c := findCookie(w.Result(), "session_id"); c == nil || c.MaxAge != -1 {
		t.Errorf("session cookie should be cleared, got %v", c)
	}
}

func TestAuthHandler_Me_Authenticated_ReturnsUserJSON(t *testing.T) {
	svc := &mockAuthService{
		getCurrentUserFn: func(ctx context.Context, sessionID string) (*model.User, error) {
			return &model.User{
				ID:    "user-id-me",
				Email: "me@example.com",
				Name:  "Me User",
			}, nil
		},
	}
	h := newTestAuthHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "valid-session"})
	w := httptest.NewRecorder()

	h.Me(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if contentType := resp.Header.Get("Content-Type"); contentType != "application/json" {
		t.Errorf("Content-Type = %q, want %q", contentType, "application/json")
	}

	var got userResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got != (userResponse{ID: "user-id-me", Email: "me@example.com", Name: "Me User"}) {
		t.Errorf("response = %+v, unexpected", got)
	}
}

func TestAuthHandler_Me_NoSession_ReturnsUnauthorized(t *testing.T) {
	h := newTestAuthHandler(&mockAuthService{})

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	w := httptest.NewRecorder()

	h.Me(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAuthHandler_Me_ExpiredSession_ReturnsUnauthorized(t *testing.T) {
	svc := &mockAuthService{
		getCurrentUserFn: func(ctx context.Context, sessionID string) (*model.User, error) {
			return nil, errors.New("session not found")
		},
	}
	h := newTestAuthHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "expired"})
	w := httptest.NewRecorder()

	h.Me(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

// apiErrorBody はテストでエラーレスポンスをデコードするための構造体。
type apiErrorBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}
