package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/hitoshi/lostfound/internal/mapstate"
)

// ErrUnsupportedSignIn はターミナルから実行できないサインイン方法を指定した場合に返される。
var ErrUnsupportedSignIn = errors.New("sign-in method is not supported from the terminal")

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (u userResponse) identity() *mapstate.Identity {
	return &mapstate.Identity{ID: u.ID, DisplayName: u.Name, Email: u.Email}
}

// IdentityProvider はサーバーのセッションをmapstate.IdentityProviderとして提供する。
type IdentityProvider struct {
	client *Client

	// deliverMu は通知の順序を保つ。currentの更新からコールバックの完了まで保持する。
	// コールバックからpublishを呼んではならない。
	deliverMu sync.Mutex

	mu        sync.Mutex
	current   *mapstate.Identity
	callbacks map[int]func(*mapstate.Identity)
	nextID    int
}

// NewIdentityProvider はIdentityProviderを生成する。Refreshを呼ぶまでは未サインイン扱い。
func NewIdentityProvider(c *Client) *IdentityProvider {
	return &IdentityProvider{client: c, callbacks: map[int]func(*mapstate.Identity){}}
}

// OnIdentityChanged はcallbackを登録し、現在の状態で即座に1回呼ぶ。
func (p *IdentityProvider) OnIdentityChanged(callback func(*mapstate.Identity)) func() {
	p.deliverMu.Lock()
	defer p.deliverMu.Unlock()

	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.callbacks[id] = callback
	current := p.current
	p.mu.Unlock()

	callback(current)
	return func() {
		p.mu.Lock()
		delete(p.callbacks, id)
		p.mu.Unlock()
	}
}

func (p *IdentityProvider) publish(identity *mapstate.Identity) {
	p.deliverMu.Lock()
	defer p.deliverMu.Unlock()

	p.mu.Lock()
	p.current = identity
	callbacks := make([]func(*mapstate.Identity), 0, len(p.callbacks))
	for _, cb := range p.callbacks {
		callbacks = append(callbacks, cb)
	}
	p.mu.Unlock()

	for _, cb := range callbacks {
		cb(identity)
	}
}

// Current は最後に通知したIdentityを返す。
func (p *IdentityProvider) Current() *mapstate.Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Refresh はGET /auth/meでセッションの有効性を確認し、結果を通知する。
// セッションがない、または失効している場合は未サインインとして通知し、エラーは返さない。
func (p *IdentityProvider) Refresh(ctx context.Context) error {
	var u userResponse
	err := p.client.doJSON(ctx, http.MethodGet, "/auth/me", nil, nil, &u)
	if IsStatus(err, http.StatusUnauthorized) {
		p.publish(nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load current user: %w", err)
	}
	p.publish(u.identity())
	return nil
}

// SignIn はメールアドレスとパスワードでサインイン（SignUpがtrueなら登録）する。
// Googleサインインはブラウザでのリダイレクトが必要なため対応しない。
func (p *IdentityProvider) SignIn(ctx context.Context, creds mapstate.Credentials) error {
	if creds.Method != "" && creds.Method != "password" {
		return fmt.Errorf("%w: %s", ErrUnsupportedSignIn, creds.Method)
	}

	path := "/auth/password/signin"
	if creds.SignUp {
		path = "/auth/password/signup"
	}
	var u userResponse
	if err := p.client.doJSON(ctx, http.MethodPost, path, nil, credentialsRequest{
		Email:    creds.Email,
		Password: creds.Password,
	}, &u); err != nil {
		return err
	}
	p.publish(u.identity())
	return nil
}

// SignOut はサーバーのセッションを破棄する。
func (p *IdentityProvider) SignOut(ctx context.Context) error {
	if err := p.client.doJSON(ctx, http.MethodPost, "/auth/logout", nil, nil, nil); err != nil {
		return err
	}
	p.publish(nil)
	return nil
}

// Withdraw はアカウントを削除する。作成済みのレポートは所有者なしとして地図に残る。
func (p *IdentityProvider) Withdraw(ctx context.Context) error {
	if err := p.client.doJSON(ctx, http.MethodDelete, "/api/users/me", nil, nil, nil); err != nil {
		return err
	}
	p.publish(nil)
	return nil
}
