package mapstate

import (
	"log/slog"
	"sync"

	"github.com/hitoshi/lostfound/internal/model"
)

// Session は現在の認証状態をIdentityProviderのプッシュ通知に追従して保持する。
type Session struct {
	mu          sync.RWMutex
	identity    *Identity
	listeners   []func(*Identity)
	unsubscribe func()
	logger      *slog.Logger
}

// NewSession はproviderを購読するSessionを生成する。
// providerは登録時に現在の状態を同期的に通知するため、戻り値は初期状態を反映済み。
func NewSession(provider IdentityProvider, logger *slog.Logger) *Session {
	s := &Session{logger: logger}
	s.unsubscribe = provider.OnIdentityChanged(s.set)
	return s
}

func (s *Session) set(id *Identity) {
	var snapshot *Identity
	if id != nil {
		cp := *id
		snapshot = &cp
	}

	s.mu.Lock()
	prev := s.identity
	s.identity = snapshot
	listeners := append([]func(*Identity){}, s.listeners...)
	s.mu.Unlock()

	if identityID(prev) != identityID(snapshot) {
		s.logger.Info("identity changed",
			slog.String("user_id", identityID(snapshot)),
		)
	}
	for _, fn := range listeners {
		fn(snapshot)
	}
}

// CurrentIdentity は現在のIdentityのコピーを返す。未サインインならnil。
func (s *Session) CurrentIdentity() *Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return nil
	}
	cp := *s.identity
	return &cp
}

// IsOwner はreportの所有者が現在のユーザーである場合にtrueを返す。
// 所有者のいないレポートに対しては常にfalse。
func (s *Session) IsOwner(report model.Report) bool {
	if report.OwnerID == nil || *report.OwnerID == "" {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity != nil && s.identity.ID == *report.OwnerID
}

// OnChange は認証状態の変化を受け取るlistenerを登録する。
func (s *Session) OnChange(listener func(*Identity)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, listener)
	s.mu.Unlock()
}

// Close はIdentityProviderの購読を解除する。
func (s *Session) Close() {
	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

func identityID(id *Identity) string {
	if id == nil {
		return ""
	}
	return id.ID
}
