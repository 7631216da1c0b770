package middleware

import (
	"net/http"
	"strings"
)

// isWebSocketUpgrade はライブフィード（GET /api/reports/feed）へのアップグレード要求かどうかを判定する。
// 101応答はgorilla/websocketが接続をHijackして直接書き込むため、wに設定したヘッダーは送られない。
func isWebSocketUpgrade(r *http.Request) bool {
	return r.Method == http.MethodGet &&
		strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		headerContainsToken(r.Header, "Connection", "upgrade")
}

func headerContainsToken(h http.Header, name, token string) bool {
	for _, v := range h.Values(name) {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}
