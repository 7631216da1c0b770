package middleware

import "net/http"

// SecurityHeadersConfig はセキュリティヘッダーの設定。
type SecurityHeadersConfig struct {
	// HSTS はStrict-Transport-Securityを付与するかどうか。HTTPS配信時（COOKIE_SECURE）のみ有効にする。
	HSTS bool
}

// NewSecurityHeadersMiddleware はAPI応答にセキュリティヘッダーを付与する。
// ライブフィードのWebSocketアップグレードには付与しない。
func NewSecurityHeadersMiddleware(config SecurityHeadersConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isWebSocketUpgrade(r) {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			// APIはJSONとRSSのみを返すため、文書としての読み込みを全て禁止する
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			// 地図UIは現在地の取得と写真撮影を同一オリジンでのみ使う
			h.Set("Permissions-Policy", "geolocation=(self), camera=(self), microphone=()")
			if config.HSTS {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}
