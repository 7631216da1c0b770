package middleware

import "net/http"

const (
	corsAllowedMethods = "GET, POST, PATCH, DELETE, OPTIONS"
	corsAllowedHeaders = "Content-Type, " + csrfHeaderName
	// Retry-Afterはレート制限時に地図UIが再送までの待ち時間を表示するために公開する
	corsExposedHeaders = "Retry-After"
)

// NewCORSMiddleware は地図UIのオリジン（allowedOrigin）からのcredentials付きリクエストを許可する。
// credentialsと併用するためワイルドカードは使わない。OPTIONSプリフライトには204で応答する。
//
// WebSocketのハンドシェイクにはCORSが適用されないため、ライブフィードへのアップグレード要求は
// ヘッダーを付与せずに通し、Originの検証はフィードのハンドラーが行う。
func NewCORSMiddleware(allowedOrigin string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isWebSocketUpgrade(r) {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Origin", allowedOrigin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Expose-Headers", corsExposedHeaders)

			if r.Method == http.MethodOptions {
				h.Set("Access-Control-Allow-Methods", corsAllowedMethods)
				h.Set("Access-Control-Allow-Headers", corsAllowedHeaders)
				h.Set("Access-Control-Max-Age", "86400")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
