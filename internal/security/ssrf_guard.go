package security

import (
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// ErrUnsafeEndpoint はGEOCODE_URLが内部ネットワークを指している、
// またはセーフクライアントで到達できない場合に返される。
var ErrUnsafeEndpoint = errors.New("unsafe geocode endpoint")

var (
	endpointSchemes = []string{"http", "https"}
	endpointPorts   = []int{80, 443}
)

// blockedPrefixes はGEOCODE_URLとして指定できないアドレス範囲。
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"), // CGNAT
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"), // メタデータサーバー(169.254.169.254)を含む
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("::/128"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

// blockedHostnames はDNSを引かずに拒否するホスト名。GCP上ではメタデータサーバーに名前で到達できる。
var blockedHostnames = []string{
	"localhost",
	"metadata",
	"metadata.google.internal",
}

// SSRFGuard は地名検索APIへの接続先を公開インターネットに限定する。
// GEOCODE_URLは環境変数で差し替えられるため、起動時の静的検証（ValidateEndpoint）と
// 接続時のIP検証（NewSafeClient）の両方で使う。
type SSRFGuard struct{}

// NewSSRFGuard はSSRFGuardを生成する。
func NewSSRFGuard() *SSRFGuard {
	return &SSRFGuard{}
}

// NewSafeClient は名前解決後のIPアドレスを検査するHTTPクライアントを返す。
// DNSリバインディングで内部アドレスに解決された場合もここで拒否される。
func (g *SSRFGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(endpointSchemes...).
		SetAllowedPorts(endpointPorts...).
		Build()
	return safeurl.Client(config).Client
}

// ValidateEndpoint はGEOCODE_URLをDNS解決せずに検証する。
// 認証情報を含むURLはログに残るため拒否する。
func (g *SSRFGuard) ValidateEndpoint(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("%w: empty URL", ErrUnsafeEndpoint)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsafeEndpoint, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if !contains(endpointSchemes, scheme) {
		return fmt.Errorf("%w: scheme %q is not http or https", ErrUnsafeEndpoint, u.Scheme)
	}
	if u.User != nil {
		return fmt.Errorf("%w: credentials in URL", ErrUnsafeEndpoint)
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrUnsafeEndpoint)
	}
	if port := u.Port(); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || !contains(endpointPorts, n) {
			return fmt.Errorf("%w: port %s is not allowed", ErrUnsafeEndpoint, port)
		}
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if isBlockedAddr(addr) {
			return fmt.Errorf("%w: address %s is not public", ErrUnsafeEndpoint, addr)
		}
		return nil
	}
	if isBlockedHostname(host) {
		return fmt.Errorf("%w: host %s is not public", ErrUnsafeEndpoint, host)
	}
	return nil
}

func isBlockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap().WithZone("")
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func isBlockedHostname(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if strings.HasSuffix(host, ".localhost") {
		return true
	}
	return contains(blockedHostnames, host)
}

func contains[T comparable](list []T, v T) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
