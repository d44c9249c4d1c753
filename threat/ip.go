package threat

import (
	"net"
	"strings"
)

// ClientIP extracts the real client address from forwarded headers and
// the transport-level remote address. Forwarded headers are only
// consulted when trustProxy is set; otherwise anyone could spoof their
// way off the blocklist.
//
// X-Forwarded-For is "client, proxy1, proxy2, ..." with the proxies we
// control appended rightmost. trustedProxyCount says how many entries to
// trust from the right; zero assumes one.
func ClientIP(headers map[string]string, remoteAddr string, trustProxy bool, trustedProxyCount int) string {
	if trustProxy {
		if ip := fromForwardedFor(headerValue(headers, "X-Forwarded-For"), trustedProxyCount); ip != "" {
			return ip
		}
		if ip := validIP(headerValue(headers, "X-Real-IP")); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func fromForwardedFor(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}

	ips := strings.Split(xff, ",")
	if trustedProxyCount == 0 {
		trustedProxyCount = 1
	}
	idx := len(ips) - trustedProxyCount - 1
	if idx < 0 {
		idx = 0
	}
	return validIP(strings.TrimSpace(ips[idx]))
}

func validIP(s string) string {
	if s == "" || net.ParseIP(s) == nil {
		return ""
	}
	return s
}

func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
