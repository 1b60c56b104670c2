// Package origin validates browser Origin headers for the HTTP middleware
// and the WebSocket upgrader.
package origin

import (
	"net/url"
	"strconv"
	"strings"
)

// Check validates a browser Origin header value against the request host and
// an optional allowlist, returning the normalized origin for CORS echoing.
//
// With a non-empty allowlist, each entry must be "*", "null", or a normalized
// origin string (scheme://host[:port] with default ports folded). With an
// empty allowlist the policy is same-host only: the origin's host[:port] must
// match the incoming request's Host header. Scheme is deliberately ignored in
// the same-host comparison because the relay may sit behind a TLS-terminating
// reverse proxy and see HTTP while the browser Origin says HTTPS.
func Check(originHeader, requestHost string, allowlist []string) (string, bool) {
	norm, host, ok := normalize(originHeader)
	if !ok {
		return "", false
	}

	if len(allowlist) > 0 {
		for _, allowed := range allowlist {
			if allowed == "*" || allowed == norm {
				return norm, true
			}
		}
		return "", false
	}

	// The special Origin "null" can never satisfy a host-based policy.
	if host == "" {
		return "", false
	}
	scheme := "http"
	if strings.HasPrefix(norm, "https://") {
		scheme = "https"
	}
	reqHost, ok := foldDefaultPort(strings.ToLower(strings.TrimSpace(requestHost)), scheme)
	if !ok || reqHost != host {
		return "", false
	}
	return norm, true
}

// Normalize canonicalizes a configured origin value for allowlist comparison.
// It accepts the same grammar Check accepts for the Origin header itself.
func Normalize(raw string) (string, bool) {
	norm, _, ok := normalize(raw)
	return norm, ok
}

// normalize parses and canonicalizes an Origin header: lowercased scheme and
// host, default ports dropped, anything beyond scheme://host[:port] rejected.
// The special value "null" is allowed and returned as-is.
func normalize(header string) (norm, host string, ok bool) {
	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return "", "", false
	}
	if trimmed == "null" {
		return "null", "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	host, ok = foldDefaultPort(strings.ToLower(u.Host), scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// foldDefaultPort validates a host[:port] authority (IPv6 literals stay
// bracketed) and drops the port when it is the scheme's default.
func foldDefaultPort(hostport, scheme string) (string, bool) {
	if hostport == "" {
		return "", false
	}

	host, port := hostport, ""
	if strings.HasPrefix(hostport, "[") {
		end := strings.IndexByte(hostport, ']')
		if end < 0 {
			return "", false
		}
		host = hostport[:end+1]
		rest := hostport[end+1:]
		if rest != "" {
			if !strings.HasPrefix(rest, ":") || len(rest) == 1 {
				return "", false
			}
			port = rest[1:]
		}
	} else {
		switch strings.Count(hostport, ":") {
		case 0:
		case 1:
			i := strings.IndexByte(hostport, ':')
			host, port = hostport[:i], hostport[i+1:]
			if host == "" || port == "" {
				return "", false
			}
		default:
			// Unbracketed IPv6 literals are not valid authority components.
			return "", false
		}
	}

	if port != "" {
		n, err := strconv.ParseUint(port, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		if (scheme == "http" && n == 80) || (scheme == "https" && n == 443) {
			return host, true
		}
		return host + ":" + strconv.FormatUint(n, 10), true
	}
	return host, true
}
