package proxy

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

const (
	defaultHTTPPort    = 80
	defaultConnectPort = 443
)

// TargetAddress is the origin host and port a request is sent to
type TargetAddress struct {
	Host string
	Port int
}

// String returns host:port, bracketing IPv6 literals.
func (t TargetAddress) String() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// ResolveHTTPTarget derives the origin address and the origin-form
// path+query from a plain-HTTP request-target.
func ResolveHTTPTarget(target string) (TargetAddress, string, error) {
	raw := target
	if !hasSchemePrefix(target) {
		raw = "http://" + target
	}

	u, err := url.Parse(raw)
	if err != nil {
		return TargetAddress{}, "", newCodedError(ErrCodeInvalidAddress, fmt.Errorf("request-target %q: %w", target, err))
	}
	if !strings.EqualFold(u.Scheme, "http") {
		return TargetAddress{}, "", newCodedError(ErrCodeUnsupportedScheme, fmt.Errorf("request-target %q uses scheme %q", target, u.Scheme))
	}

	host := u.Hostname()
	if host == "" {
		return TargetAddress{}, "", newCodedError(ErrCodeInvalidAddress, fmt.Errorf("request-target %q has no host", target))
	}

	port := defaultHTTPPort
	if p := u.Port(); p != "" {
		port, err = parsePort(p)
		if err != nil {
			return TargetAddress{}, "", err
		}
	}

	return TargetAddress{Host: host, Port: port}, u.RequestURI(), nil
}

// hasSchemePrefix reports whether target starts with "scheme://", where
// scheme is ALPHA *( ALPHA / DIGIT / "+" / "-" / "." ).
func hasSchemePrefix(target string) bool {
	i := strings.Index(target, "://")
	if i <= 0 {
		return false
	}
	for j, c := range target[:i] {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case j > 0 && (c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.'):
		default:
			return false
		}
	}
	return true
}

// ResolveConnectTarget derives the origin address from a CONNECT
// authority (host:port). The port defaults to 443 when absent.
func ResolveConnectTarget(target string) (TargetAddress, error) {
	if strings.HasPrefix(target, "[") {
		if !strings.Contains(target, "]:") {
			host := strings.TrimSuffix(strings.TrimPrefix(target, "["), "]")
			if host == "" || !strings.HasSuffix(target, "]") {
				return TargetAddress{}, newCodedError(ErrCodeInvalidAddress, fmt.Errorf("authority %q", target))
			}
			return TargetAddress{Host: host, Port: defaultConnectPort}, nil
		}
		host, portStr, err := net.SplitHostPort(target)
		if err != nil {
			return TargetAddress{}, newCodedError(ErrCodeInvalidAddress, fmt.Errorf("authority %q: %w", target, err))
		}
		port, err := parsePort(portStr)
		if err != nil {
			return TargetAddress{}, err
		}
		return TargetAddress{Host: host, Port: port}, nil
	}

	host, portStr, hasPort := strings.Cut(target, ":")
	if host == "" {
		return TargetAddress{}, newCodedError(ErrCodeInvalidAddress, fmt.Errorf("authority %q has no host", target))
	}
	if !hasPort {
		return TargetAddress{Host: host, Port: defaultConnectPort}, nil
	}

	port, err := parsePort(portStr)
	if err != nil {
		return TargetAddress{}, err
	}
	return TargetAddress{Host: host, Port: port}, nil
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, newCodedError(ErrCodeInvalidPort, fmt.Errorf("port %q: %w", s, err))
	}
	if port < 1 || port > 65535 {
		return 0, newCodedError(ErrCodeInvalidPort, fmt.Errorf("port %d out of range", port))
	}
	return port, nil
}
