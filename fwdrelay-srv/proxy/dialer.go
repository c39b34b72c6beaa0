package proxy

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	ahocorasick "github.com/BobuSumisu/aho-corasick"
	"github.com/codefionn/fwdrelay/fwdrelay-srv/config"
	"github.com/codefionn/fwdrelay/fwdrelay-srv/logger"
	"golang.org/x/net/proxy"
)

// domainMatcher matches a host against a domain list. A host matches a
// domain when it is equal to it or one of its subdomains.
type domainMatcher struct {
	trie       *ahocorasick.Trie
	domainList []string
}

func newDomainMatcher(domains []string) *domainMatcher {
	if len(domains) == 0 {
		return nil
	}
	return &domainMatcher{
		trie:       ahocorasick.NewTrieBuilder().AddStrings(domains).Build(),
		domainList: domains,
	}
}

// Match reports whether host is one of the domains or below one of them.
// A nil matcher matches every host.
func (m *domainMatcher) Match(host string) bool {
	if m == nil {
		return true
	}
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	for _, match := range m.trie.MatchString(host) {
		domain := m.domainList[match.Pattern()]
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

type forwardRule struct {
	fwd     config.Forward
	matcher *domainMatcher
}

// Dialer opens outbound connections, routing them through the first
// forward rule whose domains match the target host.
type Dialer struct {
	rules   []forwardRule
	timeout time.Duration
}

// NewDialer compiles the forward rules of cfg.
func NewDialer(cfg *config.Config) *Dialer {
	d := &Dialer{
		timeout: time.Duration(cfg.DialTimeoutSeconds) * time.Second,
	}
	for i, fwd := range cfg.Forwards {
		logger.Debug("Forward[%d] %s for domains %v", i, fwd.Type(), fwd.Domains())
		d.rules = append(d.rules, forwardRule{
			fwd:     fwd,
			matcher: newDomainMatcher(fwd.Domains()),
		})
	}
	return d
}

func (d *Dialer) selectForward(host string) config.Forward {
	for _, rule := range d.rules {
		if rule.matcher.Match(host) {
			return rule.fwd
		}
	}
	return nil
}

func (d *Dialer) netDialer(forceIPv4 bool) *net.Dialer {
	dialer := &net.Dialer{Timeout: d.timeout}
	if forceIPv4 {
		dialer.FallbackDelay = -1
	}
	return dialer
}

func tcpNetwork(forceIPv4 bool) string {
	if forceIPv4 {
		return "tcp4"
	}
	return "tcp"
}

// DialTarget opens a connection to target. Failures are *Error values.
func (d *Dialer) DialTarget(ctx context.Context, target TargetAddress) (net.Conn, error) {
	addr := target.String()
	selected := d.selectForward(target.Host)

	var conn net.Conn
	var err error

	switch fwd := selected.(type) {
	case nil:
		logger.Debug("No forward rule matched for %s, using direct connection", addr)
		conn, err = d.netDialer(false).DialContext(ctx, "tcp", addr)
		if err != nil {
			err = newCodedError(ErrCodeDialFailed, fmt.Errorf("direct dial to %s: %w", addr, err))
		}
	case *config.ForwardDefaultNetwork:
		logger.Debug("Using default network forward for %s", addr)
		conn, err = d.netDialer(fwd.ForceIPv4).DialContext(ctx, tcpNetwork(fwd.ForceIPv4), addr)
		if err != nil {
			err = newCodedError(ErrCodeDialFailed, fmt.Errorf("default network dial to %s: %w", addr, err))
		}
	case *config.ForwardSocks5:
		logger.Debug("Using SOCKS5 forward (%s) for %s", fwd.Address, addr)
		conn, err = d.dialSocks5(ctx, fwd, addr)
	case *config.ForwardProxy:
		logger.Debug("Using proxy forward (%s) for %s", fwd.Address, addr)
		conn, err = d.dialHTTPProxy(ctx, fwd, addr)
	default:
		err = newCodedError(ErrCodeUnknownProxyType, fmt.Errorf("forward type %T selected for %s", selected, addr))
	}

	if err != nil {
		return nil, err
	}
	return conn, nil
}

// dialSocks5 establishes a connection to the target via a SOCKS5 proxy
func (d *Dialer) dialSocks5(ctx context.Context, fwd *config.ForwardSocks5, addr string) (net.Conn, error) {
	var auth *proxy.Auth
	if fwd.Username != nil {
		auth = &proxy.Auth{User: *fwd.Username}
		if fwd.Password != nil {
			auth.Password = *fwd.Password
		}
	}

	network := tcpNetwork(fwd.ForceIPv4)
	socksDialer, err := proxy.SOCKS5(network, fwd.Address, auth, d.netDialer(fwd.ForceIPv4))
	if err != nil {
		return nil, newCodedError(ErrCodeSOCKS5DialerFailed, fmt.Errorf("proxy %s: %w", fwd.Address, err))
	}

	var conn net.Conn
	if ctxDialer, ok := socksDialer.(proxy.ContextDialer); ok {
		conn, err = ctxDialer.DialContext(ctx, network, addr)
	} else {
		conn, err = socksDialer.Dial(network, addr)
	}
	if err != nil {
		return nil, newCodedError(ErrCodeSOCKS5ConnectFailed, fmt.Errorf("target %s via SOCKS5 proxy %s: %w", addr, fwd.Address, err))
	}
	return conn, nil
}

// dialHTTPProxy establishes a connection to the target via an upstream
// HTTP proxy using CONNECT
func (d *Dialer) dialHTTPProxy(ctx context.Context, fwd *config.ForwardProxy, addr string) (net.Conn, error) {
	proxyConn, err := d.netDialer(fwd.ForceIPv4).DialContext(ctx, tcpNetwork(fwd.ForceIPv4), fwd.Address)
	if err != nil {
		return nil, newCodedError(ErrCodeHTTPProxyDialFailed, fmt.Errorf("proxy server %s: %w", fwd.Address, err))
	}

	closeProxyConn := func() {
		if closeErr := proxyConn.Close(); closeErr != nil {
			logger.Error("Error closing proxy connection: %v", closeErr)
		}
	}

	connectReq, err := http.NewRequestWithContext(ctx, http.MethodConnect, "http://"+addr, http.NoBody)
	if err != nil {
		closeProxyConn()
		return nil, newCodedError(ErrCodeCONNECTRequestFailed, fmt.Errorf("creating for target %s: %w", addr, err))
	}
	connectReq.Host = addr
	connectReq.Header.Set("User-Agent", "fwdrelay/1.0")
	if fwd.Username != nil {
		password := ""
		if fwd.Password != nil {
			password = *fwd.Password
		}
		credentials := base64.StdEncoding.EncodeToString([]byte(*fwd.Username + ":" + password))
		connectReq.Header.Set("Proxy-Authorization", "Basic "+credentials)
	}

	if err := connectReq.Write(proxyConn); err != nil {
		closeProxyConn()
		return nil, newCodedError(ErrCodeCONNECTRequestFailed, fmt.Errorf("sending to proxy %s: %w", fwd.Address, err))
	}

	proxyReader := bufio.NewReader(proxyConn)
	connectResp, err := http.ReadResponse(proxyReader, connectReq)
	if err != nil {
		closeProxyConn()
		return nil, newCodedError(ErrCodeCONNECTResponseFailed, fmt.Errorf("reading from proxy %s: %w", fwd.Address, err))
	}

	if connectResp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(connectResp.Body, 512))
		_ = connectResp.Body.Close()
		closeProxyConn()

		var code string
		switch connectResp.StatusCode {
		case http.StatusProxyAuthRequired:
			code = ErrCodeProxyAuthFailed
		case http.StatusForbidden:
			code = ErrCodeProxyDenied
		default:
			code = ErrCodeHTTPProxyConnectFailed
		}
		return nil, newCodedError(code, fmt.Errorf("proxy %s rejected CONNECT to %s with status %s: %s",
			fwd.Address, addr, connectResp.Status, strings.TrimSpace(string(bodyBytes))))
	}

	logger.Debug("CONNECT tunnel established via proxy %s to %s", fwd.Address, addr)

	// Bytes the origin sent right after the 200 may already sit in proxyReader
	if n := proxyReader.Buffered(); n > 0 {
		buf, _ := proxyReader.Peek(n)
		return &bufferConn{Conn: proxyConn, buf: append([]byte(nil), buf...)}, nil
	}
	return proxyConn, nil
}

// bufferConn replays buf before reading from the wrapped connection
type bufferConn struct {
	net.Conn
	buf []byte
}

func (bc *bufferConn) Read(b []byte) (int, error) {
	if len(bc.buf) > 0 {
		n := copy(b, bc.buf)
		bc.buf = bc.buf[n:]
		return n, nil
	}
	return bc.Conn.Read(b)
}
