// Package dialer turns proxy descriptors into network dialers so a
// container's mapping can be exercised outside the browser.
package dialer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/proxy"

	"github.com/rhuss/proxified/pkg/api"
	"github.com/rhuss/proxified/pkg/debug"
)

// ErrUnsupported is returned for proxy types without a dialer.
var ErrUnsupported = errors.New("dialer: unsupported proxy type")

// Default ports used when a descriptor carries none.
const (
	DefaultHTTPPort  = "80"
	DefaultHTTPSPort = "443"
	DefaultSOCKSPort = "1080"
)

type options struct {
	forward   proxy.Dialer
	tlsConfig *tls.Config
	timeout   time.Duration
}

// Option configures New.
type Option func(*options)

// WithForward sets the dialer used to reach the proxy itself.
func WithForward(d proxy.Dialer) Option {
	return func(o *options) { o.forward = d }
}

// WithTLSConfig sets the TLS configuration for https proxies.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(o *options) { o.tlsConfig = cfg }
}

// WithTimeout bounds connecting to the proxy. Zero means no bound.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// New returns a dialer that connects through p.
func New(p api.ProxyDescriptor, opts ...Option) (proxy.ContextDialer, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.forward == nil {
		o.forward = &net.Dialer{Timeout: o.timeout}
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("dialer: %w", err)
	}

	switch p.Type {
	case api.ProxyTypeDirect:
		return contextDialer{o.forward}, nil

	case api.ProxyTypeSOCKS:
		var auth *proxy.Auth
		if p.Username != "" {
			auth = &proxy.Auth{User: p.Username, Password: p.Password}
		}
		d, err := proxy.SOCKS5("tcp", hostPort(p, DefaultSOCKSPort), auth, o.forward)
		if err != nil {
			return nil, fmt.Errorf("dialer: socks5: %w", err)
		}
		return contextDialer{d}, nil

	case api.ProxyTypeHTTP, api.ProxyTypeHTTPS:
		d := &connectDialer{
			proxyAddr: hostPort(p, DefaultHTTPPort),
			username:  p.Username,
			password:  p.Password,
			forward:   o.forward,
		}
		if p.Type == api.ProxyTypeHTTPS {
			d.proxyAddr = hostPort(p, DefaultHTTPSPort)
			d.tlsConfig = o.tlsConfig
			if d.tlsConfig == nil {
				d.tlsConfig = &tls.Config{}
			}
		}
		return d, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, p.Type)
	}
}

func hostPort(p api.ProxyDescriptor, defaultPort string) string {
	port := p.Port
	if port == "" {
		port = defaultPort
	}
	return net.JoinHostPort(p.Host, port)
}

// contextDialer adapts a proxy.Dialer to proxy.ContextDialer.
type contextDialer struct {
	proxy.Dialer
}

func (d contextDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return dialContext(ctx, d.Dialer, network, addr)
}

// dialContext dials with ctx when d supports it. Otherwise the dial runs in
// the background and its connection is closed if ctx ends first.
func dialContext(ctx context.Context, d proxy.Dialer, network, addr string) (net.Conn, error) {
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, network, addr)
	}

	type result struct {
		conn net.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := d.Dial(network, addr)
		done <- result{conn, err}
	}()

	select {
	case r := <-done:
		return r.conn, r.err
	case <-ctx.Done():
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// ProbeResult reports a successful connection through a proxy.
type ProbeResult struct {
	Target  string
	Proxy   string
	Latency time.Duration
}

// Probe opens and closes a TCP connection to target through p.
func Probe(ctx context.Context, p api.ProxyDescriptor, target string, opts ...Option) (ProbeResult, error) {
	d, err := New(p, opts...)
	if err != nil {
		return ProbeResult{}, err
	}

	start := time.Now()
	conn, err := d.DialContext(ctx, "tcp", target)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("dialer: probe %s via %s: %w", target, p.Redacted(), err)
	}
	latency := time.Since(start)
	conn.Close()

	debug.Log("dialer", "probe succeeded", "target", target, "proxy", p.Redacted(), "latency", latency)
	return ProbeResult{Target: target, Proxy: p.Redacted(), Latency: latency}, nil
}
