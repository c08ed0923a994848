package dialer

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rhuss/proxified/pkg/api"
)

// echoServer accepts TCP connections and echoes everything back.
func echoServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				io.Copy(conn, conn)
			}()
		}
	}()
	return ln.Addr().String()
}

// connectProxy handles CONNECT requests, optionally requiring basic auth.
func connectProxy(t *testing.T, user, pass string) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodConnect {
			http.Error(w, "CONNECT only", http.StatusMethodNotAllowed)
			return
		}
		if user != "" {
			want := "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
			if r.Header.Get("Proxy-Authorization") != want {
				w.WriteHeader(http.StatusProxyAuthRequired)
				return
			}
		}
		upstream, err := net.Dial("tcp", r.Host)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		conn, buf, err := w.(http.Hijacker).Hijack()
		if err != nil {
			upstream.Close()
			return
		}
		buf.WriteString("HTTP/1.1 200 Connection Established\r\n\r\n")
		buf.Flush()
		go func() {
			defer upstream.Close()
			io.Copy(upstream, conn)
		}()
		go func() {
			defer conn.Close()
			io.Copy(conn, upstream)
		}()
	})
}

// socks5Server is a minimal RFC 1928 server supporting CONNECT with no
// authentication or username/password (RFC 1929).
func socks5Server(t *testing.T, user, pass string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	serve := func(conn net.Conn) {
		defer conn.Close()
		head := make([]byte, 2)
		if _, err := io.ReadFull(conn, head); err != nil {
			return
		}
		methods := make([]byte, head[1])
		if _, err := io.ReadFull(conn, methods); err != nil {
			return
		}
		if user == "" {
			conn.Write([]byte{5, 0})
		} else {
			conn.Write([]byte{5, 2})
			ver := make([]byte, 2)
			io.ReadFull(conn, ver)
			u := make([]byte, ver[1])
			io.ReadFull(conn, u)
			plen := make([]byte, 1)
			io.ReadFull(conn, plen)
			p := make([]byte, plen[0])
			io.ReadFull(conn, p)
			if string(u) != user || string(p) != pass {
				conn.Write([]byte{1, 1})
				return
			}
			conn.Write([]byte{1, 0})
		}

		req := make([]byte, 4)
		if _, err := io.ReadFull(conn, req); err != nil {
			return
		}
		var host string
		switch req[3] {
		case 1:
			ip := make([]byte, 4)
			io.ReadFull(conn, ip)
			host = net.IP(ip).String()
		case 3:
			l := make([]byte, 1)
			io.ReadFull(conn, l)
			name := make([]byte, l[0])
			io.ReadFull(conn, name)
			host = string(name)
		default:
			return
		}
		portBytes := make([]byte, 2)
		io.ReadFull(conn, portBytes)
		target := net.JoinHostPort(host, strconv.Itoa(int(binary.BigEndian.Uint16(portBytes))))

		upstream, err := net.Dial("tcp", target)
		if err != nil {
			conn.Write([]byte{5, 5, 0, 1, 0, 0, 0, 0, 0, 0})
			return
		}
		defer upstream.Close()
		conn.Write([]byte{5, 0, 0, 1, 127, 0, 0, 1, 0, 0})
		go io.Copy(upstream, conn)
		io.Copy(conn, upstream)
	}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serve(conn)
		}
	}()
	return ln.Addr().String()
}

func descriptorFor(t *testing.T, typ, addr, user, pass string) api.ProxyDescriptor {
	t.Helper()
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split %q: %v", addr, err)
	}
	return api.ProxyDescriptor{Type: typ, Username: user, Password: pass, Host: host, Port: port}
}

func assertEcho(t *testing.T, conn net.Conn) {
	t.Helper()
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Write([]byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf) != "ping" {
		t.Errorf("echo = %q, want ping", buf)
	}
}

func TestDirect(t *testing.T) {
	target := echoServer(t)
	d, err := New(api.DirectProxy)
	if err != nil {
		t.Fatalf("New(direct): %v", err)
	}
	conn, err := d.DialContext(context.Background(), "tcp", target)
	if err != nil {
		t.Fatalf("DialContext: %v", err)
	}
	assertEcho(t, conn)
}

func TestHTTPConnect(t *testing.T) {
	target := echoServer(t)

	tests := []struct {
		name       string
		serverUser string
		user, pass string
		wantErr    string
	}{
		{"no auth", "", "", "", ""},
		{"basic auth", "alice", "alice", "secret", ""},
		{"wrong password", "alice", "alice", "wrong", "407"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(connectProxy(t, tt.serverUser, "secret"))
			t.Cleanup(srv.Close)

			d, err := New(descriptorFor(t, "http", srv.Listener.Addr().String(), tt.user, tt.pass))
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			conn, err := d.DialContext(context.Background(), "tcp", target)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("DialContext error = %v, want it to contain %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DialContext: %v", err)
			}
			assertEcho(t, conn)
		})
	}
}

func TestHTTPSConnect(t *testing.T) {
	target := echoServer(t)
	srv := httptest.NewTLSServer(connectProxy(t, "", ""))
	t.Cleanup(srv.Close)

	pool := x509.NewCertPool()
	pool.AddCert(srv.Certificate())

	d, err := New(descriptorFor(t, "https", srv.Listener.Addr().String(), "", ""),
		WithTLSConfig(&tls.Config{RootCAs: pool}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	conn, err := d.DialContext(context.Background(), "tcp", target)
	if err != nil {
		t.Fatalf("DialContext: %v", err)
	}
	assertEcho(t, conn)
}

func TestSOCKS5(t *testing.T) {
	target := echoServer(t)

	t.Run("no auth", func(t *testing.T) {
		d, err := New(descriptorFor(t, "socks", socks5Server(t, "", ""), "", ""))
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		conn, err := d.DialContext(context.Background(), "tcp", target)
		if err != nil {
			t.Fatalf("DialContext: %v", err)
		}
		assertEcho(t, conn)
	})

	t.Run("username and password", func(t *testing.T) {
		d, err := New(descriptorFor(t, "socks", socks5Server(t, "bob", "hunter2"), "bob", "hunter2"))
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		conn, err := d.DialContext(context.Background(), "tcp", target)
		if err != nil {
			t.Fatalf("DialContext: %v", err)
		}
		assertEcho(t, conn)
	})

	t.Run("rejected credentials", func(t *testing.T) {
		d, err := New(descriptorFor(t, "socks", socks5Server(t, "bob", "hunter2"), "bob", "nope"))
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if _, err := d.DialContext(context.Background(), "tcp", target); err == nil {
			t.Error("DialContext succeeded with wrong credentials")
		}
	})
}

func TestUnsupportedAndInvalid(t *testing.T) {
	if _, err := New(api.ProxyDescriptor{Type: "socks4", Host: "10.0.0.1", Port: "1080"}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("New(socks4) error = %v, want ErrUnsupported", err)
	}
	if _, err := New(api.ProxyDescriptor{Type: "http"}); err == nil {
		t.Error("New(http without host) succeeded")
	}
}

func TestHostPortDefaults(t *testing.T) {
	tests := []struct {
		p    api.ProxyDescriptor
		def  string
		want string
	}{
		{api.ProxyDescriptor{Type: "http", Host: "proxy.example.com"}, DefaultHTTPPort, "proxy.example.com:80"},
		{api.ProxyDescriptor{Type: "socks", Host: "10.0.0.1"}, DefaultSOCKSPort, "10.0.0.1:1080"},
		{api.ProxyDescriptor{Type: "https", Host: "proxy.example.com", Port: "8443"}, DefaultHTTPSPort, "proxy.example.com:8443"},
	}
	for _, tt := range tests {
		if got := hostPort(tt.p, tt.def); got != tt.want {
			t.Errorf("hostPort(%+v) = %q, want %q", tt.p, got, tt.want)
		}
	}
}

func TestProbe(t *testing.T) {
	target := echoServer(t)

	res, err := Probe(context.Background(), api.DirectProxy, target)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if res.Target != target || res.Proxy != "direct" {
		t.Errorf("Probe = %+v, want target %s via direct", res, target)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	closed := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := Probe(ctx, api.DirectProxy, closed); err == nil {
		t.Error("Probe to a closed port succeeded")
	}
}

type slowDialer struct{ release chan struct{} }

func (d slowDialer) Dial(network, addr string) (net.Conn, error) {
	<-d.release
	return nil, errors.New("released")
}

func TestDialContextCancel(t *testing.T) {
	d := slowDialer{release: make(chan struct{})}
	defer close(d.release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := dialContext(ctx, d, "tcp", "127.0.0.1:1"); !errors.Is(err, context.Canceled) {
		t.Errorf("dialContext error = %v, want context.Canceled", err)
	}
}
