package http

import (
	"context"
	"net"
	gohttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rhuss/proxified/pkg/registry"
	"github.com/rhuss/proxified/pkg/storage/memory"
	"github.com/rhuss/proxified/pkg/transport"
)

func newRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	store := memory.New()
	t.Cleanup(func() { store.Close() })
	return registry.New(store)
}

func TestServerStartsAndAcceptsRequests(t *testing.T) {
	srv := NewServer(newRegistry(t), WithShutdownTimeout(time.Second))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen error: %v", err)
	}
	addr := ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	var resp *gohttp.Response
	for i := 0; i < 50; i++ {
		resp, err = gohttp.Get("http://" + addr + "/healthz")
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != gohttp.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, gohttp.StatusOK)
	}
	if resp.Header.Get(transport.RequestIDHeader) == "" {
		t.Error("expected X-Request-ID on response")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestServerAppliesMiddlewareAndMounts(t *testing.T) {
	var sawAuth bool
	authMW := func(next gohttp.Handler) gohttp.Handler {
		return gohttp.HandlerFunc(func(w gohttp.ResponseWriter, r *gohttp.Request) {
			sawAuth = true
			next.ServeHTTP(w, r)
		})
	}
	extra := gohttp.HandlerFunc(func(w gohttp.ResponseWriter, r *gohttp.Request) {
		w.Write([]byte("mounted"))
	})

	srv := NewServer(newRegistry(t),
		WithMiddleware(authMW),
		WithHandler("GET /extra", extra),
	)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/extra", nil))

	if !sawAuth {
		t.Error("custom middleware was not applied")
	}
	if !strings.Contains(rec.Body.String(), "mounted") {
		t.Errorf("body = %q, want mounted handler output", rec.Body.String())
	}
}

func TestServerRecoversPanics(t *testing.T) {
	boom := gohttp.HandlerFunc(func(w gohttp.ResponseWriter, r *gohttp.Request) {
		panic("kaboom")
	})
	srv := NewServer(newRegistry(t), WithHandler("GET /boom", boom))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/boom", nil))

	if rec.Code != gohttp.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestServerFunctionalOptions(t *testing.T) {
	srv := NewServer(newRegistry(t),
		WithAddr(":9999"),
		WithMaxBodySize(1024),
		WithTimeouts(5*time.Second, 7*time.Second),
		WithShutdownTimeout(10*time.Second),
	)

	if srv.config.Addr != ":9999" {
		t.Errorf("addr = %q, want %q", srv.config.Addr, ":9999")
	}
	if srv.config.MaxBodySize != 1024 {
		t.Errorf("max body size = %d, want %d", srv.config.MaxBodySize, 1024)
	}
	if srv.httpServer.ReadTimeout != 5*time.Second || srv.httpServer.WriteTimeout != 7*time.Second {
		t.Errorf("timeouts = %v/%v, want 5s/7s", srv.httpServer.ReadTimeout, srv.httpServer.WriteTimeout)
	}
	if srv.config.ShutdownTimeout != 10*time.Second {
		t.Errorf("shutdown timeout = %v, want %v", srv.config.ShutdownTimeout, 10*time.Second)
	}
}
