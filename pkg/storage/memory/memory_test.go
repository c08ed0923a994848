package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/rhuss/proxified/pkg/storage"
	"github.com/rhuss/proxified/pkg/storage/storagetest"
)

func TestBackendContract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Backend {
		return New()
	})
}

func TestGetReturnsCopy(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("abc")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	v, _, _ := s.Get(ctx, "k")
	v[0] = 'x'

	again, _, _ := s.Get(ctx, "k")
	if string(again) != "abc" {
		t.Errorf("stored value mutated through returned slice: %q", again)
	}
}

func TestClosed(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.Close()

	if _, _, err := s.Get(ctx, "k"); !errors.Is(err, storage.ErrClosed) {
		t.Errorf("Get after Close: expected ErrClosed, got %v", err)
	}
	if err := s.Set(ctx, "k", nil); !errors.Is(err, storage.ErrClosed) {
		t.Errorf("Set after Close: expected ErrClosed, got %v", err)
	}
	if err := s.HealthCheck(ctx); !errors.Is(err, storage.ErrClosed) {
		t.Errorf("HealthCheck after Close: expected ErrClosed, got %v", err)
	}
}

func TestCancelledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, _, err := s.Get(ctx, "k"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
