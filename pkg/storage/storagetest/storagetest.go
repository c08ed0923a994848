// Package storagetest holds the behavioral contract every storage.Backend
// implementation is tested against.
package storagetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/rhuss/proxified/pkg/storage"
)

// Factory returns a fresh, empty backend. Cleanup is the factory's job.
type Factory func(t *testing.T) storage.Backend

// Run executes the contract against backends produced by newBackend.
// Values are JSON documents because some backends normalize stored JSON.
func Run(t *testing.T, newBackend Factory) {
	t.Helper()

	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newBackend(t)) })
	t.Run("SetAndGet", func(t *testing.T) { testSetAndGet(t, newBackend(t)) })
	t.Run("Overwrite", func(t *testing.T) { testOverwrite(t, newBackend(t)) })
	t.Run("KeysIsolated", func(t *testing.T) { testKeysIsolated(t, newBackend(t)) })
	t.Run("UpdateMissing", func(t *testing.T) { testUpdateMissing(t, newBackend(t)) })
	t.Run("UpdateAbort", func(t *testing.T) { testUpdateAbort(t, newBackend(t)) })
	t.Run("ConcurrentUpdates", func(t *testing.T) { testConcurrentUpdates(t, newBackend(t)) })
	t.Run("HealthCheck", func(t *testing.T) { testHealthCheck(t, newBackend(t)) })
}

func testGetMissing(t *testing.T, b storage.Backend) {
	v, found, err := b.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get(missing) error: %v", err)
	}
	if found {
		t.Errorf("Get(missing) found = true, value %q", v)
	}
}

func testSetAndGet(t *testing.T, b storage.Backend) {
	ctx := context.Background()

	want := `[{"cookieStoreId":"firefox-default","proxy":{"type":"http","host":"example.com","port":"8080"}}]`
	if err := b.Set(ctx, "k", []byte(want)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, found, err := b.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !found {
		t.Fatal("Get: found = false after Set")
	}
	assertJSONEqual(t, got, want)
}

func testOverwrite(t *testing.T, b storage.Backend) {
	ctx := context.Background()

	if err := b.Set(ctx, "k", []byte(`[1]`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := b.Set(ctx, "k", []byte(`[2]`)); err != nil {
		t.Fatalf("second Set failed: %v", err)
	}

	got, _, err := b.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	assertJSONEqual(t, got, `[2]`)
}

func testKeysIsolated(t *testing.T, b storage.Backend) {
	ctx := context.Background()

	b.Set(ctx, "a", []byte(`"first"`))
	b.Set(ctx, "tenant/x/a", []byte(`"second"`))

	got, _, _ := b.Get(ctx, "a")
	assertJSONEqual(t, got, `"first"`)
	got, _, _ = b.Get(ctx, "tenant/x/a")
	assertJSONEqual(t, got, `"second"`)
}

func testUpdateMissing(t *testing.T, b storage.Backend) {
	ctx := context.Background()

	var sawFound bool
	err := b.Update(ctx, "fresh", func(cur []byte, found bool) ([]byte, error) {
		sawFound = found
		return []byte(`[]`), nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if sawFound {
		t.Error("Update on a fresh key reported found = true")
	}

	got, found, err := b.Get(ctx, "fresh")
	if err != nil || !found {
		t.Fatalf("Get after Update: found=%v err=%v", found, err)
	}
	assertJSONEqual(t, got, `[]`)
}

func testUpdateAbort(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	errStop := errors.New("stop")

	b.Set(ctx, "k", []byte(`["keep"]`))

	err := b.Update(ctx, "k", func(cur []byte, found bool) ([]byte, error) {
		return []byte(`["lost"]`), errStop
	})
	if !errors.Is(err, errStop) {
		t.Fatalf("Update error = %v, want callback error", err)
	}

	got, _, _ := b.Get(ctx, "k")
	assertJSONEqual(t, got, `["keep"]`)
}

func testConcurrentUpdates(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	const writers = 16

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- b.Update(ctx, "counter", func(cur []byte, found bool) ([]byte, error) {
				var list []int
				if found {
					if err := json.Unmarshal(cur, &list); err != nil {
						return nil, err
					}
				}
				list = append(list, i)
				return json.Marshal(list)
			})
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}
	}

	got, _, err := b.Get(ctx, "counter")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	var list []int
	if err := json.Unmarshal(got, &list); err != nil {
		t.Fatalf("decoding %q: %v", got, err)
	}
	if len(list) != writers {
		t.Errorf("len(list) = %d, want %d (lost updates)", len(list), writers)
	}
}

func testHealthCheck(t *testing.T, b storage.Backend) {
	if err := b.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}
}

func assertJSONEqual(t *testing.T, got []byte, want string) {
	t.Helper()

	var g, w any
	if err := json.Unmarshal(got, &g); err != nil {
		t.Fatalf("stored value %q is not JSON: %v", got, err)
	}
	if err := json.Unmarshal([]byte(want), &w); err != nil {
		panic(fmt.Sprintf("bad test fixture %q: %v", want, err))
	}
	if !reflect.DeepEqual(g, w) {
		t.Errorf("value = %s, want %s", got, want)
	}
}
