package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
)

func TestErrorIs(t *testing.T) {
	tests := []struct {
		err    error
		target error
		want   bool
	}{
		{uninitialized(), ErrUninitialized, true},
		{uninitialized(), ErrNoRecord, false},
		{doesNotExist("c"), ErrNoRecord, true},
		{notFound("c"), ErrNoRecord, true},
		{notFound("c"), ErrInternal, false},
		{internal("read", errBoom), ErrInternal, true},
		{invalid("bad"), ErrInvalid, true},
		{fmt.Errorf("wrapped: %w", notFound("c")), ErrNoRecord, true},
		{errBoom, ErrInternal, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%v/%v", tt.err, tt.target), func(t *testing.T) {
			if got := errors.Is(tt.err, tt.target); got != tt.want {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.want)
			}
		})
	}
}

func TestErrorString(t *testing.T) {
	if got := uninitialized().Error(); got != "uninitialized" {
		t.Errorf("Error() = %q", got)
	}
	if got := notFound("c1").Error(); got != "not-found: Container 'c1' not found." {
		t.Errorf("Error() = %q", got)
	}
	if got := internal("read collection", errBoom).Error(); got != "internal: read collection: boom" {
		t.Errorf("Error() = %q", got)
	}
}

func TestErrorJSON(t *testing.T) {
	b, err := json.Marshal(notFound("c1"))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"error":"not-found","message":"Container 'c1' not found."}`
	if string(b) != want {
		t.Errorf("json = %s, want %s", b, want)
	}
}

func TestTagOf(t *testing.T) {
	if got := TagOf(fmt.Errorf("x: %w", doesNotExist("c"))); got != TagDoesNotExist {
		t.Errorf("TagOf = %q", got)
	}
	if got := TagOf(errBoom); got != TagInternal {
		t.Errorf("TagOf(foreign) = %q, want internal", got)
	}
}

func TestSlogReporter(t *testing.T) {
	var buf bytes.Buffer
	rep := SlogReporter{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}

	rep.Report(context.Background(), notFound("c1"), "registry.delete")
	rep.Report(context.Background(), errBoom, "registry.list")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(lines))
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatal(err)
	}
	if entry["level"] != "WARN" {
		t.Errorf("level = %v, want WARN", entry["level"])
	}
	if entry["identifier"] != "registry.delete" {
		t.Errorf("identifier = %v", entry["identifier"])
	}
	if entry["error"] != `{"error":"not-found","message":"Container 'c1' not found."}` {
		t.Errorf("error payload = %v", entry["error"])
	}

	if err := json.Unmarshal([]byte(lines[1]), &entry); err != nil {
		t.Fatal(err)
	}
	if entry["error"] != `{"message":"boom"}` {
		t.Errorf("foreign error payload = %v", entry["error"])
	}
}
