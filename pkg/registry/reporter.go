package registry

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/rhuss/proxified/pkg/observability"
)

// Reporter is a write-only diagnostic sink for failures that are worth an
// operator's attention (storage outages, corrupt stored data). It is never
// consulted for control flow.
type Reporter interface {
	Report(ctx context.Context, err error, identifier string)
}

// ReporterFunc adapts a function to the Reporter interface.
type ReporterFunc func(ctx context.Context, err error, identifier string)

// Report calls f.
func (f ReporterFunc) Report(ctx context.Context, err error, identifier string) {
	f(ctx, err, identifier)
}

// SlogReporter writes each report as a warning with the JSON-encoded error
// payload and the provenance identifier.
type SlogReporter struct {
	Logger *slog.Logger
}

// Report implements Reporter.
func (r SlogReporter) Report(ctx context.Context, err error, identifier string) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	observability.RegistryReportsTotal.WithLabelValues(identifier).Inc()
	logger.WarnContext(ctx, "proxified registry error",
		"identifier", identifier,
		"error", errorPayload(err),
	)
}

// errorPayload renders err as JSON. Tagged errors keep their wire shape;
// anything else becomes {"message": ...}.
func errorPayload(err error) string {
	var v any = map[string]string{"message": err.Error()}
	var re *Error
	if errors.As(err, &re) {
		v = re
	}
	b, mErr := json.Marshal(v)
	if mErr != nil {
		return err.Error()
	}
	return string(b)
}
