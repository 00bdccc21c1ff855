package web

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/JonMunkholm/prospects/internal/core"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"import slots full", fmt.Errorf("confirm import: %w", core.ErrTooManyImports), http.StatusTooManyRequests},
		{"file too large", core.ErrFileTooLarge, http.StatusRequestEntityTooLarge},
		{"bad transition", fmt.Errorf("run import: %w", core.ErrInvalidTransition), http.StatusConflict},
		{"not permitted", core.ErrNotPermitted, http.StatusForbidden},
		{"unknown table", core.NewNotFoundError("table", "nope"), http.StatusNotFound},
		{"validation", core.NewValidationError("page", 0, "page must be at least 1"), http.StatusBadRequest},
		{"transient", core.NewTransientIOError("upsert", errors.New("database is locked")), http.StatusServiceUnavailable},
		{"configuration", core.NewConfigurationError("service", "no store"), http.StatusInternalServerError},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
