package gdrive

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"google.golang.org/api/googleapi"

	"github.com/Ning0612/pkgsync/internal/domain"
)

// TestMapError tests error mapping from Google API errors to domain errors
func TestMapError(t *testing.T) {
	tests := []struct {
		name  string
		input error
		want  error
	}{
		{"nil error", nil, nil},
		{"404 not found", &googleapi.Error{Code: 404}, domain.ErrNotFound},
		{"403 permission denied", &googleapi.Error{Code: 403}, domain.ErrPermissionDenied},
		{"401 unauthorized", &googleapi.Error{Code: 401}, domain.ErrPermissionDenied},
		{"409 already exists", &googleapi.Error{Code: 409}, domain.ErrAlreadyExists},
		{"429 rate limit", &googleapi.Error{Code: 429}, nil},
		{"500 internal server error", &googleapi.Error{Code: 500, Message: "server error"}, nil},
		{"non-googleapi error with notFound string", errors.New("file notFound in drive"), domain.ErrNotFound},
		{"generic error", errors.New("generic error"), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapError(tt.input); got != tt.want {
				t.Errorf("mapError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	apiErr := &googleapi.Error{Code: 404, Message: "File not found"}

	err := wrap("download", "apt/Release", apiErr)
	if !errors.Is(err, domain.ErrRemoteIO) {
		t.Errorf("expected ErrRemoteIO, got %v", err)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	var unwrapped *googleapi.Error
	if !errors.As(err, &unwrapped) || unwrapped.Code != 404 {
		t.Error("googleapi error lost from chain")
	}

	// Lookup misses already carry the domain kind
	err = wrap("delete", "x", domain.ErrNotFound)
	if !errors.Is(err, domain.ErrNotFound) || !errors.Is(err, domain.ErrRemoteIO) {
		t.Errorf("unexpected wrap of lookup miss: %v", err)
	}

	err = wrap("list", "", fmt.Errorf("request: %w", context.DeadlineExceeded))
	if errors.Is(err, domain.ErrRemoteIO) {
		t.Error("deadline must not be reported as a remote failure")
	}
}
