package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	cause := stderrors.New("rename failed")
	err := New(RebuildFailed, "commit aborted", cause)

	if err.Code != RebuildFailed {
		t.Errorf("Code = %v, want %v", err.Code, RebuildFailed)
	}
	if len(err.SuggestedFixes) != 1 {
		t.Errorf("len(SuggestedFixes) = %d, want 1", len(err.SuggestedFixes))
	}
	if !stderrors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
}

func TestKgError_Error(t *testing.T) {
	tests := []struct {
		name      string
		code      ErrorCode
		message   string
		cause     error
		wantParts []string
	}{
		{
			name:      "with cause",
			code:      IndexLocked,
			message:   "state directory locked",
			cause:     stderrors.New("resource temporarily unavailable"),
			wantParts: []string{"INDEX_LOCKED", "state directory locked", "resource temporarily unavailable"},
		},
		{
			name:      "without cause",
			code:      EntityNotFound,
			message:   "entity 'guide:curated:x.md' not found",
			wantParts: []string{"ENTITY_NOT_FOUND", "guide:curated:x.md"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := New(tt.code, tt.message, tt.cause).Error()
			for _, part := range tt.wantParts {
				if !strings.Contains(got, part) {
					t.Errorf("Error() = %q, want to contain %q", got, part)
				}
			}
		})
	}
}

func TestCodeOf(t *testing.T) {
	wrapped := fmt.Errorf("pipeline: %w", New(RebuildFailed, "boom", nil))

	if got := CodeOf(wrapped); got != RebuildFailed {
		t.Errorf("CodeOf(wrapped) = %v, want %v", got, RebuildFailed)
	}
	if got := CodeOf(stderrors.New("plain")); got != InternalError {
		t.Errorf("CodeOf(plain) = %v, want %v", got, InternalError)
	}
}

func TestHasCode(t *testing.T) {
	inner := New(IndexLocked, "locked", nil)
	outer := New(RebuildFailed, "rebuild aborted", inner)

	if !HasCode(outer, RebuildFailed) {
		t.Error("expected outer code")
	}
	if !HasCode(outer, IndexLocked) {
		t.Error("expected nested code")
	}
	if HasCode(outer, SnapshotMissing) {
		t.Error("unexpected code match")
	}
}

func TestIs(t *testing.T) {
	err := fmt.Errorf("wrap: %w", Newf(SnapshotMissing, "no snapshot at %s", "/tmp/x"))
	if !stderrors.Is(err, New(SnapshotMissing, "", nil)) {
		t.Error("expected errors.Is to match by code")
	}
}

func TestWithDetails(t *testing.T) {
	err := Newf(QueryInvalid, "bad direction").WithDetails(map[string]string{"direction": "sideways"})
	if err.Details == nil {
		t.Error("expected details to be set")
	}
	if GetSuggestedFixes(QueryInvalid) != nil {
		t.Error("QueryInvalid should carry no suggested fixes")
	}
}
