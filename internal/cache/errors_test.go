package cache

import (
	"strings"
	"testing"
)

func TestErrorMessageShape(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
	}{
		{"lock timeout", NewLockError("/cache/github.com/a/b.lock", LockTimeout)},
		{"lock stolen", NewLockError("/cache/github.com/a/b.lock", LockStolen)},
		{"integrity corrupted", NewIntegrityError("/cache/github.com/a/b", Corrupted)},
		{"metadata not found", NewMetadataError("/cache/github.com/a/b", MetadataNotFound, nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			if msg == "" {
				t.Fatal("expected non-empty message")
			}
			if strings.HasSuffix(msg, ".") || strings.HasSuffix(msg, "!") {
				t.Fatalf("message must not end in trailing punctuation: %q", msg)
			}
		})
	}
}

func TestIsIntegrityKind(t *testing.T) {
	err := NewIntegrityError("/path", Corrupted)
	if !IsIntegrityKind(err, Corrupted) {
		t.Fatal("expected Corrupted match")
	}
	if IsIntegrityKind(err, EmptyRepo) {
		t.Fatal("did not expect EmptyRepo match")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := NewMetadataError("/path", MetadataIo, nil)
	wrapped := Wrap(Filesystem, "/path", cause)
	var e *Error
	if !asError(wrapped, &e) {
		t.Fatal("expected wrapped error to unwrap to *Error")
	}
	if e.Kind != Filesystem {
		t.Fatalf("expected outer Kind Filesystem, got %v", e.Kind)
	}
	var inner *Error
	if !asError(e.Unwrap(), &inner) || inner.Kind != Metadata || inner.Meta != MetadataIo {
		t.Fatalf("expected the original metadata error to stay reachable as the cause, got %v", e.Unwrap())
	}
}
