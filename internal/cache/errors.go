package cache

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies a cache Error for callers that need to branch on
// failure category rather than match message text.
type ErrorKind int

const (
	// InvalidArgument means the caller passed something the cache can
	// never make sense of, regardless of filesystem or network state.
	InvalidArgument ErrorKind = iota
	// Configuration means the cache/checkout roots or other Config
	// fields are unusable (missing, unwritable, outside allowed paths).
	Configuration
	// Network means a remote call (fetch, provider API) failed for
	// reasons outside the cache's control.
	Network
	// Filesystem means a local filesystem operation failed outside of
	// the integrity/lock subsystems' own taxonomies.
	Filesystem
	// VcsSubprocess means the VCS executable exited non-zero or emitted
	// output the adapter could not interpret.
	VcsSubprocess
	// ProviderApi means the hosting provider returned an error response.
	ProviderApi
	// Lock means lock acquisition failed; see LockFailure for the
	// specific reason (timeout vs. stolen).
	Lock
	// Integrity means a store or checkout failed validation; see
	// IntegrityKind for the specific reason.
	Integrity
	// Metadata means the sidecar record could not be read or written;
	// see MetadataFailure for the specific reason.
	Metadata
	// OutOfSpace means the filesystem rejected a write for lack of room.
	OutOfSpace
	// Internal means an invariant the cache itself is responsible for
	// maintaining was violated. This should never surface in ordinary
	// operation.
	Internal
)

func (k ErrorKind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid argument"
	case Configuration:
		return "configuration"
	case Network:
		return "network"
	case Filesystem:
		return "filesystem"
	case VcsSubprocess:
		return "vcs subprocess"
	case ProviderApi:
		return "provider api"
	case Lock:
		return "lock"
	case Integrity:
		return "integrity"
	case Metadata:
		return "metadata"
	case OutOfSpace:
		return "out of space"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// LockFailure distinguishes why a lock could not be held.
type LockFailure int

const (
	// LockTimeout means another process held a live lock for longer
	// than the configured wait.
	LockTimeout LockFailure = iota
	// LockStolen means this process's lock file was replaced by another
	// owner between acquisition and release.
	LockStolen
)

// IntegrityKind enumerates every way a store or checkout can fail
// validation.
type IntegrityKind int

const (
	NotExists IntegrityKind = iota
	NotRepo
	Corrupted
	MissingRefs
	EmptyRepo
	NoAlternates
	WrongAlternates
	InvalidPath
	RepairFailed
)

func (k IntegrityKind) String() string {
	switch k {
	case NotExists:
		return "not exists"
	case NotRepo:
		return "not a repository"
	case Corrupted:
		return "corrupted"
	case MissingRefs:
		return "missing refs"
	case EmptyRepo:
		return "empty repository"
	case NoAlternates:
		return "no alternates"
	case WrongAlternates:
		return "wrong alternates"
	case InvalidPath:
		return "invalid path"
	case RepairFailed:
		return "repair failed"
	default:
		return "unknown"
	}
}

// MetadataFailure distinguishes why a metadata record could not be loaded.
type MetadataFailure int

const (
	MetadataNotFound MetadataFailure = iota
	MetadataCorrupt
	MetadataIo
)

// Error is the single error type this package returns. It carries a Kind
// for programmatic branching and formats its own message to the shape
// rules: no trailing punctuation, lowercase unless the subject is a
// proper noun, single-quoted subjects.
type Error struct {
	Kind     ErrorKind
	Subject  string
	Detail   string
	Lock     LockFailure
	Integ    IntegrityKind
	Meta     MetadataFailure
	cause    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	switch e.Kind {
	case Lock:
		if e.Lock == LockTimeout {
			msg = fmt.Sprintf("lock timeout acquiring '%s'", e.Subject)
		} else {
			msg = fmt.Sprintf("lock stolen while held on '%s'", e.Subject)
		}
	case Integrity:
		msg = fmt.Sprintf("integrity check failed for '%s': %s", e.Subject, e.Integ)
	case Metadata:
		switch e.Meta {
		case MetadataNotFound:
			msg = fmt.Sprintf("metadata not found for '%s'", e.Subject)
		case MetadataCorrupt:
			msg = fmt.Sprintf("metadata corrupt for '%s'", e.Subject)
		default:
			msg = fmt.Sprintf("metadata io error for '%s'", e.Subject)
		}
	default:
		if e.Subject != "" {
			msg = fmt.Sprintf("%s: '%s'", msg, e.Subject)
		}
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Detail)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.cause }

func newErr(kind ErrorKind, subject, detail string, cause error) *Error {
	return &Error{Kind: kind, Subject: subject, Detail: detail, cause: cause}
}

// NewLockError builds a Lock-kind error for the given failure reason.
func NewLockError(subject string, reason LockFailure) *Error {
	return &Error{Kind: Lock, Subject: subject, Lock: reason}
}

// NewIntegrityError builds an Integrity-kind error for the given taxonomy
// entry.
func NewIntegrityError(subject string, kind IntegrityKind) *Error {
	return &Error{Kind: Integrity, Subject: subject, Integ: kind}
}

// NewMetadataError builds a Metadata-kind error for the given failure.
func NewMetadataError(subject string, reason MetadataFailure, cause error) *Error {
	return &Error{Kind: Metadata, Subject: subject, Meta: reason, cause: cause}
}

// Wrap annotates err with a Kind and subject, preserving err as the cause
// via github.com/pkg/errors so callers can still unwrap to the original.
func Wrap(kind ErrorKind, subject string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Subject: subject, cause: errors.WithStack(err)}
}

// IsIntegrityKind reports whether err is an Integrity error of the given
// kind.
func IsIntegrityKind(err error, kind IntegrityKind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == Integrity && e.Integ == kind
}

// IsLockFailure reports whether err is a Lock error of the given reason.
func IsLockFailure(err error, reason LockFailure) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == Lock && e.Lock == reason
}
