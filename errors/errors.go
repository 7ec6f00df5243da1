// Package errors defines the coarse error kinds used across the ingestion,
// persistence, and reconciliation packages: a small enum plus one typed
// error per kind so callers can classify a failure with Is instead of
// string-matching.
package errors

import "fmt"

// Type classifies a CoreError. See spec §7 for the behavior each kind
// implies (recovered locally vs. surfaced to the operator).
type Type int

const (
	// DecodeError covers invalid Base64, malformed CMS, or truncated DER.
	// Recovered per-entry; never aborts an Upload.
	DecodeError Type = iota
	// ClassificationAmbiguity is raised when a parsed certificate cannot be
	// routed to a type; the certificate is recorded as UNKNOWN and not
	// inserted.
	ClassificationAmbiguity
	// Duplicate marks a (type, fingerprint) that already exists. Not a
	// failure: counted in Upload.duplicateCount.
	Duplicate
	// StoreWriteError is a non-duplicate relational insert failure.
	StoreWriteError
	// DirectoryWriteError is any LDAP write failure. Logged as WARN; the
	// certificate stays eligible for reconciliation.
	DirectoryWriteError
	// FatalIngestError is an upload-level failure: the source file is
	// unreadable, or the database is unreachable at the start of
	// processing. The Upload transitions to FAILED.
	FatalIngestError
)

func (t Type) String() string {
	switch t {
	case DecodeError:
		return "DECODE_ERROR"
	case ClassificationAmbiguity:
		return "CLASSIFICATION_AMBIGUITY"
	case Duplicate:
		return "DUPLICATE"
	case StoreWriteError:
		return "STORE_WRITE_ERROR"
	case DirectoryWriteError:
		return "DIRECTORY_WRITE_ERROR"
	case FatalIngestError:
		return "FATAL_INGEST_ERROR"
	default:
		return "UNKNOWN"
	}
}

// CoreError is the concrete error type returned by this core's packages.
type CoreError struct {
	Kind   Type
	Detail string
}

func (e *CoreError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// New builds a CoreError of the given kind.
func New(kind Type, format string, args ...interface{}) error {
	return &CoreError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Is reports whether err is a CoreError of the given kind.
func Is(err error, kind Type) bool {
	ce, ok := err.(*CoreError)
	if !ok {
		return false
	}
	return ce.Kind == kind
}

func Decode(format string, args ...interface{}) error {
	return New(DecodeError, format, args...)
}

func Ambiguous(format string, args ...interface{}) error {
	return New(ClassificationAmbiguity, format, args...)
}

func DuplicateErr(format string, args ...interface{}) error {
	return New(Duplicate, format, args...)
}

func StoreWrite(format string, args ...interface{}) error {
	return New(StoreWriteError, format, args...)
}

func DirectoryWrite(format string, args ...interface{}) error {
	return New(DirectoryWriteError, format, args...)
}

func FatalIngest(format string, args ...interface{}) error {
	return New(FatalIngestError, format, args...)
}
