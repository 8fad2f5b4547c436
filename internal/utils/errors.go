package utils

import "fmt"

// Kind discriminates the fatal-error taxonomy every core component raises.
// Every error the core returns carries one of these so callers can branch
// on failure class without string matching.
type Kind int

const (
	// KindFormat covers signature mismatches, unsupported versions, and
	// field values that are structurally impossible (e.g. an entries
	// count implying a negative payload size).
	KindFormat Kind = iota
	// KindBounds covers child offsets at or beyond file size and
	// short reads/buffer underflow.
	KindBounds
	// KindIntegrity covers duplicate object/entry identifiers, B-tree
	// cycles, and inconsistent null-terminator accounting.
	KindIntegrity
	// KindInvariant covers violated write preconditions: addDataset on
	// a non-leaf tree, nextObjectId overflow, a null link name.
	KindInvariant
	// KindIO covers failures from the underlying byte stream itself.
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindFormat:
		return "FormatError"
	case KindBounds:
		return "BoundsError"
	case KindIntegrity:
		return "IntegrityError"
	case KindInvariant:
		return "InvariantError"
	case KindIO:
		return "IoError"
	default:
		return "UnknownError"
	}
}

// H5Error is the structured error every package in this module returns on
// a fatal condition. It carries the offset the error was discovered at,
// when one exists, so a caller debugging a corrupt file does not have to
// re-derive it.
type H5Error struct {
	Kind    Kind
	Context string
	Offset  int64 // -1 when not applicable.
	Cause   error
}

func (e *H5Error) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("%s: %s at offset %d: %v", e.Kind, e.Context, e.Offset, e.Cause)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Context, e.Cause)
}

func (e *H5Error) Unwrap() error {
	return e.Cause
}

func newErr(kind Kind, offset int64, context string, cause error) error {
	return &H5Error{Kind: kind, Context: context, Offset: offset, Cause: cause}
}

// FormatErrorf builds a KindFormat error with no associated offset.
func FormatErrorf(context string, args ...interface{}) error {
	return newErr(KindFormat, -1, fmt.Sprintf(context, args...), nil)
}

// FormatErrorAt builds a KindFormat error anchored to an offset.
func FormatErrorAt(offset int64, context string, args ...interface{}) error {
	return newErr(KindFormat, offset, fmt.Sprintf(context, args...), nil)
}

// BoundsErrorAt builds a KindBounds error anchored to an offset.
func BoundsErrorAt(offset int64, context string, args ...interface{}) error {
	return newErr(KindBounds, offset, fmt.Sprintf(context, args...), nil)
}

// IntegrityErrorAt builds a KindIntegrity error anchored to an offset.
func IntegrityErrorAt(offset int64, context string, args ...interface{}) error {
	return newErr(KindIntegrity, offset, fmt.Sprintf(context, args...), nil)
}

// InvariantErrorf builds a KindInvariant error with no associated offset.
func InvariantErrorf(context string, args ...interface{}) error {
	return newErr(KindInvariant, -1, fmt.Sprintf(context, args...), nil)
}

// WrapIOError wraps an underlying stream failure as KindIO, preserving the
// offset the operation was attempting.
func WrapIOError(offset int64, context string, cause error) error {
	if cause == nil {
		return nil
	}
	return newErr(KindIO, offset, context, cause)
}

// WrapError preserves the original unconditional wrap for call sites not
// yet classified into the taxonomy above; new code should prefer the
// Kind-specific constructors.
func WrapError(context string, cause error) error {
	if cause == nil {
		return nil
	}
	return newErr(KindIO, -1, context, cause)
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	h, ok := err.(*H5Error)
	if !ok {
		return false
	}
	return h.Kind == kind
}
