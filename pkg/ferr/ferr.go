// Package ferr is flowgate's shared error taxonomy (spec §7), used by the
// Debrid Gateway, Downloader and Job Manager to classify a failure as
// transient (recovered locally under backoff) or fatal (surfaced as the
// Job's terminal error state).
package ferr

// Kind classifies a failure the way the Job Manager's backoff and
// propagation policy need it classified.
type Kind string

const (
	InputInvalid           Kind = "input_invalid"
	DebridUnavailable      Kind = "debrid_unavailable"
	DebridReject           Kind = "debrid_reject"
	DebridProcessingFailed Kind = "debrid_processing_failed"
	UrlExpired             Kind = "url_expired"
	NetworkTransient       Kind = "network_transient"
	DiskFull               Kind = "disk_full"
	DiskPermanent          Kind = "disk_permanent"
	SizeMismatch           Kind = "size_mismatch"
	Cancelled              Kind = "cancelled"
	Internal               Kind = "internal"
)

// Error carries a Kind alongside a human-readable message, matching the
// Job's last_error field (spec §3) one-to-one.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error of the given Kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error of the given Kind, retaining cause for Unwrap.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Transient reports whether a Kind is recovered locally under the backoff
// policy in spec §4.2/§7, rather than surfaced as a terminal error.
func (k Kind) Transient() bool {
	switch k {
	case NetworkTransient, UrlExpired, DebridUnavailable, DiskFull:
		return true
	default:
		return false
	}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, defaulting to Internal otherwise.
func KindOf(err error) Kind {
	var fe *Error
	if As(err, &fe) {
		return fe.Kind
	}
	return Internal
}

// As is a tiny local alias of errors.As kept here so callers that only need
// KindOf don't have to import errors themselves.
func As(err error, target **Error) bool {
	for err != nil {
		if fe, ok := err.(*Error); ok {
			*target = fe
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
