package searchconsole

import (
	"errors"
	"fmt"
)

// Kind classifies a fetch failure for retry and reporting decisions
type Kind int

const (
	// KindTransient covers network errors, timeouts and rate limiting;
	// re-collecting the same date later is expected to succeed
	KindTransient Kind = iota

	// KindAuth means the credentials are invalid for this site; retrying
	// without operator intervention will not help
	KindAuth

	// KindNotFound means the site is not registered with the upstream
	// provider; a persistent per-site failure
	KindNotFound

	// KindValidation means the upstream response was malformed
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Error is a classified fetch failure
type Error struct {
	Kind    Kind
	Op      string
	SiteRef string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Op, e.SiteRef, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the classification of err, defaulting to transient for
// unclassified errors so they remain eligible for re-collection
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindTransient
}

// IsTransient reports whether err is retryable by a later collection pass
func IsTransient(err error) bool { return KindOf(err) == KindTransient }

// IsAuth reports whether err is a per-site credential failure
func IsAuth(err error) bool { return KindOf(err) == KindAuth }

// IsNotFound reports whether err means the site is unknown upstream
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsValidation reports whether err means the upstream payload was malformed
func IsValidation(err error) bool { return KindOf(err) == KindValidation }
