package auth

import "errors"

// Callers only ever see these sentinels (possibly wrapped with detail).
var (
	ErrInvalidInput    = errors.New("auth: invalid input")
	ErrConflict        = errors.New("auth: conflict")
	ErrUnauthenticated = errors.New("auth: unauthenticated")
	ErrForbidden       = errors.New("auth: forbidden")
	ErrNotFound        = errors.New("auth: not found")
	ErrInternal        = errors.New("auth: internal error")
)

var taxonomy = []error{
	ErrInvalidInput,
	ErrConflict,
	ErrUnauthenticated,
	ErrForbidden,
	ErrNotFound,
	ErrInternal,
}

// IsKnown reports whether err belongs to the error taxonomy above.
func IsKnown(err error) bool {
	for _, target := range taxonomy {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
