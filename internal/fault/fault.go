// Package fault classifies errors into the small set of kinds callers act
// on: bad input, unknown key, state conflict, authentication and
// infrastructure failure.
package fault

import "errors"

// Kind is the category of a failure.
type Kind int

// Error kinds. Infrastructure is also the kind of any unclassified error.
const (
	Infrastructure Kind = iota
	Validation
	NotFound
	Conflict
	Auth
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case Auth:
		return "auth"
	default:
		return "infrastructure"
	}
}

// Error is a classified failure. Packages declare their failures as
// *Error sentinels and wrap them with context using fmt.Errorf and %w.
type Error struct {
	Kind   Kind
	Reason string
}

// New returns a sentinel of the given kind.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

func (e *Error) Error() string {
	return e.Reason
}

// KindOf returns the kind of the first *Error in err's chain, or
// Infrastructure if there is none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Infrastructure
}

// Is reports whether err carries a failure of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
