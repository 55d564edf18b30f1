package service

import "errors"

// Kind classifies service errors for the request boundary.
type Kind int

const (
	// KindInternal covers everything that is not a classified service error.
	KindInternal Kind = iota
	KindValidation
	KindAuthentication
	KindAuthorization
	KindNotFound
	KindIntegrity
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindIntegrity:
		return "integrity"
	default:
		return "internal"
	}
}

// Error is a classified service error. The sentinels below are compared with
// errors.Is; callers may wrap them with extra context.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

var (
	ErrMissingKey         = &Error{Kind: KindValidation, Msg: "missing API key"}
	ErrMissingCredentials = &Error{Kind: KindValidation, Msg: "username and password are required"}
	ErrInvalidLabel       = &Error{Kind: KindValidation, Msg: "label must be at most 128 characters"}

	ErrInvalidCredentials    = &Error{Kind: KindAuthentication, Msg: "invalid credentials"}
	ErrInvalidOrExpiredToken = &Error{Kind: KindAuthentication, Msg: "invalid or expired token"}
	ErrInvalidKey            = &Error{Kind: KindAuthentication, Msg: "invalid API key"}
	ErrKeyNotActive          = &Error{Kind: KindAuthorization, Msg: "API key is not active"}
	ErrKeyNotFound           = &Error{Kind: KindNotFound, Msg: "API key not found"}
	ErrFingerprintCollision  = &Error{Kind: KindIntegrity, Msg: "API key fingerprint collision"}
)

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}
