package token

import "errors"

var (
	// ErrInvalid is returned for a credential that fails signature or claim
	// validation, or when no usable credential was supplied at all.
	ErrInvalid = errors.New("invalid credential")

	// ErrExpired is returned when the access credential has passed its expiry
	// and no refresh path was available.
	ErrExpired = errors.New("credential has expired")

	// ErrRevoked is returned when the access credential is on the revocation
	// set, regardless of its natural expiry.
	ErrRevoked = errors.New("credential has been revoked")

	// ErrInvalidLogin is returned for a failed email/password check.
	ErrInvalidLogin = errors.New("invalid email or password")
)

// IsAuthError reports whether err belongs to the credential-failure family.
// Any such failure is fatal to the connection that carried it.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrInvalid) || errors.Is(err, ErrExpired) || errors.Is(err, ErrRevoked)
}
