package reddit

import "errors"

// AuthError indicates the credential exchange failed. Fatal to the run.
type AuthError struct {
	StatusCode int
	Err        error
}

func (e *AuthError) Error() string { return e.Err.Error() }
func (e *AuthError) Unwrap() error { return e.Err }

// FetchError indicates a listing request failed. Fatal to the run; no partial
// results are propagated.
type FetchError struct {
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string { return e.Err.Error() }
func (e *FetchError) Unwrap() error { return e.Err }

// IsAuthError reports whether err is (or wraps) an AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsFetchError reports whether err is (or wraps) a FetchError.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}
