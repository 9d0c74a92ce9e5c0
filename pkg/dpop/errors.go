package dpop

import "errors"

// ErrCryptoUnavailable indicates the secure random source failed during key
// generation. The client cannot be constructed when this is returned.
var ErrCryptoUnavailable = errors.New("secure randomness unavailable")

// InvalidInputError indicates the caller supplied malformed input,
// such as a relative or unparseable URI.
type InvalidInputError string

func (e InvalidInputError) Error() string {
	return "invalid input: " + string(e)
}

// SigningError indicates the private key is unavailable, for example after
// the key material has been wiped.
type SigningError string

func (e SigningError) Error() string {
	return "signing failed: " + string(e)
}
