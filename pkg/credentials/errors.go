package credentials

import "errors"

// Credential errors.
var (
	// ErrTokenSize is returned by Sign when the supplied token is not a
	// 20-byte SHA-1 digest.
	ErrTokenSize = errors.New("credentials: token must be 20 bytes")

	// ErrDestroyed is returned by any operation attempted after Destroy.
	ErrDestroyed = errors.New("credentials: private key destroyed")
)
