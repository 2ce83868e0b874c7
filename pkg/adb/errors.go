package adb

import "errors"

// ConnectionManager errors.
var (
	// ErrNotConnected is returned by OpenStream (and any other
	// connection-dependent operation) when no Connection is currently
	// running.
	ErrNotConnected = errors.New("adb: not connected")

	// ErrNoHost is returned by Connect when no host was supplied, none was
	// previously configured with SetHost, and the configured
	// AddressResolver returned an empty host. A resolver error is returned
	// wrapped instead.
	ErrNoHost = errors.New("adb: no host configured")
)
