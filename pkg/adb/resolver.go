package adb

import "context"

// DefaultHost is the address used when no host is configured and no
// AddressResolver overrides it, matching spec's documented default.
const DefaultHost = "127.0.0.1"

// AddressResolver supplies the host to dial when Connect is called without
// one and none has been set with SetHost. The core depends on nothing
// beyond this interface; callers may back it with DNS, a config file, or
// the bundled mDNS story below.
type AddressResolver interface {
	ResolveHost(ctx context.Context) (string, error)
}

// defaultAddressResolver always resolves to DefaultHost.
type defaultAddressResolver struct{}

func (defaultAddressResolver) ResolveHost(context.Context) (string, error) {
	return DefaultHost, nil
}

// NewDefaultAddressResolver returns the resolver used when Config.AddressResolver
// is left unset.
func NewDefaultAddressResolver() AddressResolver { return defaultAddressResolver{} }

// MDNSDiscovery yields addresses for the ADB and pairing services over
// whatever discovery mechanism the caller wires in (e.g. mDNS/DNS-SD). The
// core never implements or depends on an mDNS library itself; a caller
// that wants it supplies an implementation of this interface.
type MDNSDiscovery interface {
	// DiscoverADBService resolves the (host, port) of a device's ADB
	// service.
	DiscoverADBService(ctx context.Context) (host string, port int, err error)

	// DiscoverPairingService resolves the (host, port) of a device's
	// pairing service.
	DiscoverPairingService(ctx context.Context) (host string, port int, err error)
}
