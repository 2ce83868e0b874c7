// Package tlsconn wraps a raw net.Conn in a TLS 1.3 client session using a
// local identity certificate, for the STLS upgrade path (C4/C5); the pairing
// tunnel (C6) builds its own tls.Client in pkg/pairing. Server certificates
// are trusted unconditionally: peer identity was already established by
// prior key enrolment, so the TLS layer here is asked only to protect
// confidentiality, not to authenticate the server.
package tlsconn

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/pion/logging"
)

// Identity supplies the client certificate used for TLS client auth. It is
// satisfied by *credentials.Credentials without tlsconn importing that
// package, avoiding a dependency from the transport layer onto the
// crypto-identity layer.
type Identity interface {
	TLSCertificate() (tls.Certificate, error)
}

// Config configures the upgrade performed by Upgrade.
type Config struct {
	// Identity supplies the local client certificate. Required.
	Identity Identity

	// ServerName is sent as the SNI host name. ADB's STLS upgrade has no
	// real server identity to assert, so this may be left empty.
	ServerName string

	// LoggerFactory, if set, receives a "tlsconn" logger for handshake
	// diagnostics. Optional.
	LoggerFactory logging.LoggerFactory
}

// Upgrade performs a TLS 1.3 client handshake over conn, presenting the
// configured identity and accepting any server certificate. On success it
// returns the *tls.Conn; conn itself must not be used again directly.
func Upgrade(ctx context.Context, conn net.Conn, cfg Config) (*tls.Conn, error) {
	var log logging.LeveledLogger
	if cfg.LoggerFactory != nil {
		log = cfg.LoggerFactory.NewLogger("tlsconn")
	}

	cert, err := cfg.Identity.TLSCertificate()
	if err != nil {
		return nil, fmt.Errorf("tlsconn: load identity: %w", err)
	}

	tlsCfg := &tls.Config{
		MinVersion:         tls.VersionTLS13,
		Certificates:       []tls.Certificate{cert},
		ServerName:         cfg.ServerName,
		InsecureSkipVerify: true,
		VerifyConnection: func(state tls.ConnectionState) error {
			if log != nil {
				log.Infof("tls 1.3 handshake complete, cipher suite 0x%04x", state.CipherSuite)
			}
			return nil
		},
	}

	tlsConn := tls.Client(conn, tlsCfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, fmt.Errorf("tlsconn: handshake: %w", err)
	}
	return tlsConn, nil
}
