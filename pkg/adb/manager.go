// Package adb is the public entry point for this module: a
// ConnectionManager that owns a client identity, dials/handshakes an ADB
// connection on demand, and exposes streams and pairing to callers without
// requiring them to touch pkg/conn, pkg/pairing, or pkg/credentials
// directly.
package adb

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/go-adb/adb/pkg/conn"
	"github.com/go-adb/adb/pkg/credentials"
	"github.com/go-adb/adb/pkg/pairing"
	"github.com/go-adb/adb/pkg/stream"
)

// DefaultTimeout bounds the full connect handshake when Config.Timeout is
// left zero.
const DefaultTimeout = 10 * time.Second

// DefaultDeviceName is embedded in the CNXN banner and the public key blob
// when Config.DeviceName is left empty.
const DefaultDeviceName = "go-adb"

// Config configures a ConnectionManager.
type Config struct {
	// DeviceName is sent in the CNXN banner and bound into generated
	// credentials. Defaults to DefaultDeviceName.
	DeviceName string

	// HostAddress is the default target for Connect when called without
	// an explicit host. SetHost updates this after construction.
	HostAddress string

	// APILevel is a numeric hint for the peer's platform version. It is
	// informational only: the wire decision to offer STLS is made by the
	// peer, not by this client, so APILevel does not gate any local
	// behaviour — it exists so callers can record/forward the hint they
	// were given, per spec's recognised configuration options.
	APILevel int

	// Timeout bounds the full connect handshake, including any TLS
	// upgrade. Defaults to DefaultTimeout.
	Timeout time.Duration

	// FailFast, when true, rejects a second AUTH(TOKEN) challenge and a
	// certificate-required TLS failure immediately instead of falling
	// back to interactive key enrolment / pairing. Corresponds to spec's
	// throw_on_unauthorized.
	FailFast bool

	// AddressResolver supplies a host when Connect is called without one
	// and none has been configured. Defaults to NewDefaultAddressResolver().
	AddressResolver AddressResolver

	// MDNSDiscovery, if set, is available to callers via Discovery() for
	// locating the ADB/pairing services; the manager itself never calls
	// it on its own.
	MDNSDiscovery MDNSDiscovery

	// LoggerFactory, if set, receives an "adb" logger plus child loggers
	// ("conn", "tlsconn") forwarded to the components it builds.
	LoggerFactory logging.LoggerFactory
}

// ConnectionManager owns a client identity and the lifecycle of at most
// one live Connection at a time.
type ConnectionManager struct {
	cfg Config
	log logging.LeveledLogger

	mu            sync.Mutex
	creds         *credentials.Credentials
	connection    *conn.Connection
	connectedHost string
	connectedPort int
}

// NewConnectionManager constructs a manager from cfg, applying defaults for
// any zero-valued fields.
func NewConnectionManager(cfg Config) *ConnectionManager {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.DeviceName == "" {
		cfg.DeviceName = DefaultDeviceName
	}
	if cfg.AddressResolver == nil {
		cfg.AddressResolver = NewDefaultAddressResolver()
	}

	m := &ConnectionManager{cfg: cfg}
	if cfg.LoggerFactory != nil {
		m.log = cfg.LoggerFactory.NewLogger("adb")
	}
	return m
}

// SetHost updates the default target address for a bare Connect(ctx, "", port).
func (m *ConnectionManager) SetHost(host string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.HostAddress = host
}

// SetTimeout updates the connect deadline applied to future calls.
func (m *ConnectionManager) SetTimeout(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Timeout = d
}

// SetFailFast updates the fail-fast policy applied to future calls.
func (m *ConnectionManager) SetFailFast(failFast bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.FailFast = failFast
}

// Discovery returns the MDNSDiscovery configured at construction, or nil.
func (m *ConnectionManager) Discovery() MDNSDiscovery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.MDNSDiscovery
}

// ensureCredentialsLocked returns the manager's identity, lazily regenerating it
// if Close previously destroyed it. Must be called with m.mu held.
func (m *ConnectionManager) ensureCredentialsLocked() (*credentials.Credentials, error) {
	if m.creds != nil {
		return m.creds, nil
	}
	creds, err := credentials.Generate(m.cfg.DeviceName)
	if err != nil {
		return nil, fmt.Errorf("adb: generate credentials: %w", err)
	}
	m.creds = creds
	return creds, nil
}

// Connect dials and hands-shakes an ADB connection to host:port. If host is
// empty, the configured HostAddress is used, falling back to the
// AddressResolver if that is also empty. Connect is a no-op returning
// (false, nil) if a connection to the same host and port is already
// running.
func (m *ConnectionManager) Connect(ctx context.Context, host string, port int) (bool, error) {
	m.mu.Lock()

	if host == "" {
		host = m.cfg.HostAddress
	}
	if host == "" {
		resolved, err := m.cfg.AddressResolver.ResolveHost(ctx)
		if err != nil {
			m.mu.Unlock()
			return false, fmt.Errorf("adb: resolve host: %w", err)
		}
		host = resolved
	}
	if host == "" {
		m.mu.Unlock()
		return false, ErrNoHost
	}

	if m.connection != nil && m.connection.State() == conn.StateRunning &&
		m.connectedHost == host && m.connectedPort == port {
		m.mu.Unlock()
		return false, nil
	}

	creds, err := m.ensureCredentialsLocked()
	if err != nil {
		m.mu.Unlock()
		return false, err
	}
	timeout := m.cfg.Timeout
	failFast := m.cfg.FailFast
	deviceName := m.cfg.DeviceName
	loggerFactory := m.cfg.LoggerFactory
	existing := m.connection
	m.mu.Unlock()

	if existing != nil {
		existing.Close()
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	address := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	c, err := conn.Dial(dialCtx, address, conn.Config{
		Credentials:   creds,
		DeviceName:    deviceName,
		FailFast:      failFast,
		LoggerFactory: loggerFactory,
	})
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	m.connection = c
	m.connectedHost = host
	m.connectedPort = port
	m.mu.Unlock()

	if m.log != nil {
		m.log.Infof("connected to %s (session %s)", address, c.SessionID())
	}
	return true, nil
}

// Pair runs the out-of-band SPAKE2 pairing handshake against host:port,
// authenticated by the six-digit code, and enrols the resulting identity
// with the peer. It does not affect any Connection managed by Connect.
func (m *ConnectionManager) Pair(ctx context.Context, host string, port int, code []byte) error {
	m.mu.Lock()
	creds, err := m.ensureCredentialsLocked()
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	address := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	var dialer net.Dialer
	rawConn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("adb: dial pairing service %s: %w", address, err)
	}

	_, err = pairing.Pair(ctx, rawConn, code, creds)
	if err != nil {
		rawConn.Close()
		return err
	}
	return nil
}

// OpenStream opens a new logical stream to destination over the current
// Connection.
func (m *ConnectionManager) OpenStream(destination string) (*stream.Stream, error) {
	m.mu.Lock()
	c := m.connection
	m.mu.Unlock()

	if c == nil || c.State() != conn.StateRunning {
		return nil, ErrNotConnected
	}
	return c.Open(destination)
}

// IsConnected reports whether a Connection is currently running.
func (m *ConnectionManager) IsConnected() bool {
	m.mu.Lock()
	c := m.connection
	m.mu.Unlock()
	return c != nil && c.State() == conn.StateRunning
}

// Disconnect tears down the current Connection, if any, but preserves the
// manager's credentials so a later Connect can resume without re-enrolling
// a new key.
func (m *ConnectionManager) Disconnect() error {
	m.mu.Lock()
	c := m.connection
	m.connection = nil
	m.connectedHost = ""
	m.connectedPort = 0
	m.mu.Unlock()

	if c == nil {
		return nil
	}
	return c.Close()
}

// Close tears down the current Connection and best-effort destroys the
// manager's private key. A subsequent Connect lazily regenerates
// credentials.
func (m *ConnectionManager) Close() error {
	err := m.Disconnect()

	m.mu.Lock()
	if m.creds != nil {
		m.creds.Destroy()
		m.creds = nil
	}
	m.mu.Unlock()

	return err
}
