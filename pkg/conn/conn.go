// Package conn implements the ADB connection state machine: the
// CNXN/AUTH/STLS handshake, the running-phase frame dispatcher that fans
// inbound OKAY/WRTE/CLSE frames out to per-stream queues, and the
// single-mutex-serialised write path shared by every stream.
package conn

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"

	"github.com/go-adb/adb/pkg/aproto"
	"github.com/go-adb/adb/pkg/stream"
	"github.com/go-adb/adb/pkg/tlsconn"
)

// State is a Connection's position in the handshake/lifecycle state machine.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateAuthWait
	StateStlsWait
	StateRunning
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateAuthWait:
		return "AUTH_WAIT"
	case StateStlsWait:
		return "STLS_WAIT"
	case StateRunning:
		return "RUNNING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Credentials is the identity a Connection signs AUTH challenges and
// negotiates STLS client auth with. *credentials.Credentials satisfies this
// without conn importing that package's concrete type, so tests can supply
// a fake.
type Credentials interface {
	Sign(token []byte) ([]byte, error)
	PublicKeyBlob() ([]byte, error)
	TLSCertificate() (tls.Certificate, error)
}

// Config configures a Connection.
type Config struct {
	// Credentials is the local signing identity. Required.
	Credentials Credentials

	// DeviceName is sent in the CNXN banner (host::<name>\0).
	DeviceName string

	// FailFast, when true, rejects a second AUTH(TOKEN) challenge and a
	// certificate-required TLS failure immediately instead of falling back
	// to interactive key enrolment / pairing.
	FailFast bool

	// ExtendedAuthTimeout bounds the wait for a CNXN after sending
	// AUTH(RSAPUBLICKEY, ...), which may require a user prompt on the
	// peer device. Defaults to 60s.
	ExtendedAuthTimeout time.Duration

	// LoggerFactory, if set, receives a "conn" logger.
	LoggerFactory logging.LoggerFactory
}

// Connection drives one ADB wire session: handshake, then dispatch of
// inbound frames to the Streams opened on it.
type Connection struct {
	cfg Config
	log logging.LeveledLogger

	// sessionID tags this connection's log lines, telling them apart from
	// those of earlier or later dials; it has no wire meaning and is never
	// sent to the peer.
	sessionID uuid.UUID

	mu         sync.Mutex
	state      State
	conn       net.Conn
	maxPayload int

	sendMu sync.Mutex

	streamsMu   sync.Mutex
	streams     map[uint32]*stream.Stream
	nextLocalID uint32

	sawSigRejected bool

	closeOnce sync.Once
}

// NewConnection wraps an already-established net.Conn (TCP, or any
// net.Conn, including an in-memory test pipe). Call Handshake to run the
// opening sequence before using the connection.
func NewConnection(rawConn net.Conn, cfg Config) *Connection {
	if cfg.ExtendedAuthTimeout == 0 {
		cfg.ExtendedAuthTimeout = 60 * time.Second
	}
	c := &Connection{
		cfg:         cfg,
		conn:        rawConn,
		maxPayload:  aproto.MaxPayloadV1,
		streams:     make(map[uint32]*stream.Stream),
		nextLocalID: 1,
		sessionID:   uuid.New(),
	}
	if cfg.LoggerFactory != nil {
		c.log = cfg.LoggerFactory.NewLogger("conn")
	}
	return c
}

// SessionID returns the opaque identifier generated for this Connection,
// stable for its lifetime. Every NewConnection, and so every dial or
// reconnect, gets a fresh one.
func (c *Connection) SessionID() string {
	return c.sessionID.String()
}

// Dial opens a TCP connection to address and runs the opening sequence,
// bounded by ctx's deadline.
func Dial(ctx context.Context, address string, cfg Config) (*Connection, error) {
	var dialer net.Dialer
	rawConn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("%w: dial %s: %v", ErrIO, address, err)
	}

	c := NewConnection(rawConn, cfg)
	if err := c.Handshake(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SawSignatureRejected reports whether the peer ever challenged with a
// second AUTH(TOKEN), i.e. rejected our previously-enrolled key. A caller
// may use this to decide whether interactive pairing is needed.
func (c *Connection) SawSignatureRejected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sawSigRejected
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Handshake runs the opening sequence (§4.4.1): send our CNXN, then drive
// the AUTH/STLS branches until a CNXN is received from the peer, at which
// point the connection transitions to RUNNING and the reader loop starts.
func (c *Connection) Handshake(ctx context.Context) error {
	if c.log != nil {
		c.log.Infof("session %s: starting handshake as %q", c.sessionID, c.cfg.DeviceName)
	}
	c.setState(StateConnecting)

	banner := []byte(fmt.Sprintf("host::%s\x00", c.cfg.DeviceName))
	if err := c.sendFrame(aproto.CNXN, aproto.VersionSkipChecksum, aproto.MaxPayloadV1, banner); err != nil {
		c.Close()
		return fmt.Errorf("%w: send CNXN: %v", ErrIO, err)
	}

	c.setState(StateAuthWait)
	pkt, err := c.decodeFrame(ctx)
	if err != nil {
		c.Close()
		return err
	}
	if err := c.handleHandshakeFrame(ctx, pkt, false); err != nil {
		c.Close()
		return err
	}

	c.setState(StateRunning)
	if c.log != nil {
		c.log.Infof("session %s: handshake complete", c.sessionID)
	}
	go c.readLoop()
	return nil
}

// handleHandshakeFrame processes one frame received during AUTH_WAIT or
// STLS_WAIT. afterToken distinguishes the first AUTH(TOKEN) (which we
// answer with a signature) from a second one (which means the peer
// rejected our key).
func (c *Connection) handleHandshakeFrame(ctx context.Context, pkt aproto.Packet, afterToken bool) error {
	switch pkt.Command {
	case aproto.CNXN:
		c.negotiateMaxPayload(pkt.Arg1)
		return nil

	case aproto.AUTH:
		if pkt.Arg0 != aproto.AuthToken {
			return ErrProtocol
		}
		if !afterToken {
			return c.respondToFirstToken(ctx, pkt.Payload)
		}
		return c.respondToSecondToken(ctx)

	case aproto.STLS:
		if pkt.Arg0 < aproto.STLSVersionMin {
			return ErrProtocol
		}
		return c.performSTLS(ctx)

	default:
		return ErrProtocol
	}
}

func (c *Connection) respondToFirstToken(ctx context.Context, token []byte) error {
	sig, err := c.cfg.Credentials.Sign(token)
	if err != nil {
		return fmt.Errorf("%w: sign token: %v", ErrIO, err)
	}
	if err := c.sendFrame(aproto.AUTH, aproto.AuthSignature, 0, sig); err != nil {
		return fmt.Errorf("%w: send signature: %v", ErrIO, err)
	}

	next, err := c.decodeFrame(ctx)
	if err != nil {
		return err
	}
	return c.handleHandshakeFrame(ctx, next, true)
}

func (c *Connection) respondToSecondToken(ctx context.Context) error {
	c.mu.Lock()
	c.sawSigRejected = true
	c.mu.Unlock()

	if c.cfg.FailFast {
		return ErrAuthRejected
	}

	blob, err := c.cfg.Credentials.PublicKeyBlob()
	if err != nil {
		return fmt.Errorf("%w: public key blob: %v", ErrIO, err)
	}
	if err := c.sendFrame(aproto.AUTH, aproto.AuthRSAPublicKey, 0, blob); err != nil {
		return fmt.Errorf("%w: send public key: %v", ErrIO, err)
	}

	// A user prompt may be required on the peer device before it replies.
	extCtx, cancel := context.WithTimeout(context.Background(), c.cfg.ExtendedAuthTimeout)
	defer cancel()

	next, err := c.decodeFrame(extCtx)
	if err != nil {
		return err
	}
	if next.Command != aproto.CNXN {
		return ErrProtocol
	}
	c.negotiateMaxPayload(next.Arg1)
	return nil
}

func (c *Connection) performSTLS(ctx context.Context) error {
	if err := c.sendFrame(aproto.STLS, aproto.STLSVersionMin, 0, nil); err != nil {
		return fmt.Errorf("%w: send STLS: %v", ErrIO, err)
	}
	c.setState(StateStlsWait)

	c.mu.Lock()
	rawConn := c.conn
	c.mu.Unlock()

	tlsConn, err := tlsconn.Upgrade(ctx, rawConn, tlsconn.Config{
		Identity:      c.cfg.Credentials,
		LoggerFactory: c.cfg.LoggerFactory,
	})
	if err != nil {
		if c.cfg.FailFast && isCertRequiredError(err) {
			return ErrPairingRequired
		}
		return fmt.Errorf("%w: tls upgrade: %v", ErrIO, err)
	}

	c.mu.Lock()
	c.conn = tlsConn
	c.mu.Unlock()

	next, err := c.decodeFrame(ctx)
	if err != nil {
		return err
	}
	if next.Command != aproto.CNXN {
		return ErrProtocol
	}
	c.negotiateMaxPayload(next.Arg1)
	return nil
}

// isCertRequiredError reports whether err looks like the TLS stack
// rejected the handshake for lack of an enrolled client certificate,
// rather than failing for an unrelated reason.
func isCertRequiredError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "certificate_required") || strings.Contains(msg, "bad certificate")
}

func (c *Connection) negotiateMaxPayload(peerMax uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if peerMax == 0 || peerMax > aproto.MaxPayloadV1 {
		c.maxPayload = aproto.MaxPayloadV1
		return
	}
	c.maxPayload = int(peerMax)
}

// decodeFrame reads the next frame, honouring ctx's deadline on the
// underlying socket. A deadline exceeded while waiting is reported as
// ErrTimeout, a frame that fails validation as ErrProtocol, and any other
// failure as ErrIO.
func (c *Connection) decodeFrame(ctx context.Context) (aproto.Packet, error) {
	c.mu.Lock()
	rawConn := c.conn
	c.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		rawConn.SetReadDeadline(deadline)
	} else {
		rawConn.SetReadDeadline(time.Time{})
	}

	pkt, err := aproto.Decode(rawConn, aproto.MaxPayload)
	if err != nil {
		if ctx.Err() != nil {
			return aproto.Packet{}, ErrTimeout
		}
		if err == aproto.ErrInvalidMessage {
			return aproto.Packet{}, fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		return aproto.Packet{}, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return pkt, nil
}

// sendFrame encodes and writes one frame, serialised against every other
// writer on this connection (including Stream writes and OKAY/CLSE replies
// from the reader loop).
func (c *Connection) sendFrame(command aproto.Command, arg0, arg1 uint32, payload []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	rawConn := c.conn
	c.mu.Unlock()

	return aproto.Write(rawConn, command, arg0, arg1, payload)
}

// readLoop is the dedicated reader task (§4.4.2): it blocks on frame
// decode and dispatches until the connection fails or is closed.
func (c *Connection) readLoop() {
	defer c.Close()

	for {
		c.mu.Lock()
		rawConn := c.conn
		c.mu.Unlock()
		rawConn.SetReadDeadline(time.Time{})

		pkt, err := aproto.Decode(rawConn, aproto.MaxPayload)
		if err != nil {
			return
		}
		if err := c.dispatch(pkt); err != nil {
			return
		}
	}
}

func (c *Connection) dispatch(pkt aproto.Packet) error {
	switch pkt.Command {
	case aproto.OKAY:
		s := c.getStream(pkt.Arg1)
		if s == nil {
			return nil
		}
		if s.State() == stream.StateOpening {
			s.Open(pkt.Arg0)
		} else {
			s.Ack()
		}
		return nil

	case aproto.WRTE:
		localID, remoteID := pkt.Arg1, pkt.Arg0
		s := c.getStream(localID)
		if s == nil || s.IsClosed() {
			return c.sendFrame(aproto.CLSE, localID, remoteID, nil)
		}
		s.Push(pkt.Payload)
		return c.sendFrame(aproto.OKAY, localID, remoteID, nil)

	case aproto.CLSE:
		localID := pkt.Arg1
		if s := c.getStream(localID); s != nil {
			s.CloseRemote()
			c.removeStream(localID)
		}
		return nil

	default:
		// CNXN, AUTH, STLS, SYNC: illegal once RUNNING.
		return ErrProtocol
	}
}

// Open allocates a new local-id, sends OPEN for destination, and blocks
// until the peer answers OKAY (stream usable) or CLSE (ErrOpenRejected).
func (c *Connection) Open(destination string) (*stream.Stream, error) {
	c.mu.Lock()
	if c.state != StateRunning {
		closed := c.state == StateClosed
		c.mu.Unlock()
		if closed {
			return nil, ErrClosed
		}
		return nil, ErrNotRunning
	}
	localID := c.nextLocalID
	c.nextLocalID++
	maxPayload := c.maxPayload
	c.mu.Unlock()

	s := stream.New(localID, maxPayload, c)
	c.putStream(localID, s)

	payload := append([]byte(destination), 0)
	if err := c.sendFrame(aproto.OPEN, localID, 0, payload); err != nil {
		c.removeStream(localID)
		return nil, fmt.Errorf("%w: send OPEN: %v", ErrIO, err)
	}

	if err := s.AwaitOpen(); err != nil {
		c.removeStream(localID)
		return nil, ErrOpenRejected
	}
	return s, nil
}

// SendWrite implements stream.Sender, emitting a WRTE frame for a stream
// write. It is called by Stream, never directly by users of this package.
func (c *Connection) SendWrite(localID, remoteID uint32, payload []byte) error {
	if err := c.sendFrame(aproto.WRTE, localID, remoteID, payload); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

// SendClose implements stream.Sender, emitting CLSE and dropping the
// stream from the local-id map.
func (c *Connection) SendClose(localID, remoteID uint32) error {
	c.removeStream(localID)
	if err := c.sendFrame(aproto.CLSE, localID, remoteID, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

// Close tears the connection down: closes the socket (unblocking the
// reader loop with EOF), marks every open stream CLOSED, and wakes all
// waiters. Subsequent calls are no-ops.
func (c *Connection) Close() error {
	var closeErr error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		rawConn := c.conn
		c.mu.Unlock()

		closeErr = rawConn.Close()

		c.streamsMu.Lock()
		streams := make([]*stream.Stream, 0, len(c.streams))
		for _, s := range c.streams {
			streams = append(streams, s)
		}
		c.streams = make(map[uint32]*stream.Stream)
		c.streamsMu.Unlock()

		for _, s := range streams {
			s.CloseRemote()
		}
	})
	return closeErr
}

func (c *Connection) getStream(localID uint32) *stream.Stream {
	c.streamsMu.Lock()
	defer c.streamsMu.Unlock()
	return c.streams[localID]
}

func (c *Connection) putStream(localID uint32, s *stream.Stream) {
	c.streamsMu.Lock()
	defer c.streamsMu.Unlock()
	c.streams[localID] = s
}

func (c *Connection) removeStream(localID uint32) {
	c.streamsMu.Lock()
	defer c.streamsMu.Unlock()
	delete(c.streams, localID)
}
