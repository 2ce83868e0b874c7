// Package stream implements the per-logical-stream side of an ADB
// connection: a bidirectional byte queue multiplexed over the shared
// socket, with ADB's one-outstanding-WRTE backpressure rule.
package stream

import (
	"bytes"
	"io"
	"sync"
)

// State is a Stream's position in its lifecycle.
type State int

const (
	// StateOpening is the state from creation until the peer's first OKAY
	// (or a CLSE rejecting the open) arrives.
	StateOpening State = iota
	// StateOpen is the state once the peer has acknowledged the open.
	StateOpen
	// StateClosed is terminal: set on local close(), on a received CLSE,
	// or on connection teardown.
	StateClosed
)

// Sender is the Connection-side callback a Stream uses to emit frames. It
// lets this package stay free of pkg/conn so the two can reference each
// other without an import cycle: Connection owns the Stream map, Stream
// calls back through this narrow interface to put bytes on the wire.
type Sender interface {
	SendWrite(localID, remoteID uint32, payload []byte) error
	SendClose(localID, remoteID uint32) error
}

// Stream is one ADB logical stream: a local-id/remote-id pair, an inbound
// byte queue fed by the connection's reader loop, and a single-slot
// ack-gate implementing ADB's "one outstanding WRTE per stream" rule.
type Stream struct {
	localID    uint32
	maxPayload int
	sender     Sender

	mu    sync.Mutex
	cond  *sync.Cond
	state State

	remoteID uint32
	acked    bool // ack-gate: true iff the last WRTE we sent has been OKAYed

	inbound bytes.Buffer
	eof     bool // peer sent CLSE or connection tore down, no more bytes will arrive
}

// New creates a Stream in StateOpening for the given local-id. maxPayload
// is the negotiated chunk size writes are fragmented to.
func New(localID uint32, maxPayload int, sender Sender) *Stream {
	s := &Stream{
		localID:    localID,
		maxPayload: maxPayload,
		sender:     sender,
		acked:      true,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// LocalID returns this stream's local identifier.
func (s *Stream) LocalID() uint32 { return s.localID }

// RemoteID returns the peer's identifier for this stream, valid once Open
// has been called.
func (s *Stream) RemoteID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteID
}

// State returns the current lifecycle state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsClosed reports whether the stream has transitioned to StateClosed.
func (s *Stream) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateClosed
}

// Open binds remoteID and transitions StateOpening -> StateOpen on the
// peer's first OKAY. It is a no-op if the stream is already open or closed.
func (s *Stream) Open(remoteID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpening {
		return
	}
	s.remoteID = remoteID
	s.state = StateOpen
	s.cond.Broadcast()
}

// AwaitOpen blocks until the reader loop has resolved the open request,
// returning nil once the stream reaches StateOpen or ErrOpenRejected once
// it reaches StateClosed first.
func (s *Stream) AwaitOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.state == StateOpening {
		s.cond.Wait()
	}
	if s.state == StateClosed {
		return ErrOpenRejected
	}
	return nil
}

// Ack opens the ack-gate: called when an OKAY arrives for an already-open
// stream, granting permission to send the next WRTE.
func (s *Stream) Ack() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acked = true
	s.cond.Broadcast()
}

// Push appends payload from a received WRTE into the inbound queue, waking
// any blocked Read.
func (s *Stream) Push(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.inbound.Write(payload)
	s.cond.Broadcast()
}

// CloseRemote marks the stream CLOSED in response to a peer CLSE (or
// connection teardown): no CLSE is sent back. Buffered inbound bytes
// remain readable; Read returns io.EOF once they're drained.
func (s *Stream) CloseRemote() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eof = true
	s.state = StateClosed
	s.cond.Broadcast()
}

// Close transitions an open stream to CLOSED, sending CLSE to the peer.
// Calling Close on an already-closed stream is a no-op.
func (s *Stream) Close() error {
	s.mu.Lock()
	wasOpen := s.state != StateClosed
	remoteID := s.remoteID
	s.eof = true
	s.state = StateClosed
	s.cond.Broadcast()
	s.mu.Unlock()

	if !wasOpen {
		return nil
	}
	return s.sender.SendClose(s.localID, remoteID)
}

// Read blocks until bytes are available, the stream is closed, or the
// inbound queue has been drained after closure (io.EOF), per io.Reader.
func (s *Stream) Read(buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.inbound.Len() == 0 && !s.eof {
		s.cond.Wait()
	}
	if s.inbound.Len() == 0 {
		return 0, io.EOF
	}
	return s.inbound.Read(buf)
}

// Write fragments data into chunks no larger than the negotiated
// max-payload, sending one WRTE per chunk and waiting on the ack-gate
// between each so that at most one WRTE is ever outstanding.
func (s *Stream) Write(data []byte) (int, error) {
	written := 0
	for len(data) > 0 {
		chunk := data
		if len(chunk) > s.maxPayload {
			chunk = data[:s.maxPayload]
		}

		remoteID, err := s.waitForAckGate()
		if err != nil {
			return written, err
		}

		if err := s.sender.SendWrite(s.localID, remoteID, chunk); err != nil {
			return written, err
		}

		written += len(chunk)
		data = data[len(chunk):]
	}
	return written, nil
}

// waitForAckGate blocks until the ack-gate is open (no outstanding WRTE)
// and the stream is still open, then closes the gate for the caller's
// upcoming WRTE.
func (s *Stream) waitForAckGate() (remoteID uint32, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.state == StateOpen && !s.acked {
		s.cond.Wait()
	}
	if s.state != StateOpen {
		return 0, ErrClosed
	}
	s.acked = false
	return s.remoteID, nil
}
