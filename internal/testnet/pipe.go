// Package testnet provides in-memory net.Conn pairs for exercising the
// connection and stream state machines without real sockets.
package testnet

import (
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/pion/transport/v3/test"
)

// NetworkCondition configures network behavior simulation on a Pipe.
type NetworkCondition struct {
	// DropRate is the probability of dropping a write (0.0 - 1.0).
	DropRate float64

	// DelayMin is the minimum delay added to each write.
	DelayMin time.Duration

	// DelayMax is the maximum delay added to each write. Actual delay is
	// uniformly distributed between DelayMin and DelayMax.
	DelayMax time.Duration

	// DuplicateRate is the probability of duplicating a write (0.0 - 1.0).
	DuplicateRate float64
}

// PipeConfig configures a Pipe.
type PipeConfig struct {
	// AutoProcess enables automatic delivery in a background goroutine.
	// Default: true.
	AutoProcess bool

	// ProcessInterval is how often the auto-processor checks for pending
	// data. Default: 1ms.
	ProcessInterval time.Duration
}

// DefaultPipeConfig returns the default pipe configuration.
func DefaultPipeConfig() PipeConfig {
	return PipeConfig{
		AutoProcess:     true,
		ProcessInterval: time.Millisecond,
	}
}

// Pipe provides a bidirectional in-memory net.Conn pair, suitable for
// driving a Connection's reader/writer loop in tests without a real TCP
// socket. It wraps pion's test.Bridge and adds optional network condition
// simulation on top.
type Pipe struct {
	bridge *test.Bridge

	mu          sync.RWMutex
	condition   NetworkCondition
	closed      bool
	rng         *rand.Rand
	autoProcess bool
	interval    time.Duration
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

// NewPipe creates a new bidirectional pipe with auto-processing enabled.
func NewPipe() *Pipe {
	return NewPipeWithConfig(DefaultPipeConfig())
}

// NewPipeWithConfig creates a new pipe with the given configuration.
func NewPipeWithConfig(config PipeConfig) *Pipe {
	p := &Pipe{
		bridge:   test.NewBridge(),
		rng:      rand.New(rand.NewSource(1)),
		interval: config.ProcessInterval,
		stopCh:   make(chan struct{}),
	}
	if p.interval == 0 {
		p.interval = time.Millisecond
	}
	p.autoProcess = config.AutoProcess
	if p.autoProcess {
		p.startAutoProcess()
	}
	return p
}

func (p *Pipe) startAutoProcess() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.bridge.Tick()
			}
		}
	}()
}

// SetCondition configures network condition simulation for both directions.
// It takes effect on writes made after the call returns.
func (p *Pipe) SetCondition(cond NetworkCondition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.condition = cond
}

// Condition returns the currently configured network condition.
func (p *Pipe) Condition() NetworkCondition {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.condition
}

// Conn0 returns the net.Conn for endpoint 0 (conventionally the client/host side).
// Writes on the returned conn are subject to whatever NetworkCondition is
// configured via SetCondition.
func (p *Pipe) Conn0() net.Conn { return &conditionedConn{Conn: p.bridge.GetConn0(), pipe: p} }

// Conn1 returns the net.Conn for endpoint 1 (conventionally the device/server side).
// Writes on the returned conn are subject to whatever NetworkCondition is
// configured via SetCondition.
func (p *Pipe) Conn1() net.Conn { return &conditionedConn{Conn: p.bridge.GetConn1(), pipe: p} }

// Tick hands one queued segment in each direction to a Read already blocked
// on the receiving endpoint. A segment with no waiting reader stays queued
// and is not counted.
func (p *Pipe) Tick() int { return p.bridge.Tick() }

// Process calls Tick until it delivers nothing, so it only delivers segments
// for which a reader is already waiting.
func (p *Pipe) Process() int {
	count := 0
	for {
		n := p.Tick()
		if n == 0 {
			return count
		}
		count += n
	}
}

// Close closes both endpoints and stops auto-processing.
func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.autoProcess {
		close(p.stopCh)
	}
	p.mu.Unlock()

	p.wg.Wait()

	err0 := p.bridge.GetConn0().Close()
	err1 := p.bridge.GetConn1().Close()
	if err0 != nil {
		return err0
	}
	return err1
}

// conditionedConn wraps one endpoint of a Pipe's bridge and applies the
// pipe's configured NetworkCondition to every Write, the same way a real
// lossy/jittery link would: a write can be silently dropped, delayed, or
// duplicated before reaching the peer. Reads apply no condition, since
// delivery order/loss is a property of the sender's link, not the
// receiver's; they do keep the unread rest of a delivered segment so that
// the endpoint reads like a byte stream.
type conditionedConn struct {
	net.Conn
	pipe    *Pipe
	pending []byte
}

// Read returns bytes left over from the last delivered segment, or blocks for
// the next segment. The bridge hands over whole segments and drops whatever
// does not fit the caller's buffer, so each segment (up to 64 KiB) is taken
// into pending first and served across as many Reads as needed.
func (c *conditionedConn) Read(b []byte) (int, error) {
	if len(c.pending) == 0 {
		buf := make([]byte, 64*1024)
		n, err := c.Conn.Read(buf)
		if err != nil {
			return 0, err
		}
		c.pending = buf[:n]
	}
	n := copy(b, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

func (c *conditionedConn) Write(b []byte) (int, error) {
	c.pipe.mu.RLock()
	cond := c.pipe.condition
	rng := c.pipe.rng
	c.pipe.mu.RUnlock()

	if cond.DropRate > 0 && rng.Float64() < cond.DropRate {
		return len(b), nil
	}

	if cond.DelayMax > 0 {
		delay := cond.DelayMin
		if cond.DelayMax > cond.DelayMin {
			delay += time.Duration(rng.Int63n(int64(cond.DelayMax - cond.DelayMin)))
		}
		if delay > 0 {
			time.Sleep(delay)
		}
	}

	if cond.DuplicateRate > 0 && rng.Float64() < cond.DuplicateRate {
		if _, err := c.Conn.Write(b); err != nil {
			return 0, err
		}
	}

	return c.Conn.Write(b)
}
