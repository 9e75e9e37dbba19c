package hub

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	stateConnected int32 = iota
	stateClosing
	stateClosed
)

type ConnInfo struct {
	ConnID      string
	Kind        string
	RemoteAddr  string
	ConnectedAt time.Time
}

// Conn is one live peer registered with the hub. Only the hub holds it.
type Conn struct {
	info      ConnInfo
	transport Transport
	send      chan []byte
	state     atomic.Int32
	done      chan struct{}
}

func newConn(t Transport, queueSize int) *Conn {
	return &Conn{
		info: ConnInfo{
			ConnID:      uuid.NewString(),
			Kind:        t.Kind(),
			RemoteAddr:  t.RemoteAddr(),
			ConnectedAt: time.Now(),
		},
		transport: t,
		send:      make(chan []byte, queueSize),
		done:      make(chan struct{}),
	}
}

func (c *Conn) Info() ConnInfo { return c.info }

// Done is closed once the connection has been torn down.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Closed reports whether teardown has completed.
func (c *Conn) Closed() bool { return c.state.Load() == stateClosed }

// enqueue hands line to the writer without blocking. It must be called with
// the registry lock held so the channel cannot be closed concurrently.
func (c *Conn) enqueue(line []byte) bool {
	select {
	case c.send <- line:
		return true
	default:
		return false
	}
}
