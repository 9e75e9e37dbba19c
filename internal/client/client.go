// Package client holds a participant's single connection to the broadcast hub.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"studychat/internal/models"
	"studychat/internal/protocol"
)

var ErrNotConnected = errors.New("not connected to chat server")

// Handler receives every envelope read from the hub, on the reader goroutine.
type Handler func(models.Envelope)

// Client owns one outbound TCP connection. SendEvent may be called from any
// goroutine; each envelope is written and flushed atomically.
type Client struct {
	handler Handler
	maxLine int
	dial    DialFunc

	sendMu sync.Mutex

	mu     sync.Mutex
	conn   net.Conn
	writer *protocol.Writer
	done   chan struct{}
}

// DialFunc opens the transport connection, e.g. (*net.Dialer).DialContext.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Option configures a Client.
type Option func(*Client)

// WithMaxLine bounds the size of an inbound line.
func WithMaxLine(n int) Option {
	return func(c *Client) { c.maxLine = n }
}

// WithDialer replaces the TCP dialer.
func WithDialer(dial DialFunc) Option {
	return func(c *Client) { c.dial = dial }
}

// New constructs a disconnected client. handler may be nil.
func New(handler Handler, opts ...Option) *Client {
	c := &Client{handler: handler, maxLine: protocol.DefaultMaxLine}
	var dialer net.Dialer
	c.dial = dialer.DialContext
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials host:port and starts the reader. Calling it while connected
// is a no-op. The dial happens outside the client lock; when two calls race,
// the later connection is closed and the first one kept.
func (c *Client) Connect(ctx context.Context, host string, port int) error {
	if c.Connected() {
		return nil
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := c.dial(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		if err := tcp.SetNoDelay(true); err != nil {
			conn.Close()
			return fmt.Errorf("disable nagle: %w", err)
		}
	}

	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.writer = protocol.NewWriter(conn)
	c.done = make(chan struct{})
	go c.readLoop(conn, c.done)
	c.mu.Unlock()

	log.Printf("client: connected addr=%s", addr)
	return nil
}

// Connected reports whether a connection is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Done is closed when the current connection ends. It returns a closed
// channel when the client is not connected.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return c.done
}

// SendEvent writes env as one line and flushes it. A deadline on ctx bounds
// the write.
func (c *Client) SendEvent(ctx context.Context, env models.Envelope) error {
	line, err := protocol.Encode(env)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn, writer := c.conn, c.writer
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
		defer conn.SetWriteDeadline(time.Time{})
	}
	if err := writer.WriteLine(line); err != nil {
		c.drop(conn)
		return fmt.Errorf("send %s: %w", env.Type, err)
	}
	return nil
}

// Disconnect closes the connection. It is idempotent and safe to call from
// the handler.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return c.drop(conn)
}

// drop tears down conn if it is still the current connection, so a late call
// from an old reader cannot close a newer connection.
func (c *Client) drop(conn net.Conn) error {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return nil
	}
	c.conn = nil
	c.writer = nil
	done := c.done
	c.mu.Unlock()

	err := conn.Close()
	close(done)
	log.Printf("client: disconnected remote=%s", conn.RemoteAddr())
	return err
}

func (c *Client) readLoop(conn net.Conn, done chan struct{}) {
	sc := protocol.NewScanner(conn, c.maxLine)
	for sc.Scan() {
		env, err := protocol.Decode(sc.Bytes())
		if err != nil {
			log.Printf("client: skipping line: %v", err)
			continue
		}
		if c.handler != nil {
			c.handler(env)
		}
	}

	select {
	case <-done:
		return
	default:
	}
	if err := sc.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		log.Printf("client: read failed: %v", err)
	} else if err == nil {
		log.Printf("client: server closed connection: %v", io.EOF)
	}
	c.drop(conn)
}
