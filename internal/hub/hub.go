// Package hub is the broadcast relay: every line received from one peer is
// re-sent verbatim to every other registered peer.
package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"studychat/internal/models"
	"studychat/internal/observability"
	"studychat/internal/protocol"
)

// DefaultQueueSize bounds the lines buffered for one receiver before it is
// treated as a slow consumer and disconnected.
const DefaultQueueSize = 256

const eventsRoutingKey = "relay_events.connections"

// Publisher receives connection lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// Hub maintains the live connection registry and relays lines between peers.
type Hub struct {
	mu        sync.RWMutex
	conns     map[*Conn]struct{}
	listeners map[net.Listener]struct{}
	closed    bool

	queueSize int
	maxLine   int
	publisher Publisher

	wg sync.WaitGroup
}

// Option configures a Hub.
type Option func(*Hub)

func WithQueueSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

func WithMaxLine(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.maxLine = n
		}
	}
}

func WithPublisher(p Publisher) Option {
	return func(h *Hub) { h.publisher = p }
}

// New creates an empty hub.
func New(opts ...Option) *Hub {
	h := &Hub{
		conns:     make(map[*Conn]struct{}),
		listeners: make(map[net.Listener]struct{}),
		queueSize: DefaultQueueSize,
		maxLine:   protocol.DefaultMaxLine,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ListenAndServe accepts TCP peers on addr until ctx is cancelled.
func (h *Hub) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	log.Printf("hub: listening addr=%s", ln.Addr())
	return h.Serve(ctx, ln)
}

// Serve accepts TCP peers from ln until ctx is cancelled or the hub shuts down.
func (h *Hub) Serve(ctx context.Context, ln net.Listener) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		ln.Close()
		return errors.New("hub is shut down")
	}
	h.listeners[ln] = struct{}{}
	h.mu.Unlock()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			ln.Close()
		case <-stop:
		}
	}()

	defer func() {
		h.mu.Lock()
		delete(h.listeners, ln)
		h.mu.Unlock()
		ln.Close()
	}()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				log.Printf("hub: accept timeout: %v", err)
				time.Sleep(10 * time.Millisecond)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		if tcp, ok := nc.(*net.TCPConn); ok {
			_ = tcp.SetNoDelay(true)
		}
		h.Attach(NewTCPTransport(nc, h.maxLine))
	}
}

// Attach registers a peer and starts its reader and writer. It returns nil
// when the hub has been shut down.
func (h *Hub) Attach(t Transport) *Conn {
	c := newConn(t, h.queueSize)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = t.Close()
		return nil
	}
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	log.Printf("hub: connected conn_id=%s kind=%s remote=%s", c.info.ConnID, c.info.Kind, c.info.RemoteAddr)
	observability.IncRelayActive(c.info.Kind)
	observability.IncRelayEvent(c.info.Kind, "connect")
	h.publishEvent(c, "connect", "")

	h.wg.Add(2)
	go h.writeLoop(c)
	go h.readLoop(c)
	return c
}

// SendEvent relays a server-originated envelope to every registered peer.
func (h *Hub) SendEvent(_ context.Context, env models.Envelope) error {
	line, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	h.relay(nil, protocol.TrimLine(line))
	return nil
}

// Count reports the number of registered connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Shutdown stops every listener, tears down every connection and waits for
// their goroutines until ctx expires.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	for ln := range h.listeners {
		ln.Close()
	}
	h.mu.Unlock()

	for _, c := range conns {
		h.remove(c, "shutdown")
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) readLoop(c *Conn) {
	defer h.wg.Done()
	for {
		line, err := c.transport.ReadLine()
		if err != nil {
			reason := "eof"
			if !errors.Is(err, io.EOF) {
				reason = err.Error()
			}
			h.remove(c, reason)
			return
		}
		h.relay(c, line)
	}
}

func (h *Hub) writeLoop(c *Conn) {
	defer h.wg.Done()
	for line := range c.send {
		if c.state.Load() != stateConnected {
			return
		}
		if err := c.transport.WriteLine(line); err != nil {
			observability.IncRelayDelivery("write_error")
			h.remove(c, "write: "+err.Error())
			return
		}
	}
}

// relay queues line for every registered connection except from. Receivers
// whose queue is full are disconnected rather than allowed to stall the
// sender's reader.
func (h *Hub) relay(from *Conn, line []byte) {
	h.inspect(from, line)

	var slow []*Conn
	h.mu.RLock()
	for c := range h.conns {
		if c == from {
			continue
		}
		if c.enqueue(line) {
			observability.IncRelayDelivery("queued")
			continue
		}
		observability.IncRelayDelivery("dropped")
		slow = append(slow, c)
	}
	h.mu.RUnlock()

	for _, c := range slow {
		log.Printf("hub: slow consumer conn_id=%s queue=%d", c.info.ConnID, h.queueSize)
		observability.IncRelayEvent(c.info.Kind, "slow_consumer")
		h.remove(c, "slow consumer")
	}
}

// inspect decodes the line for logging and metrics only; the line is relayed
// whatever the outcome.
func (h *Hub) inspect(from *Conn, line []byte) {
	env, err := protocol.Decode(line)
	if err != nil {
		observability.IncRelayLine("malformed")
		origin := "server"
		if from != nil {
			origin = from.info.ConnID
		}
		log.Printf("hub: malformed line origin=%s bytes=%d err=%v", origin, len(line), err)
		return
	}
	observability.IncRelayLine(string(env.Type))
}

// remove moves c from Connected to Closing, drops it from the registry and
// closes its queue under the registry lock, then tears the transport down.
func (h *Hub) remove(c *Conn, reason string) {
	if !c.state.CompareAndSwap(stateConnected, stateClosing) {
		return
	}

	h.mu.Lock()
	delete(h.conns, c)
	close(c.send)
	h.mu.Unlock()

	_ = c.transport.Close()
	c.state.Store(stateClosed)
	close(c.done)

	log.Printf("hub: disconnected conn_id=%s kind=%s reason=%q duration=%s", c.info.ConnID, c.info.Kind, reason, time.Since(c.info.ConnectedAt).Round(time.Millisecond))
	observability.DecRelayActive(c.info.Kind)
	observability.IncRelayEvent(c.info.Kind, "disconnect")
	h.publishEvent(c, "disconnect", reason)
}

func (h *Hub) publishEvent(c *Conn, event, reason string) {
	if h.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	envelope := observability.NewConnectionEnvelope(observability.ConnectionEvent{
		Kind:       c.info.Kind,
		Event:      event,
		ConnID:     c.info.ConnID,
		RemoteAddr: c.info.RemoteAddr,
		DurationMS: time.Since(c.info.ConnectedAt).Milliseconds(),
		Reason:     reason,
	})
	if err := h.publisher.Publish(ctx, eventsRoutingKey, envelope); err != nil {
		log.Printf("hub: publish %s event failed conn_id=%s: %v", event, c.info.ConnID, err)
	}
}
