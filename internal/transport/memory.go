package transport

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// MemoryNetwork is a shared in-process switchboard connecting a fixed set
// of MemoryTransport endpoints, grounded on the teacher's simu network
// harness: tests disable/enable endpoints and toggle reliability to drive
// partitions and packet loss deterministically, without any sockets.
type MemoryNetwork struct {
	mu        sync.Mutex
	endpoints map[int64]*MemoryTransport
	reliable  bool
	rnd       *rand.Rand
}

// NewMemoryNetwork returns an empty, reliable network.
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{
		endpoints: make(map[int64]*MemoryTransport),
		reliable:  true,
		rnd:       rand.New(rand.NewSource(1)),
	}
}

// NewEndpoint creates and registers the transport for peer id.
func (n *MemoryNetwork) NewEndpoint(id int64) *MemoryTransport {
	t := &MemoryTransport{
		id:       id,
		net:      n,
		handlers: make(map[RPCKind]Handler),
		enabled:  true,
	}
	n.mu.Lock()
	n.endpoints[id] = t
	n.mu.Unlock()
	return t
}

// Enable reconnects id to the network.
func (n *MemoryNetwork) Enable(id int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if t, ok := n.endpoints[id]; ok {
		t.enabled = true
	}
}

// Disable simulates id being partitioned away: sends to and from it fail.
func (n *MemoryNetwork) Disable(id int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if t, ok := n.endpoints[id]; ok {
		t.enabled = false
	}
}

// SetReliable toggles random request drops used to exercise timeout paths.
func (n *MemoryNetwork) SetReliable(reliable bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reliable = reliable
}

func (n *MemoryNetwork) lookup(id int64) (*MemoryTransport, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	t, ok := n.endpoints[id]
	if !ok || !t.enabled {
		return nil, false
	}
	return t, true
}

func (n *MemoryNetwork) dropped() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return !n.reliable && n.rnd.Intn(10) == 0
}

// MemoryTransport is one endpoint on a MemoryNetwork.
type MemoryTransport struct {
	id       int64
	net      *MemoryNetwork
	mu       sync.Mutex
	handlers map[RPCKind]Handler
	enabled  bool
	closed   bool
}

var _ Transport = (*MemoryTransport)(nil)

func (t *MemoryTransport) RegisterHandler(k RPCKind, h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[k] = h
}

// Send delivers req to peer synchronously on a fresh goroutine, simulating
// the asynchrony of a real network while keeping the test harness free of
// sockets and timers.
func (t *MemoryTransport) Send(ctx context.Context, peer int64, k RPCKind, req interface{}) *Future {
	f, resolve := NewFuture()

	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		resolve(nil, ErrClosed)
		return f
	}

	self, selfOK := t.net.lookup(t.id)
	if !selfOK || self != t {
		resolve(nil, fmt.Errorf("transport: endpoint %d disconnected", t.id))
		return f
	}

	peerT, ok := t.net.lookup(peer)
	if !ok {
		resolve(nil, fmt.Errorf("transport: peer %d unreachable", peer))
		return f
	}
	if t.net.dropped() {
		resolve(nil, fmt.Errorf("transport: request to %d dropped", peer))
		return f
	}

	peerT.mu.Lock()
	h, ok := peerT.handlers[k]
	peerT.mu.Unlock()
	if !ok {
		resolve(nil, fmt.Errorf("transport: peer %d has no handler for %s", peer, k))
		return f
	}

	go func() {
		// a small jitter keeps tests from relying on same-tick delivery
		// order, matching the non-determinism a real network has.
		time.Sleep(time.Duration(t.net.rnd.Intn(2)) * time.Millisecond)
		resp, err := h(t.id, req)
		select {
		case <-ctx.Done():
			resolve(nil, ctx.Err())
		default:
			resolve(resp, err)
		}
	}()
	return f
}

func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.net.Disable(t.id)
	return nil
}
