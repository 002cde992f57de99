package transport

import (
	"context"
	"fmt"
	"net"
	"net/rpc"
	"sync"

	"github.com/sirupsen/logrus"
)

// callArgs and callReply are the single generic envelope every RPCKind
// travels in: net/rpc needs concrete, gob-encodable types for a method's
// two arguments, so rather than registering four methods we register one
// and dispatch on Kind, the way the pack's net/rpc cache server registers
// one service exposing a handful of such envelopes.
type callArgs struct {
	From    int64
	Kind    RPCKind
	Payload interface{}
}

type callReply struct {
	Payload interface{}
	ErrMsg  string
}

// service is the net/rpc-visible type; its only exported method is Call.
type service struct {
	t *TCPTransport
}

func (s *service) Call(args *callArgs, reply *callReply) error {
	s.t.mu.Lock()
	h, ok := s.t.handlers[args.Kind]
	s.t.mu.Unlock()
	if !ok {
		reply.ErrMsg = fmt.Sprintf("transport: no handler for %s", args.Kind)
		return nil
	}

	resp, err := h(args.From, args.Payload)
	if err != nil {
		reply.ErrMsg = err.Error()
		return nil
	}
	reply.Payload = resp
	return nil
}

// TCPTransport is a net/rpc-based Transport: each peer runs an RPC server
// on its configured port, and Send dials out to the target peer's address
// on demand, grounded on the pack's rpc.Dial/client.Call distributed cache
// server pattern.
type TCPTransport struct {
	id    int64
	peers map[int64]string // id -> "host:port"
	log   *logrus.Entry

	mu       sync.Mutex
	handlers map[RPCKind]Handler
	clients  map[int64]*rpc.Client

	listener net.Listener
	closed   bool
}

var _ Transport = (*TCPTransport)(nil)

// NewTCPTransport starts listening on listenAddr and returns a transport
// that can dial the given peers by id. Both the id->address map and
// listenAddr are derived by the caller from the node's Config.
func NewTCPTransport(id int64, listenAddr string, peers map[int64]string, log *logrus.Entry) (*TCPTransport, error) {
	t := &TCPTransport{
		id:       id,
		peers:    peers,
		log:      log,
		handlers: make(map[RPCKind]Handler),
		clients:  make(map[int64]*rpc.Client),
	}

	server := rpc.NewServer()
	if err := server.RegisterName("Node", &service{t: t}); err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen on %s: %w", listenAddr, err)
	}
	t.listener = ln

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go server.ServeConn(conn)
		}
	}()

	return t, nil
}

func (t *TCPTransport) RegisterHandler(k RPCKind, h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[k] = h
}

func (t *TCPTransport) client(peer int64) (*rpc.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c, ok := t.clients[peer]; ok {
		return c, nil
	}
	addr, ok := t.peers[peer]
	if !ok {
		return nil, fmt.Errorf("transport: unknown peer %d", peer)
	}
	c, err := rpc.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	t.clients[peer] = c
	return c, nil
}

func (t *TCPTransport) forgetClient(peer int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.clients[peer]; ok {
		c.Close()
		delete(t.clients, peer)
	}
}

// Send dials peer (reusing a cached connection when possible) and issues
// the RPC on its own goroutine, resolving the returned Future when the
// call completes or ctx expires.
func (t *TCPTransport) Send(ctx context.Context, peer int64, k RPCKind, req interface{}) *Future {
	f, resolve := NewFuture()

	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		resolve(nil, ErrClosed)
		return f
	}

	go func() {
		client, err := t.client(peer)
		if err != nil {
			resolve(nil, err)
			return
		}

		args := &callArgs{From: t.id, Kind: k, Payload: req}
		var reply callReply
		call := client.Go("Node.Call", args, &reply, nil)

		select {
		case <-call.Done:
			if call.Error != nil {
				t.forgetClient(peer)
				resolve(nil, call.Error)
				return
			}
			if reply.ErrMsg != "" {
				resolve(nil, fmt.Errorf("transport: %s", reply.ErrMsg))
				return
			}
			resolve(reply.Payload, nil)
		case <-ctx.Done():
			resolve(nil, ctx.Err())
		}
	}()

	return f
}

// Close stops accepting connections and drops all dialed clients.
func (t *TCPTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	for id, c := range t.clients {
		c.Close()
		delete(t.clients, id)
	}
	t.mu.Unlock()

	if t.listener != nil {
		return t.listener.Close()
	}
	return nil
}
