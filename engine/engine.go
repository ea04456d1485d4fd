// Package engine implements the Gossip Engine: message handlers, periodic
// emitters, peer selection, and join. It is the system's core, grounded
// in gossip/pkg/gossiper.go's goroutine-per-concern shape, generalized
// from "exchange the whole membership list over RPC" to a five-verb,
// interest-driven protocol.
package engine

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mcastellin/gossipmesh/ballot"
	"github.com/mcastellin/gossipmesh/clock"
	"github.com/mcastellin/gossipmesh/peer"
	"github.com/mcastellin/gossipmesh/store"
	"github.com/mcastellin/gossipmesh/transport"
)

// eventBufferSize bounds the event channel; a slow consumer drops events
// rather than stalling the engine — handlers never block on a shared-state
// suspension point.
const eventBufferSize = 256

// ErrAlreadyListening is returned by Listen when called on an Engine that
// is already serving.
var ErrAlreadyListening = errors.New("engine: already listening")

// New creates an Engine. A nil logger is replaced with a no-op logger; a
// nil idGen uses peer.NewIDGenerator(), the xid-backed default.
func New(cfg Config, idGen peer.IDGenerator, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if idGen == nil {
		idGen = peer.NewIDGenerator()
	}
	cfg = cfg.withDefaults()

	self := peer.Descriptor{
		ID:                idGen.New(),
		Address:           cfg.Address,
		Port:              cfg.Port,
		Alive:             true,
		Timeout:           cfg.Timeout,
		HeartbeatInterval: cfg.HeartbeatInterval,
		ListInterval:      cfg.ListInterval,
		HashInterval:      cfg.HashInterval,
	}

	timers := clock.New(logger)
	table := peer.New(self, cfg.Timeout, timers, logger)

	return &Engine{
		logger: logger,
		cfg:    cfg,
		table:  table,
		store:  store.New(logger),
		ballot: ballot.New(logger),
		timers: timers,
		server: transport.NewServer(logger),
		events: make(chan Event, eventBufferSize),
	}
}

// Engine ties the Peer Table, SHash, Ballot Box, Timer Registry, and
// Transport together and drives the periodic gossip rounds. One Engine
// per logical node; every shared registry is an instance-owned field
// rather than a package-level global.
type Engine struct {
	logger *zap.Logger
	cfg    Config

	table  *peer.Table
	store  *store.SHash
	ballot *ballot.Box
	timers *clock.Registry
	server *transport.Server

	events chan Event

	mu        sync.Mutex
	listening bool
	listener  net.Listener
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// Self returns the local node's own peer descriptor.
func (e *Engine) Self() peer.Descriptor {
	return e.table.Self()
}

// Peers returns a snapshot of every known peer descriptor, keyed by id.
func (e *Engine) Peers() map[peer.ID]peer.Descriptor {
	return e.table.All()
}

// Events returns the channel on which every observable event is
// delivered.
func (e *Engine) Events() <-chan Event {
	return e.events
}

func (e *Engine) emit(evt Event) {
	select {
	case e.events <- evt:
	default:
		e.logger.Debug("event stream full, dropping event", zap.String("kind", string(evt.Kind)))
	}
}

// Listen binds bindAddr (":<port>" if empty) and starts the accept loop
// and the three periodic emitters. It may be called at most once per Engine.
func (e *Engine) Listen(bindAddr string) error {
	e.mu.Lock()
	if e.listening {
		e.mu.Unlock()
		return ErrAlreadyListening
	}
	if bindAddr == "" {
		bindAddr = fmt.Sprintf(":%d", e.cfg.Port)
	}
	e.mu.Unlock()

	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return fmt.Errorf("engine: listen: %w", err)
	}

	e.mu.Lock()
	e.listener = ln
	e.listening = true
	e.stopCh = make(chan struct{})
	e.mu.Unlock()

	e.logger.Info("engine listening", zap.String("addr", ln.Addr().String()))

	e.wg.Add(4)
	go func() {
		defer e.wg.Done()
		if err := e.server.Serve(ln, e); err != nil {
			e.logger.Debug("accept loop stopped", zap.Error(err))
		}
	}()
	go func() { defer e.wg.Done(); e.heartbeatLoop() }()
	go func() { defer e.wg.Done(); e.listLoop() }()
	go func() { defer e.wg.Done(); e.hashLoop() }()

	return nil
}

// Join seeds this node's membership by sending the local peer table to a
// known member at (address, port). The seed merges it and, through its
// own periodic emitters, spreads knowledge of us onward.
func (e *Engine) Join(port int, address string) {
	addr := fmt.Sprintf("%s:%d", address, port)
	e.send(addr, transport.List, newListPayload(e.table.All()))
}

// Close stops the periodic emitters, cancels every peer failure timer,
// and stops listening. In-flight connections are left to drain rather
// than forcibly terminated.
func (e *Engine) Close() error {
	e.mu.Lock()
	if !e.listening {
		e.mu.Unlock()
		return nil
	}
	e.listening = false
	ln := e.listener
	stopCh := e.stopCh
	e.mu.Unlock()

	close(stopCh)

	var err error
	if ln != nil {
		if cerr := ln.Close(); cerr != nil {
			err = multierr.Append(err, cerr)
		}
	}
	e.timers.CancelAll()
	e.wg.Wait()
	return err
}

func addrOf(d peer.Descriptor) string {
	return fmt.Sprintf("%s:%d", d.Address, d.Port)
}

// send transmits payload as verb to addr, bumping our own lifetime
// unconditionally — even on a failed send, lifetime is a local logical
// clock, not a message-success counter.
func (e *Engine) send(addr string, verb transport.Verb, payload any) {
	e.table.BumpSelf()

	msg, err := transport.NewMessage(verb, payload)
	if err != nil {
		e.logger.Debug("failed to encode outgoing message", zap.Error(err))
		return
	}

	e.emit(Event{Kind: KindSend, Addr: addr, Message: msg})
	if transport.Send(addr, msg, e) {
		e.emit(Event{Kind: KindSent, Addr: addr, Message: msg})
	}
}

func (e *Engine) heartbeatLoop() {
	ticker := time.NewTicker(e.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.table.BumpSelf()
		}
	}
}

func (e *Engine) listLoop() {
	ticker := time.NewTicker(e.cfg.ListInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			target, ok := e.table.RandomAlivePeer()
			if !ok {
				continue
			}
			e.send(addrOf(target), transport.List, newListPayload(e.table.All()))
		}
	}
}

func (e *Engine) hashLoop() {
	ticker := time.NewTicker(e.cfg.HashInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			target, ok := e.table.RandomAlivePeer()
			if !ok {
				continue
			}
			key, version, ok := e.store.RandomPair()
			if !ok {
				continue
			}
			e.send(addrOf(target), transport.Gossip, KeyVersion{Key: key, Version: version})
		}
	}
}
