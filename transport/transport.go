package transport

import (
	"errors"
	"net"
	"time"

	"go.uber.org/zap"
)

// dialTimeout bounds how long Send waits to establish a connection to a
// peer that may simply be unreachable; failure detection runs
// independently of this.
const dialTimeout = 2 * time.Second

// ConnHandler processes every message received on a connection — the
// accepting side of a `Serve` and the dialing side of a `Send` run the
// same handler, since the protocol's three-message dance can bounce
// replies back across either direction of one connection.
type ConnHandler interface {
	HandleConn(conn net.Conn)
}

// NewServer creates a Server. A nil logger is replaced with a no-op logger.
func NewServer(logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{logger: logger}
}

// Server accepts incoming connections and hands each one to a ConnHandler
// running in its own goroutine, one short conversation per connection.
type Server struct {
	logger *zap.Logger
}

// Serve runs the accept loop until ln is closed. It returns nil when ln's
// Accept fails because ln was closed (the expected shutdown path).
func (s *Server) Serve(ln net.Listener, handler ConnHandler) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go handler.HandleConn(conn)
	}
}

// Send opens a fresh connection to addr, writes msg, and hands the
// connection to handler to process any reply, returning whether the
// write succeeded. Connection errors are swallowed rather than returned:
// dead peers may simply refuse the connection, and failure detection
// runs independently of any single send's outcome.
func Send(addr string, msg Message, handler ConnHandler) bool {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return false
	}
	if err := WriteMessage(conn, msg); err != nil {
		conn.Close()
		return false
	}
	go handler.HandleConn(conn)
	return true
}
