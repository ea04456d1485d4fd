package engine

import (
	"net"

	"go.uber.org/zap"

	"github.com/mcastellin/gossipmesh/ballot"
	"github.com/mcastellin/gossipmesh/transport"
)

// HandleConn implements transport.ConnHandler. It reads exactly one
// message from conn, dispatches it, and closes the connection — the
// reply leg of a gossip/request/response dance is a second message
// written back on the same conn from inside dispatch, not a second
// connection.
func (e *Engine) HandleConn(conn net.Conn) {
	defer conn.Close()

	msg, err := transport.ReadMessage(conn)
	if err != nil {
		e.logger.Debug("dropping unreadable message", zap.Error(err))
		return
	}

	e.emit(Event{Kind: KindData, Message: msg})
	e.dispatch(conn, msg)
}

func (e *Engine) dispatch(conn net.Conn, msg transport.Message) {
	switch msg.Meta.Type {
	case transport.List:
		e.handleList(msg)
	case transport.Gossip:
		e.handleGossip(conn, msg)
	case transport.Request:
		e.handleRequest(conn, msg)
	case transport.Response:
		e.handleResponse(msg)
	case transport.Votes:
		e.handleVotes(msg)
	default:
		e.logger.Debug("dropping message with unknown verb", zap.String("verb", string(msg.Meta.Type)))
	}
}

// handleList merges every descriptor in an incoming membership list into
// the local peer table and surfaces the event.
func (e *Engine) handleList(msg transport.Message) {
	var payload ListPayload
	if err := msg.Decode(&payload); err != nil {
		e.logger.Debug("malformed list payload", zap.Error(err))
		return
	}
	for _, d := range payload {
		e.table.AddOrMerge(d)
	}
	e.emit(Event{Kind: KindList, Message: msg})
}

// handleGossip answers an incoming (key, version) announcement: if the
// sender's version is of no interest, the conversation ends here; if it
// is, we reply in-kind with a `request` for the value, on the very same
// connection.
func (e *Engine) handleGossip(conn net.Conn, msg transport.Message) {
	var kv KeyVersion
	if err := msg.Decode(&kv); err != nil {
		e.logger.Debug("malformed gossip payload", zap.Error(err))
		return
	}
	e.emit(Event{Kind: KindGossip, Message: msg})

	if !e.store.Interest(kv.Key, kv.Version) {
		return
	}

	reply, err := transport.NewMessage(transport.Request, KeyVersion{Key: kv.Key, Version: kv.Version})
	if err != nil {
		e.logger.Debug("failed to encode request reply", zap.Error(err))
		return
	}
	if err := transport.WriteMessage(conn, reply); err != nil {
		e.logger.Debug("failed to write request reply", zap.Error(err))
		return
	}

	replyMsg, err := transport.ReadMessage(conn)
	if err != nil {
		e.logger.Debug("no response to request", zap.Error(err))
		return
	}
	e.emit(Event{Kind: KindData, Message: replyMsg})
	e.dispatch(conn, replyMsg)
}

// handleRequest answers an incoming request for a key's current value by
// writing a `response` message back on the same connection, if we still
// have something to offer.
func (e *Engine) handleRequest(conn net.Conn, msg transport.Message) {
	var kv KeyVersion
	if err := msg.Decode(&kv); err != nil {
		e.logger.Debug("malformed request payload", zap.Error(err))
		return
	}
	e.emit(Event{Kind: KindRequest, Message: msg})

	value, version, ok := e.store.GetVersioned(kv.Key)
	if !ok {
		return
	}

	reply, err := transport.NewMessage(transport.Response, KeyValue{Key: kv.Key, Value: value, Version: version})
	if err != nil {
		e.logger.Debug("failed to encode response", zap.Error(err))
		return
	}
	if err := transport.WriteMessage(conn, reply); err != nil {
		e.logger.Debug("failed to write response", zap.Error(err))
	}
}

// handleResponse stores an incoming value if it is still of interest by
// the time it arrives.
func (e *Engine) handleResponse(msg transport.Message) {
	var kv KeyValue
	if err := msg.Decode(&kv); err != nil {
		e.logger.Debug("malformed response payload", zap.Error(err))
		return
	}
	e.emit(Event{Kind: KindResponse, Message: msg})
	e.store.SetUnique(kv.Key, kv.Value, kv.Version)
}

// handleVotes merges an incoming election record, then evaluates the
// quorum predicate against the merged ballots: if that just closed the
// election, surface the close as an event; if the election is still open,
// forward the merged record on to another random peer so the vote keeps
// spreading. A record for an election that was already closed is neither
// surfaced nor forwarded.
func (e *Engine) handleVotes(msg transport.Message) {
	var incoming ballot.Election
	if err := msg.Decode(&incoming); err != nil {
		e.logger.Debug("malformed votes payload", zap.Error(err))
		return
	}
	e.emit(Event{Kind: KindVotes, Message: msg})

	before, _ := e.ballot.Get(incoming.Topic)
	e.ballot.Merge(incoming.Topic, incoming)
	closed := e.ballot.Decide(incoming.Topic, len(e.table.All()))

	if closed && !before.Closed {
		election, _ := e.ballot.Get(incoming.Topic)
		e.surfaceElectionClose(election)
		return
	}
	if !closed {
		e.forwardVotes(incoming.Topic)
	}
}

// surfaceElectionClose emits KindDeadline or KindQuorum for a newly
// closed election — never both, since an election closes exactly once.
func (e *Engine) surfaceElectionClose(election ballot.Election) {
	kind := KindQuorum
	if election.Expired {
		kind = KindDeadline
	}
	e.emit(Event{Kind: kind, Topic: election.Topic, Election: election})
}

// forwardVotes gossips topic's current election record to a random alive
// peer, the same interest-free push the `list` round uses — ballots
// propagate eagerly since there's no cheap way to ask "do you have a
// newer vote?" the way SHash's Version answers that for values.
func (e *Engine) forwardVotes(topic string) {
	election, ok := e.ballot.Get(topic)
	if !ok {
		return
	}
	target, ok := e.table.RandomAlivePeer()
	if !ok {
		return
	}
	e.send(addrOf(target), transport.Votes, election)
}
