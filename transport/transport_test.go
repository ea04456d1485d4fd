package transport

import (
	"bytes"
	"net"
	"testing"
	"time"
)

func TestWriteReadMessageRoundTrip(t *testing.T) {
	msg, err := NewMessage(Gossip, []any{"x", "v1"})
	if err != nil {
		t.Fatal(err)
	}

	buf := &bytes.Buffer{}
	if err := WriteMessage(buf, msg); err != nil {
		t.Fatal(err)
	}

	got, err := ReadMessage(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.Meta.Type != Gossip {
		t.Fatalf("expected verb gossip, got %s", got.Meta.Type)
	}
}

func TestReadMessageRejectsMissingType(t *testing.T) {
	buf := &bytes.Buffer{}
	WriteMessage(buf, Message{Data: []byte(`{"a":1}`)})

	if _, err := ReadMessage(buf); err == nil {
		t.Fatal("expected an error for a message with no meta.type")
	}
}

func TestReadMessageRejectsMissingData(t *testing.T) {
	buf := &bytes.Buffer{}
	WriteMessage(buf, Message{Meta: Meta{Type: List}})

	if _, err := ReadMessage(buf); err == nil {
		t.Fatal("expected an error for a message with no data")
	}
}

type recordingHandler struct {
	received chan Message
}

func (h *recordingHandler) HandleConn(conn net.Conn) {
	defer conn.Close()
	msg, err := ReadMessage(conn)
	if err != nil {
		return
	}
	h.received <- msg
}

func TestServerAndSendRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	h := &recordingHandler{received: make(chan Message, 1)}
	srv := NewServer(nil)
	go srv.Serve(ln, h)

	msg, _ := NewMessage(List, map[string]string{"hello": "world"})
	Send(ln.Addr().String(), msg, h)

	select {
	case got := <-h.received:
		if got.Meta.Type != List {
			t.Fatalf("expected list verb, got %s", got.Meta.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the message")
	}
}

func TestSendToDeadAddressIsSwallowed(t *testing.T) {
	h := &recordingHandler{received: make(chan Message, 1)}
	msg, _ := NewMessage(List, map[string]string{})

	done := make(chan struct{})
	go func() {
		Send("127.0.0.1:1", msg, h)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Send should return promptly even when the peer is unreachable")
	}
}
