package web

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"dsplay/log"
)

// outgoing queue size. Progress is sent every few ms while downloading,
// slow pages drop it rather than blocking the download.
const sendQueue = 64

// A Socket is a websocket connection to a page. Writes are serialized by a
// dedicated goroutine.
type Socket struct {
	conn net.Conn
	q    chan []byte

	once   sync.Once
	closed chan struct{}
}

func newSocket(conn net.Conn) *Socket {
	k := &Socket{
		conn:   conn,
		q:      make(chan []byte, sendQueue),
		closed: make(chan struct{}),
	}
	go k.writeHandler()
	return k
}

// Send queues msg. It reports false if the socket is closed or its queue
// is full.
func (k *Socket) Send(msg []byte) bool {
	select {
	case <-k.closed:
		return false
	default:
	}

	select {
	case k.q <- msg:
		return true
	case <-k.closed:
	default:
		log.ModWeb.WarnZ("send queue full, message dropped").Int("size", len(msg)).End()
	}
	return false
}

// Close closes the connection. It's safe to call more than once.
func (k *Socket) Close() {
	k.once.Do(func() {
		close(k.closed)
		k.conn.Close()
	})
}

// Closed returns a channel closed with the socket.
func (k *Socket) Closed() <-chan struct{} { return k.closed }

// read blocks until the next text message from the page. Control frames
// are handled transparently.
func (k *Socket) read() ([]byte, error) {
	for {
		msg, op, err := wsutil.ReadClientData(k.conn)
		if err != nil {
			return nil, err
		}
		if op == ws.OpText {
			return msg, nil
		}
		log.ModWeb.DebugZ("ignoring non-text frame").Stringer("op", opCode(op)).End()
	}
}

func (k *Socket) writeHandler() {
	for {
		select {
		case msg := <-k.q:
			if err := wsutil.WriteServerMessage(k.conn, ws.OpText, msg); err != nil {
				log.ModWeb.DebugZ("websocket write failed").Error("err", err).End()
				k.Close()
				return
			}
		case <-k.closed:
			return
		}
	}
}

// isClosed reports whether err is the normal end of a connection.
func isClosed(err error) bool {
	var cerr wsutil.ClosedError
	return errors.As(err, &cerr) || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}

type opCode ws.OpCode

func (op opCode) String() string {
	switch ws.OpCode(op) {
	case ws.OpBinary:
		return "binary"
	case ws.OpContinuation:
		return "continuation"
	}
	return "control"
}
