// Package transport implements XMPP-over-WebSocket (RFC 7395) framing on
// top of gorilla/websocket: the connection FSM's Conn abstraction for
// spec §4.C, a single WebSocket text-frame stream carrying either the
// framing namespace's <open/>/<close/> pseudo-elements or a single
// stanza document per frame.
//
// Grounded on the teacher's locked reader/writer pattern
// (mellium.im/xmpp's session.go: "s.out.Locker = &sync.Mutex{}" /
// "s.in.Locker = &sync.Mutex{}"), adapted here to a WebSocket frame
// boundary instead of a shared byte stream, since RFC 7395 framing has
// no XML stream wrapper to restart.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"

	"github.com/avstack/gomeet/ns"
	"github.com/avstack/gomeet/xmlnode"
)

// Subprotocol is the WebSocket subprotocol RFC 7395 mandates for XMPP
// (spec §6 "The subprotocol must be xmpp").
const Subprotocol = "xmpp"

// Conn is a framed XMPP-over-WebSocket connection: one frame in, one
// frame out. Writes are serialized by writeMu so concurrent senders
// cannot interleave frames; reads take no lock and are left to a single
// reader task.
type Conn struct {
	ws  *websocket.Conn
	log logging.LeveledLogger

	writeMu sync.Mutex
}

// Dial opens a WebSocket to urlStr with the xmpp subprotocol.
func Dial(ctx context.Context, urlStr string) (*Conn, error) {
	dialer := websocket.Dialer{Subprotocols: []string{Subprotocol}}
	ws, resp, err := dialer.DialContext(ctx, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", urlStr, err)
	}
	if resp != nil && resp.Header.Get("Sec-WebSocket-Protocol") != "" && resp.Header.Get("Sec-WebSocket-Protocol") != Subprotocol {
		ws.Close()
		return nil, fmt.Errorf("transport: server negotiated unexpected subprotocol %q", resp.Header.Get("Sec-WebSocket-Protocol"))
	}
	return &Conn{ws: ws, log: logging.NewDefaultLoggerFactory().NewLogger("transport")}, nil
}

// Upgrade promotes an already-accepted HTTP request to a framed
// connection (used by test harnesses standing in for a server peer; the
// core itself is always the client side of this protocol).
func Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	upgrader := websocket.Upgrader{Subprotocols: []string{Subprotocol}, CheckOrigin: func(*http.Request) bool { return true }}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: upgrade: %w", err)
	}
	return &Conn{ws: ws, log: logging.NewDefaultLoggerFactory().NewLogger("transport")}, nil
}

// Open sends the RFC 7395 <open/> frame that begins the stream,
// addressed to the given domain (spec §4.D "send <open to=.../>").
func (c *Conn) Open(ctx context.Context, to string) error {
	open := xmlnode.New(ns.Framing, "open")
	open.SetAttr("to", to)
	open.SetAttr("version", "1.0")
	return c.WriteElement(ctx, open)
}

// Close sends the RFC 7395 <close/> frame.
func (c *Conn) Close(ctx context.Context) error {
	closeEl := xmlnode.New(ns.Framing, "close")
	if err := c.WriteElement(ctx, closeEl); err != nil {
		return err
	}
	return c.ws.Close()
}

// WriteElement serializes e as a single text frame.
func (c *Conn) WriteElement(ctx context.Context, e *xmlnode.Element) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var buf bytes.Buffer
	if err := e.Serialize(&buf); err != nil {
		return fmt.Errorf("transport: serialize: %w", err)
	}
	deadline, ok := ctx.Deadline()
	if ok {
		_ = c.ws.SetWriteDeadline(deadline)
	}
	return c.ws.WriteMessage(websocket.TextMessage, buf.Bytes())
}

// ReadElement blocks for the next frame and parses it as a single
// element: either a framing <open/>/<close/> pseudo-stanza or a stanza
// document. Binary frames carry no XMPP meaning on this subprotocol
// (spec §4.C); they're logged and skipped rather than handed to the XML
// parser, which would otherwise fail them as malformed documents.
func (c *Conn) ReadElement() (*xmlnode.Element, error) {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("transport: read: %w", err)
		}
		if mt == websocket.BinaryMessage {
			c.log.Warnf("transport: ignoring unexpected binary frame (%d bytes)", len(data))
			continue
		}
		el, err := xmlnode.Parse(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("transport: parse frame: %w", err)
		}
		return el, nil
	}
}

// IsOpen reports whether e is the framing namespace's <open/>.
func IsOpen(e *xmlnode.Element) bool {
	return e.Is(ns.Framing, "open")
}

// IsClose reports whether e is the framing namespace's <close/>.
func IsClose(e *xmlnode.Element) bool {
	return e.Is(ns.Framing, "close")
}

// Underlying exposes the wrapped gorilla/websocket connection for
// callers that need to set read limits or ping handlers directly.
func (c *Conn) Underlying() *websocket.Conn {
	return c.ws
}
