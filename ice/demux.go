package ice

import (
	"io"
	"net"
	"sync"
	"time"
)

// demux splits a single packet-oriented net.Conn into a DTLS side (fed
// to the handshake in pion.go) and a raw-datagram side delivered
// verbatim to the RTP/RTCP receive callback, using the same first-byte
// content-type range pion/webrtc's internal/mux package classifies on
// (DTLS records: [20,63]; everything else on a bundled candidate is
// SRTP/SRTCP). This module can't import that package (it's internal to
// pion/webrtc), so it reimplements the same classification rule
// directly: the DTLS handshake and the post-handshake encrypted RTP
// share one ICE candidate pair (spec §4.F "establishes ICE-UDP +
// DTLS-SRTP connectivity").
type demux struct {
	conn net.Conn
	recv func([]byte)

	dtlsBuf chan []byte
	closeCh chan struct{}
	once    sync.Once
}

func isDTLSRecord(b []byte) bool {
	return len(b) > 0 && b[0] >= 20 && b[0] <= 63
}

func newDemux(conn net.Conn, recv func([]byte)) *demux {
	d := &demux{
		conn:    conn,
		recv:    recv,
		dtlsBuf: make(chan []byte, 32),
		closeCh: make(chan struct{}),
	}
	go d.readLoop()
	return d
}

func (d *demux) readLoop() {
	buf := make([]byte, 1500)
	for {
		n, err := d.conn.Read(buf)
		if err != nil {
			close(d.dtlsBuf)
			return
		}
		pkt := append([]byte(nil), buf[:n]...)
		if isDTLSRecord(pkt) {
			select {
			case d.dtlsBuf <- pkt:
			case <-d.closeCh:
				return
			}
			continue
		}
		if d.recv != nil {
			d.recv(pkt)
		}
	}
}

// dtlsSide returns a net.Conn that reads only DTLS-classified datagrams
// and writes straight through to the shared connection, suitable as the
// transport dtls.Client drives the handshake over.
func (d *demux) dtlsSide() net.Conn { return &demuxConn{d: d} }

type demuxConn struct {
	d   *demux
	buf []byte
}

func (c *demuxConn) Read(p []byte) (int, error) {
	for len(c.buf) == 0 {
		pkt, ok := <-c.d.dtlsBuf
		if !ok {
			return 0, io.EOF
		}
		c.buf = pkt
	}
	n := copy(p, c.buf)
	c.buf = c.buf[n:]
	return n, nil
}

func (c *demuxConn) Write(p []byte) (int, error) { return c.d.conn.Write(p) }

func (c *demuxConn) Close() error {
	c.d.once.Do(func() { close(c.d.closeCh) })
	return nil
}

func (c *demuxConn) LocalAddr() net.Addr  { return c.d.conn.LocalAddr() }
func (c *demuxConn) RemoteAddr() net.Addr { return c.d.conn.RemoteAddr() }

func (c *demuxConn) SetDeadline(t time.Time) error      { return c.d.conn.SetDeadline(t) }
func (c *demuxConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *demuxConn) SetWriteDeadline(t time.Time) error { return c.d.conn.SetWriteDeadline(t) }
