package connection

import (
	"context"
	"time"

	"github.com/avstack/gomeet/ns"
	"github.com/avstack/gomeet/stanza"
	"github.com/avstack/gomeet/xmlnode"
)

// pinger is the filter installed at bind time (spec §4.D "install a
// pinger filter") that both emits outbound keepalive pings on a 60s
// timer and answers inbound pings with an empty result.
type pinger struct {
	idGen func() string
	stop  chan struct{}
}

func newPinger(idGen func() string) *pinger {
	return &pinger{idGen: idGen, stop: make(chan struct{})}
}

// Match recognizes an inbound <iq><ping/></iq> get request.
func (p *pinger) Match(e *xmlnode.Element) bool {
	if !e.Is("", "iq") {
		return false
	}
	typ, _ := e.Attr("type")
	if typ != string(stanza.Get) {
		return false
	}
	return e.Child(ns.Ping, "ping") != nil
}

// Handle replies with an empty result IQ (spec §4.D "handles inbound
// pings by replying with empty result").
func (p *pinger) Handle(c *Conn, e *xmlnode.Element) error {
	iq, err := stanza.FromElement(e)
	if err != nil {
		return err
	}
	res := stanza.ResultFor(iq, c.Self())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.Send(ctx, res.ToElement())
}

// Start runs the keepalive timer until the connection is closed. The
// caller (Connect) launches this as its own goroutine alongside the
// reader and writer tasks (spec §5: "a keepalive task driven by a
// wall-clock timer").
func (p *pinger) Start(ctx context.Context, c *Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			ping := xmlnode.New("", "iq")
			ping.SetAttr("id", c.idGen())
			ping.SetAttr("type", string(stanza.Get))
			ping.AppendChild(xmlnode.New(ns.Ping, "ping"))
			sendCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_ = c.Send(sendCtx, ping)
			cancel()
		}
	}
}
