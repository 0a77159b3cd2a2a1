package jingle

import (
	"strconv"

	"github.com/avstack/gomeet/ns"
	"github.com/avstack/gomeet/xmlnode"
)

// ICEUDPTransport is a content's urn:xmpp:jingle:transports:ice-udp:1
// <transport/> (XEP-0176): local/remote ICE credentials, candidates, and
// a nested DTLS fingerprint (XEP-0320).
type ICEUDPTransport struct {
	Ufrag       string
	Pwd         string
	Candidates  []Candidate
	Fingerprint *Fingerprint
	WebSocket   string // Colibri control-channel URL, Jitsi-specific extension
}

// Candidate is one <candidate/> (spec §6 "Each candidate record is
// (component, foundation, ip, port, priority, protocol=udp, type,
// rel-addr?, rel-port?)").
type Candidate struct {
	Component  int
	Foundation string
	Generation int
	ID         string
	IP         string
	Network    int
	Port       int
	Priority   int
	Protocol   string
	Type       string
	RelAddr    string
	RelPort    int
}

// Fingerprint is the DTLS-SRTP certificate fingerprint exchanged in the
// transport (XEP-0320): hash algorithm, setup role, and the hex-colon
// value.
type Fingerprint struct {
	Hash     string
	Setup    string
	Required bool
	Value    string
}

func iceUDPTransportFromElement(e *xmlnode.Element) (*ICEUDPTransport, error) {
	t := &ICEUDPTransport{}
	t.Ufrag, _ = xmlnode.OptionalAttr(e, "ufrag")
	t.Pwd, _ = xmlnode.OptionalAttr(e, "pwd")

	for _, cEl := range xmlnode.VecChildren(e, "", "candidate") {
		c, err := candidateFromElement(cEl)
		if err != nil {
			return nil, err
		}
		t.Candidates = append(t.Candidates, *c)
	}

	if fpEl := e.Child(ns.JingleDTLS, "fingerprint"); fpEl != nil {
		fp, err := fingerprintFromElement(fpEl)
		if err != nil {
			return nil, err
		}
		t.Fingerprint = fp
	}

	if wsEl := e.Child(ns.Colibri, "web-socket"); wsEl != nil {
		t.WebSocket, _ = xmlnode.OptionalAttr(wsEl, "url")
	}

	return t, nil
}

func (t *ICEUDPTransport) ToElement() *xmlnode.Element {
	e := xmlnode.New(ns.JingleICEUDP, "transport")
	if t.Ufrag != "" {
		e.SetAttr("ufrag", t.Ufrag)
	}
	if t.Pwd != "" {
		e.SetAttr("pwd", t.Pwd)
	}
	for _, c := range t.Candidates {
		e.AppendChild(c.toElement())
	}
	if t.Fingerprint != nil {
		e.AppendChild(t.Fingerprint.toElement())
	}
	if t.WebSocket != "" {
		wsEl := xmlnode.New(ns.Colibri, "web-socket")
		wsEl.SetAttr("url", t.WebSocket)
		e.AppendChild(wsEl)
	}
	return e
}

func candidateFromElement(e *xmlnode.Element) (*Candidate, error) {
	c := &Candidate{Generation: 0}
	component, err := xmlnode.RequiredAttr(e, "component")
	if err != nil {
		return nil, err
	}
	c.Component, _ = strconv.Atoi(component)
	foundation, err := xmlnode.RequiredAttr(e, "foundation")
	if err != nil {
		return nil, err
	}
	c.Foundation = foundation
	c.ID, _ = xmlnode.OptionalAttr(e, "id")
	if gen, ok := xmlnode.OptionalAttr(e, "generation"); ok {
		c.Generation, _ = strconv.Atoi(gen)
	}
	ip, err := xmlnode.RequiredAttr(e, "ip")
	if err != nil {
		return nil, err
	}
	c.IP = ip
	if network, ok := xmlnode.OptionalAttr(e, "network"); ok {
		c.Network, _ = strconv.Atoi(network)
	}
	port, err := xmlnode.RequiredAttr(e, "port")
	if err != nil {
		return nil, err
	}
	c.Port, _ = strconv.Atoi(port)
	priority, err := xmlnode.RequiredAttr(e, "priority")
	if err != nil {
		return nil, err
	}
	c.Priority, _ = strconv.Atoi(priority)
	protocol, err := xmlnode.RequiredAttr(e, "protocol")
	if err != nil {
		return nil, err
	}
	c.Protocol = protocol
	typ, err := xmlnode.RequiredAttr(e, "type")
	if err != nil {
		return nil, err
	}
	c.Type = typ
	c.RelAddr, _ = xmlnode.OptionalAttr(e, "rel-addr")
	if relPort, ok := xmlnode.OptionalAttr(e, "rel-port"); ok {
		c.RelPort, _ = strconv.Atoi(relPort)
	}
	return c, nil
}

func (c *Candidate) toElement() *xmlnode.Element {
	e := xmlnode.New("", "candidate")
	e.SetAttr("component", strconv.Itoa(c.Component))
	e.SetAttr("foundation", c.Foundation)
	e.SetAttr("generation", strconv.Itoa(c.Generation))
	if c.ID != "" {
		e.SetAttr("id", c.ID)
	}
	e.SetAttr("ip", c.IP)
	if c.Network != 0 {
		e.SetAttr("network", strconv.Itoa(c.Network))
	}
	e.SetAttr("port", strconv.Itoa(c.Port))
	e.SetAttr("priority", strconv.Itoa(c.Priority))
	e.SetAttr("protocol", c.Protocol)
	e.SetAttr("type", c.Type)
	if c.RelAddr != "" {
		e.SetAttr("rel-addr", c.RelAddr)
	}
	if c.RelPort != 0 {
		e.SetAttr("rel-port", strconv.Itoa(c.RelPort))
	}
	return e
}

func fingerprintFromElement(e *xmlnode.Element) (*Fingerprint, error) {
	hash, err := xmlnode.RequiredAttr(e, "hash")
	if err != nil {
		return nil, err
	}
	setup, err := xmlnode.RequiredAttr(e, "setup")
	if err != nil {
		return nil, err
	}
	fp := &Fingerprint{Hash: hash, Setup: setup, Value: e.Text()}
	if req, ok := xmlnode.OptionalAttr(e, "required"); ok {
		fp.Required = req == "true" || req == "1"
	}
	return fp, nil
}

func (fp *Fingerprint) toElement() *xmlnode.Element {
	e := xmlnode.New(ns.JingleDTLS, "fingerprint")
	e.SetAttr("hash", fp.Hash)
	e.SetAttr("setup", fp.Setup)
	if fp.Required {
		e.SetAttr("required", "true")
	}
	e.AppendText(fp.Value)
	return e
}
