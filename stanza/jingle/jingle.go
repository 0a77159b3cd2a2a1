// Package jingle implements XEP-0166 Jingle and the application/transport
// extensions this module negotiates over it: RTP description (XEP-0167),
// header extensions (XEP-0294), SSMA sources (XEP-0339), DTLS-SRTP
// (XEP-0320), ICE-UDP transport (XEP-0176), and grouping (XEP-0338).
//
// Grounded on the jingle element shapes of
// other_examples/829b4bf6_meszmate-xmpp-go__plugins-jingle-jingle.go.go
// and the field semantics of original_source's jitsi-xmpp-parsers/src/
// jingle.rs, rebuilt on package xmlnode instead of encoding/xml struct
// tags since this module's stanza codec is tree-based throughout (spec
// §4.A/B).
package jingle

import (
	"fmt"

	"github.com/avstack/gomeet/jid"
	"github.com/avstack/gomeet/ns"
	"github.com/avstack/gomeet/stanza"
	"github.com/avstack/gomeet/xmlnode"
)

// Action is a Jingle action attribute value (XEP-0166 §7.2).
type Action string

const (
	SessionInitiate  Action = "session-initiate"
	SessionAccept    Action = "session-accept"
	SessionTerminate Action = "session-terminate"
	SourceAdd        Action = "source-add"
	SourceRemove     Action = "source-remove"
	TransportInfo    Action = "transport-info"
	ContentAdd       Action = "content-add"
	ContentRemove    Action = "content-remove"
	DescriptionInfo  Action = "description-info"
	SessionInfo      Action = "session-info"
)

// Creator identifies which party originated a Content within a session.
type Creator string

const (
	Initiator Creator = "initiator"
	Responder Creator = "responder"
)

// Senders controls which party/parties may send media for a Content.
type Senders string

const (
	SendersBoth       Senders = "both"
	SendersInitiator  Senders = "initiator"
	SendersResponder  Senders = "responder"
	SendersNone       Senders = "none"
)

// Jingle is the top-level <jingle/> payload of a Jingle IQ.
type Jingle struct {
	Action    Action
	Initiator string
	Responder string
	SID       string
	Contents  []Content
	Reason    *Reason
	GroupID   string // content group from the jingle:apps:grouping extension, if any
}

// FromElement parses a <jingle/> payload.
func FromElement(e *xmlnode.Element) (*Jingle, error) {
	if !e.Is(ns.Jingle, "jingle") {
		return nil, &xmlnode.ParseError{Element: e.Name.String(), Field: "jingle", Reason: "not a jingle element"}
	}
	actionAttr, err := xmlnode.RequiredAttr(e, "action")
	if err != nil {
		return nil, err
	}
	sid, err := xmlnode.RequiredAttr(e, "sid")
	if err != nil {
		return nil, err
	}
	j := &Jingle{Action: Action(actionAttr), SID: sid}
	j.Initiator, _ = xmlnode.OptionalAttr(e, "initiator")
	j.Responder, _ = xmlnode.OptionalAttr(e, "responder")

	for _, cEl := range xmlnode.VecChildren(e, "", "content") {
		c, err := contentFromElement(cEl)
		if err != nil {
			return nil, err
		}
		j.Contents = append(j.Contents, *c)
	}

	if rEl, err := xmlnode.OptionalChild(e, "", "reason"); err != nil {
		return nil, err
	} else if rEl != nil {
		j.Reason = reasonFromElement(rEl)
	}

	if gEl := e.Child(ns.JingleGrouping, "group"); gEl != nil {
		j.GroupID, _ = xmlnode.OptionalAttr(gEl, "semantics")
	}

	return j, nil
}

// ToElement is FromElement's inverse.
func (j *Jingle) ToElement() *xmlnode.Element {
	e := xmlnode.New(ns.Jingle, "jingle")
	e.SetAttr("action", string(j.Action))
	e.SetAttr("sid", j.SID)
	if j.Initiator != "" {
		e.SetAttr("initiator", j.Initiator)
	}
	if j.Responder != "" {
		e.SetAttr("responder", j.Responder)
	}
	for _, c := range j.Contents {
		e.AppendChild(c.ToElement())
	}
	if j.Reason != nil {
		e.AppendChild(j.Reason.ToElement())
	}
	return e
}

// AsIQ wraps j as the payload of a set IQ, the shape every Jingle message
// travels in (spec §4.F "Emit as <iq type=set ...>").
func AsIQ(id, from, to string, j *Jingle) (*stanza.IQ, error) {
	fromJID, err := parseJIDOrEmpty(from)
	if err != nil {
		return nil, err
	}
	toJID, err := parseJIDOrEmpty(to)
	if err != nil {
		return nil, err
	}
	return &stanza.IQ{ID: id, Type: stanza.Set, From: fromJID, To: toJID, Payload: j.ToElement()}, nil
}

// FromIQ extracts and parses the Jingle payload of an IQ.
func FromIQ(iq *stanza.IQ) (*Jingle, error) {
	if iq.Payload == nil {
		return nil, fmt.Errorf("jingle: iq %s carries no payload", iq.ID)
	}
	return FromElement(iq.Payload)
}

func parseJIDOrEmpty(s string) (*jid.JID, error) {
	if s == "" {
		return nil, nil
	}
	j, err := jid.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("jingle: %w", err)
	}
	return &j, nil
}

// DefaultDisposition is the Content disposition assumed when the
// attribute is absent ("session", XEP-0166 §7.1).
const DefaultDisposition = "session"

// Content is a single <content/> within a jingle element: a named media
// stream carrying a description and a transport.
type Content struct {
	Creator     Creator // optional; zero value when the sender omits it
	Name        string
	Senders     Senders
	Disposition string
	Description *RTPDescription
	Transport   *ICEUDPTransport
}

func contentFromElement(e *xmlnode.Element) (*Content, error) {
	name, err := xmlnode.RequiredAttr(e, "name")
	if err != nil {
		return nil, err
	}
	c := &Content{Name: name, Senders: SendersBoth, Disposition: DefaultDisposition}
	if creatorAttr, ok := xmlnode.OptionalAttr(e, "creator"); ok {
		c.Creator = Creator(creatorAttr)
	}
	if sendersAttr, ok := xmlnode.OptionalAttr(e, "senders"); ok {
		c.Senders = Senders(sendersAttr)
	}
	if dispositionAttr, ok := xmlnode.OptionalAttr(e, "disposition"); ok {
		c.Disposition = dispositionAttr
	}

	if descEl := e.Child(ns.JingleRTP, "description"); descEl != nil {
		desc, err := rtpDescriptionFromElement(descEl)
		if err != nil {
			return nil, err
		}
		c.Description = desc
	}
	if transEl := e.Child(ns.JingleICEUDP, "transport"); transEl != nil {
		trans, err := iceUDPTransportFromElement(transEl)
		if err != nil {
			return nil, err
		}
		c.Transport = trans
	}

	return c, nil
}

// ToElement is contentFromElement's inverse.
func (c *Content) ToElement() *xmlnode.Element {
	e := xmlnode.New("", "content")
	if c.Creator != "" {
		e.SetAttr("creator", string(c.Creator))
	}
	e.SetAttr("name", c.Name)
	e.SetAttr("senders", string(c.Senders))
	if c.Disposition != "" && c.Disposition != DefaultDisposition {
		e.SetAttr("disposition", c.Disposition)
	}
	if c.Description != nil {
		e.AppendChild(c.Description.ToElement())
	}
	if c.Transport != nil {
		e.AppendChild(c.Transport.ToElement())
	}
	return e
}

// Reason is a Jingle <reason/>: a defined-condition child plus optional
// free text (spec's teardown path uses this on session-terminate).
type Reason struct {
	Condition string
	Text      string
}

func reasonFromElement(e *xmlnode.Element) *Reason {
	r := &Reason{}
	for _, c := range e.Children {
		if c.IsText() {
			continue
		}
		if c.Name.Local == "text" {
			r.Text = c.Element.Text()
			continue
		}
		r.Condition = c.Name.Local
	}
	return r
}

func (r *Reason) ToElement() *xmlnode.Element {
	e := xmlnode.New("", "reason")
	if r.Condition != "" {
		e.AppendChild(xmlnode.New("", r.Condition))
	}
	if r.Text != "" {
		e.AppendChild(xmlnode.New("", "text")).AppendText(r.Text)
	}
	return e
}
