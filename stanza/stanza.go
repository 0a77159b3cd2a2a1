// Package stanza implements the typed XMPP stanza codec of spec §4.B: IQ,
// presence, and message, built on package xmlnode's element tree and its
// attribute/child cardinality helpers.
//
// Each stanza type's FromElement constructor enforces the parsing rules of
// spec §4.B (required/optional/default attributes, required/optional/vec
// children, enum validation) and its ToElement method is its inverse;
// round-tripping through both is the invariant spec §8.1 tests.
package stanza

import (
	"fmt"

	"github.com/avstack/gomeet/jid"
	"github.com/avstack/gomeet/ns"
	"github.com/avstack/gomeet/xmlnode"
)

// IQType enumerates the four legal values of an IQ's type attribute.
type IQType string

const (
	Get     IQType = "get"
	Set     IQType = "set"
	Result  IQType = "result"
	ErrorIQ IQType = "error"
)

// IQ is an Info/Query stanza (RFC 6120 §8).
type IQ struct {
	From *jid.JID
	To   *jid.JID
	ID   string
	Type IQType

	// Payload is the single child element carried by get/set/result IQs.
	// It is nil for error IQs (use Err instead) and may be nil for a
	// result IQ that carries no payload (spec §3: "Result may carry zero
	// or one payload").
	Payload *xmlnode.Element

	// Err is populated when Type == ErrorIQ.
	Err *Error
}

// FromElement parses e (expected to be named iq in the jabber:client or
// jabber:server namespace) into an IQ.
func FromElement(e *xmlnode.Element) (*IQ, error) {
	iq := &IQ{}
	id, err := xmlnode.RequiredAttr(e, "id")
	if err != nil {
		return nil, err
	}
	iq.ID = id

	typAttr, err := xmlnode.RequiredAttr(e, "type")
	if err != nil {
		return nil, err
	}
	typ, err := xmlnode.Enum(e, "type", typAttr, string(Get), string(Set), string(Result), string(ErrorIQ))
	if err != nil {
		return nil, err
	}
	iq.Type = IQType(typ)

	if from, ok := xmlnode.OptionalAttr(e, "from"); ok && from != "" {
		j, err := jid.Parse(from)
		if err != nil {
			return nil, fmt.Errorf("stanza: iq from: %w", err)
		}
		iq.From = &j
	}
	if to, ok := xmlnode.OptionalAttr(e, "to"); ok && to != "" {
		j, err := jid.Parse(to)
		if err != nil {
			return nil, fmt.Errorf("stanza: iq to: %w", err)
		}
		iq.To = &j
	}

	if iq.Type == ErrorIQ {
		errEl, err := xmlnode.RequiredChild(e, "", "error")
		if err != nil {
			return nil, err
		}
		stanzaErr, err := parseError(errEl)
		if err != nil {
			return nil, err
		}
		iq.Err = stanzaErr
		return iq, nil
	}

	// At most one non-error child is the payload.
	var payload *xmlnode.Element
	for _, c := range e.Children {
		if c.IsText() {
			continue
		}
		if payload != nil {
			return nil, &xmlnode.ParseError{Element: e.Name.String(), Field: "payload", Reason: "iq carries more than one payload child"}
		}
		payload = c.Element
	}
	iq.Payload = payload
	return iq, nil
}

// ToElement serializes the IQ back to an element named iq with no
// namespace declared; transport.Conn.WriteElement sends it as is, without
// adding a jabber:client namespace.
func (iq *IQ) ToElement() *xmlnode.Element {
	e := xmlnode.New("", "iq")
	e.SetAttr("id", iq.ID)
	e.SetAttr("type", string(iq.Type))
	if iq.From != nil {
		e.SetAttr("from", iq.From.String())
	}
	if iq.To != nil {
		e.SetAttr("to", iq.To.String())
	}
	if iq.Type == ErrorIQ && iq.Err != nil {
		e.AppendChild(iq.Err.ToElement())
		return e
	}
	if iq.Payload != nil {
		e.AppendChild(iq.Payload)
	}
	return e
}

// ResultFor builds an empty <iq type="result"> addressed back to the
// sender of req, the common ACK shape used throughout the connection and
// conference FSMs (spec §4.D/E "ACK with empty result IQ").
func ResultFor(req *IQ, from jid.JID) *IQ {
	var to *jid.JID
	if req.From != nil {
		to = req.From
	}
	return &IQ{ID: req.ID, Type: Result, From: &from, To: to}
}

// ResultWithPayload is like ResultFor but attaches a payload.
func ResultWithPayload(req *IQ, from jid.JID, payload *xmlnode.Element) *IQ {
	iq := ResultFor(req, from)
	iq.Payload = payload
	return iq
}

// PresenceType enumerates presence's type attribute. The empty string
// means "available" (spec §3: "type?... (absence = available)").
type PresenceType string

const (
	Available   PresenceType = ""
	Unavailable PresenceType = "unavailable"
	Subscribe   PresenceType = "subscribe"
	Subscribed  PresenceType = "subscribed"
	Unsubscribe PresenceType = "unsubscribe"
	Unsubscribed PresenceType = "unsubscribed"
	PresenceError PresenceType = "error"
)

// Presence is a presence stanza (RFC 6121 §4).
type Presence struct {
	From     *jid.JID
	To       *jid.JID
	ID       string
	Type     PresenceType
	Show     string
	Statuses map[string]string // lang -> text; "" key is the default/no-lang status
	Priority int8
	Payloads []*xmlnode.Element
}

// PresenceFromElement parses e into a Presence.
func PresenceFromElement(e *xmlnode.Element) (*Presence, error) {
	p := &Presence{Statuses: map[string]string{}}

	if typAttr, ok := xmlnode.OptionalAttr(e, "type"); ok {
		typ, err := xmlnode.Enum(e, "type", typAttr,
			string(Unavailable), string(Subscribe), string(Subscribed),
			string(Unsubscribe), string(Unsubscribed), string(PresenceError))
		if err != nil {
			return nil, err
		}
		p.Type = PresenceType(typ)
	}
	if from, ok := xmlnode.OptionalAttr(e, "from"); ok && from != "" {
		j, err := jid.Parse(from)
		if err != nil {
			return nil, fmt.Errorf("stanza: presence from: %w", err)
		}
		p.From = &j
	}
	if to, ok := xmlnode.OptionalAttr(e, "to"); ok && to != "" {
		j, err := jid.Parse(to)
		if err != nil {
			return nil, fmt.Errorf("stanza: presence to: %w", err)
		}
		p.To = &j
	}
	if id, ok := xmlnode.OptionalAttr(e, "id"); ok {
		p.ID = id
	}

	if show := e.Child("", "show"); show != nil {
		p.Show = show.Text()
	}
	for _, s := range e.ChildrenNamed("", "status") {
		lang, _ := s.AttrNS("http://www.w3.org/XML/1998/namespace", "lang")
		p.Statuses[lang] = s.Text()
	}
	if prio := e.Child("", "priority"); prio != nil {
		var v int
		if _, err := fmt.Sscanf(prio.Text(), "%d", &v); err == nil {
			p.Priority = int8(v)
		}
	}

	for _, c := range e.Children {
		if c.IsText() {
			continue
		}
		switch c.Name.Local {
		case "show", "status", "priority":
			continue
		}
		p.Payloads = append(p.Payloads, c.Element)
	}

	return p, nil
}

// ToElement is PresenceFromElement's inverse.
func (p *Presence) ToElement() *xmlnode.Element {
	e := xmlnode.New("", "presence")
	if p.Type != Available {
		e.SetAttr("type", string(p.Type))
	}
	if p.From != nil {
		e.SetAttr("from", p.From.String())
	}
	if p.To != nil {
		e.SetAttr("to", p.To.String())
	}
	if p.ID != "" {
		e.SetAttr("id", p.ID)
	}
	if p.Show != "" {
		e.AppendChild(xmlnode.New("", "show")).AppendText(p.Show)
	}
	for lang, text := range p.Statuses {
		st := xmlnode.New("", "status")
		if lang != "" {
			st.SetAttrNS("http://www.w3.org/XML/1998/namespace", "lang", lang)
		}
		st.AppendText(text)
		e.AppendChild(st)
	}
	if p.Priority != 0 {
		e.AppendChild(xmlnode.New("", "priority")).AppendText(fmt.Sprintf("%d", p.Priority))
	}
	for _, payload := range p.Payloads {
		e.AppendChild(payload)
	}
	return e
}

// MessageType enumerates message's type attribute; Normal is the default
// (spec §3: "type (default Normal)").
type MessageType string

const (
	Normal  MessageType = "normal"
	Chat    MessageType = "chat"
	Groupchat MessageType = "groupchat"
	Headline MessageType = "headline"
	MessageError MessageType = "error"
)

// Message is a message stanza (RFC 6121 §5).
type Message struct {
	From     *jid.JID
	To       *jid.JID
	ID       string
	Type     MessageType
	Bodies   map[string]string
	Subjects map[string]string
	Thread   string
	Payloads []*xmlnode.Element
}

// MessageFromElement parses e into a Message.
func MessageFromElement(e *xmlnode.Element) (*Message, error) {
	m := &Message{Type: Normal, Bodies: map[string]string{}, Subjects: map[string]string{}}

	if typAttr, ok := xmlnode.OptionalAttr(e, "type"); ok {
		typ, err := xmlnode.Enum(e, "type", typAttr,
			string(Chat), string(Groupchat), string(Headline), string(MessageError), string(Normal))
		if err != nil {
			return nil, err
		}
		m.Type = MessageType(typ)
	}
	if from, ok := xmlnode.OptionalAttr(e, "from"); ok && from != "" {
		j, err := jid.Parse(from)
		if err != nil {
			return nil, fmt.Errorf("stanza: message from: %w", err)
		}
		m.From = &j
	}
	if to, ok := xmlnode.OptionalAttr(e, "to"); ok && to != "" {
		j, err := jid.Parse(to)
		if err != nil {
			return nil, fmt.Errorf("stanza: message to: %w", err)
		}
		m.To = &j
	}
	if id, ok := xmlnode.OptionalAttr(e, "id"); ok {
		m.ID = id
	}

	for _, b := range e.ChildrenNamed("", "body") {
		lang, _ := b.AttrNS("http://www.w3.org/XML/1998/namespace", "lang")
		m.Bodies[lang] = b.Text()
	}
	for _, s := range e.ChildrenNamed("", "subject") {
		lang, _ := s.AttrNS("http://www.w3.org/XML/1998/namespace", "lang")
		m.Subjects[lang] = s.Text()
	}
	if thread := e.Child("", "thread"); thread != nil {
		m.Thread = thread.Text()
	}

	for _, c := range e.Children {
		if c.IsText() {
			continue
		}
		switch c.Name.Local {
		case "body", "subject", "thread":
			continue
		}
		m.Payloads = append(m.Payloads, c.Element)
	}

	return m, nil
}

// ToElement is MessageFromElement's inverse.
func (m *Message) ToElement() *xmlnode.Element {
	e := xmlnode.New("", "message")
	if m.Type != Normal {
		e.SetAttr("type", string(m.Type))
	}
	if m.From != nil {
		e.SetAttr("from", m.From.String())
	}
	if m.To != nil {
		e.SetAttr("to", m.To.String())
	}
	if m.ID != "" {
		e.SetAttr("id", m.ID)
	}
	for lang, text := range m.Subjects {
		s := xmlnode.New("", "subject")
		if lang != "" {
			s.SetAttrNS("http://www.w3.org/XML/1998/namespace", "lang", lang)
		}
		s.AppendText(text)
		e.AppendChild(s)
	}
	for lang, text := range m.Bodies {
		b := xmlnode.New("", "body")
		if lang != "" {
			b.SetAttrNS("http://www.w3.org/XML/1998/namespace", "lang", lang)
		}
		b.AppendText(text)
		e.AppendChild(b)
	}
	if m.Thread != "" {
		e.AppendChild(xmlnode.New("", "thread")).AppendText(m.Thread)
	}
	for _, payload := range m.Payloads {
		e.AppendChild(payload)
	}
	return e
}

// defaultNamespace is the client stream namespace, jabber:client (spec
// §4.C). No encoder in this module stamps it onto outgoing stanzas: their
// root elements are serialized without a namespace.
const defaultNamespace = ns.Client
