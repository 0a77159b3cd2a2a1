package stanza

import (
	"fmt"

	"github.com/avstack/gomeet/jid"
	"github.com/avstack/gomeet/xmlnode"
)

// ErrorType is the RFC 6120 §8.3.2 error type attribute.
type ErrorType string

const (
	Cancel    ErrorType = "cancel"
	Continue  ErrorType = "continue"
	Modify    ErrorType = "modify"
	Auth      ErrorType = "auth"
	Wait      ErrorType = "wait"
)

// Condition is one of RFC 6120 §8.3.3's defined-condition element names.
type Condition string

// The subset of defined conditions this module generates or expects to
// see from a Jitsi Prosody-family deployment; unrecognized conditions
// parse into Condition holding the raw local name rather than failing,
// since spec §7's RemoteError kind only needs to carry the condition
// through to the caller, not validate it against the full RFC list.
const (
	BadRequest           Condition = "bad-request"
	FeatureNotImplemented Condition = "feature-not-implemented"
	Forbidden            Condition = "forbidden"
	ItemNotFound         Condition = "item-not-found"
	NotAcceptable        Condition = "not-acceptable"
	NotAllowed           Condition = "not-allowed"
	NotAuthorized        Condition = "not-authorized"
	ServiceUnavailable   Condition = "service-unavailable"
	UndefinedCondition   Condition = "undefined-condition"
)

// Error is the payload of an error IQ/presence/message: its RFC 6120
// type attribute and a defined-condition child, plus an optional
// human-readable text child (spec §3: "error carries one inner <error/>
// with a defined-condition child").
type Error struct {
	Type      ErrorType
	Condition Condition
	Text      string
}

func (e *Error) Error() string {
	if e.Text != "" {
		return fmt.Sprintf("stanza: remote error (%s/%s): %s", e.Type, e.Condition, e.Text)
	}
	return fmt.Sprintf("stanza: remote error (%s/%s)", e.Type, e.Condition)
}

const stanzaErrNS = "urn:ietf:params:xml:ns:xmpp-stanzas"

func parseError(e *xmlnode.Element) (*Error, error) {
	typAttr, err := xmlnode.RequiredAttr(e, "type")
	if err != nil {
		return nil, err
	}
	typ, err := xmlnode.Enum(e, "type", typAttr,
		string(Cancel), string(Continue), string(Modify), string(Auth), string(Wait))
	if err != nil {
		return nil, err
	}

	var cond Condition
	found := false
	for _, c := range e.Children {
		if c.IsText() || c.Name.Local == "text" {
			continue
		}
		cond = Condition(c.Name.Local)
		found = true
		break
	}
	if !found {
		return nil, &xmlnode.ParseError{Element: e.Name.String(), Field: "condition", Reason: "defined-condition child missing"}
	}

	text := ""
	if t := e.Child(stanzaErrNS, "text"); t != nil {
		text = t.Text()
	}

	return &Error{Type: ErrorType(typ), Condition: cond, Text: text}, nil
}

// ToElement is parseError's inverse.
func (e *Error) ToElement() *xmlnode.Element {
	el := xmlnode.New("", "error")
	el.SetAttr("type", string(e.Type))
	el.AppendChild(xmlnode.New(stanzaErrNS, string(e.Condition)))
	if e.Text != "" {
		el.AppendChild(xmlnode.New(stanzaErrNS, "text")).AppendText(e.Text)
	}
	return el
}

// ErrorIQFor builds an error IQ in response to req — the shape used when a
// handler in the connection/conference Idle state needs to reject an
// unrecognized request (spec §7: "protocol-level Jingle errors terminate
// the Jingle session but not the connection").
func ErrorIQFor(req *IQ, typ ErrorType, cond Condition) *IQ {
	var to *jid.JID
	if req.From != nil {
		to = req.From
	}
	return &IQ{ID: req.ID, Type: ErrorIQ, To: to, Err: &Error{Type: typ, Condition: cond}}
}
