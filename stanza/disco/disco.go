// Package disco implements Service Discovery (XEP-0030) #info queries
// (#items is not implemented), as used by the connection FSM (spec §4.D, "send disco#info to
// domain") and the conference FSM's feature advertisement (spec §4.E
// Idle step 1).
package disco

import (
	"fmt"

	"github.com/avstack/gomeet/jid"
	"github.com/avstack/gomeet/ns"
	"github.com/avstack/gomeet/stanza"
	"github.com/avstack/gomeet/xmlnode"
)

// Identity is a disco#info identity (category/type/name).
type Identity struct {
	Category string
	Type     string
	Lang     string
	Name     string
}

// Feature is a single disco#info feature var.
type Feature struct {
	Var string
}

// Info is a disco#info query or result.
//
// Invariant (spec §4.B): a well-formed result carries at least one
// identity, at least one feature, and the disco#info feature itself must
// be among them. ParseInfo enforces this only for results (a get query
// legitimately carries neither).
type Info struct {
	Node       string
	Identities []Identity
	Features   []Feature
}

// InfoRequest builds a disco#info get IQ addressed to to.
func InfoRequest(id string, to jid.JID) *stanza.IQ {
	q := xmlnode.New(ns.DiscoInfo, "query")
	return &stanza.IQ{ID: id, Type: stanza.Get, To: &to, Payload: q}
}

// InfoResult builds a disco#info result IQ in response to req, advertising
// info.
func InfoResult(req *stanza.IQ, from jid.JID, info Info) *stanza.IQ {
	q := xmlnode.New(ns.DiscoInfo, "query")
	if info.Node != "" {
		q.SetAttr("node", info.Node)
	}
	for _, ident := range info.Identities {
		idEl := q.AppendChild(xmlnode.New("", "identity"))
		idEl.SetAttr("category", ident.Category)
		idEl.SetAttr("type", ident.Type)
		if ident.Name != "" {
			idEl.SetAttr("name", ident.Name)
		}
		if ident.Lang != "" {
			idEl.SetAttrNS("http://www.w3.org/XML/1998/namespace", "lang", ident.Lang)
		}
	}
	for _, f := range info.Features {
		q.AppendChild(xmlnode.New("", "feature")).SetAttr("var", f.Var)
	}
	return stanza.ResultWithPayload(req, from, q)
}

// ParseInfo parses a disco#info payload and, if asResult is true, enforces
// the result-only invariant above.
func ParseInfo(payload *xmlnode.Element, asResult bool) (Info, error) {
	var info Info
	info.Node, _ = xmlnode.OptionalAttr(payload, "node")

	haveDiscoInfo := false
	for _, idEl := range xmlnode.VecChildren(payload, "", "identity") {
		cat, err := xmlnode.RequiredAttr(idEl, "category")
		if err != nil {
			return Info{}, err
		}
		typ, err := xmlnode.RequiredAttr(idEl, "type")
		if err != nil {
			return Info{}, err
		}
		name, _ := xmlnode.OptionalAttr(idEl, "name")
		lang, _ := idEl.AttrNS("http://www.w3.org/XML/1998/namespace", "lang")
		info.Identities = append(info.Identities, Identity{Category: cat, Type: typ, Name: name, Lang: lang})
	}
	for _, fEl := range xmlnode.VecChildren(payload, "", "feature") {
		v, err := xmlnode.RequiredAttr(fEl, "var")
		if err != nil {
			return Info{}, err
		}
		if v == ns.DiscoInfo {
			haveDiscoInfo = true
		}
		info.Features = append(info.Features, Feature{Var: v})
	}

	if asResult {
		if len(info.Identities) == 0 {
			return Info{}, fmt.Errorf("disco: result must carry at least one identity")
		}
		if len(info.Features) == 0 {
			return Info{}, fmt.Errorf("disco: result must carry at least one feature")
		}
		if !haveDiscoInfo {
			return Info{}, fmt.Errorf("disco: result must advertise the disco#info feature itself")
		}
	}

	return info, nil
}
