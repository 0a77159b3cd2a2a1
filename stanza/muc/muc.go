// Package muc implements the Multi-User Chat (XEP-0045) presence
// extension and its Jitsi-specific muc#user sibling, used by the
// conference FSM (spec §4.E) to join a room and track participants.
package muc

import (
	"fmt"

	"github.com/avstack/gomeet/jid"
	"github.com/avstack/gomeet/ns"
	"github.com/avstack/gomeet/stanza"
	"github.com/avstack/gomeet/xmlnode"
)

// JoinPresence builds the initial <presence/> the conference FSM sends to
// roomJid/selfResource when the focus reports the room ready, moving from
// Discovering to JoiningMuc (spec §4.E): it carries
// the bare muc <x/>, the ECaps2 capability hash, and the Jitsi-specific
// participant metadata fields.
type JoinPresence struct {
	To jid.JID // roomJid/selfResource

	CapsHash     string // ECaps2 hash, base64
	StatsID      string
	CodecType    string
	Region       string
	AudioMuted   bool
	VideoMuted   bool
	Nick         string
	RegionID     string
}

// ToElement renders the join presence. Field order matches the shape the
// teacher's examples build presences in: muc marker first, then caps,
// then the Jitsi-specific identity payload.
func (j JoinPresence) ToElement() *xmlnode.Element {
	p := &stanza.Presence{To: &j.To}
	e := p.ToElement()

	e.AppendChild(xmlnode.New(ns.MUC, "x"))

	if j.CapsHash != "" {
		c := xmlnode.New(ns.Caps, "c")
		c.SetAttr("hash", "sha-256")
		c.SetAttr("node", ns.JitsiMeetNode)
		c.SetAttr("ver", j.CapsHash)
		e.AppendChild(c)
	}

	identity := xmlnode.New(ns.JitMeet, "jitsi_participant_codecType")
	identity.AppendText(j.CodecType)
	e.AppendChild(identity)

	region := xmlnode.New(ns.JitMeet, "jitsi_participant_region")
	region.AppendText(j.Region)
	e.AppendChild(region)

	e.AppendChild(boolElement(ns.JitMeet, "audiomuted", j.AudioMuted))
	e.AppendChild(boolElement(ns.JitMeet, "videomuted", j.VideoMuted))

	if j.StatsID != "" {
		stats := xmlnode.New(ns.JitMeet, "stats-id")
		stats.AppendText(j.StatsID)
		e.AppendChild(stats)
	}

	if j.Nick != "" {
		nick := xmlnode.New("http://jabber.org/protocol/nick", "nick")
		nick.AppendText(j.Nick)
		e.AppendChild(nick)
	}

	if j.RegionID != "" {
		regionEl := xmlnode.New(ns.JitMeet, "region")
		regionEl.SetAttr("id", j.RegionID)
		e.AppendChild(regionEl)
	}

	return e
}

func boolElement(space, local string, v bool) *xmlnode.Element {
	e := xmlnode.New(space, local)
	if v {
		e.AppendText("true")
	} else {
		e.AppendText("false")
	}
	return e
}

// Affiliation is a muc#user item's affiliation attribute.
type Affiliation string

const (
	Owner   Affiliation = "owner"
	Admin   Affiliation = "admin"
	Member  Affiliation = "member"
	Outcast Affiliation = "outcast"
	NoneAff Affiliation = "none"
)

// Role is a muc#user item's role attribute.
type Role string

const (
	Moderator   Role = "moderator"
	Participant Role = "participant"
	Visitor     Role = "visitor"
	NoneRole    Role = "none"
)

// Item is a single muc#user <item/>, identifying the occupant's real JID
// and their room affiliation/role (spec §4.E step 6: "Parse muc#user
// items; for each item carrying a real JID different from ours").
type Item struct {
	Affiliation Affiliation
	Role        Role
	JID         *jid.JID
	Nick        string
}

// StatusCode is one of muc#user's numeric <status code="N"/> entries
// (e.g. 110 = "this presence is about you").
type StatusCode int

const SelfPresence StatusCode = 110

// UserX is the parsed contents of a presence's <x xmlns="muc#user"/>
// child.
type UserX struct {
	Items       []Item
	StatusCodes []StatusCode
}

// ParseUserX extracts the muc#user extension from a presence's payloads,
// if present.
func ParseUserX(p *stanza.Presence) (*UserX, bool) {
	for _, payload := range p.Payloads {
		if payload.Is(ns.MUCUser, "x") {
			return parseUserXElement(payload), true
		}
	}
	return nil, false
}

func parseUserXElement(x *xmlnode.Element) *UserX {
	ux := &UserX{}
	for _, itemEl := range xmlnode.VecChildren(x, "", "item") {
		item := Item{}
		if aff, ok := xmlnode.OptionalAttr(itemEl, "affiliation"); ok {
			item.Affiliation = Affiliation(aff)
		}
		if role, ok := xmlnode.OptionalAttr(itemEl, "role"); ok {
			item.Role = Role(role)
		}
		if nick, ok := xmlnode.OptionalAttr(itemEl, "nick"); ok {
			item.Nick = nick
		}
		if jidAttr, ok := xmlnode.OptionalAttr(itemEl, "jid"); ok && jidAttr != "" {
			if j, err := jid.Parse(jidAttr); err == nil {
				item.JID = &j
			}
		}
		ux.Items = append(ux.Items, item)
	}
	for _, statusEl := range xmlnode.VecChildren(x, "", "status") {
		if code, ok := xmlnode.OptionalAttr(statusEl, "code"); ok {
			var n int
			if _, err := fmt.Sscanf(code, "%d", &n); err == nil {
				ux.StatusCodes = append(ux.StatusCodes, StatusCode(n))
			}
		}
	}
	return ux
}

// IsSelfPresence reports whether ux carries the self-presence status code
// (110). The conference FSM's JoiningMuc state does not consult it: it
// advances to Idle when a presence arrives whose from JID equals
// roomJid/selfResource.
func (ux *UserX) IsSelfPresence() bool {
	for _, c := range ux.StatusCodes {
		if c == SelfPresence {
			return true
		}
	}
	return false
}
