package muc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/avstack/gomeet/jid"
	"github.com/avstack/gomeet/ns"
	"github.com/avstack/gomeet/stanza"
	"github.com/avstack/gomeet/xmlnode"
)

func TestJoinPresenceShape(t *testing.T) {
	jp := JoinPresence{
		To:        jid.MustParse("room@conference.example/guest-aaaa"),
		CapsHash:  "abc123",
		StatsID:   "stats-1",
		CodecType: "h264",
		Region:    "us-east",
		Nick:      "guest",
		RegionID:  "us-east",
	}
	e := jp.ToElement()
	require.True(t, e.Is("", "presence"))
	require.NotNil(t, e.Child(ns.MUC, "x"))
	require.NotNil(t, e.Child(ns.Caps, "c"))
	require.Equal(t, "false", e.Child(ns.JitMeet, "audiomuted").Text())
}

func TestParseUserX(t *testing.T) {
	x := xmlnode.New(ns.MUCUser, "x")
	item := x.AppendChild(xmlnode.New("", "item"))
	item.SetAttr("affiliation", "none")
	item.SetAttr("role", "participant")
	item.SetAttr("jid", "real@example.com/res")
	status := x.AppendChild(xmlnode.New("", "status"))
	status.SetAttr("code", "110")

	p := &stanza.Presence{Payloads: []*xmlnode.Element{x}}
	ux, ok := ParseUserX(p)
	require.True(t, ok)
	require.Len(t, ux.Items, 1)
	require.Equal(t, Affiliation("none"), ux.Items[0].Affiliation)
	require.NotNil(t, ux.Items[0].JID)
	require.True(t, ux.IsSelfPresence())
}
