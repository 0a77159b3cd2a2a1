package disco

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/avstack/gomeet/jid"
	"github.com/avstack/gomeet/ns"
	"github.com/avstack/gomeet/stanza"
	"github.com/avstack/gomeet/xmlnode"
)

func TestInfoRoundTrip(t *testing.T) {
	to := jid.MustParse("conference.example.com")
	req := InfoRequest("disco1", to)
	require.Equal(t, stanza.Get, req.Type)

	from := jid.MustParse("conference.example.com")
	info := Info{
		Identities: []Identity{{Category: "conference", Type: "text", Name: "Jitsi Meetings"}},
		Features:   []Feature{{Var: "http://jabber.org/protocol/disco#info"}, {Var: "http://jabber.org/protocol/muc"}},
	}
	res := InfoResult(req, from, info)
	require.Equal(t, stanza.Result, res.Type)

	parsed, err := ParseInfo(res.Payload, true)
	require.NoError(t, err)
	require.Len(t, parsed.Identities, 1)
	require.Equal(t, "conference", parsed.Identities[0].Category)
	require.Len(t, parsed.Features, 2)
}

func TestParseInfoResultRequiresIdentityAndFeature(t *testing.T) {
	_, err := ParseInfo(xmlnode.New(ns.DiscoInfo, "query"), true)
	require.Error(t, err)
}

func TestParseInfoResultRequiresDiscoInfoFeature(t *testing.T) {
	to := jid.MustParse("conference.example.com")
	req := InfoRequest("disco1", to)
	info := Info{
		Identities: []Identity{{Category: "conference", Type: "text"}},
		Features:   []Feature{{Var: "http://jabber.org/protocol/muc"}},
	}
	res := InfoResult(req, to, info)
	_, err := ParseInfo(res.Payload, true)
	require.Error(t, err)
}

func TestParseInfoGetAllowsEmpty(t *testing.T) {
	parsed, err := ParseInfo(xmlnode.New(ns.DiscoInfo, "query"), false)
	require.NoError(t, err)
	require.Empty(t, parsed.Identities)
}
