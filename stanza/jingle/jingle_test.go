package jingle

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/avstack/gomeet/ns"
	"github.com/avstack/gomeet/xmlnode"
)

func buildInitiate() *Jingle {
	audio := Content{
		Creator: Initiator,
		Name:    "audio",
		Senders: SendersBoth,
		Description: &RTPDescription{
			Media: Audio,
			PayloadTypes: []PayloadType{
				{ID: 111, Name: "opus", Clockrate: 48000, Channels: 2},
			},
			HdrExts: []HdrExt{
				{ID: 1, URI: ns.HdrExtSSRCAudioLevel},
				{ID: 5, URI: ns.HdrExtTransportCC},
			},
			RTCPMux: true,
			Sources: []SSMASource{
				{SSRC: 111111, Owner: "room@conf.example/abcd-1234", CName: "c1"},
				{SSRC: 222222, Owner: "jvb", CName: "mix"},
			},
		},
		Transport: &ICEUDPTransport{
			Ufrag: "abcd",
			Pwd:   "secretpwd",
			Candidates: []Candidate{
				{Component: 1, Foundation: "1", IP: "203.0.113.5", Port: 10000, Priority: 2130706431, Protocol: "udp", Type: "host"},
			},
			Fingerprint: &Fingerprint{Hash: "sha-256", Setup: "actpass", Required: true, Value: "AA:BB:CC"},
			WebSocket:   "wss://bridge.example/colibri-ws/abc",
		},
	}
	return &Jingle{
		Action:    SessionInitiate,
		Initiator: "focus@conf.example/focus",
		SID:       "sess1",
		Contents:  []Content{audio},
	}
}

func TestJingleRoundTrip(t *testing.T) {
	orig := buildInitiate()
	el := orig.ToElement()

	var buf bytes.Buffer
	require.NoError(t, el.Serialize(&buf))

	reparsed, err := xmlnode.Parse(&buf)
	require.NoError(t, err)

	parsed, err := FromElement(reparsed)
	require.NoError(t, err)
	require.Equal(t, SessionInitiate, parsed.Action)
	require.Len(t, parsed.Contents, 1)

	desc := parsed.Contents[0].Description
	require.Equal(t, Audio, desc.Media)
	require.Len(t, desc.PayloadTypes, 1)
	require.Equal(t, "opus", desc.PayloadTypes[0].Name)
	require.True(t, desc.RTCPMux)
	require.Len(t, desc.Sources, 2)

	trans := parsed.Contents[0].Transport
	require.Equal(t, "abcd", trans.Ufrag)
	require.NotNil(t, trans.Fingerprint)
	require.Equal(t, "sha-256", trans.Fingerprint.Hash)
	require.Equal(t, "wss://bridge.example/colibri-ws/abc", trans.WebSocket)
}

func TestOwnerParticipant(t *testing.T) {
	p, ok := OwnerParticipant("room@conf.example/abcd-1234")
	require.True(t, ok)
	require.Equal(t, "abcd-1234", p)

	_, ok = OwnerParticipant("jvb")
	require.False(t, ok)
}
