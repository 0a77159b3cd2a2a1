package jinglesession

import (
	"context"
	"crypto/tls"
	"sync"
	"testing"

	"github.com/pion/logging"
	"github.com/stretchr/testify/require"

	"github.com/avstack/gomeet/ice"
	"github.com/avstack/gomeet/jid"
	"github.com/avstack/gomeet/ns"
	"github.com/avstack/gomeet/stanza/extdisco"
	"github.com/avstack/gomeet/stanza/jingle"
	"github.com/avstack/gomeet/xmlnode"
)

// fakeAgent is a minimal ice.Agent whose GatherCandidates completes
// synchronously, so Session.New's accept-building continuation runs
// inline without a real ICE stack.
type fakeAgent struct {
	mu          sync.Mutex
	remoteUfrag string
	remotePwd   string
	candidates  []ice.Candidate
}

func (a *fakeAgent) AddStream(ctx context.Context) (string, error) { return "stream1", nil }
func (a *fakeAgent) SetSTUNServer(host string, port int)           {}
func (a *fakeAgent) SetRelayInfo(info ice.RelayInfo)               {}
func (a *fakeAgent) AttachRecv(component int, cb func([]byte))     {}

func (a *fakeAgent) SetRemoteCredentials(creds ice.Credentials) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.remoteUfrag, a.remotePwd = creds.Ufrag, creds.Pwd
	return nil
}

func (a *fakeAgent) SetRemoteCandidates(candidates []ice.Candidate) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.candidates = append(a.candidates, candidates...)
	return nil
}

func (a *fakeAgent) GatherCandidates(ctx context.Context, done func(err error)) error {
	done(nil)
	return nil
}

func (a *fakeAgent) LocalCredentials() (ice.Credentials, error) {
	return ice.Credentials{Ufrag: "localufrag", Pwd: "localpwd"}, nil
}

func (a *fakeAgent) LocalCandidates() []ice.Candidate {
	return []ice.Candidate{{Component: 1, Foundation: "1", IP: "10.0.0.1", Port: 9, Priority: 1, Protocol: "udp", Type: "host"}}
}

func (a *fakeAgent) Handshake(ctx context.Context, cert tls.Certificate, result func(ice.HandshakeResult, error)) error {
	return nil
}

func (a *fakeAgent) Close() error { return nil }

func newFakeAgent(logging.LoggerFactory) ice.Agent { return &fakeAgent{} }

// fakeHost records every stanza Send emits.
type fakeHost struct {
	mu    sync.Mutex
	sent  []*xmlnode.Element
	self  jid.JID
	focus jid.JID
}

func (h *fakeHost) Send(ctx context.Context, e *xmlnode.Element) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, e)
	return nil
}
func (h *fakeHost) NextID() string                      { return "accept1" }
func (h *fakeHost) Self() jid.JID                        { return h.self }
func (h *fakeHost) FocusJID() jid.JID                    { return h.focus }
func (h *fakeHost) ExternalServices() []extdisco.Service { return nil }

func testInitiate(ssrc uint32, owner string) *jingle.Jingle {
	return &jingle.Jingle{
		Action:    jingle.SessionInitiate,
		Initiator: "focus@auth.example/focus",
		SID:       "sid1",
		Contents: []jingle.Content{
			{
				Creator: jingle.Initiator,
				Name:    "audio",
				Senders: jingle.SendersBoth,
				Description: &jingle.RTPDescription{
					Media:        jingle.Audio,
					PayloadTypes: []jingle.PayloadType{{ID: 111, Name: "opus", Clockrate: 48000, Channels: 2}},
					Sources: []jingle.SSMASource{
						{SSRC: ssrc, Owner: owner},
						{SSRC: 99, Owner: "jvb"},
					},
				},
				Transport: &jingle.ICEUDPTransport{
					Ufrag: "remoteufrag",
					Pwd:   "remotepwd",
					Candidates: []jingle.Candidate{
						{Component: 1, Foundation: "1", IP: "192.0.2.1", Port: 10000, Priority: 100, Protocol: "udp", Type: "host"},
					},
					Fingerprint: &jingle.Fingerprint{Hash: "sha-256", Setup: "actpass", Value: "AA:BB"},
				},
			},
		},
	}
}

// TestSessionInitiateWithOneRemote covers spec §8 scenario S3: one
// remote SSRC is recorded with the right participant, and the
// session-accept we construct carries our own SSRC and opus payload.
func TestSessionInitiateWithOneRemote(t *testing.T) {
	host := &fakeHost{
		self:  jid.MustParse("guest-aaaa@conference.example/abc"),
		focus: jid.MustParse("room@conference.example/focus"),
	}
	initiate := testInitiate(1234, "room@conference.example/alice")

	sess, err := New(context.Background(), host, initiate, Config{
		VideoCodec: "VP8",
		NewAgent:   newFakeAgent,
	})
	require.NoError(t, err)

	ssrcs := sess.RemoteSSRCs()
	require.Len(t, ssrcs, 1)
	entry, ok := ssrcs[1234]
	require.True(t, ok)
	require.Equal(t, "alice", entry.Participant)
	require.Equal(t, jingle.Audio, entry.Media)

	require.Len(t, host.sent, 1)
	jingleEl := host.sent[0].Child(ns.Jingle, "jingle")
	require.NotNil(t, jingleEl)
	accept, err := jingle.FromElement(jingleEl)
	require.NoError(t, err)
	require.Equal(t, jingle.SessionAccept, accept.Action)
	require.Len(t, accept.Contents, 1)
	require.Equal(t, jingle.Responder, accept.Contents[0].Creator)
	require.Equal(t, "opus", accept.Contents[0].Description.PayloadTypes[0].Name)
	require.Len(t, accept.Contents[0].Description.Sources, 1)
	require.NotZero(t, accept.Contents[0].Description.Sources[0].SSRC)
	require.NotEqual(t, "jvb", accept.Contents[0].Description.Sources[0].Owner)
}

// TestSourceRemove covers spec §8 scenario S4: a subsequent
// source-remove empties remote_ssrc_map.
func TestSourceRemove(t *testing.T) {
	host := &fakeHost{
		self:  jid.MustParse("guest-aaaa@conference.example/abc"),
		focus: jid.MustParse("room@conference.example/focus"),
	}
	initiate := testInitiate(1234, "room@conference.example/alice")

	sess, err := New(context.Background(), host, initiate, Config{
		VideoCodec: "VP8",
		NewAgent:   newFakeAgent,
	})
	require.NoError(t, err)
	require.Len(t, sess.RemoteSSRCs(), 1)

	remove := &jingle.Jingle{
		Action: jingle.SourceRemove,
		SID:    "sid1",
		Contents: []jingle.Content{
			{
				Name: "audio",
				Description: &jingle.RTPDescription{
					Media:   jingle.Audio,
					Sources: []jingle.SSMASource{{SSRC: 1234, Owner: "room@conference.example/alice"}},
				},
			},
		},
	}
	sess.HandleSourceRemove(remove)
	require.Empty(t, sess.RemoteSSRCs())
}

// TestMissingOpusIsFatal covers spec §4.F "Absence of opus is fatal".
func TestMissingOpusIsFatal(t *testing.T) {
	host := &fakeHost{
		self:  jid.MustParse("guest-aaaa@conference.example/abc"),
		focus: jid.MustParse("room@conference.example/focus"),
	}
	initiate := &jingle.Jingle{
		Action: jingle.SessionInitiate,
		SID:    "sid1",
		Contents: []jingle.Content{
			{
				Name: "audio",
				Description: &jingle.RTPDescription{
					Media:        jingle.Audio,
					PayloadTypes: []jingle.PayloadType{{ID: 0, Name: "PCMU", Clockrate: 8000}},
				},
			},
		},
	}
	_, err := New(context.Background(), host, initiate, Config{NewAgent: newFakeAgent})
	require.Error(t, err)
}
