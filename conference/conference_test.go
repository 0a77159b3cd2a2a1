package conference

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/avstack/gomeet/connection"
	"github.com/avstack/gomeet/jid"
	"github.com/avstack/gomeet/media"
	"github.com/avstack/gomeet/ns"
	"github.com/avstack/gomeet/stanza"
	"github.com/avstack/gomeet/stanza/disco"
	"github.com/avstack/gomeet/stanza/sasl"
	"github.com/avstack/gomeet/transport"
	"github.com/avstack/gomeet/xmlnode"
)

// handshakeServer drives an in-process server through the full
// Connection FSM handshake (the same steps connection_test.go's
// TestAnonymousConnectAndIdle exercises), leaving the wire-level
// *transport.Conn positioned right after DiscoveringExternalServices so
// a conference test can keep driving it through MUC join/leave.
func handshakeServer(t *testing.T, sc *transport.Conn) {
	t.Helper()
	ctx := context.Background()

	el, err := sc.ReadElement()
	require.NoError(t, err)
	require.True(t, transport.IsOpen(el))
	require.NoError(t, sc.Open(ctx, "conference.example"))

	features := xmlnode.New(ns.Stream, "features")
	mechanisms := features.AppendChild(xmlnode.New("", "mechanisms"))
	mechanisms.AppendChild(xmlnode.New("", "mechanism")).AppendText("ANONYMOUS")
	require.NoError(t, sc.WriteElement(ctx, features))

	el, err = sc.ReadElement()
	require.NoError(t, err)
	require.True(t, el.Is(ns.SASL, "auth"))
	require.NoError(t, sc.WriteElement(ctx, xmlnode.New(ns.SASL, "success")))

	el, err = sc.ReadElement()
	require.NoError(t, err)
	require.True(t, transport.IsOpen(el))
	require.NoError(t, sc.Open(ctx, "conference.example"))
	require.NoError(t, sc.WriteElement(ctx, xmlnode.New(ns.Stream, "features")))

	el, err = sc.ReadElement()
	require.NoError(t, err)
	bindIQ, err := stanza.FromElement(el)
	require.NoError(t, err)
	bindResult := xmlnode.New("", "iq")
	bindResult.SetAttr("id", bindIQ.ID)
	bindResult.SetAttr("type", string(stanza.Result))
	bEl := xmlnode.New(ns.Bind, "bind")
	bEl.AppendChild(xmlnode.New("", "jid")).AppendText("guest-aaaa@example/abc")
	bindResult.AppendChild(bEl)
	require.NoError(t, sc.WriteElement(ctx, bindResult))

	el, err = sc.ReadElement()
	require.NoError(t, err)
	discoIQ, err := stanza.FromElement(el)
	require.NoError(t, err)
	infoResult := disco.InfoResult(discoIQ, jid.MustParse("conference.example"), disco.Info{
		Identities: []disco.Identity{{Category: "conference", Type: "text"}},
		Features:   []disco.Feature{{Var: ns.DiscoInfo}},
	})
	require.NoError(t, sc.WriteElement(ctx, infoResult.ToElement()))

	el, err = sc.ReadElement()
	require.NoError(t, err)
	extIQ, err := stanza.FromElement(el)
	require.NoError(t, err)
	servicesEl := xmlnode.New(ns.ExtDisco, "services")
	emptyResult := stanza.ResultWithPayload(extIQ, jid.MustParse("conference.example"), servicesEl)
	require.NoError(t, sc.WriteElement(ctx, emptyResult.ToElement()))
}

// dialConn starts handshakeServer on an httptest server and returns a
// connected *connection.Conn alongside the server-side *transport.Conn
// the test can keep driving (the focus/room side of the wire).
func dialConn(t *testing.T, serve func(sc *transport.Conn)) (*connection.Conn, func()) {
	t.Helper()
	ready := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/xmpp-websocket", func(w http.ResponseWriter, r *http.Request) {
		sc, err := transport.Upgrade(w, r)
		require.NoError(t, err)
		handshakeServer(t, sc)
		serve(sc)
		close(ready)
	})
	srv := httptest.NewServer(mux)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/xmpp-websocket"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := connection.Connect(ctx, connection.Config{
		URL:       wsURL,
		Domain:    "conference.example",
		Mechanism: sasl.Anonymous,
	})
	require.NoError(t, err)

	return c, func() {
		c.Close()
		srv.Close()
		<-ready
	}
}

var (
	testRoom  = jid.MustParse("room@conference.example")
	testFocus = jid.MustParse("focus.conference.example/focus")
)

// TestReadyFocusJoinsMuc covers spec §8 scenario S2: a ready=true focus
// result is followed by our own join presence being echoed back (the
// self-presence signal), after which Connected returns nil and the FSM
// reports Idle.
func TestReadyFocusJoinsMuc(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)

	conn, closeAll := dialConn(t, func(sc *transport.Conn) {
		defer wg.Done()
		ctx := context.Background()

		el, err := sc.ReadElement()
		require.NoError(t, err)
		confIQ, err := stanza.FromElement(el)
		require.NoError(t, err)
		require.Equal(t, stanza.Set, confIQ.Type)
		require.True(t, confIQ.Payload.Is(ns.Focus, "conference"))

		result := xmlnode.New("", "iq")
		result.SetAttr("id", confIQ.ID)
		result.SetAttr("type", string(stanza.Result))
		result.SetAttr("from", testFocus.String())
		payload := xmlnode.New(ns.Focus, "conference")
		payload.SetAttr("ready", "true")
		result.AppendChild(payload)
		require.NoError(t, sc.WriteElement(ctx, result))

		el, err = sc.ReadElement()
		require.NoError(t, err)
		require.Equal(t, "presence", el.Name.Local)
		from, _ := el.Attr("from")
		require.Empty(t, from)

		echo := xmlnode.New("", "presence")
		selfOccupant := testRoom.WithResource("guest")
		echo.SetAttr("from", selfOccupant.String())
		echo.SetAttr("to", "guest-aaaa@example/abc")
		require.NoError(t, sc.WriteElement(ctx, echo))
	})
	defer closeAll()

	conf, err := Join(context.Background(), conn, Config{
		Room:  testRoom,
		Focus: testFocus,
		Nick:  "tester",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conf.Connected(ctx))
	require.Equal(t, Idle, conf.State())

	wg.Wait()
}

// TestNotReadyFocusIsFatal covers spec §8 scenario S6: a ready=false (or
// absent) focus result fails the join with a ProtocolError, and no MUC
// presence is ever sent.
func TestNotReadyFocusIsFatal(t *testing.T) {
	sentPresence := make(chan struct{}, 1)

	conn, closeAll := dialConn(t, func(sc *transport.Conn) {
		ctx := context.Background()

		el, err := sc.ReadElement()
		require.NoError(t, err)
		confIQ, err := stanza.FromElement(el)
		require.NoError(t, err)

		result := xmlnode.New("", "iq")
		result.SetAttr("id", confIQ.ID)
		result.SetAttr("type", string(stanza.Result))
		result.SetAttr("from", testFocus.String())
		payload := xmlnode.New(ns.Focus, "conference")
		payload.SetAttr("ready", "false")
		result.AppendChild(payload)
		require.NoError(t, sc.WriteElement(ctx, result))

		// If the FSM wrongly sent a join presence, surface it as a
		// failure rather than blocking forever: read with a short
		// deadline via a side goroutine.
		go func() {
			if _, err := sc.ReadElement(); err == nil {
				sentPresence <- struct{}{}
			}
		}()
	})
	defer closeAll()

	conf, err := Join(context.Background(), conn, Config{
		Room:  testRoom,
		Focus: testFocus,
		Nick:  "tester",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = conf.Connected(ctx)
	require.Error(t, err)
	require.Equal(t, Discovering, conf.State())

	select {
	case <-sentPresence:
		t.Fatal("conference sent MUC join presence after a not-ready focus result")
	case <-time.After(100 * time.Millisecond):
	}
}

// TestParticipantJoinAndLeave covers spec §8 scenario S5: an occupant
// presence with a muc#user item invokes OnParticipant, and that
// occupant's unavailable presence invokes OnParticipantLeft with the
// same token, after which it is gone from Participants().
func TestParticipantJoinAndLeave(t *testing.T) {
	conn, closeAll := dialConn(t, func(sc *transport.Conn) {
		ctx := context.Background()

		el, err := sc.ReadElement()
		require.NoError(t, err)
		confIQ, err := stanza.FromElement(el)
		require.NoError(t, err)

		result := xmlnode.New("", "iq")
		result.SetAttr("id", confIQ.ID)
		result.SetAttr("type", string(stanza.Result))
		result.SetAttr("from", testFocus.String())
		payload := xmlnode.New(ns.Focus, "conference")
		payload.SetAttr("ready", "true")
		result.AppendChild(payload)
		require.NoError(t, sc.WriteElement(ctx, result))

		el, err = sc.ReadElement()
		require.NoError(t, err)
		require.Equal(t, "presence", el.Name.Local)

		selfOccupant := testRoom.WithResource("guest")
		echo := xmlnode.New("", "presence")
		echo.SetAttr("from", selfOccupant.String())
		require.NoError(t, sc.WriteElement(ctx, echo))

		aliceOccupant := testRoom.WithResource("alice")
		joinPresence := xmlnode.New("", "presence")
		joinPresence.SetAttr("from", aliceOccupant.String())
		x := xmlnode.New(ns.MUCUser, "x")
		item := xmlnode.New("", "item")
		item.SetAttr("jid", "alice-real@conference.example/mobile")
		item.SetAttr("affiliation", "member")
		item.SetAttr("role", "participant")
		x.AppendChild(item)
		joinPresence.AppendChild(x)
		require.NoError(t, sc.WriteElement(ctx, joinPresence))

		time.Sleep(50 * time.Millisecond)

		leavePresence := xmlnode.New("", "presence")
		leavePresence.SetAttr("from", aliceOccupant.String())
		leavePresence.SetAttr("type", string(stanza.Unavailable))
		require.NoError(t, sc.WriteElement(ctx, leavePresence))
	})
	defer closeAll()

	var mu sync.Mutex
	var joined, left []media.ParticipantInfo
	joinedCh := make(chan struct{}, 1)
	leftCh := make(chan struct{}, 1)

	conf, err := Join(context.Background(), conn, Config{
		Room:  testRoom,
		Focus: testFocus,
		Nick:  "tester",
		Callbacks: media.Callbacks{
			OnParticipant: func(info media.ParticipantInfo) (media.SinkToken, bool) {
				mu.Lock()
				joined = append(joined, info)
				mu.Unlock()
				joinedCh <- struct{}{}
				return "sink-alice", true
			},
			OnParticipantLeft: func(info media.ParticipantInfo, token media.SinkToken, ok bool) {
				mu.Lock()
				left = append(left, info)
				mu.Unlock()
				require.True(t, ok)
				require.Equal(t, "sink-alice", token)
				leftCh <- struct{}{}
			},
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conf.Connected(ctx))

	select {
	case <-joinedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("OnParticipant was never invoked")
	}

	mu.Lock()
	require.Len(t, joined, 1)
	require.Equal(t, "alice", joined[0].Occupant)
	require.Equal(t, "alice-real@conference.example/mobile", joined[0].RealJID.String())
	mu.Unlock()

	require.Len(t, conf.Participants(), 1)

	select {
	case <-leftCh:
	case <-time.After(2 * time.Second):
		t.Fatal("OnParticipantLeft was never invoked")
	}

	mu.Lock()
	require.Len(t, left, 1)
	require.Equal(t, "alice", left[0].Occupant)
	mu.Unlock()

	require.Empty(t, conf.Participants())
}

// TestLeaveTeardown covers spec §4.F "Teardown" / testable property #10
// (spec §8): Leave sends MUC unavailable presence, pauses receive sinks,
// and requests the media pipeline's null-state transition before
// returning.
func TestLeaveTeardown(t *testing.T) {
	unavailableSeen := make(chan struct{}, 1)

	conn, closeAll := dialConn(t, func(sc *transport.Conn) {
		ctx := context.Background()

		el, err := sc.ReadElement()
		require.NoError(t, err)
		confIQ, err := stanza.FromElement(el)
		require.NoError(t, err)

		result := xmlnode.New("", "iq")
		result.SetAttr("id", confIQ.ID)
		result.SetAttr("type", string(stanza.Result))
		result.SetAttr("from", testFocus.String())
		payload := xmlnode.New(ns.Focus, "conference")
		payload.SetAttr("ready", "true")
		result.AppendChild(payload)
		require.NoError(t, sc.WriteElement(ctx, result))

		el, err = sc.ReadElement()
		require.NoError(t, err)
		require.Equal(t, "presence", el.Name.Local)

		selfOccupant := testRoom.WithResource("guest")
		echo := xmlnode.New("", "presence")
		echo.SetAttr("from", selfOccupant.String())
		require.NoError(t, sc.WriteElement(ctx, echo))

		el, err = sc.ReadElement()
		require.NoError(t, err)
		require.Equal(t, "presence", el.Name.Local)
		typ, _ := el.Attr("type")
		require.Equal(t, string(stanza.Unavailable), typ)
		unavailableSeen <- struct{}{}
	})
	defer closeAll()

	var paused, nullStated bool
	var mu sync.Mutex

	conf, err := Join(context.Background(), conn, Config{
		Room:  testRoom,
		Focus: testFocus,
		Nick:  "tester",
		Callbacks: media.Callbacks{
			PauseSinks: func() {
				mu.Lock()
				paused = true
				mu.Unlock()
			},
			NullState: func(ctx context.Context) error {
				mu.Lock()
				nullStated = true
				mu.Unlock()
				return nil
			},
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conf.Connected(ctx))

	require.NoError(t, conf.Leave(ctx))

	select {
	case <-unavailableSeen:
	case <-time.After(2 * time.Second):
		t.Fatal("Leave never sent unavailable presence")
	}

	mu.Lock()
	require.True(t, paused)
	require.True(t, nullStated)
	mu.Unlock()
}
