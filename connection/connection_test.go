package connection

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/avstack/gomeet/jid"
	"github.com/avstack/gomeet/ns"
	"github.com/avstack/gomeet/stanza"
	"github.com/avstack/gomeet/stanza/disco"
	"github.com/avstack/gomeet/stanza/sasl"
	"github.com/avstack/gomeet/transport"
	"github.com/avstack/gomeet/xmlnode"
)

// TestAnonymousConnectAndIdle drives spec §8 scenario S1 end to end
// against a minimal in-process server built directly on package
// transport, the same wire-level contract Conn itself uses.
func TestAnonymousConnectAndIdle(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/xmpp-websocket", func(w http.ResponseWriter, r *http.Request) {
		sc, err := transport.Upgrade(w, r)
		require.NoError(t, err)
		ctx := context.Background()

		// OpeningPreAuth
		el, err := sc.ReadElement()
		require.NoError(t, err)
		require.True(t, transport.IsOpen(el))
		require.NoError(t, sc.Open(ctx, "conference.example"))

		// ReceivingFeaturesPreAuth
		features := xmlnode.New(ns.Stream, "features")
		mechanisms := features.AppendChild(xmlnode.New("", "mechanisms"))
		mechanisms.AppendChild(xmlnode.New("", "mechanism")).AppendText("ANONYMOUS")
		require.NoError(t, sc.WriteElement(ctx, features))

		// Authenticating
		el, err = sc.ReadElement()
		require.NoError(t, err)
		require.True(t, el.Is(ns.SASL, "auth"))
		require.NoError(t, sc.WriteElement(ctx, xmlnode.New(ns.SASL, "success")))

		// OpeningPostAuth
		el, err = sc.ReadElement()
		require.NoError(t, err)
		require.True(t, transport.IsOpen(el))
		require.NoError(t, sc.Open(ctx, "conference.example"))
		require.NoError(t, sc.WriteElement(ctx, xmlnode.New(ns.Stream, "features")))

		// Binding
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

		// Discovering
		el, err = sc.ReadElement()
		require.NoError(t, err)
		discoIQ, err := stanza.FromElement(el)
		require.NoError(t, err)
		infoResult := disco.InfoResult(discoIQ, jid.MustParse("conference.example"), disco.Info{
			Identities: []disco.Identity{{Category: "conference", Type: "text"}},
			Features:   []disco.Feature{{Var: ns.DiscoInfo}},
		})
		require.NoError(t, sc.WriteElement(ctx, infoResult.ToElement()))

		// DiscoveringExternalServices
		el, err = sc.ReadElement()
		require.NoError(t, err)
		extIQ, err := stanza.FromElement(el)
		require.NoError(t, err)
		servicesEl := xmlnode.New(ns.ExtDisco, "services")
		emptyResult := stanza.ResultWithPayload(extIQ, jid.MustParse("conference.example"), servicesEl)
		require.NoError(t, sc.WriteElement(ctx, emptyResult.ToElement()))
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/xmpp-websocket"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Connect(ctx, Config{
		URL:       wsURL,
		Domain:    "conference.example",
		Mechanism: sasl.Anonymous,
	})
	require.NoError(t, err)
	defer c.Close()

	require.Equal(t, Idle, c.State())
	require.Equal(t, "guest-aaaa@example/abc", c.Self().String())
	require.Empty(t, c.ExternalServices())
}
