package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/avstack/gomeet/xmlnode"
)

func TestOpenCloseRoundTrip(t *testing.T) {
	serverDone := make(chan *xmlnode.Element, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/xmpp-websocket", func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrade(w, r)
		require.NoError(t, err)
		el, err := conn.ReadElement()
		require.NoError(t, err)
		serverDone <- el
		require.NoError(t, conn.Close(context.Background()))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/xmpp-websocket"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Dial(ctx, wsURL)
	require.NoError(t, err)
	require.NoError(t, client.Open(ctx, "conference.example"))

	select {
	case el := <-serverDone:
		require.True(t, IsOpen(el))
		to, ok := el.Attr("to")
		require.True(t, ok)
		require.Equal(t, "conference.example", to)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for server to observe open frame")
	}

	_, err = client.ReadElement()
	require.NoError(t, err)
}
