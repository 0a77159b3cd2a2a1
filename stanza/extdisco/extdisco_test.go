package extdisco

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/avstack/gomeet/jid"
)

func TestRoundTripAndSelection(t *testing.T) {
	domain := jid.MustParse("example.com")
	req := Request("ed1", domain)

	services := []Service{
		{Type: "stun", Host: "stun.example.com"},
		{Type: "turns", Host: "turn.example.com", Port: 443, Transport: "tcp", Username: "u", Password: "p"},
	}
	res := Result(req, domain, services)

	parsed, err := ParseServices(res.Payload)
	require.NoError(t, err)
	require.Len(t, parsed, 2)

	stun, ok := STUN(parsed)
	require.True(t, ok)
	require.Equal(t, DefaultSTUNPort, stun.Port)

	turns, ok := TURNS(parsed)
	require.True(t, ok)
	require.Equal(t, 443, turns.Port)
	require.Equal(t, "u", turns.Username)
}

func TestParseServicesEmpty(t *testing.T) {
	parsed, err := ParseServices(nil)
	require.NoError(t, err)
	require.Nil(t, parsed)
}
