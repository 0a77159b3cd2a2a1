// Package extdisco implements External Service Discovery (XEP-0215), the
// connection FSM's DiscoveringExternalServices step (spec §4.D): it
// stashes STUN/TURN services for the ICE agent to consume later (spec
// §4.F "Configure STUN server from the first extdisco service with
// type=stun ... configure TURN relay from the first service with
// type=turns").
package extdisco

import (
	"fmt"

	"github.com/avstack/gomeet/jid"
	"github.com/avstack/gomeet/ns"
	"github.com/avstack/gomeet/stanza"
	"github.com/avstack/gomeet/xmlnode"
)

// Default ports used when a service record omits one, per the well-known
// STUN/TURN defaults (spec §4.F).
const (
	DefaultSTUNPort  = 3478
	DefaultTURNSPort = 5349
)

// Service is a single discovered STUN/TURN/TURNS service.
type Service struct {
	Type     string // "stun", "turn", or "turns"
	Host     string
	Port     int
	Transport string // "udp" or "tcp"; empty means unspecified
	Username string
	Password string
}

// Request builds the <services/> get IQ the connection FSM sends on
// entering DiscoveringExternalServices (spec §4.D "send extdisco
// <services>").
func Request(id string, to jid.JID) *stanza.IQ {
	q := xmlnode.New(ns.ExtDisco, "services")
	return &stanza.IQ{ID: id, Type: stanza.Get, To: &to, Payload: q}
}

// Result builds a <services/> result IQ advertising services, in response
// to req (used by test harnesses standing in for the conference focus).
func Result(req *stanza.IQ, from jid.JID, services []Service) *stanza.IQ {
	q := xmlnode.New(ns.ExtDisco, "services")
	for _, s := range services {
		svcEl := q.AppendChild(xmlnode.New("", "service"))
		svcEl.SetAttr("type", s.Type)
		svcEl.SetAttr("host", s.Host)
		if s.Port != 0 {
			svcEl.SetAttr("port", fmt.Sprintf("%d", s.Port))
		}
		if s.Transport != "" {
			svcEl.SetAttr("transport", s.Transport)
		}
		if s.Username != "" {
			svcEl.SetAttr("username", s.Username)
		}
		if s.Password != "" {
			svcEl.SetAttr("password", s.Password)
		}
	}
	return stanza.ResultWithPayload(req, from, q)
}

// ParseServices parses an extdisco result IQ's <services/> payload into
// the list of services it advertises. An absent or malformed response is
// not fatal at the connection FSM level (spec §4.D "If extdisco fails,
// log a warning and continue"); callers that want that behavior should
// treat a non-nil error here as "no services" rather than aborting.
func ParseServices(payload *xmlnode.Element) ([]Service, error) {
	if payload == nil || !payload.Is(ns.ExtDisco, "services") {
		return nil, nil
	}
	var services []Service
	for _, svcEl := range xmlnode.VecChildren(payload, "", "service") {
		typ, err := xmlnode.RequiredAttr(svcEl, "type")
		if err != nil {
			return nil, err
		}
		host, err := xmlnode.RequiredAttr(svcEl, "host")
		if err != nil {
			return nil, err
		}
		port := defaultPortFor(typ)
		if portAttr, ok := xmlnode.OptionalAttr(svcEl, "port"); ok {
			if p, err := parsePort(portAttr); err == nil {
				port = p
			}
		}
		transport, _ := xmlnode.OptionalAttr(svcEl, "transport")
		username, _ := xmlnode.OptionalAttr(svcEl, "username")
		password, _ := xmlnode.OptionalAttr(svcEl, "password")
		services = append(services, Service{
			Type:      typ,
			Host:      host,
			Port:      port,
			Transport: transport,
			Username:  username,
			Password:  password,
		})
	}
	return services, nil
}

func defaultPortFor(typ string) int {
	switch typ {
	case "turns":
		return DefaultTURNSPort
	default:
		return DefaultSTUNPort
	}
}

func parsePort(s string) (int, error) {
	var p int
	_, err := fmt.Sscanf(s, "%d", &p)
	return p, err
}

// firstOfType returns the first service of the given type, and whether
// one was found — the selection rule jinglesession.New applies when
// configuring the ICE agent (spec §4.F: "first extdisco service with
// type=stun" / "first service with type=turns").
func firstOfType(services []Service, typ string) (Service, bool) {
	for _, s := range services {
		if s.Type == typ {
			return s, true
		}
	}
	return Service{}, false
}

// STUN returns the first STUN service, if any.
func STUN(services []Service) (Service, bool) {
	return firstOfType(services, "stun")
}

// TURNS returns the first TURNS (TURN-over-TLS) service, if any.
func TURNS(services []Service) (Service, bool) {
	return firstOfType(services, "turns")
}
