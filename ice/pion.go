package ice

import (
	"context"
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"strings"
	"sync"

	"github.com/pion/dtls/v3"
	dtlsfingerprint "github.com/pion/dtls/v3/pkg/crypto/fingerprint"
	pionice "github.com/pion/ice/v4"
	"github.com/pion/logging"

	"github.com/avstack/gomeet/internal/util"
)

// PionAgent adapts github.com/pion/ice/v4 to the Agent interface. STUN
// and TURN servers are configured as ICE URLs the same way
// pion/webrtc's own ICEGatherer does (see icegatherer.go's
// ice.AgentConfig.Urls), so Set{STUN,Relay}Info only stage URLs; the
// underlying pion/ice Agent is created lazily on first GatherCandidates
// call so every staged Set call is reflected in it, matching the call
// order spec §4.F documents (set-stun-server/set-relay-info before
// gather-candidates).
type PionAgent struct {
	loggerFactory logging.LoggerFactory

	mu               sync.Mutex
	urls             []*pionice.URL
	remoteCreds      Credentials
	remoteCandidates []Candidate
	recvCB           func([]byte)
	streamID         string
	agent            *pionice.Agent
	demux            *demux
	demuxReady       chan struct{}
}

// NewPionAgent returns an Agent backed by pion/ice/v4, logging through
// factory (the same logging.LoggerFactory pion/dtls and this module's
// other components use).
func NewPionAgent(factory logging.LoggerFactory) *PionAgent {
	return &PionAgent{loggerFactory: factory, demuxReady: make(chan struct{})}
}

func (a *PionAgent) AddStream(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.streamID = util.NewID()
	return a.streamID, nil
}

func (a *PionAgent) SetSTUNServer(host string, port int) {
	u, err := pionice.ParseURL(fmt.Sprintf("stun:%s:%d", host, port))
	if err != nil {
		return
	}
	a.mu.Lock()
	a.urls = append(a.urls, u)
	a.mu.Unlock()
}

func (a *PionAgent) SetRelayInfo(info RelayInfo) {
	u, err := pionice.ParseURL(fmt.Sprintf("turns:%s:%d?transport=tcp", info.Host, info.Port))
	if err != nil {
		return
	}
	u.Username = info.Username
	u.Password = info.Password
	a.mu.Lock()
	a.urls = append(a.urls, u)
	a.mu.Unlock()
}

func (a *PionAgent) AttachRecv(component int, cb func([]byte)) {
	// Single-component streams only (spec §4.F "one component").
	a.mu.Lock()
	a.recvCB = cb
	a.mu.Unlock()
}

func (a *PionAgent) SetRemoteCredentials(creds Credentials) error {
	a.mu.Lock()
	a.remoteCreds = creds
	agent := a.agent
	a.mu.Unlock()
	if agent == nil {
		return nil
	}
	return agent.SetRemoteCredentials(creds.Ufrag, creds.Pwd)
}

func (a *PionAgent) SetRemoteCandidates(candidates []Candidate) error {
	a.mu.Lock()
	a.remoteCandidates = append(a.remoteCandidates, candidates...)
	agent := a.agent
	a.mu.Unlock()
	if agent == nil {
		return nil
	}
	for _, c := range candidates {
		ic, err := toPionCandidate(c)
		if err != nil {
			return fmt.Errorf("ice: remote candidate: %w", err)
		}
		if err := agent.AddRemoteCandidate(ic); err != nil {
			return fmt.Errorf("ice: adding remote candidate: %w", err)
		}
	}
	return nil
}

func (a *PionAgent) ensureAgent() (*pionice.Agent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.agent != nil {
		return a.agent, nil
	}
	cfg := &pionice.AgentConfig{
		Urls:          a.urls,
		NetworkTypes:  []pionice.NetworkType{pionice.NetworkTypeUDP4, pionice.NetworkTypeUDP6},
		LoggerFactory: a.loggerFactory,
	}
	agent, err := pionice.NewAgent(cfg)
	if err != nil {
		return nil, fmt.Errorf("ice: creating agent: %w", err)
	}
	if a.remoteCreds.Ufrag != "" {
		if err := agent.SetRemoteCredentials(a.remoteCreds.Ufrag, a.remoteCreds.Pwd); err != nil {
			return nil, fmt.Errorf("ice: remote credentials: %w", err)
		}
	}
	for _, c := range a.remoteCandidates {
		ic, err := toPionCandidate(c)
		if err != nil {
			return nil, fmt.Errorf("ice: remote candidate: %w", err)
		}
		if err := agent.AddRemoteCandidate(ic); err != nil {
			return nil, fmt.Errorf("ice: adding remote candidate: %w", err)
		}
	}
	a.agent = agent
	return agent, nil
}

// GatherCandidates gathers local candidates and, once gathering
// completes, accepts the remote peer's ICE connection (this module is
// always the Jingle responder, hence ICE-controlled, per spec's
// Non-goal "does not offer a publish-side Jingle initiator") and starts
// relaying received datagrams to the recv callback.
func (a *PionAgent) GatherCandidates(ctx context.Context, done func(err error)) error {
	agent, err := a.ensureAgent()
	if err != nil {
		return err
	}

	if err := agent.OnCandidate(func(c pionice.Candidate) {
		if c != nil {
			return
		}
		done(nil)
		go a.acceptAndRelay(ctx, agent)
	}); err != nil {
		return fmt.Errorf("ice: registering candidate handler: %w", err)
	}
	if err := agent.GatherCandidates(); err != nil {
		return fmt.Errorf("ice: gathering: %w", err)
	}
	return nil
}

// acceptAndRelay completes the ICE connection and wires it into a demux
// (ice/demux.go) that splits incoming datagrams between the DTLS
// handshake (Handshake, below) and the recv callback the caller attached
// for post-handshake encrypted RTP/RTCP (spec §4.F: the DTLS handshake
// and the bridged media share one ICE candidate pair).
func (a *PionAgent) acceptAndRelay(ctx context.Context, agent *pionice.Agent) {
	a.mu.Lock()
	creds := a.remoteCreds
	cb := a.recvCB
	a.mu.Unlock()
	if creds.Ufrag == "" {
		return
	}
	conn, err := agent.Accept(ctx, creds.Ufrag, creds.Pwd)
	if err != nil {
		return
	}

	a.mu.Lock()
	a.demux = newDemux(conn, cb)
	close(a.demuxReady)
	a.mu.Unlock()
}

// Handshake implements the Agent contract's DTLS-SRTP step (spec §4.F).
// It blocks until the ICE connection is up (acceptAndRelay has built the
// demux), dials as a DTLS client over its DTLS side — this module is
// always the Jingle responder, but the DTLS role it answers with is
// always "active" (spec §3 invariant), meaning this side initiates the
// handshake — and reports the exported SRTP keying material plus the
// peer certificate's fingerprint to result.
func (a *PionAgent) Handshake(ctx context.Context, cert tls.Certificate, result func(HandshakeResult, error)) error {
	go func() {
		select {
		case <-a.demuxReady:
		case <-ctx.Done():
			result(HandshakeResult{}, ctx.Err())
			return
		}
		a.mu.Lock()
		dm := a.demux
		a.mu.Unlock()

		dtlsConn, err := dtls.Client(dm.dtlsSide(), &dtls.Config{
			Certificates:           []tls.Certificate{cert},
			InsecureSkipVerify:     true, // spec §9: peer fingerprint is logged, not enforced
			SRTPProtectionProfiles: []dtls.SRTPProtectionProfile{dtls.SRTP_AES128_CM_HMAC_SHA1_80},
			LoggerFactory:          a.loggerFactory,
		})
		if err != nil {
			result(HandshakeResult{}, fmt.Errorf("ice: dtls handshake: %w", err))
			return
		}

		km, err := dtlsConn.ExportKeyingMaterial("EXTRACTOR-dtls_srtp", nil, 60)
		if err != nil {
			result(HandshakeResult{}, fmt.Errorf("ice: exporting srtp keying material: %w", err))
			return
		}

		remoteFP := ""
		if state := dtlsConn.ConnectionState(); len(state.PeerCertificates) > 0 {
			if remoteCert, parseErr := x509.ParseCertificate(state.PeerCertificates[0]); parseErr == nil {
				if fp, fpErr := dtlsfingerprint.Fingerprint(remoteCert, crypto.SHA256); fpErr == nil {
					remoteFP = strings.ToUpper(fp)
				}
			}
		}

		result(HandshakeResult{
			KeyingMaterial:    km,
			SRTPProfile:       "SRTP_AES128_CM_HMAC_SHA1_80",
			RemoteFingerprint: remoteFP,
		}, nil)
	}()
	return nil
}

func (a *PionAgent) LocalCredentials() (Credentials, error) {
	agent, err := a.ensureAgent()
	if err != nil {
		return Credentials{}, err
	}
	frag, pwd, err := agent.GetLocalUserCredentials()
	if err != nil {
		return Credentials{}, fmt.Errorf("ice: local credentials: %w", err)
	}
	return Credentials{Ufrag: frag, Pwd: pwd}, nil
}

func (a *PionAgent) LocalCandidates() []Candidate {
	a.mu.Lock()
	agent := a.agent
	a.mu.Unlock()
	if agent == nil {
		return nil
	}
	ics, err := agent.GetLocalCandidates()
	if err != nil {
		return nil
	}
	out := make([]Candidate, 0, len(ics))
	for _, c := range ics {
		out = append(out, fromPionCandidate(c))
	}
	return out
}

func (a *PionAgent) Close() error {
	a.mu.Lock()
	agent := a.agent
	a.mu.Unlock()
	if agent == nil {
		return nil
	}
	return agent.Close()
}

// toPionCandidate/fromPionCandidate translate through the SDP candidate
// attribute grammar (RFC 5245 §15.1), the same textual form
// pionice.UnmarshalCandidate/Candidate.Marshal use, so this module does
// not need to depend on pion/ice's internal candidate constructors.
func toPionCandidate(c Candidate) (pionice.Candidate, error) {
	s := fmt.Sprintf("%s %d %s %d %s %d typ %s", c.Foundation, c.Component, c.Protocol, c.Priority, c.IP, c.Port, c.Type)
	if c.RelAddr != "" {
		s += fmt.Sprintf(" raddr %s rport %d", c.RelAddr, c.RelPort)
	}
	return pionice.UnmarshalCandidate(s)
}

func fromPionCandidate(c pionice.Candidate) Candidate {
	out := Candidate{
		Component:  c.Component(),
		Foundation: c.Foundation(),
		IP:         c.Address(),
		Port:       c.Port(),
		Priority:   c.Priority(),
		Protocol:   "udp",
		Type:       c.Type().String(),
	}
	if ra := c.RelatedAddress(); ra != nil {
		out.RelAddr = ra.Address
		out.RelPort = ra.Port
	}
	return out
}
