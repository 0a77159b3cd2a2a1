// Package conference implements the Conference FSM of spec §4.E: the
// focus handshake, MUC join, participant tracking, and the Idle-state
// stanza handling that creates and feeds the single Jingle session.
//
// Grounded on package connection's pinger.go for the Filter shape (Match/
// Handle against a *connection.Conn, each Handle call opening its own
// short-lived context for any reply it sends) and on
// original_source/lib-gst-meet/src/conference.rs for the state machine
// itself (mellium.im/xmpp has no MUC/Jingle conference concept to
// generalize from).
package conference

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/avstack/gomeet/colibri"
	"github.com/avstack/gomeet/connection"
	"github.com/avstack/gomeet/gomeeterr"
	"github.com/avstack/gomeet/internal/util"
	"github.com/avstack/gomeet/jid"
	"github.com/avstack/gomeet/jinglesession"
	"github.com/avstack/gomeet/media"
	"github.com/avstack/gomeet/ns"
	"github.com/avstack/gomeet/stanza"
	"github.com/avstack/gomeet/stanza/caps"
	"github.com/avstack/gomeet/stanza/disco"
	"github.com/avstack/gomeet/stanza/extdisco"
	"github.com/avstack/gomeet/stanza/jingle"
	"github.com/avstack/gomeet/stanza/muc"
	"github.com/avstack/gomeet/xmlnode"
)

// State enumerates the Conference FSM's states (spec §4.E).
type State int

const (
	Discovering State = iota
	JoiningMuc
	Idle
)

func (s State) String() string {
	switch s {
	case Discovering:
		return "Discovering"
	case JoiningMuc:
		return "JoiningMuc"
	case Idle:
		return "Idle"
	default:
		return "Unknown"
	}
}

// ourFeatures is the disco#info feature set advertised both in the join
// presence's ECaps2 hash and in response to the focus's disco#info get
// (spec §4.E Idle step 1).
var ourFeatures = []disco.Feature{
	{Var: ns.JingleRTPAudio},
	{Var: ns.JingleRTPVideo},
	{Var: ns.JingleICEUDP},
	{Var: ns.JingleDTLS},
	{Var: ns.RTCPMux},
	{Var: ns.RTPBundle},
	{Var: ns.OpusRED},
}

// Participant is a remote occupant of the MUC room (spec §3 "Participant").
type Participant struct {
	Occupant  string
	RealJID   jid.JID
	MUCJID    jid.JID
	Nick      string
	SinkToken media.SinkToken
	SinkOK    bool
}

// Config configures Join. VideoCodec/Region/StartBitrate/Stereo mirror
// the original's JitsiConferenceConfig (SPEC_FULL.md supplement C.3),
// threaded as named, typed fields rather than an untyped properties map.
type Config struct {
	Room  jid.JID // bare MUC room JID
	Focus jid.JID // full focus JID, e.g. focus.example.com/focus

	Nick         string
	Region       string
	VideoCodec   string // "VP8", "VP9", or "H264"
	StartBitrate int
	Stereo       bool

	HaveVideoSink bool
	Callbacks     media.Callbacks

	LoggerFactory logging.LoggerFactory
}

// Conference is a live Conference FSM instance, installed as a
// connection.Filter on the underlying connection (spec §5 "Conference
// installed at join time").
type Conference struct {
	conn *connection.Conn
	cfg  Config
	log  logging.LeveledLogger

	self         jid.JID
	selfResource string

	mu           sync.Mutex
	state        State
	session      *jinglesession.Session
	participants map[string]*Participant
	colibriCh    *colibri.Channel

	connectedOnce sync.Once
	connectedCh   chan error
}

// Join sends the initial focus conference IQ and installs the Conference
// as a stanza filter on conn. Callers must then call Connected to block
// until the MUC join and self-presence round trip complete (spec §4.E
// Discovering → JoiningMuc → Idle).
func Join(ctx context.Context, conn *connection.Conn, cfg Config) (*Conference, error) {
	factory := cfg.LoggerFactory
	if factory == nil {
		factory = logging.NewDefaultLoggerFactory()
	}

	self := conn.Self()
	conf := &Conference{
		conn:         conn,
		cfg:          cfg,
		log:          factory.NewLogger("conference"),
		self:         self,
		selfResource: mucResource(self),
		state:        Discovering,
		participants: map[string]*Participant{},
		connectedCh:  make(chan error, 1),
	}

	conn.InstallFilter(conf)

	id := conn.NextID()
	iq := &stanza.IQ{ID: id, Type: stanza.Set, From: &self, To: &cfg.Focus, Payload: conferenceElement(cfg)}
	if err := conn.Send(ctx, iq.ToElement()); err != nil {
		return nil, &gomeeterr.TransportError{Op: "send conference iq", Err: err}
	}

	return conf, nil
}

// Connected blocks until the Idle state is reached (self-presence seen)
// or ctx is canceled. A non-nil error means the join failed fatally
// (spec §4.E "Invalid focus IQ ... is fatal to the join").
func (conf *Conference) Connected(ctx context.Context) error {
	select {
	case err := <-conf.connectedCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (conf *Conference) signalConnected(err error) {
	conf.connectedOnce.Do(func() {
		conf.connectedCh <- err
	})
}

// roomJID returns the full JID this client occupies in the MUC room
// (original_source jid_in_muc: the local part of the bound JID, split on
// "-", keeping the first segment, per spec §4.E "Self resource
// derivation").
func (conf *Conference) roomJID() jid.JID {
	return conf.cfg.Room.WithResource(conf.selfResource)
}

// FocusJID returns the focus's occupant JID within the room
// (original_source focus_jid_in_muc: room JID with resource "focus"),
// used by jinglesession to address session-accept.
func (conf *Conference) FocusJID() jid.JID {
	return conf.cfg.Room.WithResource("focus")
}

func mucResource(self jid.JID) string {
	node := self.Node
	if i := strings.IndexByte(node, '-'); i >= 0 {
		return node[:i]
	}
	return node
}

// Send, NextID, Self, ExternalServices satisfy jinglesession.Host by
// forwarding to the underlying connection.
func (conf *Conference) Send(ctx context.Context, e *xmlnode.Element) error {
	return conf.conn.Send(ctx, e)
}

func (conf *Conference) NextID() string { return conf.conn.NextID() }

func (conf *Conference) Self() jid.JID { return conf.self }

func (conf *Conference) ExternalServices() []extdisco.Service {
	return conf.conn.ExternalServices()
}

// Match recognizes any stanza this FSM owns: IQs from the focus, and
// presence from the MUC room (spec §4.E, mirroring
// original_source/conference.rs's two stanza filters: one keyed on
// `from == focus`, the other on `bare_from == muc`).
func (conf *Conference) Match(e *xmlnode.Element) bool {
	switch e.Name.Local {
	case "iq":
		from, _ := e.Attr("from")
		if from == "" {
			return false
		}
		fromJID, err := jid.Parse(from)
		if err != nil {
			return false
		}
		return fromJID.Equal(conf.cfg.Focus)
	case "presence":
		from, _ := e.Attr("from")
		if from == "" {
			return false
		}
		fromJID, err := jid.Parse(from)
		if err != nil {
			return false
		}
		return fromJID.Bare().Equal(conf.cfg.Room)
	default:
		return false
	}
}

// Handle dispatches e according to the current FSM state (spec §4.E).
func (conf *Conference) Handle(c *connection.Conn, e *xmlnode.Element) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch e.Name.Local {
	case "iq":
		iq, err := stanza.FromElement(e)
		if err != nil {
			return err
		}
		return conf.handleIQ(ctx, iq)
	case "presence":
		p, err := stanza.PresenceFromElement(e)
		if err != nil {
			return err
		}
		return conf.handlePresence(ctx, p)
	default:
		return nil
	}
}

func (conf *Conference) handleIQ(ctx context.Context, iq *stanza.IQ) error {
	conf.mu.Lock()
	state := conf.state
	conf.mu.Unlock()

	if state == Discovering {
		return conf.handleConferenceResult(ctx, iq)
	}

	if iq.Type == stanza.Get && iq.Payload != nil && iq.Payload.Is(ns.DiscoInfo, "query") {
		return conf.handleDiscoInfoGet(ctx, iq)
	}

	if iq.Type == stanza.Set && iq.Payload != nil && iq.Payload.Is(ns.Jingle, "jingle") {
		return conf.handleJingle(ctx, iq)
	}

	if iq.Type == stanza.Result {
		return conf.handleResult(ctx, iq)
	}

	conf.log.Debugf("conference: dropping unhandled iq %s from focus", iq.ID)
	return nil
}

// handleConferenceResult processes the focus's reply to the initial
// conference IQ (spec §4.E "Discovering: receive focus IQ result;
// require attribute ready=true; else fail").
func (conf *Conference) handleConferenceResult(ctx context.Context, iq *stanza.IQ) error {
	if iq.Type == stanza.ErrorIQ {
		err := &gomeeterr.ProtocolError{Op: "conference", Reason: "focus IQ failed"}
		conf.signalConnected(err)
		return err
	}
	if iq.Payload == nil || !iq.Payload.Is(ns.Focus, "conference") {
		err := &gomeeterr.ProtocolError{Op: "conference", Reason: "expected conference result"}
		conf.signalConnected(err)
		return err
	}
	readyAttr, _ := xmlnode.OptionalAttr(iq.Payload, "ready")
	if readyAttr != "true" {
		err := &gomeeterr.ProtocolError{Op: "conference", Reason: "focus reports room not ready"}
		conf.signalConnected(err)
		return err
	}

	info := disco.Info{Features: ourFeatures}
	hash := caps.Hash(info)

	statsID, err := util.StatsID()
	if err != nil {
		statsID = util.NewID()
	}

	joinPresence := muc.JoinPresence{
		To:        conf.roomJID(),
		CapsHash:  hash,
		StatsID:   statsID,
		CodecType: conf.cfg.VideoCodec,
		Region:    conf.cfg.Region,
		Nick:      conf.cfg.Nick,
		RegionID:  conf.cfg.Region,
	}
	if err := conf.conn.Send(ctx, joinPresence.ToElement()); err != nil {
		werr := &gomeeterr.TransportError{Op: "send join presence", Err: err}
		conf.signalConnected(werr)
		return werr
	}

	conf.mu.Lock()
	conf.state = JoiningMuc
	conf.mu.Unlock()
	return nil
}

// handlePresence routes MUC presence by state: JoiningMuc waits for
// self-presence, Idle tracks participants (spec §4.E steps "JoiningMuc"
// and Idle step 6).
func (conf *Conference) handlePresence(ctx context.Context, p *stanza.Presence) error {
	conf.mu.Lock()
	state := conf.state
	conf.mu.Unlock()

	if p.From == nil {
		return nil
	}

	switch state {
	case JoiningMuc:
		if p.From.Equal(conf.roomJID()) {
			conf.mu.Lock()
			conf.state = Idle
			conf.mu.Unlock()
			conf.signalConnected(nil)
		}
		return nil
	case Idle:
		return conf.handleOccupantPresence(p)
	default:
		return nil
	}
}

// handleOccupantPresence upserts or removes a Participant from a MUC
// presence whose occupant is neither us nor the focus (spec §4.E Idle
// step 6).
func (conf *Conference) handleOccupantPresence(p *stanza.Presence) error {
	occupant := p.From.Resource
	if occupant == "" || occupant == conf.selfResource || occupant == "focus" {
		return nil
	}

	if p.Type == stanza.Unavailable {
		conf.mu.Lock()
		participant, ok := conf.participants[occupant]
		if ok {
			delete(conf.participants, occupant)
		}
		conf.mu.Unlock()
		if ok && conf.cfg.Callbacks.OnParticipantLeft != nil {
			conf.cfg.Callbacks.OnParticipantLeft(media.ParticipantInfo{Occupant: occupant, RealJID: participant.realJIDPtr()}, participant.SinkToken, participant.SinkOK)
		}
		return nil
	}

	ux, ok := muc.ParseUserX(p)
	if !ok {
		return nil
	}
	for _, item := range ux.Items {
		if item.JID == nil || item.JID.Equal(conf.self) {
			continue
		}
		conf.mu.Lock()
		_, exists := conf.participants[occupant]
		participant := &Participant{
			Occupant: occupant,
			RealJID:  *item.JID,
			MUCJID:   *p.From,
			Nick:     item.Nick,
		}
		conf.participants[occupant] = participant
		conf.mu.Unlock()

		if !exists && conf.cfg.Callbacks.OnParticipant != nil {
			token, ok := conf.cfg.Callbacks.OnParticipant(media.ParticipantInfo{Occupant: occupant, RealJID: item.JID})
			conf.mu.Lock()
			if stored, still := conf.participants[occupant]; still {
				stored.SinkToken, stored.SinkOK = token, ok
			}
			conf.mu.Unlock()
		}
	}
	return nil
}

func (p *Participant) realJIDPtr() *jid.JID {
	if p == nil {
		return nil
	}
	j := p.RealJID
	return &j
}

// handleDiscoInfoGet answers the focus's feature probe (spec §4.E Idle
// step 1).
func (conf *Conference) handleDiscoInfoGet(ctx context.Context, iq *stanza.IQ) error {
	res := disco.InfoResult(iq, conf.self, disco.Info{
		Identities: []disco.Identity{{Category: "client", Type: "bot", Name: "gomeet"}},
		Features:   append([]disco.Feature{{Var: ns.DiscoInfo}}, ourFeatures...),
	})
	return conf.conn.Send(ctx, res.ToElement())
}

// handleJingle dispatches session-initiate / session-terminate /
// source-add / source-remove (spec §4.E Idle steps 2-4).
func (conf *Conference) handleJingle(ctx context.Context, iq *stanza.IQ) error {
	j, err := jingle.FromElement(iq.Payload)
	if err != nil {
		return err
	}

	ack := stanza.ResultFor(iq, conf.self)
	if err := conf.conn.Send(ctx, ack.ToElement()); err != nil {
		return &gomeeterr.TransportError{Op: "ack jingle", Err: err}
	}

	switch j.Action {
	case jingle.SessionInitiate:
		sessCfg := jinglesession.Config{
			VideoCodec:    conf.cfg.VideoCodec,
			HaveVideoSink: conf.cfg.HaveVideoSink,
			LoggerFactory: conf.cfg.LoggerFactory,
		}
		// The session outlives this handler: gathering, session-accept and
		// the DTLS handshake complete after Handle's timeout is cancelled.
		sess, err := jinglesession.New(context.Background(), conf, j, sessCfg)
		if err != nil {
			conf.log.Errorf("jingle session-initiate failed: %v", err)
			return err
		}
		conf.mu.Lock()
		conf.session = sess
		conf.mu.Unlock()
	case jingle.SourceAdd:
		conf.withSession(func(s *jinglesession.Session) { s.HandleSourceAdd(j) })
	case jingle.SourceRemove:
		conf.withSession(func(s *jinglesession.Session) { s.HandleSourceRemove(j) })
	case jingle.SessionTerminate:
		conf.mu.Lock()
		sess := conf.session
		conf.session = nil
		conf.mu.Unlock()
		if sess != nil {
			if err := sess.Close(); err != nil {
				conf.log.Warnf("conference: closing jingle session: %v", err)
			}
		}
	default:
		conf.log.Debugf("conference: ignoring jingle action %s", j.Action)
	}
	return nil
}

func (conf *Conference) withSession(fn func(*jinglesession.Session)) {
	conf.mu.Lock()
	s := conf.session
	conf.mu.Unlock()
	if s != nil {
		fn(s)
	}
}

// handleResult matches the outstanding session-accept IQ id (spec §4.E
// Idle step 5): on match, it connects the Colibri channel (if a URL was
// advertised) and clears accept_iq_id implicitly (AcceptIQID is re-read
// from the session, and only ever matched once since the id won't recur).
func (conf *Conference) handleResult(ctx context.Context, iq *stanza.IQ) error {
	conf.mu.Lock()
	sess := conf.session
	conf.mu.Unlock()
	if sess == nil || sess.AcceptIQID() != iq.ID {
		return nil
	}

	if url := sess.ColibriURL(); url != "" {
		factory := conf.cfg.LoggerFactory
		ch, err := colibri.Dial(ctx, url, factory)
		if err != nil {
			conf.log.Warnf("colibri: dial failed, continuing without notification channel: %v", err)
		} else {
			conf.mu.Lock()
			conf.colibriCh = ch
			conf.mu.Unlock()
			go ch.Serve(context.Background(), func(msg colibri.Message) {
				conf.log.Debugf("colibri: received %T", msg)
			})
		}
	}
	return nil
}

// Leave tears the conference down (spec §4.F "Teardown"; SPEC_FULL.md
// supplement C.1, original_source/conference.rs's explicit consuming
// leave()): send MUC unavailable presence, pause every receive sink,
// request the media pipeline's null-state transition with a
// best-effort 10 s timeout, then release the Jingle session and the
// Colibri channel.
func (conf *Conference) Leave(ctx context.Context) error {
	self, room := conf.self, conf.roomJID()
	unavailable := &stanza.Presence{From: &self, To: &room, Type: stanza.Unavailable}
	if err := conf.conn.Send(ctx, unavailable.ToElement()); err != nil {
		conf.log.Warnf("conference: sending unavailable presence: %v", err)
	}

	if pause := conf.cfg.Callbacks.PauseSinks; pause != nil {
		pause()
	}

	if nullState := conf.cfg.Callbacks.NullState; nullState != nil {
		nsCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := nullState(nsCtx); err != nil {
			conf.log.Warnf("conference: media pipeline null-state transition: %v", err)
		}
		cancel()
	}

	conf.mu.Lock()
	sess := conf.session
	ch := conf.colibriCh
	conf.session = nil
	conf.colibriCh = nil
	conf.mu.Unlock()

	var errs []error
	if sess != nil {
		if err := sess.Close(); err != nil {
			errs = append(errs, fmt.Errorf("conference: closing jingle session: %w", err))
		}
	}
	if ch != nil {
		if err := ch.Close(); err != nil {
			errs = append(errs, fmt.Errorf("conference: closing colibri channel: %w", err))
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// Participants returns a snapshot of the current MUC participant table.
func (conf *Conference) Participants() map[string]*Participant {
	conf.mu.Lock()
	defer conf.mu.Unlock()
	out := make(map[string]*Participant, len(conf.participants))
	for k, v := range conf.participants {
		cp := *v
		out[k] = &cp
	}
	return out
}

// State returns the current FSM state.
func (conf *Conference) State() State {
	conf.mu.Lock()
	defer conf.mu.Unlock()
	return conf.state
}

// conferenceElement builds the <conference/> payload of the initial
// focus IQ (spec §4.E "a conference IQ is sent to the focus JID ...
// carries the room JID and optional k=v properties").
func conferenceElement(cfg Config) *xmlnode.Element {
	e := xmlnode.New(ns.Focus, "conference")
	e.SetAttr("room", cfg.Room.String())
	e.SetAttr("machine-uid", util.NewID())

	props := func(name, value string) {
		p := xmlnode.New("", "property")
		p.SetAttr("name", name)
		p.SetAttr("value", value)
		e.AppendChild(p)
	}
	if cfg.Stereo {
		props("stereo", "true")
	}
	if cfg.StartBitrate > 0 {
		props("startBitrate", fmt.Sprintf("%d", cfg.StartBitrate))
	}
	return e
}
