// Package ns centralizes the XML namespace URIs this module speaks, the
// same way the teacher's internal/ns package does for mellium.im/xmpp.
package ns

// Core XMPP namespaces (RFC 6120/6121, XEP-0206).
const (
	Client    = "jabber:client"
	Server    = "jabber:server"
	Stream    = "http://etherx.jabber.org/streams"
	Framing   = "urn:ietf:params:xml:ns:xmpp-framing"
	SASL      = "urn:ietf:params:xml:ns:xmpp-sasl"
	Bind      = "urn:ietf:params:xml:ns:xmpp-bind"
	Session   = "urn:ietf:params:xml:ns:xmpp-session"
	StreamErr = "urn:ietf:params:xml:ns:xmpp-streams"
	Ping      = "urn:xmpp:ping"
)

// Service discovery (XEP-0030) and external services (XEP-0215).
const (
	DiscoInfo  = "http://jabber.org/protocol/disco#info"
	DiscoItems = "http://jabber.org/protocol/disco#items"
	ExtDisco   = "urn:xmpp:extdisco:2"
	Caps       = "http://jabber.org/protocol/caps"
	ECaps2     = "urn:xmpp:caps"
)

// Multi-User Chat (XEP-0045).
const (
	MUC     = "http://jabber.org/protocol/muc"
	MUCUser = "http://jabber.org/protocol/muc#user"
)

// Jingle (XEP-0166) and its application/transport dialects.
const (
	Jingle           = "urn:xmpp:jingle:1"
	JingleGrouping   = "urn:xmpp:jingle:apps:grouping:0"
	JingleRTP        = "urn:xmpp:jingle:apps:rtp:1"
	JingleRTPAudio   = "urn:xmpp:jingle:apps:rtp:audio"
	JingleRTPVideo   = "urn:xmpp:jingle:apps:rtp:video"
	JingleRTPHdrExt  = "urn:xmpp:jingle:apps:rtp:rtp-hdrext:0"
	JingleSSMA       = "urn:xmpp:jingle:apps:rtp:ssma:0"
	JingleDTLS       = "urn:xmpp:jingle:apps:dtls:0"
	JingleICEUDP     = "urn:xmpp:jingle:transports:ice-udp:1"
	JingleIBB        = "urn:xmpp:jingle:transports:ibb:1"
	JingleS5B        = "urn:xmpp:jingle:transports:s5b:1"
	RTCPMux          = "urn:ietf:rfc:5761"
	RTPBundle        = "urn:ietf:rfc:5888"
	OpusRED          = "http://jitsi.org/opus-red"
)

// Header extension URIs referenced by the Jingle RTP description.
const (
	HdrExtSSRCAudioLevel = "urn:ietf:params:rtp-hdrext:ssrc-audio-level"
	HdrExtAbsSendTime    = "http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time"
	HdrExtTransportCC    = "http://www.ietf.org/id/draft-holmer-rmcat-transport-wide-cc-extensions-01"
)

// Jitsi-specific namespaces.
const (
	Colibri  = "http://jitsi.org/protocol/colibri"
	JitMeet  = "http://jitsi.org/jitmeet"
	Focus    = "http://jitsi.org/protocol/focus"
)

// JitsiMeetNode is the ECaps2 disco node jitsi-meet advertises in its
// <c/> capabilities element (spec's glossary entry for entity
// capabilities).
const JitsiMeetNode = "http://jitsi.org/jitsimeet"
