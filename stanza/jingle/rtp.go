package jingle

import (
	"strconv"
	"strings"

	"github.com/avstack/gomeet/ns"
	"github.com/avstack/gomeet/xmlnode"
)

// Media is a Jingle RTP description's media attribute.
type Media string

const (
	Audio Media = "audio"
	Video Media = "video"
)

// RTPDescription is the payload of a content's
// urn:xmpp:jingle:apps:rtp:1 <description/> (XEP-0167): the codecs, header
// extensions, and SSRC sources for one media stream.
type RTPDescription struct {
	Media        Media
	PayloadTypes []PayloadType
	HdrExts      []HdrExt
	Sources      []SSMASource
	RTCPMux      bool
}

// PayloadType is one <payload-type/> (RTP codec) offered or accepted for
// a stream.
type PayloadType struct {
	ID        int
	Name      string
	Clockrate int
	Channels  int // 0 means unspecified (mono is the RTP default)
	Params    map[string]string
}

// HdrExt is one <rtp-hdrext/> (XEP-0294) mapping a numeric RTP header
// extension ID to its URI.
type HdrExt struct {
	ID  int
	URI string
}

// SSMASource is one <source/> (XEP-0339) advertising an SSRC and its
// cname/msid/mslabel/label parameters (spec §4.F "session-accept
// construction").
type SSMASource struct {
	SSRC    uint32
	Owner   string // the full JID this source belongs to, or "jvb" for the bridge's own mix
	CName   string
	MSID    string
	MSLabel string
	Label   string
}

func rtpDescriptionFromElement(e *xmlnode.Element) (*RTPDescription, error) {
	mediaAttr, err := xmlnode.RequiredAttr(e, "media")
	if err != nil {
		return nil, err
	}
	d := &RTPDescription{Media: Media(mediaAttr)}

	for _, ptEl := range xmlnode.VecChildren(e, "", "payload-type") {
		pt, err := payloadTypeFromElement(ptEl)
		if err != nil {
			return nil, err
		}
		d.PayloadTypes = append(d.PayloadTypes, *pt)
	}

	for _, hEl := range xmlnode.VecChildren(e, ns.JingleRTPHdrExt, "rtp-hdrext") {
		idAttr, err := xmlnode.RequiredAttr(hEl, "id")
		if err != nil {
			return nil, err
		}
		id, err := strconv.Atoi(idAttr)
		if err != nil {
			return nil, &xmlnode.ParseError{Element: hEl.Name.String(), Field: "id", Reason: "not an integer"}
		}
		uri, err := xmlnode.RequiredAttr(hEl, "uri")
		if err != nil {
			return nil, err
		}
		d.HdrExts = append(d.HdrExts, HdrExt{ID: id, URI: uri})
	}

	for _, sEl := range xmlnode.VecChildren(e, ns.JingleSSMA, "source") {
		src, err := ssmaSourceFromElement(sEl)
		if err != nil {
			return nil, err
		}
		d.Sources = append(d.Sources, *src)
	}

	if rtcpMuxEl, err := xmlnode.OptionalChild(e, ns.RTCPMux, "rtcp-mux"); err != nil {
		return nil, err
	} else if rtcpMuxEl != nil {
		d.RTCPMux = true
	}

	return d, nil
}

func (d *RTPDescription) ToElement() *xmlnode.Element {
	e := xmlnode.New(ns.JingleRTP, "description")
	e.SetAttr("media", string(d.Media))
	for _, pt := range d.PayloadTypes {
		e.AppendChild(pt.toElement())
	}
	for _, h := range d.HdrExts {
		hEl := xmlnode.New(ns.JingleRTPHdrExt, "rtp-hdrext")
		hEl.SetAttr("id", strconv.Itoa(h.ID))
		hEl.SetAttr("uri", h.URI)
		e.AppendChild(hEl)
	}
	// rtcp-mux is carried unconditionally once a description is built for
	// session-accept, regardless of whether the offer requested it (spec
	// supplement: gst-meet always negotiates rtcp-mux).
	if d.RTCPMux {
		e.AppendChild(xmlnode.New(ns.RTCPMux, "rtcp-mux"))
	}
	for _, s := range d.Sources {
		e.AppendChild(s.toElement())
	}
	return e
}

func payloadTypeFromElement(e *xmlnode.Element) (*PayloadType, error) {
	idAttr, err := xmlnode.RequiredAttr(e, "id")
	if err != nil {
		return nil, err
	}
	id, err := strconv.Atoi(idAttr)
	if err != nil {
		return nil, &xmlnode.ParseError{Element: e.Name.String(), Field: "id", Reason: "not an integer"}
	}
	name, err := xmlnode.RequiredAttr(e, "name")
	if err != nil {
		return nil, err
	}
	pt := &PayloadType{ID: id, Name: name}
	if cr, ok := xmlnode.OptionalAttr(e, "clockrate"); ok {
		pt.Clockrate, _ = strconv.Atoi(cr)
	}
	if ch, ok := xmlnode.OptionalAttr(e, "channels"); ok {
		pt.Channels, _ = strconv.Atoi(ch)
	}
	for _, pEl := range xmlnode.VecChildren(e, "", "parameter") {
		pname, err := xmlnode.RequiredAttr(pEl, "name")
		if err != nil {
			continue
		}
		pval, _ := xmlnode.OptionalAttr(pEl, "value")
		if pt.Params == nil {
			pt.Params = map[string]string{}
		}
		pt.Params[pname] = pval
	}
	return pt, nil
}

func (pt *PayloadType) toElement() *xmlnode.Element {
	e := xmlnode.New("", "payload-type")
	e.SetAttr("id", strconv.Itoa(pt.ID))
	e.SetAttr("name", pt.Name)
	if pt.Clockrate != 0 {
		e.SetAttr("clockrate", strconv.Itoa(pt.Clockrate))
	}
	if pt.Channels != 0 {
		e.SetAttr("channels", strconv.Itoa(pt.Channels))
	}
	for name, value := range pt.Params {
		pEl := xmlnode.New("", "parameter")
		pEl.SetAttr("name", name)
		pEl.SetAttr("value", value)
		e.AppendChild(pEl)
	}
	return e
}

func ssmaSourceFromElement(e *xmlnode.Element) (*SSMASource, error) {
	ssrcAttr, err := xmlnode.RequiredAttr(e, "ssrc")
	if err != nil {
		return nil, err
	}
	ssrc, err := strconv.ParseUint(ssrcAttr, 10, 32)
	if err != nil {
		return nil, &xmlnode.ParseError{Element: e.Name.String(), Field: "ssrc", Reason: "not a valid uint32"}
	}
	src := &SSMASource{SSRC: uint32(ssrc)}
	if infoEl := e.Child(ns.JitMeet, "ssrc-info"); infoEl != nil {
		src.Owner, _ = xmlnode.OptionalAttr(infoEl, "owner")
	}
	for _, pEl := range xmlnode.VecChildren(e, "", "parameter") {
		name, err := xmlnode.RequiredAttr(pEl, "name")
		if err != nil {
			continue
		}
		value, _ := xmlnode.OptionalAttr(pEl, "value")
		switch name {
		case "cname":
			src.CName = value
		case "msid":
			src.MSID = value
		case "mslabel":
			src.MSLabel = value
		case "label":
			src.Label = value
		}
	}
	return src, nil
}

func (s *SSMASource) toElement() *xmlnode.Element {
	e := xmlnode.New(ns.JingleSSMA, "source")
	e.SetAttr("ssrc", strconv.FormatUint(uint64(s.SSRC), 10))
	addParam := func(name, value string) {
		if value == "" {
			return
		}
		pEl := xmlnode.New("", "parameter")
		pEl.SetAttr("name", name)
		pEl.SetAttr("value", value)
		e.AppendChild(pEl)
	}
	addParam("cname", s.CName)
	addParam("msid", s.MSID)
	addParam("mslabel", s.MSLabel)
	addParam("label", s.Label)
	if s.Owner != "" {
		infoEl := xmlnode.New(ns.JitMeet, "ssrc-info")
		infoEl.SetAttr("owner", s.Owner)
		e.AppendChild(infoEl)
	}
	return e
}

// OwnerParticipant parses the owner attribute of a <ssrc-info/> sibling
// carried alongside colibri2/jitsi sources, where owner is a full JID
// whose resource part names the participant. This mirrors the Rust
// owner.split('/')[1] rule (spec §4.F "insert (ssrc,
// participant=owner.split('/')[1], media_type)"): the participant is the
// text between the first and the second '/'.
func OwnerParticipant(owner string) (string, bool) {
	parts := strings.Split(owner, "/")
	if len(parts) < 2 {
		return "", false
	}
	return parts[1], true
}
