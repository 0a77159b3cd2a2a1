// Package colibri implements the Colibri notification channel of spec
// §4.G: an optional WebSocket, opened once session-accept is
// acknowledged, carrying a small tagged set of JSON control messages in
// both directions.
//
// Grounded on package transport's gorilla/websocket usage (spec §4.C) —
// this channel is plain JSON-over-WebSocket rather than XMPP framing, so
// it is its own thin wrapper around gorilla/websocket rather than reusing
// package transport's XMPP-specific Open/Close framing. The message set
// (SPEC_FULL.md supplement C.6) is named from the original's control-
// plane notion of a small tagged union; no pack example speaks Colibri,
// so the Go shape (an interface with a private discriminant method, one
// concrete type per tag) follows the teacher's own enum-ish pattern for
// closed wire unions (stanza/jingle's Action/Creator/Senders string
// enums), adapted to JSON instead of XML attributes.
package colibri

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"
)

// Message is the tagged union of Colibri notification payloads this
// module understands. Unknown tags are preserved as RawMessage so a
// caller can still see them without this package needing to enumerate
// every message Jitsi's bridge may ever send.
type Message interface {
	colibriType() string
}

// ReceiverVideoConstraints asks the sender to cap resolution/frame rate
// for one or more endpoints.
type ReceiverVideoConstraints struct {
	LastN            int            `json:"lastN,omitempty"`
	SelectedEndpoints []string      `json:"selectedEndpoints,omitempty"`
	OnStageEndpoints  []string      `json:"onStageEndpoints,omitempty"`
	DefaultConstraints map[string]int `json:"defaultConstraints,omitempty"`
	Constraints       map[string]int `json:"constraints,omitempty"`
}

func (ReceiverVideoConstraints) colibriType() string { return "ReceiverVideoConstraints" }

// VideoType announces an endpoint's video type (camera vs. screen share).
type VideoType struct {
	EndpointID string `json:"endpointId,omitempty"`
	VideoType  string `json:"videoType"`
}

func (VideoType) colibriType() string { return "VideoType" }

// EndpointMessage relays an application-defined payload from another
// endpoint, forwarded by the bridge.
type EndpointMessage struct {
	From    string          `json:"from,omitempty"`
	To      string          `json:"to,omitempty"`
	Payload json.RawMessage `json:"msgPayload"`
}

func (EndpointMessage) colibriType() string { return "EndpointMessage" }

// SenderVideoConstraints reports the maximum resolution the bridge wants
// this endpoint to send.
type SenderVideoConstraints struct {
	VideoConstraints struct {
		IdealHeight int `json:"idealHeight"`
	} `json:"videoConstraints"`
}

func (SenderVideoConstraints) colibriType() string { return "SenderVideoConstraints" }

// DominantSpeakerEndpointChange announces a new dominant speaker.
type DominantSpeakerEndpointChange struct {
	DominantSpeakerEndpoint string   `json:"dominantSpeakerEndpoint"`
	PreviousSpeakers        []string `json:"previousSpeakers,omitempty"`
}

func (DominantSpeakerEndpointChange) colibriType() string {
	return "DominantSpeakerEndpointChange"
}

// Unknown wraps any message whose colibriClass tag this package does not
// recognize, so callers can still observe it.
type Unknown struct {
	Class string
	Raw   json.RawMessage
}

func (Unknown) colibriType() string { return "Unknown" }

type wireEnvelope struct {
	Class string `json:"colibriClass"`
}

// Decode parses a single text frame's JSON payload into a Message.
func Decode(data []byte) (Message, error) {
	var env wireEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("colibri: decoding envelope: %w", err)
	}
	switch env.Class {
	case "ReceiverVideoConstraints":
		var m ReceiverVideoConstraints
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case "VideoType":
		var m VideoType
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case "EndpointMessage":
		var m EndpointMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case "SenderVideoConstraints":
		var m SenderVideoConstraints
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case "DominantSpeakerEndpointChange":
		var m DominantSpeakerEndpointChange
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return Unknown{Class: env.Class, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}

// Encode serializes m back to its wire envelope, tagging it with its
// colibriClass.
func Encode(m Message) ([]byte, error) {
	if unk, ok := m.(Unknown); ok {
		return unk.Raw, nil
	}
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("colibri: encoding %s: %w", m.colibriType(), err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	classJSON, _ := json.Marshal(m.colibriType())
	fields["colibriClass"] = classJSON
	return json.Marshal(fields)
}

// Channel is the notification WebSocket spec §4.G describes: opened once
// session-accept is acknowledged, non-fatal to the conference if it
// drops (spec: "Loss of this channel is non-fatal: the media path
// continues to function").
type Channel struct {
	ws  *websocket.Conn
	log logging.LeveledLogger

	writeMu sync.Mutex
}

// Dial opens the Colibri notification WebSocket at urlStr.
func Dial(ctx context.Context, urlStr string, factory logging.LoggerFactory) (*Channel, error) {
	if factory == nil {
		factory = logging.NewDefaultLoggerFactory()
	}
	dialer := websocket.Dialer{}
	ws, _, err := dialer.DialContext(ctx, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("colibri: dial %s: %w", urlStr, err)
	}
	return &Channel{ws: ws, log: factory.NewLogger("colibri")}, nil
}

// Send serializes and sends m as a text frame.
func (c *Channel) Send(m Message) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Serve reads frames until the connection closes or ctx is done,
// forwarding each decoded Message to onMessage. Decode errors are logged
// and the frame is dropped rather than terminating the channel.
func (c *Channel) Serve(ctx context.Context, onMessage func(Message)) {
	go func() {
		<-ctx.Done()
		c.ws.Close()
	}()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.log.Debugf("colibri: channel closed: %v", err)
			return
		}
		msg, err := Decode(data)
		if err != nil {
			c.log.Warnf("colibri: dropping malformed frame: %v", err)
			continue
		}
		onMessage(msg)
	}
}

// Close closes the underlying WebSocket.
func (c *Channel) Close() error {
	return c.ws.Close()
}
