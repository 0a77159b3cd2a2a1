// Package media defines the embedder-facing media-sink contract of spec
// §6: the core demuxes RTP for each participant and routes it through an
// embedder-supplied token it never interprets itself.
//
// Grounded on spec §6's "Media-sink contract" paragraph; no pack example
// implements this exact shape (it is a boundary interface, not a codec or
// transport), so it is written directly from the spec prose rather than
// adapted from a teacher file.
package media

import (
	"context"

	"github.com/avstack/gomeet/jid"
)

// SinkToken is an opaque handle the embedder's on-participant callback
// returns and the core stores alongside a Participant. The core never
// inspects it; it is returned verbatim to the embedder elsewhere (pad
// linking and sink lifecycle are entirely the embedder's responsibility).
type SinkToken any

// ParticipantInfo is what the core tells the embedder about a newly
// discovered or departing participant when invoking the callbacks below.
type ParticipantInfo struct {
	Occupant string // the MUC occupant ID (room JID resource)
	RealJID  *jid.JID
}

// Callbacks bundles the embedder hooks the conference FSM invokes on
// participant join/leave (spec §4.E Idle step 6, §6). OnParticipant's
// returned token is stored with the Participant and handed back verbatim
// on OnParticipantLeft; a false second return means "no sink for this
// participant" (the Rust original's `Option<SinkToken>`).
type Callbacks struct {
	OnParticipant     func(info ParticipantInfo) (SinkToken, bool)
	OnParticipantLeft func(info ParticipantInfo, token SinkToken, ok bool)

	// PauseSinks silences every receive sink still attached, invoked
	// first when the conference tears down (spec §4.F "Teardown: pause
	// all receive sinks"). Nil means the embedder has nothing to pause.
	PauseSinks func()

	// NullState requests the embedder's media pipeline transition to
	// its null state and blocks until that transition completes or ctx
	// expires (spec §4.F "request the media pipeline to transition to
	// its null state, and await its acknowledgement with a best-effort
	// timeout of 10 s"). Nil means the embedder has no pipeline state
	// to drain.
	NullState func(ctx context.Context) error
}

// AudioSink and VideoSink are the two handles spec §6 says the core
// exposes to the embedder for routing demuxed media. The core's
// Non-goals (spec §1: "does not transcode, mix, or render media") mean
// it only needs a narrow write surface here; the embedder's media
// pipeline supplies the concrete implementation.
type AudioSink interface {
	WriteRTP(payload []byte, ssrc uint32) error
}

type VideoSink interface {
	WriteRTP(payload []byte, ssrc uint32) error
}
