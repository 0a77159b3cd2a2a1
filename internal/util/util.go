// Package util collects the small cross-cutting helpers spec components
// D-G share: random ID/token generation, SSRC drawing, and the stats-id
// used in MUC presence. Grounded on the teacher's internal/util
// equivalents (mellium.im/xmpp/internal's RandomID), generalized to the
// generators this module needs beyond stream IDs, and on
// github.com/pion/randutil, the domain stack's randomness source for
// anything ICE-adjacent (SSRCs, candidate foundations).
package util

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/pion/randutil"
)

// NewID returns a fresh RFC 4122 v4 UUID string, used for cname/msid/
// mslabel/label values that must be "fresh UUIDs" (spec §4.F
// "session-accept construction").
func NewID() string {
	return uuid.NewString()
}

// StatsID returns a short human-legible identifier for MUC presence's
// <stats-id/> (spec §4.E): "gomeet-" followed by six random characters
// drawn from [A-Za-z0-9] (e.g. "gomeet-4gAx9Q").
func StatsID() (string, error) {
	suffix, err := randutil.GenerateCryptoRandomString(6, "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789")
	if err != nil {
		return "", fmt.Errorf("util: generating stats-id: %w", err)
	}
	return "gomeet-" + suffix, nil
}

// RandomSSRC draws a fresh 32-bit SSRC for a locally originated stream
// (spec §4.F "Draw two 32-bit random SSRCs for the send-audio and
// send-video streams"), the same randutil generator pion/webrtc's own
// RTPSender uses for its SSRC. Zero is excluded since RTP reserves it as
// "no SSRC yet" in some implementations.
func RandomSSRC() uint32 {
	gen := randutil.NewMathRandomGenerator()
	for {
		if v := gen.Uint32(); v != 0 {
			return v
		}
	}
}
