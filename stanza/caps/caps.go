// Package caps implements Entity Capabilities 2.0 (XEP-0390) hash
// computation over a disco#info document, used by the conference FSM to
// advertise a capabilities hash in its join presence (spec §4.E
// "Discovering").
//
// The reference implementation hashes an empty disco#info at node
// http://jitsi.org/jitsimeet and does not verify the value it receives
// back (spec §9 open question); this module computes its own hash from
// whatever identities/features the caller advertises rather than trying
// to reproduce the reference's exact bytes, since nothing downstream
// depends on bit-for-bit equality.
package caps

import (
	"crypto/sha256"
	"encoding/base64"
	"sort"
	"strings"

	"github.com/avstack/gomeet/stanza/disco"
)

// Algorithm is the hash algorithm named in the capabilities hash, per
// XEP-0390's registered algorithm table.
const Algorithm = "sha-256"

// Hash computes the XEP-0390 capabilities hash over info: identities and
// features are each sorted and joined with "<", terminated with "<", and
// concatenated before hashing (the XEP-0115-derived generation method
// XEP-0390 reuses for its sha-256 variant).
func Hash(info disco.Info) string {
	var b strings.Builder

	identities := make([]string, 0, len(info.Identities))
	for _, ident := range info.Identities {
		identities = append(identities, ident.Category+"/"+ident.Type+"/"+ident.Lang+"/"+ident.Name)
	}
	sort.Strings(identities)
	for _, s := range identities {
		b.WriteString(s)
		b.WriteByte('<')
	}

	features := make([]string, 0, len(info.Features))
	for _, f := range info.Features {
		features = append(features, f.Var)
	}
	sort.Strings(features)
	for _, s := range features {
		b.WriteString(s)
		b.WriteByte('<')
	}

	sum := sha256.Sum256([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(sum[:])
}
