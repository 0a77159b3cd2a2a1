// Adapted from the teacher's jid_test.go (mellium.im/xmpp), which tests
// its partsFromString/FromParts helpers with the same table shape; this
// version exercises jid.Parse/New against this package's simpler
// (non-nodeprep) JID.
package jid

import "testing"

func TestParse(t *testing.T) {
	cases := []struct {
		in                       string
		node, domain, resource   string
	}{
		{"node@domain/resource", "node", "domain", "resource"},
		{"domain/resource", "", "domain", "resource"},
		{"domain", "", "domain", ""},
		{"node@domain//resource", "node", "domain/", "resource"},
		{"node@domain/resource/", "node", "domain/resource", ""},
		{"node@domain/@resource/", "node", "domain/@resource", ""},
		{"node@domain/node@domain/resource", "node", "domain/node@domain", "resource"},
		{"domain//resource", "", "domain/", "resource"},
		{"domain/resource/", "", "domain/resource", ""},
		{"guest-aaaa@example/abc", "guest-aaaa", "example", "abc"},
	}
	for _, c := range cases {
		j, err := Parse(c.in)
		if err != nil {
			t.Fatalf("Parse(%q) returned error: %v", c.in, err)
		}
		if j.Node != c.node || j.Domain != c.domain || j.Resource != c.resource {
			t.Errorf("Parse(%q) = %+v, want {%q %q %q}", c.in, j, c.node, c.domain, c.resource)
		}
	}
}

func TestParseInvalid(t *testing.T) {
	invalid := []string{
		"@domain",
		"",
		"node@",
	}
	for _, in := range invalid {
		if _, err := Parse(in); err == nil {
			t.Errorf("Parse(%q) should have returned an error", in)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	cases := []string{
		"node@domain/resource",
		"domain",
		"domain/resource",
		"guest-aaaa@example/abc",
	}
	for _, s := range cases {
		j, err := Parse(s)
		if err != nil {
			t.Fatalf("Parse(%q): %v", s, err)
		}
		if got := j.String(); got != s {
			t.Errorf("round-trip %q: got %q", s, got)
		}
	}
}

func TestBareAndFull(t *testing.T) {
	j := MustParse("room@conference.example/guest")
	if !j.IsFull() {
		t.Fatal("expected full JID")
	}
	bare := j.Bare()
	if bare.IsFull() {
		t.Fatal("Bare() should strip the resource")
	}
	if bare.String() != "room@conference.example" {
		t.Errorf("Bare() = %q", bare.String())
	}
}

func TestEqual(t *testing.T) {
	a := MustParse("alice@example/r1")
	b := MustParse("alice@example/r1")
	c := MustParse("alice@example/r2")
	if !a.Equal(b) {
		t.Error("expected equal JIDs to compare equal")
	}
	if a.Equal(c) {
		t.Error("expected different resources to compare unequal")
	}
}

func TestWithResource(t *testing.T) {
	j := MustParse("room@conference.example")
	full := j.WithResource("guest")
	if full.String() != "room@conference.example/guest" {
		t.Errorf("WithResource: got %q", full.String())
	}
}
