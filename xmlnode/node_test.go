package xmlnode

import (
	"strings"
	"testing"
)

// TestRoundTrip exercises spec §8.1: reparsing a serialized element yields
// a semantically equal tree.
func TestRoundTrip(t *testing.T) {
	docs := []string{
		`<iq xmlns="jabber:client" id="1" type="get"><ping xmlns="urn:xmpp:ping"/></iq>`,
		`<presence xmlns="jabber:client" from="room@conference.example/guest"><x xmlns="http://jabber.org/protocol/muc"/></presence>`,
		`<message xmlns="jabber:client" type="chat"><body>hello world</body></message>`,
	}
	for _, doc := range docs {
		el, err := Parse(strings.NewReader(doc))
		if err != nil {
			t.Fatalf("Parse(%q): %v", doc, err)
		}
		var buf strings.Builder
		if err := el.Serialize(&buf); err != nil {
			t.Fatalf("Serialize: %v", err)
		}
		reparsed, err := Parse(strings.NewReader(buf.String()))
		if err != nil {
			t.Fatalf("reparse %q: %v", buf.String(), err)
		}
		if !equalTree(el, reparsed) {
			t.Errorf("round-trip mismatch:\n  original: %#v\n  reparsed: %#v", el, reparsed)
		}
	}
}

func equalTree(a, b *Element) bool {
	if a.Name != b.Name {
		return false
	}
	if len(a.Attrs) != len(b.Attrs) {
		return false
	}
	am := map[Name]string{}
	for _, at := range a.Attrs {
		am[at.Name] = at.Value
	}
	for _, bt := range b.Attrs {
		if am[bt.Name] != bt.Value {
			return false
		}
	}
	if len(a.Children) != len(b.Children) {
		return false
	}
	for i := range a.Children {
		ac, bc := a.Children[i], b.Children[i]
		if ac.IsText() != bc.IsText() {
			return false
		}
		if ac.IsText() {
			if ac.Text != bc.Text {
				return false
			}
			continue
		}
		if !equalTree(ac.Element, bc.Element) {
			return false
		}
	}
	return true
}

func TestChildOrderAndText(t *testing.T) {
	el, err := Parse(strings.NewReader(`<a xmlns="ns"><b/>text<c/></a>`))
	if err != nil {
		t.Fatal(err)
	}
	if len(el.Children) != 3 {
		t.Fatalf("expected 3 children, got %d", len(el.Children))
	}
	if el.Children[0].Name.Local != "b" || el.Children[2].Name.Local != "c" {
		t.Fatal("children out of order")
	}
	if el.Children[1].Text != "text" {
		t.Errorf("text node = %q", el.Children[1].Text)
	}
}

func TestNamespaceWildcardMatch(t *testing.T) {
	el := New("jabber:client", "iq")
	el.AppendChild(New("urn:xmpp:ping", "ping"))
	if el.Child("", "ping") == nil {
		t.Error("wildcard namespace match should find ping")
	}
	if el.Child("urn:xmpp:ping", "ping") == nil {
		t.Error("exact namespace match should find ping")
	}
	if el.Child("urn:xmpp:other", "ping") != nil {
		t.Error("wrong namespace should not match")
	}
}

func TestCardinalityHelpers(t *testing.T) {
	el := New("urn:xmpp:jingle:1", "jingle")
	el.SetAttr("sid", "abc123")
	el.SetAttr("action", "session-initiate")

	if _, err := RequiredAttr(el, "sid"); err != nil {
		t.Errorf("RequiredAttr(sid): %v", err)
	}
	if _, err := RequiredAttr(el, "missing"); err == nil {
		t.Error("RequiredAttr(missing) should fail")
	}

	el.SetAttr("empty", "")
	if _, err := RequiredNonEmptyAttr(el, "empty"); err == nil {
		t.Error("RequiredNonEmptyAttr should reject empty string")
	}
	if _, err := RequiredNonEmptyAttr(el, "missing2"); err == nil {
		t.Error("RequiredNonEmptyAttr should fail on missing")
	}

	if got := DefaultAttr(el, "disposition", "session"); got != "session" {
		t.Errorf("DefaultAttr fallback = %q", got)
	}

	if _, err := Enum(el, "action", "bogus", "session-initiate", "session-accept"); err == nil {
		t.Error("Enum should reject unrecognized values")
	}
	if v, err := Enum(el, "action", "session-initiate", "session-initiate", "session-accept"); err != nil || v != "session-initiate" {
		t.Errorf("Enum(session-initiate) = %q, %v", v, err)
	}

	el.AppendChild(New("urn:xmpp:jingle:1", "content"))
	if _, err := RequiredChild(el, "urn:xmpp:jingle:1", "reason"); err == nil {
		t.Error("RequiredChild should fail when absent")
	}
	el.AppendChild(New("urn:xmpp:jingle:1", "content"))
	if _, err := RequiredChild(el, "urn:xmpp:jingle:1", "content"); err == nil {
		t.Error("RequiredChild should fail on duplicate")
	}
	if kids := VecChildren(el, "urn:xmpp:jingle:1", "content"); len(kids) != 2 {
		t.Errorf("VecChildren = %d, want 2", len(kids))
	}
}
