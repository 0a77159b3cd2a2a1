// Package xmlnode implements the in-memory XML element tree this module's
// stanza codec (package stanza and its subpackages) is built on: a
// qualified name, an order-preserving attribute list, and ordered child
// nodes (elements and text), serialized with encoding/xml's token writer.
//
// This is a tree model, not a streaming one: unlike the teacher's
// xmlstream-based approach (mellium.im/xmlstream), every stanza this
// module handles is small and bounded (a single IQ/presence/message), so
// parsing eagerly into a tree and matching against it with typed getters
// keeps the cardinality rules of spec §4.B (Required/Option/Vec,
// RequiredNonEmpty, Default) simple to express and test.
package xmlnode

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// Name is a qualified XML name: a local part and the namespace URI it
// resolves to (not a prefix).
type Name struct {
	Space string
	Local string
}

func (n Name) String() string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + " " + n.Local
}

// Attr is a single attribute, retained in document order.
type Attr struct {
	Name  Name
	Value string
}

// Node is either an Element or character data. Only one of the two field
// groups is meaningful for any given Node; Text is non-empty only for text
// nodes (IsText() true), and the Element fields are meaningful otherwise.
type Node struct {
	Text string
	*Element
}

// IsText reports whether this Node is a text node rather than an element.
func (n Node) IsText() bool {
	return n.Element == nil
}

// Element is a single XML element: its qualified name, its attributes in
// document order, and its ordered children (which may themselves be
// elements or text nodes).
type Element struct {
	Name     Name
	Attrs    []Attr
	Children []Node
}

// New creates an element with the given namespace and local name and no
// attributes or children.
func New(space, local string) *Element {
	return &Element{Name: Name{Space: space, Local: local}}
}

// SetAttr sets (or appends, if not already present) an attribute with no
// namespace.
func (e *Element) SetAttr(local, value string) *Element {
	return e.SetAttrNS("", local, value)
}

// SetAttrNS is like SetAttr but allows a namespaced attribute.
func (e *Element) SetAttrNS(space, local, value string) *Element {
	for i, a := range e.Attrs {
		if a.Name.Local == local && a.Name.Space == space {
			e.Attrs[i].Value = value
			return e
		}
	}
	e.Attrs = append(e.Attrs, Attr{Name: Name{Space: space, Local: local}, Value: value})
	return e
}

// AppendChild appends an element child and returns it, for chaining.
func (e *Element) AppendChild(child *Element) *Element {
	e.Children = append(e.Children, Node{Element: child})
	return child
}

// AppendText appends a text node child, preserved verbatim.
func (e *Element) AppendText(text string) *Element {
	e.Children = append(e.Children, Node{Text: text})
	return e
}

// Attr returns the value of the unqualified attribute named local, and
// whether it was present.
func (e *Element) Attr(local string) (string, bool) {
	return e.AttrNS("", local)
}

// AttrNS is like Attr but matches a namespaced attribute. An empty space
// matches attributes with no namespace (the common case; XML attributes
// do not inherit the element's default namespace).
func (e *Element) AttrNS(space, local string) (string, bool) {
	for _, a := range e.Attrs {
		if a.Name.Local == local && a.Name.Space == space {
			return a.Value, true
		}
	}
	return "", false
}

// Is reports whether the element's qualified name matches (space, local).
// An empty space is treated as "any namespace" so callers can match
// loosely when a wildcard is appropriate (spec §4.B: "Namespace match for
// children uses either exact namespace or wildcard").
func (e *Element) Is(space, local string) bool {
	if e == nil {
		return false
	}
	if e.Name.Local != local {
		return false
	}
	return space == "" || e.Name.Space == space
}

// Child returns the first child element matching (space, local) in
// document order, or nil.
func (e *Element) Child(space, local string) *Element {
	for _, c := range e.Children {
		if !c.IsText() && c.Is(space, local) {
			return c.Element
		}
	}
	return nil
}

// ChildrenNamed returns all child elements matching (space, local) in
// document order (nil when there are none).
func (e *Element) ChildrenNamed(space, local string) []*Element {
	var out []*Element
	for _, c := range e.Children {
		if !c.IsText() && c.Is(space, local) {
			out = append(out, c.Element)
		}
	}
	return out
}

// ChildrenNS returns all child elements in the given namespace regardless
// of local name, in document order.
func (e *Element) ChildrenNS(space string) []*Element {
	var out []*Element
	for _, c := range e.Children {
		if !c.IsText() && c.Name.Space == space {
			out = append(out, c.Element)
		}
	}
	return out
}

// Text returns the concatenation of this element's direct text-node
// children, preserving whitespace verbatim (spec §4.A).
func (e *Element) Text() string {
	var b strings.Builder
	for _, c := range e.Children {
		if c.IsText() {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

// Parse reads a single XML document (one root element) from r into an
// Element tree.
func Parse(r io.Reader) (*Element, error) {
	dec := xml.NewDecoder(r)
	return parseFrom(dec)
}

// ParseToken is like Parse, but starts from a start element already read
// from dec, for a caller that has already consumed the first token. (The
// transport reads whole frames with Parse.)
func ParseToken(dec *xml.Decoder, start xml.StartElement) (*Element, error) {
	return buildElement(dec, start)
}

func parseFrom(dec *xml.Decoder) (*Element, error) {
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue // skip leading char data / proc instructions
		}
		return buildElement(dec, start)
	}
}

func buildElement(dec *xml.Decoder, start xml.StartElement) (*Element, error) {
	el := &Element{Name: Name{Space: start.Name.Space, Local: start.Name.Local}}
	for _, a := range start.Attr {
		if a.Name.Local == "xmlns" || a.Name.Space == "xmlns" {
			continue // namespace declarations are not attributes in this model
		}
		el.Attrs = append(el.Attrs, Attr{Name: Name{Space: a.Name.Space, Local: a.Name.Local}, Value: a.Value})
	}

	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("xmlnode: parsing <%s>: %w", el.Name, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := buildElement(dec, t)
			if err != nil {
				return nil, err
			}
			el.Children = append(el.Children, Node{Element: child})
		case xml.CharData:
			el.Children = append(el.Children, Node{Text: string(t)})
		case xml.EndElement:
			return el, nil
		}
	}
}

// Serialize writes the element as a single UTF-8 XML document to w,
// emitting the namespace declarations necessary to round-trip: the root's
// own namespace as a default xmlns, and each distinct child namespace that
// differs from its parent's as either a default xmlns (if the child has
// no local prefix collisions) or an explicit declaration.
//
// Byte-for-byte reproduction of the original document is not required
// (spec §4.B); only that re-parsing the output is semantically equal to
// the input tree.
func (e *Element) Serialize(w io.Writer) error {
	enc := xml.NewEncoder(w)
	if err := writeElement(enc, e, ""); err != nil {
		return err
	}
	return enc.Flush()
}

// String renders the element via Serialize into a string, for logging and
// tests. Errors are swallowed into an inline diagnostic, matching how the
// teacher's fmt.Stringer-adjacent debug helpers behave (never panics).
func (e *Element) String() string {
	var b strings.Builder
	if err := e.Serialize(&b); err != nil {
		return fmt.Sprintf("<!-- xmlnode: serialize error: %v -->", err)
	}
	return b.String()
}

func writeElement(enc *xml.Encoder, e *Element, parentSpace string) error {
	start := xml.StartElement{Name: xml.Name{Space: e.Name.Space, Local: e.Name.Local}}
	if e.Name.Space != "" && e.Name.Space != parentSpace {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "xmlns"}, Value: e.Name.Space})
	}
	for _, a := range e.Attrs {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Space: a.Name.Space, Local: a.Name.Local}, Value: a.Value})
	}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	for _, c := range e.Children {
		if c.IsText() {
			if err := enc.EncodeToken(xml.CharData(c.Text)); err != nil {
				return err
			}
			continue
		}
		if err := writeElement(enc, c.Element, e.Name.Space); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}
