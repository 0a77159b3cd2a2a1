package xmlnode

import "fmt"

// ParseError reports a structural problem with a stanza: a missing
// required attribute or child, a duplicated singleton child, or an
// attribute value that fails validation. It corresponds to spec §7's
// ParseError kind.
type ParseError struct {
	Element string // qualified name of the element being parsed, for context
	Field   string // attribute or child name at fault
	Reason  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("xmlnode: <%s>: %s: %s", e.Element, e.Field, e.Reason)
}

func newParseError(elName Name, field, reason string) error {
	return &ParseError{Element: elName.String(), Field: field, Reason: reason}
}

// RequiredAttr returns the value of a required attribute, or a ParseError
// naming the attribute when absent. Corresponds to spec §4.B "Required
// fails when absent".
func RequiredAttr(e *Element, local string) (string, error) {
	v, ok := e.Attr(local)
	if !ok {
		return "", newParseError(e.Name, local, "required attribute missing")
	}
	return v, nil
}

// RequiredNonEmptyAttr is like RequiredAttr but additionally rejects an
// empty string, with a distinct error from a missing attribute (spec §8.2:
// "RequiredNonEmpty on empty string yields ParseError distinct from
// missing").
func RequiredNonEmptyAttr(e *Element, local string) (string, error) {
	v, ok := e.Attr(local)
	if !ok {
		return "", newParseError(e.Name, local, "required attribute missing")
	}
	if v == "" {
		return "", newParseError(e.Name, local, "required attribute must not be empty")
	}
	return v, nil
}

// OptionalAttr returns the attribute's value and whether it was present.
func OptionalAttr(e *Element, local string) (string, bool) {
	return e.Attr(local)
}

// OptionalEmptyAttr is like OptionalAttr but treats an empty string as
// absent (spec §4.B "OptionEmpty treats the empty string as absent").
func OptionalEmptyAttr(e *Element, local string) (string, bool) {
	v, ok := e.Attr(local)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// DefaultAttr returns the attribute's value, or def when absent (spec
// §4.B "Default uses the type's default when absent").
func DefaultAttr(e *Element, local, def string) string {
	if v, ok := e.Attr(local); ok {
		return v
	}
	return def
}

// Enum validates that value is one of allowed and returns it; any other
// value, including the empty string, is a ParseError. Enum knows nothing
// of defaults: a caller whose attribute has one resolves absence first
// with DefaultAttr, so a present but unknown value is still an error
// (spec §4.B and §8.4: "an unknown value yields ParseError regardless of
// Default").
func Enum(e *Element, field, value string, allowed ...string) (string, error) {
	for _, a := range allowed {
		if value == a {
			return value, nil
		}
	}
	return "", newParseError(e.Name, field, fmt.Sprintf("unrecognized value %q", value))
}

// RequiredChild returns the single child matching (space, local), failing
// if it is absent or duplicated (spec §4.B "Required = exactly one (error
// on duplicate)").
func RequiredChild(e *Element, space, local string) (*Element, error) {
	matches := e.ChildrenNamed(space, local)
	switch len(matches) {
	case 0:
		return nil, newParseError(e.Name, local, "required child missing")
	case 1:
		return matches[0], nil
	default:
		return nil, newParseError(e.Name, local, "duplicate child, expected exactly one")
	}
}

// OptionalChild returns at most one matching child, failing only on
// duplicates (spec §4.B "Option = at most one").
func OptionalChild(e *Element, space, local string) (*Element, error) {
	matches := e.ChildrenNamed(space, local)
	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		return matches[0], nil
	default:
		return nil, newParseError(e.Name, local, "duplicate child, expected at most one")
	}
}

// VecChildren returns every matching child in document order; any count,
// including zero, is valid (spec §4.B "Vec = zero or more").
func VecChildren(e *Element, space, local string) []*Element {
	return e.ChildrenNamed(space, local)
}

// Present reports whether a child with (space, local) appears at all,
// without distinguishing count (spec §4.B "Present = boolean").
func Present(e *Element, space, local string) bool {
	return len(e.ChildrenNamed(space, local)) > 0
}
