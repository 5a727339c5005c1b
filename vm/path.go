package vm

import "strings"

// Path is a type path such as "/obj/item/sword". The root path is "/".
type Path string

// Root is the path every type path descends from.
const Root Path = "/"

// ParsePath normalizes s into a Path: a leading slash is added when missing
// and trailing or repeated slashes are dropped.
func ParsePath(s string) Path {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '/' })
	if len(parts) == 0 {
		return Root
	}
	return Path("/" + strings.Join(parts, "/"))
}

// Elements returns the path's components, "/obj/item" -> ["obj", "item"].
func (p Path) Elements() []string {
	return strings.FieldsFunc(string(p), func(r rune) bool { return r == '/' })
}

// Parent returns the enclosing path. The parent of a top-level path and of
// Root is Root.
func (p Path) Parent() Path {
	elems := p.Elements()
	if len(elems) <= 1 {
		return Root
	}
	return Path("/" + strings.Join(elems[:len(elems)-1], "/"))
}

// Child appends name to p.
func (p Path) Child(name string) Path {
	if p == Root || p == "" {
		return ParsePath(name)
	}
	return ParsePath(string(p) + "/" + name)
}

// LastElement returns the final component, or "" for Root.
func (p Path) LastElement() string {
	elems := p.Elements()
	if len(elems) == 0 {
		return ""
	}
	return elems[len(elems)-1]
}

// IsDescendantOf reports whether p equals ancestor or lies beneath it
// textually. Subtype checks between definitions use the definition chain
// instead, since a definition's parent need not be its path parent.
func (p Path) IsDescendantOf(ancestor Path) bool {
	if ancestor == Root || p == ancestor {
		return true
	}
	return strings.HasPrefix(string(p), string(ancestor)+"/")
}

func (p Path) String() string { return string(p) }
