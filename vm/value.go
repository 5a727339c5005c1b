package vm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind tags the datum carried by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindNumber
	KindString
	KindPath
	KindObject
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindNumber:
		return "number"
	case KindString:
		return "text"
	case KindPath:
		return "path"
	case KindObject:
		return "object"
	case KindList:
		return "list"
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Value is an immutable tagged datum.
//
// Values are compared and hashed per tag: numbers by numeric value, text
// and paths by content, objects and lists by reference identity. Because
// only the field belonging to the tag is ever set, Value is comparable with
// == and can be used directly as a map key.
type Value struct {
	kind Kind
	num  float64
	str  string
	obj  *Object
	list *List
}

// Null is the zero Value.
var Null = Value{}

// NewNumber wraps a float64.
func NewNumber(n float64) Value { return Value{kind: KindNumber, num: n} }

// NewInt wraps an integer as a number.
func NewInt(n int) Value { return Value{kind: KindNumber, num: float64(n)} }

// NewString wraps a text value.
func NewString(s string) Value { return Value{kind: KindString, str: s} }

// NewPathValue wraps a type path.
func NewPathValue(p Path) Value { return Value{kind: KindPath, str: string(p)} }

// NewObjectValue wraps an object reference. A nil object yields Null.
func NewObjectValue(o *Object) Value {
	if o == nil {
		return Null
	}
	return Value{kind: KindObject, obj: o}
}

// NewListValue wraps a list reference. A nil list yields Null.
func NewListValue(l *List) Value {
	if l == nil {
		return Null
	}
	return Value{kind: KindList, list: l}
}

// ---------------------------------------------------------------------------
// Type checking and extraction
// ---------------------------------------------------------------------------

func (v Value) Kind() Kind     { return v.kind }
func (v Value) IsNull() bool   { return v.kind == KindNull }
func (v Value) IsObject() bool { return v.kind == KindObject }

// AsNumber returns the number and whether v is a number.
func (v Value) AsNumber() (float64, bool) {
	return v.num, v.kind == KindNumber
}

// AsString returns the text and whether v is text.
func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

// AsPath returns the path and whether v is a path.
func (v Value) AsPath() (Path, bool) {
	if v.kind != KindPath {
		return "", false
	}
	return Path(v.str), true
}

// AsObject returns the referenced object and whether v is an object reference.
func (v Value) AsObject() (*Object, bool) {
	return v.obj, v.kind == KindObject
}

// AsList returns the referenced list and whether v is a list reference.
func (v Value) AsList() (*List, bool) {
	return v.list, v.kind == KindList
}

// Truthy follows the language's rule: null, 0 and "" are false, everything
// else, including a deleted object, is true.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNull:
		return false
	case KindNumber:
		return v.num != 0
	case KindString:
		return v.str != ""
	}
	return true
}

// Equal compares per tag. Unlike ==, two NaN numbers are not equal and a
// number never equals text holding the same digits.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	if v.kind == KindNumber {
		return v.num == o.num
	}
	return v == o
}

// String renders v the way the runtime prints values in diagnostics.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindNumber:
		if v.num == math.Trunc(v.num) && math.Abs(v.num) < 1e15 {
			return strconv.FormatInt(int64(v.num), 10)
		}
		return strconv.FormatFloat(v.num, 'g', 6, 64)
	case KindString:
		return strconv.Quote(v.str)
	case KindPath:
		return v.str
	case KindObject:
		return v.obj.String()
	case KindList:
		return v.list.String()
	}
	return "?"
}

// Text renders v as the language's text conversion would: strings are
// unquoted and null is empty.
func (v Value) Text() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindString:
		return v.str
	case KindObject:
		if v.obj.Deleted() {
			return ""
		}
		return v.obj.DisplayName(FormatNone)
	}
	return v.String()
}

// ---------------------------------------------------------------------------
// List
// ---------------------------------------------------------------------------

// List is a mutable, reference-identity sequence of Values.
type List struct {
	items []Value
}

// NewList creates a list holding a copy of items.
func NewList(items ...Value) *List {
	l := &List{items: make([]Value, len(items))}
	copy(l.items, items)
	return l
}

func (l *List) Len() int { return len(l.items) }

// At returns the element at index i (0-based) or Null when out of range.
func (l *List) At(i int) Value {
	if i < 0 || i >= len(l.items) {
		return Null
	}
	return l.items[i]
}

func (l *List) Set(i int, v Value) error {
	if i < 0 || i >= len(l.items) {
		return fmt.Errorf("list index %d out of range [0,%d)", i, len(l.items))
	}
	l.items[i] = v
	return nil
}

func (l *List) Append(v Value) { l.items = append(l.items, v) }

// Values returns a copy of the list's elements.
func (l *List) Values() []Value {
	out := make([]Value, len(l.items))
	copy(out, l.items)
	return out
}

func (l *List) String() string {
	parts := make([]string, len(l.items))
	for i, v := range l.items {
		parts[i] = v.String()
	}
	return "list(" + strings.Join(parts, ", ") + ")"
}

// ---------------------------------------------------------------------------
// Argument type hints
// ---------------------------------------------------------------------------

// ValueType is a bit set of accepted argument types. It is a hint carried
// by procs for tooling and is not enforced by the core.
type ValueType uint32

const (
	TypeAnything ValueType = 0
	TypeNull     ValueType = 1 << iota
	TypeText
	TypeObj
	TypeMob
	TypeTurf
	TypeNum
	TypeMessage
	TypeArea
	TypeColor
	TypeFile
)

var valueTypeNames = []struct {
	t    ValueType
	name string
}{
	{TypeNull, "null"}, {TypeText, "text"}, {TypeObj, "obj"}, {TypeMob, "mob"},
	{TypeTurf, "turf"}, {TypeNum, "num"}, {TypeMessage, "message"},
	{TypeArea, "area"}, {TypeColor, "color"}, {TypeFile, "file"},
}

// ParseValueType parses a "|"-separated list of type names such as
// "num|null". An empty string or "anything" yields TypeAnything.
func ParseValueType(s string) (ValueType, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "anything" {
		return TypeAnything, nil
	}
	var out ValueType
outer:
	for _, part := range strings.Split(s, "|") {
		part = strings.TrimSpace(part)
		for _, n := range valueTypeNames {
			if n.name == part {
				out |= n.t
				continue outer
			}
		}
		return 0, fmt.Errorf("unknown value type %q", part)
	}
	return out, nil
}

func (t ValueType) String() string {
	if t == TypeAnything {
		return "anything"
	}
	var parts []string
	for _, n := range valueTypeNames {
		if t&n.t != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}
