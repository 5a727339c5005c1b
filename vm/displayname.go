package vm

import (
	"unicode"
	"unicode/utf8"
)

// StringFormat selects how an object's name is rendered in text.
type StringFormat byte

const (
	FormatNone StringFormat = iota
	FormatUpperDefiniteArticle
	FormatLowerDefiniteArticle
	FormatUpperIndefiniteArticle
	FormatLowerIndefiniteArticle
	FormatProper
	FormatImproper
)

// formatMarker prefixes a name that carries an explicit format byte.
const formatMarker = 0xFF

// DisplayName renders the object's "name" variable. A name starting with
// the 0xFF marker carries its properness in the following byte; otherwise
// a name is proper when it is empty or starts with an upper-case letter.
// Improper names get a definite article for the definite formats. Objects
// without a text name fall back to their type path.
func (o *Object) DisplayName(format StringFormat) string {
	if o.deleted {
		return ""
	}
	v, ok, _ := o.TryGet("name")
	name, isText := v.AsString()
	if !ok || !isText {
		return string(o.def.Type)
	}

	var proper bool
	if len(name) >= 2 && name[0] == formatMarker {
		proper = StringFormat(name[1]) == FormatProper
		name = name[2:]
	} else if name == "" {
		proper = true
	} else {
		r, _ := utf8.DecodeRuneInString(name)
		proper = unicode.IsUpper(r)
	}

	switch format {
	case FormatUpperDefiniteArticle:
		if !proper {
			return "The " + name
		}
	case FormatLowerDefiniteArticle:
		if !proper {
			return "the " + name
		}
	}
	return name
}
