package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chazu/dreamcore/vm"
)

// splitFields splits a command line on whitespace. Double-quoted fields may
// contain spaces and keep their quotes so parseValue can tell them apart
// from bare words.
func splitFields(line string) ([]string, error) {
	var fields []string
	var cur strings.Builder
	inQuote, escaped, started := false, false, false
	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case inQuote && r == '\\':
			cur.WriteRune(r)
			escaped = true
		case r == '"':
			cur.WriteRune(r)
			inQuote = !inQuote
			started = true
		case !inQuote && (r == ' ' || r == '\t'):
			if started {
				fields = append(fields, cur.String())
				cur.Reset()
				started = false
			}
		default:
			cur.WriteRune(r)
			started = true
		}
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated string in %q", line)
	}
	if started {
		fields = append(fields, cur.String())
	}
	return fields, nil
}

// parseValue reads one literal: null, a number, a "string", a /type/path,
// an object reference #id, or a bare word taken as text.
func parseValue(tree *vm.Tree, s string) (vm.Value, error) {
	switch {
	case s == "null":
		return vm.Null, nil
	case strings.HasPrefix(s, `"`):
		str, err := strconv.Unquote(s)
		if err != nil {
			return vm.Null, fmt.Errorf("bad string %s", s)
		}
		return vm.NewString(str), nil
	case strings.HasPrefix(s, "/"):
		return vm.NewPathValue(vm.ParsePath(s)), nil
	case strings.HasPrefix(s, "#"):
		obj, err := lookupRef(tree, s)
		if err != nil {
			return vm.Null, err
		}
		return obj.Value(), nil
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return vm.NewNumber(n), nil
	}
	return vm.NewString(s), nil
}

// parseArguments turns fields into positional arguments; name=value fields
// become named arguments.
func parseArguments(tree *vm.Tree, fields []string) (vm.Arguments, error) {
	var args vm.Arguments
	for _, f := range fields {
		name, lit, named := strings.Cut(f, "=")
		if !named || strings.HasPrefix(f, `"`) {
			v, err := parseValue(tree, f)
			if err != nil {
				return vm.Arguments{}, err
			}
			args.Ordered = append(args.Ordered, v)
			continue
		}
		v, err := parseValue(tree, lit)
		if err != nil {
			return vm.Arguments{}, err
		}
		if args.Named == nil {
			args.Named = make(map[string]vm.Value)
		}
		args.Named[name] = v
	}
	return args, nil
}

func lookupRef(tree *vm.Tree, s string) (*vm.Object, error) {
	id, err := strconv.Atoi(strings.TrimPrefix(s, "#"))
	if err != nil {
		return nil, fmt.Errorf("bad reference %s", s)
	}
	obj, ok := tree.Refs().ObjectFor(id)
	if !ok {
		return nil, fmt.Errorf("no object %s", s)
	}
	return obj, nil
}

// parseTarget splits "/type/path.Proc" into its type and proc name.
func parseTarget(s string) (vm.Path, string, error) {
	i := strings.LastIndex(s, ".")
	if i <= 0 || i == len(s)-1 || !strings.HasPrefix(s, "/") {
		return "", "", fmt.Errorf("target %q is not of the form /type/path.Proc", s)
	}
	return vm.ParsePath(s[:i]), s[i+1:], nil
}
