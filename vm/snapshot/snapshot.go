// Package snapshot serializes the per-instance state of objects as canonical
// CBOR. Object-valued variables are written as reference IDs together with
// the epoch of the RefTable that issued them; a snapshot holding references
// can only be applied against that same table.
package snapshot

import (
	"errors"
	"fmt"
	"sort"

	"github.com/chazu/dreamcore/vm"
	"github.com/fxamacker/cbor/v2"
)

// Version is written into every Record.
const Version = 2

// ErrDanglingReference is returned by Apply for a reference ID that no live
// object holds, or that was issued by a different RefTable.
var ErrDanglingReference = errors.New("snapshot: reference to unknown object")

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("snapshot: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Record is the encoded state of one object: its type and its overrides.
// Epoch is set only when Vars hold object references.
type Record struct {
	Version uint8            `cbor:"1,keyasint"`
	Type    string           `cbor:"2,keyasint"`
	Vars    map[string]Datum `cbor:"3,keyasint,omitempty"`
	Epoch   string           `cbor:"4,keyasint,omitempty"`
}

// Datum is one encoded Value.
type Datum struct {
	Kind vm.Kind `cbor:"1,keyasint"`
	Num  float64 `cbor:"2,keyasint,omitempty"`
	Str  string  `cbor:"3,keyasint,omitempty"` // text or path
	Ref  int     `cbor:"4,keyasint,omitempty"` // reference ID
	List []Datum `cbor:"5,keyasint,omitempty"`
}

// Encode captures obj's overrides. Every referenced object is given a
// reference ID in refs; references to deleted objects are written as null.
func Encode(obj *vm.Object, refs *vm.RefTable) ([]byte, error) {
	vars, err := obj.Overrides()
	if err != nil {
		return nil, err
	}
	rec := Record{
		Version: Version,
		Type:    string(obj.Type()),
		Vars:    make(map[string]Datum, len(vars)),
	}
	enc := encoder{refs: refs}
	for name, v := range vars {
		d, err := enc.value(v)
		if err != nil {
			return nil, fmt.Errorf("snapshot: %s.%s: %w", rec.Type, name, err)
		}
		rec.Vars[name] = d
	}
	if enc.referenced {
		rec.Epoch = refs.Epoch().String()
	}
	return cborEncMode.Marshal(&rec)
}

// Decode parses a snapshot without applying it.
func Decode(data []byte) (*Record, error) {
	var rec Record
	if err := cbor.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("snapshot: unmarshal record: %w", err)
	}
	if rec.Version != Version {
		return nil, fmt.Errorf("snapshot: unsupported version %d", rec.Version)
	}
	return &rec, nil
}

// Apply restores a snapshot onto obj. When the snapshot names obj's type
// the recorded overrides are assigned with Set and any others are unset, so
// hooks observe them and reference counts are kept; otherwise obj is
// replaced in place by an instance of the recorded type. Either way obj ends
// up with exactly the recorded overrides.
//
// A snapshot holding object references fails with ErrDanglingReference
// unless refs is the table it was encoded against.
func Apply(obj *vm.Object, data []byte, refs *vm.RefTable) error {
	rec, err := Decode(data)
	if err != nil {
		return err
	}
	if rec.Epoch != "" && rec.Epoch != refs.Epoch().String() {
		return fmt.Errorf("%w: %s was saved with references from another session", ErrDanglingReference, rec.Type)
	}
	vars := make(map[string]vm.Value, len(rec.Vars))
	for name, d := range rec.Vars {
		v, err := decodeValue(d, refs)
		if err != nil {
			return fmt.Errorf("snapshot: %s.%s: %w", rec.Type, name, err)
		}
		vars[name] = v
	}

	if obj.Deleted() {
		return fmt.Errorf("snapshot: %w", vm.ErrObjectDeleted)
	}
	path := vm.Path(rec.Type)
	if obj.Type() != path {
		def, err := obj.Tree().Definition(path)
		if err != nil {
			return fmt.Errorf("snapshot: %w", err)
		}
		return obj.Replace(def, vars)
	}
	current, err := obj.VariableNames()
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	// recorded values are retained before stale overrides release theirs
	for _, name := range sortedNames(vars) {
		if err := obj.Set(name, vars[name]); err != nil {
			return fmt.Errorf("snapshot: %w", err)
		}
	}
	for _, name := range current {
		if _, ok := vars[name]; ok {
			continue
		}
		if err := obj.Unset(name); err != nil {
			return fmt.Errorf("snapshot: %w", err)
		}
	}
	return nil
}

type encoder struct {
	refs       *vm.RefTable
	referenced bool // an object reference was written
}

func (e *encoder) value(v vm.Value) (Datum, error) {
	switch v.Kind() {
	case vm.KindNumber:
		n, _ := v.AsNumber()
		return Datum{Kind: vm.KindNumber, Num: n}, nil
	case vm.KindString:
		s, _ := v.AsString()
		return Datum{Kind: vm.KindString, Str: s}, nil
	case vm.KindPath:
		p, _ := v.AsPath()
		return Datum{Kind: vm.KindPath, Str: string(p)}, nil
	case vm.KindObject:
		obj, _ := v.AsObject()
		if obj.Deleted() {
			return Datum{Kind: vm.KindNull}, nil
		}
		id, err := e.refs.IDFor(obj)
		if err != nil {
			return Datum{}, err
		}
		e.referenced = true
		return Datum{Kind: vm.KindObject, Ref: id}, nil
	case vm.KindList:
		l, _ := v.AsList()
		items := l.Values()
		d := Datum{Kind: vm.KindList, List: make([]Datum, len(items))}
		for i, item := range items {
			enc, err := e.value(item)
			if err != nil {
				return Datum{}, err
			}
			d.List[i] = enc
		}
		return d, nil
	}
	return Datum{Kind: vm.KindNull}, nil
}

func decodeValue(d Datum, refs *vm.RefTable) (vm.Value, error) {
	switch d.Kind {
	case vm.KindNull:
		return vm.Null, nil
	case vm.KindNumber:
		return vm.NewNumber(d.Num), nil
	case vm.KindString:
		return vm.NewString(d.Str), nil
	case vm.KindPath:
		return vm.NewPathValue(vm.Path(d.Str)), nil
	case vm.KindObject:
		obj, ok := refs.ObjectFor(d.Ref)
		if !ok {
			return vm.Null, fmt.Errorf("%w: id %d", ErrDanglingReference, d.Ref)
		}
		return obj.Value(), nil
	case vm.KindList:
		items := make([]vm.Value, len(d.List))
		for i, item := range d.List {
			v, err := decodeValue(item, refs)
			if err != nil {
				return vm.Null, err
			}
			items[i] = v
		}
		return vm.NewListValue(vm.NewList(items...)), nil
	}
	return vm.Null, fmt.Errorf("unknown value kind %d", d.Kind)
}

func sortedNames(vars map[string]vm.Value) []string {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
