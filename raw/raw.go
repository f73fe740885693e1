// Package raw holds the low-level PDF object model: the eight object
// types of the PDF spec plus indirect references, and the flat document
// container produced by the parser and consumed by the writer.
package raw

import "fmt"

// ObjectRef uniquely identifies an indirect PDF object.
type ObjectRef struct {
	Num int
	Gen int
}

func (r ObjectRef) String() string { return fmt.Sprintf("%d %d R", r.Num, r.Gen) }

// Object is the base interface for all raw PDF objects.
type Object interface {
	Type() string
}

// Name object.
type Name struct{ Val string }

func (Name) Type() string { return "name" }

// Number object. Integers and reals are distinguished so the writer can
// round-trip them without reformatting.
type Number struct {
	I     int64
	F     float64
	IsInt bool
}

func (Number) Type() string { return "number" }

func (n Number) Float() float64 {
	if n.IsInt {
		return float64(n.I)
	}
	return n.F
}

// Bool object.
type Bool struct{ V bool }

func (Bool) Type() string { return "boolean" }

// Null object.
type Null struct{}

func (Null) Type() string { return "null" }

// String object, literal or hex.
type String struct {
	Bytes []byte
	Hex   bool
}

func (String) Type() string { return "string" }

// Array object.
type Array struct{ Items []Object }

func (*Array) Type() string { return "array" }

func (a *Array) Len() int { return len(a.Items) }

func (a *Array) Get(i int) (Object, bool) {
	if i < 0 || i >= len(a.Items) {
		return nil, false
	}
	return a.Items[i], true
}

func (a *Array) Append(items ...Object) { a.Items = append(a.Items, items...) }

// Dict object. Key order is not significant; the writer sorts keys.
type Dict struct{ KV map[string]Object }

func (*Dict) Type() string { return "dict" }

func NewDict() *Dict { return &Dict{KV: make(map[string]Object)} }

func (d *Dict) Get(key string) (Object, bool) {
	if d == nil || d.KV == nil {
		return nil, false
	}
	o, ok := d.KV[key]
	return o, ok
}

func (d *Dict) Set(key string, value Object) {
	if d.KV == nil {
		d.KV = make(map[string]Object)
	}
	d.KV[key] = value
}

func (d *Dict) Delete(key string) {
	if d.KV != nil {
		delete(d.KV, key)
	}
}

func (d *Dict) Len() int { return len(d.KV) }

// Clone returns a shallow copy: values are shared, the key set is not.
func (d *Dict) Clone() *Dict {
	out := &Dict{KV: make(map[string]Object, len(d.KV))}
	for k, v := range d.KV {
		out.KV[k] = v
	}
	return out
}

// Name returns the value of a name-typed entry.
func (d *Dict) Name(key string) (string, bool) {
	if v, ok := d.Get(key); ok {
		if n, ok := v.(Name); ok {
			return n.Val, true
		}
	}
	return "", false
}

// Int returns the value of an integer-typed entry.
func (d *Dict) Int(key string) (int64, bool) {
	if v, ok := d.Get(key); ok {
		if n, ok := v.(Number); ok && n.IsInt {
			return n.I, true
		}
	}
	return 0, false
}

// Stream object. Data holds the stream payload exactly as stored in the
// file (still encoded); decoding is the filters package's concern.
type Stream struct {
	Dict *Dict
	Data []byte
}

func (*Stream) Type() string { return "stream" }

// Ref is an indirect object reference.
type Ref struct{ R ObjectRef }

func (Ref) Type() string { return "ref" }

// Constructors used throughout the parser and writer.
func NameOf(v string) Name           { return Name{Val: v} }
func Int(i int64) Number             { return Number{I: i, IsInt: true} }
func Real(f float64) Number          { return Number{F: f} }
func NewArray(items ...Object) *Array { return &Array{Items: items} }
func NewStream(dict *Dict, data []byte) *Stream { return &Stream{Dict: dict, Data: data} }
func NewRef(num, gen int) Ref        { return Ref{R: ObjectRef{Num: num, Gen: gen}} }

// Document is the flat container for a parsed PDF.
type Document struct {
	Objects map[ObjectRef]Object
	Trailer *Dict
	Version string // header version, e.g. "1.7"
}

// Resolve follows indirect references until a direct object is reached.
// Missing targets resolve to Null.
func (d *Document) Resolve(obj Object) Object {
	for i := 0; i < 32; i++ { // reference chains are short in practice
		ref, ok := obj.(Ref)
		if !ok {
			return obj
		}
		target, ok := d.Objects[ref.R]
		if !ok {
			// Generation mismatches occur in repaired files; retry gen 0.
			target, ok = d.Objects[ObjectRef{Num: ref.R.Num}]
			if !ok {
				return Null{}
			}
		}
		obj = target
	}
	return Null{}
}

// ResolveDict resolves obj and asserts a dictionary.
func (d *Document) ResolveDict(obj Object) (*Dict, bool) {
	dict, ok := d.Resolve(obj).(*Dict)
	return dict, ok
}

// ResolveArray resolves obj and asserts an array.
func (d *Document) ResolveArray(obj Object) (*Array, bool) {
	arr, ok := d.Resolve(obj).(*Array)
	return arr, ok
}

// MaxObjNum returns the highest allocated object number.
func (d *Document) MaxObjNum() int {
	max := 0
	for ref := range d.Objects {
		if ref.Num > max {
			max = ref.Num
		}
	}
	return max
}
