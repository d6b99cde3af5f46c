package customctx

import (
	"fmt"
)

// Kind is the declared type of a parameter's value.
type Kind int

const (
	KindString Kind = iota + 1
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Param is one of the closed set of custom context parameters.
type Param int

const (
	RequestID Param = iota + 1
	CorrelationID
	TrafficType
	TrafficColor
)

var paramKeys = map[Param]string{
	RequestID:     "REQUEST_ID",
	CorrelationID: "CORRELATION_ID",
	TrafficType:   "x-traffic-type",
	TrafficColor:  "x-traffic-color",
}

var paramKinds = map[Param]Kind{
	RequestID:     KindString,
	CorrelationID: KindString,
	TrafficType:   KindString,
	TrafficColor:  KindString,
}

// Params returns every parameter in declaration order.
func Params() []Param {
	return []Param{RequestID, CorrelationID, TrafficType, TrafficColor}
}

// Key returns the parameter key, also used as the diagnostic context key.
func (p Param) Key() string {
	return paramKeys[p]
}

// Kind returns the declared value kind.
func (p Param) Kind() Kind {
	return paramKinds[p]
}

// Valid reports whether p belongs to the closed set.
func (p Param) Valid() bool {
	_, ok := paramKeys[p]
	return ok && p.Key() != ""
}

func (p Param) String() string {
	if k := p.Key(); k != "" {
		return k
	}
	return fmt.Sprintf("param(%d)", int(p))
}

// ParseParam resolves a parameter from its key.
func ParseParam(key string) (Param, error) {
	for p, k := range paramKeys {
		if k == key {
			return p, nil
		}
	}
	return 0, &InvalidKeyError{Key: key}
}

// Value is a tagged custom context value.
type Value struct {
	kind Kind
	str  string
	obj  any
}

// StringValue wraps a string.
func StringValue(s string) Value {
	return Value{kind: KindString, str: s}
}

// ObjectValue wraps an arbitrary value. A string argument still yields an
// object-kind value.
func ObjectValue(v any) Value {
	return Value{kind: KindObject, obj: v}
}

// Kind returns the tag of v. The zero Value has kind 0.
func (v Value) Kind() Kind {
	return v.kind
}

// IsZero reports whether v was never assigned.
func (v Value) IsZero() bool {
	return v.kind == 0
}

// Str returns the string payload of a string-kind value.
func (v Value) Str() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

// Object returns the payload of an object-kind value.
func (v Value) Object() (any, bool) {
	if v.kind != KindObject {
		return nil, false
	}
	return v.obj, true
}

// Interface returns the payload regardless of kind.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindObject:
		return v.obj
	default:
		return nil
	}
}

func (v Value) String() string {
	return fmt.Sprintf("%v", v.Interface())
}

// Map is the typed content of a custom context.
type Map map[Param]Value
