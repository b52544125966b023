package typemodel

import "strings"

// Signature is an ordered list of parameter types plus a return type.
// Values are immutable; every modifier returns a new Signature.
type Signature struct {
	params []*Type
	ret    *Type
}

// NewSignature builds a signature returning ret.
func NewSignature(ret *Type, params ...*Type) Signature {
	return Signature{params: append([]*Type(nil), params...), ret: ret}
}

// Params returns a copy of the parameter types.
func (s Signature) Params() []*Type {
	return append([]*Type(nil), s.params...)
}

func (s Signature) Param(i int) *Type { return s.params[i] }

func (s Signature) NumParams() int { return len(s.params) }

func (s Signature) Return() *Type { return s.ret }

// DropFirst removes the leading parameter (the receiver of a declared
// interface method).
func (s Signature) DropFirst() Signature {
	if len(s.params) == 0 {
		return s
	}
	return NewSignature(s.ret, s.params[1:]...)
}

// Prepend inserts t as the first parameter.
func (s Signature) Prepend(t *Type) Signature {
	return NewSignature(s.ret, append([]*Type{t}, s.params...)...)
}

// WithParams keeps the return type and replaces the parameters.
func (s Signature) WithParams(params ...*Type) Signature {
	return NewSignature(s.ret, params...)
}

// WithReturn keeps the parameters and replaces the return type.
func (s Signature) WithReturn(ret *Type) Signature {
	return NewSignature(ret, s.params...)
}

// Equal reports structural equality.
func (s Signature) Equal(o Signature) bool {
	if s.ret != o.ret || len(s.params) != len(o.params) {
		return false
	}
	for i := range s.params {
		if s.params[i] != o.params[i] {
			return false
		}
	}
	return true
}

// String renders the signature as "(A,B)R".
func (s Signature) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for i, p := range s.params {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(p.String())
	}
	b.WriteByte(')')
	b.WriteString(s.ret.String())
	return b.String()
}
