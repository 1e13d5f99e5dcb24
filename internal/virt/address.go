package virt

import (
	"rstc/internal/addr"
	"rstc/internal/hashutil"
)

// MemOperand is the subset of a decoded memory operand's addressing
// components the effective-address computation needs: an optional base and
// index register value, a scale, and a displacement.
type MemOperand struct {
	Base    *Value // nil if no base register
	Index   *Value // nil if no index register
	Scale   uint8
	Disp    int64
	BaseIsRSP bool // true when the base register is RSP, for stack tagging
	IsRIPRelative bool
}

// EffectiveAddress computes the effective address of a memory operand per
// §4.3: if base and index are both concrete (or absent), the result is a
// concrete address; if either is symbolic, the result is a symbolic value
// whose id is a deterministic hash-combine of the symbolic components. The
// combining order is fixed as: base symbol id, base offset, index symbol
// id, index offset, scale, displacement — combined left to right, resolving
// the open question in §9's design notes.
//
// RIP-relative operands always yield a symbolic address, since this
// analyzer does not resolve PC-relative data (§4.3).
func EffectiveAddress(op MemOperand, source addr.Address, size uint8) Value {
	if op.IsRIPRelative {
		return Symbolic(source, size)
	}

	baseConcrete := op.Base == nil || !op.Base.IsSymbolic()
	indexConcrete := op.Index == nil || !op.Index.IsSymbolic()

	if baseConcrete && indexConcrete {
		var base, index uint64
		if op.Base != nil {
			base = op.Base.Raw()
		}
		if op.Index != nil {
			index = op.Index.Raw()
		}
		result := Concrete(base+index*uint64(op.Scale)+uint64(op.Disp), size, source)
		if op.BaseIsRSP && op.Base != nil && uint32(op.Base.Raw()>>32) == StackMagic {
			result = Concrete(result.value|uint64(StackMagic)<<32, size, source)
		}
		return result
	}

	var h uint64
	if op.Base != nil && op.Base.IsSymbolic() {
		h = hashutil.CombineAll(h, op.Base.SymbolID(), uint64(op.Base.SymbolOffset()))
	} else {
		h = hashutil.CombineAll(h, 0, 0)
	}
	if op.Index != nil && op.Index.IsSymbolic() {
		h = hashutil.CombineAll(h, op.Index.SymbolID(), uint64(op.Index.SymbolOffset()))
	} else {
		h = hashutil.CombineAll(h, 0, 0)
	}
	h = hashutil.CombineAll(h, uint64(op.Scale), uint64(op.Disp))

	return SymbolicID(h, 0, source, size)
}
