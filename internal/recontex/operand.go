package recontex

import (
	"golang.org/x/arch/x86/x86asm"

	"rstc/internal/addr"
	"rstc/internal/rcontext"
	"rstc/internal/virt"
)

// symbolicAddressTag segregates Memory keys derived from a symbolic
// effective address from genuine concrete virtual addresses, which in a PE
// image never set this high bit. This lets a symbolic pointer's
// read-after-write pattern (e.g. `mov [rax], 5` then `mov ebx, [rax]` with
// rax symbolic) round-trip through the same Memory store a concrete
// address would, which Restruc's field-inference pass relies on.
const symbolicAddressTag uint64 = 1 << 63

func addressKey(v virt.Value) uint64 {
	if v.IsSymbolic() {
		return symbolicAddressTag | v.SymbolID()
	}
	return v.Raw()
}

// operandSize reports the width, in bytes, of a decoded argument: a
// register's own alias width, a memory operand's MemBytes, or 8 as a
// fallback for immediates and anything else this analyzer doesn't need to
// size precisely.
func operandSize(arg x86asm.Arg, inst x86asm.Inst) uint8 {
	switch t := arg.(type) {
	case x86asm.Reg:
		if _, width, ok := virt.RootOf(t); ok {
			return width
		}
		return 8
	case x86asm.Mem:
		if inst.MemBytes > 0 {
			return uint8(inst.MemBytes)
		}
		return 8
	default:
		return 8
	}
}

// effectiveAddressOf resolves a decoded memory operand to a virt.Value via
// virt.EffectiveAddress, looking up base/index register values in ctx.
func effectiveAddressOf(m x86asm.Mem, inst x86asm.Inst, ctx *rcontext.Context, a addr.Address) virt.Value {
	op := virt.MemOperand{Scale: uint8(m.Scale), Disp: m.Disp}
	if m.Base == x86asm.RIP {
		op.IsRIPRelative = true
	} else {
		if m.Base != 0 {
			if root, _, ok := virt.RootOf(m.Base); ok {
				if v, ok := ctx.GetRegister(root); ok {
					op.Base = &v
					op.BaseIsRSP = root == virt.RSP
				}
			}
		}
		if m.Index != 0 {
			if root, _, ok := virt.RootOf(m.Index); ok {
				if v, ok := ctx.GetRegister(root); ok {
					op.Index = &v
				}
			}
		}
	}
	return virt.EffectiveAddress(op, a, operandSize(m, inst))
}

// readOperand resolves arg's current value under ctx: a register's tracked
// value, a memory operand's effective address followed by an (ambiguous ->
// fresh symbolic) Memory lookup, or an immediate's literal value.
func readOperand(arg x86asm.Arg, inst x86asm.Inst, ctx *rcontext.Context, a addr.Address) virt.Value {
	switch t := arg.(type) {
	case x86asm.Reg:
		root, width, ok := virt.RootOf(t)
		if !ok {
			return virt.Symbolic(a, 8)
		}
		v, ok := ctx.GetRegister(root)
		if !ok {
			return virt.Symbolic(a, width)
		}
		return v.WithSize(width)
	case x86asm.Mem:
		size := operandSize(arg, inst)
		addrVal := effectiveAddressOf(t, inst, ctx, a)
		mv := ctx.GetMemory(addressKey(addrVal), size)
		if len(mv.Values) == 1 {
			return mv.Values[0].WithSize(size).WithSource(a)
		}
		return virt.Symbolic(a, size)
	case x86asm.Imm:
		return virt.Concrete(uint64(t), 8, a)
	default:
		return virt.Symbolic(a, 8)
	}
}

// writeOperand stores v into arg under ctx: a register write goes through
// MoveMasked's sub-register masking rule, a memory write records against
// the operand's effective address, and anything else (immediates, direct
// jump/call targets) is not a writable destination and simply forks ctx
// unchanged.
func writeOperand(arg x86asm.Arg, inst x86asm.Inst, ctx *rcontext.Context, a addr.Address, v virt.Value) *rcontext.Context {
	switch t := arg.(type) {
	case x86asm.Reg:
		root, width, ok := virt.RootOf(t)
		if !ok {
			return ctx.Fork(rcontext.Same)
		}
		old, _ := ctx.GetRegister(root)
		merged := virt.MoveMasked(old, v.WithSize(width), a)
		return ctx.SetRegister(root, merged)
	case x86asm.Mem:
		addrVal := effectiveAddressOf(t, inst, ctx, a)
		return ctx.SetMemory(addressKey(addrVal), v.WithSource(a))
	default:
		return ctx.Fork(rcontext.Same)
	}
}

// signExtend sign-extends the low fromSize bytes of v to a full int64.
func signExtend(v uint64, fromSize uint8) int64 {
	if fromSize == 0 || fromSize >= 8 {
		return int64(v)
	}
	bits := uint(fromSize) * 8
	shift := 64 - bits
	return int64(v<<shift) >> shift
}
