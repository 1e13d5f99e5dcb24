package recontex

import (
	"golang.org/x/arch/x86/x86asm"

	"rstc/internal/addr"
	"rstc/internal/rcontext"
	"rstc/internal/reflo"
	"rstc/internal/virt"
)

// emulate applies the effect of inst at address a to ctx, returning the
// resulting child Context. It implements the emulation contract exactly:
// anything outside the listed mnemonics falls back to assigning a fresh
// symbolic value to every operand the instruction writes (see
// writeTargets), defaulting to the conventional destination operand
// (Args[0], per this decoder's "Intel order: dest, src" convention).
func emulate(a addr.Address, inst x86asm.Inst, ctx *rcontext.Context) *rcontext.Context {
	switch inst.Op {
	case x86asm.MOV, x86asm.MOVZX, x86asm.MOVSX, x86asm.MOVSXD:
		return emulateMove(a, inst, ctx)
	case x86asm.ADD, x86asm.SUB, x86asm.OR, x86asm.AND, x86asm.XOR, x86asm.IMUL:
		return emulateArith(a, inst, ctx)
	case x86asm.LEA:
		return emulateLEA(a, inst, ctx)
	case x86asm.PUSH:
		return emulatePush(a, inst, ctx)
	case x86asm.POP:
		return emulatePop(a, inst, ctx)
	case x86asm.INC:
		return emulateIncDec(a, inst, ctx, 1)
	case x86asm.DEC:
		return emulateIncDec(a, inst, ctx, -1)
	default:
		if reflo.IsCall(inst.Op) {
			return emulateCall(a, ctx)
		}
		return emulateFallback(a, inst, ctx)
	}
}

func emulateMove(a addr.Address, inst x86asm.Inst, ctx *rcontext.Context) *rcontext.Context {
	if len(inst.Args) < 2 || inst.Args[0] == nil || inst.Args[1] == nil {
		return ctx.Fork(rcontext.Same)
	}
	dst, src := inst.Args[0], inst.Args[1]
	dstSize := operandSize(dst, inst)
	srcVal := readOperand(src, inst, ctx, a)

	var result virt.Value
	switch inst.Op {
	case x86asm.MOVZX:
		result = srcVal.WithSize(dstSize).WithSource(a)
	case x86asm.MOVSX, x86asm.MOVSXD:
		if srcVal.IsSymbolic() {
			result = virt.Symbolic(a, dstSize)
		} else {
			result = virt.Concrete(uint64(signExtend(srcVal.Raw(), srcVal.Size())), dstSize, a)
		}
	default: // MOV
		result = srcVal.WithSize(dstSize).WithSource(a)
	}
	return writeOperand(dst, inst, ctx, a, result)
}

func emulateArith(a addr.Address, inst x86asm.Inst, ctx *rcontext.Context) *rcontext.Context {
	if len(inst.Args) < 2 || inst.Args[0] == nil || inst.Args[1] == nil {
		// 1-operand IMUL and other unusual encodings: treat like any other
		// unmodelled instruction rather than guessing at implicit operands.
		return emulateFallback(a, inst, ctx)
	}
	dst, src := inst.Args[0], inst.Args[1]
	size := operandSize(dst, inst)

	if inst.Op == x86asm.XOR {
		if r0, ok0 := dst.(x86asm.Reg); ok0 {
			if r1, ok1 := src.(x86asm.Reg); ok1 && r0 == r1 {
				// The standard XOR reg,reg zero idiom: concrete zero
				// regardless of the register's prior symbolic state.
				return writeOperand(dst, inst, ctx, a, virt.Concrete(0, size, a))
			}
		}
	}

	dstVal := readOperand(dst, inst, ctx, a)
	srcVal := readOperand(src, inst, ctx, a)

	var result virt.Value
	switch inst.Op {
	case x86asm.ADD:
		result = virt.ApplyAdditive(dstVal, srcVal, false, size, a)
	case x86asm.SUB:
		result = virt.ApplyAdditive(dstVal, srcVal, true, size, a)
	case x86asm.OR:
		result = virt.ApplyGeneric(virt.Or64, dstVal, srcVal, size, a)
	case x86asm.AND:
		result = virt.ApplyGeneric(virt.And64, dstVal, srcVal, size, a)
	case x86asm.XOR:
		result = virt.ApplyGeneric(virt.Xor64, dstVal, srcVal, size, a)
	case x86asm.IMUL:
		result = virt.ApplyGeneric(virt.IMul64, dstVal, srcVal, size, a)
	}
	return writeOperand(dst, inst, ctx, a, result)
}

func emulateLEA(a addr.Address, inst x86asm.Inst, ctx *rcontext.Context) *rcontext.Context {
	if len(inst.Args) < 2 || inst.Args[0] == nil || inst.Args[1] == nil {
		return ctx.Fork(rcontext.Same)
	}
	mem, ok := inst.Args[1].(x86asm.Mem)
	if !ok {
		return ctx.Fork(rcontext.Same)
	}
	dstSize := operandSize(inst.Args[0], inst)
	addrVal := effectiveAddressOf(mem, inst, ctx, a)
	return writeOperand(inst.Args[0], inst, ctx, a, addrVal.WithSize(dstSize).WithSource(a))
}

func emulatePush(a addr.Address, inst x86asm.Inst, ctx *rcontext.Context) *rcontext.Context {
	rsp, ok := ctx.GetRegister(virt.RSP)
	if !ok || rsp.IsSymbolic() || len(inst.Args) == 0 || inst.Args[0] == nil {
		return ctx.Fork(rcontext.Same)
	}
	val := readOperand(inst.Args[0], inst, ctx, a)
	newRSP := virt.AdjustStack(rsp, -8, a)
	next := ctx.SetRegister(virt.RSP, newRSP)
	return next.SetMemory(addressKey(newRSP), val.WithSource(a))
}

func emulatePop(a addr.Address, inst x86asm.Inst, ctx *rcontext.Context) *rcontext.Context {
	rsp, ok := ctx.GetRegister(virt.RSP)
	if !ok || rsp.IsSymbolic() || len(inst.Args) == 0 || inst.Args[0] == nil {
		return ctx.Fork(rcontext.Same)
	}
	mv := ctx.GetMemory(addressKey(rsp), 8)
	var popped virt.Value
	if len(mv.Values) == 1 {
		popped = mv.Values[0].WithSource(a)
	} else {
		popped = virt.Symbolic(a, 8)
	}
	next := writeOperand(inst.Args[0], inst, ctx, a, popped)
	newRSP := virt.AdjustStack(rsp, 8, a)
	return next.SetRegister(virt.RSP, newRSP)
}

func emulateCall(a addr.Address, ctx *rcontext.Context) *rcontext.Context {
	child := ctx.Fork(rcontext.Caller)
	for _, reg := range virt.VolatileRegisters {
		child = child.SetRegister(reg, virt.Symbolic(a, 8))
	}
	return child
}

func emulateRet(a addr.Address, ctx *rcontext.Context) *rcontext.Context {
	rsp, ok := ctx.GetRegister(virt.RSP)
	if ok && !rsp.IsSymbolic() {
		return ctx.SetRegister(virt.RSP, virt.Increment(rsp, 8, a))
	}
	return ctx.Fork(rcontext.Same)
}

func emulateIncDec(a addr.Address, inst x86asm.Inst, ctx *rcontext.Context, delta int64) *rcontext.Context {
	if len(inst.Args) == 0 || inst.Args[0] == nil {
		return ctx.Fork(rcontext.Same)
	}
	v := readOperand(inst.Args[0], inst, ctx, a)
	return writeOperand(inst.Args[0], inst, ctx, a, virt.Increment(v, delta, a))
}

func emulateFallback(a addr.Address, inst x86asm.Inst, ctx *rcontext.Context) *rcontext.Context {
	targets := writeTargets(inst)
	if len(targets) == 0 {
		return ctx.Fork(rcontext.Same)
	}
	for _, dst := range targets {
		fresh := virt.Symbolic(a, operandSize(dst, inst))
		ctx = writeOperand(dst, inst, ctx, a, fresh)
	}
	return ctx
}

// writeTargets enumerates every operand an unmodelled instruction writes, per
// the emulation contract's "fresh symbolic value to every operand with the
// Write action" fallback rule. x86asm doesn't expose per-operand read/write
// flags, so mnemonics with implicit write destinations beyond Args[0] are
// special-cased here; everything else keeps the ordinary "Args[0] is dest"
// convention this decoder's Intel-order output follows.
func writeTargets(inst x86asm.Inst) []x86asm.Arg {
	switch inst.Op {
	case x86asm.MUL, x86asm.IMUL, x86asm.DIV, x86asm.IDIV:
		if inst.Args[0] != nil && inst.Args[1] == nil {
			return muldivTargets(operandSize(inst.Args[0], inst))
		}
	case x86asm.CMPXCHG:
		if len(inst.Args) >= 1 && inst.Args[0] != nil {
			return []x86asm.Arg{inst.Args[0], accumulatorFor(operandSize(inst.Args[0], inst))}
		}
	}
	if len(inst.Args) == 0 || inst.Args[0] == nil {
		return nil
	}
	return []x86asm.Arg{inst.Args[0]}
}

// muldivTargets returns the implicit accumulator:remainder register pair a
// one-operand MUL/IMUL/DIV/IDIV writes, sized to its single explicit operand.
func muldivTargets(size uint8) []x86asm.Arg {
	switch size {
	case 1:
		return []x86asm.Arg{x86asm.AX}
	case 2:
		return []x86asm.Arg{x86asm.DX, x86asm.AX}
	case 4:
		return []x86asm.Arg{x86asm.EDX, x86asm.EAX}
	default:
		return []x86asm.Arg{x86asm.RDX, x86asm.RAX}
	}
}

// accumulatorFor returns the A-register CMPXCHG compares against and
// (on mismatch) overwrites, sized to match its explicit destination operand.
func accumulatorFor(size uint8) x86asm.Arg {
	switch size {
	case 1:
		return x86asm.AL
	case 2:
		return x86asm.AX
	case 4:
		return x86asm.EAX
	default:
		return x86asm.RAX
	}
}
