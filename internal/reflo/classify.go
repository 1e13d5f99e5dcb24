package reflo

import (
	"golang.org/x/arch/x86/x86asm"

	"rstc/internal/addr"
)

// IsConditionalJump reports whether op is one of the Jcc/LOOPcc mnemonics.
// Exported for reuse by internal/cfgpath, which re-derives basic-block
// boundaries from the same decoded instructions Reflo already classified.
func IsConditionalJump(op x86asm.Op) bool {
	switch op {
	case x86asm.JA, x86asm.JAE, x86asm.JB, x86asm.JBE, x86asm.JCXZ, x86asm.JECXZ,
		x86asm.JE, x86asm.JG, x86asm.JGE, x86asm.JL, x86asm.JLE, x86asm.JNE,
		x86asm.JNO, x86asm.JNP, x86asm.JNS, x86asm.JO, x86asm.JP, x86asm.JRCXZ, x86asm.JS,
		x86asm.LOOP, x86asm.LOOPE, x86asm.LOOPNE:
		return true
	}
	return false
}

// IsUnconditionalJump reports whether op is JMP.
func IsUnconditionalJump(op x86asm.Op) bool {
	return op == x86asm.JMP
}

// IsAnyJump reports whether op is any conditional or unconditional jump.
func IsAnyJump(op x86asm.Op) bool {
	return IsConditionalJump(op) || IsUnconditionalJump(op)
}

// IsCall reports whether op is CALL.
func IsCall(op x86asm.Op) bool {
	return op == x86asm.CALL
}

// IsRet reports whether op is RET.
func IsRet(op x86asm.Op) bool {
	return op == x86asm.RET
}

// RelTarget returns the jump/call destination for inst located at address,
// if its first argument is a direct, PC-relative operand, and whether one
// was found at all (false for register/memory-indirect branches, which
// static analysis cannot resolve).
func RelTarget(address addr.Address, inst x86asm.Inst) (addr.Address, bool) {
	if len(inst.Args) == 0 || inst.Args[0] == nil {
		return addr.Nil, false
	}
	rel, ok := inst.Args[0].(x86asm.Rel)
	if !ok {
		return addr.Nil, false
	}
	return address.Add(int64(inst.Len) + int64(rel)), true
}
