package recontex

import (
	"testing"

	"golang.org/x/arch/x86/x86asm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rstc/internal/addr"
	"rstc/internal/rcontext"
	"rstc/internal/virt"
)

func TestEmulateFallbackOneOperandMulWritesRaxAndRdx(t *testing.T) {
	ctx := rcontext.NewInitial(0x1000)
	ctx = ctx.SetRegister(virt.RAX, virt.Concrete(2, 8, 0))
	ctx = ctx.SetRegister(virt.RDX, virt.Concrete(9, 8, 0))

	inst := x86asm.Inst{Op: x86asm.MUL, Len: 3, Args: x86asm.Args{x86asm.RCX}}
	next := emulate(addr.Address(0x1000), inst, ctx)

	rax, ok := next.GetRegister(virt.RAX)
	require.True(t, ok)
	assert.True(t, rax.IsSymbolic())

	rdx, ok := next.GetRegister(virt.RDX)
	require.True(t, ok)
	assert.True(t, rdx.IsSymbolic())
}

func TestEmulateFallbackCmpxchgWritesDestAndAccumulator(t *testing.T) {
	ctx := rcontext.NewInitial(0x1000)
	ctx = ctx.SetRegister(virt.RAX, virt.Concrete(1, 8, 0))
	ctx = ctx.SetRegister(virt.RBX, virt.Concrete(2, 8, 0))

	inst := x86asm.Inst{Op: x86asm.CMPXCHG, Len: 3, Args: x86asm.Args{x86asm.RBX, x86asm.RCX}}
	next := emulate(addr.Address(0x1000), inst, ctx)

	rbx, ok := next.GetRegister(virt.RBX)
	require.True(t, ok)
	assert.True(t, rbx.IsSymbolic())

	rax, ok := next.GetRegister(virt.RAX)
	require.True(t, ok)
	assert.True(t, rax.IsSymbolic())
}

func TestEmulateFallbackOrdinaryUnmodelledMnemonicWritesOnlyDest(t *testing.T) {
	ctx := rcontext.NewInitial(0x1000)
	ctx = ctx.SetRegister(virt.RAX, virt.Concrete(1, 8, 0))
	ctx = ctx.SetRegister(virt.RCX, virt.Concrete(2, 8, 0))

	inst := x86asm.Inst{Op: x86asm.BSWAP, Len: 3, Args: x86asm.Args{x86asm.RAX}}
	next := emulate(addr.Address(0x1000), inst, ctx)

	rax, ok := next.GetRegister(virt.RAX)
	require.True(t, ok)
	assert.True(t, rax.IsSymbolic())

	rcx, ok := next.GetRegister(virt.RCX)
	require.True(t, ok)
	assert.False(t, rcx.IsSymbolic(), "unrelated register must be untouched by the fallback")
}
