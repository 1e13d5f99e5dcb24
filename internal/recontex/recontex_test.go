package recontex

import (
	"testing"

	"golang.org/x/arch/x86/x86asm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rstc/internal/addr"
	"rstc/internal/reflo"
	"rstc/internal/virt"
)

// buildLinearFlo assembles a straight-line Flo by hand:
//
//	entry (0x2000): xor eax, eax      -- zero idiom, must yield concrete 0
//	mov   (0x2002): mov ecx, 5        -- concrete immediate load
//	add   (0x2007): add eax, ecx      -- concrete + concrete
//	ret   (0x2009): ret
func buildLinearFlo() *reflo.Flo {
	const (
		entry addr.Address = 0x2000
		mov   addr.Address = 0x2002
		add   addr.Address = 0x2007
		ret   addr.Address = 0x2009
	)
	return &reflo.Flo{
		EntryPoint: entry,
		Instructions: map[addr.Address]x86asm.Inst{
			entry: {Op: x86asm.XOR, Len: 2, Args: x86asm.Args{x86asm.EAX, x86asm.EAX}},
			mov:   {Op: x86asm.MOV, Len: 5, Args: x86asm.Args{x86asm.ECX, x86asm.Imm(5)}},
			add:   {Op: x86asm.ADD, Len: 2, Args: x86asm.Args{x86asm.EAX, x86asm.ECX}},
			ret:   {Op: x86asm.RET, Len: 1},
		},
		Lengths:      map[addr.Address]int{entry: 2, mov: 5, add: 2, ret: 1},
		InnerJumps:   map[addr.Address][]reflo.Jump{},
		OuterJumps:   map[addr.Address][]reflo.Jump{},
		UnknownJumps: map[addr.Address][]reflo.Jump{},
		Calls:        map[addr.Address][]reflo.Call{},
		HasRet:       true,
	}
}

// buildBranchingFlo assembles a Flo with one conditional jump so the split
// into taken/not-taken Context groups can be observed:
//
//	a    (0x3000): je b        -- taken: eax stays untouched; not-taken: eax<-7
//	fill (0x3002): mov eax, 7
//	b    (0x3007): ret
func buildBranchingFlo() *reflo.Flo {
	const (
		a    addr.Address = 0x3000
		fill addr.Address = 0x3002
		b    addr.Address = 0x3007
	)
	return &reflo.Flo{
		EntryPoint: a,
		Instructions: map[addr.Address]x86asm.Inst{
			a:    {Op: x86asm.JE, Len: 2, Args: x86asm.Args{x86asm.Rel(5)}},
			fill: {Op: x86asm.MOV, Len: 5, Args: x86asm.Args{x86asm.EAX, x86asm.Imm(7)}},
			b:    {Op: x86asm.RET, Len: 1},
		},
		Lengths: map[addr.Address]int{a: 2, fill: 5, b: 1},
		InnerJumps: map[addr.Address][]reflo.Jump{
			b: {{Type: reflo.Inner, Src: a, Dst: b}},
		},
		OuterJumps:   map[addr.Address][]reflo.Jump{},
		UnknownJumps: map[addr.Address][]reflo.Jump{},
		Calls:        map[addr.Address][]reflo.Call{},
		HasRet:       true,
	}
}

// buildLoopingFlo assembles a single-block countdown loop so Propagate's
// onStack cycle detection can be exercised directly:
//
//	top  (0x4000): dec ecx
//	back (0x4002): jnz top      -- back-edge to top
//	done (0x4004): ret
func buildLoopingFlo() *reflo.Flo {
	const (
		top  addr.Address = 0x4000
		back addr.Address = 0x4002
		done addr.Address = 0x4004
	)
	return &reflo.Flo{
		EntryPoint: top,
		Instructions: map[addr.Address]x86asm.Inst{
			top:  {Op: x86asm.DEC, Len: 2, Args: x86asm.Args{x86asm.ECX}},
			back: {Op: x86asm.JNE, Len: 2, Args: x86asm.Args{x86asm.Rel(-4)}},
			done: {Op: x86asm.RET, Len: 1},
		},
		Lengths: map[addr.Address]int{top: 2, back: 2, done: 1},
		InnerJumps: map[addr.Address][]reflo.Jump{
			top: {{Type: reflo.Inner, Src: back, Dst: top}},
		},
		OuterJumps:   map[addr.Address][]reflo.Jump{},
		UnknownJumps: map[addr.Address][]reflo.Jump{},
		Calls:        map[addr.Address][]reflo.Call{},
		HasRet:       true,
	}
}

func TestPropagateXorZeroIdiom(t *testing.T) {
	f := buildLinearFlo()
	cm := Propagate(f)
	contexts := cm.At(0x2000)
	require.Len(t, contexts, 1)

	eax, ok := contexts[0].GetRegister(virt.RAX)
	require.True(t, ok)
	assert.False(t, eax.IsSymbolic())
	assert.Equal(t, uint64(0), eax.Raw())
}

func TestPropagateConcreteArithmetic(t *testing.T) {
	f := buildLinearFlo()
	cm := Propagate(f)
	contexts := cm.At(0x2009)
	require.Len(t, contexts, 1)

	eax, ok := contexts[0].GetRegister(virt.RAX)
	require.True(t, ok)
	assert.False(t, eax.IsSymbolic())
	assert.Equal(t, uint64(5), eax.Raw())
}

func TestPropagateSplitsOnConditionalJump(t *testing.T) {
	f := buildBranchingFlo()
	cm := Propagate(f)

	// The not-taken successor at fill (0x3002) ran the mov; the taken
	// successor skipped straight to ret (0x3007).
	filled := cm.At(0x3002)
	require.Len(t, filled, 1)
	eax, ok := filled[0].GetRegister(virt.RAX)
	require.True(t, ok)
	assert.Equal(t, uint64(7), eax.Raw())

	atRet := cm.At(0x3007)
	require.Len(t, atRet, 2, "both the taken and not-taken groups reach ret")
}

func TestPropagateDeterministic(t *testing.T) {
	f := buildLinearFlo()
	cm1 := Propagate(f)
	cm2 := Propagate(f)

	c1 := cm1.At(0x2009)
	c2 := cm2.At(0x2009)
	require.Len(t, c1, 1)
	require.Len(t, c2, 1)
	assert.Equal(t, c1[0].Hash(), c2[0].Hash())
}

func TestPropagateRetAdvancesConcreteRSP(t *testing.T) {
	f := buildLinearFlo()
	cm := Propagate(f)
	contexts := cm.At(0x2009)
	require.Len(t, contexts, 1)

	rsp, ok := contexts[0].GetRegister(virt.RSP)
	require.True(t, ok)
	require.False(t, rsp.IsSymbolic())
	assert.True(t, rsp.PointsToStack())
	assert.Equal(t, uint32(8), uint32(rsp.Raw()))
}

// TestPropagateLoopTerminates guards against the obvious regression: a back
// edge that isn't recognized sends walk into infinite recursion. The loop
// body never resolves to a concrete trip count (ECX starts symbolic), so the
// only way this test finishes at all is the onStack repeat-point check
// cutting the second visit to top short. The repeat visit carries the exact
// same register state as the first (nothing distinguishes iteration 1 from
// iteration 2 symbolically), so it dedups away rather than adding a second
// entry.
func TestPropagateLoopTerminates(t *testing.T) {
	f := buildLoopingFlo()
	cm := Propagate(f)

	assert.Len(t, cm.At(0x4000), 1)
	assert.Len(t, cm.At(0x4004), 1)
}
