package cfgpath

import (
	"testing"

	"golang.org/x/arch/x86/x86asm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rstc/internal/addr"
	"rstc/internal/reflo"
	"rstc/internal/rerr"
)

// buildSyntheticFlo assembles a Flo by hand (bypassing the decoder) for a
// small CFG with one branch, one loop, and one edge that OptimalCoverage
// should prove useless:
//
//	A    (0x1000): je E ; fallthrough                -- A->E is useless (B->C->E also reaches E)
//	fill (0x1002): mov ...                           -- ordinary instruction, head of node B
//	bjmp (0x1007): jmp C
//	C    (0x1010): je fill ; fallthrough E            -- C->B is the loop edge
//	E    (0x1012): ret
func buildSyntheticFlo() *reflo.Flo {
	const (
		a    addr.Address = 0x1000
		fill addr.Address = 0x1002
		bjmp addr.Address = 0x1007
		c    addr.Address = 0x1010
		e    addr.Address = 0x1012
	)
	f := &reflo.Flo{
		EntryPoint: a,
		Instructions: map[addr.Address]x86asm.Inst{
			a:    {Op: x86asm.JE, Len: 2},
			fill: {Op: x86asm.MOV, Len: 5},
			bjmp: {Op: x86asm.JMP, Len: 5},
			c:    {Op: x86asm.JE, Len: 2},
			e:    {Op: x86asm.RET, Len: 1},
		},
		Lengths: map[addr.Address]int{a: 2, fill: 5, bjmp: 5, c: 2, e: 1},
		InnerJumps: map[addr.Address][]reflo.Jump{
			e:    {{Type: reflo.Inner, Src: a, Dst: e}},
			c:    {{Type: reflo.Inner, Src: bjmp, Dst: c}},
			fill: {{Type: reflo.Inner, Src: c, Dst: fill}},
		},
		OuterJumps:   map[addr.Address][]reflo.Jump{},
		UnknownJumps: map[addr.Address][]reflo.Jump{},
		Calls:        map[addr.Address][]reflo.Call{},
		HasRet:       true,
	}
	return f
}

func TestCoverageDetectsLoopEdge(t *testing.T) {
	f := buildSyntheticFlo()
	paths, err := Coverage(f)
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	require.Len(t, f.BackEdges, 1)
	assert.Equal(t, reflo.Edge{Src: 0x1010, Dst: 0x1002}, f.BackEdges[0])
}

func TestCoverageSkipsUselessEdge(t *testing.T) {
	f := buildSyntheticFlo()
	paths, err := Coverage(f)
	require.NoError(t, err)

	for _, p := range paths {
		for _, step := range p {
			if step.Source == addr.Address(0x1000) {
				assert.False(t, step.Taken, "A's direct jump to E is useless and must never be taken")
			}
		}
	}
}

func TestCoverageEveryPathTerminates(t *testing.T) {
	f := buildSyntheticFlo()
	paths, err := Coverage(f)
	require.NoError(t, err)
	for i, p := range paths {
		assert.NotEmpty(t, p, "path %d must record at least one decision", i)
	}
}

func TestCoverageUnresolvedControlFlowAborts(t *testing.T) {
	f := buildSyntheticFlo()
	f.HasUnresolvedJump = true
	_, err := Coverage(f)
	require.Error(t, err)
	assert.Equal(t, rerr.UnresolvedControlFlow, rerr.KindOf(err))
}
