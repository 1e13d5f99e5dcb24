package dumper

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rstc/internal/restruc"
)

func TestDumpFlatStructAscendingOffsets(t *testing.T) {
	s := restruc.NewStruc("t")
	s.AddIntField(4, 4, true, 1)
	s.AddIntField(0, 4, true, 1)

	var out strings.Builder
	require.NoError(t, Dump(&out, []*restruc.Struc{s}))

	text := out.String()
	assert.True(t, strings.Index(text, "field_0000") < strings.Index(text, "field_0004"),
		"fields must be emitted in ascending offset order regardless of insertion order")
}

func TestDumpEmitsPaddingForGap(t *testing.T) {
	s := restruc.NewStruc("t")
	s.AddIntField(0, 4, true, 1)
	s.AddIntField(8, 4, true, 1)

	var out strings.Builder
	require.NoError(t, Dump(&out, []*restruc.Struc{s}))

	assert.Contains(t, out.String(), "_padding_0004[0x4];")
}

func TestDumpOmitsPaddingWhenContiguous(t *testing.T) {
	s := restruc.NewStruc("t")
	s.AddIntField(0, 4, true, 1)
	s.AddIntField(4, 4, true, 1)

	var out strings.Builder
	require.NoError(t, Dump(&out, []*restruc.Struc{s}))

	assert.NotContains(t, out.String(), "_padding_")
}

func TestDumpEmitsUnionForSharedOffset(t *testing.T) {
	s := restruc.NewStruc("t")
	s.AddFloatField(0, 8, 1)
	s.AddPointerField(0, 1, restruc.NewStruc("target"))

	var out strings.Builder
	require.NoError(t, Dump(&out, []*restruc.Struc{s}))

	text := out.String()
	assert.Contains(t, text, "union {")
	assert.Contains(t, text, "field_0000_1")
	assert.Contains(t, text, "field_0000_2")
}

func TestDumpArrayFieldRendersCount(t *testing.T) {
	s := restruc.NewStruc("t")
	s.AddIntField(0, 4, true, 1)
	s.AddIntField(4, 4, true, 1)
	s.AddIntField(8, 4, true, 1)
	s.AddIntField(12, 4, true, 1)
	s.CollapseArrays()

	var out strings.Builder
	require.NoError(t, Dump(&out, []*restruc.Struc{s}))

	assert.Contains(t, out.String(), "field_0000[4];")
}

func TestDumpPointerFieldNamesTargetStruct(t *testing.T) {
	target := restruc.NewStruc("inner")
	s := restruc.NewStruc("outer")
	s.AddPointerField(0, 1, target)

	var out strings.Builder
	require.NoError(t, Dump(&out, []*restruc.Struc{s}))

	assert.Contains(t, out.String(), "inner* field_0000;")
}

func TestDumpMultipleStrucsInGivenOrder(t *testing.T) {
	a := restruc.NewStruc("a")
	a.AddIntField(0, 4, true, 1)
	b := restruc.NewStruc("b")
	b.AddIntField(0, 4, true, 1)

	var out strings.Builder
	require.NoError(t, Dump(&out, []*restruc.Struc{a, b}))

	text := out.String()
	assert.True(t, strings.Index(text, "struct a {") < strings.Index(text, "struct b {"))
}
