package virt

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"rstc/internal/addr"
)

func TestConcreteMasksToSize(t *testing.T) {
	v := Concrete(0x1_0000_0001, 4, addr.Address(0x1000))
	assert.False(t, v.IsSymbolic())
	assert.Equal(t, uint64(1), v.Raw())
	assert.Equal(t, uint8(4), v.Size())
}

func TestSymbolicValuesGetDistinctIDs(t *testing.T) {
	a := Symbolic(addr.Address(0x1000), 8)
	b := Symbolic(addr.Address(0x1000), 8)
	assert.True(t, a.IsSymbolic())
	assert.NotEqual(t, a.SymbolID(), b.SymbolID())
}

func TestEqualComparesConcreteByMaskedValueAndSize(t *testing.T) {
	a := Concrete(4, 4, addr.Address(1))
	b := Concrete(4, 4, addr.Address(2))
	c := Concrete(4, 8, addr.Address(1))
	assert.True(t, a.Equal(b), "source is not part of concrete equality")
	assert.False(t, a.Equal(c), "size must match")
}

func TestEqualComparesSymbolicByIDOffsetSizeAndSource(t *testing.T) {
	src := addr.Address(0x1000)
	base := SymbolicID(7, 0, src, 8)
	same := SymbolicID(7, 0, src, 8)
	diffOffset := SymbolicID(7, 4, src, 8)
	assert.True(t, base.Equal(same))
	assert.False(t, base.Equal(diffOffset))
}

func TestPointsToStackOnlyForStackMagicTaggedConcreteValues(t *testing.T) {
	sentinel := StackSentinel(addr.Address(0x1000))
	assert.True(t, sentinel.PointsToStack())

	plain := Concrete(0x1234, 8, addr.Address(0x1000))
	assert.False(t, plain.PointsToStack())

	sym := Symbolic(addr.Address(0x1000), 8)
	assert.False(t, sym.PointsToStack())
}

func TestStackArgumentAddressRecoversArgumentNumber(t *testing.T) {
	// [rsp+8] at entry (before any push) is the first stack-passed argument.
	v := StackArgumentAddress(8, addr.Address(0x1000))
	assert.True(t, v.PointsToStack())
	assert.Equal(t, int64(0), v.StackArgumentNumber())

	v2 := StackArgumentAddress(16, addr.Address(0x1000))
	assert.Equal(t, int64(1), v2.StackArgumentNumber())
}

func TestApplyAdditiveOnConcretePairIsOrdinaryArithmetic(t *testing.T) {
	dst := Concrete(10, 8, addr.Address(1))
	src := Concrete(3, 8, addr.Address(2))
	sum := ApplyAdditive(dst, src, false, 8, addr.Address(3))
	assert.Equal(t, uint64(13), sum.Raw())

	diff := ApplyAdditive(dst, src, true, 8, addr.Address(3))
	assert.Equal(t, uint64(7), diff.Raw())
}

func TestApplyAdditiveShiftsSymbolicOffsetBySignedDelta(t *testing.T) {
	base := SymbolicID(9, 0, addr.Address(1), 8)
	delta := Concrete(4, 8, addr.Address(2))

	plus := ApplyAdditive(base, delta, false, 8, addr.Address(3))
	require := assert.New(t)
	require.True(plus.IsSymbolic())
	require.Equal(uint64(9), plus.SymbolID())
	require.Equal(int64(4), plus.SymbolOffset())

	minus := ApplyAdditive(base, delta, true, 8, addr.Address(3))
	require.Equal(int64(-4), minus.SymbolOffset())
}

func TestApplyAdditiveOfTwoSymbolicsLosesIdentity(t *testing.T) {
	a := Symbolic(addr.Address(1), 8)
	b := Symbolic(addr.Address(1), 8)
	result := ApplyAdditive(a, b, false, 8, addr.Address(2))
	assert.True(t, result.IsSymbolic())
	assert.NotEqual(t, a.SymbolID(), result.SymbolID())
	assert.NotEqual(t, b.SymbolID(), result.SymbolID())
}

func TestAdjustConcreteViaIncrementPreservesStackTag(t *testing.T) {
	rsp := StackSentinel(addr.Address(0x1000))
	pushed := Increment(rsp, -8, addr.Address(0x1004))
	assert.True(t, pushed.PointsToStack())
	assert.Equal(t, uint64(StackMagic)<<32|uint64(0xFFFFFFF8), pushed.Raw())
}

func TestMoveMaskedOn32BitLaneZeroExtends(t *testing.T) {
	old := Concrete(0xFFFFFFFFFFFFFFFF, 8, addr.Address(1))
	write := Concrete(0x12345678, 4, addr.Address(2))
	result := MoveMasked(old, write, addr.Address(3))
	assert.Equal(t, uint64(0x12345678), result.Raw())
	assert.Equal(t, uint8(8), result.Size())
}

func TestMoveMaskedOn8BitLanePreservesHighBitsWhenConcrete(t *testing.T) {
	old := Concrete(0x1122334455667788, 8, addr.Address(1))
	write := Concrete(0xAA, 1, addr.Address(2))
	result := MoveMasked(old, write, addr.Address(3))
	assert.Equal(t, uint64(0x11223344556677AA), result.Raw())
}

func TestMoveMaskedDegradesToSymbolicWhenEitherSideSymbolic(t *testing.T) {
	old := Symbolic(addr.Address(1), 8)
	write := Concrete(0xAA, 1, addr.Address(2))
	result := MoveMasked(old, write, addr.Address(3))
	assert.True(t, result.IsSymbolic())
}
