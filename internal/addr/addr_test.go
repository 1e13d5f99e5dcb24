package addr

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStringFormatsLowercaseUnprefixedHex(t *testing.T) {
	assert.Equal(t, "dead", Address(0xdead).String())
	assert.Equal(t, "0", Address(0).String())
}

func TestAddAppliesSignedOffset(t *testing.T) {
	assert.Equal(t, Address(0x1004), Address(0x1000).Add(4))
	assert.Equal(t, Address(0x0ffc), Address(0x1000).Add(-4))
}

func TestValidRejectsOnlyTheZeroAddress(t *testing.T) {
	assert.False(t, Nil.Valid())
	assert.False(t, Address(0).Valid())
	assert.True(t, Address(1).Valid())
}

func TestAddrsSortsAscending(t *testing.T) {
	as := Addrs{0x30, 0x10, 0x20}
	sort.Sort(as)
	assert.Equal(t, Addrs{0x10, 0x20, 0x30}, as)
}
