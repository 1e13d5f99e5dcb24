package hashutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCombineIsDeterministic(t *testing.T) {
	assert.Equal(t, Combine(1, 2), Combine(1, 2))
}

func TestCombineIsOrderSensitive(t *testing.T) {
	assert.NotEqual(t, Combine(Combine(0, 1), 2), Combine(Combine(0, 2), 1))
}

func TestCombineAllFoldsInOrder(t *testing.T) {
	got := CombineAll(0, 1, 2, 3)
	want := Combine(Combine(Combine(0, 1), 2), 3)
	assert.Equal(t, want, got)
}

func TestCombineAllOfNoValuesIsIdentity(t *testing.T) {
	assert.Equal(t, uint64(5), CombineAll(5))
}
