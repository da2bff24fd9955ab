package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyring_Deterministic(t *testing.T) {
	a, b := NewKeyring(), NewKeyring()

	assert.Equal(t, a.Key("x").Public(), b.Key("x").Public())
	assert.NotEqual(t, a.Key("x").Public(), a.Key("y").Public())
	assert.Same(t, a.Key("x"), a.Key("x"))
}

func TestKeyring_Alias(t *testing.T) {
	k := NewKeyring()
	x := k.Key("x").Public()

	assert.Equal(t, "x", k.Alias(x))
	assert.Equal(t, "abcdef01", k.Alias("abcdef0123456789"))

	k.Key("a")
	assert.Equal(t, []string{"a", "x"}, k.Aliases())
}
