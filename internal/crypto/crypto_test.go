package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpen(t *testing.T) {
	key, err := DeriveKey("token")
	require.NoError(t, err)

	plain := []byte("clipboard payload")
	ct, err := Seal(plain, key)
	require.NoError(t, err)
	assert.Len(t, ct, len(plain)+Overhead)
	assert.False(t, bytes.Contains(ct, plain))

	got, err := Open(ct, key)
	require.NoError(t, err)
	assert.Equal(t, plain, got)

	again, err := Seal(plain, key)
	require.NoError(t, err)
	assert.NotEqual(t, ct, again, "nonces must differ")
}

func TestOpen_WrongKeyOrTampered(t *testing.T) {
	a, _ := DeriveKey("a")
	b, _ := DeriveKey("b")
	ct, err := Seal([]byte("x"), a)
	require.NoError(t, err)

	_, err = Open(ct, b)
	assert.ErrorIs(t, err, ErrDecrypt)

	ct[len(ct)-1] ^= 0xff
	_, err = Open(ct, a)
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = Open([]byte{1, 2, 3}, a)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestDeriveKey_Stable(t *testing.T) {
	a, _ := DeriveKey("same")
	b, _ := DeriveKey("same")
	assert.Equal(t, *a, *b)
}
