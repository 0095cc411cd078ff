package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundtrip(t *testing.T) {
	tr := NewTransform("shared password")

	cipher := tr.Encrypt("hello clipboard")
	require.NotEqual(t, "hello clipboard", cipher)

	plain, err := tr.Decrypt(cipher)
	require.NoError(t, err)
	require.Equal(t, "hello clipboard", plain)
}

func TestSamePasswordSameKey(t *testing.T) {
	a := NewTransform("pw")
	b := NewTransform("pw")

	plain, err := b.Decrypt(a.Encrypt("cross-device"))
	require.NoError(t, err)
	require.Equal(t, "cross-device", plain)
}

func TestWrongPasswordDegradesToEmpty(t *testing.T) {
	a := NewTransform("correct")
	b := NewTransform("wrong")

	plain, err := b.Decrypt(a.Encrypt("secret"))
	require.Error(t, err)
	require.Empty(t, plain)
}

func TestGarbageInputDegradesToEmpty(t *testing.T) {
	tr := NewTransform("pw")

	for _, input := range []string{"!!! not base64 !!!", "YWJj", "AAAA"} {
		plain, err := tr.Decrypt(input)
		require.Error(t, err, "input %q", input)
		require.Empty(t, plain)
	}
}

func TestEmptyStringPassesThrough(t *testing.T) {
	tr := NewTransform("pw")

	require.Empty(t, tr.Encrypt(""))
	plain, err := tr.Decrypt("")
	require.NoError(t, err)
	require.Empty(t, plain)
}

func TestPassthroughWithoutPassword(t *testing.T) {
	tr := NewTransform("")
	require.False(t, tr.Enabled())

	require.Equal(t, "as-is", tr.Encrypt("as-is"))
	plain, err := tr.Decrypt("as-is")
	require.NoError(t, err)
	require.Equal(t, "as-is", plain)
}

func TestNonceVaries(t *testing.T) {
	tr := NewTransform("pw")
	require.NotEqual(t, tr.Encrypt("same"), tr.Encrypt("same"))
}
