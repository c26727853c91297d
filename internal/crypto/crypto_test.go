package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpen_Roundtrip(t *testing.T) {
	original := "sk-abc123def456ghi789"
	sealed, err := Seal("data", original)
	require.NoError(t, err)
	assert.NotEqual(t, original, sealed)

	opened, err := Open("data", sealed)
	require.NoError(t, err)
	assert.Equal(t, original, opened)
}

func TestSealOpen_EmptyString(t *testing.T) {
	sealed, err := Seal("data", "")
	require.NoError(t, err)
	assert.Empty(t, sealed)

	opened, err := Open("data", "")
	require.NoError(t, err)
	assert.Empty(t, opened)
}

func TestSeal_NonceMakesOutputsDiffer(t *testing.T) {
	a, err := Seal("data", "same-key")
	require.NoError(t, err)
	b, err := Seal("data", "same-key")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "two seals of the same plaintext should differ")
}

func TestOpen_WrongScopeFails(t *testing.T) {
	sealed, err := Seal("data-a", "secret")
	require.NoError(t, err)
	_, err = Open("data-b", sealed)
	assert.Error(t, err)
}

func TestOpen_InvalidInput(t *testing.T) {
	_, err := Open("data", "not base64 !!!")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "base64"))

	_, err = Open("data", "AAAA")
	assert.Error(t, err, "short ciphertext should be rejected")
}

// ========== Maps ==========

func TestSealMapOpenMap(t *testing.T) {
	in := map[string]string{"brave": "b-key", "ollama": "o-key", "google": ""}
	sealed, err := SealMap("data", in)
	require.NoError(t, err)
	assert.NotEqual(t, "b-key", sealed["brave"])
	assert.Empty(t, sealed["google"])

	out := OpenMap("data", sealed)
	assert.Equal(t, in, out)
}

func TestOpenMap_PlaintextPassthrough(t *testing.T) {
	out := OpenMap("data", map[string]string{"brave": "plain-text-key"})
	assert.Equal(t, "plain-text-key", out["brave"])
}
