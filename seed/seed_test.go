package seed

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateSeedRoundTrip(t *testing.T) {
	mnemonic, err := GenerateSeed(256)
	require.NoError(t, err)
	assert.Len(t, strings.Fields(mnemonic), 33)

	ok, err := ValidateSeed(mnemonic)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGenerateSeedRejectsBadStrength(t *testing.T) {
	_, err := GenerateSeed(100)
	assert.Error(t, err)
}

func TestValidateSeedRejectsUnknownWord(t *testing.T) {
	ok, err := ValidateSeed("notaword anotherbadword")
	require.Error(t, err)
	assert.False(t, ok)
}

func TestValidateSeedRejectsTamperedChecksum(t *testing.T) {
	mnemonic, err := GenerateSeed(128)
	require.NoError(t, err)

	words := strings.Fields(mnemonic)
	words[len(words)-1] = wordlist[(indexOf(wordlist, words[len(words)-1])+1)%256]
	tampered := strings.Join(words, " ")

	ok, err := ValidateSeed(tampered)
	require.NoError(t, err)
	assert.False(t, ok)
}

func indexOf(list [256]string, w string) int {
	for i, v := range list {
		if v == w {
			return i
		}
	}
	return 0
}

func TestDeriveKeyRejectsUnsupportedCurve(t *testing.T) {
	_, err := DeriveKey("mnemonic words here", "m/44'/60'/0'/0/0", "ed25519")
	assert.Error(t, err)
}

func TestDeriveKeyIsDeterministic(t *testing.T) {
	mnemonic, err := GenerateSeed(256)
	require.NoError(t, err)

	k1, err := DeriveKey(mnemonic, "m/44'/60'/0'/0/0", SupportedCurve)
	require.NoError(t, err)
	k2, err := DeriveKey(mnemonic, "m/44'/60'/0'/0/0", SupportedCurve)
	require.NoError(t, err)

	assert.Equal(t, k1.Serialize(), k2.Serialize())
}

func TestDeriveKeyDiffersAcrossPaths(t *testing.T) {
	mnemonic, err := GenerateSeed(256)
	require.NoError(t, err)

	k1, err := DeriveKey(mnemonic, "m/44'/60'/0'/0/0", SupportedCurve)
	require.NoError(t, err)
	k2, err := DeriveKey(mnemonic, "m/44'/60'/0'/0/1", SupportedCurve)
	require.NoError(t, err)

	assert.NotEqual(t, k1.Serialize(), k2.Serialize())
}

func TestDeriveAddressRejectsUnsupportedCurve(t *testing.T) {
	mnemonic, err := GenerateSeed(256)
	require.NoError(t, err)
	priv, err := DeriveKey(mnemonic, "m/44'/60'/0'/0/0", SupportedCurve)
	require.NoError(t, err)

	_, err = DeriveAddress(priv, "ed25519")
	assert.Error(t, err)
}

func TestDeriveAddressProducesNonEmptyAddress(t *testing.T) {
	mnemonic, err := GenerateSeed(256)
	require.NoError(t, err)
	priv, err := DeriveKey(mnemonic, "m/44'/60'/0'/0/0", SupportedCurve)
	require.NoError(t, err)

	addr, err := DeriveAddress(priv, SupportedCurve)
	require.NoError(t, err)
	assert.NotEmpty(t, addr)
}

func TestParsePathRejectsMissingRoot(t *testing.T) {
	_, err := parsePath("44'/60'/0'/0/0")
	assert.Error(t, err)
}
