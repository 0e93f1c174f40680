package shamir

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomSecret(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func TestSplitReconstructRoundTrip(t *testing.T) {
	secret := randomSecret(t, 32)
	shares, err := Split(secret, 3, 5)
	require.NoError(t, err)
	require.Len(t, shares, 5)

	got, err := Reconstruct(shares[:3])
	require.NoError(t, err)
	assert.Equal(t, secret, got)
}

func TestReconstructWithAnyThresholdSubset(t *testing.T) {
	secret := randomSecret(t, 32)
	shares, err := Split(secret, 3, 5)
	require.NoError(t, err)

	subsets := [][]Share{
		{shares[0], shares[1], shares[2]},
		{shares[1], shares[3], shares[4]},
		{shares[0], shares[2], shares[4]},
	}
	for _, subset := range subsets {
		got, err := Reconstruct(subset)
		require.NoError(t, err)
		assert.Equal(t, secret, got)
	}
}

// TestReconstructBelowThresholdYieldsWrongSecret is the spec-mandated
// threshold-safety property: Reconstruct has no way to know the
// original k, so handing it k-1 shares does not error — it silently
// returns a value that differs from the real secret. Enforcing k is
// the caller's job (see quorum/reconstruct.Waiter).
func TestReconstructBelowThresholdYieldsWrongSecret(t *testing.T) {
	secret := randomSecret(t, 32)
	shares, err := Split(secret, 3, 5)
	require.NoError(t, err)

	got, err := Reconstruct(shares[:2])
	require.NoError(t, err)
	assert.NotEqual(t, secret, got)
}

func TestSplitRejectsInvalidParameters(t *testing.T) {
	secret := randomSecret(t, 16)

	_, err := Split(secret, 1, 5)
	assert.Error(t, err, "threshold below 2")

	_, err = Split(secret, 6, 5)
	assert.Error(t, err, "threshold above n")

	_, err = Split(nil, 2, 5)
	assert.Error(t, err, "empty secret")

	_, err = Split(secret, 2, 256)
	assert.Error(t, err, "n above 255")
}

func TestReconstructRejectsDuplicateXCoordinates(t *testing.T) {
	secret := randomSecret(t, 16)
	shares, err := Split(secret, 2, 3)
	require.NoError(t, err)

	dup := []Share{shares[0], shares[0]}
	_, err = Reconstruct(dup)
	assert.Error(t, err)
}

func TestReconstructRejectsMismatchedLengths(t *testing.T) {
	a := Share{X: 1, Y: []byte{1, 2, 3}}
	b := Share{X: 2, Y: []byte{1, 2}}
	_, err := Reconstruct([]Share{a, b})
	assert.Error(t, err)
}

func TestDifferentSplitsAreNotIdentical(t *testing.T) {
	secret := randomSecret(t, 16)
	a, err := Split(secret, 2, 3)
	require.NoError(t, err)
	b, err := Split(secret, 2, 3)
	require.NoError(t, err)

	assert.NotEqual(t, a[0].Y, b[0].Y, "random coefficients should vary between splits")
}
