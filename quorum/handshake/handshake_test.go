package handshake

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dojima-foundation/tee-auth-sub000/crypto/keypair"
	"github.com/dojima-foundation/tee-auth-sub000/quorum/attestation"
	"github.com/dojima-foundation/tee-auth-sub000/quorum/state"
	"github.com/dojima-foundation/tee-auth-sub000/quorum/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "test_handshake")
	s, err := store.New(dir)
	require.NoError(t, err)
	return s
}

func sharedMeasurements() attestation.Measurements {
	return attestation.Measurements{
		ManifestHash: [32]byte{7, 7, 7},
		PCR0:         []byte{0},
		PCR1:         []byte{1},
		PCR2:         []byte{2},
		PCR3:         []byte{3},
	}
}

func TestFullHandshakeInstallsQuorumKey(t *testing.T) {
	st := newTestStore(t)
	requesterMgr := attestation.NewManager(sharedMeasurements())
	donorMgr := attestation.NewManager(sharedMeasurements())

	quorumPair, err := keypair.GenerateSigningPair()
	require.NoError(t, err)
	seed := quorumPair.PrivateScalar()

	requester := NewRequester(requesterMgr, st, nil, nil)
	donor := NewDonor(donorMgr, quorumPair, nil)

	now := time.Now()
	doc, ephemeral, err := requester.BeginRequest(now)
	require.NoError(t, err)

	env, sig, err := donor.ExportKey(doc, seed, now.Add(time.Second))
	require.NoError(t, err)

	installed, err := requester.InjectKey(ephemeral, env, sig, quorumPair.Public())
	require.NoError(t, err)
	assert.Equal(t, seed, installed)

	got, err := st.GetQuorumKey()
	require.NoError(t, err)
	assert.Equal(t, seed, got)
}

func TestFullHandshakeTransitionsMachineToApplicationReady(t *testing.T) {
	st := newTestStore(t)
	requesterMgr := attestation.NewManager(sharedMeasurements())
	donorMgr := attestation.NewManager(sharedMeasurements())
	m := state.New(nil)

	quorumPair, err := keypair.GenerateSigningPair()
	require.NoError(t, err)

	requester := NewRequester(requesterMgr, st, m, nil)
	donor := NewDonor(donorMgr, quorumPair, nil)

	now := time.Now()
	doc, ephemeral, err := requester.BeginRequest(now)
	require.NoError(t, err)
	assert.Equal(t, state.WaitingForForwardedKey, m.Current())

	env, sig, err := donor.ExportKey(doc, quorumPair.PrivateScalar(), now)
	require.NoError(t, err)

	_, err = requester.InjectKey(ephemeral, env, sig, quorumPair.Public())
	require.NoError(t, err)
	assert.Equal(t, state.ApplicationReady, m.Current())
}

func TestInjectKeyRotatesEphemeralKeyAfterInstall(t *testing.T) {
	st := newTestStore(t)
	requesterMgr := attestation.NewManager(sharedMeasurements())
	donorMgr := attestation.NewManager(sharedMeasurements())

	quorumPair, err := keypair.GenerateSigningPair()
	require.NoError(t, err)

	requester := NewRequester(requesterMgr, st, nil, nil)
	donor := NewDonor(donorMgr, quorumPair, nil)

	now := time.Now()
	doc, ephemeral, err := requester.BeginRequest(now)
	require.NoError(t, err)
	env, sig, err := donor.ExportKey(doc, quorumPair.PrivateScalar(), now)
	require.NoError(t, err)

	_, err = requester.InjectKey(ephemeral, env, sig, quorumPair.Public())
	require.NoError(t, err)

	assert.True(t, st.HasEphemeralKey())
}

func TestInjectKeyRejectsSignatureFromWrongQuorumKey(t *testing.T) {
	st := newTestStore(t)
	requesterMgr := attestation.NewManager(sharedMeasurements())
	donorMgr := attestation.NewManager(sharedMeasurements())

	realQuorumPair, err := keypair.GenerateSigningPair()
	require.NoError(t, err)
	imposterPair, err := keypair.GenerateSigningPair()
	require.NoError(t, err)

	requester := NewRequester(requesterMgr, st, nil, nil)
	donor := NewDonor(donorMgr, imposterPair, nil)

	now := time.Now()
	doc, ephemeral, err := requester.BeginRequest(now)
	require.NoError(t, err)
	env, sig, err := donor.ExportKey(doc, realQuorumPair.PrivateScalar(), now)
	require.NoError(t, err)

	_, err = requester.InjectKey(ephemeral, env, sig, realQuorumPair.Public())
	assert.Error(t, err, "requester must reject a donor signing under a different quorum key")
}

func TestExportKeyRejectsUnverifiedRequester(t *testing.T) {
	st := newTestStore(t)
	requesterMgr := attestation.NewManager(sharedMeasurements())
	mismatched := sharedMeasurements()
	mismatched.PCR1 = []byte{99}
	donorMgr := attestation.NewManager(mismatched)

	quorumPair, err := keypair.GenerateSigningPair()
	require.NoError(t, err)

	requester := NewRequester(requesterMgr, st, nil, nil)
	donor := NewDonor(donorMgr, quorumPair, nil)

	now := time.Now()
	doc, _, err := requester.BeginRequest(now)
	require.NoError(t, err)

	_, _, err = donor.ExportKey(doc, quorumPair.PrivateScalar(), now)
	assert.Error(t, err)
}

func TestInjectKeyRejectsTamperedEnvelope(t *testing.T) {
	st := newTestStore(t)
	requesterMgr := attestation.NewManager(sharedMeasurements())
	donorMgr := attestation.NewManager(sharedMeasurements())

	quorumPair, err := keypair.GenerateSigningPair()
	require.NoError(t, err)

	requester := NewRequester(requesterMgr, st, nil, nil)
	donor := NewDonor(donorMgr, quorumPair, nil)

	now := time.Now()
	doc, ephemeral, err := requester.BeginRequest(now)
	require.NoError(t, err)
	env, sig, err := donor.ExportKey(doc, quorumPair.PrivateScalar(), now)
	require.NoError(t, err)

	env.Ciphertext[0] ^= 0xff

	_, err = requester.InjectKey(ephemeral, env, sig, quorumPair.Public())
	assert.Error(t, err)
}
