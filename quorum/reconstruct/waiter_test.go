package reconstruct

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dojima-foundation/tee-auth-sub000/crypto/keypair"
	"github.com/dojima-foundation/tee-auth-sub000/crypto/shamir"
	"github.com/dojima-foundation/tee-auth-sub000/quorum/state"
	"github.com/dojima-foundation/tee-auth-sub000/quorum/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "test_reconstruct")
	s, err := store.New(dir)
	require.NoError(t, err)
	return s
}

func newArmedMachine(t *testing.T) *state.Machine {
	t.Helper()
	m := state.New(nil)
	require.NoError(t, m.Transition(state.WaitingForQuorumShards))
	return m
}

func splitTestSeed(t *testing.T, k, n int) ([]byte, []shamir.Share) {
	t.Helper()
	pair, err := keypair.GenerateSigningPair()
	require.NoError(t, err)
	seed := pair.PrivateScalar()
	shares, err := shamir.Split(seed, k, n)
	require.NoError(t, err)
	return seed, shares
}

func fastConfig() Config {
	return Config{MaxWaitTime: time.Second, CheckInterval: 10 * time.Millisecond, MinShares: 2}
}

func TestWaiterReconstructsOnceQuorumReached(t *testing.T) {
	st := newTestStore(t)
	seed, shares := splitTestSeed(t, 2, 3)

	w := New(st, nil, fastConfig(), nil)
	require.NoError(t, w.AddShare("alice", shares[0]))
	require.NoError(t, w.AddShare("bob", shares[1]))

	status := w.Run(context.Background())
	assert.Equal(t, StatusReconstructed, status)

	got, err := st.GetQuorumKey()
	require.NoError(t, err)
	assert.Equal(t, seed, got)
}

func TestWaiterTransitionsMachineToQuorumKeyProvisioned(t *testing.T) {
	st := newTestStore(t)
	m := newArmedMachine(t)
	_, shares := splitTestSeed(t, 2, 3)

	w := New(st, m, fastConfig(), nil)
	require.NoError(t, w.AddShare("alice", shares[0]))
	require.NoError(t, w.AddShare("bob", shares[1]))

	status := w.Run(context.Background())
	assert.Equal(t, StatusReconstructed, status)
	assert.Equal(t, state.QuorumKeyProvisioned, m.Current())
}

func TestWaiterFailsIfMachineNotArmed(t *testing.T) {
	st := newTestStore(t)
	m := state.New(nil)
	_, shares := splitTestSeed(t, 2, 3)

	w := New(st, m, fastConfig(), nil)
	require.NoError(t, w.AddShare("alice", shares[0]))
	require.NoError(t, w.AddShare("bob", shares[1]))

	status := w.Run(context.Background())
	assert.Equal(t, StatusError, status)
	assert.Equal(t, state.UnrecoverableError, m.Current())
}

func TestWaiterTimesOutWithoutEnoughShares(t *testing.T) {
	st := newTestStore(t)
	_, shares := splitTestSeed(t, 2, 3)

	w := New(st, nil, fastConfig(), nil)
	require.NoError(t, w.AddShare("alice", shares[0]))

	status := w.Run(context.Background())
	assert.Equal(t, StatusTimeout, status)
}

func TestAddShareIsIdempotentForSameAlias(t *testing.T) {
	st := newTestStore(t)
	_, shares := splitTestSeed(t, 2, 3)

	w := New(st, nil, fastConfig(), nil)
	require.NoError(t, w.AddShare("alice", shares[0]))
	require.NoError(t, w.AddShare("alice", shares[0]))
}

func TestAddShareRejectsConflictingResubmission(t *testing.T) {
	st := newTestStore(t)
	_, shares := splitTestSeed(t, 2, 3)

	w := New(st, nil, fastConfig(), nil)
	require.NoError(t, w.AddShare("alice", shares[0]))
	err := w.AddShare("alice", shares[1])
	assert.Error(t, err)
}

func TestAddShareRejectedAfterTerminalStatus(t *testing.T) {
	st := newTestStore(t)
	_, shares := splitTestSeed(t, 2, 3)

	w := New(st, nil, fastConfig(), nil)
	require.NoError(t, w.AddShare("alice", shares[0]))
	require.NoError(t, w.AddShare("bob", shares[1]))
	w.Run(context.Background())

	err := w.AddShare("carol", shares[2])
	assert.Error(t, err)
}

func TestRunRespectsContextCancellation(t *testing.T) {
	st := newTestStore(t)

	w := New(st, nil, Config{MaxWaitTime: time.Minute, CheckInterval: 10 * time.Millisecond, MinShares: 2}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	status := w.Run(ctx)
	assert.Equal(t, StatusError, status)
}

func TestDefaultConfigMatchesOriginalDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 300*time.Second, cfg.MaxWaitTime)
	assert.Equal(t, time.Second, cfg.CheckInterval)
	assert.Equal(t, 2, cfg.MinShares)
}
