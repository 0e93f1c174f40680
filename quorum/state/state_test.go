package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialPhase(t *testing.T) {
	m := New(nil)
	assert.Equal(t, WaitingForBootInstruction, m.Current())
}

func TestCanonicalGenesisSequence(t *testing.T) {
	m := New(nil)
	require.NoError(t, m.Transition(GenesisBooted))
	require.NoError(t, m.Transition(QuorumKeyProvisioned))
	require.NoError(t, m.Transition(ApplicationReady))
	assert.Equal(t, ApplicationReady, m.Current())
}

func TestCanonicalReconstructionSequence(t *testing.T) {
	m := New(nil)
	require.NoError(t, m.Transition(WaitingForQuorumShards))
	require.NoError(t, m.Transition(QuorumKeyProvisioned))
	require.NoError(t, m.Transition(ApplicationReady))
	assert.Equal(t, ApplicationReady, m.Current())
}

func TestCanonicalForwardingSequence(t *testing.T) {
	m := New(nil)
	require.NoError(t, m.Transition(WaitingForForwardedKey))
	require.NoError(t, m.Transition(QuorumKeyProvisioned))
	require.NoError(t, m.Transition(ApplicationReady))
	assert.Equal(t, ApplicationReady, m.Current())
}

func TestSelfTransitionIsNoOp(t *testing.T) {
	m := New(nil)
	require.NoError(t, m.Transition(WaitingForBootInstruction))
	assert.Equal(t, WaitingForBootInstruction, m.Current())
}

func TestInvalidTransitionForcesUnrecoverableError(t *testing.T) {
	m := New(nil)
	require.NoError(t, m.Transition(GenesisBooted))

	err := m.Transition(ApplicationReady)
	assert.Error(t, err)
	assert.Equal(t, UnrecoverableError, m.Current())
}

func TestWaitingForBootInstructionMayGoDirectlyToUnrecoverableError(t *testing.T) {
	m := New(nil)
	require.NoError(t, m.Transition(UnrecoverableError))
	assert.Equal(t, UnrecoverableError, m.Current())
}

func TestUnrecoverableErrorIsTerminal(t *testing.T) {
	m := New(nil)
	require.NoError(t, m.Transition(UnrecoverableError))

	err := m.Transition(GenesisBooted)
	assert.Error(t, err)
	assert.Equal(t, UnrecoverableError, m.Current())
}

func TestAllowsOperations(t *testing.T) {
	assert.True(t, ApplicationReady.AllowsOperations())
	assert.False(t, GenesisBooted.AllowsOperations())
}

func TestAllowsQuorumOperations(t *testing.T) {
	assert.True(t, QuorumKeyProvisioned.AllowsQuorumOperations())
	assert.True(t, ApplicationReady.AllowsQuorumOperations())
	assert.False(t, WaitingForBootInstruction.AllowsQuorumOperations())
	assert.False(t, WaitingForQuorumShards.AllowsQuorumOperations())
	assert.False(t, UnrecoverableError.AllowsQuorumOperations())
}
