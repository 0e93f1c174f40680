// Copyright (c) 2023, Circle Internet Financial, LTD. All rights reserved.
//
//  SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package state implements the protocol phase state machine gating
// every quorum key lifecycle operation.
package state

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Phase is one of the seven states an enclave application can occupy.
type Phase int

const (
	WaitingForBootInstruction Phase = iota
	GenesisBooted
	WaitingForQuorumShards
	QuorumKeyProvisioned
	WaitingForForwardedKey
	ApplicationReady
	UnrecoverableError
)

func (p Phase) String() string {
	switch p {
	case WaitingForBootInstruction:
		return "WaitingForBootInstruction"
	case GenesisBooted:
		return "GenesisBooted"
	case WaitingForQuorumShards:
		return "WaitingForQuorumShards"
	case QuorumKeyProvisioned:
		return "QuorumKeyProvisioned"
	case WaitingForForwardedKey:
		return "WaitingForForwardedKey"
	case ApplicationReady:
		return "ApplicationReady"
	case UnrecoverableError:
		return "UnrecoverableError"
	default:
		return "Unknown"
	}
}

// allowedTransitions is the exhaustive table of valid phase changes.
// WaitingForBootInstruction may transition directly to
// UnrecoverableError; this is intentional, not an oversight, and is
// preserved here to match the source system's actual behavior.
var allowedTransitions = map[Phase]map[Phase]bool{
	WaitingForBootInstruction: {
		GenesisBooted:          true,
		WaitingForQuorumShards: true,
		WaitingForForwardedKey: true,
		UnrecoverableError:     true,
	},
	GenesisBooted: {
		QuorumKeyProvisioned: true,
		UnrecoverableError:   true,
	},
	WaitingForQuorumShards: {
		QuorumKeyProvisioned: true,
		UnrecoverableError:   true,
	},
	QuorumKeyProvisioned: {
		ApplicationReady:   true,
		UnrecoverableError: true,
	},
	WaitingForForwardedKey: {
		QuorumKeyProvisioned: true,
		UnrecoverableError:   true,
	},
	ApplicationReady: {
		UnrecoverableError: true,
	},
	UnrecoverableError: {},
}

// AllowedTransitions returns the set of phases reachable from current.
func AllowedTransitions(current Phase) []Phase {
	out := make([]Phase, 0, len(allowedTransitions[current]))
	for p := range allowedTransitions[current] {
		out = append(out, p)
	}
	return out
}

// AllowsOperations reports whether normal operations may proceed in
// this phase.
func (p Phase) AllowsOperations() bool {
	return p == ApplicationReady
}

// AllowsQuorumOperations reports whether the quorum key is available
// for use (signing, forwarding to a peer) in this phase.
func (p Phase) AllowsQuorumOperations() bool {
	switch p {
	case QuorumKeyProvisioned, ApplicationReady:
		return true
	default:
		return false
	}
}

// Machine is the mutex-guarded phase state machine. At most one of
// Machine's mutex or a Store's mutex is ever held at a time; no
// operation in this module holds both simultaneously.
type Machine struct {
	mu      sync.Mutex
	current Phase
	log     *zap.Logger
}

// New creates a Machine starting in WaitingForBootInstruction.
func New(log *zap.Logger) *Machine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Machine{current: WaitingForBootInstruction, log: log}
}

// Current returns the current phase.
func (m *Machine) Current() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Transition attempts to move to next. A self-transition is a no-op
// that succeeds without error. An invalid transition forces the
// machine into UnrecoverableError and returns an error describing the
// rejected transition; the machine is the single place that decides
// this, per the engine's error-handling design.
func (m *Machine) Transition(next Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if next == m.current {
		return nil
	}

	if allowedTransitions[m.current][next] {
		m.log.Info("phase transition",
			zap.String("from", m.current.String()),
			zap.String("to", next.String()))
		m.current = next
		return nil
	}

	rejected := errors.Errorf("state: invalid transition from %s to %s", m.current, next)
	m.log.Error("rejected phase transition, forcing UnrecoverableError",
		zap.String("from", m.current.String()),
		zap.String("attempted", next.String()))
	m.current = UnrecoverableError
	return rejected
}
