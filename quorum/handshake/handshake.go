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

// Package handshake implements the peer-to-peer quorum key forwarding
// protocol between a Requester (a fresh peer that needs the quorum key)
// and a Donor (a peer that already holds it).
package handshake

import (
	"crypto/sha256"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/dojima-foundation/tee-auth-sub000/crypto/envelope"
	"github.com/dojima-foundation/tee-auth-sub000/crypto/keypair"
	"github.com/dojima-foundation/tee-auth-sub000/quorum/attestation"
	"github.com/dojima-foundation/tee-auth-sub000/quorum/state"
	"github.com/dojima-foundation/tee-auth-sub000/quorum/store"
)

// Requester is the peer side that needs the quorum key forwarded to
// it. It generates a fresh ephemeral key for each handshake attempt and
// presents an attestation document binding that key.
type Requester struct {
	manager *attestation.Manager
	store   *store.Store
	machine *state.Machine
	log     *zap.Logger
}

// NewRequester creates a Requester bound to manager's code measurements
// and st for persisting the installed quorum key. machine is
// transitioned WaitingForBootInstruction -> WaitingForForwardedKey when
// the request begins and WaitingForForwardedKey -> QuorumKeyProvisioned
// -> ApplicationReady once the forwarded key is installed; it may be
// nil if the caller does not track phase.
func NewRequester(manager *attestation.Manager, st *store.Store, machine *state.Machine, log *zap.Logger) *Requester {
	if log == nil {
		log = zap.NewNop()
	}
	return &Requester{manager: manager, store: st, machine: machine, log: log}
}

// BeginRequest generates a fresh ephemeral key pair and the attestation
// document binding it, to be sent to a donor. The returned key pair
// must be retained by the caller and passed to InjectKey once the donor
// responds.
func (r *Requester) BeginRequest(now time.Time) (*attestation.Document, *keypair.EncryptPair, error) {
	if r.machine != nil {
		if err := r.machine.Transition(state.WaitingForForwardedKey); err != nil {
			return nil, nil, errors.Wrap(err, "handshake: transitioning state machine")
		}
	}

	ephemeral, err := r.manager.GenerateEphemeralKey()
	if err != nil {
		return nil, nil, errors.Wrap(err, "handshake: generating ephemeral key")
	}
	doc := r.manager.CreateDocument(ephemeral.Public(), now)
	return doc, ephemeral, nil
}

// InjectKey completes the handshake: it verifies the donor's signature
// over the exported envelope under donorQuorumPublic (the quorum public
// key declared in the requester's own manifest, not whatever key the
// donor happens to claim), decrypts the envelope with ephemeral,
// validates the resulting seed, persists it, and rotates the ephemeral
// key now that it has served its purpose.
//
// This signature check is the one the original system left as a TODO;
// without it, any donor (not just one holding the real quorum key)
// could forward an arbitrary seed to a fresh peer.
func (r *Requester) InjectKey(ephemeral *keypair.EncryptPair, env *envelope.Envelope, signature []byte, donorQuorumPublic *keypair.SigningPublic) ([]byte, error) {
	digest := sha256.Sum256(env.Marshal())
	if !donorQuorumPublic.Verify(digest[:], signature) {
		return nil, errors.New("handshake: donor signature does not verify under the expected quorum public key")
	}

	seed, err := ephemeral.Decrypt(env)
	if err != nil {
		return nil, errors.Wrap(err, "handshake: decrypting forwarded quorum key")
	}
	if len(seed) != 32 {
		return nil, errors.Errorf("handshake: forwarded seed has wrong length %d", len(seed))
	}

	if err := r.store.PutQuorumKey(seed); err != nil {
		return nil, errors.Wrap(err, "handshake: persisting forwarded quorum key")
	}

	if r.machine != nil {
		if err := r.machine.Transition(state.QuorumKeyProvisioned); err != nil {
			return nil, errors.Wrap(err, "handshake: transitioning state machine")
		}
		if err := r.machine.Transition(state.ApplicationReady); err != nil {
			return nil, errors.Wrap(err, "handshake: transitioning state machine")
		}
	}

	newEphemeral, err := keypair.GenerateEncryptPair()
	if err != nil {
		return nil, errors.Wrap(err, "handshake: generating replacement ephemeral key")
	}
	if err := r.store.RotateEphemeralKey(newEphemeral.PrivateScalar()); err != nil {
		return nil, errors.Wrap(err, "handshake: rotating ephemeral key after install")
	}

	r.log.Info("quorum key installed via peer forwarding")
	return seed, nil
}

// Donor is the peer side that already holds the quorum key and can
// export it to a freshly attested requester.
type Donor struct {
	manager       *attestation.Manager
	quorumSigning *keypair.SigningPair
	log           *zap.Logger
}

// NewDonor creates a Donor bound to manager's code measurements and the
// quorum signing key it will use to sign exported envelopes.
func NewDonor(manager *attestation.Manager, quorumSigning *keypair.SigningPair, log *zap.Logger) *Donor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Donor{manager: manager, quorumSigning: quorumSigning, log: log}
}

// ExportKey verifies doc's freshness and code measurements, extracts
// its bound ephemeral public key, encrypts quorumSeed to it, and signs
// the resulting envelope with the donor's quorum signing key. It
// refuses to export to a requester whose attestation document does not
// verify.
func (d *Donor) ExportKey(doc *attestation.Document, quorumSeed []byte, now time.Time) (*envelope.Envelope, []byte, error) {
	if err := d.manager.Verify(doc, now); err != nil {
		return nil, nil, errors.Wrap(err, "handshake: refusing to export key to unverified requester")
	}

	requesterPublic, err := attestation.ExtractEphemeralPublicKey(doc)
	if err != nil {
		return nil, nil, errors.Wrap(err, "handshake: extracting requester ephemeral key")
	}

	env, err := requesterPublic.Encrypt(quorumSeed)
	if err != nil {
		return nil, nil, errors.Wrap(err, "handshake: encrypting quorum key for export")
	}

	digest := sha256.Sum256(env.Marshal())
	sig, err := d.quorumSigning.Sign(digest[:])
	if err != nil {
		return nil, nil, errors.Wrap(err, "handshake: signing exported envelope")
	}

	d.log.Info("quorum key exported to attested peer")
	return env, sig, nil
}
