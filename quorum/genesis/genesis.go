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

// Package genesis implements the quorum key genesis ceremony: generate
// a fresh quorum signing key, split its scalar across custodians with
// Shamir secret sharing, encrypt each share to its custodian, and prove
// the resulting key pair works before handing control back to the
// caller.
package genesis

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/dojima-foundation/tee-auth-sub000/crypto/envelope"
	"github.com/dojima-foundation/tee-auth-sub000/crypto/keypair"
	"github.com/dojima-foundation/tee-auth-sub000/crypto/shamir"
	"github.com/dojima-foundation/tee-auth-sub000/quorum/state"
	"github.com/dojima-foundation/tee-auth-sub000/quorum/store"
)

// selfTestMessage is the fixed plaintext the ceremony encrypts and
// signs with the freshly generated quorum key, to prove both
// operations succeed before the seed is ever relied upon.
const selfTestMessage = "quorum-genesis-self-test"

// Custodian is one recipient of a Shamir share, identified by alias and
// the P-256 encryption public key its share will be sealed to.
type Custodian struct {
	Alias         string
	EncryptPublic *keypair.EncryptPublic
}

// EncryptedShare is one custodian's Shamir share, sealed to that
// custodian's own public key, alongside the SHA-512 hash of the
// plaintext share, which a custodian can check after decrypting to
// confirm it received the share the ceremony intended.
type EncryptedShare struct {
	CustodianAlias string
	Envelope       *envelope.Envelope
	ShareHash      [64]byte
}

// SelfTest is the ceremony's proof that the freshly generated quorum
// key pair can actually encrypt and sign.
type SelfTest struct {
	Envelope  *envelope.Envelope
	Signature []byte
}

// Output is everything the genesis ceremony produces. The master seed
// itself is not included: it is zeroized before Boot returns.
type Output struct {
	QuorumSigningPublic []byte
	Commitment          [64]byte
	Shares              []EncryptedShare
	SelfTest            SelfTest
	DisasterRecovery    *envelope.Envelope
}

// Config configures one genesis ceremony.
type Config struct {
	Custodians []Custodian
	Threshold  int

	// DisasterRecoveryPublic, if set, additionally wraps the whole
	// master seed to a recovery key outside the custodian set.
	DisasterRecoveryPublic *keypair.EncryptPublic

	// PersistShares controls whether the raw Shamir shares are also
	// written, in plaintext, to the local store. The original system
	// does this unconditionally; this knob lets a caller whose store
	// is reachable outside the enclave trust boundary opt out. Default
	// (zero value) is true.
	PersistShares *bool
}

func (c Config) persistShares() bool {
	return c.PersistShares == nil || *c.PersistShares
}

// Boot runs the genesis ceremony: generate a quorum signing pair,
// split its private scalar across custodians, encrypt each share,
// compute a domain-separated commitment, self-test the pair, optionally
// wrap the seed for disaster recovery, persist the plaintext shares,
// and zeroize the seed. machine is transitioned WaitingForBootInstruction
// -> GenesisBooted at the start of the ceremony and GenesisBooted ->
// QuorumKeyProvisioned once the key is installed; it may be nil if the
// caller does not track phase.
func Boot(st *store.Store, machine *state.Machine, cfg Config, log *zap.Logger) (*Output, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if len(cfg.Custodians) == 0 {
		return nil, errors.New("genesis: at least one custodian is required")
	}
	if cfg.Threshold < 2 {
		return nil, errors.New("genesis: threshold must be at least 2")
	}

	if machine != nil {
		if err := machine.Transition(state.GenesisBooted); err != nil {
			return nil, errors.Wrap(err, "genesis: transitioning state machine")
		}
	}

	quorumPair, err := keypair.GenerateSigningPair()
	if err != nil {
		return nil, errors.Wrap(err, "genesis: generating quorum signing pair")
	}
	seed := quorumPair.PrivateScalar()
	defer zeroize(seed)

	log.Info("genesis ceremony starting",
		zap.Int("custodians", len(cfg.Custodians)),
		zap.Int("threshold", cfg.Threshold))

	rawShares, err := shamir.Split(seed, cfg.Threshold, len(cfg.Custodians))
	if err != nil {
		return nil, errors.Wrap(err, "genesis: splitting quorum seed")
	}

	encryptedShares, err := encryptShares(cfg.Custodians, rawShares)
	if err != nil {
		return nil, err
	}

	commitment := commit(seed)

	selfTest, err := runSelfTest(quorumPair)
	if err != nil {
		return nil, err
	}

	var drEnvelope *envelope.Envelope
	if cfg.DisasterRecoveryPublic != nil {
		drEnvelope, err = cfg.DisasterRecoveryPublic.Encrypt(seed)
		if err != nil {
			return nil, errors.Wrap(err, "genesis: wrapping seed for disaster recovery")
		}
	}

	if cfg.persistShares() {
		plain := make([][]byte, len(rawShares))
		for i, s := range rawShares {
			plain[i] = append([]byte{s.X}, s.Y...)
		}
		if err := st.PutShares(plain); err != nil {
			return nil, errors.Wrap(err, "genesis: persisting shares")
		}
	}

	if err := st.PutQuorumKey(seed); err != nil {
		return nil, errors.Wrap(err, "genesis: persisting quorum key")
	}

	if machine != nil {
		if err := machine.Transition(state.QuorumKeyProvisioned); err != nil {
			return nil, errors.Wrap(err, "genesis: transitioning state machine")
		}
	}

	log.Info("genesis ceremony complete", zap.String("commitment", hex.EncodeToString(commitment[:8])))

	return &Output{
		QuorumSigningPublic: quorumPair.Public().Bytes(),
		Commitment:          commitment,
		Shares:              encryptedShares,
		SelfTest:            selfTest,
		DisasterRecovery:    drEnvelope,
	}, nil
}

// encryptShares seals each raw share to its custodian's public key
// concurrently, one goroutine per custodian, aggregating any failures.
func encryptShares(custodians []Custodian, rawShares []shamir.Share) ([]EncryptedShare, error) {
	if len(custodians) != len(rawShares) {
		return nil, errors.New("genesis: custodian count does not match share count")
	}

	out := make([]EncryptedShare, len(custodians))
	errCh := make(chan error, len(custodians))
	var wg sync.WaitGroup

	for i := range custodians {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			custodian := custodians[i]
			share := rawShares[i]
			shareBytes := append([]byte{share.X}, share.Y...)

			env, err := custodian.EncryptPublic.Encrypt(shareBytes)
			if err != nil {
				errCh <- errors.Wrapf(err, "genesis: encrypting share for %s", custodian.Alias)
				return
			}
			hash := sha512.Sum512(shareBytes)
			out[i] = EncryptedShare{
				CustodianAlias: custodian.Alias,
				Envelope:       env,
				ShareHash:      hash,
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	var result *multierror.Error
	for err := range errCh {
		result = multierror.Append(result, err)
	}
	if result.ErrorOrNil() != nil {
		return nil, result
	}
	return out, nil
}

// commit computes the domain-separated commitment to the master seed:
// sha_512(hex_encode(seed)).
func commit(seed []byte) [64]byte {
	return sha512.Sum512([]byte(hex.EncodeToString(seed)))
}

// runSelfTest proves the freshly generated quorum key pair can encrypt
// and sign by encrypting and signing a fixed message with its own
// derived encryption and signing capabilities.
func runSelfTest(quorumPair *keypair.SigningPair) (SelfTest, error) {
	encryptPair, err := keypair.EncryptPairFromSeed(quorumPair.PrivateScalar())
	if err != nil {
		return SelfTest{}, errors.Wrap(err, "genesis: deriving self-test encryption pair")
	}

	env, err := encryptPair.Public().Encrypt([]byte(selfTestMessage))
	if err != nil {
		return SelfTest{}, errors.Wrap(err, "genesis: self-test encryption failed")
	}

	// Sign the fixed plaintext itself, not the envelope: the envelope's
	// ciphertext is randomized per call (fresh ephemeral key, fresh
	// nonce), so signing it would make the signature unverifiable
	// against anything but this one ceremony's output. Signing the
	// known constant lets any observer check, after reconstruction,
	// that this signature verifies under the restored key's public key.
	digest := sha256.Sum256([]byte(selfTestMessage))
	sig, err := quorumPair.Sign(digest[:])
	if err != nil {
		return SelfTest{}, errors.Wrap(err, "genesis: self-test signing failed")
	}

	return SelfTest{Envelope: env, Signature: sig}, nil
}

func zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
