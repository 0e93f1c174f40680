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

// Package approval verifies the opaque (signer_alias, signature_bytes)
// approvals custodians attach to a manifest envelope. A custodian may
// approve with either a P-256 ECDSA signature or an Ed25519 signature;
// the scheme is tagged by a one-byte prefix on the signature blob so
// the manifest assembler never needs to know a custodian's key type in
// advance.
package approval

import (
	"github.com/agl/ed25519"
	"github.com/pkg/errors"

	"github.com/dojima-foundation/tee-auth-sub000/crypto/keypair"
)

// Scheme identifies which signature algorithm produced an approval.
type Scheme byte

const (
	SchemeP256 Scheme = 1
	SchemeEd25519 Scheme = 2
)

// SignP256 produces a scheme-tagged approval blob from a P-256 DER
// signature over digest.
func SignP256(pair *keypair.SigningPair, digest []byte) ([]byte, error) {
	sig, err := pair.Sign(digest)
	if err != nil {
		return nil, errors.Wrap(err, "approval: signing with P-256 key")
	}
	return append([]byte{byte(SchemeP256)}, sig...), nil
}

// SignEd25519 produces a scheme-tagged approval blob from an Ed25519
// signature over message.
func SignEd25519(priv *[64]byte, message []byte) []byte {
	sig := ed25519.Sign(priv, message)
	return append([]byte{byte(SchemeEd25519)}, sig[:]...)
}

// PublicKey is one custodian's approval public key, holding exactly one
// of the two supported schemes.
type PublicKey struct {
	Scheme  Scheme
	P256    *keypair.SigningPublic
	Ed25519 *[32]byte
}

// NewP256PublicKey wraps a P-256 signing public key for approval
// verification.
func NewP256PublicKey(pub *keypair.SigningPublic) PublicKey {
	return PublicKey{Scheme: SchemeP256, P256: pub}
}

// NewEd25519PublicKey wraps an Ed25519 public key for approval
// verification.
func NewEd25519PublicKey(pub *[32]byte) PublicKey {
	return PublicKey{Scheme: SchemeEd25519, Ed25519: pub}
}

// Verify checks a scheme-tagged approval blob against the message that
// was approved. For SchemeP256, message must be the digest that was
// signed; for SchemeEd25519, message is the raw signed payload, since
// Ed25519 hashes internally.
func (pk PublicKey) Verify(message, blob []byte) error {
	if len(blob) < 1 {
		return errors.New("approval: empty signature blob")
	}
	scheme := Scheme(blob[0])
	if scheme != pk.Scheme {
		return errors.Errorf("approval: signature scheme %d does not match custodian's registered scheme %d", scheme, pk.Scheme)
	}
	sig := blob[1:]

	switch scheme {
	case SchemeP256:
		if pk.P256 == nil {
			return errors.New("approval: custodian has no registered P-256 key")
		}
		if !pk.P256.Verify(message, sig) {
			return errors.New("approval: P-256 signature does not verify")
		}
		return nil
	case SchemeEd25519:
		if pk.Ed25519 == nil {
			return errors.New("approval: custodian has no registered Ed25519 key")
		}
		if len(sig) != 64 {
			return errors.New("approval: Ed25519 signature has wrong length")
		}
		var sigArr [64]byte
		copy(sigArr[:], sig)
		if !ed25519.Verify(pk.Ed25519, message, &sigArr) {
			return errors.New("approval: Ed25519 signature does not verify")
		}
		return nil
	default:
		return errors.Errorf("approval: unsupported signature scheme %d", scheme)
	}
}
