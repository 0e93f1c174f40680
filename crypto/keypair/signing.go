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

// Package keypair defines the two distinct P-256 key pair types used in
// the quorum key lifecycle: SigningPair for ECDSA signatures and
// EncryptPair for ECIES encryption. The two are kept as separate Go
// types over the same 32-byte-scalar/65-byte-SEC1-point shape so a
// signing key can never be handed to an encryption call by mistake.
package keypair

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"math/big"

	"github.com/pkg/errors"
)

var curve = elliptic.P256()

// SigningPair is a P-256 ECDSA key pair used only for signing.
type SigningPair struct {
	priv *ecdsa.PrivateKey
}

// SigningPublic is the public half of a SigningPair, used only for
// signature verification.
type SigningPublic struct {
	pub *ecdsa.PublicKey
}

// GenerateSigningPair creates a new random P-256 signing pair.
func GenerateSigningPair() (*SigningPair, error) {
	priv, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "keypair: generating signing pair")
	}
	return &SigningPair{priv: priv}, nil
}

// SigningPairFromSeed derives a signing pair from a 32-byte master seed
// used directly as the private scalar.
func SigningPairFromSeed(seed []byte) (*SigningPair, error) {
	if len(seed) != 32 {
		return nil, errors.New("keypair: seed must be 32 bytes")
	}
	d := new(big.Int).SetBytes(seed)
	if d.Sign() == 0 || d.Cmp(curve.Params().N) >= 0 {
		return nil, errors.New("keypair: seed is not a valid P-256 scalar")
	}
	x, y := curve.ScalarBaseMult(seed)
	priv := &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: curve, X: x, Y: y},
		D:         d,
	}
	return &SigningPair{priv: priv}, nil
}

// Public returns the public half of the pair.
func (p *SigningPair) Public() *SigningPublic {
	return &SigningPublic{pub: &p.priv.PublicKey}
}

// Sign produces a DER-encoded ECDSA signature over digest. digest must
// already be hashed by the caller; Sign passes it straight through to
// ecdsa.SignASN1 without hashing it again.
func (p *SigningPair) Sign(digest []byte) ([]byte, error) {
	sig, err := ecdsa.SignASN1(rand.Reader, p.priv, digest)
	if err != nil {
		return nil, errors.Wrap(err, "keypair: signing")
	}
	return sig, nil
}

// PrivateScalar returns the 32-byte big-endian private scalar.
func (p *SigningPair) PrivateScalar() []byte {
	return leftPad32(p.priv.D.Bytes())
}

// Bytes returns the 65-byte SEC1 uncompressed public point.
func (p *SigningPublic) Bytes() []byte {
	return elliptic.Marshal(curve, p.pub.X, p.pub.Y)
}

// Verify checks a DER-encoded ECDSA signature over digest. Signatures
// must always be DER; this package never accepts or produces raw
// R||S-concatenated signatures.
func (p *SigningPublic) Verify(digest, sig []byte) bool {
	return ecdsa.VerifyASN1(p.pub, digest, sig)
}

// ParseSigningPublic parses a 65-byte SEC1 uncompressed P-256 point.
func ParseSigningPublic(b []byte) (*SigningPublic, error) {
	x, y := elliptic.Unmarshal(curve, b)
	if x == nil {
		return nil, errors.New("keypair: invalid P-256 public key encoding")
	}
	return &SigningPublic{pub: &ecdsa.PublicKey{Curve: curve, X: x, Y: y}}, nil
}

func leftPad32(b []byte) []byte {
	if len(b) >= 32 {
		return b[len(b)-32:]
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}
