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

package keypair

import (
	"crypto/ecdh"
	"crypto/rand"

	"github.com/pkg/errors"

	"github.com/dojima-foundation/tee-auth-sub000/crypto/envelope"
)

var p256ecdh = ecdh.P256()

// EncryptPair is a P-256 key pair used only for ECIES encryption,
// distinct at the type level from SigningPair even though both are
// P-256 keys.
type EncryptPair struct {
	priv *ecdh.PrivateKey
}

// EncryptPublic is the public half of an EncryptPair.
type EncryptPublic struct {
	pub *ecdh.PublicKey
}

// GenerateEncryptPair creates a new random P-256 encryption pair.
func GenerateEncryptPair() (*EncryptPair, error) {
	priv, err := p256ecdh.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "keypair: generating encrypt pair")
	}
	return &EncryptPair{priv: priv}, nil
}

// EncryptPairFromSeed derives an encryption pair from a 32-byte master
// seed used directly as the private scalar.
func EncryptPairFromSeed(seed []byte) (*EncryptPair, error) {
	priv, err := p256ecdh.NewPrivateKey(seed)
	if err != nil {
		return nil, errors.Wrap(err, "keypair: seed is not a valid P-256 scalar")
	}
	return &EncryptPair{priv: priv}, nil
}

// Public returns the public half of the pair.
func (p *EncryptPair) Public() *EncryptPublic {
	return &EncryptPublic{pub: p.priv.PublicKey()}
}

// PrivateScalar returns the 32-byte private scalar.
func (p *EncryptPair) PrivateScalar() []byte {
	return p.priv.Bytes()
}

// Decrypt decrypts an envelope addressed to this pair's public key.
func (p *EncryptPair) Decrypt(env *envelope.Envelope) ([]byte, error) {
	return envelope.Decrypt(p.priv.Bytes(), env)
}

// Bytes returns the 65-byte SEC1 uncompressed public point.
func (p *EncryptPublic) Bytes() []byte {
	return p.pub.Bytes()
}

// Encrypt hybrid-encrypts plaintext to this public key, always routing
// through the full ECIES envelope: a fresh ephemeral key pair, an
// HMAC-SHA-512 key derivation step, and AES-256-GCM. This never returns
// plaintext unchanged.
func (p *EncryptPublic) Encrypt(plaintext []byte) (*envelope.Envelope, error) {
	return envelope.Encrypt(p.pub.Bytes(), plaintext)
}

// ParseEncryptPublic parses a 65-byte SEC1 uncompressed P-256 point.
func ParseEncryptPublic(b []byte) (*EncryptPublic, error) {
	pub, err := p256ecdh.NewPublicKey(b)
	if err != nil {
		return nil, errors.Wrap(err, "keypair: invalid P-256 public key encoding")
	}
	return &EncryptPublic{pub: pub}, nil
}
