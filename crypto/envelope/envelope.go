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

// Package envelope implements the hybrid ECIES encryption scheme used
// throughout the quorum key lifecycle: an ephemeral P-256 ECDH exchange,
// an HMAC-SHA-512 key derivation step, and AES-256-GCM authenticated
// encryption, serialized into a fixed binary layout.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"encoding/binary"

	"github.com/pkg/errors"
)

// kdfMessage is the domain-separation constant mixed into every key
// derivation, matching the original enclave's HMAC message.
const kdfMessage = "qos_encryption_hmac_message"

const (
	nonceSize          = 12
	uncompressedP256Len = 65
)

// Envelope is the self-contained wire format of an encrypted message:
// the GCM nonce, the ephemeral sender public key used for this message
// only, and the AEAD ciphertext (which includes the GCM tag).
type Envelope struct {
	Nonce                 [nonceSize]byte
	EphemeralSenderPublic [uncompressedP256Len]byte
	Ciphertext            []byte
}

// Marshal serializes the envelope as nonce || ephemeral_sender_public ||
// ciphertext.
func (e *Envelope) Marshal() []byte {
	out := make([]byte, 0, nonceSize+uncompressedP256Len+len(e.Ciphertext))
	out = append(out, e.Nonce[:]...)
	out = append(out, e.EphemeralSenderPublic[:]...)
	out = append(out, e.Ciphertext...)
	return out
}

// Unmarshal parses the fixed-layout wire format produced by Marshal.
func Unmarshal(data []byte) (*Envelope, error) {
	if len(data) < nonceSize+uncompressedP256Len {
		return nil, errors.New("envelope: data too short")
	}
	e := &Envelope{}
	copy(e.Nonce[:], data[:nonceSize])
	copy(e.EphemeralSenderPublic[:], data[nonceSize:nonceSize+uncompressedP256Len])
	e.Ciphertext = append([]byte(nil), data[nonceSize+uncompressedP256Len:]...)
	return e, nil
}

var p256 = ecdh.P256()

// Encrypt encrypts plaintext to receiverPublic (a 65-byte SEC1
// uncompressed P-256 point), generating a fresh ephemeral key pair for
// this call. The returned envelope's EphemeralSenderPublic is that
// ephemeral key's public point, not any long-lived sender identity.
func Encrypt(receiverPublic []byte, plaintext []byte) (*Envelope, error) {
	receiverKey, err := p256.NewPublicKey(receiverPublic)
	if err != nil {
		return nil, errors.Wrap(err, "envelope: parsing receiver public key")
	}

	ephemeralPriv, err := p256.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "envelope: generating ephemeral key")
	}
	ephemeralPub := ephemeralPriv.PublicKey().Bytes()

	sharedSecret, err := ephemeralPriv.ECDH(receiverKey)
	if err != nil {
		return nil, errors.Wrap(err, "envelope: computing shared secret")
	}

	key, err := deriveKey(ephemeralPub, receiverPublic, sharedSecret)
	if err != nil {
		return nil, err
	}

	aad := additionalAuthenticatedData(ephemeralPub, receiverPublic)
	nonce, ciphertext, err := seal(key, plaintext, aad)
	if err != nil {
		return nil, err
	}

	env := &Envelope{Ciphertext: ciphertext}
	copy(env.Nonce[:], nonce)
	copy(env.EphemeralSenderPublic[:], ephemeralPub)
	return env, nil
}

// Decrypt decrypts an envelope using the receiver's 32-byte P-256
// scalar private key.
func Decrypt(receiverPrivate []byte, env *Envelope) ([]byte, error) {
	receiverKey, err := p256.NewPrivateKey(receiverPrivate)
	if err != nil {
		return nil, errors.Wrap(err, "envelope: parsing receiver private key")
	}
	senderKey, err := p256.NewPublicKey(env.EphemeralSenderPublic[:])
	if err != nil {
		return nil, errors.Wrap(err, "envelope: parsing ephemeral sender public key")
	}

	sharedSecret, err := receiverKey.ECDH(senderKey)
	if err != nil {
		return nil, errors.Wrap(err, "envelope: computing shared secret")
	}

	receiverPublic := receiverKey.PublicKey().Bytes()
	key, err := deriveKey(env.EphemeralSenderPublic[:], receiverPublic, sharedSecret)
	if err != nil {
		return nil, err
	}

	aad := additionalAuthenticatedData(env.EphemeralSenderPublic[:], receiverPublic)
	return open(key, env.Nonce[:], env.Ciphertext, aad)
}

// DecryptWithSharedSecret decrypts an envelope when the shared secret
// has already been computed out of band (e.g. via a key agreement that
// does not route through Decrypt's ECDH step).
func DecryptWithSharedSecret(receiverPublic []byte, env *Envelope, sharedSecret []byte) ([]byte, error) {
	key, err := deriveKey(env.EphemeralSenderPublic[:], receiverPublic, sharedSecret)
	if err != nil {
		return nil, err
	}
	aad := additionalAuthenticatedData(env.EphemeralSenderPublic[:], receiverPublic)
	return open(key, env.Nonce[:], env.Ciphertext, aad)
}

// EncryptSymmetric encrypts plaintext directly under key (32 bytes of
// AES-256 key material supplied out of band, not derived via ECDH). The
// returned envelope has the same wire shape as Encrypt's, with
// EphemeralSenderPublic left zeroed since no key agreement took place.
func EncryptSymmetric(key, plaintext []byte) (*Envelope, error) {
	if len(key) != 32 {
		return nil, errors.Errorf("envelope: symmetric key must be 32 bytes, got %d", len(key))
	}

	nonce, ciphertext, err := seal(key, plaintext, nil)
	if err != nil {
		return nil, err
	}

	env := &Envelope{Ciphertext: ciphertext}
	copy(env.Nonce[:], nonce)
	return env, nil
}

// DecryptSymmetric decrypts an envelope produced by EncryptSymmetric
// using the same out-of-band key. It does not inspect
// EphemeralSenderPublic.
func DecryptSymmetric(key []byte, env *Envelope) ([]byte, error) {
	if len(key) != 32 {
		return nil, errors.Errorf("envelope: symmetric key must be 32 bytes, got %d", len(key))
	}
	return open(key, env.Nonce[:], env.Ciphertext, nil)
}

// deriveKey computes the AES-256 key via HMAC-SHA-512, keyed on the
// preimage senderPub||receiverPub||sharedSecret and applied to the
// fixed domain-separation message, truncated to 32 bytes.
func deriveKey(senderPub, receiverPub, sharedSecret []byte) ([]byte, error) {
	preimage := make([]byte, 0, len(senderPub)+len(receiverPub)+len(sharedSecret))
	preimage = append(preimage, senderPub...)
	preimage = append(preimage, receiverPub...)
	preimage = append(preimage, sharedSecret...)

	mac := hmac.New(sha512.New, preimage)
	if _, err := mac.Write([]byte(kdfMessage)); err != nil {
		return nil, errors.Wrap(err, "envelope: deriving key")
	}
	digest := mac.Sum(nil)
	return digest[:32], nil
}

// additionalAuthenticatedData builds senderPub||len(senderPub)||
// receiverPub||len(receiverPub), with 8-byte big-endian lengths.
func additionalAuthenticatedData(senderPub, receiverPub []byte) []byte {
	aad := make([]byte, 0, len(senderPub)+8+len(receiverPub)+8)
	aad = append(aad, senderPub...)
	aad = binary.BigEndian.AppendUint64(aad, uint64(len(senderPub)))
	aad = append(aad, receiverPub...)
	aad = binary.BigEndian.AppendUint64(aad, uint64(len(receiverPub)))
	return aad
}

func seal(key, plaintext, aad []byte) (nonce, ciphertext []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, errors.Wrap(err, "envelope: constructing AES cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, errors.Wrap(err, "envelope: constructing GCM")
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, errors.Wrap(err, "envelope: generating nonce")
	}
	ciphertext = gcm.Seal(nil, nonce, plaintext, aad)
	return nonce, ciphertext, nil
}

func open(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "envelope: constructing AES cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "envelope: constructing GCM")
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, errors.Wrap(err, "envelope: decryption failed")
	}
	return plaintext, nil
}
