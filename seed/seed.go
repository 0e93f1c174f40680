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

// Package seed implements the mnemonic generation, validation, and
// hierarchical key derivation interface this engine delegates to for
// anything downstream of the reconstructed quorum key. Mnemonic
// derivation and address formatting sit outside this engine's
// cryptographic trust boundary; this package exists so a caller has a
// real implementation to route to, not a stub.
package seed

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcutil"
	"github.com/btcsuite/btcutil/hdkeychain"
	"github.com/pkg/errors"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/ripemd160"
	"golang.org/x/crypto/sha3"
)

// SupportedCurve is the only derivation curve this package implements.
// DeriveKey and DeriveAddress reject any other curve name explicitly
// rather than silently defaulting to it.
const SupportedCurve = "secp256k1"

const mnemonicPassphraseSalt = "mnemonic"

// GenerateSeed produces a fresh mnemonic of strengthBits of entropy
// (must be a multiple of 8, between 128 and 256) plus one checksum
// byte, encoded as wordlist entries.
func GenerateSeed(strengthBits int) (string, error) {
	if strengthBits < 128 || strengthBits > 256 || strengthBits%8 != 0 {
		return "", errors.New("seed: strength must be a multiple of 8 between 128 and 256")
	}

	entropy := make([]byte, strengthBits/8)
	if _, err := rand.Read(entropy); err != nil {
		return "", errors.Wrap(err, "seed: generating entropy")
	}

	checksum := sha3.Sum256(entropy)
	withChecksum := append(entropy, checksum[0])

	words := make([]string, len(withChecksum))
	for i, b := range withChecksum {
		words[i] = wordlist[b]
	}
	return strings.Join(words, " "), nil
}

// ValidateSeed reports whether mnemonic is a well-formed mnemonic
// produced by GenerateSeed: every word must be in the wordlist, and the
// trailing checksum byte must match the SHA3-256 digest of the
// preceding entropy bytes.
func ValidateSeed(mnemonic string) (bool, error) {
	words := strings.Fields(mnemonic)
	if len(words) < 2 {
		return false, errors.New("seed: mnemonic too short")
	}

	index := make(map[string]byte, len(wordlist))
	for i, w := range wordlist {
		index[w] = byte(i)
	}

	bytes := make([]byte, len(words))
	for i, w := range words {
		b, ok := index[w]
		if !ok {
			return false, errors.Errorf("seed: unknown word %q", w)
		}
		bytes[i] = b
	}

	entropy, checksum := bytes[:len(bytes)-1], bytes[len(bytes)-1]
	expected := sha3.Sum256(entropy)
	return expected[0] == checksum, nil
}

// DeriveKey derives the private key at path from mnemonic, using
// PBKDF2-HMAC-SHA512 to stretch the mnemonic into a BIP-32 seed (as
// BIP-39 itself does) and BIP-32 hierarchical derivation over curve.
// Only secp256k1 is supported.
func DeriveKey(mnemonic, path, curve string) (*btcec.PrivateKey, error) {
	if curve != SupportedCurve {
		return nil, errors.Errorf("seed: unsupported curve %q", curve)
	}

	stretched := pbkdf2.Key([]byte(mnemonic), []byte(mnemonicPassphraseSalt), 2048, 64, sha512.New)

	master, err := hdkeychain.NewMaster(stretched, &chaincfg.MainNetParams)
	if err != nil {
		return nil, errors.Wrap(err, "seed: deriving master key")
	}

	segments, err := parsePath(path)
	if err != nil {
		return nil, err
	}

	current := master
	for _, segment := range segments {
		current, err = current.Derive(segment)
		if err != nil {
			return nil, errors.Wrapf(err, "seed: deriving path segment %d", segment)
		}
	}

	ecPriv, err := current.ECPrivKey()
	if err != nil {
		return nil, errors.Wrap(err, "seed: extracting EC private key")
	}

	priv, _ := btcec.PrivKeyFromBytes(ecPriv.Serialize())
	return priv, nil
}

// DeriveAddress formats priv's public key as a base58check
// pay-to-pubkey-hash address, using the standard Bitcoin mainnet
// version byte.
func DeriveAddress(priv *btcec.PrivateKey, curve string) (string, error) {
	if curve != SupportedCurve {
		return "", errors.Errorf("seed: unsupported curve %q", curve)
	}

	pubKeyHash := hash160(priv.PubKey().SerializeCompressed())
	addr, err := btcutil.NewAddressPubKeyHash(pubKeyHash, &chaincfg.MainNetParams)
	if err != nil {
		return "", errors.Wrap(err, "seed: formatting address")
	}
	return addr.EncodeAddress(), nil
}

// hash160 is SHA-256 followed by RIPEMD-160, the standard Bitcoin
// public-key-hash construction.
func hash160(b []byte) []byte {
	sha := sha256.Sum256(b)
	ripe := ripemd160.New()
	ripe.Write(sha[:])
	return ripe.Sum(nil)
}

// parsePath parses a "m/44'/60'/0'/0/0" style derivation path into
// BIP-32 child indices, applying the hardened-derivation offset for
// segments suffixed with '.
func parsePath(path string) ([]uint32, error) {
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] != "m" {
		return nil, errors.Errorf("seed: path must start with \"m\", got %q", path)
	}

	segments := make([]uint32, 0, len(parts)-1)
	for _, part := range parts[1:] {
		hardened := strings.HasSuffix(part, "'")
		numeric := strings.TrimSuffix(part, "'")

		var n uint32
		for _, r := range numeric {
			if r < '0' || r > '9' {
				return nil, errors.Errorf("seed: invalid path segment %q", part)
			}
			n = n*10 + uint32(r-'0')
		}
		if hardened {
			n += hdkeychain.HardenedKeyStart
		}
		segments = append(segments, n)
	}
	return segments, nil
}
