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

// Package attestation models the attestation document exchanged during
// peer-to-peer quorum key forwarding, and the freshness/measurement
// checks a donor applies before trusting it. The attestation signature
// scheme itself (e.g. a hardware enclave's signing key) is out of
// scope; this package treats a document as already having passed that
// check and focuses on the fields this engine is responsible for.
package attestation

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/dojima-foundation/tee-auth-sub000/crypto/keypair"
)

// maxAge is the freshness window: a document older than this is
// rejected.
const maxAge = 5 * time.Minute

// Document is the attestation payload a requester presents to a donor
// before the donor will export the quorum key to it.
type Document struct {
	TimestampMs  int64  `json:"timestamp_ms"`
	ManifestHash []byte `json:"manifest_hash"`
	PublicKey    []byte `json:"public_key,omitempty"`
	PCR0         []byte `json:"pcr0"`
	PCR1         []byte `json:"pcr1"`
	PCR2         []byte `json:"pcr2"`
	PCR3         []byte `json:"pcr3"`
}

// Marshal serializes the document to JSON.
func (d *Document) Marshal() ([]byte, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, errors.Wrap(err, "attestation: marshaling document")
	}
	return b, nil
}

// Unmarshal parses a JSON-encoded document.
func Unmarshal(data []byte) (*Document, error) {
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, errors.Wrap(err, "attestation: unmarshaling document")
	}
	return &d, nil
}

// Measurements is the set of code-measurement PCRs a donor compares
// against its own when verifying a peer's attestation document.
type Measurements struct {
	ManifestHash [32]byte
	PCR0         []byte
	PCR1         []byte
	PCR2         []byte
	PCR3         []byte
}

// Manager creates and verifies attestation documents on behalf of one
// enclave instance, bound to that instance's own code measurements.
type Manager struct {
	measurements Measurements
}

// NewManager creates a Manager bound to the given manifest hash and
// PCR values.
func NewManager(m Measurements) *Manager {
	return &Manager{measurements: m}
}

// GenerateEphemeralKey creates a fresh P-256 encryption key pair to
// bind into an attestation document for one handshake.
func (m *Manager) GenerateEphemeralKey() (*keypair.EncryptPair, error) {
	return keypair.GenerateEncryptPair()
}

// CreateDocument builds a fresh attestation document asserting this
// manager's own measurements and binding ephemeralPublic.
func (m *Manager) CreateDocument(ephemeralPublic *keypair.EncryptPublic, now time.Time) *Document {
	return &Document{
		TimestampMs:  now.UnixMilli(),
		ManifestHash: append([]byte(nil), m.measurements.ManifestHash[:]...),
		PublicKey:    ephemeralPublic.Bytes(),
		PCR0:         m.measurements.PCR0,
		PCR1:         m.measurements.PCR1,
		PCR2:         m.measurements.PCR2,
		PCR3:         m.measurements.PCR3,
	}
}

// Verify checks doc's freshness (within maxAge of now), that its
// manifest hash and all four PCRs match this manager's own
// measurements, and that it carries an ephemeral public key.
func (m *Manager) Verify(doc *Document, now time.Time) error {
	age := now.Sub(time.UnixMilli(doc.TimestampMs))
	if age < 0 {
		age = -age
	}
	if age > maxAge {
		return errors.Errorf("attestation: document is stale (age %s exceeds %s)", age, maxAge)
	}

	if !bytes.Equal(doc.ManifestHash, m.measurements.ManifestHash[:]) {
		return errors.New("attestation: manifest hash mismatch")
	}
	if !bytes.Equal(doc.PCR0, m.measurements.PCR0) ||
		!bytes.Equal(doc.PCR1, m.measurements.PCR1) ||
		!bytes.Equal(doc.PCR2, m.measurements.PCR2) ||
		!bytes.Equal(doc.PCR3, m.measurements.PCR3) {
		return errors.New("attestation: PCR mismatch")
	}
	if len(doc.PublicKey) == 0 {
		return errors.New("attestation: document missing ephemeral public key")
	}
	return nil
}

// ExtractEphemeralPublicKey parses the ephemeral public key a
// requester bound into doc.
func ExtractEphemeralPublicKey(doc *Document) (*keypair.EncryptPublic, error) {
	if len(doc.PublicKey) == 0 {
		return nil, errors.New("attestation: document has no public key")
	}
	return keypair.ParseEncryptPublic(doc.PublicKey)
}

// HashManifest computes the manifest hash a Measurements value expects,
// exposed so callers assembling a manifest can derive the same 32-byte
// digest without importing the manifest package.
func HashManifest(canonical []byte) [32]byte {
	return sha256.Sum256(canonical)
}
