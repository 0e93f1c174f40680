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

// Package store implements the write-once persistent key store backing
// the quorum key lifecycle: five fixed slots, each written at most once,
// with a single permitted mutation (ephemeral key rotation).
package store

import (
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

const (
	ephemeralKeyFile     = "ephemeral_key"
	quorumKeyFile        = "quorum_key"
	pivotFile            = "pivot"
	manifestEnvelopeFile = "manifest_envelope"
	sharesFile           = "shares"

	readOnlyMode = 0o444
	testMode     = 0o644
	pivotMode    = 0o755
)

// State reports which of the five store slots are currently populated.
type State struct {
	EphemeralKey     bool
	QuorumKey        bool
	Pivot            bool
	ManifestEnvelope bool
	Shares           bool
}

// Store is the mutex-guarded write-once key store. At most one of a
// Store's mutex or a state.Machine's mutex is ever held at a time.
type Store struct {
	mu      sync.Mutex
	baseDir string
}

// New creates a Store rooted at baseDir, creating the directory if it
// does not exist. If baseDir's name contains "test_", files are
// written with a permissive mode instead of read-only, so test
// harnesses can clean up after themselves.
func New(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "store: creating base directory")
	}
	return &Store{baseDir: baseDir}, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.baseDir, name)
}

func (s *Store) fileMode() os.FileMode {
	if strings.Contains(s.baseDir, "test_") {
		return testMode
	}
	return readOnlyMode
}

// writeOnce writes data to name, hex-encoded, failing if the file
// already exists.
func (s *Store) writeOnce(name string, data []byte) error {
	p := s.path(name)
	if _, err := os.Stat(p); err == nil {
		return errors.Errorf("store: %s already written", name)
	} else if !os.IsNotExist(err) {
		return errors.Wrapf(err, "store: checking %s", name)
	}

	encoded := []byte(hex.EncodeToString(data))
	if err := os.WriteFile(p, encoded, s.fileMode()); err != nil {
		return errors.Wrapf(err, "store: writing %s", name)
	}
	// os.WriteFile applies mode before umask only on creation; chmod
	// explicitly to guarantee the intended permissions.
	if err := os.Chmod(p, s.fileMode()); err != nil {
		return errors.Wrapf(err, "store: setting permissions on %s", name)
	}
	return nil
}

func (s *Store) readHex(name string) ([]byte, error) {
	raw, err := os.ReadFile(s.path(name))
	if err != nil {
		return nil, errors.Wrapf(err, "store: reading %s", name)
	}
	decoded, err := hex.DecodeString(string(raw))
	if err != nil {
		return nil, errors.Wrapf(err, "store: decoding %s", name)
	}
	return decoded, nil
}

func (s *Store) exists(name string) bool {
	_, err := os.Stat(s.path(name))
	return err == nil
}

// PutEphemeralKey writes the ephemeral P-256 scalar. Write-once.
func (s *Store) PutEphemeralKey(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeOnce(ephemeralKeyFile, key)
}

// GetEphemeralKey reads the ephemeral P-256 scalar.
func (s *Store) GetEphemeralKey() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readHex(ephemeralKeyFile)
}

// HasEphemeralKey reports whether the ephemeral key slot is populated.
func (s *Store) HasEphemeralKey() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exists(ephemeralKeyFile)
}

// RotateEphemeralKey is the sole permitted mutation in this store:
// it removes the existing ephemeral key, if any, and writes key in its
// place. Rotation is only meaningful once a quorum key has been
// installed, so it is rejected before then.
func (s *Store) RotateEphemeralKey(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.exists(quorumKeyFile) {
		return errors.New("store: cannot rotate ephemeral key before quorum key is provisioned")
	}
	if s.exists(ephemeralKeyFile) {
		if err := os.Remove(s.path(ephemeralKeyFile)); err != nil {
			return errors.Wrap(err, "store: removing existing ephemeral key")
		}
	}
	return s.writeOnce(ephemeralKeyFile, key)
}

// PutQuorumKey writes the quorum master seed. Write-once.
func (s *Store) PutQuorumKey(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeOnce(quorumKeyFile, key)
}

// GetQuorumKey reads the quorum master seed.
func (s *Store) GetQuorumKey() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readHex(quorumKeyFile)
}

// HasQuorumKey reports whether the quorum key slot is populated.
func (s *Store) HasQuorumKey() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exists(quorumKeyFile)
}

// PutPivot writes the pivot executable. Write-once, and additionally
// made executable (mode 0755) after writing.
func (s *Store) PutPivot(binary []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.path(pivotFile)
	if _, err := os.Stat(p); err == nil {
		return errors.New("store: pivot already written")
	}
	if err := os.WriteFile(p, binary, pivotMode); err != nil {
		return errors.Wrap(err, "store: writing pivot")
	}
	if err := os.Chmod(p, pivotMode); err != nil {
		return errors.Wrap(err, "store: setting pivot permissions")
	}
	return nil
}

// GetPivot reads the pivot executable bytes.
func (s *Store) GetPivot() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(s.path(pivotFile))
	if err != nil {
		return nil, errors.Wrap(err, "store: reading pivot")
	}
	return b, nil
}

// HasPivot reports whether the pivot slot is populated.
func (s *Store) HasPivot() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exists(pivotFile)
}

// PutManifestEnvelope writes the serialized manifest envelope.
// Write-once.
func (s *Store) PutManifestEnvelope(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeOnce(manifestEnvelopeFile, data)
}

// GetManifestEnvelope reads the serialized manifest envelope.
func (s *Store) GetManifestEnvelope() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readHex(manifestEnvelopeFile)
}

// HasManifestEnvelope reports whether the manifest envelope slot is
// populated.
func (s *Store) HasManifestEnvelope() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exists(manifestEnvelopeFile)
}

// PutShares writes the set of plaintext Shamir shares, JSON-encoded
// as a list of hex strings (the Go analogue of the original's
// length-prefixed binary list encoding). Write-once.
func (s *Store) PutShares(shares [][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.path(sharesFile)
	if _, err := os.Stat(p); err == nil {
		return errors.New("store: shares already written")
	}

	encoded := make([]string, len(shares))
	for i, sh := range shares {
		encoded[i] = hex.EncodeToString(sh)
	}
	data, err := json.Marshal(encoded)
	if err != nil {
		return errors.Wrap(err, "store: encoding shares")
	}
	if err := os.WriteFile(p, data, s.fileMode()); err != nil {
		return errors.Wrap(err, "store: writing shares")
	}
	return os.Chmod(p, s.fileMode())
}

// GetShares reads back the set of plaintext Shamir shares.
func (s *Store) GetShares() ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path(sharesFile))
	if err != nil {
		return nil, errors.Wrap(err, "store: reading shares")
	}
	var encoded []string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, errors.Wrap(err, "store: decoding shares")
	}
	shares := make([][]byte, len(encoded))
	for i, e := range encoded {
		b, err := hex.DecodeString(e)
		if err != nil {
			return nil, errors.Wrap(err, "store: decoding share")
		}
		shares[i] = b
	}
	return shares, nil
}

// HasShares reports whether the shares slot is populated.
func (s *Store) HasShares() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exists(sharesFile)
}

// GetState returns a snapshot of which slots are populated.
func (s *Store) GetState() State {
	return State{
		EphemeralKey:     s.HasEphemeralKey(),
		QuorumKey:        s.HasQuorumKey(),
		Pivot:            s.HasPivot(),
		ManifestEnvelope: s.HasManifestEnvelope(),
		Shares:           s.HasShares(),
	}
}
