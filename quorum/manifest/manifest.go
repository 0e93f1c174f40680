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

// Package manifest assembles and validates the manifest envelope: the
// namespace, code measurements, pivot configuration, and the two
// independent custodian sets (one approving the manifest itself, one
// approving the share set) that gate a quorum key's use.
package manifest

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/dojima-foundation/tee-auth-sub000/approval"
	"github.com/dojima-foundation/tee-auth-sub000/quorum/attestation"
)

// Member is one custodian entry in a manifest's member set.
type Member struct {
	Alias  string `json:"alias"`
	PubKey []byte `json:"pub_key"`
}

// MemberSet is a custodian set together with how many of its members
// must approve.
type MemberSet struct {
	Threshold uint32   `json:"threshold"`
	Members   []Member `json:"members"`
}

// Namespace identifies the deployment this manifest governs and
// carries the quorum's public key.
type Namespace struct {
	Name      string `json:"name"`
	Nonce     uint64 `json:"nonce"`
	QuorumKey []byte `json:"quorum_key"`
}

// CodeMeasurements are the enclave code-identity measurements a peer
// compares against its own before trusting an attestation document.
type CodeMeasurements struct {
	PCR0               []byte `json:"pcr0"`
	PCR1               []byte `json:"pcr1"`
	PCR2               []byte `json:"pcr2"`
	PCR3               []byte `json:"pcr3"`
	AWSRootCertificate []byte `json:"aws_root_certificate"`
	Commit             string `json:"commit"`
}

// RestartPolicy controls what happens when the pivot executable exits.
type RestartPolicy string

const (
	RestartNever  RestartPolicy = "never"
	RestartAlways RestartPolicy = "always"
)

// PivotConfig names the application binary the manifest launches.
type PivotConfig struct {
	Hash    [32]byte      `json:"hash"`
	Restart RestartPolicy `json:"restart"`
	Args    []string      `json:"args"`
}

// Manifest is the full, hashable description of one deployment.
type Manifest struct {
	Namespace   Namespace        `json:"namespace"`
	Enclave     CodeMeasurements `json:"enclave"`
	Pivot       PivotConfig      `json:"pivot"`
	ManifestSet MemberSet        `json:"manifest_set"`
	ShareSet    MemberSet        `json:"share_set"`
}

// Approval is one custodian's opaque approval of a manifest envelope.
type Approval struct {
	SignerAlias string `json:"signer_alias"`
	Signature   []byte `json:"signature"`
}

// Envelope bundles a manifest with the approvals collected for its two
// custodian sets.
type Envelope struct {
	Manifest             Manifest   `json:"manifest"`
	ManifestSetApprovals []Approval `json:"manifest_set_approvals"`
	ShareSetApprovals    []Approval `json:"share_set_approvals"`
}

// Assemble builds a manifest envelope with no approvals yet attached.
func Assemble(
	namespaceName string,
	namespaceNonce uint64,
	quorumPublicKey []byte,
	measurements CodeMeasurements,
	pivot PivotConfig,
	manifestSet MemberSet,
	shareSet MemberSet,
) (*Envelope, error) {
	env := &Envelope{
		Manifest: Manifest{
			Namespace: Namespace{
				Name:      namespaceName,
				Nonce:     namespaceNonce,
				QuorumKey: quorumPublicKey,
			},
			Enclave:     measurements,
			Pivot:       pivot,
			ManifestSet: manifestSet,
			ShareSet:    shareSet,
		},
	}
	if err := Validate(env); err != nil {
		return nil, err
	}
	return env, nil
}

// Hash computes the manifest's canonical SHA-256 hash, over its JSON
// serialization, matching how the original system hashes the manifest
// for signing and verification.
func Hash(m Manifest) ([32]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return [32]byte{}, errors.Wrap(err, "manifest: serializing manifest")
	}
	return attestation.HashManifest(data), nil
}

// Validate checks structural invariants: both custodian sets must have
// a non-zero threshold no greater than their member count, the
// namespace name must be non-empty, and the quorum key must be present.
func Validate(env *Envelope) error {
	m := env.Manifest

	if m.ManifestSet.Threshold == 0 {
		return errors.New("manifest: manifest set threshold cannot be zero")
	}
	if int(m.ManifestSet.Threshold) > len(m.ManifestSet.Members) {
		return errors.New("manifest: manifest set threshold cannot exceed member count")
	}
	if m.ShareSet.Threshold == 0 {
		return errors.New("manifest: share set threshold cannot be zero")
	}
	if int(m.ShareSet.Threshold) > len(m.ShareSet.Members) {
		return errors.New("manifest: share set threshold cannot exceed member count")
	}
	if m.Namespace.Name == "" {
		return errors.New("manifest: namespace name cannot be empty")
	}
	if len(m.Namespace.QuorumKey) == 0 {
		return errors.New("manifest: quorum key cannot be empty")
	}
	return nil
}

// VerifyApprovals checks that at least set.Threshold of the approvals
// verify against their claimed signer's public key in keysByAlias, over
// the manifest hash. Unknown signer aliases and signatures that fail to
// verify are simply not counted; VerifyApprovals only errors if the
// resulting count falls short of the threshold.
func VerifyApprovals(set MemberSet, approvals []Approval, keysByAlias map[string]approval.PublicKey, manifestHash [32]byte) error {
	valid := 0
	for _, a := range approvals {
		key, ok := keysByAlias[a.SignerAlias]
		if !ok {
			continue
		}
		if err := key.Verify(manifestHash[:], a.Signature); err == nil {
			valid++
		}
	}
	if valid < int(set.Threshold) {
		return errors.Errorf("manifest: only %d of required %d approvals verified", valid, set.Threshold)
	}
	return nil
}
