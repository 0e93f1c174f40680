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

// Package api is the in-process request/response seam a transport layer
// calls into: GenerateSeed, ValidateSeed, DeriveKey, DeriveAddress, and
// GetInfo, the same operation set the original enclave exposed past its
// own trust boundary. Genesis, reconstruction, and peer forwarding are
// boot-time operations driven directly through the quorum/* packages by
// a supervising process, not through this request/response seam, which
// mirrors how the source system kept those two concerns separate.
//
// The HTTP/JSON transport and the host-enclave socket framing that
// would carry these requests across a process boundary are out of
// scope; Dispatcher is the seam such a transport would call into.
package api

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/dojima-foundation/tee-auth-sub000/quorum/state"
	"github.com/dojima-foundation/tee-auth-sub000/quorum/store"
	"github.com/dojima-foundation/tee-auth-sub000/seed"
)

// Kind discriminates a Request/Response's payload shape.
type Kind string

const (
	KindGenerateSeed  Kind = "generate_seed"
	KindValidateSeed  Kind = "validate_seed"
	KindDeriveKey     Kind = "derive_key"
	KindDeriveAddress Kind = "derive_address"
	KindGetInfo       Kind = "get_info"
)

// Request is one operation invocation, with Payload holding the
// kind-specific JSON body.
type Request struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Response is the result of dispatching a Request.
type Response struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// ErrorKind classifies a dispatch failure for transport-layer status
// mapping (400 structural input errors, 500 internal errors, 503 the
// engine is not yet ready to serve this operation).
type ErrorKind int

const (
	ErrStructuralInput ErrorKind = iota
	ErrInternal
	ErrUnavailable
)

// Error is the typed error Dispatch returns; a transport maps Kind to
// its own status code space (400/500/503 in an HTTP transport).
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string { return e.Message }

func structuralError(format string, args ...interface{}) error {
	return &Error{Kind: ErrStructuralInput, Message: errors.Errorf(format, args...).Error()}
}

func internalError(err error) error {
	return &Error{Kind: ErrInternal, Message: err.Error()}
}

// Dispatcher routes requests to the seed package and reports engine
// readiness from the phase state machine and store.
type Dispatcher struct {
	machine *state.Machine
	store   *store.Store
}

// NewDispatcher creates a Dispatcher backed by machine and st.
func NewDispatcher(machine *state.Machine, st *store.Store) *Dispatcher {
	return &Dispatcher{machine: machine, store: st}
}

// Dispatch routes req to its handler and returns the handler's
// response, or a typed Error if the request is malformed or the
// handler fails.
func (d *Dispatcher) Dispatch(req Request) (*Response, error) {
	switch req.Kind {
	case KindGenerateSeed:
		return d.handleGenerateSeed(req.Payload)
	case KindValidateSeed:
		return d.handleValidateSeed(req.Payload)
	case KindDeriveKey:
		return d.handleDeriveKey(req.Payload)
	case KindDeriveAddress:
		return d.handleDeriveAddress(req.Payload)
	case KindGetInfo:
		return d.handleGetInfo()
	default:
		return nil, structuralError("api: unknown request kind %q", req.Kind)
	}
}

type generateSeedRequest struct {
	StrengthBits int `json:"strength_bits"`
}
type generateSeedResponse struct {
	Mnemonic string `json:"mnemonic"`
}

func (d *Dispatcher) handleGenerateSeed(payload json.RawMessage) (*Response, error) {
	var req generateSeedRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, structuralError("api: invalid generate_seed payload: %s", err)
	}
	mnemonic, err := seed.GenerateSeed(req.StrengthBits)
	if err != nil {
		return nil, structuralError("api: %s", err)
	}
	return encodeResponse(KindGenerateSeed, generateSeedResponse{Mnemonic: mnemonic})
}

type validateSeedRequest struct {
	Mnemonic string `json:"mnemonic"`
}
type validateSeedResponse struct {
	Valid bool `json:"valid"`
}

func (d *Dispatcher) handleValidateSeed(payload json.RawMessage) (*Response, error) {
	var req validateSeedRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, structuralError("api: invalid validate_seed payload: %s", err)
	}
	valid, err := seed.ValidateSeed(req.Mnemonic)
	if err != nil {
		return encodeResponse(KindValidateSeed, validateSeedResponse{Valid: false})
	}
	return encodeResponse(KindValidateSeed, validateSeedResponse{Valid: valid})
}

type deriveKeyRequest struct {
	Mnemonic string `json:"mnemonic"`
	Path     string `json:"path"`
	Curve    string `json:"curve"`
}
type deriveKeyResponse struct {
	PrivateKeyHex string `json:"private_key_hex"`
}

func (d *Dispatcher) handleDeriveKey(payload json.RawMessage) (*Response, error) {
	var req deriveKeyRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, structuralError("api: invalid derive_key payload: %s", err)
	}
	priv, err := seed.DeriveKey(req.Mnemonic, req.Path, req.Curve)
	if err != nil {
		return nil, structuralError("api: %s", err)
	}
	return encodeResponse(KindDeriveKey, deriveKeyResponse{PrivateKeyHex: hexEncode(priv.Serialize())})
}

type deriveAddressRequest struct {
	Mnemonic string `json:"mnemonic"`
	Path     string `json:"path"`
	Curve    string `json:"curve"`
}
type deriveAddressResponse struct {
	Address string `json:"address"`
}

func (d *Dispatcher) handleDeriveAddress(payload json.RawMessage) (*Response, error) {
	var req deriveAddressRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, structuralError("api: invalid derive_address payload: %s", err)
	}
	priv, err := seed.DeriveKey(req.Mnemonic, req.Path, req.Curve)
	if err != nil {
		return nil, structuralError("api: %s", err)
	}
	addr, err := seed.DeriveAddress(priv, req.Curve)
	if err != nil {
		return nil, internalError(err)
	}
	return encodeResponse(KindDeriveAddress, deriveAddressResponse{Address: addr})
}

type getInfoResponse struct {
	Phase      string      `json:"phase"`
	StoreState store.State `json:"store_state"`
}

func (d *Dispatcher) handleGetInfo() (*Response, error) {
	info := getInfoResponse{
		Phase:      d.machine.Current().String(),
		StoreState: d.store.GetState(),
	}
	return encodeResponse(KindGetInfo, info)
}

func encodeResponse(kind Kind, v interface{}) (*Response, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, internalError(err)
	}
	return &Response{Kind: kind, Payload: payload}, nil
}

func hexEncode(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = digits[c>>4]
		out[i*2+1] = digits[c&0x0f]
	}
	return string(out)
}
