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

// Package reconstruct implements the custodian share reconstruction
// waiter: custodians submit shares out of band as they become
// available, and the waiter reconstructs the quorum key once enough
// have arrived, or gives up after a configured timeout.
package reconstruct

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/dojima-foundation/tee-auth-sub000/crypto/keypair"
	"github.com/dojima-foundation/tee-auth-sub000/crypto/shamir"
	"github.com/dojima-foundation/tee-auth-sub000/quorum/state"
	"github.com/dojima-foundation/tee-auth-sub000/quorum/store"
)

// Status is the waiter's lifecycle state.
type Status int

const (
	StatusWaiting Status = iota
	StatusReconstructing
	StatusReconstructed
	StatusTimeout
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusWaiting:
		return "Waiting"
	case StatusReconstructing:
		return "Reconstructing"
	case StatusReconstructed:
		return "Reconstructed"
	case StatusTimeout:
		return "Timeout"
	case StatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Config configures one waiter instance.
type Config struct {
	MaxWaitTime   time.Duration
	CheckInterval time.Duration
	MinShares     int
}

// DefaultConfig matches the original system's defaults: a five-minute
// timeout, a one-second poll interval, and a minimum of two shares.
func DefaultConfig() Config {
	return Config{
		MaxWaitTime:   300 * time.Second,
		CheckInterval: time.Second,
		MinShares:     2,
	}
}

// Waiter collects custodian shares and reconstructs the quorum key once
// a quorum of them has arrived. A Waiter is single-shot: once it
// reaches a terminal status (Reconstructed, Timeout, or Error) it does
// not accept further shares or reconstruction attempts.
type Waiter struct {
	mu     sync.Mutex
	cfg    Config
	shares map[string]shamir.Share
	status Status
	err    error

	store   *store.Store
	machine *state.Machine
	log     *zap.Logger
}

// New creates a Waiter backed by st, using cfg for timing and
// threshold. A zero-value Config is replaced with DefaultConfig.
// machine is transitioned from WaitingForQuorumShards to
// QuorumKeyProvisioned when reconstruction succeeds; it may be nil if
// the caller does not track phase.
func New(st *store.Store, machine *state.Machine, cfg Config, log *zap.Logger) *Waiter {
	if cfg.MaxWaitTime == 0 && cfg.CheckInterval == 0 && cfg.MinShares == 0 {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Waiter{
		cfg:     cfg,
		shares:  make(map[string]shamir.Share),
		status:  StatusWaiting,
		store:   st,
		machine: machine,
		log:     log,
	}
}

// Status returns the waiter's current lifecycle state.
func (w *Waiter) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Err returns the error that moved the waiter to StatusError, if any.
func (w *Waiter) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// AddShare records a custodian's share. Re-submitting the same alias
// with an identical share is a no-op; submitting the same alias with a
// different share is rejected as a collision. AddShare is refused once
// the waiter has reached a terminal status.
func (w *Waiter) AddShare(alias string, share shamir.Share) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.status != StatusWaiting {
		return errors.Errorf("reconstruct: cannot add share, waiter is %s", w.status)
	}

	if existing, ok := w.shares[alias]; ok {
		if existing.X == share.X && string(existing.Y) == string(share.Y) {
			return nil
		}
		return errors.Errorf("reconstruct: alias %q already submitted a different share", alias)
	}

	w.shares[alias] = share
	w.log.Info("share received", zap.String("alias", alias), zap.Int("have", len(w.shares)), zap.Int("need", w.cfg.MinShares))
	return nil
}

// shareCount returns the number of distinct shares collected so far.
func (w *Waiter) shareCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.shares)
}

// Run polls until a quorum of shares has arrived and reconstruction
// succeeds, the configured timeout elapses, ctx is canceled, or
// reconstruction fails outright. It returns the waiter's terminal
// status; the same value is available afterward via Status.
func (w *Waiter) Run(ctx context.Context) Status {
	if s := w.Status(); s != StatusWaiting {
		return s
	}

	deadline := time.Now().Add(w.cfg.MaxWaitTime)
	ticker := time.NewTicker(w.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		if w.shareCount() >= w.cfg.MinShares {
			return w.reconstruct()
		}
		if time.Now().After(deadline) {
			w.setStatus(StatusTimeout, nil)
			return StatusTimeout
		}

		select {
		case <-ctx.Done():
			w.setStatus(StatusError, ctx.Err())
			return StatusError
		case <-ticker.C:
		}
	}
}

func (w *Waiter) setStatus(s Status, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = s
	w.err = err
}

// reconstruct attempts to rebuild and persist the quorum key from the
// shares collected so far.
func (w *Waiter) reconstruct() Status {
	w.mu.Lock()
	w.status = StatusReconstructing
	collected := make([]shamir.Share, 0, len(w.shares))
	var invalid *multierror.Error
	for alias, s := range w.shares {
		if len(s.Y) == 0 {
			invalid = multierror.Append(invalid, errors.Errorf("reconstruct: share from %q is empty", alias))
			continue
		}
		collected = append(collected, s)
	}
	w.mu.Unlock()

	if invalid.ErrorOrNil() != nil {
		w.setStatus(StatusError, invalid)
		return StatusError
	}

	// shamir.Reconstruct has no notion of the original threshold and
	// will happily return a wrong value given too few shares; this is
	// the one place in the system that must enforce MinShares itself.
	if len(collected) < w.cfg.MinShares {
		w.setStatus(StatusError, errors.Errorf("reconstruct: need at least %d shares, have %d", w.cfg.MinShares, len(collected)))
		return StatusError
	}

	seed, err := shamir.Reconstruct(collected)
	if err != nil {
		w.setStatus(StatusError, errors.Wrap(err, "reconstruct: reconstruction failed"))
		return StatusError
	}
	if len(seed) != 32 {
		w.setStatus(StatusError, errors.Errorf("reconstruct: reconstructed seed has wrong length %d", len(seed)))
		return StatusError
	}
	if _, err := keypair.SigningPairFromSeed(seed); err != nil {
		w.setStatus(StatusError, errors.Wrap(err, "reconstruct: reconstructed seed is not a valid scalar"))
		return StatusError
	}

	if err := w.store.PutQuorumKey(seed); err != nil {
		w.setStatus(StatusError, errors.Wrap(err, "reconstruct: persisting quorum key"))
		return StatusError
	}

	if w.machine != nil {
		if err := w.machine.Transition(state.QuorumKeyProvisioned); err != nil {
			w.setStatus(StatusError, errors.Wrap(err, "reconstruct: transitioning state machine"))
			return StatusError
		}
	}

	w.log.Info("quorum key reconstructed", zap.Int("shares_used", len(collected)))
	w.setStatus(StatusReconstructed, nil)
	return StatusReconstructed
}
