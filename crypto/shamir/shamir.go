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

// Package shamir implements (K, N) threshold secret sharing over
// GF(2^8), operating byte-by-byte across the secret.
package shamir

import (
	"crypto/rand"

	"github.com/pkg/errors"

	"github.com/dojima-foundation/tee-auth-sub000/crypto/gf256"
)

// Share is one custodian's portion of a split secret. X is the share's
// x-coordinate (1-255, never 0) and Y holds one GF(256) byte per byte of
// the original secret.
type Share struct {
	X uint8
	Y []byte
}

// Split divides secret into n shares such that any k of them reconstruct
// it, and no k-1 reveal anything about it. k must be at least 2 and at
// most n; n must be at most 255 since x-coordinates are non-zero bytes.
func Split(secret []byte, k, n int) ([]Share, error) {
	if len(secret) == 0 {
		return nil, errors.New("shamir: secret must not be empty")
	}
	if k < 2 {
		return nil, errors.New("shamir: threshold must be at least 2")
	}
	if n < k {
		return nil, errors.New("shamir: share count must be at least the threshold")
	}
	if n > 255 {
		return nil, errors.New("shamir: share count must not exceed 255")
	}

	shares := make([]Share, n)
	for i := range shares {
		shares[i] = Share{X: uint8(i + 1), Y: make([]byte, len(secret))}
	}

	coeffs := make([]byte, k-1)
	for byteIdx, secretByte := range secret {
		if _, err := rand.Read(coeffs); err != nil {
			return nil, errors.Wrap(err, "shamir: generating random coefficients")
		}
		for _, s := range shares {
			s.Y[byteIdx] = evalPolynomial(secretByte, coeffs, s.X)
		}
	}
	return shares, nil
}

// evalPolynomial evaluates, at point x, the degree-(len(coeffs)) polynomial
// whose constant term is secretByte and whose higher coefficients are coeffs.
func evalPolynomial(secretByte byte, coeffs []byte, x uint8) byte {
	result := secretByte
	xPow := x
	for _, c := range coeffs {
		result = gf256.Add(result, gf256.Mul(c, xPow))
		xPow = gf256.Mul(xPow, x)
	}
	return result
}

// Reconstruct recovers a secret from shares using Lagrange interpolation
// at x=0. It requires all supplied shares to have distinct
// x-coordinates and equal-length Y values, but does not know or enforce
// the threshold the shares were split with: handing it fewer than the
// original k shares succeeds mathematically and returns a value, just
// not the original secret. Enforcing a minimum share count is the
// caller's responsibility.
func Reconstruct(shares []Share) ([]byte, error) {
	if len(shares) == 0 {
		return nil, errors.New("shamir: no shares supplied")
	}
	shareLen := len(shares[0].Y)
	if shareLen == 0 {
		return nil, errors.New("shamir: shares must not be empty")
	}

	seen := make(map[uint8]bool, len(shares))
	for _, s := range shares {
		if s.X == 0 {
			return nil, errors.New("shamir: share x-coordinate must not be zero")
		}
		if seen[s.X] {
			return nil, errors.Errorf("shamir: duplicate share x-coordinate %d", s.X)
		}
		seen[s.X] = true
		if len(s.Y) != shareLen {
			return nil, errors.New("shamir: shares must have equal length")
		}
	}

	secret := make([]byte, shareLen)
	for byteIdx := 0; byteIdx < shareLen; byteIdx++ {
		secret[byteIdx] = lagrangeAtZero(shares, byteIdx)
	}
	return secret, nil
}

// lagrangeAtZero evaluates the Lagrange interpolation polynomial through
// shares at x=0, for the byte at byteIdx.
func lagrangeAtZero(shares []Share, byteIdx int) byte {
	var result uint8
	for i, si := range shares {
		num := uint8(1)
		den := uint8(1)
		for j, sj := range shares {
			if i == j {
				continue
			}
			num = gf256.Mul(num, sj.X)
			den = gf256.Mul(den, gf256.Add(sj.X, si.X))
		}
		term := gf256.Mul(si.Y[byteIdx], gf256.Div(num, den))
		result = gf256.Add(result, term)
	}
	return result
}
