// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dagtest

import "math"

// PRNG is a 32-bit linear congruential generator (Numerical Recipes
// constants). Test DAGs built from the same seed are identical.
type PRNG struct {
	state uint32
}

// NewPRNG seeds a generator.
func NewPRNG(seed uint32) *PRNG {
	return &PRNG{state: seed}
}

// Next returns a float in [0, 1).
func (p *PRNG) Next() float64 {
	p.state = 1664525*p.state + 1013904223
	return float64(p.state) / 4294967296.0
}

// NextInt returns an integer in [min, max].
func (p *PRNG) NextInt(min, max int) int {
	return int(math.Floor(p.Next()*float64(max-min+1))) + min
}
