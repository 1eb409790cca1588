// Copyright 2024 The mln-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sample

import (
	"math/rand"
)

// Streams are the per-phase random number streams, split
// deterministically from one seed so runs are reproducible.
type Streams struct {
	// Init draws fresh assignments.
	Init *rand.Rand
	// WalkSAT drives clause and atom picks.
	WalkSAT *rand.Rand
	// SA drives the annealing branch of SampleSAT.
	SA *rand.Rand
	// Retention drives MC-SAT clause retention.
	Retention *rand.Rand
}

// splitmix advances a 64-bit mix; used only to derive stream seeds.
func splitmix(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

// NewStreams splits the seed into the per-phase streams.
func NewStreams(seed int64) *Streams {
	s := uint64(seed)
	next := func() *rand.Rand {
		s = splitmix(s)
		return rand.New(rand.NewSource(int64(s)))
	}
	return &Streams{
		Init:      next(),
		WalkSAT:   next(),
		SA:        next(),
		Retention: next(),
	}
}
