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
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"codeberg.org/TauCeti/mln-go/mrf"
)

// MCSATChains runs several independent MC-SAT chains and merges their
// tallies. Every chain samples on its own deep copy of the MRF with its
// own rng streams; only the merge under the mutex is shared. The total
// number of samples is divided across the chains.
func MCSATChains(ctx context.Context, m *mrf.MRF, o MCSATOptions, seed int64, chains int) (*Marginals, Stats, error) {
	if chains <= 1 {
		return MCSAT(ctx, m, o, NewStreams(seed))
	}
	merged := &Marginals{NTrue: make([]int64, len(m.Atoms))}
	var total Stats
	var mu sync.Mutex

	per := o.Samples / chains
	extra := o.Samples % chains
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < chains; i++ {
		i := i
		g.Go(func() error {
			co := o
			co.Samples = per
			if i < extra {
				co.Samples++
			}
			if co.Samples == 0 {
				return nil
			}
			mg, stats, err := MCSAT(ctx, m.Clone(), co, NewStreams(seed+int64(i)*7919))
			mu.Lock()
			for id := range merged.NTrue {
				merged.NTrue[id] += mg.NTrue[id]
			}
			merged.N += mg.N
			merged.SumCost += mg.SumCost
			total.Samples += stats.Samples
			total.SampleSatFails += stats.SampleSatFails
			total.SamplesAtTimeout += stats.SamplesAtTimeout
			total.ClausesAtTimeout = stats.ClausesAtTimeout
			mu.Unlock()
			return err
		})
	}
	err := g.Wait()
	return merged, total, err
}
