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

// Package infer orchestrates the inference pipeline: grounding, unit
// propagation, sampling and result emission.
package infer

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Mode selects the inference task.
type Mode int

const (
	// ModeMarginal estimates per-atom marginal probabilities with
	// MC-SAT.
	ModeMarginal Mode = iota
	// ModeMAP searches for a minimum-cost assignment with WalkSAT.
	ModeMAP
)

func (m Mode) String() string {
	switch m {
	case ModeMarginal:
		return "marginal"
	case ModeMAP:
		return "map"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ErrConfig is wrapped by configuration validation failures.
var ErrConfig = errors.New("invalid configuration")

// Options hold the run configuration.
type Options struct {
	Mode Mode

	// HardWeight is the threshold above which a clause weight makes
	// the clause hard.
	HardWeight float64
	// MaxFlips is the WalkSAT per-try flip budget; 0 derives it from
	// the atom count.
	MaxFlips int
	// MaxTries is the WalkSAT restart count; 0 means 3.
	MaxTries int
	// MCSATSamples is the number of MC-SAT samples.
	MCSATSamples int
	// WalkSATRandomStepProb is the random walk ratio.
	WalkSATRandomStepProb float64
	// SampleSATSAProb mixes simulated annealing into SampleSAT.
	SampleSATSAProb float64
	// SampleSATSACoef is the annealing inverse temperature.
	SampleSATSACoef float64
	// SoftEvidenceActivationThreshold is the prior lower bound for
	// soft evidence activation.
	SoftEvidenceActivationThreshold float64
	// IterativeUnitPropagate interleaves unit propagation with hard
	// clause grounding.
	IterativeUnitPropagate bool
	// UnitPropagate runs full unit propagation after grounding.
	UnitPropagate bool
	// UseBackbones computes full backbones instead of unit
	// propagation in the grounding-time solver.
	UseBackbones bool
	// MarkAllAtomsActive bypasses the activation closure.
	MarkAllAtomsActive bool
	// KeyConstraintAllowsNullLabel permits key groups with no true
	// atom.
	KeyConstraintAllowsNullLabel bool
	// MaxClauses caps the ground clause count; 0 means no cap.
	MaxClauses int
	// Timeout bounds the whole run; 0 means none.
	Timeout time.Duration
	// Seed seeds all random streams.
	Seed int64
	// Chains is the number of parallel MC-SAT chains; values below 2
	// sample sequentially.
	Chains int
}

// Option configures a Driver.
type Option func(*Options)

// WithMode selects the inference task.
func WithMode(m Mode) Option { return func(o *Options) { o.Mode = m } }

// WithHardWeight sets the hardness threshold.
func WithHardWeight(w float64) Option { return func(o *Options) { o.HardWeight = w } }

// WithMaxFlips sets the WalkSAT flip budget.
func WithMaxFlips(n int) Option { return func(o *Options) { o.MaxFlips = n } }

// WithMaxTries sets the WalkSAT restart count.
func WithMaxTries(n int) Option { return func(o *Options) { o.MaxTries = n } }

// WithMCSATSamples sets the MC-SAT sample count.
func WithMCSATSamples(n int) Option { return func(o *Options) { o.MCSATSamples = n } }

// WithWalkSATRandomStepProb sets the random walk ratio.
func WithWalkSATRandomStepProb(p float64) Option {
	return func(o *Options) { o.WalkSATRandomStepProb = p }
}

// WithSampleSATSAProb sets the annealing mix of SampleSAT.
func WithSampleSATSAProb(p float64) Option { return func(o *Options) { o.SampleSATSAProb = p } }

// WithSampleSATSACoef sets the annealing inverse temperature.
func WithSampleSATSACoef(c float64) Option { return func(o *Options) { o.SampleSATSACoef = c } }

// WithSoftEvidenceActivationThreshold sets the soft evidence
// activation bound.
func WithSoftEvidenceActivationThreshold(t float64) Option {
	return func(o *Options) { o.SoftEvidenceActivationThreshold = t }
}

// WithIterativeUnitPropagate toggles grounding-time unit propagation.
func WithIterativeUnitPropagate(on bool) Option {
	return func(o *Options) { o.IterativeUnitPropagate = on }
}

// WithUnitPropagate toggles post-grounding unit propagation.
func WithUnitPropagate(on bool) Option { return func(o *Options) { o.UnitPropagate = on } }

// WithBackbones selects backbone computation in the grounding-time
// solver.
func WithBackbones(on bool) Option { return func(o *Options) { o.UseBackbones = on } }

// WithMarkAllAtomsActive bypasses the activation closure.
func WithMarkAllAtomsActive(on bool) Option { return func(o *Options) { o.MarkAllAtomsActive = on } }

// WithKeyConstraintAllowsNullLabel permits empty key groups.
func WithKeyConstraintAllowsNullLabel(on bool) Option {
	return func(o *Options) { o.KeyConstraintAllowsNullLabel = on }
}

// WithMaxClauses caps the ground clause count.
func WithMaxClauses(n int) Option { return func(o *Options) { o.MaxClauses = n } }

// WithTimeout bounds the run.
func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }

// WithSeed seeds the random streams.
func WithSeed(s int64) Option { return func(o *Options) { o.Seed = s } }

// WithChains sets the number of parallel MC-SAT chains.
func WithChains(n int) Option { return func(o *Options) { o.Chains = n } }

// DefaultOptions returns the defaults the reference configuration
// documents.
func DefaultOptions() Options {
	return Options{
		Mode:                  ModeMarginal,
		HardWeight:            1e7,
		WalkSATRandomStepProb: 0.5,
		SampleSATSAProb:       0.5,
		SampleSATSACoef:       0.1,
		Seed:                  1,
	}
}

// Validate checks the configuration and aggregates every violation.
// All errors wrap ErrConfig.
func (o Options) Validate() error {
	var err error
	if o.HardWeight <= 0 {
		err = multierr.Append(err, fmt.Errorf("%w: hard weight must be positive, got %g", ErrConfig, o.HardWeight))
	}
	if o.Mode == ModeMarginal && o.MCSATSamples <= 0 {
		err = multierr.Append(err, fmt.Errorf("%w: marginal mode needs a positive sample count, got %d", ErrConfig, o.MCSATSamples))
	}
	for _, p := range []struct {
		name string
		v    float64
	}{
		{"walksat random step probability", o.WalkSATRandomStepProb},
		{"samplesat annealing probability", o.SampleSATSAProb},
	} {
		if p.v < 0 || p.v > 1 {
			err = multierr.Append(err, fmt.Errorf("%w: %s must be in [0,1], got %g", ErrConfig, p.name, p.v))
		}
	}
	if o.SampleSATSACoef < 0 {
		err = multierr.Append(err, fmt.Errorf("%w: annealing coefficient must be nonnegative, got %g", ErrConfig, o.SampleSATSACoef))
	}
	if o.MaxClauses < 0 {
		err = multierr.Append(err, fmt.Errorf("%w: clause ceiling must be nonnegative, got %d", ErrConfig, o.MaxClauses))
	}
	return err
}
