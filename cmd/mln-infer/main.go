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

// Binary mln-infer runs marginal or MAP inference over a Markov Logic
// Network: a normalized model file, a tab-separated evidence file, and
// a run configuration.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"codeberg.org/TauCeti/mln-go/ast"
	"codeberg.org/TauCeti/mln-go/groundstore"
	"codeberg.org/TauCeti/mln-go/infer"
	"codeberg.org/TauCeti/mln-go/program"
)

var (
	modelPath    = flag.String("model", "", "normalized model file (YAML)")
	evidencePath = flag.String("evidence", "", "evidence file (TSV)")
	configPath   = flag.String("config", "", "optional run configuration file (YAML)")
	outPath      = flag.String("out", "", "output file; stdout if empty")
	mode         = flag.String("mode", "marginal", "inference mode: marginal or map")
	samples      = flag.Int("samples", 1000, "number of MC-SAT samples")
	seed         = flag.Int64("seed", 1, "random seed")
	timeout      = flag.Duration("timeout", 0, "overall deadline, e.g. 30s; 0 means none")
	storeKind    = flag.String("store", "mem", "join engine: mem or sqlite")
	dbPath       = flag.String("db", "", "sqlite database path; in-memory if empty")
)

// runConfig is the YAML form of the full option table.
type runConfig struct {
	HardWeight                      float64 `yaml:"hard_weight"`
	MaxFlips                        int     `yaml:"max_flips"`
	MaxTries                        int     `yaml:"max_tries"`
	MCSATSamples                    int     `yaml:"mcsat_samples"`
	WalkSATRandomStepProbability    float64 `yaml:"walksat_random_step_probability"`
	SimulatedAnnealingSampleSATProb float64 `yaml:"simulated_annealing_samplesat_prob"`
	SampleSATSACoef                 float64 `yaml:"samplesat_sa_coef"`
	SoftEvidenceThreshold           float64 `yaml:"soft_evidence_activation_threshold"`
	IterativeUnitPropagate          *bool   `yaml:"iterative_unit_propagate"`
	UnitPropagate                   *bool   `yaml:"unit_propagate"`
	UseBackbones                    bool    `yaml:"use_backbones"`
	MarkAllAtomsActive              bool    `yaml:"mark_all_atoms_active"`
	KeyConstraintAllowsNullLabel    *bool   `yaml:"key_constraint_allows_null_label"`
	MaxClauses                      int     `yaml:"max_clauses"`
	Chains                          int     `yaml:"chains"`
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: mln-infer -model <model.yaml> -evidence <db.tsv> [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Runs MC-SAT marginal inference or WalkSAT MAP inference.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExit codes:\n")
		fmt.Fprintf(os.Stderr, "  0  Success (including timeout with partial results)\n")
		fmt.Fprintf(os.Stderr, "  1  Hard contradiction\n")
		fmt.Fprintf(os.Stderr, "  2  Invalid configuration\n")
		fmt.Fprintf(os.Stderr, "  3  Ground clause ceiling exceeded\n")
		fmt.Fprintf(os.Stderr, "  4  Other error\n")
	}
	flag.Parse()

	if *modelPath == "" {
		flag.Usage()
		os.Exit(2)
	}
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "mln-infer: %v\n", err)
		os.Exit(infer.ExitCode(err))
	}
}

func run() error {
	options := []infer.Option{
		infer.WithMCSATSamples(*samples),
		infer.WithSeed(*seed),
		infer.WithIterativeUnitPropagate(true),
		infer.WithUnitPropagate(true),
	}
	opts := infer.DefaultOptions()
	if *configPath != "" {
		raw, err := os.ReadFile(*configPath)
		if err != nil {
			return err
		}
		var rc runConfig
		if err := yaml.Unmarshal(raw, &rc); err != nil {
			return fmt.Errorf("parse config %s: %w", *configPath, err)
		}
		options = append(options, configOptions(rc)...)
	}
	switch *mode {
	case "marginal":
		options = append(options, infer.WithMode(infer.ModeMarginal))
	case "map":
		options = append(options, infer.WithMode(infer.ModeMAP))
	default:
		return fmt.Errorf("%w: unknown mode %q", infer.ErrConfig, *mode)
	}
	if *timeout > 0 {
		options = append(options, infer.WithTimeout(*timeout))
	}
	for _, o := range options {
		o(&opts)
	}

	var store groundstore.Store
	var register func(*ast.Predicate) error
	switch *storeKind {
	case "mem":
		ms := groundstore.NewMemStore()
		store, register = ms, ms.RegisterPredicate
	case "sqlite":
		ss, err := groundstore.NewSQLStore(*dbPath)
		if err != nil {
			return err
		}
		defer ss.Close()
		store, register = ss, ss.RegisterPredicate
	default:
		return fmt.Errorf("%w: unknown store %q", infer.ErrConfig, *storeKind)
	}

	templates, err := program.LoadModel(*modelPath, store, opts.HardWeight, register)
	if err != nil {
		return err
	}
	if *evidencePath != "" {
		if err := program.LoadEvidence(*evidencePath, store.(program.EvidenceStore)); err != nil {
			return err
		}
	}

	driver := infer.NewDriver(store, templates, func(o *infer.Options) { *o = opts })
	start := time.Now()
	res, err := driver.Run(context.Background())
	if err != nil {
		return err
	}

	out := os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	switch res.Mode {
	case infer.ModeMarginal:
		for _, m := range res.Marginals {
			fmt.Fprintf(out, "%g\t%s\n", m.Prob, m.Atom)
		}
	case infer.ModeMAP:
		for _, a := range res.MAPTrueAtoms {
			fmt.Fprintln(out, a)
		}
		fmt.Fprintf(os.Stderr, "map cost: %g\n", res.MAPCost)
	}
	fmt.Fprintf(os.Stderr,
		"run %s: %d atoms, %d clauses, %d units, %d samplesat fails, %v elapsed, timed out: %v\n",
		res.RunID, res.Metrics.NumberGroundAtoms, res.Metrics.NumberGroundClauses,
		res.Metrics.NumberUnits, res.Metrics.MCSATStepsWhereSampleSatFails,
		time.Since(start).Round(time.Millisecond), res.TimedOut)
	return nil
}

// configOptions maps the YAML configuration onto driver options. Zero
// values of optional numerics keep the defaults; tri-state booleans use
// pointers.
func configOptions(rc runConfig) []infer.Option {
	var out []infer.Option
	if rc.HardWeight > 0 {
		out = append(out, infer.WithHardWeight(rc.HardWeight))
	}
	if rc.MaxFlips > 0 {
		out = append(out, infer.WithMaxFlips(rc.MaxFlips))
	}
	if rc.MaxTries > 0 {
		out = append(out, infer.WithMaxTries(rc.MaxTries))
	}
	if rc.MCSATSamples > 0 {
		out = append(out, infer.WithMCSATSamples(rc.MCSATSamples))
	}
	if rc.WalkSATRandomStepProbability > 0 {
		out = append(out, infer.WithWalkSATRandomStepProb(rc.WalkSATRandomStepProbability))
	}
	if rc.SimulatedAnnealingSampleSATProb > 0 {
		out = append(out, infer.WithSampleSATSAProb(rc.SimulatedAnnealingSampleSATProb))
	}
	if rc.SampleSATSACoef > 0 {
		out = append(out, infer.WithSampleSATSACoef(rc.SampleSATSACoef))
	}
	if rc.SoftEvidenceThreshold > 0 {
		out = append(out, infer.WithSoftEvidenceActivationThreshold(rc.SoftEvidenceThreshold))
	}
	if rc.IterativeUnitPropagate != nil {
		out = append(out, infer.WithIterativeUnitPropagate(*rc.IterativeUnitPropagate))
	}
	if rc.UnitPropagate != nil {
		out = append(out, infer.WithUnitPropagate(*rc.UnitPropagate))
	}
	if rc.UseBackbones {
		out = append(out, infer.WithBackbones(true))
	}
	if rc.MarkAllAtomsActive {
		out = append(out, infer.WithMarkAllAtomsActive(true))
	}
	if rc.KeyConstraintAllowsNullLabel != nil {
		out = append(out, infer.WithKeyConstraintAllowsNullLabel(*rc.KeyConstraintAllowsNullLabel))
	}
	if rc.MaxClauses > 0 {
		out = append(out, infer.WithMaxClauses(rc.MaxClauses))
	}
	if rc.Chains > 0 {
		out = append(out, infer.WithChains(rc.Chains))
	}
	return out
}
