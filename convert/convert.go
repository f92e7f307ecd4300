// Copyright 2010-2024 Google LLC
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

// Package convert turns annotated two-stage stochastic programs into
// SMPS input files.
//
// The external converter (ConvertExternal) takes one model instance
// per scenario, writes the full SMPS file set for each in parallel and
// merges them, verifying along the way that every scenario agrees on
// the deterministic problem structure. The embedded converter
// (ConvertEmbedded) takes a single model whose uncertainty lives in
// mutable parameters with attached discrete distributions.
package convert

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	log "github.com/golang/glog"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/optgo/smps/corewriter"
	"github.com/optgo/smps/model"
)

// ProblemStats summarizes a converted problem. The structural counts
// are taken from the reference scenario after the consistency checks
// confirmed every scenario agrees on them.
type ProblemStats struct {
	NumScenarios          int
	FirstStageVars        int
	SecondStageVars       int
	FirstStageCons        int
	SecondStageCons       int
	StochasticRHSCount    int
	StochasticMatrixCount int
	StochasticCostCount   int
}

type scenarioResult struct {
	counts scenarioCounts
	files  scenarioFiles
}

// ConvertExternal converts a two-stage stochastic program given as one
// model instance per scenario into SMPS files under opts.OutputDir:
// <basename>.cor, <basename>.tim and <basename>.sto, plus auxiliary
// .row/.col/.sto.struct/.det files when KeepAuxiliaryFiles is set.
//
// Scenarios are converted concurrently, one goroutine per scenario;
// the builders in instances must not be shared between scenarios.
// Each builder is restored to its input state before returning. The
// first scenario of the tree serves as the reference: its files are
// promoted to the merged outputs, and every other scenario's
// structural files must match it byte for byte unless
// DisableConsistencyChecks is set.
func ConvertExternal(opts Options, tree *model.ScenarioTree, instances map[string]*model.Builder) (*ProblemStats, error) {
	opts = opts.withDefaults()
	format, err := corewriter.ParseFormat(opts.CoreFormat)
	if err != nil {
		return nil, err
	}
	if err := tree.Validate(); err != nil {
		return nil, err
	}
	scenarios := tree.Scenarios()
	for _, scen := range scenarios {
		if instances[scen.Name] == nil {
			return nil, errors.Errorf("no model instance supplied for scenario %q", scen.Name)
		}
	}

	scenDir := filepath.Join(opts.OutputDir, "scenario_files")
	if err := os.MkdirAll(scenDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create scenario directory %s", scenDir)
	}

	results := make([]scenarioResult, len(scenarios))
	var g errgroup.Group
	for i, scen := range scenarios {
		i, scen := i, scen
		g.Go(func() error {
			if opts.Verbose {
				log.Infof("converting scenario %s", scen.Name)
			}
			counts, files, err := convertScenario(opts, format, tree, scen, instances[scen.Name], scenDir)
			if err != nil {
				return errors.Wrapf(err, "scenario %s", scen.Name)
			}
			results[i] = scenarioResult{counts: counts, files: files}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ref := results[0]
	if !opts.DisableConsistencyChecks {
		if err := checkConsistency(ref, results[1:], scenarios); err != nil {
			return nil, err
		}
	} else if opts.Verbose {
		log.Warning("cross-scenario consistency checks are disabled")
	}

	out := func(suffix string) string { return filepath.Join(opts.OutputDir, opts.Basename+suffix) }
	ext := format.String()
	promotions := []struct{ src, dst string }{
		{ref.files.core, out(".cor")},
		{ref.files.row, out(".row")},
		{ref.files.col, out(".col")},
		{ref.files.tim, out(".tim")},
		{ref.files.struc, out(".sto.struct")},
		{ref.files.det, out("." + ext + ".det")},
	}
	for _, p := range promotions {
		if err := copyFile(p.src, p.dst); err != nil {
			return nil, err
		}
	}

	if err := mergeStoFiles(out(".sto"), opts.Basename, results); err != nil {
		return nil, err
	}

	if !opts.KeepScenarioFiles {
		for _, r := range results {
			for _, p := range []string{r.files.core, r.files.row, r.files.col, r.files.tim,
				r.files.sto, r.files.struc, r.files.det, r.files.setup} {
				os.Remove(p)
			}
		}
		os.Remove(scenDir)
	} else {
		// The setup-pass files are intermediates either way.
		for _, r := range results {
			os.Remove(r.files.setup)
		}
	}
	if !opts.KeepAuxiliaryFiles {
		for _, suffix := range []string{".row", ".col", ".sto.struct", "." + ext + ".det"} {
			os.Remove(out(suffix))
		}
	}

	stats := &ProblemStats{
		NumScenarios:          len(scenarios),
		FirstStageVars:        ref.counts.firstStageVars,
		SecondStageVars:       ref.counts.secondStageVars,
		FirstStageCons:        ref.counts.firstStageCons,
		SecondStageCons:       ref.counts.secondStageCons,
		StochasticRHSCount:    ref.counts.stochasticRHS,
		StochasticMatrixCount: ref.counts.stochasticMatrix,
		StochasticCostCount:   ref.counts.stochasticCost,
	}
	if opts.Verbose {
		log.Infof("converted %d scenarios: %d+%d variables, %d+%d constraints",
			stats.NumScenarios, stats.FirstStageVars, stats.SecondStageVars,
			stats.FirstStageCons, stats.SecondStageCons)
	}
	return stats, nil
}

// checkConsistency diffs every scenario's structural files against the
// reference scenario's. The files carry no scenario-specific values,
// so any byte difference means the scenarios disagree on the
// deterministic problem structure.
func checkConsistency(ref scenarioResult, others []scenarioResult, scenarios []model.TreeScenario) error {
	type check struct {
		refPath string
		path    func(scenarioFiles) string
		hint    string
	}
	checks := []check{
		{ref.files.row, func(f scenarioFiles) string { return f.row },
			"The set of constraint rows or their stage classification differs across " +
				"scenario models. The row structure of every scenario must be identical."},
		{ref.files.col, func(f scenarioFiles) string { return f.col },
			"The set of variable columns or their stage classification differs across " +
				"scenario models. The column structure of every scenario must be identical."},
		{ref.files.tim, func(f scenarioFiles) string { return f.tim },
			"The time stage boundary differs across scenario models."},
		{ref.files.struc, func(f scenarioFiles) string { return f.struc },
			"The locations of stochastic data differ across scenario models. This " +
				"can be caused by data that changes across scenarios but was not " +
				"declared in a stochastic annotation."},
		{ref.files.det, func(f scenarioFiles) string { return f.det },
			"One or more deterministic parts of the problem differ across scenario " +
				"models. This can be caused by data that changes across scenarios but " +
				"was not declared in a stochastic annotation."},
	}
	for i, r := range others {
		if ref.counts != r.counts {
			return &ConsistencyError{
				Scenario: scenarios[i+1].Name,
				Hint: fmt.Sprintf("scenario sizes disagree with reference scenario %s: %+v vs %+v",
					scenarios[0].Name, ref.counts, r.counts),
			}
		}
		for _, c := range checks {
			same, err := sameContents(c.refPath, c.path(r.files))
			if err != nil {
				return err
			}
			if !same {
				return &ConsistencyError{File: c.refPath, ScenarioFile: c.path(r.files), Hint: c.hint}
			}
		}
	}
	return nil
}

// mergeStoFiles concatenates the per-scenario stochastic blocks under
// a BLOCKS DISCRETE REPLACE header.
func mergeStoFiles(path, basename string, results []scenarioResult) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create stochastic file %s", path)
	}
	fmt.Fprintf(f, "STOCH %s\n", basename)
	fmt.Fprintf(f, "BLOCKS DISCRETE REPLACE\n")
	for _, r := range results {
		src, err := os.Open(r.files.sto)
		if err != nil {
			f.Close()
			return errors.Wrapf(err, "open scenario stochastic file %s", r.files.sto)
		}
		_, err = io.Copy(f, src)
		src.Close()
		if err != nil {
			f.Close()
			return errors.Wrapf(err, "merge scenario stochastic file %s", r.files.sto)
		}
	}
	fmt.Fprintf(f, "ENDATA\n")
	return f.Close()
}

func sameContents(a, b string) (bool, error) {
	da, err := os.ReadFile(a)
	if err != nil {
		return false, errors.Wrapf(err, "read %s", a)
	}
	db, err := os.ReadFile(b)
	if err != nil {
		return false, errors.Wrapf(err, "read %s", b)
	}
	return bytes.Equal(da, db), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "open %s", src)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrapf(err, "create %s", dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.Wrapf(err, "copy %s to %s", src, dst)
	}
	return out.Close()
}
