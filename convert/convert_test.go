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

package convert

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/optgo/smps/model"
)

const (
	keyFirst  = 1
	keySecond = 2
)

func twoStageTree(scenarios ...model.TreeScenario) *model.ScenarioTree {
	tree := model.NewScenarioTree("FirstStage", "SecondStage")
	tree.DeclareRootKey(keyFirst, false)
	tree.DeclareLeafKey(keySecond)
	for _, s := range scenarios {
		tree.AddScenario(s.Name, s.Probability)
	}
	return tree
}

// demandInstance is the canonical two-variable test problem: buy x now,
// buy y later at a higher price, meet a scenario-dependent demand.
func demandInstance(name string, demand float64) (*model.Builder, model.Constraint) {
	mb := model.NewModelBuilder()
	mb.SetName(name)
	x := mb.NewVar(0, math.Inf(1)).WithName("x").WithStageKey(keyFirst)
	y := mb.NewVar(0, math.Inf(1)).WithName("y").WithStageKey(keySecond)
	c := mb.AddGreaterOrEqual(model.NewLinearExpr().Add(x).Add(y), demand).WithName("demand")
	mb.Minimize(model.NewLinearExpr().Add(x).AddTerm(y, 2))
	return mb, c
}

func annotateRHS(mb *model.Builder, c model.Constraint) {
	mb.Annotate(model.StochasticRHS{Entries: []model.RHSEntry{
		{Con: c.Index(), Lower: true, Upper: true},
	}})
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return string(data)
}

func TestConvertExternalStochasticRHS(t *testing.T) {
	low, lowCon := demandInstance("low", 100)
	high, highCon := demandInstance("high", 150)
	annotateRHS(low, lowCon)
	annotateRHS(high, highCon)
	tree := twoStageTree(
		model.TreeScenario{Name: "low", Probability: 0.5},
		model.TreeScenario{Name: "high", Probability: 0.5},
	)

	outDir := t.TempDir()
	opts := Options{OutputDir: outDir, Basename: "farm", KeepAuxiliaryFiles: true}
	stats, err := ConvertExternal(opts, tree, map[string]*model.Builder{"low": low, "high": high})
	if err != nil {
		t.Fatalf("ConvertExternal() returned error: %v", err)
	}

	wantStats := &ProblemStats{
		NumScenarios:       2,
		FirstStageVars:     1,
		SecondStageVars:    2, // y and ONE_VAR_CONSTANT
		FirstStageCons:     0,
		SecondStageCons:    2, // demand and the constant row
		StochasticRHSCount: 1,
	}
	if diff := cmp.Diff(wantStats, stats); diff != "" {
		t.Errorf("ProblemStats mismatch (-want +got):\n%s", diff)
	}

	wantSto := "STOCH farm\n" +
		"BLOCKS DISCRETE REPLACE\n" +
		" BL BLOCK1 PERIOD2 0.5\n" +
		"    RHS    c_l_demand    100\n" +
		" BL BLOCK1 PERIOD2 0.5\n" +
		"    RHS    c_l_demand    150\n" +
		"ENDATA\n"
	if diff := cmp.Diff(wantSto, readFile(t, filepath.Join(outDir, "farm.sto"))); diff != "" {
		t.Errorf("farm.sto mismatch (-want +got):\n%s", diff)
	}

	wantTim := "TIME farm\n" +
		"PERIODS IMPLICIT\n" +
		"    x  o_obj  TIME1\n" +
		"    y  c_l_demand  TIME2\n" +
		"ENDATA\n"
	if diff := cmp.Diff(wantTim, readFile(t, filepath.Join(outDir, "farm.tim"))); diff != "" {
		t.Errorf("farm.tim mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff("x\ny\nONE_VAR_CONSTANT\n", readFile(t, filepath.Join(outDir, "farm.col"))); diff != "" {
		t.Errorf("farm.col mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff("o_obj\nc_l_demand\nc_e_ONE_VAR_CONSTANT\n", readFile(t, filepath.Join(outDir, "farm.row"))); diff != "" {
		t.Errorf("farm.row mismatch (-want +got):\n%s", diff)
	}

	// The core file carries the reference scenario's demand value; the
	// deterministic template replaces it with the sentinel.
	if got := readFile(t, filepath.Join(outDir, "farm.cor")); !containsLine(got, "    RHS  c_l_demand  100") {
		t.Errorf("farm.cor missing reference RHS value:\n%s", got)
	}
	if got := readFile(t, filepath.Join(outDir, "farm.mps.det")); !containsLine(got, "    RHS  c_l_demand  -99999999") {
		t.Errorf("farm.mps.det missing sentinel RHS value:\n%s", got)
	}

	// Scenario files are cleaned up by default.
	if _, err := os.Stat(filepath.Join(outDir, "scenario_files")); !os.IsNotExist(err) {
		t.Errorf("scenario_files directory still exists")
	}
}

func containsLine(s, line string) bool {
	return strings.HasPrefix(s, line+"\n") || strings.Contains(s, "\n"+line+"\n")
}

func TestConvertExternalRestoresModels(t *testing.T) {
	low, lowCon := demandInstance("low", 100)
	high, highCon := demandInstance("high", 150)
	annotateRHS(low, lowCon)
	annotateRHS(high, highCon)
	tree := twoStageTree(
		model.TreeScenario{Name: "low", Probability: 0.5},
		model.TreeScenario{Name: "high", Probability: 0.5},
	)

	opts := Options{OutputDir: t.TempDir(), Basename: "farm"}
	if _, err := ConvertExternal(opts, tree, map[string]*model.Builder{"low": low, "high": high}); err != nil {
		t.Fatalf("ConvertExternal() returned error: %v", err)
	}

	if lb, _ := lowCon.Lower(); lb != 100 {
		t.Errorf("low demand bound = %v after conversion, want 100", lb)
	}
	if lb, _ := highCon.Lower(); lb != 150 {
		t.Errorf("high demand bound = %v after conversion, want 150", lb)
	}
	if got := low.Name(); got != "low" {
		t.Errorf("low.Name() = %q after conversion, want %q", got, "low")
	}
}

func TestConvertExternalDeterministic(t *testing.T) {
	outputs := make([]map[string]string, 2)
	for run := 0; run < 2; run++ {
		low, lowCon := demandInstance("low", 100)
		high, highCon := demandInstance("high", 150)
		annotateRHS(low, lowCon)
		annotateRHS(high, highCon)
		tree := twoStageTree(
			model.TreeScenario{Name: "low", Probability: 0.5},
			model.TreeScenario{Name: "high", Probability: 0.5},
		)
		outDir := t.TempDir()
		opts := Options{OutputDir: outDir, Basename: "farm", KeepAuxiliaryFiles: true}
		if _, err := ConvertExternal(opts, tree, map[string]*model.Builder{"low": low, "high": high}); err != nil {
			t.Fatalf("ConvertExternal() run %d returned error: %v", run, err)
		}
		outputs[run] = make(map[string]string)
		for _, name := range []string{"farm.cor", "farm.tim", "farm.sto", "farm.row", "farm.col", "farm.sto.struct", "farm.mps.det"} {
			outputs[run][name] = readFile(t, filepath.Join(outDir, name))
		}
	}
	if diff := cmp.Diff(outputs[0], outputs[1]); diff != "" {
		t.Errorf("outputs differ between identical runs (-run0 +run1):\n%s", diff)
	}
}

func TestConvertExternalStochasticObjective(t *testing.T) {
	build := func(name string, cost, setup float64) *model.Builder {
		mb := model.NewModelBuilder()
		mb.SetName(name)
		x := mb.NewVar(0, math.Inf(1)).WithName("x").WithStageKey(keyFirst)
		y := mb.NewVar(0, math.Inf(1)).WithName("y").WithStageKey(keySecond)
		mb.AddGreaterOrEqual(model.NewLinearExpr().Add(x).Add(y), 100).WithName("demand")
		mb.Minimize(model.NewLinearExpr().Add(x).AddTerm(y, cost).AddConstant(setup))
		mb.Annotate(model.StochasticObjective{Vars: []model.VarIndex{y.Index()}, IncludeConstant: true})
		return mb
	}
	tree := twoStageTree(
		model.TreeScenario{Name: "cheap", Probability: 0.5},
		model.TreeScenario{Name: "dear", Probability: 0.5},
	)
	outDir := t.TempDir()
	opts := Options{OutputDir: outDir, Basename: "farm", KeepAuxiliaryFiles: true}
	stats, err := ConvertExternal(opts, tree, map[string]*model.Builder{
		"cheap": build("cheap", 2, 4),
		"dear":  build("dear", 3, 6),
	})
	if err != nil {
		t.Fatalf("ConvertExternal() returned error: %v", err)
	}
	if got, want := stats.StochasticCostCount, 2; got != want {
		t.Errorf("StochasticCostCount = %v, want %v", got, want)
	}

	wantSto := "STOCH farm\n" +
		"BLOCKS DISCRETE REPLACE\n" +
		" BL BLOCK1 PERIOD2 0.5\n" +
		"    y    o_obj    2\n" +
		"    ONE_VAR_CONSTANT    o_obj    4\n" +
		" BL BLOCK1 PERIOD2 0.5\n" +
		"    y    o_obj    3\n" +
		"    ONE_VAR_CONSTANT    o_obj    6\n" +
		"ENDATA\n"
	if diff := cmp.Diff(wantSto, readFile(t, filepath.Join(outDir, "farm.sto"))); diff != "" {
		t.Errorf("farm.sto mismatch (-want +got):\n%s", diff)
	}

	// The core carries the reference scenario's cost data; the
	// deterministic template holds the sentinel for coefficients and
	// zero for the objective constant.
	cor := readFile(t, filepath.Join(outDir, "farm.cor"))
	if !containsLine(cor, "    ONE_VAR_CONSTANT  o_obj  4") {
		t.Errorf("farm.cor missing reference objective constant:\n%s", cor)
	}
	det := readFile(t, filepath.Join(outDir, "farm.mps.det"))
	if !containsLine(det, "    y  o_obj  -99999999") {
		t.Errorf("farm.mps.det missing sentinel objective coefficient:\n%s", det)
	}
	if !containsLine(det, "    ONE_VAR_CONSTANT  o_obj  0") {
		t.Errorf("farm.mps.det objective constant not zeroed:\n%s", det)
	}
}

func TestConvertExternalStochasticMatrix(t *testing.T) {
	build := func(name string, yield float64) *model.Builder {
		mb := model.NewModelBuilder()
		mb.SetName(name)
		x := mb.NewVar(0, math.Inf(1)).WithName("x").WithStageKey(keyFirst)
		y := mb.NewVar(0, math.Inf(1)).WithName("y").WithStageKey(keySecond)
		c := mb.AddGreaterOrEqual(
			model.NewLinearExpr().AddTerm(x, yield).Add(y), 100).WithName("harvest")
		mb.Minimize(model.NewLinearExpr().Add(x).AddTerm(y, 2))
		mb.Annotate(model.StochasticMatrix{Entries: []model.MatrixEntry{
			{Con: c.Index(), Vars: []model.VarIndex{x.Index()}},
		}})
		return mb
	}
	tree := twoStageTree(
		model.TreeScenario{Name: "good", Probability: 0.75},
		model.TreeScenario{Name: "bad", Probability: 0.25},
	)
	outDir := t.TempDir()
	stats, err := ConvertExternal(Options{OutputDir: outDir, Basename: "farm"}, tree,
		map[string]*model.Builder{"good": build("good", 3), "bad": build("bad", 2)})
	if err != nil {
		t.Fatalf("ConvertExternal() returned error: %v", err)
	}
	if got, want := stats.StochasticMatrixCount, 1; got != want {
		t.Errorf("StochasticMatrixCount = %v, want %v", got, want)
	}

	wantSto := "STOCH farm\n" +
		"BLOCKS DISCRETE REPLACE\n" +
		" BL BLOCK1 PERIOD2 0.75\n" +
		"    x    c_l_harvest    3\n" +
		" BL BLOCK1 PERIOD2 0.25\n" +
		"    x    c_l_harvest    2\n" +
		"ENDATA\n"
	if diff := cmp.Diff(wantSto, readFile(t, filepath.Join(outDir, "farm.sto"))); diff != "" {
		t.Errorf("farm.sto mismatch (-want +got):\n%s", diff)
	}
}

func TestConvertExternalLPFormat(t *testing.T) {
	low, lowCon := demandInstance("low", 100)
	high, highCon := demandInstance("high", 150)
	annotateRHS(low, lowCon)
	annotateRHS(high, highCon)
	tree := twoStageTree(
		model.TreeScenario{Name: "low", Probability: 0.5},
		model.TreeScenario{Name: "high", Probability: 0.5},
	)

	outDir := t.TempDir()
	opts := Options{OutputDir: outDir, Basename: "farm", CoreFormat: "lp", KeepAuxiliaryFiles: true}
	if _, err := ConvertExternal(opts, tree, map[string]*model.Builder{"low": low, "high": high}); err != nil {
		t.Fatalf("ConvertExternal() returned error: %v", err)
	}

	// LP cores have no reliable column order, so the time file lists
	// every row and column explicitly.
	wantTim := "TIME farm\n" +
		"PERIODS EXPLICIT\n" +
		"    TIME1\n" +
		"    TIME2\n" +
		"ROWS\n" +
		"    o_obj  TIME1\n" +
		"    c_l_demand  TIME2\n" +
		"    c_e_ONE_VAR_CONSTANT  TIME2\n" +
		"COLS\n" +
		"    x  TIME1\n" +
		"    y  TIME2\n" +
		"    ONE_VAR_CONSTANT  TIME2\n" +
		"ENDATA\n"
	if diff := cmp.Diff(wantTim, readFile(t, filepath.Join(outDir, "farm.tim"))); diff != "" {
		t.Errorf("farm.tim mismatch (-want +got):\n%s", diff)
	}

	cor := readFile(t, filepath.Join(outDir, "farm.cor"))
	if !strings.Contains(cor, "min\no_obj:\n") || !strings.Contains(cor, "\nc_l_demand:\n") {
		t.Errorf("farm.cor is not an LP core file:\n%s", cor)
	}
	if !containsLine(cor, ">= 100") {
		t.Errorf("farm.cor missing reference demand bound:\n%s", cor)
	}
	if det := readFile(t, filepath.Join(outDir, "farm.lp.det")); !containsLine(det, ">= -99999999") {
		t.Errorf("farm.lp.det missing sentinel demand bound:\n%s", det)
	}
}

func TestConvertExternalStochasticRHSRange(t *testing.T) {
	build := func(name string, demand float64) *model.Builder {
		mb := model.NewModelBuilder()
		mb.SetName(name)
		x := mb.NewVar(0, math.Inf(1)).WithName("x").WithStageKey(keyFirst)
		y := mb.NewVar(0, math.Inf(1)).WithName("y").WithStageKey(keySecond)
		c := mb.AddRangeConstraint(model.NewLinearExpr().Add(x).Add(y), 10, demand).WithName("demand")
		mb.Minimize(model.NewLinearExpr().Add(x).AddTerm(y, 2))
		mb.Annotate(model.StochasticRHS{Entries: []model.RHSEntry{
			{Con: c.Index(), Lower: false, Upper: true},
		}})
		return mb
	}
	tree := twoStageTree(
		model.TreeScenario{Name: "low", Probability: 0.5},
		model.TreeScenario{Name: "high", Probability: 0.5},
	)

	outDir := t.TempDir()
	opts := Options{OutputDir: outDir, Basename: "farm", KeepAuxiliaryFiles: true}
	stats, err := ConvertExternal(opts, tree,
		map[string]*model.Builder{"low": build("low", 100), "high": build("high", 150)})
	if err != nil {
		t.Fatalf("ConvertExternal() returned error: %v", err)
	}
	if got, want := stats.StochasticRHSCount, 1; got != want {
		t.Errorf("StochasticRHSCount = %v, want %v", got, want)
	}

	// Only the upper row of the range is stochastic; the lower row
	// stays deterministic.
	wantSto := "STOCH farm\n" +
		"BLOCKS DISCRETE REPLACE\n" +
		" BL BLOCK1 PERIOD2 0.5\n" +
		"    RHS    r_u_demand    100\n" +
		" BL BLOCK1 PERIOD2 0.5\n" +
		"    RHS    r_u_demand    150\n" +
		"ENDATA\n"
	if diff := cmp.Diff(wantSto, readFile(t, filepath.Join(outDir, "farm.sto"))); diff != "" {
		t.Errorf("farm.sto mismatch (-want +got):\n%s", diff)
	}

	det := readFile(t, filepath.Join(outDir, "farm.mps.det"))
	if !containsLine(det, "    RHS  r_u_demand  -99999999") {
		t.Errorf("farm.mps.det missing sentinel upper bound:\n%s", det)
	}
	if !containsLine(det, "    RHS  r_l_demand  10") {
		t.Errorf("farm.mps.det lost the deterministic lower bound:\n%s", det)
	}
}

func TestConvertExternalFirstStageConstraint(t *testing.T) {
	build := func(name string, demand float64) *model.Builder {
		mb, c := demandInstance(name, demand)
		annotateRHS(mb, c)
		// A deterministic constraint touching only first-stage
		// variables stays in the first stage.
		x := mb.Var(0)
		mb.AddLessOrEqual(model.NewLinearExpr().Add(x), 500).WithName("capacity")
		return mb
	}
	tree := twoStageTree(
		model.TreeScenario{Name: "low", Probability: 0.5},
		model.TreeScenario{Name: "high", Probability: 0.5},
	)
	stats, err := ConvertExternal(Options{OutputDir: t.TempDir(), Basename: "farm"}, tree,
		map[string]*model.Builder{"low": build("low", 100), "high": build("high", 150)})
	if err != nil {
		t.Fatalf("ConvertExternal() returned error: %v", err)
	}
	if got, want := stats.FirstStageCons, 1; got != want {
		t.Errorf("FirstStageCons = %v, want %v", got, want)
	}
	if got, want := stats.SecondStageCons, 2; got != want {
		t.Errorf("SecondStageCons = %v, want %v", got, want)
	}
}

func TestConvertExternalDetectsUndeclaredStochasticData(t *testing.T) {
	// The objective cost of y changes across scenarios but no
	// StochasticObjective annotation declares it: the deterministic
	// templates disagree and the merge must fail.
	build := func(name string, demand, cost float64) *model.Builder {
		mb := model.NewModelBuilder()
		mb.SetName(name)
		x := mb.NewVar(0, math.Inf(1)).WithName("x").WithStageKey(keyFirst)
		y := mb.NewVar(0, math.Inf(1)).WithName("y").WithStageKey(keySecond)
		c := mb.AddGreaterOrEqual(model.NewLinearExpr().Add(x).Add(y), demand).WithName("demand")
		mb.Minimize(model.NewLinearExpr().Add(x).AddTerm(y, cost))
		annotateRHS(mb, c)
		return mb
	}
	tree := twoStageTree(
		model.TreeScenario{Name: "low", Probability: 0.5},
		model.TreeScenario{Name: "high", Probability: 0.5},
	)
	_, err := ConvertExternal(Options{OutputDir: t.TempDir(), Basename: "farm"}, tree,
		map[string]*model.Builder{"low": build("low", 100, 2), "high": build("high", 150, 3)})
	var ce *ConsistencyError
	if !errors.As(err, &ce) {
		t.Fatalf("ConvertExternal() error = %v, want ConsistencyError", err)
	}

	// Disabling the checks converts anyway.
	_, err = ConvertExternal(Options{OutputDir: t.TempDir(), Basename: "farm", DisableConsistencyChecks: true}, tree,
		map[string]*model.Builder{"low": build("low", 100, 2), "high": build("high", 150, 3)})
	if err != nil {
		t.Errorf("ConvertExternal() with disabled checks returned error: %v", err)
	}
}

func TestConvertExternalErrors(t *testing.T) {
	tree := twoStageTree(model.TreeScenario{Name: "only", Probability: 1})

	t.Run("no_annotations", func(t *testing.T) {
		mb, _ := demandInstance("only", 100)
		_, err := ConvertExternal(Options{OutputDir: t.TempDir()}, tree,
			map[string]*model.Builder{"only": mb})
		if !errors.Is(err, ErrNoStochasticAnnotations) {
			t.Errorf("ConvertExternal() error = %v, want ErrNoStochasticAnnotations", err)
		}
	})

	t.Run("missing_instance", func(t *testing.T) {
		_, err := ConvertExternal(Options{OutputDir: t.TempDir()}, tree, nil)
		if err == nil {
			t.Errorf("ConvertExternal() succeeded, want error")
		}
	})

	t.Run("stochastic_variable_bounds", func(t *testing.T) {
		mb, _ := demandInstance("only", 100)
		mb.Annotate(model.StochasticVarBounds{Default: true})
		_, err := ConvertExternal(Options{OutputDir: t.TempDir()}, tree,
			map[string]*model.Builder{"only": mb})
		var ufe *UnsupportedFeatureError
		if !errors.As(err, &ufe) {
			t.Errorf("ConvertExternal() error = %v, want UnsupportedFeatureError", err)
		}
	})

	t.Run("sos_constraint", func(t *testing.T) {
		mb, c := demandInstance("only", 100)
		annotateRHS(mb, c)
		mb.AddSOSConstraint(1, []model.Variable{mb.Var(0), mb.Var(1)}, []float64{1, 2}).WithName("s1")
		_, err := ConvertExternal(Options{OutputDir: t.TempDir()}, tree,
			map[string]*model.Builder{"only": mb})
		var ufe *UnsupportedFeatureError
		if !errors.As(err, &ufe) {
			t.Errorf("ConvertExternal() error = %v, want UnsupportedFeatureError", err)
		}
	})

	t.Run("rhs_entry_excludes_only_bound", func(t *testing.T) {
		mb, c := demandInstance("only", 100)
		mb.Annotate(model.StochasticRHS{Entries: []model.RHSEntry{
			{Con: c.Index(), Lower: false, Upper: true},
		}})
		_, err := ConvertExternal(Options{OutputDir: t.TempDir()}, tree,
			map[string]*model.Builder{"only": mb})
		if err == nil || !strings.Contains(err.Error(), "excludes the lower bound") {
			t.Errorf("ConvertExternal() error = %v, want excluded-bound error", err)
		}
	})

	t.Run("duplicate_annotation", func(t *testing.T) {
		mb, c := demandInstance("only", 100)
		annotateRHS(mb, c)
		annotateRHS(mb, c)
		_, err := ConvertExternal(Options{OutputDir: t.TempDir()}, tree,
			map[string]*model.Builder{"only": mb})
		if err == nil {
			t.Errorf("ConvertExternal() succeeded, want error for duplicate annotation")
		}
	})

	t.Run("no_first_stage_variables", func(t *testing.T) {
		mb := model.NewModelBuilder()
		mb.SetName("only")
		y := mb.NewVar(0, math.Inf(1)).WithName("y").WithStageKey(keySecond)
		c := mb.AddGreaterOrEqual(model.NewLinearExpr().Add(y), 100).WithName("demand")
		mb.Minimize(model.NewLinearExpr().Add(y))
		annotateRHS(mb, c)
		_, err := ConvertExternal(Options{OutputDir: t.TempDir()}, tree,
			map[string]*model.Builder{"only": mb})
		if err == nil {
			t.Errorf("ConvertExternal() succeeded, want error")
		}
	})

	t.Run("invalid_tree", func(t *testing.T) {
		mb, c := demandInstance("only", 100)
		annotateRHS(mb, c)
		bad := model.NewScenarioTree("OnlyStage")
		bad.AddScenario("only", 1)
		_, err := ConvertExternal(Options{OutputDir: t.TempDir()}, bad,
			map[string]*model.Builder{"only": mb})
		if err == nil {
			t.Errorf("ConvertExternal() succeeded, want error")
		}
	})
}

func TestConvertExternalScenarioSizeMismatch(t *testing.T) {
	low, lowCon := demandInstance("low", 100)
	annotateRHS(low, lowCon)
	high, highCon := demandInstance("high", 150)
	annotateRHS(high, highCon)
	// The extra constraint exists only in one scenario, so the
	// structural counts disagree.
	high.AddLessOrEqual(model.NewLinearExpr().Add(high.Var(1)), 500).WithName("cap")
	tree := twoStageTree(
		model.TreeScenario{Name: "low", Probability: 0.5},
		model.TreeScenario{Name: "high", Probability: 0.5},
	)
	_, err := ConvertExternal(Options{OutputDir: t.TempDir(), Basename: "farm"}, tree,
		map[string]*model.Builder{"low": low, "high": high})
	var ce *ConsistencyError
	if !errors.As(err, &ce) {
		t.Fatalf("ConvertExternal() error = %v, want ConsistencyError", err)
	}
	if ce.Scenario != "high" {
		t.Errorf("ConsistencyError.Scenario = %q, want %q", ce.Scenario, "high")
	}
	if ce.File != "" || ce.ScenarioFile != "" {
		t.Errorf("ConsistencyError carries file paths %q/%q for a size mismatch", ce.File, ce.ScenarioFile)
	}
}

func TestConvertExternalKeepScenarioFiles(t *testing.T) {
	low, lowCon := demandInstance("low", 100)
	high, highCon := demandInstance("high", 150)
	annotateRHS(low, lowCon)
	annotateRHS(high, highCon)
	tree := twoStageTree(
		model.TreeScenario{Name: "low", Probability: 0.5},
		model.TreeScenario{Name: "high", Probability: 0.5},
	)
	outDir := t.TempDir()
	opts := Options{OutputDir: outDir, Basename: "farm", KeepScenarioFiles: true}
	if _, err := ConvertExternal(opts, tree, map[string]*model.Builder{"low": low, "high": high}); err != nil {
		t.Fatalf("ConvertExternal() returned error: %v", err)
	}
	for _, name := range []string{"farm.mps.low", "farm.sto.high", "farm.tim.low"} {
		if _, err := os.Stat(filepath.Join(outDir, "scenario_files", name)); err != nil {
			t.Errorf("scenario file %s missing: %v", name, err)
		}
	}
	// The setup-pass intermediates are removed even when keeping.
	if _, err := os.Stat(filepath.Join(outDir, "scenario_files", "farm.setup.mps.low")); !os.IsNotExist(err) {
		t.Errorf("setup file still exists")
	}
}

func TestConvertExternalDerivedVariables(t *testing.T) {
	const keyDerived = 3
	build := func(name string, demand float64) *model.Builder {
		mb := model.NewModelBuilder()
		mb.SetName(name)
		x := mb.NewVar(0, math.Inf(1)).WithName("x").WithStageKey(keyFirst)
		w := mb.NewVar(0, math.Inf(1)).WithName("w").WithStageKey(keyDerived)
		y := mb.NewVar(0, math.Inf(1)).WithName("y").WithStageKey(keySecond)
		c := mb.AddGreaterOrEqual(
			model.NewLinearExpr().Add(x).Add(w).Add(y), demand).WithName("demand")
		mb.Minimize(model.NewLinearExpr().Add(x).Add(w).AddTerm(y, 2))
		annotateRHS(mb, c)
		return mb
	}
	tree := twoStageTree(
		model.TreeScenario{Name: "low", Probability: 0.5},
		model.TreeScenario{Name: "high", Probability: 0.5},
	)
	tree.DeclareRootKey(keyDerived, true)

	// Derived variables land in the second stage by default.
	stats, err := ConvertExternal(Options{OutputDir: t.TempDir(), Basename: "farm"}, tree,
		map[string]*model.Builder{"low": build("low", 100), "high": build("high", 150)})
	if err != nil {
		t.Fatalf("ConvertExternal() returned error: %v", err)
	}
	if got, want := stats.FirstStageVars, 1; got != want {
		t.Errorf("FirstStageVars = %v, want %v", got, want)
	}

	// Enforcing nonanticipativity keeps them in the first stage.
	stats, err = ConvertExternal(
		Options{OutputDir: t.TempDir(), Basename: "farm", EnforceDerivedNonanticipativity: true}, tree,
		map[string]*model.Builder{"low": build("low", 100), "high": build("high", 150)})
	if err != nil {
		t.Fatalf("ConvertExternal() returned error: %v", err)
	}
	if got, want := stats.FirstStageVars, 2; got != want {
		t.Errorf("FirstStageVars with enforcement = %v, want %v", got, want)
	}
}
