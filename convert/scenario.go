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
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/optgo/smps/corewriter"
	"github.com/optgo/smps/model"
)

// deterministicCheckValue replaces every stochastic bound and
// coefficient in the deterministic template file. A recognizable
// sentinel rather than zero, so a solver fed the template by mistake
// fails loudly and a reader can grep for untouched locations.
const deterministicCheckValue = -99999999.0

// detTemplateName is the NAME field of the deterministic template.
// Fixed across scenarios so the templates stay byte-identical.
const detTemplateName = "ZeroStochasticData"

// scenarioCounts summarizes one converted scenario. The structural
// counts must agree across all scenarios of a problem; the stochastic
// counts feed the merged problem statistics.
type scenarioCounts struct {
	firstStageVars   int
	secondStageVars  int
	firstStageCons   int
	secondStageCons  int
	stochasticRHS    int
	stochasticMatrix int
	stochasticCost   int
}

// scenarioFiles lists the files written for one scenario, keyed by the
// suffix the merge step promotes them under.
type scenarioFiles struct {
	core  string
	col   string
	row   string
	tim   string
	sto   string
	struc string
	det   string
	setup string
}

func scenarioPaths(dir, basename, scenario string, format corewriter.Format) scenarioFiles {
	ext := format.String()
	join := func(parts string) string { return filepath.Join(dir, parts) }
	return scenarioFiles{
		setup: join(basename + ".setup." + ext + "." + scenario),
		core:  join(basename + "." + ext + "." + scenario),
		col:   join(basename + ".col." + scenario),
		row:   join(basename + ".row." + scenario),
		tim:   join(basename + ".tim." + scenario),
		sto:   join(basename + ".sto." + scenario),
		struc: join(basename + ".sto.struct." + scenario),
		det:   join(basename + "." + ext + ".det." + scenario),
	}
}

// convertScenario writes the full per-scenario file set for one
// scenario instance into dir. The model is written twice: an unordered
// setup pass to obtain the symbol map, then an ordered pass with the
// stage-sorted column and row ranks. The model is restored to its
// input state before returning, even on error.
func convertScenario(opts Options, format corewriter.Format, tree *model.ScenarioTree, scen model.TreeScenario, mb *model.Builder, dir string) (counts scenarioCounts, files scenarioFiles, err error) {
	files = scenarioPaths(dir, opts.Basename, scen.Name, format)

	res, err := resolveAnnotations(mb)
	if err != nil {
		return counts, files, err
	}

	// Everything below mutates only constraint bounds, the model name
	// and the per-call compile context. The context dies with this
	// call; bounds and name are restored here.
	type boundState struct {
		c      model.ConIndex
		lb, ub float64
	}
	var savedBounds []boundState
	for _, c := range mb.Constraints() {
		lb, _ := c.Lower()
		ub, _ := c.Upper()
		savedBounds = append(savedBounds, boundState{c: c.Index(), lb: lb, ub: ub})
	}
	savedName := mb.Name()
	defer func() {
		for _, b := range savedBounds {
			c := mb.Constraint(b.c)
			if _, ok := c.Lower(); ok {
				c.SetLower(b.lb)
			}
			if _, ok := c.Upper(); ok {
				c.SetUpper(b.ub)
			}
		}
		mb.SetName(savedName)
	}()

	ctx := model.NewCompileContext()

	// Setup pass: unordered write, only for the symbol assignment.
	sm, err := corewriter.Write(mb, files.setup, corewriter.Options{Format: format, Context: ctx})
	if err != nil {
		return counts, files, err
	}

	firstVars, secondVars := mapVariableStages(mb, tree, sm, opts.EnforceDerivedNonanticipativity)
	firstCons, secondCons, err := mapConstraintStages(mb, sm, res.stochasticCons, varIDSet(secondVars))
	if err != nil {
		return counts, files, err
	}
	if len(firstVars) == 0 {
		return counts, files, errors.Errorf(
			"scenario %q has no first-stage variables: the time file cannot mark the stage boundary", scen.Name)
	}

	columnOrder := make(map[model.VarIndex]int, len(firstVars)+len(secondVars))
	for i, e := range firstVars {
		columnOrder[e.v] = i
	}
	for i, e := range secondVars {
		columnOrder[e.v] = len(firstVars) + i
	}
	rowOrder := make(map[model.ConIndex]int, len(firstCons)+len(secondCons))
	for i, e := range firstCons {
		rowOrder[e.c] = i
	}
	for i, e := range secondCons {
		rowOrder[e.c] = len(firstCons) + i
	}

	// Ordered pass. Reusing the context keeps the representations the
	// stochastic writer mutates below in sync with the written file.
	sm, err = corewriter.Write(mb, files.core, corewriter.Options{
		Format:                 format,
		ColumnOrder:            columnOrder,
		RowOrder:               rowOrder,
		ForceObjectiveConstant: true,
		Context:                ctx,
	})
	if err != nil {
		return counts, files, err
	}

	// Stage maps are rebuilt: symbol aliases depend on the write.
	firstVars, secondVars = mapVariableStages(mb, tree, sm, opts.EnforceDerivedNonanticipativity)
	firstCons, secondCons, err = mapConstraintStages(mb, sm, res.stochasticCons, varIDSet(secondVars))
	if err != nil {
		return counts, files, err
	}

	if err := writeColFile(files.col, firstVars, secondVars); err != nil {
		return counts, files, err
	}
	if err := writeRowFile(files.row, sm.ObjectiveSymbol(), firstCons, secondCons); err != nil {
		return counts, files, err
	}
	if err := writeTimFile(files.tim, opts.Basename, format, sm.ObjectiveSymbol(), firstVars, secondVars, firstCons, secondCons); err != nil {
		return counts, files, err
	}

	stoCounts, err := writeStoFiles(files.sto, files.struc, mb, ctx, sm, res, scen.Probability, columnOrder)
	if err != nil {
		return counts, files, err
	}

	// Deterministic template: the ordered model again, now with
	// stochastic bounds and coefficients holding the sentinel and
	// stochastic constants zeroed.
	mb.SetName(detTemplateName)
	if _, err := corewriter.Write(mb, files.det, corewriter.Options{
		Format:                 format,
		ColumnOrder:            columnOrder,
		RowOrder:               rowOrder,
		ForceObjectiveConstant: true,
		Context:                ctx,
	}); err != nil {
		return counts, files, err
	}

	counts = scenarioCounts{
		firstStageVars:   len(firstVars),
		secondStageVars:  len(secondVars) + 1, // ONE_VAR_CONSTANT
		firstStageCons:   rowCount(firstCons),
		secondStageCons:  rowCount(secondCons) + 1, // c_e_ONE_VAR_CONSTANT
		stochasticRHS:    stoCounts.rhs,
		stochasticMatrix: stoCounts.matrix,
		stochasticCost:   stoCounts.cost,
	}
	return counts, files, nil
}

func rowCount(entries []conStageEntry) int {
	n := 0
	for _, e := range entries {
		n += len(e.symbols)
	}
	return n
}

func writeColFile(path string, first, second []varStageEntry) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create column ordering file %s", path)
	}
	w := bufio.NewWriter(f)
	for _, e := range first {
		fmt.Fprintf(w, "%s\n", e.symbol)
	}
	for _, e := range second {
		fmt.Fprintf(w, "%s\n", e.symbol)
	}
	fmt.Fprintf(w, "%s\n", corewriter.ConstantColumnSymbol)
	if err := w.Flush(); err != nil {
		f.Close()
		return errors.Wrapf(err, "write column ordering file %s", path)
	}
	return f.Close()
}

func writeRowFile(path, objSymbol string, first, second []conStageEntry) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create row ordering file %s", path)
	}
	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "%s\n", objSymbol)
	for _, e := range first {
		for _, s := range e.symbols {
			fmt.Fprintf(w, "%s\n", s)
		}
	}
	for _, e := range second {
		for _, s := range e.symbols {
			fmt.Fprintf(w, "%s\n", s)
		}
	}
	fmt.Fprintf(w, "%s\n", corewriter.ConstantRowSymbol)
	if err := w.Flush(); err != nil {
		f.Close()
		return errors.Wrapf(err, "write row ordering file %s", path)
	}
	return f.Close()
}

// writeTimFile writes the SMPS time file marking the stage boundary.
// MPS cores use the IMPLICIT style: the first column and row of each
// period. LP cores have no reliable column order, so every row and
// column is listed EXPLICITly.
func writeTimFile(path, basename string, format corewriter.Format, objSymbol string, firstVars, secondVars []varStageEntry, firstCons, secondCons []conStageEntry) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create time file %s", path)
	}
	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "TIME %s\n", basename)
	if format == corewriter.FormatMPS {
		fmt.Fprintf(w, "PERIODS IMPLICIT\n")
		fmt.Fprintf(w, "    %s  %s  TIME1\n", firstVars[0].symbol, objSymbol)
		secondCol := corewriter.ConstantColumnSymbol
		if len(secondVars) > 0 {
			secondCol = secondVars[0].symbol
		}
		secondRow := corewriter.ConstantRowSymbol
		if len(secondCons) > 0 {
			secondRow = secondCons[0].symbols[0]
		}
		fmt.Fprintf(w, "    %s  %s  TIME2\n", secondCol, secondRow)
	} else {
		fmt.Fprintf(w, "PERIODS EXPLICIT\n")
		fmt.Fprintf(w, "    TIME1\n")
		fmt.Fprintf(w, "    TIME2\n")
		fmt.Fprintf(w, "ROWS\n")
		fmt.Fprintf(w, "    %s  TIME1\n", objSymbol)
		for _, e := range firstCons {
			for _, s := range e.symbols {
				fmt.Fprintf(w, "    %s  TIME1\n", s)
			}
		}
		for _, e := range secondCons {
			for _, s := range e.symbols {
				fmt.Fprintf(w, "    %s  TIME2\n", s)
			}
		}
		fmt.Fprintf(w, "    %s  TIME2\n", corewriter.ConstantRowSymbol)
		fmt.Fprintf(w, "COLS\n")
		for _, e := range firstVars {
			fmt.Fprintf(w, "    %s  TIME1\n", e.symbol)
		}
		for _, e := range secondVars {
			fmt.Fprintf(w, "    %s  TIME2\n", e.symbol)
		}
		fmt.Fprintf(w, "    %s  TIME2\n", corewriter.ConstantColumnSymbol)
	}
	fmt.Fprintf(w, "ENDATA\n")
	if err := w.Flush(); err != nil {
		f.Close()
		return errors.Wrapf(err, "write time file %s", path)
	}
	return f.Close()
}

type stoCounts struct {
	rhs    int
	matrix int
	cost   int
}

// writeStoFiles writes one scenario block of the stochastic file plus
// the parallel structure file, and replaces every written location in
// the model with the deterministic sentinel. The structure file lists
// the (column, row) coordinates without values: across scenarios the
// coordinates must agree exactly, and the merge step diffs these files
// to detect stochastic locations that were left out of the
// annotations in some scenario.
func writeStoFiles(stoPath, structPath string, mb *model.Builder, ctx *model.CompileContext, sm *corewriter.SymbolMap, res *resolvedAnnotations, probability float64, columnOrder map[model.VarIndex]int) (stoCounts, error) {
	var counts stoCounts
	f, err := os.Create(stoPath)
	if err != nil {
		return counts, errors.Wrapf(err, "create stochastic file %s", stoPath)
	}
	fs, err := os.Create(structPath)
	if err != nil {
		f.Close()
		return counts, errors.Wrapf(err, "create stochastic structure file %s", structPath)
	}
	w := bufio.NewWriter(f)
	ws := bufio.NewWriter(fs)

	fmt.Fprintf(w, " BL BLOCK1 PERIOD2 %s\n", corewriter.FormatValue(probability))

	rowSymbols := constraintRowSymbols(sm)

	// Stochastic right-hand sides.
	for _, e := range res.rhsEntries {
		c := mb.Constraint(e.con)
		repn, err := ctx.ConstraintRepn(mb, e.con)
		if err != nil {
			closeBoth(f, fs)
			return counts, err
		}
		lb, hasLB := c.Lower()
		ub, hasUB := c.Upper()
		for _, sym := range rowSymbols[e.con] {
			var value float64
			switch {
			case strings.HasPrefix(sym, "c_e_"):
				value = lb - repn.Constant
				c.SetLower(deterministicCheckValue)
				c.SetUpper(deterministicCheckValue)
			case strings.HasPrefix(sym, "c_l_"):
				if !hasLB {
					closeBoth(f, fs)
					return counts, errors.Errorf(
						"constraint %q was declared with stochastic lower bound data but has no lower bound", conName(c))
				}
				if !e.lower {
					closeBoth(f, fs)
					return counts, errors.Errorf(
						"constraint %q has only a lower bound but its stochastic entry excludes the lower bound", conName(c))
				}
				value = lb - repn.Constant
				c.SetLower(deterministicCheckValue)
			case strings.HasPrefix(sym, "c_u_"):
				if !hasUB {
					closeBoth(f, fs)
					return counts, errors.Errorf(
						"constraint %q was declared with stochastic upper bound data but has no upper bound", conName(c))
				}
				if !e.upper {
					closeBoth(f, fs)
					return counts, errors.Errorf(
						"constraint %q has only an upper bound but its stochastic entry excludes the upper bound", conName(c))
				}
				value = ub - repn.Constant
				c.SetUpper(deterministicCheckValue)
			case strings.HasPrefix(sym, "r_l_"):
				if !e.lower {
					continue
				}
				value = lb - repn.Constant
				c.SetLower(deterministicCheckValue)
			case strings.HasPrefix(sym, "r_u_"):
				if !e.upper {
					continue
				}
				value = ub - repn.Constant
				c.SetUpper(deterministicCheckValue)
			default:
				closeBoth(f, fs)
				return counts, errors.Errorf("unrecognized row symbol %q for constraint %q", sym, conName(c))
			}
			fmt.Fprintf(w, "    %s    %s    %s\n", corewriter.RHSSymbol, sym, corewriter.FormatValue(value))
			fmt.Fprintf(ws, "    %s    %s\n", corewriter.RHSSymbol, sym)
			counts.rhs++
		}
		repn.Constant = 0
	}

	// Stochastic body coefficients.
	for _, e := range res.matrixEntries {
		c := mb.Constraint(e.con)
		repn, err := ctx.ConstraintRepn(mb, e.con)
		if err != nil {
			closeBoth(f, fs)
			return counts, err
		}
		vars := e.vars
		if vars == nil {
			vars = repn.Vars
		}
		vars = sortByColumnOrder(vars, columnOrder)
		for _, vi := range vars {
			if mb.Var(vi).IsFixed() {
				closeBoth(f, fs)
				return counts, errors.Errorf(
					"constraint %q was declared with stochastic data for fixed variable %q",
					conName(c), varName(mb.Var(vi)))
			}
			varSym, ok := sm.VarSymbol(vi)
			if !ok {
				closeBoth(f, fs)
				return counts, errors.Errorf(
					"constraint %q was declared with stochastic data for variable %q "+
						"which was not written to the core file", conName(c), varName(mb.Var(vi)))
			}
			found := false
			for i, rv := range repn.Vars {
				if rv != vi {
					continue
				}
				found = true
				for _, sym := range rowSymbols[e.con] {
					fmt.Fprintf(w, "    %s    %s    %s\n", varSym, sym, corewriter.FormatValue(repn.Coeffs[i]))
					fmt.Fprintf(ws, "    %s    %s\n", varSym, sym)
					counts.matrix++
				}
				repn.Coeffs[i] = deterministicCheckValue
				break
			}
			if !found {
				closeBoth(f, fs)
				return counts, errors.Errorf(
					"constraint %q was declared with stochastic data for variable %q "+
						"but the variable does not appear in the constraint body", conName(c), varName(mb.Var(vi)))
			}
		}
	}

	// Stochastic objective coefficients.
	if res.objective != nil {
		objRepn, err := ctx.ObjectiveRepn(mb)
		if err != nil {
			closeBoth(f, fs)
			return counts, err
		}
		objSym := sm.ObjectiveSymbol()
		vars := res.objective.Vars
		if vars == nil {
			vars = objRepn.Vars
		}
		vars = sortByColumnOrder(vars, columnOrder)
		for _, vi := range vars {
			varSym, ok := sm.VarSymbol(vi)
			if !ok {
				closeBoth(f, fs)
				return counts, errors.Errorf(
					"the objective was declared with stochastic data for variable %q "+
						"which was not written to the core file", varName(mb.Var(vi)))
			}
			found := false
			for i, rv := range objRepn.Vars {
				if rv != vi {
					continue
				}
				found = true
				fmt.Fprintf(w, "    %s    %s    %s\n", varSym, objSym, corewriter.FormatValue(objRepn.Coeffs[i]))
				fmt.Fprintf(ws, "    %s    %s\n", varSym, objSym)
				counts.cost++
				objRepn.Coeffs[i] = deterministicCheckValue
				break
			}
			if !found {
				closeBoth(f, fs)
				return counts, errors.Errorf(
					"the objective was declared with stochastic data for variable %q "+
						"but the variable does not appear in the objective", varName(mb.Var(vi)))
			}
		}
		if res.objective.IncludeConstant {
			fmt.Fprintf(w, "    %s    %s    %s\n",
				corewriter.ConstantColumnSymbol, objSym, corewriter.FormatValue(objRepn.Constant))
			fmt.Fprintf(ws, "    %s    %s\n", corewriter.ConstantColumnSymbol, objSym)
			counts.cost++
			objRepn.Constant = 0
		}
	}

	if err := w.Flush(); err == nil {
		err = ws.Flush()
	} else {
		ws.Flush()
	}
	if err != nil {
		closeBoth(f, fs)
		return counts, errors.Wrapf(err, "write stochastic file %s", stoPath)
	}
	if err := f.Close(); err != nil {
		fs.Close()
		return counts, err
	}
	return counts, fs.Close()
}

func closeBoth(f, fs *os.File) {
	f.Close()
	fs.Close()
}

func sortByColumnOrder(vars []model.VarIndex, order map[model.VarIndex]int) []model.VarIndex {
	out := make([]model.VarIndex, len(vars))
	copy(out, vars)
	sort.SliceStable(out, func(i, j int) bool {
		ri, iok := order[out[i]]
		rj, jok := order[out[j]]
		if iok && jok {
			return ri < rj
		}
		if iok != jok {
			return iok
		}
		return out[i] < out[j]
	})
	return out
}

func varName(v model.Variable) string {
	if n := v.Name(); n != "" {
		return n
	}
	return fmt.Sprintf("x%d", v.Index()+1)
}
