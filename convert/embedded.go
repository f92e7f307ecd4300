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

	log "github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/optgo/smps/corewriter"
	"github.com/optgo/smps/model"
)

// ConvertEmbedded converts an embedded stochastic program into SMPS
// files under opts.OutputDir: <basename>.cor with every stochastic
// location zeroed, <basename>.tim, and <basename>.sto in INDEP
// DISCRETE form listing the distribution of each stochastic parameter.
//
// Each stochastic parameter must appear in exactly one location: as
// one constraint or objective coefficient, as a constraint bound, or
// as the objective constant, always unscaled. The model is restored
// to its input state before returning, even on error.
func ConvertEmbedded(opts Options, sp *model.EmbeddedSP) (*corewriter.SymbolMap, error) {
	opts = opts.withDefaults()
	format, err := corewriter.ParseFormat(opts.CoreFormat)
	if err != nil {
		return nil, err
	}
	if err := sp.Validate(); err != nil {
		return nil, err
	}
	mb := sp.Model
	if sp.HasStochasticVariableBounds() {
		return nil, &UnsupportedFeatureError{
			Component: mb.Name(),
			Reason:    "stochastic variable bounds are not supported by the SMPS format",
		}
	}
	for _, s := range mb.SOSConstraints() {
		if s.IsActive() {
			return nil, &UnsupportedFeatureError{
				Component: sosName(s),
				Reason:    "SOS constraints are not allowed with the SMPS format",
			}
		}
	}
	if err := validateStochasticLocations(sp); err != nil {
		return nil, err
	}

	firstVars, secondVars, err := embeddedVariableStages(sp, opts.EnforceDerivedNonanticipativity)
	if err != nil {
		return nil, err
	}
	if len(firstVars) == 0 {
		return nil, errors.Errorf(
			"embedded model %q has no first-stage variables: the time file cannot mark the stage boundary", mb.Name())
	}

	firststage := sp.TimeStages[0]
	var firstCons, secondCons []model.Constraint
	for _, c := range mb.Constraints() {
		if !c.IsActive() {
			continue
		}
		if sp.ConstraintStage(c, !opts.EnforceDerivedNonanticipativity) == firststage {
			firstCons = append(firstCons, c)
		} else {
			secondCons = append(secondCons, c)
		}
	}
	sortConsByName(firstCons)
	sortConsByName(secondCons)

	columnOrder := make(map[model.VarIndex]int, len(firstVars)+len(secondVars))
	for i, v := range firstVars {
		columnOrder[v.Index()] = i
	}
	for i, v := range secondVars {
		columnOrder[v.Index()] = len(firstVars) + i
	}
	rowOrder := make(map[model.ConIndex]int, len(firstCons)+len(secondCons))
	for i, c := range firstCons {
		rowOrder[c.Index()] = i
	}
	for i, c := range secondCons {
		rowOrder[c.Index()] = len(firstCons) + i
	}

	// Zero every stochastic location. Parameter-valued coefficients
	// pick the zeros up at compile time; bounds were copied at bind
	// time and are re-synced by hand.
	stochParams := sp.StochasticParams()
	savedParams := make([]float64, len(stochParams))
	for i, p := range stochParams {
		savedParams[i] = mb.Param(p).Value()
		mb.Param(p).SetValue(0)
	}
	type boundState struct {
		c      model.ConIndex
		lb, ub float64
	}
	var savedBounds []boundState
	for _, c := range mb.Constraints() {
		lb, hasLB := c.Lower()
		ub, hasUB := c.Upper()
		saved := false
		if p, ok := c.LowerParam(); ok && sp.IsStochastic(p) && hasLB {
			savedBounds = append(savedBounds, boundState{c: c.Index(), lb: lb, ub: ub})
			saved = true
			c.SetLower(0)
		}
		if p, ok := c.UpperParam(); ok && sp.IsStochastic(p) && hasUB {
			if !saved {
				savedBounds = append(savedBounds, boundState{c: c.Index(), lb: lb, ub: ub})
			}
			c.SetUpper(0)
		}
	}
	defer func() {
		for i, p := range stochParams {
			mb.Param(p).SetValue(savedParams[i])
		}
		for _, b := range savedBounds {
			c := mb.Constraint(b.c)
			if _, ok := c.Lower(); ok {
				c.SetLower(b.lb)
			}
			if _, ok := c.Upper(); ok {
				c.SetUpper(b.ub)
			}
		}
	}()

	ctx := model.NewCompileContext()
	out := func(suffix string) string { return filepath.Join(opts.OutputDir, opts.Basename+suffix) }
	sm, err := corewriter.Write(mb, out(".cor"), corewriter.Options{
		Format:                 format,
		ColumnOrder:            columnOrder,
		RowOrder:               rowOrder,
		ForceObjectiveConstant: true,
		Context:                ctx,
	})
	if err != nil {
		return nil, err
	}

	firstVarEntries := varEntries(sm, firstVars)
	secondVarEntries := varEntries(sm, secondVars)
	rowSymbols := constraintRowSymbols(sm)
	firstConEntries := conEntries(rowSymbols, firstCons)
	secondConEntries := conEntries(rowSymbols, secondCons)

	if err := writeTimFile(out(".tim"), opts.Basename, format, sm.ObjectiveSymbol(),
		firstVarEntries, secondVarEntries, firstConEntries, secondConEntries); err != nil {
		return nil, err
	}
	if err := writeEmbeddedSto(out(".sto"), opts.Basename, sp, ctx, sm, rowSymbols, secondCons, columnOrder); err != nil {
		return nil, err
	}
	if opts.Verbose {
		log.Infof("converted embedded model %q: %d+%d variables, %d stochastic parameters",
			mb.Name(), len(firstVars), len(secondVars), len(stochParams))
	}
	return sm, nil
}

// embeddedVariableStages partitions the non-fixed variables by their
// stage assignment, sorted by name. Derived first-stage variables move
// to the second stage unless enforceDerived is set. Every non-fixed
// variable must be assigned to exactly one stage.
func embeddedVariableStages(sp *model.EmbeddedSP, enforceDerived bool) (first, second []model.Variable, err error) {
	mb := sp.Model
	assigned := make(map[model.VarIndex]bool)
	place := func(sv model.StageVar, toFirst bool) error {
		v := mb.Var(sv.Var)
		if assigned[sv.Var] {
			return errors.Errorf("variable %q is assigned to more than one time stage", varName(v))
		}
		assigned[sv.Var] = true
		if v.IsFixed() {
			return nil
		}
		if toFirst {
			first = append(first, v)
		} else {
			second = append(second, v)
		}
		return nil
	}
	for _, sv := range sp.StageVariables(sp.TimeStages[0]) {
		if err := place(sv, !sv.Derived || enforceDerived); err != nil {
			return nil, nil, err
		}
	}
	for _, sv := range sp.StageVariables(sp.TimeStages[1]) {
		if err := place(sv, false); err != nil {
			return nil, nil, err
		}
	}
	for _, v := range mb.Variables() {
		if !v.IsFixed() && !assigned[v.Index()] {
			return nil, nil, errors.Errorf("variable %q is not assigned to a time stage", varName(v))
		}
	}
	sortVarsByName(first)
	sortVarsByName(second)
	return first, second, nil
}

func sortVarsByName(vs []model.Variable) {
	sort.SliceStable(vs, func(i, j int) bool {
		if varName(vs[i]) != varName(vs[j]) {
			return varName(vs[i]) < varName(vs[j])
		}
		return vs[i].Index() < vs[j].Index()
	})
}

func sortConsByName(cs []model.Constraint) {
	sort.SliceStable(cs, func(i, j int) bool {
		if conName(cs[i]) != conName(cs[j]) {
			return conName(cs[i]) < conName(cs[j])
		}
		return cs[i].Index() < cs[j].Index()
	})
}

func varEntries(sm *corewriter.SymbolMap, vs []model.Variable) []varStageEntry {
	out := make([]varStageEntry, 0, len(vs))
	for _, v := range vs {
		sym, ok := sm.VarSymbol(v.Index())
		if !ok {
			continue
		}
		out = append(out, varStageEntry{symbol: sym, v: v.Index(), stageKey: v.StageKey()})
	}
	return out
}

func conEntries(rowSymbols map[model.ConIndex][]string, cs []model.Constraint) []conStageEntry {
	out := make([]conStageEntry, 0, len(cs))
	for _, c := range cs {
		out = append(out, conStageEntry{symbols: rowSymbols[c.Index()], c: c.Index()})
	}
	return out
}

// validateStochasticLocations enforces the embedded-mode contract on
// every stochastic parameter: it must appear in exactly one location,
// unscaled and unmerged, never as a body constant of a constraint,
// and never inside a range constraint.
func validateStochasticLocations(sp *model.EmbeddedSP) error {
	mb := sp.Model
	seen := make(map[model.ParamIndex]string)
	use := func(p model.ParamIndex, location string) error {
		if !sp.IsStochastic(p) {
			return nil
		}
		if prev, ok := seen[p]; ok {
			return &UnsupportedFeatureError{
				Component: paramName(mb.Param(p)),
				Reason: fmt.Sprintf("stochastic parameters can appear in at most one location, "+
					"found %s and %s", prev, location),
			}
		}
		seen[p] = location
		return nil
	}
	for _, c := range mb.Constraints() {
		if !c.IsActive() {
			continue
		}
		if !sp.HasStochasticData(c) {
			continue
		}
		if c.IsRange() {
			return &UnsupportedFeatureError{
				Component: conName(c),
				Reason:    "range constraints cannot carry stochastic data in embedded models",
			}
		}
		lin, ok := c.Body().Linear()
		if !ok {
			return errors.Errorf("constraint %q: %v", conName(c), model.ErrNonlinear)
		}
		byVar := make(map[model.VarIndex]int)
		for _, t := range lin.Terms() {
			byVar[t.Var]++
		}
		for _, t := range lin.Terms() {
			if t.Param == model.NoParam || !sp.IsStochastic(t.Param) {
				continue
			}
			if t.Scale != 1 {
				return &UnsupportedFeatureError{
					Component: conName(c),
					Reason:    "stochastic coefficients must be the bare parameter, not a scaled form",
				}
			}
			if byVar[t.Var] > 1 {
				return &UnsupportedFeatureError{
					Component: conName(c),
					Reason: fmt.Sprintf("the stochastic coefficient of variable %q is combined "+
						"with other terms on the same variable", varName(mb.Var(t.Var))),
				}
			}
			if err := use(t.Param, fmt.Sprintf("a coefficient of constraint %q", conName(c))); err != nil {
				return err
			}
		}
		if p, ok := lin.OffsetParam(); ok && sp.IsStochastic(p) {
			return &UnsupportedFeatureError{
				Component: conName(c),
				Reason:    "stochastic constants in constraint bodies are not supported; move the parameter to the bound",
			}
		}
		// An equality binds the same parameter to both bounds; that is
		// a single location.
		lp, hasLP := c.LowerParam()
		up, hasUP := c.UpperParam()
		if hasLP && hasUP && lp == up {
			if err := use(lp, fmt.Sprintf("the bound of constraint %q", conName(c))); err != nil {
				return err
			}
		} else {
			if hasLP {
				if err := use(lp, fmt.Sprintf("the lower bound of constraint %q", conName(c))); err != nil {
					return err
				}
			}
			if hasUP {
				if err := use(up, fmt.Sprintf("the upper bound of constraint %q", conName(c))); err != nil {
					return err
				}
			}
		}
	}
	if mb.HasObjective() {
		if lin, ok := mb.Objective().Body().Linear(); ok {
			byVar := make(map[model.VarIndex]int)
			for _, t := range lin.Terms() {
				byVar[t.Var]++
			}
			for _, t := range lin.Terms() {
				if t.Param == model.NoParam || !sp.IsStochastic(t.Param) {
					continue
				}
				if t.Scale != 1 {
					return &UnsupportedFeatureError{
						Component: mb.Objective().Name(),
						Reason:    "stochastic coefficients must be the bare parameter, not a scaled form",
					}
				}
				if byVar[t.Var] > 1 {
					return &UnsupportedFeatureError{
						Component: mb.Objective().Name(),
						Reason: fmt.Sprintf("the stochastic coefficient of variable %q is combined "+
							"with other terms on the same variable", varName(mb.Var(t.Var))),
					}
				}
				if err := use(t.Param, "a coefficient of the objective"); err != nil {
					return err
				}
			}
			if p, ok := lin.OffsetParam(); ok {
				if err := use(p, "the objective constant"); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// writeEmbeddedSto writes the INDEP DISCRETE stochastic file: one line
// per (location, outcome) pair, constraint locations first in row
// order, objective locations last.
func writeEmbeddedSto(path, basename string, sp *model.EmbeddedSP, ctx *model.CompileContext, sm *corewriter.SymbolMap, rowSymbols map[model.ConIndex][]string, secondCons []model.Constraint, columnOrder map[model.VarIndex]int) error {
	mb := sp.Model
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create stochastic file %s", path)
	}
	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "STOCH %s\n", basename)
	fmt.Fprintf(w, "INDEP         DISCRETE\n")

	emit := func(colSym, rowSym string, p model.ParamIndex, shift float64) {
		d, _ := sp.DistributionOf(p)
		for _, o := range d {
			fmt.Fprintf(w, "    %s    %s    %s    %s\n",
				colSym, rowSym, corewriter.FormatValue(o.Value+shift), corewriter.FormatValue(o.Probability))
		}
	}

	for _, c := range secondCons {
		if !sp.HasStochasticData(c) {
			continue
		}
		repn, err := ctx.ConstraintRepn(mb, c.Index())
		if err != nil {
			f.Close()
			return err
		}
		rowSym := rowSymbols[c.Index()][0]
		lin, _ := c.Body().Linear()
		var stochVars []model.VarIndex
		paramOf := make(map[model.VarIndex]model.ParamIndex)
		for _, t := range lin.Terms() {
			if t.Param != model.NoParam && sp.IsStochastic(t.Param) {
				stochVars = append(stochVars, t.Var)
				paramOf[t.Var] = t.Param
			}
		}
		stochVars = sortByColumnOrder(stochVars, columnOrder)
		for _, vi := range stochVars {
			varSym, ok := sm.VarSymbol(vi)
			if !ok {
				f.Close()
				return errors.Errorf(
					"constraint %q has a stochastic coefficient on variable %q "+
						"which was not written to the core file", conName(c), varName(mb.Var(vi)))
			}
			emit(varSym, rowSym, paramOf[vi], 0)
		}
		// The bound realization shifts by the deterministic body
		// constant, exactly as the core RHS does.
		if p, ok := c.LowerParam(); ok && sp.IsStochastic(p) {
			emit(corewriter.RHSSymbol, rowSym, p, -repn.Constant)
		} else if p, ok := c.UpperParam(); ok && sp.IsStochastic(p) {
			emit(corewriter.RHSSymbol, rowSym, p, -repn.Constant)
		}
	}

	if mb.HasObjective() {
		objSym := sm.ObjectiveSymbol()
		if lin, ok := mb.Objective().Body().Linear(); ok {
			var stochVars []model.VarIndex
			paramOf := make(map[model.VarIndex]model.ParamIndex)
			for _, t := range lin.Terms() {
				if t.Param != model.NoParam && sp.IsStochastic(t.Param) {
					stochVars = append(stochVars, t.Var)
					paramOf[t.Var] = t.Param
				}
			}
			stochVars = sortByColumnOrder(stochVars, columnOrder)
			for _, vi := range stochVars {
				varSym, ok := sm.VarSymbol(vi)
				if !ok {
					f.Close()
					return errors.Errorf(
						"the objective has a stochastic coefficient on variable %q "+
							"which was not written to the core file", varName(mb.Var(vi)))
				}
				emit(varSym, objSym, paramOf[vi], 0)
			}
			if p, ok := lin.OffsetParam(); ok && sp.IsStochastic(p) {
				emit(corewriter.ConstantColumnSymbol, objSym, p, 0)
			}
		}
	}

	fmt.Fprintf(w, "ENDATA\n")
	if err := w.Flush(); err != nil {
		f.Close()
		return errors.Wrapf(err, "write stochastic file %s", path)
	}
	return f.Close()
}

func paramName(p model.Param) string {
	if n := p.Name(); n != "" {
		return n
	}
	return fmt.Sprintf("p%d", p.Index()+1)
}
