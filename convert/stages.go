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
	"sort"

	"github.com/pkg/errors"

	"github.com/optgo/smps/corewriter"
	"github.com/optgo/smps/model"
)

// varStageEntry is one variable in a stage ordering: its column symbol,
// its handle and its scenario-tree stage key.
type varStageEntry struct {
	symbol   string
	v        model.VarIndex
	stageKey int32
}

// conStageEntry is one constraint in a stage ordering. Symbols holds
// the sorted row symbols representing the constraint: one for an
// equality or one-sided constraint, two for a range.
type conStageEntry struct {
	symbols []string
	c       model.ConIndex
}

// constraintRowSymbols rebuilds the reverse-alias table of a symbol
// map: for every written constraint, the sorted list of row symbols
// representing it. The table must be rebuilt after every write because
// symbol assignment depends on the ordering hints the writer was given.
func constraintRowSymbols(sm *corewriter.SymbolMap) map[model.ConIndex][]string {
	out := make(map[model.ConIndex][]string)
	for alias, con := range sm.Aliases() {
		out[con] = append(out[con], alias)
	}
	// Sort point: avoids nondeterministic row ordering. The sorted
	// order also matches the writer's emission order for ranges
	// (r_l_ before r_u_).
	for _, syms := range out {
		sort.Strings(syms)
	}
	return out
}

// mapVariableStages partitions the written variables into the two time
// stages. A variable is first-stage iff its stage key is a standard
// root key, or a derived root key when enforceDerived is set; every
// other written variable, including those with unrecognized or absent
// keys, is second-stage. Both orderings are sorted by symbol.
func mapVariableStages(mb *model.Builder, tree *model.ScenarioTree, sm *corewriter.SymbolMap, enforceDerived bool) (first, second []varStageEntry) {
	for _, v := range mb.Variables() {
		symbol, ok := sm.VarSymbol(v.Index())
		if !ok {
			continue
		}
		key := v.StageKey()
		entry := varStageEntry{symbol: symbol, v: v.Index(), stageKey: key}
		switch {
		case tree.IsRootStandardKey(key):
			first = append(first, entry)
		case enforceDerived && tree.IsRootDerivedKey(key):
			first = append(first, entry)
		default:
			second = append(second, entry)
		}
	}
	sort.Slice(first, func(i, j int) bool { return first[i].symbol < first[j].symbol })
	sort.Slice(second, func(i, j int) bool { return second[i].symbol < second[j].symbol })
	return first, second
}

// mapConstraintStages partitions the active constraints into the two
// time stages. A constraint is second-stage iff it carries stochastic
// data or at least one non-fixed variable in its body is second-stage;
// fixed variables are ignored since fixing removes them from the model
// degrees of freedom. SOS constraints are not representable in SMPS
// output and are rejected.
func mapConstraintStages(mb *model.Builder, sm *corewriter.SymbolMap, stochasticCons map[model.ConIndex]bool, secondVars map[model.VarIndex]bool) (first, second []conStageEntry, err error) {
	for _, s := range mb.SOSConstraints() {
		if s.IsActive() {
			return nil, nil, &UnsupportedFeatureError{
				Component: sosName(s),
				Reason:    "SOS constraints are not allowed with the SMPS format",
			}
		}
	}

	rowSymbols := constraintRowSymbols(sm)
	for _, c := range mb.Constraints() {
		if !c.IsActive() {
			continue
		}
		symbols, ok := rowSymbols[c.Index()]
		if !ok || len(symbols) == 0 {
			return nil, nil, errors.Errorf("constraint %q missing from symbol map", conName(c))
		}
		entry := conStageEntry{symbols: symbols, c: c.Index()}
		if stochasticCons[c.Index()] {
			second = append(second, entry)
			continue
		}
		isSecond := false
		for _, vi := range c.Body().Vars() {
			if mb.Var(vi).IsFixed() {
				continue
			}
			if secondVars[vi] {
				isSecond = true
				break
			}
		}
		if isSecond {
			second = append(second, entry)
		} else {
			first = append(first, entry)
		}
	}
	sortConEntries(first)
	sortConEntries(second)
	return first, second, nil
}

func sortConEntries(entries []conStageEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return lessStringSlices(entries[i].symbols, entries[j].symbols)
	})
}

func lessStringSlices(a, b []string) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

func varIDSet(entries []varStageEntry) map[model.VarIndex]bool {
	out := make(map[model.VarIndex]bool, len(entries))
	for _, e := range entries {
		out[e.v] = true
	}
	return out
}

func conIDSet(entries []conStageEntry) map[model.ConIndex]bool {
	out := make(map[model.ConIndex]bool, len(entries))
	for _, e := range entries {
		out[e.c] = true
	}
	return out
}

// conName returns a printable name for error messages.
func conName(c model.Constraint) string {
	if n := c.Name(); n != "" {
		return n
	}
	return "unnamed constraint"
}

func sosName(s model.SOSConstraint) string {
	if n := s.Name(); n != "" {
		return n
	}
	return "unnamed SOS constraint"
}
