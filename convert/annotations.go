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

	"github.com/optgo/smps/model"
)

// rhsEntry is one resolved stochastic-RHS target.
type rhsEntry struct {
	con   model.ConIndex
	lower bool
	upper bool
}

// matrixEntry is one resolved stochastic-matrix target. A nil vars list
// means every variable coefficient in the body.
type matrixEntry struct {
	con  model.ConIndex
	vars []model.VarIndex
}

// resolvedAnnotations is the output of the annotation resolver: the
// located annotation of each kind (nil when absent), expanded and
// name-sorted entry lists, and the union set of constraints flagged as
// carrying stochastic data.
type resolvedAnnotations struct {
	rhs           *model.StochasticRHS
	rhsDefault    bool
	rhsEntries    []rhsEntry
	matrix        *model.StochasticMatrix
	matrixDefault bool
	matrixEntries []matrixEntry
	objective     *model.StochasticObjective

	stochasticCons map[model.ConIndex]bool
}

// resolveAnnotations scans the model annotations, rejecting unsupported
// kinds and combinations, and expands each located annotation into a
// deterministic entry list. At most one annotation of each supported
// kind is allowed; stochastic variable bounds are unsupported; at least
// one supported annotation must be present.
func resolveAnnotations(mb *model.Builder) (*resolvedAnnotations, error) {
	res := &resolvedAnnotations{stochasticCons: make(map[model.ConIndex]bool)}
	for _, a := range mb.Annotations() {
		switch a := a.(type) {
		case model.StochasticRHS:
			if res.rhs != nil {
				return nil, errors.Errorf("at most one %s annotation is allowed, found multiple", a.Kind())
			}
			rhs := a
			res.rhs = &rhs
		case model.StochasticMatrix:
			if res.matrix != nil {
				return nil, errors.Errorf("at most one %s annotation is allowed, found multiple", a.Kind())
			}
			m := a
			res.matrix = &m
		case model.StochasticObjective:
			if res.objective != nil {
				return nil, errors.Errorf("at most one %s annotation is allowed, found multiple", a.Kind())
			}
			o := a
			res.objective = &o
		case model.StochasticVarBounds:
			return nil, &UnsupportedFeatureError{
				Component: mb.Name(),
				Reason:    "the SMPS converter does not support stochastic variable bounds",
			}
		default:
			return nil, errors.Errorf("unknown annotation kind %s", a.Kind())
		}
	}
	if res.rhs == nil && res.matrix == nil && res.objective == nil {
		return nil, ErrNoStochasticAnnotations
	}

	activeCons := activeConstraintsByName(mb)

	if res.rhs != nil {
		res.rhsDefault = res.rhs.Default
		if res.rhs.Default {
			for _, c := range activeCons {
				res.rhsEntries = append(res.rhsEntries, rhsEntry{con: c.Index(), lower: true, upper: true})
			}
		} else {
			for _, e := range res.rhs.Entries {
				if !mb.Constraint(e.Con).IsActive() {
					continue
				}
				res.rhsEntries = append(res.rhsEntries, rhsEntry{con: e.Con, lower: e.Lower, upper: e.Upper})
			}
			if len(res.rhsEntries) == 0 {
				return nil, errors.Errorf(
					"the %s annotation was declared with explicit entries but no active "+
						"constraints were recovered from those entries", res.rhs.Kind())
			}
			sortByConName(mb, res.rhsEntries, func(e rhsEntry) model.ConIndex { return e.con })
		}
		for _, e := range res.rhsEntries {
			res.stochasticCons[e.con] = true
		}
	}

	if res.matrix != nil {
		res.matrixDefault = res.matrix.Default
		if res.matrix.Default {
			for _, c := range activeCons {
				res.matrixEntries = append(res.matrixEntries, matrixEntry{con: c.Index()})
			}
		} else {
			for _, e := range res.matrix.Entries {
				if !mb.Constraint(e.Con).IsActive() {
					continue
				}
				res.matrixEntries = append(res.matrixEntries, matrixEntry{con: e.Con, vars: e.Vars})
			}
			if len(res.matrixEntries) == 0 {
				return nil, errors.Errorf(
					"the %s annotation was declared with explicit entries but no active "+
						"constraints were recovered from those entries", res.matrix.Kind())
			}
			sortByConName(mb, res.matrixEntries, func(e matrixEntry) model.ConIndex { return e.con })
		}
		for _, e := range res.matrixEntries {
			res.stochasticCons[e.con] = true
		}
	}

	if res.objective != nil && !mb.HasObjective() {
		return nil, errors.Errorf(
			"the %s annotation was declared but the model has no objective", res.objective.Kind())
	}

	return res, nil
}

// activeConstraintsByName returns the active constraints sorted by
// name, falling back to handle order for unnamed ones. Keeps the
// default-annotation expansion deterministic.
func activeConstraintsByName(mb *model.Builder) []model.Constraint {
	var out []model.Constraint
	for _, c := range mb.Constraints() {
		if c.IsActive() {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Name() != out[j].Name() {
			return out[i].Name() < out[j].Name()
		}
		return out[i].Index() < out[j].Index()
	})
	return out
}

func sortByConName[E any](mb *model.Builder, entries []E, con func(E) model.ConIndex) {
	sort.SliceStable(entries, func(i, j int) bool {
		ci, cj := mb.Constraint(con(entries[i])), mb.Constraint(con(entries[j]))
		if ci.Name() != cj.Name() {
			return ci.Name() < cj.Name()
		}
		return ci.Index() < cj.Index()
	})
}
