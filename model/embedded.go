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

package model

import (
	"fmt"
	"sort"
)

// Outcome is one support point of a discrete distribution.
type Outcome struct {
	Probability float64
	Value       float64
}

// Distribution is a discrete probability table. Only discrete tables are
// supported for SMPS output.
type Distribution []Outcome

// NewUniformDistribution builds a discrete table assigning equal
// probability to each value.
func NewUniformDistribution(values ...float64) Distribution {
	p := 1.0 / float64(len(values))
	d := make(Distribution, len(values))
	for i, v := range values {
		d[i] = Outcome{Probability: p, Value: v}
	}
	return d
}

// StageVar is a variable assignment within an EmbeddedSP time stage.
// Derived marks first-stage variables whose value is implied by the
// standard first-stage decisions.
type StageVar struct {
	Var     VarIndex
	Derived bool
}

// EmbeddedSP is a stochastic program expressed on a single model: the
// scenario structure is implied by discrete distributions attached to
// mutable parameters rather than by explicit per-scenario instances.
type EmbeddedSP struct {
	// Model is the reference model. The EmbeddedSP only borrows it;
	// conversion leaves it value-identical.
	Model *Builder
	// TimeStages are the stage names, first stage first. SMPS
	// conversion requires exactly two.
	TimeStages []string

	stageVars      map[string][]StageVar
	stochasticData map[ParamIndex]Distribution
}

// NewEmbeddedSP creates an EmbeddedSP over the given model with the
// given stage names.
func NewEmbeddedSP(mb *Builder, stageNames ...string) *EmbeddedSP {
	return &EmbeddedSP{
		Model:          mb,
		TimeStages:     stageNames,
		stageVars:      make(map[string][]StageVar),
		stochasticData: make(map[ParamIndex]Distribution),
	}
}

// Validate checks the two-stage invariant.
func (sp *EmbeddedSP) Validate() error {
	if len(sp.TimeStages) != 2 {
		return fmt.Errorf("embedded SP must have exactly two time stages, found %d", len(sp.TimeStages))
	}
	return nil
}

// AssignStage places a variable in the named time stage.
func (sp *EmbeddedSP) AssignStage(v Variable, stage string, derived bool) {
	sp.stageVars[stage] = append(sp.stageVars[stage], StageVar{Var: v.Index(), Derived: derived})
}

// StageVariables returns the variables assigned to the named stage in
// assignment order.
func (sp *EmbeddedSP) StageVariables(stage string) []StageVar {
	return sp.stageVars[stage]
}

// DeclareStochastic attaches a discrete distribution to a parameter,
// marking the parameter as stochastic data.
func (sp *EmbeddedSP) DeclareStochastic(p Param, d Distribution) {
	sp.stochasticData[p.Index()] = d
}

// IsStochastic reports whether the parameter carries a distribution.
func (sp *EmbeddedSP) IsStochastic(p ParamIndex) bool {
	_, ok := sp.stochasticData[p]
	return ok
}

// DistributionOf returns the distribution attached to the parameter.
func (sp *EmbeddedSP) DistributionOf(p ParamIndex) (Distribution, bool) {
	d, ok := sp.stochasticData[p]
	return d, ok
}

// StochasticParams returns the handles of all stochastic parameters in
// ascending order.
func (sp *EmbeddedSP) StochasticParams() []ParamIndex {
	out := make([]ParamIndex, 0, len(sp.stochasticData))
	for p := range sp.stochasticData {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// HasStochasticVariableBounds reports whether any variable bound is tied
// to a stochastic parameter. Such models cannot be converted to SMPS.
func (sp *EmbeddedSP) HasStochasticVariableBounds() bool {
	for _, v := range sp.Model.Variables() {
		if p, ok := v.LowerParam(); ok && sp.IsStochastic(p) {
			return true
		}
		if p, ok := v.UpperParam(); ok && sp.IsStochastic(p) {
			return true
		}
	}
	return false
}

// constraintStochasticParams returns the stochastic parameters
// referenced by the constraint's body terms or bounds.
func (sp *EmbeddedSP) constraintStochasticParams(c Constraint) []ParamIndex {
	var out []ParamIndex
	seen := make(map[ParamIndex]bool)
	add := func(p ParamIndex) {
		if sp.IsStochastic(p) && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	if lin, ok := c.Body().Linear(); ok {
		for _, t := range lin.Terms() {
			if t.Param != NoParam {
				add(t.Param)
			}
		}
		if p, ok := lin.OffsetParam(); ok {
			add(p)
		}
	}
	if p, ok := c.LowerParam(); ok {
		add(p)
	}
	if p, ok := c.UpperParam(); ok {
		add(p)
	}
	return out
}

// HasStochasticData reports whether the constraint references any
// stochastic parameter.
func (sp *EmbeddedSP) HasStochasticData(c Constraint) bool {
	return len(sp.constraintStochasticParams(c)) > 0
}

// StochasticConstraints returns the active constraints referencing
// stochastic data, in handle order.
func (sp *EmbeddedSP) StochasticConstraints() []Constraint {
	var out []Constraint
	for _, c := range sp.Model.Constraints() {
		if !c.IsActive() {
			continue
		}
		if sp.HasStochasticData(c) {
			out = append(out, c)
		}
	}
	return out
}

// ObjectiveStochasticParams returns the stochastic parameters referenced
// by the objective expression.
func (sp *EmbeddedSP) ObjectiveStochasticParams() []ParamIndex {
	if !sp.Model.HasObjective() {
		return nil
	}
	var out []ParamIndex
	seen := make(map[ParamIndex]bool)
	lin, ok := sp.Model.Objective().Body().Linear()
	if !ok {
		return nil
	}
	for _, t := range lin.Terms() {
		if t.Param != NoParam && sp.IsStochastic(t.Param) && !seen[t.Param] {
			seen[t.Param] = true
			out = append(out, t.Param)
		}
	}
	if p, ok := lin.OffsetParam(); ok && sp.IsStochastic(p) && !seen[p] {
		out = append(out, p)
	}
	return out
}

// ConstraintStage computes the time stage of a constraint: second stage
// if it references stochastic data or any non-fixed variable assigned to
// the second stage, otherwise first stage. When derivedLastStage is
// true, derived first-stage variables are counted as second-stage.
func (sp *EmbeddedSP) ConstraintStage(c Constraint, derivedLastStage bool) string {
	firststage := sp.TimeStages[0]
	secondstage := sp.TimeStages[len(sp.TimeStages)-1]
	if sp.HasStochasticData(c) {
		return secondstage
	}
	secondIDs := make(map[VarIndex]bool)
	for _, sv := range sp.stageVars[secondstage] {
		secondIDs[sv.Var] = true
	}
	if derivedLastStage {
		for _, sv := range sp.stageVars[firststage] {
			if sv.Derived {
				secondIDs[sv.Var] = true
			}
		}
	}
	for _, vi := range c.Body().Vars() {
		if sp.Model.Var(vi).IsFixed() {
			continue
		}
		if secondIDs[vi] {
			return secondstage
		}
	}
	return firststage
}
