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

// Package model offers a user-friendly API to build linear optimization
// models with mutable data.
//
// The `Builder` struct owns the model storage and provides helper methods
// for adding variables, parameters and constraints. The `Variable`,
// `Param`, `Constraint` and `Objective` structs are references to specific
// entries in the builder and provide helpful methods for interacting with
// those entries. Every reference carries a stable integer handle
// (`VarIndex`, `ConIndex`, `ParamIndex`) assigned at construction time;
// these handles are the identity join keys used by the SMPS conversion
// layers, never names.
package model

import (
	"fmt"
	"math"
)

type (
	// VarIndex is the handle of a variable in the model.
	VarIndex int32
	// ConIndex is the handle of a constraint in the model.
	ConIndex int32
	// ParamIndex is the handle of a mutable parameter in the model.
	ParamIndex int32
	// SOSIndex is the handle of an SOS constraint in the model.
	SOSIndex int32
)

// NoParam marks a coefficient or bound that is a plain number rather than
// a reference to a mutable parameter.
const NoParam ParamIndex = -1

// NoStageKey marks a variable with no scenario-tree stage assignment.
const NoStageKey int32 = -1

// VarDomain is the continuous/discrete domain tag of a variable.
type VarDomain int

const (
	// Continuous marks a real-valued variable.
	Continuous VarDomain = iota
	// Integer marks an integer-valued variable.
	Integer
	// Binary marks a 0/1 variable.
	Binary
)

func (d VarDomain) String() string {
	switch d {
	case Continuous:
		return "continuous"
	case Integer:
		return "integer"
	case Binary:
		return "binary"
	}
	return fmt.Sprintf("VarDomain(%d)", int(d))
}

// ObjectiveSense is the optimization direction of the objective.
type ObjectiveSense int

const (
	// Minimize requests the smallest objective value.
	Minimize ObjectiveSense = iota
	// Maximize requests the largest objective value.
	Maximize
)

type varData struct {
	name     string
	lb, ub   float64
	lbParam  ParamIndex
	ubParam  ParamIndex
	domain   VarDomain
	fixed    bool
	value    float64
	hasValue bool
	stageKey int32
}

type conData struct {
	name    string
	body    Expression
	lb, ub  float64
	hasLB   bool
	hasUB   bool
	lbParam ParamIndex
	ubParam ParamIndex
	active  bool
}

type paramData struct {
	name  string
	value float64
}

type sosData struct {
	name    string
	level   int
	vars    []VarIndex
	weights []float64
	active  bool
}

type objData struct {
	name  string
	body  Expression
	sense ObjectiveSense
}

// Builder owns the storage of an optimization model. The zero Builder is
// not usable; call NewModelBuilder.
type Builder struct {
	vars        []varData
	cons        []conData
	params      []paramData
	sos         []sosData
	obj         *objData
	annotations []Annotation
	name        string
}

// NewModelBuilder creates and returns a new empty model Builder.
func NewModelBuilder() *Builder {
	return &Builder{name: "unknown"}
}

// Name returns the name of the model.
func (mb *Builder) Name() string { return mb.name }

// SetName sets the name of the model.
func (mb *Builder) SetName(s string) { mb.name = s }

// NewVar creates a new continuous variable with the bounds `[lb,ub]`.
// Use math.Inf for free directions.
func (mb *Builder) NewVar(lb, ub float64) Variable {
	v := Variable{ind: VarIndex(len(mb.vars)), mb: mb}
	mb.vars = append(mb.vars, varData{
		lb:       lb,
		ub:       ub,
		lbParam:  NoParam,
		ubParam:  NoParam,
		domain:   Continuous,
		stageKey: NoStageKey,
	})
	return v
}

// NewFreeVar creates a new continuous variable with no bounds.
func (mb *Builder) NewFreeVar() Variable {
	return mb.NewVar(math.Inf(-1), math.Inf(1))
}

// NewIntVar creates a new integer variable with the bounds `[lb,ub]`.
func (mb *Builder) NewIntVar(lb, ub float64) Variable {
	v := mb.NewVar(lb, ub)
	mb.vars[v.ind].domain = Integer
	return v
}

// NewBinaryVar creates a new 0/1 variable.
func (mb *Builder) NewBinaryVar() Variable {
	v := mb.NewVar(0, 1)
	mb.vars[v.ind].domain = Binary
	return v
}

// NewParam creates a new mutable parameter with the given value.
func (mb *Builder) NewParam(value float64) Param {
	p := Param{ind: ParamIndex(len(mb.params)), mb: mb}
	mb.params = append(mb.params, paramData{value: value})
	return p
}

func (mb *Builder) addConstraint(body Expression, lb, ub float64, hasLB, hasUB bool) Constraint {
	c := Constraint{ind: ConIndex(len(mb.cons)), mb: mb}
	mb.cons = append(mb.cons, conData{
		body:    body,
		lb:      lb,
		ub:      ub,
		hasLB:   hasLB,
		hasUB:   hasUB,
		lbParam: NoParam,
		ubParam: NoParam,
		active:  true,
	})
	return c
}

// AddLessOrEqual adds the constraint `body <= ub`.
func (mb *Builder) AddLessOrEqual(body Expression, ub float64) Constraint {
	return mb.addConstraint(body, 0, ub, false, true)
}

// AddGreaterOrEqual adds the constraint `body >= lb`.
func (mb *Builder) AddGreaterOrEqual(body Expression, lb float64) Constraint {
	return mb.addConstraint(body, lb, 0, true, false)
}

// AddEquality adds the constraint `body == rhs`.
func (mb *Builder) AddEquality(body Expression, rhs float64) Constraint {
	return mb.addConstraint(body, rhs, rhs, true, true)
}

// AddRangeConstraint adds the constraint `lb <= body <= ub`. The LP/MPS
// writer splits such a constraint into two rows.
func (mb *Builder) AddRangeConstraint(body Expression, lb, ub float64) Constraint {
	return mb.addConstraint(body, lb, ub, true, true)
}

// AddSOSConstraint adds a special ordered set constraint of the given
// level over `vars` with `weights`. SOS constraints are carried on the
// model but are not representable in SMPS output; conversion rejects any
// model containing an active one.
func (mb *Builder) AddSOSConstraint(level int, vars []Variable, weights []float64) SOSConstraint {
	s := SOSConstraint{ind: SOSIndex(len(mb.sos)), mb: mb}
	inds := make([]VarIndex, len(vars))
	for i, v := range vars {
		inds[i] = v.ind
	}
	w := make([]float64, len(weights))
	copy(w, weights)
	mb.sos = append(mb.sos, sosData{level: level, vars: inds, weights: w, active: true})
	return s
}

// Minimize sets the objective to minimize the given expression.
func (mb *Builder) Minimize(body Expression) Objective {
	mb.obj = &objData{body: body, sense: Minimize}
	return Objective{mb: mb}
}

// Maximize sets the objective to maximize the given expression.
func (mb *Builder) Maximize(body Expression) Objective {
	mb.obj = &objData{body: body, sense: Maximize}
	return Objective{mb: mb}
}

// HasObjective reports whether an objective has been set.
func (mb *Builder) HasObjective() bool { return mb.obj != nil }

// Objective returns a reference to the model objective. The reference is
// only valid if HasObjective is true.
func (mb *Builder) Objective() Objective { return Objective{mb: mb} }

// Annotate attaches a stochastic annotation to the model.
func (mb *Builder) Annotate(a Annotation) {
	mb.annotations = append(mb.annotations, a)
}

// Annotations returns the annotations attached to the model, in
// declaration order.
func (mb *Builder) Annotations() []Annotation { return mb.annotations }

// NumVars returns the number of variables in the model.
func (mb *Builder) NumVars() int { return len(mb.vars) }

// NumConstraints returns the number of constraints in the model,
// active or not.
func (mb *Builder) NumConstraints() int { return len(mb.cons) }

// Variables returns references to every variable in the model in handle
// order.
func (mb *Builder) Variables() []Variable {
	vs := make([]Variable, len(mb.vars))
	for i := range mb.vars {
		vs[i] = Variable{ind: VarIndex(i), mb: mb}
	}
	return vs
}

// Constraints returns references to every constraint in the model in
// handle order, including deactivated ones.
func (mb *Builder) Constraints() []Constraint {
	cs := make([]Constraint, len(mb.cons))
	for i := range mb.cons {
		cs[i] = Constraint{ind: ConIndex(i), mb: mb}
	}
	return cs
}

// SOSConstraints returns references to every SOS constraint in the model.
func (mb *Builder) SOSConstraints() []SOSConstraint {
	ss := make([]SOSConstraint, len(mb.sos))
	for i := range mb.sos {
		ss[i] = SOSConstraint{ind: SOSIndex(i), mb: mb}
	}
	return ss
}

// Params returns references to every parameter in the model in handle
// order.
func (mb *Builder) Params() []Param {
	ps := make([]Param, len(mb.params))
	for i := range mb.params {
		ps[i] = Param{ind: ParamIndex(i), mb: mb}
	}
	return ps
}

// Var returns a reference to the variable with the given handle.
func (mb *Builder) Var(ind VarIndex) Variable { return Variable{ind: ind, mb: mb} }

// Constraint returns a reference to the constraint with the given handle.
func (mb *Builder) Constraint(ind ConIndex) Constraint { return Constraint{ind: ind, mb: mb} }

// Param returns a reference to the parameter with the given handle.
func (mb *Builder) Param(ind ParamIndex) Param { return Param{ind: ind, mb: mb} }

// Variable is a reference to a variable in the model.
type Variable struct {
	ind VarIndex
	mb  *Builder
}

// Index returns the handle of the variable.
func (v Variable) Index() VarIndex { return v.ind }

// Name returns the name of the variable.
func (v Variable) Name() string { return v.mb.vars[v.ind].name }

// WithName sets the name of the variable.
func (v Variable) WithName(s string) Variable {
	v.mb.vars[v.ind].name = s
	return v
}

// WithStageKey assigns the scenario-tree stage key of the variable.
func (v Variable) WithStageKey(key int32) Variable {
	v.mb.vars[v.ind].stageKey = key
	return v
}

// StageKey returns the scenario-tree stage key of the variable, or
// NoStageKey if none was assigned.
func (v Variable) StageKey() int32 { return v.mb.vars[v.ind].stageKey }

// Domain returns the domain tag of the variable.
func (v Variable) Domain() VarDomain { return v.mb.vars[v.ind].domain }

// IsContinuous reports whether the variable is real-valued.
func (v Variable) IsContinuous() bool { return v.mb.vars[v.ind].domain == Continuous }

// LowerBound returns the lower bound of the variable. Unbounded below is
// represented as -Inf.
func (v Variable) LowerBound() float64 { return v.mb.vars[v.ind].lb }

// UpperBound returns the upper bound of the variable. Unbounded above is
// represented as +Inf.
func (v Variable) UpperBound() float64 { return v.mb.vars[v.ind].ub }

// HasLowerBound reports whether the variable is bounded below.
func (v Variable) HasLowerBound() bool { return !math.IsInf(v.mb.vars[v.ind].lb, -1) }

// HasUpperBound reports whether the variable is bounded above.
func (v Variable) HasUpperBound() bool { return !math.IsInf(v.mb.vars[v.ind].ub, 1) }

// SetBounds replaces both bounds of the variable.
func (v Variable) SetBounds(lb, ub float64) {
	v.mb.vars[v.ind].lb = lb
	v.mb.vars[v.ind].ub = ub
}

// BindLowerParam declares that the lower bound of the variable is given
// by the parameter `p`. Models with a stochastic parameter bound to a
// variable bound cannot be converted to SMPS.
func (v Variable) BindLowerParam(p Param) {
	v.mb.vars[v.ind].lbParam = p.ind
	v.mb.vars[v.ind].lb = p.Value()
}

// BindUpperParam declares that the upper bound of the variable is given
// by the parameter `p`.
func (v Variable) BindUpperParam(p Param) {
	v.mb.vars[v.ind].ubParam = p.ind
	v.mb.vars[v.ind].ub = p.Value()
}

// LowerParam returns the parameter bound to the lower bound, if any.
func (v Variable) LowerParam() (ParamIndex, bool) {
	p := v.mb.vars[v.ind].lbParam
	return p, p != NoParam
}

// UpperParam returns the parameter bound to the upper bound, if any.
func (v Variable) UpperParam() (ParamIndex, bool) {
	p := v.mb.vars[v.ind].ubParam
	return p, p != NoParam
}

// Fix fixes the variable to the given value. A fixed variable is removed
// from the model degrees of freedom: writers fold it into constants and
// the stage classifier ignores it.
func (v Variable) Fix(value float64) {
	d := &v.mb.vars[v.ind]
	d.fixed = true
	d.value = value
	d.hasValue = true
}

// Free removes the fixed flag from the variable, keeping its value.
func (v Variable) Free() { v.mb.vars[v.ind].fixed = false }

// IsFixed reports whether the variable is fixed.
func (v Variable) IsFixed() bool { return v.mb.vars[v.ind].fixed }

// SetValue assigns the current value of the variable without fixing it.
func (v Variable) SetValue(value float64) {
	d := &v.mb.vars[v.ind]
	d.value = value
	d.hasValue = true
}

// Value returns the current value of the variable and whether one has
// been assigned.
func (v Variable) Value() (float64, bool) {
	d := v.mb.vars[v.ind]
	return d.value, d.hasValue
}

// Param is a reference to a mutable parameter in the model.
type Param struct {
	ind ParamIndex
	mb  *Builder
}

// Index returns the handle of the parameter.
func (p Param) Index() ParamIndex { return p.ind }

// Name returns the name of the parameter.
func (p Param) Name() string { return p.mb.params[p.ind].name }

// WithName sets the name of the parameter.
func (p Param) WithName(s string) Param {
	p.mb.params[p.ind].name = s
	return p
}

// Value returns the current value of the parameter.
func (p Param) Value() float64 { return p.mb.params[p.ind].value }

// SetValue assigns the current value of the parameter.
func (p Param) SetValue(value float64) { p.mb.params[p.ind].value = value }

// Constraint is a reference to a constraint in the model.
type Constraint struct {
	ind ConIndex
	mb  *Builder
}

// Index returns the handle of the constraint.
func (c Constraint) Index() ConIndex { return c.ind }

// Name returns the name of the constraint.
func (c Constraint) Name() string { return c.mb.cons[c.ind].name }

// WithName sets the name of the constraint.
func (c Constraint) WithName(s string) Constraint {
	c.mb.cons[c.ind].name = s
	return c
}

// Body returns the body expression of the constraint.
func (c Constraint) Body() Expression { return c.mb.cons[c.ind].body }

// Lower returns the lower bound of the constraint and whether one exists.
func (c Constraint) Lower() (float64, bool) {
	d := c.mb.cons[c.ind]
	return d.lb, d.hasLB
}

// Upper returns the upper bound of the constraint and whether one exists.
func (c Constraint) Upper() (float64, bool) {
	d := c.mb.cons[c.ind]
	return d.ub, d.hasUB
}

// SetLower replaces the lower bound of the constraint. The bound must
// already exist; this never turns a one-sided constraint into a range.
func (c Constraint) SetLower(lb float64) { c.mb.cons[c.ind].lb = lb }

// SetUpper replaces the upper bound of the constraint.
func (c Constraint) SetUpper(ub float64) { c.mb.cons[c.ind].ub = ub }

// BindLowerParam declares that the lower bound is given by the
// parameter `p`.
func (c Constraint) BindLowerParam(p Param) {
	c.mb.cons[c.ind].lbParam = p.ind
	c.mb.cons[c.ind].lb = p.Value()
}

// BindUpperParam declares that the upper bound is given by the
// parameter `p`.
func (c Constraint) BindUpperParam(p Param) {
	c.mb.cons[c.ind].ubParam = p.ind
	c.mb.cons[c.ind].ub = p.Value()
}

// LowerParam returns the parameter bound to the lower bound, if any.
func (c Constraint) LowerParam() (ParamIndex, bool) {
	p := c.mb.cons[c.ind].lbParam
	return p, p != NoParam
}

// UpperParam returns the parameter bound to the upper bound, if any.
func (c Constraint) UpperParam() (ParamIndex, bool) {
	p := c.mb.cons[c.ind].ubParam
	return p, p != NoParam
}

// IsEquality reports whether the constraint has identical lower and
// upper bounds.
func (c Constraint) IsEquality() bool {
	d := c.mb.cons[c.ind]
	return d.hasLB && d.hasUB && d.lb == d.ub
}

// IsRange reports whether the constraint has distinct lower and upper
// bounds and therefore writes as two rows.
func (c Constraint) IsRange() bool {
	d := c.mb.cons[c.ind]
	return d.hasLB && d.hasUB && d.lb != d.ub
}

// IsActive reports whether the constraint participates in the model.
func (c Constraint) IsActive() bool { return c.mb.cons[c.ind].active }

// Deactivate removes the constraint from the active model without
// deleting it.
func (c Constraint) Deactivate() { c.mb.cons[c.ind].active = false }

// Activate restores a deactivated constraint.
func (c Constraint) Activate() { c.mb.cons[c.ind].active = true }

// SOSConstraint is a reference to a special ordered set constraint in
// the model.
type SOSConstraint struct {
	ind SOSIndex
	mb  *Builder
}

// Name returns the name of the SOS constraint.
func (s SOSConstraint) Name() string { return s.mb.sos[s.ind].name }

// WithName sets the name of the SOS constraint.
func (s SOSConstraint) WithName(name string) SOSConstraint {
	s.mb.sos[s.ind].name = name
	return s
}

// Level returns the SOS level (1 or 2).
func (s SOSConstraint) Level() int { return s.mb.sos[s.ind].level }

// IsActive reports whether the SOS constraint participates in the model.
func (s SOSConstraint) IsActive() bool { return s.mb.sos[s.ind].active }

// Deactivate removes the SOS constraint from the active model.
func (s SOSConstraint) Deactivate() { s.mb.sos[s.ind].active = false }

// Objective is a reference to the model objective.
type Objective struct {
	mb *Builder
}

// Name returns the name of the objective.
func (o Objective) Name() string {
	if o.mb.obj == nil {
		return ""
	}
	if o.mb.obj.name == "" {
		return "obj"
	}
	return o.mb.obj.name
}

// WithName sets the name of the objective.
func (o Objective) WithName(s string) Objective {
	o.mb.obj.name = s
	return o
}

// Body returns the objective expression.
func (o Objective) Body() Expression { return o.mb.obj.body }

// Sense returns the optimization direction.
func (o Objective) Sense() ObjectiveSense { return o.mb.obj.sense }
