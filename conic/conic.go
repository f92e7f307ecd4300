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

// Package conic offers declarative convex conic constraint types for
// second-order-cone and exponential-cone programs.
//
// Each constraint type represents a body expression with an implicit
// upper bound of 0 and no lower bound. The bodies are nonlinear, so
// these constraints cannot be written to LP/MPS/SMPS files; they exist
// for model declaration and for conic-capable solver interfaces.
// CheckConvexity verifies the variable bound and domain conditions under
// which each cone is recognized as convex.
package conic

import (
	"errors"
	"math"

	"github.com/optgo/smps/model"
)

// ErrUnvalued is returned by Value when a participating variable has no
// assigned value.
var ErrUnvalued = errors.New("one or more terms could not be evaluated")

// body is an opaque nonlinear expression over model variables.
type body struct {
	vars []model.VarIndex
	eval func() (float64, error)
}

// Linear implements model.Expression; conic bodies are never linear.
func (b body) Linear() (*model.LinearExpr, bool) { return nil, false }

// Vars implements model.Expression.
func (b body) Vars() []model.VarIndex { return b.vars }

func indices(vs ...model.Variable) []model.VarIndex {
	out := make([]model.VarIndex, len(vs))
	for i, v := range vs {
		out[i] = v.Index()
	}
	return out
}

func values(vs ...model.Variable) ([]float64, error) {
	out := make([]float64, len(vs))
	for i, v := range vs {
		val, ok := v.Value()
		if !ok {
			return nil, ErrUnvalued
		}
		out[i] = val
	}
	return out, nil
}

// nonnegative reports whether the variable has a lower bound >= 0.
func nonnegative(v model.Variable) bool {
	return v.HasLowerBound() && v.LowerBound() >= 0
}

// nonpositive reports whether the variable has an upper bound <= 0.
func nonpositive(v model.Variable) bool {
	return v.HasUpperBound() && v.UpperBound() <= 0
}

func allContinuous(vs ...model.Variable) bool {
	for _, v := range vs {
		if !v.IsContinuous() {
			return false
		}
	}
	return true
}

// coneBase implements the state shared by the conic constraint types.
type coneBase struct {
	name   string
	active bool
}

// Name returns the name of the constraint.
func (c *coneBase) Name() string { return c.name }

// SetName sets the name of the constraint.
func (c *coneBase) SetName(s string) { c.name = s }

// IsActive reports whether the constraint participates in the model.
func (c *coneBase) IsActive() bool { return c.active }

// Deactivate removes the constraint from the active model.
func (c *coneBase) Deactivate() { c.active = false }

// Activate restores a deactivated constraint.
func (c *coneBase) Activate() { c.active = true }

// UpperBound returns the implicit constraint upper bound, always 0.
func (c *coneBase) UpperBound() float64 { return 0 }

// Quadratic is the second-order cone constraint
//
//	x[0]^2 + ... + x[n-1]^2 <= r^2,
//
// which is recognized as convex for r >= 0.
type Quadratic struct {
	coneBase
	x []model.Variable
	r model.Variable
}

// NewQuadratic creates a quadratic cone constraint over `x` and `r`.
func NewQuadratic(x []model.Variable, r model.Variable) *Quadratic {
	q := &Quadratic{x: append([]model.Variable(nil), x...), r: r}
	q.active = true
	return q
}

// X returns the cone members.
func (q *Quadratic) X() []model.Variable { return q.x }

// R returns the radius variable.
func (q *Quadratic) R() model.Variable { return q.r }

// Body returns the constraint body as an opaque nonlinear expression.
func (q *Quadratic) Body() model.Expression {
	return body{vars: indices(append(q.x, q.r)...), eval: q.Value}
}

// Value evaluates the constraint body at the current variable values.
func (q *Quadratic) Value() (float64, error) {
	xs, err := values(q.x...)
	if err != nil {
		return 0, err
	}
	rv, ok := q.r.Value()
	if !ok {
		return 0, ErrUnvalued
	}
	var sum float64
	for _, xv := range xs {
		sum += xv * xv
	}
	return sum - rv*rv, nil
}

// CheckConvexity reports whether all convexity conditions for the cone
// are satisfied. If relax is true, variable domains are ignored and all
// variables are assumed continuous.
func (q *Quadratic) CheckConvexity(relax bool) bool {
	if !relax && !allContinuous(append(q.x, q.r)...) {
		return false
	}
	return nonnegative(q.r)
}

// RotatedQuadratic is the rotated second-order cone constraint
//
//	x[0]^2 + ... + x[n-1]^2 <= 2*r1*r2,
//
// which is recognized as convex for r1,r2 >= 0.
type RotatedQuadratic struct {
	coneBase
	x      []model.Variable
	r1, r2 model.Variable
}

// NewRotatedQuadratic creates a rotated quadratic cone constraint.
func NewRotatedQuadratic(x []model.Variable, r1, r2 model.Variable) *RotatedQuadratic {
	q := &RotatedQuadratic{x: append([]model.Variable(nil), x...), r1: r1, r2: r2}
	q.active = true
	return q
}

// X returns the cone members.
func (q *RotatedQuadratic) X() []model.Variable { return q.x }

// R1 returns the first radius variable.
func (q *RotatedQuadratic) R1() model.Variable { return q.r1 }

// R2 returns the second radius variable.
func (q *RotatedQuadratic) R2() model.Variable { return q.r2 }

// Body returns the constraint body as an opaque nonlinear expression.
func (q *RotatedQuadratic) Body() model.Expression {
	return body{vars: indices(append(q.x, q.r1, q.r2)...), eval: q.Value}
}

// Value evaluates the constraint body at the current variable values.
func (q *RotatedQuadratic) Value() (float64, error) {
	xs, err := values(q.x...)
	if err != nil {
		return 0, err
	}
	rs, err := values(q.r1, q.r2)
	if err != nil {
		return 0, err
	}
	var sum float64
	for _, xv := range xs {
		sum += xv * xv
	}
	return sum - 2*rs[0]*rs[1], nil
}

// CheckConvexity reports whether all convexity conditions for the cone
// are satisfied.
func (q *RotatedQuadratic) CheckConvexity(relax bool) bool {
	if !relax && !allContinuous(append(q.x, q.r1, q.r2)...) {
		return false
	}
	return nonnegative(q.r1) && nonnegative(q.r2)
}

// PrimalExponential is the primal exponential cone constraint
//
//	x1*exp(x2/x1) <= r,
//
// which is recognized as convex for x1,r >= 0.
type PrimalExponential struct {
	coneBase
	x1, x2, r model.Variable
}

// NewPrimalExponential creates a primal exponential cone constraint.
func NewPrimalExponential(x1, x2, r model.Variable) *PrimalExponential {
	c := &PrimalExponential{x1: x1, x2: x2, r: r}
	c.active = true
	return c
}

// X1 returns the x1 variable.
func (c *PrimalExponential) X1() model.Variable { return c.x1 }

// X2 returns the x2 variable.
func (c *PrimalExponential) X2() model.Variable { return c.x2 }

// R returns the bound variable.
func (c *PrimalExponential) R() model.Variable { return c.r }

// Body returns the constraint body as an opaque nonlinear expression.
func (c *PrimalExponential) Body() model.Expression {
	return body{vars: indices(c.x1, c.x2, c.r), eval: c.Value}
}

// Value evaluates the constraint body at the current variable values.
func (c *PrimalExponential) Value() (float64, error) {
	vs, err := values(c.x1, c.x2, c.r)
	if err != nil {
		return 0, err
	}
	return vs[0]*math.Exp(vs[1]/vs[0]) - vs[2], nil
}

// CheckConvexity reports whether all convexity conditions for the cone
// are satisfied.
func (c *PrimalExponential) CheckConvexity(relax bool) bool {
	if !relax && !allContinuous(c.x1, c.x2, c.r) {
		return false
	}
	return nonnegative(c.x1) && nonnegative(c.r)
}

// DualExponential is the dual exponential cone constraint
//
//	-(x2/e)*exp(x1/x2) <= r,
//
// which is recognized as convex for x2 <= 0 and r >= 0. Here e is
// Euler's constant.
type DualExponential struct {
	coneBase
	x1, x2, r model.Variable
}

// NewDualExponential creates a dual exponential cone constraint.
func NewDualExponential(x1, x2, r model.Variable) *DualExponential {
	c := &DualExponential{x1: x1, x2: x2, r: r}
	c.active = true
	return c
}

// X1 returns the x1 variable.
func (c *DualExponential) X1() model.Variable { return c.x1 }

// X2 returns the x2 variable.
func (c *DualExponential) X2() model.Variable { return c.x2 }

// R returns the bound variable.
func (c *DualExponential) R() model.Variable { return c.r }

// Body returns the constraint body as an opaque nonlinear expression.
func (c *DualExponential) Body() model.Expression {
	return body{vars: indices(c.x1, c.x2, c.r), eval: c.Value}
}

// Value evaluates the constraint body at the current variable values.
func (c *DualExponential) Value() (float64, error) {
	vs, err := values(c.x1, c.x2, c.r)
	if err != nil {
		return 0, err
	}
	return -(vs[1]/math.E)*math.Exp(vs[0]/vs[1]) - vs[2], nil
}

// CheckConvexity reports whether all convexity conditions for the cone
// are satisfied.
func (c *DualExponential) CheckConvexity(relax bool) bool {
	if !relax && !allContinuous(c.x1, c.x2, c.r) {
		return false
	}
	return nonpositive(c.x2) && nonnegative(c.r)
}

// PrimalPower is the primal power cone constraint
//
//	sqrt(x[0]^2 + ... + x[n-1]^2) <= (r1^alpha)*(r2^(1-alpha)),
//
// which is recognized as convex for r1,r2 >= 0 and 0 < alpha < 1.
type PrimalPower struct {
	coneBase
	x      []model.Variable
	r1, r2 model.Variable
	alpha  float64
}

// NewPrimalPower creates a primal power cone constraint with the given
// exponent.
func NewPrimalPower(x []model.Variable, r1, r2 model.Variable, alpha float64) *PrimalPower {
	c := &PrimalPower{x: append([]model.Variable(nil), x...), r1: r1, r2: r2, alpha: alpha}
	c.active = true
	return c
}

// X returns the cone members.
func (c *PrimalPower) X() []model.Variable { return c.x }

// R1 returns the first radius variable.
func (c *PrimalPower) R1() model.Variable { return c.r1 }

// R2 returns the second radius variable.
func (c *PrimalPower) R2() model.Variable { return c.r2 }

// Alpha returns the cone exponent.
func (c *PrimalPower) Alpha() float64 { return c.alpha }

// Body returns the constraint body as an opaque nonlinear expression.
func (c *PrimalPower) Body() model.Expression {
	return body{vars: indices(append(c.x, c.r1, c.r2)...), eval: c.Value}
}

// Value evaluates the constraint body at the current variable values.
func (c *PrimalPower) Value() (float64, error) {
	xs, err := values(c.x...)
	if err != nil {
		return 0, err
	}
	rs, err := values(c.r1, c.r2)
	if err != nil {
		return 0, err
	}
	var sum float64
	for _, xv := range xs {
		sum += xv * xv
	}
	return math.Sqrt(sum) - math.Pow(rs[0], c.alpha)*math.Pow(rs[1], 1-c.alpha), nil
}

// CheckConvexity reports whether all convexity conditions for the cone
// are satisfied.
func (c *PrimalPower) CheckConvexity(relax bool) bool {
	if !relax && !allContinuous(append(c.x, c.r1, c.r2)...) {
		return false
	}
	return nonnegative(c.r1) && nonnegative(c.r2) &&
		c.alpha > 0 && c.alpha < 1
}

// DualPower is the dual power cone constraint
//
//	sqrt(x[0]^2 + ... + x[n-1]^2) <=
//	        ((r1/alpha)^alpha) * ((r2/(1-alpha))^(1-alpha)),
//
// which is recognized as convex for r1,r2 >= 0 and 0 < alpha < 1.
type DualPower struct {
	coneBase
	x      []model.Variable
	r1, r2 model.Variable
	alpha  float64
}

// NewDualPower creates a dual power cone constraint with the given
// exponent.
func NewDualPower(x []model.Variable, r1, r2 model.Variable, alpha float64) *DualPower {
	c := &DualPower{x: append([]model.Variable(nil), x...), r1: r1, r2: r2, alpha: alpha}
	c.active = true
	return c
}

// X returns the cone members.
func (c *DualPower) X() []model.Variable { return c.x }

// R1 returns the first radius variable.
func (c *DualPower) R1() model.Variable { return c.r1 }

// R2 returns the second radius variable.
func (c *DualPower) R2() model.Variable { return c.r2 }

// Alpha returns the cone exponent.
func (c *DualPower) Alpha() float64 { return c.alpha }

// Body returns the constraint body as an opaque nonlinear expression.
func (c *DualPower) Body() model.Expression {
	return body{vars: indices(append(c.x, c.r1, c.r2)...), eval: c.Value}
}

// Value evaluates the constraint body at the current variable values.
func (c *DualPower) Value() (float64, error) {
	xs, err := values(c.x...)
	if err != nil {
		return 0, err
	}
	rs, err := values(c.r1, c.r2)
	if err != nil {
		return 0, err
	}
	var sum float64
	for _, xv := range xs {
		sum += xv * xv
	}
	return math.Sqrt(sum) -
		math.Pow(rs[0]/c.alpha, c.alpha)*math.Pow(rs[1]/(1-c.alpha), 1-c.alpha), nil
}

// CheckConvexity reports whether all convexity conditions for the cone
// are satisfied.
func (c *DualPower) CheckConvexity(relax bool) bool {
	if !relax && !allContinuous(append(c.x, c.r1, c.r2)...) {
		return false
	}
	return nonnegative(c.r1) && nonnegative(c.r2) &&
		c.alpha > 0 && c.alpha < 1
}
