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
	"errors"
	"fmt"
	"sort"
)

// ErrNonlinear is wrapped by compilation errors for expressions without a
// linear form. Only linear expressions can be written to LP/MPS/SMPS
// files.
var ErrNonlinear = errors.New("expression is not linear")

// Expression is the body of a constraint or objective. Implementations
// outside this package (e.g. conic constraint bodies) are treated as
// nonlinear unless Linear reports otherwise.
type Expression interface {
	// Linear returns the linear form of the expression, or false if
	// the expression is nonlinear.
	Linear() (*LinearExpr, bool)
	// Vars returns the handles of the variables appearing in the
	// expression, without duplicates.
	Vars() []VarIndex
}

// Term is a single `coefficient * variable` entry of a linear expression.
// If Param is not NoParam, the coefficient is `Scale * value(Param)` and
// the Coeff field is ignored; a pure parameter coefficient has Scale 1.
type Term struct {
	Var   VarIndex
	Coeff float64
	Param ParamIndex
	Scale float64
}

// LinearExpr is a container for a linear expression
// `sum(terms) + offset`.
type LinearExpr struct {
	terms       []Term
	offset      float64
	offsetParam ParamIndex
	offsetScale float64
}

// NewLinearExpr creates a new empty LinearExpr.
func NewLinearExpr() *LinearExpr {
	return &LinearExpr{offsetParam: NoParam}
}

// Add adds the variable with coefficient 1 and returns the expression.
func (l *LinearExpr) Add(v Variable) *LinearExpr {
	return l.AddTerm(v, 1)
}

// AddTerm adds the variable with the given coefficient and returns the
// expression.
func (l *LinearExpr) AddTerm(v Variable, coeff float64) *LinearExpr {
	l.terms = append(l.terms, Term{Var: v.ind, Coeff: coeff, Param: NoParam})
	return l
}

// AddParamTerm adds the variable with a coefficient that is exactly the
// parameter `p`, and returns the expression.
func (l *LinearExpr) AddParamTerm(v Variable, p Param) *LinearExpr {
	l.terms = append(l.terms, Term{Var: v.ind, Param: p.ind, Scale: 1})
	return l
}

// AddScaledParamTerm adds the variable with coefficient
// `scale * value(p)` and returns the expression.
func (l *LinearExpr) AddScaledParamTerm(v Variable, p Param, scale float64) *LinearExpr {
	l.terms = append(l.terms, Term{Var: v.ind, Param: p.ind, Scale: scale})
	return l
}

// AddSum adds the given variables, each with coefficient 1, and returns
// the expression.
func (l *LinearExpr) AddSum(vs ...Variable) *LinearExpr {
	for _, v := range vs {
		l.Add(v)
	}
	return l
}

// AddWeightedSum adds the variables with the corresponding coefficients
// and returns the expression. The two slices must be the same length.
func (l *LinearExpr) AddWeightedSum(vs []Variable, coeffs []float64) *LinearExpr {
	if len(vs) != len(coeffs) {
		panic(fmt.Sprintf("vs and coeffs must be the same length: %v != %v", len(vs), len(coeffs)))
	}
	for i, v := range vs {
		l.AddTerm(v, coeffs[i])
	}
	return l
}

// AddConstant adds the constant to the expression offset and returns the
// expression.
func (l *LinearExpr) AddConstant(c float64) *LinearExpr {
	l.offset += c
	return l
}

// SetParamConstant declares that the offset of the expression is exactly
// the parameter `p` and returns the expression.
func (l *LinearExpr) SetParamConstant(p Param) *LinearExpr {
	l.offsetParam = p.ind
	l.offsetScale = 1
	return l
}

// Terms returns the raw terms of the expression in insertion order.
func (l *LinearExpr) Terms() []Term { return l.terms }

// Offset returns the plain constant part of the expression.
func (l *LinearExpr) Offset() float64 { return l.offset }

// OffsetParam returns the parameter bound to the offset, if any.
func (l *LinearExpr) OffsetParam() (ParamIndex, bool) {
	return l.offsetParam, l.offsetParam != NoParam
}

// Linear implements Expression.
func (l *LinearExpr) Linear() (*LinearExpr, bool) { return l, true }

// Vars implements Expression.
func (l *LinearExpr) Vars() []VarIndex {
	seen := make(map[VarIndex]bool, len(l.terms))
	var out []VarIndex
	for _, t := range l.terms {
		if !seen[t.Var] {
			seen[t.Var] = true
			out = append(out, t.Var)
		}
	}
	return out
}

// Repn is the canonical linear representation of an expression: a
// constant plus parallel variable/coefficient lists sorted by variable
// handle. Fixed variables are folded into the constant. The Params and
// Scales lists record, per coefficient, the mutable parameter the value
// was computed from (NoParam for plain numbers); the SMPS conversion
// layer uses them to locate stochastic data and to rewrite coefficients
// in place.
type Repn struct {
	Constant      float64
	ConstantParam ParamIndex
	Vars          []VarIndex
	Coeffs        []float64
	Params        []ParamIndex
	Scales        []float64
}

// Coefficient returns the coefficient of the given variable and whether
// the variable appears in the representation.
func (r *Repn) Coefficient(v VarIndex) (float64, bool) {
	for i, rv := range r.Vars {
		if rv == v {
			return r.Coeffs[i], true
		}
	}
	return 0, false
}

// compileLinear builds the canonical representation of a linear
// expression against the current state of the builder: parameter-valued
// coefficients are resolved, duplicate terms merged, and fixed variables
// folded into the constant.
func compileLinear(mb *Builder, l *LinearExpr) *Repn {
	type slot struct {
		coeff float64
		param ParamIndex
		scale float64
		n     int
	}
	slots := make(map[VarIndex]*slot)
	constant := l.offset
	constantParam := NoParam
	if l.offsetParam != NoParam {
		constant += l.offsetScale * mb.params[l.offsetParam].value
		constantParam = l.offsetParam
	}
	for _, t := range l.terms {
		coeff := t.Coeff
		if t.Param != NoParam {
			coeff = t.Scale * mb.params[t.Param].value
		}
		if mb.vars[t.Var].fixed {
			constant += coeff * mb.vars[t.Var].value
			continue
		}
		s, ok := slots[t.Var]
		if !ok {
			s = &slot{param: NoParam, scale: 1}
			slots[t.Var] = s
		}
		s.coeff += coeff
		s.n++
		if t.Param != NoParam {
			s.param = t.Param
			s.scale = t.Scale
		}
	}
	repn := &Repn{Constant: constant, ConstantParam: constantParam}
	vars := make([]VarIndex, 0, len(slots))
	for v := range slots {
		vars = append(vars, v)
	}
	sort.Slice(vars, func(i, j int) bool { return vars[i] < vars[j] })
	for _, v := range vars {
		s := slots[v]
		repn.Vars = append(repn.Vars, v)
		repn.Coeffs = append(repn.Coeffs, s.coeff)
		// a merged term no longer tracks a single parameter
		if s.n == 1 {
			repn.Params = append(repn.Params, s.param)
			repn.Scales = append(repn.Scales, s.scale)
		} else {
			repn.Params = append(repn.Params, NoParam)
			repn.Scales = append(repn.Scales, 1)
		}
	}
	return repn
}

// CompileContext caches the canonical representations generated for one
// writer call. It is created by the conversion layer, passed through the
// call, and discarded afterwards; representations are never stored on
// the long-lived Builder.
type CompileContext struct {
	cons map[ConIndex]*Repn
	obj  *Repn
}

// NewCompileContext creates an empty compilation context.
func NewCompileContext() *CompileContext {
	return &CompileContext{cons: make(map[ConIndex]*Repn)}
}

// ConstraintRepn returns the canonical representation of the constraint
// body, compiling and caching it on first use. An error wrapping
// ErrNonlinear is returned for nonlinear bodies.
func (ctx *CompileContext) ConstraintRepn(mb *Builder, ind ConIndex) (*Repn, error) {
	if r, ok := ctx.cons[ind]; ok {
		return r, nil
	}
	body := mb.cons[ind].body
	lin, ok := body.Linear()
	if !ok {
		return nil, fmt.Errorf("constraint %q: %w", mb.Constraint(ind).Name(), ErrNonlinear)
	}
	r := compileLinear(mb, lin)
	ctx.cons[ind] = r
	return r, nil
}

// ObjectiveRepn returns the canonical representation of the objective,
// compiling and caching it on first use.
func (ctx *CompileContext) ObjectiveRepn(mb *Builder) (*Repn, error) {
	if ctx.obj != nil {
		return ctx.obj, nil
	}
	if mb.obj == nil {
		return nil, errors.New("model has no objective")
	}
	lin, ok := mb.obj.body.Linear()
	if !ok {
		return nil, fmt.Errorf("objective %q: %w", mb.Objective().Name(), ErrNonlinear)
	}
	ctx.obj = compileLinear(mb, lin)
	return ctx.obj, nil
}
