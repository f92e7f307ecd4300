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

// Package corewriter writes a model as an MPS or CPLEX-LP core problem
// file and returns the symbol map assigned during writing.
//
// The row naming contract is fixed and relied upon by the SMPS
// conversion layer: equality rows are prefixed `c_e_`, >= rows `c_l_`,
// <= rows `c_u_`; a range constraint is split into the two rows
// `r_l_<name>` and `r_u_<name>`. When ForceObjectiveConstant is set the
// objective constant is always materialized through the synthetic
// column ONE_VAR_CONSTANT and the row c_e_ONE_VAR_CONSTANT, even when
// the constant is zero.
package corewriter

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"

	"github.com/pkg/errors"

	"github.com/optgo/smps/model"
)

// Format selects the core problem file format.
type Format int

const (
	// FormatMPS writes fixed MPS.
	FormatMPS Format = iota
	// FormatLP writes CPLEX LP.
	FormatLP
)

// String returns the file extension of the format.
func (f Format) String() string {
	if f == FormatLP {
		return "lp"
	}
	return "mps"
}

// ParseFormat converts a format name ("lp" or "mps") to a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "mps":
		return FormatMPS, nil
	case "lp":
		return FormatLP, nil
	}
	return FormatMPS, errors.Errorf("unknown core file format %q (must be 'lp' or 'mps')", s)
}

// Reserved symbols of the SMPS input format. A model declaring a
// variable with one of these names is rejected rather than renamed,
// since renaming could itself introduce nondeterminism.
const (
	// RHSSymbol labels right-hand-side entries in MPS and sto files.
	RHSSymbol = "RHS"
	// ConstantColumnSymbol is the synthetic column carrying the
	// objective constant.
	ConstantColumnSymbol = "ONE_VAR_CONSTANT"
	// ConstantRowSymbol is the synthetic row fixing
	// ONE_VAR_CONSTANT to one.
	ConstantRowSymbol = "c_e_ONE_VAR_CONSTANT"
)

// Options controls a single Write call.
type Options struct {
	// Format selects MPS or LP output.
	Format Format
	// ColumnOrder ranks variables; lower ranks are written first.
	// Variables without a rank follow in handle order.
	ColumnOrder map[model.VarIndex]int
	// RowOrder ranks constraints the same way.
	RowOrder map[model.ConIndex]int
	// ForceObjectiveConstant always materializes ONE_VAR_CONSTANT,
	// even for a zero objective constant.
	ForceObjectiveConstant bool
	// Context supplies the compilation cache for this call. The
	// writer compiles into it lazily; passing the same context to a
	// later call reuses (and respects mutations of) the cached
	// representations. If nil, a throwaway context is used.
	Context *model.CompileContext
}

// SymbolMap records the symbols assigned to model objects during one
// Write call. It is rebuilt from scratch on every call: symbol
// assignment depends on the ordering hints given to the writer.
type SymbolMap struct {
	objSymbol string
	varSym    map[model.VarIndex]string
	conSym    map[model.ConIndex]string
	aliases   map[string]model.ConIndex
	symbols   map[string]bool
}

// ObjectiveSymbol returns the symbol of the objective row.
func (m *SymbolMap) ObjectiveSymbol() string { return m.objSymbol }

// VarSymbol returns the column symbol of the variable, if the variable
// was written.
func (m *SymbolMap) VarSymbol(v model.VarIndex) (string, bool) {
	s, ok := m.varSym[v]
	return s, ok
}

// ConSymbol returns the base symbol of the constraint, if the
// constraint was written.
func (m *SymbolMap) ConSymbol(c model.ConIndex) (string, bool) {
	s, ok := m.conSym[c]
	return s, ok
}

// Aliases returns the row-symbol alias table. Every emitted row symbol
// maps to the constraint it belongs to; a range constraint contributes
// two entries.
func (m *SymbolMap) Aliases() map[string]model.ConIndex { return m.aliases }

// Contains reports whether the symbol was assigned during the write.
func (m *SymbolMap) Contains(sym string) bool { return m.symbols[sym] }

// FormatValue formats a numeric value with 17 significant digits,
// normalizing signed zero to positive zero. The normalization keeps
// diff-based consistency checks robust to floating sign artifacts.
func FormatValue(v float64) string {
	if v == 0 {
		v = 0
	}
	return strconv.FormatFloat(v, 'g', 17, 64)
}

type rowKind int

const (
	rowEQ rowKind = iota
	rowLE
	rowGE
)

func (k rowKind) mpsTag() string {
	switch k {
	case rowEQ:
		return "E"
	case rowLE:
		return "L"
	}
	return "G"
}

// row is one emitted constraint row.
type row struct {
	symbol string
	con    model.ConIndex
	kind   rowKind
	rhs    float64
}

// column is one emitted variable column with its row coefficients.
type column struct {
	symbol   string
	v        model.Variable
	objCoeff float64
	hasObj   bool
	entries  []colEntry
}

type colEntry struct {
	rowSymbol string
	coeff     float64
}

// Write writes the model to path in the requested format and returns
// the assigned symbol map. The model is not modified.
func Write(mb *model.Builder, path string, opts Options) (*SymbolMap, error) {
	ctx := opts.Context
	if ctx == nil {
		ctx = model.NewCompileContext()
	}
	if !mb.HasObjective() {
		return nil, errors.New("cannot write a model without an objective")
	}

	sm := &SymbolMap{
		varSym:  make(map[model.VarIndex]string),
		conSym:  make(map[model.ConIndex]string),
		aliases: make(map[string]model.ConIndex),
		symbols: make(map[string]bool),
	}
	claim := func(sym string) error {
		if sm.symbols[sym] {
			return errors.Errorf("duplicate symbol %q in model %q", sym, mb.Name())
		}
		sm.symbols[sym] = true
		return nil
	}

	sm.objSymbol = "o_" + mb.Objective().Name()
	if err := claim(sm.objSymbol); err != nil {
		return nil, err
	}

	// Column symbols. Fixed variables are folded into constants by
	// the compilation step and get no column.
	var vars []model.Variable
	for _, v := range mb.Variables() {
		if v.IsFixed() {
			continue
		}
		vars = append(vars, v)
	}
	sortVariables(vars, opts.ColumnOrder)
	cols := make([]*column, 0, len(vars))
	colBySym := make(map[string]*column, len(vars))
	for _, v := range vars {
		sym := v.Name()
		if sym == "" {
			sym = fmt.Sprintf("x%d", v.Index()+1)
		}
		if sym == RHSSymbol || sym == ConstantColumnSymbol {
			return nil, errors.Errorf(
				"the SMPS input format forbids variables from using the symbol %q; rename the variable", sym)
		}
		if err := claim(sym); err != nil {
			return nil, err
		}
		sm.varSym[v.Index()] = sym
		c := &column{symbol: sym, v: v}
		cols = append(cols, c)
		colBySym[sym] = c
	}

	// Constraint rows, split for ranges.
	var cons []model.Constraint
	for _, c := range mb.Constraints() {
		if c.IsActive() {
			cons = append(cons, c)
		}
	}
	sortConstraints(cons, opts.RowOrder)
	var rows []row
	for _, c := range cons {
		repn, err := ctx.ConstraintRepn(mb, c.Index())
		if err != nil {
			return nil, err
		}
		name := c.Name()
		if name == "" {
			name = fmt.Sprintf("c%d", c.Index()+1)
		}
		lb, hasLB := c.Lower()
		ub, hasUB := c.Upper()
		var emitted []row
		switch {
		case c.IsEquality():
			emitted = []row{{symbol: "c_e_" + name, con: c.Index(), kind: rowEQ, rhs: lb - repn.Constant}}
		case c.IsRange():
			emitted = []row{
				{symbol: "r_l_" + name, con: c.Index(), kind: rowGE, rhs: lb - repn.Constant},
				{symbol: "r_u_" + name, con: c.Index(), kind: rowLE, rhs: ub - repn.Constant},
			}
		case hasLB:
			emitted = []row{{symbol: "c_l_" + name, con: c.Index(), kind: rowGE, rhs: lb - repn.Constant}}
		case hasUB:
			emitted = []row{{symbol: "c_u_" + name, con: c.Index(), kind: rowLE, rhs: ub - repn.Constant}}
		default:
			return nil, errors.Errorf("constraint %q has no bounds", name)
		}
		base := emitted[0].symbol
		if c.IsRange() {
			base = name
		}
		sm.conSym[c.Index()] = base
		for _, r := range emitted {
			if err := claim(r.symbol); err != nil {
				return nil, err
			}
			sm.aliases[r.symbol] = c.Index()
			rows = append(rows, r)
		}
		for i, vi := range repn.Vars {
			col, ok := colBySym[sm.varSym[vi]]
			if !ok {
				return nil, errors.Errorf("constraint %q references unwritten variable %d", name, vi)
			}
			for _, r := range emitted {
				col.entries = append(col.entries, colEntry{rowSymbol: r.symbol, coeff: repn.Coeffs[i]})
			}
		}
	}

	objRepn, err := ctx.ObjectiveRepn(mb)
	if err != nil {
		return nil, err
	}
	for i, vi := range objRepn.Vars {
		col, ok := colBySym[sm.varSym[vi]]
		if !ok {
			return nil, errors.Errorf("objective references unwritten variable %d", vi)
		}
		col.objCoeff = objRepn.Coeffs[i]
		col.hasObj = true
	}

	// The synthetic constant column and its fixing row.
	forceConstant := opts.ForceObjectiveConstant || objRepn.Constant != 0
	if forceConstant {
		if err := claim(ConstantColumnSymbol); err != nil {
			return nil, err
		}
		if err := claim(ConstantRowSymbol); err != nil {
			return nil, err
		}
		cols = append(cols, &column{
			symbol:   ConstantColumnSymbol,
			objCoeff: objRepn.Constant,
			hasObj:   true,
			entries:  []colEntry{{rowSymbol: ConstantRowSymbol, coeff: 1}},
		})
		rows = append(rows, row{symbol: ConstantRowSymbol, kind: rowEQ, rhs: 1})
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "create core file %s", path)
	}
	w := bufio.NewWriter(f)
	switch opts.Format {
	case FormatMPS:
		err = writeMPS(w, mb, sm, rows, cols)
	case FormatLP:
		err = writeLP(w, mb, sm, rows, cols)
	default:
		err = errors.Errorf("unknown format %v", opts.Format)
	}
	if err == nil {
		err = w.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, errors.Wrapf(err, "write core file %s", path)
	}
	return sm, nil
}

// sortVariables orders by rank when present, then by handle. Ranked
// variables precede unranked ones.
func sortVariables(vs []model.Variable, order map[model.VarIndex]int) {
	sort.SliceStable(vs, func(i, j int) bool {
		ri, iok := order[vs[i].Index()]
		rj, jok := order[vs[j].Index()]
		if iok && jok {
			return ri < rj
		}
		if iok != jok {
			return iok
		}
		return vs[i].Index() < vs[j].Index()
	})
}

func sortConstraints(cs []model.Constraint, order map[model.ConIndex]int) {
	sort.SliceStable(cs, func(i, j int) bool {
		ri, iok := order[cs[i].Index()]
		rj, jok := order[cs[j].Index()]
		if iok && jok {
			return ri < rj
		}
		if iok != jok {
			return iok
		}
		return cs[i].Index() < cs[j].Index()
	})
}

func writeMPS(w *bufio.Writer, mb *model.Builder, sm *SymbolMap, rows []row, cols []*column) error {
	fmt.Fprintf(w, "NAME %s\n", mb.Name())
	fmt.Fprintf(w, "OBJSENSE\n")
	if mb.Objective().Sense() == model.Maximize {
		fmt.Fprintf(w, "    MAX\n")
	} else {
		fmt.Fprintf(w, "    MIN\n")
	}
	fmt.Fprintf(w, "ROWS\n")
	fmt.Fprintf(w, " N  %s\n", sm.objSymbol)
	for _, r := range rows {
		fmt.Fprintf(w, " %s  %s\n", r.kind.mpsTag(), r.symbol)
	}

	fmt.Fprintf(w, "COLUMNS\n")
	inInteger := false
	markerCount := 0
	for _, c := range cols {
		isInt := c.v != (model.Variable{}) && c.v.Domain() != model.Continuous
		if isInt && !inInteger {
			fmt.Fprintf(w, "    MARKER%d  'MARKER'  'INTORG'\n", markerCount)
			markerCount++
			inInteger = true
		}
		if !isInt && inInteger {
			fmt.Fprintf(w, "    MARKER%d  'MARKER'  'INTEND'\n", markerCount)
			markerCount++
			inInteger = false
		}
		if c.hasObj {
			fmt.Fprintf(w, "    %s  %s  %s\n", c.symbol, sm.objSymbol, FormatValue(c.objCoeff))
		}
		for _, e := range c.entries {
			fmt.Fprintf(w, "    %s  %s  %s\n", c.symbol, e.rowSymbol, FormatValue(e.coeff))
		}
	}
	if inInteger {
		fmt.Fprintf(w, "    MARKER%d  'MARKER'  'INTEND'\n", markerCount)
	}

	fmt.Fprintf(w, "RHS\n")
	for _, r := range rows {
		fmt.Fprintf(w, "    RHS  %s  %s\n", r.symbol, FormatValue(r.rhs))
	}

	fmt.Fprintf(w, "BOUNDS\n")
	for _, c := range cols {
		if c.symbol == ConstantColumnSymbol {
			fmt.Fprintf(w, " FX BOUND  %s  1\n", c.symbol)
			continue
		}
		lb, ub := c.v.LowerBound(), c.v.UpperBound()
		switch {
		case !math.IsInf(lb, -1) && !math.IsInf(ub, 1) && lb == ub:
			fmt.Fprintf(w, " FX BOUND  %s  %s\n", c.symbol, FormatValue(lb))
		case math.IsInf(lb, -1) && math.IsInf(ub, 1):
			fmt.Fprintf(w, " FR BOUND  %s\n", c.symbol)
		default:
			if math.IsInf(lb, -1) {
				fmt.Fprintf(w, " MI BOUND  %s\n", c.symbol)
			} else {
				fmt.Fprintf(w, " LO BOUND  %s  %s\n", c.symbol, FormatValue(lb))
			}
			if !math.IsInf(ub, 1) {
				fmt.Fprintf(w, " UP BOUND  %s  %s\n", c.symbol, FormatValue(ub))
			}
		}
	}
	fmt.Fprintf(w, "ENDATA\n")
	return nil
}

func writeLP(w *bufio.Writer, mb *model.Builder, sm *SymbolMap, rows []row, cols []*column) error {
	fmt.Fprintf(w, "\\* Problem: %s *\\\n\n", mb.Name())
	if mb.Objective().Sense() == model.Maximize {
		fmt.Fprintf(w, "max\n")
	} else {
		fmt.Fprintf(w, "min\n")
	}
	fmt.Fprintf(w, "%s:\n", sm.objSymbol)
	for _, c := range cols {
		if c.hasObj {
			fmt.Fprintf(w, "%s %s\n", signedValue(c.objCoeff), c.symbol)
		}
	}

	fmt.Fprintf(w, "\ns.t.\n")
	// Row bodies are grouped per row in emission order.
	type rowBody struct {
		terms []colEntry
	}
	bodies := make(map[string]*rowBody, len(rows))
	for _, r := range rows {
		bodies[r.symbol] = &rowBody{}
	}
	for _, c := range cols {
		for _, e := range c.entries {
			b := bodies[e.rowSymbol]
			b.terms = append(b.terms, colEntry{rowSymbol: c.symbol, coeff: e.coeff})
		}
	}
	for _, r := range rows {
		fmt.Fprintf(w, "\n%s:\n", r.symbol)
		for _, t := range bodies[r.symbol].terms {
			fmt.Fprintf(w, "%s %s\n", signedValue(t.coeff), t.rowSymbol)
		}
		switch r.kind {
		case rowEQ:
			fmt.Fprintf(w, "= %s\n", FormatValue(r.rhs))
		case rowLE:
			fmt.Fprintf(w, "<= %s\n", FormatValue(r.rhs))
		case rowGE:
			fmt.Fprintf(w, ">= %s\n", FormatValue(r.rhs))
		}
	}

	fmt.Fprintf(w, "\nbounds\n")
	var integers []string
	for _, c := range cols {
		if c.symbol == ConstantColumnSymbol {
			fmt.Fprintf(w, "    %s = 1\n", c.symbol)
			continue
		}
		if c.v.Domain() != model.Continuous {
			integers = append(integers, c.symbol)
		}
		lb, ub := c.v.LowerBound(), c.v.UpperBound()
		switch {
		case math.IsInf(lb, -1) && math.IsInf(ub, 1):
			fmt.Fprintf(w, "    %s free\n", c.symbol)
		case lb == ub:
			fmt.Fprintf(w, "    %s = %s\n", c.symbol, FormatValue(lb))
		default:
			fmt.Fprintf(w, "    %s <= %s <= %s\n", lpBound(lb), c.symbol, lpBound(ub))
		}
	}
	if len(integers) > 0 {
		fmt.Fprintf(w, "\ngeneral\n")
		for _, s := range integers {
			fmt.Fprintf(w, "    %s\n", s)
		}
	}
	fmt.Fprintf(w, "\nend\n")
	return nil
}

func signedValue(v float64) string {
	if v == 0 {
		v = 0
	}
	if v >= 0 {
		return "+" + FormatValue(v)
	}
	return FormatValue(v)
}

func lpBound(v float64) string {
	if math.IsInf(v, -1) {
		return "-inf"
	}
	if math.IsInf(v, 1) {
		return "+inf"
	}
	return FormatValue(v)
}
