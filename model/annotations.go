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

// Annotation declares which parts of the model carry scenario-varying
// data. The concrete kinds are StochasticRHS, StochasticMatrix,
// StochasticObjective and StochasticVarBounds; each is either "default"
// (its rule applies to every active constraint, resp. the objective) or
// carries an explicit entry list.
type Annotation interface {
	// Kind returns the annotation kind name used in error messages.
	Kind() string
	// IsDefault reports whether the annotation applies to all targets
	// rather than an explicit entry list.
	IsDefault() bool
}

// RHSEntry names one constraint with stochastic bound data. Lower/Upper
// select which of the bounds vary; for an equality constraint both
// should be set.
type RHSEntry struct {
	Con   ConIndex
	Lower bool
	Upper bool
}

// StochasticRHS declares constraints whose right-hand sides vary by
// scenario.
type StochasticRHS struct {
	// Default applies the annotation to every active constraint, with
	// both bounds included.
	Default bool
	// Entries is the explicit list; used when Default is false.
	Entries []RHSEntry
}

// Kind implements Annotation.
func (StochasticRHS) Kind() string { return "StochasticRHS" }

// IsDefault implements Annotation.
func (a StochasticRHS) IsDefault() bool { return a.Default }

// MatrixEntry names one constraint with stochastic body coefficients.
// A nil Vars list means every variable coefficient in the body.
type MatrixEntry struct {
	Con  ConIndex
	Vars []VarIndex
}

// StochasticMatrix declares constraints whose body coefficients vary by
// scenario.
type StochasticMatrix struct {
	Default bool
	Entries []MatrixEntry
}

// Kind implements Annotation.
func (StochasticMatrix) Kind() string { return "StochasticMatrix" }

// IsDefault implements Annotation.
func (a StochasticMatrix) IsDefault() bool { return a.Default }

// StochasticObjective declares that objective coefficients vary by
// scenario. A nil Vars list means every variable coefficient;
// IncludeConstant additionally marks the objective constant as
// stochastic.
type StochasticObjective struct {
	Default         bool
	Vars            []VarIndex
	IncludeConstant bool
}

// Kind implements Annotation.
func (StochasticObjective) Kind() string { return "StochasticObjective" }

// IsDefault implements Annotation.
func (a StochasticObjective) IsDefault() bool { return a.Default }

// StochasticVarBounds declares variables whose bounds vary by scenario.
// The SMPS converter does not support this annotation and rejects any
// model carrying one.
type StochasticVarBounds struct {
	Default bool
	Vars    []VarIndex
}

// Kind implements Annotation.
func (StochasticVarBounds) Kind() string { return "StochasticVarBounds" }

// IsDefault implements Annotation.
func (a StochasticVarBounds) IsDefault() bool { return a.Default }
