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
	"errors"
	"fmt"
)

// ErrNoStochasticAnnotations is returned when a model carries none of
// the StochasticRHS, StochasticMatrix or StochasticObjective
// annotations. SMPS conversion requires at least one.
var ErrNoStochasticAnnotations = errors.New(
	"no stochastic annotations found: SMPS conversion requires at least one of " +
		"StochasticRHS, StochasticMatrix or StochasticObjective")

// UnsupportedFeatureError reports a model feature that cannot be
// represented in SMPS output. These failures are deterministic given
// the model; retrying reproduces them.
type UnsupportedFeatureError struct {
	// Component names the offending model component.
	Component string
	// Reason states the violated contract.
	Reason string
}

func (e *UnsupportedFeatureError) Error() string {
	return fmt.Sprintf("unsupported model feature on %q: %s", e.Component, e.Reason)
}

// ConsistencyError reports a structural disagreement between scenarios
// that must agree on the deterministic problem structure.
type ConsistencyError struct {
	// File is the reference file path. Empty for scenario size
	// mismatches, which carry no file pair.
	File string
	// ScenarioFile is the disagreeing per-scenario file path.
	ScenarioFile string
	// Scenario names the disagreeing scenario for size mismatches.
	Scenario string
	// Hint suggests a remediation.
	Hint string
}

func (e *ConsistencyError) Error() string {
	if e.Scenario != "" {
		return fmt.Sprintf("scenario %s disagrees with the reference scenario: %s", e.Scenario, e.Hint)
	}
	return fmt.Sprintf("file %s does not match %s: %s", e.ScenarioFile, e.File, e.Hint)
}
