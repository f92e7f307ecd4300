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

import "fmt"

// Stage is one time stage of a scenario tree.
type Stage struct {
	Name string
}

// TreeScenario is one discrete uncertainty realization.
type TreeScenario struct {
	Name        string
	Probability float64
}

// ScenarioTree is a two-level scenario tree: the root node is the first
// stage, its children are the second-stage scenarios. Variables are
// attached to nodes through stage keys (see Variable.WithStageKey): the
// root node holds a set of "standard" keys and a set of "derived" keys,
// the leaf level holds the second-stage keys.
type ScenarioTree struct {
	stages       []Stage
	rootStandard map[int32]bool
	rootDerived  map[int32]bool
	leaf         map[int32]bool
	scenarios    []TreeScenario
}

// NewScenarioTree creates a scenario tree with the given stage names.
// SMPS conversion requires exactly two stages; Validate enforces this.
func NewScenarioTree(stageNames ...string) *ScenarioTree {
	stages := make([]Stage, len(stageNames))
	for i, n := range stageNames {
		stages[i] = Stage{Name: n}
	}
	return &ScenarioTree{
		stages:       stages,
		rootStandard: make(map[int32]bool),
		rootDerived:  make(map[int32]bool),
		leaf:         make(map[int32]bool),
	}
}

// Validate checks the two-stage invariant and that scenario
// probabilities are present.
func (t *ScenarioTree) Validate() error {
	if len(t.stages) != 2 {
		return fmt.Errorf("SMPS conversion requires a two-stage scenario tree, found %d stages", len(t.stages))
	}
	if len(t.scenarios) == 0 {
		return fmt.Errorf("scenario tree has no scenarios")
	}
	return nil
}

// AddScenario appends a scenario with the given probability.
func (t *ScenarioTree) AddScenario(name string, probability float64) {
	t.scenarios = append(t.scenarios, TreeScenario{Name: name, Probability: probability})
}

// Scenarios returns the scenarios in declaration order.
func (t *ScenarioTree) Scenarios() []TreeScenario { return t.scenarios }

// NumStages returns the number of stages.
func (t *ScenarioTree) NumStages() int { return len(t.stages) }

// FirstStage returns the root stage.
func (t *ScenarioTree) FirstStage() Stage { return t.stages[0] }

// SecondStage returns the leaf stage.
func (t *ScenarioTree) SecondStage() Stage { return t.stages[len(t.stages)-1] }

// DeclareRootKey declares a stage key as belonging to the root node.
// Derived keys mark variables whose first-stage value is implied by the
// standard first-stage variables.
func (t *ScenarioTree) DeclareRootKey(key int32, derived bool) {
	if derived {
		t.rootDerived[key] = true
	} else {
		t.rootStandard[key] = true
	}
}

// DeclareLeafKey declares a stage key as belonging to the leaf level.
func (t *ScenarioTree) DeclareLeafKey(key int32) {
	t.leaf[key] = true
}

// IsRootStandardKey reports whether the key names a standard first-stage
// variable.
func (t *ScenarioTree) IsRootStandardKey(key int32) bool { return t.rootStandard[key] }

// IsRootDerivedKey reports whether the key names a derived first-stage
// variable.
func (t *ScenarioTree) IsRootDerivedKey(key int32) bool { return t.rootDerived[key] }

// IsLeafKey reports whether the key names a second-stage variable.
func (t *ScenarioTree) IsLeafKey(key int32) bool { return t.leaf[key] }
