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
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Options is the configuration surface of the SMPS converters.
type Options struct {
	// OutputDir is the directory receiving the merged SMPS files. It
	// must exist.
	OutputDir string `yaml:"output_dir"`
	// Basename names the output files (<basename>.cor etc.).
	Basename string `yaml:"basename"`
	// CoreFormat selects the core problem format, "mps" (default)
	// or "lp".
	CoreFormat string `yaml:"core_format"`
	// EnforceDerivedNonanticipativity keeps derived first-stage
	// variables in the first stage rather than pushing them into the
	// second.
	EnforceDerivedNonanticipativity bool `yaml:"enforce_derived_nonanticipativity"`
	// DisableConsistencyChecks skips the cross-scenario structural
	// file comparisons.
	DisableConsistencyChecks bool `yaml:"disable_consistency_checks"`
	// KeepScenarioFiles retains the per-scenario files under
	// scenario_files/ after the merge.
	KeepScenarioFiles bool `yaml:"keep_scenario_files"`
	// KeepAuxiliaryFiles retains the .row/.col/.sto.struct/.det
	// files next to the merged output.
	KeepAuxiliaryFiles bool `yaml:"keep_auxiliary_files"`
	// Verbose enables progress logging.
	Verbose bool `yaml:"verbose"`
}

// withDefaults fills unset fields.
func (o Options) withDefaults() Options {
	if o.CoreFormat == "" {
		o.CoreFormat = "mps"
	}
	if o.Basename == "" {
		o.Basename = "problem"
	}
	return o
}

// LoadConfig reads converter options from a YAML file. A missing file
// is not an error: it yields zero Options so defaults apply.
func LoadConfig(path string) (Options, error) {
	var o Options
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return o, nil
	}
	if err != nil {
		return o, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(data, &o); err != nil {
		return o, errors.Wrapf(err, "unmarshal config %s", path)
	}
	return o, nil
}
