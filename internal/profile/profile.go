// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

// Package profile loads tuning profiles from YAML and selects the one that
// matches the host identity. A profile's "when" expression is evaluated over
// the parameters vendor, family, model, stepping, microarchitecture, and
// cpus. Numeric identity fields evaluate as numbers, so expressions like
// "family == 6 && model >= 106" work alongside string comparisons like
// "vendor == 'GenuineIntel'".
package profile

import (
	"fmt"
	"os"
	"strconv"

	"github.com/casbin/govaluate"
	"gopkg.in/yaml.v2"

	"hosttune/internal/cpus"
)

// EETurbo field values.
const (
	EETurboEnable  = "enable"
	EETurboDisable = "disable"
)

// Profile describes one tuning profile. A nil CstateLimit or an empty
// EETurbo leaves that control untouched.
type Profile struct {
	Name        string `yaml:"name"`
	When        string `yaml:"when"`
	CstateLimit *int   `yaml:"cstatelimit"`
	EETurbo     string `yaml:"eeturbo"`

	Evaluable *govaluate.EvaluableExpression `yaml:"-"` // parse expression once, store here for use in profile matching
}

type profileFile struct {
	Profiles []Profile `yaml:"profiles"`
}

// Load reads profiles from a YAML file. It validates every profile before
// returning so that a malformed file is rejected before anything is applied.
func Load(path string) (profiles []Profile, err error) {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var file profileFile
	err = yaml.Unmarshal(yamlFile, &file)
	if err != nil {
		err = fmt.Errorf("failed to parse profile file %s: %w", path, err)
		return
	}
	if len(file.Profiles) == 0 {
		err = fmt.Errorf("no profiles defined in %s", path)
		return
	}
	for i := range file.Profiles {
		p := &file.Profiles[i]
		if p.Name == "" {
			err = fmt.Errorf("profile %d in %s has no name", i, path)
			return
		}
		if p.EETurbo != "" && p.EETurbo != EETurboEnable && p.EETurbo != EETurboDisable {
			err = fmt.Errorf("profile %s has invalid eeturbo value %q, expected %s or %s", p.Name, p.EETurbo, EETurboEnable, EETurboDisable)
			return
		}
		if p.When != "" {
			if p.Evaluable, err = govaluate.NewEvaluableExpression(p.When); err != nil {
				err = fmt.Errorf("failed to parse when expression of profile %s: %w", p.Name, err)
				return
			}
		}
	}
	profiles = file.Profiles
	return
}

// Match returns the first profile whose when expression matches the host.
// A profile without a when expression always matches.
func Match(profiles []Profile, host cpus.Host) (Profile, error) {
	parameters := HostParameters(host)
	for i := range profiles {
		p := profiles[i]
		if p.When == "" {
			return p, nil
		}
		evaluable := p.Evaluable
		if evaluable == nil {
			var err error
			if evaluable, err = govaluate.NewEvaluableExpression(p.When); err != nil {
				return Profile{}, fmt.Errorf("failed to parse when expression of profile %s: %w", p.Name, err)
			}
		}
		result, err := evaluable.Evaluate(parameters)
		if err != nil {
			return Profile{}, fmt.Errorf("failed to evaluate when expression of profile %s: %w", p.Name, err)
		}
		matched, ok := result.(bool)
		if !ok {
			return Profile{}, fmt.Errorf("when expression of profile %s did not evaluate to true or false", p.Name)
		}
		if matched {
			return p, nil
		}
	}
	return Profile{}, fmt.Errorf("no profile matches this host")
}

// HostParameters builds the when-expression parameters from the host
// identity.
func HostParameters(host cpus.Host) map[string]interface{} {
	return map[string]interface{}{
		"vendor":            host.Vendor,
		"family":            numberOrString(host.Family),
		"model":             numberOrString(host.Model),
		"stepping":          numberOrString(host.Stepping),
		"microarchitecture": host.MicroArchitecture,
		"cpus":              float64(host.NumCPUs),
	}
}

func numberOrString(value string) interface{} {
	if parsed, err := strconv.ParseFloat(value, 64); err == nil {
		return parsed
	}
	return value
}
