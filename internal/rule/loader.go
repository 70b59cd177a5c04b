// Copyright (c) 2024 The usbwatchd Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package rule

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/kbknapp/usbwatchd/internal/device"
	"github.com/kbknapp/usbwatchd/internal/event"
)

// ruleFile is the top-level shape of a rule document (spec.md §6).
type ruleFile struct {
	Rules []rawRule `yaml:"rules"`
}

type rawRule struct {
	Name         string    `yaml:"name"`
	Command      string    `yaml:"command"`
	CommandShell string    `yaml:"command_shell"`
	Match        *rawMatch `yaml:"match"`
}

type rawMatch struct {
	On      string      `yaml:"on"`
	Devices []yaml.Node `yaml:"devices"`
	Ports   []yaml.Node `yaml:"ports"`
}

type deviceFile struct {
	Devices []device.Record `yaml:"devices"`
}

type portFile struct {
	Ports []device.Port `yaml:"ports"`
}

type includeElem struct {
	IncludeDevices *string `yaml:"include_devices"`
	ExcludeDevices *string `yaml:"exclude_devices"`
}

type includePortsElem struct {
	IncludePorts *string `yaml:"include_ports"`
}

// Load reads and parses a rule file, failing on the first problem it
// finds (required for run/listen mode, which cannot safely dispatch
// against a half-loaded rule set). Paths named by include_devices,
// include_ports, and exclude_devices are resolved relative to the
// directory containing the rule file itself.
func Load(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading rule file %s", path)
	}

	var rf ruleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, errors.Wrapf(err, "parsing rule file %s", path)
	}

	baseDir := filepath.Dir(path)

	rules := make([]Rule, 0, len(rf.Rules))
	for i, raw := range rf.Rules {
		r, err := buildRule(raw, baseDir)
		if err != nil {
			return nil, errors.Wrapf(err, "rule %d", i)
		}
		rules = append(rules, r)
	}

	return rules, nil
}

// Check behaves like Load but never stops at the first bad rule: every
// rule that fails to build is recorded in the returned multierror and
// skipped, so a single `check` invocation reports every problem in the
// file. Successfully built rules are still returned.
func Check(path string) ([]Rule, *multierror.Error) {
	var result *multierror.Error

	data, err := os.ReadFile(path)
	if err != nil {
		result = multierror.Append(result, errors.Wrapf(err, "reading rule file %s", path))
		return nil, result
	}

	var rf ruleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		result = multierror.Append(result, errors.Wrapf(err, "parsing rule file %s", path))
		return nil, result
	}

	baseDir := filepath.Dir(path)

	var rules []Rule
	for i, raw := range rf.Rules {
		r, err := buildRule(raw, baseDir)
		if err != nil {
			name := raw.Name
			if name == "" {
				name = fmt.Sprintf("#%d", i)
			}
			result = multierror.Append(result, errors.Wrapf(err, "rule %d (%s)", i, name))
			continue
		}
		rules = append(rules, r)
	}

	return rules, result
}

// Warnings scans already-loaded rules for non-fatal ambiguities worth
// surfacing in `check` mode: spec.md §9's size-parity edge case, where a
// rule's ignore_devices is nonempty but smaller than devices, making it
// easy to mistake the rule's (intended-whitelist) behavior for a
// blacklist.
func Warnings(rules []Rule) []string {
	var warnings []string
	for _, r := range rules {
		n, ign := len(r.Match.Devices), len(r.Match.IgnoreDevices)
		if ign > 0 && ign < n {
			warnings = append(warnings, fmt.Sprintf(
				"rule %q: ignore_devices has %d of %d devices ignored; this is neither a plain whitelist nor match_all_except, double check the rule's devices list",
				r.Name, ign, n))
		}
	}
	return warnings
}

func buildRule(raw rawRule, baseDir string) (Rule, error) {
	if raw.Name == "" {
		return Rule{}, errors.New("missing required key \"name\"")
	}
	if raw.Command == "" {
		return Rule{}, errors.New("missing required key \"command\"")
	}
	if raw.Match == nil {
		return Rule{}, errors.New("missing required key \"match\"")
	}

	match, err := buildMatch(*raw.Match, baseDir)
	if err != nil {
		return Rule{}, errors.Wrap(err, "match")
	}

	shell := raw.CommandShell
	if shell == "" {
		shell = DefaultCommandShell
	}

	return Rule{
		Name:         raw.Name,
		Match:        match,
		CommandShell: shell,
		Command:      raw.Command,
	}, nil
}

func buildMatch(raw rawMatch, baseDir string) (MatchClause, error) {
	if raw.On == "" {
		return MatchClause{}, errors.New("missing required key \"on\"")
	}
	on, err := event.ParseKind(raw.On)
	if err != nil {
		return MatchClause{}, errors.Wrap(err, "on")
	}

	devices, ignore, err := buildDevices(raw.Devices, baseDir)
	if err != nil {
		return MatchClause{}, errors.Wrap(err, "devices")
	}

	ports, err := buildPorts(raw.Ports, baseDir)
	if err != nil {
		return MatchClause{}, errors.Wrap(err, "ports")
	}

	return MatchClause{
		On:            on,
		Devices:       devices,
		Ports:         ports,
		IgnoreDevices: ignore,
	}, nil
}

// pendingIgnoreByName records a "!label" entry until every device has
// been loaded, since the labeled device it refers to may appear later
// in the sequence (or may have arrived via an include_devices file).
type pendingIgnoreByName struct {
	label string
	index int // position in the rule's devices list as written, for error messages
}

func buildDevices(nodes []yaml.Node, baseDir string) ([]device.Record, map[int]struct{}, error) {
	var devices []device.Record
	ignore := make(map[int]struct{})
	var pending []pendingIgnoreByName

	for i, node := range nodes {
		var inc includeElem
		if err := node.Decode(&inc); err == nil && (inc.IncludeDevices != nil || inc.ExcludeDevices != nil) {
			var path string
			exclude := false
			if inc.IncludeDevices != nil {
				path = *inc.IncludeDevices
			} else {
				path = *inc.ExcludeDevices
				exclude = true
			}

			loaded, err := LoadDevicesFile(resolvePath(baseDir, path))
			if err != nil {
				return nil, nil, errors.Wrapf(err, "devices[%d]", i)
			}

			start := len(devices)
			devices = append(devices, loaded...)
			if exclude {
				for j := range loaded {
					ignore[start+j] = struct{}{}
				}
			}
			continue
		}

		if node.Kind == yaml.MappingNode {
			var rec device.Record
			if err := node.Decode(&rec); err != nil {
				return nil, nil, errors.Wrapf(err, "devices[%d]", i)
			}
			if rec.Name == "" {
				return nil, nil, errors.Errorf("devices[%d]: missing required key \"name\"", i)
			}
			devices = append(devices, rec)
			continue
		}

		if node.Kind == yaml.ScalarNode {
			var label string
			if err := node.Decode(&label); err != nil {
				return nil, nil, errors.Wrapf(err, "devices[%d]", i)
			}

			if strings.HasPrefix(label, "!") {
				pending = append(pending, pendingIgnoreByName{label: strings.TrimPrefix(label, "!"), index: i})
				continue
			}

			devices = append(devices, device.Record{Name: label})
			continue
		}

		return nil, nil, errors.Errorf("devices[%d]: unrecognized form", i)
	}

	for _, p := range pending {
		idx := indexOfDeviceByName(devices, p.label)
		if idx < 0 {
			return nil, nil, errors.Errorf("devices[%d]: \"!%s\" refers to a device that was never listed", p.index, p.label)
		}
		ignore[idx] = struct{}{}
	}

	return devices, ignore, nil
}

func indexOfDeviceByName(devices []device.Record, name string) int {
	for i, d := range devices {
		if d.Name == name {
			return i
		}
	}
	return -1
}

func buildPorts(nodes []yaml.Node, baseDir string) ([]device.Port, error) {
	var ports []device.Port

	for i, node := range nodes {
		var inc includePortsElem
		if err := node.Decode(&inc); err == nil && inc.IncludePorts != nil {
			loaded, err := LoadPortsFile(resolvePath(baseDir, *inc.IncludePorts))
			if err != nil {
				return nil, errors.Wrapf(err, "ports[%d]", i)
			}
			ports = append(ports, loaded...)
			continue
		}

		if node.Kind == yaml.MappingNode {
			var p device.Port
			if err := node.Decode(&p); err != nil {
				return nil, errors.Wrapf(err, "ports[%d]", i)
			}
			if p.Name == "" {
				return nil, errors.Errorf("ports[%d]: missing required key \"name\"", i)
			}
			ports = append(ports, p)
			continue
		}

		if node.Kind == yaml.ScalarNode {
			var label string
			if err := node.Decode(&label); err != nil {
				return nil, errors.Wrapf(err, "ports[%d]", i)
			}
			ports = append(ports, device.Port{Name: label})
			continue
		}

		return nil, errors.Errorf("ports[%d]: unrecognized form", i)
	}

	return ports, nil
}

// LoadDevicesFile reads a device-file (spec.md §6): a top-level
// "devices:" sequence of records, each of which must carry a name.
func LoadDevicesFile(path string) ([]device.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading device file %s", path)
	}

	var df deviceFile
	if err := yaml.Unmarshal(data, &df); err != nil {
		return nil, errors.Wrapf(err, "parsing device file %s", path)
	}

	for i, d := range df.Devices {
		if d.Name == "" {
			return nil, errors.Errorf("%s: devices[%d]: missing required key \"name\"", path, i)
		}
	}

	return df.Devices, nil
}

// LoadPortsFile reads a port-file (spec.md §6): a top-level "ports:"
// sequence of records, each of which must carry a name.
func LoadPortsFile(path string) ([]device.Port, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading port file %s", path)
	}

	var pf portFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, errors.Wrapf(err, "parsing port file %s", path)
	}

	for i, p := range pf.Ports {
		if p.Name == "" {
			return nil, errors.Errorf("%s: ports[%d]: missing required key \"name\"", path, i)
		}
	}

	return pf.Ports, nil
}

func resolvePath(baseDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
