// Copyright (c) 2024 The usbwatchd Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package scaffold generates a starter rule-file document for the
// `create-rule` CLI command (spec.md §6) — glue outside the matching
// core, kept flat and dependency-light.
package scaffold

import (
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/kbknapp/usbwatchd/internal/event"
	"github.com/kbknapp/usbwatchd/internal/rule"
)

// Options mirrors create-rule's flags.
type Options struct {
	Name         string
	Execute      string
	On           string // defaults to "add" if empty
	Shell        string // defaults to rule.DefaultCommandShell if empty
	DevicesFiles []string
	PortsFiles   []string
}

type outRule struct {
	Name         string   `yaml:"name"`
	Command      string   `yaml:"command"`
	CommandShell string   `yaml:"command_shell,omitempty"`
	Match        outMatch `yaml:"match"`
}

type outMatch struct {
	On      string      `yaml:"on"`
	Devices []yaml.Node `yaml:"devices,omitempty"`
	Ports   []yaml.Node `yaml:"ports,omitempty"`
}

type outRuleFile struct {
	Rules []outRule `yaml:"rules"`
}

// Generate renders a one-rule document matching opts, in the same
// shape rule.Load expects back.
func Generate(opts Options) (string, error) {
	if opts.Name == "" {
		return "", errors.New("create-rule: --name is required")
	}
	if opts.Execute == "" {
		return "", errors.New("create-rule: --execute is required")
	}

	on := opts.On
	if on == "" {
		on = "add"
	}
	if _, err := event.ParseKind(on); err != nil {
		return "", errors.Wrap(err, "create-rule: --on")
	}

	shell := opts.Shell
	if shell == rule.DefaultCommandShell {
		shell = ""
	}

	devices, err := includeNodes("include_devices", opts.DevicesFiles)
	if err != nil {
		return "", err
	}
	ports, err := includeNodes("include_ports", opts.PortsFiles)
	if err != nil {
		return "", err
	}

	r := outRule{
		Name:         opts.Name,
		Command:      opts.Execute,
		CommandShell: shell,
		Match: outMatch{
			On:      on,
			Devices: devices,
			Ports:   ports,
		},
	}

	out, err := yaml.Marshal(outRuleFile{Rules: []outRule{r}})
	if err != nil {
		return "", errors.Wrap(err, "create-rule: rendering rule document")
	}
	return string(out), nil
}

func includeNodes(key string, paths []string) ([]yaml.Node, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	nodes := make([]yaml.Node, 0, len(paths))
	for _, path := range paths {
		var n yaml.Node
		if err := n.Encode(map[string]string{key: path}); err != nil {
			return nil, errors.Wrapf(err, "create-rule: encoding %s entry %q", key, path)
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}
