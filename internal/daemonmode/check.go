// Copyright (c) 2024 The usbwatchd Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package daemonmode

import (
	"fmt"
	"io"

	"github.com/hashicorp/go-multierror"

	"github.com/kbknapp/usbwatchd/internal/rule"
)

// CheckResult reports everything Check found, success or not.
type CheckResult struct {
	Rules    []rule.Rule
	Errors   *multierror.Error
	Warnings []string
}

// OK reports whether the rule file (and any standalone device/port
// files) loaded with no fatal problems.
func (r CheckResult) OK() bool {
	return r.Errors == nil || r.Errors.Len() == 0
}

// Check loads rulesPath (required) and, if non-empty, devicesPath and
// portsPath as standalone device/port files, collecting every problem
// instead of stopping at the first (spec.md §6's `check` subcommand).
func Check(rulesPath, devicesPath, portsPath string) CheckResult {
	rules, merr := rule.Check(rulesPath)

	if devicesPath != "" {
		if _, err := rule.LoadDevicesFile(devicesPath); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	if portsPath != "" {
		if _, err := rule.LoadPortsFile(portsPath); err != nil {
			merr = multierror.Append(merr, err)
		}
	}

	return CheckResult{
		Rules:    rules,
		Errors:   merr,
		Warnings: rule.Warnings(rules),
	}
}

// Report writes a human-readable summary of a CheckResult to w (errors)
// and warnW (warnings), one `error:`-prefixed line per problem per
// spec.md §7's single error-prefix convention.
func Report(w, warnW io.Writer, result CheckResult) {
	if result.Errors != nil {
		for _, err := range result.Errors.Errors {
			fmt.Fprintf(w, "error: %s\n", err)
		}
	}
	for _, warning := range result.Warnings {
		fmt.Fprintf(warnW, "warning: %s\n", warning)
	}
}
