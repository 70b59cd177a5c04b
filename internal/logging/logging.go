// Copyright (c) 2024 The usbwatchd Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package logging configures the single logrus instance every usbwatchd
// component logs through, following the package-level-logger-plus-
// per-component-fields idiom used by the project's netlink-monitor
// component.
package logging

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

var root = logrus.New()

func init() {
	root.Formatter = &logrus.TextFormatter{TimestampFormat: time.RFC3339Nano}
	root.Out = os.Stderr

	if lvl := os.Getenv("USBWATCHD_LOG_LEVEL"); lvl != "" {
		if parsed, err := logrus.ParseLevel(lvl); err == nil {
			root.SetLevel(parsed)
		}
	}
}

// SetLevel overrides the log level, e.g. from a --log-level CLI flag.
func SetLevel(level string) error {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	root.SetLevel(parsed)
	return nil
}

// For returns a logger entry tagged with the given subsystem name, the
// way the netlink monitor tags its own entries with "source".
func For(component string) *logrus.Entry {
	return root.WithFields(logrus.Fields{
		"pid":    os.Getpid(),
		"source": component,
	})
}
