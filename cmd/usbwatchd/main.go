// Copyright (c) 2024 The usbwatchd Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// Command usbwatchd is the CLI entrypoint: thin glue wiring urfave/cli
// commands onto the listen/run/scan/check mode runners and the
// create-rule scaffold generator. It contains no matching or dispatch
// logic of its own (spec.md §1 non-goals).
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli"

	"github.com/kbknapp/usbwatchd/internal/daemonmode"
	"github.com/kbknapp/usbwatchd/internal/event"
	"github.com/kbknapp/usbwatchd/internal/ingest"
	"github.com/kbknapp/usbwatchd/internal/logging"
	"github.com/kbknapp/usbwatchd/internal/scaffold"
	"github.com/kbknapp/usbwatchd/internal/shutdown"
)

func main() {
	app := cli.NewApp()
	app.Name = "usbwatchd"
	app.Usage = "watch for USB hot-plug events and run rules against them"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "log-level",
			Value:  "info",
			Usage:  "log verbosity (trace, debug, info, warn, error)",
			EnvVar: "USBWATCHD_LOG_LEVEL",
		},
	}
	app.Before = func(c *cli.Context) error {
		return logging.SetLevel(c.String("log-level"))
	}
	app.Commands = []cli.Command{
		listenCommand,
		runCommand,
		scanCommand,
		checkCommand,
		createRuleCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

var listenCommand = cli.Command{
	Name:  "listen",
	Usage: "print normalized hot-plug events as they occur",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "only", Value: "all", Usage: "ports|devices|all"},
		cli.StringFlag{Name: "event", Usage: "restrict to one event kind"},
		cli.IntFlag{Name: "num-events", Usage: "exit after N events (0 = unbounded)"},
		cli.StringFlag{Name: "output", Usage: "write to this file instead of stdout"},
	},
	Action: func(c *cli.Context) error {
		scanFor, err := parseScanFor(c.String("only"))
		if err != nil {
			return err
		}

		opts := daemonmode.ListenOptions{
			Only:      scanFor,
			NumEvents: c.Int("num-events"),
			Output:    os.Stdout,
		}

		if k := c.String("event"); k != "" {
			kind, err := event.ParseKind(k)
			if err != nil {
				return err
			}
			opts.Event = &kind
		}

		if path := c.String("output"); path != "" {
			f, err := os.Create(path)
			if err != nil {
				return err
			}
			defer f.Close()
			opts.Output = f
		}

		coord := shutdown.New()
		return daemonmode.Listen(context.Background(), coord, ingest.NewNetlinkSource(), opts)
	},
}

var runCommand = cli.Command{
	Name:  "run",
	Usage: "load rules and dispatch commands on matching hot-plug events",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "rules", Required: true, Usage: "path to the rule file"},
		cli.StringFlag{Name: "devices", Usage: "path to a standalone device file to pre-seed attachment state"},
		cli.StringFlag{Name: "ports", Usage: "path to a standalone port file to pre-seed attachment state"},
	},
	Action: func(c *cli.Context) error {
		return daemonmode.Run(context.Background(), daemonmode.RunOptions{
			RulesPath:   c.String("rules"),
			DevicesPath: c.String("devices"),
			PortsPath:   c.String("ports"),
			NewSource:   func() ingest.Source { return ingest.NewNetlinkSource() },
		})
	},
}

var scanCommand = cli.Command{
	Name:  "scan",
	Usage: "enumerate currently attached USB devices/ports and exit",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "scan-for", Value: "all", Usage: "ports|devices|all"},
		cli.StringFlag{Name: "format", Value: "raw", Usage: "raw|yaml"},
	},
	Action: func(c *cli.Context) error {
		scanFor, err := parseScanFor(c.String("scan-for"))
		if err != nil {
			return err
		}

		format := daemonmode.FormatRaw
		if c.String("format") == "yaml" {
			format = daemonmode.FormatYAML
		}

		return daemonmode.Scan(os.Stdout, "", scanFor, format)
	},
}

var checkCommand = cli.Command{
	Name:  "check",
	Usage: "validate a rule file (and referenced device/port files) without running",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "rules", Required: true, Usage: "path to the rule file"},
		cli.StringFlag{Name: "devices", Usage: "path to a standalone device file to validate"},
		cli.StringFlag{Name: "ports", Usage: "path to a standalone port file to validate"},
	},
	Action: func(c *cli.Context) error {
		result := daemonmode.Check(c.String("rules"), c.String("devices"), c.String("ports"))
		daemonmode.Report(os.Stderr, os.Stderr, result)
		if !result.OK() {
			return cli.NewExitError("", 1)
		}
		return nil
	},
}

var createRuleCommand = cli.Command{
	Name:  "create-rule",
	Usage: "print a starter rule document for a single rule",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "name", Required: true},
		cli.StringFlag{Name: "execute", Required: true},
		cli.StringFlag{Name: "on", Value: "add"},
		cli.StringFlag{Name: "shell"},
		cli.StringSliceFlag{Name: "devices-file"},
		cli.StringSliceFlag{Name: "ports-file"},
	},
	Action: func(c *cli.Context) error {
		out, err := scaffold.Generate(scaffold.Options{
			Name:         c.String("name"),
			Execute:      c.String("execute"),
			On:           c.String("on"),
			Shell:        c.String("shell"),
			DevicesFiles: c.StringSlice("devices-file"),
			PortsFiles:   c.StringSlice("ports-file"),
		})
		if err != nil {
			return err
		}
		fmt.Fprint(os.Stdout, out)
		return nil
	},
}

func parseScanFor(s string) (daemonmode.ScanFor, error) {
	switch s {
	case "ports":
		return daemonmode.ScanPorts, nil
	case "devices":
		return daemonmode.ScanDevices, nil
	case "all", "":
		return daemonmode.ScanAll, nil
	default:
		return 0, fmt.Errorf("unrecognized --only/--scan-for value %q", s)
	}
}
