// Copyright (c) 2024 The usbwatchd Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package dispatch

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbknapp/usbwatchd/internal/event"
	"github.com/kbknapp/usbwatchd/internal/rule"
)

func waitForFile(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s to appear", path)
}

func TestDispatchRunsMatchingRuleCommand(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "fired")

	r := rule.Rule{
		Name:         "touch",
		CommandShell: "/bin/sh",
		Command:      fmt.Sprintf("touch %s", marker),
		Match:        rule.MatchClause{On: event.Add},
	}

	Dispatch([]rule.Rule{r}, event.Event{Kind: event.Add})

	waitForFile(t, marker)
}

func TestDispatchSkipsNonMatchingRule(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "fired")

	r := rule.Rule{
		Name:         "touch",
		CommandShell: "/bin/sh",
		Command:      fmt.Sprintf("touch %s", marker),
		Match:        rule.MatchClause{On: event.Remove},
	}

	Dispatch([]rule.Rule{r}, event.Event{Kind: event.Add})

	time.Sleep(50 * time.Millisecond)
	_, err := os.Stat(marker)
	assert.True(t, os.IsNotExist(err))
}

func TestDispatchContinuesAfterSpawnFailure(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "fired")

	bad := rule.Rule{
		Name:         "bad-shell",
		CommandShell: "/nonexistent/shell-binary",
		Command:      "true",
		Match:        rule.MatchClause{On: event.Add},
	}
	good := rule.Rule{
		Name:         "good",
		CommandShell: "/bin/sh",
		Command:      fmt.Sprintf("touch %s", marker),
		Match:        rule.MatchClause{On: event.Add},
	}

	Dispatch([]rule.Rule{bad, good}, event.Event{Kind: event.Add})

	waitForFile(t, marker)
}

func TestDispatchFiresAllMatchingRules(t *testing.T) {
	dir := t.TempDir()
	var markers []string
	var rules []rule.Rule
	for i := 0; i < 3; i++ {
		m := filepath.Join(dir, fmt.Sprintf("fired-%d", i))
		markers = append(markers, m)
		rules = append(rules, rule.Rule{
			Name:         fmt.Sprintf("r%d", i),
			CommandShell: "/bin/sh",
			Command:      fmt.Sprintf("touch %s", m),
			Match:        rule.MatchClause{On: event.Add},
		})
	}

	Dispatch(rules, event.Event{Kind: event.Add})

	for _, m := range markers {
		waitForFile(t, m)
	}
}

func TestDispatchDoesNotBlockOnLongRunningChild(t *testing.T) {
	r := rule.Rule{
		Name:         "sleep",
		CommandShell: "/bin/sh",
		Command:      "sleep 1",
		Match:        rule.MatchClause{On: event.Add},
	}

	start := time.Now()
	Dispatch([]rule.Rule{r}, event.Event{Kind: event.Add})
	require.Less(t, time.Since(start), 500*time.Millisecond, "Dispatch must return before the child exits")
}
