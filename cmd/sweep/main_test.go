package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/signalsfoundry/custody-relay-sim/internal/logging"
)

func TestParseSeeds(t *testing.T) {
	got, err := parseSeeds("3-5")
	if err != nil || len(got) != 3 || got[0] != 3 || got[2] != 5 {
		t.Fatalf("parseSeeds range = %v, %v", got, err)
	}
	got, err = parseSeeds("7, 9")
	if err != nil || len(got) != 2 || got[1] != 9 {
		t.Fatalf("parseSeeds list = %v, %v", got, err)
	}
	for _, bad := range []string{"", "5-3", "x"} {
		if _, err := parseSeeds(bad); err == nil {
			t.Fatalf("parseSeeds(%q) should fail", bad)
		}
	}
}

func TestParseFlagsRejectsUnknownNames(t *testing.T) {
	if _, err := parseFlags([]string{"-strategies", "cooperate,gossip"}, io.Discard); err == nil {
		t.Fatalf("expected unknown strategy to fail")
	}
	if _, err := parseFlags([]string{"-evictions", "random"}, io.Discard); err == nil {
		t.Fatalf("expected unknown eviction policy to fail")
	}
}

func TestRunPrintsOneRowPerVariant(t *testing.T) {
	var out bytes.Buffer
	args := []string{"-seeds", "1-2", "-strategies", "cooperate,defect", "-parallel", "2"}
	if err := run(context.Background(), args, &out, io.Discard, logging.Noop()); err != nil {
		t.Fatalf("run: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 5 {
		t.Fatalf("got %d lines, want header plus 4 rows:\n%s", len(lines), out.String())
	}
	if !strings.HasPrefix(lines[1], "seed=1/strategy=cooperate") || !strings.HasPrefix(lines[4], "seed=2/strategy=defect") {
		t.Fatalf("rows out of variant order:\n%s", out.String())
	}
	for _, line := range lines[1:] {
		if !strings.HasSuffix(strings.TrimSpace(line), "ok") {
			t.Fatalf("variant did not finish cleanly: %s", line)
		}
	}
}
