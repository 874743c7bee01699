// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package ux

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{
		"":        ModeRich,
		"rich":    ModeRich,
		"PLAIN":   ModePlain,
		"min":     ModePlain,
		"machine": ModeMachine,
		"q":       ModeMachine,
		"unknown": ModeRich,
	}
	for in, want := range cases {
		if got := ParseMode(in); got != want {
			t.Errorf("ParseMode(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDetectMode_BufferIsMachine(t *testing.T) {
	t.Setenv("DATANEXUS_OUTPUT", "")
	if got := DetectMode(&bytes.Buffer{}); got != ModeMachine {
		t.Errorf("expected machine mode for a buffer, got %q", got)
	}
	t.Setenv("DATANEXUS_OUTPUT", "plain")
	if got := DetectMode(&bytes.Buffer{}); got != ModePlain {
		t.Errorf("expected env override, got %q", got)
	}
}

func TestPrinter_MachineStatus(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModeMachine)

	p.Title("ignored")
	p.Success("ingested")
	p.Warning("slow")
	p.Error("failed")
	p.Muted("ignored")

	want := "OK\tingested\nWARN\tslow\nERROR\tfailed\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

func TestPrinter_PlainUsesIcons(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf, ModePlain).Success("done")
	if buf.String() != "✓ done\n" {
		t.Errorf("got %q", buf.String())
	}
}

func TestPrinter_RichContainsText(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModeRich)
	p.Box("Answer", "42 orders")
	p.Error("boom")
	out := buf.String()
	for _, want := range []string{"Answer", "42 orders", "boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestPrinter_KeyValuesSorted(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf, ModeMachine).KeyValues(map[string]string{"b": "2", "a": "1"})
	if buf.String() != "a\t1\nb\t2\n" {
		t.Errorf("got %q", buf.String())
	}

	buf.Reset()
	NewPrinter(&buf, ModePlain).KeyValues(map[string]string{"long_key": "x", "k": "y"})
	if buf.String() != "k         y\nlong_key  x\n" {
		t.Errorf("got %q", buf.String())
	}
}

func TestSpinner_NoopOutsideRich(t *testing.T) {
	var buf bytes.Buffer
	s := NewPrinter(&buf, ModePlain).NewSpinner("loading")
	s.Start()
	if s.Running() {
		t.Error("spinner should not run in plain mode")
	}
	s.Stop()
	if buf.Len() != 0 {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestSpinner_StartStop(t *testing.T) {
	var buf safeBuffer
	s := NewPrinter(&buf, ModeRich).NewSpinner("loading")
	s.Start()
	s.Start()
	time.Sleep(3 * spinnerInterval)
	s.UpdateMessage("still loading")
	s.Stop()
	s.Stop()
	if s.Running() {
		t.Error("spinner still running after Stop")
	}
	if !strings.Contains(buf.String(), "loading") {
		t.Errorf("expected spinner frames, got %q", buf.String())
	}
}

func TestWithSpinner(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModeMachine)

	if err := p.WithSpinner("ingest", func() error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	boom := errors.New("boom")
	if err := p.WithSpinner("ingest", func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	want := "OK\tingest\nERROR\tingest: boom\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

func TestStepProgress_Machine(t *testing.T) {
	var buf bytes.Buffer
	sp := NewPrinter(&buf, ModeMachine).NewStepProgress("how many orders?")
	sp.Step(1, "Routing...")
	sp.Step(2, "Writing SQL Query...")
	sp.Done("thread-1", "There are 42 orders.")

	want := "QUESTION\thow many orders?\n" +
		"STEP\t1\tRouting...\n" +
		"STEP\t2\tWriting SQL Query...\n" +
		"THREAD\tthread-1\n" +
		"ANSWER\tThere are 42 orders.\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
	if sp.Steps() != 2 {
		t.Errorf("expected 2 steps, got %d", sp.Steps())
	}
}

func TestStepProgress_Fail(t *testing.T) {
	var buf bytes.Buffer
	sp := NewPrinter(&buf, ModePlain).NewStepProgress("q")
	sp.Fail(errors.New("agent unavailable"))
	if !strings.Contains(buf.String(), "agent unavailable") {
		t.Errorf("got %q", buf.String())
	}
}
