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
	"strings"
	"testing"
)

func TestIcon_Render(t *testing.T) {
	for _, icon := range []Icon{IconSuccess, IconWarning, IconError, IconPending, IconRunning, IconArrow} {
		if !strings.Contains(icon.Render(), string(icon)) {
			t.Errorf("Render() of %q lost the glyph", icon)
		}
	}
}

func TestPrinter_MachineOutput(t *testing.T) {
	var out, errOut bytes.Buffer
	p := NewPrinter(&out, &errOut, PersonalityMachine)

	p.Title("hidden title")
	p.Muted("hidden muted")
	p.Success("done")
	p.Info("plain")
	p.Row(IconSuccess, "merge", "complete", "100")
	p.Warning("careful")
	p.Error("broken")

	want := "OK: done\nplain\nmerge\tcomplete\t100\n"
	if out.String() != want {
		t.Errorf("stdout = %q, want %q", out.String(), want)
	}
	if errOut.String() != "WARN: careful\nERROR: broken\n" {
		t.Errorf("stderr = %q", errOut.String())
	}
	if !p.Machine() {
		t.Error("Machine() = false")
	}
}

func TestPrinter_MinimalOutput(t *testing.T) {
	var out bytes.Buffer
	p := NewPrinter(&out, nil, PersonalityMinimal)

	p.Title("Workflow")
	p.Row(IconError, "ship", "failed")
	p.Error("boom")

	got := out.String()
	for _, want := range []string{"Workflow\n", "✗ ship  failed\n", "✗ boom\n"} {
		if !strings.Contains(got, want) {
			t.Errorf("output %q missing %q", got, want)
		}
	}
}

func TestPrinter_FullOutputKeepsText(t *testing.T) {
	var out bytes.Buffer
	p := NewPrinter(&out, nil, PersonalityFull)

	p.Box("Run", "succeeded")
	p.Success("exported 2 files")

	got := out.String()
	if !strings.Contains(got, "succeeded") || !strings.Contains(got, "exported 2 files") {
		t.Errorf("styled output lost text: %q", got)
	}
}

func TestPrinter_ProgressBar(t *testing.T) {
	machine := NewPrinter(&bytes.Buffer{}, nil, PersonalityMachine)
	if got := machine.ProgressBar(40, 10); got != "40%" {
		t.Errorf("machine ProgressBar = %q", got)
	}
	if got := machine.ProgressBar(150, 10); got != "100%" {
		t.Errorf("clamped ProgressBar = %q", got)
	}

	full := NewPrinter(&bytes.Buffer{}, nil, PersonalityFull)
	got := full.ProgressBar(50, 10)
	if strings.Count(got, "█") != 5 || strings.Count(got, "░") != 5 {
		t.Errorf("full ProgressBar = %q", got)
	}
}

func TestParsePersonalityLevel(t *testing.T) {
	tests := map[string]PersonalityLevel{
		"machine": PersonalityMachine,
		"PLAIN":   PersonalityMachine,
		"min":     PersonalityMinimal,
		"full":    PersonalityFull,
		"bogus":   PersonalityFull,
	}
	for in, want := range tests {
		if got := ParsePersonalityLevel(in); got != want {
			t.Errorf("ParsePersonalityLevel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDetectPersonality(t *testing.T) {
	t.Setenv(EnvPersonality, "minimal")
	if got := DetectPersonality(nil); got != PersonalityMinimal {
		t.Errorf("env override = %q", got)
	}

	t.Setenv(EnvPersonality, "")
	if got := DetectPersonality(nil); got != PersonalityMachine {
		t.Errorf("nil file = %q", got)
	}
}
