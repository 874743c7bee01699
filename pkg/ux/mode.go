// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
// Package ux renders DataNexus command line output.
package ux

import (
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Mode controls how richly output is rendered.
type Mode string

const (
	// ModeRich uses colors, icons, boxes and spinners.
	ModeRich Mode = "rich"

	// ModePlain uses icons and no animation.
	ModePlain Mode = "plain"

	// ModeMachine prints tab separated lines for scripts.
	ModeMachine Mode = "machine"
)

// ParseMode converts a flag value to a Mode. Unknown values are rich.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "plain", "minimal", "min":
		return ModePlain
	case "machine", "quiet", "q":
		return ModeMachine
	default:
		return ModeRich
	}
}

// DetectMode picks a mode for w. DATANEXUS_OUTPUT overrides detection and
// non-terminal writers get ModeMachine.
func DetectMode(w io.Writer) Mode {
	if env := os.Getenv("DATANEXUS_OUTPUT"); env != "" {
		return ParseMode(env)
	}
	if !IsTerminal(w) {
		return ModeMachine
	}
	return ModeRich
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
