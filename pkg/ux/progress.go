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
	"fmt"
	"time"
)

// StepProgress shows agent progress while a question is answered.
//
// # Description
//
// Each completed step is printed as a numbered line. In ModeRich a
// spinner shows the latest step until Done or Fail is called.
type StepProgress struct {
	p       *Printer
	spin    *Spinner
	started time.Time
	steps   int
}

// NewStepProgress starts tracking a question.
func (p *Printer) NewStepProgress(question string) *StepProgress {
	sp := &StepProgress{p: p, spin: p.NewSpinner("Thinking..."), started: time.Now()}
	if p.mode == ModeMachine {
		p.println("QUESTION\t" + question)
	} else {
		p.println(Styles.Bold.Render(string(IconArrow)+" ") + question)
	}
	sp.spin.Start()
	return sp
}

// Step records one completed step.
func (sp *StepProgress) Step(step int, message string) {
	sp.steps++
	switch sp.p.mode {
	case ModeMachine:
		sp.p.println(fmt.Sprintf("STEP\t%d\t%s", step, message))
	case ModePlain:
		sp.p.println(fmt.Sprintf("  [%d] %s", step, message))
	default:
		running := sp.spin.Running()
		if running {
			sp.spin.Stop()
		}
		sp.p.println(fmt.Sprintf("  %s %s", Styles.Muted.Render(fmt.Sprintf("[%d]", step)), message))
		sp.spin = sp.p.NewSpinner(message)
		if running {
			sp.spin.Start()
		}
	}
}

// Steps returns how many steps were recorded.
func (sp *StepProgress) Steps() int { return sp.steps }

// Done stops the spinner and prints the answer.
func (sp *StepProgress) Done(threadID, answer string) {
	sp.spin.Stop()
	took := time.Since(sp.started).Round(time.Millisecond)
	switch sp.p.mode {
	case ModeMachine:
		sp.p.println("THREAD\t" + threadID)
		sp.p.println("ANSWER\t" + answer)
	case ModePlain:
		sp.p.println("")
		sp.p.println(answer)
		sp.p.println(fmt.Sprintf("(thread %s, %s)", threadID, took))
	default:
		sp.p.println("")
		sp.p.Box("Answer", answer)
		sp.p.Muted(fmt.Sprintf("thread %s · %d steps · %s", threadID, sp.steps, took))
	}
}

// Fail stops the spinner and prints err.
func (sp *StepProgress) Fail(err error) {
	sp.spin.Stop()
	sp.p.ErrorBox("Request failed", err.Error())
}
