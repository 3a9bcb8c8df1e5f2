// Copyright 2024 The bootloom Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package boot sequences the climb from the loader's 32-bit protected mode
// to the kernel entry point in 64-bit long mode.
//
// The sequence is linear and single shot: validate the environment, build
// the boot page tables, switch modes, install segments, hand off. There is
// no error recovery on hardware; a failed check writes a diagnostic to the
// text surface and parks the CPU. Hosted runs drive the same sequence
// against a simulated machine, where failures also surface as errors.
package boot

import (
	"fmt"
)

// State is the boot sequence's progress.
type State int

// Boot states, in order of progress. Failed is terminal and reachable only
// from the validation steps; once tables are built nothing can fail.
const (
	// Entry means the sequence has control but has validated nothing.
	Entry State = iota

	// Validated means the loader handoff and CPU features checked out.
	Validated

	// TablesBuilt means the boot page tables are populated.
	TablesBuilt

	// LongModeActive means paging is on and the CPU is in long mode.
	LongModeActive

	// SegmentsLoaded means the boot GDT is live in every segment register.
	SegmentsLoaded

	// HandoffComplete means control was passed to the kernel entry point.
	HandoffComplete

	// Failed means a validation check failed and the CPU was parked.
	Failed
)

// String implements fmt.Stringer.String.
func (s State) String() string {
	switch s {
	case Entry:
		return "entry"
	case Validated:
		return "validated"
	case TablesBuilt:
		return "tables-built"
	case LongModeActive:
		return "long-mode-active"
	case SegmentsLoaded:
		return "segments-loaded"
	case HandoffComplete:
		return "handoff-complete"
	case Failed:
		return "failed"
	default:
		return "invalid"
	}
}

// Reason classifies a terminal validation failure.
type Reason int

// Validation failure reasons.
const (
	// UnsupportedBoot means the loader did not leave the multiboot2 magic.
	UnsupportedBoot Reason = iota

	// NoCPUID means the CPU predates the CPUID instruction.
	NoCPUID

	// NoLongMode means the CPU cannot enter 64-bit mode.
	NoLongMode
)

// String implements fmt.Stringer.String.
func (r Reason) String() string {
	switch r {
	case UnsupportedBoot:
		return "unsupported-boot"
	case NoCPUID:
		return "no-cpuid"
	case NoLongMode:
		return "no-long-mode"
	default:
		return "invalid"
	}
}

// diagnostics are the exact strings shown on the text surface when the
// matching check fails. Changing them breaks anyone grepping a serial or
// VGA capture, so treat them as frozen.
var diagnostics = map[Reason]string{
	UnsupportedBoot: "Kernel was not booted by multiboot compliant bootloader",
	NoCPUID:         "CPUID instruction is not supported by this CPU",
	NoLongMode:      "Long mode is not supported by this CPU",
}

// Diagnostic returns the terminal message for a failure reason.
func Diagnostic(r Reason) string {
	return diagnostics[r]
}

// Error is a terminal validation failure.
type Error struct {
	Reason Reason
}

// Error implements error.Error.
func (e *Error) Error() string {
	return "boot: " + Diagnostic(e.Reason)
}

// Is supports errors.Is against another *Error with the same reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Reason == e.Reason
}

// failf returns a terminal validation failure.
func failf(r Reason) error {
	return &Error{Reason: r}
}

// Capabilities are the optional CPU features the probe found, which select
// strategies later in the sequence.
type Capabilities struct {
	// GBPages is true when the CPU maps 1GiB leaves, letting the direct
	// map cover 512GiB with a single table.
	GBPages bool
}

// String implements fmt.Stringer.String.
func (c Capabilities) String() string {
	return fmt.Sprintf("gb-pages=%v", c.GBPages)
}
