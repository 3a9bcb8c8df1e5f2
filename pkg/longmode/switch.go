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

// Package longmode performs the ordered control-register sequence that
// moves the CPU from 32-bit protected mode into 64-bit long mode, and
// installs the descriptor table the new mode runs under.
//
// The order is architectural, not stylistic: PAE must be on before long
// mode is enabled in EFER, the table root must be loaded before paging, and
// setting CR0.PG is what makes EFER.LME take effect. Switcher encodes that
// order as a stage machine whose steps panic when driven out of order,
// since a misordered switch on hardware is an unrecoverable triple fault.
package longmode

import (
	"fmt"

	"github.com/bootloom/bootloom/pkg/bootarch"
	"github.com/bootloom/bootloom/pkg/machine"
)

// Stage is the switch's progress.
type Stage int

// Switch stages, in execution order.
const (
	// Unpaged is the entry state: protected mode, paging off.
	Unpaged Stage = iota

	// PaeEnabled means CR4.PAE is set.
	PaeEnabled

	// LongModeFeatureSet means EFER.LME is set but not yet in effect.
	LongModeFeatureSet

	// TableBaseLoaded means CR3 holds the boot map root.
	TableBaseLoaded

	// PagingOn means CR0.PG is set and the CPU is executing in long mode.
	PagingOn
)

// String implements fmt.Stringer.String.
func (s Stage) String() string {
	switch s {
	case Unpaged:
		return "unpaged"
	case PaeEnabled:
		return "pae-enabled"
	case LongModeFeatureSet:
		return "long-mode-feature-set"
	case TableBaseLoaded:
		return "table-base-loaded"
	case PagingOn:
		return "paging-on"
	default:
		return "invalid"
	}
}

// Switcher drives one CPU through the mode switch.
type Switcher struct {
	cpu   machine.CPU
	stage Stage
}

// NewSwitcher returns a switcher at the Unpaged stage.
func NewSwitcher(cpu machine.CPU) *Switcher {
	return &Switcher{cpu: cpu}
}

// Stage returns the switch's progress.
func (s *Switcher) Stage() Stage {
	return s.stage
}

func (s *Switcher) advance(from Stage) {
	if s.stage != from {
		panic(fmt.Sprintf("longmode: step expects stage %v, but the switch is at %v", from, s.stage))
	}
	s.stage++
}

// EnablePAE sets CR4.PAE, the first step.
func (s *Switcher) EnablePAE() {
	s.advance(Unpaged)
	s.cpu.SetCR4(s.cpu.CR4() | machine.CR4PAE)
}

// EnableLongMode sets EFER.LME. The bit has no effect until paging turns
// on.
func (s *Switcher) EnableLongMode() {
	s.advance(PaeEnabled)
	s.cpu.SetMSR(machine.MSREFER, s.cpu.MSR(machine.MSREFER)|machine.EFERLME)
}

// LoadRootTable points CR3 at the boot map root.
func (s *Switcher) LoadRootTable(root bootarch.PhysAddr) {
	s.advance(LongModeFeatureSet)
	s.cpu.SetCR3(uint64(root))
}

// EnablePaging sets CR0.PG, activating long mode. The instruction after
// this executes under the boot map's identity window.
func (s *Switcher) EnablePaging() {
	s.advance(TableBaseLoaded)
	s.cpu.SetCR0(s.cpu.CR0() | machine.CR0PG)
}

// Activate runs the whole ordered switch against the map rooted at root and
// returns the finished switcher.
func Activate(cpu machine.CPU, root bootarch.PhysAddr) *Switcher {
	s := NewSwitcher(cpu)
	s.EnablePAE()
	s.EnableLongMode()
	s.LoadRootTable(root)
	s.EnablePaging()
	return s
}
