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

package boot

import (
	"errors"
	"fmt"

	"github.com/bootloom/bootloom/pkg/bootarch"
	"github.com/bootloom/bootloom/pkg/layout"
	"github.com/bootloom/bootloom/pkg/longmode"
	"github.com/bootloom/bootloom/pkg/longmode/pagetables"
	"github.com/bootloom/bootloom/pkg/machine"
	"github.com/bootloom/bootloom/pkg/vga"
)

// Sequence drives one boot against a machine. The exported fields configure
// it; Run may be called once.
type Sequence struct {
	// CPU and Mem are the machine being booted.
	CPU machine.CPU
	Mem machine.Memory

	// Layout describes the address space to build. It is validated before
	// anything touches the machine.
	Layout *layout.Layout

	// Observer, when non-nil, is called after every state transition,
	// including the terminal one. It runs on the boot path, so it must
	// not touch the machine.
	Observer func(State)

	state   State
	caps    Capabilities
	bootMap *pagetables.BootMap
	gdt     *longmode.GDT
	args    Args
}

func (s *Sequence) setState(next State) {
	s.state = next
	if s.Observer != nil {
		s.Observer(next)
	}
}

// State returns the last state reached.
func (s *Sequence) State() State { return s.state }

// Capabilities returns the probe's findings. Valid once the sequence has
// passed Validated.
func (s *Sequence) Capabilities() Capabilities { return s.caps }

// BootMap returns the built table placement. Valid once the sequence has
// passed TablesBuilt.
func (s *Sequence) BootMap() *pagetables.BootMap { return s.bootMap }

// GDT returns the installed descriptor table. Valid once the sequence has
// passed SegmentsLoaded.
func (s *Sequence) GDT() *longmode.GDT { return s.gdt }

// Args returns the handoff block. Valid once the sequence has completed.
func (s *Sequence) Args() Args { return s.args }

// fail reports a validation failure on the text surface and parks the CPU.
// The write is best effort: a machine with no memory at the VGA window
// still parks, it just parks silently.
func (s *Sequence) fail(r Reason) {
	if window, err := s.Mem.View(uint64(s.Layout.VGABase), vga.BufferBytes); err == nil {
		if buf, err := vga.NewBuffer(window); err == nil {
			vga.NewConsole(buf).WriteString(Diagnostic(r))
		}
	}
	s.CPU.Halt()
	s.setState(Failed)
}

// Run executes the boot sequence. The loader's register contract is read
// first (the magic value in RAX, the information block pointer in RBX), the
// environment is validated, and on success the machine is left at the
// kernel entry point in long mode with the handoff block staged.
//
// A validation failure parks the CPU, moves the sequence to Failed and
// returns the *Error describing the reason. Errors from the hosted memory
// view mean the rig is misconfigured, not that the boot failed; they leave
// the CPU unparked.
func (s *Sequence) Run() (State, error) {
	if err := s.Layout.Validate(); err != nil {
		return s.state, fmt.Errorf("layout: %w", err)
	}
	s.setState(Entry)

	magic := uint32(s.CPU.Reg(machine.RAX))
	infoPtr := bootarch.PhysAddr(s.CPU.Reg(machine.RBX))

	caps, err := Probe(s.CPU, magic)
	if err != nil {
		var verr *Error
		if errors.As(err, &verr) {
			s.fail(verr.Reason)
		}
		return s.state, err
	}
	s.caps = caps
	s.setState(Validated)

	base, size := s.Layout.TableRegion()
	backing, err := s.Mem.View(uint64(base), size)
	if err != nil {
		return s.state, fmt.Errorf("table workspace: %w", err)
	}
	s.bootMap = pagetables.BuildBootMap(pagetables.NewArena(backing, base), s.Layout, caps.GBPages)
	s.setState(TablesBuilt)

	longmode.Activate(s.CPU, s.bootMap.Root)
	s.setState(LongModeActive)

	gdt, err := longmode.Install(s.CPU, s.Mem, s.Layout)
	if err != nil {
		return s.state, fmt.Errorf("descriptor table: %w", err)
	}
	s.gdt = gdt
	s.setState(SegmentsLoaded)

	args, err := Handoff(s.CPU, s.Mem, s.Layout, infoPtr)
	if err != nil {
		return s.state, fmt.Errorf("handoff: %w", err)
	}
	s.args = args
	s.setState(HandoffComplete)
	return s.state, nil
}
