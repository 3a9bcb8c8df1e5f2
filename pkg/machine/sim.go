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

package machine

import (
	"fmt"

	"github.com/bootloom/bootloom/pkg/cpuid"
	"github.com/bootloom/bootloom/pkg/memutil"
)

// Sim models the architectural state the boot sequence manipulates: control
// registers, EFER, RFLAGS, the descriptor table register, segment selectors,
// the general purpose register file, and a flat physical RAM.
//
// Every state write is appended to an operation log so tests can assert on
// ordering. Writes that would fault real hardware, enabling paging without
// PAE and long mode set up first, record a fault instead of applying.
//
// Sim implements both CPU and Memory.
type Sim struct {
	// NoCPUID models a CPU too old to have the CPUID instruction: the ID
	// flag cannot be toggled and stays at its reset value.
	NoCPUID bool

	fn  cpuid.Function
	ram []byte

	regs     [regCount]uint64
	rip      uint64
	rflags   uint64
	cr0      uint64
	cr3      uint64
	cr4      uint64
	msrs     map[uint32]uint64
	gdtBase  uint64
	gdtLimit uint16
	segs     [segRegCount]uint16

	ops    []string
	halted bool
	jumped bool
	fault  string
}

// NewSim returns a simulated machine with ramSize bytes of zeroed physical
// RAM and the given CPUID model. The RAM is mapped page aligned so windows
// over it carry hardware alignment.
func NewSim(ramSize uint64, fn cpuid.Function) (*Sim, error) {
	if fn == nil {
		return nil, fmt.Errorf("machine: simulator needs a CPUID model")
	}
	ram, err := memutil.MapAnonymous(int(ramSize))
	if err != nil {
		return nil, fmt.Errorf("machine: mapping %d bytes of RAM: %w", ramSize, err)
	}
	return &Sim{
		fn:     fn,
		ram:    ram,
		rflags: FlagReserved,
		cr0:    CR0PE | CR0ET, // protected mode, as the loader leaves it
		msrs:   make(map[uint32]uint64),
	}, nil
}

// Close releases the simulated RAM.
func (s *Sim) Close() error {
	ram := s.ram
	s.ram = nil
	return memutil.UnmapSlice(ram)
}

func (s *Sim) log(format string, args ...any) {
	s.ops = append(s.ops, fmt.Sprintf(format, args...))
}

// Flags implements CPU.Flags.
func (s *Sim) Flags() uint64 {
	return s.rflags
}

// SetFlags implements CPU.SetFlags.
func (s *Sim) SetFlags(v uint64) {
	if s.NoCPUID {
		v = (v &^ FlagID) | (s.rflags & FlagID)
	}
	s.rflags = v | FlagReserved
	s.log("wrflags %#x", s.rflags)
}

// CPUID implements CPU.CPUID.
func (s *Sim) CPUID(in cpuid.In) cpuid.Out {
	return s.fn.Query(in)
}

// CR0 implements CPU.CR0.
func (s *Sim) CR0() uint64 {
	return s.cr0
}

// SetCR0 implements CPU.SetCR0. Setting CR0.PG while CR4.PAE or EFER.LME is
// clear records a fault, the condition that triple faults a real CPU during
// this switch. A successful paging enable with EFER.LME set makes the
// hardware set EFER.LMA.
func (s *Sim) SetCR0(v uint64) {
	s.log("wrcr0 %#x", v)
	if v&CR0PG != 0 && s.cr0&CR0PG == 0 {
		if s.cr4&CR4PAE == 0 {
			s.faultf("paging enabled without CR4.PAE")
			return
		}
		if s.msrs[MSREFER]&EFERLME == 0 {
			s.faultf("paging enabled without EFER.LME")
			return
		}
		s.msrs[MSREFER] |= EFERLMA
	}
	s.cr0 = v
}

// CR3 implements CPU.CR3.
func (s *Sim) CR3() uint64 {
	return s.cr3
}

// SetCR3 implements CPU.SetCR3.
func (s *Sim) SetCR3(v uint64) {
	s.log("wrcr3 %#x", v)
	s.cr3 = v
}

// CR4 implements CPU.CR4.
func (s *Sim) CR4() uint64 {
	return s.cr4
}

// SetCR4 implements CPU.SetCR4.
func (s *Sim) SetCR4(v uint64) {
	s.log("wrcr4 %#x", v)
	s.cr4 = v
}

// MSR implements CPU.MSR. Unwritten registers read as zero.
func (s *Sim) MSR(reg uint32) uint64 {
	return s.msrs[reg]
}

// SetMSR implements CPU.SetMSR.
func (s *Sim) SetMSR(reg uint32, v uint64) {
	s.log("wrmsr %#x %#x", reg, v)
	s.msrs[reg] = v
}

// LoadGDT implements CPU.LoadGDT.
func (s *Sim) LoadGDT(base uint64, limit uint16) {
	s.log("lgdt %#x %#x", base, limit)
	s.gdtBase = base
	s.gdtLimit = limit
}

// WriteSegment implements CPU.WriteSegment.
func (s *Sim) WriteSegment(reg SegReg, sel uint16) {
	s.log("wrseg %s %#x", reg, sel)
	s.segs[reg] = sel
}

// Reg implements CPU.Reg.
func (s *Sim) Reg(r Reg) uint64 {
	return s.regs[r]
}

// SetReg implements CPU.SetReg.
func (s *Sim) SetReg(r Reg, v uint64) {
	s.log("wrreg %s %#x", r, v)
	s.regs[r] = v
}

// Jump implements CPU.Jump. The simulator records the target and returns to
// the caller; nothing executes at the destination.
func (s *Sim) Jump(rip uint64) {
	s.log("jmp %#x", rip)
	s.rip = rip
	s.jumped = true
}

// Halt implements CPU.Halt. The simulator records the halt and returns.
func (s *Sim) Halt() {
	s.log("hlt")
	s.halted = true
}

// View implements Memory.View.
func (s *Sim) View(pa uint64, length uint64) ([]byte, error) {
	end := pa + length
	if end < pa || end > uint64(len(s.ram)) {
		return nil, fmt.Errorf("machine: [%#x, %#x) outside %#x bytes of RAM", pa, end, len(s.ram))
	}
	return s.ram[pa:end], nil
}

// RAMSize returns the size of the simulated RAM.
func (s *Sim) RAMSize() uint64 {
	return uint64(len(s.ram))
}

func (s *Sim) faultf(format string, args ...any) {
	if s.fault == "" {
		s.fault = fmt.Sprintf(format, args...)
	}
}

// Fault returns a description of the first faulting write, or the empty
// string if every write was architecturally clean.
func (s *Sim) Fault() string {
	return s.fault
}

// Ops returns the operation log.
func (s *Sim) Ops() []string {
	return s.ops
}

// Halted reports whether the CPU was parked.
func (s *Sim) Halted() bool {
	return s.halted
}

// Jumped reports whether control was handed off.
func (s *Sim) Jumped() bool {
	return s.jumped
}

// RIP returns the handoff target recorded by Jump.
func (s *Sim) RIP() uint64 {
	return s.rip
}

// GDT returns the loaded descriptor table base and limit.
func (s *Sim) GDT() (uint64, uint16) {
	return s.gdtBase, s.gdtLimit
}

// Segment returns the selector loaded into a segment register.
func (s *Sim) Segment(reg SegReg) uint16 {
	return s.segs[reg]
}
