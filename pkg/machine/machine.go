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

// Package machine abstracts the privileged x86-64 operations the boot
// sequence performs, so the same sequence can drive real hardware and a
// software model.
//
// Two ports exist: Native (amd64 only) issues the real instructions and
// requires CPL 0, and Sim models the architectural state transitions in
// software, recording every write for inspection.
package machine

import (
	"github.com/bootloom/bootloom/pkg/cpuid"
)

// Reg names a general purpose register. The values follow the hardware
// register numbering.
type Reg int

// General purpose registers.
const (
	RAX Reg = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15

	regCount
)

var regNames = [regCount]string{
	"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
}

// String implements fmt.Stringer.
func (r Reg) String() string {
	if r < 0 || r >= regCount {
		return "reg(?)"
	}
	return regNames[r]
}

// SegReg names a segment register.
type SegReg int

// Segment registers.
const (
	CS SegReg = iota
	DS
	ES
	SS
	FS
	GS

	segRegCount
)

var segRegNames = [segRegCount]string{"cs", "ds", "es", "ss", "fs", "gs"}

// String implements fmt.Stringer.
func (r SegReg) String() string {
	if r < 0 || r >= segRegCount {
		return "seg(?)"
	}
	return segRegNames[r]
}

// CPU is the privileged instruction surface the boot sequence drives. All
// methods mirror single instructions or short fixed sequences; none of them
// block or allocate.
type CPU interface {
	// Flags returns RFLAGS.
	Flags() uint64

	// SetFlags replaces RFLAGS.
	SetFlags(v uint64)

	// CPUID executes the CPUID instruction for the given leaf.
	CPUID(in cpuid.In) cpuid.Out

	// CR0 returns control register 0.
	CR0() uint64

	// SetCR0 replaces control register 0.
	SetCR0(v uint64)

	// CR3 returns control register 3, the paging root.
	CR3() uint64

	// SetCR3 replaces control register 3.
	SetCR3(v uint64)

	// CR4 returns control register 4.
	CR4() uint64

	// SetCR4 replaces control register 4.
	SetCR4(v uint64)

	// MSR reads a model specific register.
	MSR(reg uint32) uint64

	// SetMSR writes a model specific register.
	SetMSR(reg uint32, v uint64)

	// LoadGDT loads the descriptor table register from a base and limit.
	LoadGDT(base uint64, limit uint16)

	// WriteSegment loads a segment register with a selector. Loading CS
	// performs the required far transfer.
	WriteSegment(reg SegReg, sel uint16)

	// Reg returns a general purpose register from the handoff register
	// file.
	Reg(r Reg) uint64

	// SetReg sets a general purpose register in the handoff register file.
	SetReg(r Reg, v uint64)

	// Jump publishes the register file and transfers control to rip. It
	// does not return.
	Jump(rip uint64)

	// Halt parks the CPU in a non-cancellable low power wait. It does not
	// return.
	Halt()
}

// Memory is a window onto boot-time physical memory.
type Memory interface {
	// View returns the bytes backing physical [pa, pa+length). The slice
	// aliases the underlying memory, so writes land in it, and inherits
	// its alignment: a window at a page-aligned address is page aligned.
	View(pa uint64, length uint64) ([]byte, error)
}

type cpuFunction struct {
	cpu CPU
}

// Query implements cpuid.Function.Query.
func (f cpuFunction) Query(in cpuid.In) cpuid.Out {
	return f.cpu.CPUID(in)
}

// Features returns the feature set reported by the port's CPUID instruction.
func Features(cpu CPU) cpuid.FeatureSet {
	return cpuid.FeatureSet{Function: cpuFunction{cpu: cpu}}
}
