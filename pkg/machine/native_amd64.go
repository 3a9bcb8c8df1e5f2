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

//go:build amd64
// +build amd64

package machine

import (
	"encoding/binary"
	"unsafe"

	"github.com/bootloom/bootloom/pkg/cpuid"
)

// Native issues the real privileged instructions. It requires CPL 0; in any
// other ring the control register and MSR accesses fault.
//
// The general purpose register file is shadowed in Go memory: SetReg stages
// values and Jump restores the whole file immediately before transferring
// control, since Go code cannot hold cleared hardware registers across
// calls.
type Native struct {
	regs [regCount]uint64
}

// Flags implements CPU.Flags.
//
//go:nosplit
func (*Native) Flags() uint64 {
	return readFlags()
}

// SetFlags implements CPU.SetFlags.
//
//go:nosplit
func (*Native) SetFlags(v uint64) {
	writeFlags(v)
}

// CPUID implements CPU.CPUID.
//
//go:nosplit
func (*Native) CPUID(in cpuid.In) cpuid.Out {
	return (&cpuid.Native{}).Query(in)
}

// CR0 implements CPU.CR0.
//
//go:nosplit
func (*Native) CR0() uint64 {
	return readCR0()
}

// SetCR0 implements CPU.SetCR0.
//
//go:nosplit
func (*Native) SetCR0(v uint64) {
	writeCR0(v)
}

// CR3 implements CPU.CR3.
//
//go:nosplit
func (*Native) CR3() uint64 {
	return readCR3()
}

// SetCR3 implements CPU.SetCR3.
//
//go:nosplit
func (*Native) SetCR3(v uint64) {
	writeCR3(v)
}

// CR4 implements CPU.CR4.
//
//go:nosplit
func (*Native) CR4() uint64 {
	return readCR4()
}

// SetCR4 implements CPU.SetCR4.
//
//go:nosplit
func (*Native) SetCR4(v uint64) {
	writeCR4(v)
}

// MSR implements CPU.MSR.
//
//go:nosplit
func (*Native) MSR(reg uint32) uint64 {
	return rdmsr(reg)
}

// SetMSR implements CPU.SetMSR.
//
//go:nosplit
func (*Native) SetMSR(reg uint32, v uint64) {
	wrmsr(reg, v)
}

// LoadGDT implements CPU.LoadGDT. The descriptor table register takes a
// 10-byte operand: a 16-bit limit followed by the 64-bit base.
//
//go:nosplit
func (*Native) LoadGDT(base uint64, limit uint16) {
	var desc [10]byte
	binary.LittleEndian.PutUint16(desc[:], limit)
	binary.LittleEndian.PutUint64(desc[2:], base)
	lgdt(&desc[0])
}

// WriteSegment implements CPU.WriteSegment.
//
//go:nosplit
func (*Native) WriteSegment(reg SegReg, sel uint16) {
	switch reg {
	case CS:
		writeCS(sel)
	case DS:
		writeDS(sel)
	case ES:
		writeES(sel)
	case SS:
		writeSS(sel)
	case FS:
		writeFS(sel)
	case GS:
		writeGS(sel)
	}
}

// Reg implements CPU.Reg.
//
//go:nosplit
func (n *Native) Reg(r Reg) uint64 {
	return n.regs[r]
}

// SetReg implements CPU.SetReg.
//
//go:nosplit
func (n *Native) SetReg(r Reg, v uint64) {
	n.regs[r] = v
}

// Jump implements CPU.Jump.
//
//go:nosplit
func (n *Native) Jump(rip uint64) {
	jumpTo(&n.regs, rip)
}

// Halt implements CPU.Halt.
//
//go:nosplit
func (*Native) Halt() {
	halt()
}

// IdentityMemory views physical memory through an identity or direct
// mapping, so it is only usable where one is in place: before paging is
// enabled, or afterwards under the boot map this package sets up.
type IdentityMemory struct {
	// Offset is added to every physical address, zero for a true identity
	// mapping or the direct map base once the kernel runs higher half.
	Offset uint64
}

// View implements Memory.View.
//
//go:nosplit
func (m IdentityMemory) View(pa uint64, length uint64) ([]byte, error) {
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(m.Offset+pa))), length), nil
}

func readFlags() uint64
func writeFlags(v uint64)
func readCR0() uint64
func writeCR0(v uint64)
func readCR3() uint64
func writeCR3(v uint64)
func readCR4() uint64
func writeCR4(v uint64)
func rdmsr(reg uint32) uint64
func wrmsr(reg uint32, v uint64)
func lgdt(desc *byte)
func writeCS(sel uint16)
func writeDS(sel uint16)
func writeES(sel uint16)
func writeSS(sel uint16)
func writeFS(sel uint16)
func writeGS(sel uint16)
func jumpTo(regs *[16]uint64, rip uint64)
func halt()
