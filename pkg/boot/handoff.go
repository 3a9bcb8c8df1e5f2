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
	"encoding/binary"
	"fmt"

	"github.com/bootloom/bootloom/pkg/bootarch"
	"github.com/bootloom/bootloom/pkg/layout"
	"github.com/bootloom/bootloom/pkg/machine"
	"github.com/bootloom/bootloom/pkg/multiboot"
)

// Args is the handoff block the kernel entry point receives. It is written
// to the top of the boot stack as four little-endian 64-bit words in field
// order, and its higher-half address arrives in RDI.
//
// All addresses are physical; the kernel reads the loader's info block and
// its own image through the direct map.
type Args struct {
	// KernelStart and KernelEnd bound the loaded kernel image.
	KernelStart bootarch.PhysAddr
	KernelEnd   bootarch.PhysAddr

	// InfoPtr and InfoEnd bound the loader's information block.
	InfoPtr bootarch.PhysAddr
	InfoEnd bootarch.PhysAddr
}

// argsBytes is the encoded size of Args.
const argsBytes = 32

// String implements fmt.Stringer.String.
func (a Args) String() string {
	return fmt.Sprintf("kernel [%#x, %#x), info [%#x, %#x)",
		uint64(a.KernelStart), uint64(a.KernelEnd), uint64(a.InfoPtr), uint64(a.InfoEnd))
}

// encode writes the block in field order.
func (a Args) encode(b []byte) {
	binary.LittleEndian.PutUint64(b[0:], uint64(a.KernelStart))
	binary.LittleEndian.PutUint64(b[8:], uint64(a.KernelEnd))
	binary.LittleEndian.PutUint64(b[16:], uint64(a.InfoPtr))
	binary.LittleEndian.PutUint64(b[24:], uint64(a.InfoEnd))
}

// Handoff stages the kernel's entry state and transfers control. The args
// block lands at the highest 16-byte aligned slot inside the boot stack, the
// stack pointer and first argument register both carry its higher-half
// address, every other general purpose register is zeroed, and execution
// continues at the kernel entry point.
//
// On hardware Handoff does not return. Against a simulated machine the jump
// is recorded and Handoff returns the block it wrote.
func Handoff(cpu machine.CPU, mem machine.Memory, l *layout.Layout, infoPtr bootarch.PhysAddr) (Args, error) {
	head, err := mem.View(uint64(infoPtr), 8)
	if err != nil {
		return Args{}, fmt.Errorf("information block at %#x: %w", uint64(infoPtr), err)
	}
	size, err := multiboot.TotalSize(head)
	if err != nil {
		return Args{}, err
	}

	args := Args{
		KernelStart: l.KernelStart,
		KernelEnd:   l.KernelEnd,
		InfoPtr:     infoPtr,
		InfoEnd:     infoPtr + bootarch.PhysAddr(size),
	}
	argsPhys := bootarch.PhysAddr(uint64(l.StackTop())-argsBytes) &^ 15
	block, err := mem.View(uint64(argsPhys), argsBytes)
	if err != nil {
		return Args{}, fmt.Errorf("handoff block at %#x: %w", uint64(argsPhys), err)
	}
	args.encode(block)

	// The kernel starts from a clean register file: the block address in
	// RDI per the calling convention, the stack growing down from the
	// block, and nothing else.
	argsVirt := l.HighVirt(argsPhys)
	for r := machine.RAX; r <= machine.R15; r++ {
		cpu.SetReg(r, 0)
	}
	cpu.SetReg(machine.RDI, uint64(argsVirt))
	cpu.SetReg(machine.RSP, uint64(argsVirt))
	cpu.Jump(uint64(l.KernelEntry))
	return args, nil
}
