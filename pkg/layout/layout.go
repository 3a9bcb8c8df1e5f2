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

// Package layout holds the single shared description of the boot address
// space: which root-table slots carry the identity, direct-map, recursive
// and kernel windows, where the table workspace, GDT and boot stack live in
// physical memory, and where the kernel image sits.
//
// The table builder, the mode switch, the handoff and the verification
// tooling all consume the same Layout value, so a slot constant can never
// drift between the code that writes an entry and the code that checks it.
package layout

import (
	"fmt"

	"github.com/bootloom/bootloom/pkg/bootarch"
)

// BootTables is the number of 4KiB tables the boot workspace must hold: the
// root, the low, direct-map and high third-level tables, and the shared
// huge-page directory.
const BootTables = 5

// gdtReserve is the physical reservation for the descriptor table.
const gdtReserve = 0x40

// Layout describes the boot address space. The zero value is not usable;
// start from Default or Load.
type Layout struct {
	// SelfSlot is the root-table slot that points back at the root table
	// itself.
	SelfSlot int

	// DirectSlot is the root-table slot carrying the physical direct map.
	DirectSlot int

	// KernelSlot is the root-table slot carrying the kernel higher half.
	KernelSlot int

	// KernelBase is the virtual base of the kernel higher half. The first
	// GiB of physical memory is aliased here.
	KernelBase bootarch.VirtAddr

	// DirectBase is the virtual base of the physical direct map.
	DirectBase bootarch.VirtAddr

	// TableBase is the physical base of the table workspace. It must hold
	// BootTables page-aligned tables.
	TableBase bootarch.PhysAddr

	// GDTBase is the physical address the descriptor table is built at.
	GDTBase bootarch.PhysAddr

	// StackBase and StackSize delimit the boot stack.
	StackBase bootarch.PhysAddr
	StackSize uint64

	// KernelStart and KernelEnd are the physical bounds of the loaded
	// kernel image, as declared by the image's own layout.
	KernelStart bootarch.PhysAddr
	KernelEnd   bootarch.PhysAddr

	// KernelEntry is the virtual entry point inside the higher half.
	KernelEntry bootarch.VirtAddr

	// VGABase is the physical base of the VGA text buffer.
	VGABase bootarch.PhysAddr
}

// Default returns the canonical layout: recursive slot 510, direct map at
// slot 256, kernel half at slot 511, workspace and stack below 1MiB and the
// kernel image at 1MiB.
func Default() *Layout {
	return &Layout{
		SelfSlot:    510,
		DirectSlot:  256,
		KernelSlot:  511,
		KernelBase:  0xffffffff80000000,
		DirectBase:  0xffff800000000000,
		TableBase:   0x70000,
		GDTBase:     0x75000,
		StackBase:   0x76000,
		StackSize:   0x4000,
		KernelStart: 0x100000,
		KernelEnd:   0x400000,
		KernelEntry: 0xffffffff80100000,
		VGABase:     0xb8000,
	}
}

// Validate checks the layout's internal consistency. It is cheap enough to
// run on every load and before every build.
func (l *Layout) Validate() error {
	for _, slot := range []struct {
		name  string
		value int
	}{
		{"self_slot", l.SelfSlot},
		{"direct_slot", l.DirectSlot},
		{"kernel_slot", l.KernelSlot},
	} {
		if slot.value <= 0 || slot.value >= bootarch.PTEsPerTable {
			return fmt.Errorf("%s %d outside (0, %d); slot 0 carries the identity window", slot.name, slot.value, bootarch.PTEsPerTable)
		}
	}
	if l.SelfSlot == l.DirectSlot || l.SelfSlot == l.KernelSlot || l.DirectSlot == l.KernelSlot {
		return fmt.Errorf("slots must be distinct: self %d, direct %d, kernel %d", l.SelfSlot, l.DirectSlot, l.KernelSlot)
	}
	if !l.KernelBase.IsCanonical() {
		return fmt.Errorf("kernel_base %#x is not canonical", uint64(l.KernelBase))
	}
	if got := l.KernelBase.Index(bootarch.PML4); got != l.KernelSlot {
		return fmt.Errorf("kernel_base %#x selects root slot %d, not kernel_slot %d", uint64(l.KernelBase), got, l.KernelSlot)
	}
	if l.KernelBase.Offset(bootarch.PDP) != 0 {
		return fmt.Errorf("kernel_base %#x is not 1GiB aligned", uint64(l.KernelBase))
	}
	if !l.DirectBase.IsCanonical() {
		return fmt.Errorf("direct_base %#x is not canonical", uint64(l.DirectBase))
	}
	if got := l.DirectBase.Index(bootarch.PML4); got != l.DirectSlot {
		return fmt.Errorf("direct_base %#x selects root slot %d, not direct_slot %d", uint64(l.DirectBase), got, l.DirectSlot)
	}
	if l.DirectBase.Offset(bootarch.PML4) != 0 {
		return fmt.Errorf("direct_base %#x is not aligned to a root slot", uint64(l.DirectBase))
	}
	if !l.TableBase.IsPageAligned() {
		return fmt.Errorf("table_base %#x is not page aligned", uint64(l.TableBase))
	}
	if l.GDTBase%8 != 0 {
		return fmt.Errorf("gdt_base %#x is not 8-byte aligned", uint64(l.GDTBase))
	}
	if !l.StackBase.IsPageAligned() {
		return fmt.Errorf("stack_base %#x is not page aligned", uint64(l.StackBase))
	}
	if l.StackSize == 0 || l.StackSize%16 != 0 {
		return fmt.Errorf("stack_size %#x is not a positive multiple of 16", l.StackSize)
	}
	if l.KernelStart >= l.KernelEnd {
		return fmt.Errorf("kernel image bounds [%#x, %#x) are empty", uint64(l.KernelStart), uint64(l.KernelEnd))
	}
	if uint64(l.KernelEnd) > bootarch.SuperPageSize {
		return fmt.Errorf("kernel image ends at %#x, beyond the 1GiB boot window", uint64(l.KernelEnd))
	}
	if !l.KernelEntry.IsCanonical() {
		return fmt.Errorf("kernel_entry %#x is not canonical", uint64(l.KernelEntry))
	}
	entryPhys := uint64(l.KernelEntry) - uint64(l.KernelBase)
	if l.KernelEntry < l.KernelBase || entryPhys < uint64(l.KernelStart) || entryPhys >= uint64(l.KernelEnd) {
		return fmt.Errorf("kernel_entry %#x falls outside the mapped image [%#x, %#x)", uint64(l.KernelEntry), uint64(l.HighVirt(l.KernelStart)), uint64(l.HighVirt(l.KernelEnd)))
	}
	regions := []struct {
		name        string
		start, size uint64
	}{
		{"tables", uint64(l.TableBase), BootTables * bootarch.PageSize},
		{"gdt", uint64(l.GDTBase), gdtReserve},
		{"stack", uint64(l.StackBase), l.StackSize},
		{"vga", uint64(l.VGABase), 80 * 25 * 2},
		{"kernel", uint64(l.KernelStart), uint64(l.KernelEnd - l.KernelStart)},
	}
	for i, a := range regions {
		for _, b := range regions[i+1:] {
			if a.start < b.start+b.size && b.start < a.start+a.size {
				return fmt.Errorf("%s region [%#x, %#x) overlaps %s region [%#x, %#x)", a.name, a.start, a.start+a.size, b.name, b.start, b.start+b.size)
			}
		}
	}
	for _, low := range regions[:3] {
		if low.start+low.size > 0x100000 {
			return fmt.Errorf("%s region [%#x, %#x) extends above 1MiB", low.name, low.start, low.start+low.size)
		}
	}
	return nil
}

// TableRegion returns the physical extent of the table workspace.
func (l *Layout) TableRegion() (bootarch.PhysAddr, uint64) {
	return l.TableBase, BootTables * bootarch.PageSize
}

// StackTop returns the physical address just above the boot stack.
func (l *Layout) StackTop() bootarch.PhysAddr {
	return l.StackBase + bootarch.PhysAddr(l.StackSize)
}

// HighVirt returns the higher-half alias of a physical address. Valid for
// the first GiB of physical memory.
func (l *Layout) HighVirt(pa bootarch.PhysAddr) bootarch.VirtAddr {
	return l.KernelBase + bootarch.VirtAddr(pa)
}

// DirectVirt returns the direct-map alias of a physical address.
func (l *Layout) DirectVirt(pa bootarch.PhysAddr) bootarch.VirtAddr {
	return l.DirectBase + bootarch.VirtAddr(pa)
}

// RecursiveBase returns the lowest virtual address owned by the self map.
func (l *Layout) RecursiveBase() bootarch.VirtAddr {
	return bootarch.JoinIndices(l.SelfSlot, 0, 0, 0, 0)
}

// RecursiveTable returns the virtual address at which the self map exposes a
// table. The arguments are the walk indexes leading to the table: none for
// the root itself, one (the root slot) for a third-level table, two for a
// directory, three for a leaf table.
func (l *Layout) RecursiveTable(walk ...int) bootarch.VirtAddr {
	if len(walk) > 3 {
		panic(fmt.Sprintf("recursive walk has %d indexes; tables sit at depth 0..3", len(walk)))
	}
	idx := [4]int{l.SelfSlot, l.SelfSlot, l.SelfSlot, l.SelfSlot}
	copy(idx[4-len(walk):], walk)
	return bootarch.JoinIndices(idx[0], idx[1], idx[2], idx[3], 0)
}
