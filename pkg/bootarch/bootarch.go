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

// Package bootarch defines the x86-64 address types and paging constants
// shared by the boot-time table builders and the hosted tooling.
//
// Physical and virtual addresses are distinct types so that a translation
// bug is a type error rather than a silent aliasing bug. Both are plain
// uint64 values; the boot path never sees a host pointer.
package bootarch

const (
	// PageShift is the binary log of the base page size.
	PageShift = 12

	// PageSize is the base page size.
	PageSize = 1 << PageShift

	// HugePageShift is the binary log of the huge (PD-level) page size.
	HugePageShift = 21

	// HugePageSize is the huge page size.
	HugePageSize = 1 << HugePageShift

	// SuperPageShift is the binary log of the super (PDP-level) page size.
	SuperPageShift = 30

	// SuperPageSize is the super page size.
	SuperPageSize = 1 << SuperPageShift

	// PTEsPerTable is the number of entries in a table at every level.
	PTEsPerTable = 512

	// indexBits is the number of virtual-address bits consumed per level.
	indexBits = 9

	// indexMask extracts a level index.
	indexMask = PTEsPerTable - 1
)

// Level identifies a level of the 4-level paging hierarchy, numbered from
// the leaf up so that the index of a virtual address at level l is
// (va >> (PageShift + 9*l)) & 0x1ff.
type Level int

// Paging hierarchy levels.
const (
	// PT is the page-table level (4KiB leaves).
	PT Level = iota

	// PD is the page-directory level (2MiB leaves when huge).
	PD

	// PDP is the page-directory-pointer level (1GiB leaves when huge).
	PDP

	// PML4 is the root level.
	PML4
)

// Shift returns the virtual-address shift for indexes at this level.
func (l Level) Shift() uint {
	return PageShift + indexBits*uint(l)
}

// EntrySize returns the bytes of virtual address space covered by a single
// entry at this level.
func (l Level) EntrySize() uint64 {
	return 1 << l.Shift()
}

// String implements fmt.Stringer.String.
func (l Level) String() string {
	switch l {
	case PT:
		return "PT"
	case PD:
		return "PD"
	case PDP:
		return "PDP"
	case PML4:
		return "PML4"
	default:
		return "invalid"
	}
}

// PhysAddr is a physical address.
type PhysAddr uint64

// RoundDown returns the address rounded down to the nearest page boundary.
func (p PhysAddr) RoundDown() PhysAddr {
	return p & ^PhysAddr(PageSize-1)
}

// RoundUp returns the address rounded up to the nearest page boundary. ok is
// true iff rounding up did not wrap around.
func (p PhysAddr) RoundUp() (addr PhysAddr, ok bool) {
	addr = (p + PageSize - 1).RoundDown()
	ok = addr >= p
	return
}

// HugeRoundDown returns the address rounded down to the nearest huge page
// boundary.
func (p PhysAddr) HugeRoundDown() PhysAddr {
	return p & ^PhysAddr(HugePageSize-1)
}

// HugeRoundUp returns the address rounded up to the nearest huge page
// boundary. ok is true iff rounding up did not wrap around.
func (p PhysAddr) HugeRoundUp() (addr PhysAddr, ok bool) {
	addr = (p + HugePageSize - 1).HugeRoundDown()
	ok = addr >= p
	return
}

// PageOffset returns the offset of the address into the page containing it.
func (p PhysAddr) PageOffset() uint64 {
	return uint64(p & (PageSize - 1))
}

// IsPageAligned returns true if the address is page aligned.
func (p PhysAddr) IsPageAligned() bool {
	return p.PageOffset() == 0
}

// VirtAddr is a virtual address.
type VirtAddr uint64

// Index returns the table index selecting this address at the given level.
func (v VirtAddr) Index(l Level) int {
	return int(v>>l.Shift()) & indexMask
}

// Offset returns the offset of the address into a leaf mapped at the given
// level.
func (v VirtAddr) Offset(l Level) uint64 {
	return uint64(v) & (l.EntrySize() - 1)
}

// IsCanonical returns true if the address is canonical for 48-bit virtual
// addressing: bits 63:48 must copy bit 47.
func (v VirtAddr) IsCanonical() bool {
	return v <= 0x00007fffffffffff || v >= 0xffff800000000000
}

// SignExtend canonicalizes a 48-bit virtual address by copying bit 47 into
// bits 63:48.
func SignExtend(v uint64) VirtAddr {
	if v&(1<<47) != 0 {
		return VirtAddr(v | 0xffff000000000000)
	}
	return VirtAddr(v &^ 0xffff000000000000)
}

// JoinIndices assembles the canonical virtual address selected by the four
// level indexes, with the given offset into the leaf page.
func JoinIndices(pml4, pdp, pd, pt int, offset uint64) VirtAddr {
	raw := uint64(pml4&indexMask)<<PML4.Shift() |
		uint64(pdp&indexMask)<<PDP.Shift() |
		uint64(pd&indexMask)<<PD.Shift() |
		uint64(pt&indexMask)<<PT.Shift() |
		offset&(PageSize-1)
	return SignExtend(raw)
}
