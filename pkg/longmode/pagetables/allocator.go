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

package pagetables

import (
	"fmt"
	"unsafe"

	"github.com/bootloom/bootloom/pkg/bootarch"
)

// Allocator hands out page tables and maps between their host view and
// their physical addresses.
type Allocator interface {
	// NewPTEs returns a new, zeroed table.
	NewPTEs() *PTEs

	// PhysicalFor returns the physical address of the table.
	PhysicalFor(ptes *PTEs) bootarch.PhysAddr

	// LookupPTEs returns the table at the given physical address.
	LookupPTEs(physical bootarch.PhysAddr) *PTEs

	// FreePTEs releases a table.
	FreePTEs(ptes *PTEs)
}

// Arena is a bump allocator over a fixed window of boot memory: the bytes
// backing physical [base, base+len(backing)). Boot tables are never freed,
// so FreePTEs does nothing; Reset reclaims the whole arena at once.
//
// Misuse is a programmer error and panics: the backing must be page aligned
// on both address and size, and allocation must not outrun it.
type Arena struct {
	backing []byte
	base    bootarch.PhysAddr
	next    int
}

// NewArena returns an arena handing out tables from backing, which holds
// physical memory starting at base. The backing is zeroed so a fresh arena
// always produces empty tables, making a rebuild over the same region
// idempotent.
func NewArena(backing []byte, base bootarch.PhysAddr) *Arena {
	if len(backing) == 0 || len(backing)%bootarch.PageSize != 0 {
		panic(fmt.Sprintf("pagetables: arena backing is %d bytes, not a positive page multiple", len(backing)))
	}
	if uintptr(unsafe.Pointer(&backing[0]))%bootarch.PageSize != 0 {
		panic("pagetables: arena backing is not page aligned")
	}
	if !base.IsPageAligned() {
		panic(fmt.Sprintf("pagetables: arena base %#x is not page aligned", uint64(base)))
	}
	a := &Arena{backing: backing, base: base}
	a.Reset()
	return a
}

// Capacity returns the number of tables the arena can hold.
func (a *Arena) Capacity() int {
	return len(a.backing) / bootarch.PageSize
}

// Allocated returns the number of tables handed out since the last Reset.
func (a *Arena) Allocated() int {
	return a.next
}

// Reset zeroes the arena and reclaims every table.
func (a *Arena) Reset() {
	clear(a.backing)
	a.next = 0
}

// Bytes returns the raw backing, a flat image of the table region.
func (a *Arena) Bytes() []byte {
	return a.backing
}

func (a *Arena) table(i int) *PTEs {
	return (*PTEs)(unsafe.Pointer(&a.backing[i*bootarch.PageSize]))
}

// NewPTEs implements Allocator.NewPTEs.
func (a *Arena) NewPTEs() *PTEs {
	if a.next >= a.Capacity() {
		panic(fmt.Sprintf("pagetables: arena exhausted after %d tables", a.next))
	}
	ptes := a.table(a.next)
	a.next++
	return ptes
}

// PhysicalFor implements Allocator.PhysicalFor.
func (a *Arena) PhysicalFor(ptes *PTEs) bootarch.PhysAddr {
	offset := uintptr(unsafe.Pointer(ptes)) - uintptr(unsafe.Pointer(&a.backing[0]))
	if offset >= uintptr(len(a.backing)) {
		panic("pagetables: table is not from this arena")
	}
	return a.base + bootarch.PhysAddr(offset)
}

// LookupPTEs implements Allocator.LookupPTEs.
func (a *Arena) LookupPTEs(physical bootarch.PhysAddr) *PTEs {
	if physical < a.base || physical >= a.base+bootarch.PhysAddr(len(a.backing)) {
		panic(fmt.Sprintf("pagetables: physical %#x outside arena [%#x, %#x)", uint64(physical), uint64(a.base), uint64(a.base)+uint64(len(a.backing))))
	}
	if !physical.IsPageAligned() {
		panic(fmt.Sprintf("pagetables: physical %#x is not a table address", uint64(physical)))
	}
	return a.table(int(physical-a.base) / bootarch.PageSize)
}

// FreePTEs implements Allocator.FreePTEs. Boot tables live until the kernel
// replaces the whole map, so this is a no-op.
func (a *Arena) FreePTEs(ptes *PTEs) {
}

// View returns the bytes backing physical [pa, pa+length), satisfying the
// walker's Memory over the arena's own window.
func (a *Arena) View(pa uint64, length uint64) ([]byte, error) {
	start := uint64(a.base)
	end := start + uint64(len(a.backing))
	if pa < start || pa+length > end || pa+length < pa {
		return nil, fmt.Errorf("pagetables: [%#x, %#x) outside arena [%#x, %#x)", pa, pa+length, start, end)
	}
	return a.backing[pa-start : pa-start+length], nil
}
