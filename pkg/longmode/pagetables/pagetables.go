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

// Package pagetables builds and inspects the 4-level page tables that carry
// the switch into long mode.
//
// The boot map is deliberately static: five tables reserved at fixed
// physical addresses describe an identity window over the first GiB, a
// kernel alias of the same gigabyte in the higher half, a physical direct
// map, and a recursive window through which the tables map themselves. No
// table is ever allocated after the build, so the allocator is a bump arena
// over a caller-provided region.
//
// Entries are manipulated through atomic loads and stores. The boot path
// itself is single threaded, but the hosted verifier walks maps from
// multiple goroutines.
package pagetables

import (
	"strings"
	"sync/atomic"

	"github.com/bootloom/bootloom/pkg/bootarch"
)

// Flags are the page table entry bits the boot map uses.
type Flags uint64

// Entry bits.
const (
	// Present marks the entry as valid.
	Present Flags = 1 << 0

	// Writable permits writes through the entry.
	Writable Flags = 1 << 1

	// User permits CPL 3 access. The boot map never sets it.
	User Flags = 1 << 2

	// WriteThrough selects write-through caching.
	WriteThrough Flags = 1 << 3

	// CacheDisable disables caching.
	CacheDisable Flags = 1 << 4

	// Accessed is set by hardware on first use.
	Accessed Flags = 1 << 5

	// Dirty is set by hardware on first write, leaf entries only.
	Dirty Flags = 1 << 6

	// Huge makes a directory-level entry a leaf: 2MiB at the PD level,
	// 1GiB at the PDP level.
	Huge Flags = 1 << 7

	// Global keeps the translation across CR3 loads.
	Global Flags = 1 << 8

	// NoExecute forbids instruction fetch through the entry.
	NoExecute Flags = 1 << 63
)

// flagsMask covers every bit Flags can carry; the rest of an entry is the
// physical frame address.
const flagsMask = Flags(0xfff) | NoExecute

// addrMask extracts the frame address from an entry, 52-bit physical.
const addrMask = 0x000ffffffffff000

var flagNames = []struct {
	bit  Flags
	name string
}{
	{Present, "present"},
	{Writable, "writable"},
	{User, "user"},
	{WriteThrough, "write-through"},
	{CacheDisable, "cache-disable"},
	{Accessed, "accessed"},
	{Dirty, "dirty"},
	{Huge, "huge"},
	{Global, "global"},
	{NoExecute, "no-execute"},
}

// String implements fmt.Stringer.String.
func (f Flags) String() string {
	var parts []string
	for _, fn := range flagNames {
		if f&fn.bit != 0 {
			parts = append(parts, fn.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// PTE is a page table entry.
type PTE uint64

// Clear zeroes the entry.
//
//go:nosplit
func (p *PTE) Clear() {
	atomic.StoreUint64((*uint64)(p), 0)
}

// Valid returns true iff the entry is present.
//
//go:nosplit
func (p *PTE) Valid() bool {
	return atomic.LoadUint64((*uint64)(p))&uint64(Present) != 0
}

// Flags returns the entry's flag bits.
//
//go:nosplit
func (p *PTE) Flags() Flags {
	return Flags(atomic.LoadUint64((*uint64)(p))) & flagsMask
}

// Address returns the physical frame the entry points at.
//
//go:nosplit
func (p *PTE) Address() bootarch.PhysAddr {
	return bootarch.PhysAddr(atomic.LoadUint64((*uint64)(p)) & addrMask)
}

// Set points the entry at a physical frame. The address must be aligned for
// the entry's position: page aligned for table pointers, leaf-size aligned
// for huge leaves.
//
//go:nosplit
func (p *PTE) Set(addr bootarch.PhysAddr, flags Flags) {
	atomic.StoreUint64((*uint64)(p), uint64(addr)&addrMask|uint64(flags&flagsMask))
}

// IsHuge returns true iff the entry is a directory-level leaf.
//
//go:nosplit
func (p *PTE) IsHuge() bool {
	return atomic.LoadUint64((*uint64)(p))&uint64(Huge) != 0
}

// PTEs is a single 4KiB table at any level of the hierarchy.
type PTEs [bootarch.PTEsPerTable]PTE
