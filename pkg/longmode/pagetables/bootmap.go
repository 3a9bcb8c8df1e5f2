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
	"github.com/bootloom/bootloom/pkg/bootarch"
	"github.com/bootloom/bootloom/pkg/layout"
)

// BootMap records where the builder placed each table of the boot address
// space, so later stages and the verifier can find them without re-walking.
type BootMap struct {
	// Root is the PML4, the value loaded into CR3.
	Root bootarch.PhysAddr

	// LowPDP backs the identity window at root slot 0.
	LowPDP bootarch.PhysAddr

	// DirectPDP backs the physical direct map.
	DirectPDP bootarch.PhysAddr

	// HighPDP backs the kernel higher half.
	HighPDP bootarch.PhysAddr

	// FirstPD is the shared huge-page directory covering the first GiB of
	// physical memory. Both the identity window and the kernel half point
	// at this one table.
	FirstPD bootarch.PhysAddr

	// GBPages records the direct-map strategy: 512 1GiB leaves when true,
	// a single-GiB alias of FirstPD when the CPU lacks 1GiB pages.
	GBPages bool
}

// CR3 returns the value to load into the page table base register.
func (m *BootMap) CR3() uint64 {
	return uint64(m.Root)
}

// BuildBootMap populates the boot address space in tables drawn from a. The
// five tables are allocated in a fixed order, root first, so the root always
// lands at the arena base.
//
// The map carries four windows:
//
//   - slot 0: identity over the first GiB, 2MiB leaves;
//   - the direct slot: all of physical memory when gbPages is set, otherwise
//     just the first GiB via the shared directory;
//   - the self slot: the root as its own child, exposing every table;
//   - the kernel slot: the first GiB again, at the higher-half base.
func BuildBootMap(a Allocator, l *layout.Layout, gbPages bool) *BootMap {
	root := a.NewPTEs()
	lowPDP := a.NewPTEs()
	directPDP := a.NewPTEs()
	highPDP := a.NewPTEs()
	firstPD := a.NewPTEs()

	m := &BootMap{
		Root:      a.PhysicalFor(root),
		LowPDP:    a.PhysicalFor(lowPDP),
		DirectPDP: a.PhysicalFor(directPDP),
		HighPDP:   a.PhysicalFor(highPDP),
		FirstPD:   a.PhysicalFor(firstPD),
		GBPages:   gbPages,
	}

	table := Present | Writable
	root[0].Set(m.LowPDP, table)
	root[l.DirectSlot].Set(m.DirectPDP, table)
	root[l.SelfSlot].Set(m.Root, table)
	root[l.KernelSlot].Set(m.HighPDP, table)

	leaf := Present | Writable | Huge
	for i := range firstPD {
		firstPD[i].Set(bootarch.PhysAddr(i)<<bootarch.HugePageShift, leaf)
	}
	lowPDP[0].Set(m.FirstPD, table)

	// The higher-half slot comes from the base address, not a separate
	// constant, so the alias can never drift from the layout.
	highPDP[l.KernelBase.Index(bootarch.PDP)].Set(m.FirstPD, table)

	if gbPages {
		for i := range directPDP {
			directPDP[i].Set(bootarch.PhysAddr(i)<<bootarch.SuperPageShift, leaf)
		}
	} else {
		directPDP[0].Set(m.FirstPD, table)
	}
	return m
}
