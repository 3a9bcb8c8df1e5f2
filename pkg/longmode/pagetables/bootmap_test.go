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
	"testing"

	"github.com/bootloom/bootloom/pkg/bootarch"
	"github.com/bootloom/bootloom/pkg/layout"
)

func buildTestMap(t *testing.T, gbPages bool) (*Arena, *BootMap, *layout.Layout) {
	t.Helper()
	l := layout.Default()
	backing := mapPages(t, layout.BootTables)
	a := NewArena(backing, l.TableBase)
	return a, BuildBootMap(a, l, gbPages), l
}

func TestBuildBootMapPlacement(t *testing.T) {
	a, m, l := buildTestMap(t, true)
	base := l.TableBase
	for _, tc := range []struct {
		name string
		got  bootarch.PhysAddr
		want bootarch.PhysAddr
	}{
		{"root", m.Root, base},
		{"low-pdp", m.LowPDP, base + 1*bootarch.PageSize},
		{"direct-pdp", m.DirectPDP, base + 2*bootarch.PageSize},
		{"high-pdp", m.HighPDP, base + 3*bootarch.PageSize},
		{"first-pd", m.FirstPD, base + 4*bootarch.PageSize},
	} {
		if tc.got != tc.want {
			t.Errorf("%s at %#x, wanted %#x", tc.name, uint64(tc.got), uint64(tc.want))
		}
	}
	if got, want := a.Allocated(), layout.BootTables; got != want {
		t.Errorf("Allocated got %d, wanted %d", got, want)
	}
	if got, want := m.CR3(), uint64(l.TableBase); got != want {
		t.Errorf("CR3 got %#x, wanted %#x", got, want)
	}
}

func TestBuildBootMapRootSlots(t *testing.T) {
	a, m, l := buildTestMap(t, true)
	root := a.LookupPTEs(m.Root)
	want := map[int]bootarch.PhysAddr{
		0:            m.LowPDP,
		l.DirectSlot: m.DirectPDP,
		l.SelfSlot:   m.Root,
		l.KernelSlot: m.HighPDP,
	}
	for i := range root {
		child, populated := want[i]
		if !populated {
			if root[i] != 0 {
				t.Errorf("root slot %d is %#x, wanted zero", i, uint64(root[i]))
			}
			continue
		}
		if !root[i].Valid() || root[i].IsHuge() {
			t.Errorf("root slot %d got valid=%v huge=%v, wanted a table pointer", i, root[i].Valid(), root[i].IsHuge())
		}
		if got := root[i].Address(); got != child {
			t.Errorf("root slot %d points at %#x, wanted %#x", i, uint64(got), uint64(child))
		}
		if got, want := root[i].Flags(), Present|Writable; got != want {
			t.Errorf("root slot %d flags got %v, wanted %v", i, got, want)
		}
	}
}

func TestBuildBootMapSharedDirectory(t *testing.T) {
	a, m, l := buildTestMap(t, true)

	lowPDP := a.LookupPTEs(m.LowPDP)
	highPDP := a.LookupPTEs(m.HighPDP)
	highSlot := l.KernelBase.Index(bootarch.PDP)

	if got := lowPDP[0].Address(); got != m.FirstPD {
		t.Errorf("identity slot points at %#x, wanted the shared directory %#x", uint64(got), uint64(m.FirstPD))
	}
	if got := highPDP[highSlot].Address(); got != m.FirstPD {
		t.Errorf("kernel slot points at %#x, wanted the shared directory %#x", uint64(got), uint64(m.FirstPD))
	}
	for i := range lowPDP {
		if i != 0 && lowPDP[i] != 0 {
			t.Errorf("low table slot %d is %#x, wanted zero", i, uint64(lowPDP[i]))
		}
		if i != highSlot && highPDP[i] != 0 {
			t.Errorf("high table slot %d is %#x, wanted zero", i, uint64(highPDP[i]))
		}
	}

	firstPD := a.LookupPTEs(m.FirstPD)
	for i := range firstPD {
		want := bootarch.PhysAddr(i) << bootarch.HugePageShift
		if !firstPD[i].Valid() || !firstPD[i].IsHuge() {
			t.Fatalf("directory entry %d got valid=%v huge=%v, wanted a huge leaf", i, firstPD[i].Valid(), firstPD[i].IsHuge())
		}
		if got := firstPD[i].Address(); got != want {
			t.Errorf("directory entry %d maps %#x, wanted %#x", i, uint64(got), uint64(want))
		}
	}
}

func TestBuildBootMapDirectStrategies(t *testing.T) {
	t.Run("gb-pages", func(t *testing.T) {
		a, m, _ := buildTestMap(t, true)
		directPDP := a.LookupPTEs(m.DirectPDP)
		for i := range directPDP {
			want := bootarch.PhysAddr(i) << bootarch.SuperPageShift
			if !directPDP[i].Valid() || !directPDP[i].IsHuge() {
				t.Fatalf("direct entry %d got valid=%v huge=%v, wanted a 1GiB leaf", i, directPDP[i].Valid(), directPDP[i].IsHuge())
			}
			if got := directPDP[i].Address(); got != want {
				t.Errorf("direct entry %d maps %#x, wanted %#x", i, uint64(got), uint64(want))
			}
		}
	})
	t.Run("fallback", func(t *testing.T) {
		a, m, l := buildTestMap(t, false)
		directPDP := a.LookupPTEs(m.DirectPDP)
		if directPDP[0].IsHuge() || directPDP[0].Address() != m.FirstPD {
			t.Errorf("direct slot 0 got %#x huge=%v, wanted the shared directory", uint64(directPDP[0].Address()), directPDP[0].IsHuge())
		}
		for i := 1; i < bootarch.PTEsPerTable; i++ {
			if directPDP[i] != 0 {
				t.Errorf("direct slot %d is %#x, wanted zero", i, uint64(directPDP[i]))
			}
		}
		// Coverage stops at exactly one GiB.
		if _, _, present, err := Translate(a, m.Root, l.DirectBase+bootarch.SuperPageSize); err != nil || present {
			t.Errorf("direct map covers beyond 1GiB without gigabyte pages (present=%v, err=%v)", present, err)
		}
		if pa, _, present, err := Translate(a, m.Root, l.DirectBase+0x1234); err != nil || !present || pa != 0x1234 {
			t.Errorf("direct map first GiB broken: pa=%#x present=%v err=%v", uint64(pa), present, err)
		}
	})
}

func TestAliasing(t *testing.T) {
	a, m, l := buildTestMap(t, true)
	for _, offset := range []uint64{
		0,
		0x1234,
		bootarch.HugePageSize + 5,
		bootarch.SuperPageSize - 1,
	} {
		views := []struct {
			name string
			va   bootarch.VirtAddr
		}{
			{"identity", bootarch.VirtAddr(offset)},
			{"kernel", l.HighVirt(bootarch.PhysAddr(offset))},
			{"direct", l.DirectVirt(bootarch.PhysAddr(offset))},
		}
		for _, view := range views {
			pa, _, present, err := Translate(a, m.Root, view.va)
			if err != nil {
				t.Fatalf("Translate(%s+%#x) got error %v", view.name, offset, err)
			}
			if !present {
				t.Fatalf("Translate(%s+%#x) got not present", view.name, offset)
			}
			if got, want := pa, bootarch.PhysAddr(offset); got != want {
				t.Errorf("%s window translates +%#x to %#x, wanted %#x", view.name, offset, uint64(got), uint64(want))
			}
		}
	}
}

func TestSelfMap(t *testing.T) {
	a, m, l := buildTestMap(t, true)
	for _, tc := range []struct {
		name string
		va   bootarch.VirtAddr
		want bootarch.PhysAddr
	}{
		{"root", l.RecursiveTable(), m.Root},
		{"low-pdp", l.RecursiveTable(0), m.LowPDP},
		{"direct-pdp", l.RecursiveTable(l.DirectSlot), m.DirectPDP},
		{"high-pdp", l.RecursiveTable(l.KernelSlot), m.HighPDP},
		{"first-pd", l.RecursiveTable(0, 0), m.FirstPD},
		{"first-pd-high", l.RecursiveTable(l.KernelSlot, l.KernelBase.Index(bootarch.PDP)), m.FirstPD},
	} {
		t.Run(tc.name, func(t *testing.T) {
			pa, level, present, err := Translate(a, m.Root, tc.va)
			if err != nil {
				t.Fatalf("Translate got error %v", err)
			}
			if !present {
				t.Fatalf("Translate got not present")
			}
			if pa != tc.want {
				t.Errorf("self map exposes %s at %#x, wanted %#x", tc.name, uint64(pa), uint64(tc.want))
			}
			if level != bootarch.PT {
				t.Errorf("self map window level got %v, wanted %v", level, bootarch.PT)
			}
		})
	}
}

func TestTranslateMisses(t *testing.T) {
	a, m, l := buildTestMap(t, true)
	for _, tc := range []struct {
		name string
		va   bootarch.VirtAddr
	}{
		{"above-identity", bootarch.SuperPageSize},
		{"below-kernel", l.KernelBase - bootarch.PageSize},
		{"above-kernel-gig", l.KernelBase + bootarch.SuperPageSize},
		{"unused-slot", bootarch.JoinIndices(1, 0, 0, 0, 0)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, _, present, err := Translate(a, m.Root, tc.va)
			if err != nil {
				t.Fatalf("Translate got error %v", err)
			}
			if present {
				t.Errorf("unmapped address %#x translated", uint64(tc.va))
			}
		})
	}
}

func TestMappings(t *testing.T) {
	a, m, l := buildTestMap(t, true)
	runs, err := Mappings(a, m.Root)
	if err != nil {
		t.Fatalf("Mappings got error %v", err)
	}

	want := []Mapping{
		{Virt: 0, Phys: 0, Size: bootarch.SuperPageSize, Flags: Present | Writable | Huge, Level: bootarch.PD},
		{Virt: l.DirectBase, Phys: 0, Size: 512 * bootarch.SuperPageSize, Flags: Present | Writable | Huge, Level: bootarch.PDP},
		{Virt: l.KernelBase, Phys: 0, Size: bootarch.SuperPageSize, Flags: Present | Writable | Huge, Level: bootarch.PD},
		{Virt: l.RecursiveTable(), Phys: m.Root, Size: bootarch.PageSize, Flags: Present | Writable, Level: bootarch.PT},
	}
	for _, w := range want {
		found := false
		for _, run := range runs {
			if run == w {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("run %v missing from the walk", w)
		}
	}

	// Ascending, non-overlapping virtual order.
	for i := 1; i < len(runs); i++ {
		prev, cur := runs[i-1], runs[i]
		if uint64(prev.Virt)+prev.Size > uint64(cur.Virt) {
			t.Errorf("runs overlap or are out of order: %v then %v", prev, cur)
		}
	}
}

func TestVisitStops(t *testing.T) {
	a, m, _ := buildTestMap(t, true)
	count := 0
	if err := Visit(a, m.Root, func(Mapping) bool {
		count++
		return count < 3
	}); err != nil {
		t.Fatalf("Visit got error %v", err)
	}
	if count != 3 {
		t.Errorf("Visit called f %d times after stop, wanted 3", count)
	}
}
