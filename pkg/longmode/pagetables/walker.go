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
	"encoding/binary"
	"fmt"

	"github.com/bootloom/bootloom/pkg/bootarch"
)

// Memory is the read surface the walker needs: a window onto the physical
// memory holding the tables. Arena satisfies it for freshly built maps; the
// machine ports satisfy it for whole simulated or identity-mapped RAM.
type Memory interface {
	View(pa uint64, length uint64) ([]byte, error)
}

// Mapping is one leaf translation found by walking a map.
type Mapping struct {
	// Virt is the first virtual address of the leaf.
	Virt bootarch.VirtAddr

	// Phys is the physical address Virt translates to.
	Phys bootarch.PhysAddr

	// Size is the extent of the leaf: 4KiB, 2MiB or 1GiB.
	Size uint64

	// Flags are the leaf entry's bits.
	Flags Flags

	// Level is the level the walk terminated at.
	Level bootarch.Level
}

// String implements fmt.Stringer.String.
func (m Mapping) String() string {
	return fmt.Sprintf("%#016x -> %#x (%s, %s, %s)", uint64(m.Virt), uint64(m.Phys), sizeString(m.Size), m.Level, m.Flags)
}

func sizeString(size uint64) string {
	switch {
	case size >= bootarch.SuperPageSize && size%bootarch.SuperPageSize == 0:
		return fmt.Sprintf("%dGiB", size>>bootarch.SuperPageShift)
	case size >= bootarch.HugePageSize && size%bootarch.HugePageSize == 0:
		return fmt.Sprintf("%dMiB", size>>20)
	default:
		return fmt.Sprintf("%dKiB", size>>10)
	}
}

func readEntry(mem Memory, table bootarch.PhysAddr, index int) (PTE, error) {
	b, err := mem.View(uint64(table)+uint64(index)*8, 8)
	if err != nil {
		return 0, fmt.Errorf("pagetables: reading entry %d of table %#x: %w", index, uint64(table), err)
	}
	return PTE(binary.LittleEndian.Uint64(b)), nil
}

// isLeaf returns true iff an entry at the given level terminates the walk.
// PT entries always do; directory-level entries do when huge. Bit 7 in a PT
// entry is PAT, not a size bit, so the level check comes first.
func isLeaf(level bootarch.Level, pte PTE) bool {
	if level == bootarch.PT {
		return true
	}
	return pte.Flags()&Huge != 0
}

// Translate resolves a virtual address through the map rooted at root.
// present is false when the walk hits a non-present entry; err reports reads
// outside the backing memory.
func Translate(mem Memory, root bootarch.PhysAddr, va bootarch.VirtAddr) (pa bootarch.PhysAddr, level bootarch.Level, present bool, err error) {
	table := root
	for level = bootarch.PML4; ; level-- {
		pte, rerr := readEntry(mem, table, va.Index(level))
		if rerr != nil {
			return 0, level, false, rerr
		}
		if !pte.Valid() {
			return 0, level, false, nil
		}
		if level < bootarch.PML4 && isLeaf(level, pte) {
			base := pte.Address() &^ bootarch.PhysAddr(level.EntrySize()-1)
			return base + bootarch.PhysAddr(va.Offset(level)), level, true, nil
		}
		table = pte.Address()
	}
}

// Visit walks every present leaf under root in ascending virtual order,
// calling f for each. Returning false from f stops the walk. The self slot
// makes the tables themselves appear as 4KiB leaves; Visit reports those
// like any other mapping.
func Visit(mem Memory, root bootarch.PhysAddr, f func(Mapping) bool) error {
	w := walker{mem: mem, f: f}
	w.table(root, bootarch.PML4, [4]int{})
	return w.err
}

type walker struct {
	mem  Memory
	f    func(Mapping) bool
	done bool
	err  error
}

func (w *walker) table(table bootarch.PhysAddr, level bootarch.Level, path [4]int) {
	for i := 0; i < bootarch.PTEsPerTable && !w.done && w.err == nil; i++ {
		pte, err := readEntry(w.mem, table, i)
		if err != nil {
			w.err = err
			return
		}
		if !pte.Valid() {
			continue
		}
		path[bootarch.PML4-level] = i
		if isLeaf(level, pte) {
			virt := bootarch.JoinIndices(path[0], path[1], path[2], path[3], 0)
			if !w.f(Mapping{
				Virt:  virt,
				Phys:  pte.Address() &^ bootarch.PhysAddr(level.EntrySize()-1),
				Size:  level.EntrySize(),
				Flags: pte.Flags(),
				Level: level,
			}) {
				w.done = true
			}
			continue
		}
		w.table(pte.Address(), level-1, path)
	}
}

// Mappings walks the map and coalesces neighboring leaves that are
// physically contiguous with identical flags at the same level, returning
// the runs in ascending virtual order.
func Mappings(mem Memory, root bootarch.PhysAddr) ([]Mapping, error) {
	var runs []Mapping
	err := Visit(mem, root, func(m Mapping) bool {
		if n := len(runs); n > 0 {
			prev := &runs[n-1]
			if prev.Virt+bootarch.VirtAddr(prev.Size) == m.Virt &&
				prev.Phys+bootarch.PhysAddr(prev.Size) == m.Phys &&
				prev.Flags == m.Flags && prev.Level == m.Level {
				prev.Size += m.Size
				return true
			}
		}
		runs = append(runs, m)
		return true
	})
	if err != nil {
		return nil, err
	}
	return runs, nil
}
