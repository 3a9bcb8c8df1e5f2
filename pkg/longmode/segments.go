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

package longmode

import (
	"encoding/binary"
	"fmt"

	"github.com/bootloom/bootloom/pkg/layout"
	"github.com/bootloom/bootloom/pkg/machine"
)

// Segment indices into the boot GDT.
const (
	segNull = iota // Mandatory null descriptor.
	segKcode       // Kernel code (64-bit).
	segKdata       // Kernel data.
	segUcode       // User code (64-bit).
	segUdata       // User data.
	segCount
)

// Selector is a segment selector: a descriptor index with the requested
// privilege level in the low bits.
type Selector uint16

// Selectors into the boot GDT.
const (
	Kcode Selector = segKcode << 3
	Kdata Selector = segKdata << 3
	Ucode Selector = segUcode<<3 | 3
	Udata Selector = segUdata<<3 | 3
)

// SegmentDescriptor is a segment descriptor.
type SegmentDescriptor struct {
	bits [2]uint32
}

// SegmentDescriptorFlags are typed flags within a descriptor.
type SegmentDescriptorFlags uint32

// SegmentDescriptorFlags declarations.
const (
	SegmentDescriptorAccess     SegmentDescriptorFlags = 1 << 8  // Access bit (always set).
	SegmentDescriptorWrite      SegmentDescriptorFlags = 1 << 9  // Write permission.
	SegmentDescriptorExpandDown SegmentDescriptorFlags = 1 << 10 // Grows down, not used.
	SegmentDescriptorExecute    SegmentDescriptorFlags = 1 << 11 // Execute permission.
	SegmentDescriptorSystem     SegmentDescriptorFlags = 1 << 12 // Zero => system, 1 => user code/data.
	SegmentDescriptorPresent    SegmentDescriptorFlags = 1 << 15 // Present.
	SegmentDescriptorAVL        SegmentDescriptorFlags = 1 << 20 // Available.
	SegmentDescriptorLong       SegmentDescriptorFlags = 1 << 21 // Long mode.
	SegmentDescriptorDB         SegmentDescriptorFlags = 1 << 22 // 16 or 32-bit.
	SegmentDescriptorG          SegmentDescriptorFlags = 1 << 23 // Granularity: page or byte.
)

func (d *SegmentDescriptor) set(base, limit uint32, dpl int, flags SegmentDescriptorFlags) {
	flags |= SegmentDescriptorPresent
	if limit>>12 != 0 {
		limit >>= 12
		flags |= SegmentDescriptorG
	}
	d.bits[0] = base<<16 | limit&0xFFFF
	d.bits[1] = base&0xFF000000 | (base>>16)&0xFF | limit&0x000F0000 | uint32(flags) | uint32(dpl)<<13
}

func (d *SegmentDescriptor) setNull() {
	d.bits[0] = 0
	d.bits[1] = 0
}

func (d *SegmentDescriptor) setCode64(base, limit uint32, dpl int) {
	d.set(base, limit, dpl,
		SegmentDescriptorG|
			SegmentDescriptorLong|
			SegmentDescriptorExecute|
			SegmentDescriptorSystem)
}

func (d *SegmentDescriptor) setData(base, limit uint32, dpl int) {
	d.set(base, limit, dpl,
		SegmentDescriptorWrite|
			SegmentDescriptorSystem)
}

// Base returns the descriptor's base linear address.
func (d *SegmentDescriptor) Base() uint32 {
	return d.bits[1]&0xFF000000 | (d.bits[1]&0x000000FF)<<16 | d.bits[0]>>16
}

// Limit returns the descriptor size.
func (d *SegmentDescriptor) Limit() uint32 {
	l := d.bits[0]&0xFFFF | d.bits[1]&0xF0000
	if d.bits[1]&uint32(SegmentDescriptorG) != 0 {
		l <<= 12
		l |= 0xFFF
	}
	return l
}

// Flags returns descriptor flags.
func (d *SegmentDescriptor) Flags() SegmentDescriptorFlags {
	return SegmentDescriptorFlags(d.bits[1] & 0x00F09F00)
}

// DPL returns the descriptor privilege level.
func (d *SegmentDescriptor) DPL() int {
	return int((d.bits[1] >> 13) & 3)
}

// GDT is the boot descriptor table: a null entry, flat kernel code and data,
// and flat user code and data for the kernel to inherit. In long mode base
// and limit are ignored for code and data, but the fields are still built
// flat so the table also works for the moment protected mode sees it.
type GDT [segCount]SegmentDescriptor

// NewGDT returns the boot descriptor table.
func NewGDT() *GDT {
	g := new(GDT)
	g[segNull].setNull()
	g[segKcode].setCode64(0, 0xffffffff, 0)
	g[segKdata].setData(0, 0xffffffff, 0)
	g[segUcode].setCode64(0, 0xffffffff, 3)
	g[segUdata].setData(0, 0xffffffff, 3)
	return g
}

// Size returns the table's size in bytes.
func (g *GDT) Size() int {
	return segCount * 8
}

// Limit returns the value for the descriptor table register's limit field,
// one less than the table size.
func (g *GDT) Limit() uint16 {
	return uint16(g.Size() - 1)
}

// Encode writes the table into b, which must hold Size bytes.
func (g *GDT) Encode(b []byte) {
	if len(b) < g.Size() {
		panic(fmt.Sprintf("longmode: encoding a %d byte table into %d bytes", g.Size(), len(b)))
	}
	for i := range g {
		binary.LittleEndian.PutUint32(b[i*8:], g[i].bits[0])
		binary.LittleEndian.PutUint32(b[i*8+4:], g[i].bits[1])
	}
}

// DecodeGDT reads a table back from its encoding.
func DecodeGDT(b []byte) (*GDT, error) {
	g := new(GDT)
	if len(b) != g.Size() {
		return nil, fmt.Errorf("longmode: descriptor table is %d bytes, wanted %d", len(b), g.Size())
	}
	for i := range g {
		g[i].bits[0] = binary.LittleEndian.Uint32(b[i*8:])
		g[i].bits[1] = binary.LittleEndian.Uint32(b[i*8+4:])
	}
	return g, nil
}

// Pointer returns the 10-byte descriptor table register operand for a table
// at the given physical base: a 16-bit limit followed by the 64-bit base.
func (g *GDT) Pointer(base uint64) [10]byte {
	var p [10]byte
	binary.LittleEndian.PutUint16(p[:2], g.Limit())
	binary.LittleEndian.PutUint64(p[2:], base)
	return p
}

// Install builds the boot GDT at the layout's reserved physical address,
// loads the descriptor table register, and reloads every segment register:
// CS first via the port's far transfer, then the data segments.
func Install(cpu machine.CPU, mem machine.Memory, l *layout.Layout) (*GDT, error) {
	g := NewGDT()
	w, err := mem.View(uint64(l.GDTBase), uint64(g.Size()))
	if err != nil {
		return nil, fmt.Errorf("longmode: descriptor table region: %w", err)
	}
	g.Encode(w)
	cpu.LoadGDT(uint64(l.GDTBase), g.Limit())
	cpu.WriteSegment(machine.CS, uint16(Kcode))
	for _, reg := range []machine.SegReg{machine.DS, machine.ES, machine.SS, machine.FS, machine.GS} {
		cpu.WriteSegment(reg, uint16(Kdata))
	}
	return g, nil
}
