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

package layout

import (
	"fmt"
	"io"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/bootloom/bootloom/pkg/bootarch"
)

// hexAddr is a uint64 that reads and writes as a hexadecimal TOML string.
// TOML integers are signed 64-bit, which cannot carry higher-half virtual
// addresses, and hex is the native spelling for addresses anyway.
type hexAddr uint64

// UnmarshalText implements encoding.TextUnmarshaler.UnmarshalText.
func (h *hexAddr) UnmarshalText(text []byte) error {
	v, err := strconv.ParseUint(string(text), 0, 64)
	if err != nil {
		return fmt.Errorf("parsing address %q: %w", string(text), err)
	}
	*h = hexAddr(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.MarshalText.
func (h hexAddr) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("%#x", uint64(h))), nil
}

// fileLayout is the TOML schema for a Layout.
type fileLayout struct {
	SelfSlot    int     `toml:"self_slot"`
	DirectSlot  int     `toml:"direct_slot"`
	KernelSlot  int     `toml:"kernel_slot"`
	KernelBase  hexAddr `toml:"kernel_base"`
	DirectBase  hexAddr `toml:"direct_base"`
	TableBase   hexAddr `toml:"table_base"`
	GDTBase     hexAddr `toml:"gdt_base"`
	StackBase   hexAddr `toml:"stack_base"`
	StackSize   hexAddr `toml:"stack_size"`
	KernelStart hexAddr `toml:"kernel_start"`
	KernelEnd   hexAddr `toml:"kernel_end"`
	KernelEntry hexAddr `toml:"kernel_entry"`
	VGABase     hexAddr `toml:"vga_base"`
}

func (l *Layout) fileForm() fileLayout {
	return fileLayout{
		SelfSlot:    l.SelfSlot,
		DirectSlot:  l.DirectSlot,
		KernelSlot:  l.KernelSlot,
		KernelBase:  hexAddr(l.KernelBase),
		DirectBase:  hexAddr(l.DirectBase),
		TableBase:   hexAddr(l.TableBase),
		GDTBase:     hexAddr(l.GDTBase),
		StackBase:   hexAddr(l.StackBase),
		StackSize:   hexAddr(l.StackSize),
		KernelStart: hexAddr(l.KernelStart),
		KernelEnd:   hexAddr(l.KernelEnd),
		KernelEntry: hexAddr(l.KernelEntry),
		VGABase:     hexAddr(l.VGABase),
	}
}

func (f *fileLayout) layout() *Layout {
	return &Layout{
		SelfSlot:    f.SelfSlot,
		DirectSlot:  f.DirectSlot,
		KernelSlot:  f.KernelSlot,
		KernelBase:  bootarch.VirtAddr(f.KernelBase),
		DirectBase:  bootarch.VirtAddr(f.DirectBase),
		TableBase:   bootarch.PhysAddr(f.TableBase),
		GDTBase:     bootarch.PhysAddr(f.GDTBase),
		StackBase:   bootarch.PhysAddr(f.StackBase),
		StackSize:   uint64(f.StackSize),
		KernelStart: bootarch.PhysAddr(f.KernelStart),
		KernelEnd:   bootarch.PhysAddr(f.KernelEnd),
		KernelEntry: bootarch.VirtAddr(f.KernelEntry),
		VGABase:     bootarch.PhysAddr(f.VGABase),
	}
}

// Load reads a layout from a TOML file. Keys absent from the file keep
// their Default values; unknown keys are rejected. The result is validated.
func Load(path string) (*Layout, error) {
	f := Default().fileForm()
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, fmt.Errorf("decoding layout %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("layout %s has unknown keys: %v", path, undecoded)
	}
	l := f.layout()
	if err := l.Validate(); err != nil {
		return nil, fmt.Errorf("layout %s: %w", path, err)
	}
	return l, nil
}

// Encode writes the layout as TOML.
func (l *Layout) Encode(w io.Writer) error {
	f := l.fileForm()
	return toml.NewEncoder(w).Encode(&f)
}
