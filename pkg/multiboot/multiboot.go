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

// Package multiboot reads and writes multiboot2 boot information blocks.
//
// A block starts with an 8-byte header (total size, reserved) followed by
// 8-byte aligned type/size/payload tags and a terminating end tag. The boot
// path only needs the total size, read with TotalSize; the full parser backs
// hosted inspection and the simulator.
package multiboot

import (
	"encoding/binary"
	"fmt"
)

// Magic is the register value a multiboot2 compliant loader leaves in EAX
// before jumping to the kernel.
const Magic uint32 = 0x36d76289

// TagType identifies one boot information tag.
type TagType uint32

// Tag types defined by the multiboot2 specification.
const (
	TagEnd TagType = iota
	TagCommandLine
	TagBootLoaderName
	TagModule
	TagBasicMemInfo
	TagBIOSBootDevice
	TagMemoryMap
	TagVBE
	TagFramebuffer
	TagELFSections
	TagAPM
)

// MemoryType classifies a physical memory region reported by the loader.
type MemoryType uint32

// Memory region types from the multiboot2 memory map.
const (
	MemoryAvailable       MemoryType = 1
	MemoryReserved        MemoryType = 2
	MemoryACPIReclaimable MemoryType = 3
	MemoryNVS             MemoryType = 4
	MemoryBadRAM          MemoryType = 5
)

// String implements fmt.Stringer.
func (t MemoryType) String() string {
	switch t {
	case MemoryAvailable:
		return "available"
	case MemoryReserved:
		return "reserved"
	case MemoryACPIReclaimable:
		return "acpi-reclaimable"
	case MemoryNVS:
		return "nvs"
	case MemoryBadRAM:
		return "bad-ram"
	default:
		return fmt.Sprintf("type-%d", uint32(t))
	}
}

// MemoryRegion is one entry of the loader's physical memory map.
type MemoryRegion struct {
	Base   uint64
	Length uint64
	Type   MemoryType
}

// Module is one boot module loaded alongside the kernel image.
type Module struct {
	Start       uint32
	End         uint32
	CommandLine string
}

const (
	headerBytes = 8
	tagHeader   = 8
	minimumSize = headerBytes + tagHeader // header plus end tag
)

// TotalSize reads the total size field from the head of an information
// block. It needs only the first 8 bytes, which is all the boot path reads
// before control leaves the loader's structures.
func TotalSize(b []byte) (uint32, error) {
	if len(b) < headerBytes {
		return 0, fmt.Errorf("multiboot: truncated header: %d bytes", len(b))
	}
	return binary.LittleEndian.Uint32(b), nil
}

type rawTag struct {
	typ  TagType
	body []byte
}

// Info is a parsed boot information block. Accessors return data from the
// first tag of the requested type.
type Info struct {
	size uint32
	tags []rawTag
}

// Parse decodes an information block. The slice must cover at least the
// block's declared total size. Tag payload shapes for the types this package
// understands are validated here so the accessors cannot fail.
func Parse(b []byte) (*Info, error) {
	size, err := TotalSize(b)
	if err != nil {
		return nil, err
	}
	switch {
	case size < minimumSize:
		return nil, fmt.Errorf("multiboot: total size %d below minimum %d", size, minimumSize)
	case size%8 != 0:
		return nil, fmt.Errorf("multiboot: total size %d is not 8-byte aligned", size)
	case uint64(size) > uint64(len(b)):
		return nil, fmt.Errorf("multiboot: total size %d exceeds %d available bytes", size, len(b))
	}

	// Offsets are widened so a declared tag size near the top of the u32
	// range cannot wrap the bounds checks back into range.
	info := &Info{size: size}
	off := uint64(headerBytes)
	for {
		if off+tagHeader > uint64(size) {
			return nil, fmt.Errorf("multiboot: missing end tag")
		}
		typ := TagType(binary.LittleEndian.Uint32(b[off:]))
		tagSize := binary.LittleEndian.Uint32(b[off+4:])
		if tagSize < tagHeader {
			return nil, fmt.Errorf("multiboot: tag %d at offset %d has size %d", typ, off, tagSize)
		}
		if off+uint64(tagSize) > uint64(size) {
			return nil, fmt.Errorf("multiboot: tag %d at offset %d overruns the block", typ, off)
		}
		body := b[off+tagHeader : off+uint64(tagSize)]
		if err := checkTag(typ, body); err != nil {
			return nil, err
		}
		if typ == TagEnd {
			if tagSize != tagHeader {
				return nil, fmt.Errorf("multiboot: end tag has size %d, wanted %d", tagSize, tagHeader)
			}
			return info, nil
		}
		info.tags = append(info.tags, rawTag{typ: typ, body: body})

		// Tags are padded so the next one starts 8-byte aligned.
		off += (uint64(tagSize) + 7) &^ 7
	}
}

func checkTag(typ TagType, body []byte) error {
	switch typ {
	case TagModule:
		if len(body) < 8 {
			return fmt.Errorf("multiboot: module tag body has %d bytes, wanted at least 8", len(body))
		}
	case TagMemoryMap:
		if len(body) < 8 {
			return fmt.Errorf("multiboot: memory map tag body has %d bytes, wanted at least 8", len(body))
		}
		entrySize := binary.LittleEndian.Uint32(body)
		if entrySize < 24 {
			return fmt.Errorf("multiboot: memory map entry size %d, wanted at least 24", entrySize)
		}
		if (len(body)-8)%int(entrySize) != 0 {
			return fmt.Errorf("multiboot: memory map entries do not fill the tag")
		}
	}
	return nil
}

// TotalSize returns the block's declared total size.
func (i *Info) TotalSize() uint32 {
	return i.size
}

// Find returns the payload of the first tag of the given type.
func (i *Info) Find(typ TagType) ([]byte, bool) {
	for _, tag := range i.tags {
		if tag.typ == typ {
			return tag.body, true
		}
	}
	return nil, false
}

// cstring trims a NUL-terminated byte payload.
func cstring(b []byte) string {
	for n, ch := range b {
		if ch == 0 {
			return string(b[:n])
		}
	}
	return string(b)
}

// CommandLine returns the kernel command line, if the loader passed one.
func (i *Info) CommandLine() (string, bool) {
	body, ok := i.Find(TagCommandLine)
	if !ok {
		return "", false
	}
	return cstring(body), true
}

// BootLoaderName returns the loader's advertised name, if present.
func (i *Info) BootLoaderName() (string, bool) {
	body, ok := i.Find(TagBootLoaderName)
	if !ok {
		return "", false
	}
	return cstring(body), true
}

// Modules returns every boot module tag, in block order.
func (i *Info) Modules() []Module {
	var mods []Module
	for _, tag := range i.tags {
		if tag.typ != TagModule {
			continue
		}
		mods = append(mods, Module{
			Start:       binary.LittleEndian.Uint32(tag.body),
			End:         binary.LittleEndian.Uint32(tag.body[4:]),
			CommandLine: cstring(tag.body[8:]),
		})
	}
	return mods
}

// MemoryMap returns the loader's physical memory map, if present.
func (i *Info) MemoryMap() ([]MemoryRegion, bool) {
	body, ok := i.Find(TagMemoryMap)
	if !ok {
		return nil, false
	}
	entrySize := int(binary.LittleEndian.Uint32(body))
	var regions []MemoryRegion
	for off := 8; off+entrySize <= len(body); off += entrySize {
		entry := body[off:]
		regions = append(regions, MemoryRegion{
			Base:   binary.LittleEndian.Uint64(entry),
			Length: binary.LittleEndian.Uint64(entry[8:]),
			Type:   MemoryType(binary.LittleEndian.Uint32(entry[16:])),
		})
	}
	return regions, true
}
