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

package multiboot

import "encoding/binary"

// Writer assembles a boot information block the way a compliant loader
// would: header first, 8-byte aligned tags, end tag last. It exists for the
// simulator and tests; real blocks come from the loader.
type Writer struct {
	buf []byte
}

// NewWriter returns a writer holding an empty block.
func NewWriter() *Writer {
	return &Writer{buf: make([]byte, headerBytes)}
}

// Tag appends one tag with the given payload.
func (w *Writer) Tag(typ TagType, payload []byte) *Writer {
	var hdr [tagHeader]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(typ))
	binary.LittleEndian.PutUint32(hdr[4:], uint32(tagHeader+len(payload)))
	w.buf = append(w.buf, hdr[:]...)
	w.buf = append(w.buf, payload...)
	for len(w.buf)%8 != 0 {
		w.buf = append(w.buf, 0)
	}
	return w
}

// CommandLine appends a kernel command line tag.
func (w *Writer) CommandLine(s string) *Writer {
	return w.Tag(TagCommandLine, append([]byte(s), 0))
}

// BootLoaderName appends a loader name tag.
func (w *Writer) BootLoaderName(s string) *Writer {
	return w.Tag(TagBootLoaderName, append([]byte(s), 0))
}

// Module appends a boot module tag.
func (w *Writer) Module(m Module) *Writer {
	payload := make([]byte, 8, 8+len(m.CommandLine)+1)
	binary.LittleEndian.PutUint32(payload, m.Start)
	binary.LittleEndian.PutUint32(payload[4:], m.End)
	payload = append(payload, m.CommandLine...)
	payload = append(payload, 0)
	return w.Tag(TagModule, payload)
}

// MemoryMap appends a memory map tag with 24-byte entries.
func (w *Writer) MemoryMap(regions []MemoryRegion) *Writer {
	payload := make([]byte, 8+24*len(regions))
	binary.LittleEndian.PutUint32(payload, 24) // entry size
	binary.LittleEndian.PutUint32(payload[4:], 0)
	for n, r := range regions {
		entry := payload[8+24*n:]
		binary.LittleEndian.PutUint64(entry, r.Base)
		binary.LittleEndian.PutUint64(entry[8:], r.Length)
		binary.LittleEndian.PutUint32(entry[16:], uint32(r.Type))
	}
	return w.Tag(TagMemoryMap, payload)
}

// Bytes terminates the block and returns its encoding. The writer may keep
// accumulating tags afterwards; the end tag is not retained.
func (w *Writer) Bytes() []byte {
	out := make([]byte, len(w.buf), len(w.buf)+tagHeader)
	copy(out, w.buf)
	var end [tagHeader]byte
	binary.LittleEndian.PutUint32(end[4:], tagHeader)
	out = append(out, end[:]...)
	binary.LittleEndian.PutUint32(out, uint32(len(out)))
	return out
}
