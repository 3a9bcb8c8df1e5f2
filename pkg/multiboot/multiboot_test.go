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

import (
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEmptyBlock(t *testing.T) {
	b := NewWriter().Bytes()
	want := []byte{
		16, 0, 0, 0, // total size
		0, 0, 0, 0, // reserved
		0, 0, 0, 0, // end tag type
		8, 0, 0, 0, // end tag size
	}
	if diff := cmp.Diff(want, b); diff != "" {
		t.Errorf("empty block mismatch (-want +got):\n%s", diff)
	}
	info, err := Parse(b)
	if err != nil {
		t.Fatalf("Parse got error %v, wanted nil", err)
	}
	if got, want := info.TotalSize(), uint32(16); got != want {
		t.Errorf("TotalSize got %d, wanted %d", got, want)
	}
}

func TestTagAlignment(t *testing.T) {
	// A 3-byte command line ("hi" plus NUL) makes an 11-byte tag; the end
	// tag must still land 8-byte aligned.
	b := NewWriter().CommandLine("hi").Bytes()
	if got := len(b) % 8; got != 0 {
		t.Fatalf("block length %d is not 8-byte aligned", len(b))
	}
	if got, want := binary.LittleEndian.Uint32(b[8+4:]), uint32(11); got != want {
		t.Errorf("command line tag size got %d, wanted %d", got, want)
	}
	info, err := Parse(b)
	if err != nil {
		t.Fatalf("Parse got error %v, wanted nil", err)
	}
	cmdline, ok := info.CommandLine()
	if !ok || cmdline != "hi" {
		t.Errorf("CommandLine got %q, %v, wanted %q, true", cmdline, ok, "hi")
	}
}

func TestRoundTrip(t *testing.T) {
	mods := []Module{
		{Start: 0x500000, End: 0x540000, CommandLine: "initrd"},
		{Start: 0x540000, End: 0x541000, CommandLine: ""},
	}
	regions := []MemoryRegion{
		{Base: 0, Length: 0x9fc00, Type: MemoryAvailable},
		{Base: 0x9fc00, Length: 0x400, Type: MemoryReserved},
		{Base: 0x100000, Length: 0xff00000, Type: MemoryAvailable},
	}
	b := NewWriter().
		BootLoaderName("GRUB 2.06").
		CommandLine("console=vga loglevel=7").
		Module(mods[0]).
		Module(mods[1]).
		MemoryMap(regions).
		Bytes()

	info, err := Parse(b)
	if err != nil {
		t.Fatalf("Parse got error %v, wanted nil", err)
	}
	if got, want := info.TotalSize(), uint32(len(b)); got != want {
		t.Errorf("TotalSize got %d, wanted %d", got, want)
	}
	if name, ok := info.BootLoaderName(); !ok || name != "GRUB 2.06" {
		t.Errorf("BootLoaderName got %q, %v", name, ok)
	}
	if cmdline, ok := info.CommandLine(); !ok || cmdline != "console=vga loglevel=7" {
		t.Errorf("CommandLine got %q, %v", cmdline, ok)
	}
	if diff := cmp.Diff(mods, info.Modules()); diff != "" {
		t.Errorf("Modules mismatch (-want +got):\n%s", diff)
	}
	got, ok := info.MemoryMap()
	if !ok {
		t.Fatalf("MemoryMap got absent, wanted present")
	}
	if diff := cmp.Diff(regions, got); diff != "" {
		t.Errorf("MemoryMap mismatch (-want +got):\n%s", diff)
	}
}

func TestParseTrailingBytesIgnored(t *testing.T) {
	// Blocks are read out of a larger physical window; bytes past the
	// declared size are not part of the block.
	b := NewWriter().CommandLine("x").Bytes()
	b = append(b, 0xde, 0xad, 0xbe, 0xef)
	if _, err := Parse(b); err != nil {
		t.Errorf("Parse got error %v, wanted nil", err)
	}
}

func TestParseErrors(t *testing.T) {
	good := NewWriter().CommandLine("x").Bytes()

	truncated := append([]byte(nil), good...)
	truncated = truncated[:len(truncated)-8] // drop the end tag

	oversized := append([]byte(nil), good...)
	binary.LittleEndian.PutUint32(oversized, uint32(len(oversized))+64)

	unaligned := append([]byte(nil), good...)
	binary.LittleEndian.PutUint32(unaligned, uint32(len(unaligned))-4)

	shortTag := append([]byte(nil), good...)
	binary.LittleEndian.PutUint32(shortTag[8+4:], 4) // tag size below header size

	// A tag size near the top of the u32 range must fail the bounds check,
	// not wrap offset+size back under the block size.
	wrappingTag := append([]byte(nil), good...)
	binary.LittleEndian.PutUint32(wrappingTag[8+4:], 0xfffffff9)

	shortModule := NewWriter().Tag(TagModule, []byte{1, 2, 3}).Bytes()

	badEntrySize := NewWriter().Tag(TagMemoryMap, func() []byte {
		payload := make([]byte, 8+24)
		binary.LittleEndian.PutUint32(payload, 16)
		return payload
	}()).Bytes()

	raggedMap := NewWriter().Tag(TagMemoryMap, func() []byte {
		payload := make([]byte, 8+30)
		binary.LittleEndian.PutUint32(payload, 24)
		return payload
	}()).Bytes()

	for _, tc := range []struct {
		name string
		b    []byte
	}{
		{"empty", nil},
		{"header-only", make([]byte, 8)},
		{"truncated", truncated},
		{"oversized", oversized},
		{"unaligned", unaligned},
		{"short-tag", shortTag},
		{"wrapping-tag", wrappingTag},
		{"short-module", shortModule},
		{"bad-entry-size", badEntrySize},
		{"ragged-map", raggedMap},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse(tc.b); err == nil {
				t.Errorf("Parse got nil error, wanted failure")
			}
		})
	}
}

func TestFindMiss(t *testing.T) {
	info, err := Parse(NewWriter().Bytes())
	if err != nil {
		t.Fatalf("Parse got error %v, wanted nil", err)
	}
	if _, ok := info.CommandLine(); ok {
		t.Errorf("CommandLine got present, wanted absent")
	}
	if _, ok := info.MemoryMap(); ok {
		t.Errorf("MemoryMap got present, wanted absent")
	}
	if mods := info.Modules(); mods != nil {
		t.Errorf("Modules got %v, wanted none", mods)
	}
}

func TestTotalSize(t *testing.T) {
	if _, err := TotalSize([]byte{1, 2}); err == nil {
		t.Errorf("TotalSize got nil error, wanted failure")
	}
	got, err := TotalSize([]byte{0x20, 0, 0, 0, 0, 0, 0, 0})
	if err != nil || got != 0x20 {
		t.Errorf("TotalSize got %d, %v, wanted 32, nil", got, err)
	}
}
