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
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/bootloom/bootloom/pkg/bootarch"
)

func TestDefaultValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() got %v, wanted nil", err)
	}
}

func TestValidate(t *testing.T) {
	for _, test := range []struct {
		name   string
		mutate func(*Layout)
		errs   string
	}{
		{
			name:   "selfSlotZero",
			mutate: func(l *Layout) { l.SelfSlot = 0 },
			errs:   "slot 0",
		},
		{
			name:   "slotCollision",
			mutate: func(l *Layout) { l.DirectSlot = 510 },
			errs:   "distinct",
		},
		{
			name:   "kernelBaseWrongSlot",
			mutate: func(l *Layout) { l.KernelSlot = 300 },
			errs:   "kernel_slot",
		},
		{
			name:   "kernelBaseUnaligned",
			mutate: func(l *Layout) { l.KernelBase += bootarch.HugePageSize },
			errs:   "1GiB aligned",
		},
		{
			name:   "directBaseWrongSlot",
			mutate: func(l *Layout) { l.DirectBase = 0xffff808000000000 },
			errs:   "root slot",
		},
		{
			name:   "directBaseNonCanonical",
			mutate: func(l *Layout) { l.DirectBase = 0x0000900000000000 },
			errs:   "not canonical",
		},
		{
			name:   "tableBaseUnaligned",
			mutate: func(l *Layout) { l.TableBase += 0x10 },
			errs:   "page aligned",
		},
		{
			name:   "gdtUnaligned",
			mutate: func(l *Layout) { l.GDTBase += 4 },
			errs:   "8-byte aligned",
		},
		{
			name:   "stackSizeZero",
			mutate: func(l *Layout) { l.StackSize = 0 },
			errs:   "stack_size",
		},
		{
			name:   "emptyKernel",
			mutate: func(l *Layout) { l.KernelEnd = l.KernelStart },
			errs:   "empty",
		},
		{
			name:   "kernelBeyondWindow",
			mutate: func(l *Layout) { l.KernelEnd = bootarch.SuperPageSize + bootarch.PageSize },
			errs:   "1GiB boot window",
		},
		{
			name: "entryOutsideImage",
			mutate: func(l *Layout) {
				l.KernelEntry = l.HighVirt(l.KernelEnd)
			},
			errs: "outside the mapped image",
		},
		{
			name: "overlappingRegions",
			mutate: func(l *Layout) {
				l.StackBase = l.TableBase
			},
			errs: "overlaps",
		},
		{
			name: "workspaceAboveLowMemory",
			mutate: func(l *Layout) {
				l.TableBase = 0x500000
			},
			errs: "above 1MiB",
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			l := Default()
			test.mutate(l)
			err := l.Validate()
			if err == nil {
				t.Fatalf("Validate() got nil, wanted error containing %q", test.errs)
			}
			if !strings.Contains(err.Error(), test.errs) {
				t.Errorf("Validate() got %q, wanted error containing %q", err, test.errs)
			}
		})
	}
}

func TestTranslation(t *testing.T) {
	l := Default()
	if got := l.HighVirt(0x100000); got != 0xffffffff80100000 {
		t.Errorf("HighVirt(0x100000) got %#x, wanted 0xffffffff80100000", uint64(got))
	}
	if got := l.DirectVirt(0x1234); got != 0xffff800000001234 {
		t.Errorf("DirectVirt(0x1234) got %#x, wanted 0xffff800000001234", uint64(got))
	}
	if got := l.StackTop(); got != 0x7a000 {
		t.Errorf("StackTop() got %#x, wanted 0x7a000", uint64(got))
	}
	if got := l.RecursiveBase(); got != 0xffffff0000000000 {
		t.Errorf("RecursiveBase() got %#x, wanted 0xffffff0000000000", uint64(got))
	}
}

func TestRecursiveTable(t *testing.T) {
	l := Default()
	// With the recursive entry at slot 510 these are the long-established
	// addresses of the tables themselves.
	for _, test := range []struct {
		name string
		walk []int
		want bootarch.VirtAddr
	}{
		{"root", nil, 0xffffff7fbfdfe000},
		{"pdpForSlot0", []int{0}, 0xffffff7fbfc00000},
		{"pdpForSlot511", []int{511}, 0xffffff7fbfdff000},
		{"pdForSlot0Slot0", []int{0, 0}, 0xffffff7f80000000},
		{"ptDeep", []int{1, 2, 3}, 0xffffff0040403000},
	} {
		t.Run(test.name, func(t *testing.T) {
			if got := l.RecursiveTable(test.walk...); got != test.want {
				t.Errorf("RecursiveTable(%v) got %#x, wanted %#x", test.walk, uint64(got), uint64(test.want))
			}
		})
	}
	defer func() {
		if recover() == nil {
			t.Errorf("RecursiveTable with four indexes should panic")
		}
	}()
	l.RecursiveTable(1, 2, 3, 4)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "layout.toml")
	content := `
table_base = "0x60000"
gdt_base = "0x65000"
stack_base = "0x66000"
kernel_end = "0x800000"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing layout file: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load got error %v, wanted nil", err)
	}
	want := Default()
	want.TableBase = 0x60000
	want.GDTBase = 0x65000
	want.StackBase = 0x66000
	want.KernelEnd = 0x800000
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Load returned unexpected layout (-want +got):\n%s", diff)
	}
}

func TestLoadUnknownKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "layout.toml")
	if err := os.WriteFile(path, []byte(`frame_allocator = "buddy"`), 0644); err != nil {
		t.Fatalf("writing layout file: %v", err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "unknown keys") {
		t.Errorf("Load got %v, wanted unknown key error", err)
	}
}

func TestLoadInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "layout.toml")
	if err := os.WriteFile(path, []byte(`self_slot = 256`), 0644); err != nil {
		t.Fatalf("writing layout file: %v", err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "distinct") {
		t.Errorf("Load got %v, wanted slot collision error", err)
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := Default()
	want.KernelEnd = 0x40000000 // exactly the window end
	if err := want.Encode(&buf); err != nil {
		t.Fatalf("Encode got error %v, wanted nil", err)
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "layout.toml")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("writing layout file: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load got error %v, wanted nil", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Encode/Load round trip mismatch (-want +got):\n%s", diff)
	}
}
