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

package vga

import (
	"fmt"
	"strings"
	"testing"
)

func newTestBuffer(t *testing.T) *Buffer {
	t.Helper()
	b, err := NewBuffer(make([]byte, BufferBytes))
	if err != nil {
		t.Fatalf("NewBuffer got error %v, wanted nil", err)
	}
	return b
}

func TestEntry(t *testing.T) {
	e := MakeEntry('A', LightGreen, Blue)
	if got, want := e.Char(), byte('A'); got != want {
		t.Errorf("Char got %q, wanted %q", got, want)
	}
	if got, want := e.Foreground(), LightGreen; got != want {
		t.Errorf("Foreground got %d, wanted %d", got, want)
	}
	if got, want := e.Background(), Blue; got != want {
		t.Errorf("Background got %d, wanted %d", got, want)
	}
}

func TestBufferSize(t *testing.T) {
	for _, n := range []int{0, BufferBytes - 1, BufferBytes + 2} {
		if _, err := NewBuffer(make([]byte, n)); err == nil {
			t.Errorf("NewBuffer(%d bytes) got nil error, wanted failure", n)
		}
	}
}

func TestBufferCells(t *testing.T) {
	b := newTestBuffer(t)
	e := MakeEntry('x', Yellow, Black)
	b.Put(79, 24, e)
	if got := b.At(79, 24); got != e {
		t.Errorf("At(79, 24) got %#x, wanted %#x", got, e)
	}
	if got := b.At(0, 0); got != 0 {
		t.Errorf("At(0, 0) got %#x, wanted zero cell", got)
	}
}

func TestBufferBounds(t *testing.T) {
	b := newTestBuffer(t)
	for _, tc := range []struct {
		x, y int
	}{
		{-1, 0},
		{Width, 0},
		{0, -1},
		{0, Height},
	} {
		t.Run(fmt.Sprintf("%d,%d", tc.x, tc.y), func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Errorf("Put(%d, %d) did not panic", tc.x, tc.y)
				}
			}()
			b.Put(tc.x, tc.y, 0)
		})
	}
}

func TestConsoleWrite(t *testing.T) {
	b := newTestBuffer(t)
	c := NewConsole(b)
	c.WriteString("boot: ok\nnext")
	if got, want := b.Row(0), "boot: ok"; got != want {
		t.Errorf("Row(0) got %q, wanted %q", got, want)
	}
	if got, want := b.Row(1), "next"; got != want {
		t.Errorf("Row(1) got %q, wanted %q", got, want)
	}
	if got := b.At(0, 0).Foreground(); got != White {
		t.Errorf("Foreground got %d, wanted %d", got, White)
	}
}

func TestConsoleLineWrap(t *testing.T) {
	b := newTestBuffer(t)
	c := NewConsole(b)
	c.WriteString(strings.Repeat("a", Width) + "b")
	if got, want := b.Row(0), strings.Repeat("a", Width); got != want {
		t.Errorf("Row(0) got %q, wanted %q", got, want)
	}
	if got, want := b.Row(1), "b"; got != want {
		t.Errorf("Row(1) got %q, wanted %q", got, want)
	}
}

func TestConsoleBottomWrap(t *testing.T) {
	b := newTestBuffer(t)
	c := NewConsole(b)
	// Fill every row, then one more line: the cursor must come back to the
	// top and the reused row must be cleared first.
	for i := 0; i < Height; i++ {
		c.WriteString(fmt.Sprintf("row %d\n", i))
	}
	c.WriteString("wrapped")
	if got, want := b.Row(0), "wrapped"; got != want {
		t.Errorf("Row(0) got %q, wanted %q", got, want)
	}
	if got, want := b.Row(1), "row 1"; got != want {
		t.Errorf("Row(1) got %q, wanted %q", got, want)
	}
}

func TestConsoleDropsNonASCII(t *testing.T) {
	b := newTestBuffer(t)
	c := NewConsole(b)
	c.Write([]byte{'o', 0xff, 'k'})
	if got, want := b.Row(0), "ok"; got != want {
		t.Errorf("Row(0) got %q, wanted %q", got, want)
	}
}

func TestConsoleFprintf(t *testing.T) {
	b := newTestBuffer(t)
	c := NewConsole(b)
	c.SetColors(LightRed, Black)
	fmt.Fprintf(c, "panic at %#x", 0x1000)
	if got, want := b.Row(0), "panic at 0x1000"; got != want {
		t.Errorf("Row(0) got %q, wanted %q", got, want)
	}
	if got := b.At(0, 0).Foreground(); got != LightRed {
		t.Errorf("Foreground got %d, wanted %d", got, LightRed)
	}
}
