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

// Package vga drives the 80x25 character-cell text surface the boot path
// uses for diagnostics before paging is enabled.
//
// The surface is a flat array of 16-bit cells, each an ASCII byte plus an
// attribute byte (foreground and background color). Buffer wraps a byte
// window over that array: the identity-mapped frame on hardware, a slice of
// simulator RAM in hosted runs. The package is write-mostly; reads exist so
// tooling can snapshot the surface.
package vga

// Color is one of the 16 standard text-mode colors.
type Color uint8

// The standard color palette.
const (
	Black Color = iota
	Blue
	Green
	Cyan
	Red
	Magenta
	Brown
	LightGray
	DarkGray
	LightBlue
	LightGreen
	LightCyan
	LightRed
	LightMagenta
	Yellow
	White
)

// Surface geometry.
const (
	// Width is the number of character columns.
	Width = 80

	// Height is the number of character rows.
	Height = 25

	// CellBytes is the size of a single character cell.
	CellBytes = 2

	// BufferBytes is the size of the whole text buffer.
	BufferBytes = Width * Height * CellBytes
)

// Entry is a single character cell: character in the low byte, foreground
// color in bits 8..11, background color in bits 12..15.
type Entry uint16

// MakeEntry assembles a character cell.
func MakeEntry(ch byte, fg, bg Color) Entry {
	return Entry(ch) | Entry(fg&0xf)<<8 | Entry(bg&0xf)<<12
}

// Char returns the cell's character.
func (e Entry) Char() byte {
	return byte(e)
}

// Foreground returns the cell's foreground color.
func (e Entry) Foreground() Color {
	return Color(e>>8) & 0xf
}

// Background returns the cell's background color.
func (e Entry) Background() Color {
	return Color(e>>12) & 0xf
}

// Buffer provides cell-level access to a text surface held in a byte
// window. Cells are stored little endian, matching the hardware layout.
type Buffer struct {
	cells []byte
}

// NewBuffer wraps a byte window as a text buffer. The window must be exactly
// BufferBytes long.
func NewBuffer(window []byte) (*Buffer, error) {
	if len(window) != BufferBytes {
		return nil, errBufferSize(len(window))
	}
	return &Buffer{cells: window}, nil
}

type errBufferSize int

func (e errBufferSize) Error() string {
	return "vga: window is not an 80x25 text buffer"
}

func offset(x, y int) int {
	if x < 0 || x >= Width || y < 0 || y >= Height {
		panic("vga: cell outside the text surface")
	}
	return (y*Width + x) * CellBytes
}

// Put writes the cell at column x, row y.
func (b *Buffer) Put(x, y int, e Entry) {
	off := offset(x, y)
	b.cells[off] = byte(e)
	b.cells[off+1] = byte(e >> 8)
}

// At reads the cell at column x, row y.
func (b *Buffer) At(x, y int) Entry {
	off := offset(x, y)
	return Entry(b.cells[off]) | Entry(b.cells[off+1])<<8
}

// Fill sets every cell to the same value.
func (b *Buffer) Fill(e Entry) {
	for y := 0; y < Height; y++ {
		for x := 0; x < Width; x++ {
			b.Put(x, y, e)
		}
	}
}

// Row returns the characters of one row as a string, with unset cells
// rendered as spaces and trailing blanks trimmed.
func (b *Buffer) Row(y int) string {
	var row [Width]byte
	end := 0
	for x := 0; x < Width; x++ {
		ch := b.At(x, y).Char()
		if ch == 0 {
			ch = ' '
		}
		row[x] = ch
		if ch != ' ' {
			end = x + 1
		}
	}
	return string(row[:end])
}
