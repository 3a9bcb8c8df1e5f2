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

// Console is a cursor over a text buffer. Output advances left to right,
// top to bottom; reaching the bottom row wraps the cursor back to row zero
// rather than scrolling, and each new line is cleared before use.
//
// Console implements io.Writer so diagnostics can be formatted onto the
// surface directly.
type Console struct {
	buf  *Buffer
	x, y int
	fg   Color
	bg   Color
}

// NewConsole returns a console over buf, white on black, with the surface
// cleared and the cursor at the top left.
func NewConsole(buf *Buffer) *Console {
	c := &Console{buf: buf, fg: White, bg: Black}
	c.Clear()
	return c
}

// SetColors changes the attribute applied to subsequent output.
func (c *Console) SetColors(fg, bg Color) {
	c.fg = fg
	c.bg = bg
}

// Clear blanks the whole surface and homes the cursor.
func (c *Console) Clear() {
	c.buf.Fill(MakeEntry(0, c.fg, c.bg))
	c.x, c.y = 0, 0
}

func (c *Console) clearRow(y int) {
	blank := MakeEntry(0, c.fg, c.bg)
	for x := 0; x < Width; x++ {
		c.buf.Put(x, y, blank)
	}
}

func (c *Console) nextLine() {
	c.x = 0
	c.y++
	if c.y == Height {
		c.y = 0
	}
	c.clearRow(c.y)
}

// WriteByte emits one character at the cursor. Newlines advance to a fresh
// row; bytes outside the ASCII range are dropped.
func (c *Console) WriteByte(ch byte) error {
	switch {
	case ch == '\n':
		c.nextLine()
	case ch <= 0x7f:
		c.buf.Put(c.x, c.y, MakeEntry(ch, c.fg, c.bg))
		c.x++
		if c.x == Width {
			c.nextLine()
		}
	}
	return nil
}

// WriteString emits a string at the cursor.
func (c *Console) WriteString(s string) {
	for i := 0; i < len(s); i++ {
		c.WriteByte(s[i])
	}
}

// Write implements io.Writer.
func (c *Console) Write(p []byte) (int, error) {
	for _, ch := range p {
		c.WriteByte(ch)
	}
	return len(p), nil
}
