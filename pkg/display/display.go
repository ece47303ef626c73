// Copyright (C) 2021  Antonio Lassandro

// This program is free software: you can redistribute it and/or modify it
// under the terms of the GNU General Public License as published by the Free
// Software Foundation, either version 3 of the License, or (at your option)
// any later version.

// This program is distributed in the hope that it will be useful, but WITHOUT
// ANY WARRANTY; without even the implied warranty of MERCHANTABILITY or
// FITNESS FOR A PARTICULAR PURPOSE.  See the GNU General Public License for
// more details.

// You should have received a copy of the GNU General Public License along
// with this program.  If not, see <http://www.gnu.org/licenses/>.


// Package display holds the 64x32 monochrome framebuffer the machine draws
// into. The machine mutates a back buffer; Present copies it to the front
// buffer that frontends read from their own goroutines.
package display

import (
	"sync"

	"github.com/lassandro/goch8/pkg/machine"
)

const (
	Width  = machine.DISPLAY_WIDTH
	Height = machine.DISPLAY_HEIGHT
)

type Frame [Height][Width]bool

type Framebuffer struct {
	// Only touched by the machine goroutine
	back Frame

	mutex  sync.RWMutex
	front  Frame
	frames uint64
}

var _ machine.Display = (*Framebuffer)(nil)

func New() *Framebuffer {
	return &Framebuffer{}
}

func inBounds(x, y int) bool {
	return x >= 0 && x < Width && y >= 0 && y < Height
}

func (fb *Framebuffer) SetPixel(x, y int, on bool) {
	if inBounds(x, y) {
		fb.back[y][x] = on
	}
}

func (fb *Framebuffer) Pixel(x, y int) bool {
	return inBounds(x, y) && fb.back[y][x]
}

func (fb *Framebuffer) Clear() {
	fb.back = Frame{}
}

func (fb *Framebuffer) Present() {
	fb.mutex.Lock()
	fb.front = fb.back
	fb.frames++
	fb.mutex.Unlock()
}

// Snapshot returns the last presented frame and how many frames have been
// presented so far.
func (fb *Framebuffer) Snapshot() (Frame, uint64) {
	fb.mutex.RLock()
	defer fb.mutex.RUnlock()

	return fb.front, fb.frames
}

// RGBA writes the frame as 8-bit RGBA pixels into dst, which must hold
// Width*Height*4 bytes. fg and bg are packed as 0xRRGGBB.
func (f *Frame) RGBA(dst []byte, fg, bg uint32) {
	for y := 0; y < Height; y++ {
		for x := 0; x < Width; x++ {
			c := bg
			if f[y][x] {
				c = fg
			}

			i := (y*Width + x) * 4
			dst[i] = byte(c >> 16)
			dst[i+1] = byte(c >> 8)
			dst[i+2] = byte(c)
			dst[i+3] = 0xFF
		}
	}
}

// Lit returns the number of pixels that are on.
func (f *Frame) Lit() int {
	count := 0

	for y := range f {
		for x := range f[y] {
			if f[y][x] {
				count++
			}
		}
	}

	return count
}
