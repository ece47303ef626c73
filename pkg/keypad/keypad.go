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


package keypad

import (
	"sync/atomic"
	"unicode"

	"github.com/lassandro/goch8/pkg/machine"
)

// Keypad is the state of the 16 logical keys, one bit per key. Frontends
// write it from their input goroutine while the machine reads it.
type Keypad struct {
	state atomic.Uint32
}

var _ machine.Keypad = (*Keypad)(nil)

func (kp *Keypad) Held(key uint8) bool {
	return kp.state.Load()&(1<<(key&0xF)) != 0
}

func (kp *Keypad) Press(key uint8) {
	kp.state.Or(1 << (key & 0xF))
}

func (kp *Keypad) Release(key uint8) {
	kp.state.And(^(uint32(1) << (key & 0xF)))
}

// Set replaces the whole keypad state with mask, bit n being key n.
func (kp *Keypad) Set(mask uint16) {
	kp.state.Store(uint32(mask))
}

func (kp *Keypad) Mask() uint16 {
	return uint16(kp.state.Load())
}

// Layout maps host characters to logical keys.
type Layout map[rune]uint8

// The conventional 4x4 mapping onto the left side of a QWERTY keyboard:
//
//	1 2 3 C    1 2 3 4
//	4 5 6 D    Q W E R
//	7 8 9 E    A S D F
//	A 0 B F    Z X C V
var QWERTY = Layout{
	'1': 0x1, '2': 0x2, '3': 0x3, '4': 0xC,
	'q': 0x4, 'w': 0x5, 'e': 0x6, 'r': 0xD,
	'a': 0x7, 's': 0x8, 'd': 0x9, 'f': 0xE,
	'z': 0xA, 'x': 0x0, 'c': 0xB, 'v': 0xF,
}

// Lookup resolves a host character, ignoring case.
func (l Layout) Lookup(r rune) (uint8, bool) {
	key, ok := l[unicode.ToLower(r)]
	return key, ok
}
