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


package encoding

// Instruction is a 16-bit word split into its addressing fields.
//
//	[ C C C C | X X X X | Y Y Y Y | D D D D ]
//	          [ Address (NNN)               ]
//	                    [ Byte (KK)         ]
type Instruction struct {
	Word     uint16
	Category uint8
	X        uint8
	Y        uint8
	D        uint8
	Address  uint16
	Byte     uint8
}

// Joins two consecutive memory bytes, most significant first
func Fetch(hi, lo byte) uint16 {
	return uint16(hi)<<8 | uint16(lo)
}

func Decode(word uint16) Instruction {
	return Instruction{
		Word:     word,
		Category: Nibble(word, 3),
		X:        Nibble(word, 2),
		Y:        Nibble(word, 1),
		D:        Nibble(word, 0),
		Address:  word & 0x0FFF,
		Byte:     uint8(word & 0x00FF),
	}
}

// Returns the nibble at position n, counting from the least significant
func Nibble(word uint16, n uint) uint8 {
	return uint8((word >> (n * 4)) & 0xF)
}

// Splits a byte into its hundreds, tens and ones digits
func Digits(value uint8) [3]uint8 {
	return [3]uint8{value / 100, (value / 10) % 10, value % 10}
}
