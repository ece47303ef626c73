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


package machine

import (
	"log"
	"time"
)

// Display is a persistent 64x32 monochrome pixel grid. Present publishes the
// current grid to whatever is showing it.
type Display interface {
	SetPixel(x, y int, on bool)
	Pixel(x, y int) bool
	Clear()
	Present()
}

// Keypad reports whether one of the 16 logical keys is currently held.
type Keypad interface {
	Held(key uint8) bool
}

type DeviceHandler struct {
	Display Display
	Keypad  Keypad
}

type Mode uint8

const (
	// Unknown instructions abort execution with a Fault
	ModeStrict Mode = iota
	// Unknown instructions are logged and skipped
	ModeLenient
)

type MachineState struct {
	Registers    [REGISTER_COUNT]uint8
	Index        uint16
	Program      uint16
	Stack        [STACK_DEPTH]uint16
	StackPointer uint8
	Memory       [MEMSPACE_END]uint8

	// Set while FX0A is blocked waiting for a key press
	Waiting      bool
	WaitRegister uint8
}

type Machine struct {
	Devices *DeviceHandler
	State   MachineState
	Timer   *DelayTimer
	Mode    Mode

	// Delay between instructions in Run. Zero disables pacing.
	Pace time.Duration

	// Source of CXKK random bytes
	Random func() uint8

	Logger *log.Logger

	reported map[uint16]bool
}
