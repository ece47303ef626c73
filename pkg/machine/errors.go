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
	"errors"
	"fmt"
)

var (
	ErrHalted             = errors.New("halted")
	ErrStackOverflow      = errors.New("stack overflow")
	ErrStackUnderflow     = errors.New("stack underflow")
	ErrUnknownInstruction = errors.New("unknown instruction")
	ErrAddressOutOfRange  = errors.New("address out of range")
	ErrProgramTooLarge    = errors.New("program too large")
)

// Fault is a fatal condition raised by the instruction at Program.
type Fault struct {
	Program uint16
	Word    uint16
	Err     error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("fault at %#04x (%04X): %v", f.Program, f.Word, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}
