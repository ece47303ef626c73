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
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"time"

	"github.com/lassandro/goch8/pkg/encoding"
)

func (mc *MachineState) Reset() {
	*mc = MachineState{}

	copy(mc.Memory[MEMSPACE_FONT:], Font[:])
	mc.Program = MEMSPACE_PROGRAM
}

func (mc *Machine) LoadBin(reader io.Reader) error {
	mc.State.Reset()

	limit := int64(MEMSPACE_END - MEMSPACE_PROGRAM)
	program, err := io.ReadAll(io.LimitReader(reader, limit+1))

	if err != nil {
		return err
	} else if int64(len(program)) > limit {
		return fmt.Errorf("%w: limit is %d bytes", ErrProgramTooLarge, limit)
	}

	copy(mc.State.Memory[MEMSPACE_PROGRAM:], program)

	return nil
}

// Resolves base+offset to a memory address, rejecting anything past the end
// of memory.
func address(base uint16, offset uint16) (uint16, error) {
	addr := uint32(base) + uint32(offset)

	if addr >= uint32(MEMSPACE_END) {
		return 0, ErrAddressOutOfRange
	}

	return uint16(addr), nil
}

func (mc *Machine) push(value uint16) error {
	if mc.State.StackPointer >= STACK_DEPTH {
		return ErrStackOverflow
	}

	mc.State.Stack[mc.State.StackPointer] = value
	mc.State.StackPointer++

	return nil
}

func (mc *Machine) pop() (uint16, error) {
	if mc.State.StackPointer == 0 {
		return 0, ErrStackUnderflow
	}

	mc.State.StackPointer--

	return mc.State.Stack[mc.State.StackPointer], nil
}

func (mc *Machine) setFlag(set bool) {
	if set {
		mc.State.Registers[REGISTER_FLAG] = 1
	} else {
		mc.State.Registers[REGISTER_FLAG] = 0
	}
}

func (mc *Machine) display() Display {
	if mc.Devices == nil {
		return nil
	}

	return mc.Devices.Display
}

func (mc *Machine) held(key uint8) bool {
	if mc.Devices == nil || mc.Devices.Keypad == nil {
		return false
	}

	return mc.Devices.Keypad.Held(key & 0xF)
}

// Returns the lowest numbered key currently held
func (mc *Machine) anyKey() (uint8, bool) {
	for key := uint8(0); key < KEY_COUNT; key++ {
		if mc.held(key) {
			return key, true
		}
	}

	return 0, false
}

func (mc *Machine) random() uint8 {
	if mc.Random != nil {
		return mc.Random()
	}

	return uint8(rand.UintN(256))
}

// Completes a pending FX0A once a key is observed. The program counter stays on
// the FX0A word until then.
func (mc *Machine) awaitKey() {
	key, ok := mc.anyKey()

	if !ok {
		return
	}

	mc.State.Registers[mc.State.WaitRegister] = key
	mc.State.Waiting = false
	mc.State.Program += INSTRUCTION_W
}

func (mc *Machine) unknown(at uint16, inst encoding.Instruction) error {
	if mc.Mode == ModeStrict {
		return ErrUnknownInstruction
	}

	if mc.Logger != nil && !mc.reported[at] {
		if mc.reported == nil {
			mc.reported = make(map[uint16]bool)
		}

		mc.reported[at] = true
		mc.Logger.Printf("skipping unknown instruction %04X at %#04x", inst.Word, at)
	}

	return nil
}

func (mc *Machine) draw(inst encoding.Instruction) error {
	rows := uint16(inst.D)

	if rows > 0 {
		if _, err := address(mc.State.Index, rows-1); err != nil {
			return err
		}
	}

	display := mc.display()
	originX := int(mc.State.Registers[inst.X]) % DISPLAY_WIDTH
	originY := int(mc.State.Registers[inst.Y]) % DISPLAY_HEIGHT
	collision := false

	for row := uint16(0); row < rows && display != nil; row++ {
		y := originY + int(row)

		if y >= DISPLAY_HEIGHT {
			break
		}

		sprite := mc.State.Memory[mc.State.Index+row]

		for bit := 0; bit < 8; bit++ {
			x := originX + bit

			if x >= DISPLAY_WIDTH {
				break
			}

			if sprite&(0x80>>bit) == 0 {
				continue
			}

			if display.Pixel(x, y) {
				display.SetPixel(x, y, false)
				collision = true
			} else {
				display.SetPixel(x, y, true)
			}
		}
	}

	mc.setFlag(collision)

	if display != nil {
		display.Present()
	}

	return nil
}

// Step executes a single instruction. It returns ErrHalted after the halt
// instruction and a *Fault for any fatal condition.
func (mc *Machine) Step() error {
	if mc.State.Waiting {
		mc.awaitKey()
		return nil
	}

	at := mc.State.Program

	if _, err := address(at, 1); err != nil {
		return &Fault{Program: at, Err: err}
	}

	word := encoding.Fetch(mc.State.Memory[at], mc.State.Memory[at+1])
	inst := encoding.Decode(word)

	mc.State.Program += INSTRUCTION_W

	if err := mc.execute(at, inst); err != nil {
		if errors.Is(err, ErrHalted) {
			return err
		}

		return &Fault{Program: at, Word: word, Err: err}
	}

	return nil
}

// Run steps the machine until it halts, faults, or ctx is cancelled. Halting
// and cancellation both return nil.
func (mc *Machine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := mc.Step(); errors.Is(err, ErrHalted) {
			return nil
		} else if err != nil {
			return err
		}

		if mc.Pace > 0 {
			time.Sleep(mc.Pace)
		}
	}
}

func (mc *Machine) execute(at uint16, inst encoding.Instruction) error {
	reg := &mc.State.Registers
	x, y := inst.X, inst.Y

	switch inst.Category {
	// HALT |0000    |0000    |0000    |0000    | Halt
	// CLS  |0000    |0000    |1110    |0000    | Clear display
	// RET  |0000    |0000    |1110    |1110    | Return from subroutine
	// ---- [ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ ]
	case OP_SYS:
		switch inst.Word {
		case 0x0000:
			return ErrHalted

		case 0x00E0:
			if display := mc.display(); display != nil {
				display.Clear()
				display.Present()
			}

		case 0x00EE:
			addr, err := mc.pop()

			if err != nil {
				return err
			}

			mc.State.Program = addr

		default:
			return mc.unknown(at, inst)
		}

	// JP   |0001    |NNN                       | Jump
	// ---- [ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ ]
	case OP_JP:
		mc.State.Program = inst.Address

	// CALL |0010    |NNN                       | Call subroutine
	// ---- [ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ ]
	case OP_CALL:
		if err := mc.push(mc.State.Program); err != nil {
			return err
		}

		mc.State.Program = inst.Address

	// SE   |0011    |X       |KK               | Skip if VX == KK
	// ---- [ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ ]
	case OP_SE:
		if reg[x] == inst.Byte {
			mc.State.Program += INSTRUCTION_W
		}

	// SNE  |0100    |X       |KK               | Skip if VX != KK
	// ---- [ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ ]
	case OP_SNE:
		if reg[x] != inst.Byte {
			mc.State.Program += INSTRUCTION_W
		}

	// SE   |0101    |X       |Y       |0000    | Skip if VX == VY
	// ---- [ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ ]
	case OP_SER:
		if inst.D != 0 {
			return mc.unknown(at, inst)
		}

		if reg[x] == reg[y] {
			mc.State.Program += INSTRUCTION_W
		}

	// LD   |0110    |X       |KK               | VX = KK
	// ---- [ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ ]
	case OP_LD:
		reg[x] = inst.Byte

	// ADD  |0111    |X       |KK               | VX += KK, VF unaffected
	// ---- [ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ ]
	case OP_ADD:
		reg[x] += inst.Byte

	// LD   |1000    |X       |Y       |0000    | VX = VY
	// OR   |1000    |X       |Y       |0001    | VX |= VY
	// AND  |1000    |X       |Y       |0010    | VX &= VY
	// XOR  |1000    |X       |Y       |0011    | VX ^= VY
	// ADD  |1000    |X       |Y       |0100    | VX += VY, VF = carry
	// SUB  |1000    |X       |Y       |0101    | VX -= VY, VF = !borrow
	// SHR  |1000    |X       |Y       |0110    | VX >>= 1, VF = lsb
	// SUBN |1000    |X       |Y       |0111    | VX = VY - VX, VF = !borrow
	// SHL  |1000    |X       |Y       |1110    | VX <<= 1, VF = msb
	// ---- [ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ ]
	case OP_ALU:
		a, b := reg[x], reg[y]

		switch inst.D {
		case 0x0:
			reg[x] = b
		case 0x1:
			reg[x] = a | b
		case 0x2:
			reg[x] = a & b
		case 0x3:
			reg[x] = a ^ b
		case 0x4:
			reg[x] = a + b
			mc.setFlag(uint16(a)+uint16(b) > 0xFF)
		case 0x5:
			reg[x] = a - b
			mc.setFlag(a >= b)
		case 0x6:
			reg[x] = a >> 1
			mc.setFlag(a&0x01 == 0x01)
		case 0x7:
			reg[x] = b - a
			mc.setFlag(b >= a)
		case 0xE:
			reg[x] = a << 1
			mc.setFlag(a&0x80 == 0x80)
		default:
			return mc.unknown(at, inst)
		}

	// SNE  |1001    |X       |Y       |0000    | Skip if VX != VY
	// ---- [ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ ]
	case OP_SNER:
		if inst.D != 0 {
			return mc.unknown(at, inst)
		}

		if reg[x] != reg[y] {
			mc.State.Program += INSTRUCTION_W
		}

	// LD   |1010    |NNN                       | I = NNN
	// ---- [ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ ]
	case OP_LDI:
		mc.State.Index = inst.Address

	// JP   |1011    |NNN                       | Jump to NNN + V0
	// ---- [ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ ]
	case OP_JPV0:
		mc.State.Program = inst.Address + uint16(reg[0])

	// RND  |1100    |X       |KK               | VX = random & KK
	// ---- [ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ ]
	case OP_RND:
		reg[x] = mc.random() & inst.Byte

	// DRW  |1101    |X       |Y       |N       | Draw N rows at (VX, VY)
	// ---- [ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ ]
	case OP_DRW:
		return mc.draw(inst)

	// SKP  |1110    |X       |1001    |1110    | Skip if key VX held
	// SKNP |1110    |X       |1010    |0001    | Skip if key VX not held
	// ---- [ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ ]
	case OP_KEY:
		switch inst.Byte {
		case 0x9E:
			if mc.held(reg[x]) {
				mc.State.Program += INSTRUCTION_W
			}
		case 0xA1:
			if !mc.held(reg[x]) {
				mc.State.Program += INSTRUCTION_W
			}
		default:
			return mc.unknown(at, inst)
		}

	// LD   |1111    |X       |0000    |0111    | VX = delay timer
	// LD   |1111    |X       |0000    |1010    | VX = wait for key
	// LD   |1111    |X       |0001    |0101    | Delay timer = VX
	// LD   |1111    |X       |0001    |1000    | Sound timer = VX (ignored)
	// ADD  |1111    |X       |0001    |1110    | I += VX, VF = overflow
	// LD   |1111    |X       |0010    |1001    | I = glyph address of VX
	// BCD  |1111    |X       |0011    |0011    | Store BCD of VX at I
	// LD   |1111    |X       |0101    |0101    | Store V0..VX at I
	// LD   |1111    |X       |0110    |0101    | Load V0..VX from I
	// ---- [ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ ]
	case OP_MISC:
		switch inst.Byte {
		case 0x07:
			if mc.Timer != nil {
				reg[x] = mc.Timer.Value()
			} else {
				reg[x] = 0
			}

		case 0x0A:
			mc.State.Waiting = true
			mc.State.WaitRegister = x
			mc.State.Program -= INSTRUCTION_W
			mc.awaitKey()

		case 0x15:
			if mc.Timer != nil {
				mc.Timer.Set(reg[x])
			}

		case 0x18:
			// Sound is not emulated

		case 0x1E:
			sum := uint32(mc.State.Index) + uint32(reg[x])
			mc.State.Index = uint16(sum)
			mc.setFlag(sum > 0xFFFF)

		case 0x29:
			mc.State.Index = MEMSPACE_FONT + uint16(reg[x]&0xF)*GLYPH_SIZE

		case 0x33:
			if _, err := address(mc.State.Index, 2); err != nil {
				return err
			}

			digits := encoding.Digits(reg[x])
			copy(mc.State.Memory[mc.State.Index:], digits[:])

		case 0x55:
			if _, err := address(mc.State.Index, uint16(x)); err != nil {
				return err
			}

			copy(mc.State.Memory[mc.State.Index:], reg[:x+1])

		case 0x65:
			if _, err := address(mc.State.Index, uint16(x)); err != nil {
				return err
			}

			copy(reg[:x+1], mc.State.Memory[mc.State.Index:])

		default:
			return mc.unknown(at, inst)
		}
	}

	return nil
}
