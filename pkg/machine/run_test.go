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


package machine_test

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/retroenv/retrogolib/assert"

	"github.com/lassandro/goch8/pkg/display"
	"github.com/lassandro/goch8/pkg/keypad"
	"github.com/lassandro/goch8/pkg/machine"
)

func load(t *testing.T, words ...uint16) (*machine.Machine, *display.Framebuffer, *keypad.Keypad) {
	t.Helper()

	image := make([]byte, 0, len(words)*2)
	for _, word := range words {
		image = append(image, byte(word>>8), byte(word))
	}

	fb := display.New()
	kp := &keypad.Keypad{}

	mc := &machine.Machine{
		Devices: &machine.DeviceHandler{Display: fb, Keypad: kp},
	}

	assert.NoError(t, mc.LoadBin(bytes.NewReader(image)))

	return mc, fb, kp
}

func TestLoadBin(t *testing.T) {
	mc, _, _ := load(t, 0x6005, 0x7003)

	assert.Equal(t, machine.MEMSPACE_PROGRAM, mc.State.Program)
	assert.Equal(t, uint8(0x60), mc.State.Memory[0x200])
	assert.Equal(t, uint8(0x03), mc.State.Memory[0x203])
	assert.True(t, bytes.Equal(machine.Font[:], mc.State.Memory[:len(machine.Font)]))
}

func TestLoadBinOddLength(t *testing.T) {
	var mc machine.Machine

	assert.NoError(t, mc.LoadBin(bytes.NewReader([]byte{0x12, 0x34, 0x56})))
	assert.Equal(t, uint8(0x56), mc.State.Memory[0x202])
}

func TestLoadBinTooLarge(t *testing.T) {
	var mc machine.Machine

	image := make([]byte, int(machine.MEMSPACE_END-machine.MEMSPACE_PROGRAM)+1)
	err := mc.LoadBin(bytes.NewReader(image))

	assert.True(t, errors.Is(err, machine.ErrProgramTooLarge))
}

func TestLoadBinFillsMemory(t *testing.T) {
	var mc machine.Machine

	image := bytes.Repeat([]byte{0xAA}, int(machine.MEMSPACE_END-machine.MEMSPACE_PROGRAM))

	assert.NoError(t, mc.LoadBin(bytes.NewReader(image)))
	assert.Equal(t, uint8(0xAA), mc.State.Memory[machine.MEMSPACE_END-1])
}

func TestEndToEnd(t *testing.T) {
	mc, _, _ := load(t, 0x6005, 0x7003, 0x0000)
	mc.State.Registers[machine.REGISTER_FLAG] = 0x42

	assert.NoError(t, mc.Step())
	assert.NoError(t, mc.Step())

	assert.Equal(t, uint8(8), mc.State.Registers[0])
	assert.Equal(t, uint8(0x42), mc.State.Registers[machine.REGISTER_FLAG])
	assert.Equal(t, uint16(0x204), mc.State.Program)

	assert.True(t, errors.Is(mc.Step(), machine.ErrHalted))
}

func TestAddCarryAllPairs(t *testing.T) {
	mc, _, _ := load(t, 0x8014)

	for a := 0; a < 256; a++ {
		for b := 0; b < 256; b++ {
			mc.State.Program = machine.MEMSPACE_PROGRAM
			mc.State.Registers[0] = uint8(a)
			mc.State.Registers[1] = uint8(b)

			if err := mc.Step(); err != nil {
				t.Fatal(err)
			}

			wantFlag := uint8(0)
			if a+b > 255 {
				wantFlag = 1
			}

			if have := mc.State.Registers[0]; have != uint8((a+b)%256) {
				t.Fatalf("%d + %d\nwant:%d\nhave:%d", a, b, (a+b)%256, have)
			}

			if have := mc.State.Registers[machine.REGISTER_FLAG]; have != wantFlag {
				t.Fatalf("%d + %d flag\nwant:%d\nhave:%d", a, b, wantFlag, have)
			}
		}
	}
}

func TestSubtractBorrowAllPairs(t *testing.T) {
	forward, _, _ := load(t, 0x8015)
	reverse, _, _ := load(t, 0x8017)

	for a := 0; a < 256; a++ {
		for b := 0; b < 256; b++ {
			for _, mc := range []*machine.Machine{forward, reverse} {
				mc.State.Program = machine.MEMSPACE_PROGRAM
				mc.State.Registers[0] = uint8(a)
				mc.State.Registers[1] = uint8(b)

				if err := mc.Step(); err != nil {
					t.Fatal(err)
				}
			}

			if have, want := forward.State.Registers[0], uint8(a-b); have != want {
				t.Fatalf("%d - %d\nwant:%d\nhave:%d", a, b, want, have)
			}

			if have, want := forward.State.Registers[machine.REGISTER_FLAG], boolFlag(a >= b); have != want {
				t.Fatalf("%d - %d flag\nwant:%d\nhave:%d", a, b, want, have)
			}

			if have, want := reverse.State.Registers[0], uint8(b-a); have != want {
				t.Fatalf("%d - %d\nwant:%d\nhave:%d", b, a, want, have)
			}

			if have, want := reverse.State.Registers[machine.REGISTER_FLAG], boolFlag(b >= a); have != want {
				t.Fatalf("%d - %d flag\nwant:%d\nhave:%d", b, a, want, have)
			}
		}
	}
}

func boolFlag(b bool) uint8 {
	if b {
		return 1
	}

	return 0
}

func TestShiftAllValues(t *testing.T) {
	right, _, _ := load(t, 0x8006)
	left, _, _ := load(t, 0x800E)

	for v := 0; v < 256; v++ {
		for _, mc := range []*machine.Machine{right, left} {
			mc.State.Program = machine.MEMSPACE_PROGRAM
			mc.State.Registers[0] = uint8(v)
			assert.NoError(t, mc.Step())
		}

		assert.Equal(t, uint8(v>>1), right.State.Registers[0])
		assert.Equal(t, uint8(v&0x01), right.State.Registers[machine.REGISTER_FLAG])
		assert.Equal(t, uint8(v<<1), left.State.Registers[0])
		assert.Equal(t, uint8(v>>7), left.State.Registers[machine.REGISTER_FLAG])
	}
}

// Builds a chain of nested calls: the routine at 0x200+0x10*i calls the one at
// 0x200+0x10*(i+1), and every return address holds a RET.
func callChain(t *testing.T, depth int, innermost uint16) *machine.Machine {
	t.Helper()

	mc, _, _ := load(t)

	for i := 0; i < depth; i++ {
		addr := 0x200 + uint16(i)*0x10
		call := 0x2000 | (addr + 0x10)

		mc.State.Memory[addr] = uint8(call >> 8)
		mc.State.Memory[addr+1] = uint8(call)
		mc.State.Memory[addr+2] = 0x00
		mc.State.Memory[addr+3] = 0xEE
	}

	last := 0x200 + uint16(depth)*0x10
	mc.State.Memory[last] = uint8(innermost >> 8)
	mc.State.Memory[last+1] = uint8(innermost)

	return mc
}

func TestNestedCallsReturnInReverse(t *testing.T) {
	mc := callChain(t, machine.STACK_DEPTH, 0x00EE)

	for i := 0; i < machine.STACK_DEPTH; i++ {
		assert.NoError(t, mc.Step())
	}

	assert.Equal(t, uint8(machine.STACK_DEPTH), mc.State.StackPointer)

	for i := machine.STACK_DEPTH - 1; i >= 0; i-- {
		assert.NoError(t, mc.Step())
		assert.Equal(t, 0x200+uint16(i)*0x10+2, mc.State.Program)
	}

	assert.Equal(t, uint8(0), mc.State.StackPointer)
}

func TestStackOverflow(t *testing.T) {
	mc := callChain(t, machine.STACK_DEPTH, 0x2200)

	for i := 0; i < machine.STACK_DEPTH; i++ {
		assert.NoError(t, mc.Step())
	}

	err := mc.Step()
	assert.True(t, errors.Is(err, machine.ErrStackOverflow))

	var fault *machine.Fault
	assert.True(t, errors.As(err, &fault))
	assert.Equal(t, uint16(0x300), fault.Program)
	assert.Equal(t, uint16(0x2200), fault.Word)
}

func TestStackUnderflow(t *testing.T) {
	mc, _, _ := load(t, 0x00EE)

	err := mc.Step()
	assert.True(t, errors.Is(err, machine.ErrStackUnderflow))
}

func TestUnknownInstructionStrict(t *testing.T) {
	for _, word := range []uint16{0x0123, 0x5121, 0x8008, 0x9121, 0xE100, 0xF1FF} {
		mc, _, _ := load(t, word)

		err := mc.Step()
		assert.True(t, errors.Is(err, machine.ErrUnknownInstruction))

		var fault *machine.Fault
		assert.True(t, errors.As(err, &fault))
		assert.Equal(t, word, fault.Word)
	}
}

func TestUnknownInstructionLenient(t *testing.T) {
	var logs strings.Builder

	mc, _, _ := load(t, 0x8008, 0x6107, 0x1200)
	mc.Mode = machine.ModeLenient
	mc.Logger = log.New(&logs, "", 0)

	for i := 0; i < 6; i++ {
		assert.NoError(t, mc.Step())
	}

	assert.Equal(t, uint8(7), mc.State.Registers[1])
	assert.Equal(t, 1, strings.Count(logs.String(), "8008"))
}

func TestAddressOutOfRange(t *testing.T) {
	tests := []struct {
		name  string
		word  uint16
		index uint16
	}{
		{"store", 0xF555, 0xFFE},
		{"load", 0xF565, 0xFFE},
		{"bcd", 0xF033, 0xFFF},
		{"draw", 0xD015, 0xFFD},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			mc, fb, _ := load(t, test.word)
			mc.State.Index = test.index

			err := mc.Step()
			assert.True(t, errors.Is(err, machine.ErrAddressOutOfRange))

			_, frames := fb.Snapshot()
			assert.Equal(t, uint64(0), frames)
		})
	}
}

func TestFetchOutOfRange(t *testing.T) {
	mc, _, _ := load(t, 0x1FFF)

	assert.NoError(t, mc.Step())
	assert.True(t, errors.Is(mc.Step(), machine.ErrAddressOutOfRange))
}

func TestDrawTwiceRestores(t *testing.T) {
	// Draw glyph 0 at (10, 5) twice
	mc, fb, _ := load(t, 0x600A, 0x6105, 0xA000, 0xD015, 0xD015)

	for i := 0; i < 4; i++ {
		assert.NoError(t, mc.Step())
	}

	assert.Equal(t, uint8(0), mc.State.Registers[machine.REGISTER_FLAG])

	frame, _ := fb.Snapshot()
	for row := 0; row < 5; row++ {
		for bit := 0; bit < 8; bit++ {
			want := machine.Font[row]&(0x80>>bit) != 0
			if frame[5+row][10+bit] != want {
				t.Fatalf("Pixel mismatch at (%d, %d)\nwant:%t", 10+bit, 5+row, want)
			}
		}
	}

	assert.NoError(t, mc.Step())
	assert.Equal(t, uint8(1), mc.State.Registers[machine.REGISTER_FLAG])

	frame, frames := fb.Snapshot()
	assert.Equal(t, 0, frame.Lit())
	assert.Equal(t, uint64(2), frames)
}

func TestDrawNoCollisionOnBlankArea(t *testing.T) {
	// Glyph 1 then glyph 1 shifted right by 8 pixels
	mc, _, _ := load(t, 0xA005, 0xD015, 0x6008, 0xD015)
	mc.State.Registers[machine.REGISTER_FLAG] = 1

	for i := 0; i < 4; i++ {
		assert.NoError(t, mc.Step())
	}

	assert.Equal(t, uint8(0), mc.State.Registers[machine.REGISTER_FLAG])
}

func TestDrawClipsRightAndBottom(t *testing.T) {
	// 0xFF rows drawn at (60, 30) with 4 rows
	mc, fb, _ := load(t, 0x603C, 0x611E, 0xA300, 0xD014)
	for i := 0; i < 4; i++ {
		mc.State.Memory[0x300+i] = 0xFF
	}

	for i := 0; i < 4; i++ {
		assert.NoError(t, mc.Step())
	}

	frame, _ := fb.Snapshot()
	assert.Equal(t, 4*2, frame.Lit())
	assert.True(t, frame[30][63])
	assert.True(t, frame[31][60])
	assert.False(t, frame[0][60])
	assert.False(t, frame[30][0])
}

func TestDrawWrapsOrigin(t *testing.T) {
	// (66, 33) wraps to (2, 1)
	mc, fb, _ := load(t, 0x6042, 0x6121, 0xA300, 0xD011)
	mc.State.Memory[0x300] = 0x80

	for i := 0; i < 4; i++ {
		assert.NoError(t, mc.Step())
	}

	frame, _ := fb.Snapshot()
	assert.Equal(t, 1, frame.Lit())
	assert.True(t, frame[1][2])
}

func TestClearScreen(t *testing.T) {
	mc, fb, _ := load(t, 0xA000, 0xD005, 0x00E0)

	for i := 0; i < 3; i++ {
		assert.NoError(t, mc.Step())
	}

	frame, frames := fb.Snapshot()
	assert.Equal(t, 0, frame.Lit())
	assert.Equal(t, uint64(2), frames)
}

func TestWaitForKeyThenPress(t *testing.T) {
	mc, _, kp := load(t, 0xF70A, 0x6001)

	assert.NoError(t, mc.Step())
	assert.NoError(t, mc.Step())
	assert.True(t, mc.State.Waiting)
	assert.Equal(t, uint16(0x200), mc.State.Program)

	kp.Press(0xE)

	assert.NoError(t, mc.Step())
	assert.False(t, mc.State.Waiting)
	assert.Equal(t, uint8(0xE), mc.State.Registers[7])
	assert.Equal(t, uint16(0x202), mc.State.Program)

	assert.NoError(t, mc.Step())
	assert.Equal(t, uint8(1), mc.State.Registers[0])
}

func TestDelayTimerInstructions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticks := make(chan time.Time)
	timer := machine.NewDelayTimer()
	go timer.RunTicks(ctx, ticks)

	mc, _, _ := load(t, 0x6305, 0xF315, 0xF407, 0xF507)
	mc.Timer = timer

	assert.NoError(t, mc.Step())
	assert.NoError(t, mc.Step())
	assert.NoError(t, mc.Step())
	assert.Equal(t, uint8(5), mc.State.Registers[4])

	ticks <- time.Time{}
	ticks <- time.Time{}

	assert.NoError(t, mc.Step())
	assert.Equal(t, uint8(3), mc.State.Registers[5])
}

func TestRunHalts(t *testing.T) {
	mc, _, _ := load(t, 0x6005, 0x7003, 0x0000)
	mc.Pace = time.Microsecond

	assert.NoError(t, mc.Run(context.Background()))
	assert.Equal(t, uint8(8), mc.State.Registers[0])
	assert.Equal(t, uint16(0x206), mc.State.Program)
}

func TestRunReturnsFault(t *testing.T) {
	mc, _, _ := load(t, 0x6001, 0x00EE)

	err := mc.Run(context.Background())

	var fault *machine.Fault
	assert.True(t, errors.As(err, &fault))
	assert.Equal(t, uint16(0x202), fault.Program)
	assert.True(t, errors.Is(err, machine.ErrStackUnderflow))
}

func TestRunStopsOnCancel(t *testing.T) {
	// Tight infinite loop
	mc, _, _ := load(t, 0x1200)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- mc.Run(ctx)
	}()

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
