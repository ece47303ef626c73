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


// Package terminal presents the framebuffer on an ANSI terminal using half
// block characters, two pixel rows per text row, and feeds the keypad from raw
// stdin bytes.
package terminal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/lassandro/goch8/pkg/display"
	"github.com/lassandro/goch8/pkg/keypad"
)

const (
	COLUMNS = display.Width
	ROWS    = display.Height / 2

	DEFAULT_HOLD = 150 * time.Millisecond
	REFRESH      = time.Second / 60
)

const (
	escHome       = "\x1b[H"
	escClear      = "\x1b[2J"
	escHideCursor = "\x1b[?25l"
	escShowCursor = "\x1b[?25h"
	escReset      = "\x1b[0m"
)

var ErrTooSmall = errors.New("terminal too small")

// Terminals only report key presses, never releases, so a key counts as held
// for Hold after its last byte arrives.
type Terminal struct {
	fb     *display.Framebuffer
	keys   *keypad.Keypad
	layout keypad.Layout
	in     io.Reader
	out    *bufio.Writer

	Hold time.Duration

	mutex sync.Mutex
	seen  [16]time.Time

	quit chan struct{}
	once sync.Once
}

func New(fb *display.Framebuffer, keys *keypad.Keypad, in io.Reader, out io.Writer) *Terminal {
	return &Terminal{
		fb:     fb,
		keys:   keys,
		layout: keypad.QWERTY,
		in:     in,
		out:    bufio.NewWriter(out),
		Hold:   DEFAULT_HOLD,
		quit:   make(chan struct{}),
	}
}

// CheckSize verifies the terminal on fd can show the whole screen.
func CheckSize(fd int) error {
	if !term.IsTerminal(fd) {
		return errors.New("not a terminal")
	}

	width, height, err := term.GetSize(fd)

	if err != nil {
		return err
	} else if width < COLUMNS || height < ROWS {
		return fmt.Errorf(
			"%w: need %dx%d, have %dx%d", ErrTooSmall, COLUMNS, ROWS, width, height,
		)
	}

	return nil
}

// Quit is closed when the user asks to leave (Esc or Ctrl-C).
func (t *Terminal) Quit() <-chan struct{} {
	return t.quit
}

func (t *Terminal) Start() error {
	t.out.WriteString(escClear + escHideCursor)
	return t.out.Flush()
}

func (t *Terminal) Close() error {
	t.out.WriteString(escReset + escShowCursor + "\r\n")
	return t.out.Flush()
}

// Render draws a whole frame starting at the top-left corner.
func (t *Terminal) Render(frame *display.Frame) error {
	t.out.WriteString(escHome)

	for row := 0; row < ROWS; row++ {
		top := frame[row*2]
		bottom := frame[row*2+1]

		for x := 0; x < COLUMNS; x++ {
			switch {
			case top[x] && bottom[x]:
				t.out.WriteString("█")
			case top[x]:
				t.out.WriteString("▀")
			case bottom[x]:
				t.out.WriteString("▄")
			default:
				t.out.WriteByte(' ')
			}
		}

		// Raw mode does not translate \n
		t.out.WriteString("\r\n")
	}

	return t.out.Flush()
}

// HandleByte applies one byte of input received at now.
func (t *Terminal) HandleByte(b byte, now time.Time) {
	switch b {
	case 0x1B, 0x03:
		t.once.Do(func() { close(t.quit) })
		return
	}

	key, ok := t.layout.Lookup(rune(b))

	if !ok {
		return
	}

	t.mutex.Lock()
	t.seen[key] = now
	t.mutex.Unlock()

	t.keys.Press(key)
}

// Expire releases every key whose last press is older than Hold.
func (t *Terminal) Expire(now time.Time) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	for key := uint8(0); key < 16; key++ {
		if t.keys.Held(key) && now.Sub(t.seen[key]) >= t.Hold {
			t.keys.Release(key)
		}
	}
}

// ReadInput feeds stdin bytes to the keypad until ctx is cancelled or the
// reader fails. Empty reads are expected from a raw tty with a read timeout.
func (t *Terminal) ReadInput(ctx context.Context) error {
	buf := make([]byte, 16)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := t.in.Read(buf)

		for _, b := range buf[:n] {
			t.HandleByte(b, time.Now())
		}

		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}

		if n == 0 {
			time.Sleep(5 * time.Millisecond)
		}
	}
}

// RenderLoop redraws whenever a new frame has been presented and releases
// expired keys, until ctx is cancelled.
func (t *Terminal) RenderLoop(ctx context.Context) error {
	ticker := time.NewTicker(REFRESH)
	defer ticker.Stop()

	shown := ^uint64(0)

	for {
		select {
		case <-ctx.Done():
			return nil

		case now := <-ticker.C:
			t.Expire(now)

			frame, frames := t.fb.Snapshot()
			if frames == shown {
				continue
			}

			if err := t.Render(&frame); err != nil {
				return err
			}

			shown = frames
		}
	}
}
