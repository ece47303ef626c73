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


// Package window presents the framebuffer in a desktop window and feeds the
// keypad from the host keyboard.
package window

import (
	"sync"
	"sync/atomic"

	"github.com/hajimehoshi/ebiten/v2"

	"github.com/lassandro/goch8/pkg/display"
	"github.com/lassandro/goch8/pkg/keypad"
)

type Options struct {
	Title      string
	Scale      int
	Foreground uint32
	Background uint32
}

var DefaultOptions = Options{
	Title:      "goch8",
	Scale:      12,
	Foreground: 0xE0E0E0,
	Background: 0x101010,
}

// Host keys for the 4x4 keypad, same shape as keypad.QWERTY
var keyMap = map[ebiten.Key]uint8{
	ebiten.Key1: 0x1, ebiten.Key2: 0x2, ebiten.Key3: 0x3, ebiten.Key4: 0xC,
	ebiten.KeyQ: 0x4, ebiten.KeyW: 0x5, ebiten.KeyE: 0x6, ebiten.KeyR: 0xD,
	ebiten.KeyA: 0x7, ebiten.KeyS: 0x8, ebiten.KeyD: 0x9, ebiten.KeyF: 0xE,
	ebiten.KeyZ: 0xA, ebiten.KeyX: 0x0, ebiten.KeyC: 0xB, ebiten.KeyV: 0xF,
}

type Window struct {
	fb      *display.Framebuffer
	keys    *keypad.Keypad
	options Options

	image  *ebiten.Image
	pixels []byte
	drawn  bool
	shown  uint64

	closing atomic.Bool
	done    chan struct{}
	once    sync.Once
}

func New(fb *display.Framebuffer, keys *keypad.Keypad, options Options) *Window {
	if options.Scale <= 0 {
		options.Scale = DefaultOptions.Scale
	}

	if options.Title == "" {
		options.Title = DefaultOptions.Title
	}

	return &Window{
		fb:      fb,
		keys:    keys,
		options: options,
		pixels:  make([]byte, display.Width*display.Height*4),
		done:    make(chan struct{}),
	}
}

// Run opens the window and blocks until it is closed. Ebiten requires this to
// be called from the main goroutine.
func (w *Window) Run() error {
	defer w.once.Do(func() { close(w.done) })

	ebiten.SetWindowSize(
		display.Width*w.options.Scale,
		display.Height*w.options.Scale,
	)
	ebiten.SetWindowTitle(w.options.Title)
	ebiten.SetWindowResizable(true)
	ebiten.SetRunnableOnUnfocused(true)

	return ebiten.RunGame(w)
}

// Close asks the window to shut down at its next update.
func (w *Window) Close() {
	w.closing.Store(true)
}

// Done is closed once the window has gone away, whether the user closed it or
// Close was called.
func (w *Window) Done() <-chan struct{} {
	return w.done
}

// Builds the keypad mask from the keys pressed right now
func pollKeys(pressed func(ebiten.Key) bool) uint16 {
	var mask uint16

	for key, logical := range keyMap {
		if pressed(key) {
			mask |= 1 << logical
		}
	}

	return mask
}

func (w *Window) Update() error {
	if w.closing.Load() || ebiten.IsWindowBeingClosed() {
		return ebiten.Termination
	}

	if ebiten.IsKeyPressed(ebiten.KeyEscape) {
		return ebiten.Termination
	}

	w.keys.Set(pollKeys(ebiten.IsKeyPressed))

	return nil
}

func (w *Window) Draw(screen *ebiten.Image) {
	if w.image == nil {
		w.image = ebiten.NewImage(display.Width, display.Height)
	}

	frame, frames := w.fb.Snapshot()

	if !w.drawn || frames != w.shown {
		frame.RGBA(w.pixels, w.options.Foreground, w.options.Background)
		w.image.WritePixels(w.pixels)
		w.drawn = true
		w.shown = frames
	}

	screen.DrawImage(w.image, nil)
}

func (w *Window) Layout(_, _ int) (int, int) {
	return display.Width, display.Height
}
