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


package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lassandro/goch8/pkg/display"
	"github.com/lassandro/goch8/pkg/keypad"
	"github.com/lassandro/goch8/pkg/machine"
	"github.com/lassandro/goch8/pkg/terminal"
	"github.com/lassandro/goch8/pkg/window"
)

var helpvar bool
var frontendvar string
var modevar string
var scalevar int
var seedvar uint64
var pacevar time.Duration
var holdvar time.Duration

const usage = "goch8 [flags] filename.ch8"

func init() {
	exe, _ := os.Executable()
	log.SetFlags(0)
	log.SetPrefix(fmt.Sprintf("%s: ", filepath.Base(exe)))
	log.SetOutput(os.Stderr)
}

func init() {
	flag.BoolVar(&helpvar, "help", false, "Displays command usage")
	flag.StringVar(&frontendvar, "frontend", "window", "Display frontend: window or terminal")
	flag.StringVar(&modevar, "mode", "strict", "Unknown instructions: strict (abort) or lenient (skip)")
	flag.IntVar(&scalevar, "scale", window.DefaultOptions.Scale, "Window pixels per display pixel")
	flag.Uint64Var(&seedvar, "seed", 0, "Random seed, 0 seeds from the runtime")
	flag.DurationVar(&pacevar, "pace", machine.DEFAULT_PACE, "Delay between instructions")
	flag.DurationVar(&holdvar, "hold", terminal.DEFAULT_HOLD, "How long a terminal key press stays held")
}

func checkExtension(path string) error {
	if !strings.EqualFold(filepath.Ext(path), ".ch8") {
		return fmt.Errorf("%s: expected a .ch8 file", path)
	}

	return nil
}

func parseMode(s string) (machine.Mode, error) {
	switch strings.ToLower(s) {
	case "strict":
		return machine.ModeStrict, nil
	case "lenient":
		return machine.ModeLenient, nil
	}

	return 0, fmt.Errorf("unknown mode %q", s)
}

// Runs the machine and its delay timer until the machine stops or ctx is
// cancelled.
func emulate(ctx context.Context, mc *machine.Machine) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return mc.Timer.Run(ctx)
	})

	g.Go(func() error {
		defer cancel()
		return mc.Run(ctx)
	})

	return g.Wait()
}

func runWindow(ctx context.Context, mc *machine.Machine, fb *display.Framebuffer, kp *keypad.Keypad, title string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	options := window.DefaultOptions
	options.Title = title
	options.Scale = scalevar

	win := window.New(fb, kp, options)
	result := make(chan error, 1)

	go func() {
		err := emulate(ctx, mc)

		// A halted program stays on screen until the window is closed
		if err != nil {
			win.Close()
		}

		result <- err
	}()

	go func() {
		<-ctx.Done()
		win.Close()
	}()

	if err := win.Run(); err != nil {
		return err
	}

	cancel()

	return <-result
}

func runTerminal(ctx context.Context, mc *machine.Machine, fb *display.Framebuffer, kp *keypad.Keypad) error {
	if err := terminal.CheckSize(int(os.Stdout.Fd())); err != nil {
		return err
	}

	if err := enterRawTerm(); err != nil {
		return err
	}

	defer exitRawTerm()

	tty := terminal.New(fb, kp, os.Stdin, os.Stdout)
	tty.Hold = holdvar

	if err := tty.Start(); err != nil {
		return err
	}

	defer tty.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return tty.ReadInput(ctx)
	})

	g.Go(func() error {
		return tty.RenderLoop(ctx)
	})

	g.Go(func() error {
		select {
		case <-tty.Quit():
			cancel()
		case <-ctx.Done():
		}

		return nil
	})

	// A halted program stays on screen until the user quits
	g.Go(func() error {
		return emulate(ctx, mc)
	})

	err := g.Wait()

	frame, _ := fb.Snapshot()
	tty.Render(&frame)

	return err
}

func goch8() int {
	flag.Parse()

	if helpvar {
		fmt.Println(usage)
		flag.PrintDefaults()
		return 0
	}

	args := flag.Args()

	if len(args) != 1 {
		log.Println(usage)
		return 1
	}

	if err := checkExtension(args[0]); err != nil {
		log.Println(err)
		return 1
	}

	mode, err := parseMode(modevar)

	if err != nil {
		log.Println(err)
		return 1
	}

	file, err := os.Open(args[0])

	if err != nil {
		log.Println(err)
		return 1
	}

	defer file.Close()

	fb := display.New()
	var kp keypad.Keypad

	var mc machine.Machine
	mc.Devices = &machine.DeviceHandler{Display: fb, Keypad: &kp}
	mc.Timer = machine.NewDelayTimer()
	mc.Mode = mode
	mc.Pace = pacevar
	mc.Logger = log.Default()

	if seedvar != 0 {
		rng := rand.New(rand.NewPCG(seedvar, seedvar))
		mc.Random = func() uint8 {
			return uint8(rng.UintN(256))
		}
	}

	if err := mc.LoadBin(file); err != nil {
		log.Printf("%s: %v", args[0], err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch frontendvar {
	case "window":
		err = runWindow(ctx, &mc, fb, &kp, "goch8 - "+filepath.Base(args[0]))
	case "terminal":
		err = runTerminal(ctx, &mc, fb, &kp)
	default:
		err = fmt.Errorf("unknown frontend %q", frontendvar)
	}

	if err != nil {
		log.Println(err)
		return 1
	}

	return 0
}

func main() {
	os.Exit(goch8())
}
