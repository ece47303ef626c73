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
	"time"
)

// DelayTimer is a byte counter decremented toward zero at 60 Hz. The value is
// owned by the goroutine running Run or RunTicks; Set and Value are requests
// answered by that goroutine, so every access is serialized with the ticks.
type DelayTimer struct {
	set   chan uint8
	query chan chan uint8
	done  chan struct{}
	value uint8
}

func NewDelayTimer() *DelayTimer {
	return &DelayTimer{
		set:   make(chan uint8),
		query: make(chan chan uint8),
		done:  make(chan struct{}),
	}
}

// Run owns the timer until ctx is cancelled, ticking every TIMER_PERIOD.
func (t *DelayTimer) Run(ctx context.Context) error {
	ticker := time.NewTicker(TIMER_PERIOD)
	defer ticker.Stop()

	return t.RunTicks(ctx, ticker.C)
}

// RunTicks owns the timer until ctx is cancelled, decrementing once per value
// received from ticks. It must be called at most once.
func (t *DelayTimer) RunTicks(ctx context.Context, ticks <-chan time.Time) error {
	defer close(t.done)

	for {
		select {
		case <-ctx.Done():
			return nil

		case _, ok := <-ticks:
			if !ok {
				ticks = nil
				continue
			}

			if t.value > 0 {
				t.value--
			}

		case value := <-t.set:
			t.value = value

		case reply := <-t.query:
			reply <- t.value
		}
	}
}

// Set blocks until the owner accepts the new value. After the owner has
// stopped it returns immediately and the value is dropped.
func (t *DelayTimer) Set(value uint8) {
	select {
	case t.set <- value:
	case <-t.done:
	}
}

// Value returns the current count. After the owner has stopped it returns the
// last value the owner held.
func (t *DelayTimer) Value() uint8 {
	reply := make(chan uint8, 1)

	select {
	case t.query <- reply:
		return <-reply
	case <-t.done:
		return t.value
	}
}
