package rpi_test

import (
	"context"
	"errors"
	"fmt"
	"github.com/Jon-Bright/pinradio/rpi"
	"github.com/Jon-Bright/pinradio/rpi/regtest"
	"math"
	"testing"
	"time"
)

func TestDivisor(t *testing.T) {
	tests := []struct {
		freq     float64
		harmonic int
		want     int
	}{
		{100e6, 3, 15},
		{3e6, 3, 500},
		{1e6, 1, 500},
		{3.3e6, 3, 454}, // 454.54 truncates
		{750e6, 3, 2},
		{366300, 3, 4095},
		{300e6, 3, 5},
	}

	for _, test := range tests {
		got, err := rpi.Divisor(test.freq, test.harmonic)
		if err != nil {
			t.Errorf("Divisor(%v, %d) failed: %v", test.freq, test.harmonic, err)
			continue
		}
		if got != test.want {
			t.Errorf("Divisor(%v, %d) got: %d, want: %d", test.freq, test.harmonic, got, test.want)
		}
	}
}

func TestDivisorOutOfRange(t *testing.T) {
	tests := []float64{
		1.5e9,       // divisor 1
		366210.9375, // divisor 4096
		1,
		0,
		-100e6,
		math.NaN(),
		math.Inf(1),
	}

	for _, freq := range tests {
		d, err := rpi.Divisor(freq, 3)
		if !errors.Is(err, rpi.ErrDivisorRange) {
			t.Errorf("Divisor(%v) got: %d, %v, want ErrDivisorRange", freq, d, err)
		}
	}
	if _, err := rpi.Divisor(100e6, 0); err == nil {
		t.Errorf("Divisor with harmonic 0 succeeded, want error")
	}
}

func TestOutputFrequency(t *testing.T) {
	if got := rpi.OutputFrequency(15); math.Abs(got-33333333.333) > 1 {
		t.Errorf("OutputFrequency(15) got: %v, want: ~33333333", got)
	}
}

func TestWaitNotBusy(t *testing.T) {
	tests := []struct {
		busy int
		want int
	}{
		{0, 1}, // already clear, still reads once
		{1, 2},
		{5, 6},
		{1000, 1001},
	}

	for _, test := range tests {
		w := regtest.NewClockWindow()
		w.SetBusy(rpi.CM_GP0CTL, rpi.CM_CLK_CTL_BUSY, test.busy)
		c := rpi.NewGPClock0(w)
		n, err := c.WaitNotBusy(context.Background(), 0)
		if err != nil {
			t.Errorf("busy %d: WaitNotBusy failed: %v", test.busy, err)
			continue
		}
		if n != test.want {
			t.Errorf("busy %d: reads got: %d, want: %d", test.busy, n, test.want)
		}
		if r := w.Reads[rpi.CM_GP0CTL]; r != test.want {
			t.Errorf("busy %d: window saw %d reads, want: %d", test.busy, r, test.want)
		}
	}
}

func TestWaitNotBusyTimeout(t *testing.T) {
	w := regtest.NewClockWindow()
	w.SetBusy(rpi.CM_GP0CTL, rpi.CM_CLK_CTL_BUSY, math.MaxInt32)
	c := rpi.NewGPClock0(w)
	_, err := c.WaitNotBusy(context.Background(), time.Millisecond)
	if !errors.Is(err, rpi.ErrBusyTimeout) {
		t.Errorf("WaitNotBusy got: %v, want ErrBusyTimeout", err)
	}
}

func TestWaitNotBusyCancelled(t *testing.T) {
	w := regtest.NewClockWindow()
	w.SetBusy(rpi.CM_GP0CTL, rpi.CM_CLK_CTL_BUSY, math.MaxInt32)
	c := rpi.NewGPClock0(w)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err := c.WaitNotBusy(ctx, 0)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("WaitNotBusy got: %v, want context.Canceled", err)
	}
	if n != 1 {
		t.Errorf("WaitNotBusy reads got: %d, want: 1", n)
	}
}

func TestClockStart(t *testing.T) {
	w := regtest.NewClockWindow()
	w.SetBusy(rpi.CM_GP0CTL, rpi.CM_CLK_CTL_BUSY, 3)
	c := rpi.NewGPClock0(w)
	if err := c.Start(context.Background(), 15, 0); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	want := []regtest.Write{
		{Off: rpi.CM_GP0CTL, Val: 0x5a000000 | 1<<5},
		{Off: rpi.CM_GP0DIV, Val: 0x5a000000 | 15<<12},
		{Off: rpi.CM_GP0CTL, Val: 0x5a000000 | 1<<4 | 6},
	}
	if fmt.Sprint(w.Writes) != fmt.Sprint(want) {
		t.Errorf("writes got: %v, want: %v", w.Writes, want)
	}
	if len(w.Violations) != 0 {
		t.Errorf("password violations: %v", w.Violations)
	}
	if !c.Enabled() {
		t.Errorf("clock not enabled after Start")
	}
}

func TestClockStartRejectsDivisor(t *testing.T) {
	for _, d := range []int{0, 1, 4096} {
		w := regtest.NewClockWindow()
		c := rpi.NewGPClock0(w)
		err := c.Start(context.Background(), d, 0)
		if !errors.Is(err, rpi.ErrDivisorRange) {
			t.Errorf("Start(%d) got: %v, want ErrDivisorRange", d, err)
		}
		if len(w.Writes) != 0 {
			t.Errorf("Start(%d) wrote %v, want nothing", d, w.Writes)
		}
	}
}

func TestClockStop(t *testing.T) {
	w := regtest.NewClockWindow()
	c := rpi.NewGPClock0(w)
	if err := c.Start(context.Background(), 100, 0); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	c.Stop()
	ctl := w.WritesTo(rpi.CM_GP0CTL)
	if last := ctl[len(ctl)-1]; last != rpi.CM_CLK_CTL_PASSWD|rpi.CM_CLK_CTL_KILL {
		t.Errorf("last ctl write got: %08X, want: %08X", last, rpi.CM_CLK_CTL_PASSWD|rpi.CM_CLK_CTL_KILL)
	}
	if c.Enabled() {
		t.Errorf("clock still enabled after Stop")
	}
	if len(w.Violations) != 0 {
		t.Errorf("password violations: %v", w.Violations)
	}
}

func TestFakeFlagsMissingPassword(t *testing.T) {
	w := regtest.NewClockWindow()
	w.WriteWord(rpi.CM_GP0CTL, rpi.CM_CLK_CTL_KILL)
	w.WriteWord(rpi.CM_GP0DIV, 0x5b000000|15<<12)
	w.WriteWord(rpi.CM_GP0CTL+2, 0) // not protected
	if len(w.Violations) != 2 {
		t.Errorf("violations got: %v, want 2", w.Violations)
	}
}

func TestClockCtlGoString(t *testing.T) {
	tests := []struct {
		v    uint32
		want string
	}{
		{rpi.CM_CLK_CTL_PASSWD | rpi.CM_CLK_CTL_KILL, "PWD|Kill|GND"},
		{rpi.CM_CLK_CTL_PASSWD | rpi.CM_CLK_CTL_ENAB | rpi.CM_CLK_CTL_SRC_PLLD, "PWD|Enable|PLLD"},
		{rpi.CM_CLK_CTL_BUSY | rpi.CM_CLK_CTL_SRC_OSC, "Busy|OSC"},
		{9, "SRC(9)"},
	}
	for _, test := range tests {
		if got := fmt.Sprintf("%#v", rpi.ClockCtl(test.v)); got != test.want {
			t.Errorf("%08X got: %s, want: %s", test.v, got, test.want)
		}
	}
}
