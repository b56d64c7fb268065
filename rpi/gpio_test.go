package rpi_test

import (
	"github.com/Jon-Bright/pinradio/rpi"
	"github.com/Jon-Bright/pinradio/rpi/regtest"
	"testing"
)

func TestSetPinFunction(t *testing.T) {
	tests := []struct {
		pin  int
		fnc  uint32
		reg  int
		want uint32
	}{
		{4, 4, 0, 0xffffcfff},
		{0, 1, 0, 0xfffffff9},
		{9, 0, 0, 0xc7ffffff},
		{20, 2, 2, 0xfffffffa},
		{53, 7, 5, 0xffffffff},
	}

	for _, test := range tests {
		w := regtest.NewWindow(rpi.BLOCK_SIZE)
		for i := 0; i < 6; i++ {
			w.Words[i] = 0xffffffff
		}
		if err := rpi.SetPinFunction(w, test.pin, test.fnc); err != nil {
			t.Errorf("pin %d: SetPinFunction failed: %v", test.pin, err)
			continue
		}
		if got := w.Words[test.reg]; got != test.want {
			t.Errorf("pin %d: GPFSEL%d got: %08X, want: %08X", test.pin, test.reg, got, test.want)
		}
		if len(w.Writes) != 1 {
			t.Errorf("pin %d: got %d writes, want 1", test.pin, len(w.Writes))
		}
		got, err := rpi.PinFunction(w, test.pin)
		if err != nil || got != test.fnc {
			t.Errorf("pin %d: PinFunction got: %d, %v, want: %d", test.pin, got, err, test.fnc)
		}
	}
}

func TestSetPinFunctionInvalid(t *testing.T) {
	w := regtest.NewWindow(rpi.BLOCK_SIZE)
	if err := rpi.SetPinFunction(w, 54, 4); err == nil {
		t.Errorf("pin 54 accepted")
	}
	if err := rpi.SetPinFunction(w, -1, 4); err == nil {
		t.Errorf("pin -1 accepted")
	}
	if err := rpi.SetPinFunction(w, 4, 8); err == nil {
		t.Errorf("function 8 accepted")
	}
	if len(w.Writes) != 0 {
		t.Errorf("invalid calls wrote %v", w.Writes)
	}
}

func TestSetAltFunction(t *testing.T) {
	tests := []struct {
		alt  int
		want uint32
	}{
		{0, 4},
		{1, 5},
		{2, 6},
		{3, 7},
		{4, 3},
		{5, 2},
	}

	for _, test := range tests {
		w := regtest.NewWindow(rpi.BLOCK_SIZE)
		if err := rpi.SetAltFunction(w, 4, test.alt); err != nil {
			t.Errorf("alt %d: failed: %v", test.alt, err)
			continue
		}
		if got, _ := rpi.PinFunction(w, 4); got != test.want {
			t.Errorf("alt %d: got: %d, want: %d", test.alt, got, test.want)
		}
	}
	if err := rpi.SetAltFunction(regtest.NewWindow(rpi.BLOCK_SIZE), 4, 6); err == nil {
		t.Errorf("alt 6 accepted")
	}
}
